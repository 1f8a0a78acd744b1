package provider

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"github.com/viking/cactuar/pkg/account"
	"github.com/viking/cactuar/pkg/trust"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageNames = []string{
	"home", "login", "decide", "signup", "activate",
	"account", "account_edit", "admin_users", "admin_invite", "user",
}

// loadTemplates parses each page against the shared layout
func loadTemplates() (map[string]*template.Template, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tmpl, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		pages[name] = tmpl
	}
	return pages, nil
}

// formData carries submitted form values back into re-rendered forms
type formData struct {
	Username  string
	FirstName string
	LastName  string
	Email     string
	Admin     bool
}

// page is the data handed to every template. Pages read only the
// fields they need.
type page struct {
	Title   string
	Account *account.Account
	Flash   string
	Errors  account.ValidationErrors

	// identity link tags in the layout head
	OpenIDEndpoint string
	OpenIDLocalID  string

	IdentityURL  string
	Username     string
	LoginError   string
	Pending      bool
	UpstreamName string

	TrustRoot     string
	Identity      string
	ProfileFields []string

	Form      formData
	Target    *account.Account
	Code      string
	Users     []*account.Account
	Approvals []*trust.Approval
	Subject   *account.Account
}

func (p *Provider) render(w http.ResponseWriter, status int, name string, data page) {
	tmpl, ok := p.templates[name]
	if !ok {
		p.log.WithField("template", name).Error("unknown template")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tmpl.ExecuteTemplate(w, "layout.html", data); err != nil {
		p.log.WithError(err).WithField("template", name).Error("failed to render template")
	}
}
