package provider

import (
	"context"
	"html/template"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/viking/cactuar/pkg/account"
	"github.com/viking/cactuar/pkg/delegated"
	"github.com/viking/cactuar/pkg/observability"
	"github.com/viking/cactuar/pkg/openid"
	"github.com/viking/cactuar/pkg/session"
	"github.com/viking/cactuar/pkg/trust"
)

const sessionUserKey = "user_id"
const sessionFlashKey = "flash"

// Provider wires the HTTP surface of the identity provider
type Provider struct {
	accounts  *account.Store
	lifecycle *account.Lifecycle
	trust     *trust.Store
	engine    *openid.Engine
	codec     openid.Codec
	sessions  *session.Manager
	registry  *delegated.Registry
	upstream  *delegated.OIDCUpstream
	metrics   *observability.Metrics
	log       *logrus.Logger
	baseURL   string
	templates map[string]*template.Template
}

// NewProvider creates the HTTP provider. upstream may be nil when no
// delegated login is configured.
func NewProvider(
	accounts *account.Store,
	lifecycle *account.Lifecycle,
	trustStore *trust.Store,
	engine *openid.Engine,
	codec openid.Codec,
	sessions *session.Manager,
	registry *delegated.Registry,
	upstream *delegated.OIDCUpstream,
	metrics *observability.Metrics,
	log *logrus.Logger,
	baseURL string,
) (*Provider, error) {
	templates, err := loadTemplates()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.New()
	}
	return &Provider{
		accounts:  accounts,
		lifecycle: lifecycle,
		trust:     trustStore,
		engine:    engine,
		codec:     codec,
		sessions:  sessions,
		registry:  registry,
		upstream:  upstream,
		metrics:   metrics,
		log:       log,
		baseURL:   baseURL,
		templates: templates,
	}, nil
}

// RegisterRoutes registers all provider routes. The username route is
// registered last so fixed paths win.
func (p *Provider) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/", p.homeHandler).Methods("GET")
	router.HandleFunc("/openid/xrds", p.serverXRDSHandler).Methods("GET")
	router.HandleFunc("/openid/auth", p.authHandler).Methods("GET", "POST")
	router.HandleFunc("/openid/decide", p.decideFormHandler).Methods("GET")
	router.HandleFunc("/openid/decide", p.decideSubmitHandler).Methods("POST")

	router.HandleFunc("/login", p.loginFormHandler).Methods("GET")
	router.HandleFunc("/login", p.loginSubmitHandler).Methods("POST")
	router.HandleFunc("/login/cancel", p.cancelLoginHandler).Methods("GET")
	router.HandleFunc("/logout", p.logoutHandler).Methods("GET")

	router.HandleFunc("/signup", p.signupFormHandler).Methods("GET")
	router.HandleFunc("/signup", p.signupSubmitHandler).Methods("POST")
	router.HandleFunc("/activate/{code}", p.activateFormHandler).Methods("GET")
	router.HandleFunc("/activate/{code}", p.activateSubmitHandler).Methods("POST")

	router.HandleFunc("/account", p.accountHandler).Methods("GET")
	router.HandleFunc("/account/edit", p.accountEditFormHandler).Methods("GET")
	router.HandleFunc("/account/edit", p.accountEditSubmitHandler).Methods("POST")

	router.HandleFunc("/admin/users", p.adminUsersHandler).Methods("GET")
	router.HandleFunc("/admin/users/new", p.adminInviteFormHandler).Methods("GET")
	router.HandleFunc("/admin/users/new", p.adminInviteSubmitHandler).Methods("POST")
	router.HandleFunc("/admin/users/{id:[0-9]+}/delete", p.adminDeleteHandler).Methods("POST")

	if p.upstream != nil {
		router.HandleFunc("/auth/{provider}", p.upstreamStartHandler).Methods("GET")
		router.HandleFunc("/auth/{provider}/callback", p.upstreamCallbackHandler).Methods("GET")
	}
	router.HandleFunc("/auth/failure", p.upstreamFailureHandler).Methods("GET")

	router.HandleFunc("/{username}/xrds", p.userXRDSHandler).Methods("GET")
	router.HandleFunc("/{username}", p.userPageHandler).Methods("GET")
}

// currentAccount resolves the logged-in account from the session, or nil
func (p *Provider) currentAccount(r *http.Request, sess *session.Session) *account.Account {
	raw, ok, err := sess.Get(r.Context(), sessionUserKey)
	if err != nil || !ok {
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	acct, err := p.accounts.GetAccount(r.Context(), id)
	if err != nil {
		return nil
	}
	return acct
}

func (p *Provider) logIn(r *http.Request, sess *session.Session, acct *account.Account) error {
	return sess.Set(r.Context(), sessionUserKey, strconv.FormatInt(acct.ID, 10))
}

func (p *Provider) takeFlash(r *http.Request, sess *session.Session) string {
	flash, _, _ := sess.Take(r.Context(), sessionFlashKey)
	return flash
}

func (p *Provider) setFlash(r *http.Request, sess *session.Session, message string) {
	if err := sess.Set(r.Context(), sessionFlashKey, message); err != nil {
		p.log.WithError(err).Warn("failed to store flash message")
	}
}

func (p *Provider) homeHandler(w http.ResponseWriter, r *http.Request) {
	sess := p.sessions.Begin(w, r)
	acct := p.currentAccount(r, sess)

	w.Header().Set("X-XRDS-Location", p.baseURL+"/openid/xrds")
	data := page{
		Title:          "Home",
		Account:        acct,
		Flash:          p.takeFlash(r, sess),
		OpenIDEndpoint: p.engine.EndpointURL(),
	}
	if acct != nil {
		data.IdentityURL = p.engine.IdentityURL(acct.Username)
	}
	p.render(w, http.StatusOK, "home", data)
}

// authHandler is the assertion endpoint. Relying parties send checkid
// requests here via the user agent; everything else is handed to the
// codec's non-assertion path.
func (p *Provider) authHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}

	msg, err := p.codec.Decode(r.Form)
	if err != nil {
		p.log.WithError(err).Debug("rejected protocol message")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if msg.Assertion == nil {
		p.writeOutcome(w, r, p.codec.HandleNonAssertion(msg))
		return
	}

	sess := p.sessions.Begin(w, r)
	stash := openid.NewSessionStash(sess)
	acct := p.currentAccount(r, sess)

	dec, err := p.engine.Evaluate(r.Context(), msg.Assertion, stash, acct)
	if err != nil {
		p.log.WithError(err).Error("failed to evaluate assertion request")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	mode := "setup"
	if msg.Assertion.Immediate {
		mode = "immediate"
	}
	p.metrics.AssertionsTotal.WithLabelValues(mode, string(dec.Kind)).Inc()
	p.applyDecision(w, r, dec)
}

// applyDecision turns an engine decision into an HTTP response
func (p *Provider) applyDecision(w http.ResponseWriter, r *http.Request, dec openid.Decision) {
	switch dec.Kind {
	case openid.DecisionAnswer:
		p.writeOutcome(w, r, dec.Outcome)
	case openid.DecisionLogin:
		http.Redirect(w, r, "/login", http.StatusFound)
	case openid.DecisionConsent:
		http.Redirect(w, r, "/openid/decide", http.StatusFound)
	case openid.DecisionRedirect:
		http.Redirect(w, r, dec.Location, http.StatusFound)
	default:
		p.log.WithField("kind", dec.Kind).Error("unknown decision kind")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (p *Provider) writeOutcome(w http.ResponseWriter, r *http.Request, out openid.Outcome) {
	resp, err := p.codec.Encode(out)
	if err != nil {
		p.log.WithError(err).Error("failed to encode protocol response")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if resp.Location != "" {
		http.Redirect(w, r, resp.Location, resp.Status)
		return
	}
	w.WriteHeader(resp.Status)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

func (p *Provider) loginFormHandler(w http.ResponseWriter, r *http.Request) {
	sess := p.sessions.Begin(w, r)
	p.renderLogin(w, r, sess, http.StatusOK, "", "")
}

func (p *Provider) renderLogin(w http.ResponseWriter, r *http.Request, sess *session.Session, status int, username, loginError string) {
	stash := openid.NewSessionStash(sess)
	pending, err := stash.PeekPending(r.Context())
	if err != nil {
		p.log.WithError(err).Warn("failed to read pending request")
	}

	data := page{
		Title:      "Log in",
		Flash:      p.takeFlash(r, sess),
		Username:   username,
		LoginError: loginError,
		Pending:    pending != nil,
	}
	if p.upstream != nil {
		data.UpstreamName = p.upstream.Name()
	}
	p.render(w, status, "login", data)
}

// authenticate checks the account credential first and falls back to the
// delegated identity credential resolved through its "identity" binding.
// Self-signup stores the password on the identity, not the account.
func (p *Provider) authenticate(ctx context.Context, username, password string) (*account.Account, error) {
	acct, err := p.accounts.Authenticate(ctx, username, password)
	if err != account.ErrNotFound && err != account.ErrInvalidCredentials {
		return acct, err
	}

	ident, identErr := p.accounts.AuthenticateIdentity(ctx, username, password)
	if identErr != nil {
		return nil, err
	}
	acct, err = p.registry.Resolve(ctx, "identity", ident.Username)
	if err == delegated.ErrNoBinding {
		return nil, account.ErrInvalidCredentials
	}
	return acct, err
}

func (p *Provider) loginSubmitHandler(w http.ResponseWriter, r *http.Request) {
	sess := p.sessions.Begin(w, r)
	username := r.FormValue("username")
	password := r.FormValue("password")

	acct, err := p.authenticate(r.Context(), username, password)
	if err == account.ErrNotFound || err == account.ErrInvalidCredentials {
		p.metrics.LoginsTotal.WithLabelValues("password", "failure").Inc()
		p.renderLogin(w, r, sess, http.StatusOK, username, "Invalid username or password.")
		return
	}
	if err != nil {
		p.log.WithError(err).Error("login failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := p.logIn(r, sess, acct); err != nil {
		p.log.WithError(err).Error("failed to establish session")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	p.metrics.LoginsTotal.WithLabelValues("password", "success").Inc()

	stash := openid.NewSessionStash(sess)
	dec, err := p.engine.ResumeAfterLogin(r.Context(), stash, acct)
	if err != nil {
		p.log.WithError(err).Error("failed to resume after login")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if dec.Kind == openid.DecisionLogin {
		// logged in fine, but as a different subject than the suspended
		// request named; that request is gone now
		p.renderLogin(w, r, sess, http.StatusOK, "",
			"You are logged in, but the verification request was for a different identity and has been cancelled.")
		return
	}
	p.applyDecision(w, r, dec)
}

func (p *Provider) cancelLoginHandler(w http.ResponseWriter, r *http.Request) {
	sess := p.sessions.Begin(w, r)
	stash := openid.NewSessionStash(sess)
	dec, err := p.engine.CancelLogin(r.Context(), stash)
	if err != nil {
		p.log.WithError(err).Error("failed to cancel login")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	p.applyDecision(w, r, dec)
}

func (p *Provider) logoutHandler(w http.ResponseWriter, r *http.Request) {
	sess := p.sessions.Begin(w, r)
	if err := p.sessions.Destroy(r.Context(), w, sess); err != nil {
		p.log.WithError(err).Warn("failed to destroy session")
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (p *Provider) decideFormHandler(w http.ResponseWriter, r *http.Request) {
	sess := p.sessions.Begin(w, r)
	acct := p.currentAccount(r, sess)
	if acct == nil {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	stash := openid.NewSessionStash(sess)
	pending, err := stash.PeekPending(r.Context())
	if err != nil {
		p.log.WithError(err).Error("failed to read pending request")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if pending == nil {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	identity := pending.Identity
	if pending.IDSelect {
		identity = p.engine.IdentityURL(acct.Username)
	}
	p.render(w, http.StatusOK, "decide", page{
		Title:         "Authorize",
		Account:       acct,
		TrustRoot:     pending.TrustRoot,
		Identity:      identity,
		ProfileFields: pending.ProfileFields,
	})
}

func (p *Provider) decideSubmitHandler(w http.ResponseWriter, r *http.Request) {
	sess := p.sessions.Begin(w, r)
	acct := p.currentAccount(r, sess)
	approved := r.FormValue("approve") == "yes"

	stash := openid.NewSessionStash(sess)
	dec, err := p.engine.ResumeAfterConsent(r.Context(), stash, acct, approved)
	if err != nil {
		p.log.WithError(err).Error("failed to apply consent decision")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	verdict := "denied"
	if approved {
		verdict = "approved"
	}
	p.metrics.ConsentTotal.WithLabelValues(verdict).Inc()
	p.applyDecision(w, r, dec)
}

func (p *Provider) signupFormHandler(w http.ResponseWriter, r *http.Request) {
	sess := p.sessions.Begin(w, r)
	p.render(w, http.StatusOK, "signup", page{
		Title: "Sign up",
		Flash: p.takeFlash(r, sess),
	})
}

func (p *Provider) signupSubmitHandler(w http.ResponseWriter, r *http.Request) {
	sess := p.sessions.Begin(w, r)
	form := formData{
		Username:  r.FormValue("username"),
		FirstName: r.FormValue("first_name"),
		LastName:  r.FormValue("last_name"),
		Email:     r.FormValue("email"),
	}

	acct, errs, err := p.lifecycle.Signup(r.Context(), account.SignupInput{
		Username:     form.Username,
		FirstName:    form.FirstName,
		LastName:     form.LastName,
		Email:        form.Email,
		Password:     r.FormValue("password"),
		Confirmation: r.FormValue("password_confirmation"),
	})
	if err != nil {
		p.log.WithError(err).Error("signup failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if errs.Any() {
		p.render(w, http.StatusOK, "signup", page{Title: "Sign up", Errors: errs, Form: form})
		return
	}

	if err := p.logIn(r, sess, acct); err != nil {
		p.log.WithError(err).Error("failed to establish session")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	p.metrics.SignupsTotal.Inc()
	p.setFlash(r, sess, "Welcome! Your account is ready.")
	http.Redirect(w, r, "/account", http.StatusFound)
}

func (p *Provider) activateFormHandler(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	target, err := p.accounts.FindByActivationCode(r.Context(), code)
	if err == account.ErrNotFound {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		p.log.WithError(err).Error("failed to look up activation code")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	p.render(w, http.StatusOK, "activate", page{Title: "Activate", Target: target, Code: code})
}

func (p *Provider) activateSubmitHandler(w http.ResponseWriter, r *http.Request) {
	sess := p.sessions.Begin(w, r)
	code := mux.Vars(r)["code"]

	target, errs, err := p.lifecycle.Activate(r.Context(), code, account.PasswordChange{
		Password:     r.FormValue("password"),
		Confirmation: r.FormValue("password_confirmation"),
	})
	if err == account.ErrNotFound {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		p.log.WithError(err).Error("activation failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if errs.Any() {
		p.render(w, http.StatusOK, "activate", page{Title: "Activate", Target: target, Code: code, Errors: errs})
		return
	}

	if err := p.logIn(r, sess, target); err != nil {
		p.log.WithError(err).Error("failed to establish session")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	p.metrics.ActivationsTotal.Inc()
	p.setFlash(r, sess, "Your account has been activated.")
	http.Redirect(w, r, "/account", http.StatusFound)
}

func (p *Provider) accountHandler(w http.ResponseWriter, r *http.Request) {
	sess := p.sessions.Begin(w, r)
	acct := p.currentAccount(r, sess)
	if acct == nil {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	approvals, err := p.trust.ListForUser(r.Context(), acct.ID)
	if err != nil {
		p.log.WithError(err).Error("failed to list approvals")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	p.render(w, http.StatusOK, "account", page{
		Title:       "Account",
		Account:     acct,
		Flash:       p.takeFlash(r, sess),
		IdentityURL: p.engine.IdentityURL(acct.Username),
		Approvals:   approvals,
	})
}

func (p *Provider) accountEditFormHandler(w http.ResponseWriter, r *http.Request) {
	sess := p.sessions.Begin(w, r)
	acct := p.currentAccount(r, sess)
	if acct == nil {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	p.render(w, http.StatusOK, "account_edit", page{
		Title:   "Edit account",
		Account: acct,
		Form: formData{
			FirstName: acct.FirstName,
			LastName:  acct.LastName,
			Email:     acct.Email,
		},
	})
}

func (p *Provider) accountEditSubmitHandler(w http.ResponseWriter, r *http.Request) {
	sess := p.sessions.Begin(w, r)
	acct := p.currentAccount(r, sess)
	if acct == nil {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	form := formData{
		FirstName: r.FormValue("first_name"),
		LastName:  r.FormValue("last_name"),
		Email:     r.FormValue("email"),
	}
	change := account.PasswordChange{
		Current:      r.FormValue("current_password"),
		Password:     r.FormValue("password"),
		Confirmation: r.FormValue("password_confirmation"),
	}

	// the credential lives on the account for invited users and on the
	// delegated identity for self-signed-up ones
	cred := &acct.Credential
	var ident *account.Identity
	if !acct.Credential.IsSet() {
		var err error
		ident, err = p.accounts.GetIdentityByUsername(r.Context(), acct.Username)
		if err != nil && err != account.ErrNotFound {
			p.log.WithError(err).Error("failed to load identity")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if ident != nil {
			cred = &ident.Credential
		}
	}

	// every edit of an activated account requires the current password
	if errs := cred.Validate(account.CredentialUpdate, change, false); errs.Any() {
		p.render(w, http.StatusOK, "account_edit", page{
			Title: "Edit account", Account: acct, Errors: errs, Form: form,
		})
		return
	}
	cred.Apply(change)

	acct.FirstName = form.FirstName
	acct.LastName = form.LastName
	acct.Email = form.Email
	if err := p.accounts.UpdateAccount(r.Context(), acct); err != nil {
		p.log.WithError(err).Error("failed to update account")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if ident != nil {
		ident.FirstName = form.FirstName
		ident.LastName = form.LastName
		ident.Email = form.Email
		if err := p.accounts.UpdateIdentity(r.Context(), ident); err != nil {
			p.log.WithError(err).Error("failed to update identity")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	p.setFlash(r, sess, "Account updated.")
	http.Redirect(w, r, "/account", http.StatusFound)
}
