package provider

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/viking/cactuar/pkg/account"
	"github.com/viking/cactuar/pkg/session"
)

// requireAdmin resolves the logged-in account and enforces the admin
// flag. Anonymous users go to login; authenticated non-admins get 403.
func (p *Provider) requireAdmin(w http.ResponseWriter, r *http.Request, sess *session.Session) *account.Account {
	acct := p.currentAccount(r, sess)
	if acct == nil {
		http.Redirect(w, r, "/login", http.StatusFound)
		return nil
	}
	if !acct.Admin {
		http.Error(w, "forbidden", http.StatusForbidden)
		return nil
	}
	return acct
}

func (p *Provider) adminUsersHandler(w http.ResponseWriter, r *http.Request) {
	sess := p.sessions.Begin(w, r)
	acct := p.requireAdmin(w, r, sess)
	if acct == nil {
		return
	}

	users, err := p.accounts.ListAccounts(r.Context())
	if err != nil {
		p.log.WithError(err).Error("failed to list users")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	p.render(w, http.StatusOK, "admin_users", page{
		Title:   "Users",
		Account: acct,
		Flash:   p.takeFlash(r, sess),
		Users:   users,
	})
}

func (p *Provider) adminInviteFormHandler(w http.ResponseWriter, r *http.Request) {
	sess := p.sessions.Begin(w, r)
	acct := p.requireAdmin(w, r, sess)
	if acct == nil {
		return
	}
	p.render(w, http.StatusOK, "admin_invite", page{Title: "Invite", Account: acct})
}

func (p *Provider) adminInviteSubmitHandler(w http.ResponseWriter, r *http.Request) {
	sess := p.sessions.Begin(w, r)
	acct := p.requireAdmin(w, r, sess)
	if acct == nil {
		return
	}

	form := formData{
		Username:  r.FormValue("username"),
		FirstName: r.FormValue("first_name"),
		LastName:  r.FormValue("last_name"),
		Email:     r.FormValue("email"),
		Admin:     r.FormValue("admin") == "1",
	}

	invited, errs, err := p.lifecycle.Invite(r.Context(), account.InviteInput{
		Username:  form.Username,
		FirstName: form.FirstName,
		LastName:  form.LastName,
		Email:     form.Email,
	})
	if err != nil {
		p.log.WithError(err).Error("invite failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if errs.Any() {
		p.render(w, http.StatusOK, "admin_invite", page{
			Title: "Invite", Account: acct, Errors: errs, Form: form,
		})
		return
	}

	if form.Admin {
		invited.Admin = true
		if err := p.accounts.UpdateAccount(r.Context(), invited); err != nil {
			p.log.WithError(err).Error("failed to set admin flag")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	p.setFlash(r, sess, "Invitation sent to "+invited.Email+".")
	http.Redirect(w, r, "/admin/users", http.StatusFound)
}

func (p *Provider) adminDeleteHandler(w http.ResponseWriter, r *http.Request) {
	sess := p.sessions.Begin(w, r)
	acct := p.requireAdmin(w, r, sess)
	if acct == nil {
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	switch err := p.lifecycle.Destroy(r.Context(), acct, id); err {
	case nil:
		p.setFlash(r, sess, "User deleted.")
	case account.ErrSelfDelete:
		p.setFlash(r, sess, "You cannot delete your own account.")
	case account.ErrNotFound:
		http.NotFound(w, r)
		return
	default:
		p.log.WithError(err).Error("failed to delete user")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/admin/users", http.StatusFound)
}
