package provider

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/viking/cactuar/pkg/delegated"
	"github.com/viking/cactuar/pkg/openid"
)

const sessionStateKey = "oauth_state"

// upstreamStartHandler begins a delegated login at the configured
// upstream provider
func (p *Provider) upstreamStartHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["provider"]
	if p.upstream == nil || p.upstream.Name() != name {
		http.NotFound(w, r)
		return
	}

	sess := p.sessions.Begin(w, r)
	state, err := randomState()
	if err != nil {
		p.log.WithError(err).Error("failed to generate state")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := sess.Set(r.Context(), sessionStateKey, state); err != nil {
		p.log.WithError(err).Error("failed to store state")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, p.upstream.AuthCodeURL(state), http.StatusFound)
}

// upstreamCallbackHandler finishes a delegated login: the upstream
// subject is resolved through the binding registry and the pending
// request, if any, resumes
func (p *Provider) upstreamCallbackHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["provider"]
	if p.upstream == nil || p.upstream.Name() != name {
		http.NotFound(w, r)
		return
	}

	sess := p.sessions.Begin(w, r)
	want, ok, err := sess.Take(r.Context(), sessionStateKey)
	if err != nil || !ok || want != r.URL.Query().Get("state") {
		http.Error(w, "state mismatch", http.StatusBadRequest)
		return
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		p.log.WithField("error", errParam).Info("upstream login declined")
		http.Redirect(w, r, "/auth/failure", http.StatusFound)
		return
	}

	uid, _, err := p.upstream.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		p.log.WithError(err).Warn("upstream exchange failed")
		p.metrics.LoginsTotal.WithLabelValues(name, "failure").Inc()
		http.Redirect(w, r, "/auth/failure", http.StatusFound)
		return
	}

	acct, err := p.registry.ResolveOrProvision(r.Context(), name, uid, p.upstream.AutoCreate())
	if err == delegated.ErrNoBinding {
		p.metrics.LoginsTotal.WithLabelValues(name, "failure").Inc()
		p.setFlash(r, sess, "No account is linked to that login.")
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	if err != nil {
		p.log.WithError(err).Error("failed to resolve upstream binding")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := p.logIn(r, sess, acct); err != nil {
		p.log.WithError(err).Error("failed to establish session")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	p.metrics.LoginsTotal.WithLabelValues(name, "success").Inc()
	p.log.WithFields(logrus.Fields{
		"provider": name,
		"username": acct.Username,
	}).Info("delegated login succeeded")

	stash := openid.NewSessionStash(sess)
	dec, err := p.engine.ResumeAfterLogin(r.Context(), stash, acct)
	if err != nil {
		p.log.WithError(err).Error("failed to resume after login")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if dec.Kind == openid.DecisionLogin {
		p.renderLogin(w, r, sess, http.StatusOK, "",
			"You are logged in, but the verification request was for a different identity and has been cancelled.")
		return
	}
	p.applyDecision(w, r, dec)
}

// upstreamFailureHandler is the cancel target for failed or abandoned
// delegated logins: any pending request is cancelled back to its
// relying party
func (p *Provider) upstreamFailureHandler(w http.ResponseWriter, r *http.Request) {
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

func randomState() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
