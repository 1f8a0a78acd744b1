package openid

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/viking/cactuar/pkg/account"
)

// DecisionKind classifies what the transport layer should do next
type DecisionKind string

const (
	// DecisionAnswer delivers an encoded protocol answer
	DecisionAnswer DecisionKind = "answer"
	// DecisionLogin suspends to the login step
	DecisionLogin DecisionKind = "login"
	// DecisionConsent suspends to the consent step
	DecisionConsent DecisionKind = "consent"
	// DecisionRedirect sends the browser somewhere outside the protocol,
	// such as a cancel URL or the account page
	DecisionRedirect DecisionKind = "redirect"
)

// Decision is the engine's verdict on one request or resumption
type Decision struct {
	Kind     DecisionKind
	Outcome  Outcome // set for DecisionAnswer
	Location string  // set for DecisionRedirect
}

// TrustStore is the per-user trust-root approval memory
type TrustStore interface {
	IsApproved(ctx context.Context, userID int64, trustRoot string) (bool, error)
	Approve(ctx context.Context, userID int64, trustRoot string) error
}

// Engine is the authorization/consent state machine
type Engine struct {
	codec   Codec
	trust   TrustStore
	baseURL string
	log     *logrus.Logger
}

// NewEngine creates the authorization engine
func NewEngine(codec Codec, trust TrustStore, baseURL string, log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.New()
	}
	return &Engine{
		codec:   codec,
		trust:   trust,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log,
	}
}

// IdentityURL returns the identity URL the provider vouches for on behalf
// of a username
func (e *Engine) IdentityURL(username string) string {
	return e.baseURL + "/" + username
}

// EndpointURL returns the assertion endpoint, used as the error-redirect
// target for failed immediate-mode checks
func (e *Engine) EndpointURL() string {
	return e.baseURL + "/openid/auth"
}

// Evaluate runs the state machine over an incoming assertion request.
// current is the session's authenticated account, nil when nobody is
// logged in.
func (e *Engine) Evaluate(ctx context.Context, req *AssertionRequest, stash Stash, current *account.Account) (Decision, error) {
	identity := req.Identity
	matched := false

	if req.IDSelect {
		if req.Immediate {
			// provider-chosen identity needs interactive setup, so
			// immediate mode can never succeed here
			e.log.WithField("trust_root", req.TrustRoot).Debug("denied immediate id_select request")
			return Decision{Kind: DecisionAnswer, Outcome: e.codec.Answer(req, false, "", "")}, nil
		}
		if current == nil {
			if err := stash.PutPending(ctx, req); err != nil {
				return Decision{}, err
			}
			return Decision{Kind: DecisionLogin}, nil
		}
		identity = e.IdentityURL(current.Username)
		matched = true
	} else {
		matched = current != nil && e.IdentityURL(current.Username) == identity
	}

	if current != nil && matched {
		approved, err := e.trust.IsApproved(ctx, current.ID, req.TrustRoot)
		if err != nil {
			return Decision{}, err
		}
		if approved {
			return e.allow(req, current, identity), nil
		}
		if req.Immediate {
			return e.denyRetry(req), nil
		}
		if err := stash.PutPending(ctx, req); err != nil {
			return Decision{}, err
		}
		return Decision{Kind: DecisionConsent}, nil
	}

	if req.Immediate {
		return e.denyRetry(req), nil
	}
	if err := stash.PutPending(ctx, req); err != nil {
		return Decision{}, err
	}
	return Decision{Kind: DecisionLogin}, nil
}

// ResumeAfterLogin picks up a suspended request once a login succeeded.
// With no pending request the login was an ordinary one and the browser
// goes to the account page.
func (e *Engine) ResumeAfterLogin(ctx context.Context, stash Stash, acct *account.Account) (Decision, error) {
	pending, err := stash.TakePending(ctx)
	if err != nil {
		return Decision{}, err
	}
	if pending == nil {
		return Decision{Kind: DecisionRedirect, Location: "/account"}, nil
	}

	identity := e.IdentityURL(acct.Username)
	if pending.IDSelect || pending.Identity == identity {
		return e.Evaluate(ctx, pending, stash, acct)
	}

	// the login succeeded for a different subject than the request names;
	// never answer the relying party for the wrong identity
	e.log.WithFields(logrus.Fields{
		"username": acct.Username,
		"identity": pending.Identity,
	}).Warn("login did not match requested identity")
	return Decision{Kind: DecisionLogin}, nil
}

// CancelLogin handles a user-cancelled login attempt: the pending request
// is discarded and the browser goes to its cancel URL, or the site root
// when nothing was pending
func (e *Engine) CancelLogin(ctx context.Context, stash Stash) (Decision, error) {
	pending, err := stash.TakePending(ctx)
	if err != nil {
		return Decision{}, err
	}
	if pending == nil || pending.CancelURL == "" {
		return Decision{Kind: DecisionRedirect, Location: "/"}, nil
	}
	return Decision{Kind: DecisionRedirect, Location: pending.CancelURL}, nil
}

// ResumeAfterConsent applies the user's consent decision to the suspended
// request. Consent without an authenticated account, or with nothing
// pending, falls back to the site root.
func (e *Engine) ResumeAfterConsent(ctx context.Context, stash Stash, acct *account.Account, approved bool) (Decision, error) {
	if acct == nil {
		return Decision{Kind: DecisionRedirect, Location: "/"}, nil
	}

	pending, err := stash.TakePending(ctx)
	if err != nil {
		return Decision{}, err
	}
	if pending == nil {
		return Decision{Kind: DecisionRedirect, Location: "/"}, nil
	}

	if !approved {
		location := pending.CancelURL
		if location == "" {
			location = "/"
		}
		return Decision{Kind: DecisionRedirect, Location: location}, nil
	}

	if err := e.trust.Approve(ctx, acct.ID, pending.TrustRoot); err != nil {
		return Decision{}, err
	}

	identity := pending.Identity
	if pending.IDSelect {
		identity = e.IdentityURL(acct.Username)
	}
	return e.allow(pending, acct, identity), nil
}

func (e *Engine) allow(req *AssertionRequest, acct *account.Account, identity string) Decision {
	out := e.codec.Answer(req, true, "", identity)
	e.codec.AddProfileAttributes(out, acct.ProfileData())
	e.log.WithFields(logrus.Fields{
		"username":   acct.Username,
		"trust_root": req.TrustRoot,
	}).Info("assertion allowed")
	return Decision{Kind: DecisionAnswer, Outcome: out}
}

// denyRetry answers a failed immediate-mode check with an error redirect
// back at the assertion endpoint, so the relying party can retry in
// interactive mode
func (e *Engine) denyRetry(req *AssertionRequest) Decision {
	return Decision{Kind: DecisionAnswer, Outcome: e.codec.Answer(req, false, e.EndpointURL(), "")}
}
