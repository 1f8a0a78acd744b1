package delegated

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCConfig holds the settings for one upstream OpenID Connect provider
type OIDCConfig struct {
	Name         string // binding provider name, e.g. "google"
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	AutoCreate   bool // provision accounts on first login
}

// OIDCUpstream performs delegated authentication against an upstream
// OpenID Connect provider
type OIDCUpstream struct {
	config       OIDCConfig
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
}

// NewOIDCUpstream discovers an upstream provider and prepares its flows
func NewOIDCUpstream(ctx context.Context, config OIDCConfig) (*OIDCUpstream, error) {
	provider, err := oidc.NewProvider(ctx, config.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: config.ClientID})

	scopes := config.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	oauth2Config := &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  config.RedirectURL,
		Scopes:       scopes,
	}

	return &OIDCUpstream{config: config, verifier: verifier, oauth2Config: oauth2Config}, nil
}

// Name returns the binding provider name
func (p *OIDCUpstream) Name() string {
	return p.config.Name
}

// AutoCreate reports whether first logins may provision accounts
func (p *OIDCUpstream) AutoCreate() bool {
	return p.config.AutoCreate
}

// AuthCodeURL returns the upstream authorization URL for a login attempt
func (p *OIDCUpstream) AuthCodeURL(state string) string {
	return p.oauth2Config.AuthCodeURL(state)
}

// Exchange redeems an authorization code and returns the verified external
// subject id plus profile claims usable for provisioning
func (p *OIDCUpstream) Exchange(ctx context.Context, code string) (string, map[string]string, error) {
	token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return "", nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return "", nil, fmt.Errorf("missing id_token in token response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return "", nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return "", nil, fmt.Errorf("failed to parse claims: %w", err)
	}

	profile := make(map[string]string)
	for k, v := range claims {
		if s, ok := v.(string); ok {
			profile[k] = s
		}
	}
	return idToken.Subject, profile, nil
}
