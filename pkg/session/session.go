// Package session provides server-side browser sessions for the identity
// provider.
//
// # Overview
//
// A session is an opaque cookie id mapped to a string-keyed bag of values
// held server side. The bag survives redirects within the same browser,
// which is what the OpenID negotiation relies on: a suspended assertion
// request is stashed in the bag, and the next login or consent step takes it
// back out exactly once.
//
// Three backends implement the Store interface: a SQL table (default), Redis
// for multi-instance deployments, and an in-process map for tests and
// development.
package session

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL bounds how long an idle session survives
const DefaultTTL = 24 * time.Hour

// Store is a string-keyed bag keyed by session id
type Store interface {
	// Get returns the value for key, with false when absent
	Get(ctx context.Context, sid, key string) (string, bool, error)
	// Set stores a value and refreshes the session expiry
	Set(ctx context.Context, sid, key, value string) error
	// Delete removes a single key
	Delete(ctx context.Context, sid, key string) error
	// Destroy removes the whole session
	Destroy(ctx context.Context, sid string) error
	// Cleanup removes expired sessions and reports how many were dropped
	Cleanup(ctx context.Context) (int64, error)
}

// Manager ties sessions to browser cookies
type Manager struct {
	store      Store
	cookieName string
	ttl        time.Duration
	secure     bool
}

// NewManager creates a session manager over a backend store
func NewManager(store Store, cookieName string, ttl time.Duration, secure bool) *Manager {
	if cookieName == "" {
		cookieName = "cactuar_session"
	}
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: store, cookieName: cookieName, ttl: ttl, secure: secure}
}

// Session is one browser's bag of values
type Session struct {
	ID    string
	store Store
}

// Begin returns the browser's session, creating one and setting the cookie
// when none exists yet
func (m *Manager) Begin(w http.ResponseWriter, r *http.Request) *Session {
	if c, err := r.Cookie(m.cookieName); err == nil && c.Value != "" {
		return &Session{ID: c.Value, store: m.store}
	}

	sid := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(m.ttl / time.Second),
	})
	return &Session{ID: sid, store: m.store}
}

// Destroy drops the session server side and clears the cookie
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	http.SetCookie(w, &http.Cookie{Name: m.cookieName, MaxAge: -1, Path: "/"})
	return m.store.Destroy(ctx, sess.ID)
}

// Get returns the value for key, with false when absent
func (s *Session) Get(ctx context.Context, key string) (string, bool, error) {
	return s.store.Get(ctx, s.ID, key)
}

// Set stores a value under key
func (s *Session) Set(ctx context.Context, key, value string) error {
	return s.store.Set(ctx, s.ID, key, value)
}

// Delete removes key from the session
func (s *Session) Delete(ctx context.Context, key string) error {
	return s.store.Delete(ctx, s.ID, key)
}

// Take returns the value for key and removes it, so the value can be
// consumed at most once
func (s *Session) Take(ctx context.Context, key string) (string, bool, error) {
	value, ok, err := s.store.Get(ctx, s.ID, key)
	if err != nil || !ok {
		return "", false, err
	}
	if err := s.store.Delete(ctx, s.ID, key); err != nil {
		return "", false, err
	}
	return value, true, nil
}
