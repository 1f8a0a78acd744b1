package openid

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/viking/cactuar/pkg/session"
)

const pendingKey = "pending_auth_request"

// Stash holds at most one suspended assertion request per browser session.
// A new Put overwrites any previous request; Take consumes exactly once.
type Stash interface {
	PutPending(ctx context.Context, req *AssertionRequest) error
	PeekPending(ctx context.Context) (*AssertionRequest, error)
	TakePending(ctx context.Context) (*AssertionRequest, error)
}

// SessionStash keeps the pending request as JSON in the session bag
type SessionStash struct {
	sess *session.Session
}

// NewSessionStash wraps a browser session as a pending-request stash
func NewSessionStash(sess *session.Session) *SessionStash {
	return &SessionStash{sess: sess}
}

// PutPending stores the request, replacing any previously suspended one
func (s *SessionStash) PutPending(ctx context.Context, req *AssertionRequest) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode pending request: %w", err)
	}
	return s.sess.Set(ctx, pendingKey, string(raw))
}

// PeekPending returns the pending request without consuming it, or nil
// when there is none
func (s *SessionStash) PeekPending(ctx context.Context) (*AssertionRequest, error) {
	raw, ok, err := s.sess.Get(ctx, pendingKey)
	if err != nil || !ok {
		return nil, err
	}
	return decodePending(raw)
}

// TakePending removes and returns the pending request, or nil when there is
// none
func (s *SessionStash) TakePending(ctx context.Context) (*AssertionRequest, error) {
	raw, ok, err := s.sess.Take(ctx, pendingKey)
	if err != nil || !ok {
		return nil, err
	}
	return decodePending(raw)
}

func decodePending(raw string) (*AssertionRequest, error) {
	req := &AssertionRequest{}
	if err := json.Unmarshal([]byte(raw), req); err != nil {
		return nil, fmt.Errorf("failed to decode pending request: %w", err)
	}
	return req, nil
}
