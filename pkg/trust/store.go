// Package trust records per-user approvals of relying-party trust roots.
//
// An approval is created only through an explicit consent decision, never
// implicitly. The (user, trust_root) pair is unique at the storage layer, so
// a double-submitted consent form stays idempotent.
package trust

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Approval records that a user consented to share identity and profile data
// with a relying party
type Approval struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	TrustRoot string    `json:"trust_root"`
	CreatedAt time.Time `json:"created_at"`
}

// Store handles approval persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new approval store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// IsApproved reports whether the user has approved the trust root
func (s *Store) IsApproved(ctx context.Context, userID int64, trustRoot string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM approvals WHERE user_id = $1 AND trust_root = $2)`,
		userID, trustRoot).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check approval: %w", err)
	}
	return exists, nil
}

// Approve records the user's consent for a trust root. Approving an already
// approved root is a no-op.
func (s *Store) Approve(ctx context.Context, userID int64, trustRoot string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approvals (user_id, trust_root, created_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (user_id, trust_root) DO NOTHING
	`, userID, trustRoot)
	if err != nil {
		return fmt.Errorf("failed to create approval: %w", err)
	}
	return nil
}

// ListForUser returns all approvals owned by a user, newest first
func (s *Store) ListForUser(ctx context.Context, userID int64) ([]*Approval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, trust_root, created_at
		FROM approvals
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer rows.Close()

	var approvals []*Approval
	for rows.Next() {
		a := &Approval{}
		if err := rows.Scan(&a.ID, &a.UserID, &a.TrustRoot, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}
