// Package delegated resolves logins performed by an external credential
// subsystem to local accounts.
//
// A binding is a (provider, external id) pair unique at the storage layer.
// The local password flow registers bindings under the "identity" provider;
// upstream OpenID Connect providers register theirs under the provider name
// configured for them.
package delegated

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/viking/cactuar/pkg/account"
	"github.com/viking/cactuar/pkg/storage"
)

var (
	// ErrNoBinding indicates no account is bound to the (provider, uid) pair
	ErrNoBinding = errors.New("no such binding")
	// ErrBindingExists indicates the (provider, uid) pair is already bound
	ErrBindingExists = errors.New("binding already exists")
)

// Registry maps (provider, external id) pairs to local accounts
type Registry struct {
	db       *sql.DB
	accounts *account.Store
}

// NewRegistry creates a binding registry
func NewRegistry(db *sql.DB, accounts *account.Store) *Registry {
	return &Registry{db: db, accounts: accounts}
}

// Resolve returns the account bound to a (provider, uid) pair
func (r *Registry) Resolve(ctx context.Context, provider, uid string) (*account.Account, error) {
	var accountID int64
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id FROM authentications WHERE provider = $1 AND uid = $2`,
		provider, uid).Scan(&accountID)
	if err == sql.ErrNoRows {
		return nil, ErrNoBinding
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve binding: %w", err)
	}
	return r.accounts.GetAccount(ctx, accountID)
}

// Bind creates a unique-constrained (provider, uid) -> account mapping
func (r *Registry) Bind(ctx context.Context, provider, uid string, accountID int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO authentications (provider, uid, user_id, created_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
	`, provider, uid, accountID)
	if storage.IsUniqueViolation(err) {
		return ErrBindingExists
	}
	if err != nil {
		return fmt.Errorf("failed to create binding: %w", err)
	}
	return nil
}

// ResolveOrProvision resolves a delegated login, provisioning a fresh
// activated account (username = uid) on first use when autoCreate is set
func (r *Registry) ResolveOrProvision(ctx context.Context, provider, uid string, autoCreate bool) (*account.Account, error) {
	acct, err := r.Resolve(ctx, provider, uid)
	if err == nil {
		return acct, nil
	}
	if err != ErrNoBinding {
		return nil, err
	}
	if !autoCreate {
		return nil, ErrNoBinding
	}

	acct = &account.Account{Username: uid, Activated: true}
	if err := r.accounts.CreateAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("failed to provision account for binding: %w", err)
	}
	if err := r.Bind(ctx, provider, uid, acct.ID); err != nil {
		return nil, err
	}
	return acct, nil
}
