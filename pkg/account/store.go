package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/viking/cactuar/pkg/storage"
)

var (
	// ErrNotFound indicates the requested account or identity does not exist
	ErrNotFound = errors.New("account not found")
	// ErrInvalidCredentials indicates a failed username/password check
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrUsernameTaken indicates a uniqueness conflict on the username
	ErrUsernameTaken = errors.New("username is already taken")
)

// Store handles account and identity persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new account store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const accountColumns = `id, username, first_name, last_name, email, activated, admin, activation_code, salt, crypted_password, created_at, updated_at`

func scanAccount(row interface{ Scan(...interface{}) error }) (*Account, error) {
	a := &Account{}
	var firstName, lastName, email, code, salt, crypted sql.NullString
	err := row.Scan(&a.ID, &a.Username, &firstName, &lastName, &email,
		&a.Activated, &a.Admin, &code, &salt, &crypted, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.FirstName = firstName.String
	a.LastName = lastName.String
	a.Email = email.String
	a.ActivationCode = code.String
	a.Credential = Credential{Salt: salt.String, Crypted: crypted.String}
	return a, nil
}

// CreateAccount inserts a new account, filling in its generated ID
func (s *Store) CreateAccount(ctx context.Context, a *Account) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, first_name, last_name, email, activated, admin, activation_code, salt, crypted_password, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id
	`, a.Username, nullable(a.FirstName), nullable(a.LastName), nullable(a.Email),
		a.Activated, a.Admin, nullable(a.ActivationCode),
		nullable(a.Credential.Salt), nullable(a.Credential.Crypted)).Scan(&a.ID)
	if storage.IsUniqueViolation(err) {
		return ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by ID
func (s *Store) GetAccount(ctx context.Context, id int64) (*Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM users WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// GetAccountByUsername retrieves an account by username
func (s *Store) GetAccountByUsername(ctx context.Context, username string) (*Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM users WHERE username = $1`, username))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// ListAccounts returns all accounts ordered by username
func (s *Store) ListAccounts(ctx context.Context) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// UpdateAccount persists profile, activation and credential changes
func (s *Store) UpdateAccount(ctx context.Context, a *Account) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET username = $1, first_name = $2, last_name = $3, email = $4,
			activated = $5, admin = $6, activation_code = $7,
			salt = $8, crypted_password = $9, updated_at = CURRENT_TIMESTAMP
		WHERE id = $10
	`, a.Username, nullable(a.FirstName), nullable(a.LastName), nullable(a.Email),
		a.Activated, a.Admin, nullable(a.ActivationCode),
		nullable(a.Credential.Salt), nullable(a.Credential.Crypted), a.ID)
	if storage.IsUniqueViolation(err) {
		return ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Authenticate checks an account password and returns the matching account.
// Accounts without a stored credential can never authenticate this way.
func (s *Store) Authenticate(ctx context.Context, username, password string) (*Account, error) {
	a, err := s.GetAccountByUsername(ctx, username)
	if err == ErrNotFound {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !a.Credential.Check(password) {
		return nil, ErrInvalidCredentials
	}
	return a, nil
}

// FindByActivationCode retrieves the unactivated account bound to a code
func (s *Store) FindByActivationCode(ctx context.Context, code string) (*Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM users WHERE activation_code = $1 AND activated = FALSE`, code))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up activation code: %w", err)
	}
	return a, nil
}

// ActivationCodeExists reports whether any account holds the given code
func (s *Store) ActivationCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE activation_code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check activation code: %w", err)
	}
	return exists, nil
}

// DeleteAccount removes an account together with its trust approvals and
// external bindings, all inside one transaction
func (s *Store) DeleteAccount(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM approvals WHERE user_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete approvals: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM authentications WHERE user_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete bindings: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

const identityColumns = `id, username, email, first_name, last_name, salt, crypted_password, created_at, updated_at`

func scanIdentity(row interface{ Scan(...interface{}) error }) (*Identity, error) {
	i := &Identity{}
	var email, firstName, lastName, salt, crypted sql.NullString
	err := row.Scan(&i.ID, &i.Username, &email, &firstName, &lastName,
		&salt, &crypted, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, err
	}
	i.Email = email.String
	i.FirstName = firstName.String
	i.LastName = lastName.String
	i.Credential = Credential{Salt: salt.String, Crypted: crypted.String}
	return i, nil
}

// CreateIdentity inserts a new delegated identity credential
func (s *Store) CreateIdentity(ctx context.Context, i *Identity) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO identities (username, email, first_name, last_name, salt, crypted_password, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id
	`, i.Username, nullable(i.Email), nullable(i.FirstName), nullable(i.LastName),
		i.Credential.Salt, i.Credential.Crypted).Scan(&i.ID)
	if storage.IsUniqueViolation(err) {
		return ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("failed to create identity: %w", err)
	}
	return nil
}

// GetIdentityByUsername retrieves a delegated identity by username
func (s *Store) GetIdentityByUsername(ctx context.Context, username string) (*Identity, error) {
	i, err := scanIdentity(s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE username = $1`, username))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	return i, nil
}

// UpdateIdentity persists credential and profile changes on an identity
func (s *Store) UpdateIdentity(ctx context.Context, i *Identity) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE identities
		SET email = $1, first_name = $2, last_name = $3,
			salt = $4, crypted_password = $5, updated_at = CURRENT_TIMESTAMP
		WHERE id = $6
	`, nullable(i.Email), nullable(i.FirstName), nullable(i.LastName),
		i.Credential.Salt, i.Credential.Crypted, i.ID)
	if err != nil {
		return fmt.Errorf("failed to update identity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AuthenticateIdentity checks a delegated identity password
func (s *Store) AuthenticateIdentity(ctx context.Context, username, password string) (*Identity, error) {
	i, err := s.GetIdentityByUsername(ctx, username)
	if err == ErrNotFound {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !i.Credential.Check(password) {
		return nil, ErrInvalidCredentials
	}
	return i, nil
}

// nullable maps empty strings onto SQL NULL
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
