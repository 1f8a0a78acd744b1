package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SQLStore keeps session bags as JSON rows in the sessions table
type SQLStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewSQLStore creates a SQL-backed session store
func NewSQLStore(db *sql.DB, ttl time.Duration) *SQLStore {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &SQLStore{db: db, ttl: ttl}
}

func (s *SQLStore) load(ctx context.Context, sid string) (map[string]string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM sessions WHERE id = $1 AND expires_at > CURRENT_TIMESTAMP`, sid).Scan(&raw)
	if err == sql.ErrNoRows {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	bag := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &bag); err != nil {
		return nil, fmt.Errorf("failed to decode session data: %w", err)
	}
	return bag, nil
}

func (s *SQLStore) save(ctx context.Context, sid string, bag map[string]string) error {
	raw, err := json.Marshal(bag)
	if err != nil {
		return fmt.Errorf("failed to encode session data: %w", err)
	}
	expires := time.Now().Add(s.ttl).UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, data, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET data = $2, expires_at = $3, updated_at = CURRENT_TIMESTAMP
	`, sid, string(raw), expires)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Get returns the value for key, with false when absent
func (s *SQLStore) Get(ctx context.Context, sid, key string) (string, bool, error) {
	bag, err := s.load(ctx, sid)
	if err != nil {
		return "", false, err
	}
	value, ok := bag[key]
	return value, ok, nil
}

// Set stores a value and refreshes the session expiry
func (s *SQLStore) Set(ctx context.Context, sid, key, value string) error {
	bag, err := s.load(ctx, sid)
	if err != nil {
		return err
	}
	bag[key] = value
	return s.save(ctx, sid, bag)
}

// Delete removes a single key
func (s *SQLStore) Delete(ctx context.Context, sid, key string) error {
	bag, err := s.load(ctx, sid)
	if err != nil {
		return err
	}
	if _, ok := bag[key]; !ok {
		return nil
	}
	delete(bag, key)
	return s.save(ctx, sid, bag)
}

// Destroy removes the whole session row
func (s *SQLStore) Destroy(ctx context.Context, sid string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, sid); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}

// Cleanup removes expired session rows
func (s *SQLStore) Cleanup(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= CURRENT_TIMESTAMP`)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up sessions: %w", err)
	}
	return res.RowsAffected()
}
