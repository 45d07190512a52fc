package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/pylonproxy/pylon/internal/credential"
)

// GetByHash implements credential.Store.
func (s *Store) GetByHash(ctx context.Context, hash string) (*credential.Credential, error) {
	row := s.read.QueryRowContext(ctx, credentialSelect+` WHERE key_hash = ?`, hash)
	c, err := scanCredential(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return c, err
}

// GetByID implements credential.Store.
func (s *Store) GetByID(ctx context.Context, id string) (*credential.Credential, error) {
	row := s.read.QueryRowContext(ctx, credentialSelect+` WHERE id = ?`, id)
	c, err := scanCredential(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return c, err
}

// List implements credential.Store.
func (s *Store) List(ctx context.Context) ([]*credential.Credential, error) {
	rows, err := s.read.QueryContext(ctx, credentialSelect+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*credential.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Create implements credential.Store.
func (s *Store) Create(ctx context.Context, c *credential.Credential) error {
	ruleJSON, err := marshalRule(c.RateLimitConfig)
	if err != nil {
		return err
	}
	_, err = s.write.ExecContext(ctx,
		`INSERT INTO credentials (id, key_hash, key_prefix, description, priority, created_at, expires_at, revoked_at, rate_limit_config)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.KeyHash, c.KeyPrefix, c.Description, string(c.Priority),
		c.CreatedAt.UTC().Format(time.RFC3339), timeToStr(c.ExpiresAt), timeToStr(c.RevokedAt), ruleJSON,
	)
	return err
}

// Update implements credential.Store.
func (s *Store) Update(ctx context.Context, c *credential.Credential) error {
	ruleJSON, err := marshalRule(c.RateLimitConfig)
	if err != nil {
		return err
	}
	result, err := s.write.ExecContext(ctx,
		`UPDATE credentials SET key_hash=?, key_prefix=?, description=?, priority=?, expires_at=?, revoked_at=?, rate_limit_config=?
		 WHERE id=?`,
		c.KeyHash, c.KeyPrefix, c.Description, string(c.Priority),
		timeToStr(c.ExpiresAt), timeToStr(c.RevokedAt), ruleJSON, c.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result)
}

// Delete implements credential.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM credentials WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result)
}

const credentialSelect = `SELECT id, key_hash, key_prefix, description, priority, created_at, expires_at, revoked_at, rate_limit_config FROM credentials`

type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(sc scanner) (*credential.Credential, error) {
	var c credential.Credential
	var priority string
	var createdAt string
	var expiresAt, revokedAt sql.NullString
	var ruleJSON sql.NullString

	err := sc.Scan(&c.ID, &c.KeyHash, &c.KeyPrefix, &c.Description, &priority, &createdAt, &expiresAt, &revokedAt, &ruleJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.Priority = credential.Priority(priority)
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		c.CreatedAt = t
	}
	c.ExpiresAt = parseTime(expiresAt)
	c.RevokedAt = parseTime(revokedAt)
	if ruleJSON.Valid && ruleJSON.String != "" {
		var rule credential.RateLimitRule
		if err := json.Unmarshal([]byte(ruleJSON.String), &rule); err != nil {
			return nil, err
		}
		c.RateLimitConfig = &rule
	}
	return &c, nil
}

func marshalRule(r *credential.RateLimitRule) (sql.NullString, error) {
	if r == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func timeToStr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func checkRowsAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
