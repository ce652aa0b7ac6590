package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/user/entity"
)

// UserRepo provides data access for users table using sqlx.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

// EnsureTable creates the users table if not exists (idempotent).
// This is a convenience for early development; prefer migrations in production.
func (r *UserRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE EXTENSION IF NOT EXISTS citext;
CREATE TABLE IF NOT EXISTS users (
  id BIGSERIAL PRIMARY KEY,
  username TEXT UNIQUE,
  email CITEXT UNIQUE,
  email_verified BOOLEAN NOT NULL DEFAULT false,
  password_hash TEXT,
  password_algo TEXT,
  must_reset_password BOOLEAN NOT NULL DEFAULT false,
  status TEXT NOT NULL DEFAULT 'active',
  login_failed_attempts INT NOT NULL DEFAULT 0,
  locked_until TIMESTAMPTZ,
  last_login_at TIMESTAMPTZ,
  user_type TEXT,
  version BIGINT NOT NULL DEFAULT 1,
  cross_signing_reset_allowed_at TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
ALTER TABLE users ADD COLUMN IF NOT EXISTS cross_signing_reset_allowed_at TIMESTAMPTZ;
CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Create inserts a new user row (minimal fields). Returns new ID.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) (int64, error) {
	const q = `INSERT INTO users (username,email,email_verified,password_hash,password_algo,must_reset_password,status,user_type,version)
		  VALUES (:username,:email,:email_verified,:password_hash,:password_algo,:must_reset_password,:status,:user_type,:version) RETURNING id`
	rows, err := r.db.NamedQueryContext(ctx, q, u)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&u.ID); err != nil {
			return 0, err
		}
		return u.ID, nil
	}
	return 0, errors.New("no id returned")
}

const selectUser = `SELECT id, username, email, email_verified, password_hash, password_algo,
		must_reset_password, status, login_failed_attempts, locked_until, user_type,
		version, cross_signing_reset_allowed_at, created_at, updated_at
	  FROM users`

// GetByEmail returns a user matched by email (case-insensitive due to citext) or sql.ErrNoRows.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	var row entity.User
	if err := r.db.GetContext(ctx, &row, selectUser+` WHERE email=$1`, email); err != nil {
		return nil, err
	}
	return &row, nil
}

// GetByUsername fetches by username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*entity.User, error) {
	var row entity.User
	if err := r.db.GetContext(ctx, &row, selectUser+` WHERE username=$1`, username); err != nil {
		return nil, err
	}
	return &row, nil
}

// GetMinimalAuthView returns only the fields needed for session claims and
// viewer resolution.
func (r *UserRepo) GetMinimalAuthView(ctx context.Context, id int64) (*entity.MinimalAuthView, error) {
	const q = `SELECT id, username, user_type, status, version, email, email_verified FROM users WHERE id=$1`
	var v entity.MinimalAuthView
	if err := r.db.GetContext(ctx, &v, q, id); err != nil {
		return nil, err
	}
	return &v, nil
}

// IncrementFailedLogin increments the failure counter atomically and returns new value.
func (r *UserRepo) IncrementFailedLogin(ctx context.Context, id int64) (int, error) {
	const q = `UPDATE users SET login_failed_attempts = login_failed_attempts + 1, updated_at=NOW() WHERE id=$1 RETURNING login_failed_attempts`
	var v int
	if err := r.db.GetContext(ctx, &v, q, id); err != nil {
		return 0, err
	}
	return v, nil
}

// LockIfThreshold locks the user if attempts >= threshold and currently active.
func (r *UserRepo) LockIfThreshold(ctx context.Context, id int64, threshold int, lockMinutes int) (bool, error) {
	const q = `UPDATE users SET status='locked', locked_until = NOW() + ($2 || ' minutes')::interval, updated_at=NOW()
              WHERE id=$1 AND status='active' AND login_failed_attempts >= $3 RETURNING 1`
	return r.returningOne(ctx, q, id, lockMinutes, threshold)
}

// ResetLoginSuccess resets failure metrics on successful authentication.
func (r *UserRepo) ResetLoginSuccess(ctx context.Context, id int64) error {
	const q = `UPDATE users SET login_failed_attempts=0, last_login_at=NOW(), locked_until=NULL, updated_at=NOW() WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

// UnlockIfExpired sets status back to active if locked_until passed.
func (r *UserRepo) UnlockIfExpired(ctx context.Context, id int64) (bool, error) {
	const q = `UPDATE users SET status='active', locked_until=NULL, updated_at=NOW()
               WHERE id=$1 AND status='locked' AND locked_until IS NOT NULL AND locked_until < NOW() RETURNING 1`
	return r.returningOne(ctx, q, id)
}

// AllowCrossSigningReset stamps the user as allowed to replace their
// cross-signing keys without further interactive auth. Only active users
// are updated; false means no such active user.
func (r *UserRepo) AllowCrossSigningReset(ctx context.Context, id int64) (bool, error) {
	const q = `UPDATE users SET cross_signing_reset_allowed_at=NOW(), updated_at=NOW()
               WHERE id=$1 AND status='active' RETURNING 1`
	return r.returningOne(ctx, q, id)
}

func (r *UserRepo) returningOne(ctx context.Context, q string, args ...any) (bool, error) {
	var one int
	err := r.db.GetContext(ctx, &one, q, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
