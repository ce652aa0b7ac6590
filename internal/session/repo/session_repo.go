package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// Row mirrors a browser_sessions record.
type Row struct {
	ID         string     `db:"id"`
	UserID     int64      `db:"user_id"`
	CreatedAt  time.Time  `db:"created_at"`
	ExpiresAt  time.Time  `db:"expires_at"`
	FinishedAt *time.Time `db:"finished_at"`
}

type SessionRepo struct {
	db *sqlx.DB
}

func NewSessionRepo(db *sqlx.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// EnsureTable creates the browser_sessions table if it does not exist.
func (r *SessionRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS browser_sessions (
  id VARCHAR(32) PRIMARY KEY,
  user_id BIGINT NOT NULL REFERENCES users(id),
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  expires_at TIMESTAMPTZ NOT NULL,
  finished_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_browser_sessions_user_id ON browser_sessions(user_id);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func (r *SessionRepo) Save(ctx context.Context, id string, userID int64, expiresAt time.Time) error {
	const q = `INSERT INTO browser_sessions (id, user_id, expires_at) VALUES ($1, $2, $3)`
	_, err := r.db.ExecContext(ctx, q, id, userID, expiresAt)
	return err
}

// Get returns the session row or sql.ErrNoRows.
func (r *SessionRepo) Get(ctx context.Context, id string) (*Row, error) {
	const q = `SELECT id, user_id, created_at, expires_at, finished_at FROM browser_sessions WHERE id = $1`
	var row Row
	if err := r.db.GetContext(ctx, &row, q, id); err != nil {
		return nil, err
	}
	return &row, nil
}

// Finish marks the session as ended. Finishing twice is a no-op.
func (r *SessionRepo) Finish(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE browser_sessions SET finished_at = NOW() WHERE id = $1 AND finished_at IS NULL`, id)
	return err
}
