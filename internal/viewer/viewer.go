// Package viewer resolves who is behind the current request.
package viewer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ovaphlow/pitchfork/service-account-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/user/entity"
)

// ErrNotFound means there is no confirmable user behind the request.
// Callers treat it like a missing route, never as an in-page error.
var ErrNotFound = errors.New("not found")

type Kind string

const (
	KindAnonymous Kind = "anonymous"
	KindUser      Kind = "user"
	KindService   Kind = "service"
)

// Viewer is the authenticated principal. ID is set only for KindUser.
type Viewer struct {
	Kind Kind
	ID   string
}

var Anonymous = Viewer{Kind: KindAnonymous}

// Query answers "who is the current viewer". It is read-only and safe to
// retry.
type Query interface {
	CurrentViewer(ctx context.Context) (Viewer, error)
}

// Require resolves the viewer and fails closed unless it is a user.
func Require(ctx context.Context, q Query) (Viewer, error) {
	v, err := q.CurrentViewer(ctx)
	if err != nil {
		return Viewer{}, err
	}
	if v.Kind != KindUser || v.ID == "" {
		return Viewer{}, ErrNotFound
	}
	return v, nil
}

type SessionValidator interface {
	Validate(ctx context.Context, token string) (*session.BrowserSession, error)
}

type UserLookup interface {
	GetMinimalAuthView(ctx context.Context, id int64) (*entity.MinimalAuthView, error)
}

// Resolver is the Query backed by the browser session cookie.
type Resolver struct {
	sessions SessionValidator
	users    UserLookup
}

func NewResolver(sessions SessionValidator, users UserLookup) *Resolver {
	return &Resolver{sessions: sessions, users: users}
}

func (r *Resolver) CurrentViewer(ctx context.Context) (Viewer, error) {
	token := session.TokenFromContext(ctx)
	if token == "" {
		return Anonymous, nil
	}
	sess, err := r.sessions.Validate(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrInvalidSession) {
			return Anonymous, nil
		}
		return Viewer{}, fmt.Errorf("current viewer: %w", err)
	}
	view, err := r.users.GetMinimalAuthView(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Anonymous, nil
		}
		return Viewer{}, fmt.Errorf("current viewer: %w", err)
	}
	if view.Status != "active" {
		return Anonymous, nil
	}
	// A version bump (password change, lock) ends sessions issued before it.
	if view.Version != sess.UserVersion {
		return Anonymous, nil
	}
	if view.UserType != nil && *view.UserType == entity.UserTypeService {
		return Viewer{Kind: KindService}, nil
	}
	return Viewer{Kind: KindUser, ID: user.NodeID(view.ID)}, nil
}
