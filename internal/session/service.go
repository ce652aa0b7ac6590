// Package session issues and validates browser session cookies.
package session

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ovaphlow/pitchfork/service-account-go/internal/session/repo"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-account-go/pkg/utilities"
)

var ErrInvalidSession = errors.New("invalid session")

// Store persists browser sessions; *repo.SessionRepo satisfies it.
type Store interface {
	Save(ctx context.Context, id string, userID int64, expiresAt time.Time) error
	Get(ctx context.Context, id string) (*repo.Row, error)
	Finish(ctx context.Context, id string) error
}

type Options struct {
	Issuer     string
	TTL        time.Duration
	CookieName string
	CookiePath string
	Secure     bool
	// Key signs session tokens. A fresh key is generated when nil, which
	// logs everyone out on restart.
	Key *rsa.PrivateKey
}

type claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
	Version   int64  `json:"v"`
}

// Service manages the signing key and browser session lifecycle.
type Service struct {
	key   *rsa.PrivateKey
	kid   string
	opts  Options
	store Store
	now   func() time.Time
}

func NewService(store Store, opts Options) (*Service, error) {
	k := opts.Key
	if k == nil {
		var err error
		k, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, err
		}
	}
	if opts.CookieName == "" {
		opts.CookieName = "account_session"
	}
	if opts.CookiePath == "" {
		opts.CookiePath = "/"
	}
	if opts.TTL <= 0 {
		opts.TTL = 12 * time.Hour
	}
	h := sha256.Sum256(k.PublicKey.N.Bytes())
	kid := base64.RawURLEncoding.EncodeToString(h[:8])
	return &Service{key: k, kid: kid, opts: opts, store: store, now: time.Now}, nil
}

// LoadSigningKey reads a PEM encoded RSA private key.
func LoadSigningKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	k, err := jwt.ParseRSAPrivateKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	return k, nil
}

func (s *Service) CookieName() string { return s.opts.CookieName }

// Issue persists a new browser session for the user and returns the cookie
// carrying its signed token.
func (s *Service) Issue(ctx context.Context, view *entity.MinimalAuthView) (*http.Cookie, error) {
	now := s.now()
	sid := utilities.NewKSUID()
	exp := now.Add(s.opts.TTL)
	if err := s.store.Save(ctx, sid, view.ID, exp); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.opts.Issuer,
			Subject:   strconv.FormatInt(view.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		SessionID: sid,
		Version:   view.Version,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, c)
	tok.Header["kid"] = s.kid
	signed, err := tok.SignedString(s.key)
	if err != nil {
		return nil, err
	}
	return &http.Cookie{
		Name:     s.opts.CookieName,
		Value:    signed,
		Path:     s.opts.CookiePath,
		Expires:  exp,
		HttpOnly: true,
		Secure:   s.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

// Validate checks the token signature and that the backing session row is
// still active. Any authentication failure is ErrInvalidSession; storage
// failures are returned as-is.
func (s *Service) Validate(ctx context.Context, token string) (*BrowserSession, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		return &s.key.PublicKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(s.opts.Issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || c.SessionID == "" {
		return nil, ErrInvalidSession
	}

	row, err := s.store.Get(ctx, c.SessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidSession
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	sess := &BrowserSession{
		ID:         row.ID,
		UserID:     row.UserID,
		CreatedAt:  row.CreatedAt,
		ExpiresAt:  row.ExpiresAt,
		FinishedAt: row.FinishedAt,

		UserVersion: c.Version,
	}
	if !sess.Active(s.now()) || strconv.FormatInt(sess.UserID, 10) != c.Subject {
		return nil, ErrInvalidSession
	}
	return sess, nil
}

// Finish ends the session behind token. Invalid tokens are ignored.
func (s *Service) Finish(ctx context.Context, token string) error {
	sess, err := s.Validate(ctx, token)
	if err != nil {
		if errors.Is(err, ErrInvalidSession) {
			return nil
		}
		return err
	}
	return s.store.Finish(ctx, sess.ID)
}

// ClearCookie returns a cookie that deletes the session cookie.
func (s *Service) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     s.opts.CookieName,
		Value:    "",
		Path:     s.opts.CookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
