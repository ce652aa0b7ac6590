package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-account-go/internal/user/entity"
)

// PasswordHasher defines minimal hashing interface (abstract so we can swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (hash string, algo string, err error)
	Verify(hash, pw string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(pw string) (string, string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", "", err
	}
	return string(h), fmt.Sprintf("bcrypt:%d", cost), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// Store is the persistence the service needs; *repo.UserRepo satisfies it.
type Store interface {
	Create(ctx context.Context, u *entity.User) (int64, error)
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	GetByUsername(ctx context.Context, username string) (*entity.User, error)
	GetMinimalAuthView(ctx context.Context, id int64) (*entity.MinimalAuthView, error)
	IncrementFailedLogin(ctx context.Context, id int64) (int, error)
	LockIfThreshold(ctx context.Context, id int64, threshold int, lockMinutes int) (bool, error)
	ResetLoginSuccess(ctx context.Context, id int64) error
	UnlockIfExpired(ctx context.Context, id int64) (bool, error)
	AllowCrossSigningReset(ctx context.Context, id int64) (bool, error)
}

// UserService orchestrates authentication and user lifecycle flows.
type UserService struct {
	repo   Store
	hasher PasswordHasher
	// configuration knobs
	MaxFailed   int
	LockMinutes int
}

func NewUserService(r Store, hasher PasswordHasher) *UserService {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	return &UserService{repo: r, hasher: hasher, MaxFailed: 6, LockMinutes: 15}
}

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrLocked            = errors.New("user locked")
	ErrDisabled          = errors.New("user disabled")
	ErrBadCredentials    = errors.New("invalid credentials")
	ErrMustResetPassword = errors.New("must reset password")
	ErrInvalidNodeID     = errors.New("invalid user id")
)

const nodePrefix = "user:"

// NodeID renders the opaque identifier exposed to the web surface.
func NodeID(id int64) string {
	return nodePrefix + strconv.FormatInt(id, 10)
}

// ParseNodeID is the inverse of NodeID.
func ParseNodeID(s string) (int64, error) {
	raw, ok := strings.CutPrefix(s, nodePrefix)
	if !ok {
		return 0, ErrInvalidNodeID
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidNodeID
	}
	return id, nil
}

// AuthenticatePassword performs password authentication by email or username (one must be non-empty).
// On success resets counters and returns the user minimal auth view.
func (s *UserService) AuthenticatePassword(ctx context.Context, identifier, password string) (*entity.MinimalAuthView, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrBadCredentials
	}

	var u *entity.User
	var err error
	if strings.Contains(identifier, "@") {
		u, err = s.repo.GetByEmail(ctx, identifier)
	} else {
		u, err = s.repo.GetByUsername(ctx, identifier)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBadCredentials
		} // avoid user enumeration
		return nil, err
	}

	if u.Status == "locked" && u.LockedUntil != nil {
		if unlocked, _ := s.repo.UnlockIfExpired(ctx, u.ID); unlocked {
			u.Status = "active"
			u.LockedUntil = nil
		}
	}

	if u.Status == "locked" {
		return nil, ErrLocked
	}
	if u.Status == "disabled" {
		return nil, ErrDisabled
	}
	if u.PasswordHash == nil || *u.PasswordHash == "" {
		return nil, ErrBadCredentials
	}

	if !s.hasher.Verify(*u.PasswordHash, password) {
		if _, incErr := s.repo.IncrementFailedLogin(ctx, u.ID); incErr == nil {
			_, _ = s.repo.LockIfThreshold(ctx, u.ID, s.MaxFailed, s.LockMinutes)
		}
		return nil, ErrBadCredentials
	}

	if err := s.repo.ResetLoginSuccess(ctx, u.ID); err != nil {
		return nil, err
	}

	if u.MustResetPassword {
		return nil, ErrMustResetPassword
	}

	return s.repo.GetMinimalAuthView(ctx, u.ID)
}

// SignupUser creates a user with password (hashing inside). Minimal required: username OR email, password.
func (s *UserService) SignupUser(ctx context.Context, username, email, password, userType string) (int64, error) {
	if username == "" && email == "" {
		return 0, errors.New("username or email required")
	}
	if password == "" {
		return 0, errors.New("password required")
	}
	var normalizedEmail *string
	if email != "" {
		e := strings.ToLower(strings.TrimSpace(email))
		normalizedEmail = &e
	}
	var uname *string
	if username != "" {
		u := strings.TrimSpace(username)
		uname = &u
	}
	var utype *string
	if userType != "" {
		utype = &userType
	}
	hash, algo, err := s.hasher.Hash(password)
	if err != nil {
		return 0, err
	}
	u := &entity.User{
		Username:     uname,
		Email:        normalizedEmail,
		PasswordHash: &hash,
		PasswordAlgo: &algo,
		Status:       "active",
		UserType:     utype,
		Version:      1,
	}
	return s.repo.Create(ctx, u)
}

// GetMinimalAuthView retrieves the minimal projection for a user by ID.
func (s *UserService) GetMinimalAuthView(ctx context.Context, id int64) (*entity.MinimalAuthView, error) {
	return s.repo.GetMinimalAuthView(ctx, id)
}

// AllowCrossSigningReset authorizes the user identified by nodeID to reset
// their cross-signing identity. It returns the node ID of the updated user.
func (s *UserService) AllowCrossSigningReset(ctx context.Context, nodeID string) (string, error) {
	id, err := ParseNodeID(nodeID)
	if err != nil {
		return "", err
	}
	ok, err := s.repo.AllowCrossSigningReset(ctx, id)
	if err != nil {
		return "", fmt.Errorf("allow cross-signing reset: %w", err)
	}
	if !ok {
		return "", ErrUserNotFound
	}
	return NodeID(id), nil
}
