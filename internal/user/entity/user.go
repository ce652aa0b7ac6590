package entity

import "time"

// User represents an account row in the `users` table.
// Only includes fields needed at service layer.
type User struct {
	ID                         int64      `db:"id"`
	Username                   *string    `db:"username"`
	Email                      *string    `db:"email"`
	EmailVerified              bool       `db:"email_verified"`
	PasswordHash               *string    `db:"password_hash"`
	PasswordAlgo               *string    `db:"password_algo"`
	MustResetPassword          bool       `db:"must_reset_password"`
	Status                     string     `db:"status"` // active / locked / disabled
	LoginFailedAttempts        int        `db:"login_failed_attempts"`
	LockedUntil                *time.Time `db:"locked_until"`
	UserType                   *string    `db:"user_type"`
	Version                    int64      `db:"version"`
	CrossSigningResetAllowedAt *time.Time `db:"cross_signing_reset_allowed_at"`
	CreatedAt                  time.Time  `db:"created_at"`
	UpdatedAt                  time.Time  `db:"updated_at"`
}

// MinimalAuthView is the minimal projection required for session claims
// and viewer resolution.
type MinimalAuthView struct {
	ID            int64   `db:"id" json:"id"`
	Username      *string `db:"username" json:"username,omitempty"`
	UserType      *string `db:"user_type" json:"user_type,omitempty"`
	Status        string  `db:"status" json:"status"`
	Version       int64   `db:"version" json:"version"`
	Email         *string `db:"email" json:"email,omitempty"`
	EmailVerified bool    `db:"email_verified" json:"email_verified"`
}

// UserTypeService marks machine accounts. They can hold sessions but are
// never a confirmable viewer.
const UserTypeService = "service"
