// Package identity manages user accounts: registration, credential
// verification with lockout, and step-up (TOTP) enrollment.
package identity

import (
	"context"
	"errors"
	"time"
)

// Role is the closed set of identity roles.
type Role string

const (
	RoleUser     Role = "user"
	RoleAdmin    Role = "admin"
	RoleApprover Role = "approver"
)

// ParseRole validates a role string, defaulting empty input to RoleUser.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case "":
		return RoleUser, true
	case RoleUser, RoleAdmin, RoleApprover:
		return Role(s), true
	}
	return "", false
}

// CanApprove reports whether the role may resolve pending transactions.
func (r Role) CanApprove() bool {
	return r == RoleAdmin || r == RoleApprover
}

// Identity is a user account.
type Identity struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role"`
	// TOTPSecret is pending until TwoFactorEnabled is set by a confirmed
	// enrollment; empty means not enrolled.
	TOTPSecret       string     `json:"-"`
	TwoFactorEnabled bool       `json:"twoFactorEnabled"`
	FailedAttempts   int        `json:"-"`
	LockUntil        *time.Time `json:"-"`
	LastLogin        *time.Time `json:"lastLogin,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Locked reports whether the account is locked out at time now.
func (i *Identity) Locked(now time.Time) bool {
	return i.LockUntil != nil && i.LockUntil.After(now)
}

// Store errors.
var (
	ErrNotFound   = errors.New("identity not found")
	ErrEmailTaken = errors.New("email already registered")
)

// Store persists identities.
//
// RecordFailure and RecordSuccess must each be a single atomic
// read-modify-write against the identity row: the failure counter and
// lock-until are updated together or not at all, so concurrent attempts
// against the same identity cannot lose updates or observe a partial
// lockout state.
type Store interface {
	Create(ctx context.Context, id *Identity) error
	GetByID(ctx context.Context, id string) (*Identity, error)
	GetByEmail(ctx context.Context, email string) (*Identity, error)

	// RecordFailure atomically increments the failure counter and, if the
	// counter reaches threshold, sets lock-until to at+lockFor in the same
	// update. Returns the post-update identity.
	RecordFailure(ctx context.Context, id string, threshold int, lockFor time.Duration, at time.Time) (*Identity, error)

	// RecordSuccess atomically resets the failure counter, clears
	// lock-until, and stamps last-login.
	RecordSuccess(ctx context.Context, id string, at time.Time) error

	// SetPendingSecret stores a step-up secret without enabling 2FA.
	SetPendingSecret(ctx context.Context, id, secret string) error

	// EnableTwoFactor flips the 2FA flag; requires a pending secret.
	EnableTwoFactor(ctx context.Context, id string) error

	// DisableTwoFactor clears the secret and the 2FA flag.
	DisableTwoFactor(ctx context.Context, id string) error
}
