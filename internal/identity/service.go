package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"time"

	"github.com/fintrustlab/txgate/internal/apperr"
	"github.com/fintrustlab/txgate/internal/audit"
	"github.com/fintrustlab/txgate/internal/idgen"
	"github.com/fintrustlab/txgate/internal/logging"
	"github.com/fintrustlab/txgate/internal/metrics"
	"github.com/fintrustlab/txgate/internal/password"
)

const maxEmailLength = 254

// LockoutPolicy controls the credential failure counter.
type LockoutPolicy struct {
	MaxAttempts int
	LockFor     time.Duration
}

// Service implements registration and credential verification with
// lockout. Verification failures increment a per-identity counter; hitting
// the limit locks the account for a fixed window during which passwords
// are not even checked.
type Service struct {
	store  Store
	ledger *audit.Ledger
	policy LockoutPolicy
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates an identity service.
func NewService(store Store, ledger *audit.Ledger, policy LockoutPolicy, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		ledger: ledger,
		policy: policy,
		logger: logging.Component(logger, "identity"),
		now:    time.Now,
	}
}

// WithClock overrides the time source (for testing).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Store exposes the backing store for collaborating components.
func (s *Service) Store() Store { return s.store }

// Register creates a new identity. Empty role defaults to user.
func (s *Service) Register(ctx context.Context, email, plaintext, roleStr string) (*Identity, error) {
	if email == "" || len(email) > maxEmailLength {
		return nil, apperr.Validation("email is required and must be at most 254 characters")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperr.Validation("invalid email address")
	}
	role, ok := ParseRole(roleStr)
	if !ok {
		return nil, apperr.Validation("role must be one of user, admin, approver")
	}

	hash, err := password.Hash(plaintext)
	if errors.Is(err, password.ErrPasswordTooShort) {
		return nil, apperr.Validation(err.Error())
	}
	if err != nil {
		return nil, apperr.Internal("hashing password", err)
	}

	now := s.now()
	ident := &Identity{
		ID:           idgen.WithPrefix(idgen.PrefixIdentity),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.Create(ctx, ident); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, apperr.Conflict("email already registered")
		}
		return nil, apperr.Internal("creating identity", err)
	}

	s.ledger.Record(ctx, audit.Event{
		Action:       audit.ActionUserCreate,
		ActorID:      ident.ID,
		ActorEmail:   ident.Email,
		ActorRole:    string(ident.Role),
		ResourceID:   ident.ID,
		ResourceType: "user",
	})

	s.logger.Info("identity registered", "user_id", ident.ID, "role", ident.Role)
	return ident, nil
}

// VerifyCredentials checks an email/password pair against the lockout
// policy. A locked account fails without the password being examined, so
// further guessing cannot extend knowledge of the credential. Only a
// wrong password moves the failure counter; storage errors never grant
// access and never count as failures.
func (s *Service) VerifyCredentials(ctx context.Context, email, plaintext string) (*Identity, error) {
	ident, err := s.store.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		metrics.LoginAttemptsTotal.WithLabelValues("invalid").Inc()
		return nil, apperr.Authentication("invalid credentials")
	}
	if err != nil {
		metrics.LoginAttemptsTotal.WithLabelValues("error").Inc()
		return nil, apperr.Internal("loading identity", err)
	}

	now := s.now()
	if ident.Locked(now) {
		metrics.LoginAttemptsTotal.WithLabelValues("locked").Inc()
		return nil, apperr.Locked(ident.LockUntil.Sub(now))
	}

	match, err := password.Verify(plaintext, ident.PasswordHash)
	if err != nil {
		metrics.LoginAttemptsTotal.WithLabelValues("error").Inc()
		return nil, apperr.Internal("verifying password", err)
	}
	if !match {
		return nil, s.recordFailure(ctx, ident, now)
	}

	if err := s.store.RecordSuccess(ctx, ident.ID, now); err != nil {
		metrics.LoginAttemptsTotal.WithLabelValues("error").Inc()
		return nil, apperr.Internal("recording login", err)
	}
	ident.FailedAttempts = 0
	ident.LockUntil = nil
	last := now
	ident.LastLogin = &last

	metrics.LoginAttemptsTotal.WithLabelValues("valid").Inc()
	s.ledger.Record(ctx, audit.Event{
		Action:       audit.ActionLogin,
		ActorID:      ident.ID,
		ActorEmail:   ident.Email,
		ActorRole:    string(ident.Role),
		ResourceID:   ident.ID,
		ResourceType: "user",
	})

	return ident, nil
}

func (s *Service) recordFailure(ctx context.Context, ident *Identity, now time.Time) error {
	updated, err := s.store.RecordFailure(ctx, ident.ID, s.policy.MaxAttempts, s.policy.LockFor, now)
	if err != nil {
		metrics.LoginAttemptsTotal.WithLabelValues("error").Inc()
		return apperr.Internal("recording login failure", err)
	}

	metrics.LoginAttemptsTotal.WithLabelValues("invalid").Inc()
	if updated.Locked(now) && !ident.Locked(now) {
		metrics.LockoutsTotal.Inc()
		s.logger.Warn("account locked",
			"user_id", ident.ID,
			"failed_attempts", updated.FailedAttempts,
			"lock_until", updated.LockUntil,
		)
		return apperr.Locked(updated.LockUntil.Sub(now))
	}
	return apperr.Authentication("invalid credentials")
}
