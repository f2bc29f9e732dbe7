package identity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fintrustlab/txgate/internal/apperr"
	"github.com/fintrustlab/txgate/internal/audit"
	"github.com/fintrustlab/txgate/internal/logging"
	"github.com/fintrustlab/txgate/internal/metrics"
	"github.com/fintrustlab/txgate/internal/totp"
)

// Enrollment is the material returned when step-up enrollment begins.
// The secret is shown to the user exactly once.
type Enrollment struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioningUri"`
}

// StepUp manages time-based one-time-password enrollment and verification.
// Enrollment is two-phase: a generated secret stays pending until the user
// proves possession by confirming a valid code, and only then does the
// account require step-up codes.
type StepUp struct {
	store  Store
	ledger *audit.Ledger
	issuer string
	logger *slog.Logger
	now    func() time.Time
}

// NewStepUp creates a step-up authenticator. The issuer names this service
// in authenticator apps.
func NewStepUp(store Store, ledger *audit.Ledger, issuer string, logger *slog.Logger) *StepUp {
	return &StepUp{
		store:  store,
		ledger: ledger,
		issuer: issuer,
		logger: logging.Component(logger, "stepup"),
		now:    time.Now,
	}
}

// WithClock overrides the time source (for testing).
func (s *StepUp) WithClock(now func() time.Time) *StepUp {
	s.now = now
	return s
}

// BeginEnrollment generates and stores a pending secret for the identity.
// Restarting enrollment replaces any previous pending secret; an already
// enabled account must disable first.
func (s *StepUp) BeginEnrollment(ctx context.Context, userID string) (*Enrollment, error) {
	ident, err := s.get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if ident.TwoFactorEnabled {
		return nil, apperr.Conflict("step-up authentication is already enabled")
	}

	secret, err := totp.GenerateSecret()
	if err != nil {
		return nil, apperr.Internal("generating step-up secret", err)
	}
	if err := s.store.SetPendingSecret(ctx, userID, secret); err != nil {
		return nil, apperr.Internal("storing step-up secret", err)
	}

	return &Enrollment{
		Secret:          secret,
		ProvisioningURI: totp.ProvisioningURI(secret, s.issuer, ident.Email),
	}, nil
}

// ConfirmEnrollment enables step-up after the user proves possession of
// the pending secret with a currently valid code.
func (s *StepUp) ConfirmEnrollment(ctx context.Context, userID, code string) error {
	ident, err := s.get(ctx, userID)
	if err != nil {
		return err
	}
	if ident.TwoFactorEnabled {
		return apperr.Conflict("step-up authentication is already enabled")
	}
	if ident.TOTPSecret == "" {
		return apperr.Validation("step-up enrollment has not been started")
	}

	if err := s.checkCode(ident.TOTPSecret, code); err != nil {
		return err
	}

	if err := s.store.EnableTwoFactor(ctx, userID); err != nil {
		return apperr.Internal("enabling step-up", err)
	}

	s.ledger.Record(ctx, audit.Event{
		Action:       audit.ActionStepUpEnable,
		ActorID:      ident.ID,
		ActorEmail:   ident.Email,
		ActorRole:    string(ident.Role),
		ResourceID:   ident.ID,
		ResourceType: "user",
	})
	s.logger.Info("step-up enabled", "user_id", ident.ID)
	return nil
}

// VerifyCode checks a code for an enabled account. This is the step-up
// proof used to elevate a session.
func (s *StepUp) VerifyCode(ctx context.Context, userID, code string) error {
	ident, err := s.get(ctx, userID)
	if err != nil {
		return err
	}
	if !ident.TwoFactorEnabled {
		return apperr.Validation("step-up authentication is not enabled")
	}

	if err := s.checkCode(ident.TOTPSecret, code); err != nil {
		metrics.StepUpVerificationsTotal.WithLabelValues("invalid").Inc()
		return err
	}

	metrics.StepUpVerificationsTotal.WithLabelValues("valid").Inc()
	s.ledger.Record(ctx, audit.Event{
		Action:       audit.ActionStepUpVerify,
		ActorID:      ident.ID,
		ActorEmail:   ident.Email,
		ActorRole:    string(ident.Role),
		ResourceID:   ident.ID,
		ResourceType: "user",
	})
	return nil
}

// Disable turns step-up off and discards the secret. Only the already
// authenticated owner reaches this path; no code is required.
func (s *StepUp) Disable(ctx context.Context, userID string) error {
	ident, err := s.get(ctx, userID)
	if err != nil {
		return err
	}
	if !ident.TwoFactorEnabled {
		return apperr.Validation("step-up authentication is not enabled")
	}

	if err := s.store.DisableTwoFactor(ctx, userID); err != nil {
		return apperr.Internal("disabling step-up", err)
	}

	s.ledger.Record(ctx, audit.Event{
		Action:       audit.ActionStepUpDisable,
		ActorID:      ident.ID,
		ActorEmail:   ident.Email,
		ActorRole:    string(ident.Role),
		ResourceID:   ident.ID,
		ResourceType: "user",
	})
	s.logger.Info("step-up disabled", "user_id", ident.ID)
	return nil
}

func (s *StepUp) get(ctx context.Context, userID string) (*Identity, error) {
	ident, err := s.store.GetByID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, apperr.Internal("loading identity", err)
	}
	return ident, nil
}

func (s *StepUp) checkCode(secret, code string) error {
	ok, err := totp.Verify(secret, code, s.now())
	if err != nil {
		return apperr.Internal("verifying step-up code", err)
	}
	if !ok {
		return apperr.Authentication("invalid step-up code")
	}
	return nil
}
