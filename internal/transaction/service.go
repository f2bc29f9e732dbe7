package transaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/fintrustlab/txgate/internal/apperr"
	"github.com/fintrustlab/txgate/internal/audit"
	"github.com/fintrustlab/txgate/internal/idgen"
	"github.com/fintrustlab/txgate/internal/identity"
	"github.com/fintrustlab/txgate/internal/logging"
	"github.com/fintrustlab/txgate/internal/metrics"
	"github.com/fintrustlab/txgate/internal/pagination"
	"github.com/fintrustlab/txgate/internal/risk"
)

const (
	minAccountLength     = 5
	maxAccountLength     = 50
	maxDescriptionLength = 500
	defaultCurrency      = "USD"
)

// Actor is the authenticated caller of a transaction operation, carried
// over from verified token claims.
type Actor struct {
	ID                string
	Email             string
	Role              identity.Role
	TwoFactorVerified bool
}

// Thresholds are the amount gates applied at creation.
type Thresholds struct {
	// StepUp is the amount above which the caller's token must carry the
	// step-up verified claim.
	StepUp float64
	// Approval is the amount above which the transaction routes to manual
	// approval instead of auto-completing.
	Approval float64
}

// CreateInput is the caller-supplied portion of a new transaction.
type CreateInput struct {
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Type        string  `json:"type"`
	FromAccount string  `json:"fromAccount"`
	ToAccount   string  `json:"toAccount"`
	Description string  `json:"description"`
}

// Service drives the transaction authorization state machine.
type Service struct {
	store      Store
	engine     *risk.Engine
	ledger     *audit.Ledger
	thresholds Thresholds
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a transaction service.
func NewService(store Store, engine *risk.Engine, ledger *audit.Ledger, thresholds Thresholds, logger *slog.Logger) *Service {
	return &Service{
		store:      store,
		engine:     engine,
		ledger:     ledger,
		thresholds: thresholds,
		logger:     logging.Component(logger, "transaction"),
		now:        time.Now,
	}
}

// WithClock overrides the time source (for testing).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create validates and persists a new transaction. Amounts above the
// step-up threshold require the caller's token to carry the step-up
// verified claim; that check runs before anything is written. Risk is
// scored from the amount and the wall-clock hour at creation. Amounts
// above the approval threshold start pending; everything else
// auto-completes.
func (s *Service) Create(ctx context.Context, actor Actor, in CreateInput) (*Record, error) {
	typ, currency, err := s.validate(&in)
	if err != nil {
		return nil, err
	}

	if in.Amount > s.thresholds.StepUp && !actor.TwoFactorVerified {
		return nil, apperr.StepUpRequired(
			fmt.Sprintf("transactions above %.2f require step-up verification", s.thresholds.StepUp))
	}

	now := s.now()
	score := s.engine.Score(in.Amount, now.Hour())
	metrics.RiskScore.Observe(float64(score))

	status := StatusCompleted
	requiresApproval := in.Amount > s.thresholds.Approval
	if requiresApproval {
		status = StatusPending
	}

	rec := &Record{
		ID:                idgen.WithPrefix(idgen.PrefixTransaction),
		OwnerID:           actor.ID,
		Amount:            in.Amount,
		Currency:          currency,
		Type:              typ,
		Status:            status,
		RequiresApproval:  requiresApproval,
		RiskScore:         score,
		TwoFactorVerified: actor.TwoFactorVerified,
		FromAccount:       in.FromAccount,
		ToAccount:         in.ToAccount,
		Description:       in.Description,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.store.Create(ctx, rec); err != nil {
		return nil, apperr.Internal("creating transaction", err)
	}

	metrics.TransactionsTotal.WithLabelValues(string(status)).Inc()
	s.ledger.Record(ctx, audit.Event{
		Action:       audit.ActionTransactionCreate,
		ActorID:      actor.ID,
		ActorEmail:   actor.Email,
		ActorRole:    string(actor.Role),
		ResourceID:   rec.ID,
		ResourceType: "transaction",
		Metadata: map[string]string{
			"amount":     strconv.FormatFloat(rec.Amount, 'f', 2, 64),
			"currency":   rec.Currency,
			"status":     string(rec.Status),
			"risk_score": strconv.Itoa(rec.RiskScore),
		},
	})

	s.logger.Info("transaction created",
		"transaction_id", rec.ID,
		"owner_id", rec.OwnerID,
		"status", rec.Status,
		"risk_score", rec.RiskScore,
	)
	return rec, nil
}

// Resolve transitions a pending transaction to approved or rejected.
// Only admin and approver roles may resolve; the store's compare-and-set
// makes the second of two concurrent resolutions fail with a conflict.
func (s *Service) Resolve(ctx context.Context, actor Actor, id string, decision Decision) (*Record, error) {
	if !actor.Role.CanApprove() {
		return nil, apperr.Authorization("approver or admin role required")
	}
	if decision != DecisionApprove && decision != DecisionReject {
		return nil, apperr.Validation("decision must be approve or reject")
	}

	rec, err := s.store.Resolve(ctx, id, decision.Status(), actor.ID, s.now())
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("transaction not found")
	}
	if errors.Is(err, ErrNotPending) {
		return nil, apperr.Conflict("transaction has already been resolved")
	}
	if err != nil {
		return nil, apperr.Internal("resolving transaction", err)
	}

	action := audit.ActionTransactionApprove
	if decision == DecisionReject {
		action = audit.ActionTransactionReject
	}
	metrics.TransactionResolutionsTotal.WithLabelValues(string(decision)).Inc()
	s.ledger.Record(ctx, audit.Event{
		Action:       action,
		ActorID:      actor.ID,
		ActorEmail:   actor.Email,
		ActorRole:    string(actor.Role),
		ResourceID:   rec.ID,
		ResourceType: "transaction",
	})

	s.logger.Info("transaction resolved",
		"transaction_id", rec.ID,
		"decision", decision,
		"approver_id", actor.ID,
	)
	return rec, nil
}

// Get fetches a transaction. Plain users may only fetch their own; the
// mismatch is reported as an authorization failure, not as not-found.
func (s *Service) Get(ctx context.Context, actor Actor, id string) (*Record, error) {
	rec, err := s.store.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("transaction not found")
	}
	if err != nil {
		return nil, apperr.Internal("loading transaction", err)
	}

	if rec.OwnerID != actor.ID && !actor.Role.CanApprove() {
		return nil, apperr.Authorization("not permitted to view this transaction")
	}
	return rec, nil
}

// ListMine returns the caller's own transactions, newest first.
func (s *Service) ListMine(ctx context.Context, actor Actor, p pagination.Params) ([]*Record, pagination.Page, error) {
	recs, total, err := s.store.ListByOwner(ctx, actor.ID, p.Limit, p.Offset())
	if err != nil {
		return nil, pagination.Page{}, apperr.Internal("listing transactions", err)
	}
	return recs, pagination.NewPage(p, total), nil
}

// ListPending returns transactions awaiting approval, newest first.
// Restricted to admin and approver roles.
func (s *Service) ListPending(ctx context.Context, actor Actor, p pagination.Params) ([]*Record, pagination.Page, error) {
	if !actor.Role.CanApprove() {
		return nil, pagination.Page{}, apperr.Authorization("approver or admin role required")
	}

	recs, total, err := s.store.ListByStatus(ctx, StatusPending, p.Limit, p.Offset())
	if err != nil {
		return nil, pagination.Page{}, apperr.Internal("listing pending transactions", err)
	}
	return recs, pagination.NewPage(p, total), nil
}

func (s *Service) validate(in *CreateInput) (Type, string, error) {
	if in.Amount <= 0 {
		return "", "", apperr.Validation("amount must be positive")
	}

	typ, ok := ParseType(in.Type)
	if !ok {
		return "", "", apperr.Validation("type must be one of transfer, withdrawal, payment, deposit")
	}

	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	if len(currency) != 3 || !isAlpha(currency) {
		return "", "", apperr.Validation("currency must be a 3-letter code")
	}

	if l := len(in.FromAccount); l < minAccountLength || l > maxAccountLength {
		return "", "", apperr.Validation("fromAccount must be 5 to 50 characters")
	}
	if l := len(in.ToAccount); l < minAccountLength || l > maxAccountLength {
		return "", "", apperr.Validation("toAccount must be 5 to 50 characters")
	}
	if len(in.Description) > maxDescriptionLength {
		return "", "", apperr.Validation("description must be at most 500 characters")
	}

	return typ, currency, nil
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
