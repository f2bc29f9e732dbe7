package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/fintrustlab/txgate/internal/apperr"
	"github.com/fintrustlab/txgate/internal/idgen"
	"github.com/fintrustlab/txgate/internal/logging"
	"github.com/fintrustlab/txgate/internal/metrics"
	"github.com/fintrustlab/txgate/internal/pagination"
)

// Ledger records and queries audit events.
type Ledger struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewLedger creates a ledger over the given store.
func NewLedger(store Store, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logging.Component(logger, "audit"),
		now:    time.Now,
	}
}

// WithClock overrides the time source (for testing).
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Record appends an event after the triggering operation has committed.
// Failures are logged and counted but never propagated: audit durability is
// best-effort relative to the primary state change. The write is detached
// from request cancellation so a committed operation always gets its append
// attempt.
func (l *Ledger) Record(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = idgen.WithPrefix(idgen.PrefixAuditEvent)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = l.now()
	}
	if event.IPAddress == "" && event.UserAgent == "" {
		event.IPAddress, event.UserAgent = requestInfoFromCtx(ctx)
	}

	if err := l.store.Append(context.WithoutCancel(ctx), &event); err != nil {
		metrics.AuditAppendFailuresTotal.Inc()
		l.logger.Error("audit append failed",
			"action", event.Action,
			"actor_id", event.ActorID,
			"resource_id", event.ResourceID,
			"error", err,
		)
	}
}

// Query returns a page of events matching the filter, newest first.
// If the filter carries no snapshot bound, one is fixed at the current
// time; callers paginating should reuse the returned bound so concurrent
// appends neither duplicate nor hide events across pages.
func (l *Ledger) Query(ctx context.Context, f Filter, p pagination.Params) ([]*Event, pagination.Page, time.Time, error) {
	if f.Action != "" && !f.Action.Valid() {
		return nil, pagination.Page{}, time.Time{}, apperr.Validation("unknown audit action")
	}
	if f.Before.IsZero() {
		f.Before = l.now()
	}

	events, total, err := l.store.Query(ctx, f, p.Limit, p.Offset())
	if err != nil {
		return nil, pagination.Page{}, time.Time{}, apperr.Internal("audit query failed", err)
	}

	return events, pagination.NewPage(p, total), f.Before, nil
}
