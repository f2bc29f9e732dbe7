package transaction

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fintrustlab/txgate/internal/apperr"
	"github.com/fintrustlab/txgate/internal/audit"
	"github.com/fintrustlab/txgate/internal/identity"
	"github.com/fintrustlab/txgate/internal/pagination"
	"github.com/fintrustlab/txgate/internal/risk"
)

var (
	owner    = Actor{ID: "usr_owner", Email: "owner@example.com", Role: identity.RoleUser}
	approver = Actor{ID: "usr_approver", Email: "approver@example.com", Role: identity.RoleApprover}
)

func elevated(a Actor) Actor {
	a.TwoFactorVerified = true
	return a
}

func testInput(amount float64) CreateInput {
	return CreateInput{
		Amount:      amount,
		Currency:    "usd",
		Type:        "transfer",
		FromAccount: "acct-100001",
		ToAccount:   "acct-100002",
	}
}

func newTestService(t *testing.T) (*Service, *MemoryStore, *time.Time) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := NewMemoryStore()
	ledger := audit.NewLedger(audit.NewMemoryStore(), logger)

	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	svc := NewService(store, risk.NewEngine(), ledger, Thresholds{StepUp: 1000, Approval: 5000}, logger)
	svc.WithClock(func() time.Time { return now })
	return svc, store, &now
}

func TestCreateAutoCompletes(t *testing.T) {
	svc, _, _ := newTestService(t)

	rec, err := svc.Create(context.Background(), owner, testInput(800))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.False(t, rec.RequiresApproval)
	assert.Equal(t, "USD", rec.Currency)
	assert.Equal(t, 0, rec.RiskScore)
	assert.Nil(t, rec.ApproverID)
}

func TestCreateRoutesToApproval(t *testing.T) {
	svc, _, _ := newTestService(t)

	rec, err := svc.Create(context.Background(), elevated(owner), testInput(6000))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)
	assert.True(t, rec.RequiresApproval)
	assert.True(t, rec.TwoFactorVerified)
	assert.Equal(t, 20, rec.RiskScore)
}

func TestCreateStepUpGate(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, owner, testInput(1500))
	require.True(t, apperr.IsKind(err, apperr.KindStepUpRequired), "got %v", err)

	// The gate fires before anything is written.
	_, total, err := store.ListByOwner(ctx, owner.ID, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)

	rec, err := svc.Create(ctx, elevated(owner), testInput(1500))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
}

func TestCreateOffHoursRisk(t *testing.T) {
	svc, _, now := newTestService(t)
	*now = time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)

	rec, err := svc.Create(context.Background(), elevated(owner), testInput(15000))
	require.NoError(t, err)
	assert.Equal(t, 55, rec.RiskScore)
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newTestService(t)

	cases := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"zero amount", func(in *CreateInput) { in.Amount = 0 }},
		{"negative amount", func(in *CreateInput) { in.Amount = -5 }},
		{"bad currency", func(in *CreateInput) { in.Currency = "DOLLARS" }},
		{"unknown type", func(in *CreateInput) { in.Type = "wire" }},
		{"short from account", func(in *CreateInput) { in.FromAccount = "abc" }},
		{"long to account", func(in *CreateInput) { in.ToAccount = string(make([]byte, 51)) }},
		{"long description", func(in *CreateInput) { in.Description = string(make([]byte, 501)) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := testInput(100)
			tc.mutate(&in)
			_, err := svc.Create(context.Background(), owner, in)
			assert.True(t, apperr.IsKind(err, apperr.KindValidation), "got %v", err)
		})
	}
}

func TestResolve(t *testing.T) {
	svc, _, now := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Create(ctx, elevated(owner), testInput(6000))
	require.NoError(t, err)

	resolved, err := svc.Resolve(ctx, approver, rec.ID, DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, resolved.Status)
	require.NotNil(t, resolved.ApproverID)
	assert.Equal(t, approver.ID, *resolved.ApproverID)
	require.NotNil(t, resolved.ApprovedAt)
	assert.True(t, resolved.ApprovedAt.Equal(*now))
}

func TestResolveTwiceConflicts(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Create(ctx, elevated(owner), testInput(6000))
	require.NoError(t, err)

	first, err := svc.Resolve(ctx, approver, rec.ID, DecisionApprove)
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, approver, rec.ID, DecisionReject)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict), "got %v", err)

	// The first resolution is untouched by the failed second one.
	loaded, err := svc.Get(ctx, approver, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, loaded.Status)
	assert.Equal(t, *first.ApproverID, *loaded.ApproverID)
	assert.True(t, first.ApprovedAt.Equal(*loaded.ApprovedAt))
}

func TestResolveConcurrentSingleWinner(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Create(ctx, elevated(owner), testInput(6000))
	require.NoError(t, err)

	const resolvers = 8
	errs := make([]error, resolvers)
	var wg sync.WaitGroup
	for i := 0; i < resolvers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Resolve(ctx, approver, rec.ID, DecisionApprove)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.True(t, apperr.IsKind(err, apperr.KindConflict), "got %v", err)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestResolveRequiresApproverRole(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Create(ctx, elevated(owner), testInput(6000))
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, elevated(owner), rec.ID, DecisionApprove)
	assert.True(t, apperr.IsKind(err, apperr.KindAuthorization), "got %v", err)

	_, err = svc.Resolve(ctx, approver, "txn_missing", DecisionApprove)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound), "got %v", err)
}

func TestGetOwnership(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Create(ctx, owner, testInput(100))
	require.NoError(t, err)

	_, err = svc.Get(ctx, owner, rec.ID)
	assert.NoError(t, err)

	// Another plain user gets an authorization failure, not not-found.
	other := Actor{ID: "usr_other", Role: identity.RoleUser}
	_, err = svc.Get(ctx, other, rec.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindAuthorization), "got %v", err)

	_, err = svc.Get(ctx, approver, rec.ID)
	assert.NoError(t, err)

	_, err = svc.Get(ctx, owner, "txn_missing")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound), "got %v", err)
}

func TestListMinePagination(t *testing.T) {
	svc, _, now := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		*now = now.Add(time.Minute)
		_, err := svc.Create(ctx, owner, testInput(100))
		require.NoError(t, err)
	}
	_, err := svc.Create(ctx, Actor{ID: "usr_other", Role: identity.RoleUser}, testInput(100))
	require.NoError(t, err)

	recs, page, err := svc.ListMine(ctx, owner, pagination.Params{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	assert.EqualValues(t, 5, page.Total)
	assert.EqualValues(t, 3, page.Pages)

	// Newest first.
	assert.True(t, recs[0].CreatedAt.After(recs[1].CreatedAt))

	recs, _, err = svc.ListMine(ctx, owner, pagination.Params{Page: 3, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestListPending(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, owner, testInput(100))
	require.NoError(t, err)
	pendingRec, err := svc.Create(ctx, elevated(owner), testInput(6000))
	require.NoError(t, err)

	recs, page, err := svc.ListPending(ctx, approver, pagination.Params{Page: 1, Limit: 10})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, pendingRec.ID, recs[0].ID)
	assert.EqualValues(t, 1, page.Total)

	_, _, err = svc.ListPending(ctx, owner, pagination.Params{Page: 1, Limit: 10})
	assert.True(t, apperr.IsKind(err, apperr.KindAuthorization), "got %v", err)
}
