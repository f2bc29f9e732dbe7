package audit

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/fintrustlab/txgate/internal/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLedger() (*Ledger, *MemoryStore) {
	store := NewMemoryStore()
	return NewLedger(store, slog.Default()), store
}

func TestRecordFillsIDAndTimestamp(t *testing.T) {
	ledger, store := testLedger()

	ledger.Record(context.Background(), Event{
		Action:     ActionLogin,
		ActorID:    "usr_1",
		ActorEmail: "alice@example.com",
		ActorRole:  "user",
	})

	events, total, err := store.Query(context.Background(), Filter{}, 10, 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].CreatedAt.IsZero())
}

// failingStore simulates a broken audit backend.
type failingStore struct{}

func (failingStore) Append(context.Context, *Event) error {
	return errors.New("disk full")
}

func (failingStore) Query(context.Context, Filter, int, int) ([]*Event, int64, error) {
	return nil, 0, errors.New("disk full")
}

func TestRecordNeverPanicsOrPropagates(t *testing.T) {
	ledger := NewLedger(failingStore{}, slog.Default())

	// Must not panic; failure is absorbed.
	ledger.Record(context.Background(), Event{Action: ActionLogin, ActorID: "usr_1"})
}

func TestQueryFilters(t *testing.T) {
	ledger, _ := testLedger()
	ctx := context.Background()

	ledger.Record(ctx, Event{Action: ActionLogin, ActorID: "usr_1"})
	ledger.Record(ctx, Event{Action: ActionTransactionCreate, ActorID: "usr_1", ResourceID: "txn_1"})
	ledger.Record(ctx, Event{Action: ActionLogin, ActorID: "usr_2"})

	events, _, _, err := ledger.Query(ctx, Filter{Action: ActionLogin}, pagination.Params{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, _, _, err = ledger.Query(ctx, Filter{ActorID: "usr_1"}, pagination.Params{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, _, _, err = ledger.Query(ctx, Filter{ResourceID: "txn_1"}, pagination.Params{Page: 1, Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ActionTransactionCreate, events[0].Action)
}

func TestQueryRejectsUnknownAction(t *testing.T) {
	ledger, _ := testLedger()

	_, _, _, err := ledger.Query(context.Background(), Filter{Action: "made_up"}, pagination.Params{Page: 1, Limit: 10})
	assert.Error(t, err)
}

func TestQueryOrderedNewestFirst(t *testing.T) {
	ledger, _ := testLedger()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ledger.Record(ctx, Event{
			Action:    ActionLogin,
			ActorID:   "usr_1",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	events, _, _, err := ledger.Query(ctx, Filter{}, pagination.Params{Page: 1, Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].CreatedAt.After(events[i-1].CreatedAt),
			"events should be ordered newest first")
	}
}

func TestPaginationStableUnderConcurrentAppends(t *testing.T) {
	ledger, _ := testLedger()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		ledger.Record(ctx, Event{
			Action:    ActionLogin,
			ActorID:   "usr_1",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	// First page fixes the snapshot bound.
	page1, _, snapshot, err := ledger.Query(ctx, Filter{}, pagination.Params{Page: 1, Limit: 10})
	require.NoError(t, err)
	require.Len(t, page1, 10)

	// Events appended after the snapshot must not shift later pages.
	for i := 0; i < 5; i++ {
		ledger.Record(ctx, Event{
			Action:    ActionLogin,
			ActorID:   "usr_1",
			CreatedAt: snapshot.Add(time.Duration(i+1) * time.Hour),
		})
	}

	seen := map[string]bool{}
	for _, e := range page1 {
		seen[e.ID] = true
	}

	for page := 2; ; page++ {
		events, meta, _, err := ledger.Query(ctx, Filter{Before: snapshot}, pagination.Params{Page: page, Limit: 10})
		require.NoError(t, err)
		for _, e := range events {
			assert.False(t, seen[e.ID], "event %s returned on two pages", e.ID)
			seen[e.ID] = true
		}
		if int64(page) >= meta.Pages {
			break
		}
	}

	assert.Len(t, seen, 25, "every event in the snapshot should appear exactly once")
}
