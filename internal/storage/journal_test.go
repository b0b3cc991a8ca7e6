package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillm/orb-bot/internal/domain"
	"github.com/kirillm/orb-bot/pkg/id"
)

func newTestJournal(t *testing.T) *SQLJournal {
	t.Helper()

	j, err := NewSQLiteJournal(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestSQLiteJournalFills(t *testing.T) {
	t.Parallel()

	j := newTestJournal(t)
	ctx := context.Background()
	tick := id.New()
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

	entry := &domain.Fill{ID: id.New(), TickID: tick, Symbol: "VOD", Side: domain.SideBuy,
		Quantity: 2, Price: 100, OrderID: "o-1", Reason: "entry", CreatedAt: at}
	exit := &domain.Fill{ID: id.New(), TickID: tick, Symbol: "VOD", Side: domain.SideSell,
		Quantity: 2, Price: 110, OrderID: "o-2", Reason: domain.ExitTarget, RealizedPnL: 20, CreatedAt: at.Add(time.Hour)}

	require.NoError(t, j.SaveFill(ctx, entry))
	require.NoError(t, j.SaveFill(ctx, exit))

	fills, err := j.RecentFills(ctx, 10)
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, exit.ID, fills[0].ID)
	assert.Equal(t, domain.ExitTarget, fills[0].Reason)
	assert.InDelta(t, 20.0, fills[0].RealizedPnL, 1e-9)
	assert.True(t, at.Equal(fills[1].CreatedAt))
}

func TestSQLiteJournalGateDecisions(t *testing.T) {
	t.Parallel()

	j := newTestJournal(t)
	ctx := context.Background()
	tick := id.New()

	require.NoError(t, j.SaveGateDecision(ctx, &domain.GateDecision{
		ID: id.New(), TickID: tick, Symbol: "VOD", Approved: false,
		Gate: "volume", Reason: "relative volume 0.80 < 1.50", Quantity: 2, Price: 100,
	}))
	require.NoError(t, j.SaveGateDecision(ctx, &domain.GateDecision{
		ID: id.New(), TickID: tick, Symbol: "AAL", Approved: true,
		Gate: "approved", Quantity: 1, Price: 50, Ceiling: 1000, DryRun: true,
	}))
	require.NoError(t, j.SaveGateDecision(ctx, &domain.GateDecision{
		ID: id.New(), TickID: id.New(), Symbol: "BP", Approved: true, Gate: "approved",
	}))

	decisions, err := j.DecisionsForTick(ctx, tick)
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	assert.False(t, decisions[0].Approved)
	assert.Equal(t, "volume", decisions[0].Gate)
	assert.True(t, decisions[1].DryRun)
}

func TestSQLiteJournalBreakerEvents(t *testing.T) {
	t.Parallel()

	j := newTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.SaveCircuitBreakerEvent(ctx, &domain.CircuitBreakerEvent{
		ID: id.New(), SessionDate: "2026-03-02", Reason: "session loss cap", SessionLoss: 1000.01, DrawdownCap: 1000,
	}))

	events, err := j.BreakerEvents(ctx, "2026-03-02")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.InDelta(t, 1000.01, events[0].SessionLoss, 1e-9)
	assert.False(t, events[0].TriggeredAt.IsZero())

	none, err := j.BreakerEvents(ctx, "2026-03-03")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestNopJournal(t *testing.T) {
	var j domain.Journal = NopJournal{}
	assert.NoError(t, j.SaveFill(context.Background(), &domain.Fill{}))
	fills, err := j.RecentFills(context.Background(), 5)
	assert.NoError(t, err)
	assert.Empty(t, fills)
	assert.NoError(t, j.Close())
}
