package capital

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kirillm/orb-bot/internal/domain"
)

func TestCeilingLockedIsSeed(t *testing.T) {
	t.Parallel()

	s := NewScaler(1000, 0.5)
	state := domain.NewLedgerState(1000, "2026-03-02")
	state.RealizedProfitCumulative = 999

	assert.Equal(t, 1000.0, s.Ceiling(state))
	assert.False(t, state.ScalingUnlocked)
}

func TestRecordCrossingSeedUnlocksInSameCall(t *testing.T) {
	t.Parallel()

	s := NewScaler(1000, 0.5)
	state := domain.NewLedgerState(1000, "2026-03-02")
	state.RealizedProfitCumulative = 999

	unlocked := s.Record(state, 1)

	assert.True(t, unlocked)
	assert.True(t, state.ScalingUnlocked)
	// 0.5 * (1000 + 1000)
	assert.InDelta(t, 1000.0, s.Ceiling(state), 1e-9)
}

func TestScalingIsMonotonic(t *testing.T) {
	t.Parallel()

	s := NewScaler(1000, 0.5)
	state := domain.NewLedgerState(1000, "2026-03-02")
	s.Record(state, 1500)
	assert.InDelta(t, 1250.0, s.Ceiling(state), 1e-9)

	for i := 0; i < 10; i++ {
		assert.False(t, s.Record(state, -300))
		assert.True(t, state.ScalingUnlocked)
	}
	assert.InDelta(t, -1500.0, state.RealizedProfitCumulative, 1e-9)
	assert.Equal(t, 0.0, s.Ceiling(state), "ceiling never goes negative")
}

func TestRecordAccumulatesGrossSessionLoss(t *testing.T) {
	t.Parallel()

	s := NewScaler(1000, 0.5)
	state := domain.NewLedgerState(1000, "2026-03-02")

	s.Record(state, -200)
	s.Record(state, 500)
	s.Record(state, -50)

	assert.InDelta(t, 250.0, state.SessionLossToDate, 1e-9)
	assert.InDelta(t, 250.0, state.RealizedProfitCumulative, 1e-9)
}

func TestAvailableSubtractsExposure(t *testing.T) {
	t.Parallel()

	s := NewScaler(1000, 0.5)
	state := domain.NewLedgerState(1000, "2026-03-02")
	state.PutPosition(domain.Position{
		Symbol: "VOD", EntryPrice: 100, Quantity: 3, TargetPrice: 110, StopPrice: 95,
		Status: domain.StatusOpen, OpenedAt: time.Now(),
	})

	assert.InDelta(t, 700.0, s.Available(state), 1e-9)

	state.PutPosition(domain.Position{
		Symbol: "AAL", EntryPrice: 800, Quantity: 1, TargetPrice: 900, StopPrice: 750,
		Status: domain.StatusOpen, OpenedAt: time.Now(),
	})
	assert.Zero(t, s.Available(state))
}
