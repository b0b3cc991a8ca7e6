package market

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kirillm/orb-bot/internal/domain"
)

func testSession() SessionConfig {
	return SessionConfig{
		Location:      time.UTC,
		Open:          8 * time.Hour,
		OpeningWindow: 15 * time.Minute,
		DataCutoff:    time.Hour,
		BaselineDays:  5,
	}
}

func at(day, hour, minute int) time.Time {
	return time.Date(2026, 3, day, hour, minute, 0, 0, time.UTC)
}

func bar(t time.Time, high, low, closePrice, volume float64) domain.Bar {
	return domain.Bar{Time: t, Open: closePrice, High: high, Low: low, Close: closePrice, Volume: volume}
}

func sessionBars() []domain.Bar {
	return []domain.Bar{
		bar(at(2, 8, 0), 100, 96, 98, 50),
		bar(at(2, 8, 5), 99, 95, 97, 50),
		bar(at(2, 8, 10), 98, 96, 97, 50),
		bar(at(2, 8, 15), 101, 97, 100.5, 150),
	}
}

func TestObserveCapturesOpeningRange(t *testing.T) {
	o := NewObserver(testSession(), zap.NewNop())

	obs := o.Observe("VOD", sessionBars(), at(2, 8, 20))

	require.False(t, obs.Stale, obs.StaleReason)
	assert.True(t, obs.RangeReady)
	assert.Equal(t, 100.0, obs.RangeHigh)
	assert.Equal(t, 95.0, obs.RangeLow)
	assert.Equal(t, 100.5, obs.LastClose)
	assert.Equal(t, 300.0, obs.SessionVolume)
}

func TestObserveRangeIsCapturedOnce(t *testing.T) {
	o := NewObserver(testSession(), zap.NewNop())
	o.Observe("VOD", sessionBars(), at(2, 8, 20))

	// a revised feed reporting a higher opening high must not move the range
	revised := sessionBars()
	revised[0].High = 120
	obs := o.Observe("VOD", revised, at(2, 9, 0))

	assert.Equal(t, 100.0, obs.RangeHigh)
	assert.Equal(t, 95.0, obs.RangeLow)

	ranges := o.Ranges("2026-03-02")
	require.Contains(t, ranges, "VOD")
	assert.Equal(t, "2026-03-02", ranges["VOD"].SessionDate)
	assert.Empty(t, o.Ranges("2026-03-03"))
}

func TestObserveUsesSeededRange(t *testing.T) {
	o := NewObserver(testSession(), zap.NewNop())
	o.Seed(map[string]domain.OpeningRange{
		"VOD": {High: 101, Low: 94, SessionDate: "2026-03-02"},
		"OLD": {High: 1, Low: 0, SessionDate: "2026-02-27"},
	})

	obs := o.Observe("VOD", sessionBars(), at(2, 8, 20))
	assert.Equal(t, 101.0, obs.RangeHigh)
	assert.Equal(t, 94.0, obs.RangeLow)

	// a range from an earlier session is ignored and recaptured
	obs = o.Observe("OLD", sessionBars(), at(2, 8, 20))
	assert.Equal(t, 100.0, obs.RangeHigh)
}

func TestObserveBeforeWindowCloses(t *testing.T) {
	o := NewObserver(testSession(), zap.NewNop())

	obs := o.Observe("VOD", sessionBars()[:2], at(2, 8, 7))

	assert.False(t, obs.Stale)
	assert.False(t, obs.RangeReady)
	assert.Zero(t, obs.RangeHigh)
	assert.Empty(t, o.Ranges("2026-03-02"))
}

func TestObserveVWAPUsesTypicalPrice(t *testing.T) {
	o := NewObserver(testSession(), zap.NewNop())
	bars := []domain.Bar{
		bar(at(2, 8, 0), 102, 98, 100, 100),    // typical 100
		bar(at(2, 8, 15), 106, 100, 103, 300),  // typical 103
		bar(at(2, 9, 30), 200, 200, 200, 1000), // after asOf, ignored
	}

	obs := o.Observe("VOD", bars, at(2, 8, 20))

	assert.InDelta(t, 102.25, obs.VWAP, 1e-9)
}

func TestObserveRelativeVolume(t *testing.T) {
	o := NewObserver(testSession(), zap.NewNop())
	bars := []domain.Bar{
		// two prior sessions, 200 and 400 traded in the first 20 minutes
		bar(time.Date(2026, 2, 26, 8, 0, 0, 0, time.UTC), 10, 9, 9.5, 200),
		bar(time.Date(2026, 2, 26, 8, 30, 0, 0, time.UTC), 10, 9, 9.5, 5000), // outside the elapsed window
		bar(time.Date(2026, 2, 27, 8, 0, 0, 0, time.UTC), 10, 9, 9.5, 100),
		bar(time.Date(2026, 2, 27, 8, 20, 0, 0, time.UTC), 10, 9, 9.5, 300),
	}
	bars = append(bars, sessionBars()...)

	obs := o.Observe("VOD", bars, at(2, 8, 20))

	// baseline mean 300, session 300
	assert.InDelta(t, 1.0, obs.RelativeVolume, 1e-9)
}

func TestObserveRelativeVolumeWithoutBaselineIsZero(t *testing.T) {
	o := NewObserver(testSession(), zap.NewNop())

	obs := o.Observe("VOD", sessionBars(), at(2, 8, 20))

	assert.Zero(t, obs.RelativeVolume)
}

func TestObserveBaselineKeepsMostRecentDays(t *testing.T) {
	cfg := testSession()
	cfg.BaselineDays = 1
	o := NewObserver(cfg, zap.NewNop())

	bars := []domain.Bar{
		bar(time.Date(2026, 2, 26, 8, 0, 0, 0, time.UTC), 10, 9, 9.5, 9000),
		bar(time.Date(2026, 2, 27, 8, 0, 0, 0, time.UTC), 10, 9, 9.5, 150),
	}
	bars = append(bars, sessionBars()...)

	obs := o.Observe("VOD", bars, at(2, 8, 20))

	assert.InDelta(t, 2.0, obs.RelativeVolume, 1e-9)
}

func TestObserveStale(t *testing.T) {
	tests := []struct {
		name   string
		bars   []domain.Bar
		asOf   time.Time
		reason string
	}{
		{"no bars", nil, at(2, 8, 20), StaleNoData},
		{"only prior session", []domain.Bar{bar(at(1, 8, 0), 1, 1, 1, 1)}, at(2, 8, 20), StaleNoData},
		{"first bar after cutoff", []domain.Bar{bar(at(2, 9, 5), 101, 99, 100, 10)}, at(2, 9, 10), StaleAfterCutoff},
		{"window missed", []domain.Bar{bar(at(2, 8, 30), 101, 99, 100, 10)}, at(2, 8, 35), StaleNoWindowBars},
		{"zero volume", []domain.Bar{bar(at(2, 8, 0), 101, 99, 100, 0)}, at(2, 8, 20), StaleNoVolume},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewObserver(testSession(), zap.NewNop())
			obs := o.Observe("VOD", tt.bars, tt.asOf)

			assert.True(t, obs.Stale)
			assert.Equal(t, tt.reason, obs.StaleReason)
			assert.Equal(t, "VOD", obs.Symbol)
			assert.False(t, obs.RangeReady)
		})
	}
}

func TestSessionConfigValidate(t *testing.T) {
	require.NoError(t, testSession().Validate())

	bad := testSession()
	bad.DataCutoff = time.Minute
	assert.ErrorIs(t, bad.Validate(), domain.ErrInvalidInput)

	bad = testSession()
	bad.Location = nil
	assert.Error(t, bad.Validate())

	bad = testSession()
	bad.BaselineDays = 0
	assert.Error(t, bad.Validate())
}

func TestSessionHelpers(t *testing.T) {
	london, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)
	cfg := testSession()
	cfg.Location = london

	// 23:30 UTC on 1 July is already 2 July in London
	ts := time.Date(2026, 7, 1, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "2026-07-02", cfg.SessionDate(ts))
	assert.True(t, time.Date(2026, 7, 2, 8, 0, 0, 0, london).Equal(cfg.SessionOpen(ts)))
	assert.True(t, cfg.HistorySince(ts).Before(cfg.Midnight(ts).AddDate(0, 0, -cfg.BaselineDays)))
}
