package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metric:
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metric
				}
			}
			if c := metric.GetCounter(); c != nil {
				return c.GetValue()
			}
			if g := metric.GetGauge(); g != nil {
				return g.GetValue()
			}
		}
	}
	return 0
}

func TestCounters(t *testing.T) {
	m := New()

	m.GateDecision("volume", false)
	m.GateDecision("volume", false)
	m.GateDecision("approved", true)
	m.Fill("BUY", "entry")
	m.BreakerTripped()
	m.SlippageViolation()
	m.Ledger(2, 150, 1000, 42)

	assert.Equal(t, 2.0, counterValue(t, m, "orb_gate_decisions_total", map[string]string{"gate": "volume", "approved": "false"}))
	assert.Equal(t, 1.0, counterValue(t, m, "orb_gate_decisions_total", map[string]string{"gate": "approved", "approved": "true"}))
	assert.Equal(t, 1.0, counterValue(t, m, "orb_fills_total", map[string]string{"side": "BUY", "reason": "entry"}))
	assert.Equal(t, 1.0, counterValue(t, m, "orb_circuit_breaker_trips_total", nil))
	assert.Equal(t, 2.0, counterValue(t, m, "orb_open_positions", nil))
	assert.Equal(t, 1000.0, counterValue(t, m, "orb_capital_ceiling", nil))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.GateDecision("capital", false)
		m.Fill("SELL", "stop")
		m.Tick("ok", time.Second)
		m.Ledger(0, 0, 0, 0)
	})
	assert.NoError(t, m.WriteTextfile("/nonexistent/metrics.prom"))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.Tick("ok", 1500*time.Millisecond)

	path := filepath.Join(t.TempDir(), "orb.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `orb_ticks_total{result="ok"} 1`)
	assert.Contains(t, string(data), "orb_tick_duration_seconds_count 1")
}
