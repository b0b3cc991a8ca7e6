// Package metrics собирает метрики Prometheus за один тик.
//
// Процесс живет один тик, поэтому метрики не отдаются по HTTP, а пишутся
// в textfile для node_exporter:
//   - orb_gate_decisions_total{gate,approved}
//   - orb_fills_total{side,reason}
//   - orb_circuit_breaker_trips_total
//   - orb_slippage_violations_total
//   - orb_ticks_total{result}
//   - orb_tick_duration_seconds
//   - orb_open_positions, orb_session_loss, orb_capital_ceiling, orb_realized_profit
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics набор метрик с собственным реестром. Методы безопасны для nil.
type Metrics struct {
	registry *prometheus.Registry

	gateDecisions *prometheus.CounterVec
	fills         *prometheus.CounterVec
	breakerTrips  prometheus.Counter
	slippage      prometheus.Counter
	ticks         *prometheus.CounterVec
	tickDuration  prometheus.Histogram

	openPositions  prometheus.Gauge
	sessionLoss    prometheus.Gauge
	ceiling        prometheus.Gauge
	realizedProfit prometheus.Gauge
}

// New создает и регистрирует метрики
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		gateDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orb_gate_decisions_total",
				Help: "Gauntlet evaluations split by deciding gate",
			},
			[]string{"gate", "approved"},
		),
		fills: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orb_fills_total",
				Help: "Filled orders split by side and reason",
			},
			[]string{"side", "reason"},
		),
		breakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orb_circuit_breaker_trips_total",
			Help: "Circuit breaker trips",
		}),
		slippage: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orb_slippage_violations_total",
			Help: "Fills rejected by the slippage audit",
		}),
		ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orb_ticks_total",
				Help: "Session ticks by result (ok|error|dry_run)",
			},
			[]string{"result"},
		),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "orb_tick_duration_seconds",
			Help:    "Wall-clock duration of one tick",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orb_open_positions",
			Help: "Open positions after the tick",
		}),
		sessionLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orb_session_loss",
			Help: "Gross realized loss in the current session",
		}),
		ceiling: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orb_capital_ceiling",
			Help: "Capital ceiling for new entries",
		}),
		realizedProfit: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orb_realized_profit",
			Help: "Cumulative realized profit",
		}),
	}

	m.registry.MustRegister(
		m.gateDecisions,
		m.fills,
		m.breakerTrips,
		m.slippage,
		m.ticks,
		m.tickDuration,
		m.openPositions,
		m.sessionLoss,
		m.ceiling,
		m.realizedProfit,
	)
	return m
}

// Registry возвращает реестр (для тестов и экспорта)
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// GateDecision учитывает результат проверки гейтов
func (m *Metrics) GateDecision(gate string, approved bool) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(gate, strconv.FormatBool(approved)).Inc()
}

// Fill учитывает исполненный ордер
func (m *Metrics) Fill(side, reason string) {
	if m == nil {
		return
	}
	m.fills.WithLabelValues(side, reason).Inc()
}

// BreakerTripped учитывает срабатывание circuit breaker
func (m *Metrics) BreakerTripped() {
	if m == nil {
		return
	}
	m.breakerTrips.Inc()
}

// SlippageViolation учитывает нарушение проскальзывания
func (m *Metrics) SlippageViolation() {
	if m == nil {
		return
	}
	m.slippage.Inc()
}

// Tick учитывает завершенный тик
func (m *Metrics) Tick(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(result).Inc()
	m.tickDuration.Observe(took.Seconds())
}

// Ledger обновляет снимок леджера
func (m *Metrics) Ledger(openPositions int, sessionLoss, ceiling, realizedProfit float64) {
	if m == nil {
		return
	}
	m.openPositions.Set(float64(openPositions))
	m.sessionLoss.Set(sessionLoss)
	m.ceiling.Set(ceiling)
	m.realizedProfit.Set(realizedProfit)
}

// WriteTextfile атомарно пишет метрики в формате textfile collector
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
