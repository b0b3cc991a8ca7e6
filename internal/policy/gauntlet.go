package policy

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/kirillm/orb-bot/internal/domain"
	"github.com/kirillm/orb-bot/internal/retry"
)

// Имена гейтов в порядке проверки
const (
	GateDenomination   = "denomination"
	GateCircuitBreaker = "circuit_breaker"
	GateCapital        = "capital"
	GateVolume         = "volume"
	GateVerifier       = "verifier"
	GateApproved       = "approved"
)

// CeilingSource возвращает лимит капитала для новых входов
type CeilingSource interface {
	Ceiling(state *domain.LedgerState) float64
}

// Proposal запрос на вход. Цены в единицах котировки.
type Proposal struct {
	Symbol      string
	Quantity    float64
	Price       float64
	StopPrice   float64
	Observation domain.Observation
}

// GateResult результат проверки. Отказ это значение, а не ошибка.
type GateResult struct {
	Approved bool
	Gate     string
	Reason   string

	// Цены после нормализации. LimitPrice худшая допустимая цена исполнения,
	// Notional считается по ней.
	Price      float64
	StopPrice  float64
	LimitPrice float64
	Notional   float64
	Ceiling    float64

	// BreakerTripped: флаг circuit breaker взведен этой проверкой
	BreakerTripped bool
}

func reject(gate, format string, args ...interface{}) GateResult {
	return GateResult{Gate: gate, Reason: fmt.Sprintf(format, args...)}
}

// Gauntlet упорядоченная цепочка проверок перед любым ордером
type Gauntlet struct {
	limits      *RiskLimits
	denominator *Denominator
	ceiling     CeilingSource
	verifier    domain.Verifier
	verifyRetry retry.Policy
	logger      *zap.Logger
}

// NewGauntlet создает цепочку гейтов. verifier == nil означает отказ на последнем гейте.
func NewGauntlet(
	limits *RiskLimits,
	denominator *Denominator,
	ceiling CeilingSource,
	verifier domain.Verifier,
	verifyRetry retry.Policy,
	logger *zap.Logger,
) *Gauntlet {
	return &Gauntlet{
		limits:      limits,
		denominator: denominator,
		ceiling:     ceiling,
		verifier:    verifier,
		verifyRetry: verifyRetry,
		logger:      logger,
	}
}

// Limits возвращает профиль риска
func (g *Gauntlet) Limits() *RiskLimits {
	return g.limits
}

// Evaluate прогоняет предложение через гейты строго по порядку.
// Единственная мутация состояния: взвод circuit breaker на втором гейте.
func (g *Gauntlet) Evaluate(ctx context.Context, p Proposal, state *domain.LedgerState) GateResult {
	result := g.evaluate(ctx, p, state)

	if result.Approved {
		g.logger.Info("gauntlet approved",
			zap.String("symbol", p.Symbol),
			zap.Float64("quantity", p.Quantity),
			zap.Float64("price", result.Price),
			zap.Float64("ceiling", result.Ceiling))
	} else {
		g.logger.Info("gauntlet rejected",
			zap.String("symbol", p.Symbol),
			zap.String("gate", result.Gate),
			zap.String("reason", result.Reason))
	}
	return result
}

func (g *Gauntlet) evaluate(ctx context.Context, p Proposal, state *domain.LedgerState) GateResult {
	// 1. Нормализация единиц котировки
	price := g.denominator.Normalize(p.Symbol, p.Price)
	stop := g.denominator.Normalize(p.Symbol, p.StopPrice)
	if !validPrice(price) || !validPrice(stop) {
		return reject(GateDenomination, "invalid normalized price %v / stop %v", price, stop)
	}
	if stop >= price {
		return reject(GateDenomination, "stop %.4f is not below price %.4f", stop, price)
	}
	if math.IsNaN(p.Quantity) || p.Quantity < 0 {
		return reject(GateDenomination, "invalid quantity %v", p.Quantity)
	}

	limit := g.limits.WorstFill(price)
	notional := p.Quantity * limit

	// 2. Circuit breaker
	if state.CircuitBreakerTripped {
		return reject(GateCircuitBreaker, "circuit breaker already tripped: %s", state.CircuitBreakerReason)
	}
	worstCase := p.Quantity * (price - stop)
	if projected := state.SessionLossToDate + worstCase; projected > g.limits.DrawdownCap {
		reason := fmt.Sprintf("worst-case session loss %.2f exceeds drawdown cap %.2f", projected, g.limits.DrawdownCap)
		res := reject(GateCircuitBreaker, "%s", reason)
		res.BreakerTripped = state.TripCircuitBreaker(reason)
		return res
	}

	// 3. Лимит капитала
	ceiling := g.ceiling.Ceiling(state)
	exposure := state.OpenExposure()
	if p.Quantity == 0 {
		res := reject(GateCapital, "free capital %.2f buys less than one quantity step", math.Max(0, ceiling-exposure))
		res.Ceiling = ceiling
		return res
	}
	if exposure+notional > ceiling {
		res := reject(GateCapital, "exposure %.2f + notional %.2f at worst fill %.4f exceeds ceiling %.2f", exposure, notional, limit, ceiling)
		res.Ceiling = ceiling
		return res
	}

	// 4. Фильтр объема
	if p.Observation.RelativeVolume < g.limits.MinRelativeVolume {
		return reject(GateVolume, "relative volume %.2f < %.2f", p.Observation.RelativeVolume, g.limits.MinRelativeVolume)
	}

	// 5. Внешнее вето, fail-closed
	if g.verifier == nil {
		return reject(GateVerifier, "no verifier configured")
	}
	vc := domain.VerifyContext{
		Price:          price,
		Quantity:       p.Quantity,
		RangeHigh:      g.denominator.Normalize(p.Symbol, p.Observation.RangeHigh),
		RangeLow:       g.denominator.Normalize(p.Symbol, p.Observation.RangeLow),
		VWAP:           g.denominator.Normalize(p.Symbol, p.Observation.VWAP),
		RelativeVolume: p.Observation.RelativeVolume,
		AsOf:           p.Observation.CapturedAt,
	}
	verdict, err := retry.Do(ctx, g.verifyRetry, g.logger, "verify "+p.Symbol,
		func(ctx context.Context) (domain.Verdict, error) {
			return g.verifier.Verify(ctx, p.Symbol, vc)
		})
	if err != nil {
		return reject(GateVerifier, "verifier error (fail-closed): %v", err)
	}
	if !verdict.Pass {
		return reject(GateVerifier, "verifier veto: %s", verdict.Reason)
	}
	if verdict.Bypassed {
		g.logger.Warn("verifier gate bypassed", zap.String("symbol", p.Symbol), zap.String("reason", verdict.Reason))
	}

	return GateResult{
		Approved:   true,
		Gate:       GateApproved,
		Reason:     verdict.Reason,
		Price:      price,
		StopPrice:  stop,
		LimitPrice: limit,
		Notional:   notional,
		Ceiling:    ceiling,
	}
}

// EnforceDrawdown взводит circuit breaker, если реализованные убытки сессии
// превысили лимит. Возвращает true, если флаг взведен этим вызовом.
func (g *Gauntlet) EnforceDrawdown(state *domain.LedgerState) bool {
	if state.SessionLossToDate <= g.limits.DrawdownCap {
		return false
	}
	reason := fmt.Sprintf("session loss %.2f exceeds drawdown cap %.2f", state.SessionLossToDate, g.limits.DrawdownCap)
	return state.TripCircuitBreaker(reason)
}

// Normalize переводит цену символа в основные единицы
func (g *Gauntlet) Normalize(symbol string, price float64) float64 {
	return g.denominator.Normalize(symbol, price)
}

func validPrice(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}
