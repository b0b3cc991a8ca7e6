package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kirillm/orb-bot/internal/capital"
	"github.com/kirillm/orb-bot/internal/domain"
	"github.com/kirillm/orb-bot/internal/metrics"
	"github.com/kirillm/orb-bot/internal/policy"
	"github.com/kirillm/orb-bot/internal/retry"
	"github.com/kirillm/orb-bot/internal/telegram"
	"github.com/kirillm/orb-bot/pkg/id"
)

var (
	ErrKillSwitchActive = errors.New("kill switch is active")
)

// Действия, которые Step сообщает вызывающему
const (
	ActionNone          = "none"
	ActionHold          = "hold"
	ActionSkipped       = "skipped"
	ActionRejected      = "rejected"
	ActionEntered       = "entered"
	ActionExited        = "exited"
	ActionExitFailed    = "exit_failed"
	ActionDryRunEntry   = "dry_run_entry"
	ActionDryRunExit    = "dry_run_exit"
	ActionOrderRejected = "order_rejected"
)

// TickContext параметры текущего запуска, общие для всех символов
type TickContext struct {
	TickID string
	Now    time.Time
	DryRun bool

	// EntriesAllowed false после истечения бюджета времени тика
	EntriesAllowed bool
	// Blocked символы, по которым брокер держит позицию вне леджера
	Blocked map[string]string

	// Checkpoint сохраняет леджер сразу после fill или закрытия
	Checkpoint func(ctx context.Context, state *domain.LedgerState) error
}

// Outcome итог шага по одному символу
type Outcome struct {
	Symbol string
	Status domain.PositionStatus
	Action string
	Reason string
	Gate   string
	PnL    float64
}

// Deps зависимости движка
type Deps struct {
	Broker     domain.Broker
	Gauntlet   *policy.Gauntlet
	Scaler     *capital.Scaler
	Journal    domain.Journal
	Notifier   domain.Notifier
	Formatter  *telegram.Formatter
	KillSwitch *KillSwitch
	Quotes     *PriceFailover
	OrderRetry retry.Policy
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Engine конечный автомат пробоя по символу:
// ARMED → TRIGGERED → OPEN → CLOSED, HALTED на всю сессию после circuit breaker
type Engine struct {
	broker     domain.Broker
	gauntlet   *policy.Gauntlet
	limits     *policy.RiskLimits
	scaler     *capital.Scaler
	journal    domain.Journal
	notifier   domain.Notifier
	formatter  *telegram.Formatter
	killSwitch *KillSwitch
	slippage   *SlippageGuard
	quotes     *PriceFailover
	orderRetry retry.Policy
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewEngine создает движок исполнения
func NewEngine(d Deps) *Engine {
	limits := d.Gauntlet.Limits()
	return &Engine{
		broker:     d.Broker,
		gauntlet:   d.Gauntlet,
		limits:     limits,
		scaler:     d.Scaler,
		journal:    d.Journal,
		notifier:   d.Notifier,
		formatter:  d.Formatter,
		killSwitch: d.KillSwitch,
		slippage:   NewSlippageGuard(limits.MaxSlippageFraction),
		quotes:     d.Quotes,
		orderRetry: d.OrderRetry.Once(),
		metrics:    d.Metrics,
		logger:     d.Logger,
	}
}

// Step продвигает символ по автомату на один запуск.
// Ошибка возвращается только когда тик нужно прервать: отказ авторизации
// брокера или невозможность сохранить леджер после сделки.
func (e *Engine) Step(ctx context.Context, tc TickContext, symbol string, obs domain.Observation, state *domain.LedgerState) (Outcome, error) {
	if pos, ok := state.Position(symbol); ok {
		if pos.Unresolved() {
			return Outcome{
				Symbol: symbol,
				Status: domain.StatusOpen,
				Action: ActionSkipped,
				Reason: fmt.Sprintf("not held at broker for %d ticks, awaiting operator", pos.MissingTicks),
			}, nil
		}
		return e.monitor(ctx, tc, pos, obs, state)
	}

	out := Outcome{Symbol: symbol, Status: domain.StatusArmed, Action: ActionNone}

	switch {
	case state.IsClosedForSession(symbol):
		out.Status = domain.StatusClosed
		out.Reason = "position already closed this session"
		return out, nil
	case state.CircuitBreakerTripped:
		out.Status = domain.StatusHalted
		out.Reason = state.CircuitBreakerReason
		return out, nil
	case !tc.EntriesAllowed:
		out.Action = ActionSkipped
		out.Reason = "tick time budget exhausted"
		return out, nil
	case tc.Blocked[symbol] != "":
		out.Action = ActionSkipped
		out.Reason = tc.Blocked[symbol]
		return out, nil
	case obs.Stale:
		out.Action = ActionSkipped
		out.Reason = "stale observation: " + obs.StaleReason
		return out, nil
	case !obs.RangeReady:
		out.Reason = "opening range not captured yet"
		return out, nil
	}

	if trip, ok := e.killSwitch.Tripped(); ok {
		out.Action = ActionSkipped
		out.Reason = "kill switch: " + trip.Reason
		return out, nil
	}

	if e.limits.MinRangeFraction > 0 && obs.RangeHigh > 0 {
		if width := (obs.RangeHigh - obs.RangeLow) / obs.RangeHigh; width < e.limits.MinRangeFraction {
			out.Reason = fmt.Sprintf("opening range width %.4f below %.4f", width, e.limits.MinRangeFraction)
			return out, nil
		}
	}

	price, err := e.quotes.GetPrice(ctx, symbol, obs, tc.Now)
	if err != nil {
		if isFatal(err) {
			e.killSwitch.Activate(err.Error())
			return out, err
		}
		out.Action = ActionSkipped
		out.Reason = err.Error()
		e.logger.Warn("no price, skipping symbol", zap.String("symbol", symbol), zap.Error(err))
		return out, nil
	}

	// Оба сравнения в единицах котировки
	if !(price > obs.RangeHigh && price > obs.VWAP) {
		out.Reason = fmt.Sprintf("price %.4f not above range high %.4f and vwap %.4f", price, obs.RangeHigh, obs.VWAP)
		return out, nil
	}

	e.logger.Info("breakout triggered",
		zap.String("symbol", symbol),
		zap.Float64("price", price),
		zap.Float64("range_high", obs.RangeHigh),
		zap.Float64("vwap", obs.VWAP))

	return e.enter(ctx, tc, symbol, price, obs, state)
}

func (e *Engine) enter(ctx context.Context, tc TickContext, symbol string, price float64, obs domain.Observation, state *domain.LedgerState) (Outcome, error) {
	out := Outcome{Symbol: symbol, Status: domain.StatusTriggered}

	proposal := policy.Proposal{
		Symbol:      symbol,
		Quantity:    e.size(symbol, price, state),
		Price:       price,
		StopPrice:   obs.RangeLow,
		Observation: obs,
	}
	res := e.gauntlet.Evaluate(ctx, proposal, state)
	e.recordDecision(ctx, tc, proposal, res)
	if res.BreakerTripped {
		e.recordBreaker(ctx, tc, state)
	}

	out.Gate = res.Gate
	out.Reason = res.Reason
	if !res.Approved {
		out.Status = domain.StatusArmed
		if res.BreakerTripped {
			out.Status = domain.StatusHalted
		}
		out.Action = ActionRejected
		return out, nil
	}

	if tc.DryRun {
		e.logger.Info("dry run: would place entry order",
			zap.String("symbol", symbol),
			zap.String("side", domain.SideBuy),
			zap.Float64("quantity", proposal.Quantity),
			zap.Float64("price", res.Price),
			zap.Float64("limit_price", e.entryLimit(price)))
		out.Action = ActionDryRunEntry
		return out, nil
	}

	if e.killSwitch.IsActive() {
		return out, ErrKillSwitchActive
	}

	req := domain.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Symbol:        symbol,
		Quantity:      proposal.Quantity,
		Side:          domain.SideBuy,
		Type:          domain.OrderTypeLimit,
		LimitPrice:    e.entryLimit(price),
	}
	e.logger.Info("placing entry order",
		zap.String("symbol", symbol),
		zap.String("side", req.Side),
		zap.Float64("quantity", req.Quantity),
		zap.Float64("price", res.Price),
		zap.Float64("limit_price", req.LimitPrice),
		zap.String("client_order_id", req.ClientOrderID))

	result, err := e.placeOrder(ctx, req)
	if err != nil {
		if isFatal(err) {
			e.killSwitch.Activate(err.Error())
			return out, err
		}
		e.logger.Error("entry order failed", zap.String("symbol", symbol), zap.Error(err))
		out.Status = domain.StatusArmed
		out.Action = ActionOrderRejected
		out.Reason = err.Error()
		return out, nil
	}
	if !result.Filled() {
		out.Status = domain.StatusArmed
		out.Action = ActionOrderRejected
		out.Reason = fmt.Sprintf("entry order %s not filled: %s", result.OrderID, result.Status)
		return out, nil
	}

	entry := e.gauntlet.Normalize(symbol, result.FillPrice)
	high := e.gauntlet.Normalize(symbol, obs.RangeHigh)
	low := e.gauntlet.Normalize(symbol, obs.RangeLow)

	pos := domain.Position{
		Symbol:       symbol,
		EntryPrice:   entry,
		Quantity:     result.FilledQuantity,
		TargetPrice:  entry + e.limits.TargetMultiple*(high-low),
		StopPrice:    low,
		Status:       domain.StatusOpen,
		OpenedAt:     tc.Now,
		TriggerPrice: res.Price,
		OrderID:      result.OrderID,
	}
	state.PutPosition(pos)

	e.recordFill(ctx, tc, pos, domain.SideBuy, entry, result.FilledQuantity, result.OrderID, "entry", 0)
	e.notify(e.formatter.FormatEntry(pos))

	if err := e.checkpoint(ctx, tc, state, "entry "+symbol); err != nil {
		return out, err
	}

	out.Status = domain.StatusOpen
	out.Action = ActionEntered

	if err := e.slippage.CheckSlippage(entry, res.Price); err != nil {
		if !errors.Is(err, domain.ErrSlippageViolation) {
			e.logger.Error("slippage audit failed", zap.String("symbol", symbol), zap.Error(err))
			return out, nil
		}
		e.metrics.SlippageViolation()
		e.logger.Warn("slippage violation, exiting",
			zap.String("symbol", symbol),
			zap.Float64("fill", entry),
			zap.Float64("trigger", res.Price),
			zap.Error(err))
		e.notify(e.formatter.FormatSlippage(symbol, entry, res.Price,
			e.slippage.Deviation(entry, res.Price), e.slippage.Threshold()))

		return e.exit(ctx, tc, pos, domain.ExitSlippage, state)
	}

	return out, nil
}

// monitor проверяет цель и стоп открытой позиции
func (e *Engine) monitor(ctx context.Context, tc TickContext, pos domain.Position, obs domain.Observation, state *domain.LedgerState) (Outcome, error) {
	out := Outcome{Symbol: pos.Symbol, Status: domain.StatusOpen, Action: ActionHold}

	raw, err := e.quotes.GetPrice(ctx, pos.Symbol, obs, tc.Now)
	if err != nil {
		if isFatal(err) {
			e.killSwitch.Activate(err.Error())
			return out, err
		}
		out.Reason = "no price: " + err.Error()
		e.logger.Warn("cannot monitor position", zap.String("symbol", pos.Symbol), zap.Error(err))
		return out, nil
	}
	price := e.gauntlet.Normalize(pos.Symbol, raw)

	switch {
	case price >= pos.TargetPrice:
		return e.exit(ctx, tc, pos, domain.ExitTarget, state)
	case price <= pos.StopPrice:
		return e.exit(ctx, tc, pos, domain.ExitStop, state)
	}

	out.Reason = fmt.Sprintf("price %.4f between stop %.4f and target %.4f", price, pos.StopPrice, pos.TargetPrice)
	return out, nil
}

// exit закрывает позицию рыночным ордером и учитывает результат
func (e *Engine) exit(ctx context.Context, tc TickContext, pos domain.Position, reason string, state *domain.LedgerState) (Outcome, error) {
	out := Outcome{Symbol: pos.Symbol, Status: domain.StatusOpen, Reason: reason}

	if tc.DryRun {
		e.logger.Info("dry run: would place exit order",
			zap.String("symbol", pos.Symbol),
			zap.String("side", domain.SideSell),
			zap.Float64("quantity", pos.Quantity),
			zap.String("reason", reason))
		out.Action = ActionDryRunExit
		return out, nil
	}

	req := domain.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Symbol:        pos.Symbol,
		Quantity:      pos.Quantity,
		Side:          domain.SideSell,
		Type:          domain.OrderTypeMarket,
	}
	e.logger.Info("placing exit order",
		zap.String("symbol", pos.Symbol),
		zap.String("side", req.Side),
		zap.Float64("quantity", req.Quantity),
		zap.String("reason", reason),
		zap.String("client_order_id", req.ClientOrderID))

	result, err := e.placeOrder(ctx, req)
	if err == nil && !result.Filled() {
		err = fmt.Errorf("%w: exit order %s status %s", domain.ErrOrderRejected, result.OrderID, result.Status)
	}
	if err != nil {
		if isFatal(err) {
			e.killSwitch.Activate(err.Error())
			return out, err
		}
		e.logger.Error("exit order failed, position stays open",
			zap.String("symbol", pos.Symbol),
			zap.String("reason", reason),
			zap.Error(err))
		e.notify(e.formatter.FormatExitFailed(pos.Symbol, reason, err))
		out.Action = ActionExitFailed
		return out, nil
	}

	exitPrice := e.gauntlet.Normalize(pos.Symbol, result.FillPrice)
	qty := math.Min(result.FilledQuantity, pos.Quantity)
	pnl := (exitPrice - pos.EntryPrice) * qty

	if remaining := pos.Quantity - qty; remaining > 1e-9 {
		pos.Quantity = remaining
		state.PutPosition(pos)
		out.Reason = fmt.Sprintf("%s: partial exit, %.8f remaining", reason, remaining)
	} else {
		state.RemovePosition(pos.Symbol)
		state.MarkClosed(pos.Symbol)
		out.Status = domain.StatusClosed
	}

	unlocked := e.scaler.Record(state, pnl)
	tripped := e.gauntlet.EnforceDrawdown(state)

	e.recordFill(ctx, tc, pos, domain.SideSell, exitPrice, qty, result.OrderID, reason, pnl)
	e.notify(e.formatter.FormatExit(pos.Symbol, reason, qty, pos.EntryPrice, exitPrice, pnl))
	if unlocked {
		ceiling := e.scaler.Ceiling(state)
		e.logger.Info("scaling unlocked",
			zap.Float64("realized", state.RealizedProfitCumulative),
			zap.Float64("ceiling", ceiling))
		e.notify(e.formatter.FormatScalingUnlocked(state.RealizedProfitCumulative, ceiling))
	}
	if tripped {
		e.recordBreaker(ctx, tc, state)
	}

	out.Action = ActionExited
	out.PnL = pnl

	if err := e.checkpoint(ctx, tc, state, "exit "+pos.Symbol); err != nil {
		return out, err
	}
	return out, nil
}

// size вычисляет количество в шагах QuantityStep так,
// чтобы объем не превышал свободную долю лимита капитала
func (e *Engine) size(symbol string, price float64, state *domain.LedgerState) float64 {
	norm := e.gauntlet.Normalize(symbol, price)
	if !(norm > 0) || math.IsInf(norm, 0) {
		return 0
	}

	// бюджет считается по худшей допустимой цене исполнения
	worst := e.limits.WorstFill(norm)
	budget := e.scaler.Available(state) * e.limits.AllocationFraction
	step := e.limits.QuantityStep
	n := math.Floor(budget/worst/step + 1e-9)
	if n <= 0 {
		return 0
	}
	if n*step*worst > budget {
		n--
	}
	return math.Round(n*step*1e8) / 1e8
}

// entryLimit limit цена входа в единицах котировки. Округляется вниз,
// поэтому исполнение не дороже цены, по которой считались размер и лимит капитала.
func (e *Engine) entryLimit(price float64) float64 {
	return math.Max(price, math.Floor(e.limits.WorstFill(price)*1e4+1e-6)/1e4)
}

func (e *Engine) placeOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	return retry.Do(ctx, e.orderRetry, e.logger, "order "+req.Symbol,
		func(ctx context.Context) (*domain.OrderResult, error) {
			return e.broker.PlaceOrder(ctx, req)
		})
}

func (e *Engine) recordDecision(ctx context.Context, tc TickContext, p policy.Proposal, res policy.GateResult) {
	e.metrics.GateDecision(res.Gate, res.Approved)

	price := res.Price
	if price == 0 {
		price = p.Price
	}
	d := &domain.GateDecision{
		ID:        id.NewAt(tc.Now),
		TickID:    tc.TickID,
		Symbol:    p.Symbol,
		Approved:  res.Approved,
		Gate:      res.Gate,
		Reason:    res.Reason,
		Quantity:  p.Quantity,
		Price:     price,
		Ceiling:   res.Ceiling,
		DryRun:    tc.DryRun,
		CreatedAt: tc.Now,
	}
	if err := e.journal.SaveGateDecision(ctx, d); err != nil {
		e.logger.Warn("failed to journal gate decision", zap.String("symbol", p.Symbol), zap.Error(err))
	}
}

func (e *Engine) recordFill(ctx context.Context, tc TickContext, pos domain.Position, side string, price, qty float64, orderID, reason string, pnl float64) {
	e.metrics.Fill(side, reason)

	f := &domain.Fill{
		ID:          id.NewAt(tc.Now),
		TickID:      tc.TickID,
		Symbol:      pos.Symbol,
		Side:        side,
		Quantity:    qty,
		Price:       price,
		OrderID:     orderID,
		Reason:      reason,
		RealizedPnL: pnl,
		CreatedAt:   tc.Now,
	}
	if err := e.journal.SaveFill(ctx, f); err != nil {
		e.logger.Warn("failed to journal fill", zap.String("symbol", pos.Symbol), zap.Error(err))
	}
}

func (e *Engine) recordBreaker(ctx context.Context, tc TickContext, state *domain.LedgerState) {
	e.metrics.BreakerTripped()
	e.logger.Warn("circuit breaker tripped",
		zap.String("reason", state.CircuitBreakerReason),
		zap.Float64("session_loss", state.SessionLossToDate),
		zap.Float64("drawdown_cap", e.limits.DrawdownCap))

	ev := &domain.CircuitBreakerEvent{
		ID:          id.NewAt(tc.Now),
		SessionDate: state.LastSessionDate,
		Reason:      state.CircuitBreakerReason,
		SessionLoss: state.SessionLossToDate,
		DrawdownCap: e.limits.DrawdownCap,
		TriggeredAt: tc.Now,
	}
	if err := e.journal.SaveCircuitBreakerEvent(ctx, ev); err != nil {
		e.logger.Warn("failed to journal circuit breaker event", zap.Error(err))
	}
	e.notify(e.formatter.FormatBreaker(state.CircuitBreakerReason, state.SessionLossToDate, e.limits.DrawdownCap))
}

// checkpoint сохраняет леджер после сделки. Ошибка останавливает ордера.
func (e *Engine) checkpoint(ctx context.Context, tc TickContext, state *domain.LedgerState, what string) error {
	if tc.DryRun || tc.Checkpoint == nil {
		return nil
	}
	state.UpdatedAt = tc.Now.UTC()
	if err := tc.Checkpoint(ctx, state); err != nil {
		if e.killSwitch.Activate("ledger save failed after " + what) {
			e.logger.Error("kill switch activated, no further orders this run",
				zap.String("after", what),
				zap.Error(err))
		}
		return fmt.Errorf("checkpoint after %s: %w", what, err)
	}
	return nil
}

func (e *Engine) notify(message string) {
	if e.notifier != nil {
		e.notifier.Notify(message)
	}
}

// isFatal ошибки, после которых тик прерывается
func isFatal(err error) bool {
	return errors.Is(err, domain.ErrAuthFailure)
}
