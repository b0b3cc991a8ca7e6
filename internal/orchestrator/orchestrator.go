package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kirillm/orb-bot/internal/capital"
	"github.com/kirillm/orb-bot/internal/domain"
	"github.com/kirillm/orb-bot/internal/execution"
	"github.com/kirillm/orb-bot/internal/market"
	"github.com/kirillm/orb-bot/internal/metrics"
	"github.com/kirillm/orb-bot/internal/retry"
	"github.com/kirillm/orb-bot/internal/telegram"
	"github.com/kirillm/orb-bot/pkg/id"
)

// Результат тика для метрик
const (
	ResultOK     = "ok"
	ResultDryRun = "dry_run"
	ResultError  = "error"
)

// Deps зависимости Runner
type Deps struct {
	Store     domain.LedgerStore
	Data      domain.MarketData
	Broker    domain.Broker
	Observer  *market.Observer
	Engine    *execution.Engine
	Scaler    *capital.Scaler
	Notifier  domain.Notifier
	Formatter *telegram.Formatter
	Metrics   *metrics.Metrics
	Retry     retry.Policy
	Logger    *zap.Logger
}

// Settings параметры запуска, не зависящие от символов
type Settings struct {
	BarInterval     string
	Budget          time.Duration // бюджет времени на тик
	Grace           time.Duration // время на мониторинг позиций после истечения бюджета
	MetricsTextfile string
}

// Options параметры одного тика
type Options struct {
	Symbols []string
	DryRun  bool
}

// Report итог тика
type Report struct {
	TickID       string
	SessionDate  string
	DryRun       bool
	Outcomes     []execution.Outcome
	Deferred     []string
	StateCorrupt bool
	Saved        bool
	Took         time.Duration
	State        *domain.LedgerState
}

// Runner выполняет один тик сессии: загрузка леджера, смена сессии, сверка
// с брокером, шаг автомата по каждому символу, атомарное сохранение
type Runner struct {
	deps     Deps
	settings Settings
	now      func() time.Time
	logger   *zap.Logger
}

// New создает Runner
func New(deps Deps, settings Settings) *Runner {
	if settings.Grace <= 0 {
		settings.Grace = 30 * time.Second
	}
	return &Runner{
		deps:     deps,
		settings: settings,
		now:      time.Now,
		logger:   deps.Logger,
	}
}

// RunTick выполняет один запуск
func (r *Runner) RunTick(ctx context.Context, opts Options) (*Report, error) {
	start := r.now()
	report := &Report{TickID: id.NewAt(start), DryRun: opts.DryRun}
	logger := r.logger.With(zap.String("tick_id", report.TickID))

	logger.Info("tick started",
		zap.Strings("symbols", opts.Symbols),
		zap.Bool("dry_run", opts.DryRun))

	err := r.runTick(ctx, opts, report, logger)

	report.Took = r.now().Sub(start)
	result := ResultOK
	switch {
	case err != nil:
		result = ResultError
		logger.Error("tick aborted", zap.Error(err))
		r.notify(r.deps.Formatter.FormatFatal(err))
	case opts.DryRun:
		result = ResultDryRun
	}
	r.deps.Metrics.Tick(result, report.Took)
	if report.State != nil {
		r.deps.Metrics.Ledger(len(report.State.OpenPositions), report.State.SessionLossToDate,
			r.deps.Scaler.Ceiling(report.State), report.State.RealizedProfitCumulative)
	}
	if werr := r.deps.Metrics.WriteTextfile(r.settings.MetricsTextfile); werr != nil {
		logger.Warn("failed to write metrics textfile", zap.Error(werr))
	}

	if err != nil {
		return report, err
	}

	r.notify(r.deps.Formatter.FormatTickSummary(summarize(report)))
	logger.Info("tick finished",
		zap.Duration("took", report.Took),
		zap.Int("symbols", len(report.Outcomes)),
		zap.Bool("saved", report.Saved))
	return report, nil
}

func (r *Runner) runTick(ctx context.Context, opts Options, report *Report, logger *zap.Logger) error {
	// 1. Леджер
	state, err := r.deps.Store.Load(ctx)
	switch {
	case errors.Is(err, domain.ErrStateCorrupt):
		report.StateCorrupt = true
		r.notify(r.deps.Formatter.FormatStateCorrupt(err))
	case err != nil:
		return fmt.Errorf("load ledger: %w", err)
	}
	report.State = state

	// 2. Смена сессии
	now := r.now()
	sessionDate := r.deps.Observer.Config().SessionDate(now)
	report.SessionDate = sessionDate
	if prev := state.LastSessionDate; state.RollSession(sessionDate) {
		logger.Info("session rollover", zap.String("from", prev), zap.String("to", sessionDate))
	}
	r.deps.Observer.Seed(state.OpeningRanges)

	// 3. Сверка с брокером
	blocked, err := r.reconcile(ctx, opts.Symbols, state, logger)
	if err != nil {
		return err
	}

	// 4. Символы: запрошенные плюс все открытые позиции
	deadline := r.now().Add(r.settings.Budget)
	entryCtx, cancel := context.WithTimeout(ctx, r.settings.Budget)
	defer cancel()

	var graceCtx context.Context
	for _, symbol := range tickSymbols(opts.Symbols, state) {
		now := r.now()
		_, hasPosition := state.Position(symbol)

		stepCtx := entryCtx
		expired := !now.Before(deadline)
		if expired {
			if !hasPosition {
				continue
			}
			if graceCtx == nil {
				var graceCancel context.CancelFunc
				graceCtx, graceCancel = context.WithTimeout(ctx, r.settings.Grace)
				defer graceCancel()
				logger.Warn("tick budget exhausted, monitoring open positions only",
					zap.Duration("grace", r.settings.Grace))
			}
			if graceCtx.Err() != nil {
				report.Deferred = append(report.Deferred, symbol)
				continue
			}
			stepCtx = graceCtx
		}

		obs, err := r.observe(stepCtx, symbol, now, logger)
		if err != nil {
			return err
		}

		tc := execution.TickContext{
			TickID:         report.TickID,
			Now:            now,
			DryRun:         opts.DryRun,
			EntriesAllowed: !expired,
			Blocked:        blocked,
			Checkpoint: func(ctx context.Context, s *domain.LedgerState) error {
				s.OpeningRanges = r.sessionRanges(sessionDate)
				return r.deps.Store.Save(ctx, s)
			},
		}
		out, err := r.deps.Engine.Step(stepCtx, tc, symbol, obs, state)
		report.Outcomes = append(report.Outcomes, out)
		if err != nil {
			return fmt.Errorf("%s: %w", symbol, err)
		}

		logger.Info("symbol step",
			zap.String("symbol", symbol),
			zap.String("status", string(out.Status)),
			zap.String("action", out.Action),
			zap.String("gate", out.Gate),
			zap.String("reason", out.Reason))
	}

	if len(report.Deferred) > 0 {
		r.notify(r.deps.Formatter.FormatDeferred(report.Deferred, "tick budget exhausted"))
	}

	// 5. Сохранение
	state.OpeningRanges = r.sessionRanges(sessionDate)
	if opts.DryRun {
		logger.Info("dry run: ledger not written")
		return nil
	}
	state.UpdatedAt = r.now().UTC()
	if err := r.deps.Store.Save(ctx, state); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	report.Saved = true
	return nil
}

// observe загружает свечи и строит наблюдение. Ошибка возвращается только
// для отказа авторизации, остальные сбои дают устаревшее наблюдение.
func (r *Runner) observe(ctx context.Context, symbol string, now time.Time, logger *zap.Logger) (domain.Observation, error) {
	since := r.deps.Observer.Config().HistorySince(now)
	bars, err := retry.Do(ctx, r.deps.Retry, logger, "bars "+symbol, func(ctx context.Context) ([]domain.Bar, error) {
		return r.deps.Data.GetBars(ctx, symbol, r.settings.BarInterval, since)
	})
	if err != nil {
		if errors.Is(err, domain.ErrAuthFailure) {
			return domain.Observation{}, fmt.Errorf("%s: %w", symbol, err)
		}
		logger.Warn("market data unavailable, symbol skipped for entries",
			zap.String("symbol", symbol),
			zap.Error(err))
		return domain.StaleObservation(symbol, now, "market data unavailable"), nil
	}
	return r.deps.Observer.Observe(symbol, bars, now), nil
}

// reconcile сравнивает позиции брокера с леджером. Позиция у брокера без записи
// в леджере блокирует входы по символу. Позиция леджера без позиции у брокера
// считает тики подряд и после MissingTicksLimit ждет оператора.
// Если позиции получить не удалось, блокируются все входы тика.
func (r *Runner) reconcile(ctx context.Context, symbols []string, state *domain.LedgerState, logger *zap.Logger) (map[string]string, error) {
	blocked := make(map[string]string)

	held, err := retry.Do(ctx, r.deps.Retry, logger, "broker positions", r.deps.Broker.GetOpenPositions)
	if err != nil {
		if errors.Is(err, domain.ErrAuthFailure) {
			return nil, fmt.Errorf("reconcile: %w", err)
		}
		logger.Error("broker positions unavailable, entries blocked", zap.Error(err))
		for _, s := range symbols {
			blocked[s] = "broker positions unavailable"
		}
		return blocked, nil
	}

	atBroker := make(map[string]domain.BrokerPosition, len(held))
	for _, p := range held {
		atBroker[p.Symbol] = p
		if _, ok := state.Position(p.Symbol); ok {
			continue
		}
		detail := fmt.Sprintf("broker holds %.8g outside the ledger, entries blocked", p.Quantity)
		blocked[p.Symbol] = detail
		logger.Warn("reconciliation mismatch",
			zap.String("symbol", p.Symbol),
			zap.Float64("broker_quantity", p.Quantity))
		r.notify(r.deps.Formatter.FormatReconcile(p.Symbol, detail))
	}

	for i := range state.OpenPositions {
		p := &state.OpenPositions[i]
		if _, ok := atBroker[p.Symbol]; ok {
			if p.MissingTicks > 0 {
				logger.Info("ledger position back at broker",
					zap.String("symbol", p.Symbol),
					zap.Int("missing_ticks", p.MissingTicks))
				p.MissingTicks = 0
			}
			continue
		}

		p.MissingTicks++
		logger.Warn("reconciliation mismatch",
			zap.String("symbol", p.Symbol),
			zap.Float64("ledger_quantity", p.Quantity),
			zap.Int("missing_ticks", p.MissingTicks))

		// уведомление при первом расхождении и при передаче оператору
		switch p.MissingTicks {
		case 1:
			detail := fmt.Sprintf("ledger position %.8g not found at broker", p.Quantity)
			r.notify(r.deps.Formatter.FormatReconcile(p.Symbol, detail))
		case domain.MissingTicksLimit:
			detail := fmt.Sprintf("ledger position %.8g missing at broker for %d ticks, "+
				"excluded from exposure until resolved (orb-bot resolve %s)", p.Quantity, p.MissingTicks, p.Symbol)
			r.notify(r.deps.Formatter.FormatReconcile(p.Symbol, detail))
		}
	}

	return blocked, nil
}

func (r *Runner) sessionRanges(sessionDate string) map[string]domain.OpeningRange {
	ranges := r.deps.Observer.Ranges(sessionDate)
	if len(ranges) == 0 {
		return nil
	}
	return ranges
}

func (r *Runner) notify(message string) {
	if r.deps.Notifier != nil {
		r.deps.Notifier.Notify(message)
	}
}

// tickSymbols возвращает запрошенные символы и символы открытых позиций без повторов
func tickSymbols(requested []string, state *domain.LedgerState) []string {
	seen := make(map[string]bool, len(requested))
	out := make([]string, 0, len(requested)+len(state.OpenPositions))
	for _, s := range requested {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, p := range state.OpenPositions {
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			out = append(out, p.Symbol)
		}
	}
	return out
}

func summarize(report *Report) telegram.TickSummary {
	s := telegram.TickSummary{
		TickID: report.TickID,
		DryRun: report.DryRun,
		Took:   report.Took,
	}
	for _, o := range report.Outcomes {
		switch o.Action {
		case execution.ActionEntered, execution.ActionDryRunEntry:
			s.Entries++
		case execution.ActionExited, execution.ActionDryRunExit:
			s.Exits++
		case execution.ActionRejected, execution.ActionOrderRejected:
			s.Rejections++
		}
	}
	if st := report.State; st != nil {
		s.OpenPositions = len(st.OpenPositions)
		s.Realized = st.RealizedProfitCumulative
		s.SessionLoss = st.SessionLossToDate
		s.Halted = st.CircuitBreakerTripped
	}
	return s
}
