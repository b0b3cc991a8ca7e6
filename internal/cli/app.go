package cli

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kirillm/orb-bot/internal/capital"
	"github.com/kirillm/orb-bot/internal/config"
	"github.com/kirillm/orb-bot/internal/domain"
	"github.com/kirillm/orb-bot/internal/exchange"
	"github.com/kirillm/orb-bot/internal/execution"
	"github.com/kirillm/orb-bot/internal/market"
	"github.com/kirillm/orb-bot/internal/metrics"
	"github.com/kirillm/orb-bot/internal/orchestrator"
	"github.com/kirillm/orb-bot/internal/policy"
	"github.com/kirillm/orb-bot/internal/storage"
	"github.com/kirillm/orb-bot/internal/telegram"
	"github.com/kirillm/orb-bot/internal/verifier"
)

// closeTimeout время на отправку оставшихся уведомлений при завершении
const closeTimeout = 10 * time.Second

// notifier уведомления с ожиданием отправки очереди при завершении
type notifier interface {
	domain.Notifier
	Close(ctx context.Context) error
}

// app собранные компоненты одного запуска
type app struct {
	cfg      *config.Config
	limits   *policy.RiskLimits
	logger   *zap.Logger
	store    *storage.FileLedgerStore
	journal  domain.Journal
	notifier notifier
	runner   *orchestrator.Runner
}

// newStore создает файловое хранилище леджера со значениями по умолчанию из профиля
func newStore(cfg *config.Config, limits *policy.RiskLimits, logger *zap.Logger) *storage.FileLedgerStore {
	return storage.NewFileLedgerStore(cfg.LedgerPath, func() *domain.LedgerState {
		return domain.NewLedgerState(limits.SeedCapital, "")
	}, logger)
}

// openJournal открывает журнал аудита по JOURNAL_DRIVER
func openJournal(ctx context.Context, cfg *config.Config) (domain.Journal, error) {
	switch cfg.Journal.Driver {
	case config.JournalSQLite:
		return storage.NewSQLiteJournal(ctx, cfg.Journal.Path)
	case config.JournalPostgres:
		return storage.NewPostgresJournal(ctx, cfg.Postgres())
	default:
		return storage.NopJournal{}, nil
	}
}

// newVerifier создает верификатор по VERIFIER_MODE
func newVerifier(cfg *config.Config, logger *zap.Logger) domain.Verifier {
	v := cfg.Verifier
	switch v.Mode {
	case verifier.ModeHTTP:
		return verifier.NewHTTPVerifier(v.URL, v.APIKey, v.Timeout)
	case verifier.ModeLLM:
		judges := make([]*verifier.LLMVerifier, 0, len(v.LLMModels))
		for _, model := range v.LLMModels {
			judges = append(judges, verifier.NewLLMVerifier(v.APIKey, v.LLMBaseURL, model, v.Timeout))
		}
		return verifier.NewCouncil(judges, v.Quorum, logger)
	default:
		logger.Warn("external veto bypassed: every proposal passes the verifier gate",
			zap.String("verifier_mode", v.Mode),
			zap.String("decision_reason", verifier.DisabledReason))
		return verifier.Disabled{}
	}
}

// newNotifier возвращает Telegram, если заданы токен и чат, иначе запись в лог
func newNotifier(cfg *config.Config, logger *zap.Logger) notifier {
	if cfg.Telegram.BotToken == "" {
		return telegram.NewLogNotifier(logger)
	}
	n, err := telegram.NewBotNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
	if err != nil {
		logger.Error("telegram unavailable, notifications go to the log", zap.Error(err))
		return telegram.NewLogNotifier(logger)
	}
	return n
}

// newApp собирает все компоненты тика
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	limits, err := policy.LoadLimits(cfg.RiskProfilePath, cfg.PolicyProfile)
	if err != nil {
		return nil, err
	}
	denominator, err := policy.NewDenominator(limits.PriceDenominationRules)
	if err != nil {
		return nil, err
	}
	session, err := cfg.MarketSession()
	if err != nil {
		return nil, err
	}

	logger.Info("risk profile loaded",
		zap.String("profile", limits.ProfileName),
		zap.Float64("drawdown_cap", limits.DrawdownCap),
		zap.Float64("seed_capital", limits.SeedCapital),
		zap.String("broker_mode", cfg.Broker.Mode),
		zap.String("verifier_mode", cfg.Verifier.Mode))

	journal, err := openJournal(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	store := newStore(cfg, limits, logger)
	policyRetry := cfg.RetryPolicy()

	rest := exchange.NewRESTClient(exchange.RESTConfig{
		BaseURL:       cfg.Broker.BaseURL,
		MarketDataURL: cfg.Broker.MarketDataURL,
		APIKey:        cfg.Broker.APIKey,
		APISecret:     cfg.Broker.APISecret,
		RPS:           cfg.Broker.RPS,
		Timeout:       cfg.Retry.CallTimeout,
	}, logger.Named("rest"))

	var broker domain.Broker = rest
	if cfg.Broker.Mode == config.BrokerPaper {
		broker = exchange.NewPaperBroker(rest, store, cfg.Session.BarInterval, logger.Named("paper"))
	}

	m := metrics.New()
	scaler := capital.NewScaler(limits.SeedCapital, limits.ScalingFraction)
	formatter := telegram.NewFormatter(telegram.Lang(cfg.Telegram.Lang))
	n := newNotifier(cfg, logger)

	gauntlet := policy.NewGauntlet(limits, denominator, scaler, newVerifier(cfg, logger), policyRetry, logger.Named("gauntlet"))

	engine := execution.NewEngine(execution.Deps{
		Broker:     broker,
		Gauntlet:   gauntlet,
		Scaler:     scaler,
		Journal:    journal,
		Notifier:   n,
		Formatter:  formatter,
		KillSwitch: execution.NewKillSwitch(),
		Quotes:     execution.NewPriceFailover(broker, policyRetry, cfg.QuoteMaxAge, logger),
		OrderRetry: policyRetry.Once(),
		Metrics:    m,
		Logger:     logger.Named("engine"),
	})

	runner := orchestrator.New(orchestrator.Deps{
		Store:     store,
		Data:      rest,
		Broker:    broker,
		Observer:  market.NewObserver(session, logger.Named("observer")),
		Engine:    engine,
		Scaler:    scaler,
		Notifier:  n,
		Formatter: formatter,
		Metrics:   m,
		Retry:     policyRetry,
		Logger:    logger,
	}, orchestrator.Settings{
		BarInterval:     cfg.Session.BarInterval,
		Budget:          cfg.TickBudget,
		MetricsTextfile: cfg.MetricsTextfile,
	})

	return &app{
		cfg:      cfg,
		limits:   limits,
		logger:   logger,
		store:    store,
		journal:  journal,
		notifier: n,
		runner:   runner,
	}, nil
}

// Close дожидается отправки уведомлений и закрывает журнал
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	if err := a.notifier.Close(ctx); err != nil {
		a.logger.Warn("notifications dropped on shutdown", zap.Error(err))
	}
	if err := a.journal.Close(); err != nil {
		a.logger.Warn("failed to close journal", zap.Error(err))
	}
}
