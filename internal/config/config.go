package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/kirillm/orb-bot/internal/domain"
	"github.com/kirillm/orb-bot/internal/market"
	"github.com/kirillm/orb-bot/internal/retry"
	"github.com/kirillm/orb-bot/internal/storage"
	"github.com/kirillm/orb-bot/internal/verifier"
)

// Режимы брокера
const (
	BrokerLive  = "live"
	BrokerPaper = "paper"
)

// Драйверы журнала аудита
const (
	JournalSQLite   = "sqlite"
	JournalPostgres = "postgres"
	JournalNone     = "none"
)

// Config содержит все настройки приложения
type Config struct {
	LedgerPath      string
	RiskProfilePath string
	PolicyProfile   string
	Symbols         []string

	Broker   BrokerConfig
	Verifier VerifierConfig
	Telegram TelegramConfig
	Journal  JournalConfig
	Database DatabaseConfig
	Session  SessionConfig
	Retry    RetryConfig

	TickBudget      time.Duration
	QuoteMaxAge     time.Duration
	MetricsTextfile string
	LogLevel        string
}

type BrokerConfig struct {
	Mode          string
	BaseURL       string
	MarketDataURL string
	APIKey        string
	APISecret     string
	RPS           float64
}

type VerifierConfig struct {
	Mode       string
	URL        string
	APIKey     string
	LLMBaseURL string
	LLMModels  []string
	Quorum     int
	Timeout    time.Duration
}

type TelegramConfig struct {
	BotToken string
	ChatID   int64
	Lang     string
}

type JournalConfig struct {
	Driver string
	Path   string
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type SessionConfig struct {
	Timezone      string
	Open          time.Duration
	OpeningWindow time.Duration
	DataCutoff    time.Duration
	BarInterval   string
	BaselineDays  int
}

type RetryConfig struct {
	MaxAttempts int
	Backoff     []time.Duration
	CallTimeout time.Duration
}

// Load загружает конфигурацию из .env файлов (если есть) и окружения.
// Переменные окружения имеют приоритет над .env.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		// .env необязателен
		_ = godotenv.Load()
	} else if err := godotenv.Load(envFiles...); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	e := &env{}
	config := &Config{
		LedgerPath:      getEnv("LEDGER_PATH", "data/ledger.json"),
		RiskProfilePath: getEnv("RISK_PROFILE_PATH", "configs/risk_profiles.yaml"),
		PolicyProfile:   getEnv("POLICY_PROFILE", "conservative"),
		Symbols:         getList("SYMBOLS"),
		Broker: BrokerConfig{
			Mode:          getEnv("BROKER_MODE", BrokerPaper),
			BaseURL:       getEnv("BROKER_BASE_URL", "https://live.trading212.com"),
			MarketDataURL: getEnv("MARKET_DATA_URL", ""),
			APIKey:        getEnv("BROKER_API_KEY", ""),
			APISecret:     getEnv("BROKER_API_SECRET", ""),
			RPS:           e.float("BROKER_RPS", "1"),
		},
		Verifier: VerifierConfig{
			Mode:       getEnv("VERIFIER_MODE", ""),
			URL:        getEnv("VERIFIER_URL", ""),
			APIKey:     getEnv("VERIFIER_API_KEY", ""),
			LLMBaseURL: getEnv("LLM_BASE_URL", ""),
			LLMModels:  getList("LLM_MODELS"),
			Quorum:     e.int("LLM_QUORUM", "0"),
			Timeout:    e.duration("VERIFIER_TIMEOUT", "20s"),
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:   e.int64("TELEGRAM_CHAT_ID", "0"),
			Lang:     getEnv("TELEGRAM_LANG", "en"),
		},
		Journal: JournalConfig{
			Driver: getEnv("JOURNAL_DRIVER", JournalSQLite),
			Path:   getEnv("JOURNAL_PATH", "data/journal.db"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            e.int("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			DBName:          getEnv("DB_NAME", "orb_bot"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    e.int("DB_MAX_OPEN_CONNS", "5"),
			MaxIdleConns:    e.int("DB_MAX_IDLE_CONNS", "2"),
			ConnMaxLifetime: e.duration("DB_CONN_MAX_LIFETIME", "5m"),
		},
		Session: SessionConfig{
			Timezone:      getEnv("SESSION_TIMEZONE", "Europe/London"),
			Open:          e.clock("SESSION_OPEN", "08:00"),
			OpeningWindow: e.duration("OPENING_WINDOW", "15m"),
			DataCutoff:    e.duration("DATA_CUTOFF", "30m"),
			BarInterval:   getEnv("BAR_INTERVAL", "5m"),
			BaselineDays:  e.int("BASELINE_DAYS", "10"),
		},
		Retry: RetryConfig{
			MaxAttempts: e.int("RETRY_MAX_ATTEMPTS", "3"),
			Backoff:     e.durations("RETRY_BACKOFF", "250ms,1s"),
			CallTimeout: e.duration("CALL_TIMEOUT", "10s"),
		},
		TickBudget:      e.duration("TICK_BUDGET", "4m"),
		QuoteMaxAge:     e.duration("QUOTE_MAX_AGE", "10m"),
		MetricsTextfile: getEnv("METRICS_TEXTFILE", ""),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}
	if e.err != nil {
		return nil, e.err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate проверяет обязательные поля конфигурации
func (c *Config) Validate() error {
	if c.LedgerPath == "" {
		return invalid("LEDGER_PATH is required")
	}
	if c.RiskProfilePath == "" {
		return invalid("RISK_PROFILE_PATH is required")
	}

	switch c.Broker.Mode {
	case BrokerLive:
		if c.Broker.APIKey == "" {
			return invalid("BROKER_API_KEY is required in live mode")
		}
		if c.Broker.BaseURL == "" {
			return invalid("BROKER_BASE_URL is required in live mode")
		}
	case BrokerPaper:
		if c.Broker.MarketDataURL == "" && c.Broker.BaseURL == "" {
			return invalid("MARKET_DATA_URL is required in paper mode")
		}
	default:
		return invalid("BROKER_MODE must be live or paper, got %q", c.Broker.Mode)
	}
	if c.Broker.RPS <= 0 {
		return invalid("BROKER_RPS must be positive")
	}

	switch c.Verifier.Mode {
	case verifier.ModeHTTP:
		if c.Verifier.URL == "" {
			return invalid("VERIFIER_URL is required when VERIFIER_MODE=http")
		}
	case verifier.ModeLLM:
		if c.Verifier.LLMBaseURL == "" || len(c.Verifier.LLMModels) == 0 {
			return invalid("LLM_BASE_URL and LLM_MODELS are required when VERIFIER_MODE=llm")
		}
		if c.Verifier.Quorum > len(c.Verifier.LLMModels) {
			return invalid("LLM_QUORUM %d exceeds %d models", c.Verifier.Quorum, len(c.Verifier.LLMModels))
		}
	case verifier.ModeDisabled:
	case "":
		return invalid("VERIFIER_MODE is required (http, llm or disabled)")
	default:
		return invalid("unknown VERIFIER_MODE %q", c.Verifier.Mode)
	}

	if c.Telegram.BotToken != "" && c.Telegram.ChatID == 0 {
		return invalid("TELEGRAM_CHAT_ID is required with TELEGRAM_BOT_TOKEN")
	}

	switch c.Journal.Driver {
	case JournalSQLite:
		if c.Journal.Path == "" {
			return invalid("JOURNAL_PATH is required for the sqlite journal")
		}
	case JournalPostgres:
		if c.Database.Password == "" {
			return invalid("DB_PASSWORD is required for the postgres journal")
		}
	case JournalNone:
	default:
		return invalid("unknown JOURNAL_DRIVER %q", c.Journal.Driver)
	}

	if c.TickBudget <= 0 {
		return invalid("TICK_BUDGET must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return invalid("RETRY_MAX_ATTEMPTS must be >= 1")
	}
	if _, err := c.MarketSession(); err != nil {
		return err
	}
	return nil
}

// MarketSession строит расписание сессии
func (c *Config) MarketSession() (market.SessionConfig, error) {
	loc, err := time.LoadLocation(c.Session.Timezone)
	if err != nil {
		return market.SessionConfig{}, invalid("SESSION_TIMEZONE: %v", err)
	}
	s := market.SessionConfig{
		Location:      loc,
		Open:          c.Session.Open,
		OpeningWindow: c.Session.OpeningWindow,
		DataCutoff:    c.Session.DataCutoff,
		BaselineDays:  c.Session.BaselineDays,
	}
	return s, s.Validate()
}

// RetryPolicy политика повторов для внешних вызовов
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:       c.Retry.MaxAttempts,
		Backoff:           c.Retry.Backoff,
		PerAttemptTimeout: c.Retry.CallTimeout,
		FailClosed:        true,
	}
}

// Postgres параметры подключения журнала к PostgreSQL
func (c *Config) Postgres() storage.PostgresConfig {
	return storage.PostgresConfig{
		Host:            c.Database.Host,
		Port:            c.Database.Port,
		User:            c.Database.User,
		Password:        c.Database.Password,
		DBName:          c.Database.DBName,
		SSLMode:         c.Database.SSLMode,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
	}
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidInput, fmt.Sprintf(format, args...))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// env разбирает типизированные переменные и запоминает первую ошибку
type env struct {
	err error
}

func (e *env) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (e *env) int(key, def string) int {
	v, err := strconv.Atoi(getEnv(key, def))
	if err != nil {
		e.fail(key, err)
	}
	return v
}

func (e *env) int64(key, def string) int64 {
	v, err := strconv.ParseInt(getEnv(key, def), 10, 64)
	if err != nil {
		e.fail(key, err)
	}
	return v
}

func (e *env) float(key, def string) float64 {
	v, err := strconv.ParseFloat(getEnv(key, def), 64)
	if err != nil {
		e.fail(key, err)
	}
	return v
}

func (e *env) duration(key, def string) time.Duration {
	v, err := time.ParseDuration(getEnv(key, def))
	if err != nil {
		e.fail(key, err)
	}
	return v
}

func (e *env) durations(key, def string) []time.Duration {
	var out []time.Duration
	for _, s := range strings.Split(getEnv(key, def), ",") {
		d, err := time.ParseDuration(strings.TrimSpace(s))
		if err != nil {
			e.fail(key, err)
			return nil
		}
		out = append(out, d)
	}
	return out
}

// clock разбирает время суток HH:MM в смещение от полуночи
func (e *env) clock(key, def string) time.Duration {
	t, err := time.Parse("15:04", getEnv(key, def))
	if err != nil {
		e.fail(key, errors.New("expected HH:MM"))
		return 0
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
}
