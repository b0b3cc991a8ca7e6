package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kirillm/orb-bot/internal/domain"
	"github.com/kirillm/orb-bot/internal/storage/repository"
)

// PostgresConfig параметры подключения к PostgreSQL
type PostgresConfig struct {
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

// SQLJournal является фасадом журнала аудита поверх репозиториев.
// Работает с SQLite (локально) и PostgreSQL (на сервере).
type SQLJournal struct {
	db        *sql.DB
	dialect   repository.Dialect
	decisions *repository.GateDecisionRepository
	fills     *repository.FillRepository
	breakers  *repository.CircuitBreakerRepository
}

// NewSQLiteJournal открывает (или создает) журнал в файле SQLite
func NewSQLiteJournal(ctx context.Context, path string) (*SQLJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite journal: %w", err)
	}
	// SQLite допускает одного писателя
	db.SetMaxOpenConns(1)

	return newSQLJournal(ctx, db, repository.DialectSQLite)
}

// NewPostgresJournal подключается к PostgreSQL
func NewPostgresJournal(ctx context.Context, cfg PostgresConfig) (*SQLJournal, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return newSQLJournal(ctx, db, repository.DialectPostgres)
}

func newSQLJournal(ctx context.Context, db *sql.DB, dialect repository.Dialect) (*SQLJournal, error) {
	j := &SQLJournal{
		db:        db,
		dialect:   dialect,
		decisions: repository.NewGateDecisionRepository(db, dialect),
		fills:     repository.NewFillRepository(db, dialect),
		breakers:  repository.NewCircuitBreakerRepository(db, dialect),
	}

	if err := j.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return j, nil
}

func (j *SQLJournal) migrate(ctx context.Context) error {
	ts := "TIMESTAMP"
	if j.dialect == repository.DialectPostgres {
		ts = "TIMESTAMPTZ"
	}

	migrations := []string{
		// Решения гейтов, включая отказы
		`CREATE TABLE IF NOT EXISTS gate_decisions (
			id VARCHAR(26) PRIMARY KEY,
			tick_id VARCHAR(26) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			approved BOOLEAN NOT NULL,
			gate VARCHAR(32) NOT NULL,
			reason TEXT NOT NULL,
			quantity DOUBLE PRECISION NOT NULL DEFAULT 0,
			price DOUBLE PRECISION NOT NULL DEFAULT 0,
			ceiling DOUBLE PRECISION NOT NULL DEFAULT 0,
			dry_run BOOLEAN NOT NULL DEFAULT FALSE,
			created_at ` + ts + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_gate_decisions_tick ON gate_decisions(tick_id)`,
		// Исполненные ордера (вход и выход)
		`CREATE TABLE IF NOT EXISTS fills (
			id VARCHAR(26) PRIMARY KEY,
			tick_id VARCHAR(26) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(10) NOT NULL,
			quantity DOUBLE PRECISION NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			order_id VARCHAR(100) NOT NULL DEFAULT '',
			reason VARCHAR(20) NOT NULL,
			realized_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at ` + ts + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fills_symbol ON fills(symbol)`,
		// Срабатывания circuit breaker
		`CREATE TABLE IF NOT EXISTS circuit_breaker_events (
			id VARCHAR(26) PRIMARY KEY,
			session_date VARCHAR(10) NOT NULL,
			reason TEXT NOT NULL,
			session_loss DOUBLE PRECISION NOT NULL,
			drawdown_cap DOUBLE PRECISION NOT NULL,
			triggered_at ` + ts + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cb_events_session ON circuit_breaker_events(session_date)`,
	}

	for _, migration := range migrations {
		if _, err := j.db.ExecContext(ctx, migration); err != nil {
			return err
		}
	}

	return nil
}

// SaveGateDecision сохраняет решение гейтов
func (j *SQLJournal) SaveGateDecision(ctx context.Context, d *domain.GateDecision) error {
	return j.decisions.Save(ctx, d)
}

// SaveFill сохраняет исполнение
func (j *SQLJournal) SaveFill(ctx context.Context, f *domain.Fill) error {
	return j.fills.Save(ctx, f)
}

// SaveCircuitBreakerEvent сохраняет срабатывание circuit breaker
func (j *SQLJournal) SaveCircuitBreakerEvent(ctx context.Context, e *domain.CircuitBreakerEvent) error {
	return j.breakers.SaveEvent(ctx, e)
}

// RecentFills возвращает последние исполнения
func (j *SQLJournal) RecentFills(ctx context.Context, limit int) ([]domain.Fill, error) {
	return j.fills.GetAllRecent(ctx, limit)
}

// DecisionsForTick возвращает решения гейтов одного тика
func (j *SQLJournal) DecisionsForTick(ctx context.Context, tickID string) ([]domain.GateDecision, error) {
	return j.decisions.GetByTick(ctx, tickID)
}

// BreakerEvents возвращает срабатывания за сессию
func (j *SQLJournal) BreakerEvents(ctx context.Context, sessionDate string) ([]domain.CircuitBreakerEvent, error) {
	return j.breakers.GetBySession(ctx, sessionDate)
}

// Close закрывает соединение с БД
func (j *SQLJournal) Close() error {
	return j.db.Close()
}

// NopJournal журнал, который ничего не пишет (JOURNAL_DRIVER=none)
type NopJournal struct{}

func (NopJournal) SaveGateDecision(context.Context, *domain.GateDecision) error { return nil }
func (NopJournal) SaveFill(context.Context, *domain.Fill) error                 { return nil }
func (NopJournal) SaveCircuitBreakerEvent(context.Context, *domain.CircuitBreakerEvent) error {
	return nil
}
func (NopJournal) RecentFills(context.Context, int) ([]domain.Fill, error) { return nil, nil }
func (NopJournal) Close() error                                            { return nil }

var (
	_ domain.Journal = (*SQLJournal)(nil)
	_ domain.Journal = NopJournal{}
)
