package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/kirillm/orb-bot/internal/domain"
)

// CircuitBreakerRepository управляет событиями circuit breaker
type CircuitBreakerRepository struct {
	db      *sql.DB
	dialect Dialect
}

// NewCircuitBreakerRepository создает новый репозиторий
func NewCircuitBreakerRepository(db *sql.DB, dialect Dialect) *CircuitBreakerRepository {
	return &CircuitBreakerRepository{db: db, dialect: dialect}
}

// SaveEvent сохраняет событие срабатывания
func (r *CircuitBreakerRepository) SaveEvent(ctx context.Context, event *domain.CircuitBreakerEvent) error {
	if event.TriggeredAt.IsZero() {
		event.TriggeredAt = time.Now().UTC()
	}

	query := r.dialect.Rebind(`
		INSERT INTO circuit_breaker_events (id, session_date, reason, session_loss, drawdown_cap, triggered_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.SessionDate,
		event.Reason,
		event.SessionLoss,
		event.DrawdownCap,
		event.TriggeredAt,
	)
	return err
}

// GetBySession получает события за торговую сессию
func (r *CircuitBreakerRepository) GetBySession(ctx context.Context, sessionDate string) ([]domain.CircuitBreakerEvent, error) {
	query := r.dialect.Rebind(`
		SELECT id, session_date, reason, session_loss, drawdown_cap, triggered_at
		FROM circuit_breaker_events
		WHERE session_date = ?
		ORDER BY triggered_at DESC
	`)
	rows, err := r.db.QueryContext(ctx, query, sessionDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.CircuitBreakerEvent
	for rows.Next() {
		var e domain.CircuitBreakerEvent
		if err := rows.Scan(
			&e.ID,
			&e.SessionDate,
			&e.Reason,
			&e.SessionLoss,
			&e.DrawdownCap,
			&e.TriggeredAt,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}
