package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/kirillm/orb-bot/internal/domain"
)

// GateDecisionRepository хранит результаты проверки гейтов
type GateDecisionRepository struct {
	db      *sql.DB
	dialect Dialect
}

// NewGateDecisionRepository создает новый репозиторий
func NewGateDecisionRepository(db *sql.DB, dialect Dialect) *GateDecisionRepository {
	return &GateDecisionRepository{db: db, dialect: dialect}
}

// Save сохраняет решение
func (r *GateDecisionRepository) Save(ctx context.Context, d *domain.GateDecision) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	query := r.dialect.Rebind(`
		INSERT INTO gate_decisions (
			id, tick_id, symbol, approved, gate, reason,
			quantity, price, ceiling, dry_run, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := r.db.ExecContext(ctx, query,
		d.ID,
		d.TickID,
		d.Symbol,
		d.Approved,
		d.Gate,
		d.Reason,
		d.Quantity,
		d.Price,
		d.Ceiling,
		d.DryRun,
		d.CreatedAt,
	)
	return err
}

// GetByTick получает решения одного тика
func (r *GateDecisionRepository) GetByTick(ctx context.Context, tickID string) ([]domain.GateDecision, error) {
	query := r.dialect.Rebind(`
		SELECT id, tick_id, symbol, approved, gate, reason,
		       quantity, price, ceiling, dry_run, created_at
		FROM gate_decisions
		WHERE tick_id = ?
		ORDER BY id
	`)
	return r.query(ctx, query, tickID)
}

// GetRejected получает последние N отказов
func (r *GateDecisionRepository) GetRejected(ctx context.Context, limit int) ([]domain.GateDecision, error) {
	query := r.dialect.Rebind(`
		SELECT id, tick_id, symbol, approved, gate, reason,
		       quantity, price, ceiling, dry_run, created_at
		FROM gate_decisions
		WHERE approved = ?
		ORDER BY id DESC
		LIMIT ?
	`)
	return r.query(ctx, query, false, limit)
}

func (r *GateDecisionRepository) query(ctx context.Context, query string, args ...interface{}) ([]domain.GateDecision, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []domain.GateDecision
	for rows.Next() {
		var d domain.GateDecision
		err := rows.Scan(
			&d.ID,
			&d.TickID,
			&d.Symbol,
			&d.Approved,
			&d.Gate,
			&d.Reason,
			&d.Quantity,
			&d.Price,
			&d.Ceiling,
			&d.DryRun,
			&d.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}

	return decisions, rows.Err()
}
