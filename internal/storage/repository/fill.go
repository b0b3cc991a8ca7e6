package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/kirillm/orb-bot/internal/domain"
)

// FillRepository реализует работу с исполненными ордерами
type FillRepository struct {
	db      *sql.DB
	dialect Dialect
}

// NewFillRepository создает новый репозиторий исполнений
func NewFillRepository(db *sql.DB, dialect Dialect) *FillRepository {
	return &FillRepository{db: db, dialect: dialect}
}

// Save сохраняет исполнение
func (r *FillRepository) Save(ctx context.Context, f *domain.Fill) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	query := r.dialect.Rebind(`
		INSERT INTO fills (id, tick_id, symbol, side, quantity, price, order_id, reason, realized_pnl, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := r.db.ExecContext(ctx, query,
		f.ID,
		f.TickID,
		f.Symbol,
		f.Side,
		f.Quantity,
		f.Price,
		f.OrderID,
		f.Reason,
		f.RealizedPnL,
		f.CreatedAt,
	)
	return err
}

// GetRecent получает последние N исполнений для символа
func (r *FillRepository) GetRecent(ctx context.Context, symbol string, limit int) ([]domain.Fill, error) {
	query := r.dialect.Rebind(`
		SELECT id, tick_id, symbol, side, quantity, price, order_id, reason, realized_pnl, created_at
		FROM fills
		WHERE symbol = ?
		ORDER BY id DESC
		LIMIT ?
	`)
	return r.queryFills(ctx, query, symbol, limit)
}

// GetAllRecent получает последние N исполнений по всем символам
func (r *FillRepository) GetAllRecent(ctx context.Context, limit int) ([]domain.Fill, error) {
	query := r.dialect.Rebind(`
		SELECT id, tick_id, symbol, side, quantity, price, order_id, reason, realized_pnl, created_at
		FROM fills
		ORDER BY id DESC
		LIMIT ?
	`)
	return r.queryFills(ctx, query, limit)
}

// queryFills выполняет запрос и возвращает список исполнений
func (r *FillRepository) queryFills(ctx context.Context, query string, args ...interface{}) ([]domain.Fill, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fills []domain.Fill
	for rows.Next() {
		var f domain.Fill
		err := rows.Scan(
			&f.ID,
			&f.TickID,
			&f.Symbol,
			&f.Side,
			&f.Quantity,
			&f.Price,
			&f.OrderID,
			&f.Reason,
			&f.RealizedPnL,
			&f.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		fills = append(fills, f)
	}

	return fills, rows.Err()
}
