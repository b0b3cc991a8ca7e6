package domain

import (
	"context"
	"time"
)

// LedgerStore определяет интерфейс хранилища леджера
type LedgerStore interface {
	Load(ctx context.Context) (*LedgerState, error)
	Save(ctx context.Context, state *LedgerState) error
}

// Journal определяет интерфейс журнала аудита
type Journal interface {
	SaveGateDecision(ctx context.Context, d *GateDecision) error
	SaveFill(ctx context.Context, f *Fill) error
	SaveCircuitBreakerEvent(ctx context.Context, e *CircuitBreakerEvent) error
	RecentFills(ctx context.Context, limit int) ([]Fill, error)
	Close() error
}

// MarketData источник свечей
type MarketData interface {
	GetBars(ctx context.Context, symbol, interval string, since time.Time) ([]Bar, error)
}

// Broker определяет интерфейс брокера
type Broker interface {
	GetQuote(ctx context.Context, symbol string) (float64, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	GetOpenPositions(ctx context.Context) ([]BrokerPosition, error)
}

// Verifier внешний фильтр неблагоприятных событий
type Verifier interface {
	Verify(ctx context.Context, symbol string, vc VerifyContext) (Verdict, error)
}

// Notifier канал уведомлений. Notify не должен блокировать вызывающего.
type Notifier interface {
	Notify(message string)
}
