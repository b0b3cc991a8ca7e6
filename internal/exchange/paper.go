package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kirillm/orb-bot/internal/domain"
)

// PaperBroker исполняет ордера по закрытию последней свечи без реального брокера.
// Позиции восстанавливаются из леджера, поэтому сверка при старте не видит расхождений.
type PaperBroker struct {
	data     domain.MarketData
	ledger   domain.LedgerStore
	interval string
	lookback time.Duration
	now      func() time.Time
	logger   *zap.Logger

	mu        sync.Mutex
	seeded    bool
	positions map[string]domain.BrokerPosition
}

// NewPaperBroker создает paper брокера поверх источника свечей
func NewPaperBroker(data domain.MarketData, ledger domain.LedgerStore, interval string, logger *zap.Logger) *PaperBroker {
	return &PaperBroker{
		data:      data,
		ledger:    ledger,
		interval:  interval,
		lookback:  24 * time.Hour,
		now:       time.Now,
		logger:    logger,
		positions: make(map[string]domain.BrokerPosition),
	}
}

// GetQuote возвращает закрытие последней свечи. Ноль никогда не возвращается.
func (p *PaperBroker) GetQuote(ctx context.Context, symbol string) (float64, error) {
	bars, err := p.data.GetBars(ctx, symbol, p.interval, p.now().Add(-p.lookback))
	if err != nil {
		return 0, err
	}
	for i := len(bars) - 1; i >= 0; i-- {
		if bars[i].Close > 0 {
			return bars[i].Close, nil
		}
	}
	return 0, fmt.Errorf("%w: no bars to quote %s", domain.ErrDataUnavailable, symbol)
}

// PlaceOrder исполняет ордер целиком по текущей котировке
func (p *PaperBroker) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: order quantity %v", domain.ErrInvalidInput, req.Quantity)
	}
	if err := p.seed(ctx); err != nil {
		return nil, err
	}

	price, err := p.GetQuote(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}

	if !limitReached(req, price) {
		p.logger.Info("paper limit order not filled",
			zap.String("symbol", req.Symbol),
			zap.String("side", req.Side),
			zap.Float64("limit_price", req.LimitPrice),
			zap.Float64("price", price))
		return &domain.OrderResult{OrderID: uuid.NewString(), Status: domain.OrderStatusCancelled}, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	held := p.positions[req.Symbol]
	switch req.Side {
	case domain.SideBuy:
		total := held.Quantity + req.Quantity
		held.AveragePrice = (held.AveragePrice*held.Quantity + price*req.Quantity) / total
		held.Quantity = total
		held.Symbol = req.Symbol
		p.positions[req.Symbol] = held
	case domain.SideSell:
		if req.Quantity > held.Quantity+1e-9 {
			return &domain.OrderResult{OrderID: uuid.NewString(), Status: domain.OrderStatusRejected},
				fmt.Errorf("%w: paper sell %v exceeds holding %v", domain.ErrOrderRejected, req.Quantity, held.Quantity)
		}
		held.Quantity -= req.Quantity
		if held.Quantity <= 1e-9 {
			delete(p.positions, req.Symbol)
		} else {
			p.positions[req.Symbol] = held
		}
	default:
		return nil, fmt.Errorf("%w: unknown side %q", domain.ErrInvalidInput, req.Side)
	}

	result := &domain.OrderResult{
		OrderID:        uuid.NewString(),
		FillPrice:      price,
		FilledQuantity: req.Quantity,
		Status:         domain.OrderStatusFilled,
	}
	p.logger.Info("paper order filled",
		zap.String("symbol", req.Symbol),
		zap.String("side", req.Side),
		zap.Float64("quantity", req.Quantity),
		zap.Float64("price", price),
		zap.String("order_id", result.OrderID))
	return result, nil
}

// GetOpenPositions возвращает позиции paper счета
func (p *PaperBroker) GetOpenPositions(ctx context.Context) ([]domain.BrokerPosition, error) {
	if err := p.seed(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.BrokerPosition, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	return out, nil
}

func (p *PaperBroker) seed(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.seeded || p.ledger == nil {
		return nil
	}
	state, err := p.ledger.Load(ctx)
	if err != nil && state == nil {
		return fmt.Errorf("paper broker seed: %w", err)
	}
	for _, pos := range state.OpenPositions {
		p.positions[pos.Symbol] = domain.BrokerPosition{
			Symbol:       pos.Symbol,
			Quantity:     pos.Quantity,
			AveragePrice: pos.EntryPrice,
		}
	}
	p.seeded = true
	return nil
}

var _ domain.Broker = (*PaperBroker)(nil)

// limitReached: market ордер исполняется всегда, limit только по цене не хуже лимита
func limitReached(req domain.OrderRequest, price float64) bool {
	if req.Type != domain.OrderTypeLimit {
		return true
	}
	if req.Side == domain.SideSell {
		return price >= req.LimitPrice
	}
	return price <= req.LimitPrice
}
