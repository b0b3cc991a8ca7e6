package execution

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kirillm/orb-bot/internal/domain"
	"github.com/kirillm/orb-bot/internal/retry"
)

// QuoteSource источник текущих котировок
type QuoteSource interface {
	GetQuote(ctx context.Context, symbol string) (float64, error)
}

// PriceFailover получает котировку у брокера, а при его недоступности
// берет закрытие последней свечи, если оно не старше maxAge
type PriceFailover struct {
	primary QuoteSource
	policy  retry.Policy
	maxAge  time.Duration
	logger  *zap.Logger
}

// NewPriceFailover создает failover
func NewPriceFailover(primary QuoteSource, policy retry.Policy, maxAge time.Duration, logger *zap.Logger) *PriceFailover {
	return &PriceFailover{
		primary: primary,
		policy:  policy,
		maxAge:  maxAge,
		logger:  logger,
	}
}

// GetPrice возвращает цену в единицах котировки.
// Ошибка авторизации не маскируется запасным источником.
func (pf *PriceFailover) GetPrice(ctx context.Context, symbol string, obs domain.Observation, now time.Time) (float64, error) {
	price, err := retry.Do(ctx, pf.policy, pf.logger, "quote "+symbol, func(ctx context.Context) (float64, error) {
		return pf.primary.GetQuote(ctx, symbol)
	})
	if err == nil && price > 0 {
		return price, nil
	}
	if err != nil && isFatal(err) {
		return 0, err
	}

	if obs.Stale || obs.LastClose <= 0 {
		return 0, fmt.Errorf("%w: no quote for %s: %v", domain.ErrDataUnavailable, symbol, err)
	}
	if age := now.Sub(obs.LastBarAt); age > pf.maxAge {
		return 0, fmt.Errorf("%w: last close for %s is %v old", domain.ErrDataUnavailable, symbol, age)
	}

	pf.logger.Warn("using last bar close as quote",
		zap.String("symbol", symbol),
		zap.Float64("price", obs.LastClose),
		zap.Error(err))
	return obs.LastClose, nil
}
