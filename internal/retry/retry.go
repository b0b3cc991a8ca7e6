package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kirillm/orb-bot/internal/domain"
)

// Policy описывает повторные попытки для одного внешнего вызова.
// Передается явно в каждой точке вызова.
type Policy struct {
	MaxAttempts       int
	Backoff           []time.Duration // пауза перед попыткой i+1; последняя повторяется
	PerAttemptTimeout time.Duration
	// FailClosed: при исчерпании попыток вызывающий трактует результат как отказ
	FailClosed bool
}

// Default политика для обращений к брокеру и данным
func Default() Policy {
	return Policy{
		MaxAttempts:       3,
		Backoff:           []time.Duration{250 * time.Millisecond, time.Second},
		PerAttemptTimeout: 5 * time.Second,
		FailClosed:        true,
	}
}

// Once политика без повторов, например для размещения ордеров
func (p Policy) Once() Policy {
	p.MaxAttempts = 1
	return p
}

func (p Policy) delay(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	if attempt >= len(p.Backoff) {
		return p.Backoff[len(p.Backoff)-1]
	}
	return p.Backoff[attempt]
}

// Do выполняет fn с учетом политики. Повторяются только временные ошибки
// (domain.IsTransient). Ошибка последней попытки возвращается обернутой.
func Do[T any](ctx context.Context, p Policy, logger *zap.Logger, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := p.delay(attempt - 1)
			logger.Debug("retrying",
				zap.String("op", op),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", wait),
				zap.Error(lastErr))

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, fmt.Errorf("%s: %w (last error: %v)", op, ctx.Err(), lastErr)
			case <-timer.C:
			}
		}

		result, err := call(ctx, p.PerAttemptTimeout, fn)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !domain.IsTransient(err) {
			return zero, fmt.Errorf("%s: %w", op, err)
		}
	}

	logger.Warn("retries exhausted",
		zap.String("op", op),
		zap.Int("attempts", attempts),
		zap.Error(lastErr))

	return zero, fmt.Errorf("%s after %d attempts: %w", op, attempts, lastErr)
}

func call[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}
