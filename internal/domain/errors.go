package domain

import "errors"

var (
	// ErrDataUnavailable рыночные данные недоступны.
	// Повторяется с backoff, затем символ пропускается в текущем тике.
	ErrDataUnavailable = errors.New("market data unavailable")

	// ErrRateLimited внешний сервис ограничил частоту запросов
	ErrRateLimited = errors.New("rate limited")

	// ErrAuthFailure брокер отклонил ключи.
	// Фатально: тик прерывается, леджер не изменяется.
	ErrAuthFailure = errors.New("broker authentication failed")

	// ErrStateCorrupt сохраненный леджер не прошел валидацию схемы.
	// Хранилище при этом возвращает безопасные значения по умолчанию.
	ErrStateCorrupt = errors.New("persisted ledger failed validation")

	// ErrStateUnavailable носитель леджера недоступен для чтения или записи
	ErrStateUnavailable = errors.New("ledger storage unavailable")

	// ErrSlippageViolation цена исполнения слишком далеко от цены триггера
	ErrSlippageViolation = errors.New("fill slippage exceeds threshold")

	// ErrCircuitBreakerTripped превышен лимит просадки за сессию
	ErrCircuitBreakerTripped = errors.New("circuit breaker tripped")

	// ErrVerifierUnavailable внешний верификатор не ответил
	ErrVerifierUnavailable = errors.New("verifier unavailable")

	// ErrOrderRejected брокер отклонил ордер
	ErrOrderRejected = errors.New("order rejected by broker")

	// ErrInvalidInput некорректный запрос или конфигурация
	ErrInvalidInput = errors.New("invalid input")
)

// IsTransient сообщает, имеет ли смысл повторять запрос
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrDataUnavailable) ||
		errors.Is(err, ErrVerifierUnavailable)
}
