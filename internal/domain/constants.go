package domain

// Стороны ордера
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Типы ордеров
const (
	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
)

// Статусы ордера, которые возвращает брокер
const (
	OrderStatusFilled    = "FILLED"
	OrderStatusPartial   = "PARTIALLY_FILLED"
	OrderStatusRejected  = "REJECTED"
	OrderStatusCancelled = "CANCELLED"
)

// PositionStatus состояние символа внутри торговой сессии
type PositionStatus string

const (
	StatusArmed     PositionStatus = "ARMED"
	StatusTriggered PositionStatus = "TRIGGERED"
	StatusOpen      PositionStatus = "OPEN"
	StatusClosed    PositionStatus = "CLOSED"
	// StatusHalted действует на всю сессию: сработал circuit breaker
	StatusHalted PositionStatus = "HALTED"
)

// Причины выхода из позиции
const (
	ExitTarget   = "target"
	ExitStop     = "stop"
	ExitSlippage = "slippage"
)

// SessionDateLayout формат LedgerState.LastSessionDate
const SessionDateLayout = "2006-01-02"

// LedgerVersion версия схемы леджера
const LedgerVersion = 1
