package domain

import "time"

// Bar одна OHLCV свеча от поставщика данных
type Bar struct {
	Time   time.Time `json:"timestamp"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// TypicalPrice возвращает (high + low + close) / 3
func (b Bar) TypicalPrice() float64 {
	return (b.High + b.Low + b.Close) / 3
}

// OpeningRange максимум и минимум окна открытия, фиксируется один раз за сессию
type OpeningRange struct {
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	SessionDate string    `json:"session_date"`
	CapturedAt  time.Time `json:"captured_at"`
}

// Width возвращает high - low
func (r OpeningRange) Width() float64 {
	return r.High - r.Low
}

// Observation картина рынка по символу на один запуск. Не сохраняется.
type Observation struct {
	Symbol         string
	RangeHigh      float64
	RangeLow       float64
	VWAP           float64
	RelativeVolume float64
	SessionVolume  float64
	LastClose      float64
	LastBarAt      time.Time
	CapturedAt     time.Time

	// RangeReady false, пока окно открытия еще формируется
	RangeReady bool
	// Stale помечает заглушку: данных нет или они пришли после отсечки
	Stale       bool
	StaleReason string
}

// StaleObservation создает заглушку для символа
func StaleObservation(symbol string, asOf time.Time, reason string) Observation {
	return Observation{
		Symbol:      symbol,
		CapturedAt:  asOf,
		Stale:       true,
		StaleReason: reason,
	}
}

// Position открытая (или только что закрытая) сделка на пробой. Цены в основных единицах.
type Position struct {
	Symbol       string         `json:"symbol"`
	EntryPrice   float64        `json:"entry_price"`
	Quantity     float64        `json:"quantity"`
	TargetPrice  float64        `json:"target_price"`
	StopPrice    float64        `json:"stop_price"`
	Status       PositionStatus `json:"status"`
	OpenedAt     time.Time      `json:"opened_at"`
	TriggerPrice float64        `json:"trigger_price,omitempty"`
	OrderID      string         `json:"order_id,omitempty"`
	MissingTicks int            `json:"missing_ticks,omitempty"` // тиков подряд без позиции у брокера
}

// MissingTicksLimit сколько тиков подряд позиции может не быть у брокера,
// прежде чем она перейдет к оператору
const MissingTicksLimit = 3

// Notional возвращает quantity * entry price
func (p Position) Notional() float64 {
	return p.Quantity * p.EntryPrice
}

// Unresolved: позиции нет у брокера MissingTicksLimit тиков подряд.
// Такая позиция не входит в объем и не закрывается ордерами до решения оператора.
func (p Position) Unresolved() bool {
	return p.MissingTicks >= MissingTicksLimit
}

// OrderRequest запрос на исполнение ордера у брокера
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Quantity      float64
	Side          string
	Type          string
	LimitPrice    float64 // 0 для market ордеров
}

// OrderResult ответ брокера на PlaceOrder
type OrderResult struct {
	OrderID        string  `json:"order_id"`
	FillPrice      float64 `json:"fill_price"`
	FilledQuantity float64 `json:"filled_quantity"`
	Status         string  `json:"status"`
}

// Filled сообщает, исполнена ли хоть какая-то часть ордера
func (r *OrderResult) Filled() bool {
	return r != nil && r.FilledQuantity > 0 &&
		(r.Status == OrderStatusFilled || r.Status == OrderStatusPartial)
}

// BrokerPosition позиция по данным брокера
type BrokerPosition struct {
	Symbol       string  `json:"symbol"`
	Quantity     float64 `json:"quantity"`
	AveragePrice float64 `json:"average_price"`
}

// VerifyContext данные для внешнего верификатора
type VerifyContext struct {
	Price          float64   `json:"price"`
	Quantity       float64   `json:"quantity"`
	RangeHigh      float64   `json:"range_high"`
	RangeLow       float64   `json:"range_low"`
	VWAP           float64   `json:"vwap"`
	RelativeVolume float64   `json:"relative_volume"`
	AsOf           time.Time `json:"as_of"`
}

// Verdict ответ верификатора
type Verdict struct {
	Pass   bool   `json:"pass"`
	Reason string `json:"reason"`

	// Bypassed: вето не запрашивалось, проверка отключена оператором
	Bypassed bool `json:"-"`
}

// GateDecision запись аудита одной проверки гейтов
type GateDecision struct {
	ID        string
	TickID    string
	Symbol    string
	Approved  bool
	Gate      string
	Reason    string
	Quantity  float64
	Price     float64
	Ceiling   float64
	DryRun    bool
	CreatedAt time.Time
}

// Fill запись аудита исполненного ордера
type Fill struct {
	ID          string
	TickID      string
	Symbol      string
	Side        string
	Quantity    float64
	Price       float64
	OrderID     string
	Reason      string // entry, target, stop, slippage
	RealizedPnL float64
	CreatedAt   time.Time
}

// CircuitBreakerEvent запись о срабатывании circuit breaker
type CircuitBreakerEvent struct {
	ID          string
	SessionDate string
	Reason      string
	SessionLoss float64
	DrawdownCap float64
	TriggeredAt time.Time
}
