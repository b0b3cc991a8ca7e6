package execution

import (
	"fmt"
	"math"

	"github.com/kirillm/orb-bot/internal/domain"
)

// SlippageGuard сравнивает цену исполнения с ценой триггера
type SlippageGuard struct {
	maxFraction float64
}

// NewSlippageGuard создает guard. maxFraction 0.002 означает 0.2%.
func NewSlippageGuard(maxFraction float64) *SlippageGuard {
	return &SlippageGuard{maxFraction: maxFraction}
}

// CheckSlippage возвращает ошибку domain.ErrSlippageViolation,
// если |fill - trigger| / trigger больше порога
func (sg *SlippageGuard) CheckSlippage(fillPrice, triggerPrice float64) error {
	if triggerPrice <= 0 {
		return fmt.Errorf("%w: invalid trigger price %.4f", domain.ErrInvalidInput, triggerPrice)
	}

	deviation := sg.Deviation(fillPrice, triggerPrice)
	if deviation > sg.maxFraction {
		return fmt.Errorf("%w: %.4f%% (threshold: %.4f%%)",
			domain.ErrSlippageViolation, deviation*100, sg.maxFraction*100)
	}

	return nil
}

// Deviation вычисляет относительное отклонение цены исполнения
func (sg *SlippageGuard) Deviation(fillPrice, triggerPrice float64) float64 {
	if triggerPrice <= 0 {
		return 0
	}
	return math.Abs(fillPrice-triggerPrice) / triggerPrice
}

// Threshold возвращает текущий порог
func (sg *SlippageGuard) Threshold() float64 {
	return sg.maxFraction
}
