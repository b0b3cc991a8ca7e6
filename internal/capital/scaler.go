package capital

import (
	"math"

	"github.com/kirillm/orb-bot/internal/domain"
)

// Scaler вычисляет лимит капитала для новых входов.
// Пока прибыльность не доказана, лимит равен стартовому капиталу.
// Когда реализованная прибыль достигает стартового капитала, флаг
// scaling_unlocked взводится навсегда и лимит становится долей equity.
type Scaler struct {
	seedCapital     float64
	scalingFraction float64
}

// NewScaler создает scaler
func NewScaler(seedCapital, scalingFraction float64) *Scaler {
	return &Scaler{
		seedCapital:     seedCapital,
		scalingFraction: scalingFraction,
	}
}

// Promote взводит scaling_unlocked, если порог достигнут.
// Флаг никогда не сбрасывается. Возвращает true при переходе.
func (s *Scaler) Promote(state *domain.LedgerState) bool {
	if state.ScalingUnlocked {
		return false
	}
	if state.RealizedProfitCumulative >= s.seedCapital {
		state.ScalingUnlocked = true
		return true
	}
	return false
}

// Ceiling возвращает лимит капитала. Вызывает Promote.
func (s *Scaler) Ceiling(state *domain.LedgerState) float64 {
	s.Promote(state)
	if !state.ScalingUnlocked {
		return s.seedCapital
	}
	return math.Max(0, s.scalingFraction*state.TotalEquity())
}

// Record учитывает реализованный результат закрытой сделки.
// Убытки накапливаются в session_loss_to_date, прибыль их не компенсирует.
// Возвращает true, если сделка открыла масштабирование.
func (s *Scaler) Record(state *domain.LedgerState, realizedPnL float64) bool {
	state.RealizedProfitCumulative += realizedPnL
	if realizedPnL < 0 {
		state.SessionLossToDate += -realizedPnL
	}
	return s.Promote(state)
}

// Available возвращает свободную часть лимита
func (s *Scaler) Available(state *domain.LedgerState) float64 {
	return math.Max(0, s.Ceiling(state)-state.OpenExposure())
}
