package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// LedgerState сохраняемый леджер счета. Один на счет, передается по указателю
// через весь тик и записывается атомарно.
type LedgerState struct {
	Version                  int        `json:"version"`
	SeedCapital              float64    `json:"seed_capital"`
	RealizedProfitCumulative float64    `json:"realized_profit_cumulative"`
	ScalingUnlocked          bool       `json:"scaling_unlocked"`
	SessionLossToDate        float64    `json:"session_loss_to_date"`
	CircuitBreakerTripped    bool       `json:"circuit_breaker_tripped"`
	CircuitBreakerReason     string     `json:"circuit_breaker_reason,omitempty"`
	LastSessionDate          string     `json:"last_session_date"`
	OpenPositions            []Position `json:"open_positions"`

	// Данные текущей сессии, сбрасываются при смене дня
	OpeningRanges map[string]OpeningRange `json:"opening_ranges,omitempty"`
	ClosedSymbols []string                `json:"closed_symbols,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewLedgerState возвращает значения по умолчанию для нового счета
func NewLedgerState(seedCapital float64, sessionDate string) *LedgerState {
	return &LedgerState{
		Version:         LedgerVersion,
		SeedCapital:     seedCapital,
		LastSessionDate: sessionDate,
		OpenPositions:   []Position{},
	}
}

// Clone возвращает глубокую копию
func (s *LedgerState) Clone() *LedgerState {
	c := *s
	c.OpenPositions = append([]Position{}, s.OpenPositions...)
	if s.OpeningRanges != nil {
		c.OpeningRanges = make(map[string]OpeningRange, len(s.OpeningRanges))
		for k, v := range s.OpeningRanges {
			c.OpeningRanges[k] = v
		}
	}
	if s.ClosedSymbols != nil {
		c.ClosedSymbols = append([]string{}, s.ClosedSymbols...)
	}
	return &c
}

// TotalEquity стартовый капитал плюс реализованная прибыль
func (s *LedgerState) TotalEquity() float64 {
	return s.SeedCapital + s.RealizedProfitCumulative
}

// Position возвращает открытую позицию по символу
func (s *LedgerState) Position(symbol string) (Position, bool) {
	for _, p := range s.OpenPositions {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return Position{}, false
}

// PutPosition добавляет или заменяет позицию по p.Symbol
func (s *LedgerState) PutPosition(p Position) {
	p.OpenedAt = p.OpenedAt.UTC()
	for i := range s.OpenPositions {
		if s.OpenPositions[i].Symbol == p.Symbol {
			s.OpenPositions[i] = p
			return
		}
	}
	s.OpenPositions = append(s.OpenPositions, p)
	sort.Slice(s.OpenPositions, func(i, j int) bool {
		return s.OpenPositions[i].Symbol < s.OpenPositions[j].Symbol
	})
}

// RemovePosition удаляет позицию по символу
func (s *LedgerState) RemovePosition(symbol string) (Position, bool) {
	for i, p := range s.OpenPositions {
		if p.Symbol == symbol {
			s.OpenPositions = append(s.OpenPositions[:i], s.OpenPositions[i+1:]...)
			return p, true
		}
	}
	return Position{}, false
}

// OpenExposure суммарный объем открытых позиций без неразрешенных
func (s *LedgerState) OpenExposure() float64 {
	total := 0.0
	for _, p := range s.OpenPositions {
		if p.Unresolved() {
			continue
		}
		total += p.Notional()
	}
	return total
}

// IsClosedForSession проверяет, завершил ли символ сделку в этой сессии
func (s *LedgerState) IsClosedForSession(symbol string) bool {
	for _, c := range s.ClosedSymbols {
		if c == symbol {
			return true
		}
	}
	return false
}

// MarkClosed отмечает символ как CLOSED до конца сессии
func (s *LedgerState) MarkClosed(symbol string) {
	if s.IsClosedForSession(symbol) {
		return
	}
	s.ClosedSymbols = append(s.ClosedSymbols, symbol)
	sort.Strings(s.ClosedSymbols)
}

// TripCircuitBreaker взводит флаг остановки сессии. Снимается только при смене сессии.
func (s *LedgerState) TripCircuitBreaker(reason string) bool {
	if s.CircuitBreakerTripped {
		return false
	}
	s.CircuitBreakerTripped = true
	s.CircuitBreakerReason = reason
	return true
}

// RollSession сбрасывает данные сессии, если дата сменилась.
// Открытые позиции и флаг масштабирования сохраняются.
func (s *LedgerState) RollSession(date string) bool {
	if s.LastSessionDate == date {
		return false
	}
	s.LastSessionDate = date
	s.SessionLossToDate = 0
	s.CircuitBreakerTripped = false
	s.CircuitBreakerReason = ""
	s.OpeningRanges = nil
	s.ClosedSymbols = nil
	return true
}

// Validate проверяет схему загруженного леджера
func (s *LedgerState) Validate() error {
	if s.Version != LedgerVersion {
		return fmt.Errorf("unsupported ledger version %d", s.Version)
	}
	if !positiveFinite(s.SeedCapital) {
		return fmt.Errorf("seed_capital must be positive, got %v", s.SeedCapital)
	}
	if !finite(s.RealizedProfitCumulative) {
		return fmt.Errorf("realized_profit_cumulative is not finite")
	}
	if !finite(s.SessionLossToDate) || s.SessionLossToDate < 0 {
		return fmt.Errorf("session_loss_to_date must be >= 0, got %v", s.SessionLossToDate)
	}
	if s.LastSessionDate != "" {
		if _, err := time.Parse(SessionDateLayout, s.LastSessionDate); err != nil {
			return fmt.Errorf("last_session_date: %w", err)
		}
	}
	if s.OpenPositions == nil {
		return fmt.Errorf("open_positions is missing")
	}

	seen := make(map[string]bool, len(s.OpenPositions))
	for _, p := range s.OpenPositions {
		if p.Symbol == "" {
			return fmt.Errorf("open position without symbol")
		}
		if seen[p.Symbol] {
			return fmt.Errorf("duplicate open position for %s", p.Symbol)
		}
		seen[p.Symbol] = true

		if p.Status != StatusOpen {
			return fmt.Errorf("position %s has status %s, want %s", p.Symbol, p.Status, StatusOpen)
		}
		if !positiveFinite(p.Quantity) || !positiveFinite(p.EntryPrice) ||
			!positiveFinite(p.TargetPrice) || !positiveFinite(p.StopPrice) {
			return fmt.Errorf("position %s has non-positive quantity or prices", p.Symbol)
		}
		if p.MissingTicks < 0 {
			return fmt.Errorf("position %s has negative missing ticks %d", p.Symbol, p.MissingTicks)
		}
	}

	for sym, r := range s.OpeningRanges {
		if r.High < r.Low || !finite(r.High) || !finite(r.Low) {
			return fmt.Errorf("opening range for %s is inverted", sym)
		}
	}

	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func positiveFinite(v float64) bool {
	return finite(v) && v > 0
}
