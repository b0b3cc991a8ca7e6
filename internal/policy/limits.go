package policy

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kirillm/orb-bot/internal/domain"
)

// DefaultProfile используется, если POLICY_PROFILE не задан
const DefaultProfile = "conservative"

// DenominationRule переводит котировки символов, совпавших с Pattern,
// в основные единицы делением на Divisor (например пенсы в фунты)
type DenominationRule struct {
	Pattern string  `yaml:"pattern"`
	Divisor float64 `yaml:"divisor"`
}

// RiskLimits неизменяемый профиль риск-менеджмента
type RiskLimits struct {
	ProfileName            string
	DrawdownCap            float64
	SeedCapital            float64
	ScalingFraction        float64
	MinRelativeVolume      float64
	MaxSlippageFraction    float64
	TargetMultiple         float64
	PriceDenominationRules []DenominationRule

	// Необязательные параметры с документированными значениями по умолчанию
	AllocationFraction float64 // доля свободного лимита на один вход, 1.0
	QuantityStep       float64 // шаг количества, 0.1
	MinRangeFraction   float64 // минимальная ширина диапазона к его максимуму, 0 = выкл
}

// rawLimits отражает YAML. Указатели позволяют отличить "не задано" от нуля.
type rawLimits struct {
	DrawdownCap            *float64           `yaml:"drawdown_cap"`
	SeedCapital            *float64           `yaml:"seed_capital"`
	ScalingFraction        *float64           `yaml:"scaling_fraction"`
	MinRelativeVolume      *float64           `yaml:"min_relative_volume"`
	MaxSlippageFraction    *float64           `yaml:"max_slippage_fraction"`
	TargetMultiple         *float64           `yaml:"target_multiple"`
	PriceDenominationRules []DenominationRule `yaml:"price_denomination_rules"`
	AllocationFraction     *float64           `yaml:"allocation_fraction"`
	QuantityStep           *float64           `yaml:"quantity_step"`
	MinRangeFraction       *float64           `yaml:"min_range_fraction"`
}

// LoadLimits загружает профиль из YAML файла с секцией risk_profiles
func LoadLimits(path, profileName string) (*RiskLimits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read risk profile: %w", err)
	}
	return ParseLimits(data, profileName)
}

// ParseLimits разбирает YAML и выбирает профиль
func ParseLimits(data []byte, profileName string) (*RiskLimits, error) {
	var config struct {
		RiskProfiles map[string]rawLimits `yaml:"risk_profiles"`
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: risk profile yaml: %v", domain.ErrInvalidInput, err)
	}

	if profileName == "" {
		profileName = DefaultProfile
	}

	raw, ok := config.RiskProfiles[profileName]
	if !ok {
		return nil, fmt.Errorf("%w: policy profile %s not found", domain.ErrInvalidInput, profileName)
	}

	limits, err := raw.resolve()
	if err != nil {
		return nil, fmt.Errorf("%w: profile %s: %v", domain.ErrInvalidInput, profileName, err)
	}
	limits.ProfileName = profileName

	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", profileName, err)
	}
	return limits, nil
}

func (r rawLimits) resolve() (*RiskLimits, error) {
	required := []struct {
		name string
		v    *float64
	}{
		{"drawdown_cap", r.DrawdownCap},
		{"seed_capital", r.SeedCapital},
		{"scaling_fraction", r.ScalingFraction},
		{"min_relative_volume", r.MinRelativeVolume},
		{"max_slippage_fraction", r.MaxSlippageFraction},
		{"target_multiple", r.TargetMultiple},
	}
	var missing []string
	for _, f := range required {
		if f.v == nil {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required fields %v", missing)
	}

	limits := &RiskLimits{
		DrawdownCap:            *r.DrawdownCap,
		SeedCapital:            *r.SeedCapital,
		ScalingFraction:        *r.ScalingFraction,
		MinRelativeVolume:      *r.MinRelativeVolume,
		MaxSlippageFraction:    *r.MaxSlippageFraction,
		TargetMultiple:         *r.TargetMultiple,
		PriceDenominationRules: r.PriceDenominationRules,
		AllocationFraction:     1.0,
		QuantityStep:           0.1,
	}
	if r.AllocationFraction != nil {
		limits.AllocationFraction = *r.AllocationFraction
	}
	if r.QuantityStep != nil {
		limits.QuantityStep = *r.QuantityStep
	}
	if r.MinRangeFraction != nil {
		limits.MinRangeFraction = *r.MinRangeFraction
	}
	return limits, nil
}

// Validate проверяет диапазоны значений
func (l *RiskLimits) Validate() error {
	positive := []struct {
		name string
		v    float64
	}{
		{"drawdown_cap", l.DrawdownCap},
		{"seed_capital", l.SeedCapital},
		{"scaling_fraction", l.ScalingFraction},
		{"max_slippage_fraction", l.MaxSlippageFraction},
		{"target_multiple", l.TargetMultiple},
		{"allocation_fraction", l.AllocationFraction},
		{"quantity_step", l.QuantityStep},
	}
	for _, f := range positive {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %v", domain.ErrInvalidInput, f.name, f.v)
		}
	}

	if l.ScalingFraction > 1 {
		return fmt.Errorf("%w: scaling_fraction %v > 1", domain.ErrInvalidInput, l.ScalingFraction)
	}
	if l.AllocationFraction > 1 {
		return fmt.Errorf("%w: allocation_fraction %v > 1", domain.ErrInvalidInput, l.AllocationFraction)
	}
	if l.MaxSlippageFraction >= 1 {
		return fmt.Errorf("%w: max_slippage_fraction %v >= 1", domain.ErrInvalidInput, l.MaxSlippageFraction)
	}
	if l.MinRelativeVolume < 0 {
		return fmt.Errorf("%w: min_relative_volume must be >= 0", domain.ErrInvalidInput)
	}
	if l.MinRangeFraction < 0 || l.MinRangeFraction >= 1 {
		return fmt.Errorf("%w: min_range_fraction %v outside [0, 1)", domain.ErrInvalidInput, l.MinRangeFraction)
	}

	if _, err := NewDenominator(l.PriceDenominationRules); err != nil {
		return err
	}
	return nil
}

// WorstFill худшая допустимая цена покупки: триггер плюс допуск проскальзывания.
// По ней считаются размер, лимит капитала и limit цена входного ордера.
func (l *RiskLimits) WorstFill(price float64) float64 {
	return price * (1 + l.MaxSlippageFraction)
}
