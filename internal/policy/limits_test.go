package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillm/orb-bot/internal/domain"
)

const profilesYAML = `
risk_profiles:
  conservative:
    drawdown_cap: 1000
    seed_capital: 1000
    scaling_fraction: 0.5
    min_relative_volume: 1.5
    max_slippage_fraction: 0.002
    target_multiple: 2
    price_denomination_rules:
      - pattern: '\.L$'
        divisor: 100
  aggressive:
    drawdown_cap: 2500
    seed_capital: 1000
    scaling_fraction: 0.8
    min_relative_volume: 0
    max_slippage_fraction: 0.005
    target_multiple: 3
    allocation_fraction: 0.25
    quantity_step: 1
    min_range_fraction: 0.002
  incomplete:
    drawdown_cap: 1000
    seed_capital: 1000
`

func TestParseLimitsDefaults(t *testing.T) {
	limits, err := ParseLimits([]byte(profilesYAML), "")
	require.NoError(t, err)

	assert.Equal(t, DefaultProfile, limits.ProfileName)
	assert.Equal(t, 1000.0, limits.DrawdownCap)
	assert.Equal(t, 0.002, limits.MaxSlippageFraction)
	assert.Equal(t, 1.0, limits.AllocationFraction)
	assert.Equal(t, 0.1, limits.QuantityStep)
	assert.Zero(t, limits.MinRangeFraction)
	require.Len(t, limits.PriceDenominationRules, 1)
	assert.Equal(t, 100.0, limits.PriceDenominationRules[0].Divisor)
}

func TestParseLimitsOptionalFields(t *testing.T) {
	limits, err := ParseLimits([]byte(profilesYAML), "aggressive")
	require.NoError(t, err)

	assert.Equal(t, 0.25, limits.AllocationFraction)
	assert.Equal(t, 1.0, limits.QuantityStep)
	assert.Equal(t, 0.002, limits.MinRangeFraction)
	assert.Zero(t, limits.MinRelativeVolume, "explicit zero is allowed")
}

func TestParseLimitsRejectsMissingFields(t *testing.T) {
	_, err := ParseLimits([]byte(profilesYAML), "incomplete")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Contains(t, err.Error(), "scaling_fraction")
	assert.Contains(t, err.Error(), "target_multiple")
}

func TestParseLimitsErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		profile string
	}{
		{"unknown profile", profilesYAML, "yolo"},
		{"bad yaml", "risk_profiles: [", ""},
		{"bad regexp", `
risk_profiles:
  conservative:
    drawdown_cap: 1
    seed_capital: 1
    scaling_fraction: 0.5
    min_relative_volume: 1
    max_slippage_fraction: 0.01
    target_multiple: 2
    price_denomination_rules:
      - pattern: '(('
        divisor: 100
`, ""},
		{"negative cap", `
risk_profiles:
  conservative:
    drawdown_cap: -1
    seed_capital: 1
    scaling_fraction: 0.5
    min_relative_volume: 1
    max_slippage_fraction: 0.01
    target_multiple: 2
`, ""},
		{"scaling above one", `
risk_profiles:
  conservative:
    drawdown_cap: 1
    seed_capital: 1
    scaling_fraction: 1.5
    min_relative_volume: 1
    max_slippage_fraction: 0.01
    target_multiple: 2
`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLimits([]byte(tt.yaml), tt.profile)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestLoadLimitsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(profilesYAML), 0o600))

	limits, err := LoadLimits(path, "aggressive")
	require.NoError(t, err)
	assert.Equal(t, 3.0, limits.TargetMultiple)

	_, err = LoadLimits(filepath.Join(t.TempDir(), "missing.yaml"), "")
	assert.Error(t, err)
}

func TestDenominator(t *testing.T) {
	d, err := NewDenominator([]DenominationRule{
		{Pattern: `^BARC`, Divisor: 1000},
		{Pattern: `\.L$`, Divisor: 100},
	})
	require.NoError(t, err)

	assert.Equal(t, 150.0, d.Normalize("VOD.L", 15000))
	assert.Equal(t, 15.0, d.Normalize("BARC.L", 15000), "first matching rule wins")
	assert.Equal(t, 15000.0, d.Normalize("AAPL", 15000))

	_, err = NewDenominator([]DenominationRule{{Pattern: "x", Divisor: 0}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
