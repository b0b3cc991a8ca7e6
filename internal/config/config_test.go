package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillm/orb-bot/internal/domain"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("VERIFIER_MODE", "disabled")
	t.Setenv("BROKER_MODE", "paper")
	t.Setenv("JOURNAL_DRIVER", "none")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "data/ledger.json", cfg.LedgerPath)
	assert.Equal(t, "conservative", cfg.PolicyProfile)
	assert.Equal(t, 8*time.Hour, cfg.Session.Open)
	assert.Equal(t, 15*time.Minute, cfg.Session.OpeningWindow)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, time.Second}, cfg.Retry.Backoff)
	assert.Equal(t, 4*time.Minute, cfg.TickBudget)

	session, err := cfg.MarketSession()
	require.NoError(t, err)
	assert.Equal(t, "Europe/London", session.Location.String())

	p := cfg.RetryPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.True(t, p.FailClosed)
}

func TestLoadParsesLists(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("SYMBOLS", "VOD.L, AAL.L,,BP.L")
	t.Setenv("SESSION_OPEN", "14:30")
	t.Setenv("SESSION_TIMEZONE", "UTC")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"VOD.L", "AAL.L", "BP.L"}, cfg.Symbols)
	assert.Equal(t, 14*time.Hour+30*time.Minute, cfg.Session.Open)
}

func TestLoadFromEnvFile(t *testing.T) {
	setBaseEnv(t)
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("LEDGER_PATH=/tmp/x.json\nBASELINE_DAYS=5\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("LEDGER_PATH")
		os.Unsetenv("BASELINE_DAYS")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.json", cfg.LedgerPath)
	assert.Equal(t, 5, cfg.Session.BaselineDays)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		value  string
		errMsg string
	}{
		{"missing verifier mode", "VERIFIER_MODE", "", "VERIFIER_MODE is required"},
		{"unknown verifier mode", "VERIFIER_MODE", "maybe", "unknown VERIFIER_MODE"},
		{"http verifier without url", "VERIFIER_MODE", "http", "VERIFIER_URL"},
		{"bad broker mode", "BROKER_MODE", "yolo", "BROKER_MODE"},
		{"live without key", "BROKER_MODE", "live", "BROKER_API_KEY"},
		{"bad duration", "TICK_BUDGET", "soon", "invalid TICK_BUDGET"},
		{"bad clock", "SESSION_OPEN", "8am", "invalid SESSION_OPEN"},
		{"bad timezone", "SESSION_TIMEZONE", "Mars/Olympus", "SESSION_TIMEZONE"},
		{"postgres without password", "JOURNAL_DRIVER", "postgres", "DB_PASSWORD"},
		{"window longer than cutoff", "OPENING_WINDOW", "1h", "data cutoff"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidateWrapsInvalidInput(t *testing.T) {
	setBaseEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Telegram.BotToken = "token"
	err = cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}
