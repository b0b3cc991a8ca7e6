package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kirillm/orb-bot/internal/config"
	"github.com/kirillm/orb-bot/internal/domain"
	"github.com/kirillm/orb-bot/internal/execution"
	"github.com/kirillm/orb-bot/internal/orchestrator"
	"github.com/kirillm/orb-bot/internal/storage"
	"github.com/kirillm/orb-bot/internal/telegram"
	"github.com/kirillm/orb-bot/internal/verifier"
)

const testProfiles = `
risk_profiles:
  conservative:
    drawdown_cap: 1000
    seed_capital: 1000
    scaling_fraction: 0.5
    min_relative_volume: 1.5
    max_slippage_fraction: 0.002
    target_multiple: 2
`

// setupEnv готовит окружение с леджером и журналом во временном каталоге
func setupEnv(t *testing.T, journalDriver string) string {
	t.Helper()
	dir := t.TempDir()

	profiles := filepath.Join(dir, "risk_profiles.yaml")
	require.NoError(t, os.WriteFile(profiles, []byte(testProfiles), 0o600))

	t.Setenv("LEDGER_PATH", filepath.Join(dir, "ledger.json"))
	t.Setenv("RISK_PROFILE_PATH", profiles)
	t.Setenv("VERIFIER_MODE", "disabled")
	t.Setenv("BROKER_MODE", "paper")
	t.Setenv("JOURNAL_DRIVER", journalDriver)
	t.Setenv("JOURNAL_PATH", filepath.Join(dir, "journal.db"))
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestResetRequiresConfirmation(t *testing.T) {
	setupEnv(t, config.JournalNone)

	_, err := execute(t, "reset")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
}

func TestResetThenStatus(t *testing.T) {
	dir := setupEnv(t, config.JournalSQLite)

	out, err := execute(t, "reset", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "seed capital 1000.00")
	assert.FileExists(t, filepath.Join(dir, "ledger.json"))

	out, err = execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "profile:          conservative")
	assert.Contains(t, out, "ceiling:          1000.00")
	assert.Contains(t, out, "open positions:   0")
}

func TestStatusReportsCorruptLedger(t *testing.T) {
	dir := setupEnv(t, config.JournalNone)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ledger.json"), []byte("{"), 0o600))

	out, err := execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "WARNING")
	assert.Contains(t, out, "seed capital:     1000.00")
}

func seedLedger(t *testing.T, dir string, missingTicks int) {
	t.Helper()
	state := domain.NewLedgerState(1000, "2026-03-04")
	state.PutPosition(domain.Position{
		Symbol: "VOD", EntryPrice: 100, Quantity: 5, TargetPrice: 110, StopPrice: 95,
		Status: domain.StatusOpen, OpenedAt: time.Date(2026, 3, 4, 8, 30, 0, 0, time.UTC),
		MissingTicks: missingTicks,
	})
	store := storage.NewFileLedgerStore(filepath.Join(dir, "ledger.json"), nil, zap.NewNop())
	require.NoError(t, store.Save(context.Background(), state))
}

func TestResolveDropsUnresolvedPosition(t *testing.T) {
	dir := setupEnv(t, config.JournalNone)
	seedLedger(t, dir, domain.MissingTicksLimit)

	out, err := execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "UNRESOLVED")
	assert.Contains(t, out, "available:        1000.00")

	_, err = execute(t, "resolve", "vod")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")

	out, err = execute(t, "resolve", "vod", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "dropped VOD qty=5")

	out, err = execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "open positions:   0")
	assert.Contains(t, out, "closed today:     [VOD]")
}

func TestResolveNeedsForceBeforeHandover(t *testing.T) {
	dir := setupEnv(t, config.JournalNone)
	seedLedger(t, dir, 1)

	_, err := execute(t, "resolve", "VOD", "--yes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	out, err := execute(t, "resolve", "VOD", "--yes", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "dropped VOD")

	_, err = execute(t, "resolve", "VOD", "--yes", "--force")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestDecisionsNeedsSQLJournal(t *testing.T) {
	setupEnv(t, config.JournalNone)

	_, err := execute(t, "decisions", "01JTICK")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keeps no decisions")
}

func TestDecisionsEmptyTick(t *testing.T) {
	setupEnv(t, config.JournalSQLite)

	out, err := execute(t, "decisions", "01JTICK")
	require.NoError(t, err)
	assert.Contains(t, out, "no decisions recorded")
}

func TestTickRequiresSymbols(t *testing.T) {
	setupEnv(t, config.JournalNone)
	t.Setenv("SYMBOLS", "")

	_, err := execute(t, "tick", "--dry-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no symbols")
}

func TestConfigErrorSurfaces(t *testing.T) {
	setupEnv(t, config.JournalNone)
	t.Setenv("VERIFIER_MODE", "")

	_, err := execute(t, "status")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestNormalizeSymbols(t *testing.T) {
	assert.Equal(t, []string{"VOD.L", "BP.L"}, normalizeSymbols([]string{" vod.l", "", "BP.L "}))
	assert.Empty(t, normalizeSymbols(nil))
}

func TestNewVerifierByMode(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name string
		cfg  config.VerifierConfig
		want interface{}
	}{
		{"http", config.VerifierConfig{Mode: verifier.ModeHTTP, URL: "http://localhost"}, &verifier.HTTPVerifier{}},
		{"llm", config.VerifierConfig{Mode: verifier.ModeLLM, LLMBaseURL: "http://localhost", LLMModels: []string{"a", "b"}}, &verifier.Council{}},
		{"disabled", config.VerifierConfig{Mode: verifier.ModeDisabled}, verifier.Disabled{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newVerifier(&config.Config{Verifier: tt.cfg}, logger)
			assert.IsType(t, tt.want, v)
		})
	}
}

func TestNewNotifierFallsBackToLog(t *testing.T) {
	n := newNotifier(&config.Config{}, zap.NewNop())
	assert.IsType(t, &telegram.LogNotifier{}, n)
}

func TestPrintReport(t *testing.T) {
	var out bytes.Buffer
	printReport(&out, &orchestrator.Report{
		TickID:      "01JTICK",
		SessionDate: "2026-03-04",
		Took:        1500 * time.Millisecond,
		Outcomes: []execution.Outcome{
			{Symbol: "VOD.L", Status: domain.StatusOpen, Action: execution.ActionEntered},
			{Symbol: "BP.L", Status: domain.StatusArmed, Action: execution.ActionRejected, Gate: "volume", Reason: "rvol 0.80 below 1.50"},
			{Symbol: "AAL.L", Status: domain.StatusClosed, Action: execution.ActionExited, PnL: 12.5, Reason: domain.ExitTarget},
		},
		Deferred: []string{"RIO.L"},
	})

	text := out.String()
	assert.Contains(t, text, "tick 01JTICK session 2026-03-04 (live)")
	assert.Contains(t, text, "gate=volume rvol 0.80 below 1.50")
	assert.Contains(t, text, "pnl=12.50 target")
	assert.Contains(t, text, "deferred: RIO.L")
	assert.Contains(t, text, "ledger NOT saved")
}
