package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillm/orb-bot/internal/orchestrator"
	"github.com/kirillm/orb-bot/internal/telegram"
)

func newTickCmd(flags *globalFlags) *cobra.Command {
	var (
		symbols []string
		dryRun  bool
	)

	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one tick over the given symbols",
		Long: `Run one tick: load the ledger, reconcile with the broker, then step every
symbol and every open position once.

In dry-run mode gates are evaluated and intended orders are logged, but no
order is placed and the ledger file is not written.

Example:
  orb-bot tick --symbols VOD,BP,AAL --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if len(symbols) == 0 {
				symbols = cfg.Symbols
			}
			symbols = normalizeSymbols(symbols)
			if len(symbols) == 0 {
				return fmt.Errorf("no symbols: pass --symbols or set SYMBOLS")
			}

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.runner.RunTick(cmd.Context(), orchestrator.Options{
				Symbols: symbols,
				DryRun:  dryRun,
			})
			if report != nil {
				printReport(cmd.OutOrStdout(), report)
			}
			return err
		},
	}

	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "comma separated symbols (default SYMBOLS)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "evaluate gates without placing orders or writing the ledger")
	return cmd
}

// normalizeSymbols приводит символы к верхнему регистру и убирает пустые
func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func printReport(w io.Writer, r *orchestrator.Report) {
	mode := "live"
	if r.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(w, "tick %s session %s (%s) took %s\n", r.TickID, r.SessionDate, mode, telegram.FormatDuration(r.Took))
	if r.StateCorrupt {
		fmt.Fprintln(w, "WARNING: ledger failed validation and was reset to defaults")
	}
	for _, o := range r.Outcomes {
		line := fmt.Sprintf("  %-8s %-9s %-14s", o.Symbol, o.Status, o.Action)
		if o.Gate != "" {
			line += " gate=" + o.Gate
		}
		if o.PnL != 0 {
			line += fmt.Sprintf(" pnl=%.2f", o.PnL)
		}
		if o.Reason != "" {
			line += " " + o.Reason
		}
		fmt.Fprintln(w, line)
	}
	if len(r.Deferred) > 0 {
		fmt.Fprintf(w, "  deferred: %s\n", strings.Join(r.Deferred, ", "))
	}
	if !r.Saved && !r.DryRun {
		fmt.Fprintln(w, "ledger NOT saved")
	}
}
