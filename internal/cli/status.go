package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kirillm/orb-bot/internal/capital"
	"github.com/kirillm/orb-bot/internal/domain"
	"github.com/kirillm/orb-bot/internal/policy"
)

// recentFillsLimit сколько последних исполнений показывает status
const recentFillsLimit = 10

// auditReader журнал с запросами по тику и сессии (SQL драйверы)
type auditReader interface {
	DecisionsForTick(ctx context.Context, tickID string) ([]domain.GateDecision, error)
	BreakerEvents(ctx context.Context, sessionDate string) ([]domain.CircuitBreakerEvent, error)
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the ledger, capital ceiling and recent fills",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			limits, err := policy.LoadLimits(cfg.RiskProfilePath, cfg.PolicyProfile)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			state, err := newStore(cfg, limits, logger).Load(ctx)
			if errors.Is(err, domain.ErrStateCorrupt) {
				fmt.Fprintf(cmd.OutOrStdout(), "WARNING: %v\n", err)
			} else if err != nil {
				return err
			}

			scaler := capital.NewScaler(limits.SeedCapital, limits.ScalingFraction)
			printLedger(cmd.OutOrStdout(), state, limits, scaler)

			journal, err := openJournal(ctx, cfg)
			if err != nil {
				logger.Warn("journal unavailable", zap.Error(err))
				return nil
			}
			defer journal.Close()

			fills, err := journal.RecentFills(ctx, recentFillsLimit)
			if err != nil {
				return fmt.Errorf("recent fills: %w", err)
			}
			printFills(cmd.OutOrStdout(), fills)

			if audit, ok := journal.(auditReader); ok && state.LastSessionDate != "" {
				events, err := audit.BreakerEvents(ctx, state.LastSessionDate)
				if err != nil {
					return fmt.Errorf("breaker events: %w", err)
				}
				for _, e := range events {
					fmt.Fprintf(cmd.OutOrStdout(), "breaker %s: %s (loss %.2f / cap %.2f)\n",
						e.TriggeredAt.Format("15:04:05"), e.Reason, e.SessionLoss, e.DrawdownCap)
				}
			}
			return nil
		},
	}
}

func newDecisionsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "decisions <tick-id>",
		Short: "List gauntlet decisions recorded for one tick",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := flags.load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			journal, err := openJournal(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer journal.Close()

			audit, ok := journal.(auditReader)
			if !ok {
				return fmt.Errorf("journal driver %q keeps no decisions", cfg.Journal.Driver)
			}
			decisions, err := audit.DecisionsForTick(ctx, args[0])
			if err != nil {
				return fmt.Errorf("decisions: %w", err)
			}
			printDecisions(cmd.OutOrStdout(), decisions)
			return nil
		},
	}
}

func newResetCmd(flags *globalFlags) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Overwrite the ledger with defaults",
		Long: `Overwrite the ledger with the defaults of the active risk profile.

Open positions, realized profit, the scaling flag and the circuit breaker are
all forgotten. Positions still held at the broker will block new entries on
their symbols until they are closed by hand.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("refusing to reset without --yes")
			}
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			limits, err := policy.LoadLimits(cfg.RiskProfilePath, cfg.PolicyProfile)
			if err != nil {
				return err
			}

			store := newStore(cfg, limits, logger)
			state, err := store.Reset(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ledger %s reset, seed capital %.2f\n", store.Path(), state.SeedCapital)
			return nil
		},
	}

	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm the reset")
	return cmd
}

func newResolveCmd(flags *globalFlags) *cobra.Command {
	var (
		confirm bool
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "resolve <symbol>",
		Short: "Drop a ledger position the broker no longer holds",
		Long: `Drop a ledger position that the broker has not reported for several ticks in a row.

The position is removed without recording a fill or profit, and the symbol is
closed for the rest of the session. Without --force only positions already
handed to the operator by reconciliation can be dropped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("refusing to resolve without --yes")
			}
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			limits, err := policy.LoadLimits(cfg.RiskProfilePath, cfg.PolicyProfile)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store := newStore(cfg, limits, logger)
			state, err := store.Load(ctx)
			if err != nil {
				return err
			}

			symbol := strings.ToUpper(strings.TrimSpace(args[0]))
			pos, ok := state.Position(symbol)
			if !ok {
				return fmt.Errorf("%w: no open position for %s", domain.ErrInvalidInput, symbol)
			}
			if !pos.Unresolved() && !force {
				return fmt.Errorf("%s missing at broker for %d of %d ticks, pass --force to drop it now",
					symbol, pos.MissingTicks, domain.MissingTicksLimit)
			}

			state.RemovePosition(symbol)
			state.MarkClosed(symbol)
			if err := store.Save(ctx, state); err != nil {
				return err
			}
			logger.Warn("ledger position dropped by operator",
				zap.String("symbol", symbol),
				zap.Float64("quantity", pos.Quantity),
				zap.Float64("entry_price", pos.EntryPrice),
				zap.Int("missing_ticks", pos.MissingTicks))
			fmt.Fprintf(cmd.OutOrStdout(), "dropped %s qty=%s entry=%.4f\n", symbol, trimQty(pos.Quantity), pos.EntryPrice)
			return nil
		},
	}

	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm the change")
	cmd.Flags().BoolVar(&force, "force", false, "drop the position before reconciliation hands it over")
	return cmd
}

func printLedger(w io.Writer, s *domain.LedgerState, limits *policy.RiskLimits, scaler *capital.Scaler) {
	fmt.Fprintf(w, "profile:          %s\n", limits.ProfileName)
	fmt.Fprintf(w, "session:          %s\n", s.LastSessionDate)
	fmt.Fprintf(w, "seed capital:     %.2f\n", s.SeedCapital)
	fmt.Fprintf(w, "realized profit:  %.2f\n", s.RealizedProfitCumulative)
	fmt.Fprintf(w, "scaling unlocked: %t\n", s.ScalingUnlocked)
	fmt.Fprintf(w, "ceiling:          %.2f\n", scaler.Ceiling(s))
	fmt.Fprintf(w, "available:        %.2f\n", scaler.Available(s))
	fmt.Fprintf(w, "session loss:     %.2f / %.2f\n", s.SessionLossToDate, limits.DrawdownCap)
	if s.CircuitBreakerTripped {
		fmt.Fprintf(w, "circuit breaker:  TRIPPED (%s)\n", s.CircuitBreakerReason)
	}
	if len(s.ClosedSymbols) > 0 {
		fmt.Fprintf(w, "closed today:     %v\n", s.ClosedSymbols)
	}

	fmt.Fprintf(w, "open positions:   %d\n", len(s.OpenPositions))
	for _, p := range s.OpenPositions {
		fmt.Fprintf(w, "  %-8s qty=%s entry=%.4f target=%.4f stop=%.4f opened=%s",
			p.Symbol, trimQty(p.Quantity), p.EntryPrice, p.TargetPrice, p.StopPrice,
			p.OpenedAt.Format("2006-01-02 15:04"))
		switch {
		case p.Unresolved():
			fmt.Fprintf(w, " UNRESOLVED: not at broker for %d ticks", p.MissingTicks)
		case p.MissingTicks > 0:
			fmt.Fprintf(w, " missing at broker %d/%d", p.MissingTicks, domain.MissingTicksLimit)
		}
		fmt.Fprintln(w)
	}
}

func printFills(w io.Writer, fills []domain.Fill) {
	if len(fills) == 0 {
		return
	}
	fmt.Fprintln(w, "recent fills:")
	for _, f := range fills {
		fmt.Fprintf(w, "  %s %-4s %-8s qty=%s price=%.4f %s",
			f.CreatedAt.Format("2006-01-02 15:04"), f.Side, f.Symbol, trimQty(f.Quantity), f.Price, f.Reason)
		if f.Side == domain.SideSell {
			fmt.Fprintf(w, " pnl=%.2f", f.RealizedPnL)
		}
		fmt.Fprintln(w)
	}
}

func printDecisions(w io.Writer, decisions []domain.GateDecision) {
	if len(decisions) == 0 {
		fmt.Fprintln(w, "no decisions recorded")
		return
	}
	for _, d := range decisions {
		verdict := "rejected"
		if d.Approved {
			verdict = "approved"
		}
		dry := ""
		if d.DryRun {
			dry = " (dry run)"
		}
		fmt.Fprintf(w, "%s %-8s %-8s gate=%s qty=%s price=%.4f ceiling=%.2f%s %s\n",
			d.CreatedAt.Format("15:04:05"), d.Symbol, verdict, d.Gate, trimQty(d.Quantity), d.Price, d.Ceiling, dry, d.Reason)
	}
}

func trimQty(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}
