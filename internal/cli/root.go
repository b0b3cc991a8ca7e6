package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kirillm/orb-bot/internal/config"
	"github.com/kirillm/orb-bot/pkg/utils"
)

// globalFlags флаги, общие для всех команд
type globalFlags struct {
	envFiles []string
	logLevel string
}

// NewRootCmd создает корневую команду orb-bot
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "orb-bot",
		Short: "Opening range breakout trader for one account",
		Long: `orb-bot runs one tick of an intraday opening range breakout strategy.

Each tick loads the ledger, reconciles it with the broker, captures the
opening range, checks open positions against target and stop, and passes
every new entry through the risk gauntlet before placing an order.

Schedule "orb-bot tick" from cron or a systemd timer during the session.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringSliceVar(&flags.envFiles, "env", nil, "env files to load before the environment (default .env if present)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override LOG_LEVEL")

	root.AddCommand(
		newTickCmd(flags),
		newStatusCmd(flags),
		newDecisionsCmd(flags),
		newResetCmd(flags),
		newResolveCmd(flags),
	)
	return root
}

// load читает конфигурацию и создает логгер
func (f *globalFlags) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(f.envFiles...)
	if err != nil {
		return nil, nil, err
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	logger, err := utils.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
