// Package cli implements the stakepool-deployer command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Bidon15/stakepool-deployer/internal/config"
	"github.com/Bidon15/stakepool-deployer/internal/database"
	"github.com/Bidon15/stakepool-deployer/internal/ethereum"
	"github.com/Bidon15/stakepool-deployer/internal/repository"
)

// dialFunc connects to the network and returns the backend, its chain ID
// and a close function.
type dialFunc func(ctx context.Context, rpcURL string, chainID int64, logger *slog.Logger) (ethereum.Backend, *big.Int, func(), error)

// historyFunc opens the deployment history and returns a close function.
type historyFunc func(ctx context.Context, cfg config.HistoryConfig, logger *slog.Logger) (repository.Repository, func(), error)

// app holds state shared by all commands of one invocation.
type app struct {
	v      *viper.Viper
	stdout io.Writer
	stderr io.Writer

	dial        dialFunc
	openHistory historyFunc

	configFile string
	format     string
	noColor    bool

	// flagKeys maps each command's flags to config keys. Only the
	// executing command's flags are bound, since subcommands share keys.
	flagKeys map[*cobra.Command]map[string]string

	cfg     *config.Config
	logger  *slog.Logger
	printer *printer
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		v:           config.New(),
		stdout:      stdout,
		stderr:      stderr,
		dial:        dialNetwork,
		openHistory: openPostgresHistory,
		format:      FormatText,
		flagKeys:    make(map[*cobra.Command]map[string]string),
	}
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	a := newApp(os.Stdout, os.Stderr)
	if err := newRootCommand(a).Execute(); err != nil {
		a.errorPrinter().Error(err)
		return 1
	}
	return 0
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "stakepool-deployer",
		Short: "Deploy the StakingPool contract",
		Long: `Deploy the StakingPool contract with a fixed configuration and report its address.

Configuration is read from stakepool.yaml (., ./config, /etc/stakepool),
STAKEPOOL_* environment variables and command line flags, in increasing
order of precedence.

Examples:
  # Deploy to a local Hardhat node with the default parameters
  STAKEPOOL_SIGNER_PRIVATE_KEY=0x... stakepool-deployer deploy

  # Check configuration and artifact without touching the network
  stakepool-deployer validate --artifacts-dir ./artifacts`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (default: stakepool.yaml in ., ./config, /etc/stakepool)")
	root.PersistentFlags().StringVarP(&a.format, "output", "o", FormatText, "output format: text, json, yaml")
	root.PersistentFlags().BoolVar(&a.noColor, "no-color", false, "disable colored output")
	root.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", "json", "log format: json, text")
	a.v.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))
	a.v.BindPFlag("log.format", root.PersistentFlags().Lookup("log-format"))

	root.AddCommand(
		newDeployCommand(a),
		newValidateCommand(a),
		newHistoryCommand(a),
	)
	return root
}

// init binds the executing command's flags, loads configuration and sets
// up output and logging.
func (a *app) init(cmd *cobra.Command) error {
	for flag, key := range a.flagKeys[cmd] {
		if err := a.v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}

	if !validFormat(a.format) {
		return fmt.Errorf("unsupported output format %q (use text, json or yaml)", a.format)
	}
	a.printer = newPrinter(a.stdout, a.stderr, a.format, a.noColor)

	cfg, err := config.Load(a.v, a.configFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = newLogger(cfg.Log, a.stderr)
	slog.SetDefault(a.logger)
	return nil
}

// errorPrinter returns the configured printer, or a plain one when the
// failure happened before flags were parsed.
func (a *app) errorPrinter() *printer {
	if a.printer != nil {
		return a.printer
	}
	return newPrinter(a.stdout, a.stderr, FormatText, a.noColor)
}

// bindFlags registers flag names of cmd as overrides for config keys.
func (a *app) bindFlags(cmd *cobra.Command, keys map[string]string) {
	if a.flagKeys[cmd] == nil {
		a.flagKeys[cmd] = make(map[string]string, len(keys))
	}
	for flag, key := range keys {
		a.flagKeys[cmd][flag] = key
	}
}

func dialNetwork(ctx context.Context, rpcURL string, chainID int64, logger *slog.Logger) (ethereum.Backend, *big.Int, func(), error) {
	client, id, err := ethereum.Dial(ctx, rpcURL, chainID, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return client, id, client.Close, nil
}

func openPostgresHistory(ctx context.Context, cfg config.HistoryConfig, logger *slog.Logger) (repository.Repository, func(), error) {
	if !cfg.Enabled() {
		return repository.Nop{}, func() {}, nil
	}

	pg, err := database.NewPostgres(ctx, cfg.DSN, cfg.MaxConns)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.RunMigrations(); err != nil {
		pg.Close()
		return nil, nil, err
	}
	logger.Debug("deployment history enabled")
	return repository.NewPostgresRepository(pg.Pool()), pg.Close, nil
}
