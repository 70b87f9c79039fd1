package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dougneal/stonith-rackspace/internal/agent"
	"github.com/dougneal/stonith-rackspace/internal/config"
	"github.com/dougneal/stonith-rackspace/internal/fencing"
	"github.com/dougneal/stonith-rackspace/internal/metrics"
	"github.com/dougneal/stonith-rackspace/internal/provider"
	"github.com/dougneal/stonith-rackspace/internal/shared/logger"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=..."
var Version = "dev"

// exitError carries a protocol exit code out of cobra
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// NewRootCmd builds the root command. Operation payloads are written to stdout
// and nothing else is.
func NewRootCmd(stdout io.Writer) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "stonith-rackspace <operation> [<target>]",
		Short: "Heartbeat external STONITH plugin for cloud compute APIs",
		Long: `stonith-rackspace fences cluster nodes by hard-rebooting them through the
Rackspace Cloud Servers API (or Hetzner Cloud with RSC_PROVIDER=hetzner).

Operations:
  reset|on <server>   hard-reboot the server if it is active
  status              check the provider accepts the configured credentials
  gethosts            print this host's name
  getconfignames      print the configuration variable names
  getinfo-devid|getinfo-devname|getinfo-devdescr|getinfo-devurl|getinfo-xml

Configuration is read from RSC_* environment variables.`,
		Args:          cobra.MaximumNArgs(2),
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if code := run(cmd.Context(), configFile, args, stdout); code != agent.ExitOK {
				return exitError{code: code}
			}
			return nil
		},
	}

	rootCmd.SetOut(stdout)
	rootCmd.SetErr(os.Stderr)
	rootCmd.Flags().StringVar(&configFile, "config", "", "config file (default /etc/stonith-rackspace/stonith-rackspace.yaml)")

	return rootCmd
}

// Execute runs the root command and exits with the protocol exit code
func Execute() {
	err := NewRootCmd(os.Stdout).ExecuteContext(context.Background())
	if err == nil {
		os.Exit(agent.ExitOK)
	}

	var exit exitError
	if errors.As(err, &exit) {
		os.Exit(exit.code)
	}

	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(agent.ExitFailure)
}

func run(ctx context.Context, configFile string, args []string, stdout io.Writer) int {
	ctx = logger.WithCorrelationID(ctx, uuid.NewString())

	var op agent.Operation
	if len(args) > 0 {
		op = agent.Operation(args[0])
	}

	cfg, err := loadConfig(configFile)
	if err != nil {
		if op.NeedsProvider() {
			logger.New(logger.DefaultConfig()).ErrorCtx(ctx, "failed to load configuration", err)
			return agent.ExitFailure
		}
		// informational operations answer from built-in data whatever the configuration
		cfg = fallbackConfig()
		logger.New(cfg.LoggerConfig(Version)).WarnContext(ctx, "ignoring unusable configuration",
			"operation", string(op),
			"error", err.Error())
	}

	log := logger.New(cfg.LoggerConfig(Version))
	log.DebugContext(ctx, "configuration loaded",
		"provider", cfg.Provider,
		"credentials", cfg.Credentials(),
		"servername", cfg.ServerName)

	compute, err := provider.New(cfg.ProviderConfig(Version), log)
	if err != nil {
		log.ErrorCtx(ctx, "failed to create compute provider", err)
		return agent.ExitFailure
	}

	bus := fencing.NewTransitionBus(log)
	defer bus.Close()
	agent.TraceTransitions(ctx, bus, log)

	engine := fencing.NewEngine(compute, log,
		fencing.WithDuplicatePolicy(cfg.DuplicatePolicy()),
		fencing.WithTransitionBus(bus))

	dispatcher := agent.NewDispatcher(engine, cfg.Credentials(), log,
		agent.WithStdout(stdout),
		agent.WithMetrics(metrics.NewRecorder(cfg.MetricsFile, log)))

	return dispatcher.Run(ctx, args)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadWithPath(path)
	}
	return config.NewLoader().Load()
}

// fallbackConfig keeps the environment when only the config file is broken
func fallbackConfig() *config.Config {
	if cfg, err := config.LoadFromEnv(); err == nil {
		return cfg
	}
	return config.Default()
}
