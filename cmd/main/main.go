package main

import (
	"fmt"
	"os"
	"time"

	"market-platform/src/charting"
	"market-platform/src/command"
	"market-platform/src/config"
	"market-platform/src/extensions"
	"market-platform/src/fetcher"
	"market-platform/src/logger"
	"market-platform/src/network"
	"market-platform/src/provider"
	"market-platform/src/routers"
	"market-platform/src/settings"
	sm "market-platform/src/standard_models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:           "market-platform",
	Short:         "Financial data provider aggregation platform",
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warning, error)")
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(serveCmd, queryCmd, providersCmd, feedWorkerCmd)
}

// -----------------------------------------------------------------------------

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// -----------------------------------------------------------------------------

// runtime is what every subcommand but the feed worker needs.
type runtime struct {
	cfg      *config.Config
	log      *logger.Logger
	registry *provider.Registry
	runner   *command.Runner
	store    *settings.Store
	metrics  *prometheus.Registry
}

// loadRuntime reads the config, installs the shared network manager and
// builds the registry and runner from the compiled-in extensions.
func loadRuntime(cmd *cobra.Command) (*runtime, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path, viper.GetViper())
	if err != nil {
		return nil, err
	}
	logger.Setup(cfg.LogLevel, cfg.LogFile)
	log := logger.NewLogger(cfg, cfg.Name)

	network.SetDefault(network.NewAsyncNetworkManager(cfg.MConfig, logger.NewLogger(cfg, "NetworkManager")))
	fetcher.SetSyncWorkers(cfg.Runtime.SyncWorkers)

	reg, err := provider.NewRegistryLoader().FromExtensions(extensions.Manifest())
	if err != nil {
		return nil, fmt.Errorf("loading providers: %w", err)
	}
	rm, err := provider.NewRegistryMap(reg, sm.Builtins())
	if err != nil {
		return nil, fmt.Errorf("building registry map: %w", err)
	}

	rt := &runtime{cfg: cfg, log: log, registry: reg, metrics: prometheus.NewRegistry()}
	rt.store = settings.NewStore(cfg.System.UserSettingsPath, rm.Credentials())

	opts := command.Options{
		Registry:         reg,
		Map:              rm,
		Settings:         rt.store,
		Events:           logger.NewCommandEventHook("CommandEvents"),
		Metrics:          command.NewMetrics(rt.metrics),
		CustomHeaders:    cfg.System.API.CustomHeaders,
		RateLimitRetries: cfg.Runtime.RateLimitRetries,
		ProviderTimeout:  time.Duration(cfg.Runtime.ProviderTimeoutSeconds) * time.Second,
	}
	if cfg.System.Charting.Enabled {
		opts.Charting = charting.New(cfg.System.Charting.ChartPaths)
	}
	rt.runner, err = command.NewRunner(routers.Build(), opts)
	if err != nil {
		return nil, err
	}
	log.Info("Loaded %d providers and %d commands", len(reg.Names()), len(rt.runner.Commands()))
	return rt, nil
}
