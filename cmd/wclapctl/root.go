package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wclap-bridge/wclap-bridge-go/internal/config"
)

var (
	cfgFile  string
	logLevel string
	quiet    bool
)

// rootCmd is wclapctl's entry point.
var rootCmd = &cobra.Command{
	Use:   "wclapctl",
	Short: "Operate a WCLAP bridge: scan bundles, inspect the cache, move bundles between registries",
	Long: `wclapctl is the operator-facing companion to the WCLAP bridge's outer C ABI.
It discovers .wclap bundles on the platform's default search paths (or paths
you name), keeps plugin-cache.txt in sync, and pulls/pushes bundles to an
OCI registry as artifacts.`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		setupLogging()
	},
	SilenceUsage: true,
}

// Execute runs the root command, exiting the process on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is "+config.DefaultPath()+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all log output, errors included")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(bundleCmd)
	rootCmd.AddCommand(versionCmd)
}

// initConfig reads wclapctl's own viper-managed config file into viper;
// no subcommand reads a key from it (registry credentials come from
// flags). The BridgeConfig a scanned bundle opens with is loaded
// separately via config.Load, since
// that file's shape is fixed by spec §3 rather than viper's free-form
// key/value model.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			slog.Error("failed to read specified config file", "file", cfgFile, "error", err)
			os.Exit(1)
		}
		slog.Debug("using config file", "file", viper.ConfigFileUsed())
		return
	}

	home, err := os.UserHomeDir()
	if err != nil {
		slog.Error("failed to find home directory", "error", err)
		os.Exit(1)
	}

	viper.AddConfigPath(home + "/.wclap-bridge")
	viper.SetConfigType("yaml")
	viper.SetConfigName("wclapctl")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		slog.Debug("using config file", "file", viper.ConfigFileUsed())
	}
}

func setupLogging() {
	level := parseLogLevel(logLevel)
	if quiet {
		level = slog.LevelError + 1
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
