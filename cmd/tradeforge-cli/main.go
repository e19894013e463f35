package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"

	"tradeforge/internal/config"
	"tradeforge/internal/util"
)

var (
	configPath string
	logLevel   string
)

// rootCmd is the base command for the tradeforge CLI
var rootCmd = &cobra.Command{
	Use:   "tradeforge-cli",
	Short: "Backtest and validate trading strategies",
	Long: `tradeforge-cli runs strategy backtests locally or against a running
tradeforge-server, and validates custom strategy condition trees.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, args []string) {
		version := "(devel)"
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
			version = info.Main.Version
		}
		fmt.Fprintf(cmd.OutOrStdout(), "tradeforge-cli %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.Path(), "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(backtestCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the configuration and installs a stderr logger so that
// command output on stdout stays machine readable.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config %s: %w", configPath, err)
	}
	logger := util.NewLoggerTo(os.Stderr, logLevel, "text")
	util.SetDefault(logger)
	return cfg, logger, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
