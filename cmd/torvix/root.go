package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"torvix/backend/internal/config"
	"torvix/backend/internal/telemetry"
)

var (
	cfgFile  string
	logLevel string
	envFile  string

	// cfg is populated by PersistentPreRunE and shared with all subcommands.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "torvix",
	Short: "Torvix nutrition backend",
	Long: `Torvix serves user accounts, meal statistics and food lookups
(Edamam Food Database, Open Food Facts, OpenAI) over an HTTP API.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before config; missing is fine")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		initLogger(logLevel, "torvix-backend")

		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", envFile, err)
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		// --log-level flag takes precedence over value in config file.
		if cmd.Flags().Changed("log-level") {
			cfg.Telemetry.LogLevel = logLevel
		}
		initLogger(cfg.Telemetry.LogLevel, cfg.Telemetry.ServiceName)
		return nil
	}

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(migrateCmd)
}

// Execute is the entry point called by main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initLogger(level, service string) {
	slog.SetDefault(telemetry.NewLogger(os.Stdout, level, service))
}
