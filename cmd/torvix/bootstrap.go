package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"torvix/backend/internal/orchestrator"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Run one-shot platform bootstrap and exit",
	Long: `Bootstrap prepares the backing services: Postgres migrations, the
TORVIX_EVENTS JetStream stream, and a Redis probe. Unconfigured Redis or
NATS are skipped.

The command runs once, prints a JSON result to stdout, and exits 0 on
success or non-zero on failure.`,
	RunE: runBootstrap,
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	if cfg.Database.URL == "" {
		return errors.New("database.url (DATABASE_URL) is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Bootstrap.Timeout)
	defer cancel()

	inf, err := buildInfra(ctx, cfg)
	if err != nil {
		printResult(orchestrator.StatusError, err.Error())
		return fmt.Errorf("building clients: %w", err)
	}
	defer inf.Close()

	slog.Info("starting bootstrap")

	result, err := inf.orchestrator.RunBootstrap(ctx)
	if err != nil {
		printResult(orchestrator.StatusError, err.Error())
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	printBootstrapResult(result)
	if result.Status == orchestrator.StatusError {
		return errors.New("bootstrap completed with errors")
	}

	slog.Info("bootstrap completed successfully")
	return nil
}

func printBootstrapResult(result *orchestrator.BootstrapResult) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fmt.Fprintf(os.Stdout, `{"status":%q}`+"\n", result.Status)
	}
}

func printResult(status, errMsg string) {
	result := map[string]string{"status": status}
	if errMsg != "" {
		result["error"] = errMsg
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fmt.Fprintf(os.Stdout, `{"status":%q}`+"\n", status)
	}
}
