package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"torvix/backend/internal/store"
)

var (
	migrateOnStart   bool
	bootstrapOnStart bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the Torvix HTTP API server",
	Long: `Start the HTTP server on the configured port (PORT, default 8000).

With --migrate, pending schema migrations are applied before the server
starts listening. With --bootstrap, the platform bootstrap (migrations,
NATS stream, Redis probe) runs in the background so /ready turns 200 once it
succeeds. The server shuts down cleanly on SIGTERM or SIGINT.`,
	RunE: runServer,
}

func init() {
	serverCmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "apply pending migrations before serving")
	serverCmd.Flags().BoolVar(&bootstrapOnStart, "bootstrap", true, "run the platform bootstrap in the background")
}

func runServer(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if migrateOnStart {
		slog.Info("applying migrations")
		if err := store.MigrateUp(cfg.Database.URL); err != nil {
			return fmt.Errorf("migrating: %w", err)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("building app: %w", err)
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		a.Shutdown(shutCtx)
	}()

	if bootstrapOnStart {
		go func() {
			bctx, cancel := context.WithTimeout(ctx, cfg.Bootstrap.Timeout)
			defer cancel()
			if _, err := a.orchestrator.RunBootstrap(bctx); err != nil {
				slog.Warn("startup bootstrap did not complete", "error", err)
			}
		}()
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      a.router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start the server in a goroutine so we can listen for shutdown signals.
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("torvix server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("server stopped cleanly")
	return nil
}
