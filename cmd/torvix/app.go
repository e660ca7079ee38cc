package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"torvix/backend/internal/api"
	"torvix/backend/internal/auth"
	"torvix/backend/internal/cache"
	"torvix/backend/internal/clients"
	"torvix/backend/internal/config"
	"torvix/backend/internal/orchestrator"
	"torvix/backend/internal/security"
	"torvix/backend/internal/stats"
	"torvix/backend/internal/store"
	"torvix/backend/internal/telemetry"
)

// infra holds the backing-service clients shared by the bootstrap and server
// commands.
type infra struct {
	pool         *pgxpool.Pool
	redis        *clients.RedisClient
	nats         *clients.NATSClient
	orchestrator *orchestrator.Orchestrator
}

// buildInfra connects the Postgres pool and constructs the Redis and NATS
// clients, each behind its own circuit breaker so they trip independently.
func buildInfra(ctx context.Context, cfg *config.Config) (*infra, error) {
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	redis, err := clients.NewRedisClient(cfg.Redis, clients.NewCircuitBreaker(clients.BreakerRedis))
	if err != nil {
		pool.Close()
		return nil, err
	}
	nats := clients.NewNATSClient(cfg.NATS, clients.NewCircuitBreaker(clients.BreakerNATS))
	pg := clients.NewPostgresClient(pool, cfg.Database.URL, clients.NewCircuitBreaker(clients.BreakerPostgres))

	return &infra{
		pool:         pool,
		redis:        redis,
		nats:         nats,
		orchestrator: orchestrator.New(pg, nats, redis),
	}, nil
}

// Close releases every connection held by i.
func (i *infra) Close() {
	i.nats.Close()
	if err := i.redis.Close(); err != nil {
		slog.Warn("closing redis", "error", err)
	}
	i.pool.Close()
}

// app is the fully wired HTTP service.
type app struct {
	*infra
	telemetry *telemetry.Provider
	router    *api.Router
}

// buildApp wires the services and the router on top of buildInfra:
//  1. Initialises the OTEL provider (best-effort, non-fatal)
//  2. Connects infrastructure clients
//  3. Picks Redis or the in-process cache for upstream lookups
//  4. Creates domain services and upstream API clients
//  5. Creates the HTTP router
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	tp, err := telemetry.InitProvider(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("OTEL provider init failed, telemetry disabled", "error", err)
		tp = nil
	}

	inf, err := buildInfra(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tokens, err := security.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.JWTAlg,
		cfg.Auth.AccessTokenTTL(), cfg.Auth.RefreshTokenTTL())
	if err != nil {
		inf.Close()
		return nil, fmt.Errorf("configuring tokens: %w", err)
	}

	var lookups cache.Cache
	if inf.redis.Enabled() {
		lookups = inf.redis
		slog.Info("caching upstream lookups in redis")
	} else {
		lookups = cache.NewMemory(cfg.Cache.ProductTTL, cfg.Cache.CleanupInterval)
		slog.Info("caching upstream lookups in memory")
	}

	st := store.New(inf.pool)
	router := api.NewRouter(api.Services{
		Orchestrator: inf.orchestrator,
		Auth:         auth.NewService(st, tokens, inf.nats),
		Stats:        stats.NewService(st, inf.nats),
		FoodDatabase: clients.NewEdamamClient(cfg.FoodDatabase, cfg.Cache, lookups,
			clients.NewCircuitBreaker(clients.BreakerEdamam)),
		Products: clients.NewOpenFoodFactsClient(cfg.OpenFoodFact, cfg.Cache, lookups,
			clients.NewCircuitBreaker(clients.BreakerOpenFoodFacts)),
		OpenAI:           clients.NewOpenAIClient(cfg.OpenAI, clients.NewCircuitBreaker(clients.BreakerOpenAI)),
		BootstrapTimeout: cfg.Bootstrap.Timeout,
	}, cfg.Telemetry.ServiceName)

	return &app{infra: inf, telemetry: tp, router: router}, nil
}

// Shutdown flushes telemetry and closes the infrastructure clients.
func (a *app) Shutdown(ctx context.Context) {
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			slog.Warn("OTEL shutdown error", "error", err)
		}
	}
	a.infra.Close()
}
