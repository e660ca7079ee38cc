package clients

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"torvix/backend/internal/orchestrator"
)

// Breaker names, one per dependency.
const (
	BreakerPostgres      = "postgres"
	BreakerRedis         = "redis"
	BreakerNATS          = "nats"
	BreakerEdamam        = "edamam"
	BreakerOpenFoodFacts = "open-food-facts"
	BreakerOpenAI        = "openai"
)

// NewCircuitBreaker returns a gobreaker that trips after 3 consecutive
// failures and half-opens after 30 seconds. State changes are logged.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// toProbeResult converts the outcome of a breaker-wrapped probe into an
// orchestrator.ProbeResult.
func toProbeResult(name string, start time.Time, err error) orchestrator.ProbeResult {
	latency := time.Since(start).Milliseconds()
	if err == nil {
		return orchestrator.ProbeResult{Name: name, OK: true, LatencyMs: latency}
	}

	errMsg := err.Error()
	if errors.Is(err, gobreaker.ErrOpenState) {
		errMsg = "circuit open"
	}
	return orchestrator.ProbeResult{Name: name, OK: false, LatencyMs: latency, Error: errMsg}
}
