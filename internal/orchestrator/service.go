package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// ErrBootstrapInProgress is returned when RunBootstrap is called while a
// bootstrap is already running.
var ErrBootstrapInProgress = errors.New("bootstrap already in progress")

// Dependency is an infrastructure component the service bootstraps and
// probes. *clients.PostgresClient, *clients.NATSClient and
// *clients.RedisClient satisfy it.
type Dependency interface {
	Name() string
	// Enabled reports whether the dependency is configured. Disabled
	// dependencies are skipped.
	Enabled() bool
	// Provision prepares the dependency: schema migrations, stream
	// creation. It must be idempotent.
	Provision(ctx context.Context) error
	Probe(ctx context.Context) ProbeResult
}

// Orchestrator runs bootstrap phases and health probes.
type Orchestrator struct {
	deps []Dependency

	bootstrapInProgress atomic.Bool
	lastResult          *BootstrapResult
	resultMu            sync.RWMutex
}

// New constructs an Orchestrator over deps.
func New(deps ...Dependency) *Orchestrator {
	return &Orchestrator{deps: deps}
}

// RunBootstrap provisions and then probes every enabled dependency
// concurrently. A phase failure is recorded in BootstrapResult but does not
// cancel the other phases. Returns ErrBootstrapInProgress if a bootstrap is
// already running.
func (o *Orchestrator) RunBootstrap(ctx context.Context) (*BootstrapResult, error) {
	if !o.bootstrapInProgress.CompareAndSwap(false, true) {
		return nil, ErrBootstrapInProgress
	}
	defer o.bootstrapInProgress.Store(false)

	result := &BootstrapResult{
		Status: StatusInProgress,
		Phases: make(map[string]PhaseResult, len(o.deps)),
	}

	ctx, span := otel.Tracer("torvix-backend").Start(ctx, "torvix.bootstrap")
	defer span.End()

	slog.InfoContext(ctx, "bootstrap started", "dependencies", len(o.deps))

	// A plain errgroup: a failing phase must not cancel its siblings.
	var g errgroup.Group
	for _, dep := range o.deps {
		dep := dep
		g.Go(func() error {
			phase := runPhase(ctx, dep)
			logPhase(ctx, phase)
			result.Lock()
			result.Phases[phase.Name] = phase
			result.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	result.Status = StatusOK
	for _, phase := range result.Phases {
		if phase.Status == StatusError {
			result.Status = StatusError
			break
		}
	}

	span.SetAttributes(attribute.String("bootstrap.status", result.Status))
	if result.Status == StatusError {
		span.SetStatus(codes.Error, "one or more bootstrap phases failed")
		slog.WarnContext(ctx, "bootstrap completed with errors", "status", result.Status)
	} else {
		span.SetStatus(codes.Ok, "")
		slog.InfoContext(ctx, "bootstrap completed", "status", result.Status)
	}

	o.resultMu.Lock()
	o.lastResult = result
	o.resultMu.Unlock()

	return result, nil
}

// RunDeepHealth probes every dependency concurrently and returns the results
// keyed by dependency name. Disabled dependencies report a skipped, healthy
// result without being contacted.
func (o *Orchestrator) RunDeepHealth(ctx context.Context) map[string]ProbeResult {
	results := make(map[string]ProbeResult, len(o.deps))
	var mu sync.Mutex
	var g errgroup.Group

	for _, dep := range o.deps {
		dep := dep
		g.Go(func() error {
			probe := ProbeResult{Name: dep.Name(), OK: true, Skipped: true}
			if dep.Enabled() {
				probe = dep.Probe(ctx)
			}
			mu.Lock()
			results[dep.Name()] = probe
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// Healthy reports whether every probe in results passed.
func Healthy(results map[string]ProbeResult) bool {
	for _, r := range results {
		if !r.OK {
			return false
		}
	}
	return true
}

// IsBootstrapInProgress returns true while a bootstrap run is active.
func (o *Orchestrator) IsBootstrapInProgress() bool {
	return o.bootstrapInProgress.Load()
}

// IsReady returns true if the last bootstrap completed with StatusOK.
func (o *Orchestrator) IsReady() bool {
	o.resultMu.RLock()
	defer o.resultMu.RUnlock()
	return o.lastResult != nil && o.lastResult.Status == StatusOK
}

// LastResult returns the phases of the last completed bootstrap, or nil.
func (o *Orchestrator) LastResult() map[string]PhaseResult {
	o.resultMu.RLock()
	defer o.resultMu.RUnlock()
	if o.lastResult == nil {
		return nil
	}
	o.lastResult.Lock()
	defer o.lastResult.Unlock()
	out := make(map[string]PhaseResult, len(o.lastResult.Phases))
	for k, v := range o.lastResult.Phases {
		out[k] = v
	}
	return out
}

func runPhase(ctx context.Context, dep Dependency) PhaseResult {
	if !dep.Enabled() {
		return PhaseResult{Name: dep.Name(), Status: StatusSkipped}
	}
	if err := dep.Provision(ctx); err != nil {
		return provisionToPhase(dep.Name(), err)
	}
	return probeToPhase(dep.Name(), dep.Probe(ctx))
}

// logPhase emits a trace-correlated log for a bootstrap phase result.
func logPhase(ctx context.Context, p PhaseResult) {
	switch p.Status {
	case StatusOK:
		slog.InfoContext(ctx, "bootstrap phase ok", "phase", p.Name)
	case StatusSkipped:
		slog.InfoContext(ctx, "bootstrap phase skipped", "phase", p.Name)
	default:
		slog.WarnContext(ctx, "bootstrap phase failed", "phase", p.Name, "error", p.Error)
	}
}

// probeToPhase converts a ProbeResult to a PhaseResult.
func probeToPhase(name string, p ProbeResult) PhaseResult {
	if p.OK {
		return PhaseResult{Name: name, Status: StatusOK}
	}
	return PhaseResult{Name: name, Status: StatusError, Error: p.Error}
}

// provisionToPhase converts a provision error to a PhaseResult.
func provisionToPhase(name string, err error) PhaseResult {
	if err == nil {
		return PhaseResult{Name: name, Status: StatusOK}
	}
	return PhaseResult{Name: name, Status: StatusError, Error: err.Error()}
}
