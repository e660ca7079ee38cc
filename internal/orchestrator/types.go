package orchestrator

import "sync"

// Status values used across BootstrapResult and PhaseResult.
const (
	StatusOK         = "ok"
	StatusError      = "error"
	StatusInProgress = "in-progress"
	StatusSkipped    = "skipped"
)

// BootstrapResult is the aggregate result of a bootstrap run. Phases are
// written concurrently under the embedded mutex.
type BootstrapResult struct {
	sync.Mutex
	Status string                 `json:"status"` // "ok", "error", "in-progress"
	Phases map[string]PhaseResult `json:"phases"`
}

// PhaseResult represents the outcome of a single bootstrap phase.
type PhaseResult struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "ok", "error", "skipped"
	Error  string `json:"error,omitempty"`
}

// ProbeResult is returned by RunDeepHealth for each dependency. A skipped
// probe belongs to a dependency that is not configured and counts as healthy.
type ProbeResult struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	Skipped   bool   `json:"skipped,omitempty"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}
