package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker"

	"torvix/backend/internal/config"
	"torvix/backend/internal/orchestrator"
)

// EventsStream captures every domain event the service publishes.
const EventsStream = "TORVIX_EVENTS"

// streamSpec describes a single JetStream stream to provision.
type streamSpec struct {
	name      string
	subjects  []string
	retention nats.RetentionPolicy
	maxAge    time.Duration
}

var requiredStreams = []streamSpec{
	{
		name:      EventsStream,
		subjects:  []string{"torvix.>"},
		retention: nats.LimitsPolicy,
		maxAge:    7 * 24 * time.Hour,
	},
}

// jsContext is the subset of nats.JetStreamContext the client uses.
type jsContext interface {
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	UpdateStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// NATSClient provisions the event stream, publishes domain events and probes
// NATS health. A client built from an empty URL is disabled and drops events.
type NATSClient struct {
	url   string
	cb    *gobreaker.CircuitBreaker
	newJS func(url string) (jsContext, func(), error)

	mu      sync.Mutex
	js      jsContext
	cleanup func()
}

// NewNATSClient constructs a NATSClient. The connection is opened lazily and
// kept for publishing.
func NewNATSClient(cfg config.NATSConfig, cb *gobreaker.CircuitBreaker) *NATSClient {
	return &NATSClient{
		url:   cfg.URL,
		cb:    cb,
		newJS: realNewJS,
	}
}

// Name identifies the dependency in bootstrap and health results.
func (c *NATSClient) Name() string { return "nats" }

// Enabled reports whether a NATS URL was configured.
func (c *NATSClient) Enabled() bool { return c.url != "" }

// Provision creates or updates the required streams. It is idempotent.
func (c *NATSClient) Provision(ctx context.Context) error {
	_, err := c.cb.Execute(func() (any, error) {
		js, err := c.conn()
		if err != nil {
			return nil, err
		}
		for _, spec := range requiredStreams {
			if err := provisionStream(ctx, js, spec); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) {
		return fmt.Errorf("circuit open: %w", err)
	}
	return err
}

// Probe verifies NATS connectivity. A missing stream is not a failure: it
// only means bootstrap has not run yet.
func (c *NATSClient) Probe(ctx context.Context) orchestrator.ProbeResult {
	start := time.Now()

	_, err := c.cb.Execute(func() (any, error) {
		js, err := c.conn()
		if err != nil {
			return nil, err
		}
		_, infoErr := js.StreamInfo(EventsStream, nats.Context(ctx))
		if infoErr != nil && !errors.Is(infoErr, nats.ErrStreamNotFound) {
			return nil, fmt.Errorf("stream info: %w", infoErr)
		}
		return nil, nil
	})

	return toProbeResult(c.Name(), start, err)
}

// Publish encodes payload as JSON and publishes it on subject. It is a no-op
// when the client is disabled.
func (c *NATSClient) Publish(ctx context.Context, subject string, payload any) error {
	if !c.Enabled() {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding event %s: %w", subject, err)
	}

	_, err = c.cb.Execute(func() (any, error) {
		js, err := c.conn()
		if err != nil {
			return nil, err
		}
		if _, err := js.Publish(subject, data, nats.Context(ctx)); err != nil {
			return nil, fmt.Errorf("publishing %s: %w", subject, err)
		}
		return nil, nil
	})
	return err
}

// Close drains the shared connection, if any.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cleanup != nil {
		c.cleanup()
	}
	c.js, c.cleanup = nil, nil
}

// conn returns the shared JetStream context, connecting on first use.
func (c *NATSClient) conn() (jsContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.js != nil {
		return c.js, nil
	}

	js, cleanup, err := c.newJS(c.url)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	c.js, c.cleanup = js, cleanup
	return js, nil
}

// provisionStream creates the stream if it does not exist, or updates it if it
// does.
func provisionStream(ctx context.Context, js jsContext, spec streamSpec) error {
	cfg := &nats.StreamConfig{
		Name:      spec.name,
		Subjects:  spec.subjects,
		Retention: spec.retention,
		MaxAge:    spec.maxAge,
	}

	_, err := js.StreamInfo(spec.name, nats.Context(ctx))
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		if _, addErr := js.AddStream(cfg, nats.Context(ctx)); addErr != nil {
			return fmt.Errorf("creating stream %s: %w", spec.name, addErr)
		}
	case err != nil:
		return fmt.Errorf("querying stream %s: %w", spec.name, err)
	default:
		if _, updErr := js.UpdateStream(cfg, nats.Context(ctx)); updErr != nil {
			return fmt.Errorf("updating stream %s: %w", spec.name, updErr)
		}
	}
	return nil
}

// realNewJS opens a NATS connection that reconnects on its own and returns a
// JetStreamContext plus a cleanup function that drains the connection.
func realNewJS(url string) (jsContext, func(), error) {
	nc, err := nats.Connect(url,
		nats.Name("torvix-backend"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, func() {}, fmt.Errorf("nats connect %s: %w", url, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, func() {}, fmt.Errorf("nats jetstream context: %w", err)
	}

	return js, func() { _ = nc.Drain() }, nil
}
