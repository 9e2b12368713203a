package governance

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// GateConfig defines per-source request gate settings.
type GateConfig struct {
	// MinInterval is the minimum spacing between consecutive requests.
	MinInterval time.Duration
	// InitialBackoff is the delay after the first rate-limit signal; each
	// further consecutive signal doubles it.
	InitialBackoff time.Duration
	// MaxRetries bounds consecutive rate-limit backoffs before the caller
	// must skip the operation for this cycle.
	MaxRetries int
}

// DefaultGateConfig returns the defaults used when a source configures
// nothing: one request per second, 2s initial backoff, three retries.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MinInterval:    time.Second,
		InitialBackoff: 2 * time.Second,
		MaxRetries:     3,
	}
}

// RequestGate throttles one source's upstream requests. It is a single-slot
// semaphore with minimum inter-request spacing and exponential backoff after
// consecutive rate-limit signals.
type RequestGate struct {
	cfg    GateConfig
	slot   chan struct{}
	logger *slog.Logger

	mu       sync.Mutex
	lastReq  time.Time
	failures int
}

// NewRequestGate creates a gate, filling zero config fields with defaults.
func NewRequestGate(cfg GateConfig, logger *slog.Logger) *RequestGate {
	def := DefaultGateConfig()
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = def.MinInterval
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if logger == nil {
		logger = slog.Default()
	}

	slot := make(chan struct{}, 1)
	slot <- struct{}{}

	return &RequestGate{cfg: cfg, slot: slot, logger: logger}
}

// Acquire blocks until it is safe to issue one upstream request: the slot is
// free and the spacing interval since the previous request has elapsed. It
// returns the context error when ctx is cancelled while waiting.
func (g *RequestGate) Acquire(ctx context.Context) error {
	select {
	case <-g.slot:
	case <-ctx.Done():
		return ctx.Err()
	}

	g.mu.Lock()
	wait := g.cfg.MinInterval - time.Since(g.lastReq)
	g.mu.Unlock()

	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			g.slot <- struct{}{}
			return ctx.Err()
		}
	}

	g.mu.Lock()
	g.lastReq = time.Now()
	g.mu.Unlock()
	return nil
}

// Release returns the slot. Callers must pair every successful Acquire with
// exactly one Release.
func (g *RequestGate) Release() {
	select {
	case g.slot <- struct{}{}:
	default:
		// Unbalanced Release; the slot is already free.
	}
}

// OnRateLimited records one rate-limit signal and sleeps the backoff window
// (initial * 2^(failures-1)). It returns false once the retry budget is
// exhausted, in which case the caller must skip the operation for this
// cycle. The failure counter carries across calls until Reset.
func (g *RequestGate) OnRateLimited(ctx context.Context) bool {
	g.mu.Lock()
	g.failures++
	failures := g.failures
	g.mu.Unlock()

	if failures > g.cfg.MaxRetries {
		g.logger.Error("rate limit retry budget exhausted",
			"failures", failures, "max_retries", g.cfg.MaxRetries)
		return false
	}

	backoff := g.cfg.InitialBackoff << (failures - 1)
	g.logger.Warn("rate limited by upstream, backing off",
		"backoff", backoff, "failures", failures)

	t := time.NewTimer(backoff)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Reset clears the consecutive failure counter. Callers invoke it after a
// request round-trips without a rate-limit signal.
func (g *RequestGate) Reset() {
	g.mu.Lock()
	g.failures = 0
	g.mu.Unlock()
}

// Failures returns the current consecutive failure count.
func (g *RequestGate) Failures() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failures
}
