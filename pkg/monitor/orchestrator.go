// Package monitor drives the poll/diff/dispatch cycle: one Orchestrator per
// governance source, all running concurrently under a Supervisor. An
// orchestrator owns its source's store, policy table, and request gate;
// sources share nothing mutable beyond the notifier client.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ajscolaro/gov-alerting-bot/internal/governance"
	"github.com/ajscolaro/gov-alerting-bot/pkg/alert"
	"github.com/ajscolaro/gov-alerting-bot/pkg/store"
	"github.com/ajscolaro/gov-alerting-bot/pkg/telemetry"
	"github.com/ajscolaro/gov-alerting-bot/pkg/watch"
)

const (
	defaultPollInterval = 60 * time.Second
	defaultFetchTimeout = 30 * time.Second
	errorRetryDelay     = 60 * time.Second
)

// Fetcher pulls the current entity batch for one scope. Returning
// governance.ErrScopeNotFound signals that the configured scope no longer
// resolves upstream, which triggers the one-shot admin alert path. An empty
// batch means the scope is valid with nothing active.
type Fetcher interface {
	FetchBatch(ctx context.Context, scope string) ([]watch.Entity, error)
}

// Prober is an optional Fetcher extension for sources whose batch queries
// only return active entities. Tracked entities absent from a batch are
// probed individually; found=false means the entity no longer resolves
// upstream, and the policy's MissingStatus is assumed for it.
type Prober interface {
	Probe(ctx context.Context, scope, id string) (watch.Entity, bool, error)
}

// Target is one watched scope within a source: a chain, a snapshot space, a
// proposal type. Each target formats its own notifications.
type Target struct {
	Scope     string
	Formatter alert.Formatter
}

// Config assembles one source's orchestrator.
type Config struct {
	// Source names the governance source ("snapshot", "cosmos", ...).
	Source string
	// Targets are the scopes to poll each pass.
	Targets []Target
	// Fetcher supplies current entities per scope.
	Fetcher Fetcher
	// Policy classifies status transitions for this source family.
	Policy watch.Policy
	// Store persists last-known entity state, one document per source.
	Store *store.Store
	// Dispatcher sends notifications and writes outcomes back to Store.
	Dispatcher *alert.Dispatcher
	// Gate throttles upstream requests; one gate per source.
	Gate *governance.RequestGate
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Metrics is optional.
	Metrics *telemetry.Metrics
	// PollInterval is the sleep between passes; defaults to 60s.
	PollInterval time.Duration
	// FetchTimeout bounds each upstream fetch; defaults to 30s.
	FetchTimeout time.Duration
	// SinglePass makes Run return after one pass instead of looping.
	SinglePass bool
}

// Orchestrator runs one source's monitor loop.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
}

// New validates cfg and builds an orchestrator. Configuration errors here
// are unrecoverable for this source; the supervisor surfaces them without
// restarting the task.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Source == "" {
		return nil, errors.New("monitor: source name is required")
	}
	if len(cfg.Targets) == 0 {
		return nil, fmt.Errorf("monitor: source %s has no targets", cfg.Source)
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("monitor: source %s has no fetcher", cfg.Source)
	}
	if cfg.Store == nil || cfg.Dispatcher == nil {
		return nil, fmt.Errorf("monitor: source %s is missing store or dispatcher", cfg.Source)
	}
	if cfg.Gate == nil {
		cfg.Gate = governance.NewRequestGate(governance.DefaultGateConfig(), cfg.Logger)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}

	return &Orchestrator{
		cfg:    cfg,
		logger: cfg.Logger.With("source", cfg.Source),
		tracer: otel.Tracer("govbot/monitor"),
	}, nil
}

// Run executes passes until ctx is cancelled, or exactly one pass in
// single-pass mode. Per-pass errors are contained inside the pass; Run only
// returns the context error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("starting monitor",
		"targets", len(o.cfg.Targets),
		"poll_interval", o.cfg.PollInterval,
		"single_pass", o.cfg.SinglePass)

	for {
		failed := o.runPass(ctx)

		if o.cfg.SinglePass {
			o.logger.Info("single pass complete", "tracked", o.cfg.Store.Count())
			return nil
		}

		// A pass where every target failed backs off like the error path
		// instead of hammering a struggling upstream on the normal cadence.
		delay := o.cfg.PollInterval
		if failed {
			delay = errorRetryDelay
		}

		select {
		case <-ctx.Done():
			o.logger.Info("monitor stopped", "tracked", o.cfg.Store.Count())
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runPass performs one poll/diff/dispatch cycle over all targets. It
// returns true when every target failed.
func (o *Orchestrator) runPass(ctx context.Context) bool {
	passID := uuid.NewString()
	start := time.Now()

	ctx, span := o.tracer.Start(ctx, "monitor.pass",
		trace.WithAttributes(
			attribute.String("source", o.cfg.Source),
			attribute.String("pass_id", passID),
		))
	defer span.End()

	logger := o.logger.With("pass_id", passID)
	failures := 0

	for _, target := range o.cfg.Targets {
		if ctx.Err() != nil {
			return false
		}
		if err := o.checkTarget(ctx, logger, target); err != nil {
			failures++
		}
	}

	status := "ok"
	if failures == len(o.cfg.Targets) {
		status = "error"
	}
	o.cfg.Metrics.RecordPass(o.cfg.Source, status, time.Since(start))
	o.cfg.Metrics.SetTracked(o.cfg.Source, o.cfg.Store.Count())

	logger.Info("pass complete",
		"targets", len(o.cfg.Targets),
		"failed_targets", failures,
		"tracked", o.cfg.Store.Count(),
		"duration", time.Since(start))

	return failures == len(o.cfg.Targets)
}

// checkTarget fetches one scope and reconciles its batch. A failure here is
// isolated: it is logged and counted, and never aborts the pass for other
// targets.
func (o *Orchestrator) checkTarget(ctx context.Context, logger *slog.Logger, target Target) error {
	batch, err := o.fetchBatch(ctx, target.Scope)
	if err != nil {
		if errors.Is(err, governance.ErrScopeNotFound) {
			o.alertInvalidScope(ctx, target)
			return nil
		}
		o.cfg.Metrics.RecordFetchError(o.cfg.Source, target.Scope)
		logger.Error("fetch failed, skipping scope this pass",
			"scope", target.Scope, "error", err)
		return err
	}

	inBatch := make(map[string]bool, len(batch))
	for _, ent := range batch {
		if ent.Scope == "" {
			ent.Scope = target.Scope
		}
		inBatch[ent.Key()] = true
		o.reconcile(ctx, logger, target, ent)
	}

	o.probeMissing(ctx, logger, target, inBatch)
	return nil
}

// reconcile classifies one entity against its stored record and hands the
// outcome to the dispatcher. A record whose initial notification never
// succeeded (notified=false) is presented to the policy as unseen while the
// entity stays live, so the initial send is retried. Once such an entity
// turns terminal the closing send must still go out; it is classified by
// its stored status instead, and the dispatcher sends it standalone since
// no thread anchor exists.
func (o *Orchestrator) reconcile(ctx context.Context, logger *slog.Logger, target Target, ent watch.Entity) {
	rec, tracked := o.cfg.Store.Get(ent.Key())
	seen := tracked && rec.Notified
	var prev string
	if seen {
		prev = rec.Status
	}
	if tracked && !seen && o.cfg.Policy.Terminal.Has(ent.Status) {
		seen = true
		prev = rec.Status
	}
	outcome := o.cfg.Policy.Classify(prev, seen, ent.Status)

	// Entities first observed in a terminal state never opened a thread
	// and have nothing to close; tracking one would look identical to a
	// failed closing send, which is the one case where a terminal status
	// is classified again.
	if outcome == watch.NoOp && !tracked && o.cfg.Policy.Terminal.Has(ent.Status) {
		return
	}

	if _, err := o.cfg.Dispatcher.Dispatch(ctx, ent, rec, seen, outcome, target.Formatter); err != nil {
		// Send errors were already written back to the store by the
		// dispatcher; the next pass retries the transition.
		logger.Warn("dispatch failed",
			"scope", target.Scope, "key", ent.Key(),
			"outcome", outcome.String(), "error", err)
	}
}

// probeMissing follows up on tracked entities that dropped out of a batch.
// Sources whose batch queries only return live entities never show a
// terminal status in the batch itself, so each tracked entity in this scope
// still recorded as live gets probed individually. A probe that resolves
// reconciles the fresh entity; one that does not resolve assumes the
// policy's missing status, so deleted or concluded entities still get their
// terminal notification.
func (o *Orchestrator) probeMissing(ctx context.Context, logger *slog.Logger, target Target, inBatch map[string]bool) {
	prober, ok := o.cfg.Fetcher.(Prober)
	if !ok || o.cfg.Policy.MissingStatus == "" {
		return
	}

	for key, rec := range o.cfg.Store.All() {
		if ctx.Err() != nil {
			return
		}
		scope, id, ok := watch.SplitKey(key)
		if !ok || scope != target.Scope || inBatch[key] {
			continue
		}
		// Live records need a probe to observe their conclusion; records
		// already in a terminal state are pending a failed closing send
		// and need one to retry it.
		live := o.cfg.Policy.Active.Has(rec.Status) || o.cfg.Policy.Update.Has(rec.Status)
		if !live && !o.cfg.Policy.Terminal.Has(rec.Status) {
			continue
		}

		ent, found, err := o.probe(ctx, prober, target.Scope, id)
		if err != nil {
			o.cfg.Metrics.RecordFetchError(o.cfg.Source, target.Scope)
			logger.Warn("probe failed, retrying next pass",
				"scope", target.Scope, "key", key, "error", err)
			continue
		}
		if !found {
			ent = watch.Entity{
				ID:     id,
				Scope:  target.Scope,
				Status: o.cfg.Policy.MissingStatus,
				Title:  rec.Title,
				URL:    rec.URL,
			}
		}
		o.reconcile(ctx, logger, target, ent)
	}
}

// probe runs one single-entity lookup through the request gate with the
// same rate-limit handling as batch fetches.
func (o *Orchestrator) probe(ctx context.Context, prober Prober, scope, id string) (watch.Entity, bool, error) {
	for {
		if err := o.cfg.Gate.Acquire(ctx); err != nil {
			return watch.Entity{}, false, err
		}

		probeCtx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
		ent, found, err := prober.Probe(probeCtx, scope, id)
		cancel()
		o.cfg.Gate.Release()

		if err == nil {
			o.cfg.Gate.Reset()
			return ent, found, nil
		}
		if governance.IsRateLimited(err) {
			if o.cfg.Gate.OnRateLimited(ctx) {
				continue
			}
			o.cfg.Metrics.RecordRateLimitSkip(o.cfg.Source)
			return watch.Entity{}, false, fmt.Errorf("probe %s:%s: %w", scope, id, err)
		}
		return watch.Entity{}, false, err
	}
}

// fetchBatch acquires the request gate, fetches with a timeout, and handles
// rate-limit backoff. Rate-limited fetches are retried in place until the
// gate's retry budget is exhausted, then skipped for this cycle.
func (o *Orchestrator) fetchBatch(ctx context.Context, scope string) ([]watch.Entity, error) {
	for {
		if err := o.cfg.Gate.Acquire(ctx); err != nil {
			return nil, err
		}

		fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
		batch, err := o.cfg.Fetcher.FetchBatch(fetchCtx, scope)
		cancel()
		o.cfg.Gate.Release()

		if err == nil {
			o.cfg.Gate.Reset()
			return batch, nil
		}
		if errors.Is(err, governance.ErrScopeNotFound) {
			return nil, err
		}
		if governance.IsRateLimited(err) {
			if o.cfg.Gate.OnRateLimited(ctx) {
				continue
			}
			o.cfg.Metrics.RecordRateLimitSkip(o.cfg.Source)
			return nil, fmt.Errorf("scope %s: %w", scope, err)
		}
		return nil, err
	}
}

// alertInvalidScope sends the one-shot admin alert for a scope that no
// longer resolves upstream.
func (o *Orchestrator) alertInvalidScope(ctx context.Context, target Target) {
	id := o.cfg.Source + ":" + target.Scope
	msg := alert.Message{
		Title: "Watchlist target invalid",
		Body: fmt.Sprintf("Configured %s scope %q no longer resolves upstream. "+
			"Check the watchlist entry.", o.cfg.Source, target.Scope),
	}
	if _, err := o.cfg.Dispatcher.DispatchAdmin(ctx, id, msg); err != nil {
		o.logger.Warn("admin alert failed", "scope", target.Scope, "error", err)
	}
}
