package alert

import (
	"context"
	"log/slog"
	"time"

	"github.com/ajscolaro/gov-alerting-bot/internal/governance"
	"github.com/ajscolaro/gov-alerting-bot/pkg/store"
	"github.com/ajscolaro/gov-alerting-bot/pkg/telemetry"
	"github.com/ajscolaro/gov-alerting-bot/pkg/watch"
)

// missingContextNote prefixes follow-ups that have lost their thread anchor
// and go out as standalone messages.
const missingContextNote = "Unable to find original message context. "

const defaultSendTimeout = 30 * time.Second

// DispatchResult reports what one dispatch did.
type DispatchResult struct {
	// Sent is true when a notification was delivered.
	Sent bool
}

// Dispatcher turns policy outcomes into notification sends and writes the
// resulting state back to the store. It never loses thread continuity on a
// failed send: anchors and notified flags are only advanced after the
// transport confirms delivery.
type Dispatcher struct {
	source      string
	store       *store.Store
	admin       *store.AdminAlertStore
	notifier    Notifier
	logger      *slog.Logger
	metrics     *telemetry.Metrics
	sendTimeout time.Duration
}

// DispatcherConfig collects the collaborators of a Dispatcher.
type DispatcherConfig struct {
	// Source names the governance source, for logs and metrics.
	Source string
	// Store persists entity records for this source.
	Store *store.Store
	// Admin persists the one-shot admin-alert set. Optional; without it
	// admin alerts are sent on every offending pass.
	Admin *store.AdminAlertStore
	// Notifier is the outbound transport.
	Notifier Notifier
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Metrics is optional.
	Metrics *telemetry.Metrics
	// SendTimeout bounds each send; defaults to 30s.
	SendTimeout time.Duration
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	return &Dispatcher{
		source:      cfg.Source,
		store:       cfg.Store,
		admin:       cfg.Admin,
		notifier:    cfg.Notifier,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		sendTimeout: cfg.SendTimeout,
	}
}

// Dispatch applies outcome for ent. rec is the stored record and seen
// whether it exists; f composes the display parts of the message.
//
// State handling per outcome:
//
//   - NotifyInitial: send unthreaded; success stores the returned anchor
//     with notified=true, failure stores status only so the next pass
//     retries as if unseen.
//   - NotifyUpdate: send threaded on the stored anchor (or standalone with
//     a missing-context note); success upserts status with notified=true,
//     failure upserts status only.
//   - NotifyTerminal: as update, but success removes the record. The record
//     is never removed speculatively.
//   - NoOp: upsert status when it changed or the entity is new; no send.
func (d *Dispatcher) Dispatch(ctx context.Context, ent watch.Entity, rec watch.Record, seen bool, outcome watch.Outcome, f Formatter) (DispatchResult, error) {
	key := ent.Key()

	switch outcome {
	case watch.NoOp:
		if !seen || rec.Status != ent.Status {
			d.store.Upsert(key, store.Update{
				Status:  ent.Status,
				Title:   ent.Title,
				URL:     ent.URL,
				Support: ent.Support,
			})
			d.logger.Info("status tracked without alert",
				"source", d.source, "key", key, "status", ent.Status)
		}
		return DispatchResult{}, nil

	case watch.NotifyInitial:
		msg := f.Format(outcome, ent)
		res, err := d.send(ctx, outcome, msg)
		if err != nil || !res.OK {
			d.store.Upsert(key, store.Update{
				Status:  ent.Status,
				Title:   ent.Title,
				URL:     ent.URL,
				Support: ent.Support,
			})
			d.logger.Warn("initial notification failed, status stored without anchor",
				"source", d.source, "key", key, "status", ent.Status, "error", err)
			return DispatchResult{}, err
		}
		d.store.Upsert(key, store.Update{
			Status:       ent.Status,
			ThreadAnchor: res.Anchor,
			Notified:     true,
			Title:        ent.Title,
			URL:          ent.URL,
			Support:      ent.Support,
		})
		d.logger.Info("initial notification sent",
			"source", d.source, "key", key, "anchor", res.Anchor)
		return DispatchResult{Sent: true}, nil

	case watch.NotifyUpdate, watch.NotifyTerminal:
		msg := f.Format(outcome, ent)
		if rec.ThreadAnchor != "" {
			msg.Anchor = rec.ThreadAnchor
		} else {
			msg.Body = missingContextNote + msg.Body
			d.logger.Warn("no thread context found, sending standalone",
				"source", d.source, "key", key)
		}

		res, err := d.send(ctx, outcome, msg)
		if err != nil || !res.OK {
			// Preserve anchor and notified flag; only the status advances
			// so the next pass retries the same transition.
			d.store.Upsert(key, store.Update{
				Status:  ent.Status,
				Title:   ent.Title,
				URL:     ent.URL,
				Support: ent.Support,
			})
			d.logger.Warn("follow-up notification failed, thread context preserved",
				"source", d.source, "key", key, "kind", outcome.String(), "error", err)
			return DispatchResult{}, err
		}

		if outcome == watch.NotifyTerminal {
			d.store.Remove(key)
			d.logger.Info("terminal notification sent, entity removed",
				"source", d.source, "key", key, "status", ent.Status)
		} else {
			d.store.Upsert(key, store.Update{
				Status:   ent.Status,
				Notified: true,
				Support:  ent.Support,
			})
			d.logger.Info("update notification sent",
				"source", d.source, "key", key, "status", ent.Status)
		}
		return DispatchResult{Sent: true}, nil

	default:
		d.logger.Error("unhandled outcome", "source", d.source, "outcome", outcome.String())
		return DispatchResult{}, nil
	}
}

// DispatchAdmin sends a one-shot warning about an invalid watch target,
// identified by id (typically the scope). Once a send succeeds the id is
// marked warned and later calls are no-ops until the warned set is cleared
// by hand.
func (d *Dispatcher) DispatchAdmin(ctx context.Context, id string, msg Message) (DispatchResult, error) {
	if d.admin != nil && d.admin.Warned(id) {
		return DispatchResult{}, nil
	}

	res, err := d.send(ctx, watch.NotifyAdmin, msg)
	if err != nil || !res.OK {
		d.logger.Warn("admin notification failed",
			"source", d.source, "id", id, "error", err)
		return DispatchResult{}, err
	}

	if d.admin != nil {
		d.admin.MarkWarned(id)
	}
	d.logger.Info("admin notification sent", "source", d.source, "id", id)
	return DispatchResult{Sent: true}, nil
}

func (d *Dispatcher) send(ctx context.Context, kind watch.Outcome, msg Message) (SendResult, error) {
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	res, err := d.notifier.Send(sendCtx, msg)
	switch {
	case err != nil:
		if governance.IsRateLimited(err) {
			d.metrics.RecordSend(d.source, kind.String(), "rate_limited")
		} else {
			d.metrics.RecordSend(d.source, kind.String(), "error")
		}
	case !res.OK:
		d.metrics.RecordSend(d.source, kind.String(), "rejected")
	default:
		d.metrics.RecordSend(d.source, kind.String(), "ok")
	}
	return res, err
}
