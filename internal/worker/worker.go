// Package worker drains the fire-and-forget side-effect pipeline: it
// subscribes to the event bus and persists action records and suspicious
// activities off the decision path, and prunes stale durable records.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/luminex/warden/internal/domain"
)

const (
	// RetentionPeriod is how long durable action records are kept.
	RetentionPeriod = 30 * 24 * time.Hour

	// saveTimeout bounds each store call so a stalled store cannot pin
	// a subscriber goroutine.
	saveTimeout = 5 * time.Second
)

// Worker persists bus events to the store.
type Worker struct {
	bus   domain.EventBus
	store domain.Store

	pruneInterval time.Duration

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a worker. It does nothing until Start is called.
func NewWorker(bus domain.EventBus, store domain.Store) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:           bus,
		store:         store,
		pruneInterval: time.Hour,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start subscribes to the persistence topics and launches the retention
// prune loop.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicActionRecorded, w.handleActionRecorded)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	sub, err = w.bus.Subscribe(w.ctx, domain.TopicSuspiciousDetected, w.handleSuspiciousDetected)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	w.wg.Add(1)
	go w.pruneLoop()

	slog.Info("worker started",
		"topics", []string{domain.TopicActionRecorded, domain.TopicSuspiciousDetected},
		"prune_interval", w.pruneInterval.String(),
	)

	return nil
}

// Stop unsubscribes and waits for in-flight work to finish.
func (w *Worker) Stop() {
	w.cancel()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Warn("failed to unsubscribe", "topic", sub.Topic(), "error", err)
		}
	}
	w.subscriptions = nil
	w.wg.Wait()
	slog.Info("worker stopped")
}

func (w *Worker) handleActionRecorded(ctx context.Context, msg *domain.Message) error {
	var event domain.ActionRecordedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		slog.Warn("discarding malformed action event", "error", err)
		return nil
	}
	if event.Record == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()

	if err := w.store.SaveActionRecord(ctx, event.Record); err != nil {
		// Persistence is best effort; the in-memory decision already
		// happened
		slog.Warn("failed to persist action record",
			"user_id", event.Record.UserID,
			"error", err,
		)
	}
	return nil
}

func (w *Worker) handleSuspiciousDetected(ctx context.Context, msg *domain.Message) error {
	var event domain.SuspiciousDetectedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		slog.Warn("discarding malformed suspicious event", "error", err)
		return nil
	}
	if event.Activity == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()

	if err := w.store.SaveSuspiciousActivity(ctx, event.Activity); err != nil {
		slog.Warn("failed to persist suspicious activity",
			"user_id", event.Activity.UserID,
			"type", event.Activity.Type,
			"error", err,
		)
	}
	return nil
}

func (w *Worker) pruneLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.prune()
		}
	}
}

func (w *Worker) prune() {
	ctx, cancel := context.WithTimeout(w.ctx, time.Minute)
	defer cancel()

	if err := w.store.Ping(ctx); err != nil {
		slog.Warn("skipping prune, store unavailable", "error", err)
		return
	}

	cutoff := time.Now().Add(-RetentionPeriod)
	pruned, err := w.store.PruneActionRecords(ctx, cutoff)
	if err != nil {
		slog.Warn("failed to prune action records", "error", err)
		return
	}
	if pruned > 0 {
		slog.Info("pruned stale action records", "count", pruned, "cutoff", cutoff)
	}
}
