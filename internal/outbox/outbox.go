// Package outbox drains the store's outbox table with a small worker pool,
// delivering each queued item through its target adapter with exponential
// backoff and dead-lettering (spec.md §4.4, §5.3). The worker loop and
// drain semantics are generalized from the teacher's task-claiming engine.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/basket/boss/internal/adapters"
	"github.com/basket/boss/internal/bus"
	"github.com/basket/boss/internal/store"
)

// permanent reports whether a delivery error is one retrying can never fix
// (SPEC §4.4/§4.5: 4xx other than 429, or a credential problem) and should
// dead-letter on the spot instead of going through the backoff schedule.
func permanent(err error) bool {
	var adapterErr *adapters.AdapterError
	if !errors.As(err, &adapterErr) {
		return false
	}
	switch adapterErr.Kind {
	case adapters.KindPermanent, adapters.KindUnauthorized:
		return true
	default:
		return false
	}
}

// Deliverer sends one outbox item to its target. Implemented per-adapter
// (telegram, webhook target, ...) and selected by OutboxItem.TargetAdapter.
type Deliverer interface {
	Deliver(ctx context.Context, item store.OutboxItem) error
}

// Config controls worker pool shape and polling cadence.
type Config struct {
	WorkerCount  int
	PollInterval time.Duration
	ClaimBatch   int
}

// Queue drains due outbox items across a small worker pool.
type Queue struct {
	store      *store.Store
	deliverers map[string]Deliverer
	bus        *bus.Bus
	config     Config

	once sync.Once
	wg   sync.WaitGroup
}

// New builds a Queue. deliverers maps target_adapter name to the Deliverer
// responsible for it; an item whose target has no registered deliverer is
// logged and left in place for operator inspection rather than dropped.
func New(st *store.Store, deliverers map[string]Deliverer, eventBus *bus.Bus, cfg Config) *Queue {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.ClaimBatch <= 0 {
		cfg.ClaimBatch = 10
	}
	return &Queue{store: st, deliverers: deliverers, bus: eventBus, config: cfg}
}

// Start launches the worker pool. Safe to call once; subsequent calls are
// no-ops.
func (q *Queue) Start(ctx context.Context) {
	q.once.Do(func() {
		for i := 0; i < q.config.WorkerCount; i++ {
			q.wg.Add(1)
			go func() {
				defer q.wg.Done()
				q.worker(ctx)
			}()
		}
	})
}

// Drain waits up to timeout for in-flight claims to finish.
func (q *Queue) Drain(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("outbox queue drained cleanly")
	case <-time.After(timeout):
		slog.Warn("outbox queue drain timeout; remaining items stay claimed-due for next poll", "timeout", timeout)
	}
}

func (q *Queue) worker(ctx context.Context) {
	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		items, err := q.store.ClaimDueOutbox(ctx, time.Now().UTC(), q.config.ClaimBatch)
		if err != nil {
			slog.Error("claim due outbox items failed", "error", err)
		}
		if len(items) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				continue
			}
		}
		for _, item := range items {
			q.deliverOne(ctx, item)
		}
	}
}

func (q *Queue) deliverOne(ctx context.Context, item store.OutboxItem) {
	deliverer, ok := q.deliverers[item.TargetAdapter]
	if !ok {
		slog.Error("no deliverer registered for outbox target", "target", item.TargetAdapter, "outbox_id", item.ID)
		return
	}
	deliverCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := deliverer.Deliver(deliverCtx, item); err != nil {
		if permanent(err) {
			attempts, markErr := q.store.DeadLetterOutbox(ctx, item.ID)
			if markErr != nil {
				slog.Error("dead-letter outbox errored", "outbox_id", item.ID, "error", markErr)
				return
			}
			slog.Warn("outbox delivery failed permanently, dead-lettering", "outbox_id", item.ID, "target", item.TargetAdapter, "attempt", attempts, "error", err)
			if q.bus != nil {
				q.bus.Publish(bus.TopicOutboxDeadLetter, bus.OutboxDeadLetterEvent{
					OutboxID: item.ID, Target: item.TargetAdapter, LastErr: err.Error(),
				})
			}
			return
		}

		attempts, deadLettered, markErr := q.store.MarkOutboxFailed(ctx, item.ID, time.Now().UTC())
		if markErr != nil {
			slog.Error("mark outbox failed errored", "outbox_id", item.ID, "error", markErr)
			return
		}
		slog.Warn("outbox delivery failed", "outbox_id", item.ID, "target", item.TargetAdapter, "attempt", attempts, "dead_letter", deadLettered, "error", err)
		if deadLettered && q.bus != nil {
			q.bus.Publish(bus.TopicOutboxDeadLetter, bus.OutboxDeadLetterEvent{
				OutboxID: item.ID, Target: item.TargetAdapter, LastErr: err.Error(),
			})
		}
		return
	}

	if err := q.store.MarkOutboxDelivered(ctx, item.ID); err != nil {
		slog.Error("mark outbox delivered errored", "outbox_id", item.ID, "error", err)
		return
	}
	if q.bus != nil {
		q.bus.Publish(bus.TopicOutboxDelivered, bus.OutboxDeliveredEvent{
			OutboxID: item.ID, Target: item.TargetAdapter, Attempts: item.AttemptCount + 1,
		})
	}
}

// Enqueue is a convenience wrapper around store.EnqueueOutbox for callers
// that don't need direct store access.
func (q *Queue) Enqueue(ctx context.Context, targetAdapter string, payload []byte, idempotencyKey string, maxAttempts int) (*store.OutboxItem, error) {
	item, err := q.store.EnqueueOutbox(ctx, targetAdapter, payload, idempotencyKey, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("outbox: enqueue: %w", err)
	}
	return item, nil
}
