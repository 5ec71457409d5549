package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/okline/readpulse/internal/event"
	"github.com/okline/readpulse/internal/store"
	"github.com/okline/readpulse/internal/tracing"
)

// Default flush tuning.
const (
	// DefaultBatchSize makes every scheduled flush attempt deliver,
	// regardless of how few events are pending.
	DefaultBatchSize = 1
	// DefaultFlushInterval is the period between scheduled flushes.
	DefaultFlushInterval = 3 * time.Second
)

// Config holds the tuning for the flush engine.
type Config struct {
	// Capacity bounds the pending-event queue.
	Capacity int

	// BatchSize is the minimum queue length for an unforced flush to
	// proceed. Forced flushes ignore it.
	BatchSize int

	// FlushInterval is the period of the flush scheduler.
	FlushInterval time.Duration

	// OfflineQueue controls whether a failed batch is requeued for retry.
	// When disabled, a failed batch is dropped.
	OfflineQueue bool

	// SpillPath, when non-empty, is the file undelivered events are
	// written to at shutdown and restored from at construction.
	SpillPath string

	// Logger for flush diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics for queue and flush observability. Optional.
	Metrics *Metrics
}

// withDefaults fills zero values with the documented defaults.
func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Engine buffers engagement events and delivers them to the remote store.
//
// Delivery semantics: a flush drains the queue atomically, maps each event
// to its store writes, and commits them in one atomic batch. On failure the
// drained events are requeued to the front (when the offline queue is
// enabled), yielding at-least-once delivery with no strict cross-batch
// ordering. Event ids are deterministic per event, so a retried batch
// overwrites rather than duplicates.
type Engine struct {
	cfg     Config
	queue   *Queue
	store   store.Store
	logger  *slog.Logger
	metrics *Metrics

	// flushMu serializes flushes so attempts do not pile up while the
	// store is slow. An unforced attempt that finds one in flight returns
	// immediately and leaves the queue for the next tick; a forced
	// attempt waits its turn and then drains whatever remains.
	flushMu sync.Mutex

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewEngine creates a flush engine over the given store. If the config
// names a spill file with undelivered events from a prior run, they are
// restored to the queue.
func NewEngine(cfg Config, st store.Store) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:     cfg,
		queue:   NewQueue(cfg.Capacity, cfg.Metrics),
		store:   st,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}

	if cfg.SpillPath != "" {
		restored, err := loadSpill(cfg.SpillPath)
		if err != nil {
			e.logger.Warn("failed to restore spilled events",
				slog.String("path", cfg.SpillPath),
				slog.String("error", err.Error()))
		} else if len(restored) > 0 {
			for _, ev := range restored {
				e.queue.Enqueue(ev)
			}
			e.logger.Info("restored spilled events",
				slog.Int("count", len(restored)),
				slog.String("path", cfg.SpillPath))
		}
	}
	return e
}

// Enqueue buffers an event for later delivery. Never blocks on I/O.
func (e *Engine) Enqueue(ev *event.Event) {
	e.queue.Enqueue(ev)
}

// Pending returns the number of undelivered events.
func (e *Engine) Pending() int {
	return e.queue.Len()
}

// Flush drains pending events and delivers them to the store. When not
// forced, the flush is skipped while the queue is below the batch size or
// while another flush is in flight; a forced flush blocks until the
// in-flight attempt completes and then drains whatever remains.
// A failed batch is requeued to the front for retry when the offline queue
// is enabled, and dropped otherwise. The returned error is advisory;
// callers on the tracking path ignore it.
func (e *Engine) Flush(ctx context.Context, force bool) error {
	if force {
		e.flushMu.Lock()
	} else if !e.flushMu.TryLock() {
		return nil
	}
	defer e.flushMu.Unlock()

	if e.queue.Len() == 0 {
		return nil
	}
	if !force && e.queue.Len() < e.cfg.BatchSize {
		return nil
	}

	drained := e.queue.Drain()
	if len(drained) == 0 {
		return nil
	}

	ctx, endSpan := tracing.StartFlushSpan(ctx, len(drained), force)
	start := time.Now()
	err := e.process(ctx, drained)
	if e.metrics != nil {
		e.metrics.ObserveFlushDuration(time.Since(start).Seconds())
	}
	endSpan(err)

	if err != nil {
		if e.metrics != nil {
			e.metrics.IncFlushErrors()
		}
		if e.cfg.OfflineQueue {
			e.queue.Requeue(drained)
			e.logger.Warn("flush failed, batch requeued",
				slog.Int("events", len(drained)),
				slog.String("error", err.Error()))
		} else {
			e.logger.Warn("flush failed, batch dropped",
				slog.Int("events", len(drained)),
				slog.String("error", err.Error()))
		}
		return err
	}

	if e.metrics != nil {
		e.metrics.AddFlushed(len(drained))
	}
	e.logger.Debug("flushed events", slog.Int("events", len(drained)))
	return nil
}

// process maps the drained events to store writes and commits them.
// Session snapshots are upserted as they are encountered; appended events
// and view patches accumulate into one atomic batch committed at the end.
// Any failure fails the whole drained set.
func (e *Engine) process(ctx context.Context, events []*event.Event) error {
	writes := make([]store.Write, 0, len(events))

	for _, ev := range events {
		switch ev.Kind {
		case event.KindStartSession, event.KindEndSession:
			if ev.Session == nil {
				continue
			}
			err := e.store.UpsertRecord(ctx, store.CollectionSessions, ev.Session.ID, ev.Session.Fields())
			if err != nil {
				return err
			}

		case event.KindView, event.KindAction:
			// Upsert rather than append: the id is deterministic per
			// event, so a retried batch lands on the same record.
			writes = append(writes, store.Write{
				Op:         store.WriteUpsert,
				Collection: store.CollectionEvents,
				ID:         event.SynthesizeID(ev.StoredType(), ev.PassageID, ev.Timestamp),
				Fields:     ev.Fields(),
			})

		case event.KindEndViewUpdate:
			if ev.View == nil {
				continue
			}
			// The matching view event may still be in this batch,
			// uncommitted; patch the pending write directly.
			if i, ok := pendingViewIndex(writes, ev.UserID, ev.PassageID); ok {
				for k, val := range ev.View.PatchFields() {
					writes[i].Fields[k] = val
				}
				continue
			}
			rec, err := e.store.QueryLatest(ctx, store.CollectionEvents, map[string]any{
				"user_id":    ev.UserID,
				"passage_id": ev.PassageID,
				"event_type": "view",
			}, "timestamp")
			if errors.Is(err, store.ErrRecordNotFound) {
				// No view event to patch; UI ordering races make this
				// possible and it is not an error.
				continue
			}
			if err != nil {
				return err
			}
			writes = append(writes, store.Write{
				Op:         store.WriteUpdate,
				Collection: store.CollectionEvents,
				ID:         rec.ID,
				Fields:     ev.View.PatchFields(),
			})

		default:
			e.logger.Warn("skipping event of unknown kind", slog.String("kind", string(ev.Kind)))
		}
	}

	return e.store.CommitBatch(ctx, writes)
}

// pendingViewIndex finds the most recently added pending view write for the
// user and passage, scanning newest first.
func pendingViewIndex(writes []store.Write, userID, passageID string) (int, bool) {
	for i := len(writes) - 1; i >= 0; i-- {
		w := writes[i]
		if w.Op != store.WriteUpsert || w.Collection != store.CollectionEvents {
			continue
		}
		if w.Fields["event_type"] == "view" && w.Fields["user_id"] == userID && w.Fields["passage_id"] == passageID {
			return i, true
		}
	}
	return -1, false
}

// Start launches the periodic flush scheduler.
// Returns immediately if the scheduler is already running.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	stopCh, doneCh := e.stopCh, e.doneCh
	e.mu.Unlock()

	go e.run(ctx, stopCh, doneCh)
}

// Stop signals the scheduler to stop and waits for it to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	stopCh, doneCh := e.stopCh, e.doneCh
	e.mu.Unlock()

	close(stopCh)
	<-doneCh

	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
}

// run is the scheduler loop.
func (e *Engine) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("flush scheduler stopping due to context cancellation")
			return
		case <-stopCh:
			return
		case <-ticker.C:
			// Transient failures are retried on later ticks.
			_ = e.Flush(ctx, false)
		}
	}
}

// Shutdown force-flushes one last time and, when a spill path is
// configured, writes any still-undelivered events to disk so the next run
// can restore them. Best effort: the host may kill the process mid-flight.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.Stop()
	flushErr := e.Flush(ctx, true)

	if e.cfg.SpillPath == "" || !e.cfg.OfflineQueue {
		return flushErr
	}
	remaining := e.queue.Drain()
	if len(remaining) == 0 {
		return flushErr
	}
	if err := saveSpill(e.cfg.SpillPath, remaining); err != nil {
		e.logger.Error("failed to spill undelivered events",
			slog.Int("events", len(remaining)),
			slog.String("error", err.Error()))
		return err
	}
	e.logger.Info("spilled undelivered events",
		slog.Int("events", len(remaining)),
		slog.String("path", e.cfg.SpillPath))
	return flushErr
}
