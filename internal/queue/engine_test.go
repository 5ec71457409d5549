package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/okline/readpulse/internal/event"
	"github.com/okline/readpulse/internal/session"
	"github.com/okline/readpulse/internal/store"
)

// flakyStore wraps an in-memory store and fails the first failCommits
// batch commits.
type flakyStore struct {
	*store.InMemoryStore

	mu          sync.Mutex
	failCommits int
	commits     int
}

func newFlakyStore(failCommits int) *flakyStore {
	return &flakyStore{
		InMemoryStore: store.NewInMemoryStore(),
		failCommits:   failCommits,
	}
}

func (s *flakyStore) CommitBatch(ctx context.Context, writes []store.Write) error {
	s.mu.Lock()
	s.commits++
	fail := s.commits <= s.failCommits
	s.mu.Unlock()

	if fail {
		return errors.New("store unavailable")
	}
	return s.InMemoryStore.CommitBatch(ctx, writes)
}

func viewEvent(userID, passageID string, ts time.Time) *event.Event {
	return &event.Event{
		Kind:      event.KindView,
		UserID:    userID,
		PassageID: passageID,
		BookID:    "book-1",
		Timestamp: ts,
		View: &event.ViewData{
			StartTime:  ts,
			Visibility: 1.0,
		},
	}
}

func TestFlushDeliversViewEvents(t *testing.T) {
	st := store.NewInMemoryStore()
	e := NewEngine(Config{}, st)

	base := time.Now()
	e.Enqueue(viewEvent("user-1", "p1", base))
	e.Enqueue(viewEvent("user-1", "p2", base.Add(time.Second)))

	if err := e.Flush(context.Background(), true); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if e.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", e.Pending())
	}
	if got := st.Count(store.CollectionEvents); got != 2 {
		t.Errorf("stored events = %d, want 2", got)
	}

	id := event.SynthesizeID("view", "p1", base)
	rec, err := st.GetRecord(context.Background(), store.CollectionEvents, id)
	if err != nil {
		t.Fatalf("GetRecord(%q) error = %v", id, err)
	}
	if rec.Fields["event_type"] != "view" {
		t.Errorf("event_type = %v, want view", rec.Fields["event_type"])
	}
	if rec.Fields["user_id"] != "user-1" {
		t.Errorf("user_id = %v, want user-1", rec.Fields["user_id"])
	}
}

func TestFlushEmptyQueueNoOp(t *testing.T) {
	st := store.NewInMemoryStore()
	e := NewEngine(Config{}, st)

	if err := e.Flush(context.Background(), true); err != nil {
		t.Errorf("Flush() on empty queue error = %v", err)
	}
}

func TestFlushBatchSizeGate(t *testing.T) {
	st := store.NewInMemoryStore()
	e := NewEngine(Config{BatchSize: 5}, st)

	e.Enqueue(viewEvent("user-1", "p1", time.Now()))

	if err := e.Flush(context.Background(), false); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if e.Pending() != 1 {
		t.Errorf("Pending() after gated flush = %d, want 1", e.Pending())
	}
	if got := st.Count(store.CollectionEvents); got != 0 {
		t.Errorf("stored events after gated flush = %d, want 0", got)
	}

	// A forced flush ignores the gate.
	if err := e.Flush(context.Background(), true); err != nil {
		t.Fatalf("Flush(force) error = %v", err)
	}
	if got := st.Count(store.CollectionEvents); got != 1 {
		t.Errorf("stored events after forced flush = %d, want 1", got)
	}
}

func TestFlushRequeuesFailedBatch(t *testing.T) {
	st := newFlakyStore(1)
	e := NewEngine(Config{OfflineQueue: true}, st)

	base := time.Now()
	e.Enqueue(viewEvent("user-1", "p1", base))
	e.Enqueue(viewEvent("user-1", "p2", base.Add(time.Second)))

	if err := e.Flush(context.Background(), true); err == nil {
		t.Fatal("Flush() error = nil, want failure from store")
	}
	if e.Pending() != 2 {
		t.Fatalf("Pending() after failed flush = %d, want 2", e.Pending())
	}

	if err := e.Flush(context.Background(), true); err != nil {
		t.Fatalf("Flush() retry error = %v", err)
	}
	if e.Pending() != 0 {
		t.Errorf("Pending() after retry = %d, want 0", e.Pending())
	}
	if got := st.Count(store.CollectionEvents); got != 2 {
		t.Errorf("stored events = %d, want exactly 2", got)
	}
}

func TestFlushDropsFailedBatchWhenOfflineDisabled(t *testing.T) {
	st := newFlakyStore(1)
	e := NewEngine(Config{OfflineQueue: false}, st)

	e.Enqueue(viewEvent("user-1", "p1", time.Now()))

	if err := e.Flush(context.Background(), true); err == nil {
		t.Fatal("Flush() error = nil, want failure from store")
	}
	if e.Pending() != 0 {
		t.Errorf("Pending() after dropped batch = %d, want 0", e.Pending())
	}
}

func TestRetriedBatchDoesNotDuplicate(t *testing.T) {
	st := newFlakyStore(1)
	e := NewEngine(Config{OfflineQueue: true}, st)

	ts := time.Now()
	e.Enqueue(viewEvent("user-1", "p1", ts))

	// First attempt fails after the writes were mapped; the retry must
	// land on the same record id.
	_ = e.Flush(context.Background(), true)
	if err := e.Flush(context.Background(), true); err != nil {
		t.Fatalf("Flush() retry error = %v", err)
	}

	if got := st.Count(store.CollectionEvents); got != 1 {
		t.Errorf("stored events = %d, want exactly 1", got)
	}
}

func TestFlushUpsertsSessionRecord(t *testing.T) {
	st := store.NewInMemoryStore()
	e := NewEngine(Config{}, st)

	sess := session.New("user-1", time.Now(), session.DeviceInfo{Type: "mobile"})
	sess.MarkViewed("p1")
	e.Enqueue(&event.Event{
		Kind:      event.KindStartSession,
		UserID:    "user-1",
		Timestamp: sess.StartTime,
		Session:   sess.Clone(),
	})

	if err := e.Flush(context.Background(), true); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	rec, err := st.GetRecord(context.Background(), store.CollectionSessions, sess.ID)
	if err != nil {
		t.Fatalf("GetRecord(%q) error = %v", sess.ID, err)
	}
	if rec.Fields["user_id"] != "user-1" {
		t.Errorf("user_id = %v, want user-1", rec.Fields["user_id"])
	}
}

func TestEndViewUpdatePatchesLatestView(t *testing.T) {
	st := store.NewInMemoryStore()
	e := NewEngine(Config{}, st)

	ts := time.Now()
	e.Enqueue(viewEvent("user-1", "p1", ts))
	if err := e.Flush(context.Background(), true); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	end := ts.Add(1500 * time.Millisecond)
	e.Enqueue(&event.Event{
		Kind:      event.KindEndViewUpdate,
		UserID:    "user-1",
		PassageID: "p1",
		Timestamp: end,
		View: &event.ViewData{
			StartTime:       ts,
			EndTime:         end,
			Duration:        1500 * time.Millisecond,
			Visibility:      0.9,
			ReadingBehavior: "careful-read",
		},
	})
	if err := e.Flush(context.Background(), true); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	id := event.SynthesizeID("view", "p1", ts)
	rec, err := st.GetRecord(context.Background(), store.CollectionEvents, id)
	if err != nil {
		t.Fatalf("GetRecord(%q) error = %v", id, err)
	}
	view, ok := rec.Fields["view"].(map[string]any)
	if !ok {
		t.Fatalf("view field = %T, want map", rec.Fields["view"])
	}
	if view["duration_ms"] != int64(1500) {
		t.Errorf("view.duration_ms = %v, want 1500", view["duration_ms"])
	}
	if view["reading_behavior"] != "careful-read" {
		t.Errorf("view.reading_behavior = %v, want careful-read", view["reading_behavior"])
	}
	// The top-level event fields survive the patch.
	if rec.Fields["user_id"] != "user-1" {
		t.Errorf("user_id = %v, want user-1", rec.Fields["user_id"])
	}
}

func TestEndViewUpdatePatchesViewInSameBatch(t *testing.T) {
	st := store.NewInMemoryStore()
	e := NewEngine(Config{}, st)

	ts := time.Now()
	e.Enqueue(viewEvent("user-1", "p1", ts))
	e.Enqueue(&event.Event{
		Kind:      event.KindEndViewUpdate,
		UserID:    "user-1",
		PassageID: "p1",
		Timestamp: ts.Add(2 * time.Second),
		View: &event.ViewData{
			StartTime:       ts,
			EndTime:         ts.Add(2 * time.Second),
			Duration:        2 * time.Second,
			Visibility:      1.0,
			ReadingBehavior: "careful-read",
		},
	})

	if err := e.Flush(context.Background(), true); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	rec, err := st.GetRecord(context.Background(), store.CollectionEvents,
		event.SynthesizeID("view", "p1", ts))
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	view := rec.Fields["view"].(map[string]any)
	if view["duration_ms"] != int64(2000) {
		t.Errorf("view.duration_ms = %v, want 2000 from same-batch patch", view["duration_ms"])
	}
}

func TestEndViewUpdateWithoutMatchingViewSkipped(t *testing.T) {
	st := store.NewInMemoryStore()
	e := NewEngine(Config{}, st)

	e.Enqueue(&event.Event{
		Kind:      event.KindEndViewUpdate,
		UserID:    "user-1",
		PassageID: "never-viewed",
		Timestamp: time.Now(),
		View:      &event.ViewData{Duration: time.Second},
	})

	if err := e.Flush(context.Background(), true); err != nil {
		t.Errorf("Flush() error = %v, want skip without error", err)
	}
	if got := st.Count(store.CollectionEvents); got != 0 {
		t.Errorf("stored events = %d, want 0", got)
	}
}

func TestSchedulerFlushesPeriodically(t *testing.T) {
	st := store.NewInMemoryStore()
	e := NewEngine(Config{FlushInterval: 10 * time.Millisecond}, st)

	e.Enqueue(viewEvent("user-1", "p1", time.Now()))
	e.Start(context.Background())
	defer e.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for st.Count(store.CollectionEvents) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("scheduler did not flush within deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	st := store.NewInMemoryStore()
	e := NewEngine(Config{FlushInterval: time.Hour}, st)

	e.Start(context.Background())
	e.Start(context.Background())
	e.Stop()
	e.Stop()
}

func TestShutdownSpillsAndRestores(t *testing.T) {
	spillPath := filepath.Join(t.TempDir(), "pending.cbor")

	// First run: store permanently down, events spill to disk.
	down := newFlakyStore(1 << 30)
	e := NewEngine(Config{OfflineQueue: true, SpillPath: spillPath}, down)

	base := time.Now()
	e.Enqueue(viewEvent("user-1", "p1", base))
	e.Enqueue(viewEvent("user-1", "p2", base.Add(time.Second)))

	if err := e.Shutdown(context.Background()); err == nil {
		t.Fatal("Shutdown() error = nil, want flush failure")
	}

	// Second run: events restore from disk and deliver.
	st := store.NewInMemoryStore()
	e2 := NewEngine(Config{OfflineQueue: true, SpillPath: spillPath}, st)

	if e2.Pending() != 2 {
		t.Fatalf("Pending() after restore = %d, want 2", e2.Pending())
	}
	if err := e2.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if got := st.Count(store.CollectionEvents); got != 2 {
		t.Errorf("stored events = %d, want 2", got)
	}

	// Third run: nothing left to restore.
	e3 := NewEngine(Config{OfflineQueue: true, SpillPath: spillPath}, st)
	if e3.Pending() != 0 {
		t.Errorf("Pending() after clean restore = %d, want 0", e3.Pending())
	}
}

func TestConcurrentEnqueueAndFlush(t *testing.T) {
	st := store.NewInMemoryStore()
	e := NewEngine(Config{Capacity: 500}, st)

	base := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				ts := base.Add(time.Duration(n*1000+j) * time.Millisecond)
				e.Enqueue(viewEvent("user-1", "p", ts))
				_ = e.Flush(context.Background(), true)
			}
		}(i)
	}
	wg.Wait()

	if err := e.Flush(context.Background(), true); err != nil {
		t.Fatalf("final Flush() error = %v", err)
	}
	if e.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", e.Pending())
	}
	if got := st.Count(store.CollectionEvents); got != 100 {
		t.Errorf("stored events = %d, want 100", got)
	}
}

// stallingStore blocks its first batch commit until released.
type stallingStore struct {
	*store.InMemoryStore

	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newStallingStore() *stallingStore {
	return &stallingStore{
		InMemoryStore: store.NewInMemoryStore(),
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
}

func (s *stallingStore) CommitBatch(ctx context.Context, writes []store.Write) error {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return s.InMemoryStore.CommitBatch(ctx, writes)
}

func TestForcedFlushWaitsForInFlightFlush(t *testing.T) {
	st := newStallingStore()
	e := NewEngine(Config{OfflineQueue: true}, st)
	ctx := context.Background()
	now := time.Now()

	e.Enqueue(viewEvent("u1", "p1", now))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := e.Flush(ctx, false); err != nil {
			t.Errorf("scheduled Flush() error = %v", err)
		}
	}()

	// Wait until the scheduled flush is stalled inside the store, then
	// enqueue more work and force a flush; it must block until the
	// in-flight commit finishes and then deliver the new event.
	<-st.entered
	e.Enqueue(viewEvent("u1", "p2", now.Add(time.Second)))

	forcedDone := make(chan error, 1)
	go func() {
		forcedDone <- e.Flush(ctx, true)
	}()

	select {
	case err := <-forcedDone:
		t.Fatalf("forced Flush() returned %v before the in-flight flush completed", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(st.release)
	wg.Wait()

	select {
	case err := <-forcedDone:
		if err != nil {
			t.Fatalf("forced Flush() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("forced Flush() did not complete after the in-flight flush finished")
	}

	if got := e.Pending(); got != 0 {
		t.Errorf("Pending() = %d, want 0", got)
	}
	if got := st.Count(store.CollectionEvents); got != 2 {
		t.Errorf("stored events = %d, want 2", got)
	}
}
