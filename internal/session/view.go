package session

import (
	"sync"
	"time"
)

// ViewState is the transient tracking record for a single passage viewing
// interval. It lives only while the passage is visible.
type ViewState struct {
	// ViewStart is when the passage became visible.
	ViewStart time.Time

	// PauseStart is the open pause interval, if any. At most one pause
	// interval may be open at a time.
	PauseStart *time.Time

	// PauseDurations holds the closed pause intervals.
	PauseDurations []time.Duration

	// ScrollPositions holds raw scroll-position samples in view order.
	ScrollPositions []float64

	// InteractionCount counts likes/shares/bookmarks/skips that occurred
	// while the passage was in view.
	InteractionCount int
}

// Tracker holds the per-passage view state, keyed by passage id.
// At most one open view interval exists per passage id; opening a view for
// a passage that already has one discards the stale record.
// Thread-safe for concurrent access.
type Tracker struct {
	mu    sync.Mutex
	views map[string]*ViewState
}

// NewTracker creates an empty view tracker.
func NewTracker() *Tracker {
	return &Tracker{
		views: make(map[string]*ViewState),
	}
}

// Open starts a new view interval for the passage, replacing any stale one.
func (t *Tracker) Open(passageID string, start time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.views[passageID] = &ViewState{
		ViewStart:       start,
		PauseDurations:  []time.Duration{},
		ScrollPositions: []float64{},
	}
}

// Pause opens a pause interval on the passage's view.
// No-op if there is no open view.
func (t *Tracker) Pause(passageID string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.views[passageID]
	if !ok {
		return
	}
	v.PauseStart = &at
}

// Resume closes the open pause interval, recording its duration.
// Returns false if there is no open view or no matching open pause.
func (t *Tracker) Resume(passageID string, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.views[passageID]
	if !ok || v.PauseStart == nil {
		return false
	}
	v.PauseDurations = append(v.PauseDurations, at.Sub(*v.PauseStart))
	v.PauseStart = nil
	return true
}

// Scroll appends a scroll-position sample to the passage's view and returns
// the absolute distance from the previous sample, 0 for the first sample.
// No-op returning 0 if there is no open view.
func (t *Tracker) Scroll(passageID string, y float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.views[passageID]
	if !ok {
		return 0
	}
	var delta float64
	if n := len(v.ScrollPositions); n > 0 {
		delta = y - v.ScrollPositions[n-1]
		if delta < 0 {
			delta = -delta
		}
	}
	v.ScrollPositions = append(v.ScrollPositions, y)
	return delta
}

// Interact increments the passage's interaction counter, creating a view
// record if none exists. An action can occur without an active view.
func (t *Tracker) Interact(passageID string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.views[passageID]
	if !ok {
		v = &ViewState{
			ViewStart:       now,
			PauseDurations:  []time.Duration{},
			ScrollPositions: []float64{},
		}
		t.views[passageID] = v
	}
	v.InteractionCount++
}

// Close removes and returns the passage's view record.
// Returns false if there is no open view for the passage.
func (t *Tracker) Close(passageID string) (*ViewState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.views[passageID]
	if !ok {
		return nil, false
	}
	delete(t.views, passageID)
	return v, true
}

// Len returns the number of open view records.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.views)
}

// Clear removes all view records.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.views = make(map[string]*ViewState)
}
