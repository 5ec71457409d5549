// Package engagement is the session orchestrator: the public tracking API
// the reading UI calls. It composes session state, per-passage view
// tracking, metric derivation and the event queue into one recorder.
//
// Tracking calls never block on network I/O and never surface store
// failures; telemetry is auxiliary to the reading experience.
package engagement

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/okline/readpulse/internal/device"
	"github.com/okline/readpulse/internal/event"
	"github.com/okline/readpulse/internal/feed"
	"github.com/okline/readpulse/internal/profile"
	"github.com/okline/readpulse/internal/queue"
	"github.com/okline/readpulse/internal/reading"
	"github.com/okline/readpulse/internal/session"
	"github.com/okline/readpulse/internal/store"
)

// Default tracking tuning.
const (
	// DefaultMinViewDuration is the shortest view interval worth
	// persisting; shorter views are discarded.
	DefaultMinViewDuration = time.Second
	// DefaultSessionSaveThrottle bounds how often first-view bookkeeping
	// persists the session record.
	DefaultSessionSaveThrottle = 5 * time.Second
)

// Config holds the recorder's tracking tuning.
type Config struct {
	// MinViewDuration is the minimum view interval to persist.
	MinViewDuration time.Duration

	// SessionSaveThrottle is the minimum interval between the throttled
	// session saves triggered by first views.
	SessionSaveThrottle time.Duration

	// DetailedTracking enables pause, resume and scroll tracking.
	DetailedTracking bool

	// Logger for tracking diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the recorder defaults: detailed tracking on, 1s
// minimum view duration, 5s session-save throttle.
func DefaultConfig() Config {
	return Config{
		MinViewDuration:     DefaultMinViewDuration,
		SessionSaveThrottle: DefaultSessionSaveThrottle,
		DetailedTracking:    true,
	}
}

func (c Config) withDefaults() Config {
	if c.MinViewDuration <= 0 {
		c.MinViewDuration = DefaultMinViewDuration
	}
	if c.SessionSaveThrottle <= 0 {
		c.SessionSaveThrottle = DefaultSessionSaveThrottle
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Recorder is the engagement telemetry pipeline's public API. One recorder
// is constructed per process by the hosting application; at most one
// session is active at a time.
// Thread-safe for concurrent tracking calls.
type Recorder struct {
	cfg      Config
	engine   *queue.Engine
	store    store.Store
	profiles *profile.Manager
	detector device.Detector
	logger   *slog.Logger

	mu              sync.Mutex
	session         *session.Session
	tracker         *session.Tracker
	lastSessionSave time.Time

	nowFn func() time.Time
}

// NewRecorder creates a recorder over the given flush engine and store.
// The detector may be nil, in which case device info is left empty.
func NewRecorder(cfg Config, engine *queue.Engine, st store.Store, profiles *profile.Manager, detector device.Detector) *Recorder {
	cfg = cfg.withDefaults()
	return &Recorder{
		cfg:      cfg,
		engine:   engine,
		store:    st,
		profiles: profiles,
		detector: detector,
		logger:   cfg.Logger,
		tracker:  session.NewTracker(),
		nowFn:    time.Now,
	}
}

// StartSession begins a session for the user. A no-op if a session is
// already active for the same user; an active session for a different user
// is ended first. The new session is persisted immediately and a
// start-session event is enqueued.
func (r *Recorder) StartSession(ctx context.Context, userID string) {
	if userID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil {
		if r.session.UserID == userID {
			return
		}
		r.endSessionLocked(ctx)
	}

	now := r.nowFn()
	var info session.DeviceInfo
	if r.detector != nil {
		info = r.detector.Detect()
	}
	sess := session.New(userID, now, info)
	r.session = sess
	r.tracker.Clear()
	r.lastSessionSave = time.Time{}

	r.saveSessionLocked(ctx)
	r.engine.Enqueue(&event.Event{
		Kind:      event.KindStartSession,
		UserID:    userID,
		Timestamp: now,
		Session:   sess.Clone(),
	})
	r.logger.Info("session started",
		slog.String("session_id", sess.ID),
		slog.String("user_id", userID))
}

// EndSession finalizes and persists the active session, enqueues an
// end-session event, force-flushes the queue, recomputes the user's
// behavior profile and clears all tracking state. A no-op when inactive.
func (r *Recorder) EndSession(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endSessionLocked(ctx)
}

func (r *Recorder) endSessionLocked(ctx context.Context) {
	if r.session == nil {
		return
	}
	sess := r.session
	now := r.nowFn()

	sess.Finalize(now)
	r.saveSessionLocked(ctx)
	r.engine.Enqueue(&event.Event{
		Kind:      event.KindEndSession,
		UserID:    sess.UserID,
		Timestamp: now,
		Session:   sess.Clone(),
	})

	if err := r.engine.Flush(ctx, true); err != nil {
		r.logger.Warn("end-of-session flush failed",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()))
	}
	if r.profiles != nil {
		if err := r.profiles.Recompute(ctx, sess.UserID, sess); err != nil {
			r.logger.Warn("behavior profile recompute failed",
				slog.String("user_id", sess.UserID),
				slog.String("error", err.Error()))
		}
	}

	r.logger.Info("session ended",
		slog.String("session_id", sess.ID),
		slog.Duration("duration", sess.TotalDuration),
		slog.Int("passages_viewed", len(sess.PassagesViewed)),
		slog.String("quality", string(sess.Quality)))

	r.session = nil
	r.tracker.Clear()
	r.lastSessionSave = time.Time{}
}

// TrackPassageView opens a view interval for the passage and enqueues a
// view event with zeroed metrics and full visibility. The first view of a
// passage per session updates the viewed-set and, throttled, persists the
// session. Requires an active session; a no-op otherwise.
func (r *Recorder) TrackPassageView(ctx context.Context, p *feed.Passage, position int, previousPassageID string) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	sess := r.session
	if sess == nil {
		return
	}

	now := r.nowFn()
	r.tracker.Open(p.ID, now)

	firstView := !sess.HasViewed(p.ID)
	r.engine.Enqueue(&event.Event{
		Kind:      event.KindView,
		UserID:    sess.UserID,
		PassageID: p.ID,
		BookID:    p.BookID,
		Timestamp: now,
		Context:   r.contextSnapshotLocked(now, position, previousPassageID, firstView),
		Passage:   passageSnapshot(p),
		View: &event.ViewData{
			StartTime:       now,
			EndTime:         now,
			Visibility:      1.0,
			PauseDurations:  []time.Duration{},
			ReadingBehavior: reading.BehaviorCarefulRead,
		},
	})

	if !firstView {
		return
	}
	sess.MarkViewed(p.ID)
	sess.TotalDuration = now.Sub(sess.StartTime)
	if now.Sub(r.lastSessionSave) > r.cfg.SessionSaveThrottle {
		r.lastSessionSave = now
		r.saveSessionLocked(ctx)
	}
}

// TrackPause opens a pause interval on the passage's view.
// A no-op when detailed tracking is disabled or no view is open.
func (r *Recorder) TrackPause(passageID string) {
	if !r.cfg.DetailedTracking {
		return
	}
	r.tracker.Pause(passageID, r.nowFn())
}

// TrackResume closes the open pause interval on the passage's view.
// A no-op when detailed tracking is disabled or no matching pause is open.
func (r *Recorder) TrackResume(passageID string) {
	if !r.cfg.DetailedTracking {
		return
	}
	r.tracker.Resume(passageID, r.nowFn())
}

// TrackScroll records a scroll-position sample on the passage's view and
// accumulates the travelled distance on the session.
// A no-op when detailed tracking is disabled or no view is open.
func (r *Recorder) TrackScroll(passageID string, y float64) {
	if !r.cfg.DetailedTracking {
		return
	}
	delta := r.tracker.Scroll(passageID, y)
	if delta == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		r.session.TotalScrollDistance += delta
	}
}

// TrackPassageViewEnd closes the passage's view interval. Views shorter
// than the configured minimum are discarded without emitting an event; the
// tracking record is deleted either way. Otherwise derives scroll speed and
// reading behavior and enqueues an end-view-update patch.
func (r *Recorder) TrackPassageViewEnd(passageID string, visibility float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess := r.session
	if sess == nil {
		return
	}
	v, ok := r.tracker.Close(passageID)
	if !ok {
		return
	}

	now := r.nowFn()
	duration := now.Sub(v.ViewStart)
	if duration < r.cfg.MinViewDuration {
		return
	}

	scrollSpeed := reading.ScrollSpeed(v.ScrollPositions, duration)
	behavior := reading.ClassifyBehavior(duration, scrollSpeed, len(v.PauseDurations), visibility, v.InteractionCount)

	r.engine.Enqueue(&event.Event{
		Kind:      event.KindEndViewUpdate,
		UserID:    sess.UserID,
		PassageID: passageID,
		Timestamp: now,
		View: &event.ViewData{
			StartTime:        v.ViewStart,
			EndTime:          now,
			Duration:         duration,
			Visibility:       visibility,
			ScrollSpeed:      scrollSpeed,
			PauseDurations:   v.PauseDurations,
			ReadingBehavior:  behavior,
			InteractionCount: v.InteractionCount,
		},
	})
}

// TrackAction records a like, share, bookmark or skip. Increments the
// passage's interaction counter (creating a tracking record if absent),
// updates the matching session set (share mutates none) and enqueues an
// action event. Requires an active session; a no-op otherwise.
func (r *Recorder) TrackAction(p *feed.Passage, action event.Action, position int) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	sess := r.session
	if sess == nil {
		return
	}

	now := r.nowFn()
	r.tracker.Interact(p.ID, now)

	switch action {
	case event.ActionLike:
		sess.MarkLiked(p.ID)
	case event.ActionBookmark:
		sess.MarkBookmarked(p.ID)
	case event.ActionSkip:
		sess.MarkSkipped(p.ID)
	case event.ActionShare:
		// Shares carry no session set.
	}

	r.engine.Enqueue(&event.Event{
		Kind:      event.KindAction,
		UserID:    sess.UserID,
		PassageID: p.ID,
		BookID:    p.BookID,
		Action:    action,
		Timestamp: now,
		Context:   r.contextSnapshotLocked(now, position, "", true),
		Passage:   passageSnapshot(p),
	})
}

// Flush force-flushes the event queue.
func (r *Recorder) Flush(ctx context.Context) error {
	return r.engine.Flush(ctx, true)
}

// Shutdown ends the active session and shuts the flush engine down,
// spilling undelivered events if so configured. Best effort: the host may
// kill the process before delivery completes.
func (r *Recorder) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.endSessionLocked(ctx)
	r.mu.Unlock()
	return r.engine.Shutdown(ctx)
}

// CurrentSession returns a snapshot of the active session, or nil.
func (r *Recorder) CurrentSession() *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return nil
	}
	return r.session.Clone()
}

// SessionQuality rates the active session. Returns medium when no session
// is active.
func (r *Recorder) SessionQuality() reading.Quality {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return reading.QualityMedium
	}
	s := r.session
	return reading.SessionQuality(len(s.PassagesViewed), len(s.PassagesLiked), len(s.PassagesBookmarked), s.TotalDuration)
}

// UserBehaviorProfile returns the stored behavior profile for the user.
func (r *Recorder) UserBehaviorProfile(ctx context.Context, userID string) (*profile.BehaviorProfile, error) {
	return r.profiles.UserProfile(ctx, userID)
}

// PassageAggregates returns the stored engagement aggregate for the passage.
func (r *Recorder) PassageAggregates(ctx context.Context, passageID string) (*profile.Aggregates, error) {
	return r.profiles.PassageAggregates(ctx, passageID)
}

// saveSessionLocked persists the current session record. Failures are
// logged, never surfaced; the event queue carries the durable copy.
func (r *Recorder) saveSessionLocked(ctx context.Context) {
	sess := r.session
	if sess == nil {
		return
	}
	if err := r.store.UpsertRecord(ctx, store.CollectionSessions, sess.ID, sess.Fields()); err != nil {
		r.logger.Warn("failed to persist session",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()))
	}
}

func (r *Recorder) contextSnapshotLocked(now time.Time, position int, previousPassageID string, firstView bool) *event.ContextSnapshot {
	sess := r.session
	elapsed := now.Sub(sess.StartTime)
	return &event.ContextSnapshot{
		TimeOfDay:         event.TimeOfDayBucket(now),
		DayOfWeek:         int(now.Weekday()),
		DeviceType:        sess.DeviceInfo.Type,
		Position:          position,
		PreviousPassageID: previousPassageID,
		SessionDuration:   elapsed,
		IsFirstView:       firstView,
		FeedVelocity:      reading.FeedVelocity(len(sess.PassagesViewed), elapsed),
	}
}

func passageSnapshot(p *feed.Passage) *event.PassageSnapshot {
	return &event.PassageSnapshot{
		EstimatedReadingTime: reading.EstimatedReadingTime(p.Text),
		WordCount:            reading.WordCount(p.Text),
		TextComplexity:       reading.TextComplexity(p.Text),
		Likes:                p.Likes,
		Views:                p.Engagement.Views,
	}
}
