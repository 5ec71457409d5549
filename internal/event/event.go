// Package event defines the immutable engagement events produced by the
// telemetry pipeline and their persistence field mappings.
package event

import (
	"fmt"
	"time"

	"github.com/okline/readpulse/internal/reading"
	"github.com/okline/readpulse/internal/session"
)

// Kind tags the variant of an engagement event.
type Kind string

const (
	// KindStartSession records that a session began; carries the session record.
	KindStartSession Kind = "start-session"
	// KindView records that a passage came into view, with zeroed view metrics.
	KindView Kind = "view"
	// KindEndViewUpdate patches the derived metrics of a previously written
	// view event once the view interval closes. The only mutation the event
	// log permits.
	KindEndViewUpdate Kind = "end-view-update"
	// KindAction records a like, share, bookmark or skip.
	KindAction Kind = "action"
	// KindEndSession records that a session ended; carries the final session record.
	KindEndSession Kind = "end-session"
)

// Action identifies the user interaction for KindAction events.
type Action string

const (
	ActionLike     Action = "like"
	ActionShare    Action = "share"
	ActionBookmark Action = "bookmark"
	ActionSkip     Action = "skip"
)

// ContextSnapshot captures the feed context at the moment an event occurred.
type ContextSnapshot struct {
	TimeOfDay         string        `json:"time_of_day"`
	DayOfWeek         int           `json:"day_of_week"`
	DeviceType        string        `json:"device_type"`
	Position          int           `json:"position"`
	PreviousPassageID string        `json:"previous_passage_id,omitempty"`
	SessionDuration   time.Duration `json:"session_duration"`
	IsFirstView       bool          `json:"is_first_view"`
	FeedVelocity      float64       `json:"feed_velocity"`
}

// PassageSnapshot captures derived content metrics at the time of the event.
type PassageSnapshot struct {
	EstimatedReadingTime time.Duration `json:"estimated_reading_time"`
	WordCount            int           `json:"word_count"`
	TextComplexity       float64       `json:"text_complexity"`
	Likes                int           `json:"likes"`
	Views                int           `json:"views"`
}

// ViewData carries the metrics of a passage view interval.
// A view event starts with zeroed metrics and full visibility; the matching
// end-view-update patches in the final values.
type ViewData struct {
	StartTime        time.Time        `json:"start_time"`
	EndTime          time.Time        `json:"end_time"`
	Duration         time.Duration    `json:"duration"`
	Visibility       float64          `json:"visibility"`
	ScrollSpeed      float64          `json:"scroll_speed"`
	PauseDurations   []time.Duration  `json:"pause_durations"`
	ReadingBehavior  reading.Behavior `json:"reading_behavior"`
	InteractionCount int              `json:"interaction_count"`
}

// Event is an immutable, append-only engagement fact. Events are never
// mutated after creation; the end-view-update variant patches a previously
// persisted view event rather than the in-memory value.
type Event struct {
	Kind      Kind      `json:"kind"`
	UserID    string    `json:"user_id"`
	PassageID string    `json:"passage_id,omitempty"`
	BookID    string    `json:"book_id,omitempty"`
	Action    Action    `json:"action,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	Context *ContextSnapshot `json:"context,omitempty"`
	Passage *PassageSnapshot `json:"passage,omitempty"`
	View    *ViewData        `json:"view,omitempty"`

	// Session carries a snapshot of the session record for the
	// start-session and end-session variants.
	Session *session.Session `json:"session,omitempty"`
}

// SynthesizeID builds the persisted id for an appended event, combining the
// event type, passage id and emission timestamp.
func SynthesizeID(eventType, passageID string, ts time.Time) string {
	return fmt.Sprintf("%s-%s-%d", eventType, passageID, ts.UnixMilli())
}

// TimeOfDayBucket buckets a timestamp into night/morning/afternoon/evening.
func TimeOfDayBucket(t time.Time) string {
	switch hour := t.Hour(); {
	case hour < 6:
		return "night"
	case hour < 12:
		return "morning"
	case hour < 18:
		return "afternoon"
	case hour < 22:
		return "evening"
	default:
		return "night"
	}
}

// StoredType returns the event type string persisted for this event:
// "view" for view events, the action name for action events.
func (e *Event) StoredType() string {
	if e.Kind == KindAction {
		return string(e.Action)
	}
	return string(KindView)
}

// Fields returns the persistence field map for appended view and action
// events. Timestamps are RFC3339 strings so descending lexicographic order
// matches reverse-chronological order.
func (e *Event) Fields() map[string]any {
	fields := map[string]any{
		"user_id":    e.UserID,
		"passage_id": e.PassageID,
		"book_id":    e.BookID,
		"event_type": e.StoredType(),
		"timestamp":  e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if e.Context != nil {
		fields["context"] = map[string]any{
			"time_of_day":         e.Context.TimeOfDay,
			"day_of_week":         e.Context.DayOfWeek,
			"device_type":         e.Context.DeviceType,
			"position":            e.Context.Position,
			"previous_passage_id": e.Context.PreviousPassageID,
			"session_duration_ms": e.Context.SessionDuration.Milliseconds(),
			"is_first_view":       e.Context.IsFirstView,
			"feed_velocity":       e.Context.FeedVelocity,
		}
	}
	if e.Passage != nil {
		fields["passage"] = map[string]any{
			"estimated_reading_time_ms": e.Passage.EstimatedReadingTime.Milliseconds(),
			"word_count":                e.Passage.WordCount,
			"text_complexity":           e.Passage.TextComplexity,
			"likes":                     e.Passage.Likes,
			"views":                     e.Passage.Views,
		}
	}
	if e.View != nil {
		fields["view"] = e.View.fields()
	}
	return fields
}

// PatchFields returns the field map an end-view-update applies to the
// previously written view event.
func (v *ViewData) PatchFields() map[string]any {
	return map[string]any{"view": v.fields()}
}

func (v *ViewData) fields() map[string]any {
	pauses := make([]int64, 0, len(v.PauseDurations))
	for _, p := range v.PauseDurations {
		pauses = append(pauses, p.Milliseconds())
	}
	return map[string]any{
		"start_time":        v.StartTime.UTC().Format(time.RFC3339Nano),
		"end_time":          v.EndTime.UTC().Format(time.RFC3339Nano),
		"duration_ms":       v.Duration.Milliseconds(),
		"visibility":        v.Visibility,
		"scroll_speed":      v.ScrollSpeed,
		"pause_durations":   pauses,
		"reading_behavior":  string(v.ReadingBehavior),
		"interaction_count": v.InteractionCount,
	}
}
