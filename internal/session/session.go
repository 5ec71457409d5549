// Package session provides the user session model and the transient
// per-passage view tracking state for the engagement pipeline.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okline/readpulse/internal/reading"
)

// ScreenSize holds the screen dimensions captured at session start.
type ScreenSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DeviceInfo describes the device context for a session.
// Captured once at session start and never mutated.
type DeviceInfo struct {
	Type           string     `json:"type"` // "mobile", "tablet" or "desktop"
	UserAgent      string     `json:"user_agent"`
	ScreenSize     ScreenSize `json:"screen_size"`
	ConnectionType string     `json:"connection_type"`
}

// Session represents one continuous period of user activity, bounded by
// start and end. Exactly one session is active per Recorder at a time.
type Session struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	// TotalDuration is recomputed on each meaningful update and
	// finalized at session end.
	TotalDuration time.Duration `json:"total_duration"`

	// Ordered-unique sets of passage ids.
	PassagesViewed     []string `json:"passages_viewed"`
	PassagesLiked      []string `json:"passages_liked"`
	PassagesBookmarked []string `json:"passages_bookmarked"`
	PassagesSkipped    []string `json:"passages_skipped"`

	TotalScrollDistance   float64         `json:"total_scroll_distance"`
	AverageTimePerPassage time.Duration   `json:"average_time_per_passage"`
	Quality               reading.Quality `json:"session_quality"`

	DeviceInfo DeviceInfo `json:"device_info"`
}

// New creates a session for the given user with a freshly allocated id.
// The id combines the user id, the start timestamp and a random suffix so
// that concurrent sessions collide only with overwhelming improbability.
func New(userID string, start time.Time, device DeviceInfo) *Session {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	return &Session{
		ID:                 fmt.Sprintf("%s-%d-%s", userID, start.UnixMilli(), suffix),
		UserID:             userID,
		StartTime:          start,
		PassagesViewed:     []string{},
		PassagesLiked:      []string{},
		PassagesBookmarked: []string{},
		PassagesSkipped:    []string{},
		Quality:            reading.QualityMedium,
		DeviceInfo:         device,
	}
}

// appendUnique appends id to set if not already present.
// Returns the possibly-grown set and whether it changed.
func appendUnique(set []string, id string) ([]string, bool) {
	for _, existing := range set {
		if existing == id {
			return set, false
		}
	}
	return append(set, id), true
}

// MarkViewed records a passage as viewed. Returns true if this is the first
// view of the passage within the session.
func (s *Session) MarkViewed(passageID string) bool {
	var added bool
	s.PassagesViewed, added = appendUnique(s.PassagesViewed, passageID)
	return added
}

// MarkLiked records a passage as liked. Returns true if newly added.
func (s *Session) MarkLiked(passageID string) bool {
	var added bool
	s.PassagesLiked, added = appendUnique(s.PassagesLiked, passageID)
	return added
}

// MarkBookmarked records a passage as bookmarked. Returns true if newly added.
func (s *Session) MarkBookmarked(passageID string) bool {
	var added bool
	s.PassagesBookmarked, added = appendUnique(s.PassagesBookmarked, passageID)
	return added
}

// MarkSkipped records a passage as skipped. Returns true if newly added.
func (s *Session) MarkSkipped(passageID string) bool {
	var added bool
	s.PassagesSkipped, added = appendUnique(s.PassagesSkipped, passageID)
	return added
}

// HasViewed reports whether the passage has been viewed this session.
func (s *Session) HasViewed(passageID string) bool {
	for _, id := range s.PassagesViewed {
		if id == passageID {
			return true
		}
	}
	return false
}

// Finalize stamps the end time, recomputes the total duration and derived
// averages, and rates the session quality. Idempotent with respect to the
// session id, which is immutable once assigned.
func (s *Session) Finalize(end time.Time) {
	s.EndTime = &end
	s.TotalDuration = end.Sub(s.StartTime)
	s.Quality = reading.SessionQuality(
		len(s.PassagesViewed), len(s.PassagesLiked), len(s.PassagesBookmarked), s.TotalDuration)
	if len(s.PassagesViewed) > 0 {
		s.AverageTimePerPassage = s.TotalDuration / time.Duration(len(s.PassagesViewed))
	} else {
		s.AverageTimePerPassage = 0
	}
}

// Clone returns a deep copy of the session, safe for the caller to read
// while the original continues to mutate.
func (s *Session) Clone() *Session {
	c := *s
	c.PassagesViewed = append([]string(nil), s.PassagesViewed...)
	c.PassagesLiked = append([]string(nil), s.PassagesLiked...)
	c.PassagesBookmarked = append([]string(nil), s.PassagesBookmarked...)
	c.PassagesSkipped = append([]string(nil), s.PassagesSkipped...)
	if s.EndTime != nil {
		end := *s.EndTime
		c.EndTime = &end
	}
	return &c
}

// Fields returns the session as a flat field map for the persistence
// adapter. Durations are stored in milliseconds; timestamps as RFC3339
// strings so lexicographic ordering matches chronological ordering.
func (s *Session) Fields() map[string]any {
	fields := map[string]any{
		"id":                       s.ID,
		"user_id":                  s.UserID,
		"start_time":               s.StartTime.UTC().Format(time.RFC3339Nano),
		"total_duration_ms":        s.TotalDuration.Milliseconds(),
		"passages_viewed":          append([]string(nil), s.PassagesViewed...),
		"passages_liked":           append([]string(nil), s.PassagesLiked...),
		"passages_bookmarked":      append([]string(nil), s.PassagesBookmarked...),
		"passages_skipped":         append([]string(nil), s.PassagesSkipped...),
		"total_scroll_distance":    s.TotalScrollDistance,
		"average_time_per_passage": s.AverageTimePerPassage.Milliseconds(),
		"session_quality":          string(s.Quality),
		"device_type":              s.DeviceInfo.Type,
		"device_user_agent":        s.DeviceInfo.UserAgent,
		"device_screen_width":      s.DeviceInfo.ScreenSize.Width,
		"device_screen_height":     s.DeviceInfo.ScreenSize.Height,
		"device_connection_type":   s.DeviceInfo.ConnectionType,
	}
	if s.EndTime != nil {
		fields["end_time"] = s.EndTime.UTC().Format(time.RFC3339Nano)
	}
	return fields
}
