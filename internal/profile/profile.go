// Package profile holds the derived per-user behavior profile and per-passage
// engagement aggregate records, recomputed from session history and consumed
// by downstream recommendation logic.
package profile

import (
	"time"
)

// ContentPreferences summarizes what kinds of content the user gravitates to.
type ContentPreferences struct {
	PreferredAuthors      []string           `json:"preferred_authors"`
	PreferredCategories   []string           `json:"preferred_categories"`
	PreferredTags         []string           `json:"preferred_tags"`
	PreferredLength       string             `json:"preferred_length"`
	PreferredDensity      string             `json:"preferred_density"`
	OptimalReadingTime    time.Duration      `json:"optimal_reading_time"`
	TimeOfDayPreferences  map[string]float64 `json:"time_of_day_preferences"`
	ComplexityPreference  float64            `json:"complexity_preference"`
}

// EngagementPatterns summarizes how the user engages across sessions.
type EngagementPatterns struct {
	AverageSessionDuration    time.Duration `json:"average_session_duration"`
	AveragePassagesPerSession float64       `json:"average_passages_per_session"`
	SkipRate                  float64       `json:"skip_rate"`
	LikeRate                  float64       `json:"like_rate"`
	ShareRate                 float64       `json:"share_rate"`
	BookmarkRate              float64       `json:"bookmark_rate"`
	ReturnRate                float64       `json:"return_rate"`
	ReadingSpeed              float64       `json:"reading_speed"`
	AttentionSpan             time.Duration `json:"attention_span"`
	ExplorationTendency       float64       `json:"exploration_tendency"`
}

// UsagePatterns summarizes when and how often the user reads.
type UsagePatterns struct {
	PreferredDaysOfWeek  []int              `json:"preferred_days_of_week"`
	PreferredTimesOfDay  []string           `json:"preferred_times_of_day"`
	SessionFrequency     float64            `json:"session_frequency"`
	AverageSessionGap    time.Duration      `json:"average_session_gap"`
	SeasonalTrends       map[string]float64 `json:"seasonal_trends"`
}

// FeatureVector is the flat numeric summary consumed by ranking models.
type FeatureVector struct {
	EngagementScore     float64 `json:"engagement_score"`
	DiversityPreference float64 `json:"diversity_preference"`
	DiscoveryTendency   float64 `json:"discovery_tendency"`
	ReadingStamina      float64 `json:"reading_stamina"`
	SocialEngagement    float64 `json:"social_engagement"`
	ContentLoyalty      float64 `json:"content_loyalty"`
}

// BehaviorProfile is the per-user derived summary, upserted at session end.
type BehaviorProfile struct {
	UserID             string             `json:"user_id"`
	ContentPreferences ContentPreferences `json:"content_preferences"`
	EngagementPatterns EngagementPatterns `json:"engagement_patterns"`
	UsagePatterns      UsagePatterns      `json:"usage_patterns"`
	FeatureVector      FeatureVector      `json:"feature_vector"`
	LastUpdated        time.Time          `json:"last_updated"`
}

// Aggregates is the per-passage derived engagement summary.
type Aggregates struct {
	PassageID           string        `json:"passage_id"`
	Views               int           `json:"views"`
	Likes               int           `json:"likes"`
	Shares              int           `json:"shares"`
	Bookmarks           int           `json:"bookmarks"`
	Skips               int           `json:"skips"`
	AverageViewDuration time.Duration `json:"average_view_duration"`
	LastUpdated         time.Time     `json:"last_updated"`
}
