package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"

	"github.com/okline/readpulse/internal/session"
	"github.com/okline/readpulse/internal/store"
)

// DefaultCacheTTL is how long read-back profile and aggregate lookups are
// served from the cache before the store is consulted again.
const DefaultCacheTTL = 5 * time.Minute

// Baseline values for a freshly recomputed profile. Refined by downstream
// aggregation over accumulated session history, not by this package.
const (
	defaultOptimalReadingTime   = 30 * time.Second
	defaultComplexityPreference = 5.0
	defaultReadingSpeed         = 200.0
	defaultAttentionSpan        = time.Minute
	defaultEngagementScore      = 50.0
	defaultNeutralTendency      = 0.5
)

// Manager recomputes and serves behavior profiles and engagement aggregates.
// The write contract is upsert-by-id with merge semantics. The cache client
// is optional; when nil every read goes to the store.
type Manager struct {
	store  store.Store
	cache  *redis.Client
	ttl    time.Duration
	logger *slog.Logger

	nowFn func() time.Time
}

// NewManager creates a profile manager over the given store.
func NewManager(st store.Store, cache *redis.Client, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  st,
		cache:  cache,
		ttl:    DefaultCacheTTL,
		logger: logger,
		nowFn:  time.Now,
	}
}

// BasicProfile derives the baseline behavior profile from a single ended
// session. Cross-session refinement happens downstream.
func BasicProfile(userID string, sess *session.Session, now time.Time) *BehaviorProfile {
	p := &BehaviorProfile{
		UserID: userID,
		ContentPreferences: ContentPreferences{
			PreferredAuthors:     []string{},
			PreferredCategories:  []string{},
			PreferredTags:        []string{},
			PreferredLength:      "medium",
			PreferredDensity:     "airy",
			OptimalReadingTime:   defaultOptimalReadingTime,
			TimeOfDayPreferences: map[string]float64{},
			ComplexityPreference: defaultComplexityPreference,
		},
		EngagementPatterns: EngagementPatterns{
			ReadingSpeed:        defaultReadingSpeed,
			AttentionSpan:       defaultAttentionSpan,
			ExplorationTendency: defaultNeutralTendency,
		},
		UsagePatterns: UsagePatterns{
			PreferredDaysOfWeek: []int{},
			PreferredTimesOfDay: []string{},
			SessionFrequency:    1,
			AverageSessionGap:   24 * time.Hour,
			SeasonalTrends:      map[string]float64{},
		},
		FeatureVector: FeatureVector{
			EngagementScore:     defaultEngagementScore,
			DiversityPreference: defaultNeutralTendency,
			DiscoveryTendency:   defaultNeutralTendency,
			ReadingStamina:      defaultNeutralTendency,
			SocialEngagement:    defaultNeutralTendency,
			ContentLoyalty:      defaultNeutralTendency,
		},
		LastUpdated: now,
	}
	if sess != nil {
		p.EngagementPatterns.AverageSessionDuration = sess.TotalDuration
		p.EngagementPatterns.AveragePassagesPerSession = float64(len(sess.PassagesViewed))
		if viewed := len(sess.PassagesViewed); viewed > 0 {
			p.EngagementPatterns.LikeRate = float64(len(sess.PassagesLiked)) / float64(viewed)
			p.EngagementPatterns.BookmarkRate = float64(len(sess.PassagesBookmarked)) / float64(viewed)
			p.EngagementPatterns.SkipRate = float64(len(sess.PassagesSkipped)) / float64(viewed)
		}
	}
	return p
}

// Recompute derives the behavior profile from the ended session and upserts
// it. Any cached copy is invalidated so the next read observes the update.
func (m *Manager) Recompute(ctx context.Context, userID string, sess *session.Session) error {
	if userID == "" {
		return nil
	}

	p := BasicProfile(userID, sess, m.nowFn())
	fields, err := encodeFields(p)
	if err != nil {
		return fmt.Errorf("failed to encode behavior profile: %w", err)
	}

	if err := m.store.UpsertRecord(ctx, store.CollectionProfiles, userID, fields); err != nil {
		return fmt.Errorf("failed to upsert behavior profile: %w", err)
	}

	if m.cache != nil {
		if err := m.cache.Del(ctx, profileCacheKey(userID)).Err(); err != nil {
			m.logger.Warn("failed to invalidate cached profile",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// UserProfile returns the stored behavior profile for the user.
// Returns store.ErrRecordNotFound if no profile has been written yet.
func (m *Manager) UserProfile(ctx context.Context, userID string) (*BehaviorProfile, error) {
	key := profileCacheKey(userID)
	if m.cache != nil {
		data, err := m.cache.Get(ctx, key).Bytes()
		if err == nil {
			var p BehaviorProfile
			if err := cbor.Unmarshal(data, &p); err == nil {
				return &p, nil
			}
			m.logger.Warn("discarding undecodable cached profile", slog.String("user_id", userID))
		}
	}

	rec, err := m.store.GetRecord(ctx, store.CollectionProfiles, userID)
	if err != nil {
		return nil, err
	}
	var p BehaviorProfile
	if err := decodeFields(rec.Fields, &p); err != nil {
		return nil, fmt.Errorf("failed to decode behavior profile: %w", err)
	}

	if m.cache != nil {
		if data, err := cbor.Marshal(&p); err == nil {
			if err := m.cache.Set(ctx, key, data, m.ttl).Err(); err != nil {
				m.logger.Warn("failed to cache profile",
					slog.String("user_id", userID),
					slog.String("error", err.Error()))
			}
		}
	}
	return &p, nil
}

// PassageAggregates returns the stored engagement aggregate for the passage.
// Returns store.ErrRecordNotFound if no aggregate has been written yet.
func (m *Manager) PassageAggregates(ctx context.Context, passageID string) (*Aggregates, error) {
	rec, err := m.store.GetRecord(ctx, store.CollectionAggregates, passageID)
	if err != nil {
		return nil, err
	}
	var a Aggregates
	if err := decodeFields(rec.Fields, &a); err != nil {
		return nil, fmt.Errorf("failed to decode engagement aggregates: %w", err)
	}
	return &a, nil
}

func profileCacheKey(userID string) string {
	return "readpulse:profile:" + userID
}

// encodeFields converts a typed record into the store's field map.
func encodeFields(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// decodeFields converts the store's field map back into a typed record.
func decodeFields(fields map[string]any, out any) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
