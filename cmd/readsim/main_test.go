package main

import (
	"context"
	"testing"
	"time"

	"github.com/okline/readpulse/internal/device"
	"github.com/okline/readpulse/internal/engagement"
	"github.com/okline/readpulse/internal/feed"
	"github.com/okline/readpulse/internal/identity"
	"github.com/okline/readpulse/internal/profile"
	"github.com/okline/readpulse/internal/queue"
	"github.com/okline/readpulse/internal/store"
)

func TestRunSimulatedSession(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	if err := seedPassages(ctx, st); err != nil {
		t.Fatalf("seedPassages() error = %v", err)
	}

	engine := queue.NewEngine(queue.Config{OfflineQueue: true}, st)
	recorder := engagement.NewRecorder(engagement.Config{
		MinViewDuration:  time.Millisecond,
		DetailedTracking: true,
	}, engine, st, profile.NewManager(st, nil, nil), device.StaticDetector{
		UserAgent:   "readsim-test",
		ScreenWidth: 1440,
	})
	client := feed.NewClient(feed.NewStoreSource(st, feed.DefaultBatchSize), nil, nil)

	err := run(ctx, recorder, client, identity.NewStaticProvider("sim-user"), 4, 2*time.Millisecond)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}

	if got := st.Count(store.CollectionSessions); got != 1 {
		t.Errorf("persisted sessions = %d, want 1", got)
	}
	if got := st.Count(store.CollectionProfiles); got != 1 {
		t.Errorf("persisted profiles = %d, want 1", got)
	}

	prof, err := recorder.UserBehaviorProfile(ctx, "sim-user")
	if err != nil {
		t.Fatalf("UserBehaviorProfile() error = %v", err)
	}
	if prof.EngagementPatterns.LikeRate <= 0 {
		t.Errorf("EngagementPatterns.LikeRate = %v, want > 0 after a liked passage", prof.EngagementPatterns.LikeRate)
	}
	if prof.EngagementPatterns.AverageSessionDuration <= 0 {
		t.Errorf("EngagementPatterns.AverageSessionDuration = %v, want > 0", prof.EngagementPatterns.AverageSessionDuration)
	}
}

func TestRunWithoutIdentity(t *testing.T) {
	st := store.NewInMemoryStore()
	engine := queue.NewEngine(queue.Config{}, st)
	recorder := engagement.NewRecorder(engagement.Config{}, engine, st, profile.NewManager(st, nil, nil), nil)
	client := feed.NewClient(feed.NewStaticSource(nil, 0), nil, nil)

	err := run(context.Background(), recorder, client, identity.NewStaticProvider(""), 1, time.Millisecond)
	if err == nil {
		t.Fatal("run() with no identity should fail")
	}
}
