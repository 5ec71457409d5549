package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/okline/readpulse/internal/config"
	"github.com/okline/readpulse/internal/device"
	"github.com/okline/readpulse/internal/engagement"
	"github.com/okline/readpulse/internal/event"
	"github.com/okline/readpulse/internal/feed"
	"github.com/okline/readpulse/internal/identity"
	"github.com/okline/readpulse/internal/profile"
	"github.com/okline/readpulse/internal/queue"
	"github.com/okline/readpulse/internal/store"
	"github.com/okline/readpulse/internal/tracing"
)

func main() {
	var (
		help       = flag.Bool("help", false, "Show usage information")
		configPath = flag.String("config", "", "Path to optional YAML config file")
		userID     = flag.String("user", "dev-user", "User id for the simulated session")
		passages   = flag.Int("passages", 5, "Number of passages to read")
		dwell      = flag.Duration("dwell", 1200*time.Millisecond, "Dwell time per passage")
	)
	flag.Parse()

	if *help {
		fmt.Println("readsim - drive a simulated reading session through the telemetry pipeline")
		fmt.Println("\nUsage:")
		fmt.Println("  readsim [flags]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		fmt.Println("\nEnvironment:")
		fmt.Println("  DATABASE_URL              Postgres DSN; empty selects the in-memory store")
		fmt.Println("  REDIS_ADDR                Redis address for the profile cache (optional)")
		fmt.Println("  READPULSE_QUEUE_CAPACITY  Pending-event queue capacity")
		fmt.Println("  READPULSE_SPILL_PATH      Offline-queue spill file (optional)")
		os.Exit(0)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			logger.Error("configuration error", "error", err)
		}
		os.Exit(1)
	}

	ctx := context.Background()

	if cfg.TracingEnabled {
		provider, err := tracing.NewProvider(tracing.Config{
			ServiceName:  cfg.TracingServiceName,
			Enabled:      true,
			Environment:  cfg.Env,
			ExporterType: cfg.TracingExporter,
			OTLPEndpoint: cfg.OTLPEndpoint,
			SamplingRate: cfg.TracingSampleRate,
			InsecureMode: cfg.Env != "production",
		})
		if err != nil {
			logger.Error("failed to initialize tracing", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logger.Error("tracing shutdown failed", "error", err)
			}
		}()
	}

	var st store.Store
	seeded := false
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		st = store.NewPostgresStore(db, logger)
		logger.Info("using postgres store")
	} else {
		mem := store.NewInMemoryStore()
		if err := seedPassages(ctx, mem); err != nil {
			logger.Error("failed to seed passages", "error", err)
			os.Exit(1)
		}
		st = mem
		seeded = true
		logger.Info("using in-memory store")
	}

	var cache *redis.Client
	if cfg.RedisAddr != "" {
		cache = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer cache.Close()
	}

	metrics := queue.NewMetrics()
	if err := metrics.Register(prometheus.NewRegistry()); err != nil {
		logger.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	engine := queue.NewEngine(queue.Config{
		Capacity:      cfg.QueueCapacity,
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval(),
		OfflineQueue:  cfg.OfflineQueue,
		SpillPath:     cfg.SpillPath,
		Logger:        logger,
		Metrics:       metrics,
	}, st)
	engine.Start(ctx)

	recorder := engagement.NewRecorder(engagement.Config{
		MinViewDuration:     cfg.MinViewDuration(),
		SessionSaveThrottle: cfg.SessionSaveThrottle(),
		DetailedTracking:    cfg.DetailedTracking,
		Logger:              logger,
	}, engine, st, profile.NewManager(st, cache, logger), device.StaticDetector{
		UserAgent:      "readsim/1.0",
		ScreenWidth:    1440,
		ScreenHeight:   900,
		ConnectionType: "wifi",
	})

	// Stored passages first; the seeded in-memory run always has them,
	// and an unseeded database falls back to the canned set.
	var fallback feed.Source
	if !seeded {
		fallback = feed.NewStaticSource(simPassages(), feed.DefaultBatchSize)
	}
	client := feed.NewClient(feed.NewStoreSource(st, feed.DefaultBatchSize), fallback, logger)

	ident := identity.NewStaticProvider(*userID)

	if err := run(ctx, recorder, client, ident, *passages, *dwell); err != nil {
		logger.Error("simulation failed", "error", err)
		os.Exit(1)
	}
}

// run drives one simulated reading session end to end and prints a summary.
func run(ctx context.Context, r *engagement.Recorder, client *feed.Client, ident identity.Provider, count int, dwell time.Duration) error {
	userID, ok := ident.CurrentUserID()
	if !ok {
		return fmt.Errorf("no user identity available")
	}
	ident.OnChange(func(id string) {
		if id != "" {
			r.StartSession(ctx, id)
		}
	})
	r.StartSession(ctx, userID)

	previousID := ""
	read := 0
	for read < count && client.HasMore() {
		page, err := client.Next(ctx)
		if err != nil {
			return fmt.Errorf("fetching passages: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, p := range page {
			if read >= count {
				break
			}
			r.TrackPassageView(ctx, p, read, previousID)
			r.TrackScroll(p.ID, float64(read*600))
			r.TrackScroll(p.ID, float64(read*600)+140)
			if read%2 == 1 {
				r.TrackPause(p.ID)
				time.Sleep(dwell / 4)
				r.TrackResume(p.ID)
			}
			time.Sleep(dwell)
			if read%3 == 2 {
				r.TrackAction(p, event.ActionLike, read)
			}
			if read%4 == 3 {
				r.TrackAction(p, event.ActionBookmark, read)
			}
			r.TrackPassageViewEnd(p.ID, 0.95)
			previousID = p.ID
			read++
		}
	}

	sess := r.CurrentSession()
	quality := r.SessionQuality()

	if err := r.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down recorder: %w", err)
	}

	if sess == nil {
		fmt.Println("no session recorded")
		return nil
	}

	fmt.Printf("session %s\n", sess.ID)
	fmt.Printf("  passages viewed:     %d\n", len(sess.PassagesViewed))
	fmt.Printf("  passages liked:      %d\n", len(sess.PassagesLiked))
	fmt.Printf("  passages bookmarked: %d\n", len(sess.PassagesBookmarked))
	fmt.Printf("  scroll distance:     %.0fpx\n", sess.TotalScrollDistance)
	fmt.Printf("  quality:             %s\n", quality)

	prof, err := r.UserBehaviorProfile(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading behavior profile: %w", err)
	}
	fmt.Printf("profile %s\n", prof.UserID)
	fmt.Printf("  like rate:           %.2f\n", prof.EngagementPatterns.LikeRate)
	fmt.Printf("  bookmark rate:       %.2f\n", prof.EngagementPatterns.BookmarkRate)
	fmt.Printf("  avg session:         %s\n", prof.EngagementPatterns.AverageSessionDuration)
	return nil
}

func seedPassages(ctx context.Context, st store.Store) error {
	for _, p := range simPassages() {
		fields, err := feed.EncodePassage(p)
		if err != nil {
			return err
		}
		if err := st.UpsertRecord(ctx, store.CollectionPassages, p.ID, fields); err != nil {
			return err
		}
	}
	return nil
}

func simPassages() []*feed.Passage {
	now := time.Now()
	return []*feed.Passage{
		{
			ID: "sim-001", BookID: "walden", BookTitle: "Walden", Author: "Henry David Thoreau",
			Text:     "I went to the woods because I wished to live deliberately. I wanted to front only the essential facts of life. I did not wish to discover, when I came to die, that I had not lived.",
			Tags:     []string{"nature", "philosophy"}, Category: "essay", Length: "medium", Density: "dense",
			CreatedAt: now, Likes: 12, Engagement: feed.Engagement{Views: 340},
		},
		{
			ID: "sim-002", BookID: "walden", BookTitle: "Walden", Author: "Henry David Thoreau",
			Text:     "Our life is frittered away by detail. Simplify, simplify. Let your affairs be as two or three, and not a hundred or a thousand.",
			Tags:     []string{"philosophy"}, Category: "essay", Length: "short", Density: "airy",
			CreatedAt: now, Likes: 8, Engagement: feed.Engagement{Views: 210},
		},
		{
			ID: "sim-003", BookID: "meditations", BookTitle: "Meditations", Author: "Marcus Aurelius",
			Text:     "You have power over your mind, not outside events. Realize this, and you will find strength. The happiness of your life depends upon the quality of your thoughts.",
			Tags:     []string{"stoicism"}, Category: "philosophy", Length: "short", Density: "dense",
			CreatedAt: now, Likes: 25, Engagement: feed.Engagement{Views: 512},
		},
		{
			ID: "sim-004", BookID: "meditations", BookTitle: "Meditations", Author: "Marcus Aurelius",
			Text:     "Waste no more time arguing about what a good man should be. Be one. The soul becomes dyed with the color of its thoughts.",
			Tags:     []string{"stoicism"}, Category: "philosophy", Length: "short", Density: "airy",
			CreatedAt: now, Likes: 19, Engagement: feed.Engagement{Views: 430},
		},
		{
			ID: "sim-005", BookID: "leaves", BookTitle: "Leaves of Grass", Author: "Walt Whitman",
			Text:     "I celebrate myself, and sing myself. And what I assume you shall assume, for every atom belonging to me as good belongs to you. I loafe and invite my soul.",
			Tags:     []string{"poetry"}, Category: "poetry", Length: "medium", Density: "airy",
			CreatedAt: now, Likes: 31, Engagement: feed.Engagement{Views: 680},
		},
		{
			ID: "sim-006", BookID: "leaves", BookTitle: "Leaves of Grass", Author: "Walt Whitman",
			Text:     "Keep your face always toward the sunshine, and shadows will fall behind you. Be curious, not judgmental.",
			Tags:     []string{"poetry"}, Category: "poetry", Length: "short", Density: "airy",
			CreatedAt: now, Likes: 14, Engagement: feed.Engagement{Views: 290},
		},
	}
}
