package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/dealmungchi/snipedeal/config"
	"github.com/dealmungchi/snipedeal/internal"
	"github.com/dealmungchi/snipedeal/internal/api"
	"github.com/dealmungchi/snipedeal/internal/dedup"
	"github.com/dealmungchi/snipedeal/internal/extractor"
	"github.com/dealmungchi/snipedeal/internal/fetcher"
	"github.com/dealmungchi/snipedeal/internal/model"
	"github.com/dealmungchi/snipedeal/internal/notifier"
	"github.com/dealmungchi/snipedeal/internal/orchestrator"
	"github.com/dealmungchi/snipedeal/internal/scheduler"
	"github.com/dealmungchi/snipedeal/internal/storage"
	"github.com/dealmungchi/snipedeal/logger"
	"github.com/dealmungchi/snipedeal/services/cache"
	"github.com/dealmungchi/snipedeal/services/events"
	"github.com/dealmungchi/snipedeal/services/proxy"
	"github.com/dealmungchi/snipedeal/services/publisher"
)

func main() {
	// Load environment variables
	godotenv.Load()

	// Load configuration before the logger so the ring buffer can be sized
	cfg := config.LoadConfig()

	ring := events.NewRing(cfg.EventBufferSize)
	logger.Init(ring)
	log := logger.Default

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("environment", cfg.Environment).
		Str("dedup", cfg.DedupBackend).
		Str("storage", cfg.StorageBackend).
		Str("publisher", cfg.PublisherBackend).
		Msg("Starting application")

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Initialize services
	deps, err := initializeServices(ctx, &cfg, ring)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer deps.Close()

	sched, err := buildScheduler(&cfg, deps)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build scheduler")
	}

	// Ops HTTP surface
	var server *http.Server
	serverDone := make(chan error, 1)
	if cfg.HTTPAddr != "" {
		server = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           api.NewRouter(api.NewHandler(deps.Store, sched, deps.Events, nil, api.WithSeenReset(deps.Seen))),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.HTTPAddr).Msg("Starting ops server")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverDone <- err
			}
		}()
	}

	// Start scheduler in a goroutine
	schedulerDone := make(chan error, 1)
	go func() {
		log.Info().Msg("Starting campaign scheduler")
		schedulerDone <- sched.Start(ctx)
	}()

	// Wait for shutdown signal, scheduler exit or server failure
	select {
	case sig := <-sigChan:
		log.Info().
			Str("signal", sig.String()).
			Msg("Received shutdown signal")
	case err := <-schedulerDone:
		if err != nil {
			log.Error().Err(err).Msg("Scheduler exited with error")
		} else {
			log.Info().Msg("Scheduler exited normally")
		}
	case err := <-serverDone:
		log.Error().Err(err).Msg("Ops server failed")
	}

	// Graceful shutdown
	log.Info().Msg("Shutting down gracefully...")
	cancel()

	if server != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Ops server shutdown")
		}
		stop()
	}

	select {
	case <-schedulerDone:
	case <-time.After(30 * time.Second):
		log.Warn().Msg("Scheduler did not stop in time")
	}
}

// initializeServices initializes all required services
func initializeServices(ctx context.Context, cfg *config.Config, ring *events.Ring) (*internal.Dependencies, error) {
	deps := &internal.Dependencies{Events: ring}

	// Cache for rate-limit block markers; memcache when reachable
	deps.Cache = newCache(cfg)

	// Proxy rotation
	if proxies := cfg.Proxies(); len(proxies) > 0 {
		pm, err := proxy.NewManager(proxies, cfg.ProxyCooldown)
		if err != nil {
			return nil, fmt.Errorf("proxy manager: %w", err)
		}
		deps.Proxy = pm
		logger.Default.Info().Interface("proxy_stats", pm.Stats()).Msg("Proxy stats")
	}

	// One Redis client shared by the dedup store and the stream publisher
	var redisClient *redis.Client
	if cfg.DedupBackend == "redis" || cfg.PublisherBackend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			redisClient.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		deps.OnClose(redisClient.Close)
		logger.Info("Connected to Redis at %s (DB: %d)", cfg.RedisAddr, cfg.RedisDB)
	}

	// Dedup store
	switch cfg.DedupBackend {
	case "redis":
		deps.Seen = dedup.NewRedisStore(redisClient, cfg.RedisSeenPrefix, nil)
	case "file":
		fs, err := dedup.OpenFileStore(cfg.SeenFile, nil)
		if err != nil {
			deps.Close()
			return nil, err
		}
		deps.Seen = fs
		logger.Warn("Using file dedup store at %s; not for production", cfg.SeenFile)
	}

	// Listing store
	store, err := newStore(ctx, cfg)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Store = store
	deps.OnClose(store.Close)

	// Cycle result publisher
	switch cfg.PublisherBackend {
	case "redis":
		deps.Publisher = publisher.NewRedisPublisher(redisClient, cfg.RedisStream, cfg.RedisStreamCount, cfg.RedisStreamMaxLength)
		logger.Info("Publishing cycle results to stream %s", cfg.RedisStream)
	case "kafka":
		kp, err := publisher.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			deps.Close()
			return nil, err
		}
		deps.Publisher = kp
		logger.Info("Publishing cycle results to kafka topic %s", cfg.KafkaTopic)
	}
	if deps.Publisher != nil {
		deps.OnClose(deps.Publisher.Close)
	}

	// Notifier
	deps.Notifier = notifier.NewTelegram(notifier.Config{
		APIURL: cfg.TelegramAPIURL,
		Token:  cfg.TelegramBotToken,
		ChatID: cfg.TelegramChatID,
		Delay:  cfg.NotifyDelay,
	}, nil)
	if !cfg.TelegramConfigured() {
		logger.Warn("Telegram credentials missing; notifications will be skipped")
	}

	return deps, nil
}

func newCache(cfg *config.Config) cache.CacheService {
	if cfg.MemcacheAddr == "" {
		return cache.NewMemoryCache()
	}
	mc := cache.NewMemcacheService(cfg.MemcacheAddr, "snipedeal:")
	if err := mc.Ping(); err != nil {
		logger.LogError("cache", err, "Memcache at %s unavailable, using in-process cache", cfg.MemcacheAddr)
		return cache.NewMemoryCache()
	}
	logger.Info("Connected to Memcache at %s", cfg.MemcacheAddr)
	return mc
}

func newStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	var campaigns []model.Campaign
	if _, err := os.Stat(cfg.CampaignsFile); err == nil {
		campaigns, err = storage.LoadCampaigns(cfg.CampaignsFile)
		if err != nil {
			return nil, err
		}
		logger.Info("Loaded %d campaigns from %s", len(campaigns), cfg.CampaignsFile)
	}

	switch cfg.StorageBackend {
	case "postgres":
		pg, err := storage.NewPostgresStore(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns, nil)
		if err != nil {
			return nil, err
		}
		if err := pg.UpsertCampaigns(ctx, campaigns); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	default:
		return storage.NewMemoryStore(campaigns...), nil
	}
}

func buildScheduler(cfg *config.Config, deps *internal.Dependencies) (*scheduler.Scheduler, error) {
	opts := []fetcher.Option{fetcher.WithCache(deps.Cache)}
	if deps.Proxy != nil {
		opts = append(opts, fetcher.WithProxy(deps.Proxy))
	}
	f := fetcher.New(fetcher.Config{
		MaxAttempts: cfg.FetchMaxAttempts,
		MinDelay:    cfg.FetchMinDelay,
		MaxDelay:    cfg.FetchMaxDelay,
		Timeout:     cfg.FetchTimeout,
		BlockTime:   cfg.FetchBlockTime,
	}, opts...)

	sel := extractor.DefaultSelectors()
	if cfg.SelectorsFile != "" {
		loaded, err := extractor.LoadSelectors(cfg.SelectorsFile)
		if err != nil {
			return nil, err
		}
		sel = loaded
	}

	var orchOpts []orchestrator.Option
	if deps.Publisher != nil {
		orchOpts = append(orchOpts, orchestrator.WithPublisher(deps.Publisher))
	}
	orch := orchestrator.New(orchestrator.Config{
		SearchURL:              cfg.SearchURL,
		PageSize:               orchestrator.DefaultPageSize,
		AllowSynthetic:         cfg.AllowSynthetic,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
	}, f, extractor.New(sel, nil), deps.Seen, deps.Store, deps.Notifier, orchOpts...)

	return scheduler.New(scheduler.Config{
		RefreshInterval: cfg.CampaignRefresh,
		RetentionDays:   cfg.SeenRetentionDays,
	}, deps.Store, orch, deps.Seen, deps.Publisher, nil), nil
}
