package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/subathon/internal/adapter/httpserver"
	"github.com/pscheid92/subathon/internal/adapter/postgres"
	"github.com/pscheid92/subathon/internal/adapter/redis"
	"github.com/pscheid92/subathon/internal/app"
	"github.com/pscheid92/subathon/internal/broadcast"
	"github.com/pscheid92/subathon/internal/dedup"
	"github.com/pscheid92/subathon/internal/domain"
	"github.com/pscheid92/subathon/internal/platform/config"
	"github.com/pscheid92/subathon/internal/platform/logging"
	"github.com/pscheid92/subathon/internal/platform/version"
	"github.com/pscheid92/subathon/internal/timer"
	"github.com/pscheid92/subathon/internal/twitch"
)

const shutdownTimeout = 10 * time.Second

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

// setupGuard returns the Redis-backed guard when REDIS_URL is set and the
// in-process guard otherwise.
func setupGuard(cfg *config.Config) (domain.IdempotencyGuard, *goredis.Client) {
	local := dedup.NewGuard(cfg.DedupCapacity)
	if cfg.RedisURL == "" {
		slog.Info("REDIS_URL not set, idempotency is process-local")
		return local, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return redis.NewGuard(client, redis.DefaultDedupTTL, local), client
}

func setupBridge(cfg *config.Config, clock clockwork.Clock) domain.Bridge {
	if !cfg.BridgeEnabled() {
		return nil
	}
	bridge, err := twitch.NewExtensionBridge(twitch.BridgeConfig{
		ClientID: cfg.ExtensionClientID,
		Secret:   cfg.ExtensionSecret,
		OwnerID:  cfg.ExtensionOwnerID,
		Clock:    clock,
	})
	if err != nil {
		slog.Error("Failed to create extension bridge", "error", err)
		os.Exit(1)
	}
	slog.Info("Viewer panel bridge enabled", "client_id", cfg.ExtensionClientID)
	return bridge
}

func setupSupervisor(cfg *config.Config, svc *app.Service, clock clockwork.Clock) *twitch.Supervisor {
	if !cfg.IngestionEnabled() {
		slog.Info("TWITCH_BROADCASTER_IDS not set, ingestion disabled")
		return nil
	}

	subscriber, err := twitch.NewHelixSubscriber(twitch.HelixConfig{
		ClientID:    cfg.TwitchClientID,
		AccessToken: cfg.TwitchAccessToken,
		Clock:       clock,
	})
	if err != nil {
		slog.Error("Failed to create Helix client", "error", err)
		os.Exit(1)
	}

	return twitch.NewSupervisor(cfg.BroadcasterIDs(), twitch.SessionConfig{
		URL:        cfg.EventSubURL,
		QueueSize:  cfg.IngestQueueSize,
		Subscriber: subscriber,
		Dispatch:   svc.HandleNotification,
		OnStatus:   svc.OnSubscriptionStatus,
		Clock:      clock,
	})
}

func healthChecks(pool *pgxpool.Pool, redisClient *goredis.Client) []httpserver.HealthCheck {
	checks := []httpserver.HealthCheck{
		{Name: "postgres", Check: func(ctx context.Context) error { return postgres.Ping(ctx, pool) }},
	}
	if redisClient != nil {
		checks = append(checks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}
	return checks
}

func runGracefulShutdown(srv *httpserver.Server, stop context.CancelFunc, background *sync.WaitGroup, broadcaster *broadcast.Broadcaster) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		// sessions close, the ticker stops and the snapshotter flushes
		stop()
		background.Wait()
		broadcaster.Stop()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().Version)

	pool := setupDB(cfg)
	defer pool.Close()

	guard, redisClient := setupGuard(cfg)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	snapshotRepo := postgres.NewSnapshotRepo(pool)
	rulesRepo := postgres.NewRulesRepo(pool)

	timers := timer.NewRegistry(clock)
	broadcaster := broadcast.NewBroadcaster(clock, cfg.MaxSubscribersPerTenant, setupBridge(cfg, clock))
	snapshotter := app.NewSnapshotter(snapshotRepo)
	svc := app.NewService(timers, guard, snapshotRepo, rulesRepo, broadcaster, snapshotter, clock)
	ticker := app.NewTicker(timers, broadcaster, broadcaster, clock, cfg.TickInterval)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var background sync.WaitGroup
	background.Go(func() { snapshotter.Run(ctx) })
	background.Go(func() { ticker.Run(ctx) })

	if supervisor := setupSupervisor(cfg, svc, clock); supervisor != nil {
		background.Go(func() {
			if err := supervisor.Run(ctx); err != nil {
				slog.Error("Ingestion stopped", "error", err)
			}
		})
		slog.Info("Ingestion started", "broadcasters", supervisor.BroadcasterIDs())
	}

	srv := httpserver.NewServer(cfg, svc, broadcaster, healthChecks(pool, redisClient))

	done := runGracefulShutdown(srv, stop, &background, broadcaster)

	if err := srv.Start(); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
