package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/cache"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/collab"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/config"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/database"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/handlers"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/ids"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/jobs"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/lock"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/log"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/repository"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/server"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/state"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment)

	ctx := context.Background()

	dbPool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}

	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}

	sharedStore := store.NewRedisStore(ctx, redisClient, logger)

	locker := lock.NewLocker(sharedStore, ids.New(), lock.Options{
		AcquireTimeout: cfg.Lock.AcquireTimeout,
		PollInterval:   cfg.Lock.PollInterval,
		StaleAfter:     cfg.Lock.StaleAfter,
	}, time.Now, logger)

	states := state.NewStore(sharedStore, locker, time.Now, logger)
	service := collab.NewService(states, cfg.Collab, time.Now, logger)
	occupancy := collab.NewOccupancyLimiter(sharedStore, locker, cfg.Occupancy, time.Now, logger)
	catalog := repository.NewCatalogRepository(dbPool)

	handlerSet := handlers.NewHandlerSet(logger, cfg, service, occupancy, catalog, dbPool, redisClient)
	httpServer := server.NewHTTPServer(cfg, logger, handlerSet)

	scheduler := jobs.NewScheduler(service.Sessions(), catalog, cfg.Collab.CleanupInterval, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, scheduler, sharedStore, dbPool, redisClient)
}

func waitForShutdown(
	logger zerolog.Logger,
	srv *server.HTTPServer,
	scheduler *jobs.Scheduler,
	sharedStore *store.RedisStore,
	db *pgxpool.Pool,
	redisClient *redis.Client,
) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("forced shutdown failed")
		}
	}

	if scheduler != nil {
		scheduler.Stop()
	}

	sharedStore.Close()
	db.Close()
	if err := redisClient.Close(); err != nil {
		logger.Error().Err(err).Msg("redis close error")
	}

	logger.Info().Msg("server exited cleanly")
}
