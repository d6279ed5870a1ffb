package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rental-sync/internal/config"
	"rental-sync/internal/database"
	dbpostgres "rental-sync/internal/database/postgres"
	"rental-sync/internal/infrastructure/cache"
	"rental-sync/internal/infrastructure/geocoding"
	"rental-sync/internal/infrastructure/persistence/supabase"
	"rental-sync/internal/infrastructure/snapshot"
	"rental-sync/internal/pkg/jwt"
	"rental-sync/internal/repository"
	"rental-sync/internal/usecase/geocode"
	"rental-sync/internal/usecase/reconcile"
	"rental-sync/internal/usecase/syncjob"
	"rental-sync/internal/ws"

	"go.uber.org/zap"
)

// Container owns every long-lived dependency shared by the server and the CLI.
type Container struct {
	Config config.Config
	Logger *zap.Logger

	DB       database.DB
	Cache    *cache.Redis
	Listings repository.ListingRepository
	Events   repository.ListingEventRepository
	Runs     repository.SyncRunRepository
	Markets  repository.MarketRepository

	Engine *reconcile.Engine
	Worker *geocode.Worker
	Source *snapshot.Client
	Jobs   *syncjob.Service
	Hub    *ws.Hub
	Tokens *jwt.HMACService
}

func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := dbpostgres.Connect(dbCtx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	c := &Container{
		Config:  cfg,
		Logger:  logger,
		DB:      db,
		Events:  repository.NewPostgresListingEventRepository(db),
		Runs:    repository.NewPostgresSyncRunRepository(db),
		Markets: repository.NewPostgresMarketRepository(db),
		Hub:     ws.NewHub(logger.Named("ws")),
		Tokens:  jwt.NewHMACService(cfg.Auth.ServiceTokenSecret, cfg.Auth.ServiceTokenTTL),
	}

	switch cfg.ListingStore {
	case config.StoreSupabase:
		store, err := supabase.NewListingStore(cfg.Supabase.URL, cfg.Supabase.Key)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("supabase listing store: %w", err)
		}
		c.Listings = store
	default:
		c.Listings = repository.NewPostgresListingRepository(db)
	}
	logger.Info("listing store selected", zap.String("store", cfg.ListingStore))

	c.Cache = cache.NewRedis(ctx, cfg.Redis, logger.Named("cache"))

	c.Engine = reconcile.NewEngine(c.Listings, reconcile.Options{
		DeactivationAlertThreshold: cfg.Sync.DeactivationAlertThreshold,
		Events:                     c.Events,
		Logger:                     logger.Named("reconcile"),
	})

	if cfg.Geocoder.APIKey != "" {
		provider := geocoding.NewCached(
			geocoding.NewGoogle(cfg.Geocoder.BaseURL, cfg.Geocoder.APIKey, cfg.Geocoder.Timeout, logger.Named("geocoder")),
			c.Cache,
			cfg.Geocode.CacheTTL,
			logger.Named("geocoder"),
		)
		c.Worker = geocode.NewWorker(c.Listings, provider, geocode.Options{
			MinDelay:      cfg.Geocode.MinDelay,
			PauseEvery:    cfg.Geocode.PauseEvery,
			PauseDuration: cfg.Geocode.PauseDuration,
			DefaultLimit:  cfg.Geocode.BatchLimit,
			Events:        c.Events,
			Logger:        logger.Named("geocode"),
		})
	} else {
		logger.Warn("geocoder disabled: GEOCODER_API_KEY is not set")
	}

	if cfg.ScraperBaseURL != "" {
		c.Source = snapshot.NewClient(cfg.ScraperBaseURL, 0, logger.Named("snapshot"))
	}

	deps := syncjob.Deps{
		Engine:   c.Engine,
		Locker:   c.Cache,
		Cache:    c.Cache,
		Runs:     c.Runs,
		Notifier: ws.NewNotifier(c.Hub, logger.Named("ws")),
		Logger:   logger.Named("jobs"),
	}
	// typed nils must not reach the interface fields
	if c.Worker != nil {
		deps.Backfill = c.Worker
	}
	if c.Source != nil {
		deps.Source = c.Source
	}
	c.Jobs = syncjob.NewService(deps, syncjob.Options{
		LockTTL:    cfg.Sync.LockTTL,
		JobTimeout: cfg.Sync.JobTimeout,
	})

	return c, nil
}

func (c *Container) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Cache != nil {
		errs = append(errs, c.Cache.Close())
	}
	if c.DB != nil {
		errs = append(errs, c.DB.Close())
	}
	return errors.Join(errs...)
}
