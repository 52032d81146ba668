package cmd

import (
	"context"
	"time"

	"github.com/bolo3547/kupemisa-cooking-sub000/api/handlers"
	"github.com/bolo3547/kupemisa-cooking-sub000/config"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/alerting"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/auth"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/cache"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/database"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/messaging"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/notify"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/ratelimit"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/repository"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/scheduler"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/search"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/service"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// components is everything serve and the admin commands are built from
type components struct {
	db        database.DB
	redis     cache.RedisClient
	publisher *messaging.Publisher
	svc       service.Service
	limiter   ratelimit.Limiter
	sweepers  scheduler.Sweepers
	ready     map[string]handlers.Pinger
}

type dbPinger struct{ db database.DB }

func (p dbPinger) Ping(ctx context.Context) error { return database.Ping(ctx, p.db) }

// connectDatabase retries with exponential backoff while the database comes up
func connectDatabase(cfg config.DatabaseConfig, maxRetries int) (database.DB, error) {
	var (
		db  database.DB
		err error
	)
	retryInterval := time.Second

	for i := 0; i < maxRetries; i++ {
		log.WithField("attempt", i+1).Info("Connecting to database...")
		db, err = database.Connect(cfg)
		if err == nil {
			return db, nil
		}

		log.WithFields(logrus.Fields{
			"error":         err.Error(),
			"retry_attempt": i + 1,
			"max_retries":   maxRetries,
		}).Error("Failed to connect to database, retrying...")

		if i < maxRetries-1 {
			time.Sleep(retryInterval)
			retryInterval *= 2
		}
	}
	return nil, errors.Wrapf(err, "connect to database after %d attempts", maxRetries)
}

// buildComponents wires the service and its collaborators onto an open database.
// On error the database is closed too.
func buildComponents(cfg *config.Config, db database.DB) (*components, error) {
	c := &components{
		db:    db,
		ready: map[string]handlers.Pinger{"database": dbPinger{db: db}},
	}

	// Redis is optional. Without it the device credential cache lives in process.
	var credCache cache.RedisClient
	if cfg.Redis.Enabled {
		log.Info("Connecting to Redis...")
		rc, err := cache.NewRedisClient(cfg.Redis)
		if err != nil {
			c.close()
			return nil, errors.Wrap(err, "connect to redis")
		}
		c.redis = rc
		c.ready["redis"] = rc
		credCache = rc
	} else {
		credCache = cache.NewMemoryClient(time.Now)
	}

	switch cfg.RateLimit.Backend {
	case "redis":
		c.limiter = ratelimit.NewRedis(c.redis)
	default:
		mem := ratelimit.NewMemory(time.Now)
		c.limiter = mem
		c.sweepers.Limiter = mem
	}

	var dedupe alerting.DedupeCache
	switch cfg.Alerting.DedupeBackend {
	case "redis":
		dedupe = alerting.NewRedisDedupe(c.redis, cfg.Alerting.DedupeWindow)
	default:
		mem := alerting.NewMemoryDedupe(cfg.Alerting.DedupeWindow, time.Now)
		dedupe = mem
		c.sweepers.Dedupe = mem
	}

	log.Info("Connecting to message broker...")
	bus, err := messaging.NewServiceBusClient(cfg.ServiceBus, "oilfleet-ingest", log)
	if err != nil {
		c.close()
		return nil, errors.Wrap(err, "connect to message broker")
	}
	c.publisher = messaging.NewPublisher(bus)

	indexer, err := search.NewIndexer(cfg.Elastic, log)
	if err != nil {
		log.WithError(err).Warn("Failed to initialize Elasticsearch, continuing without search projection")
		indexer = search.NoopIndexer{}
	}

	repo := repository.NewRepository(db)

	verifier, err := auth.NewVerifier(repo, credCache, cfg.Device.CacheTTL, cfg.Device.BcryptCost, log)
	if err != nil {
		c.close()
		return nil, err
	}

	evaluator := alerting.NewEvaluator(repo, dedupe, notify.NewFromConfig(cfg, log), c.publisher, log)

	svc, err := service.NewService(service.ServiceConfig{
		Repository: repo,
		Verifier:   verifier,
		Evaluator:  evaluator,
		Publisher:  c.publisher,
		Indexer:    indexer,
		Config:     cfg,
		Logger:     log,
	})
	if err != nil {
		c.close()
		return nil, errors.Wrap(err, "initialize service")
	}
	c.svc = svc

	return c, nil
}

// close releases everything in reverse order of construction
func (c *components) close() {
	if c.svc != nil {
		if err := c.svc.Shutdown(); err != nil {
			log.WithError(err).Warn("Service shutdown error")
		}
	}
	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil {
			log.WithError(err).Error("Error closing messaging connection")
		}
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			log.WithError(err).Error("Error closing Redis connection")
		}
	}
	if c.db != nil {
		log.Info("Closing database connection...")
		if err := c.db.Close(); err != nil {
			log.WithError(err).Error("Error closing database connection")
		}
	}
}

// openAdmin loads configuration and builds the service for one-shot commands
func openAdmin() *components {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := connectDatabase(cfg.Database, 1)
	if err != nil {
		log.Fatalf("%v", err)
	}

	c, err := buildComponents(cfg, db)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	return c
}
