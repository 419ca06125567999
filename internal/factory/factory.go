package factory

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"session-service/internal/bucketing"
	"session-service/internal/client"
	"session-service/internal/config"
	"session-service/internal/events"
	"session-service/internal/handler"
	"session-service/internal/lockout"
	redisrepo "session-service/internal/repository/redis"
	"session-service/internal/repository/scylla"
	"session-service/internal/service"
	"session-service/internal/token"
	"session-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config *config.Config

	// Clients
	redisClient   *client.RedisClient
	scyllaClient  *scylla.ScyllaClient
	kafkaProducer *client.KafkaProducer

	// Components
	bucketingManager *bucketing.BucketingManager
	codec            *token.Codec
	credentials      *scylla.CredentialRepository
	ledger           *redisrepo.RevocationLedger
	lockoutTracker   *lockout.Tracker
	eventPublisher   *events.Publisher
	sessionService   *service.SessionService
	authHandler      *handler.AuthHandler

	closeOnce sync.Once
}

// NewFactory loads configuration and wires every dependency. A missing
// signing secret fails here, before the server ever binds a port.
func NewFactory() (*Factory, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	f := &Factory{config: cfg}

	f.codec, err = token.NewCodec(cfg.Auth.SigningSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to construct token codec: %w", err)
	}

	f.redisClient, err = client.NewRedisClient(&cfg.Redis, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis client: %w", err)
	}

	f.scyllaClient, err = scylla.NewScyllaClient(&cfg.Scylla, logger)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize scylla client: %w", err)
	}

	if cfg.Kafka.Enabled {
		f.kafkaProducer, err = client.NewKafkaProducer(&cfg.Kafka, logger)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to initialize kafka producer: %w", err)
		}
	}

	f.bucketingManager = bucketing.NewBucketingManager(cfg.Bucketing.UserBuckets)
	f.credentials = scylla.NewCredentialRepository(f.scyllaClient, f.bucketingManager, logger)
	f.ledger = redisrepo.NewRevocationLedger(f.redisClient, logger)

	lockoutCache := redisrepo.NewLockoutCache(f.redisClient, logger)
	f.lockoutTracker = lockout.NewTracker(f.credentials, lockoutCache,
		cfg.Auth.MaxLoginFails, cfg.Auth.LockoutWindow, logger)

	f.eventPublisher = events.NewPublisher(f.kafkaProducer, cfg.Kafka.Topic, logger)

	f.sessionService = service.NewSessionService(
		f.credentials, f.codec, f.ledger, f.lockoutTracker, f.eventPublisher,
		cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL, logger,
	)

	f.authHandler = handler.NewAuthHandler(f.sessionService, logger)

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled),
	)

	return f, nil
}

func (f *Factory) Config() *config.Config { return f.config }

func (f *Factory) SessionService() *service.SessionService { return f.sessionService }

func (f *Factory) AuthHandler() *handler.AuthHandler { return f.authHandler }

// HealthCheck pings every backend concurrently.
func (f *Factory) HealthCheck(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return f.redisClient.HealthCheck(ctx)
	})
	g.Go(func() error {
		return f.scyllaClient.HealthCheck(ctx)
	})
	if f.kafkaProducer != nil {
		g.Go(func() error {
			return f.kafkaProducer.HealthCheck(ctx)
		})
	}

	return g.Wait()
}

// Close releases all clients. Safe to call more than once.
func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		if f.kafkaProducer != nil {
			_ = f.kafkaProducer.Close()
		}
		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}
		if f.redisClient != nil {
			_ = f.redisClient.Close()
		}
		util.Sync()
	})
}
