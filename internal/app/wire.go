package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/marketoracle/internal/blob/s3"
	"github.com/alanyoungcy/marketoracle/internal/cache/redis"
	"github.com/alanyoungcy/marketoracle/internal/config"
	"github.com/alanyoungcy/marketoracle/internal/domain"
	"github.com/alanyoungcy/marketoracle/internal/notify"
	"github.com/alanyoungcy/marketoracle/internal/platform/chain"
	"github.com/alanyoungcy/marketoracle/internal/service"
	"github.com/alanyoungcy/marketoracle/internal/store/postgres"
)

// Dependencies bundles the infrastructure the pipeline components and the
// application modes need. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Chain
	Chain *chain.Client

	// Stores
	Postgres       *postgres.Client
	AuditStore     *postgres.AuditStore
	RoundStore     *postgres.RoundStore
	VoteStore      *postgres.DisputeVoteStore
	StakeStore     *postgres.StakeStore
	RelayTaskStore *postgres.RelayTaskStore

	// Caches
	Redis       *redis.Client
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage; nil when s3.enabled is false.
	S3       *s3blob.Client
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier
	Events   *service.EventService
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Chain ---
	chainClient, closeChain, err := chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.MarketContract)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: chain: %w", err)
	}
	closers = append(closers, closeChain)
	deps.Chain = chainClient

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	deps.Postgres = pgClient

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.RoundStore = postgres.NewRoundStore(pool)
	deps.VoteStore = postgres.NewDisputeVoteStore(pool)
	deps.StakeStore = postgres.NewStakeStore(pool)
	deps.RelayTaskStore = postgres.NewRelayTaskStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Redis = redisClient
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.S3 = s3Client
		store := s3blob.NewStore(s3Client)
		deps.Archiver = s3blob.NewArchiver(store, store, deps.AuditStore)
	}

	// --- Notifications ---
	deps.Notifier = notify.NewNotifier(buildSenders(cfg.Notify), cfg.Notify.Events, logger)
	var alerter service.Alerter
	if deps.Notifier.Enabled() {
		alerter = deps.Notifier
	}
	deps.Events = service.NewEventService(deps.SignalBus, alerter, logger)

	return deps, cleanup, nil
}

// buildSenders returns one sender per configured notification channel.
func buildSenders(cfg config.NotifyConfig) []notify.Sender {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return senders
}
