// Package factory wires configuration, clients, stores, and managers into a
// running service. Construction order matters: clients first, then the store
// family, then the managers that use them.
package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"identity-service/internal/audit"
	"identity-service/internal/auth"
	"identity-service/internal/bucketing"
	"identity-service/internal/client"
	"identity-service/internal/clock"
	"identity-service/internal/config"
	"identity-service/internal/hashing"
	"identity-service/internal/otp"
	"identity-service/internal/ratelimit"
	"identity-service/internal/session"
	"identity-service/internal/store"
	"identity-service/internal/store/memory"
	"identity-service/internal/store/redisdb"
	"identity-service/internal/store/scylla"
	"identity-service/internal/token"
	"identity-service/internal/util"
)

// Factory owns the lifecycle of every application dependency.
type Factory struct {
	config *config.Config

	scyllaClient   *scylla.Client
	redisClient    *redisdb.Client
	auditPublisher *client.AuditPublisher
	attemptSink    *client.AttemptSink

	store        *store.Store
	orchestrator *auth.Orchestrator
	tokens       *token.Manager
	janitor      *auth.Janitor

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory loads configuration and initializes every dependency.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	f := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if err := f.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}
	if err := f.initializeStore(); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	f.initializeManagers()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("in_memory_store", cfg.Scylla.InMemory),
		util.Bool("kafka_enabled", f.auditPublisher != nil),
		util.Bool("clickhouse_enabled", f.attemptSink != nil),
	)
	return f, nil
}

// initializeClients brings up the external connections. Scylla and Redis are
// load-bearing; Kafka and ClickHouse degrade to disabled with a warning.
func (f *Factory) initializeClients() error {
	if !f.config.Scylla.InMemory {
		sc, err := scylla.NewClient(f.config)
		if err != nil {
			return fmt.Errorf("scylla: %w", err)
		}
		f.scyllaClient = sc
		if err := f.scyllaClient.HealthCheck(); err != nil {
			return fmt.Errorf("scylla health check: %w", err)
		}
		util.Info("ScyllaDB client initialized and healthy")

		if f.config.Redis.Enabled {
			rc, err := redisdb.NewClient(f.config)
			if err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			f.redisClient = rc
		}
	}

	if f.config.Kafka.Enabled {
		f.auditPublisher = client.NewAuditPublisher(f.config)
	}

	if f.config.Clickhouse.Enabled {
		sink, err := client.NewAttemptSink(f.config)
		if err != nil {
			util.Warn("ClickHouse initialization failed - proceeding without analytics sink", util.ErrorField(err))
		} else {
			f.attemptSink = sink
		}
	}

	return nil
}

func (f *Factory) initializeStore() error {
	if f.config.Scylla.InMemory {
		util.Warn("Using in-memory store - data will not survive a restart")
		f.store = memory.New()
		return nil
	}

	buckets := bucketing.NewManager(0)
	f.store = &store.Store{
		Users:    scylla.NewUserRepository(f.scyllaClient),
		Codes:    scylla.NewOTPRepository(f.scyllaClient),
		Sessions: scylla.NewSessionRepository(f.scyllaClient),
		Attempts: scylla.NewAttemptRepository(f.scyllaClient),
		Audit:    scylla.NewAuditRepository(f.scyllaClient, buckets),
	}
	if f.redisClient != nil {
		f.store.Refresh = redisdb.NewRefreshTokenStore(f.redisClient)
	} else {
		// Refresh tokens need a store with native expiry; without Redis they
		// live in process memory and die with it.
		util.Warn("Redis disabled - refresh tokens held in process memory")
		f.store.Refresh = memory.NewRefreshTokenStore(clock.System())
	}
	return nil
}

func (f *Factory) initializeManagers() {
	cfg := f.config
	clk := clock.System()

	f.tokens = token.NewManager(
		cfg.Auth.JWTSecret, clk,
		cfg.Auth.AccessTokenTTL, cfg.Auth.PreAuthTokenTTL, cfg.Auth.RefreshTokenTTL,
		f.store.Refresh,
	)

	var publisher audit.Publisher
	if f.auditPublisher != nil {
		publisher = f.auditPublisher
	}
	var sink auth.AttemptSink
	if f.attemptSink != nil {
		sink = f.attemptSink
	}

	f.orchestrator = auth.NewOrchestrator(auth.Options{
		Users:     f.store.Users,
		Attempts:  f.store.Attempts,
		Codes:     otp.NewManager(f.store.Codes, clk, cfg.Auth.OTPTTL, cfg.Auth.OTPLength),
		Tokens:    f.tokens,
		Sessions:  session.NewManager(f.store.Sessions, clk, time.Duration(cfg.Auth.SessionMaxAgeHours)*time.Hour),
		Audit:     audit.NewService(f.store.Audit, publisher, clk),
		Passwords: hashing.NewPasswordHasher(cfg.Auth.BCryptCost),
		Sink:      sink,
		Clock:     clk,

		LoginLimiter:     ratelimit.NewLimiter(cfg.Auth.LoginRateMax, cfg.Auth.LoginRateWindow, clk),
		RegisterLimiter:  ratelimit.NewLimiter(cfg.Auth.RegisterRateMax, cfg.Auth.RegisterRateWindow, clk),
		ResetLimiter:     ratelimit.NewLimiter(cfg.Auth.ResetRateMax, cfg.Auth.ResetRateWindow, clk),
		AnalyticsLimiter: ratelimit.NewLimiter(cfg.Auth.AnalyticsRateMax, cfg.Auth.AnalyticsRateWindow, clk),
	})

	f.janitor = auth.NewJanitor(f.orchestrator, time.Hour)
}

func (f *Factory) Config() *config.Config        { return f.config }
func (f *Factory) Store() *store.Store           { return f.store }
func (f *Factory) Orchestrator() *auth.Orchestrator { return f.orchestrator }
func (f *Factory) TokenManager() *token.Manager  { return f.tokens }
func (f *Factory) Janitor() *auth.Janitor        { return f.janitor }

// HealthCheck probes every live client.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(); err != nil {
			healthErrors["scylla"] = err
		}
	}
	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	}
	return healthErrors
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.attemptSink != nil {
			if err := f.attemptSink.Close(); err != nil {
				util.Error("Failed to close ClickHouse sink", util.ErrorField(err))
			}
		}
		if f.auditPublisher != nil {
			if err := f.auditPublisher.Close(); err != nil {
				util.Error("Failed to close Kafka publisher", util.ErrorField(err))
			}
		}
		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}
		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})
	return nil
}
