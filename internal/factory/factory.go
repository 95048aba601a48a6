package factory

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"molttok/internal/audit"
	"molttok/internal/client"
	"molttok/internal/config"
	"molttok/internal/feed"
	"molttok/internal/handler"
	"molttok/internal/hashing"
	"molttok/internal/models"
	"molttok/internal/ratelimit"
	"molttok/internal/repository"
	"molttok/internal/repository/memory"
	"molttok/internal/repository/postgres"
	redisrepo "molttok/internal/repository/redis"
	"molttok/internal/repository/scylla"
	"molttok/internal/search"
	"molttok/internal/service"
	"molttok/internal/storage"
	"molttok/internal/tls"
	"molttok/internal/util"
)

const healthTimeout = 5 * time.Second

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients, nil when not configured
	postgres         *postgres.Repository
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	memoryStore    *memory.Store
	avatarDir      string
	auditPublisher *audit.Publisher

	deps           *service.Dependencies
	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory connects every configured backend and wires the services.
// Outside production an unreachable optional backend is logged and replaced
// by its in-process fallback.
func NewFactory(ctx context.Context, cfg *config.Config) (*Factory, error) {
	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewTLSManager(cfg.Server)
	}

	if err := factory.initializeClients(ctx); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}
	if err := factory.initializeDependencies(ctx); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize dependencies: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("dev_mode", cfg.DevMode),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("postgres", factory.postgres != nil),
		util.Bool("redis", factory.redisClient != nil),
		util.Bool("scylla", factory.scyllaClient != nil),
		util.Bool("kafka", factory.kafkaProducer != nil),
		util.Bool("elasticsearch", factory.esClient != nil),
		util.Bool("clickhouse", factory.clickhouseClient != nil),
	)

	return factory, nil
}

// initializeClients connects each backend that has configuration
func (f *Factory) initializeClients(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var initErrors []error
	required := func(name string, err error) {
		initErrors = append(initErrors, fmt.Errorf("%s: %w", name, err))
	}
	optional := func(name string, err error) {
		if f.config.IsProduction() {
			required(name, err)
			return
		}
		util.Warn("Optional backend unavailable, continuing without it",
			util.String("backend", name), util.ErrorField(err))
	}

	// PostgreSQL
	if f.config.Database.URL != "" {
		if repo, err := postgres.Open(ctx, f.config.Database); err != nil {
			required("postgres", err)
		} else {
			f.postgres = repo
		}
	} else if f.config.IsProduction() {
		required("postgres", fmt.Errorf("DATABASE_URL is required in production"))
	}

	// Redis
	if f.config.Redis.URL != "" {
		if c, err := client.NewRedisClient(f.config.Redis); err != nil {
			optional("redis", err)
		} else {
			f.redisClient = c
		}
	}
	if strings.EqualFold(f.config.RateLimit.Backend, "redis") && f.redisClient == nil {
		optional("redis", fmt.Errorf("RATE_LIMIT_BACKEND=redis but Redis is unavailable"))
	}

	// ScyllaDB
	if strings.EqualFold(f.config.Notifications.Backend, "scylla") {
		if c, err := scylla.NewScyllaClient(f.config.Scylla); err != nil {
			optional("scylla", err)
		} else {
			f.scyllaClient = c
		}
	}

	// Kafka
	if len(f.config.Kafka.Brokers) > 0 {
		if producer, err := client.NewKafkaProducer(f.config.Kafka); err != nil {
			optional("kafka", err)
		} else {
			f.kafkaProducer = producer
		}
	}

	// Elasticsearch
	if f.config.Elasticsearch.URL != "" {
		if c, err := client.NewElasticsearchClient(f.config.Elasticsearch); err != nil {
			optional("elasticsearch", err)
		} else {
			f.esClient = c
		}
	}

	// ClickHouse
	if f.config.Clickhouse.URL != "" {
		if c, err := client.NewClickHouseClient(f.config.Clickhouse); err != nil {
			optional("clickhouse", err)
		} else {
			f.clickhouseClient = c
		}
	}

	if len(initErrors) > 0 {
		return fmt.Errorf("critical service initialization failed: %v", initErrors)
	}
	return nil
}

// initializeDependencies builds repositories, the limiter, storage and audit
func (f *Factory) initializeDependencies(ctx context.Context) error {
	cfg := f.config
	deps := &service.Dependencies{
		Policies: ratelimit.PoliciesFromConfig(cfg.RateLimit),
		Hasher:   hashing.NewHasher(cfg.Hashing),
		Paginator: feed.NewPaginator(cfg.Feed.DefaultLimit, cfg.Feed.MaxLimit,
			cfg.Feed.TrendingWindow, models.ContentTypeNames()),
		Config: cfg,
		Logger: util.Get(),
	}

	// Repositories
	if f.postgres != nil {
		deps.Agents, deps.Posts, deps.Social, deps.Notifications = f.postgres, f.postgres, f.postgres, f.postgres
	} else {
		util.Warn("DATABASE_URL not set, using the in-memory repository; data is lost on restart")
		f.memoryStore = memory.NewStore()
		deps.Agents, deps.Posts, deps.Social, deps.Notifications = f.memoryStore, f.memoryStore, f.memoryStore, f.memoryStore
	}
	if f.scyllaClient != nil {
		deps.Notifications = scylla.NewNotificationRepository(f.scyllaClient)
	}

	// Rate limiter and sessions
	var limiterStore ratelimit.Store = ratelimit.NewMemoryStore()
	var sessions repository.SessionStore = memory.NewSessionStore()
	if f.redisClient != nil {
		sessions = redisrepo.NewSessionStore(f.redisClient)
		if strings.EqualFold(cfg.RateLimit.Backend, "redis") {
			limiterStore = redisrepo.NewRateLimitStore(f.redisClient)
		}
	}
	deps.Sessions = sessions
	deps.Limiter = ratelimit.NewLimiter(limiterStore,
		ratelimit.WithStripes(cfg.Bucketing.LockStripes),
		ratelimit.WithSweepInterval(cfg.RateLimit.SweepInterval),
		ratelimit.WithLogger(util.Get()),
	)

	// Avatar storage
	avatars, err := f.avatarStore(ctx)
	if err != nil {
		return err
	}
	deps.Avatars = avatars

	// Search
	if f.esClient != nil {
		deps.Index = search.NewElasticIndex(f.esClient, cfg.Elasticsearch.PostsIndex, cfg.Elasticsearch.AgentsIndex)
	}

	// Audit
	sinks := []audit.Sink{audit.NewLogSink(util.Get())}
	if f.kafkaProducer != nil {
		sinks = append(sinks, audit.NewKafkaSink(f.kafkaProducer, cfg.Kafka.AuditTopic))
	}
	if f.clickhouseClient != nil {
		sink := audit.NewClickHouseSink(f.clickhouseClient, cfg.Clickhouse.AuditTable)
		if err := sink.EnsureTable(ctx); err != nil {
			util.Warn("ClickHouse audit sink disabled", util.ErrorField(err))
		} else {
			sinks = append(sinks, sink)
		}
	}
	f.auditPublisher = audit.NewPublisher(sinks)
	deps.Auditor = f.auditPublisher

	f.deps = deps
	f.serviceFactory = service.NewServiceFactory(deps)
	return nil
}

func (f *Factory) avatarStore(ctx context.Context) (storage.AvatarStore, error) {
	cfg := f.config.Storage
	if cfg.Bucket != "" {
		s3Client, err := client.NewS3Client(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("s3: %w", err)
		}
		return storage.NewS3Store(s3Client, cfg.Bucket, cfg.Region, cfg.PublicBaseURL), nil
	}

	local, err := storage.NewLocalStore(cfg.LocalDir, f.config.PublicURL)
	if err != nil {
		return nil, err
	}
	f.avatarDir = local.Dir()
	util.Info("Storing avatars on local disk", util.String("dir", local.Dir()))
	return local, nil
}

// ==============================
// HTTP
// ==============================

// Router assembles the HTTP handlers over the service factory.
func (f *Factory) Router() http.Handler {
	logger := util.Get()
	services := f.serviceFactory

	return handler.NewRouter(handler.Handlers{
		Auth:          handler.NewAuth(services.AuthService(), logger),
		Accounts:      handler.NewAuthHandler(services.AuthService(), logger),
		Agents:        handler.NewAgentHandler(services.AgentService(), services.SocialService(), logger),
		Posts:         handler.NewPostHandler(services.PostService(), logger),
		Feed:          handler.NewFeedHandler(services.FeedService(), logger),
		Notifications: handler.NewNotificationHandler(services.NotificationService(), logger),
		Search:        handler.NewSearchHandler(services.SearchService(), logger),
		Meta:          handler.NewMetaHandler(f.config.DevMode, f.auditPublisher, logger),
	}, f, handler.RouterOptions{
		AllowedOrigins: f.config.Server.AllowedOrigins,
		RequestTimeout: f.config.Server.RequestTimeout,
		AvatarDir:      f.avatarDir,
	}, logger)
}

// ==============================
// Health Checks
// ==============================

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheck checks every connected backend concurrently and reports
// "healthy" or the failure per component.
func (f *Factory) HealthCheck(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	checks := map[string]healthChecker{}
	if f.postgres != nil {
		checks["postgres"] = f.postgres
	} else if f.memoryStore != nil {
		checks["memory"] = f.memoryStore
	}
	if f.redisClient != nil {
		checks["redis"] = f.redisClient
	}
	if f.scyllaClient != nil {
		checks["scylla"] = f.scyllaClient
	}
	if f.kafkaProducer != nil {
		checks["kafka"] = f.kafkaProducer
	}
	if f.esClient != nil {
		checks["elasticsearch"] = f.esClient
	}
	if f.clickhouseClient != nil {
		checks["clickhouse"] = f.clickhouseClient
	}

	var mu sync.Mutex
	results := make(map[string]string, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for name, check := range checks {
		name, check := name, check
		g.Go(func() error {
			state := "healthy"
			if err := check.HealthCheck(gctx); err != nil {
				state = err.Error()
			}
			mu.Lock()
			results[name] = state
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	for _, state := range f.HealthCheck(ctx) {
		if state != "healthy" {
			return false
		}
	}
	return true
}

// ==============================
// Shutdown
// ==============================

// Close flushes the audit publisher, then closes clients in reverse order.
func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.auditPublisher != nil {
			f.auditPublisher.Close()
			util.Info("Audit publisher flushed")
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		if f.postgres != nil {
			if err := f.postgres.Close(); err != nil {
				util.Error("Failed to close database", util.ErrorField(err))
			}
		}

		util.Info("Factory shutdown completed")
	})
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	return f.serviceFactory
}
