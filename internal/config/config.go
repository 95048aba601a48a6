package config

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the full runtime configuration, decoded from the environment.
type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	DevMode     bool   `envconfig:"DEV_MODE" default:"false"`
	SkillSecret string `envconfig:"MOLTTOK_SKILL_SECRET"`
	PublicURL   string `envconfig:"PUBLIC_URL" default:"http://localhost:8080"`

	Server        ServerConfig        `envconfig:"SERVER"`
	Logging       LoggingConfig       `envconfig:"LOG"`
	Database      DatabaseConfig      `envconfig:"DATABASE"`
	Redis         RedisConfig         `envconfig:"REDIS"`
	Scylla        ScyllaConfig        `envconfig:"SCYLLA"`
	Kafka         KafkaConfig         `envconfig:"KAFKA"`
	Elasticsearch ElasticsearchConfig `envconfig:"ELASTICSEARCH"`
	Clickhouse    ClickhouseConfig    `envconfig:"CLICKHOUSE"`
	Storage       StorageConfig       `envconfig:"STORAGE"`
	Auth          AuthConfig          `envconfig:"AUTH"`
	Hashing       HashingConfig       `envconfig:"HASHING"`
	Bucketing     BucketingConfig     `envconfig:"BUCKETING"`
	RateLimit     RateLimitConfig     `envconfig:"RATE_LIMIT"`
	Feed          FeedConfig          `envconfig:"FEED"`
	Notifications NotificationsConfig `envconfig:"NOTIFICATIONS"`
}

type ServerConfig struct {
	Host           string        `envconfig:"HOST" default:"0.0.0.0"`
	Port           int           `envconfig:"PORT" default:"8080"`
	TLSPort        int           `envconfig:"TLS_PORT" default:"8443"`
	ReadTimeout    time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout   time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout    time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"60s"`
	AllowedOrigins []string      `envconfig:"ALLOWED_ORIGINS" default:"*"`
	EnableTLS      bool          `envconfig:"ENABLE_TLS" default:"false"`
	AutoCert       bool          `envconfig:"AUTO_CERT" default:"false"`
	Domain         string        `envconfig:"DOMAIN" default:"localhost"`
	CertFile       string        `envconfig:"CERT_FILE"`
	KeyFile        string        `envconfig:"KEY_FILE"`
	AutoCertDir    string        `envconfig:"AUTO_CERT_DIR" default:"./certs"`
	Email          string        `envconfig:"EMAIL"`
}

type LoggingConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"console"`
}

type DatabaseConfig struct {
	URL             string        `envconfig:"URL"`
	MaxOpenConns    int           `envconfig:"MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"CONN_MAX_LIFETIME" default:"30m"`
	AutoMigrate     bool          `envconfig:"AUTO_MIGRATE" default:"true"`
	ConnectTimeout  time.Duration `envconfig:"CONNECT_TIMEOUT" default:"30s"`
}

type RedisConfig struct {
	URL       string `envconfig:"URL"`
	Password  string `envconfig:"PASSWORD"`
	DB        int    `envconfig:"DB" default:"0"`
	PoolSize  int    `envconfig:"POOL_SIZE" default:"20"`
	TLSCAFile string `envconfig:"TLS_CA_FILE"`
}

type ScyllaConfig struct {
	Nodes    []string `envconfig:"NODES"`
	Keyspace string   `envconfig:"KEYSPACE" default:"molttok"`
	Username string   `envconfig:"USERNAME"`
	Password string   `envconfig:"PASSWORD"`
	CAFile   string   `envconfig:"CA_FILE"`
}

type KafkaConfig struct {
	Brokers    []string `envconfig:"BROKERS"`
	AuditTopic string   `envconfig:"AUDIT_TOPIC" default:"molttok.audit"`
	TLS        bool     `envconfig:"TLS" default:"false"`
}

type ElasticsearchConfig struct {
	URL         string `envconfig:"URL"`
	Username    string `envconfig:"USERNAME"`
	Password    string `envconfig:"PASSWORD"`
	PostsIndex  string `envconfig:"POSTS_INDEX" default:"molttok-posts"`
	AgentsIndex string `envconfig:"AGENTS_INDEX" default:"molttok-agents"`
}

type ClickhouseConfig struct {
	URL        string `envconfig:"URL"`
	Username   string `envconfig:"USERNAME" default:"default"`
	Password   string `envconfig:"PASSWORD"`
	Database   string `envconfig:"DATABASE" default:"molttok"`
	AuditTable string `envconfig:"AUDIT_TABLE" default:"audit_events"`
	CAFile     string `envconfig:"CA_FILE"`
}

// StorageConfig selects where avatars go. An empty Bucket keeps them on local disk.
type StorageConfig struct {
	Bucket        string `envconfig:"BUCKET"`
	Region        string `envconfig:"REGION" default:"us-east-1"`
	Endpoint      string `envconfig:"ENDPOINT"`
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL"`
	LocalDir      string `envconfig:"LOCAL_DIR" default:"./data/avatars"`
}

type AuthConfig struct {
	AccessTokenTTL  time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"24h"`
	RefreshTokenTTL time.Duration `envconfig:"REFRESH_TOKEN_TTL" default:"720h"`
}

type HashingConfig struct {
	Pepper            string `envconfig:"PEPPER"`
	Argon2MemoryCost  uint32 `envconfig:"ARGON2_MEMORY_COST" default:"65536"`
	Argon2TimeCost    uint32 `envconfig:"ARGON2_TIME_COST" default:"3"`
	Argon2Parallelism uint8  `envconfig:"ARGON2_PARALLELISM" default:"2"`
}

type BucketingConfig struct {
	LockStripes int `envconfig:"LOCK_STRIPES" default:"64"`
}

// RateLimitConfig holds the per-action policies. Backend is "memory" or "redis".
type RateLimitConfig struct {
	Backend       string        `envconfig:"BACKEND" default:"memory"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"60s"`

	PostsLimit      int           `envconfig:"POSTS_LIMIT" default:"1"`
	PostsWindow     time.Duration `envconfig:"POSTS_WINDOW" default:"60s"`
	FollowsLimit    int           `envconfig:"FOLLOWS_LIMIT" default:"20"`
	FollowsWindow   time.Duration `envconfig:"FOLLOWS_WINDOW" default:"1h"`
	LikesLimit      int           `envconfig:"LIKES_LIMIT" default:"30"`
	LikesWindow     time.Duration `envconfig:"LIKES_WINDOW" default:"1h"`
	AnonLikesLimit  int           `envconfig:"ANON_LIKES_LIMIT" default:"20"`
	AnonLikesWindow time.Duration `envconfig:"ANON_LIKES_WINDOW" default:"1h"`
	LoginLimit      int           `envconfig:"LOGIN_LIMIT" default:"5"`
	LoginWindow     time.Duration `envconfig:"LOGIN_WINDOW" default:"15m"`
	RegisterLimit   int           `envconfig:"REGISTER_LIMIT" default:"5"`
	RegisterWindow  time.Duration `envconfig:"REGISTER_WINDOW" default:"1h"`
}

type FeedConfig struct {
	DefaultLimit   int           `envconfig:"DEFAULT_LIMIT" default:"100"`
	MaxLimit       int           `envconfig:"MAX_LIMIT" default:"100"`
	TrendingWindow time.Duration `envconfig:"TRENDING_WINDOW" default:"48h"`
	DailyChallenge string        `envconfig:"DAILY_CHALLENGE"`
	CommunityNote  string        `envconfig:"COMMUNITY_NOTE"`
}

// NotificationsConfig selects the inbox backend: "database" or "scylla".
type NotificationsConfig struct {
	Backend string `envconfig:"BACKEND" default:"database"`
}

var (
	current *Config
	mu      sync.RWMutex
)

// Load reads an optional .env file and decodes the environment into a Config.
func Load() (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mu.Lock()
	current = &cfg
	mu.Unlock()

	return &cfg, nil
}

// LoadConfig is Load for process startup: any error is fatal.
func LoadConfig() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// Get returns the last loaded config, loading it on first use.
func Get() *Config {
	mu.RLock()
	cfg := current
	mu.RUnlock()
	if cfg == nil {
		return LoadConfig()
	}
	return cfg
}

func (c *Config) Validate() error {
	switch c.Environment {
	case "development", "staging", "production", "test":
	default:
		return fmt.Errorf("invalid ENVIRONMENT %q", c.Environment)
	}
	if c.Feed.DefaultLimit < 1 || c.Feed.MaxLimit < 1 {
		return fmt.Errorf("feed limits must be positive")
	}
	if c.Feed.DefaultLimit > c.Feed.MaxLimit {
		return fmt.Errorf("FEED_DEFAULT_LIMIT (%d) exceeds FEED_MAX_LIMIT (%d)", c.Feed.DefaultLimit, c.Feed.MaxLimit)
	}
	switch strings.ToLower(c.RateLimit.Backend) {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid RATE_LIMIT_BACKEND %q", c.RateLimit.Backend)
	}
	if err := c.RateLimit.validate(); err != nil {
		return err
	}
	switch strings.ToLower(c.Notifications.Backend) {
	case "database", "scylla":
	default:
		return fmt.Errorf("invalid NOTIFICATIONS_BACKEND %q", c.Notifications.Backend)
	}
	if c.IsProduction() && !c.DevMode && c.SkillSecret == "" {
		return fmt.Errorf("MOLTTOK_SKILL_SECRET is required in production")
	}
	return nil
}

// validate rejects non-positive policies, which the limiter would refuse on
// every call and so let everything through.
func (r RateLimitConfig) validate() error {
	policies := []struct {
		name   string
		limit  int
		window time.Duration
	}{
		{"POSTS", r.PostsLimit, r.PostsWindow},
		{"FOLLOWS", r.FollowsLimit, r.FollowsWindow},
		{"LIKES", r.LikesLimit, r.LikesWindow},
		{"ANON_LIKES", r.AnonLikesLimit, r.AnonLikesWindow},
		{"LOGIN", r.LoginLimit, r.LoginWindow},
		{"REGISTER", r.RegisterLimit, r.RegisterWindow},
	}
	for _, p := range policies {
		if p.limit < 1 {
			return fmt.Errorf("RATE_LIMIT_%s_LIMIT must be positive, got %d", p.name, p.limit)
		}
		if p.window <= 0 {
			return fmt.Errorf("RATE_LIMIT_%s_WINDOW must be positive, got %s", p.name, p.window)
		}
	}
	if r.SweepInterval <= 0 {
		return fmt.Errorf("RATE_LIMIT_SWEEP_INTERVAL must be positive, got %s", r.SweepInterval)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "test"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
