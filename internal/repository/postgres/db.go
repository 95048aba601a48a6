package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"molttok/internal/config"
	"molttok/internal/models"
	"molttok/internal/repository"
	"molttok/internal/util"
)

// Repository implements the agent, post, social and notification repositories
// on PostgreSQL through gorm.
type Repository struct {
	db *gorm.DB
}

var (
	_ repository.AgentRepository        = (*Repository)(nil)
	_ repository.PostRepository         = (*Repository)(nil)
	_ repository.SocialRepository       = (*Repository)(nil)
	_ repository.NotificationRepository = (*Repository)(nil)
)

// Open connects to the database, retrying with exponential backoff until
// cfg.ConnectTimeout elapses, and applies the connection pool settings.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Repository, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is not configured")
	}

	var gormDB *gorm.DB
	connect := func() error {
		db, err := gorm.Open(postgres.Open(cfg.URL), &gorm.Config{
			Logger:         logger.Default.LogMode(logger.Silent),
			TranslateError: true,
			NowFunc:        func() time.Time { return time.Now().UTC() },
		})
		if err != nil {
			return err
		}
		gormDB = db
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = cfg.ConnectTimeout
	notify := func(err error, wait time.Duration) {
		util.Warn("Database not reachable, retrying",
			zap.Error(err),
			zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(connect, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	repo := New(gormDB)
	if cfg.AutoMigrate {
		if err := repo.Migrate(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}

	util.Info("Connected to PostgreSQL",
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Bool("auto_migrate", cfg.AutoMigrate))

	return repo, nil
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Migrate(ctx context.Context) error {
	err := r.db.WithContext(ctx).AutoMigrate(
		&models.Agent{},
		&models.Credential{},
		&models.Post{},
		&models.Like{},
		&models.Bookmark{},
		&models.Follow{},
		&models.Comment{},
		&models.Notification{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return nil
	}
	return sqlDB.Close()
}

// translate maps gorm errors onto the repository sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return repository.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return repository.ErrDuplicate
	}
	return err
}

// likePattern escapes LIKE metacharacters in term and wraps it for a substring match.
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(term) + "%"
}
