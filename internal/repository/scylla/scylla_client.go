package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"molttok/internal/config"
	"molttok/internal/util"
)

// Statements holds the CQL used by the notification inbox. gocql prepares
// and caches each statement on first use.
type Statements struct {
	InsertNotification string
	ListNotifications  string
	ListUnread         string
	MarkRead           string
}

var statements = Statements{
	InsertNotification: `
        INSERT INTO notifications_by_agent (
            agent_id, created_at, id, type, from_agent_id, post_id, comment_id, read
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	ListNotifications: `
        SELECT agent_id, created_at, id, type, from_agent_id, post_id, comment_id, read
        FROM notifications_by_agent WHERE agent_id = ? LIMIT ?`,
	ListUnread: `
        SELECT created_at, id, read FROM notifications_by_agent WHERE agent_id = ?`,
	MarkRead: `
        UPDATE notifications_by_agent SET read = true
        WHERE agent_id = ? AND created_at = ? AND id = ?`,
}

var schema = []string{`
    CREATE TABLE IF NOT EXISTS notifications_by_agent (
        agent_id uuid,
        created_at timestamp,
        id uuid,
        type text,
        from_agent_id uuid,
        post_id uuid,
        comment_id uuid,
        read boolean,
        PRIMARY KEY ((agent_id), created_at, id)
    ) WITH CLUSTERING ORDER BY (created_at DESC, id DESC)`,
}

type ScyllaClient struct {
	Session    *gocql.Session
	Statements Statements
}

func newClusterConfig(cfg config.ScyllaConfig) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(cfg.Nodes...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.MaxRoutingKeyInfo = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if cfg.CAFile != "" {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 cfg.CAFile,
			EnableHostVerification: true,
		}
	}

	if cfg.Username != "" && cfg.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}
	return cluster
}

// NewScyllaClient opens a session on the configured keyspace and makes sure
// the inbox table exists.
func NewScyllaClient(cfg config.ScyllaConfig) (*ScyllaClient, error) {
	if len(cfg.Nodes) == 0 {
		return nil, errors.New("scylla nodes are not configured")
	}

	session, err := newClusterConfig(cfg).CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{Session: session, Statements: statements}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, stmt := range schema {
		if err := session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			session.Close()
			return nil, fmt.Errorf("failed to apply scylla schema: %w", err)
		}
	}

	util.Info("ScyllaDB client initialized",
		zap.Strings("nodes", cfg.Nodes),
		zap.String("keyspace", cfg.Keyspace))

	return client, nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(ctx context.Context, stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...).WithContext(ctx)
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}
