package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"session-service/internal/config"
	"session-service/internal/util"
)

type ScyllaClient struct {
	Session *gocql.Session
	config  *config.ScyllaConfig
}

func NewScyllaClient(cfg *config.ScyllaConfig, logger *zap.Logger) (*ScyllaClient, error) {
	cluster := gocql.NewCluster(cfg.Nodes...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if cfg.Username != "" && cfg.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	util.Info("ScyllaDB client initialized",
		zap.Strings("nodes", cfg.Nodes),
		zap.String("keyspace", cfg.Keyspace))

	return &ScyllaClient{
		Session: session,
		config:  cfg,
	}, nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

// HealthCheck runs a trivial query against the local node.
func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	var now time.Time
	if err := s.Session.Query(`SELECT now() FROM system.local`).WithContext(ctx).Scan(&now); err != nil {
		return fmt.Errorf("scylla health query failed: %w", err)
	}
	return nil
}
