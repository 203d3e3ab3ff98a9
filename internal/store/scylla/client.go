package scylla

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"identity-service/internal/config"
	"identity-service/internal/util"
)

// Client wraps the gocql session with retry helpers shared by the
// repositories in this package.
type Client struct {
	Session *gocql.Session
	cfg     *config.ScyllaConfig
}

func NewClient(cfg *config.Config) (*Client, error) {
	cluster := gocql.NewCluster(cfg.Scylla.Hosts...)
	cluster.Keyspace = cfg.Scylla.Keyspace
	cluster.Timeout = cfg.Scylla.Timeout
	cluster.ConnectTimeout = cfg.Scylla.Timeout
	cluster.Consistency = parseConsistency(cfg.Scylla.Consistency)
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
	}
	cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy())

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	util.Info("Scylla client initialized",
		util.String("keyspace", cfg.Scylla.Keyspace),
		util.Int("hosts", len(cfg.Scylla.Hosts)),
	)

	return &Client{Session: session, cfg: &cfg.Scylla}, nil
}

func (c *Client) Close() {
	if c.Session != nil {
		c.Session.Close()
	}
}

func (c *Client) HealthCheck() error {
	if err := c.Session.Query(`SELECT now() FROM system.local`).Exec(); err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}
	return nil
}

// ExecuteWithRetry retries transient failures on write queries.
func (c *Client) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err = query.Exec(); err == nil {
			return nil
		}
		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
		}
	}
	return err
}

// ScanWithRetry retries transient failures on single-row reads. Not-found is
// returned immediately; only other errors are retried.
func (c *Client) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var err error
	for attempt := 0; attempt <= 2; attempt++ {
		err = query.Scan(dest...)
		if err == nil || err == gocql.ErrNotFound {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	return err
}

func parseConsistency(name string) gocql.Consistency {
	switch name {
	case "one":
		return gocql.One
	case "local_quorum":
		return gocql.LocalQuorum
	case "all":
		return gocql.All
	default:
		return gocql.Quorum
	}
}
