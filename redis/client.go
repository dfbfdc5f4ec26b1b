package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kbukum/stepflow/logger"
)

// ErrDisabled is returned by New for a configuration with Enabled unset.
var ErrDisabled = errors.New("redis: disabled")

// Client is a pooled connection to one Redis server.
type Client struct {
	rdb       *goredis.Client
	log       *logger.Logger
	closeOnce sync.Once
	closeErr  error
}

// New builds a client. No connection is made until the first command.
func New(cfg Config, log *logger.Logger) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetGlobalLogger().WithComponent("redis")
	}
	log.Debug("Redis client configured", logger.Fields("addr", opts.Addr, "db", opts.DB, "pool_size", opts.PoolSize))
	return &Client{rdb: goredis.NewClient(opts), log: log}, nil
}

// Ping round-trips a PING.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// PoolStats reports connection pool counters.
func (c *Client) PoolStats() *goredis.PoolStats { return c.rdb.PoolStats() }

// Close releases the pool. Later calls return the first result.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() { c.closeErr = c.rdb.Close() })
	return c.closeErr
}
