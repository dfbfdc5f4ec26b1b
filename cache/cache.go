package cache

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/kbukum/stepflow/artifact"
	"github.com/kbukum/stepflow/fingerprint"
	"github.com/kbukum/stepflow/resilience"
)

// Entry is what the index stores per fingerprint.
type Entry struct {
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`
	Step        string                  `json:"step"`
	RunID       string                  `json:"run_id"`
	Outputs     map[string]artifact.Ref `json:"outputs"`
	CreatedAt   time.Time               `json:"created_at"`
}

// Clone returns a deep copy of the entry.
func (e Entry) Clone() Entry {
	e.Outputs = maps.Clone(e.Outputs)
	return e
}

// Index maps fingerprints to previously produced outputs. Record replaces
// any existing entry, so repeated records of the same value are harmless.
// Implementations must be safe for concurrent use.
type Index interface {
	Lookup(ctx context.Context, fp fingerprint.Fingerprint) (map[string]artifact.Ref, bool, error)
	Record(ctx context.Context, fp fingerprint.Fingerprint, entry Entry) error
}

// Store kinds accepted by Config.Store.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQL    = "sql"
)

// Config selects and tunes the cache index.
type Config struct {
	// Store is memory, redis or sql.
	Store string `mapstructure:"store"`
	// KeyPrefix namespaces keys in shared stores.
	KeyPrefix string `mapstructure:"key_prefix"`
	// TTL expires entries in the redis store; zero keeps them forever.
	TTL time.Duration `mapstructure:"ttl"`
	// Breaker guards remote stores.
	Breaker resilience.BreakerPolicy `mapstructure:"breaker"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Store == "" {
		c.Store = StoreMemory
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "stepflow:cache"
	}
	c.Breaker.ApplyDefaults()
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreRedis, StoreSQL:
	default:
		return fmt.Errorf("cache.store must be one of memory, redis, sql (got: %q)", c.Store)
	}
	if c.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative")
	}
	return c.Breaker.Validate()
}
