package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	apperrors "github.com/kbukum/stepflow/errors"
	"github.com/kbukum/stepflow/logger"
	"github.com/kbukum/stepflow/resilience"
)

// DB is an open GORM connection pool.
type DB struct {
	gorm      *gorm.DB
	cfg       Config
	log       *logger.Logger
	closeOnce sync.Once
	closeErr  error
}

func dialector(cfg Config) (gorm.Dialector, error) {
	switch cfg.Driver {
	case DriverSQLite:
		return sqlite.Open(cfg.DSN), nil
	case DriverPostgres:
		return postgres.Open(cfg.DSN), nil
	}
	return nil, fmt.Errorf("database: unsupported driver %q", cfg.Driver)
}

// Open connects with the configured driver. Transient connect failures are
// retried with backoff up to cfg.MaxRetries attempts.
func Open(ctx context.Context, cfg Config, log *logger.Logger) (*DB, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d, err := dialector(cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetGlobalLogger().WithComponent("database")
	}
	gcfg := &gorm.Config{Logger: newQueryLogger(log, cfg), TranslateError: true}

	g, err := resilience.Retry(ctx, connectRetry(cfg, log), func() (*gorm.DB, error) {
		g, err := gorm.Open(d, gcfg)
		if err != nil {
			return nil, err
		}
		sqlDB, err := g.DB()
		if err != nil {
			return nil, err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		return g, nil
	})
	if err != nil {
		return nil, apperrors.ConnectionFailed("database").WithCause(err)
	}

	sqlDB, _ := g.DB()
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	log.Info("Database connected", logger.Fields("driver", cfg.Driver, "max_open_conns", cfg.MaxOpenConns))
	return &DB{gorm: g, cfg: cfg, log: log}, nil
}

func connectRetry(cfg Config, log *logger.Logger) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    cfg.MaxRetries,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2,
		RetryIf:        IsTransient,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			log.Warn("Database not reachable, retrying", logger.MergeWithError(
				logger.Fields("attempt", attempt, "backoff", backoff.String()), err))
		},
	}
}

// WithContext starts a GORM session bound to ctx.
func (d *DB) WithContext(ctx context.Context) *gorm.DB {
	return d.gorm.WithContext(ctx)
}

// Migrate creates or alters tables for models.
func (d *DB) Migrate(models ...any) error {
	if err := d.gorm.AutoMigrate(models...); err != nil {
		return fmt.Errorf("database: migrate: %w", err)
	}
	return nil
}

// InTx runs fn in a transaction, rolling back when fn fails or panics. A
// transaction that fails transiently is run again from the start, so fn
// must not have effects outside tx.
func (d *DB) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	retry := resilience.RetryConfig{
		MaxAttempts:    d.cfg.MaxRetries,
		InitialBackoff: 20 * time.Millisecond,
		MaxBackoff:     time.Second,
		BackoffFactor:  2,
		Jitter:         0.2,
		RetryIf:        IsTransient,
	}
	return resilience.RetryFunc(ctx, retry, func() error {
		return d.gorm.WithContext(ctx).Transaction(fn)
	})
}

// Ping checks that a connection can be used.
func (d *DB) Ping(ctx context.Context) error {
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Stats reports connection pool usage.
func (d *DB) Stats() (open, inUse, limit int) {
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return 0, 0, d.cfg.MaxOpenConns
	}
	s := sqlDB.Stats()
	return s.OpenConnections, s.InUse, s.MaxOpenConnections
}

// Close closes the pool. Later calls return the first result.
func (d *DB) Close() error {
	d.closeOnce.Do(func() {
		sqlDB, err := d.gorm.DB()
		if err != nil {
			d.closeErr = err
			return
		}
		d.closeErr = sqlDB.Close()
	})
	return d.closeErr
}
