package database

import (
	"context"
	"fmt"

	"github.com/kbukum/stepflow/component"
	"github.com/kbukum/stepflow/logger"
)

// Component opens the database on Start and closes it on Stop.
type Component struct {
	*component.Resource[*DB]
	models []any
}

func NewComponent(cfg Config, log *logger.Logger) *Component {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	log = log.WithComponent("database")
	c := &Component{}
	open := func(ctx context.Context) (*DB, error) {
		db, err := Open(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		if !cfg.AutoMigrate || len(c.models) == 0 {
			return db, nil
		}
		if err := db.Migrate(c.models...); err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("Database migrated", logger.Fields("models", len(c.models)))
		return db, nil
	}
	c.Resource = component.NewResource("database", open, (*DB).Close).WithProbe(probe)
	return c
}

// WithAutoMigrate adds models migrated on Start when auto_migrate is set.
func (c *Component) WithAutoMigrate(models ...any) *Component {
	c.models = append(c.models, models...)
	return c
}

// DB is nil before Start.
func (c *Component) DB() *DB { return c.Get() }

// probe is degraded while every pooled connection is busy.
func probe(ctx context.Context, db *DB) (component.HealthStatus, string, error) {
	if err := db.Ping(ctx); err != nil {
		return "", "", err
	}
	open, inUse, limit := db.Stats()
	msg := fmt.Sprintf("open=%d in_use=%d max=%d", open, inUse, limit)
	if limit > 0 && inUse >= limit {
		return component.StatusDegraded, msg, nil
	}
	return component.StatusHealthy, msg, nil
}
