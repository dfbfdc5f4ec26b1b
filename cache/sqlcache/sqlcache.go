// Package sqlcache stores cache entries in a SQL table through GORM.
package sqlcache

import (
	"context"
	"maps"
	"time"

	"gorm.io/gorm/clause"

	"github.com/kbukum/stepflow/artifact"
	"github.com/kbukum/stepflow/cache"
	"github.com/kbukum/stepflow/database"
	"github.com/kbukum/stepflow/errors"
	"github.com/kbukum/stepflow/fingerprint"
)

// EntryRecord is the row layout of a cache entry.
type EntryRecord struct {
	Fingerprint string                  `gorm:"primaryKey;size:64"`
	Step        string                  `gorm:"size:128;index"`
	RunID       string                  `gorm:"size:64;index"`
	Outputs     map[string]artifact.Ref `gorm:"serializer:json;type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName implements gorm's tabler.
func (EntryRecord) TableName() string { return "stepflow_cache_entries" }

// Index is a cache.Index backed by a SQL table. Record is a single
// INSERT ... ON CONFLICT DO UPDATE statement.
type Index struct {
	db *database.DB
}

var _ cache.Index = (*Index)(nil)

// New creates an index on db. Call Models with database.Component's
// WithAutoMigrate, or Migrate, to create the table.
func New(db *database.DB) *Index {
	return &Index{db: db}
}

// Models returns the tables this index needs.
func Models() []interface{} {
	return []interface{}{&EntryRecord{}}
}

// Migrate creates or updates the entries table.
func (i *Index) Migrate() error {
	return i.db.Migrate(Models()...)
}

func (i *Index) Lookup(ctx context.Context, fp fingerprint.Fingerprint) (map[string]artifact.Ref, bool, error) {
	var rec EntryRecord
	err := i.db.WithContext(ctx).Where("fingerprint = ?", string(fp)).Take(&rec).Error
	if database.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.CacheUnavailable("sql", err)
	}
	return maps.Clone(rec.Outputs), true, nil
}

func (i *Index) Record(ctx context.Context, fp fingerprint.Fingerprint, entry cache.Entry) error {
	rec := EntryRecord{
		Fingerprint: string(fp),
		Step:        entry.Step,
		RunID:       entry.RunID,
		Outputs:     entry.Outputs,
		CreatedAt:   entry.CreatedAt,
	}
	err := i.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "fingerprint"}},
		DoUpdates: clause.AssignmentColumns([]string{"step", "run_id", "outputs", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return errors.CacheUnavailable("sql", err)
	}
	return nil
}

// Count returns the number of stored entries.
func (i *Index) Count(ctx context.Context) (int64, error) {
	var n int64
	err := i.db.WithContext(ctx).Model(&EntryRecord{}).Count(&n).Error
	return n, err
}

// Purge removes entries last written before cutoff.
func (i *Index) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res := i.db.WithContext(ctx).Where("updated_at < ?", cutoff).Delete(&EntryRecord{})
	return res.RowsAffected, res.Error
}

