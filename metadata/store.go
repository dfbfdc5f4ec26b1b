package metadata

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kbukum/stepflow/database"
	"github.com/kbukum/stepflow/database/query"
	"github.com/kbukum/stepflow/logger"
	"github.com/kbukum/stepflow/run"
)

// ListConfig is the query surface of run listings.
var ListConfig = query.Config{
	Fields: map[string]query.Field{
		"name":       {Filter: true, Sort: true, Search: true},
		"pipeline":   {Filter: true, Sort: true, Search: true},
		"status":     {Filter: true, Sort: true, Facet: true},
		"cancelled":  {Filter: true},
		"created_at": {Filter: true, Sort: true},
	},
	DefaultSort: "created_at DESC",
}

// Store reads and writes run metadata.
type Store struct {
	db  *database.DB
	log *logger.Logger
}

var _ run.Sink = (*Store)(nil)

// New creates a store on db.
func New(db *database.DB, log *logger.Logger) *Store {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Store{db: db, log: log.WithComponent("metadata")}
}

// Migrate creates or updates the metadata tables.
func (s *Store) Migrate() error {
	return s.db.Migrate(Models()...)
}

// Publish records e and applies it to the run or step row in one
// transaction.
func (s *Store) Publish(ctx context.Context, e run.Event) error {
	err := s.db.InTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&TransitionRecord{
			RunID:       e.RunID,
			Step:        e.Step,
			From:        e.From,
			To:          e.To,
			Reason:      e.Reason,
			Fingerprint: e.Fingerprint,
			Error:       e.Error,
			Timestamp:   e.Timestamp,
		}).Error; err != nil {
			return err
		}
		if e.RunLevel() {
			return applyRunEvent(tx, e)
		}
		return applyStepEvent(tx, e)
	})
	if err != nil {
		return database.Translate(err, "run", e.RunID)
	}
	return nil
}

func applyRunEvent(tx *gorm.DB, e run.Event) error {
	ts := e.Timestamp
	rec := RunRecord{ID: e.RunID, Name: e.RunName, Pipeline: e.Pipeline, Status: e.To}
	updates := []string{"status", "updated_at"}
	switch status := run.Status(e.To); {
	case status == run.StatusRunning:
		rec.StartedAt = &ts
		updates = append(updates, "started_at")
	case status.Terminal():
		rec.FinishedAt = &ts
		rec.Cancelled = e.Reason == run.ReasonCancelled
		updates = append(updates, "finished_at", "cancelled")
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(updates),
	}).Create(&rec).Error
}

func applyStepEvent(tx *gorm.DB, e run.Event) error {
	ts := e.Timestamp
	state := run.StepState(e.To)
	rec := StepRecord{
		RunID:       e.RunID,
		Name:        e.Step,
		State:       e.To,
		Reason:      e.Reason,
		Error:       e.Error,
		Fingerprint: e.Fingerprint,
	}
	updates := []string{"state", "reason", "error", "updated_at"}
	if e.Fingerprint != "" {
		updates = append(updates, "fingerprint")
	}
	switch {
	case state == run.StepRunning:
		rec.StartedAt = &ts
		updates = append(updates, "started_at")
	case state == run.StepCached:
		rec.Cached = true
		updates = append(updates, "cached")
	case state.Terminal():
		rec.FinishedAt = &ts
		updates = append(updates, "finished_at")
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns(updates),
	}).Create(&rec).Error
}

// SaveResult writes the final state of every step, including outputs, and
// the run status.
func (s *Store) SaveResult(ctx context.Context, res *run.Result) error {
	err := s.db.InTx(ctx, func(tx *gorm.DB) error {
		rec := RunRecord{
			ID:         res.RunID,
			Name:       res.Name,
			Pipeline:   res.Pipeline,
			Status:     string(res.Status),
			Cancelled:  res.Cancelled,
			StartedAt:  timePtr(res.StartedAt),
			FinishedAt: timePtr(res.FinishedAt),
			Edges:      res.Edges,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "pipeline", "status", "cancelled", "started_at", "finished_at", "updated_at", "edges"}),
		}).Create(&rec).Error; err != nil {
			return err
		}

		for _, name := range res.Order {
			step := res.Steps[name]
			if step == nil {
				continue
			}
			srec := StepRecord{
				RunID:       res.RunID,
				Name:        name,
				State:       string(step.State),
				Reason:      step.Reason,
				Error:       step.Error,
				Fingerprint: string(step.Fingerprint),
				Cached:      step.Cached,
				Inputs:      step.Inputs,
				Outputs:     step.Outputs,
				StartedAt:   timePtr(step.StartedAt),
				FinishedAt:  timePtr(step.FinishedAt),
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "run_id"}, {Name: "name"}},
				UpdateAll: true,
			}).Create(&srec).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return database.Translate(err, "run", res.RunID)
	}
	s.log.Debug("Run result saved", logger.Fields(
		logger.FieldRun, res.RunID,
		"steps", len(res.Order),
	))
	return nil
}

// GetRun loads a run with its steps.
func (s *Store) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	var rec RunRecord
	err := s.db.WithContext(ctx).
		Preload("Steps", func(tx *gorm.DB) *gorm.DB { return tx.Order("id") }).
		Where("id = ?", id).
		Take(&rec).Error
	if err != nil {
		return nil, database.Translate(err, "run", id)
	}
	return &rec, nil
}

// ListRuns returns one page of runs, without steps.
func (s *Store) ListRuns(ctx context.Context, params query.Params) (*query.Result[RunRecord], error) {
	res, err := query.Apply[RunRecord](s.db.WithContext(ctx).Model(&RunRecord{}), params, ListConfig)
	if err != nil {
		return nil, database.Translate(err, "run", "")
	}
	return res, nil
}

// Transitions returns the recorded history of a run in order.
func (s *Store) Transitions(ctx context.Context, runID string) ([]TransitionRecord, error) {
	var out []TransitionRecord
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("id").Find(&out).Error
	if err != nil {
		return nil, database.Translate(err, "run", runID)
	}
	return out, nil
}

// Purge deletes runs finished before cutoff together with their steps and
// transitions.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	var purged int64
	err := s.db.InTx(ctx, func(tx *gorm.DB) error {
		old := tx.Model(&RunRecord{}).Select("id").Where("finished_at < ?", cutoff)
		if err := tx.Where("run_id IN (?)", old).Delete(&StepRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("run_id IN (?)", old).Delete(&TransitionRecord{}).Error; err != nil {
			return err
		}
		res := tx.Where("finished_at < ?", cutoff).Delete(&RunRecord{})
		purged = res.RowsAffected
		return res.Error
	})
	return purged, err
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
