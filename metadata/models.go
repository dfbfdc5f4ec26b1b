package metadata

import (
	"time"

	"github.com/kbukum/stepflow/artifact"
	"github.com/kbukum/stepflow/dag"
)

// RunRecord is one pipeline run.
type RunRecord struct {
	ID         string       `gorm:"primaryKey;size:64" json:"id"`
	Name       string       `gorm:"size:256;index" json:"name"`
	Pipeline   string       `gorm:"size:128;index" json:"pipeline"`
	Status     string       `gorm:"size:32;index" json:"status"`
	Cancelled  bool         `json:"cancelled"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	CreatedAt  time.Time    `gorm:"index" json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
	Edges      []dag.Edge   `gorm:"serializer:json;type:text" json:"edges,omitempty"`
	Steps      []StepRecord `gorm:"foreignKey:RunID;references:ID" json:"steps,omitempty"`
}

func (RunRecord) TableName() string { return "stepflow_runs" }

// StepRecord is the latest state of one step within a run.
type StepRecord struct {
	ID          uint                    `gorm:"primaryKey" json:"-"`
	RunID       string                  `gorm:"size:64;uniqueIndex:idx_run_step" json:"run_id"`
	Name        string                  `gorm:"size:128;uniqueIndex:idx_run_step" json:"name"`
	State       string                  `gorm:"size:32" json:"state"`
	Reason      string                  `gorm:"size:64" json:"reason,omitempty"`
	Error       string                  `gorm:"type:text" json:"error,omitempty"`
	Fingerprint string                  `gorm:"size:64;index" json:"fingerprint,omitempty"`
	Cached      bool                    `json:"cached"`
	Inputs      map[string]artifact.Ref `gorm:"serializer:json;type:text" json:"inputs,omitempty"`
	Outputs     map[string]artifact.Ref `gorm:"serializer:json;type:text" json:"outputs,omitempty"`
	StartedAt   *time.Time              `json:"started_at,omitempty"`
	FinishedAt  *time.Time              `json:"finished_at,omitempty"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

func (StepRecord) TableName() string { return "stepflow_steps" }

// TransitionRecord is one state change, run level when Step is empty.
type TransitionRecord struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	RunID       string    `gorm:"size:64;index" json:"run_id"`
	Step        string    `gorm:"size:128" json:"step,omitempty"`
	From        string    `gorm:"column:from_state;size:32" json:"from"`
	To          string    `gorm:"column:to_state;size:32" json:"to"`
	Reason      string    `gorm:"size:64" json:"reason,omitempty"`
	Fingerprint string    `gorm:"size:64" json:"fingerprint,omitempty"`
	Error       string    `gorm:"type:text" json:"error,omitempty"`
	Timestamp   time.Time `gorm:"index" json:"timestamp"`
}

func (TransitionRecord) TableName() string { return "stepflow_transitions" }

// Models returns the tables the store needs, for database.Component's
// WithAutoMigrate.
func Models() []interface{} {
	return []interface{}{&RunRecord{}, &StepRecord{}, &TransitionRecord{}}
}
