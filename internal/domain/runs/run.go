package runs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RunStatusRunning  = "running"
	RunStatusComplete = "complete"
	RunStatusFailed   = "failed"
)

// IngestRun is one materializer invocation against a dataset. The report
// column holds the per-stage counts serialized at completion.
type IngestRun struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Dataset    string         `gorm:"column:dataset;not null;index" json:"dataset"`
	Status     string         `gorm:"column:status;not null;index" json:"status"`
	Stage      string         `gorm:"column:stage" json:"stage,omitempty"`
	BatchSize  int            `gorm:"column:batch_size;not null" json:"batch_size"`
	Error      string         `gorm:"column:error" json:"error,omitempty"`
	Report     datatypes.JSON `gorm:"column:report" json:"report,omitempty"`
	StartedAt  time.Time      `gorm:"column:started_at;not null;index" json:"started_at"`
	FinishedAt *time.Time     `gorm:"column:finished_at" json:"finished_at,omitempty"`
	CreatedAt  time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"not null" json:"updated_at"`
}

func (IngestRun) TableName() string { return "ingest_run" }
