package runs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	StageStatusRunning  = "running"
	StageStatusComplete = "complete"
	StageStatusFailed   = "failed"
	StageStatusSkipped  = "skipped"
)

// IngestStage records one stage of an IngestRun: how many batches it
// processed and the create-or-match outcome. FailedBatch is the zero-based
// index of the batch a failed stage died on.
type IngestStage struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	RunID       uuid.UUID      `gorm:"type:uuid;column:run_id;not null;index" json:"run_id"`
	Stage       string         `gorm:"column:stage;not null;index" json:"stage"`
	Status      string         `gorm:"column:status;not null;index" json:"status"`
	Batches     int            `gorm:"column:batches;not null;default:0" json:"batches"`
	Created     int            `gorm:"column:created;not null;default:0" json:"created"`
	Matched     int            `gorm:"column:matched;not null;default:0" json:"matched"`
	FailedBatch *int           `gorm:"column:failed_batch" json:"failed_batch,omitempty"`
	Error       string         `gorm:"column:error" json:"error,omitempty"`
	Detail      datatypes.JSON `gorm:"column:detail" json:"detail,omitempty"`
	StartedAt   time.Time      `gorm:"column:started_at;not null" json:"started_at"`
	FinishedAt  *time.Time     `gorm:"column:finished_at" json:"finished_at,omitempty"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
}

func (IngestStage) TableName() string { return "ingest_stage" }
