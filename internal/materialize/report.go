package materialize

import (
	"fmt"
	"time"
)

// Stage names in mandatory execution order. Node stages run before the
// relationship stages that reference them, so endpoints always exist by the
// time a relationship batch is written.
const (
	StageConstraints = "constraints"
	StageAppNodes    = "app_nodes"
	StageOrgNodes    = "org_nodes"
	StageAHDNodes    = "ahd_nodes"
	StageUsedBy      = "used_by_rels"
	StageSimilarTo   = "similar_to_rels"
	StageHits        = "hits_rels"
)

// StageError pins a failed run to the stage and zero-based batch index it
// stopped at, so a restart knows where the previous run died.
type StageError struct {
	Stage string
	Batch int
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("materialize: stage %s batch %d: %v", e.Stage, e.Batch, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

type StageReport struct {
	Stage     string `json:"stage"`
	Skipped   bool   `json:"skipped,omitempty"`
	Processed int    `json:"processed"`
	Excluded  int    `json:"excluded"`
	Created   int    `json:"created"`
	Matched   int    `json:"matched"`
	Batches   int    `json:"batches"`
}

// RunReport is the per-stage outcome of one materializer run, serialized to
// materialize_report.json and, when available, the run ledger.
type RunReport struct {
	RunID      string        `json:"run_id,omitempty"`
	Dataset    string        `json:"dataset"`
	Status     string        `json:"status"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Stages     []StageReport `json:"stages"`
}

func (r *RunReport) TotalCreated() int {
	n := 0
	for _, s := range r.Stages {
		n += s.Created
	}
	return n
}

func (r *RunReport) TotalMatched() int {
	n := 0
	for _, s := range r.Stages {
		n += s.Matched
	}
	return n
}

func (r *RunReport) TotalExcluded() int {
	n := 0
	for _, s := range r.Stages {
		n += s.Excluded
	}
	return n
}

// StageByName returns the report for one stage, if it ran.
func (r *RunReport) StageByName(name string) (StageReport, bool) {
	for _, s := range r.Stages {
		if s.Stage == name {
			return s, true
		}
	}
	return StageReport{}, false
}
