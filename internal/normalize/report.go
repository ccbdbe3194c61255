package normalize

import (
	"github.com/prrao87/application-graph/internal/domain"
)

// SourceReport summarizes one source's pass through the cleaner.
type SourceReport struct {
	Source      string `json:"source"`
	File        string `json:"file"`
	Output      string `json:"output"`
	RowsRead    int    `json:"rows_read"`
	RowsWritten int    `json:"rows_written"`
	RowsDeduped int    `json:"rows_deduped"`

	Excluded         []domain.ExcludedRow           `json:"excluded,omitempty"`
	ExcludedByReason map[domain.ExclusionReason]int `json:"excluded_by_reason,omitempty"`
}

func newSourceReport(source, file, output string) *SourceReport {
	return &SourceReport{
		Source:           source,
		File:             file,
		Output:           output,
		ExcludedByReason: map[domain.ExclusionReason]int{},
	}
}

func (r *SourceReport) exclude(row domain.ExcludedRow) {
	r.Excluded = append(r.Excluded, row)
	r.ExcludedByReason[row.Reason]++
}

func (r *SourceReport) ExcludedCount() int {
	return len(r.Excluded)
}

// Report is the full normalization outcome across sources.
type Report struct {
	Sources []*SourceReport `json:"sources"`
}

func (r *Report) TotalExcluded() int {
	total := 0
	for _, s := range r.Sources {
		total += s.ExcludedCount()
	}
	return total
}

func (r *Report) TotalWritten() int {
	total := 0
	for _, s := range r.Sources {
		total += s.RowsWritten
	}
	return total
}
