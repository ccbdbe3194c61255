package domain

// ExclusionReason classifies why the normalizer dropped a row. Exclusions are
// recoverable: the row is reported and skipped, the source keeps processing.
type ExclusionReason string

const (
	ReasonEmpty                ExclusionReason = "empty"
	ReasonNonNumeric           ExclusionReason = "non_numeric"
	ReasonOutOfRange           ExclusionReason = "out_of_range"
	ReasonConflictingDuplicate ExclusionReason = "conflicting_duplicate"
)

// ExcludedRow records one dropped row. Row is the 1-based data row index in
// the parsed source (header excluded), Column the cell that failed.
type ExcludedRow struct {
	Source string          `json:"source"`
	Row    int             `json:"row"`
	Column string          `json:"column"`
	Reason ExclusionReason `json:"reason"`
	Value  string          `json:"value"`
}
