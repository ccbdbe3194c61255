package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/prrao87/application-graph/internal/config"
	"github.com/prrao87/application-graph/internal/domain"
	"github.com/prrao87/application-graph/internal/platform/gcs"
	"github.com/prrao87/application-graph/internal/platform/logger"
	"github.com/prrao87/application-graph/internal/tabular"
)

const reportFileName = "normalize_report.json"

// StructuralError marks a source whose shape is unusable (missing required
// columns, unreadable file). Fatal: no cleaned output is produced for it.
type StructuralError struct {
	Source string
	Err    error
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("normalize: source %s: %v", e.Source, e.Err)
}
func (e *StructuralError) Unwrap() error { return e.Err }

// Normalizer rewrites raw tabular sources into cleaned files with canonical
// int64 keys, one output per source, and reports every excluded row.
type Normalizer struct {
	log *logger.Logger
	cfg config.Config
	gcs *gcs.Client
}

// New builds a Normalizer. gcsClient may be nil when neither gs:// input nor
// archival is configured.
func New(log *logger.Logger, cfg config.Config, gcsClient *gcs.Client) *Normalizer {
	return &Normalizer{
		log: log.With("component", "normalizer"),
		cfg: cfg,
		gcs: gcsClient,
	}
}

// Run cleans every configured source. Stops at the first structural failure;
// row-level problems are excluded and reported, never fatal. Cleaned outputs
// land in the configured clean directory, never back in the raw location.
func (n *Normalizer) Run(ctx context.Context) (*Report, error) {
	if err := n.checkOutputDistinct(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(n.cfg.CleanDir, 0o755); err != nil {
		return nil, fmt.Errorf("normalize: create clean dir: %w", err)
	}

	tracer := otel.Tracer("normalize")
	report := &Report{}
	for _, source := range config.Sources(n.log) {
		sctx, span := tracer.Start(ctx, "normalize.source")
		span.SetAttributes(attribute.String("source", source.Name))

		srcReport, err := n.runSource(sctx, source)
		if err != nil {
			span.RecordError(err)
			span.End()
			return report, err
		}
		report.Sources = append(report.Sources, srcReport)

		span.SetAttributes(
			attribute.Int("rows_read", srcReport.RowsRead),
			attribute.Int("rows_written", srcReport.RowsWritten),
			attribute.Int("rows_excluded", srcReport.ExcludedCount()),
		)
		span.End()

		n.log.Info("source cleaned",
			"source", source.Name,
			"rows_read", srcReport.RowsRead,
			"rows_written", srcReport.RowsWritten,
			"rows_excluded", srcReport.ExcludedCount(),
			"rows_deduped", srcReport.RowsDeduped,
		)
	}

	if err := n.writeReport(report); err != nil {
		n.log.Warn("normalize report write failed (continuing)", "error", err)
	}
	if err := n.archive(ctx); err != nil {
		n.log.Warn("clean output archive failed (continuing)", "error", err)
	}
	return report, nil
}

func (n *Normalizer) runSource(ctx context.Context, source config.SourceSpec) (*SourceReport, error) {
	table, err := n.readRaw(ctx, source)
	if err != nil {
		return nil, &StructuralError{Source: source.Name, Err: err}
	}
	cleaned, srcReport, err := cleanSource(source, table)
	if err != nil {
		return nil, &StructuralError{Source: source.Name, Err: err}
	}
	outPath := filepath.Join(n.cfg.CleanDir, source.Output)
	if err := tabular.WriteCSVFile(outPath, cleaned); err != nil {
		return nil, fmt.Errorf("normalize: source %s: %w", source.Name, err)
	}
	return srcReport, nil
}

func (n *Normalizer) readRaw(ctx context.Context, source config.SourceSpec) (*tabular.Table, error) {
	if gcs.IsURI(n.cfg.RawDir) {
		if n.gcs == nil {
			return nil, fmt.Errorf("gcs client required for gs:// input %s", n.cfg.RawDir)
		}
		uri := strings.TrimSuffix(n.cfg.RawDir, "/") + "/" + source.File
		bucket, key, err := gcs.ParseURI(uri)
		if err != nil {
			return nil, err
		}
		r, err := n.gcs.Download(ctx, bucket, key)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return tabular.ReadCSV(r)
	}
	return tabular.ReadCSVFile(filepath.Join(n.cfg.RawDir, source.File))
}

// checkOutputDistinct refuses to clean in place: raw input is never
// overwritten.
func (n *Normalizer) checkOutputDistinct() error {
	if gcs.IsURI(n.cfg.RawDir) {
		return nil
	}
	rawAbs, err1 := filepath.Abs(n.cfg.RawDir)
	cleanAbs, err2 := filepath.Abs(n.cfg.CleanDir)
	if err1 == nil && err2 == nil && rawAbs == cleanAbs {
		return fmt.Errorf("normalize: clean dir %s must differ from raw dir", n.cfg.CleanDir)
	}
	return nil
}

func (n *Normalizer) writeReport(report *Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(n.cfg.CleanDir, reportFileName), data, 0o644)
}

func (n *Normalizer) archive(ctx context.Context) error {
	if n.cfg.ArchiveBucket == "" {
		return nil
	}
	if n.gcs == nil {
		return fmt.Errorf("gcs client required for archive bucket %s", n.cfg.ArchiveBucket)
	}
	return n.gcs.UploadDir(ctx, n.cfg.ArchiveBucket, n.cfg.ArchivePrefix, n.cfg.CleanDir)
}

// cleanSource applies renames, validates the header, converts identifier
// columns, checks value constraints, and collapses duplicates. Row order is
// preserved for kept rows; converted keys lead the output columns.
func cleanSource(spec config.SourceSpec, table *tabular.Table) (*tabular.Table, *SourceReport, error) {
	srcReport := newSourceReport(spec.Name, spec.File, spec.Output)
	srcReport.RowsRead = table.Len()

	table.RenameColumns(spec.Rename)
	table.DropColumns(spec.Drop...)

	required := []string{}
	for _, id := range spec.IDColumns {
		required = append(required, id.Column)
	}
	required = append(required, spec.Required...)
	if err := table.RequireColumns(dedupeStrings(required)...); err != nil {
		return nil, nil, err
	}

	idIdx := make([]int, len(spec.IDColumns))
	isIDColumn := map[string]bool{}
	for i, id := range spec.IDColumns {
		idIdx[i] = table.ColumnIndex(id.Column)
		isIDColumn[id.Column] = true
	}

	// Non-identifier required columns must carry a value on every row.
	valueRequired := []int{}
	valueRequiredNames := []string{}
	for _, name := range spec.Required {
		if isIDColumn[name] {
			continue
		}
		valueRequired = append(valueRequired, table.ColumnIndex(name))
		valueRequiredNames = append(valueRequiredNames, name)
	}

	passIdx := []int{}
	outCols := []string{}
	for _, id := range spec.IDColumns {
		outCols = append(outCols, id.OutName())
	}
	for i, name := range table.Columns {
		if isIDColumn[name] {
			continue
		}
		passIdx = append(passIdx, i)
		outCols = append(outCols, name)
	}
	out := tabular.New(outCols)

	enums := map[int]*enumerator{}
	for i, id := range spec.IDColumns {
		if id.Mode == config.IDModeEnumerate {
			enums[i] = newEnumerator()
		}
	}

	uniqueIDs := []int{}
	for i, id := range spec.IDColumns {
		if id.Unique {
			uniqueIDs = append(uniqueIDs, i)
		}
	}
	firstByKey := map[string][]string{}

rows:
	for ri, row := range table.Rows {
		rowNum := ri + 1
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = strings.TrimSpace(c)
		}

		keys := make([]int64, len(spec.IDColumns))
		for i, id := range spec.IDColumns {
			raw := cells[idIdx[i]]
			switch id.Mode {
			case config.IDModeEnumerate:
				if raw == "" {
					srcReport.exclude(domain.ExcludedRow{
						Source: spec.Name, Row: rowNum, Column: id.Column,
						Reason: domain.ReasonEmpty, Value: raw,
					})
					continue rows
				}
				keys[i] = enums[i].keyFor(raw)
			default:
				key, reason := ParseKey(raw, id.Strip)
				if reason != "" {
					srcReport.exclude(domain.ExcludedRow{
						Source: spec.Name, Row: rowNum, Column: id.Column,
						Reason: reason, Value: raw,
					})
					continue rows
				}
				keys[i] = key
			}
		}

		for vi, idx := range valueRequired {
			if cells[idx] == "" {
				srcReport.exclude(domain.ExcludedRow{
					Source: spec.Name, Row: rowNum, Column: valueRequiredNames[vi],
					Reason: domain.ReasonEmpty,
				})
				continue rows
			}
		}

		for _, v := range spec.Validate {
			idx := table.ColumnIndex(v.Column)
			if idx < 0 {
				continue
			}
			if reason := validateCell(v, cells[idx]); reason != "" {
				srcReport.exclude(domain.ExcludedRow{
					Source: spec.Name, Row: rowNum, Column: v.Column,
					Reason: reason, Value: cells[idx],
				})
				continue rows
			}
		}

		outRow := make([]string, 0, len(outCols))
		for _, key := range keys {
			outRow = append(outRow, strconv.FormatInt(key, 10))
		}
		for _, i := range passIdx {
			outRow = append(outRow, cells[i])
		}

		if len(uniqueIDs) > 0 {
			compound := compoundKey(keys, uniqueIDs)
			if prev, ok := firstByKey[compound]; ok {
				if slices.Equal(prev, outRow) {
					srcReport.RowsDeduped++
					continue rows
				}
				uid := uniqueIDs[0]
				srcReport.exclude(domain.ExcludedRow{
					Source: spec.Name, Row: rowNum, Column: spec.IDColumns[uid].Column,
					Reason: domain.ReasonConflictingDuplicate, Value: cells[idIdx[uid]],
				})
				continue rows
			}
			firstByKey[compound] = outRow
		}

		out.Rows = append(out.Rows, outRow)
	}

	srcReport.RowsWritten = out.Len()
	return out, srcReport, nil
}

func validateCell(v config.ValidateSpec, cell string) domain.ExclusionReason {
	if cell == "" {
		if v.Optional {
			return ""
		}
		return domain.ReasonEmpty
	}
	var val float64
	switch v.Type {
	case "int":
		i, err := strconv.ParseInt(cell, 10, 64)
		if err != nil {
			return domain.ReasonNonNumeric
		}
		val = float64(i)
	default:
		f, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return domain.ReasonNonNumeric
		}
		val = f
	}
	if v.Min != nil && val < *v.Min {
		return domain.ReasonOutOfRange
	}
	if v.Max != nil && val > *v.Max {
		return domain.ReasonOutOfRange
	}
	return ""
}

func compoundKey(keys []int64, idxs []int) string {
	parts := make([]string, len(idxs))
	for i, idx := range idxs {
		parts[i] = strconv.FormatInt(keys[idx], 10)
	}
	return strings.Join(parts, "|")
}

func dedupeStrings(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
