package materialize

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/prrao87/application-graph/internal/config"
	"github.com/prrao87/application-graph/internal/data/graph"
	"github.com/prrao87/application-graph/internal/domain"
	"github.com/prrao87/application-graph/internal/platform/logger"
	"github.com/prrao87/application-graph/internal/tabular"
)

// Partitions holds the cleaned per-entity tables the stage machine feeds
// from. Every graphed source must be present; the normalizer writes an
// output file even when a source cleaned down to zero rows.
type Partitions struct {
	Apps       *tabular.Table
	Orgs       *tabular.Table
	AHDHits    *tabular.Table
	Similarity *tabular.Table
}

// LoadPartitions reads the cleaned outputs of all graphed sources from
// cleanDir. A missing file or missing canonical column is fatal.
func LoadPartitions(log *logger.Logger, cleanDir string) (*Partitions, error) {
	parts := &Partitions{}
	for _, src := range config.GraphedSources(log) {
		table, err := tabular.ReadCSVFile(filepath.Join(cleanDir, src.Output))
		if err != nil {
			return nil, fmt.Errorf("materialize: load source %s: %w", src.Name, err)
		}
		switch src.Name {
		case domain.SourceApps:
			if err := table.RequireColumns(domain.ColPersID); err != nil {
				return nil, fmt.Errorf("materialize: source %s: %w", src.Name, err)
			}
			parts.Apps = table
		case domain.SourceOrgs:
			if err := table.RequireColumns(domain.ColAppPersID, domain.ColOrgName); err != nil {
				return nil, fmt.Errorf("materialize: source %s: %w", src.Name, err)
			}
			parts.Orgs = table
		case domain.SourceAHDHits:
			if err := table.RequireColumns(domain.ColAppPersID, domain.ColAHDName); err != nil {
				return nil, fmt.Errorf("materialize: source %s: %w", src.Name, err)
			}
			parts.AHDHits = table
		case domain.SourceSimilarity:
			if err := table.RequireColumns(domain.ColPersID1, domain.ColPersID2, domain.ColSimilarity); err != nil {
				return nil, fmt.Errorf("materialize: source %s: %w", src.Name, err)
			}
			parts.Similarity = table
		default:
			return nil, fmt.Errorf("materialize: no stage mapping for graphed source %q", src.Name)
		}
	}
	if parts.Apps == nil || parts.Orgs == nil || parts.AHDHits == nil || parts.Similarity == nil {
		return nil, fmt.Errorf("materialize: graphed sources config is incomplete")
	}
	return parts, nil
}

// appNodeRows converts the cleaned application table. Non-key columns ride
// along as string properties; empty cells stay unset. Rows whose key does
// not parse are counted, skipped, and never written.
func appNodeRows(t *tabular.Table) ([]graph.NodeRow, int) {
	rows := make([]graph.NodeRow, 0, t.Len())
	excluded := 0
	for i := range t.Rows {
		key, err := strconv.ParseInt(strings.TrimSpace(t.Get(i, domain.ColPersID)), 10, 64)
		if err != nil {
			excluded++
			continue
		}
		props := map[string]any{}
		for _, col := range t.Columns {
			if col == domain.ColPersID {
				continue
			}
			if v := strings.TrimSpace(t.Get(i, col)); v != "" {
				props[col] = v
			}
		}
		rows = append(rows, graph.NodeRow{Key: key, Props: props})
	}
	return rows, excluded
}

// nameNodeRows collects the distinct non-empty values of one column as
// name-keyed nodes. Repeats collapse onto the first occurrence.
func nameNodeRows(t *tabular.Table, col string) ([]graph.NodeRow, int) {
	seen := map[string]bool{}
	rows := []graph.NodeRow{}
	excluded := 0
	for i := range t.Rows {
		name := strings.TrimSpace(t.Get(i, col))
		if name == "" {
			excluded++
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		rows = append(rows, graph.NodeRow{Key: name})
	}
	return rows, excluded
}

// appToNameRelRows builds relationships from an App key column to a
// name-keyed endpoint, with an optional integer count property.
func appToNameRelRows(t *tabular.Table, nameCol, countCol, countProp string) ([]graph.RelRow, int) {
	rows := make([]graph.RelRow, 0, t.Len())
	excluded := 0
	for i := range t.Rows {
		src, err := strconv.ParseInt(strings.TrimSpace(t.Get(i, domain.ColAppPersID)), 10, 64)
		if err != nil {
			excluded++
			continue
		}
		name := strings.TrimSpace(t.Get(i, nameCol))
		if name == "" {
			excluded++
			continue
		}
		props := map[string]any{}
		if v := strings.TrimSpace(t.Get(i, countCol)); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				excluded++
				continue
			}
			props[countProp] = n
		}
		rows = append(rows, graph.RelRow{SrcKey: src, DstKey: name, Props: props})
	}
	return rows, excluded
}

// similarityRows builds App-to-App similarity relationships. The similarity
// score is mandatory; the connected-component id rides along when present.
func similarityRows(t *tabular.Table) ([]graph.RelRow, int) {
	rows := make([]graph.RelRow, 0, t.Len())
	excluded := 0
	for i := range t.Rows {
		src, err1 := strconv.ParseInt(strings.TrimSpace(t.Get(i, domain.ColPersID1)), 10, 64)
		dst, err2 := strconv.ParseInt(strings.TrimSpace(t.Get(i, domain.ColPersID2)), 10, 64)
		if err1 != nil || err2 != nil {
			excluded++
			continue
		}
		sim, err := strconv.ParseFloat(strings.TrimSpace(t.Get(i, domain.ColSimilarity)), 64)
		if err != nil {
			excluded++
			continue
		}
		props := map[string]any{domain.PropSimilarity: sim}
		if v := strings.TrimSpace(t.Get(i, domain.ColCompID)); v != "" {
			props[domain.PropCompID] = v
		}
		rows = append(rows, graph.RelRow{SrcKey: src, DstKey: dst, Props: props})
	}
	return rows, excluded
}
