package graph

import (
	"context"
	"fmt"
	"strings"
)

// Store is the create-or-match contract the materializer writes through:
// match a node or relationship by its unique key, create it when absent,
// then set the non-key properties. Batches are atomic: a failing row rolls
// back every row submitted with it.
type Store interface {
	// EnsureConstraints idempotently declares uniqueness constraints for the
	// given key properties. Safe to call on every run.
	EnsureConstraints(ctx context.Context, specs []ConstraintSpec) error

	// UpsertNodes creates-or-matches one node per row, keyed on spec.KeyProp,
	// overwriting non-key properties. Reports created vs matched counts.
	UpsertNodes(ctx context.Context, spec NodeSpec, rows []NodeRow) (UpsertStats, error)

	// UpsertRelationships resolves both endpoints by key and creates-or-
	// matches the relationship between them. Endpoints are never created
	// here: a row referencing an unknown key fails the whole batch with a
	// ReferentialError and zero writes.
	UpsertRelationships(ctx context.Context, spec RelSpec, rows []RelRow) (UpsertStats, error)
}

type ConstraintSpec struct {
	Label   string
	KeyProp string
}

// Name derives the constraint identifier declared in the store.
func (c ConstraintSpec) Name() string {
	return fmt.Sprintf("%s_%s_unique", strings.ToLower(c.Label), strings.ToLower(c.KeyProp))
}

type NodeSpec struct {
	Label   string
	KeyProp string
}

type RelSpec struct {
	Type       string
	SrcLabel   string
	SrcKeyProp string
	DstLabel   string
	DstKeyProp string
}

// NodeRow is one node upsert: the unique key value plus non-key properties.
type NodeRow struct {
	Key   any
	Props map[string]any
}

// RelRow is one relationship upsert between two existing nodes.
type RelRow struct {
	SrcKey any
	DstKey any
	Props  map[string]any
}

type UpsertStats struct {
	Created int
	Matched int
}

func (s UpsertStats) Add(other UpsertStats) UpsertStats {
	return UpsertStats{Created: s.Created + other.Created, Matched: s.Matched + other.Matched}
}

// ReferentialError reports relationship rows whose endpoints were never
// loaded as nodes. Not retryable: it signals an upstream normalization or
// ordering defect, and implicit placeholder nodes are never created.
type ReferentialError struct {
	RelType string
	Missing []string
}

func (e *ReferentialError) Error() string {
	return fmt.Sprintf("graph: %s: missing endpoint keys: [%s]", e.RelType, strings.Join(e.Missing, ", "))
}
