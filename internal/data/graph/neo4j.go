package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/prrao87/application-graph/internal/platform/logger"
	"github.com/prrao87/application-graph/internal/platform/neo4jdb"
)

// missingEndpointLimit caps how many unresolved keys a ReferentialError
// reports. Enough to locate the upstream defect without dumping the batch.
const missingEndpointLimit = 25

// Neo4jStore writes through the Bolt driver. Every batch runs in a single
// managed write transaction, so a failing row rolls the whole batch back.
type Neo4jStore struct {
	log       *logger.Logger
	client    *neo4jdb.Client
	txTimeout time.Duration
}

func NewNeo4jStore(log *logger.Logger, client *neo4jdb.Client, txTimeout time.Duration) *Neo4jStore {
	return &Neo4jStore{log: log, client: client, txTimeout: txTimeout}
}

func (s *Neo4jStore) session(ctx context.Context) neo4j.SessionWithContext {
	return s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.client.Database,
	})
}

func (s *Neo4jStore) EnsureConstraints(ctx context.Context, specs []ConstraintSpec) error {
	session := s.session(ctx)
	defer session.Close(ctx)

	for _, spec := range specs {
		stmt := fmt.Sprintf(
			"CREATE CONSTRAINT %s IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE",
			spec.Name(), spec.Label, spec.KeyProp,
		)
		res, err := session.Run(ctx, stmt, nil)
		if err != nil {
			return fmt.Errorf("graph: ensure constraint %s: %w", spec.Name(), err)
		}
		if _, err := res.Consume(ctx); err != nil {
			return fmt.Errorf("graph: ensure constraint %s: %w", spec.Name(), err)
		}
		s.log.Debug("uniqueness constraint ensured", "constraint", spec.Name())
	}
	return nil
}

func (s *Neo4jStore) UpsertNodes(ctx context.Context, spec NodeSpec, rows []NodeRow) (UpsertStats, error) {
	if len(rows) == 0 {
		return UpsertStats{}, nil
	}
	params := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		props := r.Props
		if props == nil {
			props = map[string]any{}
		}
		params = append(params, map[string]any{"key": r.Key, "props": props})
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	stmt := fmt.Sprintf(`
UNWIND $rows AS row
MERGE (n:%s {%s: row.key})
SET n += row.props`, spec.Label, spec.KeyProp)

	var stats UpsertStats
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, stmt, map[string]any{"rows": params})
		if err != nil {
			return nil, err
		}
		sum, err := res.Consume(ctx)
		if err != nil {
			return nil, err
		}
		created := sum.Counters().NodesCreated()
		stats = UpsertStats{Created: created, Matched: len(rows) - created}
		return nil, nil
	}, neo4j.WithTxTimeout(s.txTimeout))
	if err != nil {
		return UpsertStats{}, fmt.Errorf("graph: upsert %s nodes: %w", spec.Label, err)
	}
	return stats, nil
}

func (s *Neo4jStore) UpsertRelationships(ctx context.Context, spec RelSpec, rows []RelRow) (UpsertStats, error) {
	if len(rows) == 0 {
		return UpsertStats{}, nil
	}
	params := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		props := r.Props
		if props == nil {
			props = map[string]any{}
		}
		params = append(params, map[string]any{"src": r.SrcKey, "dst": r.DstKey, "props": props})
	}

	session := s.session(ctx)
	defer session.Close(ctx)

	// Rows whose MATCH finds no endpoint drop out before the MERGE, so a
	// merged count short of the batch size means dangling references.
	stmt := fmt.Sprintf(`
UNWIND $rows AS row
MATCH (a:%s {%s: row.src})
MATCH (b:%s {%s: row.dst})
MERGE (a)-[r:%s]->(b)
SET r += row.props
RETURN count(r) AS merged`,
		spec.SrcLabel, spec.SrcKeyProp, spec.DstLabel, spec.DstKeyProp, spec.Type)

	var stats UpsertStats
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, stmt, map[string]any{"rows": params})
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		merged, ok := rec.Values[0].(int64)
		if !ok {
			return nil, fmt.Errorf("unexpected merged count type %T", rec.Values[0])
		}
		if int(merged) != len(rows) {
			missing, derr := missingEndpoints(ctx, tx, spec, params)
			if derr != nil {
				return nil, derr
			}
			return nil, &ReferentialError{RelType: spec.Type, Missing: missing}
		}
		sum, err := res.Consume(ctx)
		if err != nil {
			return nil, err
		}
		created := sum.Counters().RelationshipsCreated()
		stats = UpsertStats{Created: created, Matched: len(rows) - created}
		return nil, nil
	}, neo4j.WithTxTimeout(s.txTimeout))
	if err != nil {
		var refErr *ReferentialError
		if errors.As(err, &refErr) {
			return UpsertStats{}, refErr
		}
		return UpsertStats{}, fmt.Errorf("graph: upsert %s relationships: %w", spec.Type, err)
	}
	return stats, nil
}

// missingEndpoints names the endpoint keys the batch referenced but the
// graph does not contain. Runs inside the failing transaction, which is
// rolled back regardless.
func missingEndpoints(ctx context.Context, tx neo4j.ManagedTransaction, spec RelSpec, params []map[string]any) ([]string, error) {
	stmt := fmt.Sprintf(`
UNWIND $rows AS row
OPTIONAL MATCH (a:%s {%s: row.src})
OPTIONAL MATCH (b:%s {%s: row.dst})
WITH row, a, b
WHERE a IS NULL OR b IS NULL
RETURN row.src AS src, a IS NULL AS srcMissing, row.dst AS dst, b IS NULL AS dstMissing
LIMIT %d`,
		spec.SrcLabel, spec.SrcKeyProp, spec.DstLabel, spec.DstKeyProp, missingEndpointLimit)

	res, err := tx.Run(ctx, stmt, map[string]any{"rows": params})
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var missing []string
	for res.Next(ctx) {
		rec := res.Record()
		if srcMissing, _ := rec.Values[1].(bool); srcMissing {
			key := fmt.Sprintf("%s %s=%v", spec.SrcLabel, spec.SrcKeyProp, rec.Values[0])
			if !seen[key] {
				seen[key] = true
				missing = append(missing, key)
			}
		}
		if dstMissing, _ := rec.Values[3].(bool); dstMissing {
			key := fmt.Sprintf("%s %s=%v", spec.DstLabel, spec.DstKeyProp, rec.Values[2])
			if !seen[key] {
				seen[key] = true
				missing = append(missing, key)
			}
		}
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return missing, nil
}
