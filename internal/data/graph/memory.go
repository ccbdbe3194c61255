package graph

import (
	"context"
	"fmt"
	"sync"
)

// MemStore keeps the graph in process memory. It backs dry runs and tests
// with the same create-or-match and batch-atomicity semantics as the Bolt
// store: relationship batches with dangling references apply nothing.
type MemStore struct {
	mu          sync.Mutex
	constraints []string
	nodes       map[string]map[string]map[string]any
	rels        map[string]map[string]map[string]any
}

func NewMemStore() *MemStore {
	return &MemStore{
		nodes: map[string]map[string]map[string]any{},
		rels:  map[string]map[string]map[string]any{},
	}
}

func (s *MemStore) EnsureConstraints(_ context.Context, specs []ConstraintSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, spec := range specs {
		name := spec.Name()
		if !containsString(s.constraints, name) {
			s.constraints = append(s.constraints, name)
		}
	}
	return nil
}

func (s *MemStore) UpsertNodes(_ context.Context, spec NodeSpec, rows []NodeRow) (UpsertStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byKey := s.nodes[spec.Label]
	if byKey == nil {
		byKey = map[string]map[string]any{}
		s.nodes[spec.Label] = byKey
	}
	var stats UpsertStats
	for _, r := range rows {
		k := keyString(r.Key)
		props, ok := byKey[k]
		if !ok {
			props = map[string]any{spec.KeyProp: r.Key}
			byKey[k] = props
			stats.Created++
		} else {
			stats.Matched++
		}
		for name, v := range r.Props {
			props[name] = v
		}
	}
	return stats, nil
}

func (s *MemStore) UpsertRelationships(_ context.Context, spec RelSpec, rows []RelRow) (UpsertStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[string]bool{}
	var missing []string
	report := func(label, prop string, key any) {
		msg := fmt.Sprintf("%s %s=%v", label, prop, key)
		if !seen[msg] && len(missing) < missingEndpointLimit {
			seen[msg] = true
			missing = append(missing, msg)
		}
	}
	for _, r := range rows {
		if !s.hasNode(spec.SrcLabel, r.SrcKey) {
			report(spec.SrcLabel, spec.SrcKeyProp, r.SrcKey)
		}
		if !s.hasNode(spec.DstLabel, r.DstKey) {
			report(spec.DstLabel, spec.DstKeyProp, r.DstKey)
		}
	}
	if len(missing) > 0 {
		return UpsertStats{}, &ReferentialError{RelType: spec.Type, Missing: missing}
	}

	byPair := s.rels[spec.Type]
	if byPair == nil {
		byPair = map[string]map[string]any{}
		s.rels[spec.Type] = byPair
	}
	var stats UpsertStats
	for _, r := range rows {
		k := relKey(r.SrcKey, r.DstKey)
		props, ok := byPair[k]
		if !ok {
			props = map[string]any{}
			byPair[k] = props
			stats.Created++
		} else {
			stats.Matched++
		}
		for name, v := range r.Props {
			props[name] = v
		}
	}
	return stats, nil
}

// Constraints reports the ensured constraint names in declaration order.
func (s *MemStore) Constraints() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.constraints))
	copy(out, s.constraints)
	return out
}

func (s *MemStore) NodeCount(label string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes[label])
}

func (s *MemStore) RelCount(relType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rels[relType])
}

// Node returns a copy of a node's properties, including its key property.
func (s *MemStore) Node(label string, key any) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	props, ok := s.nodes[label][keyString(key)]
	if !ok {
		return nil, false
	}
	return copyProps(props), true
}

// Relationship returns a copy of a relationship's properties.
func (s *MemStore) Relationship(relType string, srcKey, dstKey any) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	props, ok := s.rels[relType][relKey(srcKey, dstKey)]
	if !ok {
		return nil, false
	}
	return copyProps(props), true
}

func (s *MemStore) hasNode(label string, key any) bool {
	_, ok := s.nodes[label][keyString(key)]
	return ok
}

func keyString(key any) string {
	return fmt.Sprintf("%v", key)
}

func relKey(srcKey, dstKey any) string {
	return keyString(srcKey) + "\x1f" + keyString(dstKey)
}

func copyProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
