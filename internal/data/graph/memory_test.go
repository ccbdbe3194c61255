package graph

import (
	"context"
	"errors"
	"strings"
	"testing"
)

var (
	appSpec = NodeSpec{Label: "App", KeyProp: "PERSID"}
	orgSpec = NodeSpec{Label: "Org", KeyProp: "name"}

	usedBySpec = RelSpec{
		Type:       "USED_BY",
		SrcLabel:   "App",
		SrcKeyProp: "PERSID",
		DstLabel:   "Org",
		DstKeyProp: "name",
	}
)

func TestMemStoreUpsertNodesCreateThenMatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	first, err := store.UpsertNodes(ctx, appSpec, []NodeRow{
		{Key: int64(1), Props: map[string]any{"tier": "gold"}},
		{Key: int64(2)},
	})
	if err != nil {
		t.Fatalf("upsert nodes: %v", err)
	}
	if first.Created != 2 || first.Matched != 0 {
		t.Fatalf("first upsert stats = %+v, want 2 created", first)
	}

	second, err := store.UpsertNodes(ctx, appSpec, []NodeRow{
		{Key: int64(1), Props: map[string]any{"tier": "silver"}},
		{Key: int64(3)},
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.Created != 1 || second.Matched != 1 {
		t.Fatalf("second upsert stats = %+v, want 1 created 1 matched", second)
	}

	props, ok := store.Node("App", int64(1))
	if !ok {
		t.Fatal("App 1 missing")
	}
	if props["tier"] != "silver" {
		t.Fatalf("tier = %v, want last write silver", props["tier"])
	}
	if props["PERSID"] != int64(1) {
		t.Fatalf("key property = %v, want 1", props["PERSID"])
	}
	if got := store.NodeCount("App"); got != 3 {
		t.Fatalf("NodeCount = %d, want 3", got)
	}
}

func TestMemStoreRelationshipsRequireEndpoints(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	if _, err := store.UpsertNodes(ctx, appSpec, []NodeRow{{Key: int64(1)}}); err != nil {
		t.Fatalf("seed apps: %v", err)
	}
	if _, err := store.UpsertNodes(ctx, orgSpec, []NodeRow{{Key: "Finance"}}); err != nil {
		t.Fatalf("seed orgs: %v", err)
	}

	rows := []RelRow{
		{SrcKey: int64(1), DstKey: "Finance"},
		{SrcKey: int64(99), DstKey: "Finance"},
		{SrcKey: int64(1), DstKey: "Ghost Dept"},
	}
	_, err := store.UpsertRelationships(ctx, usedBySpec, rows)
	var refErr *ReferentialError
	if !errors.As(err, &refErr) {
		t.Fatalf("err = %v, want ReferentialError", err)
	}
	if refErr.RelType != "USED_BY" {
		t.Fatalf("RelType = %q", refErr.RelType)
	}
	if len(refErr.Missing) != 2 {
		t.Fatalf("Missing = %v, want both dangling keys", refErr.Missing)
	}
	msg := refErr.Error()
	if !strings.Contains(msg, "App PERSID=99") || !strings.Contains(msg, "Org name=Ghost Dept") {
		t.Fatalf("error message %q does not name missing keys", msg)
	}
	if got := store.RelCount("USED_BY"); got != 0 {
		t.Fatalf("RelCount = %d after failed batch, want 0", got)
	}
}

func TestMemStoreRelationshipsCreateThenMatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	if _, err := store.UpsertNodes(ctx, appSpec, []NodeRow{{Key: int64(1)}, {Key: int64(2)}}); err != nil {
		t.Fatalf("seed apps: %v", err)
	}
	if _, err := store.UpsertNodes(ctx, orgSpec, []NodeRow{{Key: "Finance"}}); err != nil {
		t.Fatalf("seed orgs: %v", err)
	}

	rows := []RelRow{
		{SrcKey: int64(1), DstKey: "Finance", Props: map[string]any{"nSessions": 4}},
		{SrcKey: int64(2), DstKey: "Finance", Props: map[string]any{"nSessions": 7}},
	}
	first, err := store.UpsertRelationships(ctx, usedBySpec, rows)
	if err != nil {
		t.Fatalf("upsert relationships: %v", err)
	}
	if first.Created != 2 || first.Matched != 0 {
		t.Fatalf("first stats = %+v", first)
	}

	rows[0].Props = map[string]any{"nSessions": 9}
	second, err := store.UpsertRelationships(ctx, usedBySpec, rows[:1])
	if err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if second.Created != 0 || second.Matched != 1 {
		t.Fatalf("second stats = %+v, want matched", second)
	}

	props, ok := store.Relationship("USED_BY", int64(1), "Finance")
	if !ok {
		t.Fatal("relationship missing")
	}
	if props["nSessions"] != 9 {
		t.Fatalf("nSessions = %v, want last write 9", props["nSessions"])
	}
	if got := store.RelCount("USED_BY"); got != 2 {
		t.Fatalf("RelCount = %d, want 2", got)
	}
}

func TestMemStoreConstraintsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	specs := []ConstraintSpec{
		{Label: "App", KeyProp: "PERSID"},
		{Label: "Org", KeyProp: "name"},
	}
	for i := 0; i < 2; i++ {
		if err := store.EnsureConstraints(ctx, specs); err != nil {
			t.Fatalf("ensure constraints: %v", err)
		}
	}
	got := store.Constraints()
	want := []string{"app_persid_unique", "org_name_unique"}
	if len(got) != len(want) {
		t.Fatalf("Constraints = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Constraints = %v, want %v", got, want)
		}
	}
}

func TestMemStoreEmptyBatches(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	if stats, err := store.UpsertNodes(ctx, appSpec, nil); err != nil || stats != (UpsertStats{}) {
		t.Fatalf("empty node batch: stats=%+v err=%v", stats, err)
	}
	if stats, err := store.UpsertRelationships(ctx, usedBySpec, nil); err != nil || stats != (UpsertStats{}) {
		t.Fatalf("empty relationship batch: stats=%+v err=%v", stats, err)
	}
}
