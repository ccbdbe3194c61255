package materialize

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prrao87/application-graph/internal/config"
	"github.com/prrao87/application-graph/internal/data/graph"
	"github.com/prrao87/application-graph/internal/domain"
	"github.com/prrao87/application-graph/internal/domain/runs"
	"github.com/prrao87/application-graph/internal/normalize"
)

// Raw vendor-style exports: decorated string identifiers, original export
// headers, and a BOM smuggled into the auxiliary file's first header cell.
func writeRawFixtures(t *testing.T, dir string) {
	t.Helper()
	files := map[string]string{
		"apps.csv":           "PERSID,APP_NAME\nnr:A-001,Billing\nnr:A-002,Payroll\n",
		"app_org.csv":        "PERSID,CMDB_Name,Sessions\nA-001,O-1,12\n",
		"app_ahd.csv":        "PERSID,Name,AHDhits\nnr:A-001,AHD-9,4\n",
		"app_similarity.csv": "PersID-1,PersID-2,similaritybertcomp,CompID\nnr:A-001,A-002,0.97,3\n",
		"os_instances.csv":   "\ufeffos_PersID,OS\nsrv-x,linux\nsrv-y,linux\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	rawDir := t.TempDir()
	cleanDir := t.TempDir()
	writeRawFixtures(t, rawDir)

	log := testLogger(t)
	cfg := config.Config{
		RawDir:     rawDir,
		CleanDir:   cleanDir,
		BatchSize:  500,
		Workers:    1,
		MaxRetries: 3,
	}

	nReport, err := normalize.New(log, cfg, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got := nReport.TotalExcluded(); got != 0 {
		t.Fatalf("excluded rows = %d, want 0", got)
	}

	// The auxiliary usage source is cleaned but never graphed.
	aux, err := os.ReadFile(filepath.Join(cleanDir, "os_instances_clean.csv"))
	if err != nil {
		t.Fatalf("read aux output: %v", err)
	}
	if !strings.HasPrefix(string(aux), domain.ColOSPersID+",") {
		t.Fatalf("aux output header = %q", strings.SplitN(string(aux), "\n", 2)[0])
	}

	store := graph.NewMemStore()
	report, err := New(log, cfg, store, nil, false).Run(context.Background())
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if report.Status != runs.RunStatusComplete {
		t.Fatalf("run status = %s, want %s", report.Status, runs.RunStatusComplete)
	}

	// "nr:A-001" and "A-001" are spellings of the same canonical key.
	if got := store.NodeCount(domain.LabelApp); got != 2 {
		t.Fatalf("App nodes = %d, want 2", got)
	}
	app, ok := store.Node(domain.LabelApp, int64(1))
	if !ok {
		t.Fatalf("App 1 not found")
	}
	if app["APP_NAME"] != "Billing" {
		t.Fatalf("App 1 APP_NAME = %v, want Billing", app["APP_NAME"])
	}
	if _, ok := store.Node(domain.LabelOrg, "O-1"); !ok {
		t.Fatalf("Org O-1 not found")
	}
	if _, ok := store.Node(domain.LabelAHD, "AHD-9"); !ok {
		t.Fatalf("AHD AHD-9 not found")
	}

	used, ok := store.Relationship(domain.RelUsedBy, int64(1), "O-1")
	if !ok {
		t.Fatalf("USED_BY 1->O-1 not found")
	}
	if used[domain.PropNSessions] != int64(12) {
		t.Fatalf("nSessions = %v, want 12", used[domain.PropNSessions])
	}

	sim, ok := store.Relationship(domain.RelSimilarTo, int64(1), int64(2))
	if !ok {
		t.Fatalf("IS_SIMILAR_TO 1->2 not found")
	}
	if sim[domain.PropSimilarity] != 0.97 {
		t.Fatalf("similarity = %v, want 0.97", sim[domain.PropSimilarity])
	}
	if sim[domain.PropCompID] != "3" {
		t.Fatalf("compID = %v, want \"3\"", sim[domain.PropCompID])
	}

	hits, ok := store.Relationship(domain.RelHits, int64(1), "AHD-9")
	if !ok {
		t.Fatalf("HITS 1->AHD-9 not found")
	}
	if hits[domain.PropNHits] != int64(4) {
		t.Fatalf("nHits = %v, want 4", hits[domain.PropNHits])
	}
}
