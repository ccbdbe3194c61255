package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prrao87/application-graph/internal/domain"
)

func TestEmbeddedSourcesSpecLoads(t *testing.T) {
	t.Setenv(sourcesSpecEnv, "")
	spec, err := loadSourcesSpec()
	if err != nil {
		t.Fatalf("embedded spec should load: %v", err)
	}
	if len(spec.Sources) != 5 {
		t.Fatalf("expected 5 sources, got %d", len(spec.Sources))
	}
	byName := map[string]SourceSpec{}
	for _, s := range spec.Sources {
		byName[s.Name] = s
	}
	apps, ok := byName[domain.SourceApps]
	if !ok {
		t.Fatalf("apps source missing")
	}
	if !apps.Graphed || len(apps.IDColumns) != 1 || apps.IDColumns[0].Mode != IDModeParse || !apps.IDColumns[0].Unique {
		t.Fatalf("apps id column misconfigured: %+v", apps.IDColumns)
	}
	osi, ok := byName[domain.SourceOSInstances]
	if !ok {
		t.Fatalf("os_instances source missing")
	}
	if osi.Graphed {
		t.Fatalf("os_instances must not be graphed")
	}
	if osi.IDColumns[0].Mode != IDModeEnumerate || osi.IDColumns[0].OutName() != domain.ColOSPersID {
		t.Fatalf("os_instances id column misconfigured: %+v", osi.IDColumns[0])
	}
	sim := byName[domain.SourceSimilarity]
	if len(sim.IDColumns) != 2 {
		t.Fatalf("similarity needs two id columns, got %d", len(sim.IDColumns))
	}
}

func TestSourcesSpecOverridePath(t *testing.T) {
	override := `
dataset: application-landscape
version: 2
sources:
  - name: apps
    file: custom_apps.csv
    output: custom_apps_clean.csv
    graphed: true
    id_columns:
      - column: APP_ID
        out: PERSID
        mode: parse
        strip: ["app:"]
        unique: true
`
	path := filepath.Join(t.TempDir(), "sources.yaml")
	if err := os.WriteFile(path, []byte(override), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}
	t.Setenv(sourcesSpecEnv, path)
	spec, err := loadSourcesSpec()
	if err != nil {
		t.Fatalf("override spec should load: %v", err)
	}
	if len(spec.Sources) != 1 || spec.Sources[0].File != "custom_apps.csv" {
		t.Fatalf("override not applied: %+v", spec.Sources)
	}
	if spec.Sources[0].IDColumns[0].OutName() != "PERSID" {
		t.Fatalf("out name not applied: %+v", spec.Sources[0].IDColumns[0])
	}
}

func TestValidateSourcesSpecRejects(t *testing.T) {
	base := func() *SourcesSpec {
		return &SourcesSpec{
			Dataset: "application-landscape",
			Sources: []SourceSpec{{
				Name:      "apps",
				File:      "apps.csv",
				Output:    "apps_clean.csv",
				Graphed:   true,
				IDColumns: []IDColumnSpec{{Column: "PERSID", Mode: IDModeParse}},
			}},
		}
	}

	cases := map[string]func(*SourcesSpec){
		"wrong dataset":      func(s *SourcesSpec) { s.Dataset = "something-else" },
		"no sources":         func(s *SourcesSpec) { s.Sources = nil },
		"empty name":         func(s *SourcesSpec) { s.Sources[0].Name = " " },
		"missing file":       func(s *SourcesSpec) { s.Sources[0].File = "" },
		"missing output":     func(s *SourcesSpec) { s.Sources[0].Output = "" },
		"no id columns":      func(s *SourcesSpec) { s.Sources[0].IDColumns = nil },
		"unknown mode":       func(s *SourcesSpec) { s.Sources[0].IDColumns[0].Mode = "hash" },
		"graphed enumerate":  func(s *SourcesSpec) { s.Sources[0].IDColumns[0].Mode = IDModeEnumerate },
		"bad validate type":  func(s *SourcesSpec) { s.Sources[0].Validate = []ValidateSpec{{Column: "X", Type: "decimal"}} },
		"duplicate source":   func(s *SourcesSpec) { s.Sources = append(s.Sources, s.Sources[0]) },
		"empty id column":    func(s *SourcesSpec) { s.Sources[0].IDColumns[0].Column = "" },
		"validate no column": func(s *SourcesSpec) { s.Sources[0].Validate = []ValidateSpec{{Type: "int"}} },
	}
	for name, mutate := range cases {
		spec := base()
		mutate(spec)
		if err := validateSourcesSpec(spec); err == nil {
			t.Fatalf("case %q: expected validation error", name)
		}
	}
	if err := validateSourcesSpec(base()); err != nil {
		t.Fatalf("base spec should validate: %v", err)
	}
}

func TestFallbackSourcesMirrorEmbedded(t *testing.T) {
	fallback := fallbackSources()
	if len(fallback) != 5 {
		t.Fatalf("expected 5 fallback sources, got %d", len(fallback))
	}
	for _, s := range fallback {
		if s.Graphed {
			for _, id := range s.IDColumns {
				if id.Mode != IDModeParse {
					t.Fatalf("fallback source %s: graphed with mode %s", s.Name, id.Mode)
				}
			}
		}
	}
}

func TestConfigLoadDefaultsAndClamps(t *testing.T) {
	t.Setenv("APPGRAPH_BATCH_SIZE", "0")
	t.Setenv("APPGRAPH_WORKERS", "-2")
	t.Setenv("APPGRAPH_RAW_DIR", "/data/raw")
	cfg := Load(nil)
	if cfg.BatchSize != 2000 {
		t.Fatalf("batch size should clamp to default, got %d", cfg.BatchSize)
	}
	if cfg.Workers != 1 {
		t.Fatalf("workers should clamp to 1, got %d", cfg.Workers)
	}
	if cfg.RawDir != "/data/raw" {
		t.Fatalf("raw dir override lost: %q", cfg.RawDir)
	}
	if cfg.CleanDir != "graph_data_clean" {
		t.Fatalf("clean dir default wrong: %q", cfg.CleanDir)
	}
}
