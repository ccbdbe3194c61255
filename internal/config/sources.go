package config

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/prrao87/application-graph/internal/domain"
	"github.com/prrao87/application-graph/internal/platform/logger"
)

const sourcesSpecEnv = "APPGRAPH_SOURCES_YAML"

//go:embed sources.yaml
var sourcesSpecFS embed.FS

// IDMode selects how a string identifier column becomes an int64 key.
type IDMode string

const (
	// IDModeParse strips configured decoration and parses the remaining
	// digits. Pure and stable across runs; mandatory for graphed sources.
	IDModeParse IDMode = "parse"
	// IDModeEnumerate assigns first-seen sequence numbers starting at 1.
	// Only valid for auxiliary sources whose keys never enter the graph.
	IDModeEnumerate IDMode = "enumerate"
)

type SourcesSpec struct {
	Dataset string       `yaml:"dataset"`
	Version int          `yaml:"version"`
	Sources []SourceSpec `yaml:"sources"`
}

type SourceSpec struct {
	Name      string            `yaml:"name"`
	File      string            `yaml:"file"`
	Output    string            `yaml:"output"`
	Graphed   bool              `yaml:"graphed"`
	Rename    map[string]string `yaml:"rename"`
	Required  []string          `yaml:"required"`
	Drop      []string          `yaml:"drop"`
	IDColumns []IDColumnSpec    `yaml:"id_columns"`
	Validate  []ValidateSpec    `yaml:"validate"`
}

type IDColumnSpec struct {
	Column string   `yaml:"column"`
	Out    string   `yaml:"out"`
	Mode   IDMode   `yaml:"mode"`
	Strip  []string `yaml:"strip"`
	Unique bool     `yaml:"unique"`
}

// OutName is the cleaned column name for the converted key.
func (c IDColumnSpec) OutName() string {
	if strings.TrimSpace(c.Out) != "" {
		return c.Out
	}
	return c.Column
}

type ValidateSpec struct {
	Column   string   `yaml:"column"`
	Type     string   `yaml:"type"`
	Min      *float64 `yaml:"min"`
	Max      *float64 `yaml:"max"`
	Optional bool     `yaml:"optional"`
}

var sourcesOnce sync.Once
var sourcesCache *SourcesSpec
var sourcesErr error

// Sources returns the source schemas, preferring the file named by
// APPGRAPH_SOURCES_YAML over the embedded default. Falls back to the built-in
// schemas when the document is missing or invalid.
func Sources(log *logger.Logger) []SourceSpec {
	sourcesOnce.Do(func() {
		sourcesCache, sourcesErr = loadSourcesSpec()
	})
	if sourcesErr != nil {
		if log != nil {
			log.Warn("sources spec load failed; using fallback", "error", sourcesErr)
		}
		return fallbackSources()
	}
	return sourcesCache.Sources
}

func SourceByName(log *logger.Logger, name string) (SourceSpec, bool) {
	for _, s := range Sources(log) {
		if s.Name == name {
			return s, true
		}
	}
	return SourceSpec{}, false
}

func GraphedSources(log *logger.Logger) []SourceSpec {
	out := []SourceSpec{}
	for _, s := range Sources(log) {
		if s.Graphed {
			out = append(out, s)
		}
	}
	return out
}

func loadSourcesSpec() (*SourcesSpec, error) {
	data, err := readSourcesSpec()
	if err != nil {
		return nil, err
	}
	var spec SourcesSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, err
	}
	if err := validateSourcesSpec(&spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

func readSourcesSpec() ([]byte, error) {
	if path := strings.TrimSpace(os.Getenv(sourcesSpecEnv)); path != "" {
		return os.ReadFile(path)
	}
	return sourcesSpecFS.ReadFile("sources.yaml")
}

func validateSourcesSpec(spec *SourcesSpec) error {
	if spec == nil {
		return errors.New("missing spec")
	}
	if strings.TrimSpace(spec.Dataset) != domain.DatasetName {
		return fmt.Errorf("unexpected dataset: %s", spec.Dataset)
	}
	if len(spec.Sources) == 0 {
		return errors.New("no sources defined")
	}
	seen := map[string]bool{}
	for _, src := range spec.Sources {
		name := strings.TrimSpace(src.Name)
		if name == "" {
			return errors.New("source name is required")
		}
		if seen[name] {
			return fmt.Errorf("duplicate source name: %s", name)
		}
		seen[name] = true
		if strings.TrimSpace(src.File) == "" {
			return fmt.Errorf("source %s: file is required", name)
		}
		if strings.TrimSpace(src.Output) == "" {
			return fmt.Errorf("source %s: output is required", name)
		}
		if len(src.IDColumns) == 0 {
			return fmt.Errorf("source %s: at least one id column is required", name)
		}
		for _, id := range src.IDColumns {
			if strings.TrimSpace(id.Column) == "" {
				return fmt.Errorf("source %s: id column name is required", name)
			}
			switch id.Mode {
			case IDModeParse, IDModeEnumerate:
			default:
				return fmt.Errorf("source %s: id column %s: unknown mode %q", name, id.Column, id.Mode)
			}
			if src.Graphed && id.Mode != IDModeParse {
				return fmt.Errorf("source %s: graphed sources require parse mode on %s", name, id.Column)
			}
		}
		for _, v := range src.Validate {
			if strings.TrimSpace(v.Column) == "" {
				return fmt.Errorf("source %s: validate column name is required", name)
			}
			switch v.Type {
			case "int", "float":
			default:
				return fmt.Errorf("source %s: validate column %s: unknown type %q", name, v.Column, v.Type)
			}
		}
	}
	return nil
}

func fptr(v float64) *float64 { return &v }

// fallbackSources mirrors the embedded document so a corrupted override file
// degrades to known-good schemas instead of killing the run.
func fallbackSources() []SourceSpec {
	return []SourceSpec{
		{
			Name:     domain.SourceApps,
			File:     "apps.csv",
			Output:   "apps_clean.csv",
			Graphed:  true,
			Required: []string{domain.ColPersID},
			IDColumns: []IDColumnSpec{
				{Column: domain.ColPersID, Mode: IDModeParse, Strip: []string{"nr:"}, Unique: true},
			},
		},
		{
			Name:    domain.SourceOrgs,
			File:    "app_org.csv",
			Output:  "app_org_clean.csv",
			Graphed: true,
			Rename: map[string]string{
				"CMDB_Name": domain.ColOrgName,
				"Sessions":  domain.ColNumSessions,
			},
			Required: []string{domain.ColOrgName},
			IDColumns: []IDColumnSpec{
				{Column: domain.ColPersID, Out: domain.ColAppPersID, Mode: IDModeParse, Strip: []string{"nr:"}},
			},
			Validate: []ValidateSpec{
				{Column: domain.ColNumSessions, Type: "int", Min: fptr(0), Optional: true},
			},
		},
		{
			Name:    domain.SourceAHDHits,
			File:    "app_ahd.csv",
			Output:  "app_ahd_clean.csv",
			Graphed: true,
			Rename: map[string]string{
				"Name":    domain.ColAHDName,
				"AHDhits": domain.ColAHDHits,
			},
			Required: []string{domain.ColAHDName},
			IDColumns: []IDColumnSpec{
				{Column: domain.ColPersID, Out: domain.ColAppPersID, Mode: IDModeParse, Strip: []string{"nr:"}},
			},
			Validate: []ValidateSpec{
				{Column: domain.ColAHDHits, Type: "int", Min: fptr(0), Optional: true},
			},
		},
		{
			Name:    domain.SourceSimilarity,
			File:    "app_similarity.csv",
			Output:  "app_similarity_clean.csv",
			Graphed: true,
			Rename: map[string]string{
				"PersID-1":           domain.ColPersID1,
				"PersID-2":           domain.ColPersID2,
				"similaritybertcomp": domain.ColSimilarity,
				"CompID":             domain.ColCompID,
			},
			Required: []string{domain.ColSimilarity},
			IDColumns: []IDColumnSpec{
				{Column: domain.ColPersID1, Mode: IDModeParse, Strip: []string{"nr:"}},
				{Column: domain.ColPersID2, Mode: IDModeParse, Strip: []string{"nr:"}},
			},
			Validate: []ValidateSpec{
				{Column: domain.ColSimilarity, Type: "float", Min: fptr(0), Max: fptr(1)},
			},
		},
		{
			Name:    domain.SourceOSInstances,
			File:    "os_instances.csv",
			Output:  "os_instances_clean.csv",
			Graphed: false,
			Rename: map[string]string{
				"os_PersID": "PersID",
			},
			IDColumns: []IDColumnSpec{
				{Column: "PersID", Out: domain.ColOSPersID, Mode: IDModeEnumerate},
			},
		},
	}
}
