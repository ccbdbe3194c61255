package config

import (
	"time"

	"github.com/prrao87/application-graph/internal/platform/envutil"
	"github.com/prrao87/application-graph/internal/platform/logger"
)

// Config carries the pipeline-wide knobs. Source schemas live in the YAML
// document loaded by Sources; graph store and run ledger connection settings
// are read by their own packages.
type Config struct {
	Env       string
	RawDir    string
	CleanDir  string
	BatchSize int
	Workers   int

	MaxRetries int
	TxTimeout  time.Duration

	ArchiveBucket string
	ArchivePrefix string
}

func Load(log *logger.Logger) Config {
	cfg := Config{
		Env:           envutil.String("APP_ENV", "dev"),
		RawDir:        envutil.String("APPGRAPH_RAW_DIR", "graph_data"),
		CleanDir:      envutil.String("APPGRAPH_CLEAN_DIR", "graph_data_clean"),
		BatchSize:     envutil.Int("APPGRAPH_BATCH_SIZE", 2000),
		Workers:       envutil.Int("APPGRAPH_WORKERS", 1),
		MaxRetries:    envutil.Int("APPGRAPH_MAX_RETRIES", 3),
		TxTimeout:     time.Duration(envutil.Int("APPGRAPH_TX_TIMEOUT_SECONDS", 120)) * time.Second,
		ArchiveBucket: envutil.String("APPGRAPH_ARCHIVE_BUCKET", ""),
		ArchivePrefix: envutil.String("APPGRAPH_ARCHIVE_PREFIX", "clean"),
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 2000
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if log != nil {
		log.Debug("config loaded",
			"env", cfg.Env,
			"raw_dir", cfg.RawDir,
			"clean_dir", cfg.CleanDir,
			"batch_size", cfg.BatchSize,
			"workers", cfg.Workers,
			"max_retries", cfg.MaxRetries,
		)
	}
	return cfg
}
