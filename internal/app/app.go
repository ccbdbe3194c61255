package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prrao87/application-graph/internal/config"
	"github.com/prrao87/application-graph/internal/data/graph"
	"github.com/prrao87/application-graph/internal/data/runstate"
	"github.com/prrao87/application-graph/internal/materialize"
	"github.com/prrao87/application-graph/internal/normalize"
	"github.com/prrao87/application-graph/internal/observability"
	"github.com/prrao87/application-graph/internal/platform/envutil"
	"github.com/prrao87/application-graph/internal/platform/gcs"
	"github.com/prrao87/application-graph/internal/platform/logger"
	"github.com/prrao87/application-graph/internal/platform/neo4jdb"
)

// App wires logging, config, and tracing for the pipeline commands. Stage
// dependencies (object storage, graph database, run ledger) are opened per
// command so a normalize run never touches Neo4j and a dry run never opens a
// ledger.
type App struct {
	Log *logger.Logger
	Cfg config.Config

	flushTraces func(context.Context) error
}

// New builds the shared runtime. Config problems surface as warnings with
// defaults applied; only logger construction can fail here.
func New(ctx context.Context) (*App, error) {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg := config.Load(log)
	flush := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "application-graph",
		Environment: cfg.Env,
	})

	return &App{Log: log, Cfg: cfg, flushTraces: flush}, nil
}

// Close flushes pending traces and log buffers.
func (a *App) Close(ctx context.Context) {
	if a.flushTraces != nil {
		if err := a.flushTraces(ctx); err != nil {
			a.Log.Warn("trace flush failed", "error", err)
		}
	}
	a.Log.Sync()
}

// RunNormalize cleans every configured raw source into the clean directory.
// The GCS client is only dialed when an input lives in a bucket or archival
// is configured.
func (a *App) RunNormalize(ctx context.Context) (*normalize.Report, error) {
	var bucket *gcs.Client
	if gcs.IsURI(a.Cfg.RawDir) || a.Cfg.ArchiveBucket != "" {
		client, err := gcs.NewClient(ctx, a.Log)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		defer func() {
			if cerr := client.Close(); cerr != nil {
				a.Log.Warn("gcs client close failed", "error", cerr)
			}
		}()
		bucket = client
	}

	return normalize.New(a.Log, a.Cfg, bucket).Run(ctx)
}

// MaterializeOptions selects resume and dry-run behavior for a load.
type MaterializeOptions struct {
	// Resume skips stages the run ledger shows as already complete for the
	// most recent failed run.
	Resume bool
	// DryRun loads into an in-memory store instead of Neo4j and records
	// nothing in the ledger.
	DryRun bool
}

// RunMaterialize loads the cleaned partitions into the graph. Ledger failures
// degrade to warnings; the load itself proceeds either way.
func (a *App) RunMaterialize(ctx context.Context, opts MaterializeOptions) (*materialize.RunReport, error) {
	var store graph.Store
	if opts.DryRun {
		a.Log.Info("dry run: materializing into memory store")
		store = graph.NewMemStore()
	} else {
		client, err := neo4jdb.NewFromEnv(a.Log)
		if err != nil {
			return nil, fmt.Errorf("init neo4j client: %w", err)
		}
		defer client.Close(ctx)
		store = graph.NewNeo4jStore(a.Log, client, a.Cfg.TxTimeout)
	}

	var ledger *runstate.Ledger
	if !opts.DryRun {
		l, err := runstate.Open(a.Log)
		if err != nil {
			a.Log.Warn("run ledger unavailable (continuing)", "error", err)
		} else {
			defer func() {
				if cerr := l.Close(); cerr != nil {
					a.Log.Warn("run ledger close failed", "error", cerr)
				}
			}()
			ledger = l
		}
	}

	return materialize.New(a.Log, a.Cfg, store, ledger, opts.Resume).Run(ctx)
}

// ExitCode maps pipeline errors onto process exit codes: 2 for structural
// input failures, 3 for a halted graph load, 1 for anything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var structural *normalize.StructuralError
	if errors.As(err, &structural) {
		return 2
	}
	var stage *materialize.StageError
	if errors.As(err, &stage) {
		return 3
	}
	return 1
}
