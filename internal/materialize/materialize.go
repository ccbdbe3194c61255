package materialize

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/prrao87/application-graph/internal/config"
	"github.com/prrao87/application-graph/internal/data/graph"
	"github.com/prrao87/application-graph/internal/data/runstate"
	"github.com/prrao87/application-graph/internal/domain"
	"github.com/prrao87/application-graph/internal/domain/runs"
	"github.com/prrao87/application-graph/internal/platform/logger"
	"github.com/prrao87/application-graph/internal/platform/retry"
)

const reportFileName = "materialize_report.json"

// Materializer drives the staged, batched load of cleaned partitions into
// the graph store. Stages run in a fixed order; within a stage, batches may
// run concurrently when more than one worker is configured.
type Materializer struct {
	log    *logger.Logger
	cfg    config.Config
	store  graph.Store
	ledger *runstate.Ledger
	resume bool
}

// New wires a materializer. ledger may be nil, in which case run tracking
// degrades to log output only. With resume set, stages completed by the most
// recent failed run are skipped.
func New(log *logger.Logger, cfg config.Config, store graph.Store, ledger *runstate.Ledger, resume bool) *Materializer {
	return &Materializer{
		log:    log.With("component", "materialize"),
		cfg:    cfg,
		store:  store,
		ledger: ledger,
		resume: resume,
	}
}

type stageRun struct {
	name string
	exec func(ctx context.Context) (StageReport, error)
}

// Run loads all partitions and executes the stage machine. On failure the
// returned report covers the stages that ran, and the error carries the
// stage and batch index the run stopped at.
func (m *Materializer) Run(ctx context.Context) (*RunReport, error) {
	tracer := otel.Tracer("materialize")
	ctx, runSpan := tracer.Start(ctx, "materialize.run")
	defer runSpan.End()

	log := m.log
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		log = log.With("trace_id", sc.TraceID().String())
	}

	parts, err := LoadPartitions(log, m.cfg.CleanDir)
	if err != nil {
		runSpan.RecordError(err)
		return nil, err
	}

	report := &RunReport{
		Dataset:   domain.DatasetName,
		Status:    runs.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	rec := newRecorder(m.log, m.ledger)
	report.RunID = rec.begin(ctx, domain.DatasetName, m.cfg.BatchSize)
	if report.RunID != "" {
		log = log.With("run_id", report.RunID)
		runSpan.SetAttributes(attribute.String("run_id", report.RunID))
	}

	done := map[string]bool{}
	if m.resume {
		if m.ledger == nil {
			log.Warn("resume requested without run ledger; running all stages")
		} else if set, err := m.ledger.ResumableStages(ctx, domain.DatasetName); err != nil {
			log.Warn("resume state unavailable; running all stages", "error", err)
		} else {
			done = set
		}
	}

	stages := []stageRun{
		m.constraintsStage(),
		m.nodeStage(StageAppNodes,
			graph.NodeSpec{Label: domain.LabelApp, KeyProp: domain.PropPersID},
			parts.Apps.Len(),
			func() ([]graph.NodeRow, int) { return appNodeRows(parts.Apps) }),
		m.nodeStage(StageOrgNodes,
			graph.NodeSpec{Label: domain.LabelOrg, KeyProp: domain.PropName},
			parts.Orgs.Len(),
			func() ([]graph.NodeRow, int) { return nameNodeRows(parts.Orgs, domain.ColOrgName) }),
		m.nodeStage(StageAHDNodes,
			graph.NodeSpec{Label: domain.LabelAHD, KeyProp: domain.PropName},
			parts.AHDHits.Len(),
			func() ([]graph.NodeRow, int) { return nameNodeRows(parts.AHDHits, domain.ColAHDName) }),
		m.relStage(StageUsedBy,
			graph.RelSpec{
				Type:     domain.RelUsedBy,
				SrcLabel: domain.LabelApp, SrcKeyProp: domain.PropPersID,
				DstLabel: domain.LabelOrg, DstKeyProp: domain.PropName,
			},
			parts.Orgs.Len(),
			func() ([]graph.RelRow, int) {
				return appToNameRelRows(parts.Orgs, domain.ColOrgName, domain.ColNumSessions, domain.PropNSessions)
			}),
		m.relStage(StageSimilarTo,
			graph.RelSpec{
				Type:     domain.RelSimilarTo,
				SrcLabel: domain.LabelApp, SrcKeyProp: domain.PropPersID,
				DstLabel: domain.LabelApp, DstKeyProp: domain.PropPersID,
			},
			parts.Similarity.Len(),
			func() ([]graph.RelRow, int) { return similarityRows(parts.Similarity) }),
		m.relStage(StageHits,
			graph.RelSpec{
				Type:     domain.RelHits,
				SrcLabel: domain.LabelApp, SrcKeyProp: domain.PropPersID,
				DstLabel: domain.LabelAHD, DstKeyProp: domain.PropName,
			},
			parts.AHDHits.Len(),
			func() ([]graph.RelRow, int) {
				return appToNameRelRows(parts.AHDHits, domain.ColAHDName, domain.ColAHDHits, domain.PropNHits)
			}),
	}

	for _, st := range stages {
		// Constraints are cheap and idempotent, so they always rerun.
		if done[st.name] && st.name != StageConstraints {
			rec.stageSkipped(ctx, st.name)
			report.Stages = append(report.Stages, StageReport{Stage: st.name, Skipped: true})
			log.Info("stage skipped (resume)", "stage", st.name)
			continue
		}

		sctx, span := tracer.Start(ctx, "materialize.stage")
		span.SetAttributes(attribute.String("stage", st.name))

		rec.stageStarted(sctx, st.name)
		rep, err := st.exec(sctx)
		if err != nil {
			span.RecordError(err)
			span.End()

			batch := 0
			var serr *StageError
			if errors.As(err, &serr) {
				batch = serr.Batch
			}
			report.Stages = append(report.Stages, rep)
			report.Status = runs.RunStatusFailed
			report.Error = err.Error()
			report.FinishedAt = time.Now().UTC()

			// Outcome writes survive a canceled run context.
			fctx := context.WithoutCancel(ctx)
			rec.stageFailed(fctx, st.name, batch, err)
			rec.runFailed(fctx, st.name, err)
			m.writeReport(report)
			runSpan.RecordError(err)
			log.Error("materialization halted", "stage", st.name, "batch", batch, "error", err)
			return report, err
		}
		span.SetAttributes(
			attribute.Int("processed", rep.Processed),
			attribute.Int("excluded", rep.Excluded),
			attribute.Int("created", rep.Created),
			attribute.Int("matched", rep.Matched),
			attribute.Int("batches", rep.Batches),
		)
		span.End()

		rec.stageCompleted(ctx, st.name, rep)
		report.Stages = append(report.Stages, rep)
		log.Info("stage complete",
			"stage", st.name,
			"processed", rep.Processed,
			"excluded", rep.Excluded,
			"created", rep.Created,
			"matched", rep.Matched,
			"batches", rep.Batches,
		)
	}

	report.Status = runs.RunStatusComplete
	report.FinishedAt = time.Now().UTC()
	rec.runCompleted(ctx, report)
	m.writeReport(report)
	log.Info("materialization complete",
		"created", report.TotalCreated(),
		"matched", report.TotalMatched(),
		"excluded", report.TotalExcluded(),
	)
	return report, nil
}

func (m *Materializer) constraintsStage() stageRun {
	return stageRun{name: StageConstraints, exec: func(ctx context.Context) (StageReport, error) {
		specs := []graph.ConstraintSpec{
			{Label: domain.LabelApp, KeyProp: domain.PropPersID},
			{Label: domain.LabelOrg, KeyProp: domain.PropName},
			{Label: domain.LabelAHD, KeyProp: domain.PropName},
		}
		err := retry.ErrWithContext(ctx, m.cfg.MaxRetries, func(ctx context.Context) error {
			return m.store.EnsureConstraints(ctx, specs)
		})
		if err != nil {
			return StageReport{Stage: StageConstraints}, &StageError{Stage: StageConstraints, Batch: 0, Err: err}
		}
		return StageReport{Stage: StageConstraints}, nil
	}}
}

func (m *Materializer) nodeStage(name string, spec graph.NodeSpec, processed int, build func() ([]graph.NodeRow, int)) stageRun {
	return stageRun{name: name, exec: func(ctx context.Context) (StageReport, error) {
		rows, excluded := build()
		rep := StageReport{Stage: name, Processed: processed, Excluded: excluded}
		stats, batches, err := m.nodeBatches(ctx, name, spec, rows)
		rep.Created = stats.Created
		rep.Matched = stats.Matched
		rep.Batches = batches
		return rep, err
	}}
}

func (m *Materializer) relStage(name string, spec graph.RelSpec, processed int, build func() ([]graph.RelRow, int)) stageRun {
	return stageRun{name: name, exec: func(ctx context.Context) (StageReport, error) {
		rows, excluded := build()
		rep := StageReport{Stage: name, Processed: processed, Excluded: excluded}
		stats, batches, err := m.relBatches(ctx, name, spec, rows)
		rep.Created = stats.Created
		rep.Matched = stats.Matched
		rep.Batches = batches
		return rep, err
	}}
}

func (m *Materializer) nodeBatches(ctx context.Context, stage string, spec graph.NodeSpec, rows []graph.NodeRow) (graph.UpsertStats, int, error) {
	batchSize := m.cfg.BatchSize
	numBatches := (len(rows) + batchSize - 1) / batchSize
	if numBatches == 0 {
		return graph.UpsertStats{}, 0, nil
	}
	tracer := otel.Tracer("materialize")
	results := make([]graph.UpsertStats, numBatches)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Workers)
	for b := 0; b < numBatches; b++ {
		start := b * batchSize
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]
		g.Go(func() error {
			bctx, span := tracer.Start(gctx, "materialize.batch")
			span.SetAttributes(
				attribute.String("stage", stage),
				attribute.Int("batch", b),
				attribute.Int("rows", len(batch)),
			)
			defer span.End()

			err := retry.ErrWithContext(bctx, m.cfg.MaxRetries, func(ctx context.Context) error {
				stats, err := m.store.UpsertNodes(ctx, spec, batch)
				if err != nil {
					return err
				}
				results[b] = stats
				return nil
			})
			if err != nil {
				span.RecordError(err)
				return &StageError{Stage: stage, Batch: b, Err: err}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return graph.UpsertStats{}, 0, err
	}
	total := graph.UpsertStats{}
	for _, s := range results {
		total = total.Add(s)
	}
	return total, numBatches, nil
}

func (m *Materializer) relBatches(ctx context.Context, stage string, spec graph.RelSpec, rows []graph.RelRow) (graph.UpsertStats, int, error) {
	batchSize := m.cfg.BatchSize
	numBatches := (len(rows) + batchSize - 1) / batchSize
	if numBatches == 0 {
		return graph.UpsertStats{}, 0, nil
	}
	tracer := otel.Tracer("materialize")
	results := make([]graph.UpsertStats, numBatches)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Workers)
	for b := 0; b < numBatches; b++ {
		start := b * batchSize
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]
		g.Go(func() error {
			bctx, span := tracer.Start(gctx, "materialize.batch")
			span.SetAttributes(
				attribute.String("stage", stage),
				attribute.Int("batch", b),
				attribute.Int("rows", len(batch)),
			)
			defer span.End()

			err := retry.ErrWithContext(bctx, m.cfg.MaxRetries, func(ctx context.Context) error {
				stats, err := m.store.UpsertRelationships(ctx, spec, batch)
				if err != nil {
					// Dangling references never heal on retry.
					var refErr *graph.ReferentialError
					if errors.As(err, &refErr) {
						return retry.Permanent(err)
					}
					return err
				}
				results[b] = stats
				return nil
			})
			if err != nil {
				span.RecordError(err)
				return &StageError{Stage: stage, Batch: b, Err: err}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return graph.UpsertStats{}, 0, err
	}
	total := graph.UpsertStats{}
	for _, s := range results {
		total = total.Add(s)
	}
	return total, numBatches, nil
}

func (m *Materializer) writeReport(report *RunReport) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(m.cfg.CleanDir, reportFileName), data, 0o644)
	}
	if err != nil {
		m.log.Warn("materialize report write failed (continuing)", "error", err)
	}
}

// recorder shields the stage machine from ledger availability: every write
// failure is a warning, never a run failure.
type recorder struct {
	log      *logger.Logger
	ledger   *runstate.Ledger
	runID    uuid.UUID
	stageIDs map[string]uuid.UUID
}

func newRecorder(log *logger.Logger, ledger *runstate.Ledger) *recorder {
	return &recorder{log: log, ledger: ledger, stageIDs: map[string]uuid.UUID{}}
}

func (r *recorder) begin(ctx context.Context, dataset string, batchSize int) string {
	if r.ledger == nil {
		return ""
	}
	run, err := r.ledger.BeginRun(ctx, dataset, batchSize)
	if err != nil {
		r.log.Warn("run ledger unavailable (continuing)", "error", err)
		r.ledger = nil
		return ""
	}
	r.runID = run.ID
	return run.ID.String()
}

func (r *recorder) stageStarted(ctx context.Context, stage string) {
	if r.ledger == nil {
		return
	}
	st, err := r.ledger.StageStarted(ctx, r.runID, stage)
	if err != nil {
		r.log.Warn("run ledger write failed (continuing)", "stage", stage, "error", err)
		return
	}
	r.stageIDs[stage] = st.ID
}

func (r *recorder) stageCompleted(ctx context.Context, stage string, rep StageReport) {
	if r.ledger == nil {
		return
	}
	id, ok := r.stageIDs[stage]
	if !ok {
		return
	}
	if err := r.ledger.StageCompleted(ctx, id, rep.Batches, rep.Created, rep.Matched); err != nil {
		r.log.Warn("run ledger write failed (continuing)", "stage", stage, "error", err)
	}
}

func (r *recorder) stageFailed(ctx context.Context, stage string, batch int, cause error) {
	if r.ledger == nil {
		return
	}
	id, ok := r.stageIDs[stage]
	if !ok {
		return
	}
	var detail any
	var refErr *graph.ReferentialError
	if errors.As(cause, &refErr) {
		detail = map[string]any{"missing_endpoints": refErr.Missing}
	}
	if err := r.ledger.StageFailed(ctx, id, batch, cause, detail); err != nil {
		r.log.Warn("run ledger write failed (continuing)", "stage", stage, "error", err)
	}
}

func (r *recorder) stageSkipped(ctx context.Context, stage string) {
	if r.ledger == nil {
		return
	}
	if err := r.ledger.StageSkipped(ctx, r.runID, stage); err != nil {
		r.log.Warn("run ledger write failed (continuing)", "stage", stage, "error", err)
	}
}

func (r *recorder) runCompleted(ctx context.Context, report *RunReport) {
	if r.ledger == nil {
		return
	}
	if err := r.ledger.RunCompleted(ctx, r.runID, report); err != nil {
		r.log.Warn("run ledger write failed (continuing)", "error", err)
	}
}

func (r *recorder) runFailed(ctx context.Context, stage string, cause error) {
	if r.ledger == nil {
		return
	}
	if err := r.ledger.RunFailed(ctx, r.runID, stage, cause); err != nil {
		r.log.Warn("run ledger write failed (continuing)", "error", err)
	}
}
