package runstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/prrao87/application-graph/internal/domain/runs"
	"github.com/prrao87/application-graph/internal/platform/envutil"
	"github.com/prrao87/application-graph/internal/platform/logger"
)

// Ledger persists run and stage outcomes so interrupted ingests can be
// resumed and past runs audited. Backed by sqlite unless RUN_LEDGER_DRIVER
// selects postgres.
type Ledger struct {
	db  *gorm.DB
	log *logger.Logger
}

// Open connects the ledger and migrates its tables.
//
//	RUN_LEDGER_DRIVER   sqlite (default) or postgres
//	RUN_LEDGER_PATH     sqlite file path, default ingest_runs.db
//	POSTGRES_HOST/PORT/USER/PASSWORD/NAME for the postgres driver
func Open(log *logger.Logger) (*Ledger, error) {
	driver := envutil.String("RUN_LEDGER_DRIVER", "sqlite")

	var dial gorm.Dialector
	switch driver {
	case "sqlite":
		dial = sqlite.Open(envutil.String("RUN_LEDGER_PATH", "ingest_runs.db"))
	case "postgres":
		host := envutil.String("POSTGRES_HOST", "localhost")
		port := envutil.String("POSTGRES_PORT", "5432")
		user := envutil.String("POSTGRES_USER", "postgres")
		password := envutil.String("POSTGRES_PASSWORD", "")
		name := envutil.String("POSTGRES_NAME", "appgraph")
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)
		dial = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("runstate: unknown RUN_LEDGER_DRIVER %q", driver)
	}

	db, err := gorm.Open(dial, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("runstate: open %s ledger: %w", driver, err)
	}
	if err := db.AutoMigrate(&runs.IngestRun{}, &runs.IngestStage{}); err != nil {
		return nil, fmt.Errorf("runstate: migrate ledger: %w", err)
	}
	log.Debug("run ledger ready", "driver", driver)
	return &Ledger{db: db, log: log.With("component", "runstate")}, nil
}

func (l *Ledger) DB() *gorm.DB { return l.db }

func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (l *Ledger) BeginRun(ctx context.Context, dataset string, batchSize int) (*runs.IngestRun, error) {
	now := time.Now().UTC()
	run := &runs.IngestRun{
		ID:        uuid.New(),
		Dataset:   dataset,
		Status:    runs.RunStatusRunning,
		BatchSize: batchSize,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("runstate: begin run: %w", err)
	}
	return run, nil
}

func (l *Ledger) StageStarted(ctx context.Context, runID uuid.UUID, stage string) (*runs.IngestStage, error) {
	now := time.Now().UTC()
	st := &runs.IngestStage{
		ID:        uuid.New(),
		RunID:     runID,
		Stage:     stage,
		Status:    runs.StageStatusRunning,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.db.WithContext(ctx).Create(st).Error; err != nil {
		return nil, fmt.Errorf("runstate: record stage %s: %w", stage, err)
	}
	return st, nil
}

func (l *Ledger) StageCompleted(ctx context.Context, stageID uuid.UUID, batches, created, matched int) error {
	now := time.Now().UTC()
	return l.updateStage(ctx, stageID, map[string]interface{}{
		"status":      runs.StageStatusComplete,
		"batches":     batches,
		"created":     created,
		"matched":     matched,
		"finished_at": now,
		"updated_at":  now,
	})
}

// StageFailed marks the stage failed at the given batch. detail, when
// non-nil, is serialized into the stage's detail column (for example the
// missing endpoint keys behind a referential failure).
func (l *Ledger) StageFailed(ctx context.Context, stageID uuid.UUID, batch int, cause error, detail any) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":       runs.StageStatusFailed,
		"failed_batch": batch,
		"error":        cause.Error(),
		"finished_at":  now,
		"updated_at":   now,
	}
	if detail != nil {
		payload, err := json.Marshal(detail)
		if err != nil {
			l.log.Warn("stage failure detail not serializable", "error", err)
		} else {
			updates["detail"] = datatypes.JSON(payload)
		}
	}
	return l.updateStage(ctx, stageID, updates)
}

// StageSkipped records a stage carried over from an earlier failed run.
func (l *Ledger) StageSkipped(ctx context.Context, runID uuid.UUID, stage string) error {
	now := time.Now().UTC()
	st := &runs.IngestStage{
		ID:         uuid.New(),
		RunID:      runID,
		Stage:      stage,
		Status:     runs.StageStatusSkipped,
		StartedAt:  now,
		FinishedAt: &now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := l.db.WithContext(ctx).Create(st).Error; err != nil {
		return fmt.Errorf("runstate: record skipped stage %s: %w", stage, err)
	}
	return nil
}

func (l *Ledger) RunCompleted(ctx context.Context, runID uuid.UUID, report any) error {
	payload, err := json.Marshal(report)
	if err != nil {
		l.log.Warn("run report not serializable", "error", err)
		payload = nil
	}
	now := time.Now().UTC()
	return l.updateRun(ctx, runID, map[string]interface{}{
		"status":      runs.RunStatusComplete,
		"report":      datatypes.JSON(payload),
		"finished_at": now,
		"updated_at":  now,
	})
}

func (l *Ledger) RunFailed(ctx context.Context, runID uuid.UUID, stage string, cause error) error {
	now := time.Now().UTC()
	return l.updateRun(ctx, runID, map[string]interface{}{
		"status":      runs.RunStatusFailed,
		"stage":       stage,
		"error":       cause.Error(),
		"finished_at": now,
		"updated_at":  now,
	})
}

// ResumableStages returns the stages a new run may skip: the completed or
// skipped stages of the most recent run for the dataset, provided that run
// failed. A dataset whose latest run completed has nothing to resume.
func (l *Ledger) ResumableStages(ctx context.Context, dataset string) (map[string]bool, error) {
	var last runs.IngestRun
	err := l.db.WithContext(ctx).
		Where("dataset = ?", dataset).
		Order("started_at DESC").
		First(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("runstate: load last run: %w", err)
	}
	if last.Status != runs.RunStatusFailed {
		return map[string]bool{}, nil
	}

	var stages []runs.IngestStage
	if err := l.db.WithContext(ctx).
		Where("run_id = ? AND status IN ?", last.ID, []string{runs.StageStatusComplete, runs.StageStatusSkipped}).
		Find(&stages).Error; err != nil {
		return nil, fmt.Errorf("runstate: load stages: %w", err)
	}
	done := make(map[string]bool, len(stages))
	for _, st := range stages {
		done[st.Stage] = true
	}
	return done, nil
}

func (l *Ledger) updateRun(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	err := l.db.WithContext(ctx).
		Model(&runs.IngestRun{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("runstate: update run: %w", err)
	}
	return nil
}

func (l *Ledger) updateStage(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	err := l.db.WithContext(ctx).
		Model(&runs.IngestStage{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("runstate: update stage: %w", err)
	}
	return nil
}
