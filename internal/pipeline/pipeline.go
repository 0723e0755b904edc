package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/product-fusion/internal/attribute"
	"github.com/sells-group/product-fusion/internal/config"
	"github.com/sells-group/product-fusion/internal/model"
	"github.com/sells-group/product-fusion/internal/price"
	"github.com/sells-group/product-fusion/internal/resilience"
	"github.com/sells-group/product-fusion/internal/store"
	"github.com/sells-group/product-fusion/internal/vertical"
)

// Pipeline runs one fusion batch end to end: run bookkeeping, Stage A/B/C,
// provenance, persistence and reporting. Run is not safe for concurrent use.
type Pipeline struct {
	cfg      *config.Config
	vertical *vertical.Config
	store    store.Store
	fuser    *Fuser
	retry    resilience.RetryConfig
	now      func() time.Time
}

// Result is the outcome of a pipeline run.
type Result struct {
	RunID      string
	Batch      *Batch
	Provenance []model.FieldProvenance
	Summary    model.RunResult
	Report     string
}

// New creates a Pipeline for one vertical. A nil registry uses the
// built-in attribute parsers.
func New(cfg *config.Config, vc *vertical.Config, st store.Store, registry *attribute.Registry) (*Pipeline, error) {
	fuser, err := NewFuser(vc, registry, SettingsFromConfig(cfg))
	if err != nil {
		return nil, err
	}
	retry := resilience.FromConfig(cfg.Retry)
	return &Pipeline{
		cfg:      cfg,
		vertical: vc,
		store:    st,
		fuser:    fuser,
		retry:    retry,
		now:      time.Now,
	}, nil
}

// SettingsFromConfig extracts the fusion settings of cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Workers:      cfg.Batch.Workers,
		CanonicalMax: cfg.Fusion.CanonicalMax,
		WorstLimit:   cfg.Fusion.WorstLimit,
		BestLimit:    cfg.Fusion.BestLimit,
		Price: price.Settings{
			ValidityDays:      cfg.Fusion.PriceValidityDays,
			CompensationShare: cfg.Fusion.CompensationShare,
			DefaultPercent:    cfg.Fusion.DefaultCompensationPercent,
		},
	}
}

// SetClock overrides the reference instant of the price validity window.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// Run fuses observations and persists the resulting records, cardinalities
// and dead letters. Contained failures never fail the run; only store
// errors and cancellation before Stage A do.
func (p *Pipeline) Run(ctx context.Context, observations []model.Observation) (*Result, error) {
	log := zap.L().With(zap.String("vertical", p.vertical.ID), zap.Int("observations", len(observations)))
	log.Info("pipeline: starting run")

	run, err := p.store.CreateRun(ctx, p.vertical.ID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	log = log.With(zap.String("run_id", run.ID))

	setStatus := func(status model.RunStatus) {
		if statusErr := p.store.UpdateRunStatus(ctx, run.ID, status); statusErr != nil {
			log.Warn("pipeline: failed to update status", zap.Error(statusErr))
		}
	}
	fail := func(cause error) error {
		summary := &model.RunResult{Observations: len(observations), Error: cause.Error()}
		if err := p.store.UpdateRunResult(ctx, run.ID, model.RunStatusFailed, summary); err != nil {
			log.Warn("pipeline: failed to record failure", zap.Error(err))
		}
		return cause
	}

	p.fuser.OnStage = func(stage string) {
		switch stage {
		case model.StageIngest:
			setStatus(model.RunStatusIngesting)
		case model.StageRelativize:
			setStatus(model.RunStatusRelativized)
		case model.StageCompose:
			setStatus(model.RunStatusComposing)
		}
	}
	batch, err := p.fuser.Fuse(ctx, run.ID, observations, p.now())
	if err != nil {
		return nil, fail(err)
	}

	result := &Result{RunID: run.ID, Batch: batch}
	for _, rec := range batch.Records {
		previous, err := p.store.GetRecord(ctx, rec.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Warn("pipeline: failed to load previous record", zap.String("product_id", rec.ID), zap.Error(err))
		}
		result.Provenance = append(result.Provenance, BuildProvenance(run.ID, rec, previous)...)
	}

	start := time.Now()
	if err := p.persist(ctx, run.ID, batch); err != nil {
		batch.Phases = append(batch.Phases, model.PhaseResult{
			Name:     "persist",
			Status:   model.PhaseStatusFailed,
			Duration: time.Since(start).Milliseconds(),
			Error:    err.Error(),
		})
		return nil, fail(err)
	}
	batch.Phases = append(batch.Phases, phase("persist", start, nil))

	changed := CountChanged(result.Provenance)
	result.Report = FormatReport(run.ID, p.vertical.ID, len(observations), batch, changed)
	result.Summary = Summarize(len(observations), batch)
	result.Summary.Report = result.Report

	if err := p.store.UpdateRunResult(ctx, run.ID, model.RunStatusComplete, &result.Summary); err != nil {
		return nil, eris.Wrap(err, "pipeline: update run result")
	}

	log.Info("pipeline: run complete",
		zap.Int("records", result.Summary.Records),
		zap.Int("rejections", result.Summary.Rejections),
		zap.Int("dead_lettered", result.Summary.DeadLettered),
		zap.Int("changed_fields", changed),
	)
	return result, nil
}

func (p *Pipeline) persist(ctx context.Context, runID string, batch *Batch) error {
	cfg := p.retry
	cfg.OnRetry = resilience.RetryLogger("save_records")
	if err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		return p.store.SaveRecords(ctx, runID, batch.Records)
	}); err != nil {
		return eris.Wrap(err, "pipeline: save records")
	}

	cfg.OnRetry = resilience.RetryLogger("save_cardinalities")
	if err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		return p.store.SaveCardinalities(ctx, runID, batch.Cardinalities)
	}); err != nil {
		return eris.Wrap(err, "pipeline: save cardinalities")
	}

	cfg.OnRetry = resilience.RetryLogger("enqueue_dlq")
	if err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		return p.store.EnqueueDLQ(ctx, batch.DeadLetters)
	}); err != nil {
		return eris.Wrap(err, "pipeline: enqueue dlq")
	}
	return nil
}

// Summarize counts the outcome of a batch.
func Summarize(observations int, batch *Batch) model.RunResult {
	summary := model.RunResult{
		Observations: observations,
		Records:      len(batch.Records),
		DeadLettered: len(batch.DeadLetters),
		Phases:       batch.Phases,
	}
	for _, rec := range batch.Records {
		summary.Rejections += len(rec.Rejections)
		if rec.Excluded {
			summary.Excluded++
		}
	}
	return summary
}
