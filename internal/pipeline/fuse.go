package pipeline

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/product-fusion/internal/attribute"
	"github.com/sells-group/product-fusion/internal/cardinality"
	"github.com/sells-group/product-fusion/internal/composite"
	"github.com/sells-group/product-fusion/internal/model"
	"github.com/sells-group/product-fusion/internal/price"
	"github.com/sells-group/product-fusion/internal/referentiel"
	"github.com/sells-group/product-fusion/internal/resilience"
	"github.com/sells-group/product-fusion/internal/score"
	"github.com/sells-group/product-fusion/internal/taxonomy"
	"github.com/sells-group/product-fusion/internal/vertical"
)

// Settings holds the batch parameters of the fusion engine.
type Settings struct {
	Workers      int
	CanonicalMax float64
	WorstLimit   int
	BestLimit    int
	Price        price.Settings
}

// Batch is the in-memory outcome of fusing one set of observations.
type Batch struct {
	Records       []*model.CanonicalRecord
	DeadLetters   []resilience.DLQEntry
	Cardinalities map[string]model.Cardinality
	Phases        []model.PhaseResult
}

// Fuser runs Stage A, B and C over a batch of observations. It performs no
// I/O; persistence is the caller's concern.
type Fuser struct {
	settings Settings
	vertical *vertical.Config

	resolver    *attribute.Resolver
	reconciler  *referentiel.Reconciler
	ingester    *score.Ingester
	classifier  *taxonomy.Classifier
	relativizer *score.Relativizer
	composer    *composite.Composer

	// OnStage, when set, is called as each stage starts.
	OnStage func(stage string)
}

// NewFuser wires the fusion components for vc. It fails when the composite
// definitions of vc do not form a DAG.
func NewFuser(vc *vertical.Config, registry *attribute.Registry, settings Settings) (*Fuser, error) {
	if settings.Workers <= 0 {
		settings.Workers = 1
	}
	if settings.CanonicalMax <= 0 {
		settings.CanonicalMax = 5
	}
	if registry == nil {
		registry = attribute.DefaultRegistry()
	}

	composer, err := composite.NewComposer(vc.Composites, settings.CanonicalMax)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: build composer")
	}

	return &Fuser{
		settings:    settings,
		vertical:    vc,
		resolver:    attribute.NewResolver(vc, registry),
		reconciler:  referentiel.NewReconciler(referentiel.NewBrandNormalizer(vc.Brands)),
		ingester:    score.NewIngester(vc, settings.CanonicalMax),
		classifier:  taxonomy.NewClassifier(vc),
		relativizer: score.NewRelativizer(settings.CanonicalMax),
		composer:    composer,
	}, nil
}

// Fuse folds observations into canonical records. now is the reference
// instant of the price validity window.
//
// Observations without product identity and records whose fold panicked are
// dead-lettered; every other failure stays attached to its record. Context
// cancellation is only honored before Stage A starts.
func (f *Fuser) Fuse(ctx context.Context, runID string, observations []model.Observation, now time.Time) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "pipeline: fuse cancelled")
	}

	batch := &Batch{}
	tracker := cardinality.New()
	defer tracker.Close()
	log := zap.L().With(zap.String("run_id", runID))

	groups, orphans := groupObservations(observations)
	for _, o := range orphans {
		err := &model.RejectionError{
			Field:    "product_id",
			Source:   o.Source,
			Category: model.ErrorFatal,
			Reason:   fmt.Sprintf("observation #%d from %q at %s", o.Seq, o.Source, o.Timestamp.Format(time.RFC3339)),
			Err:      model.ErrNoIdentity,
		}
		log.Warn("pipeline: observation without identity", zap.String("source", o.Source), zap.Int64("seq", o.Seq))
		batch.DeadLetters = append(batch.DeadLetters, resilience.NewDLQEntry(runID, "", model.StageIngest, err, []model.Observation{o}))
	}

	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	// Stage A
	f.stage(model.StageIngest)
	consolidator := price.NewConsolidator(f.vertical, f.settings.Price, now)
	start := time.Now()
	sealed := make([]*model.CanonicalRecord, len(ids))
	var dlqMu sync.Mutex

	var g errgroup.Group
	g.SetLimit(f.settings.Workers)
	for idx, id := range ids {
		g.Go(func() error {
			rec, err := f.fold(id, groups[id], consolidator, tracker)
			if err != nil {
				log.Error("pipeline: record dead-lettered", zap.String("product_id", id), zap.Error(err))
				dlqMu.Lock()
				batch.DeadLetters = append(batch.DeadLetters, resilience.NewDLQEntry(runID, id, model.StageIngest, err, groups[id]))
				dlqMu.Unlock()
				return nil
			}
			sealed[idx] = rec
			return nil
		})
	}
	_ = g.Wait()

	for _, rec := range sealed {
		if rec != nil {
			batch.Records = append(batch.Records, rec)
		}
	}
	slices.SortFunc(batch.DeadLetters, func(a, b resilience.DLQEntry) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	batch.Phases = append(batch.Phases, phase(model.StageIngest, start, map[string]any{
		"observations":  len(observations),
		"records":       len(batch.Records),
		"dead_lettered": len(batch.DeadLetters),
		"cardinalities": tracker.Len(),
	}))

	// Stage B
	f.stage(model.StageRelativize)
	start = time.Now()
	f.parallel(batch.Records, func(rec *model.CanonicalRecord) {
		f.relativizer.Record(rec, tracker)
	})
	batch.Phases = append(batch.Phases, phase(model.StageRelativize, start, nil))

	// Stage C
	f.stage(model.StageCompose)
	start = time.Now()
	// Each layer relativizes against its own statistics; excluded records
	// get composites but never feed them.
	composites := make(map[string]model.Cardinality)
	for i := 0; i < f.composer.Layers(); i++ {
		layer := cardinality.New()
		f.parallel(batch.Records, func(rec *model.CanonicalRecord) {
			t := layer
			if rec.Excluded {
				t = nil
			}
			f.composer.Compose(rec, i, t)
		})
		if f.composer.Normalized(i) {
			f.parallel(batch.Records, func(rec *model.CanonicalRecord) {
				f.composer.Normalize(rec, i, layer)
			})
		}
		maps.Copy(composites, layer.All())
		layer.Close()
	}
	batch.Phases = append(batch.Phases, phase(model.StageCompose, start, map[string]any{
		"layers": f.composer.Layers(),
	}))

	f.stage(model.StageRank)
	start = time.Now()
	score.Rank(batch.Records, f.settings.WorstLimit, f.settings.BestLimit)
	batch.Phases = append(batch.Phases, phase(model.StageRank, start, nil))

	batch.Cardinalities = tracker.All()
	maps.Copy(batch.Cardinalities, composites)
	return batch, nil
}

// fold applies every observation of one product, in canonical order, and
// seals the record. A panic in any component is returned as a fatal error.
func (f *Fuser) fold(id string, observations []model.Observation, consolidator *price.Consolidator, tracker *cardinality.Tracker) (rec *model.CanonicalRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec = nil
			err = &model.RejectionError{
				Field:    "record",
				Category: model.ErrorFatal,
				Reason:   fmt.Sprintf("panic: %v", r),
			}
			zap.L().Debug("pipeline: fold panic", zap.String("product_id", id), zap.ByteString("stack", debug.Stack()))
		}
	}()

	rec = model.NewCanonicalRecord(id)
	var ratings []float64
	for _, obs := range observations {
		rec.Touch(obs.Source, obs.Timestamp)
		f.reconciler.Apply(rec, obs)
		f.resolver.Apply(rec, obs)
		if err := consolidator.Apply(rec, obs); err != nil {
			zap.L().Debug("pipeline: offer rejected", zap.String("product_id", id), zap.Error(err))
		}
		f.ingester.Apply(rec, obs)
		f.classifier.Apply(rec, obs)
		for _, res := range obs.Resources {
			rec.AddResource(res)
		}
		for _, c := range obs.Comments {
			if c.Rating != nil {
				ratings = append(ratings, *c.Rating)
			}
		}
	}

	// Seal
	f.resolver.Seal(rec)
	derived, errs := f.resolver.DerivedScores(rec)
	for _, e := range errs {
		rec.Reject(model.StageIngest, e)
	}
	for _, rs := range derived {
		if err := f.ingester.Add(rec, attribute.ScoreSource, rs); err != nil {
			rec.Reject(model.StageIngest, err)
		}
	}

	f.classifier.Classify(rec)

	// Excluded records keep their raw scores but stay out of the batch
	// statistics.
	if rec.Excluded {
		tracker = cardinality.New()
	}
	f.ingester.AddComments(rec, ratings, tracker)
	score.Seal(rec, tracker)
	return rec, nil
}

func (f *Fuser) stage(name string) {
	if f.OnStage != nil {
		f.OnStage(name)
	}
}

// parallel runs fn over every record with the configured worker limit and
// returns once all calls completed.
func (f *Fuser) parallel(records []*model.CanonicalRecord, fn func(*model.CanonicalRecord)) {
	var g errgroup.Group
	g.SetLimit(f.settings.Workers)
	for _, rec := range records {
		g.Go(func() error {
			fn(rec)
			return nil
		})
	}
	_ = g.Wait()
}

// groupObservations buckets observations by product id and sorts each bucket
// by timestamp, source, then arrival sequence.
func groupObservations(observations []model.Observation) (map[string][]model.Observation, []model.Observation) {
	groups := make(map[string][]model.Observation)
	var orphans []model.Observation
	for i, o := range observations {
		if o.Seq == 0 {
			o.Seq = int64(i + 1)
		}
		if !o.HasIdentity() {
			orphans = append(orphans, o)
			continue
		}
		id := strings.TrimSpace(o.ProductID)
		groups[id] = append(groups[id], o)
	}
	for _, obs := range groups {
		slices.SortStableFunc(obs, compareObservations)
	}
	return groups, orphans
}

func compareObservations(a, b model.Observation) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	if c := strings.Compare(a.Source, b.Source); c != 0 {
		return c
	}
	return cmp.Compare(a.Seq, b.Seq)
}

func phase(name string, start time.Time, metadata map[string]any) model.PhaseResult {
	duration := time.Since(start).Milliseconds()
	zap.L().Info("pipeline: phase complete",
		zap.String("phase", name),
		zap.Int64("duration_ms", duration),
	)
	return model.PhaseResult{
		Name:     name,
		Status:   model.PhaseStatusComplete,
		Duration: duration,
		Metadata: metadata,
	}
}
