package attribute

import (
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/product-fusion/internal/model"
	"github.com/sells-group/product-fusion/internal/vertical"
)

// Resolver folds raw attributes into a record and elects their values.
type Resolver struct {
	cfg      *vertical.Config
	registry *Registry
}

// NewResolver creates a resolver over a vertical config. A nil registry
// uses the built-in parsers.
func NewResolver(cfg *vertical.Config, registry *Registry) *Resolver {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Resolver{cfg: cfg, registry: registry}
}

// Apply parses every attribute of obs and records the successful ones as
// contributions. Rejected values are appended to the record's rejections.
func (r *Resolver) Apply(rec *model.CanonicalRecord, obs model.Observation) {
	for _, a := range obs.Attributes {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			continue
		}

		rule, ok := r.cfg.Lookup(obs.Source, name)
		if !ok {
			r.unmapped(rec, obs, a)
			continue
		}
		if r.cfg.IsFeaturedValue(a.Value) {
			rec.AddFeature(rule.Key)
		}

		parsed, err := Process(rule, r.registry, obs.Source, a.Value)
		if err != nil && IsConfigError(err) {
			zap.L().Warn("attribute: parser misconfigured, keeping value unmapped",
				zap.String("attribute", rule.Key),
				zap.String("parser", rule.Parser.Name),
				zap.Error(err),
			)
			rec.Reject(model.StageIngest, err)
			r.unmapped(rec, obs, a)
			continue
		}

		agg, ok := rec.Attributes[rule.Key]
		if !ok {
			agg = &model.AggregatedAttribute{Name: rule.Key, Type: rule.Type}
			rec.Attributes[rule.Key] = agg
		}
		if err != nil {
			zap.L().Debug("attribute: value rejected",
				zap.String("product_id", rec.ID),
				zap.String("source", obs.Source),
				zap.Error(err),
			)
			rec.Reject(model.StageIngest, err)
			continue
		}

		agg.AddSource(model.SourcedValue{
			Source:      obs.Source,
			Value:       parsed.Value,
			Raw:         a.Value,
			Referentiel: r.cfg.IsReferentiel(obs.Source),
			Timestamp:   obs.Timestamp,
		})
	}
}

func (r *Resolver) unmapped(rec *model.CanonicalRecord, obs model.Observation, a model.RawAttribute) {
	key := strings.ToUpper(strings.TrimSpace(a.Name))
	if r.cfg.IsExcluded(key) {
		return
	}
	if r.cfg.IsFeaturedValue(a.Value) {
		rec.AddFeature(key)
	}
	value := strings.TrimSpace(a.Value)
	if value == "" {
		return
	}
	agg, ok := rec.Unmapped[key]
	if !ok {
		agg = &model.AggregatedAttribute{Name: key, Type: model.AttributeText}
		rec.Unmapped[key] = agg
	}
	agg.AddSource(model.SourcedValue{
		Source:      obs.Source,
		Value:       value,
		Raw:         a.Value,
		Referentiel: r.cfg.IsReferentiel(obs.Source),
		Timestamp:   obs.Timestamp,
	})
}

// Seal elects every attribute of rec. Attributes without an eligible
// contribution are removed and reported as insufficient data. Records
// missing a mandatory attribute are flagged as excluded.
func (r *Resolver) Seal(rec *model.CanonicalRecord) {
	for _, name := range sortedKeys(rec.Attributes) {
		if err := Elect(rec.Attributes[name]); err != nil {
			delete(rec.Attributes, name)
			rec.Reject(model.StageIngest, err)
		}
	}
	for _, name := range sortedKeys(rec.Unmapped) {
		if err := Elect(rec.Unmapped[name]); err != nil {
			delete(rec.Unmapped, name)
		}
	}

	rec.MissingFields = r.cfg.MissingMandatory(rec.Attributes)
	rec.Excluded = len(rec.MissingFields) > 0
}

// ScoreSource is the source name given to attribute-derived scores.
const ScoreSource = "attributes"

// DerivedScores converts elected attributes whose rule sets as_score into
// raw scores. Text values go through the rule's numeric mapping.
func (r *Resolver) DerivedScores(rec *model.CanonicalRecord) ([]model.RawScore, []error) {
	var scores []model.RawScore
	var errs []error
	for _, name := range sortedKeys(rec.Attributes) {
		rule, ok := r.cfg.Rule(name)
		if !ok || !rule.AsScore {
			continue
		}
		agg := rec.Attributes[name]

		var v float64
		switch {
		case len(rule.NumericMapping) > 0:
			mv, ok := rule.NumericMapping[agg.Value]
			if !ok {
				mv, ok = rule.NumericMapping[strings.ToUpper(agg.Value)]
			}
			if !ok {
				errs = append(errs, model.Reject(model.ErrorParse, name, "", "no numeric mapping for "+agg.Value))
				continue
			}
			v = mv
		case agg.NumericValue != nil:
			v = *agg.NumericValue
		default:
			errs = append(errs, model.Reject(model.ErrorParse, name, "", "value is not numeric"))
			continue
		}

		lo, hi, err := r.bounds(rule)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		scores = append(scores, model.RawScore{
			Name:   name,
			Value:  model.Float(v),
			Min:    lo,
			Max:    hi,
			Voters: int64(agg.SourceCount),
		})
	}
	return scores, errs
}

func (r *Resolver) bounds(rule *vertical.AttributeRule) (float64, float64, error) {
	if b, ok := r.cfg.ScoreBounds(rule.Key); ok {
		return b.Min, b.Max, nil
	}
	if len(rule.NumericMapping) == 0 {
		re := model.Reject(model.ErrorConfig, rule.Key, "", "as_score attribute has no score bounds")
		re.Err = eris.New("attribute: missing bounds")
		return 0, 0, re
	}
	first := true
	var lo, hi float64
	for _, v := range rule.NumericMapping {
		if first {
			lo, hi, first = v, v, false
			continue
		}
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return lo, hi, nil
}

func sortedKeys(m map[string]*model.AggregatedAttribute) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
