// Package referentiel merges the identifying fields of a product across
// sources. A canonical value is written once; later conflicting values are
// archived as alternates and never overwrite it.
package referentiel

import (
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/product-fusion/internal/model"
)

// Reconciler applies referentiel values of observations to a record.
type Reconciler struct {
	brands *BrandNormalizer
}

// NewReconciler creates a reconciler using brands for brand normalization.
func NewReconciler(brands *BrandNormalizer) *Reconciler {
	if brands == nil {
		brands = NewBrandNormalizer(nil)
	}
	return &Reconciler{brands: brands}
}

// Apply merges the referentiel values of obs into rec.
func (r *Reconciler) Apply(rec *model.CanonicalRecord, obs model.Observation) {
	keys := make([]model.ReferentielKey, 0, len(obs.Referentiel))
	for k := range obs.Referentiel {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		r.merge(rec, obs, model.ParseReferentielKey(string(k)), obs.Referentiel[k])
	}
}

func (r *Reconciler) merge(rec *model.CanonicalRecord, obs model.Observation, key model.ReferentielKey, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	if key == model.ReferentielBrand {
		value = r.brands.Normalize(value)
	}

	existing, ok := rec.Referentiel[key]
	if !ok || existing == "" {
		rec.Referentiel[key] = value
		return
	}
	if existing == value {
		return
	}

	alt := model.AlternateValue{Key: key, Value: value, Source: obs.Source, Timestamp: obs.Timestamp}
	switch key {
	case model.ReferentielModel:
		rec.AlternateIDs = appendAlternate(rec.AlternateIDs, alt)
	case model.ReferentielBrand:
		rec.AlternateBrands = appendAlternate(rec.AlternateBrands, alt)
	case model.ReferentielGTIN:
		if sameGTIN(existing, value) {
			if len(value) > len(existing) {
				rec.Referentiel[key] = value
			}
			return
		}
		r.reject(rec, obs, key, existing, value)
	default:
		r.reject(rec, obs, key, existing, value)
	}
}

func (r *Reconciler) reject(rec *model.CanonicalRecord, obs model.Observation, key model.ReferentielKey, existing, value string) {
	zap.L().Warn("referentiel: conflicting value ignored",
		zap.String("product_id", rec.ID),
		zap.String("key", string(key)),
		zap.String("existing", existing),
		zap.String("incoming", value),
		zap.String("source", obs.Source),
	)
	rec.Reject(model.StageIngest, model.Reject(model.ErrorParse, string(key), obs.Source,
		"conflicts with "+strconv.Quote(existing)+", got "+strconv.Quote(value)))
}

func appendAlternate(list []model.AlternateValue, alt model.AlternateValue) []model.AlternateValue {
	for _, a := range list {
		if a.Value == alt.Value {
			return list
		}
	}
	return append(list, alt)
}

// sameGTIN reports whether two codes denote the same number, e.g. a UPC-A
// and its zero-padded EAN-13 form.
func sameGTIN(a, b string) bool {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	return errA == nil && errB == nil && na == nb
}
