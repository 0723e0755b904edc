package attribute

import (
	"strconv"

	"github.com/sells-group/product-fusion/internal/model"
)

// Vote weights.
const (
	ReferentielVotes = 2
	StandardVotes    = 1
)

type tally struct {
	votes    int
	refVotes int
}

// Elect picks the value of attr with the most votes. A referentiel source
// weighs ReferentielVotes, any other source StandardVotes, and a (source,
// value) pair votes once. Ties go to the value with more referentiel votes,
// then to the lexicographically smallest value, so the outcome does not
// depend on contribution order.
func Elect(attr *model.AggregatedAttribute) error {
	if len(attr.Sources) == 0 {
		re := model.Reject(model.ErrorInsufficientData, attr.Name, "", "no eligible contribution")
		re.Err = model.ErrInsufficientData
		return re
	}

	table := make(map[string]*tally)
	seen := make(map[[2]string]struct{}, len(attr.Sources))
	for _, sv := range attr.Sources {
		k := [2]string{sv.Source, sv.Value}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}

		t, ok := table[sv.Value]
		if !ok {
			t = &tally{}
			table[sv.Value] = t
		}
		if sv.Referentiel {
			t.votes += ReferentielVotes
			t.refVotes += ReferentielVotes
		} else {
			t.votes += StandardVotes
		}
	}

	var best string
	var bt *tally
	for v, t := range table {
		if bt == nil || better(v, t, best, bt) {
			best, bt = v, t
		}
	}

	attr.Value = best
	attr.SourceCount = len(attr.SourceNames())
	attr.HasConflicts = len(table) > 1
	attr.NumericValue = nil
	if attr.Type == model.AttributeNumeric {
		if f, err := strconv.ParseFloat(best, 64); err == nil {
			attr.NumericValue = &f
		}
	}
	return nil
}

func better(v string, t *tally, best string, bt *tally) bool {
	if t.votes != bt.votes {
		return t.votes > bt.votes
	}
	if t.refVotes != bt.refVotes {
		return t.refVotes > bt.refVotes
	}
	return v < best
}
