package score

import (
	"cmp"
	"slices"

	"github.com/sells-group/product-fusion/internal/model"
)

type ranked struct {
	rec   *model.CanonicalRecord
	value float64
}

// Rank orders records by resolved value for every score name. Ranking 0 is
// the lowest value; ties are ordered by record id. The worstLimit lowest
// records get the score in their worst bag and the bestLimit highest in
// their best bag. Excluded records and unresolved scores are not ranked.
func Rank(records []*model.CanonicalRecord, worstLimit, bestLimit int) {
	byName := make(map[string][]ranked)
	for _, rec := range records {
		if rec.Excluded {
			continue
		}
		for name, s := range rec.Scores {
			v, ok := s.Resolved()
			if !ok {
				continue
			}
			byName[name] = append(byName[name], ranked{rec: rec, value: v})
		}
	}

	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	slices.Sort(names)

	for _, name := range names {
		list := byName[name]
		slices.SortFunc(list, func(a, b ranked) int {
			if c := cmp.Compare(a.value, b.value); c != 0 {
				return c
			}
			return cmp.Compare(a.rec.ID, b.rec.ID)
		})

		lowest := list[0].rec.ID
		highest := list[len(list)-1].rec.ID
		for i, r := range list {
			s := r.rec.Scores[name]
			pos := i
			s.Ranking = &pos
			s.LowestID = lowest
			s.HighestID = highest

			if i < worstLimit {
				r.rec.WorstScores = append(r.rec.WorstScores, name)
			}
			if i >= len(list)-bestLimit {
				r.rec.BestScores = append(r.rec.BestScores, name)
			}
		}
	}
}
