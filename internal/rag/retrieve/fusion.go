// Package retrieve implements Reciprocal Rank Fusion, the merging
// primitive behind C8's two-level fusion (per-query dense+sparse, then
// across queries). Adapted from the teacher's FuseRRF (same "accumulate
// 1/(k+rank+1) per list, keyed by id, emit sorted desc" shape) but
// generalised from two fixed lists (FTS ∪ vector) to an arbitrary number
// of ranked lists over the spec's RetrievedDoc shape.
package retrieve

import "sort"

// RetrievedDoc mirrors spec §3.4's RetrievedDoc record.
type RetrievedDoc struct {
	ID         string
	Score      float64
	Text       string
	EntityType string
	EntityID   string
	Metadata   map[string]any
}

// DefaultK is §4.8's RRF constant.
const DefaultK = 60

// RRF fuses any number of independently-ranked lists into one, per §4.8:
// for each list and 0-based rank r, add 1/(k+r+1) to the doc's fused score
// keyed by id. The first occurrence of a doc supplies its Text/EntityType/
// EntityID/Metadata; Score is overwritten with the fused value.
func RRF(lists [][]RetrievedDoc, k int) []RetrievedDoc {
	if k <= 0 {
		k = DefaultK
	}
	fused := make(map[string]*RetrievedDoc)
	order := make([]string, 0)
	for _, list := range lists {
		for r, doc := range list {
			contribution := 1.0 / float64(k+r+1)
			existing, ok := fused[doc.ID]
			if !ok {
				copyDoc := doc
				copyDoc.Score = contribution
				fused[doc.ID] = &copyDoc
				order = append(order, doc.ID)
				continue
			}
			existing.Score += contribution
		}
	}
	out := make([]RetrievedDoc, 0, len(order))
	for _, id := range order {
		out = append(out, *fused[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
