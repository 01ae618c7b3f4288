// Package contextproc implements the C9 Context Processor (§4.9): rerank,
// MMR diversification, compression, citation rendering, and final prompt
// context assembly. Grounded on the teacher's Diversify (same iterative
// best-adjusted-score selection loop), rescored with the spec's
// λ·score − (1−λ)·max-Jaccard-similarity formula.
package contextproc

import (
	"fmt"
	"sort"
	"strings"

	"taskpilot/internal/rag/retrieve"
)

// Lambda is the §4.9 MMR trade-off constant.
const Lambda = 0.85

// RerankLimit caps reranked at the top-scored N (§4.9 step 1).
const RerankLimit = 10

// DiverseLimit caps the MMR selection size (§4.9 step 2).
const DiverseLimit = 5

// DefaultMaxTokens is the §4.9 compression default.
const DefaultMaxTokens = 3000

// CitationTextLen is the §4.9 per-citation text truncation length.
const CitationTextLen = 200

// Citation is one rendered source reference (§4.9 step 4).
type Citation struct {
	EntityType string  `json:"entityType"`
	EntityID   string  `json:"entityId"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	Label      string  `json:"citation"`
}

// Result is Process's full output (§4.9).
type Result struct {
	Reranked   []retrieve.RetrievedDoc
	Diverse    []retrieve.RetrievedDoc
	Compressed []retrieve.RetrievedDoc
	Sources    []Citation
	Context    string
}

// Process implements §4.9 end to end. maxTokens<0 selects the default
// (3000); maxTokens==0 is an explicit zero budget and yields no compressed
// docs.
func Process(docs []retrieve.RetrievedDoc, query string, maxTokens int) Result {
	reranked := rerank(docs)

	var diverse []retrieve.RetrievedDoc
	if len(reranked) >= 5 {
		diverse = mmr(reranked, Lambda, DiverseLimit)
	} else {
		diverse = reranked
	}

	compressed := compress(diverse, maxTokens)
	sources := citations(compressed)
	ctx := buildContext(sources)

	return Result{
		Reranked:   reranked,
		Diverse:    diverse,
		Compressed: compressed,
		Sources:    sources,
		Context:    ctx,
	}
}

func rerank(docs []retrieve.RetrievedDoc) []retrieve.RetrievedDoc {
	sorted := append([]retrieve.RetrievedDoc(nil), docs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	if len(sorted) > RerankLimit {
		sorted = sorted[:RerankLimit]
	}
	return sorted
}

// mmr greedily selects up to limit docs maximising λ·score −
// (1−λ)·max_sim_to_selected, starting with the top-scored doc (§4.9 step 2).
func mmr(docs []retrieve.RetrievedDoc, lambda float64, limit int) []retrieve.RetrievedDoc {
	if len(docs) == 0 {
		return nil
	}
	tokenSets := make([]map[string]struct{}, len(docs))
	for i, d := range docs {
		tokenSets[i] = tokenSet(d.Text)
	}

	selected := []int{0}
	remaining := make([]int, 0, len(docs)-1)
	for i := 1; i < len(docs); i++ {
		remaining = append(remaining, i)
	}

	for len(selected) < limit && len(remaining) > 0 {
		bestIdx := -1
		bestScore := 0.0
		bestPos := -1
		for pos, ri := range remaining {
			maxSim := 0.0
			for _, si := range selected {
				sim := jaccard(tokenSets[ri], tokenSets[si])
				if sim > maxSim {
					maxSim = sim
				}
			}
			adjusted := lambda*docs[ri].Score - (1-lambda)*maxSim
			if bestIdx == -1 || adjusted > bestScore {
				bestIdx = ri
				bestScore = adjusted
				bestPos = pos
			}
		}
		selected = append(selected, bestIdx)
		remaining = append(remaining[:bestPos], remaining[bestPos+1:]...)
	}

	out := make([]retrieve.RetrievedDoc, 0, len(selected))
	for _, i := range selected {
		out = append(out, docs[i])
	}
	return out
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		set[tok] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// compress includes docs in order while cumulative text length stays at or
// below 4*maxTokens characters (§4.9 step 3). An explicit maxTokens of 0 yields
// an empty slice; a negative maxTokens selects DefaultMaxTokens.
func compress(docs []retrieve.RetrievedDoc, maxTokens int) []retrieve.RetrievedDoc {
	if maxTokens < 0 {
		maxTokens = DefaultMaxTokens
	}
	if maxTokens == 0 {
		return nil
	}
	budget := 4 * maxTokens
	var out []retrieve.RetrievedDoc
	total := 0
	for _, d := range docs {
		total += len(d.Text)
		if total > budget {
			break
		}
		out = append(out, d)
	}
	return out
}

func citations(docs []retrieve.RetrievedDoc) []Citation {
	out := make([]Citation, 0, len(docs))
	for i, d := range docs {
		text := d.Text
		if len(text) > CitationTextLen {
			text = text[:CitationTextLen] + "..."
		}
		out = append(out, Citation{
			EntityType: d.EntityType,
			EntityID:   d.EntityID,
			Text:       text,
			Score:      d.Score,
			Label:      fmt.Sprintf("[%d]", i+1),
		})
	}
	return out
}

func buildContext(sources []Citation) string {
	var sb strings.Builder
	for i, c := range sources {
		fmt.Fprintf(&sb, "[%d] %s: %s\n\n", i+1, strings.ToUpper(c.EntityType), c.Text)
	}
	return sb.String()
}
