// Package search implements the C8 Searcher (§4.8): dense vector search,
// a simplified sparse BM25 scorer over scrolled candidates, and two-level
// Reciprocal Rank Fusion. Grounded on the teacher's fusion primitive
// (internal/rag/retrieve), generalised to a pluggable Scorer per §9's
// resolved open question ("Searcher.BM25Search takes a Scorer parameter").
package search

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"taskpilot/internal/embedding"
	"taskpilot/internal/persistence/databases"
	"taskpilot/internal/rag/retrieve"
)

// K1/B are the §4.8 BM25 constants.
const (
	K1              = 1.2
	B               = 0.75
	scrollCandLimit = 60
	vectorTopK      = 10
	bm25TopK        = 10
)

var tokenSplitRe = regexp.MustCompile(`\s+`)

// Scorer computes a sparse relevance score for query terms against a
// candidate document's text, given avgdl across the candidate pool.
type Scorer interface {
	Score(terms []string, text string, avgdl float64) float64
}

// BM25Scorer is the §4.8 simplified scorer: TF-only, no IDF, normalised by
// query length.
type BM25Scorer struct{}

func (BM25Scorer) Score(terms []string, text string, avgdl float64) float64 {
	lower := strings.ToLower(text)
	dl := float64(len([]rune(lower)))
	var total float64
	for _, term := range terms {
		tf := float64(strings.Count(lower, term))
		if tf == 0 {
			continue
		}
		num := tf * (K1 + 1)
		den := tf + K1*(1-B+B*(dl/avgdl))
		total += num / den
	}
	if len(terms) == 0 {
		return 0
	}
	return total / float64(len(terms))
}

// Searcher is the C8 component.
type Searcher struct {
	store    databases.VectorStore
	embedder *embedding.Client
	scorer   Scorer
}

// New constructs a Searcher. A nil scorer defaults to BM25Scorer{}.
func New(store databases.VectorStore, embedder *embedding.Client, scorer Scorer) *Searcher {
	if scorer == nil {
		scorer = BM25Scorer{}
	}
	return &Searcher{store: store, embedder: embedder, scorer: scorer}
}

// VectorSearch embeds query and searches the store (§4.8).
func (s *Searcher) VectorSearch(ctx context.Context, query string, filter databases.Filter) ([]retrieve.RetrievedDoc, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := s.store.Search(ctx, vec, vectorTopK, filter)
	if err != nil {
		return nil, err
	}
	out := make([]retrieve.RetrievedDoc, 0, len(hits))
	for _, h := range hits {
		out = append(out, docFromPayload(h.Payload, float64(h.Score)))
	}
	return out, nil
}

// tokenize lowercases on whitespace and drops tokens of length <= 2.
func tokenize(query string) []string {
	var out []string
	for _, tok := range tokenSplitRe.Split(strings.ToLower(strings.TrimSpace(query)), -1) {
		if len(tok) > 2 {
			out = append(out, tok)
		}
	}
	return out
}

// BM25Search tokenises query, scrolls up to 60 candidates under filter, and
// scores each with the configured Scorer (§4.8). Returns empty when no
// token survives the length-3 cutoff.
func (s *Searcher) BM25Search(ctx context.Context, query string, filter databases.Filter) ([]retrieve.RetrievedDoc, error) {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}
	candidates, err := s.store.Scroll(ctx, filter, scrollCandLimit)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	avgdl := averageLen(candidates)

	scored := make([]retrieve.RetrievedDoc, 0, len(candidates))
	for _, c := range candidates {
		text, _ := c.Payload["text"].(string)
		score := s.scorer.Score(terms, text, avgdl)
		if score <= 0 {
			continue
		}
		doc := docFromPayload(c.Payload, score)
		scored = append(scored, doc)
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > bm25TopK {
		scored = scored[:bm25TopK]
	}
	return scored, nil
}

func averageLen(hits []databases.ScrollHit) float64 {
	if len(hits) == 0 {
		return 1
	}
	var total float64
	for _, h := range hits {
		text, _ := h.Payload["text"].(string)
		total += float64(len([]rune(strings.ToLower(text))))
	}
	avg := total / float64(len(hits))
	if avg == 0 {
		return 1
	}
	return avg
}

func docFromPayload(payload map[string]any, score float64) retrieve.RetrievedDoc {
	entityType, _ := payload["entity_type"].(string)
	entityID, _ := payload["entity_id"].(string)
	text, _ := payload["text"].(string)
	id := entityType + ":" + entityID
	return retrieve.RetrievedDoc{
		ID:         id,
		Score:      score,
		Text:       text,
		EntityType: entityType,
		EntityID:   entityID,
		Metadata:   payload,
	}
}

// HybridSearch fuses dense and sparse results for each query in parallel,
// then fuses the per-query fused lists into one global ranking (§4.8's
// two-level RRF). Per-query VectorSearch/BM25Search also run in parallel
// (§5).
func (s *Searcher) HybridSearch(ctx context.Context, queries []string, filter databases.Filter) ([]retrieve.RetrievedDoc, error) {
	perQuery := make([][]retrieve.RetrievedDoc, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			var dense, sparse []retrieve.RetrievedDoc
			inner, innerCtx := errgroup.WithContext(gctx)
			inner.Go(func() error {
				d, err := s.VectorSearch(innerCtx, q, filter)
				if err != nil {
					return err
				}
				dense = d
				return nil
			})
			inner.Go(func() error {
				d, err := s.BM25Search(innerCtx, q, filter)
				if err != nil {
					return err
				}
				sparse = d
				return nil
			})
			if err := inner.Wait(); err != nil {
				return err
			}
			perQuery[i] = retrieve.RRF([][]retrieve.RetrievedDoc{dense, sparse}, retrieve.DefaultK)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return retrieve.RRF(perQuery, retrieve.DefaultK), nil
}
