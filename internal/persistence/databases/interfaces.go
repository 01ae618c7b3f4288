// Package databases holds concrete storage backends behind narrow
// interfaces, the same shape the teacher uses for its pluggable stores
// (memory/Postgres chat stores, pgvector/Qdrant vector stores).
package databases

import (
	"context"

	"taskpilot/internal/persistence"
)

// Condition is a single (field, equals value) predicate, §4.2's filter
// language. Value must be a string, bool, float64, or int64.
type Condition struct {
	Field string
	Value any
}

// Filter is the §4.2 filter language: Must is AND'd, Should is OR'd. A
// store that cannot honour both simultaneously must synthesise OR by
// issuing one search per Should value intersected with Must and unioning
// results client-side (§9 resolved open question); QdrantVector does this.
type Filter struct {
	Must   []Condition
	Should []Condition
}

// Empty reports whether the filter carries no predicates at all.
func (f Filter) Empty() bool { return len(f.Must) == 0 && len(f.Should) == 0 }

// Point is one (id, vector, payload) record as stored by VectorStore.
type Point struct {
	ID      uint64
	Vector  []float32
	Payload map[string]any
}

// SearchHit is a Search result: the point id, similarity score, and payload.
type SearchHit struct {
	ID      uint64
	Score   float32
	Payload map[string]any
}

// ScrollHit is a Scroll result: payload only, no vector and no score,
// matching §4.2 ("Scroll(filter?, k) -> [{id, payload}] (no vector returned)").
type ScrollHit struct {
	ID      uint64
	Payload map[string]any
}

// CollectionInfo reports basic collection stats for GetCollectionInfo.
type CollectionInfo struct {
	Name        string
	PointsCount uint64
	VectorSize  int
}

// PayloadIndex names one field that must be indexed at collection creation
// (§4.2's "Required payload indices") and the Qdrant field type it is
// indexed as.
type PayloadIndex struct {
	Field string
	Kind  string // "keyword" | "datetime"
}

// VectorStore is the C2 Vector Store Client contract (§4.2): upsert,
// filtered dense search, payload-only scroll, delete, and collection
// lifecycle with required payload indices and HNSW tuning.
type VectorStore interface {
	CreateCollection(ctx context.Context, dim int) error
	EnsurePayloadIndices(ctx context.Context, indices []PayloadIndex) error
	Upsert(ctx context.Context, points []Point) error
	Search(ctx context.Context, vector []float32, k int, filter Filter) ([]SearchHit, error)
	Scroll(ctx context.Context, filter Filter, k int) ([]ScrollHit, error)
	Delete(ctx context.Context, id uint64) error
	DeleteCollection(ctx context.Context) error
	GetCollectionInfo(ctx context.Context) (CollectionInfo, error)
	Close() error
}

// Manager holds concrete database backends resolved from configuration:
// the vector store behind C2/C5/C8, and the conversation chat store
// behind C6. Both are narrow interfaces so tests can substitute fakes.
type Manager struct {
	Vector VectorStore
	Chat   persistence.ChatStore
}

// Close releases any underlying connections/pools. It's a no-op for
// memory backends.
func (m Manager) Close() {
	if m.Vector != nil {
		_ = m.Vector.Close()
	}
}

// NewMemoryChatStore constructs the in-process chat store used when no
// external persistence is configured (conversation history is ephemeral
// per spec §1 Non-goals regardless).
func NewMemoryChatStore() persistence.ChatStore { return newMemoryChatStore() }
