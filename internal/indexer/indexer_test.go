package indexer

import (
	"context"
	"testing"

	"taskpilot/internal/cache"
	"taskpilot/internal/embedding"
	"taskpilot/internal/entities"
	"taskpilot/internal/persistence/databases"
	"taskpilot/internal/testhelpers"
	"taskpilot/internal/transform"
)

// fakeVectorStore records upserted points keyed by their point id, so tests
// can assert the one-document-per-key invariant (I2) the way a real Qdrant
// collection would enforce it: Upsert overwrites, never appends.
type fakeVectorStore struct {
	points map[uint64]databases.Point
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{points: map[uint64]databases.Point{}}
}

func (f *fakeVectorStore) CreateCollection(ctx context.Context, dim int) error { return nil }
func (f *fakeVectorStore) EnsurePayloadIndices(ctx context.Context, idx []databases.PayloadIndex) error {
	return nil
}
func (f *fakeVectorStore) Upsert(ctx context.Context, points []databases.Point) error {
	for _, p := range points {
		f.points[p.ID] = p
	}
	return nil
}
func (f *fakeVectorStore) Search(ctx context.Context, vector []float32, k int, filter databases.Filter) ([]databases.SearchHit, error) {
	return nil, nil
}
func (f *fakeVectorStore) Scroll(ctx context.Context, filter databases.Filter, k int) ([]databases.ScrollHit, error) {
	return nil, nil
}
func (f *fakeVectorStore) Delete(ctx context.Context, id uint64) error {
	delete(f.points, id)
	return nil
}
func (f *fakeVectorStore) DeleteCollection(ctx context.Context) error { return nil }
func (f *fakeVectorStore) GetCollectionInfo(ctx context.Context) (databases.CollectionInfo, error) {
	return databases.CollectionInfo{}, nil
}
func (f *fakeVectorStore) Close() error { return nil }

// TestPointIDDeterministic covers P1: the same (kind, id) pair always
// derives the same point id, and distinct pairs derive distinct ids.
func TestPointIDDeterministic(t *testing.T) {
	first := PointID("task", "t1")
	second := PointID("task", "t1")
	if first != second {
		t.Fatalf("PointID not deterministic: %d != %d", first, second)
	}

	other := PointID("task", "t2")
	if first == other {
		t.Fatalf("PointID collided for distinct ids: %d", first)
	}

	crossKind := PointID("user", "t1")
	if first == crossKind {
		t.Fatalf("PointID collided across kinds: %d", first)
	}
}

func newTestIndexer(store databases.VectorStore) *Indexer {
	provider := &testhelpers.FakeProvider{Embedding: []float32{0.1, 0.2, 0.3}}
	embedder := embedding.New(provider, cache.New(nil, "t"), "m", 3)
	registry := entities.NewRegistry("http://unused.invalid", nil)
	return New(store, embedder, registry)
}

// TestUpsertOneDocumentPerKey covers I2: re-indexing the same (kind, id)
// overwrites the existing point rather than producing a second one.
func TestUpsertOneDocumentPerKey(t *testing.T) {
	store := newFakeVectorStore()
	ix := newTestIndexer(store)

	doc1 := transform.Document{Text: "Database Optimization, status in_progress"}
	if err := ix.upsert(context.Background(), "task", "k1", doc1, map[string]string{"assigned_to": "u1"}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if len(store.points) != 1 {
		t.Fatalf("expected 1 point after first upsert, got %d", len(store.points))
	}

	doc2 := transform.Document{Text: "Database Optimization, status done"}
	if err := ix.upsert(context.Background(), "task", "k1", doc2, map[string]string{"assigned_to": "u1"}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if len(store.points) != 1 {
		t.Fatalf("expected 1 point after re-indexing same key, got %d", len(store.points))
	}

	id := PointID("task", "k1")
	pt, ok := store.points[id]
	if !ok {
		t.Fatalf("expected point at deterministic id %d", id)
	}
	if pt.Payload["text"] != doc2.Text {
		t.Fatalf("expected overwritten payload text %q, got %v", doc2.Text, pt.Payload["text"])
	}
	rel, ok := pt.Payload["relationships"].(map[string]any)
	if !ok {
		t.Fatalf("expected relationships payload, got %v", pt.Payload["relationships"])
	}
	if rel["assigned_to"] != "u1" {
		t.Fatalf("expected relationships.assigned_to=u1, got %v", rel["assigned_to"])
	}
	if rel["team_id"] != "" || rel["project_id"] != "" {
		t.Fatalf("expected unset relationship keys to default empty, got %+v", rel)
	}
}
