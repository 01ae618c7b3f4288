package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"taskpilot/internal/action"
	"taskpilot/internal/cache"
	"taskpilot/internal/conversation"
	"taskpilot/internal/embedding"
	"taskpilot/internal/entities"
	"taskpilot/internal/generator"
	"taskpilot/internal/indexer"
	"taskpilot/internal/persistence/databases"
	"taskpilot/internal/resolver"
	"taskpilot/internal/search"
	"taskpilot/internal/testhelpers"
)

type fakeVectorStore struct {
	searchHits []databases.SearchHit
	scrollHits []databases.ScrollHit
}

func (f *fakeVectorStore) CreateCollection(ctx context.Context, dim int) error { return nil }
func (f *fakeVectorStore) EnsurePayloadIndices(ctx context.Context, idx []databases.PayloadIndex) error {
	return nil
}
func (f *fakeVectorStore) Upsert(ctx context.Context, points []databases.Point) error { return nil }
func (f *fakeVectorStore) Search(ctx context.Context, vector []float32, k int, filter databases.Filter) ([]databases.SearchHit, error) {
	return f.searchHits, nil
}
func (f *fakeVectorStore) Scroll(ctx context.Context, filter databases.Filter, k int) ([]databases.ScrollHit, error) {
	return f.scrollHits, nil
}
func (f *fakeVectorStore) Delete(ctx context.Context, id uint64) error { return nil }
func (f *fakeVectorStore) DeleteCollection(ctx context.Context) error { return nil }
func (f *fakeVectorStore) GetCollectionInfo(ctx context.Context) (databases.CollectionInfo, error) {
	return databases.CollectionInfo{}, nil
}
func (f *fakeVectorStore) Close() error { return nil }

func newOrchestrator(t *testing.T, provider *testhelpers.FakeProvider, store *fakeVectorStore) *Orchestrator {
	t.Helper()
	crudSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(crudSrv.Close)

	registry := entities.NewRegistry(crudSrv.URL, crudSrv.Client())
	res := resolver.New(registry)
	embedder := embedding.New(provider, cache.New(nil, "t"), "m", 3)
	searcher := search.New(store, embedder, nil)
	ix := indexer.New(store, embedder, registry)
	gen := generator.New(provider)
	exec := action.New(searcher, res, registry, ix, provider, gen, "")
	conv := conversation.New(databases.NewMemoryChatStore(), nil, provider)
	respCache := cache.New(nil, "pipeline-test")

	return New(conv, searcher, exec, gen, provider, respCache, false)
}

func TestProcessQuickIntentGreeting(t *testing.T) {
	provider := &testhelpers.FakeProvider{Resp: "ignored", Embedding: []float32{0.1, 0.2, 0.3}}
	o := newOrchestrator(t, provider, &fakeVectorStore{})

	resp := o.Process(context.Background(), Request{Query: "hello there"})
	if resp.Metadata.QueryClassification != "greeting" {
		t.Fatalf("got classification %q, want greeting", resp.Metadata.QueryClassification)
	}
	if resp.Confidence != 1.0 {
		t.Fatalf("got confidence %v, want 1.0", resp.Confidence)
	}
	if len(resp.Sources) != 0 {
		t.Fatalf("expected no sources for quick intent, got %+v", resp.Sources)
	}
}

func TestProcessCachesResponseAcrossCalls(t *testing.T) {
	provider := &testhelpers.FakeProvider{Resp: "Here is what I found.", Embedding: []float32{0.1, 0.2, 0.3}}
	store := &fakeVectorStore{
		searchHits: []databases.SearchHit{{ID: 1, Score: 0.5, Payload: map[string]any{"entity_type": "task", "entity_id": "t1", "text": "write the quarterly report"}}},
	}
	o := newOrchestrator(t, provider, store)

	req := Request{Query: "what tasks are assigned to the team this quarter"}
	first := o.Process(context.Background(), req)
	if first.Metadata.FromCache {
		t.Fatalf("expected first call to be a cache miss")
	}

	second := o.Process(context.Background(), req)
	if !second.Metadata.FromCache {
		t.Fatalf("expected second identical call to be a cache hit")
	}
	if second.Answer != first.Answer {
		t.Fatalf("cached answer mismatch: %q vs %q", second.Answer, first.Answer)
	}
}

func TestProcessRetrievalBranchGroundsAndScoresConfidence(t *testing.T) {
	provider := &testhelpers.FakeProvider{Resp: "write the quarterly report", Embedding: []float32{0.1, 0.2, 0.3}}
	store := &fakeVectorStore{
		searchHits: []databases.SearchHit{{ID: 1, Score: 0.9, Payload: map[string]any{"entity_type": "task", "entity_id": "t1", "text": "write the quarterly report"}}},
	}
	o := newOrchestrator(t, provider, store)

	resp := o.Process(context.Background(), Request{Query: "what is the status of the quarterly report task please"})
	if resp.Confidence <= 0 {
		t.Fatalf("expected positive confidence, got %v", resp.Confidence)
	}
	if len(resp.Sources) == 0 {
		t.Fatalf("expected sources to be populated")
	}
}

func TestProcessStreamEmitsStartAndComplete(t *testing.T) {
	provider := &testhelpers.FakeProvider{StreamDeltas: []string{"writing ", "the ", "report"}, Embedding: []float32{0.1, 0.2, 0.3}}
	store := &fakeVectorStore{
		searchHits: []databases.SearchHit{{ID: 1, Score: 0.5, Payload: map[string]any{"entity_type": "task", "entity_id": "t1", "text": "write the quarterly report"}}},
	}
	o := newOrchestrator(t, provider, store)

	var events []Event
	o.ProcessStream(context.Background(), Request{Query: "what is the status of the quarterly report please"}, func(e Event) {
		events = append(events, e)
	})

	if len(events) == 0 || events[0].Type != EventStart {
		t.Fatalf("expected first event to be start, got %+v", events)
	}
	if events[len(events)-1].Type != EventComplete {
		t.Fatalf("expected last event to be complete, got %+v", events)
	}
}
