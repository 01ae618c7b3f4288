package databases

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"taskpilot/internal/observability"
)

// defaultMaxRetries is used when the caller doesn't configure one.
const defaultMaxRetries = 3

// retryBaseDelay is the first backoff delay; it doubles on each attempt.
const retryBaseDelay = 200 * time.Millisecond

// qdrantVector implements the C2 Vector Store Client (§4.2) against Qdrant
// over gRPC, adapted from the teacher's qdrant_vector.go: same client
// construction and DSN parsing, generalised from string-only metadata and
// a single Must-only filter to the richer must/should, typed-payload,
// scroll, and collection-lifecycle contract the spec requires.
type qdrantVector struct {
	client     *qdrant.Client
	collection string
	maxRetries int
}

// NewQdrantVector dials Qdrant's gRPC API (default port 6334). An optional
// API key is passed as a DSN query parameter, e.g.
// "http://localhost:6334?api_key=...". maxRetries <= 0 falls back to
// defaultMaxRetries (§4.2's "network errors are retried up to MaxRetries
// with exponential backoff").
func NewQdrantVector(dsn, collection string, maxRetries int) (VectorStore, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant dsn: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &qdrantVector{client: client, collection: collection, maxRetries: maxRetries}, nil
}

// nonRetryableCode reports whether a gRPC status code represents a
// client-side error analogous to an HTTP 4xx, which §4.2 says must not be
// retried (the caller's request was wrong, retrying won't help).
func nonRetryableCode(code codes.Code) bool {
	switch code {
	case codes.InvalidArgument, codes.NotFound, codes.AlreadyExists,
		codes.PermissionDenied, codes.Unauthenticated, codes.FailedPrecondition:
		return true
	default:
		return false
	}
}

// withRetry runs op up to q.maxRetries+1 times with exponential backoff,
// stopping early on a non-retryable gRPC code or context cancellation.
func (q *qdrantVector) withRetry(ctx context.Context, op func() error) error {
	var err error
	delay := retryBaseDelay
	for attempt := 0; attempt <= q.maxRetries; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if st, ok := status.FromError(err); ok && nonRetryableCode(st.Code()) {
			return err
		}
		if attempt == q.maxRetries {
			break
		}
		observability.LoggerWithTrace(ctx).Warn().Err(err).Int("attempt", attempt+1).Msg("qdrant_retry")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

// CreateCollection creates the collection with cosine distance and the
// HNSW/indexing-threshold tuning from §4.2 ("Collection parameters").
// It is idempotent: an existing collection is left untouched.
func (q *qdrantVector) CreateCollection(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("qdrant requires dimensions > 0")
	}
	var exists bool
	err := q.withRetry(ctx, func() error {
		var existsErr error
		exists, existsErr = q.client.CollectionExists(ctx, q.collection)
		return existsErr
	})
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	m := uint64(16)
	efConstruct := uint64(100)
	indexingThreshold := uint64(10000)
	err = q.withRetry(ctx, func() error {
		return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
				HnswConfig: &qdrant.HnswConfigDiff{
					M:           &m,
					EfConstruct: &efConstruct,
				},
			}),
			OptimizersConfig: &qdrant.OptimizersConfigDiff{
				IndexingThreshold: &indexingThreshold,
			},
		})
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

// EnsurePayloadIndices creates the keyword/datetime payload indices §4.2
// requires at collection creation time (entity_type, created_at,
// updated_at, relationships.team_id, relationships.project_id,
// relationships.assigned_to). Re-creating an existing index is a no-op
// from the caller's perspective; errors from an already-indexed field are
// swallowed since EnsurePayloadIndices must be safe to call repeatedly.
func (q *qdrantVector) EnsurePayloadIndices(ctx context.Context, indices []PayloadIndex) error {
	for _, idx := range indices {
		fieldType := qdrant.FieldType_FieldTypeKeyword
		if idx.Kind == "datetime" {
			fieldType = qdrant.FieldType_FieldTypeDatetime
		}
		err := q.withRetry(ctx, func() error {
			_, createErr := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
				CollectionName: q.collection,
				FieldName:      idx.Field,
				FieldType:      &fieldType,
			})
			if createErr != nil && strings.Contains(strings.ToLower(createErr.Error()), "already exists") {
				return nil
			}
			return createErr
		})
		if err != nil {
			return fmt.Errorf("create payload index %s: %w", idx.Field, err)
		}
	}
	return nil
}

// Upsert writes points keyed by the caller-supplied deterministic uint64
// point id (§4.5 Indexer owns id derivation); the original entity key
// travels in payload["point_id"] for readability (§6.3).
func (q *qdrantVector) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	pbPoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		payload := qdrant.NewValueMap(p.Payload)
		pbPoints = append(pbPoints, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(p.ID),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: payload,
		})
	}
	return q.withRetry(ctx, func() error {
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.collection,
			Points:         pbPoints,
		})
		return err
	})
}

// Search runs dense nearest-neighbour search with the §4.2 filter
// language translated to a Qdrant filter.
func (q *qdrantVector) Search(ctx context.Context, vector []float32, k int, filter Filter) ([]SearchHit, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	limit := uint64(k)

	// must+should together don't guarantee OR-of-exactly-Should once Must
	// is also non-empty in Qdrant; synthesise the union client-side by
	// running one search per Should value intersected with Must (§9).
	if len(filter.Must) > 0 && len(filter.Should) > 0 {
		return q.searchUnion(ctx, vec, int(limit), filter)
	}
	qf := toQdrantFilter(filter)
	var hits []SearchHit
	err := q.withRetry(ctx, func() error {
		res, queryErr := q.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: q.collection,
			Query:          qdrant.NewQueryDense(vec),
			Limit:          &limit,
			Filter:         qf,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if queryErr != nil {
			return queryErr
		}
		hits = toSearchHits(res)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hits, nil
}

func (q *qdrantVector) searchUnion(ctx context.Context, vec []float32, k int, filter Filter) ([]SearchHit, error) {
	seen := make(map[uint64]SearchHit)
	limit := uint64(k)
	for _, should := range filter.Should {
		qf := toQdrantFilter(Filter{Must: append(append([]Condition{}, filter.Must...), should)})
		var hits []SearchHit
		err := q.withRetry(ctx, func() error {
			res, queryErr := q.client.Query(ctx, &qdrant.QueryPoints{
				CollectionName: q.collection,
				Query:          qdrant.NewQueryDense(vec),
				Limit:          &limit,
				Filter:         qf,
				WithPayload:    qdrant.NewWithPayload(true),
			})
			if queryErr != nil {
				return queryErr
			}
			hits = toSearchHits(res)
			return nil
		})
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			if existing, ok := seen[h.ID]; !ok || h.Score > existing.Score {
				seen[h.ID] = h
			}
		}
	}
	out := make([]SearchHit, 0, len(seen))
	for _, h := range seen {
		out = append(out, h)
	}
	sortSearchHits(out)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Scroll returns payload-only candidates for the sparse (BM25) search
// path (§4.8): no vector similarity, filter-only enumeration.
func (q *qdrantVector) Scroll(ctx context.Context, filter Filter, k int) ([]ScrollHit, error) {
	if k <= 0 {
		k = 60
	}
	limit := uint32(k)
	var out []ScrollHit
	err := q.withRetry(ctx, func() error {
		res, scrollErr := q.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: q.collection,
			Filter:         toQdrantFilter(filter),
			Limit:          &limit,
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(false),
		})
		if scrollErr != nil {
			return scrollErr
		}
		out = make([]ScrollHit, 0, len(res))
		for _, p := range res {
			out = append(out, ScrollHit{ID: p.Id.GetNum(), Payload: fromQdrantPayload(p.Payload)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (q *qdrantVector) Delete(ctx context.Context, id uint64) error {
	return q.withRetry(ctx, func() error {
		_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: q.collection,
			Points:         qdrant.NewPointsSelector(qdrant.NewIDNum(id)),
		})
		return err
	})
}

func (q *qdrantVector) DeleteCollection(ctx context.Context) error {
	return q.withRetry(ctx, func() error {
		return q.client.DeleteCollection(ctx, q.collection)
	})
}

func (q *qdrantVector) GetCollectionInfo(ctx context.Context) (CollectionInfo, error) {
	var info interface {
		GetPointsCount() uint64
	}
	err := q.withRetry(ctx, func() error {
		res, getErr := q.client.GetCollectionInfo(ctx, q.collection)
		if getErr != nil {
			return getErr
		}
		info = res
		return nil
	})
	if err != nil {
		return CollectionInfo{}, err
	}
	ci := CollectionInfo{Name: q.collection}
	if info.GetPointsCount() > 0 {
		ci.PointsCount = info.GetPointsCount()
	}
	return ci, nil
}

func (q *qdrantVector) Close() error {
	return q.client.Close()
}

func toQdrantFilter(f Filter) *qdrant.Filter {
	if f.Empty() {
		return nil
	}
	qf := &qdrant.Filter{}
	for _, c := range f.Must {
		if cond := toCondition(c); cond != nil {
			qf.Must = append(qf.Must, cond)
		}
	}
	for _, c := range f.Should {
		if cond := toCondition(c); cond != nil {
			qf.Should = append(qf.Should, cond)
		}
	}
	return qf
}

func toCondition(c Condition) *qdrant.Condition {
	switch v := c.Value.(type) {
	case string:
		return qdrant.NewMatch(c.Field, v)
	case bool:
		return qdrant.NewMatchBool(c.Field, v)
	case int:
		return qdrant.NewMatchInt(c.Field, int64(v))
	case int64:
		return qdrant.NewMatchInt(c.Field, v)
	case float64:
		// Exact-match on a float field; §4.2 only requires equality
		// matching, never range queries, so a tight range stands in for
		// floating-point equality.
		return qdrant.NewRange(c.Field, &qdrant.Range{Gte: &v, Lte: &v})
	default:
		return qdrant.NewMatch(c.Field, fmt.Sprint(v))
	}
}

func toSearchHits(res []*qdrant.ScoredPoint) []SearchHit {
	out := make([]SearchHit, 0, len(res))
	for _, hit := range res {
		out = append(out, SearchHit{
			ID:      hit.Id.GetNum(),
			Score:   hit.Score,
			Payload: fromQdrantPayload(hit.Payload),
		})
	}
	return out
}

func fromQdrantPayload(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = fromQdrantValue(v)
	}
	return out
}

func fromQdrantValue(v *qdrant.Value) any {
	switch {
	case v == nil:
		return nil
	case v.GetStringValue() != "":
		return v.GetStringValue()
	case v.GetBoolValue():
		return true
	case v.GetIntegerValue() != 0:
		return v.GetIntegerValue()
	case v.GetDoubleValue() != 0:
		return v.GetDoubleValue()
	default:
		return nil
	}
}

func sortSearchHits(hits []SearchHit) {
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].Score > hits[j-1].Score; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
}
