package graphstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// payloadIDField stores the caller-supplied id inside the point payload,
// since point ids in Qdrant must be a u64 or UUID and HCME ids are
// already UUIDs but the mapping is kept explicit rather than assumed,
// mirroring the teacher's qdrant_vector.go PAYLOAD_ID_FIELD convention.
const payloadIDField = "_original_id"

// QdrantIndex is a VectorIndex backed by a single named Qdrant
// collection, grounded on
// internal/persistence/databases/qdrant_vector.go.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dimension  uint64
	metric     qdrant.Distance
}

// QdrantConfig configures one named collection/index.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  uint64
	Metric     string // "cosine", "dot", "euclid"
}

func distanceFromMetric(metric string) qdrant.Distance {
	switch strings.ToLower(metric) {
	case "dot":
		return qdrant.Distance_Dot
	case "euclid", "euclidean", "l2":
		return qdrant.Distance_Euclid
	default:
		return qdrant.Distance_Cosine
	}
}

// NewQdrantIndex connects and ensures the named collection exists with
// the configured dimension/metric.
func NewQdrantIndex(ctx context.Context, cfg QdrantConfig) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("graphstore: qdrant client: %w", err)
	}

	idx := &QdrantIndex{
		client:     client,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		metric:     distanceFromMetric(cfg.Metric),
	}
	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("graphstore: check collection %q: %w", q.collection, err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.dimension,
			Distance: q.metric,
		}),
	})
	if err != nil {
		return fmt.Errorf("graphstore: create collection %q: %w", q.collection, err)
	}
	return nil
}

// pointID derives a stable Qdrant point id from the caller's id. Qdrant
// only accepts u64 or UUID point ids, so a non-UUID id is folded through
// uuid.NewSHA1 the way the teacher does it for arbitrary string ids.
func pointID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func (q *QdrantIndex) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error {
	payload := map[string]*qdrant.Value{
		payloadIDField: qdrant.NewValueString(id),
	}
	for k, v := range metadata {
		payload[k] = qdrant.NewValueString(v)
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewID(pointID(id)),
				Vectors: qdrant.NewVectors(vector...),
				Payload: payload,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("graphstore: qdrant upsert into %q: %w", q.collection, err)
	}
	return nil
}

func (q *QdrantIndex) Query(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]VectorHit, error) {
	var qFilter *qdrant.Filter
	if len(filter) > 0 {
		conds := make([]*qdrant.Condition, 0, len(filter))
		for k, v := range filter {
			conds = append(conds, qdrant.NewMatch(k, v))
		}
		qFilter = &qdrant.Filter{Must: conds}
	}

	limit := uint64(topK)
	withPayload := qdrant.NewWithPayloadInclude(payloadIDField)
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         qFilter,
		Limit:          &limit,
		WithPayload:    withPayload,
	})
	if err != nil {
		return nil, fmt.Errorf("graphstore: qdrant query on %q: %w", q.collection, err)
	}

	hits := make([]VectorHit, 0, len(results))
	for _, r := range results {
		original := r.Id.String()
		if v, ok := r.Payload[payloadIDField]; ok {
			if s := v.GetStringValue(); s != "" {
				original = s
			}
		}
		hits = append(hits, VectorHit{ID: original, Score: float64(r.Score)})
	}
	return hits, nil
}
