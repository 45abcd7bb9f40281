package milvus

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/types"
)

// SegmentVector is one embedded video segment stored in the index. The
// segment UID is the primary key, so re-inserting the same vector after a
// retried write is an overwrite, not a duplicate.
type SegmentVector struct {
	SegmentUID   string
	Bucket       string
	Key          string
	StartSeconds float64
	EndSeconds   float64
	Vector       []float32
}

// VectorIndexI is the contract toward the vector index collaborator.
type VectorIndexI interface {
	GetHealth(ctx context.Context) (bool, error)
	EnsureCollection(ctx context.Context) error
	UpsertVectors(ctx context.Context, vectors []SegmentVector) error
	FlushCollection(ctx context.Context) error
	SearchSimilar(ctx context.Context, vector []float32, topK int) ([]types.SearchCandidate, error)
	DeleteVectorsByObject(ctx context.Context, ref types.ObjectRef) error
	Close()
}

// Vector schema parameters. The dimension matches the multimodal embedding
// model output; the metric matches the index configuration expected by the
// search path.
const (
	VectorDim  = 1024
	MetricType = entity.COSINE
	ScannNlist = 1024
	WithRaw    = true
)

// Search parameters
const (
	Nprobe   = 250
	ReorderK = 250
)

const (
	collectionName = "video_segments"

	fieldSegmentUID   = "segment_uid"
	fieldBucket       = "object_bucket"
	fieldKey          = "object_key"
	fieldStartSeconds = "start_seconds"
	fieldEndSeconds   = "end_seconds"
	fieldEmbedding    = "embedding"
)

type milvusClient struct {
	c   client.Client
	log *zap.Logger
}

// NewVectorIndex connects to Milvus and returns the index client.
func NewVectorIndex(ctx context.Context, host, port string, log *zap.Logger) (VectorIndexI, error) {
	c, err := client.NewGrpcClient(ctx, host+":"+port)
	if err != nil {
		return nil, fmt.Errorf("connecting to milvus: %w", err)
	}
	return &milvusClient{c: c, log: log}, nil
}

func (m *milvusClient) GetHealth(ctx context.Context) (bool, error) {
	h, err := m.c.CheckHealth(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check health: %w", err)
	}
	if h == nil {
		return false, fmt.Errorf("health check returned nil")
	}
	return h.IsHealthy, nil
}

// EnsureCollection creates the segment collection and its index if they don't
// exist yet. Safe to call on every startup.
func (m *milvusClient) EnsureCollection(ctx context.Context) error {
	has, err := m.c.HasCollection(ctx, collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if has {
		m.log.Info("Collection already exists", zap.String("collection_name", collectionName))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: collectionName,
		Fields: []*entity.Field{
			{Name: fieldSegmentUID, DataType: entity.FieldTypeVarChar, PrimaryKey: true, TypeParams: map[string]string{"max_length": "255"}},
			{Name: fieldBucket, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "255"}},
			{Name: fieldKey, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "1024"}},
			{Name: fieldStartSeconds, DataType: entity.FieldTypeDouble},
			{Name: fieldEndSeconds, DataType: entity.FieldTypeDouble},
			{Name: fieldEmbedding, DataType: entity.FieldTypeFloatVector, TypeParams: map[string]string{"dim": fmt.Sprintf("%d", VectorDim)}},
		},
	}

	if err := m.c.CreateCollection(ctx, schema, 1); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	index, err := entity.NewIndexSCANN(MetricType, ScannNlist, WithRaw)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if err := m.c.CreateIndex(ctx, collectionName, fieldEmbedding, index, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	m.log.Info("Collection created successfully", zap.String("collection_name", collectionName))
	return nil
}

// UpsertVectors writes segment vectors into the collection, keyed by segment
// UID. Last write wins on identical IDs.
func (m *milvusClient) UpsertVectors(ctx context.Context, vectors []SegmentVector) error {
	if len(vectors) == 0 {
		return nil
	}

	count := len(vectors)
	segmentUIDs := make([]string, count)
	buckets := make([]string, count)
	keys := make([]string, count)
	starts := make([]float64, count)
	ends := make([]float64, count)
	embeddings := make([][]float32, count)

	for i, v := range vectors {
		if len(v.Vector) != VectorDim {
			return fmt.Errorf("vector %s has dimension %d, expected %d", v.SegmentUID, len(v.Vector), VectorDim)
		}
		segmentUIDs[i] = v.SegmentUID
		buckets[i] = v.Bucket
		keys[i] = v.Key
		starts[i] = v.StartSeconds
		ends[i] = v.EndSeconds
		embeddings[i] = v.Vector
	}

	columns := []entity.Column{
		entity.NewColumnVarChar(fieldSegmentUID, segmentUIDs),
		entity.NewColumnVarChar(fieldBucket, buckets),
		entity.NewColumnVarChar(fieldKey, keys),
		entity.NewColumnDouble(fieldStartSeconds, starts),
		entity.NewColumnDouble(fieldEndSeconds, ends),
		entity.NewColumnFloatVector(fieldEmbedding, VectorDim, embeddings),
	}

	if _, err := m.c.Upsert(ctx, collectionName, "", columns...); err != nil {
		return fmt.Errorf("failed to upsert vectors: %w", err)
	}
	return nil
}

// FlushCollection persists pending writes so they are visible to subsequent
// searches.
func (m *milvusClient) FlushCollection(ctx context.Context) error {
	if err := m.c.Flush(ctx, collectionName, false); err != nil {
		return fmt.Errorf("failed to flush collection: %w", err)
	}
	return nil
}

// SearchSimilar returns the topK segments closest to the query vector,
// ordered by descending similarity.
func (m *milvusClient) SearchSimilar(ctx context.Context, vector []float32, topK int) ([]types.SearchCandidate, error) {
	has, err := m.c.HasCollection(ctx, collectionName)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !has {
		return nil, fmt.Errorf("collection %s does not exist", collectionName)
	}

	if err := m.c.LoadCollection(ctx, collectionName, false); err != nil {
		return nil, fmt.Errorf("failed to load collection: %w", err)
	}

	sp, err := entity.NewIndexSCANNSearchParam(Nprobe, ReorderK)
	if err != nil {
		return nil, fmt.Errorf("failed to create search param: %w", err)
	}

	results, err := m.c.Search(
		ctx, collectionName, nil, "", []string{
			fieldSegmentUID,
			fieldBucket,
			fieldKey,
			fieldStartSeconds,
			fieldEndSeconds,
		}, []entity.Vector{entity.FloatVector(vector)}, fieldEmbedding, MetricType, topK, sp)
	if err != nil {
		return nil, fmt.Errorf("failed to search embeddings: %w", err)
	}

	var candidates []types.SearchCandidate
	for _, result := range results {
		segmentUIDs, err := getStringData(result.Fields.GetColumn(fieldSegmentUID))
		if err != nil {
			return nil, fmt.Errorf("error with segment_uid column: %w", err)
		}
		buckets, err := getStringData(result.Fields.GetColumn(fieldBucket))
		if err != nil {
			return nil, fmt.Errorf("error with object_bucket column: %w", err)
		}
		keys, err := getStringData(result.Fields.GetColumn(fieldKey))
		if err != nil {
			return nil, fmt.Errorf("error with object_key column: %w", err)
		}
		starts, ok := result.Fields.GetColumn(fieldStartSeconds).(*entity.ColumnDouble)
		if !ok {
			return nil, fmt.Errorf("unexpected type for start_seconds column")
		}
		ends, ok := result.Fields.GetColumn(fieldEndSeconds).(*entity.ColumnDouble)
		if !ok {
			return nil, fmt.Errorf("unexpected type for end_seconds column")
		}

		for i := 0; i < len(segmentUIDs); i++ {
			candidates = append(candidates, types.SearchCandidate{
				ObjectRef:    types.ObjectRef{Bucket: buckets[i], Key: keys[i]},
				SegmentUID:   segmentUIDs[i],
				StartSeconds: starts.Data()[i],
				EndSeconds:   ends.Data()[i],
				Score:        result.Scores[i],
			})
		}
	}

	return candidates, nil
}

// DeleteVectorsByObject removes all segment vectors of an object. Used when
// an asset is re-embedded from scratch.
func (m *milvusClient) DeleteVectorsByObject(ctx context.Context, ref types.ObjectRef) error {
	expr := fmt.Sprintf("%s == '%s' && %s == '%s'", fieldBucket, ref.Bucket, fieldKey, ref.Key)
	if err := m.c.Delete(ctx, collectionName, "", expr); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	if err := m.c.Flush(ctx, collectionName, false); err != nil {
		return fmt.Errorf("failed to flush collection after deletion: %w", err)
	}
	return nil
}

func (m *milvusClient) Close() {
	m.c.Close()
}

// Helper function to safely get string data from a column
func getStringData(col entity.Column) ([]string, error) {
	switch v := col.(type) {
	case *entity.ColumnVarChar:
		return v.Data(), nil
	case *entity.ColumnString:
		return v.Data(), nil
	default:
		return nil, fmt.Errorf("unexpected column type for string data: %T", col)
	}
}
