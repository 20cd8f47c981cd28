package vector

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/pkg/utils"
	"google.golang.org/grpc"
)

var qdrantTracer = otel.Tracer("kotae.vector.qdrant")

// payloadChunkID is the payload key holding the original chunk ID.
const payloadChunkID = "chunk_id"

// chunkNamespace derives stable point UUIDs from chunk IDs, which are not UUIDs themselves.
var chunkNamespace = uuid.MustParse("6f1b3c1e-4a53-4b8e-9f0e-5d7c2a9b8e41")

// QdrantOptions configures the qdrant backend.
type QdrantOptions struct {
	Host       string
	Port       int
	UseTLS     bool
	APIKey     string
	Collection string
	Dimensions int
	// MaxMessageSize bounds gRPC messages in bytes (default 32MB).
	MaxMessageSize int
}

// QdrantIndex stores vectors in a qdrant collection over gRPC.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dimensions int
	logger     *zap.Logger
}

// NewQdrantIndex connects to qdrant and ensures the collection exists with cosine distance.
func NewQdrantIndex(ctx context.Context, opts QdrantOptions, logger *zap.Logger) (*QdrantIndex, error) {
	if opts.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if opts.MaxMessageSize == 0 {
		opts.MaxMessageSize = 32 << 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if !opts.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)", zap.String("host", opts.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   opts.Host,
		Port:   opts.Port,
		APIKey: opts.APIKey,
		UseTLS: opts.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(opts.MaxMessageSize),
				grpc.MaxCallSendMsgSize(opts.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	q := &QdrantIndex{client: client, collection: opts.Collection, dimensions: opts.Dimensions, logger: logger}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := q.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return q, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", q.collection, err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", q.collection, err)
	}
	q.logger.Info("created qdrant collection", zap.String("collection", q.collection), zap.Int("dimensions", q.dimensions))
	return nil
}

func pointID(chunkID string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(chunkNamespace, []byte(chunkID)).String())
}

// Add upserts points keyed by a UUID derived from each chunk ID.
func (q *QdrantIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Add")
	defer span.End()

	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	if len(ids) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, len(ids))
	for i, id := range ids {
		if len(vectors[i]) != q.dimensions {
			return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(vectors[i]), q.dimensions)
		}
		points[i] = &qdrant.PointStruct{
			Id:      pointID(id),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(map[string]any{payloadChunkID: id}),
		}
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting points to collection %s: %w", q.collection, err)
	}
	span.SetAttributes(attribute.Int("points_added", len(ids)))
	return nil
}

// Search queries the collection by cosine similarity.
func (q *QdrantIndex) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Search")
	defer span.End()

	if len(query) != q.dimensions {
		return nil, fmt.Errorf("%w: query has %d, expected %d", ErrDimensionMismatch, len(query), q.dimensions)
	}
	if k <= 0 {
		return nil, nil
	}
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", q.collection, err)
	}
	results := make([]Result, 0, len(points))
	for _, p := range points {
		v, ok := p.GetPayload()[payloadChunkID]
		if !ok {
			continue
		}
		results = append(results, Result{ID: v.GetStringValue(), Score: utils.CosineToUnit(float64(p.GetScore()))})
	}
	span.SetAttributes(attribute.Int("results_count", len(results)))
	return results, nil
}

// Remove deletes points for the given chunk IDs.
func (q *QdrantIndex) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pids := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pids[i] = pointID(id)
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pids...),
	})
	if err != nil {
		return fmt.Errorf("deleting points from %s: %w", q.collection, err)
	}
	return nil
}

// Size returns the exact point count.
func (q *QdrantIndex) Size(ctx context.Context) (int, error) {
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("counting points in %s: %w", q.collection, err)
	}
	return int(n), nil
}

// Save is a no-op: qdrant persists server side.
func (q *QdrantIndex) Save() error { return nil }

// Close closes the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
