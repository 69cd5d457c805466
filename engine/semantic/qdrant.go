package semantic

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/medtext/medrag/engine/domain"
)

// Payload keys stored on every point.
const (
	keyBook       = "book"
	keyPage       = "page"
	keyParagraph  = "paragraph"
	keyChunkIndex = "chunk_index"
	keyChunkID    = "chunk_id"
	keyText       = "text"
)

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
	CreateFieldIndex(ctx context.Context, in *pb.CreateFieldIndexCollection, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

type collectionsAPI interface {
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	CollectionExists(ctx context.Context, in *pb.CollectionExistsRequest, opts ...grpc.CallOption) (*pb.CollectionExistsResponse, error)
}

// QdrantIndex stores chunk vectors as points in one Qdrant collection.
type QdrantIndex struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	metric      Metric
	opts        options
}

// NewQdrant dials Qdrant's gRPC port (usually 6334).
func NewQdrant(addr, collection string, opts ...Option) (*QdrantIndex, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	q := NewQdrantWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection, opts...)
	q.conn = conn
	return q, nil
}

// NewQdrantWithClients builds an index over existing clients.
func NewQdrantWithClients(points pointsAPI, collections collectionsAPI, collection string, opts ...Option) *QdrantIndex {
	o := buildOptions(opts)
	return &QdrantIndex{
		points:      points,
		collections: collections,
		collection:  collection,
		metric:      o.metric,
		opts:        o,
	}
}

// Close closes the gRPC connection, if this index owns one.
func (q *QdrantIndex) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

// EnsureIndex creates the collection when missing and waits until it reports
// green. An existing collection with another vector size is an error.
func (q *QdrantIndex) EnsureIndex(ctx context.Context, dim int, metric Metric) error {
	exists, err := q.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: q.collection})
	if err != nil {
		return serviceErr("collection exists", err)
	}
	if !exists.GetResult().GetExists() {
		if err := q.create(ctx, dim, metric); err != nil {
			return err
		}
	}

	info, err := q.waitReady(ctx)
	if err != nil {
		return err
	}
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	if size := int(params.GetSize()); size != 0 && size != dim {
		return fmt.Errorf("semantic: collection %s: %w: stores %d, configured %d", q.collection, domain.ErrDimensionMismatch, size, dim)
	}
	// The collection's own distance wins over the configured one.
	q.metric = metric
	if stored, ok := metricOf(params.GetDistance()); ok {
		q.metric = stored
	}
	return nil
}

func (q *QdrantIndex) create(ctx context.Context, dim int, metric Metric) error {
	_, err := q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dim),
					Distance: distance(metric),
				},
			},
		},
	})
	if err != nil {
		return serviceErr("create collection", err)
	}

	wait := true
	keyword := pb.FieldType_FieldTypeKeyword
	if _, err := q.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
		CollectionName: q.collection,
		Wait:           &wait,
		FieldName:      keyBook,
		FieldType:      &keyword,
	}); err != nil {
		return serviceErr("create book index", err)
	}
	q.opts.logger.Info("qdrant collection created", "collection", q.collection, "dim", dim, "metric", metric)
	return nil
}

func (q *QdrantIndex) waitReady(ctx context.Context) (*pb.CollectionInfo, error) {
	for {
		resp, err := q.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: q.collection})
		if err != nil {
			return nil, serviceErr("collection info", err)
		}
		if info := resp.GetResult(); info.GetStatus() == pb.CollectionStatus_Green {
			return info, nil
		}
		q.opts.logger.Debug("qdrant collection not ready", "collection", q.collection)
		select {
		case <-ctx.Done():
			return nil, domain.WrapService("qdrant", "wait ready", ctx.Err())
		case <-time.After(q.opts.pollInterval):
		}
	}
}

// Upsert writes records as points. Point ids are derived from chunk ids so a
// repeated chunk id replaces the earlier point.
func (q *QdrantIndex) Upsert(ctx context.Context, records []domain.VectorRecord) error {
	return upsertBatched(ctx, records, q.opts.batchSize, q.upsertBatch)
}

func (q *QdrantIndex) upsertBatch(ctx context.Context, records []domain.VectorRecord) error {
	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(r.ID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Values},
				},
			},
			Payload: map[string]*pb.Value{
				keyBook:       stringValue(r.Metadata.Book),
				keyPage:       intValue(r.Metadata.Page),
				keyParagraph:  intValue(r.Metadata.Paragraph),
				keyChunkIndex: intValue(r.Metadata.ChunkIndex),
				keyChunkID:    stringValue(r.ID),
				keyText:       stringValue(r.Metadata.Text),
			},
		}
	}

	wait := true
	if _, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return serviceErr(fmt.Sprintf("upsert %d points", len(records)), err)
	}
	return nil
}

// Query runs a k-NN search and projects payloads back to documents. Euclid
// distances are negated so a higher score is always a closer match.
func (q *QdrantIndex) Query(ctx context.Context, vector []float32, topK int) ([]domain.RetrievedDocument, error) {
	if topK <= 0 {
		return nil, nil
	}
	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, serviceErr("search", err)
	}

	docs := make([]domain.RetrievedDocument, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		payload := p.GetPayload()
		id := payload[keyChunkID].GetStringValue()
		if id == "" {
			id = p.GetId().GetUuid()
		}
		score := p.GetScore()
		if q.metric == MetricEuclidean {
			score = -score
		}
		docs = append(docs, domain.RetrievedDocument{
			ID:        id,
			Score:     score,
			Text:      payload[keyText].GetStringValue(),
			Book:      payload[keyBook].GetStringValue(),
			Page:      int(payload[keyPage].GetIntegerValue()),
			Paragraph: int(payload[keyParagraph].GetIntegerValue()),
		})
	}
	return docs, nil
}

// DeleteAll removes every point; the collection itself is kept.
func (q *QdrantIndex) DeleteAll(ctx context.Context) error {
	return q.deleteWhere(ctx, "delete all", &pb.Filter{})
}

// DeleteBook removes every point of one book.
func (q *QdrantIndex) DeleteBook(ctx context.Context, book string) error {
	return q.deleteWhere(ctx, "delete book "+book, &pb.Filter{Must: []*pb.Condition{fieldMatch(keyBook, book)}})
}

func (q *QdrantIndex) deleteWhere(ctx context.Context, op string, filter *pb.Filter) error {
	wait := true
	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: filter},
		},
	})
	if err != nil {
		return serviceErr(op, err)
	}
	return nil
}

// Stats returns an exact point count. A missing collection counts as empty.
func (q *QdrantIndex) Stats(ctx context.Context) (domain.IndexStats, error) {
	exists, err := q.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: q.collection})
	if err != nil {
		return domain.IndexStats{}, serviceErr("collection exists", err)
	}
	if !exists.GetResult().GetExists() {
		return domain.IndexStats{}, nil
	}

	info, err := q.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: q.collection})
	if err != nil {
		return domain.IndexStats{}, serviceErr("collection info", err)
	}
	exact := true
	count, err := q.points.Count(ctx, &pb.CountPoints{CollectionName: q.collection, Exact: &exact})
	if err != nil {
		return domain.IndexStats{}, serviceErr("count", err)
	}
	return domain.IndexStats{
		TotalVectorCount: int64(count.GetResult().GetCount()),
		Dimension:        int(info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()),
	}, nil
}

// PointID maps a chunk id to the UUID Qdrant stores it under.
func PointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String()
}

func distance(m Metric) pb.Distance {
	switch m {
	case MetricDot:
		return pb.Distance_Dot
	case MetricEuclidean:
		return pb.Distance_Euclid
	}
	return pb.Distance_Cosine
}

func metricOf(d pb.Distance) (Metric, bool) {
	switch d {
	case pb.Distance_Cosine:
		return MetricCosine, true
	case pb.Distance_Dot:
		return MetricDot, true
	case pb.Distance_Euclid:
		return MetricEuclidean, true
	}
	return "", false
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func intValue(n int) *pb.Value {
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(n)}}
}

// serviceErr normalizes gRPC deadline and cancellation codes to context
// errors so ServiceError.Timeout and Canceled see them.
func serviceErr(op string, err error) error {
	switch status.Code(err) {
	case codes.DeadlineExceeded:
		err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	case codes.Canceled:
		err = fmt.Errorf("%w: %v", context.Canceled, err)
	}
	return domain.WrapService("qdrant", op, err)
}
