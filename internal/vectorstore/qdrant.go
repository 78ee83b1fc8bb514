package vectorstore

import (
	"context"
	"fmt"
	"sync"

	pb "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// QdrantConfig holds connection settings for a Qdrant instance.
type QdrantConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	APIKey     string `json:"apiKey,omitempty"`
	Collection string `json:"collectionName"`
	Dimension  int    `json:"dimension,omitempty"`
}

// QdrantStore wraps gRPC connections to Qdrant's collections and points services.
// The collection is created on first upsert.
type QdrantStore struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
	name        string
	logger      *zap.Logger

	mu        sync.Mutex
	dimension int
	ensured   bool
}

// NewQdrantStore creates a client for the Qdrant gRPC endpoint. The
// connection is established lazily on the first call.
func NewQdrantStore(cfg QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if cfg.APIKey != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	return &QdrantStore{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
		name:        cfg.Collection,
		dimension:   cfg.Dimension,
		logger:      logger,
	}, nil
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// ensureCollection creates the collection if it does not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context, vectorLen int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured {
		return nil
	}
	if s.dimension == 0 {
		s.dimension = vectorLen
	}

	_, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: s.name})
	if err == nil {
		s.ensured = true
		return nil
	}
	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(s.dimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", s.name, err)
	}
	s.logger.Info("qdrant collection created", zap.String("collection", s.name), zap.Int("dimension", s.dimension))
	s.ensured = true
	return nil
}

// Upsert inserts or updates a single point.
func (s *QdrantStore) Upsert(ctx context.Context, id string, vector []float32, payload map[string]any) error {
	if err := s.ensureCollection(ctx, len(vector)); err != nil {
		return err
	}
	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.name,
		Wait:           &wait,
		Points: []*pb.PointStruct{
			{
				Id:      pointID(id),
				Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}}},
				Payload: toPayload(payload),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("upsert %s: %w", id, err)
	}
	return nil
}

// Query performs a nearest-neighbor search and returns the top-K results.
func (s *QdrantStore) Query(ctx context.Context, vector []float32, filters Filters, topK int) ([]Result, error) {
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.name,
		Vector:         vector,
		Limit:          uint64(topK),
		Filter:         qdrantFilter(filters),
		WithPayload:    withPayload(),
	})
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", s.name, err)
	}
	results := make([]Result, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, Result{
			ID:      r.Id.GetUuid(),
			Payload: fromPayload(r.Payload),
			Score:   score(float64(r.Score)),
		})
	}
	return results, nil
}

// Get fetches one point by id.
func (s *QdrantStore) Get(ctx context.Context, id string) (*Result, error) {
	resp, err := s.points.Get(ctx, &pb.GetPoints{
		CollectionName: s.name,
		Ids:            []*pb.PointId{pointID(id)},
		WithPayload:    withPayload(),
	})
	if isNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	if len(resp.Result) == 0 {
		return nil, ErrNotFound
	}
	p := resp.Result[0]
	return &Result{ID: p.Id.GetUuid(), Payload: fromPayload(p.Payload)}, nil
}

// qdrantPageSize is the scroll page size used when following page offsets.
const qdrantPageSize = 256

// List scrolls through points matching filters, following page offsets
// until limit results are collected. A limit <= 0 lists every match.
func (s *QdrantStore) List(ctx context.Context, filters Filters, limit int) ([]Result, error) {
	var out []Result
	var offset *pb.PointId
	for {
		page := uint32(qdrantPageSize)
		if limit > 0 && limit-len(out) < qdrantPageSize {
			page = uint32(limit - len(out))
		}
		resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: s.name,
			Filter:         qdrantFilter(filters),
			WithPayload:    withPayload(),
			Offset:         offset,
			Limit:          &page,
		})
		if isNotFound(err) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("scroll %s: %w", s.name, err)
		}
		for _, p := range resp.Result {
			out = append(out, Result{ID: p.Id.GetUuid(), Payload: fromPayload(p.Payload)})
		}
		offset = resp.NextPageOffset
		if offset == nil || (limit > 0 && len(out) >= limit) {
			return out, nil
		}
	}
}

// Delete removes one point.
func (s *QdrantStore) Delete(ctx context.Context, id string) error {
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.name,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: []*pb.PointId{pointID(id)}},
			},
		},
	})
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

// Reset drops the collection. It is recreated on the next upsert.
func (s *QdrantStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: s.name})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("drop collection %s: %w", s.name, err)
	}
	s.ensured = false
	return nil
}

// Close tears down the underlying gRPC connection.
func (s *QdrantStore) Close() error {
	return s.conn.Close()
}

func isNotFound(err error) bool {
	return err != nil && status.Code(err) == codes.NotFound
}

func pointID(id string) *pb.PointId {
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
}

func withPayload() *pb.WithPayloadSelector {
	return &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}}
}

func qdrantFilter(filters Filters) *pb.Filter {
	if len(filters) == 0 {
		return nil
	}
	must := make([]*pb.Condition, 0, len(filters))
	for k, v := range filters {
		var match *pb.Match
		switch x := v.(type) {
		case bool:
			match = &pb.Match{MatchValue: &pb.Match_Boolean{Boolean: x}}
		case int:
			match = &pb.Match{MatchValue: &pb.Match_Integer{Integer: int64(x)}}
		case int64:
			match = &pb.Match{MatchValue: &pb.Match_Integer{Integer: x}}
		default:
			match = &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: fmt.Sprint(x)}}
		}
		must = append(must, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{Key: k, Match: match},
			},
		})
	}
	return &pb.Filter{Must: must}
}

func toPayload(payload map[string]any) map[string]*pb.Value {
	out := make(map[string]*pb.Value, len(payload))
	for k, v := range payload {
		out[k] = toValue(v)
	}
	return out
}

func toValue(v any) *pb.Value {
	switch x := v.(type) {
	case nil:
		return &pb.Value{Kind: &pb.Value_NullValue{NullValue: pb.NullValue_NULL_VALUE}}
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: x}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: x}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(x)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: x}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: x}}
	case float32:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: float64(x)}}
	case map[string]any:
		return &pb.Value{Kind: &pb.Value_StructValue{StructValue: &pb.Struct{Fields: toPayload(x)}}}
	case []any:
		vals := make([]*pb.Value, len(x))
		for i, e := range x {
			vals[i] = toValue(e)
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: vals}}}
	case []string:
		vals := make([]*pb.Value, len(x))
		for i, e := range x {
			vals[i] = toValue(e)
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: vals}}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(x)}}
	}
}

func fromPayload(payload map[string]*pb.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = fromValue(v)
	}
	return out
}

func fromValue(v *pb.Value) any {
	switch k := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_BoolValue:
		return k.BoolValue
	case *pb.Value_IntegerValue:
		return k.IntegerValue
	case *pb.Value_DoubleValue:
		return k.DoubleValue
	case *pb.Value_StructValue:
		return fromPayload(k.StructValue.GetFields())
	case *pb.Value_ListValue:
		vals := k.ListValue.GetValues()
		out := make([]any, len(vals))
		for i, e := range vals {
			out[i] = fromValue(e)
		}
		return out
	}
	return nil
}
