package vectorstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Payload keys indexed as TAG fields and usable as server-side prefilters.
var redisTagFields = []string{"userId", "agentId", "runId"}

// RedisConfig holds connection settings for a Redis Stack instance.
type RedisConfig struct {
	URL        string `json:"redisUrl"`
	Collection string `json:"collectionName"`
	Dimension  int    `json:"dimension,omitempty"`
}

// RedisStore keeps points as hashes under "<collection>:<id>" and searches
// them through a RediSearch HNSW index created on first upsert.
type RedisStore struct {
	rdb    *redis.Client
	index  string
	prefix string
	logger *zap.Logger

	mu        sync.Mutex
	dimension int
	ensured   bool
}

// NewRedisStore parses the URL and creates a client. No connection is made here.
func NewRedisStore(cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if cfg.URL == "" {
		cfg.URL = "redis://localhost:6379"
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	// FT.SEARCH replies are only stable over RESP2.
	opts.Protocol = 2
	return &RedisStore{
		rdb:       redis.NewClient(opts),
		index:     "idx:" + cfg.Collection,
		prefix:    cfg.Collection + ":",
		dimension: cfg.Dimension,
		logger:    logger,
	}, nil
}

func (s *RedisStore) ensureIndex(ctx context.Context, vectorLen int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured {
		return nil
	}
	if s.dimension == 0 {
		s.dimension = vectorLen
	}
	if _, err := s.rdb.FTInfo(ctx, s.index).Result(); err == nil {
		s.ensured = true
		return nil
	}

	schema := []*redis.FieldSchema{{
		FieldName: "embedding",
		FieldType: redis.SearchFieldTypeVector,
		VectorArgs: &redis.FTVectorArgs{
			HNSWOptions: &redis.FTHNSWOptions{
				Type:           "FLOAT32",
				Dim:            s.dimension,
				DistanceMetric: "COSINE",
			},
		},
	}}
	for _, f := range redisTagFields {
		schema = append(schema, &redis.FieldSchema{FieldName: f, FieldType: redis.SearchFieldTypeTag})
	}
	err := s.rdb.FTCreate(ctx, s.index, &redis.FTCreateOptions{
		OnHash: true,
		Prefix: []interface{}{s.prefix},
	}, schema...).Err()
	if err != nil && !strings.Contains(err.Error(), "Index already exists") {
		return fmt.Errorf("create index %s: %w", s.index, err)
	}
	s.logger.Info("redis index created", zap.String("index", s.index), zap.Int("dimension", s.dimension))
	s.ensured = true
	return nil
}

// Upsert writes the point hash.
func (s *RedisStore) Upsert(ctx context.Context, id string, vector []float32, payload map[string]any) error {
	if err := s.ensureIndex(ctx, len(vector)); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload %s: %w", id, err)
	}
	fields := map[string]any{
		"payload":   string(data),
		"embedding": encodeVector(vector),
	}
	for _, f := range redisTagFields {
		if v, ok := payload[f]; ok {
			fields[f] = fmt.Sprint(v)
		}
	}
	key := s.prefix + id
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fields)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("upsert %s: %w", id, err)
	}
	return nil
}

// Query runs a KNN search. Tag fields are filtered server-side, any other
// filter keys are applied to the decoded payload.
func (s *RedisStore) Query(ctx context.Context, vector []float32, filters Filters, topK int) ([]Result, error) {
	q := fmt.Sprintf("(%s)=>[KNN %d @embedding $vec AS vector_score]", tagQuery(filters), topK)
	res, err := s.rdb.FTSearchWithArgs(ctx, s.index, q, &redis.FTSearchOptions{
		Params:         map[string]interface{}{"vec": encodeVector(vector)},
		DialectVersion: 2,
		SortBy:         []redis.FTSearchSortBy{{FieldName: "vector_score", Asc: true}},
		Return:         []redis.FTSearchReturn{{FieldName: "payload"}, {FieldName: "vector_score"}},
		Limit:          topK,
	}).Result()
	if isUnknownIndex(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", s.index, err)
	}

	out := make([]Result, 0, len(res.Docs))
	for _, d := range res.Docs {
		payload, err := decodePayload(d.Fields["payload"])
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", d.ID, err)
		}
		if !filters.Matches(payload) {
			continue
		}
		dist, _ := strconv.ParseFloat(d.Fields["vector_score"], 64)
		out = append(out, Result{
			ID:      strings.TrimPrefix(d.ID, s.prefix),
			Payload: payload,
			Score:   score(1 - dist),
		})
	}
	return out, nil
}

// Get reads one point hash.
func (s *RedisStore) Get(ctx context.Context, id string) (*Result, error) {
	raw, err := s.rdb.HGet(ctx, s.prefix+id, "payload").Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	payload, err := decodePayload(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	return &Result{ID: id, Payload: payload}, nil
}

// List scans the collection's keys and returns matching points.
func (s *RedisStore) List(ctx context.Context, filters Filters, limit int) ([]Result, error) {
	var out []Result
	iter := s.rdb.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := s.rdb.HGet(ctx, key, "payload").Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", key, err)
		}
		payload, err := decodePayload(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		if !filters.Matches(payload) {
			continue
		}
		out = append(out, Result{ID: strings.TrimPrefix(key, s.prefix), Payload: payload})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.prefix, err)
	}
	return out, nil
}

// Delete removes one point.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, s.prefix+id).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

// Reset drops the index together with its documents.
func (s *RedisStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.rdb.FTDropIndexWithArgs(ctx, s.index, &redis.FTDropIndexOptions{DeleteDocs: true}).Err()
	if err != nil && !isUnknownIndex(err) {
		return fmt.Errorf("drop index %s: %w", s.index, err)
	}
	s.ensured = false
	return nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func tagQuery(filters Filters) string {
	var parts []string
	for _, f := range redisTagFields {
		if v, ok := filters[f]; ok {
			parts = append(parts, fmt.Sprintf("@%s:{%s}", f, escapeTag(fmt.Sprint(v))))
		}
	}
	if len(parts) == 0 {
		return "*"
	}
	return strings.Join(parts, " ")
}

// escapeTag backslash-escapes RediSearch tag punctuation.
func escapeTag(s string) string {
	var b strings.Builder
	for _, r := range s {
		if !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r > 127) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isUnknownIndex(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unknown index") || strings.Contains(msg, "no such index")
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodePayload(raw string) (map[string]any, error) {
	payload := map[string]any{}
	if raw == "" {
		return payload, nil
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
