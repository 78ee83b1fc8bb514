package memory

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-memory/internal/graphstore"
	"github.com/nidhogg/nuka-memory/internal/history"
	"github.com/nidhogg/nuka-memory/internal/llm"
	"github.com/nidhogg/nuka-memory/internal/resolver"
	"github.com/nidhogg/nuka-memory/internal/vectorstore"
)

const defaultLimit = 100

// Memory stores and retrieves memories through resolved providers. It is
// safe for concurrent use when its providers are.
type Memory struct {
	cfg     *resolver.ResolvedMemoryConfig
	history history.Store
	logger  *zap.Logger
	now     func() time.Time
}

// New takes ownership of resolved and opens the history store when enabled.
// An enabled history without a path is kept in memory.
func New(ctx context.Context, resolved *resolver.ResolvedMemoryConfig, logger *zap.Logger) (*Memory, error) {
	m := &Memory{cfg: resolved, history: history.Nop{}, logger: logger, now: time.Now}
	if resolved.StoreHistory {
		path := resolved.HistoryDBPath
		if path == "" {
			path = ":memory:"
		}
		h, err := history.Open(ctx, path, logger)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		m.history = h
	}
	return m, nil
}

// Add stores messages for a scope. Without Infer each message becomes one
// memory; with Infer the LLM extracts facts first.
func (m *Memory) Add(ctx context.Context, messages []Message, opts AddOptions) (*SearchResult, error) {
	scope := opts.filters()
	if !scope.hasScope() {
		return nil, ErrMissingScope
	}

	messages, err := m.describeImages(ctx, messages)
	if err != nil {
		return nil, err
	}

	var texts []string
	if opts.Infer {
		facts, err := m.extractFacts(ctx, messages)
		if err != nil {
			return nil, err
		}
		texts = facts
	} else {
		for _, msg := range messages {
			if msg.Content != "" {
				texts = append(texts, msg.Content)
			}
		}
	}

	result := &SearchResult{Results: []MemoryItem{}}
	if len(texts) > 0 {
		vectors, err := m.cfg.Embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed memories: %w", err)
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("embed memories: got %d vectors for %d texts", len(vectors), len(texts))
		}
		for i, text := range texts {
			metadata := opts.Metadata
			if opts.Categorize {
				metadata = m.categorize(ctx, text, metadata)
			}
			item, err := m.insert(ctx, text, vectors[i], scope, metadata)
			if err != nil {
				return nil, err
			}
			result.Results = append(result.Results, item)
		}
	}

	if m.cfg.GraphStore != nil {
		rels := opts.Relations
		if len(rels) == 0 && opts.Infer {
			rels, err = m.extractRelations(ctx, messages)
			if err != nil {
				return nil, err
			}
		}
		if len(rels) > 0 {
			if err := m.cfg.GraphStore.UpsertRelations(ctx, rels, scope.graph()); err != nil {
				return nil, fmt.Errorf("store relations: %w", err)
			}
			result.Relations = rels
		}
	}

	m.logger.Debug("memories added",
		zap.Int("memories", len(result.Results)),
		zap.Int("relations", len(result.Relations)),
		zap.Bool("infer", opts.Infer))
	return result, nil
}

func (m *Memory) insert(ctx context.Context, text string, vector []float32, scope SearchFilters, metadata map[string]any) (MemoryItem, error) {
	id := uuid.New().String()
	now := m.now().UTC().Format(time.RFC3339)

	payload := make(map[string]any, len(metadata)+6)
	for k, v := range metadata {
		payload[k] = v
	}
	for k, v := range scope {
		payload[k] = v
	}
	payload[keyData] = text
	payload[keyHash] = hash(text)
	payload[keyCreatedAt] = now

	if err := m.cfg.VectorStore.Upsert(ctx, id, vector, payload); err != nil {
		return MemoryItem{}, fmt.Errorf("store memory: %w", err)
	}
	m.record(ctx, history.Entry{MemoryID: id, NewValue: text, Action: history.ActionAdd})
	return toItem(vectorstore.Result{ID: id, Payload: payload}), nil
}

func (m *Memory) extractFacts(ctx context.Context, messages []Message) ([]string, error) {
	conv := transcript(messages)
	if conv == "" {
		return nil, nil
	}
	out, err := m.cfg.LLM.Complete(ctx, []llm.Message{
		{Role: "system", Content: factPrompt(m.cfg.CustomPrompt, m.now())},
		{Role: "user", Content: "Input:\n" + conv},
	}, llm.Options{JSON: true})
	if err != nil {
		return nil, fmt.Errorf("extract facts: %w", err)
	}
	return parseFacts(out)
}

// describeImages replaces image parts with an LLM description so every
// later step sees text only.
func (m *Memory) describeImages(ctx context.Context, messages []Message) ([]Message, error) {
	var hasImages bool
	for _, msg := range messages {
		if len(msg.Images) > 0 {
			hasImages = true
			break
		}
	}
	if !hasImages {
		return messages, nil
	}
	if !llm.AcceptsImages(m.cfg.LLM) {
		return nil, ErrUnsupportedContent
	}

	out := make([]Message, len(messages))
	for i, msg := range messages {
		out[i] = Message{Role: msg.Role, Content: msg.Content}
		for _, img := range msg.Images {
			desc, err := m.cfg.LLM.Complete(ctx, []llm.Message{
				{Role: "user", Content: imagePrompt, Images: []string{img}},
			}, llm.Options{})
			if err != nil {
				return nil, fmt.Errorf("describe image: %w", err)
			}
			if desc = strings.TrimSpace(desc); desc == "" {
				continue
			}
			if out[i].Content != "" {
				out[i].Content += "\n"
			}
			out[i].Content += desc
		}
	}
	return out, nil
}

// categorize returns a copy of metadata with the categories of text added.
// A failed categorization is logged and the memory is stored without them.
func (m *Memory) categorize(ctx context.Context, text string, metadata map[string]any) map[string]any {
	zero := 0.0
	out, err := m.cfg.LLM.Complete(ctx, []llm.Message{
		{Role: "system", Content: categoryPrompt},
		{Role: "user", Content: text},
	}, llm.Options{JSON: true, Temperature: &zero})
	var cats []string
	if err == nil {
		cats, err = parseCategories(out)
	}
	if err != nil {
		m.logger.Warn("categorize memory failed", zap.Error(err))
		return metadata
	}
	if len(cats) == 0 {
		return metadata
	}

	md := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		md[k] = v
	}
	md[keyCategories] = cats
	return md
}

func (m *Memory) extractRelations(ctx context.Context, messages []Message) ([]graphstore.Relation, error) {
	conv := transcript(messages)
	if conv == "" {
		return nil, nil
	}
	out, err := m.cfg.GraphLLM.Complete(ctx, []llm.Message{
		{Role: "system", Content: relationPrompt(m.cfg.GraphCustomPrompt)},
		{Role: "user", Content: conv},
	}, llm.Options{JSON: true})
	if err != nil {
		return nil, fmt.Errorf("extract relations: %w", err)
	}
	return parseRelations(out)
}

// Search returns the memories most similar to query, by descending score.
func (m *Memory) Search(ctx context.Context, query string, opts SearchOptions) (*SearchResult, error) {
	if !opts.Filters.hasScope() {
		return nil, ErrMissingScope
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	vectors, err := m.cfg.Embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embed query: empty embedding result")
	}
	hits, err := m.cfg.VectorStore.Query(ctx, vectors[0], vectorstore.Filters(opts.Filters), limit)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}

	result := &SearchResult{Results: make([]MemoryItem, 0, len(hits))}
	for _, h := range hits {
		result.Results = append(result.Results, toItem(h))
	}
	sort.SliceStable(result.Results, func(i, j int) bool {
		return scoreOf(result.Results[i]) > scoreOf(result.Results[j])
	})

	if m.cfg.GraphStore != nil {
		rels, err := m.cfg.GraphStore.QueryRelations(ctx, opts.Filters.graph(), limit)
		if err != nil {
			m.logger.Warn("graph search failed", zap.Error(err))
		} else {
			result.Relations = rels
		}
	}
	return result, nil
}

// Get returns one memory.
func (m *Memory) Get(ctx context.Context, id string) (*MemoryItem, error) {
	r, err := m.cfg.VectorStore.Get(ctx, id)
	if errors.Is(err, vectorstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get memory %s: %w", id, err)
	}
	item := toItem(*r)
	return &item, nil
}

// GetAll lists the memories of a scope.
func (m *Memory) GetAll(ctx context.Context, filters SearchFilters, limit int) (*SearchResult, error) {
	if !filters.hasScope() {
		return nil, ErrMissingScope
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	list, err := m.cfg.VectorStore.List(ctx, vectorstore.Filters(filters), limit)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	result := &SearchResult{Results: make([]MemoryItem, 0, len(list))}
	for _, r := range list {
		result.Results = append(result.Results, toItem(r))
	}
	if m.cfg.GraphStore != nil {
		rels, err := m.cfg.GraphStore.QueryRelations(ctx, filters.graph(), limit)
		if err != nil {
			m.logger.Warn("graph listing failed", zap.Error(err))
		} else {
			result.Relations = rels
		}
	}
	return result, nil
}

// Update replaces the text of a memory and re-embeds it.
func (m *Memory) Update(ctx context.Context, id, text string) (*MemoryItem, error) {
	r, err := m.cfg.VectorStore.Get(ctx, id)
	if errors.Is(err, vectorstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get memory %s: %w", id, err)
	}

	vectors, err := m.cfg.Embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed memory: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embed memory: empty embedding result")
	}

	prev, _ := r.Payload[keyData].(string)
	now := m.now().UTC()
	payload := make(map[string]any, len(r.Payload)+1)
	for k, v := range r.Payload {
		payload[k] = v
	}
	payload[keyData] = text
	payload[keyHash] = hash(text)
	payload[keyUpdatedAt] = now.Format(time.RFC3339)

	if err := m.cfg.VectorStore.Upsert(ctx, id, vectors[0], payload); err != nil {
		return nil, fmt.Errorf("update memory %s: %w", id, err)
	}
	m.record(ctx, history.Entry{
		MemoryID: id, PreviousValue: prev, NewValue: text,
		Action: history.ActionUpdate, UpdatedAt: &now,
	})
	item := toItem(vectorstore.Result{ID: id, Payload: payload})
	return &item, nil
}

// Delete removes one memory.
func (m *Memory) Delete(ctx context.Context, id string) error {
	r, err := m.cfg.VectorStore.Get(ctx, id)
	if errors.Is(err, vectorstore.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get memory %s: %w", id, err)
	}
	if err := m.cfg.VectorStore.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete memory %s: %w", id, err)
	}
	prev, _ := r.Payload[keyData].(string)
	m.record(ctx, history.Entry{MemoryID: id, PreviousValue: prev, Action: history.ActionDelete, IsDeleted: true})
	return nil
}

// DeleteAll removes every memory of a scope and its graph entities. It
// returns the number of memories deleted.
func (m *Memory) DeleteAll(ctx context.Context, filters SearchFilters) (int, error) {
	if !filters.hasScope() {
		return 0, ErrMissingScope
	}
	list, err := m.cfg.VectorStore.List(ctx, vectorstore.Filters(filters), 0)
	if err != nil {
		return 0, fmt.Errorf("list memories: %w", err)
	}
	for _, r := range list {
		if err := m.cfg.VectorStore.Delete(ctx, r.ID); err != nil {
			return 0, fmt.Errorf("delete memory %s: %w", r.ID, err)
		}
		prev, _ := r.Payload[keyData].(string)
		m.record(ctx, history.Entry{MemoryID: r.ID, PreviousValue: prev, Action: history.ActionDelete, IsDeleted: true})
	}
	if m.cfg.GraphStore != nil {
		if err := m.cfg.GraphStore.DeleteRelations(ctx, filters.graph()); err != nil {
			return len(list), fmt.Errorf("delete relations: %w", err)
		}
	}
	return len(list), nil
}

// History returns the recorded mutations of a memory, oldest first.
func (m *Memory) History(ctx context.Context, id string) ([]history.Entry, error) {
	return m.history.List(ctx, id)
}

// Reset drops every memory, relation and history entry.
func (m *Memory) Reset(ctx context.Context) error {
	if err := m.cfg.VectorStore.Reset(ctx); err != nil {
		return fmt.Errorf("reset vector store: %w", err)
	}
	if m.cfg.GraphStore != nil {
		if err := m.cfg.GraphStore.DeleteRelations(ctx, nil); err != nil {
			return fmt.Errorf("reset graph store: %w", err)
		}
	}
	if err := m.history.Reset(ctx); err != nil {
		return fmt.Errorf("reset history: %w", err)
	}
	m.logger.Info("memory reset", zap.String("collection", m.cfg.CollectionName))
	return nil
}

// Close releases the history store and every provider.
func (m *Memory) Close() error {
	return errors.Join(m.history.Close(), m.cfg.Close())
}

// record writes a history entry. Failures are logged, not returned: the
// memory mutation has already happened.
func (m *Memory) record(ctx context.Context, e history.Entry) {
	if err := m.history.Add(ctx, e); err != nil {
		m.logger.Warn("history write failed", zap.String("memory_id", e.MemoryID), zap.Error(err))
	}
}

func hash(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

func scoreOf(item MemoryItem) float64 {
	if item.Score == nil {
		return 0
	}
	return *item.Score
}
