package graphstore

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"hcme/internal/herr"
)

// MemoryGateway is an in-memory Gateway used by tests and by any
// deployment that wants to exercise HCME without a live Postgres/Qdrant
// pair. Grounded on the teacher's memory_graph.go/memory_vector.go
// fallback backends: a map-backed store behind the same interface as the
// production implementation.
type MemoryGateway struct {
	mu sync.RWMutex

	conversations map[string]Conversation
	messages      map[string]Message              // by message uuid
	messagesByConv map[string][]string             // conv -> ordered message uuids (insertion order)
	toolCalls     map[string][]ToolCall            // by message uuid
	toolResults   map[string]ToolResult            // by tool call uuid
	summaries     map[string]Summary               // by summary uuid
	summariesByConv map[string][]string            // conv -> summary uuids (insertion order)
	files         map[string]string                // normalized path -> file node id
	scopes        map[string]Scope                 // by scope node id

	// vectorIndexes is nil-valued for an unregistered index name so
	// VectorQuery can distinguish "no such index" from "index, no hits".
	vectorIndexes map[string]*memoryVectorIndex
}

// NewMemoryGateway constructs an empty in-memory Gateway with the three
// named vector indexes spec.md §6 requires, all initially registered
// (production deployments that omit an index get ErrVectorIndexNotFound
// instead; tests using MemoryGateway can delete an index to exercise
// that path — see DeleteVectorIndex).
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		conversations:  map[string]Conversation{},
		messages:       map[string]Message{},
		messagesByConv: map[string][]string{},
		toolCalls:      map[string][]ToolCall{},
		toolResults:    map[string]ToolResult{},
		summaries:      map[string]Summary{},
		summariesByConv: map[string][]string{},
		files:          map[string]string{},
		scopes:         map[string]Scope{},
		vectorIndexes: map[string]*memoryVectorIndex{
			IndexMessageEmbedding: newMemoryVectorIndex(),
			IndexSummaryEmbedding: newMemoryVectorIndex(),
			IndexScopeEmbedding:   newMemoryVectorIndex(),
		},
	}
}

// DeleteVectorIndex removes a named index so VectorQuery reports
// herr.ErrVectorIndexNotFound for it, exercising the retriever's
// fallback-to-linear-cosine path (spec.md scenario 5).
func (g *MemoryGateway) DeleteVectorIndex(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.vectorIndexes, name)
}

func (g *MemoryGateway) CreateConversation(ctx context.Context, c Conversation) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.conversations[c.UUID]; exists {
		return nil // idempotent create
	}
	g.conversations[c.UUID] = c
	return nil
}

func (g *MemoryGateway) GetConversation(ctx context.Context, id string) (Conversation, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.conversations[id]
	if !ok {
		return Conversation{}, herr.ErrNotFound
	}
	return c, nil
}

func (g *MemoryGateway) IncrementCounters(ctx context.Context, conversationID string, charDelta, messageDelta int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.conversations[conversationID]
	if !ok {
		return herr.ErrNotFound
	}
	c.TotalChars += charDelta
	c.MessageCount += messageDelta
	g.conversations[conversationID] = c
	return nil
}

func (g *MemoryGateway) DeleteConversation(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.conversations, id)
	for _, mid := range g.messagesByConv[id] {
		delete(g.messages, mid)
		for _, tc := range g.toolCalls[mid] {
			delete(g.toolResults, tc.UUID)
		}
		delete(g.toolCalls, mid)
	}
	delete(g.messagesByConv, id)
	for _, sid := range g.summariesByConv[id] {
		delete(g.summaries, sid)
	}
	delete(g.summariesByConv, id)
	return nil
}

func (g *MemoryGateway) StoreMessage(ctx context.Context, m Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.messages[m.UUID]; !exists {
		g.messagesByConv[m.ConversationID] = append(g.messagesByConv[m.ConversationID], m.UUID)
	}
	g.messages[m.UUID] = m
	return nil
}

func (g *MemoryGateway) StoreToolCall(ctx context.Context, tc ToolCall) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	calls := g.toolCalls[tc.MessageID]
	for i, existing := range calls {
		if existing.UUID == tc.UUID {
			calls[i] = tc
			g.toolCalls[tc.MessageID] = calls
			return nil
		}
	}
	g.toolCalls[tc.MessageID] = append(calls, tc)
	return nil
}

func (g *MemoryGateway) StoreToolResult(ctx context.Context, tr ToolResult) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.toolResults[tr.ToolCallID] = tr
	return nil
}

func (g *MemoryGateway) GetMessages(ctx context.Context, conversationID string, limit int, includeToolCalls bool) ([]MessageRecord, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := g.messagesByConv[conversationID]
	sorted := make([]Message, 0, len(ids))
	for _, id := range ids {
		sorted = append(sorted, g.messages[id])
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[len(sorted)-limit:]
	}
	out := make([]MessageRecord, 0, len(sorted))
	for _, m := range sorted {
		rec := MessageRecord{Message: m}
		if includeToolCalls {
			calls := append([]ToolCall(nil), g.toolCalls[m.UUID]...)
			sort.SliceStable(calls, func(i, j int) bool { return calls[i].Timestamp.Before(calls[j].Timestamp) })
			rec.ToolCalls = calls
			rec.ToolResults = map[string]ToolResult{}
			for _, tc := range calls {
				if tr, ok := g.toolResults[tc.UUID]; ok {
					rec.ToolResults[tc.UUID] = tr
				}
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func (g *MemoryGateway) StoreSummary(ctx context.Context, s Summary) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.summaries[s.UUID]; !exists {
		g.summariesByConv[s.ConversationID] = append(g.summariesByConv[s.ConversationID], s.UUID)
	}
	g.summaries[s.UUID] = s
	return nil
}

func (g *MemoryGateway) LatestSummary(ctx context.Context, conversationID string, level SummaryLevel) (Summary, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var latest Summary
	found := false
	for _, sid := range g.summariesByConv[conversationID] {
		s := g.summaries[sid]
		if s.Level != level {
			continue
		}
		if !found || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
			found = true
		}
	}
	return latest, found, nil
}

func (g *MemoryGateway) ListSummaries(ctx context.Context, conversationID string, level SummaryLevel) ([]Summary, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := []Summary{}
	for _, sid := range g.summariesByConv[conversationID] {
		s := g.summaries[sid]
		if s.Level == level {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CharRangeStart < out[j].CharRangeStart })
	return out, nil
}

// MergeSummarizesEdges is a no-op on the in-memory gateway: edges are not
// modeled as separate records here (the Summary.ParentSummaries field and
// StoreSummary already capture the relationship this would create). Real
// Gateways persist the SUMMARIZES edges explicitly.
func (g *MemoryGateway) MergeSummarizesEdges(ctx context.Context, summaryID string, targetIDs []string) error {
	return nil
}

// MergeMentionsFileEdges is likewise a no-op here; see MergeSummarizesEdges.
func (g *MemoryGateway) MergeMentionsFileEdges(ctx context.Context, summaryID string, fileIDs []string) error {
	return nil
}

func (g *MemoryGateway) ResolveFile(ctx context.Context, candidates []string) (string, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, c := range candidates {
		if id, ok := g.files[normalizeFileKey(c)]; ok {
			return id, true, nil
		}
	}
	return "", false, nil
}

// RegisterFile lets tests seed a File node resolvable by ResolveFile.
func (g *MemoryGateway) RegisterFile(path, id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.files[normalizeFileKey(path)] = id
}

func normalizeFileKey(p string) string { return strings.TrimPrefix(p, "/") }

func (g *MemoryGateway) GetScope(ctx context.Context, id string) (Scope, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.scopes[id]
	return s, ok, nil
}

// RegisterScope lets tests and the ingestion pipeline seed a Scope node
// resolvable by GetScope.
func (g *MemoryGateway) RegisterScope(s Scope) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scopes[s.UUID] = s
}

func (g *MemoryGateway) UpdateEmbedding(ctx context.Context, label, id string, vector []float32) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch label {
	case LabelMessage:
		if m, ok := g.messages[id]; ok {
			m.Embedding = vector
			g.messages[id] = m
		}
	case LabelSummary:
		if s, ok := g.summaries[id]; ok {
			s.Embedding = vector
			g.summaries[id] = s
		}
	}
	return nil
}

func (g *MemoryGateway) NodesWithEmbeddings(ctx context.Context, conversationID string, label string, level SummaryLevel) ([]EmbeddedNode, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := []EmbeddedNode{}
	switch label {
	case LabelMessage:
		for _, id := range g.messagesByConv[conversationID] {
			m := g.messages[id]
			if len(m.Embedding) > 0 {
				out = append(out, EmbeddedNode{ID: m.UUID, Label: LabelMessage, Embedding: m.Embedding})
			}
		}
	case LabelSummary:
		for _, sid := range g.summariesByConv[conversationID] {
			s := g.summaries[sid]
			if s.Level == level && len(s.Embedding) > 0 {
				out = append(out, EmbeddedNode{ID: s.UUID, Label: LabelSummary, Level: s.Level, Embedding: s.Embedding})
			}
		}
	}
	return out, nil
}

func (g *MemoryGateway) VectorQuery(ctx context.Context, indexName string, vector []float32, topK int, filter map[string]string) ([]VectorHit, error) {
	g.mu.RLock()
	idx, ok := g.vectorIndexes[indexName]
	g.mu.RUnlock()
	if !ok {
		return nil, herr.ErrVectorIndexNotFound
	}
	return idx.query(vector, topK, filter)
}

// VectorIndex returns the named in-memory index for tests to seed
// directly via Upsert, bypassing the Gateway interface.
func (g *MemoryGateway) VectorIndex(name string) VectorIndex {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, ok := g.vectorIndexes[name]
	if !ok {
		return nil
	}
	return idx
}

// memoryVectorIndex is a brute-force VectorIndex used by MemoryGateway
// and directly in unit tests of the Semantic Retriever.
type memoryVectorIndex struct {
	mu      sync.RWMutex
	vectors map[string][]float32
	meta    map[string]map[string]string
}

func newMemoryVectorIndex() *memoryVectorIndex {
	return &memoryVectorIndex{vectors: map[string][]float32{}, meta: map[string]map[string]string{}}
}

func (idx *memoryVectorIndex) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.vectors[id] = vector
	idx.meta[id] = metadata
	return nil
}

func (idx *memoryVectorIndex) Query(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]VectorHit, error) {
	return idx.query(vector, topK, filter)
}

func (idx *memoryVectorIndex) query(vector []float32, topK int, filter map[string]string) ([]VectorHit, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	hits := make([]VectorHit, 0, len(idx.vectors))
	for id, v := range idx.vectors {
		if !matchesFilter(idx.meta[id], filter) {
			continue
		}
		hits = append(hits, VectorHit{ID: id, Score: CosineSimilarity(vector, v)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func matchesFilter(meta map[string]string, filter map[string]string) bool {
	for k, v := range filter {
		if meta[k] != v {
			return false
		}
	}
	return true
}

// CosineSimilarity computes cosine similarity between two vectors of
// equal length, returning 0 for mismatched or zero-norm vectors. Shared
// by the in-memory vector index and the Semantic Retriever's linear
// fallback path (spec.md §4.8).
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
