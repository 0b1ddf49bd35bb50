package graphstore

import "context"

// VectorHit is a single nearest-neighbor hit from a named vector index.
type VectorHit struct {
	ID    string
	Score float64 // higher is closer
}

// VectorIndex is a pluggable named-vector-index backend (one Qdrant
// collection per index name in production; an in-memory brute-force
// index in tests). Gateway.VectorQuery dispatches to one of these by
// name and returns herr.ErrVectorIndexNotFound when the name is
// unregistered, so the Semantic Retriever can fall back to linear
// cosine search (spec.md §4.8 fallback rule); the Code Searcher returns
// the error to its caller.
type VectorIndex interface {
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error
	Query(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]VectorHit, error)
}

// EmbeddedNode is a node carrying a non-null embedding, as enumerated by
// Gateway.NodesWithEmbeddings for the linear-cosine fallback path.
type EmbeddedNode struct {
	ID        string
	Label     string
	Level     SummaryLevel // 0 for Message nodes; meaningful for Summary nodes
	Embedding []float32
}

// MessageRecord pairs a Message with its attached tool calls and results,
// as returned by Gateway.GetMessages (spec.md §4.3).
type MessageRecord struct {
	Message    Message
	ToolCalls  []ToolCall
	ToolResults map[string]ToolResult // keyed by ToolCall.UUID
}

// Gateway is the typed façade over the graph database (spec.md §4.1).
// Implementations never retry internally; every method returns the
// underlying error unwrapped so callers can dispatch via errors.Is on the
// herr sentinels (ErrNotFound, ErrConstraintViolation, ...).
type Gateway interface {
	// Conversation lifecycle.
	CreateConversation(ctx context.Context, c Conversation) error
	GetConversation(ctx context.Context, id string) (Conversation, error)
	IncrementCounters(ctx context.Context, conversationID string, charDelta, messageDelta int) error
	DeleteConversation(ctx context.Context, id string) error

	// Turn Store writes (spec.md §4.3).
	StoreMessage(ctx context.Context, m Message) error
	StoreToolCall(ctx context.Context, tc ToolCall) error
	StoreToolResult(ctx context.Context, tr ToolResult) error
	GetMessages(ctx context.Context, conversationID string, limit int, includeToolCalls bool) ([]MessageRecord, error)

	// Summarization writes/reads (spec.md §4.5).
	StoreSummary(ctx context.Context, s Summary) error
	LatestSummary(ctx context.Context, conversationID string, level SummaryLevel) (Summary, bool, error)
	ListSummaries(ctx context.Context, conversationID string, level SummaryLevel) ([]Summary, error)
	MergeSummarizesEdges(ctx context.Context, summaryID string, targetIDs []string) error
	MergeMentionsFileEdges(ctx context.Context, summaryID string, fileIDs []string) error
	ResolveFile(ctx context.Context, candidates []string) (fileID string, found bool, err error)

	// GetScope fetches a Scope node's full body (file, line range, name,
	// type, source) by id, for resolving a scope_embedding_content_vector
	// hit into a codesearch.CodeUnit (spec.md §4.9).
	GetScope(ctx context.Context, id string) (Scope, bool, error)

	// Embeddings (spec.md §4.1, I4).
	UpdateEmbedding(ctx context.Context, label, id string, vector []float32) error
	NodesWithEmbeddings(ctx context.Context, conversationID string, label string, level SummaryLevel) ([]EmbeddedNode, error)

	// Vector indexes (spec.md §6). Returns herr.ErrVectorIndexNotFound if
	// indexName is not registered.
	VectorQuery(ctx context.Context, indexName string, vector []float32, topK int, filter map[string]string) ([]VectorHit, error)
}
