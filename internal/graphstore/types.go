// Package graphstore is the thin typed façade over the graph database
// HCME uses to persist conversations, messages, tool calls/results, and
// summaries (spec.md §4.1, §6). It never retries internally; callers
// decide disposition per spec.md §7.
//
// Grounded on the teacher's internal/persistence/databases package:
// postgres_graph.go (pgx-backed nodes/edges tables with JSONB props) and
// qdrant_vector.go (named vector collections, distinguishable
// not-found). The in-memory fallback mirrors memory_graph.go/
// memory_vector.go.
package graphstore

import "time"

// Node labels (spec.md §6).
const (
	LabelConversation = "Conversation"
	LabelMessage      = "Message"
	LabelToolCall     = "ToolCall"
	LabelToolResult   = "ToolResult"
	LabelSummary      = "Summary"
	LabelFile         = "File"
	LabelScope        = "Scope"
)

// Relation types (spec.md §6).
const (
	RelHasMessage    = "HAS_MESSAGE"
	RelMadeToolCall  = "MADE_TOOL_CALL"
	RelProducedResult = "PRODUCED_RESULT"
	RelHasSummary    = "HAS_SUMMARY"
	RelSummarizes    = "SUMMARIZES"
	RelMentionsFile  = "MENTIONS_FILE"
)

// Named vector indexes (spec.md §6).
const (
	IndexMessageEmbedding = "message_embedding_index"
	IndexSummaryEmbedding = "summary_embedding_index"
	IndexScopeEmbedding   = "scope_embedding_content_vector"
)

// ConversationStatus enumerates the Conversation lifecycle (spec.md §3).
type ConversationStatus string

const (
	StatusActive   ConversationStatus = "active"
	StatusArchived ConversationStatus = "archived"
)

// MessageRole enumerates valid Message.role values (spec.md §3).
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Conversation mirrors spec.md §3's Conversation entity.
type Conversation struct {
	UUID         string
	Title        string
	Tags         []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MessageCount int
	TotalChars   int
	Status       ConversationStatus
}

// Message mirrors spec.md §3's Message entity.
type Message struct {
	UUID           string
	ConversationID string
	Role           MessageRole
	Content        string
	Reasoning      string // empty string means "absent" (spec.md B3)
	Timestamp      time.Time
	CharCount      int
	Embedding      []float32 // nil if absent
}

// ToolCall mirrors spec.md §3's ToolCall entity.
type ToolCall struct {
	UUID       string
	MessageID  string
	ToolName   string
	Arguments  string // JSON
	Timestamp  time.Time
	DurationMS int64
	Success    bool
	Iteration  *int
}

// ToolResult mirrors spec.md §3's ToolResult entity.
type ToolResult struct {
	UUID            string
	ToolCallID      string
	Success         bool
	Result          string // JSON
	Error           string
	Timestamp       time.Time
	ResultSizeBytes int
}

// SummaryLevel is 1 or 2 (spec.md §3).
type SummaryLevel int

const (
	Level1 SummaryLevel = 1
	Level2 SummaryLevel = 2
)

// SummaryContent is the structured body of a Summary (spec.md §3).
type SummaryContent struct {
	ConversationSummary string
	ActionsSummary      string
}

// Summary mirrors spec.md §3's Summary entity.
type Summary struct {
	UUID             string
	ConversationID   string
	Level            SummaryLevel
	Content          SummaryContent
	StartTurnIndex   int
	EndTurnIndex     int
	CharRangeStart   int
	CharRangeEnd     int
	SummaryCharCount int
	CreatedAt        time.Time
	ParentSummaries  []string // uuids, non-empty for L2 only
	Embedding        []float32
}

// CharCount returns |conversation_summary| + |actions_summary| (spec.md
// I2/P4), computed in runes so multi-byte characters count once.
func (c SummaryContent) CharCount() int {
	return runeLen(c.ConversationSummary) + runeLen(c.ActionsSummary)
}

// Scope mirrors spec.md §4.9's code unit entity: a named, typed span of
// source in a file, produced by the (out-of-scope) ingestion pipeline
// and looked up by the Code Searcher behind a scope_embedding_content_vector
// hit's id.
type Scope struct {
	UUID      string
	File      string
	StartLine int
	EndLine   int
	Name      string
	Type      string // method, function, arrow, class, interface, type, variable, property
	Source    string
}

func runeLen(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}
