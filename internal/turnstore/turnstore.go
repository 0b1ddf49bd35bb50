// Package turnstore persists conversations, messages, tool calls and
// tool results, and reconstructs virtual turns from a message stream
// (spec.md §4.3). It holds its own Gateway handle rather than
// participating in any shared-storage cycle, per spec.md's REDESIGN
// FLAGS note on replacing "cyclic references through a shared storage
// handle" with explicit dependency injection — grounded on the
// teacher's chat_store_postgres.go, which wraps a store handle behind a
// small typed API instead of passing raw SQL around.
package turnstore

import (
	"context"
	"fmt"
	"time"

	"hcme/internal/accounting"
	"hcme/internal/graphstore"
	"hcme/internal/identity"
)

// Store is the Turn Store (spec.md §4.3): a thin, typed layer over a
// graphstore.Gateway.
type Store struct {
	gw graphstore.Gateway
}

func New(gw graphstore.Gateway) *Store {
	return &Store{gw: gw}
}

// StoreMessage always derives a deterministic id from (conversation,
// ordinal, role); it accepts no caller-supplied id. It computes
// char_count, persists the message, and bumps the parent
// conversation's counters in the same call (spec.md §4.2: "message_count
// and total_chars strictly monotonic").
func (s *Store) StoreMessage(ctx context.Context, conversationID string, ordinal int, role graphstore.MessageRole, content, reasoning string, ts time.Time) (graphstore.Message, error) {
	m := graphstore.Message{
		UUID:           identity.MessageID(conversationID, ordinal, string(role)),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Reasoning:      reasoning,
		Timestamp:      ts,
		CharCount:      accounting.MessageCharCount(content, reasoning),
	}
	if err := s.gw.StoreMessage(ctx, m); err != nil {
		return graphstore.Message{}, fmt.Errorf("turnstore: store message: %w", err)
	}
	if err := s.gw.IncrementCounters(ctx, conversationID, m.CharCount, 1); err != nil {
		return graphstore.Message{}, fmt.Errorf("turnstore: increment counters: %w", err)
	}
	return m, nil
}

// StoreToolCall persists a tool call made by an assistant message.
func (s *Store) StoreToolCall(ctx context.Context, messageID, toolName string, callIndex int, arguments string, ts time.Time, durationMS int64, success bool, iteration *int) (graphstore.ToolCall, error) {
	tc := graphstore.ToolCall{
		UUID:       identity.ToolCallID(messageID, toolName, callIndex),
		MessageID:  messageID,
		ToolName:   toolName,
		Arguments:  arguments,
		Timestamp:  ts,
		DurationMS: durationMS,
		Success:    success,
		Iteration:  iteration,
	}
	if err := s.gw.StoreToolCall(ctx, tc); err != nil {
		return graphstore.ToolCall{}, fmt.Errorf("turnstore: store tool call: %w", err)
	}
	return tc, nil
}

// StoreToolResult persists the outcome of a tool call.
func (s *Store) StoreToolResult(ctx context.Context, toolCallID, result, errMsg string, success bool, ts time.Time) (graphstore.ToolResult, error) {
	tr := graphstore.ToolResult{
		UUID:            identity.ToolResultID(toolCallID),
		ToolCallID:      toolCallID,
		Success:         success,
		Result:          result,
		Error:           errMsg,
		Timestamp:       ts,
		ResultSizeBytes: len(result),
	}
	if err := s.gw.StoreToolResult(ctx, tr); err != nil {
		return graphstore.ToolResult{}, fmt.Errorf("turnstore: store tool result: %w", err)
	}
	return tr, nil
}

// GetMessages returns the last `limit` messages in timestamp order (0
// means unbounded), optionally attaching tool calls and results.
func (s *Store) GetMessages(ctx context.Context, conversationID string, limit int, includeToolCalls bool) ([]graphstore.MessageRecord, error) {
	records, err := s.gw.GetMessages(ctx, conversationID, limit, includeToolCalls)
	if err != nil {
		return nil, fmt.Errorf("turnstore: get messages: %w", err)
	}
	return records, nil
}

func (s *Store) DeleteConversation(ctx context.Context, conversationID string) error {
	if err := s.gw.DeleteConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("turnstore: delete conversation: %w", err)
	}
	return nil
}

// MessagesToTurns groups a timestamp-ordered message stream into turns:
// a user message opens a turn and every following non-user message joins
// it, up to but excluding the next user message; tool calls attached to
// each assistant member aggregate in order; the turn's final assistant
// content is the last non-empty assistant content within the group, with
// `Reasoning`/`Timestamp` taken from that same member. A group with no
// following assistant content and no tool calls is discarded — this
// drops a trailing user message still awaiting a reply, so it cannot be
// counted as a turn by the trigger or display paths until the reply
// lands (spec.md §4.3). Leading non-user messages before the first user
// message form their own candidate group, subject to the same discard
// rule.
func MessagesToTurns(records []graphstore.MessageRecord) []accounting.Turn {
	var turns []accounting.Turn
	for _, rec := range records {
		isUser := rec.Message.Role == graphstore.RoleUser
		if isUser || len(turns) == 0 {
			turns = append(turns, accounting.Turn{StartTime: rec.Message.Timestamp.UnixNano()})
		}
		last := &turns[len(turns)-1]
		last.Messages = append(last.Messages, rec)
	}

	complete := make([]accounting.Turn, 0, len(turns))
	for _, t := range turns {
		hasToolCalls := false
		var finalContent, finalReasoning string
		var finalTimestamp time.Time
		for _, rec := range t.Messages {
			if len(rec.ToolCalls) > 0 {
				hasToolCalls = true
			}
			if rec.Message.Role == graphstore.RoleAssistant && rec.Message.Content != "" {
				finalContent = rec.Message.Content
				finalReasoning = rec.Message.Reasoning
				finalTimestamp = rec.Message.Timestamp
			}
		}
		if finalContent == "" && !hasToolCalls {
			continue
		}
		t.FinalContent = finalContent
		t.Reasoning = finalReasoning
		if !finalTimestamp.IsZero() {
			t.Timestamp = finalTimestamp.UnixNano()
		}
		complete = append(complete, t)
	}
	return complete
}
