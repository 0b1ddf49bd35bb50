package turnstore

import (
	"context"
	"testing"
	"time"

	"hcme/internal/graphstore"
)

func newTestStore(t *testing.T) (*Store, *graphstore.MemoryGateway, string) {
	t.Helper()
	gw := graphstore.NewMemoryGateway()
	ctx := context.Background()
	convID := "conv-1"
	if err := gw.CreateConversation(ctx, graphstore.Conversation{UUID: convID, Status: graphstore.StatusActive}); err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	return New(gw), gw, convID
}

func TestStoreMessage_IncrementsCounters(t *testing.T) {
	store, gw, convID := newTestStore(t)
	ctx := context.Background()

	if _, err := store.StoreMessage(ctx, convID, 0, graphstore.RoleUser, "hi", "", time.Unix(0, 0)); err != nil {
		t.Fatalf("StoreMessage() error = %v", err)
	}
	if _, err := store.StoreMessage(ctx, convID, 1, graphstore.RoleAssistant, "hello", "", time.Unix(1, 0)); err != nil {
		t.Fatalf("StoreMessage() error = %v", err)
	}

	conv, err := gw.GetConversation(ctx, convID)
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if conv.MessageCount != 2 {
		t.Fatalf("MessageCount = %d, want 2", conv.MessageCount)
	}
	if conv.TotalChars != 7 {
		t.Fatalf("TotalChars = %d, want 7", conv.TotalChars)
	}
}

func TestStoreMessage_DeterministicIDsAreIdempotent(t *testing.T) {
	store, _, convID := newTestStore(t)
	ctx := context.Background()

	m1, err := store.StoreMessage(ctx, convID, 0, graphstore.RoleUser, "hi", "", time.Unix(0, 0))
	if err != nil {
		t.Fatalf("StoreMessage() error = %v", err)
	}
	m2, err := store.StoreMessage(ctx, convID, 0, graphstore.RoleUser, "hi", "", time.Unix(0, 0))
	if err != nil {
		t.Fatalf("StoreMessage() error = %v", err)
	}
	if m1.UUID != m2.UUID {
		t.Fatalf("StoreMessage() ids differ across identical retries: %q vs %q", m1.UUID, m2.UUID)
	}
}

func TestMessagesToTurns_GroupsUntilNextUser(t *testing.T) {
	base := time.Unix(0, 0)
	records := []graphstore.MessageRecord{
		{Message: graphstore.Message{Role: graphstore.RoleUser, Content: "hi", Timestamp: base}},
		{Message: graphstore.Message{Role: graphstore.RoleAssistant, Content: "hello", Timestamp: base.Add(time.Second)}},
		{Message: graphstore.Message{Role: graphstore.RoleUser, Content: "next", Timestamp: base.Add(2 * time.Second)}},
	}

	// The trailing "next" user message has no reply yet, so its group is
	// discarded (spec.md §4.3): only the first, complete turn survives.
	turns := MessagesToTurns(records)
	if len(turns) != 1 {
		t.Fatalf("len(turns) = %d, want 1", len(turns))
	}
	if len(turns[0].Messages) != 2 {
		t.Fatalf("len(turns[0].Messages) = %d, want 2", len(turns[0].Messages))
	}
	if turns[0].FinalContent != "hello" {
		t.Fatalf("turns[0].FinalContent = %q, want %q", turns[0].FinalContent, "hello")
	}
}

func TestMessagesToTurns_DiscardsTrailingUserMessageWithNoReply(t *testing.T) {
	base := time.Unix(0, 0)
	records := []graphstore.MessageRecord{
		{Message: graphstore.Message{UUID: "1", Role: graphstore.RoleUser, Content: "a", Timestamp: base}},
		{Message: graphstore.Message{UUID: "2", Role: graphstore.RoleAssistant, Content: "b", Timestamp: base.Add(time.Second)}},
		{Message: graphstore.Message{UUID: "3", Role: graphstore.RoleUser, Content: "c", Timestamp: base.Add(2 * time.Second)}},
	}

	turns := MessagesToTurns(records)
	if len(turns) != 1 {
		t.Fatalf("len(turns) = %d, want 1 (trailing lone user message discarded)", len(turns))
	}
	for _, turn := range turns {
		for _, rec := range turn.Messages {
			if rec.Message.UUID == "3" {
				t.Fatalf("message %q should have been discarded with its incomplete turn", rec.Message.UUID)
			}
		}
	}
}

func TestMessagesToTurns_KeepsGroupWithOnlyToolCallsAndNoAssistantContent(t *testing.T) {
	base := time.Unix(0, 0)
	records := []graphstore.MessageRecord{
		{Message: graphstore.Message{UUID: "1", Role: graphstore.RoleUser, Content: "a", Timestamp: base}},
		{
			Message:   graphstore.Message{UUID: "2", Role: graphstore.RoleAssistant, Content: "", Timestamp: base.Add(time.Second)},
			ToolCalls: []graphstore.ToolCall{{UUID: "tc1", ToolName: "search"}},
		},
	}

	turns := MessagesToTurns(records)
	if len(turns) != 1 {
		t.Fatalf("len(turns) = %d, want 1 (tool calls keep the group even with no final assistant content)", len(turns))
	}
	if turns[0].FinalContent != "" {
		t.Fatalf("turns[0].FinalContent = %q, want empty", turns[0].FinalContent)
	}
}

func TestMessagesToTurns_FinalContentIsLastNonEmptyAssistantMessage(t *testing.T) {
	// Multi-iteration agent response: intermediate assistant utterances and
	// a tool call precede the final answer (spec.md §4.3).
	base := time.Unix(0, 0)
	records := []graphstore.MessageRecord{
		{Message: graphstore.Message{Role: graphstore.RoleUser, Content: "q", Timestamp: base}},
		{Message: graphstore.Message{Role: graphstore.RoleAssistant, Content: "thinking...", Reasoning: "r1", Timestamp: base.Add(time.Second)}},
		{
			Message:   graphstore.Message{Role: graphstore.RoleAssistant, Content: "", Timestamp: base.Add(2 * time.Second)},
			ToolCalls: []graphstore.ToolCall{{UUID: "tc1", ToolName: "search"}},
		},
		{Message: graphstore.Message{Role: graphstore.RoleAssistant, Content: "final answer", Reasoning: "r2", Timestamp: base.Add(3 * time.Second)}},
	}

	turns := MessagesToTurns(records)
	if len(turns) != 1 {
		t.Fatalf("len(turns) = %d, want 1", len(turns))
	}
	turn := turns[0]
	if turn.FinalContent != "final answer" {
		t.Fatalf("FinalContent = %q, want %q", turn.FinalContent, "final answer")
	}
	if turn.Reasoning != "r2" {
		t.Fatalf("Reasoning = %q, want %q", turn.Reasoning, "r2")
	}
	if turn.Timestamp != base.Add(3*time.Second).UnixNano() {
		t.Fatalf("Timestamp = %d, want %d", turn.Timestamp, base.Add(3*time.Second).UnixNano())
	}
}
