package accounting

import (
	"testing"

	"hcme/internal/graphstore"
)

func TestMessageCharCount_ExcludesToolWeight(t *testing.T) {
	if got := MessageCharCount("hello", ""); got != 5 {
		t.Fatalf("MessageCharCount() = %d, want 5", got)
	}
	if got := MessageCharCount("hi", "because"); got != 9 {
		t.Fatalf("MessageCharCount() = %d, want 9", got)
	}
}

func TestMessageCharCount_NilReasoningIsContentOnly(t *testing.T) {
	// B3: reasoning = null => char_count = |content|.
	if got := MessageCharCount("exactly ten", ""); got != len("exactly ten") {
		t.Fatalf("MessageCharCount() = %d, want %d", got, len("exactly ten"))
	}
}

func TestTurnWeight_IncludesReasoningAndToolCalls(t *testing.T) {
	turn := Turn{
		Messages: []graphstore.MessageRecord{
			{
				Message: graphstore.Message{UUID: "u1", Role: graphstore.RoleUser, Content: "hi"},
			},
			{
				Message: graphstore.Message{UUID: "a1", Role: graphstore.RoleAssistant, Content: "hello", Reasoning: "thinking"},
				ToolCalls: []graphstore.ToolCall{
					{UUID: "tc1", ToolName: "search", Arguments: `{"q":"x"}`},
				},
				ToolResults: map[string]graphstore.ToolResult{
					"tc1": {ToolCallID: "tc1", Result: "ok", Error: ""},
				},
			},
		},
	}
	got := TurnWeight(turn)
	want := MessageCharCount("hi", "") + MessageCharCount("hello", "thinking") +
		ToolCallWeight("search", `{"q":"x"}`, `"ok"`, "")
	if got != want {
		t.Fatalf("TurnWeight() = %d, want %d", got, want)
	}
}

func TestTurnWeight_EmptyToolResultContributesZero(t *testing.T) {
	turn := Turn{
		Messages: []graphstore.MessageRecord{
			{
				Message: graphstore.Message{UUID: "a1", Role: graphstore.RoleAssistant, Content: "x"},
				ToolCalls: []graphstore.ToolCall{
					{UUID: "tc1", ToolName: "t"},
				},
			},
		},
	}
	got := TurnWeight(turn)
	want := MessageCharCount("x", "") + ToolCallWeight("t", "", "", "")
	if got != want {
		t.Fatalf("TurnWeight() = %d, want %d", got, want)
	}
}
