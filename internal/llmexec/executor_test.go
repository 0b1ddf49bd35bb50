package llmexec

import (
	"context"
	"testing"

	"hcme/internal/config"
	"hcme/internal/llm"
)

type fakeProvider struct {
	responses []llm.Response
	calls     int
}

func (f *fakeProvider) Chat(ctx context.Context, req llm.Request) (llm.Response, error) {
	if f.calls >= len(f.responses) {
		return f.responses[len(f.responses)-1], nil
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

func TestRunSingle_TerminatesOnValidOutputNoTools(t *testing.T) {
	provider := &fakeProvider{responses: []llm.Response{
		{Content: `{"conversation_summary":"a","actions_summary":"b"}`},
	}}
	exec := New(provider, config.Default())

	result, err := exec.RunSingle(context.Background(), SingleRequest{
		SystemPrompt:   "summarize",
		UserTask:       "turns",
		RequiredFields: []string{"conversation_summary", "actions_summary"},
	})
	if err != nil {
		t.Fatalf("RunSingle() error = %v", err)
	}
	if result.Iterations != 1 {
		t.Fatalf("Iterations = %d, want 1", result.Iterations)
	}
	if result.Parsed["conversation_summary"] != "a" {
		t.Fatalf("Parsed[conversation_summary] = %v, want a", result.Parsed["conversation_summary"])
	}
}

func TestRunSingle_ExecutesToolsThenTerminates(t *testing.T) {
	provider := &fakeProvider{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "1", Name: "echo", Args: map[string]any{"x": "y"}}}},
		{Content: `{"conversation_summary":"a","actions_summary":"b"}`},
	}}
	exec := New(provider, config.Default())

	called := false
	result, err := exec.RunSingle(context.Background(), SingleRequest{
		SystemPrompt: "summarize",
		UserTask:     "turns",
		Tools: []Tool{{
			Schema: llm.ToolSchema{Name: "echo"},
			Run: func(ctx context.Context, args map[string]any) (string, error) {
				called = true
				return "ok", nil
			},
		}},
		RequiredFields: []string{"conversation_summary"},
	})
	if err != nil {
		t.Fatalf("RunSingle() error = %v", err)
	}
	if !called {
		t.Fatalf("tool was never executed")
	}
	if result.ToolsCalled != 1 {
		t.Fatalf("ToolsCalled = %d, want 1", result.ToolsCalled)
	}
}

func TestRunSingle_ProgressiveOutputAccumulatesAndTerminatesOnCompletionValue(t *testing.T) {
	provider := &fakeProvider{responses: []llm.Response{
		{Content: `{"status":"in_progress","findings":"a"}`},
		{Content: `{"status":"done","more":"b"}`},
	}}
	exec := New(provider, config.Default())

	var progressCalls int
	result, err := exec.RunSingle(context.Background(), SingleRequest{
		SystemPrompt:      "find things",
		UserTask:          "go",
		ProgressiveOutput: true,
		CompletionField:   "status",
		CompletionValues:  []string{"done"},
		OnProgress: func(iteration int, partial map[string]any) {
			progressCalls++
		},
	})
	if err != nil {
		t.Fatalf("RunSingle() error = %v", err)
	}
	if result.Iterations != 2 {
		t.Fatalf("Iterations = %d, want 2", result.Iterations)
	}
	if progressCalls != 2 {
		t.Fatalf("progressCalls = %d, want 2", progressCalls)
	}
	if result.Parsed["findings"] != "a" || result.Parsed["more"] != "b" || result.Parsed["status"] != "done" {
		t.Fatalf("Parsed = %+v, want fields accumulated across both iterations", result.Parsed)
	}
}

func TestRunSingle_CompressesToolContextOnceThresholdCrossed(t *testing.T) {
	cfg := config.Default()
	cfg.ToolContextSummarizeThreshold = 1 // any tool result crosses it

	provider := &fakeProvider{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "1", Name: "echo", Args: map[string]any{}}}},
		{Content: `{"resources":["r1"],"findings":["f1"]}`}, // compression call's response
		{Content: `{"conversation_summary":"a","actions_summary":"b"}`},
	}}
	exec := New(provider, cfg)

	result, err := exec.RunSingle(context.Background(), SingleRequest{
		SystemPrompt: "summarize",
		UserTask:     "turns",
		Tools: []Tool{{
			Schema: llm.ToolSchema{Name: "echo"},
			Run: func(ctx context.Context, args map[string]any) (string, error) {
				return "some tool output long enough to cross the threshold", nil
			},
		}},
		RequiredFields: []string{"conversation_summary"},
	})
	if err != nil {
		t.Fatalf("RunSingle() error = %v", err)
	}
	if result.Iterations != 2 {
		t.Fatalf("Iterations = %d, want 2", result.Iterations)
	}
	if provider.calls != 3 {
		t.Fatalf("provider.calls = %d, want 3 (tool-call iteration, compression call, final iteration)", provider.calls)
	}
}

func TestRunSingleInto_DecodesTypedStruct(t *testing.T) {
	provider := &fakeProvider{responses: []llm.Response{
		{Content: `{"conversation_summary":"hi","actions_summary":"did x"}`},
	}}
	exec := New(provider, config.Default())

	var out struct {
		ConversationSummary string `json:"conversation_summary"`
		ActionsSummary       string `json:"actions_summary"`
	}
	err := exec.RunSingleInto(context.Background(), SingleRequest{
		SystemPrompt:   "summarize",
		UserTask:       "turns",
		RequiredFields: []string{"conversation_summary", "actions_summary"},
	}, &out)
	if err != nil {
		t.Fatalf("RunSingleInto() error = %v", err)
	}
	if out.ConversationSummary != "hi" || out.ActionsSummary != "did x" {
		t.Fatalf("decoded = %+v", out)
	}
}

func TestPackBatches_RespectsItemCapAndTokenBudget(t *testing.T) {
	items := []BatchItem{
		{Index: 0, Prompt: "aaaa"},
		{Index: 1, Prompt: "bbbb"},
		{Index: 2, Prompt: "cccc"},
	}
	batches := packBatches(items, 2, 4, 2) // 2 tokens * 4 chars/token = 8 char budget, cap 2 items
	if len(batches) < 2 {
		t.Fatalf("expected packing to split into multiple batches, got %d", len(batches))
	}
	total := 0
	for _, b := range batches {
		total += len(b)
	}
	if total != len(items) {
		t.Fatalf("total packed items = %d, want %d", total, len(items))
	}
}
