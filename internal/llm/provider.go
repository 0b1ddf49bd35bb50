// Package llm declares the provider-agnostic chat contract the
// Structured LLM Executor drives (spec.md §6: "LLM provider contract").
// Grounded on the teacher's internal/llm/provider.go Provider interface,
// narrowed to HCME's needs: a single Chat call tagged with a request id
// for tracing (spec.md: "the engine tags every call with a request id
// for tracing; no streaming is required by the core").
package llm

import "context"

// ToolSchema describes one callable tool in provider-agnostic form.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON-schema-shaped parameter description
}

// ToolCall is a single tool invocation the model asked for.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Message is one turn in the chat transcript, including a synthetic
// "tool" role used to feed a ToolCall's result back to the model.
type Message struct {
	Role      string // "system", "user", "assistant", "tool"
	Content   string
	ToolID    string     // set on role "tool": which ToolCall this answers
	ToolCalls []ToolCall // set on role "assistant" when the model asked for tools
}

// Request is one Chat call.
type Request struct {
	RequestID string // tags the call for tracing (spec.md §6)
	Messages  []Message
	Tools     []ToolSchema
	MaxTokens int
}

// Response is the model's reply: either text, or a set of tool calls the
// caller must execute and feed back as "tool" role messages.
type Response struct {
	Content   string
	ToolCalls []ToolCall
}

// Provider is the minimal contract every model backend implements.
type Provider interface {
	Chat(ctx context.Context, req Request) (Response, error)
}
