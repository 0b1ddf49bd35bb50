// Package llmexec implements the Structured LLM Executor (spec.md
// §4.12): a batch entry point for parallel, schema-validated per-item
// calls, and a single entry point driving a tool-calling loop with
// progressive output and tool-context compression.
//
// Grounded on the teacher's internal/agent (warpp.go's errgroup-based
// concurrent fan-out with bounded goroutines) and
// internal/agent/memory/manager.go (rolling-summary style compression of
// accumulated context once it crosses a threshold), generalized from
// those single-purpose call sites into one reusable executor.
package llmexec

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"hcme/internal/config"
	"hcme/internal/herr"
	"hcme/internal/llm"
	"hcme/internal/llmexec/parse"
	"hcme/internal/llmexec/prompt"
)

// Tool is a callable the single-mode loop may invoke. Name must match
// the ToolSchema.Name advertised to the model.
type Tool struct {
	Schema llm.ToolSchema
	Run    func(ctx context.Context, args map[string]any) (string, error)
}

// Executor drives both Structured LLM Executor entry points against one
// llm.Provider.
type Executor struct {
	provider llm.Provider
	cfg      config.Config
}

func New(provider llm.Provider, cfg config.Config) *Executor {
	return &Executor{provider: provider, cfg: cfg}
}

// --- Batch mode (spec.md §4.12) ---------------------------------------

// BatchItem is one unit of work: a rendered per-item prompt plus the
// caller's original index, so results can be merged back positionally.
type BatchItem struct {
	Index  int
	Prompt string
}

// BatchResult pairs an item's index with its raw response and any error
// from its batch's LLM call; the response is not parsed here.
type BatchResult struct {
	Index    int
	Response string
	Err      error
}

// RunBatch packs items into batches under a token budget (≈4 chars/token
// by cfg.CharsPerToken) with a hard per-batch item cap, then runs
// batches concurrently with cfg.BatchFanout workers.
func (e *Executor) RunBatch(ctx context.Context, systemPrompt string, items []BatchItem, maxTokensPerBatch int) ([]BatchResult, error) {
	batches := packBatches(items, maxTokensPerBatch, e.cfg.CharsPerToken, e.cfg.BatchItemCap)

	results := make([]BatchResult, len(items))
	fanout := e.cfg.BatchFanout
	if fanout <= 0 {
		fanout = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanout)
	var mu sync.Mutex

	for _, batch := range batches {
		batch := batch
		g.Go(func() error {
			resp, err := e.callBatch(gctx, systemPrompt, batch)
			mu.Lock()
			defer mu.Unlock()
			for i, item := range batch {
				if err != nil {
					results[item.Index] = BatchResult{Index: item.Index, Err: err}
					continue
				}
				results[item.Index] = BatchResult{Index: item.Index, Response: resp[i]}
			}
			return nil // per-item errors are carried in results, not propagated (a single bad batch must not cancel siblings)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// callBatch sends every item in one batch as a single multi-part prompt
// and splits the response back by a delimiter, so one LLM call serves
// the whole batch instead of one call per item.
func (e *Executor) callBatch(ctx context.Context, systemPrompt string, batch []BatchItem) ([]string, error) {
	const delim = "\n---ITEM_BOUNDARY---\n"
	var b strings.Builder
	for i, item := range batch {
		if i > 0 {
			b.WriteString(delim)
		}
		fmt.Fprintf(&b, "ITEM %d:\n%s", i, item.Prompt)
	}

	resp, err := e.provider.Chat(ctx, llm.Request{
		RequestID: "batch",
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: b.String()},
		},
	})
	if err != nil {
		return nil, err
	}

	parts := strings.Split(resp.Content, delim)
	if len(parts) != len(batch) {
		// Model didn't respect the boundary; treat the whole response as
		// item 0's answer and leave the rest empty rather than failing
		// the batch outright.
		out := make([]string, len(batch))
		out[0] = resp.Content
		return out, nil
	}
	return parts, nil
}

func packBatches(items []BatchItem, maxTokensPerBatch, charsPerToken, itemCap int) [][]BatchItem {
	if charsPerToken <= 0 {
		charsPerToken = 4
	}
	maxChars := maxTokensPerBatch * charsPerToken
	if itemCap <= 0 {
		itemCap = len(items)
	}

	var batches [][]BatchItem
	var current []BatchItem
	currentChars := 0
	for _, item := range items {
		itemChars := len(item.Prompt)
		if len(current) > 0 && (len(current) >= itemCap || currentChars+itemChars > maxChars) {
			batches = append(batches, current)
			current = nil
			currentChars = 0
		}
		current = append(current, item)
		currentChars += itemChars
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// --- Single mode (spec.md §4.12) --------------------------------------

// SingleRequest is one single-mode call.
type SingleRequest struct {
	SystemPrompt string
	UserTask     string
	ContextData  string
	OutputSchema string // rendered template or schema description for the output_format section
	Tools        []Tool
	RequiredFields []string // for parse validation

	// ProgressiveOutput enables progressive output mode (spec.md §4.12):
	// each iteration's parsed fields merge into an accumulator instead of
	// being replaced by the next iteration's response, and completion is
	// driven by CompletionField/CompletionValues rather than the default
	// termination criteria. OnProgress, if set, fires after every
	// iteration with the iteration number and the accumulator so far.
	ProgressiveOutput bool
	CompletionField   string
	CompletionValues  []string
	OnProgress        func(iteration int, partial map[string]any)
}

// SingleResult is the outcome of RunSingle.
type SingleResult struct {
	Raw         string
	Parsed      map[string]any
	Iterations  int
	ToolsCalled int
}

// RunSingle drives the tool-calling loop (spec.md §4.12): build prompt,
// call the LLM, parse, execute any tool calls in parallel, append
// results to tool context, and loop until a termination criterion is
// met or max_iterations is exceeded.
func (e *Executor) RunSingle(ctx context.Context, req SingleRequest) (SingleResult, error) {
	maxIterations := e.cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 10
	}

	toolsByName := make(map[string]Tool, len(req.Tools))
	for _, t := range req.Tools {
		toolsByName[t.Schema.Name] = t
	}
	schemas := make([]llm.ToolSchema, 0, len(req.Tools))
	for _, t := range req.Tools {
		schemas = append(schemas, t.Schema)
	}

	var toolContext toolContextCache
	toolContext.threshold = e.cfg.ToolContextSummarizeThreshold
	toolContext.compressor = e.compressToolContext

	toolsExecuted := 0
	var lastRaw string
	var lastParsed map[string]any
	var accumulated map[string]any
	if req.ProgressiveOutput {
		accumulated = map[string]any{}
	}

	for iter := 1; iter <= maxIterations; iter++ {
		p := prompt.NewBuilder().
			Set(prompt.SectionSystemPrompt, req.SystemPrompt).
			Set(prompt.SectionUserTask, req.UserTask).
			Set(prompt.SectionContextData, req.ContextData).
			Set(prompt.SectionToolResults, toolContext.render(ctx)).
			Set(prompt.SectionOutputFormat, req.OutputSchema).
			Render()

		resp, err := e.provider.Chat(ctx, llm.Request{
			RequestID: fmt.Sprintf("single-iter-%d", iter),
			Messages: []llm.Message{
				{Role: "user", Content: p},
			},
			Tools: schemas,
		})
		if err != nil {
			return SingleResult{}, fmt.Errorf("llmexec: chat iteration %d: %w", iter, err)
		}
		lastRaw = resp.Content

		parsed, parseErr := e.parseResponse(resp.Content, req.RequiredFields)
		if parseErr == nil {
			lastParsed = parsed
			if req.ProgressiveOutput {
				for k, v := range parsed {
					accumulated[k] = v
				}
				lastParsed = accumulated
			}
		}

		if req.OnProgress != nil {
			req.OnProgress(iter, lastParsed)
		}

		hasTools := len(schemas) > 0
		if len(resp.ToolCalls) == 0 {
			var done bool
			if req.ProgressiveOutput {
				done = parseErr == nil && isCompletionValue(accumulated[req.CompletionField], req.CompletionValues)
			} else {
				done = parseErr == nil && (!hasTools || toolsExecuted > 0 || looksComplete(resp.Content))
			}
			if done {
				return SingleResult{Raw: lastRaw, Parsed: lastParsed, Iterations: iter, ToolsCalled: toolsExecuted}, nil
			}
			if parseErr != nil && !hasTools {
				return SingleResult{}, parseErr
			}
			continue
		}

		results, err := e.runTools(ctx, toolsByName, resp.ToolCalls, e.cfg.MaxToolCallRounds)
		if err != nil {
			return SingleResult{}, err
		}
		toolsExecuted += len(results)
		toolContext.add(results)
	}

	return SingleResult{}, fmt.Errorf("llmexec: exceeded max_iterations (%d) without a terminal response", maxIterations)
}

// RunSingleInto runs RunSingle and decodes the parsed output into target
// via JSON round-trip, so callers can declare plain structs with json
// tags instead of walking the generic map themselves.
func (e *Executor) RunSingleInto(ctx context.Context, req SingleRequest, target any) error {
	result, err := e.RunSingle(ctx, req)
	if err != nil {
		return err
	}
	return decodeInto(result.Parsed, target)
}

func looksComplete(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "done") || strings.Contains(lower, "complete") || len(strings.TrimSpace(text)) > 0
}

// isCompletionValue reports whether field's stringified value is one of
// the configured completion values (spec.md §4.12 progressive output
// mode's "configurable completion field and value set define done").
func isCompletionValue(field any, values []string) bool {
	if field == nil || len(values) == 0 {
		return false
	}
	s := fmt.Sprintf("%v", field)
	for _, v := range values {
		if s == v {
			return true
		}
	}
	return false
}

// compressToolContext makes a dedicated LLM call that turns accumulated
// raw tool results into the structured summary shape spec.md §4.12
// requires, wired as every Executor's toolContextCache.compressor.
func (e *Executor) compressToolContext(ctx context.Context, raw []toolResult) (structuredSummary, error) {
	var b strings.Builder
	for _, r := range raw {
		if r.err != "" {
			fmt.Fprintf(&b, "[%s] error: %s\n", r.name, r.err)
			continue
		}
		fmt.Fprintf(&b, "[%s] %s\n", r.name, r.output)
	}

	resp, err := e.provider.Chat(ctx, llm.Request{
		RequestID: "tool-context-compress",
		Messages: []llm.Message{
			{Role: "system", Content: "Compress the following tool results into JSON with fields resources, nodes, findings, suggestions, and gaps, each a list of short strings."},
			{Role: "user", Content: b.String()},
		},
	})
	if err != nil {
		return structuredSummary{}, fmt.Errorf("llmexec: compress tool context: %w", err)
	}

	parsed, err := parse.JSON(resp.Content, nil)
	if err != nil {
		return structuredSummary{}, err
	}
	return structuredSummary{
		Resources:   toStringSlice(parsed["resources"]),
		Nodes:       toStringSlice(parsed["nodes"]),
		Findings:    toStringSlice(parsed["findings"]),
		Suggestions: toStringSlice(parsed["suggestions"]),
		Gaps:        toStringSlice(parsed["gaps"]),
	}, nil
}

// toStringSlice converts a generic parsed JSON array (decoded as []any)
// into a []string, skipping non-string elements.
func toStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (e *Executor) parseResponse(raw string, required []string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "<") {
		return parse.XML(raw, required)
	}
	if strings.HasPrefix(trimmed, "{") {
		return parse.JSON(raw, required)
	}
	if out, err := parse.JSON(raw, required); err == nil {
		return out, nil
	}
	if out, err := parse.YAML(raw, required); err == nil {
		return out, nil
	}
	return parse.XML(raw, required)
}

// runTools executes every requested tool call concurrently, bounded by
// maxRounds worth of fan-out (spec.md §4.12: "execute any tool calls in
// parallel").
func (e *Executor) runTools(ctx context.Context, tools map[string]Tool, calls []llm.ToolCall, maxRounds int) ([]toolResult, error) {
	results := make([]toolResult, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	limit := maxRounds
	if limit <= 0 {
		limit = len(calls)
	}
	g.SetLimit(limit)

	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			t, ok := tools[call.Name]
			if !ok {
				results[i] = toolResult{name: call.Name, err: fmt.Sprintf("unknown tool %q", call.Name)}
				return nil
			}
			out, err := t.Run(gctx, call.Args)
			if err != nil {
				results[i] = toolResult{name: call.Name, err: err.Error()}
				return nil
			}
			results[i] = toolResult{name: call.Name, output: out}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("llmexec: tool execution: %w", err)
	}
	return results, nil
}

// toolResult is one executed tool call's outcome, held in the
// in-progress tool context until compressed or rendered.
type toolResult struct {
	name   string
	output string
	err    string
}

// decodeInto re-marshals a generic map through JSON into a typed struct.
func decodeInto(parsed map[string]any, target any) error {
	if parsed == nil {
		return herr.NewParseError("", "", fmt.Errorf("no parsed output"))
	}
	return jsonRoundTrip(parsed, target)
}
