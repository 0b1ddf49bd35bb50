package llmexec

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// toolContextCache accumulates raw tool results for the in-progress
// prompt and compresses them once their combined size crosses a
// threshold (spec.md §4.12: "when accumulated tool-result characters
// exceed a threshold... the executor compresses the history in place
// into a structured summary... The cache is invalidated whenever new
// tool results are added.").
//
// Compression is a dedicated LLM call: RunSingle wires `compressor` to
// Executor.compressToolContext at construction, so every real call path
// gets it; tests may leave it nil to exercise the degraded raw-render
// path instead.
type toolContextCache struct {
	mu         sync.Mutex
	threshold  int
	raw        []toolResult
	compressed *structuredSummary
	dirty      bool
	compressor func(ctx context.Context, raw []toolResult) (structuredSummary, error)
}

// structuredSummary is the compressed shape (spec.md §4.12).
type structuredSummary struct {
	Resources   []string
	Nodes       []string
	Findings    []string
	Suggestions []string
	Gaps        []string
}

func (c *toolContextCache) add(results []toolResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raw = append(c.raw, results...)
	c.dirty = true
}

func (c *toolContextCache) rawChars() int {
	total := 0
	for _, r := range c.raw {
		total += len(r.output) + len(r.err)
	}
	return total
}

// render returns the current tool-results section body: the compressed
// summary if one is cached and fresh, otherwise the raw concatenation
// (compressing first if a compressor is configured and the threshold is
// crossed).
func (c *toolContextCache) render(ctx context.Context) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.raw) == 0 {
		return ""
	}

	if c.threshold > 0 && c.rawChars() > c.threshold && c.compressor != nil && (c.dirty || c.compressed == nil) {
		if summary, err := c.compressor(ctx, c.raw); err == nil {
			c.compressed = &summary
			c.dirty = false
		}
	}

	if c.compressed != nil && !c.dirty {
		return renderStructuredSummary(*c.compressed)
	}

	var b strings.Builder
	for _, r := range c.raw {
		if r.err != "" {
			fmt.Fprintf(&b, "[%s] error: %s\n", r.name, r.err)
			continue
		}
		fmt.Fprintf(&b, "[%s] %s\n", r.name, r.output)
	}
	return b.String()
}

func renderStructuredSummary(s structuredSummary) string {
	var b strings.Builder
	writeList := func(label string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&b, "%s:\n", label)
		for _, item := range items {
			fmt.Fprintf(&b, "- %s\n", item)
		}
	}
	writeList("resources", s.Resources)
	writeList("nodes", s.Nodes)
	writeList("findings", s.Findings)
	writeList("suggestions", s.Suggestions)
	writeList("gaps", s.Gaps)
	return b.String()
}
