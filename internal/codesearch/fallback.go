package codesearch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"hcme/internal/llm"
	"hcme/internal/llmexec"
)

// fallbackSearch invokes the LLM-guided mini-agent: one call with access
// to {brain_search, grep_files, list_directory, glob_files} and a single
// round of parallel tool calls (spec.md §4.9).
func (s *Searcher) fallbackSearch(ctx context.Context, opts Options) ([]CodeUnit, error) {
	if s.exec == nil || opts.WorkingDir == "" {
		return nil, nil
	}

	composition := directoryComposition(opts.WorkingDir)

	collected := newFallbackCollector()
	tools := []llmexec.Tool{
		{
			Schema: llm.ToolSchema{Name: "brain_search", Description: "Semantic search over ingested code (degrades to empty when no project is registered)."},
			Run: func(ctx context.Context, args map[string]any) (string, error) {
				// The fallback path runs when no project is registered for
				// the working directory or its ingestion/embedding lock is
				// held; this tool never queries the brain and always
				// reports no results rather than failing the call.
				collected.addBrainSearch(nil)
				return "no results: project not registered", nil
			},
		},
		{
			Schema: llm.ToolSchema{Name: "grep_files", Description: "Regex search file contents under the working directory."},
			Run: func(ctx context.Context, args map[string]any) (string, error) {
				pattern, _ := args["pattern"].(string)
				hits, err := grepFiles(opts.WorkingDir, pattern)
				if err != nil {
					return "", err
				}
				collected.addGrep(hits)
				return formatGrepHits(hits), nil
			},
		},
		{
			Schema: llm.ToolSchema{Name: "list_directory", Description: "List immediate entries of a directory."},
			Run: func(ctx context.Context, args map[string]any) (string, error) {
				dir, _ := args["path"].(string)
				if dir == "" {
					dir = opts.WorkingDir
				}
				entries, err := os.ReadDir(dir)
				if err != nil {
					return "", err
				}
				var b strings.Builder
				for _, e := range entries {
					fmt.Fprintln(&b, e.Name())
				}
				return b.String(), nil
			},
		},
		{
			Schema: llm.ToolSchema{Name: "glob_files", Description: "Glob for files under the working directory."},
			Run: func(ctx context.Context, args map[string]any) (string, error) {
				pattern, _ := args["pattern"].(string)
				matches, err := globFiles(opts.WorkingDir, pattern)
				if err != nil {
					return "", err
				}
				return strings.Join(matches, "\n"), nil
			},
		},
	}

	_, err := s.exec.RunSingle(ctx, llmexec.SingleRequest{
		SystemPrompt: "You locate relevant code for the user's query using the available tools, then report where you looked.",
		UserTask:     opts.Query,
		ContextData:  composition,
		Tools:        tools,
	})
	if err != nil {
		return nil, fmt.Errorf("codesearch: fallback mini-agent: %w", err)
	}

	units := collected.units(s.cfg.GrepConfidence, s.cfg.BrainSearchConfidence)
	budget := opts.CharBudget
	if budget <= 0 {
		budget = s.cfg.Budget(s.cfg.CodeSearchPercent)
	}
	return truncateByCharBudget(units, budget), nil
}

// grepHit is one regex match location.
type grepHit struct {
	File      string
	StartLine int
	Source    string
}

// fallbackCollector harvests and dedups tool results by (file,
// startLine) (spec.md §4.9).
type fallbackCollector struct {
	seen      map[string]bool
	grepHits  []grepHit
	brainHits []grepHit
}

func newFallbackCollector() *fallbackCollector {
	return &fallbackCollector{seen: map[string]bool{}}
}

func (c *fallbackCollector) addGrep(hits []grepHit) {
	for _, h := range hits {
		key := fmt.Sprintf("%s:%d", h.File, h.StartLine)
		if c.seen[key] {
			continue
		}
		c.seen[key] = true
		c.grepHits = append(c.grepHits, h)
	}
}

func (c *fallbackCollector) addBrainSearch(hits []grepHit) {
	for _, h := range hits {
		key := fmt.Sprintf("%s:%d", h.File, h.StartLine)
		if c.seen[key] {
			continue
		}
		c.seen[key] = true
		c.brainHits = append(c.brainHits, h)
	}
}

func (c *fallbackCollector) units(grepConfidence, brainConfidence float64) []CodeUnit {
	units := make([]CodeUnit, 0, len(c.grepHits)+len(c.brainHits))
	for _, h := range c.grepHits {
		units = append(units, CodeUnit{File: h.File, StartLine: h.StartLine, Source: h.Source, Confidence: grepConfidence})
	}
	for _, h := range c.brainHits {
		units = append(units, CodeUnit{File: h.File, StartLine: h.StartLine, Source: h.Source, Confidence: brainConfidence})
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Confidence > units[j].Confidence })
	return units
}

func formatGrepHits(hits []grepHit) string {
	var b strings.Builder
	for _, h := range hits {
		fmt.Fprintf(&b, "%s:%d: %s\n", h.File, h.StartLine, h.Source)
	}
	return b.String()
}

// grepFiles performs a literal-regex content search under root, capped
// to a reasonable number of matches to keep the tool call cheap.
func grepFiles(root, pattern string) ([]grepHit, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("grep_files: compile pattern: %w", err)
	}

	var hits []grepHit
	const maxHits = 200
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || len(hits) >= maxHits {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				hits = append(hits, grepHit{File: path, StartLine: i + 1, Source: line})
				if len(hits) >= maxHits {
					break
				}
			}
		}
		return nil
	})
	return hits, err
}

func globFiles(root, pattern string) ([]string, error) {
	var matches []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		if ok, _ := filepath.Match(pattern, rel); ok {
			matches = append(matches, path)
		}
		return nil
	})
	return matches, err
}

// directoryComposition summarizes file counts and dominant extensions so
// the mini-agent can choose an informed glob (spec.md §4.9).
func directoryComposition(root string) string {
	counts := map[string]int{}
	codeExt := map[string]bool{".go": true, ".ts": true, ".tsx": true, ".js": true, ".py": true, ".rs": true, ".java": true}
	docExt := map[string]bool{".md": true, ".txt": true, ".rst": true}
	codeFiles, docFiles := 0, 0

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		counts[ext]++
		if codeExt[ext] {
			codeFiles++
		}
		if docExt[ext] {
			docFiles++
		}
		return nil
	})

	type extCount struct {
		ext   string
		count int
	}
	var sorted []extCount
	for ext, n := range counts {
		sorted = append(sorted, extCount{ext, n})
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].count > sorted[j].count })

	var b strings.Builder
	fmt.Fprintf(&b, "code files: %d, doc files: %d\n", codeFiles, docFiles)
	b.WriteString("dominant extensions: ")
	limit := len(sorted)
	if limit > 5 {
		limit = 5
	}
	for i := 0; i < limit; i++ {
		fmt.Fprintf(&b, "%s(%d) ", sorted[i].ext, sorted[i].count)
	}
	return b.String()
}
