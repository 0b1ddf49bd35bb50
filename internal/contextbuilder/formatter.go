package contextbuilder

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"hcme/internal/accounting"
	"hcme/internal/codesearch"
	"hcme/internal/graphstore"
	"hcme/internal/retrieval"
)

// Sections holds the Context Builder's assembled sources, ready for
// deterministic rendering (spec.md §4.11).
type Sections struct {
	LastUserQueries     []string
	RecentTurns         []accounting.Turn
	RelevantPastContext []retrieval.Hit
	RelevantCode        []codesearch.CodeUnit
	RecentL1Summaries   []graphstore.Summary
}

// Formatter renders Sections with deterministic section headers, in the
// fixed order spec.md §4.11 specifies.
type Formatter struct {
	workingDir string
}

func NewFormatter(workingDir string) *Formatter {
	return &Formatter{workingDir: workingDir}
}

// Render produces the full prompt context text (spec.md §4.11: "1.
// Last User Queries ... 5. Recent Level 1 Summaries appended last").
func (f *Formatter) Render(s Sections) string {
	var b strings.Builder

	f.renderLastUserQueries(&b, s.LastUserQueries)
	f.renderRecentConversation(&b, s.RecentTurns)
	f.renderRelevantPastContext(&b, s.RelevantPastContext)
	f.renderRelevantCode(&b, s.RelevantCode)
	f.renderRecentL1Summaries(&b, s.RecentL1Summaries)

	return b.String()
}

func (f *Formatter) renderLastUserQueries(b *strings.Builder, queries []string) {
	if len(queries) == 0 {
		return
	}
	b.WriteString("## Last User Queries\n")
	for i, q := range queries {
		fmt.Fprintf(b, "%d. %s\n", i+1, q)
	}
	b.WriteString("\n")
}

func (f *Formatter) renderRecentConversation(b *strings.Builder, turns []accounting.Turn) {
	if len(turns) == 0 {
		return
	}
	b.WriteString("## Recent Conversation (Raw)\n")
	for _, t := range turns {
		var user []string
		var tools []string
		for _, rec := range t.Messages {
			if rec.Message.Role == graphstore.RoleUser {
				user = append(user, rec.Message.Content)
			}
			for _, tc := range rec.ToolCalls {
				tools = append(tools, tc.ToolName)
			}
		}
		fmt.Fprintf(b, "User: %s\n", strings.Join(user, " "))
		// Only the turn's final assistant content is shown, not every
		// intermediate assistant utterance (spec.md §4.3).
		fmt.Fprintf(b, "Assistant: %s\n", t.FinalContent)
		if len(tools) > 0 {
			fmt.Fprintf(b, "Tools used: %s\n", strings.Join(tools, ", "))
		}
		b.WriteString("\n")
	}
}

var confidenceTiers = []float64{1.0, 0.7, 0.5}

func (f *Formatter) renderRelevantPastContext(b *strings.Builder, hits []retrieval.Hit) {
	if len(hits) == 0 {
		return
	}
	b.WriteString("## Relevant Past Context\n")
	for _, tier := range confidenceTiers {
		var inTier []retrieval.Hit
		for _, h := range hits {
			if h.Confidence == tier {
				inTier = append(inTier, h)
			}
		}
		if len(inTier) == 0 {
			continue
		}
		sort.Slice(inTier, func(i, j int) bool { return inTier[i].Score > inTier[j].Score })
		fmt.Fprintf(b, "### Confidence %.1f\n", tier)
		for _, h := range inTier {
			switch {
			case h.Message != nil:
				fmt.Fprintf(b, "- (%s) %s\n", h.Message.Role, h.Message.Content)
			case h.Summary != nil:
				fmt.Fprintf(b, "- %s\n", h.Summary.Content.ConversationSummary)
			default:
				fmt.Fprintf(b, "- [%s]\n", h.ID)
			}
		}
	}
	b.WriteString("\n")
}

func (f *Formatter) renderRelevantCode(b *strings.Builder, units []codesearch.CodeUnit) {
	if len(units) == 0 {
		return
	}
	b.WriteString("## Relevant Code Context\n")
	for _, u := range units {
		path := f.normalizePath(u.File)
		name := u.Name
		if name == "" {
			name = filepath.Base(u.File)
		}
		lines := len(strings.Split(u.Source, "\n"))
		fmt.Fprintf(b, "[%s:%d-%d] %s (Relevance %.0f%%, File: %d lines)\n", path, u.StartLine, u.EndLine, name, u.Score*100, lines)
		b.WriteString(u.Source)
		b.WriteString("\n\n")
	}
}

func (f *Formatter) renderRecentL1Summaries(b *strings.Builder, summaries []graphstore.Summary) {
	if len(summaries) == 0 {
		return
	}
	b.WriteString("## Recent Level 1 Summaries\n")
	for _, s := range summaries {
		fmt.Fprintf(b, "- %s\n", s.Content.ConversationSummary)
	}
}

// normalizePath renders a code unit's path relative to the caller's
// working directory when possible; otherwise it's prefixed with the
// containing directory name as a stand-in project label (spec.md §4.11:
// "when outside, a [Project: <name>] prefix is prepended").
func (f *Formatter) normalizePath(path string) string {
	if f.workingDir == "" {
		return path
	}
	rel, err := filepath.Rel(f.workingDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Sprintf("[Project: %s] %s", filepath.Base(filepath.Dir(path)), path)
	}
	return rel
}
