package summarizer

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"hcme/internal/accounting"
	"hcme/internal/graphstore"
	"hcme/internal/llmexec"
)

// GenerationInput is the Summary Generator's input (spec.md §4.6): a
// contiguous batch of turns (L1) or L1 summaries (L2).
type GenerationInput struct {
	ConversationID string
	TargetLevel    graphstore.SummaryLevel
	Turns          []accounting.Turn     // set for L1
	Summaries      []graphstore.Summary  // set for L2
}

// NodeMention is a node the generator (or the Mention Extractor) claims
// the summarized span references.
type NodeMention struct {
	UUID   string
	Name   string
	Type   string
	Reason string
}

// FileMention is a file path the generator (or the Mention Extractor)
// claims the summarized span references, with its absolute/relative
// classification already resolved from path syntax (spec.md §4.7:
// "recomputed from the path independent of the LLM output").
type FileMention struct {
	Path       string
	IsAbsolute bool
}

// Candidates returns the lookup order Gateway.ResolveFile should try:
// exact path, then path without a leading slash. No
// project-root-relative candidate is produced here or by the caller
// (FSM.linkFiles passes this list unchanged), so a path that only
// matches relative to a project root is not resolved.
func (f FileMention) Candidates() []string {
	c := []string{f.Path}
	if strings.HasPrefix(f.Path, "/") {
		c = append(c, strings.TrimPrefix(f.Path, "/"))
	}
	return c
}

// GenerationOutput is the Summary Generator's structured result (spec.md
// §4.6).
type GenerationOutput struct {
	Content         graphstore.SummaryContent
	FilesMentioned  []FileMention
	NodesMentioned  []NodeMention
}

// SummaryGenerator implements the Generator seam (fsm.go) via the
// Structured LLM Executor (spec.md §4.6, §4.12), grounded on the
// teacher's internal/agent/memory/manager.go summarization call (a
// single-purpose prompt built from a schema) generalized to HCME's
// conversation_summary/actions_summary/files_mentioned/nodes_mentioned
// schema.
type SummaryGenerator struct {
	exec *llmexec.Executor
}

func NewGenerator(exec *llmexec.Executor) *SummaryGenerator {
	return &SummaryGenerator{exec: exec}
}

const generatorSchema = `{
  "conversation_summary": "string",
  "actions_summary": "string",
  "files_mentioned": [{"path": "string", "is_absolute": "bool"}],
  "nodes_mentioned": [{"uuid": "string", "name": "string", "type": "string", "reason": "string"}]
}`

type generatorResult struct {
	ConversationSummary string           `json:"conversation_summary" xml:"conversation_summary" yaml:"conversation_summary"`
	ActionsSummary      string           `json:"actions_summary" xml:"actions_summary" yaml:"actions_summary"`
	FilesMentioned      []fileMentionDTO `json:"files_mentioned" xml:"files_mentioned" yaml:"files_mentioned"`
	NodesMentioned      []nodeMentionDTO `json:"nodes_mentioned" xml:"nodes_mentioned" yaml:"nodes_mentioned"`
}

type fileMentionDTO struct {
	Path       string `json:"path" xml:"path" yaml:"path"`
	IsAbsolute bool   `json:"is_absolute" xml:"is_absolute" yaml:"is_absolute"`
}

type nodeMentionDTO struct {
	UUID   string `json:"uuid" xml:"uuid" yaml:"uuid"`
	Name   string `json:"name" xml:"name" yaml:"name"`
	Type   string `json:"type" xml:"type" yaml:"type"`
	Reason string `json:"reason" xml:"reason" yaml:"reason"`
}

// Summarize calls the Structured LLM Executor in single mode with a
// per-field prompt built from the turns or summaries, then
// post-processes the result: is_absolute is recomputed from path syntax
// regardless of what the model said (spec.md §4.6).
func (g *SummaryGenerator) Summarize(ctx context.Context, input GenerationInput) (GenerationOutput, error) {
	prompt := buildGeneratorPrompt(input)

	var out generatorResult
	if err := g.exec.RunSingleInto(ctx, llmexec.SingleRequest{
		SystemPrompt: "You summarize conversation turns into a structured conversation_summary and actions_summary, and list any files or nodes referenced.",
		UserTask:     prompt,
		OutputSchema: generatorSchema,
	}, &out); err != nil {
		return GenerationOutput{}, fmt.Errorf("summarizer: generator executor: %w", err)
	}

	result := GenerationOutput{
		Content: graphstore.SummaryContent{
			ConversationSummary: out.ConversationSummary,
			ActionsSummary:      out.ActionsSummary,
		},
	}
	for _, fm := range out.FilesMentioned {
		result.FilesMentioned = append(result.FilesMentioned, FileMention{
			Path:       fm.Path,
			IsAbsolute: isAbsolutePath(fm.Path),
		})
	}
	for _, nm := range out.NodesMentioned {
		result.NodesMentioned = append(result.NodesMentioned, NodeMention{
			UUID: nm.UUID, Name: nm.Name, Type: nm.Type, Reason: nm.Reason,
		})
	}
	return result, nil
}

// isAbsolutePath classifies by syntax only: Unix leading "/" or a
// Windows drive letter (spec.md §4.7).
func isAbsolutePath(p string) bool {
	if strings.HasPrefix(p, "/") {
		return true
	}
	if len(p) >= 3 && p[1] == ':' && (p[2] == '\\' || p[2] == '/') {
		c := p[0]
		return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
	}
	return path.IsAbs(p)
}

func buildGeneratorPrompt(input GenerationInput) string {
	var b strings.Builder
	switch input.TargetLevel {
	case graphstore.Level1:
		fmt.Fprintf(&b, "Summarize the following %d turn(s):\n\n", len(input.Turns))
		for i, turn := range input.Turns {
			fmt.Fprintf(&b, "--- turn %d ---\n", i)
			for _, rec := range turn.Messages {
				fmt.Fprintf(&b, "[%s] %s\n", rec.Message.Role, rec.Message.Content)
				for _, tc := range rec.ToolCalls {
					fmt.Fprintf(&b, "  tool_call %s(%s)\n", tc.ToolName, tc.Arguments)
				}
			}
		}
	case graphstore.Level2:
		sorted := make([]graphstore.Summary, len(input.Summaries))
		copy(sorted, input.Summaries)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].CharRangeStart < sorted[j].CharRangeStart })
		fmt.Fprintf(&b, "Summarize the following %d summaries into a higher-level summary:\n\n", len(sorted))
		for i, s := range sorted {
			fmt.Fprintf(&b, "--- summary %d ---\nconversation: %s\nactions: %s\n", i, s.Content.ConversationSummary, s.Content.ActionsSummary)
		}
	}
	return b.String()
}

// mergeMentions unions deterministically-extracted mentions with
// LLM-proposed mentions, deduplicating by path and by UUID (spec.md
// §4.6).
func mergeMentions(extracted ExtractedMentions, llmFiles []FileMention, llmNodes []NodeMention) ([]FileMention, []NodeMention) {
	filesByPath := map[string]FileMention{}
	for _, f := range extracted.Files {
		filesByPath[f.Path] = f
	}
	for _, f := range llmFiles {
		f.IsAbsolute = isAbsolutePath(f.Path)
		if _, exists := filesByPath[f.Path]; !exists {
			filesByPath[f.Path] = f
		}
	}
	files := make([]FileMention, 0, len(filesByPath))
	for _, f := range filesByPath {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	nodesByUUID := map[string]NodeMention{}
	for _, n := range extracted.Nodes {
		nodesByUUID[n.UUID] = n
	}
	for _, n := range llmNodes {
		if _, exists := nodesByUUID[n.UUID]; !exists {
			nodesByUUID[n.UUID] = n
		}
	}
	nodes := make([]NodeMention, 0, len(nodesByUUID))
	for _, n := range nodesByUUID {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].UUID < nodes[j].UUID })

	return files, nodes
}
