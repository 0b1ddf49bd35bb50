package summarizer

import (
	"regexp"
	"sort"
	"strings"

	"hcme/internal/accounting"
)

// mentionPattern matches "[kind:UUID]" substrings (spec.md §4.7).
var mentionPattern = regexp.MustCompile(`\[(scope|file|webpage|document|markdown_section|codeblock):([0-9a-fA-F-]{36})\]`)

// pathCandidatePattern finds plausible absolute or workspace-relative
// path strings inside arbitrary JSON text: a quoted string containing at
// least one "/" and no whitespace, which is the shape tool
// arguments/results use for file paths.
var pathCandidatePattern = regexp.MustCompile(`"((?:/|\./|\.\./|[A-Za-z0-9_.-]+/)[A-Za-z0-9_\-./]+)"`)

// ExtractedMentions is the deterministic harvest from a batch of turns.
type ExtractedMentions struct {
	Files []FileMention
	Nodes []NodeMention
}

// MentionExtractor walks tool call arguments and results looking for
// path-shaped strings and "[kind:UUID]" references (spec.md §4.7).
type MentionExtractor struct{}

func NewMentionExtractor() *MentionExtractor { return &MentionExtractor{} }

// ExtractFromTurns harvests mentions from every tool call/result across
// the given turns, deduplicating by canonical path and by UUID.
func (m *MentionExtractor) ExtractFromTurns(turns []accounting.Turn) ExtractedMentions {
	filesByPath := map[string]FileMention{}
	nodesByUUID := map[string]NodeMention{}

	for _, turn := range turns {
		for _, rec := range turn.Messages {
			for _, tc := range rec.ToolCalls {
				m.scan(tc.Arguments, filesByPath, nodesByUUID)
				if tr, ok := rec.ToolResults[tc.UUID]; ok {
					m.scan(tr.Result, filesByPath, nodesByUUID)
					m.scan(tr.Error, filesByPath, nodesByUUID)
				}
			}
		}
	}

	files := make([]FileMention, 0, len(filesByPath))
	for _, f := range filesByPath {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	nodes := make([]NodeMention, 0, len(nodesByUUID))
	for _, n := range nodesByUUID {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].UUID < nodes[j].UUID })

	return ExtractedMentions{Files: files, Nodes: nodes}
}

func (m *MentionExtractor) scan(text string, filesByPath map[string]FileMention, nodesByUUID map[string]NodeMention) {
	if text == "" {
		return
	}
	for _, match := range mentionPattern.FindAllStringSubmatch(text, -1) {
		kind, uuid := match[1], match[2]
		if _, exists := nodesByUUID[uuid]; !exists {
			nodesByUUID[uuid] = NodeMention{UUID: uuid, Type: kind}
		}
	}
	for _, match := range pathCandidatePattern.FindAllStringSubmatch(text, -1) {
		p := canonicalizePath(match[1])
		if p == "" {
			continue
		}
		if _, exists := filesByPath[p]; !exists {
			filesByPath[p] = FileMention{Path: p, IsAbsolute: isAbsolutePath(p)}
		}
	}
}

// canonicalizePath rejects obvious non-path matches (URLs, bare words)
// while leaving case and separators otherwise untouched, since
// normalization beyond that is a File-node resolution concern
// (spec.md §4.7), not an extraction concern.
func canonicalizePath(p string) string {
	if strings.Contains(p, "://") {
		return ""
	}
	if !strings.Contains(p, "/") {
		return ""
	}
	return p
}
