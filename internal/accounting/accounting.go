// Package accounting computes the character weights that drive the
// summarization triggers (spec.md §4.4). A single pair of functions is
// shared by the trigger path and any display path so the two can never
// diverge (spec.md's resolved Open Question: "include reasoning
// everywhere"), grounded on the teacher's token-accounting helpers in
// internal/agent/memory/manager.go which likewise centralize weight
// computation instead of recomputing it ad hoc per call site.
package accounting

import (
	"encoding/json"

	"hcme/internal/graphstore"
)

// MessageCharCount is content length plus reasoning length; it excludes
// tool-call weight (spec.md §4.2: "char_count = len(content) +
// len(reasoning); it excludes tool-call weight").
func MessageCharCount(content, reasoning string) int {
	return len([]rune(content)) + len([]rune(reasoning))
}

// ToolCallWeight is len(tool_name) + len(json(arguments)) +
// len(json(result)) + len(error). Empty results/errors contribute zero.
func ToolCallWeight(toolName, argumentsJSON, resultJSON, errMsg string) int {
	return len([]rune(toolName)) + len([]rune(argumentsJSON)) + len([]rune(resultJSON)) + len([]rune(errMsg))
}

// Turn is the virtual reconstruction described in spec.md §4.2: a user
// message plus every following non-user message up to the next user
// message.
type Turn struct {
	Messages  []graphstore.MessageRecord
	StartTime int64 // unix nanos of the leading user message, for ordering

	// FinalContent/Reasoning/Timestamp are derived by
	// turnstore.MessagesToTurns per spec.md §4.3: the last non-empty
	// assistant content within the group (and that member's reasoning
	// and timestamp), capturing multi-iteration agent responses where
	// intermediate assistant utterances and tool calls precede the
	// actual answer.
	FinalContent string
	Reasoning    string
	Timestamp    int64 // unix nanos of the last assistant message, 0 if none
}

// TurnWeight sums MessageCharCount over every member message plus
// ToolCallWeight over every tool call attached to an assistant member.
// This is the one function the L1/L2 trigger (internal/summarizer) and
// any context/display path must both call, so they can never disagree
// on what a turn "costs" (spec.md §4.4, I8).
func TurnWeight(t Turn) int {
	total := 0
	for _, rec := range t.Messages {
		total += MessageCharCount(rec.Message.Content, rec.Message.Reasoning)
		for _, tc := range rec.ToolCalls {
			args := marshalOrEmpty(tc.Arguments)
			result, errMsg := "", ""
			if tr, ok := rec.ToolResults[tc.UUID]; ok {
				result = marshalOrEmpty(tr.Result)
				errMsg = tr.Error
			}
			total += ToolCallWeight(tc.ToolName, args, result, errMsg)
		}
	}
	return total
}

// marshalOrEmpty re-serializes a value that may already be a raw JSON
// string (tool arguments/results are stored as text) so TurnWeight
// measures "json(arguments)"/"json(result)" the way spec.md defines it
// even when the caller passed a Go value instead of a JSON string.
func marshalOrEmpty(v string) string {
	if v == "" {
		return ""
	}
	if json.Valid([]byte(v)) {
		return v
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	return string(b)
}
