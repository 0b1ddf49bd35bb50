// Package prompt assembles the Structured LLM Executor's prompt from a
// fixed, ordered sequence of named sections, omitting any that don't
// apply to a given call (spec.md §4.12).
package prompt

import "strings"

// Section names, in the fixed render order (spec.md §4.12).
const (
	SectionSystemPrompt    = "system_prompt"
	SectionToolDescriptions = "tool_descriptions"
	SectionCurrentReport   = "current_report"
	SectionUserTask        = "user_task"
	SectionContextData     = "context_data"
	SectionInputFields     = "input_fields"
	SectionToolResults     = "tool_results"
	SectionPreviousOutput  = "previous_output"
	SectionOutputFormat    = "output_format"
	SectionInstructions    = "instructions"
)

// order is the fixed rendering sequence; sections absent from the
// builder's map are skipped entirely.
var order = []string{
	SectionSystemPrompt,
	SectionToolDescriptions,
	SectionCurrentReport,
	SectionUserTask,
	SectionContextData,
	SectionInputFields,
	SectionToolResults,
	SectionPreviousOutput,
	SectionOutputFormat,
	SectionInstructions,
}

// Builder accumulates named sections and renders them in the fixed
// order, skipping any that were never set.
type Builder struct {
	sections map[string]string
}

func NewBuilder() *Builder {
	return &Builder{sections: make(map[string]string, len(order))}
}

// Set assigns a section's body; an empty body leaves the section unset,
// so it is omitted from the rendered prompt.
func (b *Builder) Set(name, body string) *Builder {
	if body == "" {
		return b
	}
	b.sections[name] = body
	return b
}

// Render concatenates every set section in the fixed order, separated by
// blank lines, with an uppercase header derived from the section name.
func (b *Builder) Render() string {
	var out strings.Builder
	for _, name := range order {
		body, ok := b.sections[name]
		if !ok {
			continue
		}
		if out.Len() > 0 {
			out.WriteString("\n\n")
		}
		out.WriteString("## " + header(name) + "\n")
		out.WriteString(body)
	}
	return out.String()
}

func header(name string) string {
	words := strings.Split(name, "_")
	for i, w := range words {
		if len(w) > 0 {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
