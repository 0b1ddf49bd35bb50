// Package schema describes the Structured LLM Executor's output shape
// and renders it into a schema-aware template (spec.md §4.12). Grounded
// on the teacher's internal/llm tool-schema plumbing, generalized from a
// flat JSON-schema parameter bag into a small recursive field tree that
// can render itself as XML, JSON, or YAML. XML and YAML templates expand
// nested object and array members recursively; JSON templates show a
// nested member as a "{ ... }" or "[ { ... } ]" placeholder and do not
// expand its children.
package schema

import (
	"fmt"
	"strings"
)

// Kind is a field's shape.
type Kind int

const (
	KindScalar Kind = iota
	KindArray
	KindObject
	KindEnum
)

// Field is one node in the output schema tree.
type Field struct {
	Name     string
	Kind     Kind
	Enum     []string // valid values when Kind == KindEnum
	Children []Field  // object members, or the array's single element shape
}

// Format selects the rendered template's syntax.
type Format int

const (
	FormatXML Format = iota
	FormatJSON
	FormatYAML
)

// Render produces a template string for the given format. XML is the
// default per spec.md §4.12.
func Render(fields []Field, format Format) string {
	switch format {
	case FormatJSON:
		var b strings.Builder
		renderJSON(&b, fields, 0)
		return b.String()
	case FormatYAML:
		var b strings.Builder
		renderYAML(&b, fields, 0)
		return b.String()
	default:
		var b strings.Builder
		renderXML(&b, fields, 0)
		return b.String()
	}
}

func renderXML(b *strings.Builder, fields []Field, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, f := range fields {
		switch f.Kind {
		case KindObject:
			fmt.Fprintf(b, "%s<%s>\n", indent, f.Name)
			renderXML(b, f.Children, depth+1)
			fmt.Fprintf(b, "%s</%s>\n", indent, f.Name)
		case KindArray:
			fmt.Fprintf(b, "%s<%s>\n", indent, f.Name)
			fmt.Fprintf(b, "%s  <item>\n", indent)
			renderXML(b, f.Children, depth+2)
			fmt.Fprintf(b, "%s  </item>\n", indent)
			fmt.Fprintf(b, "%s  <!-- repeat <item> for each entry -->\n", indent)
			fmt.Fprintf(b, "%s</%s>\n", indent, f.Name)
		case KindEnum:
			fmt.Fprintf(b, "%s<%s><!-- one of: %s --></%s>\n", indent, f.Name, strings.Join(f.Enum, ", "), f.Name)
		default:
			fmt.Fprintf(b, "%s<%s>...</%s>\n", indent, f.Name, f.Name)
		}
	}
}

func renderJSON(b *strings.Builder, fields []Field, depth int) {
	indent := strings.Repeat("  ", depth)
	b.WriteString(indent + "{\n")
	for i, f := range fields {
		comma := ","
		if i == len(fields)-1 {
			comma = ""
		}
		fmt.Fprintf(b, "%s  \"%s\": %s%s\n", indent, f.Name, jsonPlaceholder(f), comma)
	}
	b.WriteString(indent + "}\n")
}

func jsonPlaceholder(f Field) string {
	switch f.Kind {
	case KindObject:
		return "{ ... }"
	case KindArray:
		return "[ { ... } ]"
	case KindEnum:
		return fmt.Sprintf("\"<one of: %s>\"", strings.Join(f.Enum, ", "))
	default:
		return "\"...\""
	}
}

func renderYAML(b *strings.Builder, fields []Field, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, f := range fields {
		switch f.Kind {
		case KindObject:
			fmt.Fprintf(b, "%s%s:\n", indent, f.Name)
			renderYAML(b, f.Children, depth+1)
		case KindArray:
			fmt.Fprintf(b, "%s%s:\n%s  - # repeated\n", indent, f.Name, indent)
			renderYAML(b, f.Children, depth+2)
		case KindEnum:
			fmt.Fprintf(b, "%s%s: # one of: %s\n", indent, f.Name, strings.Join(f.Enum, ", "))
		default:
			fmt.Fprintf(b, "%s%s: ...\n", indent, f.Name)
		}
	}
}
