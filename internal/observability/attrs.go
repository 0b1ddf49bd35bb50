package observability

import "go.opentelemetry.io/otel/attribute"

func levelAttr(level string) attribute.KeyValue {
	return attribute.String("level", level)
}
