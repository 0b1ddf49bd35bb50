package parse

import (
	"gopkg.in/yaml.v3"

	"hcme/internal/herr"
)

// YAML decodes a (possibly fenced) YAML mapping and checks for required
// top-level fields.
func YAML(raw string, requiredFields []string) (map[string]any, error) {
	body := StripFence(raw)
	var out map[string]any
	if err := yaml.Unmarshal([]byte(body), &out); err != nil {
		return nil, herr.NewParseError("", raw, err)
	}
	for _, field := range requiredFields {
		if _, ok := out[field]; !ok {
			return nil, herr.NewParseError(field, raw, nil)
		}
	}
	return out, nil
}
