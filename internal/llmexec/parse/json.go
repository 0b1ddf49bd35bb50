package parse

import (
	"encoding/json"

	"hcme/internal/herr"
)

// JSON decodes a (possibly fenced) JSON object and checks for required
// top-level fields.
func JSON(raw string, requiredFields []string) (map[string]any, error) {
	body := StripFence(raw)
	var out map[string]any
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, herr.NewParseError("", raw, err)
	}
	for _, field := range requiredFields {
		if _, ok := out[field]; !ok {
			return nil, herr.NewParseError(field, raw, nil)
		}
	}
	return out, nil
}
