package llmexec

import "encoding/json"

// jsonRoundTrip re-serializes a generic decoded map and unmarshals it
// into a typed target, so RunSingleInto callers can declare plain
// structs instead of walking parse's generic map output by hand.
func jsonRoundTrip(parsed map[string]any, target any) error {
	b, err := json.Marshal(parsed)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, target)
}
