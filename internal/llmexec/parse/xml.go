package parse

import (
	"encoding/xml"
	"io"
	"strings"

	"hcme/internal/herr"
)

// XML decodes a best-effort element tree into nested maps: a repeated
// child element name becomes a []any, a leaf element becomes its text
// content, attributes are captured under "@attr" keys. Unknown structure
// never errors; only a caller's subsequent required-field check does
// (spec.md §4.12: "unrecognized fields are ignored").
func XML(raw string, requiredFields []string) (map[string]any, error) {
	body := StripFence(raw)
	dec := xml.NewDecoder(strings.NewReader(body))

	root, err := decodeXMLElement(dec)
	if err != nil {
		return nil, herr.NewParseError("xml_root", raw, err)
	}

	out, _ := root.(map[string]any)
	if out == nil {
		return nil, herr.NewParseError("xml_root", raw, nil)
	}
	for _, field := range requiredFields {
		if _, ok := out[field]; !ok {
			return nil, herr.NewParseError(field, raw, nil)
		}
	}
	return out, nil
}

// decodeXMLElement reads tokens until it finds the first StartElement,
// then recursively decodes its children.
func decodeXMLElement(dec *xml.Decoder) (any, error) {
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return decodeXMLChildren(dec, start)
		}
	}
}

func decodeXMLChildren(dec *xml.Decoder, start xml.StartElement) (any, error) {
	children := map[string]any{}
	for _, attr := range start.Attr {
		children["@"+attr.Name.Local] = attr.Value
	}
	var text strings.Builder
	hasElementChild := false

	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			hasElementChild = true
			val, err := decodeXMLChildren(dec, t)
			if err != nil {
				return nil, err
			}
			if existing, ok := children[t.Name.Local]; ok {
				switch e := existing.(type) {
				case []any:
					children[t.Name.Local] = append(e, val)
				default:
					children[t.Name.Local] = []any{e, val}
				}
			} else {
				children[t.Name.Local] = val
			}
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if hasElementChild || len(start.Attr) > 0 {
				if strings.TrimSpace(text.String()) != "" {
					children["#text"] = strings.TrimSpace(text.String())
				}
				return children, nil
			}
			return strings.TrimSpace(text.String()), nil
		}
	}
}
