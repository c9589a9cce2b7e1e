// Package payload converts memory values to and from the canonical byte form
// that gets encrypted. Raw bytes are stored as-is, strings as UTF-8 and any
// other value as JSON; the chosen Format travels with the record so that the
// original shape can be restored on read.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Format describes what the plaintext was before serialization.
type Format string

const (
	FormatBuffer Format = "buffer"
	FormatText   Format = "text"
	FormatJSON   Format = "json"
)

// Serialize returns the canonical bytes for v and the format tag to store
// alongside them.
func Serialize(v any) ([]byte, Format, error) {
	switch val := v.(type) {
	case []byte:
		return bytes.Clone(val), FormatBuffer, nil
	case string:
		return []byte(val), FormatText, nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, "", fmt.Errorf("serialize: %w", err)
		}
		return b, FormatJSON, nil
	}
}

// Deserialize is the inverse of Serialize.
//
// For JSON (and for any unrecognised format, which is parsed as JSON) a parse
// failure yields ok == false instead of an error: the caller treats the record
// as unreadable and skips it. JSON objects decode to map[string]any.
func Deserialize(b []byte, f Format) (v any, ok bool) {
	switch f {
	case FormatBuffer:
		return bytes.Clone(b), true
	case FormatText:
		return string(b), true
	}

	if err := json.Unmarshal(b, &v); err != nil {
		return nil, false
	}
	return v, true
}

// Clone returns a deep copy of a deserialized value so callers can mutate
// results without touching cached state.
func Clone(v any) any {
	switch val := v.(type) {
	case []byte:
		return bytes.Clone(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Clone(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Clone(item)
		}
		return out
	default:
		return val
	}
}
