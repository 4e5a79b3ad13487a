package network

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Decode parses one complete message text into a dynamic value tree and
// expands any nested JSON-encoded strings it carries. Intermediaries on the
// gossip network may re-wrap a payload by serializing it as a string field;
// expansion undoes any number of those layers transparently.
func Decode(text string) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return expandNested(v), nil
}

// expandNested walks the tree and replaces every string scalar that parses
// as a JSON object or array with its parsed value, recursing to arbitrary
// depth, inside arrays included. Strings holding bare scalars ("123",
// "true") are left alone: reporter identifiers are often numeric strings
// and must not be coerced into numbers.
func expandNested(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			t[k] = expandNested(val)
		}
		return t
	case []interface{}:
		for i := range t {
			t[i] = expandNested(t[i])
		}
		return t
	case string:
		trimmed := strings.TrimSpace(t)
		if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
			var inner interface{}
			if err := json.Unmarshal([]byte(trimmed), &inner); err == nil {
				return expandNested(inner)
			}
		}
		return t
	default:
		return v
	}
}
