package ingest

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// CoerceQuantity turns whatever JSON value the model attached to an
// ingredient into a usable count. Numbers are truncated, numeric strings
// parsed, booleans counted as presence, and objects searched for a
// "quantity" member. Anything unusable, zero, or negative becomes 1: the
// model said the ingredient is there, so at least one of it is.
func CoerceQuantity(raw json.RawMessage) int {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 1
	}
	n := coerceValue(v)
	if n < 1 {
		return 1
	}
	return n
}

func coerceValue(v any) int {
	switch val := v.(type) {
	case nil:
		return 1
	case bool:
		if val {
			return 1
		}
		return 0
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return int(i)
		}
		if f, err := val.Float64(); err == nil {
			return int(f)
		}
		return 1
	case string:
		s := strings.TrimSpace(val)
		if i, err := strconv.Atoi(s); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(f)
		}
		return 1
	case map[string]any:
		if q, ok := val["quantity"]; ok {
			return coerceValue(q)
		}
		return 1
	default:
		// Arrays and anything else count as presence.
		return 1
	}
}
