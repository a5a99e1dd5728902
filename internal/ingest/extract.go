// Package ingest turns raw vision-model output into normalized inventory
// entries. Models are prompted for a flat JSON object mapping ingredient
// names to counts, but real answers arrive wrapped in prose, fenced in
// markdown, or keyed with duplicate spellings; this package extracts the
// object, normalizes the keys, and coerces the values into usable
// quantities.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/coldcrate/fridgevision/pkg/normalize"
)

var (
	ErrEmptyModelOutput     = errors.New("model output is empty")
	ErrMalformedModelOutput = errors.New("model output contains no valid JSON object")
	ErrPersistence          = errors.New("persist inventory")
)

// Entry is one parsed inventory line: a normalized product name, the
// coerced quantity, and the raw JSON value the model produced for it.
type Entry struct {
	Name     string
	Quantity int
	Payload  json.RawMessage
}

// ExtractJSONObject returns the first-brace-to-last-brace span of the text.
// Models rarely respect "respond only with the JSON object", so everything
// around the braces is discarded.
func ExtractJSONObject(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyModelOutput
	}
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start == -1 || end == -1 || end < start {
		return "", fmt.Errorf("%w: no braces in %d bytes of text", ErrMalformedModelOutput, len(text))
	}
	return text[start : end+1], nil
}

// ParseInventory extracts the JSON object from the model output and decodes
// it into entries, preserving the model's key order. Keys that normalize to
// the same product are coalesced: the last value wins, the first position is
// kept. Keys that normalize to nothing are dropped.
func ParseInventory(text string) ([]Entry, error) {
	candidate, err := ExtractJSONObject(text)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(strings.NewReader(candidate))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return nil, fmt.Errorf("%w: top-level value is not an object", ErrMalformedModelOutput)
	}

	entries := make([]Entry, 0)
	position := make(map[string]int)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedModelOutput, err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: non-string key", ErrMalformedModelOutput)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedModelOutput, err)
		}

		name := normalize.ProductName(key)
		if name == "" {
			continue
		}

		entry := Entry{Name: name, Quantity: CoerceQuantity(raw), Payload: raw}
		if idx, seen := position[name]; seen {
			entries[idx] = entry
		} else {
			position[name] = len(entries)
			entries = append(entries, entry)
		}
	}

	// Consume the closing brace and demand nothing but EOF after it, so
	// "{...} and {...}" fails instead of silently dropping the second object.
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedModelOutput, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after object", ErrMalformedModelOutput)
	}

	return entries, nil
}
