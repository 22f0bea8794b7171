// Package event defines the Event contract the core evaluates rules
// against: an immutable, dot-path-selectable tree of typed leaves, plus
// a keyword-extraction view used by keyword-style Sigma identifiers.
package event

import "strings"

// Leaf is one of the spec's closed leaf types: nil, bool, int64, float64,
// string, or []any (a list of leaves).
type Leaf = any

// Event is the read-only view the matcher tree evaluates against. A
// concrete implementation owns its own document; the core never mutates
// or retains an Event past one evaluation call.
type Event interface {
	// Select resolves a dot-joined field path. Absent at any component
	// (including a non-final component that resolves to a non-mapping
	// leaf) returns (nil, false).
	Select(path string) (Leaf, bool)

	// Keywords returns the ordered free-text strings extracted from the
	// event's conventional keyword fields, and whether any such field was
	// present at all (applicability).
	Keywords() (words []string, applicable bool)
}

// DefaultKeywordFields is the conventional set of source fields searched
// for keyword-style identifiers when a Map is constructed without an
// explicit field list.
var DefaultKeywordFields = []string{"message", "alert.signature", "CommandLine"}

// Map is a reference Event implementation over a tree of
// map[string]any / []any / scalar leaves, the shape produced by
// unmarshaling JSON into `any`. Callers with a different wire format
// implement Event directly over their own document instead of
// converting through Map.
type Map struct {
	root          map[string]any
	keywordFields []string
}

// NewMap wraps root as an Event. keywordFields overrides
// DefaultKeywordFields when non-empty.
func NewMap(root map[string]any, keywordFields ...string) *Map {
	fields := DefaultKeywordFields
	if len(keywordFields) > 0 {
		fields = keywordFields
	}
	return &Map{root: root, keywordFields: fields}
}

// Select implements Event.
func (m *Map) Select(path string) (Leaf, bool) {
	if m == nil || m.root == nil {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var cur any = m.root
	for _, part := range parts {
		asMap, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := asMap[part]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// Keywords implements Event.
func (m *Map) Keywords() ([]string, bool) {
	if m == nil {
		return nil, false
	}
	var words []string
	found := false
	for _, field := range m.keywordFields {
		v, ok := m.Select(field)
		if !ok {
			continue
		}
		found = true
		switch t := v.(type) {
		case string:
			words = append(words, t)
		case []any:
			for _, item := range t {
				if s, ok := item.(string); ok {
					words = append(words, s)
				}
			}
		}
	}
	return words, found
}
