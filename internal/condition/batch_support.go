package condition

import (
	"github.com/gzhole/sigmacore/internal/event"
	"github.com/gzhole/sigmacore/internal/pattern"
)

// LeafKind classifies a leaf predicate by the shape of matcher it compiled
// to, for callers (internal/batch) that want to group leaves sharing a
// field and match-type into one automaton instead of walking every rule's
// tree per event. Only the four shapes a single-value selection field can
// reduce to are distinguished; anything else (multi-field selections,
// OR'd/AND'd value lists, regex, keyword lists, list-of-maps identifiers)
// reports LeafKindOther and must be evaluated the ordinary way.
type LeafKind int

const (
	LeafKindOther LeafKind = iota
	LeafKindContains
	LeafKindPrefix
	LeafKindSuffix
	LeafKindExact
)

func (k LeafKind) String() string {
	switch k {
	case LeafKindContains:
		return "contains"
	case LeafKindPrefix:
		return "prefix"
	case LeafKindSuffix:
		return "suffix"
	case LeafKindExact:
		return "exact"
	default:
		return "other"
	}
}

// LeafRef describes one groupable leaf inside a compiled rule's tree.
type LeafRef struct {
	ID              int
	FieldPath       string
	Kind            LeafKind
	Token           string
	CaseInsensitive bool
}

// Leaves walks n and returns a LeafRef for every leafNode whose matcher
// reduces to exactly one field compared against exactly one literal via a
// plain Content/Prefix/Suffix/Exact matcher — the shapes a per-field
// automaton can stand in for. Leaves that don't reduce this way (multi-
// field selections, combined value lists, keyword lists, regex, nested
// orSelection alternatives) are omitted; a caller combining grouped
// outcomes with a live tree walk via EvaluateWithOverrides gets correct
// results either way, since omitted leaves simply have no override and
// fall through to ordinary evaluation.
func Leaves(n Node) []LeafRef {
	var out []LeafRef
	collectLeaves(n, &out)
	return out
}

func collectLeaves(n Node, out *[]LeafRef) {
	switch v := n.(type) {
	case andNode:
		for _, c := range v.children {
			collectLeaves(c, out)
		}
	case orNode:
		for _, c := range v.children {
			collectLeaves(c, out)
		}
	case notNode:
		collectLeaves(v.child, out)
	case leafNode:
		if ref, ok := classifyLeaf(v); ok {
			*out = append(*out, ref)
		}
	}
}

func classifyLeaf(n leafNode) (LeafRef, bool) {
	sel, ok := n.matcher.(*SelectionMatcher)
	if !ok || len(sel.fields) != 1 {
		return LeafRef{}, false
	}
	f := sel.fields[0]
	svm, ok := f.vm.(stringValueMatcher)
	if !ok {
		return LeafRef{}, false
	}
	kind, token, caseInsensitive, ok := classifyStringMatcher(svm.m)
	if !ok {
		return LeafRef{}, false
	}
	return LeafRef{ID: n.id, FieldPath: f.path, Kind: kind, Token: token, CaseInsensitive: caseInsensitive}, true
}

func classifyStringMatcher(m pattern.StringMatcher) (LeafKind, string, bool, bool) {
	switch t := m.(type) {
	case *pattern.Content:
		return LeafKindContains, t.Token(), t.CaseInsensitive(), true
	case *pattern.Prefix:
		return LeafKindPrefix, t.Token(), t.CaseInsensitive(), true
	case *pattern.Suffix:
		return LeafKindSuffix, t.Token(), t.CaseInsensitive(), true
	case *pattern.Exact:
		return LeafKindExact, t.Token(), t.CaseInsensitive(), true
	default:
		return LeafKindOther, "", false, false
	}
}

// Outcome is a precomputed (matched, applicable) pair for one leaf ID,
// supplied by a grouped matcher that already knows the answer (e.g. from
// an Aho-Corasick scan) without re-evaluating the leaf's predicate.
type Outcome struct {
	Matched    bool
	Applicable bool
}

// EvaluateWithOverrides walks n exactly like Node.Evaluate, except that a
// leafNode whose id has an entry in overrides reports that entry's
// Outcome instead of calling its own matcher. Leaves absent from
// overrides fall back to ordinary evaluation, so a caller only needs to
// precompute the leaves it grouped (per Leaves) and can leave everything
// else — multi-field selections, keyword lists, regex — to the live walk.
func EvaluateWithOverrides(n Node, ev event.Event, overrides map[int]Outcome) (bool, bool) {
	switch v := n.(type) {
	case andNode:
		sawInapplicable := false
		for _, c := range v.children {
			m, a := EvaluateWithOverrides(c, ev, overrides)
			if a && !m {
				return false, true
			}
			if !a {
				sawInapplicable = true
			}
		}
		if sawInapplicable {
			return false, false
		}
		return true, true
	case orNode:
		sawInapplicable := false
		for _, c := range v.children {
			m, a := EvaluateWithOverrides(c, ev, overrides)
			if a && m {
				return true, true
			}
			if !a {
				sawInapplicable = true
			}
		}
		if sawInapplicable {
			return false, false
		}
		return false, true
	case notNode:
		m, a := EvaluateWithOverrides(v.child, ev, overrides)
		return !m, a
	case leafNode:
		if outcome, ok := overrides[v.id]; ok {
			return outcome.Matched, outcome.Applicable
		}
		return v.Evaluate(ev)
	default:
		return n.Evaluate(ev)
	}
}
