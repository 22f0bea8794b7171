package condition

import "github.com/gzhole/sigmacore/internal/event"

// Node is the matcher tree spec.md §3/§4.6 describes: a reducible,
// short-circuiting boolean tree whose leaves are SelectionMatcher or
// KeywordsMatcher. Interior node kinds (And/Or/Not) are statically known
// variants; only the leaf predicate hides behind an interface, per the
// design notes' "confine dynamic dispatch to leaves" rule.
type Node interface {
	// Evaluate returns (matched, applicable) for ev, per spec.md §4.6.
	Evaluate(ev event.Event) (matched, applicable bool)
}

type andNode struct{ children []Node }

// newAnd builds an And node, merging the children of any And child into
// this node and reducing a single child to itself per spec.md's
// "And([x]) ≡ x" invariant. Zero children is a caller bug (the grammar
// never produces it; empty sel*/them expansions are rejected earlier,
// during resolution) — it yields an invalidNode, which panics with
// InvariantViolation if it is ever evaluated.
func newAnd(children []Node) Node {
	var flat []Node
	for _, c := range children {
		if inner, ok := c.(andNode); ok {
			flat = append(flat, inner.children...)
		} else {
			flat = append(flat, c)
		}
	}
	children = flat
	switch len(children) {
	case 0:
		return invalidNode{}
	case 1:
		return children[0]
	default:
		return andNode{children: children}
	}
}

func (n andNode) Evaluate(ev event.Event) (bool, bool) {
	sawInapplicable := false
	for _, c := range n.children {
		m, a := c.Evaluate(ev)
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
}

type orNode struct{ children []Node }

func newOr(children []Node) Node {
	var flat []Node
	for _, c := range children {
		if inner, ok := c.(orNode); ok {
			flat = append(flat, inner.children...)
		} else {
			flat = append(flat, c)
		}
	}
	children = flat
	switch len(children) {
	case 0:
		return invalidNode{}
	case 1:
		return children[0]
	default:
		return orNode{children: children}
	}
}

func (n orNode) Evaluate(ev event.Event) (bool, bool) {
	sawInapplicable := false
	for _, c := range n.children {
		m, a := c.Evaluate(ev)
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
}

type notNode struct{ child Node }

// newNot folds a double negation away per spec.md's "Not(Not(x)) ≡ x".
func newNot(child Node) Node {
	if inner, ok := child.(notNode); ok {
		return inner.child
	}
	return notNode{child: child}
}

func (n notNode) Evaluate(ev event.Event) (bool, bool) {
	m, a := n.child.Evaluate(ev)
	return !m, a
}

// leafNode wraps a compiled identifier body (selection or keywords). id
// is a stable, tree-assignment-order identifier used only by the batch
// package's grouped matcher to correlate a leaf with precomputed
// automaton outcomes; ordinary evaluation ignores it.
type leafNode struct {
	id      int
	matcher LeafMatcher
}

func (n leafNode) Evaluate(ev event.Event) (bool, bool) {
	return n.matcher.Evaluate(ev)
}

// invalidNode is what an And/Or with zero children would reduce to. It
// should never be reachable from a successfully compiled rule (the
// grammar and identifier resolution both guarantee at least one child
// before a node is built), so reaching it during evaluation is an
// invariant violation, not an ordinary "no match". It panics with
// InvariantViolation so a recover() boundary (ruleset.Evaluate, and
// batch.Evaluate) can report that one rule as unmatched and count it in
// EvaluationResult.InternalErrors, per spec.md §7's propagation policy,
// instead of silently returning a misleading (false, false).
type invalidNode struct{}

// InvariantViolation is the panic value invalidNode raises.
type InvariantViolation struct{ Reason string }

func (e InvariantViolation) Error() string { return "condition: invariant violation: " + e.Reason }

func (invalidNode) Evaluate(event.Event) (bool, bool) {
	panic(InvariantViolation{Reason: "and/or node with zero children"})
}
