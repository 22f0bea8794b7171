// Package batch groups the single-field, single-literal leaves across a
// ruleset.RuleSet's compiled rules into per-field matchers — an
// Aho-Corasick automaton for contains, sorted arrays for startswith/
// endswith, a hash map for exact equality — so one pass per field per
// event answers every rule's groupable leaves at once, instead of walking
// each rule's tree independently. Leaves that don't reduce to one of
// those shapes (multi-field selections, combined value lists, regex,
// keyword lists) are left out of the grouping and fall back to the
// ordinary per-rule tree walk through condition.EvaluateWithOverrides,
// per its documented override-absent fallback.
package batch

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cloudflare/ahocorasick"

	"github.com/gzhole/sigmacore/internal/compiler"
	"github.com/gzhole/sigmacore/internal/condition"
	"github.com/gzhole/sigmacore/internal/event"
	"github.com/gzhole/sigmacore/internal/ruleset"
)

// owner identifies one grouped leaf: which compiled rule it belongs to,
// and its leaf ID within that rule's own tree (leaf IDs are only unique
// per-rule, assigned in compile order starting at zero).
type owner struct {
	ruleIdx int
	leafID  int
}

type fieldKey struct {
	field           string
	caseInsensitive bool
}

// containsGroup drives an Aho-Corasick scan over one field's value,
// reporting which of the grouped contains-tokens occur in it.
type containsGroup struct {
	matcher *ahocorasick.Matcher
	owners  [][]owner // parallel to the matcher's dictionary
}

// affixGroup answers startswith/endswith queries via a sorted token list
// and binary search, per spec's documented technique. For endswith,
// tokens and the query value are both reversed before comparison, turning
// a suffix check into a prefix check.
type affixGroup struct {
	tokens []string // sorted ascending
	owners [][]owner
}

// exactGroup answers whole-value equality via direct lookup.
type exactGroup struct {
	byToken   map[string][]owner
	allOwners []owner
}

// group precomputes the grouped matchers for one RuleSet's current
// snapshot. It does not observe later RuleSet mutations — a Batch must be
// rebuilt (NewBatch) after Add/Remove/Replace/LoadRules to pick up changes.
type group struct {
	rules    []*compiler.CompiledRule
	contains map[fieldKey]*containsGroup
	prefixes map[fieldKey]*affixGroup
	suffixes map[fieldKey]*affixGroup
	exacts   map[fieldKey]*exactGroup
}

// Batch wraps the grouped matchers built from one RuleSet snapshot,
// evaluating events through the fast grouped path with a live per-leaf
// fallback for anything not grouped.
type Batch struct {
	g *group
}

// NewBatch builds a Batch from rs's current compiled rules.
func NewBatch(rs *ruleset.RuleSet) *Batch {
	return &Batch{g: newGroup(rs)}
}

func newGroup(rs *ruleset.RuleSet) *group {
	rules := rs.Rules()
	g := &group{
		rules:    rules,
		contains: make(map[fieldKey]*containsGroup),
		prefixes: make(map[fieldKey]*affixGroup),
		suffixes: make(map[fieldKey]*affixGroup),
		exacts:   make(map[fieldKey]*exactGroup),
	}
	containsOwners := make(map[fieldKey][]string)
	containsOwnersByToken := make(map[fieldKey]map[string][]owner)
	prefixOwnersByToken := make(map[fieldKey]map[string][]owner)
	suffixOwnersByToken := make(map[fieldKey]map[string][]owner)

	for ruleIdx, r := range rules {
		for _, leaf := range condition.Leaves(r.Node) {
			key := fieldKey{field: leaf.FieldPath, caseInsensitive: leaf.CaseInsensitive}
			own := owner{ruleIdx: ruleIdx, leafID: leaf.ID}
			switch leaf.Kind {
			case condition.LeafKindContains:
				if containsOwnersByToken[key] == nil {
					containsOwnersByToken[key] = make(map[string][]owner)
				}
				if _, seen := containsOwnersByToken[key][leaf.Token]; !seen {
					containsOwners[key] = append(containsOwners[key], leaf.Token)
				}
				containsOwnersByToken[key][leaf.Token] = append(containsOwnersByToken[key][leaf.Token], own)
			case condition.LeafKindPrefix:
				if prefixOwnersByToken[key] == nil {
					prefixOwnersByToken[key] = make(map[string][]owner)
				}
				prefixOwnersByToken[key][leaf.Token] = append(prefixOwnersByToken[key][leaf.Token], own)
			case condition.LeafKindSuffix:
				if suffixOwnersByToken[key] == nil {
					suffixOwnersByToken[key] = make(map[string][]owner)
				}
				suffixOwnersByToken[key][leaf.Token] = append(suffixOwnersByToken[key][leaf.Token], own)
			case condition.LeafKindExact:
				eg := g.exacts[key]
				if eg == nil {
					eg = &exactGroup{byToken: make(map[string][]owner)}
					g.exacts[key] = eg
				}
				eg.byToken[leaf.Token] = append(eg.byToken[leaf.Token], own)
				eg.allOwners = append(eg.allOwners, own)
			}
		}
	}

	for key, tokens := range containsOwners {
		owners := make([][]owner, len(tokens))
		for i, tok := range tokens {
			owners[i] = containsOwnersByToken[key][tok]
		}
		g.contains[key] = &containsGroup{
			matcher: ahocorasick.NewStringMatcher(tokens),
			owners:  owners,
		}
	}
	g.prefixes = buildAffixGroups(prefixOwnersByToken, false)
	g.suffixes = buildAffixGroups(suffixOwnersByToken, true)

	return g
}

func buildAffixGroups(byToken map[fieldKey]map[string][]owner, reversed bool) map[fieldKey]*affixGroup {
	out := make(map[fieldKey]*affixGroup, len(byToken))
	for key, ownersByToken := range byToken {
		tokens := make([]string, 0, len(ownersByToken))
		for tok := range ownersByToken {
			tokens = append(tokens, tok)
		}
		sort.Strings(tokens)
		owners := make([][]owner, len(tokens))
		for i, tok := range tokens {
			owners[i] = ownersByToken[tok]
		}
		if reversed {
			for i, tok := range tokens {
				tokens[i] = reverseString(tok)
			}
			// Re-sort: reversing doesn't preserve lexicographic order.
			sort.Sort(&reversibleTokens{tokens: tokens, owners: owners})
		}
		out[key] = &affixGroup{tokens: tokens, owners: owners}
	}
	return out
}

// reversibleTokens sorts tokens and owners in lockstep.
type reversibleTokens struct {
	tokens []string
	owners [][]owner
}

func (r *reversibleTokens) Len() int      { return len(r.tokens) }
func (r *reversibleTokens) Swap(i, j int) {
	r.tokens[i], r.tokens[j] = r.tokens[j], r.tokens[i]
	r.owners[i], r.owners[j] = r.owners[j], r.owners[i]
}
func (r *reversibleTokens) Less(i, j int) bool { return r.tokens[i] < r.tokens[j] }

func reverseString(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}

// matchAffix reports every owner whose token is a prefix (or, if the
// group was built reversed, a suffix) of value, by binary-searching for
// the insertion point of value and scanning the tokens at or before it —
// every token that could possibly prefix value sorts at or before value
// itself, lexicographically.
func (a *affixGroup) matchAffix(value string) []owner {
	idx := sort.Search(len(a.tokens), func(i int) bool { return a.tokens[i] > value })
	var matched []owner
	for i := idx - 1; i >= 0; i-- {
		if strings.HasPrefix(value, a.tokens[i]) {
			matched = append(matched, a.owners[i]...)
		}
	}
	return matched
}

// coerceSearchString mirrors matcher.go's stringValueMatcher coercion, so
// the grouped automata compare against exactly what the live per-leaf
// path would have compared against.
func coerceSearchString(leaf any) (string, bool) {
	switch v := leaf.(type) {
	case string:
		return v, true
	case int64:
		return strconv.FormatInt(v, 10), true
	case int:
		return strconv.Itoa(v), true
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return "", false
	}
}

// Evaluate runs every grouped matcher once per event, builds a per-rule
// outcome override map from the results, and drives each rule's full tree
// through condition.EvaluateWithOverrides — falling back to a live
// per-leaf evaluation for anything not grouped (multi-field selections,
// regex, keyword lists, or a field absent/list-valued for this event).
func (b *Batch) Evaluate(events []event.Event) []ruleset.EvaluationResult {
	results := make([]ruleset.EvaluationResult, len(events))
	for i, ev := range events {
		results[i] = b.g.evaluateOne(ev)
	}
	return results
}

func (g *group) evaluateOne(ev event.Event) ruleset.EvaluationResult {
	overridesByRule := make([]map[int]condition.Outcome, len(g.rules))
	ensure := func(ruleIdx int) map[int]condition.Outcome {
		if overridesByRule[ruleIdx] == nil {
			overridesByRule[ruleIdx] = make(map[int]condition.Outcome)
		}
		return overridesByRule[ruleIdx]
	}
	setAll := func(owners []owner, matched bool) {
		for _, o := range owners {
			ensure(o.ruleIdx)[o.leafID] = condition.Outcome{Matched: matched, Applicable: true}
		}
	}

	for key, cg := range g.contains {
		value, ok := fieldSearchValue(ev, key)
		if !ok {
			continue
		}
		matchedIdx := cg.matcher.Match([]byte(value))
		matchedSet := make(map[int]bool, len(matchedIdx))
		for _, idx := range matchedIdx {
			matchedSet[idx] = true
		}
		for idx, owners := range cg.owners {
			setAll(owners, matchedSet[idx])
		}
	}
	for key, ag := range g.prefixes {
		value, ok := fieldSearchValue(ev, key)
		if !ok {
			continue
		}
		matched := ag.matchAffix(value)
		matchedSet := ownerSet(matched)
		for _, owners := range ag.owners {
			for _, o := range owners {
				ensure(o.ruleIdx)[o.leafID] = condition.Outcome{Matched: matchedSet[o], Applicable: true}
			}
		}
	}
	for key, ag := range g.suffixes {
		value, ok := fieldSearchValue(ev, key)
		if !ok {
			continue
		}
		matched := ag.matchAffix(reverseString(value))
		matchedSet := ownerSet(matched)
		for _, owners := range ag.owners {
			for _, o := range owners {
				ensure(o.ruleIdx)[o.leafID] = condition.Outcome{Matched: matchedSet[o], Applicable: true}
			}
		}
	}
	for key, eg := range g.exacts {
		value, ok := fieldSearchValue(ev, key)
		if !ok {
			continue
		}
		setAll(eg.allOwners, false)
		if owners, hit := eg.byToken[value]; hit {
			setAll(owners, true)
		}
	}

	matches := make([]ruleset.MatchRecord, 0, len(g.rules))
	internalErrors := 0
	for i, r := range g.rules {
		matched, internalErr := evaluateRuleWithOverrides(r, ev, overridesByRule[i])
		if internalErr {
			internalErrors++
		}
		matches = append(matches, ruleset.MatchRecord{
			RuleID: r.ID, Title: r.Title, Level: r.Level, Tags: r.Tags, Matched: matched,
		})
	}
	return ruleset.EvaluationResult{Matches: matches, InternalErrors: internalErrors}
}

func ownerSet(owners []owner) map[owner]bool {
	set := make(map[owner]bool, len(owners))
	for _, o := range owners {
		set[o] = true
	}
	return set
}

// fieldSearchValue selects key.field from ev and coerces it into the
// normalized search text the grouped matchers compare against. It
// deliberately declines (returns ok=false) for an absent or list-valued
// field, leaving every leaf on that field for this event to the live
// per-leaf fallback inside condition.EvaluateWithOverrides.
func fieldSearchValue(ev event.Event, key fieldKey) (string, bool) {
	leaf, ok := ev.Select(key.field)
	if !ok {
		return "", false
	}
	if _, isList := leaf.([]any); isList {
		return "", false
	}
	s, ok := coerceSearchString(leaf)
	if !ok {
		return "", false
	}
	if key.caseInsensitive {
		s = strings.ToLower(s)
	}
	return s, true
}

func evaluateRuleWithOverrides(r *compiler.CompiledRule, ev event.Event, overrides map[int]condition.Outcome) (matched bool, internalErr bool) {
	defer func() {
		if rec := recover(); rec != nil {
			if _, ok := rec.(condition.InvariantViolation); ok {
				matched = false
				internalErr = true
				return
			}
			panic(rec)
		}
	}()
	m, _ := condition.EvaluateWithOverrides(r.Node, ev, overrides)
	return m, false
}
