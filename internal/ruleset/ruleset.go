// Package ruleset holds a live collection of compiled Sigma rules behind
// an atomically-swapped snapshot, evaluating events against all of them.
// Grounded on internal/analyzer/registry.go's Registry (an ordered list
// of analyzers shared across calls), generalized from "built once at
// startup" to "safely mutable at runtime" via atomic.Pointer.
package ruleset

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gzhole/sigmacore/internal/compiler"
	"github.com/gzhole/sigmacore/internal/condition"
	"github.com/gzhole/sigmacore/internal/event"
	"github.com/gzhole/sigmacore/internal/intern"
	"github.com/gzhole/sigmacore/internal/rule"
)

// MatchRecord is one rule's outcome against one event.
type MatchRecord struct {
	RuleID  string
	Title   string
	Level   *rule.Level
	Tags    []string
	Matched bool
}

// EvaluationResult is the outcome of evaluating one event against every
// compiled rule in a RuleSet.
type EvaluationResult struct {
	Matches []MatchRecord

	// InternalErrors counts rules whose tree walk hit an
	// EvaluationInternal invariant violation. Those rules report
	// Matched=false for this event and are never silently dropped from
	// the count, per spec.md §7's propagation policy.
	InternalErrors int
}

// LoadResult reports the outcome of compiling one rule during a bulk load.
type LoadResult struct {
	RuleID string
	Err    error
}

type ruleSnapshot struct {
	rules []*compiler.CompiledRule
}

// RuleSet is safe for concurrent Evaluate/EvaluateBatch calls concurrent
// with Add/Remove/Replace; reads never block on a writer.
type RuleSet struct {
	snap atomic.Pointer[ruleSnapshot]
	mu   sync.Mutex // serializes writers; readers never take this lock

	// pool dedupes repeated literal tokens (field paths and pattern
	// values) across every rule this set ever compiles, since real Sigma
	// rule collections repeat the same "cmd.exe"/"Image"/"CommandLine"
	// literals hundreds of times over.
	pool *intern.Pool
}

// New returns an empty RuleSet.
func New() *RuleSet {
	rs := &RuleSet{pool: intern.New(0)}
	rs.snap.Store(&ruleSnapshot{})
	return rs
}

// withPool prepends the set's intern pool ahead of the caller's own
// options, so it applies to every compile but a caller-supplied
// WithInternPool still wins if they pass one explicitly.
func (rs *RuleSet) withPool(opts []compiler.Option) []compiler.Option {
	return append([]compiler.Option{compiler.WithInternPool(rs.pool)}, opts...)
}

// Rules returns the currently active compiled rules, ordered by ID. The
// returned slice is a live snapshot, not a defensive copy: RuleSet never
// mutates a snapshot's backing array in place, only swaps in a new one, so
// callers (internal/batch's grouped matcher) can read it freely.
func (rs *RuleSet) Rules() []*compiler.CompiledRule {
	return rs.current().rules
}

func (rs *RuleSet) current() *ruleSnapshot {
	s := rs.snap.Load()
	if s == nil {
		return &ruleSnapshot{}
	}
	return s
}

// Add compiles and inserts r, replacing any existing rule with the same
// ID. It returns the compile error, if any, without mutating the set.
func (rs *RuleSet) Add(r rule.Rule, opts ...compiler.Option) error {
	compiled, err := compiler.Compile(r, rs.withPool(opts)...)
	if err != nil {
		return err
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	old := rs.current()
	next := make([]*compiler.CompiledRule, 0, len(old.rules)+1)
	for _, existing := range old.rules {
		if existing.ID != compiled.ID {
			next = append(next, existing)
		}
	}
	next = append(next, compiled)
	sortRules(next)
	rs.snap.Store(&ruleSnapshot{rules: next})
	return nil
}

// Remove deletes the rule with the given ID, if present.
func (rs *RuleSet) Remove(ruleID string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	old := rs.current()
	next := make([]*compiler.CompiledRule, 0, len(old.rules))
	for _, existing := range old.rules {
		if existing.ID != ruleID {
			next = append(next, existing)
		}
	}
	rs.snap.Store(&ruleSnapshot{rules: next})
}

// Replace atomically swaps the entire rule set for the newly compiled
// contents of rawRules, returning per-rule load results. Rules that fail
// to compile are skipped and are absent from the new set, even where the
// previous snapshot held a rule with the same ID.
func (rs *RuleSet) Replace(rawRules []rule.Rule, opts ...compiler.Option) []LoadResult {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	next, results := compileAll(rawRules, rs.withPool(opts)...)
	sortRules(next)
	rs.snap.Store(&ruleSnapshot{rules: next})
	return results
}

// LoadRules compiles rawRules and adds every one that compiles
// successfully to the set, reporting per-rule outcomes so one bad rule
// doesn't block the rest.
func (rs *RuleSet) LoadRules(rawRules []rule.Rule, opts ...compiler.Option) []LoadResult {
	compiledNew, results := compileAll(rawRules, rs.withPool(opts)...)

	rs.mu.Lock()
	defer rs.mu.Unlock()
	old := rs.current()
	byID := make(map[string]*compiler.CompiledRule, len(old.rules)+len(compiledNew))
	for _, existing := range old.rules {
		byID[existing.ID] = existing
	}
	for _, c := range compiledNew {
		byID[c.ID] = c
	}
	next := make([]*compiler.CompiledRule, 0, len(byID))
	for _, c := range byID {
		next = append(next, c)
	}
	sortRules(next)
	rs.snap.Store(&ruleSnapshot{rules: next})
	return results
}

func compileAll(rawRules []rule.Rule, opts ...compiler.Option) ([]*compiler.CompiledRule, []LoadResult) {
	compiled := make([]*compiler.CompiledRule, 0, len(rawRules))
	results := make([]LoadResult, 0, len(rawRules))
	for _, r := range rawRules {
		c, err := compiler.Compile(r, opts...)
		results = append(results, LoadResult{RuleID: r.ID, Err: err})
		if err == nil {
			compiled = append(compiled, c)
		}
	}
	return compiled, results
}

func sortRules(rules []*compiler.CompiledRule) {
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
}

// Evaluate walks every compiled rule's tree against ev, single-threaded,
// per spec.md §4.8. Results are ordered by rule ID.
func (rs *RuleSet) Evaluate(ev event.Event) EvaluationResult {
	snap := rs.current()
	result := EvaluationResult{Matches: make([]MatchRecord, 0, len(snap.rules))}
	for _, c := range snap.rules {
		matched, internalErr := evaluateOne(c, ev)
		if internalErr {
			result.InternalErrors++
		}
		result.Matches = append(result.Matches, MatchRecord{
			RuleID: c.ID, Title: c.Title, Level: c.Level, Tags: c.Tags, Matched: matched,
		})
	}
	return result
}

// evaluateOne runs one compiled rule's tree against ev, recovering from
// an InvariantViolation panic (condition.Node reaching an And/Or with
// zero children) so one broken rule can't take down the whole batch.
func evaluateOne(c *compiler.CompiledRule, ev event.Event) (matched bool, internalErr bool) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(condition.InvariantViolation); ok {
				matched = false
				internalErr = true
				return
			}
			panic(r)
		}
	}()
	m, _ := c.Node.Evaluate(ev)
	return m, false
}

// EvaluateBatch partitions evs across workers goroutines (default
// runtime.GOMAXPROCS(0)) and evaluates each partition against the shared,
// read-only snapshot, per spec.md §5's cross-event parallelism model.
// Results preserve the input event order.
func (rs *RuleSet) EvaluateBatch(evs []event.Event, workers int) []EvaluationResult {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(evs) {
		workers = len(evs)
	}
	results := make([]EvaluationResult, len(evs))
	if workers <= 1 {
		for i, ev := range evs {
			results[i] = rs.Evaluate(ev)
		}
		return results
	}

	var wg sync.WaitGroup
	chunk := (len(evs) + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * chunk
		if start >= len(evs) {
			break
		}
		end := start + chunk
		if end > len(evs) {
			end = len(evs)
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				results[i] = rs.Evaluate(evs[i])
			}
		}(start, end)
	}
	wg.Wait()
	return results
}
