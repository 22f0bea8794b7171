// Package compiler drives a rule.Rule through the condition package's
// lex/parse/resolve/reduce pipeline, applying functional-options
// configuration and a static regex-shape admission check before a rule
// is allowed into a RuleSet. Grounded on the teacher's
// internal/policy.BuildAnalyzerPipeline, which converts a policy.Rule
// into concrete analyzer.*Rule values in one pass; this package is the
// same "document in, runnable thing out" shape applied to Sigma rules.
package compiler

import (
	"regexp/syntax"

	"github.com/gzhole/sigmacore/internal/condition"
	"github.com/gzhole/sigmacore/internal/diag"
	"github.com/gzhole/sigmacore/internal/intern"
	"github.com/gzhole/sigmacore/internal/rule"
)

// CompiledRule is a rule.Rule reduced to an evaluable condition.Node plus
// the metadata an EvaluationResult needs to report a match.
type CompiledRule struct {
	ID    string
	Title string
	Level *rule.Level
	Tags  []string
	Node  condition.Node
}

type options struct {
	caseSensitiveFields    map[string]bool
	allowEncodingModifiers bool
	regexShapeCheck        bool
	internPool             *intern.Pool
}

func defaultOptions() options {
	return options{
		caseSensitiveFields:    nil,
		allowEncodingModifiers: true,
		regexShapeCheck:        true,
		internPool:             nil,
	}
}

// Option configures Compile.
type Option func(*options)

// WithCaseSensitive opts the named field paths out of the engine's
// default case-insensitive string comparison, resolving spec.md §9's
// second Open Question in favor of case-insensitive-by-default.
func WithCaseSensitive(fields ...string) Option {
	return func(o *options) {
		if o.caseSensitiveFields == nil {
			o.caseSensitiveFields = make(map[string]bool, len(fields))
		}
		for _, f := range fields {
			o.caseSensitiveFields[f] = true
		}
	}
}

// WithEncodingModifiers toggles support for base64/utf16*/wide field
// modifiers, resolving spec.md §9's first Open Question. Enabled by
// default; disabling makes those modifiers an UnsupportedFeature error.
func WithEncodingModifiers(allow bool) Option {
	return func(o *options) { o.allowEncodingModifiers = allow }
}

// WithRegexShapeCheck toggles the static catastrophic-backtracking shape
// guard applied to `|re` patterns. Enabled by default.
func WithRegexShapeCheck(enabled bool) Option {
	return func(o *options) { o.regexShapeCheck = enabled }
}

// WithInternPool shares pool across every field-rule literal this Compile
// call builds, deduplicating repeated pattern tokens (e.g. the same
// "cmd.exe" written into dozens of unrelated rules). A RuleSet holds one
// pool for its whole lifetime and passes it to every rule it compiles;
// callers compiling a single rule in isolation can leave this unset.
func WithInternPool(pool *intern.Pool) Option {
	return func(o *options) { o.internPool = pool }
}

// Compile validates r, then lexes, parses, resolves, and reduces its
// condition into a CompiledRule, per spec.md §4.7.
func Compile(r rule.Rule, opts ...Option) (*CompiledRule, error) {
	if err := r.Validate(); err != nil {
		return nil, diag.New(diag.RuleSyntax, diag.WithRuleID(r.ID), diag.WithCause(err))
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	condCfg := condition.Config{
		DefaultCaseInsensitive: true,
		CaseSensitiveFields:    o.caseSensitiveFields,
		AllowEncodingModifiers: o.allowEncodingModifiers,
		Pool:                   o.internPool,
	}
	if o.regexShapeCheck {
		condCfg.ValidateRegex = validateRegexShape
	}

	cond, err := r.Detection.Condition()
	if err != nil {
		return nil, diag.New(diag.RuleSyntax, diag.WithRuleID(r.ID), diag.WithCause(err))
	}

	node, err := condition.Compile(r.ID, cond, r.Detection.Identifiers(), condCfg)
	if err != nil {
		return nil, err
	}

	return &CompiledRule{
		ID:    r.ID,
		Title: r.Title,
		Level: r.Level,
		Tags:  r.Tags,
		Node:  node,
	}, nil
}

// validateRegexShape statically rejects regex patterns containing a
// quantifier nested inside another quantifier (e.g. `(a+)+`, the classic
// catastrophic-backtracking shape), using regexp/syntax's parser. Any such
// nesting is rejected, whether or not the two quantifiers repeat the same
// content. Patterns using PCRE-only features regexp/syntax can't parse at
// all (backreferences, lookarounds) skip this check silently: they aren't
// expressible in RE2 syntax, so there is nothing here to analyze, and they
// reach dlclark/regexp2 unchecked (pattern.NewRegex sets no match timeout).
func validateRegexShape(pattern string) error {
	re, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return nil
	}
	if hasNestedRepetition(re) {
		return diag.New(diag.PatternCompile,
			diag.WithToken(pattern),
			diag.WithCause(errCatastrophicShape))
	}
	return nil
}

var errCatastrophicShape = catastrophicShapeError{}

type catastrophicShapeError struct{}

func (catastrophicShapeError) Error() string {
	return "regex has a nested quantifier over a repeated subexpression (catastrophic backtracking shape)"
}

// hasNestedRepetition walks re looking for a repetition op (Star/Plus/
// Quest/Repeat) anywhere beneath another repetition op, at any depth. It
// does not compare the content the two ops repeat.
func hasNestedRepetition(re *syntax.Regexp) bool {
	return walkForNestedRepeat(re, false)
}

func walkForNestedRepeat(re *syntax.Regexp, underRepeat bool) bool {
	isRepeatOp := re.Op == syntax.OpStar || re.Op == syntax.OpPlus ||
		re.Op == syntax.OpQuest || re.Op == syntax.OpRepeat

	if isRepeatOp && underRepeat {
		return true
	}

	nextUnderRepeat := underRepeat || isRepeatOp
	for _, sub := range re.Sub {
		if walkForNestedRepeat(sub, nextUnderRepeat) {
			return true
		}
	}
	return false
}
