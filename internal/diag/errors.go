// Package diag implements the engine's typed error taxonomy and a small
// redaction helper for diagnostic strings that may echo attacker-controlled
// event or rule data.
package diag

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error categories the engine can raise.
type Kind string

const (
	// RuleSyntax covers malformed YAML, missing required keys, bad tag lists.
	RuleSyntax Kind = "rule_syntax"
	// UnsupportedFeature covers aggregation, unknown modifiers, and
	// encoding modifiers when the caller has disabled them.
	UnsupportedFeature Kind = "unsupported_feature"
	// ConditionLex covers invalid token adjacency, unknown keywords, bad
	// identifier characters.
	ConditionLex Kind = "condition_lex"
	// ConditionParse covers unbalanced parens, unresolved identifiers,
	// empty sel* expansions.
	ConditionParse Kind = "condition_parse"
	// PatternCompile covers malformed regex/glob and disallowed regex shapes.
	PatternCompile Kind = "pattern_compile"
	// FieldAccess names a field path that can't be resolved against an
	// event. Evaluation in this module has no strict mode: a missing field
	// is treated as absent, and no code path here raises this kind.
	FieldAccess Kind = "field_access"
	// EvaluationInternal marks an invariant violation during evaluation.
	// It should never happen; when it does, it is never silently dropped.
	EvaluationInternal Kind = "evaluation_internal"
)

// Error is the engine's single error type. Every compile and evaluation
// failure is surfaced as one of these so callers can switch on Kind via
// errors.As instead of string-matching messages.
type Error struct {
	Kind       Kind
	RuleID     string
	Identifier string
	FieldPath  string
	Token      string
	Cause      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("sigmacore: %s", e.Kind)
	if e.RuleID != "" {
		msg += fmt.Sprintf(" rule=%q", e.RuleID)
	}
	if e.Identifier != "" {
		msg += fmt.Sprintf(" identifier=%q", e.Identifier)
	}
	if e.FieldPath != "" {
		msg += fmt.Sprintf(" field=%q", e.FieldPath)
	}
	if e.Token != "" {
		msg += fmt.Sprintf(" token=%q", Redact(e.Token))
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind, applying any number of option
// functions to set context fields.
func New(kind Kind, opts ...func(*Error)) *Error {
	e := &Error{Kind: kind}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithRuleID sets the RuleID field.
func WithRuleID(id string) func(*Error) { return func(e *Error) { e.RuleID = id } }

// WithIdentifier sets the Identifier field.
func WithIdentifier(name string) func(*Error) { return func(e *Error) { e.Identifier = name } }

// WithFieldPath sets the FieldPath field.
func WithFieldPath(path string) func(*Error) { return func(e *Error) { e.FieldPath = path } }

// WithToken sets the Token field.
func WithToken(tok string) func(*Error) { return func(e *Error) { e.Token = tok } }

// WithCause wraps an underlying error.
func WithCause(err error) func(*Error) { return func(e *Error) { e.Cause = err } }

// KindOf extracts the Kind of err if it is (or wraps) a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
