// Package pattern implements the Sigma string and numeric leaf matchers:
// substring/prefix/suffix/exact/glob/regex/keyword predicates with
// case-insensitivity and whitespace-collapse flags, plus numeric set
// membership. Matchers are immutable after construction and safe to share
// across evaluator goroutines.
package pattern

import (
	"strings"
	"unicode"

	"github.com/dlclark/regexp2"
	"github.com/gobwas/glob"
)

// StringMatcher is the one place in the engine that uses dynamic dispatch
// for a leaf predicate, per the design notes: interior AST nodes are
// statically known variants, leaves hide behind this interface.
type StringMatcher interface {
	Match(s string) bool
}

func foldCase(s string, caseInsensitive bool) string {
	if !caseInsensitive {
		return s
	}
	return strings.ToLower(s)
}

func collapseWhitespace(s string, collapse bool) string {
	if !collapse {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	inSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte(' ')
				inSpace = true
			}
			continue
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

func normalize(s string, caseInsensitive, collapseWS bool) string {
	return foldCase(collapseWhitespace(s, collapseWS), caseInsensitive)
}

// Content matches when token occurs anywhere in the target.
type Content struct {
	token           string
	caseInsensitive bool
	collapseWS      bool
}

// NewContent builds a Content matcher. An empty token matches every target,
// per spec.md's documented (rare) edge case.
func NewContent(token string, caseInsensitive, collapseWS bool) *Content {
	return &Content{
		token:           normalize(token, caseInsensitive, collapseWS),
		caseInsensitive: caseInsensitive,
		collapseWS:      collapseWS,
	}
}

func (c *Content) Match(s string) bool {
	return strings.Contains(normalize(s, c.caseInsensitive, c.collapseWS), c.token)
}

// Token returns the normalized literal this matcher looks for, for
// callers (internal/batch) that group leaves into a shared automaton
// instead of evaluating them one at a time.
func (c *Content) Token() string { return c.token }

// CaseInsensitive reports whether Token is already case-folded.
func (c *Content) CaseInsensitive() bool { return c.caseInsensitive }

// Prefix matches when the target starts with token.
type Prefix struct {
	token           string
	caseInsensitive bool
	collapseWS      bool
}

func NewPrefix(token string, caseInsensitive, collapseWS bool) *Prefix {
	return &Prefix{
		token:           normalize(token, caseInsensitive, collapseWS),
		caseInsensitive: caseInsensitive,
		collapseWS:      collapseWS,
	}
}

func (p *Prefix) Match(s string) bool {
	return strings.HasPrefix(normalize(s, p.caseInsensitive, p.collapseWS), p.token)
}

// Token returns the normalized literal this matcher requires as a prefix.
func (p *Prefix) Token() string { return p.token }

// CaseInsensitive reports whether Token is already case-folded.
func (p *Prefix) CaseInsensitive() bool { return p.caseInsensitive }

// Suffix matches when the target ends with token.
type Suffix struct {
	token           string
	caseInsensitive bool
	collapseWS      bool
}

func NewSuffix(token string, caseInsensitive, collapseWS bool) *Suffix {
	return &Suffix{
		token:           normalize(token, caseInsensitive, collapseWS),
		caseInsensitive: caseInsensitive,
		collapseWS:      collapseWS,
	}
}

func (s *Suffix) Match(target string) bool {
	return strings.HasSuffix(normalize(target, s.caseInsensitive, s.collapseWS), s.token)
}

// Token returns the normalized literal this matcher requires as a suffix.
func (s *Suffix) Token() string { return s.token }

// CaseInsensitive reports whether Token is already case-folded.
func (s *Suffix) CaseInsensitive() bool { return s.caseInsensitive }

// Exact matches on whole-string equality.
type Exact struct {
	token           string
	caseInsensitive bool
	collapseWS      bool
}

func NewExact(token string, caseInsensitive, collapseWS bool) *Exact {
	return &Exact{
		token:           normalize(token, caseInsensitive, collapseWS),
		caseInsensitive: caseInsensitive,
		collapseWS:      collapseWS,
	}
}

func (e *Exact) Match(s string) bool {
	return normalize(s, e.caseInsensitive, e.collapseWS) == e.token
}

// Token returns the normalized literal this matcher requires exact equality to.
func (e *Exact) Token() string { return e.token }

// CaseInsensitive reports whether Token is already case-folded.
func (e *Exact) CaseInsensitive() bool { return e.caseInsensitive }

// Keyword is case-insensitive and whitespace-collapsing substring
// matching, unconditionally, per spec.md's Keyword modifier semantics.
type Keyword struct {
	token string
}

func NewKeyword(token string) *Keyword {
	return &Keyword{token: normalize(token, true, true)}
}

func (k *Keyword) Match(s string) bool {
	return strings.Contains(normalize(s, true, true), k.token)
}

// Glob compiles a Sigma glob pattern ('*' any run, '?' any one char,
// '\*'/'\?'/'\\' escapes) via gobwas/glob. Reduce first: a pattern with
// no unescaped wildcards becomes an Exact matcher, and the single-'*'
// shapes "foo*", "*foo" and "*foo*" become Prefix, Suffix and Content
// matchers; only the remaining patterns are compiled to a glob automaton.
type Glob struct {
	g               glob.Glob
	caseInsensitive bool
}

// NewGlob compiles pattern, reducing to a specialized matcher when possible.
func NewGlob(pattern string, caseInsensitive, collapseWS bool) (StringMatcher, error) {
	unescaped, hasWildcard, err := parseGlobLiteral(pattern)
	if err != nil {
		return nil, err
	}
	if !hasWildcard {
		return NewExact(unescaped, caseInsensitive, collapseWS), nil
	}
	if reduced, ok := reduceGlob(pattern); ok {
		switch reduced.kind {
		case reducedContent:
			return NewContent(reduced.token, caseInsensitive, collapseWS), nil
		case reducedPrefix:
			return NewPrefix(reduced.token, caseInsensitive, collapseWS), nil
		case reducedSuffix:
			return NewSuffix(reduced.token, caseInsensitive, collapseWS), nil
		}
	}

	compilePattern := pattern
	if caseInsensitive {
		compilePattern = strings.ToLower(pattern)
	}
	g, err := glob.Compile(compilePattern)
	if err != nil {
		return nil, err
	}
	return &Glob{g: g, caseInsensitive: caseInsensitive}, nil
}

// compileRawGlob compiles pattern with gobwas/glob, case-folded to lower
// case so the resulting automaton matches case-insensitively when paired
// with a lower-cased target at match time. Used directly by tests that
// need to bypass the prefix/suffix/contains reduction.
func compileRawGlob(pattern string) (glob.Glob, error) {
	return glob.Compile(strings.ToLower(pattern))
}

func (gm *Glob) Match(s string) bool {
	if gm.caseInsensitive {
		s = strings.ToLower(s)
	}
	return gm.g.Match(s)
}

type reducedKind int

const (
	reducedContent reducedKind = iota
	reducedPrefix
	reducedSuffix
)

type reducedGlob struct {
	kind  reducedKind
	token string
}

// reduceGlob recognizes the three single-wildcard shapes Sigma authors
// write almost universally: "*foo", "foo*", "*foo*" with no other
// unescaped '*'/'?' in the pattern. Anything more complex falls through to
// the general glob engine.
func reduceGlob(pattern string) (reducedGlob, bool) {
	runes := []rune(pattern)
	var stars []int
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '\\':
			i++ // skip escaped char
		case '?':
			return reducedGlob{}, false
		case '*':
			stars = append(stars, i)
		}
	}
	switch {
	case len(stars) == 1 && stars[0] == 0:
		lit, _, err := parseGlobLiteral(pattern[1:])
		if err != nil {
			return reducedGlob{}, false
		}
		return reducedGlob{kind: reducedSuffix, token: lit}, true
	case len(stars) == 1 && stars[0] == len(runes)-1:
		lit, _, err := parseGlobLiteral(string(runes[:len(runes)-1]))
		if err != nil {
			return reducedGlob{}, false
		}
		return reducedGlob{kind: reducedPrefix, token: lit}, true
	case len(stars) == 2 && stars[0] == 0 && stars[1] == len(runes)-1:
		lit, _, err := parseGlobLiteral(string(runes[1 : len(runes)-1]))
		if err != nil {
			return reducedGlob{}, false
		}
		return reducedGlob{kind: reducedContent, token: lit}, true
	default:
		return reducedGlob{}, false
	}
}

// parseGlobLiteral unescapes \*, \?, \\ and reports whether any unescaped
// wildcard character remains.
func parseGlobLiteral(s string) (string, bool, error) {
	var b strings.Builder
	hasWildcard := false
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '\\' {
			if i+1 >= len(runes) {
				return "", false, errBadEscape
			}
			next := runes[i+1]
			switch next {
			case '*', '?', '\\':
				b.WriteRune(next)
				i++
				continue
			default:
				return "", false, errBadEscape
			}
		}
		if r == '*' || r == '?' {
			hasWildcard = true
		}
		b.WriteRune(r)
	}
	return b.String(), hasWildcard, nil
}

var errBadEscape = globError("glob: dangling or invalid escape sequence")

type globError string

func (e globError) Error() string { return string(e) }

// Regex compiles pattern through dlclark/regexp2, which supports the
// PCRE-style backreferences/lookarounds Sigma authors occasionally use
// and RE2 (stdlib regexp) rejects outright. Compile-time rejection of
// catastrophic-backtracking shapes happens one layer up, in
// internal/compiler, before the pattern reaches here.
type Regex struct {
	re *regexp2.Regexp
}

func NewRegex(pattern string, caseInsensitive bool) (*Regex, error) {
	opts := regexp2.None
	if caseInsensitive {
		opts = regexp2.IgnoreCase
	}
	re, err := regexp2.Compile(pattern, opts)
	if err != nil {
		return nil, err
	}
	return &Regex{re: re}, nil
}

func (r *Regex) Match(s string) bool {
	ok, err := r.re.MatchString(s)
	return err == nil && ok
}

// AnyOf matches if any child matcher matches (OR-combine).
type AnyOf struct {
	children []StringMatcher
}

func NewAnyOf(children ...StringMatcher) *AnyOf { return &AnyOf{children: children} }

func (a *AnyOf) Match(s string) bool {
	for _, c := range a.children {
		if c.Match(s) {
			return true
		}
	}
	return false
}

// AllOf matches only if every child matcher matches (AND-combine).
type AllOf struct {
	children []StringMatcher
}

func NewAllOf(children ...StringMatcher) *AllOf { return &AllOf{children: children} }

func (a *AllOf) Match(s string) bool {
	for _, c := range a.children {
		if !c.Match(s) {
			return false
		}
	}
	return true
}
