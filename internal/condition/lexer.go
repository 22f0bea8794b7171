// Package condition implements the Sigma condition expression language:
// lexer, recursive-descent parser, and the AST/matcher tree it resolves
// into. Grounded on the retrieved pack's own Sigma-in-Go exploration
// (a token-channel lexer with an adjacency-validation table that left
// "1 of"/"all of"/wildcard-identifier/nested-group parsing as TODOs);
// this package completes exactly those gaps against spec.md §6's literal
// grammar.
package condition

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/gzhole/sigmacore/internal/diag"
)

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Lex tokenizes a raw condition string into a token stream terminated by
// KindEOF, validating adjacency as it goes (spec.md §4.4's adjacency
// table) so an invalid sequence fails fast with both the previous and
// offending token for diagnostics.
func Lex(s string) ([]Token, error) {
	raw, err := scan(s)
	if err != nil {
		return nil, err
	}
	merged, err := mergeStatements(raw)
	if err != nil {
		return nil, err
	}
	if err := validateSequence(merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// scanWord is an intermediate token before "1"/"of"/"all" merging and
// keyword classification.
type scanWord struct {
	kind   Kind
	value  string
	offset int
	isOne  bool // literal "1", only valid before "of"
	isOf   bool // literal "of", only valid after "1" or "all"
	isAll  bool // literal "all", provisional: identifier unless followed by "of"
}

func scan(s string) ([]scanWord, error) {
	runes := []rune(s)
	var out []scanWord
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			out = append(out, scanWord{kind: KindLParen, value: "(", offset: i})
			i++
		case r == ')':
			out = append(out, scanWord{kind: KindRParen, value: ")", offset: i})
			i++
		case r == '|':
			// Aggregation clause: emit SepPipe then a single Unsupported
			// token spanning the remainder, per spec.md §4.4/§6.
			out = append(out, scanWord{kind: KindSepPipe, value: "|", offset: i})
			rest := string(runes[i+1:])
			out = append(out, scanWord{kind: KindUnsupported, value: rest, offset: i + 1})
			return out, nil
		case unicode.IsDigit(r):
			start := i
			for i < len(runes) && unicode.IsDigit(runes[i]) {
				i++
			}
			word := string(runes[start:i])
			if word != "1" {
				return nil, diag.New(diag.ConditionLex,
					WithLexContext(fmt.Sprintf("invalid numeral %q (only \"1\" is meaningful, in \"1 of\")", word), start))
			}
			out = append(out, scanWord{kind: KindIdent, value: word, offset: start, isOne: true})
		case isIdentStart(r):
			start := i
			for i < len(runes) && isIdentPart(runes[i]) {
				i++
			}
			wildcard := false
			if i < len(runes) && runes[i] == '*' {
				wildcard = true
				i++
			}
			word := string(runes[start:i])
			lower := strings.ToLower(strings.TrimSuffix(word, "*"))
			sw := scanWord{value: word, offset: start}
			switch {
			case wildcard:
				sw.kind = KindIdentWildcard
			case lower == "and":
				sw.kind = KindAnd
			case lower == "or":
				sw.kind = KindOr
			case lower == "not":
				sw.kind = KindNot
			case lower == "them":
				sw.kind = KindThem
			case lower == "of":
				sw.kind = KindIdent
				sw.isOf = true
			case lower == "all":
				sw.kind = KindIdent
				sw.isAll = true
			default:
				sw.kind = KindIdent
			}
			out = append(out, sw)
		default:
			return nil, diag.New(diag.ConditionLex,
				WithLexContext(fmt.Sprintf("unexpected character %q", string(r)), i))
		}
	}
	out = append(out, scanWord{kind: KindEOF, offset: len(runes)})
	return out, nil
}

// mergeStatements folds "1"+"of" into KindStmtOneOf and "all"+"of" into
// KindStmtAllOf, matched greedily over adjacent words (spec.md §4.4).
// A bare "of" with no preceding "1"/"all", or a bare "1" with no
// following "of", is a lex error.
func mergeStatements(words []scanWord) ([]Token, error) {
	var out []Token
	i := 0
	for i < len(words) {
		w := words[i]
		switch {
		case w.isOne:
			if i+1 < len(words) && words[i+1].isOf {
				out = append(out, Token{Kind: KindStmtOneOf, Value: "1 of", Offset: w.offset})
				i += 2
				continue
			}
			return nil, diag.New(diag.ConditionLex,
				WithLexContext(`"1" must be followed by "of"`, w.offset))
		case w.isAll:
			if i+1 < len(words) && words[i+1].isOf {
				out = append(out, Token{Kind: KindStmtAllOf, Value: "all of", Offset: w.offset})
				i += 2
				continue
			}
			// "all" not followed by "of": treat as a plain identifier.
			out = append(out, Token{Kind: KindIdent, Value: w.value, Offset: w.offset})
			i++
		case w.isOf:
			return nil, diag.New(diag.ConditionLex,
				WithLexContext(`"of" must follow "1" or "all"`, w.offset))
		default:
			out = append(out, Token{Kind: w.kind, Value: w.value, Offset: w.offset})
			i++
		}
	}
	return out, nil
}

// atomStartSet is every token kind that can begin an atom: a bare
// identifier, a wildcard identifier, a parenthesized group, a negation, or
// a "1 of"/"all of" statement.
var atomStartSet = map[Kind]bool{
	KindIdent: true, KindIdentWildcard: true, KindLParen: true, KindNot: true,
	KindStmtOneOf: true, KindStmtAllOf: true,
}

// adjacency table, per spec.md §4.4.
var validNext = map[Kind]map[Kind]bool{
	KindLParen: atomStartSet,
	KindAnd:    atomStartSet,
	KindOr:     atomStartSet,
	KindNot:       {KindIdent: true, KindIdentWildcard: true, KindLParen: true, KindStmtOneOf: true, KindStmtAllOf: true},
	KindStmtOneOf: {KindThem: true, KindIdent: true, KindIdentWildcard: true},
	KindStmtAllOf: {KindThem: true, KindIdent: true, KindIdentWildcard: true},
	KindThem:      {KindAnd: true, KindOr: true, KindRParen: true, KindEOF: true},
	KindIdent:     {KindAnd: true, KindOr: true, KindRParen: true, KindSepPipe: true, KindEOF: true},
	KindIdentWildcard: {KindAnd: true, KindOr: true, KindRParen: true, KindSepPipe: true, KindEOF: true},
	KindRParen:        {KindAnd: true, KindOr: true, KindRParen: true, KindSepPipe: true, KindEOF: true},
}

// startNextSet is a synthetic "beginning of expression" predecessor, using
// the same next-set as '(' / 'and' / 'or'.
var startNextSet = atomStartSet

func validateSequence(tokens []Token) error {
	var prev *Token
	for i := range tokens {
		cur := &tokens[i]
		if cur.Kind == KindUnsupported {
			return diag.New(diag.UnsupportedFeature,
				WithLexContext("aggregation expressions (| count() ...) are not supported", cur.Offset))
		}
		var ok bool
		if prev == nil {
			ok = cur.Kind == KindEOF || startNextSet[cur.Kind]
		} else if prev.Kind == KindSepPipe {
			ok = true // Unsupported already rejected above; pipe itself is a structural token.
		} else {
			set, known := validNext[prev.Kind]
			ok = known && set[cur.Kind]
		}
		if !ok {
			prevStr := "start"
			if prev != nil {
				prevStr = prev.Kind.String()
			}
			return diag.New(diag.ConditionLex,
				WithLexContext(fmt.Sprintf("invalid token sequence: %s -> %s", prevStr, cur.Kind), cur.Offset),
				diag.WithToken(cur.Value))
		}
		prev = cur
	}
	if prev == nil || prev.Kind != KindEOF {
		return diag.New(diag.ConditionLex, WithLexContext("condition must end cleanly", lastOffset(tokens)))
	}
	return nil
}

func lastOffset(tokens []Token) int {
	if len(tokens) == 0 {
		return 0
	}
	return tokens[len(tokens)-1].Offset
}

// WithLexContext is a diag.Error option that sets Cause to a message
// followed by the offset it refers to, for condition-lexer errors.
func WithLexContext(msg string, offset int) func(*diag.Error) {
	return func(e *diag.Error) {
		e.Cause = fmt.Errorf("%s (offset %d)", msg, offset)
	}
}
