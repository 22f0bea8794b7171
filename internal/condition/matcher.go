package condition

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/gzhole/sigmacore/internal/diag"
	"github.com/gzhole/sigmacore/internal/event"
	"github.com/gzhole/sigmacore/internal/intern"
	"github.com/gzhole/sigmacore/internal/pattern"
)

// LeafMatcher is a compiled identifier body: a SelectionMatcher, a
// KeywordsMatcher, or an OR of several SelectionMatchers (a list-of-maps
// identifier body). It is the one dynamic-dispatch boundary a leafNode
// delegates to.
type LeafMatcher interface {
	Evaluate(ev event.Event) (matched, applicable bool)
}

// Config controls how identifier bodies compile into matchers. The
// compiler package builds one of these from its functional options and
// passes it down; condition itself has no opinion about option syntax.
type Config struct {
	// DefaultCaseInsensitive is the fallback case-sensitivity for string
	// comparisons; spec.md's Open Question resolves this true by default.
	DefaultCaseInsensitive bool
	// CaseSensitiveFields opts specific field paths out of the default.
	CaseSensitiveFields map[string]bool
	// AllowEncodingModifiers permits base64/utf16/utf16le/utf16be/wide.
	AllowEncodingModifiers bool
	// ValidateRegex, if non-nil, statically rejects dangerous regex
	// shapes before a pattern.Regex is built. Errors are wrapped as
	// PatternCompile.
	ValidateRegex func(pattern string) error
	// Pool, if non-nil, deduplicates repeated literal tokens across the
	// rules compiled through it. A nil Pool is a pure no-op (intern.Pool's
	// Get degrades to pass-through on a nil receiver).
	Pool *intern.Pool
}

func (c Config) caseInsensitive(path string) bool {
	if c.CaseSensitiveFields[path] {
		return false
	}
	return c.DefaultCaseInsensitive
}

func (c Config) intern(s string) string {
	return c.Pool.Get(s)
}

// fieldRule is one key of a selection map: a field path plus the combined
// matcher built from its (possibly list-valued) right-hand side.
//
// allElements records whether the identifier's `all` modifier was present.
// It has two independent effects that compose: at build time (buildFieldRule)
// it changes how the field's own pattern *values* combine, AND-ing them via
// NewAllOf instead of OR-ing them via NewAnyOf; at evaluation time (Evaluate,
// below) it separately changes how a list-valued *event* field is quantified
// over — every element of the list must satisfy vm instead of just one, per
// spec.md §4.2. `field|all: [a, b]` against event list `[x, y]` therefore
// requires each of x and y to satisfy the single AllOf(a, b) matcher —
// i.e. every element matches both a and b.
type fieldRule struct {
	path        string
	vm          valueMatcher
	allElements bool
}

func (f fieldRule) Evaluate(ev event.Event) (bool, bool) {
	leaf, ok := ev.Select(f.path)
	if !ok {
		return false, true
	}
	if list, ok := leaf.([]any); ok {
		if f.allElements {
			for _, item := range list {
				if !f.vm.MatchLeaf(item) {
					return false, true
				}
			}
			return true, true
		}
		for _, item := range list {
			if f.vm.MatchLeaf(item) {
				return true, true
			}
		}
		return false, true
	}
	return f.vm.MatchLeaf(leaf), true
}

// valueMatcher coerces one event leaf (string/int64/float64/bool/nil) into
// the shape a StringMatcher or NumMatcher expects, per spec.md's
// value-coercion rules.
type valueMatcher interface {
	MatchLeaf(leaf any) bool
}

type stringValueMatcher struct{ m pattern.StringMatcher }

func (s stringValueMatcher) MatchLeaf(leaf any) bool {
	switch v := leaf.(type) {
	case string:
		return s.m.Match(v)
	case int64:
		return s.m.Match(strconv.FormatInt(v, 10))
	case int:
		return s.m.Match(strconv.Itoa(v))
	case float64:
		return s.m.Match(strconv.FormatFloat(v, 'g', -1, 64))
	case bool:
		return s.m.Match(strconv.FormatBool(v))
	default:
		return false
	}
}

type numValueMatcher struct{ m pattern.NumMatcher }

func (n numValueMatcher) MatchLeaf(leaf any) bool {
	switch v := leaf.(type) {
	case int64:
		return n.m.Match(v)
	case int:
		return n.m.Match(int64(v))
	case float64:
		if v != math.Trunc(v) {
			return false
		}
		if v < minInt64Float || v >= maxInt64Float {
			return false
		}
		return n.m.Match(int64(v))
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return false
		}
		return n.m.Match(parsed)
	default:
		return false
	}
}

// SelectionMatcher is a mapping identifier body: every field key combines
// with AND, per spec.md §3.
type SelectionMatcher struct{ fields []fieldRule }

func (s *SelectionMatcher) Evaluate(ev event.Event) (bool, bool) {
	for _, f := range s.fields {
		if m, _ := f.Evaluate(ev); !m {
			return false, true
		}
	}
	return true, true
}

// orSelection implements a list-of-selection-maps identifier body: an OR
// across its alternatives, per the original Sigma grammar this engine
// supplements spec.md's distilled model with.
type orSelection struct{ alts []LeafMatcher }

func (o *orSelection) Evaluate(ev event.Event) (bool, bool) {
	for _, alt := range o.alts {
		if m, _ := alt.Evaluate(ev); m {
			return true, true
		}
	}
	return false, true
}

// KeywordsMatcher is a list identifier body: a list of literal tokens,
// OR-combined, matched substring-wise against event.Keywords().
type KeywordsMatcher struct{ patterns []pattern.StringMatcher }

func (k *KeywordsMatcher) Evaluate(ev event.Event) (bool, bool) {
	words, applicable := ev.Keywords()
	if !applicable {
		return false, false
	}
	joined := strings.Join(words, "\n")
	for _, p := range k.patterns {
		if p.Match(joined) {
			return true, true
		}
	}
	return false, true
}

// buildLeaf compiles one detection identifier body into a LeafMatcher,
// per spec.md §4.2/§4.5 step 3.
func buildLeaf(name string, body any, cfg Config) (LeafMatcher, error) {
	switch b := body.(type) {
	case map[string]any:
		return buildSelection(name, b, cfg)
	case []any:
		if len(b) == 0 {
			return nil, diag.New(diag.ConditionParse, diag.WithIdentifier(name),
				diag.WithCause(fmt.Errorf("identifier body is an empty list")))
		}
		if allMaps(b) {
			alts := make([]LeafMatcher, 0, len(b))
			for _, elem := range b {
				m, err := buildSelection(name, elem.(map[string]any), cfg)
				if err != nil {
					return nil, err
				}
				alts = append(alts, m)
			}
			return &orSelection{alts: alts}, nil
		}
		return buildKeywords(name, b)
	default:
		return nil, diag.New(diag.ConditionParse, diag.WithIdentifier(name),
			diag.WithCause(fmt.Errorf("identifier body must be a mapping or a list, got %T", body)))
	}
}

func allMaps(items []any) bool {
	for _, it := range items {
		if _, ok := it.(map[string]any); !ok {
			return false
		}
	}
	return true
}

func buildKeywords(name string, items []any) (LeafMatcher, error) {
	patterns := make([]pattern.StringMatcher, 0, len(items))
	for _, item := range items {
		s, err := toMatchString(item)
		if err != nil {
			return nil, diag.New(diag.ConditionParse, diag.WithIdentifier(name), diag.WithCause(err))
		}
		patterns = append(patterns, pattern.NewKeyword(s))
	}
	return &KeywordsMatcher{patterns: patterns}, nil
}

func buildSelection(name string, body map[string]any, cfg Config) (*SelectionMatcher, error) {
	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]fieldRule, 0, len(keys))
	for _, key := range keys {
		path, mods := splitFieldKey(key)
		fr, err := buildFieldRule(name, path, mods, body[key], cfg)
		if err != nil {
			return nil, err
		}
		fields = append(fields, fr)
	}
	if len(fields) == 0 {
		return nil, diag.New(diag.ConditionParse, diag.WithIdentifier(name),
			diag.WithCause(fmt.Errorf("selection identifier has no fields")))
	}
	return &SelectionMatcher{fields: fields}, nil
}

func splitFieldKey(key string) (string, []string) {
	parts := strings.Split(key, "|")
	return parts[0], parts[1:]
}

var matchTypeModifiers = map[string]bool{"contains": true, "startswith": true, "endswith": true, "re": true, "keyword": true}
var encodingModifiers = map[string]bool{"base64": true, "utf16": true, "utf16le": true, "utf16be": true, "wide": true}

func buildFieldRule(identName, path string, mods []string, rawValue any, cfg Config) (fieldRule, error) {
	path = cfg.intern(path)
	matchType := ""
	allCombine := false
	var encodings []string
	for _, mod := range mods {
		lower := strings.ToLower(mod)
		switch {
		case matchTypeModifiers[lower]:
			if matchType != "" {
				return fieldRule{}, diag.New(diag.ConditionParse, diag.WithIdentifier(identName),
					diag.WithFieldPath(path), diag.WithCause(fmt.Errorf("field has more than one match-type modifier")))
			}
			matchType = lower
		case lower == "all":
			allCombine = true
		case encodingModifiers[lower]:
			if !cfg.AllowEncodingModifiers {
				return fieldRule{}, diag.New(diag.UnsupportedFeature, diag.WithIdentifier(identName),
					diag.WithFieldPath(path), diag.WithToken(mod))
			}
			encodings = append(encodings, lower)
		default:
			return fieldRule{}, diag.New(diag.UnsupportedFeature, diag.WithIdentifier(identName),
				diag.WithFieldPath(path), diag.WithToken(mod))
		}
	}

	values := normalizeToList(rawValue)
	caseInsensitive := cfg.caseInsensitive(path)

	if matchType == "" && len(encodings) == 0 && !allCombine {
		ints, isIntList, err := toInt64Slice(values)
		if err != nil {
			return fieldRule{}, diag.New(diag.RuleSyntax, diag.WithIdentifier(identName),
				diag.WithFieldPath(path), diag.WithCause(err))
		}
		if isIntList {
			return fieldRule{path: path, vm: numValueMatcher{m: pattern.NewInSet(ints)}}, nil
		}
	}

	perValue := make([]pattern.StringMatcher, 0, len(values))
	for _, v := range values {
		literal, err := toMatchString(v)
		if err != nil {
			var overflow *errNumericOverflow
			if errors.As(err, &overflow) {
				return fieldRule{}, diag.New(diag.RuleSyntax, diag.WithIdentifier(identName),
					diag.WithFieldPath(path), diag.WithCause(err))
			}
			return fieldRule{}, diag.New(diag.ConditionParse, diag.WithIdentifier(identName),
				diag.WithFieldPath(path), diag.WithCause(err))
		}
		literal = cfg.intern(literal)
		variants, err := encodeVariants(literal, encodings)
		if err != nil {
			return fieldRule{}, diag.New(diag.PatternCompile, diag.WithIdentifier(identName),
				diag.WithFieldPath(path), diag.WithCause(err))
		}
		variantMatchers := make([]pattern.StringMatcher, 0, len(variants))
		for _, variant := range variants {
			vm, err := buildMatchTypeMatcher(matchType, variant, caseInsensitive, cfg)
			if err != nil {
				return fieldRule{}, diag.New(diag.PatternCompile, diag.WithIdentifier(identName),
					diag.WithFieldPath(path), diag.WithCause(err))
			}
			variantMatchers = append(variantMatchers, vm)
		}
		if len(variantMatchers) == 1 {
			perValue = append(perValue, variantMatchers[0])
		} else {
			perValue = append(perValue, pattern.NewAnyOf(variantMatchers...))
		}
	}

	var combined pattern.StringMatcher
	switch {
	case len(perValue) == 1:
		combined = perValue[0]
	case allCombine:
		combined = pattern.NewAllOf(perValue...)
	default:
		combined = pattern.NewAnyOf(perValue...)
	}
	return fieldRule{path: path, vm: stringValueMatcher{m: combined}, allElements: allCombine}, nil
}

func buildMatchTypeMatcher(matchType, literal string, caseInsensitive bool, cfg Config) (pattern.StringMatcher, error) {
	switch matchType {
	case "contains":
		return pattern.NewContent(literal, caseInsensitive, false), nil
	case "startswith":
		return pattern.NewPrefix(literal, caseInsensitive, false), nil
	case "endswith":
		return pattern.NewSuffix(literal, caseInsensitive, false), nil
	case "keyword":
		return pattern.NewKeyword(literal), nil
	case "re":
		if cfg.ValidateRegex != nil {
			if err := cfg.ValidateRegex(literal); err != nil {
				return nil, err
			}
		}
		return pattern.NewRegex(literal, caseInsensitive)
	case "":
		return pattern.NewGlob(literal, caseInsensitive, false)
	default:
		return nil, fmt.Errorf("unknown match-type modifier %q", matchType)
	}
}

// encodeVariants applies encoding modifiers to literal in sequence.
// "base64" decodes the rule's stored (base64-text) pattern into raw bytes,
// reinterpreted as Latin-1, so it compares against the already-decoded
// field content a caller's pipeline produced. "utf16le"/"utf16be"/"wide"
// transcode the pattern text into the requested UTF-16 byte order; "utf16"
// is ambiguous about order, so it yields both LE and BE variants for
// callers to OR together.
func encodeVariants(literal string, encodings []string) ([]string, error) {
	cur := []string{literal}
	for _, enc := range encodings {
		var next []string
		for _, c := range cur {
			switch enc {
			case "base64":
				decoded, err := base64.StdEncoding.DecodeString(c)
				if err != nil {
					return nil, fmt.Errorf("base64 modifier: %w", err)
				}
				next = append(next, latin1ToString(decoded))
			case "utf16le", "wide":
				next = append(next, utf16String(c, false))
			case "utf16be":
				next = append(next, utf16String(c, true))
			case "utf16":
				next = append(next, utf16String(c, false), utf16String(c, true))
			default:
				return nil, fmt.Errorf("unknown encoding modifier %q", enc)
			}
		}
		cur = next
	}
	return cur, nil
}

func latin1ToString(b []byte) string {
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

func utf16String(s string, bigEndian bool) string {
	units := utf16.Encode([]rune(s))
	buf := make([]byte, 0, len(units)*2)
	for _, u := range units {
		if bigEndian {
			buf = append(buf, byte(u>>8), byte(u))
		} else {
			buf = append(buf, byte(u), byte(u>>8))
		}
	}
	return string(buf)
}

func normalizeToList(v any) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{v}
}

// minInt64Float/maxInt64Float bound the range of float64 values that
// convert to int64 without overflow. math.MinInt64 is exactly representable
// as a float64; math.MaxInt64 is not, so the float64 nearest it rounds up to
// 2^63 — the upper bound below is therefore exclusive.
const (
	minInt64Float = -9223372036854775808.0
	maxInt64Float = 9223372036854775808.0
)

// errNumericOverflow marks a literal value that is genuinely numeric but
// outside the int64 range — yaml.v3 resolves such a literal to uint64 (above
// math.MaxInt64) or float64 (above math.MaxUint64). spec.md §8 classifies
// this shape as a RuleSyntax error; callers distinguish it via errors.As from
// every other toMatchString/toInt64Slice failure (null values, genuinely
// unsupported Go types), which stay ConditionParse.
type errNumericOverflow struct{ repr string }

func (e *errNumericOverflow) Error() string {
	return fmt.Sprintf("numeric literal %s exceeds the int64 range", e.repr)
}

func toMatchString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case uint64:
		if t > math.MaxInt64 {
			return "", &errNumericOverflow{repr: strconv.FormatUint(t, 10)}
		}
		return strconv.FormatUint(t, 10), nil
	case float64:
		if t == math.Trunc(t) && (t < minInt64Float || t >= maxInt64Float) {
			return "", &errNumericOverflow{repr: strconv.FormatFloat(t, 'g', -1, 64)}
		}
		return strconv.FormatFloat(t, 'g', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	case nil:
		return "", fmt.Errorf("null literal values are not supported")
	default:
		return "", fmt.Errorf("unsupported literal value type %T", v)
	}
}

// toInt64Slice attempts the "bare field: <int|list>" fast numeric path (no
// match-type modifier). ok=false means the values aren't a pure integer list
// at all (e.g. a string among them) and the caller should fall back to
// building a string matcher instead; a non-nil err means a value IS a
// numeric literal but overflows int64, which the caller must surface as a
// RuleSyntax error rather than silently falling through.
func toInt64Slice(values []any) (out []int64, ok bool, err error) {
	out = make([]int64, 0, len(values))
	for _, v := range values {
		switch t := v.(type) {
		case int:
			out = append(out, int64(t))
		case int64:
			out = append(out, t)
		case uint64:
			if t > math.MaxInt64 {
				return nil, false, &errNumericOverflow{repr: strconv.FormatUint(t, 10)}
			}
			out = append(out, int64(t))
		case float64:
			if t != math.Trunc(t) {
				return nil, false, nil
			}
			if t < minInt64Float || t >= maxInt64Float {
				return nil, false, &errNumericOverflow{repr: strconv.FormatFloat(t, 'g', -1, 64)}
			}
			out = append(out, int64(t))
		default:
			return nil, false, nil
		}
	}
	return out, true, nil
}
