package condition

import (
	"testing"

	"github.com/gzhole/sigmacore/internal/event"
)

func mustParse(t *testing.T, cond string) rawNode {
	t.Helper()
	toks, err := Lex(cond)
	if err != nil {
		t.Fatalf("Lex(%q): %v", cond, err)
	}
	node, err := Parse(toks)
	if err != nil {
		t.Fatalf("Parse(%q): %v", cond, err)
	}
	return node
}

func TestParseUnbalancedParens(t *testing.T) {
	toks, err := Lex("(selection1 or selection2")
	if err != nil {
		t.Fatalf("Lex: %v", err)
	}
	if _, err := Parse(toks); err == nil {
		t.Fatalf("expected Parse to reject unbalanced parens")
	}
}

func TestParseSingleIdentifier(t *testing.T) {
	n := mustParse(t, "selection")
	if _, ok := n.(rawIdent); !ok {
		t.Fatalf("expected rawIdent, got %T", n)
	}
}

func TestParsePrecedenceOrBindsLooserThanAnd(t *testing.T) {
	// "a or b and c" must parse as "a or (b and c)".
	n := mustParse(t, "a or b and c")
	or, ok := n.(rawOr)
	if !ok {
		t.Fatalf("expected top-level rawOr, got %T", n)
	}
	if len(or.children) != 2 {
		t.Fatalf("expected 2 or-children, got %d", len(or.children))
	}
	if _, ok := or.children[0].(rawIdent); !ok {
		t.Fatalf("expected first or-child to be a bare identifier, got %T", or.children[0])
	}
	if _, ok := or.children[1].(rawAnd); !ok {
		t.Fatalf("expected second or-child to be an and-group, got %T", or.children[1])
	}
}

func TestParseNotBindsTighterThanAnd(t *testing.T) {
	n := mustParse(t, "a and not b")
	and, ok := n.(rawAnd)
	if !ok {
		t.Fatalf("expected rawAnd, got %T", n)
	}
	if _, ok := and.children[1].(rawNot); !ok {
		t.Fatalf("expected second and-child to be negated, got %T", and.children[1])
	}
}

func TestParseStatementTargets(t *testing.T) {
	n := mustParse(t, "1 of sel*")
	oneOf, ok := n.(rawOneOf)
	if !ok {
		t.Fatalf("expected rawOneOf, got %T", n)
	}
	if !oneOf.target.wildcard || oneOf.target.prefix != "sel" {
		t.Fatalf("unexpected target: %+v", oneOf.target)
	}

	n2 := mustParse(t, "all of them")
	allOf, ok := n2.(rawAllOf)
	if !ok {
		t.Fatalf("expected rawAllOf, got %T", n2)
	}
	if !allOf.target.them {
		t.Fatalf("expected them target, got %+v", allOf.target)
	}
}

// --- end-to-end Compile scenarios, mirroring the seed scenarios in spec.md §8 ---

func mustEvent(fields map[string]any) event.Event { return event.NewMap(fields) }

func defaultCfg() Config { return Config{DefaultCaseInsensitive: true} }

func TestCompileSimpleSelection(t *testing.T) {
	idents := map[string]any{
		"selection": map[string]any{"EventID": int64(4688), "Image|endswith": `\cmd.exe`},
	}
	node, err := Compile("r1", "selection", idents, defaultCfg())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	ev := mustEvent(map[string]any{"EventID": int64(4688), "Image": `C:\Windows\System32\cmd.exe`})
	matched, applicable := node.Evaluate(ev)
	if !matched || !applicable {
		t.Fatalf("expected match, got matched=%v applicable=%v", matched, applicable)
	}
	evNoMatch := mustEvent(map[string]any{"EventID": int64(4688), "Image": `C:\Windows\System32\notepad.exe`})
	matched, _ = node.Evaluate(evNoMatch)
	if matched {
		t.Fatalf("expected no match for notepad.exe")
	}
}

func TestCompileOrAcrossIdentifiers(t *testing.T) {
	idents := map[string]any{
		"sel1": map[string]any{"Image|endswith": `\cmd.exe`},
		"sel2": map[string]any{"Image|endswith": `\powershell.exe`},
	}
	node, err := Compile("r2", "sel1 or sel2", idents, defaultCfg())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	ev := mustEvent(map[string]any{"Image": `C:\Windows\System32\powershell.exe`})
	matched, _ := node.Evaluate(ev)
	if !matched {
		t.Fatalf("expected OR match on powershell.exe")
	}
}

func TestCompileNotWithFilter(t *testing.T) {
	idents := map[string]any{
		"selection": map[string]any{"Image|endswith": `\cmd.exe`},
		"filter":    map[string]any{"ParentImage|endswith": `\explorer.exe`},
	}
	node, err := Compile("r3", "selection and not filter", idents, defaultCfg())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	filtered := mustEvent(map[string]any{"Image": `C:\Windows\System32\cmd.exe`, "ParentImage": `C:\Windows\explorer.exe`})
	if matched, _ := node.Evaluate(filtered); matched {
		t.Fatalf("expected filtered event to not match")
	}
	unfiltered := mustEvent(map[string]any{"Image": `C:\Windows\System32\cmd.exe`, "ParentImage": `svchost.exe`})
	if matched, _ := node.Evaluate(unfiltered); !matched {
		t.Fatalf("expected unfiltered event to match")
	}
}

func TestCompileWildcardIdentifierExpansion(t *testing.T) {
	idents := map[string]any{
		"sel_a": map[string]any{"Image|endswith": `\a.exe`},
		"sel_b": map[string]any{"Image|endswith": `\b.exe`},
		"other": map[string]any{"Image|endswith": `\z.exe`},
	}
	node, err := Compile("r4", "1 of sel*", idents, defaultCfg())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	ev := mustEvent(map[string]any{"Image": `C:\tools\b.exe`})
	if matched, _ := node.Evaluate(ev); !matched {
		t.Fatalf("expected sel* expansion to include sel_b")
	}
	other := mustEvent(map[string]any{"Image": `C:\tools\z.exe`})
	if matched, _ := node.Evaluate(other); matched {
		t.Fatalf("expected z.exe to not match sel* expansion")
	}
}

func TestCompileContainsAllModifier(t *testing.T) {
	idents := map[string]any{
		"selection": map[string]any{"CommandLine|contains|all": []any{"net", "user"}},
	}
	node, err := Compile("r5", "selection", idents, defaultCfg())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	both := mustEvent(map[string]any{"CommandLine": "net user administrator /add"})
	if matched, _ := node.Evaluate(both); !matched {
		t.Fatalf("expected contains|all match when both substrings present")
	}
	onlyOne := mustEvent(map[string]any{"CommandLine": "net view"})
	if matched, _ := node.Evaluate(onlyOne); matched {
		t.Fatalf("expected no match when only one substring present")
	}
}

func TestCompileKeywordIdentifier(t *testing.T) {
	idents := map[string]any{
		"keywords": []any{"mimikatz", "sekurlsa"},
	}
	node, err := Compile("r6", "keywords", idents, defaultCfg())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	ev := event.NewMap(map[string]any{"CommandLine": "invoke mimikatz now"})
	matched, applicable := node.Evaluate(ev)
	if !matched || !applicable {
		t.Fatalf("expected keyword match, got matched=%v applicable=%v", matched, applicable)
	}
	noKeywordFields := event.NewMap(map[string]any{"EventID": int64(1)}, "message")
	_, applicable = node.Evaluate(noKeywordFields)
	if applicable {
		t.Fatalf("expected inapplicable result when no keyword field is present")
	}
}

func TestCompileUnresolvedIdentifierErrors(t *testing.T) {
	idents := map[string]any{"selection": map[string]any{"Image": "cmd.exe"}}
	if _, err := Compile("r7", "missing", idents, defaultCfg()); err == nil {
		t.Fatalf("expected error for undeclared identifier")
	}
}

func TestCompileEmptyWildcardExpansionErrors(t *testing.T) {
	idents := map[string]any{"selection": map[string]any{"Image": "cmd.exe"}}
	if _, err := Compile("r8", "nope*", idents, defaultCfg()); err == nil {
		t.Fatalf("expected error for empty wildcard expansion")
	}
}
