package condition

import (
	"testing"

	"github.com/gzhole/sigmacore/internal/event"
)

func TestLeavesClassifiesSingleFieldSelections(t *testing.T) {
	identifiers := map[string]any{
		"sel1": map[string]any{"Image|endswith": `\cmd.exe`},
		"sel2": map[string]any{"CommandLine|contains": "whoami"},
		"sel3": map[string]any{"User|startswith": "adm"},
		"multi": map[string]any{
			"Image":       `C:\Windows\System32\cmd.exe`,
			"CommandLine": "foo",
		},
	}
	node, err := Compile("r1", "sel1 or sel2 or sel3 or multi", identifiers, Config{DefaultCaseInsensitive: true})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	refs := Leaves(node)
	kinds := map[LeafKind]int{}
	for _, r := range refs {
		kinds[r.Kind]++
	}
	if kinds[LeafKindSuffix] != 1 || kinds[LeafKindContains] != 1 || kinds[LeafKindPrefix] != 1 {
		t.Fatalf("expected one suffix/contains/prefix leaf each, got %+v (refs=%+v)", kinds, refs)
	}
	// the multi-field selection's leaf doesn't reduce to a single groupable
	// field, so it must be excluded from Leaves() entirely.
	if len(refs) != 3 {
		t.Fatalf("expected exactly 3 groupable leaves, got %d: %+v", len(refs), refs)
	}
}

func TestEvaluateWithOverridesMatchesOrdinaryEvaluate(t *testing.T) {
	identifiers := map[string]any{
		"sel1": map[string]any{"Image|endswith": `\cmd.exe`},
		"sel2": map[string]any{"User|startswith": "adm"},
	}
	node, err := Compile("r1", "sel1 and not sel2", identifiers, Config{DefaultCaseInsensitive: true})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	ev := event.NewMap(map[string]any{"Image": `C:\Windows\System32\cmd.exe`, "User": "guest"})

	wantMatched, wantApplicable := node.Evaluate(ev)

	refs := Leaves(node)
	overrides := make(map[int]Outcome, len(refs))
	for _, r := range refs {
		switch r.FieldPath {
		case "Image":
			overrides[r.ID] = Outcome{Matched: true, Applicable: true}
		case "User":
			overrides[r.ID] = Outcome{Matched: false, Applicable: true}
		}
	}
	gotMatched, gotApplicable := EvaluateWithOverrides(node, ev, overrides)
	if gotMatched != wantMatched || gotApplicable != wantApplicable {
		t.Fatalf("override evaluation diverged: got (%v,%v) want (%v,%v)", gotMatched, gotApplicable, wantMatched, wantApplicable)
	}
}

func TestEvaluateWithOverridesFallsBackWhenOverrideAbsent(t *testing.T) {
	identifiers := map[string]any{
		"sel1": map[string]any{"Image|endswith": `\cmd.exe`},
	}
	node, err := Compile("r1", "sel1", identifiers, Config{DefaultCaseInsensitive: true})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	ev := event.NewMap(map[string]any{"Image": `C:\Windows\System32\cmd.exe`})
	matched, applicable := EvaluateWithOverrides(node, ev, nil)
	if !matched || !applicable {
		t.Fatalf("expected fallback evaluation to match, got matched=%v applicable=%v", matched, applicable)
	}
}
