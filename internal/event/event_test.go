package event

import "testing"

func TestSelectNested(t *testing.T) {
	ev := NewMap(map[string]any{
		"EventID": int64(4688),
		"Image":   `C:\Windows\System32\cmd.exe`,
		"alert": map[string]any{
			"signature": "possible shell spawn",
		},
	})

	if v, ok := ev.Select("EventID"); !ok || v != int64(4688) {
		t.Fatalf("Select(EventID) = %v, %v", v, ok)
	}
	if v, ok := ev.Select("alert.signature"); !ok || v != "possible shell spawn" {
		t.Fatalf("Select(alert.signature) = %v, %v", v, ok)
	}
	if _, ok := ev.Select("alert.signature.nested"); ok {
		t.Fatalf("Select into a non-mapping leaf should be absent")
	}
	if _, ok := ev.Select("missing.field"); ok {
		t.Fatalf("Select of missing path should be absent")
	}
}

func TestKeywordsApplicability(t *testing.T) {
	withMessage := NewMap(map[string]any{"message": "some free text"})
	words, ok := withMessage.Keywords()
	if !ok || len(words) != 1 || words[0] != "some free text" {
		t.Fatalf("Keywords() = %v, %v", words, ok)
	}

	noKeywordFields := NewMap(map[string]any{"EventID": int64(1)})
	words, ok = noKeywordFields.Keywords()
	if ok || len(words) != 0 {
		t.Fatalf("Keywords() on event with no keyword source should be not-applicable, got %v, %v", words, ok)
	}
}

func TestKeywordsFromList(t *testing.T) {
	ev := NewMap(map[string]any{
		"message": []any{"alpha", "beta", 3},
	})
	words, ok := ev.Keywords()
	if !ok || len(words) != 2 {
		t.Fatalf("Keywords() = %v, %v, want 2 string elements", words, ok)
	}
}
