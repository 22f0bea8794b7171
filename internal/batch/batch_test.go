package batch

import (
	"testing"

	"github.com/gzhole/sigmacore/internal/event"
	"github.com/gzhole/sigmacore/internal/rule"
	"github.com/gzhole/sigmacore/internal/ruleset"
)

func mustRule(t *testing.T, yamlBytes string) rule.Rule {
	t.Helper()
	r, err := rule.Load([]byte(yamlBytes), rule.LoadOptions{})
	if err != nil {
		t.Fatalf("rule.Load: %v", err)
	}
	return *r
}

const cmdYAML = `
title: Suspicious cmd.exe spawn
id: bbbbbbbb-0000-0000-0000-000000000001
level: medium
detection:
  selection:
    Image|endswith: '\cmd.exe'
  condition: selection
`

const psYAML = `
title: Suspicious powershell spawn
id: bbbbbbbb-0000-0000-0000-000000000002
level: high
detection:
  selection:
    Image|endswith: '\powershell.exe'
  condition: selection
`

const whoamiYAML = `
title: whoami invocation
id: bbbbbbbb-0000-0000-0000-000000000003
detection:
  selection:
    CommandLine|contains: 'whoami'
  condition: selection
`

const adminUserYAML = `
title: Administrator login
id: bbbbbbbb-0000-0000-0000-000000000004
detection:
  selection:
    User|startswith: 'admin'
  condition: selection
`

const exactHostYAML = `
title: Exact host match
id: bbbbbbbb-0000-0000-0000-000000000005
detection:
  selection:
    Host: 'fileserver01'
  condition: selection
`

const combinedYAML = `
title: cmd.exe spawned by explorer
id: bbbbbbbb-0000-0000-0000-000000000006
detection:
  selection:
    Image|endswith: '\cmd.exe'
    ParentImage|endswith: '\explorer.exe'
  condition: selection
`

func buildRuleSet(t *testing.T) *ruleset.RuleSet {
	t.Helper()
	rs := ruleset.New()
	for _, y := range []string{cmdYAML, psYAML, whoamiYAML, adminUserYAML, exactHostYAML, combinedYAML} {
		if err := rs.Add(mustRule(t, y)); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	return rs
}

func testEvents() []event.Event {
	return []event.Event{
		event.NewMap(map[string]any{
			"Image": `C:\Windows\System32\cmd.exe`, "CommandLine": `cmd.exe /c whoami`,
			"User": "administrator", "Host": "fileserver01", "ParentImage": `C:\Windows\explorer.exe`,
		}),
		event.NewMap(map[string]any{
			"Image": `C:\Windows\System32\powershell.exe`, "CommandLine": `powershell -enc ...`,
			"User": "guest", "Host": "workstation02", "ParentImage": `C:\Windows\svchost.exe`,
		}),
		event.NewMap(map[string]any{
			"Image": `C:\tools\notepad.exe`, "CommandLine": `notepad.exe readme.txt`,
			"User": "bob", "Host": "fileserver01",
		}),
		event.NewMap(map[string]any{}),
	}
}

func TestBatchEvaluateMatchesSequentialEvaluate(t *testing.T) {
	rs := buildRuleSet(t)
	events := testEvents()

	want := make([]ruleset.EvaluationResult, len(events))
	for i, ev := range events {
		want[i] = rs.Evaluate(ev)
	}

	b := NewBatch(rs)
	got := b.Evaluate(events)

	if len(got) != len(want) {
		t.Fatalf("length mismatch: %d vs %d", len(got), len(want))
	}
	for i := range events {
		if len(got[i].Matches) != len(want[i].Matches) {
			t.Fatalf("event %d: match count mismatch: %d vs %d", i, len(got[i].Matches), len(want[i].Matches))
		}
		wantByID := make(map[string]bool, len(want[i].Matches))
		for _, m := range want[i].Matches {
			wantByID[m.RuleID] = m.Matched
		}
		for _, m := range got[i].Matches {
			wantMatched, ok := wantByID[m.RuleID]
			if !ok {
				t.Fatalf("event %d: unexpected rule %s in grouped result", i, m.RuleID)
			}
			if wantMatched != m.Matched {
				t.Fatalf("event %d rule %s: grouped=%v sequential=%v", i, m.RuleID, m.Matched, wantMatched)
			}
		}
		if got[i].InternalErrors != want[i].InternalErrors {
			t.Fatalf("event %d: InternalErrors mismatch: %d vs %d", i, got[i].InternalErrors, want[i].InternalErrors)
		}
	}
}

func TestBatchEvaluateHandlesMissingFields(t *testing.T) {
	rs := ruleset.New()
	if err := rs.Add(mustRule(t, cmdYAML)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	b := NewBatch(rs)
	results := b.Evaluate([]event.Event{event.NewMap(map[string]any{})})
	if len(results) != 1 || len(results[0].Matches) != 1 {
		t.Fatalf("unexpected results: %+v", results)
	}
	if results[0].Matches[0].Matched {
		t.Fatalf("expected no match when the grouped field is absent")
	}
}
