package rule

import "testing"

const simpleRuleYAML = `
title: Suspicious cmd.exe spawn
id: 11111111-1111-1111-1111-111111111111
status: experimental
level: medium
tags:
  - attack.execution
logsource:
  product: windows
  category: process_creation
detection:
  selection:
    EventID: 4688
    Image|endswith: '\cmd.exe'
  condition: selection
`

func TestLoadValidRule(t *testing.T) {
	r, err := Load([]byte(simpleRuleYAML), LoadOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r.ID == "" || r.Title == "" {
		t.Fatalf("expected id/title to be populated")
	}
	if r.Level == nil || *r.Level != LevelMedium {
		t.Fatalf("expected level medium, got %v", r.Level)
	}
	cond, err := r.Detection.Condition()
	if err != nil || cond != "selection" {
		t.Fatalf("Condition() = %q, %v", cond, err)
	}
	if len(r.Detection.Identifiers()) != 1 {
		t.Fatalf("expected 1 identifier besides condition")
	}
}

func TestLoadMissingCondition(t *testing.T) {
	yamlBytes := []byte(`
title: Bad rule
id: x
detection:
  selection:
    EventID: 1
`)
	if _, err := Load(yamlBytes, LoadOptions{}); err == nil {
		t.Fatalf("expected error for missing condition")
	}
}

func TestLoadRejectsMultiDocument(t *testing.T) {
	multi := []byte(simpleRuleYAML + "\n---\n" + simpleRuleYAML)
	if _, err := Load(multi, LoadOptions{}); err == nil {
		t.Fatalf("expected multi-document YAML to be rejected by default")
	}
	if _, err := Load(multi, LoadOptions{AllowMultiDocument: true}); err != nil {
		t.Fatalf("expected multi-document YAML to be allowed with the flag: %v", err)
	}
}

func TestLoadAllParsesEveryDocument(t *testing.T) {
	multi := []byte(simpleRuleYAML + "\n---\n" + simpleRuleYAML)
	rules, err := LoadAll(multi)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
}

func TestExtraFieldsPreserved(t *testing.T) {
	yamlBytes := []byte(simpleRuleYAML + "custom_field: hello\n")
	r, err := Load(yamlBytes, LoadOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r.Extra["custom_field"] != "hello" {
		t.Fatalf("expected unknown top-level key preserved in Extra, got %v", r.Extra)
	}
}
