package rule

import (
	"bytes"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

var knownTopLevelKeys = map[string]struct{}{
	"id": {}, "title": {}, "description": {}, "status": {}, "author": {},
	"references": {}, "tags": {}, "logsource": {}, "detection": {},
	"date": {}, "modified": {}, "fields": {}, "falsepositives": {}, "level": {},
}

// LoadOptions configures Load/LoadAll.
type LoadOptions struct {
	// AllowMultiDocument permits a YAML stream with more than one
	// document; by default a second document is a RuleSyntax-shaped
	// error, per spec.md §4.3.
	AllowMultiDocument bool
}

// Load parses a single Sigma rule from YAML bytes, grounded on the
// teacher's internal/policy.Load (os.ReadFile + yaml.Unmarshal), extended
// with multi-document rejection and required-field validation.
func Load(data []byte, opts LoadOptions) (*Rule, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))

	var r Rule
	if err := dec.Decode(&r); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("rule: empty YAML document")
		}
		return nil, fmt.Errorf("rule: parsing YAML: %w", err)
	}

	if !opts.AllowMultiDocument {
		var second any
		if err := dec.Decode(&second); err != io.EOF {
			if err == nil {
				return nil, fmt.Errorf("rule: multi-document YAML is not allowed (set AllowMultiDocument)")
			}
			return nil, fmt.Errorf("rule: parsing YAML: %w", err)
		}
	}

	r.Extra = extractExtra(data)

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// LoadAll parses every document in a multi-document YAML stream into
// separate Rules, regardless of LoadOptions.AllowMultiDocument (that flag
// only governs the single-rule Load path).
func LoadAll(data []byte) ([]*Rule, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var rules []*Rule
	for {
		var r Rule
		err := dec.Decode(&r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return rules, fmt.Errorf("rule: parsing YAML document %d: %w", len(rules)+1, err)
		}
		if err := r.Validate(); err != nil {
			return rules, err
		}
		rules = append(rules, &r)
	}
	return rules, nil
}

// extractExtra re-decodes the document into a generic map and strips the
// keys the Rule struct already understands, preserving unrecognized
// top-level keys without interpreting them (spec.md §6).
func extractExtra(data []byte) map[string]any {
	var generic map[string]any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil
	}
	extra := make(map[string]any)
	for k, v := range generic {
		if _, known := knownTopLevelKeys[k]; known {
			continue
		}
		extra[k] = v
	}
	if len(extra) == 0 {
		return nil
	}
	return extra
}
