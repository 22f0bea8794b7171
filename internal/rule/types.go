// Package rule defines the Rule document shape: the structural
// representation of a parsed Sigma rule, loaded from YAML and otherwise
// immutable.
package rule

import "fmt"

// Level is the rule's severity, a single optional field restricted to a
// documented closed set. This resolves the teacher source's split between
// Option<String> and String Level representations in favor of one model
// (spec.md's Open Question).
type Level string

const (
	LevelInformational Level = "informational"
	LevelLow           Level = "low"
	LevelMedium        Level = "medium"
	LevelHigh          Level = "high"
	LevelCritical      Level = "critical"
)

func (l Level) valid() bool {
	switch l {
	case LevelInformational, LevelLow, LevelMedium, LevelHigh, LevelCritical:
		return true
	}
	return false
}

// Logsource narrows where a rule applies; recognized but not interpreted
// by the core (the caller's ingestion pipeline routes events to rules).
type Logsource struct {
	Product  string `yaml:"product,omitempty"`
	Service  string `yaml:"service,omitempty"`
	Category string `yaml:"category,omitempty"`
}

// Detection is the identifier-name -> identifier-body map plus the
// required "condition" string. Bodies are kept as raw `any` here; the
// compiler classifies each as a selection map or a keyword list.
type Detection map[string]any

// Condition extracts the required "condition" key.
func (d Detection) Condition() (string, error) {
	v, ok := d["condition"]
	if !ok {
		return "", fmt.Errorf("detection missing required %q key", "condition")
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("detection %q key must be a non-empty string", "condition")
	}
	return s, nil
}

// Identifiers returns the detection's identifier bodies, excluding the
// "condition" key, as a map; the map itself has no order; the condition
// resolver sorts the names so compilation is deterministic across runs
// for the same YAML bytes.
func (d Detection) Identifiers() map[string]any {
	out := make(map[string]any, len(d))
	for k, v := range d {
		if k == "condition" {
			continue
		}
		out[k] = v
	}
	return out
}

// Rule is the parsed YAML document, per spec.md §3.
type Rule struct {
	ID             string         `yaml:"id"`
	Title          string         `yaml:"title"`
	Description    string         `yaml:"description,omitempty"`
	Status         string         `yaml:"status,omitempty"`
	Author         string         `yaml:"author,omitempty"`
	References     []string       `yaml:"references,omitempty"`
	Tags           []string       `yaml:"tags,omitempty"`
	Logsource      Logsource      `yaml:"logsource,omitempty"`
	Detection      Detection      `yaml:"detection"`
	Date           string         `yaml:"date,omitempty"`
	Modified       string         `yaml:"modified,omitempty"`
	Fields         []string       `yaml:"fields,omitempty"`
	Falsepositives []string       `yaml:"falsepositives,omitempty"`
	Level          *Level         `yaml:"level,omitempty"`
	Extra          map[string]any `yaml:"-"`
}

// Validate checks the required-fields contract from spec.md §4.3: a
// non-empty id, a title, and a detection with at least one identifier
// and a condition, plus a Level (when set) from the closed set above. It
// does not validate the condition expression itself (that's
// internal/condition's job).
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule: missing required id")
	}
	if r.Title == "" {
		return fmt.Errorf("rule %q: missing required title", r.ID)
	}
	if len(r.Detection) == 0 {
		return fmt.Errorf("rule %q: detection must have at least one identifier", r.ID)
	}
	if _, err := r.Detection.Condition(); err != nil {
		return fmt.Errorf("rule %q: %w", r.ID, err)
	}
	if len(r.Detection.Identifiers()) == 0 {
		return fmt.Errorf("rule %q: detection has no identifiers besides condition", r.ID)
	}
	if r.Level != nil && !r.Level.valid() {
		return fmt.Errorf("rule %q: invalid level %q", r.ID, *r.Level)
	}
	return nil
}
