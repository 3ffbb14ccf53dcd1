package security

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ruleOverride tunes a single named rule's severity without touching
// the compiled rule tables.
type ruleOverride struct {
	Severity string `yaml:"severity"`
}

// RuleOverrides maps a rule's name (the "name" field in syntaxRules,
// securityRules, or bestPracticeRules) to the override applied to it.
type RuleOverrides map[string]ruleOverride

// LoadRuleOverrides reads a YAML file shaped as a rule-name -> severity
// map, e.g.:
//
//	Dangerous transfer() Usage:
//	  severity: Critical
//
// A missing path is not an error; the caller gets a nil map and every
// rule keeps its compiled-in severity.
func LoadRuleOverrides(path string) (RuleOverrides, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("security: read rule overrides: %w", err)
	}
	var out RuleOverrides
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("security: parse rule overrides: %w", err)
	}
	return out, nil
}

// severityFor resolves name's effective severity: the override if one
// is present and names a recognized severity, otherwise def.
func (o RuleOverrides) severityFor(name string, def Severity) Severity {
	if o == nil {
		return def
	}
	ov, ok := o[name]
	if !ok {
		return def
	}
	if s, ok := parseSeverity(ov.Severity); ok {
		return s
	}
	return def
}

func parseSeverity(s string) (Severity, bool) {
	switch s {
	case "Critical":
		return SeverityCritical, true
	case "High":
		return SeverityHigh, true
	case "Medium":
		return SeverityMedium, true
	case "Low":
		return SeverityLow, true
	case "Info":
		return SeverityInfo, true
	default:
		return 0, false
	}
}
