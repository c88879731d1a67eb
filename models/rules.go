package models

import "strings"

// Rules is the parsed form of the rules YAML file. It controls which raw
// sensor readings survive normalization and how contact closures are
// classified. A Rules value is built once at startup and treated as read-only
// afterwards; use Clone when a private copy is needed.
type Rules struct {
	// WorkingStatus maps a sensor type to the status strings considered a
	// valid reading for that type, e.g. "Temperature" → {"Normal"}. Types
	// without an entry are never filtered on status.
	WorkingStatus map[string]map[string]struct{}

	// IgnoredNames holds lowercase sensor names that are dropped entirely.
	IgnoredNames map[string]struct{}

	// AlertTokens maps a severity to the lowercase name tokens that raise it
	// on an active contact closure, e.g. AlertWarning → ["door"].
	AlertTokens map[AlertLevel][]string
}

// DefaultRules returns the rule set shipped with the exporter.
func DefaultRules() Rules {
	return Rules{
		WorkingStatus: map[string]map[string]struct{}{
			"Contact Closure": setOf("Active", "Inactive"),
			"Temperature":     setOf("Normal"),
			"Analog":          setOf("Normal"),
			"Output":          setOf("Active", "Inactive"),
		},
		IgnoredNames: setOf("unnamed"),
		AlertTokens: map[AlertLevel][]string{
			AlertWarning:  {"door"},
			AlertCritical: {"alarm", "smoke", "motion", "flood"},
		},
	}
}

// Allowed reports whether status is a working status for sensorType. The
// second return is false when sensorType has no entry in the table.
func (r Rules) Allowed(sensorType, status string) (allowed, known bool) {
	set, ok := r.WorkingStatus[sensorType]
	if !ok {
		return true, false
	}
	_, allowed = set[status]
	return allowed, true
}

// Ignored reports whether a sensor name is in the ignore set.
func (r Rules) Ignored(name string) bool {
	_, ok := r.IgnoredNames[strings.ToLower(name)]
	return ok
}

// Clone returns a deep copy so callers can hand out Rules without sharing
// the underlying maps.
func (r Rules) Clone() Rules {
	out := Rules{
		WorkingStatus: make(map[string]map[string]struct{}, len(r.WorkingStatus)),
		IgnoredNames:  make(map[string]struct{}, len(r.IgnoredNames)),
		AlertTokens:   make(map[AlertLevel][]string, len(r.AlertTokens)),
	}
	for t, set := range r.WorkingStatus {
		cp := make(map[string]struct{}, len(set))
		for s := range set {
			cp[s] = struct{}{}
		}
		out.WorkingStatus[t] = cp
	}
	for n := range r.IgnoredNames {
		out.IgnoredNames[n] = struct{}{}
	}
	for lvl, toks := range r.AlertTokens {
		out.AlertTokens[lvl] = append([]string(nil), toks...)
	}
	return out
}

func setOf(values ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}
	return m
}
