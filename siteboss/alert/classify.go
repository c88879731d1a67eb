// Package alert assigns a severity to a normalized sensor reading.
//
// Only an active contact closure can raise an alert. Its lowercase name is
// matched against per-severity token lists, lesser severities first, so a
// "Door Alarm" is a warning rather than a critical alert.
package alert

import (
	"strings"

	"github.com/vpbank/siteboss_exporter/models"
)

const (
	// TriggerType is the only sensor type that can raise an alert.
	TriggerType = "Contact Closure"
	// TriggerStatus is the status a contact closure must report to alert.
	TriggerStatus = "Active"
)

// level pairs one severity with the tokens that select it.
type level struct {
	severity models.AlertLevel
	tokens   []string
}

// Table is an immutable classification table. The zero value classifies
// everything as normal.
type Table struct {
	levels []level
}

// NewTable builds a Table from a severity → tokens mapping. Tokens are
// lower-cased; empty tokens and the normal severity are ignored. Levels are
// ordered warning before critical regardless of map iteration order.
func NewTable(tokens map[models.AlertLevel][]string) Table {
	var t Table
	for _, sev := range models.AlertLevels {
		if sev == models.AlertNormal {
			continue
		}
		var toks []string
		for _, tok := range tokens[sev] {
			tok = strings.ToLower(strings.TrimSpace(tok))
			if tok != "" {
				toks = append(toks, tok)
			}
		}
		if len(toks) > 0 {
			t.levels = append(t.levels, level{severity: sev, tokens: toks})
		}
	}
	return t
}

// DefaultTable is the table built from models.DefaultRules.
func DefaultTable() Table {
	return NewTable(models.DefaultRules().AlertTokens)
}

// Classify returns the severity for one reading. It is pure and total.
func (t Table) Classify(sensorType, status, name string) models.AlertLevel {
	if sensorType != TriggerType || status != TriggerStatus {
		return models.AlertNormal
	}
	lower := strings.ToLower(name)
	for _, l := range t.levels {
		for _, tok := range l.tokens {
			if strings.Contains(lower, tok) {
				return l.severity
			}
		}
	}
	return models.AlertNormal
}

// Classify applies the default table.
func Classify(sensorType, status, name string) models.AlertLevel {
	return defaultTable.Classify(sensorType, status, name)
}

var defaultTable = DefaultTable()
