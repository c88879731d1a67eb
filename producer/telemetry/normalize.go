package telemetry

import (
	"strings"

	"github.com/vpbank/siteboss_exporter/models"
	"github.com/vpbank/siteboss_exporter/siteboss/decoder"
)

// ─────────────────────────────────────────────────────────────────────────────
// Drop reasons
// ─────────────────────────────────────────────────────────────────────────────

// dropReason explains why a raw sensor did not make it into a snapshot.
type dropReason string

const (
	keep          dropReason = ""
	dropIgnored   dropReason = "ignored_name"
	dropDisabled  dropReason = "disabled"
	dropBadStatus dropReason = "non_working_status"
)

// filter applies the inclusion rules in order: ignore set, enabled flag,
// working-status table.
func filter(rules models.Rules, s decoder.RawSensor) dropReason {
	if rules.Ignored(s.Name) {
		return dropIgnored
	}
	if strings.EqualFold(s.Enabled, "off") {
		return dropDisabled
	}
	if allowed, _ := rules.Allowed(s.Type, s.StatusString); !allowed {
		return dropBadStatus
	}
	return keep
}

// ─────────────────────────────────────────────────────────────────────────────
// Document → snapshot
// ─────────────────────────────────────────────────────────────────────────────

// normalizeDocument builds a snapshot from an already decoded document.
// It never fails: every decoded document yields a valid snapshot.
func (p *TelemetryProducer) normalizeDocument(doc decoder.Document) models.TelemetrySnapshot {
	now := p.now()

	snap := models.TelemetrySnapshot{
		Unit:       p.unitInfo(doc),
		CapturedAt: now,
	}
	snap.Unit.Timestamp.LastUpdated = now

	total := 0
	for _, g := range doc.Groups {
		total += len(g.Sensors)
	}
	snap.Sensors = make([]models.Sensor, 0, total)

	ids := newIDAllocator(total)
	dropped := make(map[dropReason]int)

	for _, g := range doc.Groups {
		for _, raw := range g.Sensors {
			if reason := filter(p.rules, raw); reason != keep {
				dropped[reason]++
				continue
			}
			snap.Sensors = append(snap.Sensors, models.Sensor{
				ID:         ids.assign(g.Name, raw.Type, raw.Name, raw.Number, len(snap.Sensors)),
				Group:      g.Name,
				GroupState: g.State,
				Type:       raw.Type,
				Name:       raw.Name,
				Number:     raw.Number,
				Status:     raw.StatusString,
				Value:      raw.ValueString,
				RawValue:   raw.Value,
				Units:      raw.Units,
				Enabled:    strings.EqualFold(raw.Enabled, "on"),
				AlertLevel: p.table.Classify(raw.Type, raw.StatusString, raw.Name),
			})
		}
	}

	p.logger.Debug("telemetry: normalized document",
		"raw_sensors", total,
		"kept", len(snap.Sensors),
		"dropped_ignored", dropped[dropIgnored],
		"dropped_disabled", dropped[dropDisabled],
		"dropped_status", dropped[dropBadStatus],
	)
	return snap
}

// unitInfo copies the unit tags and resolves the optional typed fields.
func (p *TelemetryProducer) unitInfo(doc decoder.Document) models.UnitInfo {
	u := models.UnitInfo{
		SiteName: doc.SiteName,
		Serial:   doc.Serial,
		Version:  doc.Version,
		Build:    doc.Build,
		Hardware: doc.Hardware,
		Uptime:   doc.Uptime,
		Timestamp: models.UnitTimestamp{
			Date: doc.Date,
			Time: doc.Time,
		},
		Location: models.Location{
			Latitude:  decoder.ParseCoordinate(doc.Latitude),
			Longitude: decoder.ParseCoordinate(doc.Longitude),
		},
	}
	if doc.Date != nil && doc.Time != nil {
		if t, ok := decoder.ParseDeviceTime(*doc.Date, *doc.Time, p.loc); ok {
			u.DeviceTime = &t
		}
	}
	return u
}

