// Package telemetry is the single normalization path of the exporter. It
// turns a raw SiteStatus.xml document into a filtered, classified
// models.TelemetrySnapshot and derives the models.Summary from it.
//
// Pipeline position:
//
//	fetcher → siteboss/decoder → producer/telemetry → publisher | format/json
//
// The continuous exporter and the one-shot converter both call Produce;
// neither re-implements filtering or classification.
package telemetry

import (
	"log/slog"
	"time"

	"github.com/vpbank/siteboss_exporter/models"
	"github.com/vpbank/siteboss_exporter/siteboss/alert"
	"github.com/vpbank/siteboss_exporter/siteboss/decoder"
)

// ─────────────────────────────────────────────────────────────────────────────
// Producer interface
// ─────────────────────────────────────────────────────────────────────────────

// Producer converts one raw document into a snapshot and its summary.
// Implementations must be safe for concurrent use.
type Producer interface {
	Produce(raw []byte) (models.TelemetrySnapshot, models.Summary, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Config
// ─────────────────────────────────────────────────────────────────────────────

// Config holds constructor options for TelemetryProducer.
type Config struct {
	// Rules controls filtering and alert tokens. A zero value selects
	// models.DefaultRules. The producer keeps its own deep copy.
	Rules models.Rules

	// DeviceLocation is the zone the unit's clock is set to, used to parse
	// Unit_Date/Unit_Time. nil means time.Local.
	DeviceLocation *time.Location

	// Now returns the capture time. nil means time.Now. Tests inject a fixed
	// clock so that repeated runs are byte-identical.
	Now func() time.Time
}

// ─────────────────────────────────────────────────────────────────────────────
// TelemetryProducer
// ─────────────────────────────────────────────────────────────────────────────

// TelemetryProducer is the production Producer. All of its state is read-only
// after construction.
type TelemetryProducer struct {
	rules  models.Rules
	table  alert.Table
	dec    *decoder.Decoder
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger
}

// New constructs a TelemetryProducer. Pass nil for a no-op logger.
func New(cfg Config, logger *slog.Logger) *TelemetryProducer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopProducerWriter{}, nil))
	}

	rules := cfg.Rules
	if rules.WorkingStatus == nil && rules.IgnoredNames == nil && rules.AlertTokens == nil {
		rules = models.DefaultRules()
	}
	rules = rules.Clone()

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	loc := cfg.DeviceLocation
	if loc == nil {
		loc = time.Local
	}

	return &TelemetryProducer{
		rules:  rules,
		table:  alert.NewTable(rules.AlertTokens),
		dec:    decoder.New(logger),
		loc:    loc,
		now:    now,
		logger: logger,
	}
}

// Normalize parses raw and returns the filtered snapshot. It fails only with
// *decoder.ParseError.
func (p *TelemetryProducer) Normalize(raw []byte) (models.TelemetrySnapshot, error) {
	doc, err := p.dec.Decode(raw)
	if err != nil {
		return models.TelemetrySnapshot{}, err
	}
	return p.normalizeDocument(doc), nil
}

// Produce implements Producer: Normalize followed by Summarize.
func (p *TelemetryProducer) Produce(raw []byte) (models.TelemetrySnapshot, models.Summary, error) {
	snap, err := p.Normalize(raw)
	if err != nil {
		return models.TelemetrySnapshot{}, models.Summary{}, err
	}
	sum := Summarize(snap)

	p.logger.Debug("telemetry: produced snapshot",
		"total_sensors", sum.TotalSensors,
		"types", len(sum.SensorsByType),
		"warning", sum.AlertCounts[models.AlertWarning],
		"critical", sum.AlertCounts[models.AlertCritical],
	)
	return snap, sum, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// no-op logger writer
// ─────────────────────────────────────────────────────────────────────────────

type noopProducerWriter struct{}

func (noopProducerWriter) Write(p []byte) (int, error) { return len(p), nil }
