// Package json implements the JSON output formatter for SiteBoss records.
//
// Pipeline position:
//
//	producer/telemetry → format/json → transport/file | server /api/siteboss/latest
//
// The formatter converts a models.Record into a JSON byte slice. All json
// struct tags are declared on the model types themselves, so serialisation is
// a single json.Marshal call with optional indentation.
package json

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/vpbank/siteboss_exporter/models"
)

// ─────────────────────────────────────────────────────────────────────────────
// Formatter interface
// ─────────────────────────────────────────────────────────────────────────────

// Formatter serialises a models.Record into a byte slice.
type Formatter interface {
	Format(rec *models.Record) ([]byte, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// Config controls JSONFormatter behaviour.
type Config struct {
	// PrettyPrint emits indented, human-readable JSON when true.
	PrettyPrint bool

	// Indent is the indent string used when PrettyPrint=true.
	// Defaults to two spaces when empty and PrettyPrint=true.
	Indent string
}

// ─────────────────────────────────────────────────────────────────────────────
// JSONFormatter
// ─────────────────────────────────────────────────────────────────────────────

// JSONFormatter implements Formatter using encoding/json. It is safe for
// concurrent use; all fields are immutable after construction.
type JSONFormatter struct {
	cfg    Config
	logger *slog.Logger
}

// New constructs a JSONFormatter. If logger is nil, a no-op logger is
// substituted.
func New(cfg Config, logger *slog.Logger) *JSONFormatter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	if cfg.PrettyPrint && cfg.Indent == "" {
		cfg.Indent = "  "
	}
	return &JSONFormatter{cfg: cfg, logger: logger}
}

// Format serialises rec to JSON. Missing unit fields are emitted as null;
// an empty sensor list is emitted as [].
//
//	{
//	  "unit":    { "siteName": …, "serial": …, "timestamp": { … }, … },
//	  "sensors": [ { "id": …, "type": …, "alertLevel": …, … } ],
//	  "summary": { "totalSensors": …, "sensorsByType": { … }, "alertCounts": { … }, "lastPull": … }
//	}
func (f *JSONFormatter) Format(rec *models.Record) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("format/json: record must not be nil")
	}

	out := *rec
	if out.Sensors == nil {
		out.Sensors = []models.Sensor{}
	}

	var (
		data []byte
		err  error
	)
	if f.cfg.PrettyPrint {
		data, err = json.MarshalIndent(out, "", f.cfg.Indent)
	} else {
		data, err = json.Marshal(out)
	}
	if err != nil {
		f.logger.Error("format/json: marshal failed",
			"serial", deref(rec.Unit.Serial),
			"error", err.Error(),
		)
		return nil, fmt.Errorf("format/json: marshal: %w", err)
	}

	f.logger.Debug("format/json: formatted record",
		"serial", deref(rec.Unit.Serial),
		"sensor_count", len(out.Sensors),
		"bytes", len(data),
	)
	return data, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ─────────────────────────────────────────────────────────────────────────────
// no-op logger writer
// ─────────────────────────────────────────────────────────────────────────────

// noopWriter discards all log output when no logger is provided.
type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
