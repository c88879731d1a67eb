package telemetry

import (
	"github.com/samber/lo"

	"github.com/vpbank/siteboss_exporter/models"
)

// Summarize derives per-type and per-severity counts from snap. It only
// aggregates; it never filters or reclassifies. AlertCounts always carries
// all three severities.
func Summarize(snap models.TelemetrySnapshot) models.Summary {
	byType := lo.CountValuesBy(snap.Sensors, func(s models.Sensor) string { return s.Type })
	byLevel := lo.CountValuesBy(snap.Sensors, func(s models.Sensor) models.AlertLevel { return s.AlertLevel })

	alerts := make(map[models.AlertLevel]int, len(models.AlertLevels))
	for _, lvl := range models.AlertLevels {
		alerts[lvl] = byLevel[lvl]
	}

	return models.Summary{
		TotalSensors:  len(snap.Sensors),
		SensorsByType: byType,
		AlertCounts:   alerts,
		LastPull:      snap.CapturedAt,
	}
}
