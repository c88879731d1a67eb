// Package models defines the core data structures shared across all layers of
// the SiteBoss exporter. These types represent the canonical in-memory form of
// one poll of a site-monitoring unit; every other package depends on this
// package and nothing here depends on any other internal package.
package models

import "time"

// AlertLevel is the severity assigned to a single sensor reading.
type AlertLevel string

const (
	AlertNormal   AlertLevel = "normal"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// AlertLevels lists every severity in ascending order. Summaries and the
// alert-count instrument iterate this slice so all three keys always appear.
var AlertLevels = []AlertLevel{AlertNormal, AlertWarning, AlertCritical}

// Value returns the numeric form published on the sensor status gauge:
// 0 = normal, 1 = warning, 2 = critical. Unknown levels map to 0.
func (l AlertLevel) Value() float64 {
	switch l {
	case AlertWarning:
		return 1
	case AlertCritical:
		return 2
	default:
		return 0
	}
}

// TelemetrySnapshot is one consistent, fully-normalized capture of a unit and
// its surviving sensors. Sensors keep document order.
type TelemetrySnapshot struct {
	Unit       UnitInfo  `json:"unit"`
	Sensors    []Sensor  `json:"sensors"`
	CapturedAt time.Time `json:"capturedAt"`
}

// UnitInfo carries the identity and metadata of the monitoring unit. Every
// pointer field is nil when the device omitted the tag or left it empty.
type UnitInfo struct {
	SiteName  *string       `json:"siteName"`
	Serial    *string       `json:"serial"`
	Version   *string       `json:"version"`
	Build     *string       `json:"build"`
	Hardware  *string       `json:"hardware"`
	Timestamp UnitTimestamp `json:"timestamp"`
	Location  Location      `json:"location"`
	Uptime    *string       `json:"uptime"`

	// DeviceTime is Timestamp.Date + Timestamp.Time parsed as local time.
	// nil when either part is missing or the format is not recognised.
	DeviceTime *time.Time `json:"deviceTime,omitempty"`
}

// UnitTimestamp is the device-reported clock plus the time we read it.
type UnitTimestamp struct {
	Date        *string   `json:"date"`
	Time        *string   `json:"time"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Location holds optional geographic coordinates.
type Location struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// Sensor is one physical or logical reading that survived filtering.
type Sensor struct {
	ID         string     `json:"id"`
	Group      string     `json:"group"`
	GroupState string     `json:"groupState"`
	Type       string     `json:"type"`
	Name       string     `json:"name"`
	Number     string     `json:"number"`
	Status     string     `json:"status"`
	Value      string     `json:"value"`    // display value, e.g. "72.5F"
	RawValue   string     `json:"rawValue"` // numeric-as-string, left unparsed
	Units      string     `json:"units"`
	Enabled    bool       `json:"enabled"`
	AlertLevel AlertLevel `json:"alertLevel"`
}

// Summary is derived from a TelemetrySnapshot and never mutated on its own.
type Summary struct {
	TotalSensors  int                `json:"totalSensors"`
	SensorsByType map[string]int     `json:"sensorsByType"`
	AlertCounts   map[AlertLevel]int `json:"alertCounts"`
	LastPull      time.Time          `json:"lastPull"`
}

// Record is the static structured artifact written by the converter and served
// on the latest-record endpoint.
type Record struct {
	Unit    UnitInfo `json:"unit"`
	Sensors []Sensor `json:"sensors"`
	Summary Summary  `json:"summary"`
}

// NewRecord assembles a Record from a snapshot and its summary.
func NewRecord(snap TelemetrySnapshot, sum Summary) Record {
	sensors := snap.Sensors
	if sensors == nil {
		sensors = []Sensor{}
	}
	return Record{Unit: snap.Unit, Sensors: sensors, Summary: sum}
}
