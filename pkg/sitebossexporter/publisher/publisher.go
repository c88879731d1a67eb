// Package publisher exposes the most recent SiteBoss snapshot as Prometheus
// instruments and keeps the poll bookkeeping that the HTTP surface reports.
//
// Publisher is a prometheus.Collector. Publish builds the whole metric set for
// a snapshot up front and makes it live with a single atomic store, so a
// scrape observes either the previous snapshot or the new one in full, never
// a mixture. A failed build leaves the previous set in place.
package publisher

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vpbank/siteboss_exporter/models"
	"github.com/vpbank/siteboss_exporter/siteboss/decoder"
)

// ─────────────────────────────────────────────────────────────────────────────
// Instruments
// ─────────────────────────────────────────────────────────────────────────────

const (
	namespace = "siteboss"

	// unknownLabel replaces a missing unit field on siteboss_unit_info.
	unknownLabel = "unknown"

	temperatureType = "Temperature"
)

var (
	alertCountDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "alert_count"),
		"SiteBoss alert count by level.",
		[]string{"tower_id", "level"}, nil,
	)
	sensorStatusDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "sensor_status"),
		"SiteBoss sensor status (0=normal, 1=warning, 2=critical).",
		[]string{"tower_id", "sensor_name", "sensor_id", "sensor_type"}, nil,
	)
	temperatureDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "temperature"),
		"SiteBoss temperature readings.",
		[]string{"tower_id", "sensor_name", "location"}, nil,
	)
	sensorTypeCountDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "sensor_type_count"),
		"SiteBoss sensor count by type.",
		[]string{"tower_id", "sensor_type"}, nil,
	)
	unitInfoDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "unit_info"),
		"SiteBoss unit information.",
		[]string{"site_name", "serial", "version", "hardware"}, nil,
	)
	pullErrorsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "pull_errors_total"),
		"SiteBoss poll cycles that failed to fetch, parse or publish.",
		[]string{"tower_id"}, nil,
	)
	lastPullDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "last_pull_timestamp_seconds"),
		"Unix time of the last successful pull.",
		[]string{"tower_id"}, nil,
	)
	sensorsTotalDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "sensors_total"),
		"Number of sensors in the last snapshot.",
		[]string{"tower_id"}, nil,
	)
	uptimeDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "unit", "uptime_hours"),
		"SiteBoss unit uptime in hours.",
		[]string{"tower_id"}, nil,
	)
	deviceTimeDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "unit", "device_time_seconds"),
		"SiteBoss unit clock as Unix time.",
		[]string{"tower_id"}, nil,
	)

	allDescs = []*prometheus.Desc{
		alertCountDesc, sensorStatusDesc, temperatureDesc, sensorTypeCountDesc,
		unitInfoDesc, pullErrorsDesc, lastPullDesc, sensorsTotalDesc,
		uptimeDesc, deviceTimeDesc,
	}
)

// ─────────────────────────────────────────────────────────────────────────────
// Errors
// ─────────────────────────────────────────────────────────────────────────────

// ErrDuplicateSensor is wrapped by PublishError when two sensors in one
// snapshot share an id.
var ErrDuplicateSensor = errors.New("duplicate sensor id")

// PublishError reports a snapshot whose metric set could not be built. The
// previously published set stays live.
type PublishError struct {
	Metric string
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publisher: %s: %v", e.Metric, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// ─────────────────────────────────────────────────────────────────────────────
// Publisher
// ─────────────────────────────────────────────────────────────────────────────

// Config holds constructor options for Publisher.
type Config struct {
	// TowerID is the tower_id label value on every instrument.
	TowerID string

	// Now stamps siteboss_last_pull_timestamp_seconds. nil means time.Now.
	Now func() time.Time
}

// metricSet is an immutable, fully built exposition of one snapshot.
type metricSet struct {
	metrics  []prometheus.Metric
	serial   string
	sensors  int
	pulledAt time.Time
}

// Publisher implements prometheus.Collector. Publish and RecordFailure may be
// called concurrently with Collect.
type Publisher struct {
	tower  string
	now    func() time.Time
	logger *slog.Logger

	current    atomic.Pointer[metricSet]
	pullErrors atomic.Uint64
}

// New constructs a Publisher. Pass nil for a no-op logger.
func New(cfg Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Publisher{tower: cfg.TowerID, now: now, logger: logger}
}

// Describe implements prometheus.Collector.
func (p *Publisher) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range allDescs {
		ch <- d
	}
}

// Collect implements prometheus.Collector. Before the first successful
// Publish only the pull-error counter is exposed.
func (p *Publisher) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(pullErrorsDesc, prometheus.CounterValue,
		float64(p.pullErrors.Load()), p.tower)

	set := p.current.Load()
	if set == nil {
		return
	}
	for _, m := range set.metrics {
		ch <- m
	}
}

// Publish replaces the exposed instruments with the values of snap and sum.
// On error the previous instruments stay live, the pull-error counter is
// incremented and a *PublishError is returned.
func (p *Publisher) Publish(snap models.TelemetrySnapshot, sum models.Summary) error {
	set, err := p.build(snap, sum)
	if err != nil {
		p.pullErrors.Add(1)
		p.logger.Error("publisher: publish failed, keeping previous metrics",
			"tower_id", p.tower,
			"error", err.Error(),
		)
		return err
	}
	p.current.Store(set)

	p.logger.Debug("publisher: published snapshot",
		"tower_id", p.tower,
		"serial", set.serial,
		"sensors", set.sensors,
		"series", len(set.metrics),
	)
	return nil
}

// RecordFailure counts a cycle that failed before reaching Publish.
func (p *Publisher) RecordFailure() {
	p.pullErrors.Add(1)
}

// PullErrors returns the pull-error counter value.
func (p *Publisher) PullErrors() uint64 {
	return p.pullErrors.Load()
}

// LastPublished returns the time of the last successful Publish.
func (p *Publisher) LastPublished() (time.Time, bool) {
	set := p.current.Load()
	if set == nil {
		return time.Time{}, false
	}
	return set.pulledAt, true
}

// ─────────────────────────────────────────────────────────────────────────────
// Metric set construction
// ─────────────────────────────────────────────────────────────────────────────

// builder accumulates const metrics and stops at the first error.
type builder struct {
	metrics []prometheus.Metric
	err     error
}

func (b *builder) add(desc *prometheus.Desc, name string, vt prometheus.ValueType, v float64, labels ...string) {
	if b.err != nil {
		return
	}
	m, err := prometheus.NewConstMetric(desc, vt, v, labels...)
	if err != nil {
		b.err = &PublishError{Metric: name, Err: err}
		return
	}
	b.metrics = append(b.metrics, m)
}

func (b *builder) gauge(desc *prometheus.Desc, name string, v float64, labels ...string) {
	b.add(desc, name, prometheus.GaugeValue, v, labels...)
}

func (p *Publisher) build(snap models.TelemetrySnapshot, sum models.Summary) (*metricSet, error) {
	b := &builder{metrics: make([]prometheus.Metric, 0, 2*len(snap.Sensors)+16)}
	pulledAt := p.now()

	for _, lvl := range models.AlertLevels {
		b.gauge(alertCountDesc, "siteboss_alert_count", float64(sum.AlertCounts[lvl]), p.tower, string(lvl))
	}

	ids := make(map[string]struct{}, len(snap.Sensors))
	for _, s := range snap.Sensors {
		if _, dup := ids[s.ID]; dup {
			return nil, &PublishError{Metric: "siteboss_sensor_status", Err: fmt.Errorf("%w %q", ErrDuplicateSensor, s.ID)}
		}
		ids[s.ID] = struct{}{}
		b.gauge(sensorStatusDesc, "siteboss_sensor_status", s.AlertLevel.Value(), p.tower, s.Name, s.ID, s.Type)
	}

	// Temperature series are keyed by name and group only; the last sensor
	// with a given pair wins.
	type tempKey struct{ name, location string }
	temps := make(map[tempKey]float64)
	var order []tempKey
	for _, s := range snap.Sensors {
		if s.Type != temperatureType {
			continue
		}
		k := tempKey{s.Name, s.Group}
		if _, seen := temps[k]; !seen {
			order = append(order, k)
		}
		v, _ := decoder.ParseNumeric(s.Value)
		temps[k] = v
	}
	for _, k := range order {
		b.gauge(temperatureDesc, "siteboss_temperature", temps[k], p.tower, k.name, k.location)
	}

	for typ, n := range sum.SensorsByType {
		b.gauge(sensorTypeCountDesc, "siteboss_sensor_type_count", float64(n), p.tower, typ)
	}

	u := snap.Unit
	b.gauge(unitInfoDesc, "siteboss_unit_info", 1,
		orUnknown(u.SiteName), orUnknown(u.Serial), orUnknown(u.Version), orUnknown(u.Hardware))

	b.gauge(sensorsTotalDesc, "siteboss_sensors_total", float64(sum.TotalSensors), p.tower)
	if u.Uptime != nil {
		if h, ok := decoder.ParseUptime(*u.Uptime); ok {
			b.gauge(uptimeDesc, "siteboss_unit_uptime_hours", h, p.tower)
		}
	}
	if u.DeviceTime != nil {
		b.gauge(deviceTimeDesc, "siteboss_unit_device_time_seconds", float64(u.DeviceTime.Unix()), p.tower)
	}
	b.gauge(lastPullDesc, "siteboss_last_pull_timestamp_seconds", float64(pulledAt.UnixNano())/1e9, p.tower)

	if b.err != nil {
		return nil, b.err
	}
	return &metricSet{
		metrics:  b.metrics,
		serial:   orUnknown(u.Serial),
		sensors:  len(snap.Sensors),
		pulledAt: pulledAt,
	}, nil
}

func orUnknown(s *string) string {
	if s == nil || *s == "" {
		return unknownLabel
	}
	return *s
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
