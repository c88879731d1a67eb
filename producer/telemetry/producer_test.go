package telemetry_test

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpbank/siteboss_exporter/models"
	"github.com/vpbank/siteboss_exporter/producer/telemetry"
	"github.com/vpbank/siteboss_exporter/siteboss/decoder"
)

// ─────────────────────────────────────────────────────────────────────────────
// Shared fixtures
// ─────────────────────────────────────────────────────────────────────────────

var fixedNow = time.Date(2026, 2, 26, 10, 30, 0, 0, time.UTC)

func newProducer(rules models.Rules) *telemetry.TelemetryProducer {
	return telemetry.New(telemetry.Config{
		Rules:          rules,
		DeviceLocation: time.UTC,
		Now:            func() time.Time { return fixedNow },
	}, nil)
}

type rawSensor struct {
	typ, name, status, enabled, value, number string
}

func (s rawSensor) xml() string {
	return fmt.Sprintf(`<Sensor><Sensor_Type>%s</Sensor_Type><Sensor_Name>%s</Sensor_Name>`+
		`<Sensor_Status_String>%s</Sensor_Status_String><Sensor_Enabled>%s</Sensor_Enabled>`+
		`<Sensor_Value_String>%s</Sensor_Value_String><Sensor_Number>%s</Sensor_Number></Sensor>`,
		s.typ, s.name, s.status, s.enabled, s.value, s.number)
}

type rawGroup struct {
	name    string
	sensors []rawSensor
}

func buildDoc(serial string, groups ...rawGroup) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><SiteStatus>`)
	if serial != "" {
		fmt.Fprintf(&b, "<Unit_Serial>%s</Unit_Serial>", serial)
	}
	for _, g := range groups {
		fmt.Fprintf(&b, "<EventSensor><ES_Name>%s</ES_Name><ES_State>Normal</ES_State>", g.name)
		for _, s := range g.sensors {
			b.WriteString(s.xml())
		}
		b.WriteString("</EventSensor>")
	}
	b.WriteString("</SiteStatus>")
	return []byte(b.String())
}

func produce(t *testing.T, p telemetry.Producer, raw []byte) (models.TelemetrySnapshot, models.Summary) {
	t.Helper()
	snap, sum, err := p.Produce(raw)
	require.NoError(t, err)
	return snap, sum
}

// ─────────────────────────────────────────────────────────────────────────────
// End-to-end normalization
// ─────────────────────────────────────────────────────────────────────────────

func TestProduce_TemperatureAndDisabledContact(t *testing.T) {
	raw := buildDoc("SN123", rawGroup{name: "Cabinet", sensors: []rawSensor{
		{typ: "Temperature", name: "Cabinet Temp", status: "Normal", enabled: "ON", value: "72.5F", number: "1"},
		{typ: "Contact Closure", name: "Front Door", status: "Active", enabled: "OFF", number: "2"},
	}})

	snap, sum := produce(t, newProducer(models.Rules{}), raw)

	require.Len(t, snap.Sensors, 1)
	s := snap.Sensors[0]
	assert.Equal(t, "Cabinet_Temperature_Cabinet_Temp_1", s.ID)
	assert.Equal(t, "Cabinet", s.Group)
	assert.Equal(t, "Normal", s.GroupState)
	assert.Equal(t, "72.5F", s.Value)
	assert.True(t, s.Enabled)
	assert.Equal(t, models.AlertNormal, s.AlertLevel)

	require.NotNil(t, snap.Unit.Serial)
	assert.Equal(t, "SN123", *snap.Unit.Serial)
	assert.Equal(t, fixedNow, snap.CapturedAt)

	assert.Equal(t, 1, sum.TotalSensors)
	assert.Equal(t, map[string]int{"Temperature": 1}, sum.SensorsByType)
	assert.Equal(t, map[models.AlertLevel]int{
		models.AlertNormal: 1, models.AlertWarning: 0, models.AlertCritical: 0,
	}, sum.AlertCounts)

	v, ok := decoder.ParseNumeric(s.Value)
	assert.True(t, ok)
	assert.Equal(t, 72.5, v)
}

func TestProduce_AlertLevels(t *testing.T) {
	raw := buildDoc("SN1", rawGroup{name: "Shelter", sensors: []rawSensor{
		{typ: "Contact Closure", name: "Front Door", status: "Active", enabled: "ON"},
		{typ: "Contact Closure", name: "Smoke Detector", status: "Active", enabled: "ON"},
		{typ: "Contact Closure", name: "Rear Door", status: "Inactive", enabled: "ON"},
	}})

	snap, sum := produce(t, newProducer(models.Rules{}), raw)

	require.Len(t, snap.Sensors, 3)
	assert.Equal(t, models.AlertWarning, snap.Sensors[0].AlertLevel)
	assert.Equal(t, models.AlertCritical, snap.Sensors[1].AlertLevel)
	assert.Equal(t, models.AlertNormal, snap.Sensors[2].AlertLevel)
	assert.Equal(t, 1, sum.AlertCounts[models.AlertWarning])
	assert.Equal(t, 1, sum.AlertCounts[models.AlertCritical])
	assert.Equal(t, 1, sum.AlertCounts[models.AlertNormal])
}

func TestProduce_ParseError(t *testing.T) {
	_, _, err := newProducer(models.Rules{}).Produce([]byte("<SiteStatus><broken>"))
	var pe *decoder.ParseError
	assert.ErrorAs(t, err, &pe)
}

func TestProduce_TrailingJunkIsParseError(t *testing.T) {
	raw := append(buildDoc("SN123", rawGroup{name: "Cabinet", sensors: []rawSensor{
		{typ: "Temperature", name: "Cabinet Temp", status: "Normal", enabled: "ON", value: "72.5F", number: "1"},
	}}), []byte("<garbage")...)

	_, err := newProducer(models.Rules{}).Normalize(raw)
	var pe *decoder.ParseError
	assert.ErrorAs(t, err, &pe)
}

func TestProduce_UnitInfo(t *testing.T) {
	raw := []byte(`<SiteStatus>
<Unit_Sitename>Tower 49</Unit_Sitename>
<Unit_Date>2026-01-15</Unit_Date><Unit_Time>10:30:00</Unit_Time>
<Unit_Latitude>39.5</Unit_Latitude><Unit_Longitude>west</Unit_Longitude>
</SiteStatus>`)

	snap, sum := produce(t, newProducer(models.Rules{}), raw)

	require.NotNil(t, snap.Unit.SiteName)
	assert.Equal(t, "Tower 49", *snap.Unit.SiteName)
	assert.Nil(t, snap.Unit.Serial)
	require.NotNil(t, snap.Unit.Location.Latitude)
	assert.Equal(t, 39.5, *snap.Unit.Location.Latitude)
	assert.Nil(t, snap.Unit.Location.Longitude, "unparseable coordinate is absent")
	require.NotNil(t, snap.Unit.DeviceTime)
	assert.True(t, snap.Unit.DeviceTime.Equal(time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)))
	assert.Equal(t, fixedNow, snap.Unit.Timestamp.LastUpdated)

	assert.Equal(t, 0, sum.TotalSensors)
	assert.Len(t, sum.AlertCounts, 3)
	assert.Empty(t, snap.Sensors)
}

// ─────────────────────────────────────────────────────────────────────────────
// Filtering
// ─────────────────────────────────────────────────────────────────────────────

func TestProduce_WorkingStatusTable(t *testing.T) {
	cases := []struct {
		typ, status string
		kept        bool
	}{
		{"Contact Closure", "Active", true},
		{"Contact Closure", "Inactive", true},
		{"Contact Closure", "Unknown", false},
		{"Temperature", "Normal", true},
		{"Temperature", "High", false},
		{"Analog", "Normal", true},
		{"Analog", "Low", false},
		{"Output", "Active", true},
		{"Output", "Disconnected", false},
		{"Humidity", "Whatever", true},
		{"Humidity", "", true},
	}
	p := newProducer(models.Rules{})
	for _, c := range cases {
		raw := buildDoc("", rawGroup{name: "G", sensors: []rawSensor{
			{typ: c.typ, name: "probe", status: c.status, enabled: "ON"},
		}})
		snap, _ := produce(t, p, raw)
		assert.Equal(t, c.kept, len(snap.Sensors) == 1, "%s/%s", c.typ, c.status)
	}
}

func TestProduce_IgnoredAndDisabledNeverAppear(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	names := []string{"Unnamed", "unnamed", "UNNAMED", "Front Door", "Smoke", "Cabinet Temp", "Gen Run"}
	enabled := []string{"ON", "on", "OFF", "off", "Off", ""}
	types := []string{"Contact Closure", "Temperature", "Analog", "Output", "Humidity"}
	statuses := []string{"Active", "Inactive", "Normal", "High", ""}

	p := newProducer(models.Rules{})
	for iter := 0; iter < 200; iter++ {
		// Each sensor carries a unique value so outputs can be traced back.
		inputs := make(map[string]rawSensor)
		var sensors []rawSensor
		for i := 0; i < 1+rng.Intn(12); i++ {
			s := rawSensor{
				typ:     types[rng.Intn(len(types))],
				name:    names[rng.Intn(len(names))],
				status:  statuses[rng.Intn(len(statuses))],
				enabled: enabled[rng.Intn(len(enabled))],
				value:   fmt.Sprintf("v%d", i),
				number:  fmt.Sprint(rng.Intn(4)),
			}
			inputs[s.value] = s
			sensors = append(sensors, s)
		}
		snap, sum := produce(t, p, buildDoc("SN", rawGroup{name: "G", sensors: sensors}))

		for _, s := range snap.Sensors {
			in, ok := inputs[s.Value]
			require.True(t, ok)
			require.NotEqual(t, "unnamed", strings.ToLower(in.name))
			require.NotEqual(t, "off", strings.ToLower(in.enabled))
			require.Equal(t, strings.EqualFold(in.enabled, "on"), s.Enabled)
		}
		total := 0
		for _, n := range sum.AlertCounts {
			total += n
		}
		require.Equal(t, sum.TotalSensors, total)
		require.Equal(t, len(snap.Sensors), sum.TotalSensors)
		require.Len(t, sum.AlertCounts, 3)
		requireUniqueIDs(t, snap)
	}
}

func TestProduce_CustomRules(t *testing.T) {
	rules := models.Rules{
		WorkingStatus: map[string]map[string]struct{}{"Temperature": {"OK": {}}},
		IgnoredNames:  map[string]struct{}{"spare": {}},
		AlertTokens:   map[models.AlertLevel][]string{models.AlertCritical: {"door"}},
	}
	raw := buildDoc("", rawGroup{name: "G", sensors: []rawSensor{
		{typ: "Temperature", name: "Ambient", status: "OK", enabled: "ON"},
		{typ: "Temperature", name: "Probe", status: "Normal", enabled: "ON"},
		{typ: "Contact Closure", name: "Spare", status: "Active", enabled: "ON"},
		{typ: "Contact Closure", name: "unnamed", status: "Active", enabled: "ON"},
		{typ: "Contact Closure", name: "Door", status: "Active", enabled: "ON"},
	}})

	snap, _ := produce(t, newProducer(rules), raw)

	require.Len(t, snap.Sensors, 3)
	assert.Equal(t, "Ambient", snap.Sensors[0].Name)
	assert.Equal(t, "unnamed", snap.Sensors[1].Name, "ignore set is replaced, not merged")
	assert.Equal(t, models.AlertCritical, snap.Sensors[2].AlertLevel)
}

// ─────────────────────────────────────────────────────────────────────────────
// Identity
// ─────────────────────────────────────────────────────────────────────────────

func requireUniqueIDs(t *testing.T, snap models.TelemetrySnapshot) {
	t.Helper()
	seen := make(map[string]bool, len(snap.Sensors))
	for _, s := range snap.Sensors {
		require.NotEmpty(t, s.ID)
		require.False(t, seen[s.ID], "duplicate id %q", s.ID)
		seen[s.ID] = true
	}
}

func TestProduce_DuplicateSensorsGetDistinctIDs(t *testing.T) {
	dup := rawSensor{typ: "Contact Closure", name: "Front Door", status: "Active", enabled: "ON", number: "3"}
	raw := buildDoc("", rawGroup{name: "Cabinet", sensors: []rawSensor{dup, dup, dup}})

	snap, _ := produce(t, newProducer(models.Rules{}), raw)

	require.Len(t, snap.Sensors, 3)
	requireUniqueIDs(t, snap)
	assert.Equal(t, "Cabinet_Contact_Closure_Front_Door_3", snap.Sensors[0].ID)
	assert.Equal(t, "Cabinet_Contact_Closure_1", snap.Sensors[1].ID)
	assert.Equal(t, "Cabinet_Contact_Closure_2", snap.Sensors[2].ID)
}

func TestProduce_HyphensAndSpacesInID(t *testing.T) {
	raw := buildDoc("", rawGroup{name: "Main Shelter", sensors: []rawSensor{
		{typ: "Analog", name: "DC-Bus Voltage", status: "Normal", enabled: "ON", number: "7"},
	}})

	snap, _ := produce(t, newProducer(models.Rules{}), raw)

	require.Len(t, snap.Sensors, 1)
	assert.Equal(t, "Main_Shelter_Analog_DC_Bus_Voltage_7", snap.Sensors[0].ID)
}

func TestProduce_DegenerateIDFallsBackToOrdinal(t *testing.T) {
	raw := []byte(`<SiteStatus><EventSensor>
<Sensor><Sensor_Enabled>ON</Sensor_Enabled></Sensor>
<Sensor><Sensor_Enabled>ON</Sensor_Enabled></Sensor>
</EventSensor></SiteStatus>`)

	snap, _ := produce(t, newProducer(models.Rules{}), raw)

	require.Len(t, snap.Sensors, 2)
	assert.Equal(t, "None__0", snap.Sensors[0].ID)
	assert.Equal(t, "None__1", snap.Sensors[1].ID)
}

func TestProduce_MissingGroupNameRendersNone(t *testing.T) {
	raw := []byte(`<SiteStatus><EventSensor><ES_State>Normal</ES_State>
<Sensor><Sensor_Type>Temperature</Sensor_Type><Sensor_Name>Probe</Sensor_Name>
<Sensor_Status_String>Normal</Sensor_Status_String><Sensor_Enabled>ON</Sensor_Enabled>
<Sensor_Number>1</Sensor_Number></Sensor>
</EventSensor></SiteStatus>`)

	snap, _ := produce(t, newProducer(models.Rules{}), raw)

	require.Len(t, snap.Sensors, 1)
	assert.Equal(t, "None_Temperature_Probe_1", snap.Sensors[0].ID)
	assert.Equal(t, "", snap.Sensors[0].Group)
}

func TestProduce_FallbackCollisionStillUnique(t *testing.T) {
	// The third sensor's derived id and its ordinal fallback are both taken.
	raw := buildDoc("", rawGroup{name: "G", sensors: []rawSensor{
		{typ: "T", name: "1", status: "s", enabled: "ON", number: "2"},
		{typ: "T", name: "1_x", status: "s", enabled: "ON", number: "1"},
		{typ: "T_1", name: "x", status: "s", enabled: "ON", number: "1"},
	}})

	snap, _ := produce(t, newProducer(models.Rules{}), raw)

	require.Len(t, snap.Sensors, 3)
	requireUniqueIDs(t, snap)
	assert.Equal(t, "G_T_1_2", snap.Sensors[0].ID)
	assert.Equal(t, "G_T_1_x_1", snap.Sensors[1].ID)
	assert.Equal(t, "G_T_1_2_2", snap.Sensors[2].ID)
}

// ─────────────────────────────────────────────────────────────────────────────
// Idempotence
// ─────────────────────────────────────────────────────────────────────────────

func TestProduce_Idempotent(t *testing.T) {
	raw := buildDoc("SN9", rawGroup{name: "Cabinet", sensors: []rawSensor{
		{typ: "Temperature", name: "Cabinet Temp", status: "Normal", enabled: "ON", value: "70F", number: "1"},
		{typ: "Contact Closure", name: "Front Door", status: "Active", enabled: "ON", number: "2"},
		{typ: "Contact Closure", name: "Front Door", status: "Active", enabled: "ON", number: "2"},
	}})
	p := newProducer(models.Rules{})

	marshal := func() []byte {
		snap, sum := produce(t, p, raw)
		b, err := json.Marshal(models.NewRecord(snap, sum))
		require.NoError(t, err)
		return b
	}

	assert.Equal(t, string(marshal()), string(marshal()))
}

func TestSummarize_Empty(t *testing.T) {
	sum := telemetry.Summarize(models.TelemetrySnapshot{})
	assert.Equal(t, 0, sum.TotalSensors)
	assert.Empty(t, sum.SensorsByType)
	assert.Equal(t, map[models.AlertLevel]int{
		models.AlertNormal: 0, models.AlertWarning: 0, models.AlertCritical: 0,
	}, sum.AlertCounts)
}
