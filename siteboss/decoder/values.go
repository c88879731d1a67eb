package decoder

import (
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// ParseNumeric extracts a number from a display string such as "72.5F" or
// "-3.0 C". Every character that is not a digit, '.' or '-' is discarded
// before parsing. ok is false when nothing parseable remains.
func ParseNumeric(s string) (v float64, ok bool) {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	f, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ParseUptime converts the unit uptime string "days:hours:minutes:seconds"
// (e.g. "764:04:36:23") into hours.
func ParseUptime(s string) (hours float64, ok bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 4 {
		return 0, false
	}
	var n [4]int
	for i := 0; i < 4; i++ {
		v, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return 0, false
		}
		n[i] = v
	}
	return float64(n[0]*24+n[1]) + float64(n[2])/60 + float64(n[3])/3600, true
}

// ParseDeviceTime combines the Unit_Date and Unit_Time strings into a time in
// loc. The device does not report a zone; callers pass the zone the unit is
// configured for (time.Local by default).
func ParseDeviceTime(date, clock string, loc *time.Location) (time.Time, bool) {
	date, clock = strings.TrimSpace(date), strings.TrimSpace(clock)
	if date == "" || clock == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	t, err := dateparse.ParseIn(date+" "+clock, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ParseCoordinate parses a latitude or longitude tag. nil input or an
// unparseable value yields nil.
func ParseCoordinate(s *string) *float64 {
	if s == nil {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(*s), 64)
	if err != nil {
		return nil
	}
	return &f
}
