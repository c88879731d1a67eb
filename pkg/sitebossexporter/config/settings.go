// Package config provides the runtime configuration of the SiteBoss exporter.
//
// Settings carries the connection and loop parameters. Each field has a
// SITEBOSS_* environment variable that supplies the default for the matching
// command-line flag:
//
//	SITEBOSS_HOST            → Host          (-source.host)
//	SITEBOSS_USER            → User          (-source.user)
//	SITEBOSS_PASSWORD        → Password      (-source.password)
//	SITEBOSS_MODE            → Mode          (-source.mode)
//	SITEBOSS_POLL_INTERVAL   → PollInterval  (-poll.interval)
//	SITEBOSS_FETCH_TIMEOUT   → FetchTimeout  (-fetch.timeout)
//	SITEBOSS_LISTEN          → Listen        (-web.listen)
//	SITEBOSS_TOWER_ID        → TowerID       (-tower.id)
//	SITEBOSS_DEVICE_TZ       → DeviceTZ      (-device.tz)
//	SITEBOSS_RULES_PATH      → RulesPath     (-rules.file)
//
// Rules (working-status table, ignore list, alert tokens) come from an
// optional YAML file; see LoadRules.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Fetch modes.
const (
	ModeHTTP    = "http"
	ModeBrowser = "browser"
)

// Defaults applied when neither a flag nor an environment variable is set.
const (
	DefaultHost         = "192.168.1.254"
	DefaultUser         = "admin"
	DefaultMode         = ModeHTTP
	DefaultPollInterval = 30 * time.Second
	DefaultFetchTimeout = 20 * time.Second
	DefaultListen       = ":8000"
	DefaultRulesPath    = "/etc/siteboss_exporter/rules.yml"
)

// Settings is the resolved exporter configuration.
type Settings struct {
	Host         string
	User         string
	Password     string
	Mode         string
	PollInterval time.Duration
	FetchTimeout time.Duration
	Listen       string
	TowerID      string
	DeviceTZ     string
	RulesPath    string
}

// SettingsFromEnv reads every SITEBOSS_* variable, falling back to the
// documented default when a variable is unset or empty. Malformed durations
// are reported together.
func SettingsFromEnv() (Settings, error) {
	s := Settings{
		Host:      envOr("SITEBOSS_HOST", DefaultHost),
		User:      envOr("SITEBOSS_USER", DefaultUser),
		Password:  os.Getenv("SITEBOSS_PASSWORD"),
		Mode:      strings.ToLower(envOr("SITEBOSS_MODE", DefaultMode)),
		Listen:    envOr("SITEBOSS_LISTEN", DefaultListen),
		TowerID:   os.Getenv("SITEBOSS_TOWER_ID"),
		DeviceTZ:  os.Getenv("SITEBOSS_DEVICE_TZ"),
		RulesPath: envOr("SITEBOSS_RULES_PATH", DefaultRulesPath),
	}

	var errs []string
	var err error
	if s.PollInterval, err = envDuration("SITEBOSS_POLL_INTERVAL", DefaultPollInterval); err != nil {
		errs = append(errs, err.Error())
	}
	if s.FetchTimeout, err = envDuration("SITEBOSS_FETCH_TIMEOUT", DefaultFetchTimeout); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return s, fmt.Errorf("config: %d error(s):\n  %s", len(errs), strings.Join(errs, "\n  "))
	}
	return s, nil
}

// Validate checks the settings after flags have been applied.
func (s Settings) Validate() error {
	var errs []string
	if s.Host == "" {
		errs = append(errs, "source host is required")
	}
	if s.Mode != ModeHTTP && s.Mode != ModeBrowser {
		errs = append(errs, fmt.Sprintf("unknown source mode %q (want %s or %s)", s.Mode, ModeHTTP, ModeBrowser))
	}
	if s.PollInterval <= 0 {
		errs = append(errs, fmt.Sprintf("poll interval must be positive, got %s", s.PollInterval))
	}
	if s.FetchTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("fetch timeout must be positive, got %s", s.FetchTimeout))
	}
	if _, err := s.Location(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %d error(s):\n  %s", len(errs), strings.Join(errs, "\n  "))
	}
	return nil
}

// Tower returns the tower_id label value: TowerID when set, else Host.
func (s Settings) Tower() string {
	if s.TowerID != "" {
		return s.TowerID
	}
	return s.Host
}

// Location resolves DeviceTZ. Empty means the exporter's local zone.
func (s Settings) Location() (*time.Location, error) {
	if s.DeviceTZ == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.DeviceTZ)
	if err != nil {
		return nil, fmt.Errorf("device time zone %q: %w", s.DeviceTZ, err)
	}
	return loc, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration accepts Go durations ("45s") and bare seconds ("45").
func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return def, fmt.Errorf("%s: invalid duration %q", key, v)
}
