package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/vpbank/siteboss_exporter/models"
)

// ─────────────────────────────────────────────────────────────────────────────
// Rules file
// ─────────────────────────────────────────────────────────────────────────────

// rawRules is the YAML schema of the rules file:
//
//	working_status:
//	  Contact Closure: [Active, Inactive]
//	  Temperature: [Normal]
//	ignored_names: [unnamed]
//	alert_tokens:
//	  warning: [door]
//	  critical: [alarm, smoke, motion, flood]
//
// Each top-level section that is present replaces the built-in default for
// that section; absent sections keep the default.
type rawRules struct {
	WorkingStatus map[string][]string `yaml:"working_status"`
	IgnoredNames  []string            `yaml:"ignored_names"`
	AlertTokens   map[string][]string `yaml:"alert_tokens"`
}

// LoadRules reads the rules file at path and merges it over
// models.DefaultRules. A missing file is not an error. Problems in the file
// are accumulated and returned together.
func LoadRules(path string, logger *slog.Logger) (models.Rules, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	rules := models.DefaultRules()
	if path == "" {
		return rules, nil
	}

	var raw rawRules
	if err := decodeFile(path, &raw); err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			logger.Info("config: rules file not found, using defaults", "path", path)
			return rules, nil
		case errors.Is(err, io.EOF):
			logger.Info("config: rules file is empty, using defaults", "path", path)
			return rules, nil
		default:
			return rules, fmt.Errorf("config: rules %s: %w", path, err)
		}
	}

	var errs []string

	if raw.WorkingStatus != nil {
		rules.WorkingStatus = make(map[string]map[string]struct{}, len(raw.WorkingStatus))
		types := lo.Keys(raw.WorkingStatus)
		sort.Strings(types)
		for _, typ := range types {
			name := strings.TrimSpace(typ)
			if name == "" {
				errs = append(errs, "working_status: empty sensor type")
				continue
			}
			statuses := lo.Uniq(lo.FilterMap(raw.WorkingStatus[typ], func(s string, _ int) (string, bool) {
				s = strings.TrimSpace(s)
				return s, s != ""
			}))
			if len(statuses) == 0 {
				errs = append(errs, fmt.Sprintf("working_status[%s]: no statuses listed", name))
				continue
			}
			rules.WorkingStatus[name] = lo.SliceToMap(statuses, func(s string) (string, struct{}) {
				return s, struct{}{}
			})
		}
	}

	if raw.IgnoredNames != nil {
		rules.IgnoredNames = lo.SliceToMap(lowerTokens(raw.IgnoredNames), func(n string) (string, struct{}) {
			return n, struct{}{}
		})
	}

	if raw.AlertTokens != nil {
		rules.AlertTokens = make(map[models.AlertLevel][]string, len(raw.AlertTokens))
		levels := lo.Keys(raw.AlertTokens)
		sort.Strings(levels)
		for _, key := range levels {
			lvl := models.AlertLevel(strings.ToLower(strings.TrimSpace(key)))
			if lvl != models.AlertWarning && lvl != models.AlertCritical {
				errs = append(errs, fmt.Sprintf("alert_tokens: unknown level %q (want warning or critical)", key))
				continue
			}
			rules.AlertTokens[lvl] = lowerTokens(raw.AlertTokens[key])
		}
	}

	if len(errs) > 0 {
		return models.DefaultRules(), fmt.Errorf("config: rules %s: %d error(s):\n  %s",
			path, len(errs), strings.Join(errs, "\n  "))
	}

	logger.Info("config: rules loaded",
		"path", path,
		"working_status_types", len(rules.WorkingStatus),
		"ignored_names", len(rules.IgnoredNames),
		"warning_tokens", len(rules.AlertTokens[models.AlertWarning]),
		"critical_tokens", len(rules.AlertTokens[models.AlertCritical]),
	)
	return rules, nil
}

// lowerTokens trims, lowercases and de-duplicates tokens, dropping blanks.
func lowerTokens(in []string) []string {
	return lo.Uniq(lo.FilterMap(in, func(s string, _ int) (string, bool) {
		s = strings.ToLower(strings.TrimSpace(s))
		return s, s != ""
	}))
}

func decodeFile(path string, out interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(false) // be lenient: extra keys are fine
	return dec.Decode(out)
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
