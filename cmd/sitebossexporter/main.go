// Command sitebossexporter polls one SiteBoss unit and exposes its sensor
// telemetry as Prometheus metrics.
//
// Flag defaults come from SITEBOSS_* environment variables (see package
// config); flags win over the environment. It runs until interrupted
// (SIGINT / SIGTERM).
//
// Usage:
//
//	sitebossexporter [flags]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vpbank/siteboss_exporter/pkg/sitebossexporter/app"
	"github.com/vpbank/siteboss_exporter/pkg/sitebossexporter/config"
	filetransport "github.com/vpbank/siteboss_exporter/transport/file"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sitebossexporter: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ── Environment defaults ─────────────────────────────────────────────
	s, err := config.SettingsFromEnv()
	if err != nil {
		return err
	}

	// ── Flags ────────────────────────────────────────────────────────────
	var (
		logLevel       string
		logFmt         string
		runtimeMetrics bool

		// Archive transport
		archiveFile       string
		archiveRawFile    string
		archiveMaxBytes   int64
		archiveMaxBackups int
	)

	flag.StringVar(&s.Host, "source.host", s.Host, "SiteBoss unit host or IP (SITEBOSS_HOST)")
	flag.StringVar(&s.User, "source.user", s.User, "SiteBoss login user (SITEBOSS_USER)")
	flag.StringVar(&s.Password, "source.password", s.Password, "SiteBoss login password (SITEBOSS_PASSWORD)")
	flag.StringVar(&s.Mode, "source.mode", s.Mode, "Fetch mode: http, browser (SITEBOSS_MODE)")
	flag.DurationVar(&s.PollInterval, "poll.interval", s.PollInterval, "Poll interval (SITEBOSS_POLL_INTERVAL)")
	flag.DurationVar(&s.FetchTimeout, "fetch.timeout", s.FetchTimeout, "Per-cycle fetch timeout (SITEBOSS_FETCH_TIMEOUT)")
	flag.StringVar(&s.Listen, "web.listen", s.Listen, "HTTP listen address (SITEBOSS_LISTEN)")
	flag.StringVar(&s.TowerID, "tower.id", s.TowerID, "tower_id label value, default the host (SITEBOSS_TOWER_ID)")
	flag.StringVar(&s.DeviceTZ, "device.tz", s.DeviceTZ, "IANA zone of the unit clock, default local (SITEBOSS_DEVICE_TZ)")
	flag.StringVar(&s.RulesPath, "rules.file", s.RulesPath, "YAML rules file (SITEBOSS_RULES_PATH)")

	flag.StringVar(&logLevel, "log.level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&logFmt, "log.fmt", "json", "Log format: json, text")
	flag.BoolVar(&runtimeMetrics, "web.runtime.metrics", true, "Expose Go and process metrics on /metrics")

	flag.StringVar(&archiveFile, "archive.file", "", "Append every successful record as JSON lines to this file (empty=disabled)")
	flag.StringVar(&archiveRawFile, "archive.raw.file", "", "Also archive raw SiteStatus.xml documents to this file")
	flag.Int64Var(&archiveMaxBytes, "archive.max.bytes", 0, "Max archive file size in bytes before rotation (0=disabled)")
	flag.IntVar(&archiveMaxBackups, "archive.max.backups", 5, "Max rotated archive files to keep (0=unlimited)")

	flag.Parse()

	// ── Logger ───────────────────────────────────────────────────────────
	logger, err := buildLogger(logLevel, logFmt)
	if err != nil {
		return err
	}

	if err := s.Validate(); err != nil {
		return err
	}

	// ── Rules ────────────────────────────────────────────────────────────
	rules, err := config.LoadRules(s.RulesPath, logger)
	if err != nil {
		return err
	}

	// ── Archive ──────────────────────────────────────────────────────────
	archive, err := buildArchive(archiveFile, archiveRawFile, archiveMaxBytes, archiveMaxBackups, logger)
	if err != nil {
		return err
	}

	// ── Build App ────────────────────────────────────────────────────────
	cfg := app.Config{
		Settings:       s,
		Rules:          rules,
		ArchiveRaw:     archiveRawFile != "",
		RuntimeMetrics: runtimeMetrics,
	}
	if archive != nil {
		cfg.Archive = archive
	}

	application, err := app.New(cfg, logger)
	if err != nil {
		if archive != nil {
			_ = archive.Close()
		}
		return err
	}

	// ── Start ────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	logger.Info("sitebossexporter: running, press Ctrl-C to stop, SIGHUP to reload rules")

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	// Block until signal or a fatal server error.
	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			logger.Info("sitebossexporter: received shutdown signal")
			break loop
		case runErr = <-application.Err():
			break loop
		case <-hup:
			reload(application, s, logger)
		}
	}

	application.Stop()
	return runErr
}

// reload re-reads the rules file and, unless -poll.interval was given on the
// command line, SITEBOSS_POLL_INTERVAL. On any error the running
// configuration is kept.
func reload(application *app.App, s config.Settings, logger *slog.Logger) {
	logger.Info("sitebossexporter: received SIGHUP, reloading")

	rules, err := config.LoadRules(s.RulesPath, logger)
	if err != nil {
		logger.Error("sitebossexporter: reload rules failed, keeping current configuration",
			"path", s.RulesPath,
			"error", err.Error(),
		)
		return
	}

	interval := s.PollInterval
	if !flagSet("poll.interval") {
		env, err := config.SettingsFromEnv()
		if err != nil {
			logger.Error("sitebossexporter: reload environment failed, keeping current configuration",
				"error", err.Error(),
			)
			return
		}
		interval = env.PollInterval
	}
	application.Reload(rules, interval)
}

func flagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func buildLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q (expected debug|info|warn|error)", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler

	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q (expected json|text)", format)
	}

	return slog.New(handler), nil
}

// buildArchive returns nil when recordPath is empty.
func buildArchive(recordPath, rawPath string, maxBytes int64, maxBackups int, logger *slog.Logger) (*filetransport.ArchiveTransport, error) {
	if recordPath == "" {
		if rawPath != "" {
			return nil, fmt.Errorf("-archive.raw.file requires -archive.file")
		}
		return nil, nil
	}

	records, err := filetransport.NewRotatingFile(filetransport.RotateConfig{
		FilePath:   recordPath,
		MaxBytes:   maxBytes,
		MaxBackups: maxBackups,
	}, logger)
	if err != nil {
		return nil, err
	}

	var raw io.Writer
	if rawPath != "" {
		rf, err := filetransport.NewRotatingFile(filetransport.RotateConfig{
			FilePath:   rawPath,
			MaxBytes:   maxBytes,
			MaxBackups: maxBackups,
		}, logger)
		if err != nil {
			_ = records.Close()
			return nil, err
		}
		raw = rf
	}

	logger.Info("sitebossexporter: archive enabled",
		"records", recordPath,
		"raw", rawPath,
		"max_bytes", maxBytes,
		"max_backups", maxBackups,
	)
	return filetransport.NewArchive(filetransport.ArchiveConfig{
		RecordWriter: records,
		RawWriter:    raw,
	}, logger), nil
}
