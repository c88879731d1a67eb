// Command sitebossconvert converts one SiteStatus.xml document into the
// {unit, sensors, summary} JSON record.
//
// The document is read from -in, or fetched from the unit when -in is empty.
// Normalization is the same path the exporter uses.
//
// Usage:
//
//	sitebossconvert -in SiteStatus.xml -out siteboss_api_data.json
//	sitebossconvert -source.host 10.0.0.5 -source.password secret -out - -pretty
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	fmtjson "github.com/vpbank/siteboss_exporter/format/json"
	"github.com/vpbank/siteboss_exporter/models"
	"github.com/vpbank/siteboss_exporter/pkg/sitebossexporter/app"
	"github.com/vpbank/siteboss_exporter/pkg/sitebossexporter/config"
	"github.com/vpbank/siteboss_exporter/pkg/sitebossexporter/fetcher"
	"github.com/vpbank/siteboss_exporter/producer/telemetry"
	filetransport "github.com/vpbank/siteboss_exporter/transport/file"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sitebossconvert: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	s, err := config.SettingsFromEnv()
	if err != nil {
		return err
	}

	// ── Flags ────────────────────────────────────────────────────────────
	var (
		inPath   string
		outPath  string
		xmlPath  string
		pretty   bool
		logLevel string
		logFmt   string
	)

	flag.StringVar(&inPath, "in", "", "Saved SiteStatus.xml to convert (empty=fetch from the unit)")
	flag.StringVar(&outPath, "out", "siteboss_api_data.json", "Output JSON file (- for stdout)")
	flag.StringVar(&xmlPath, "save-xml", "", "Also write the raw document to this file")
	flag.BoolVar(&pretty, "pretty", true, "Pretty-print JSON output")

	flag.StringVar(&s.Host, "source.host", s.Host, "SiteBoss unit host or IP (SITEBOSS_HOST)")
	flag.StringVar(&s.User, "source.user", s.User, "SiteBoss login user (SITEBOSS_USER)")
	flag.StringVar(&s.Password, "source.password", s.Password, "SiteBoss login password (SITEBOSS_PASSWORD)")
	flag.StringVar(&s.Mode, "source.mode", s.Mode, "Fetch mode: http, browser (SITEBOSS_MODE)")
	flag.DurationVar(&s.FetchTimeout, "fetch.timeout", s.FetchTimeout, "Fetch timeout (SITEBOSS_FETCH_TIMEOUT)")
	flag.StringVar(&s.DeviceTZ, "device.tz", s.DeviceTZ, "IANA zone of the unit clock, default local (SITEBOSS_DEVICE_TZ)")
	flag.StringVar(&s.RulesPath, "rules.file", s.RulesPath, "YAML rules file (SITEBOSS_RULES_PATH)")

	flag.StringVar(&logLevel, "log.level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&logFmt, "log.fmt", "text", "Log format: json, text")

	flag.Parse()

	logger, err := buildLogger(logLevel, logFmt)
	if err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	loc, _ := s.Location()

	rules, err := config.LoadRules(s.RulesPath, logger)
	if err != nil {
		return err
	}

	// ── Acquire ──────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, s.FetchTimeout)
	defer cancel()

	var src fetcher.Fetcher = fetcher.FileFetcher{Path: inPath}
	if inPath == "" {
		if src, err = app.NewFetcher(s, logger); err != nil {
			return err
		}
		if c, ok := src.(io.Closer); ok {
			defer c.Close()
		}
	}

	raw, err := src.Fetch(ctx)
	if err != nil {
		return err
	}
	if xmlPath != "" {
		if err := writeOutput(xmlPath, raw, logger); err != nil {
			return fmt.Errorf("save xml: %w", err)
		}
		logger.Info("sitebossconvert: raw document saved", "path", xmlPath, "bytes", len(raw))
	}

	// ── Convert ──────────────────────────────────────────────────────────
	prod := telemetry.New(telemetry.Config{Rules: rules, DeviceLocation: loc}, logger)
	snap, sum, err := prod.Produce(raw)
	if err != nil {
		return err
	}

	rec := models.NewRecord(snap, sum)
	data, err := fmtjson.New(fmtjson.Config{PrettyPrint: pretty}, logger).Format(&rec)
	if err != nil {
		return err
	}
	if err := writeOutput(outPath, data, logger); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	logSummary(logger, outPath, rec)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// writeOutput writes data followed by a newline to path, or to stdout for "-".
func writeOutput(path string, data []byte, logger *slog.Logger) error {
	var (
		t   *filetransport.WriterTransport
		err error
	)
	if path == "-" {
		t = filetransport.New(filetransport.Config{Writer: os.Stdout}, logger)
	} else if t, err = filetransport.Create(path, logger); err != nil {
		return err
	}
	return errors.Join(t.Send(data), t.Close())
}

func logSummary(logger *slog.Logger, outPath string, rec models.Record) {
	serial := ""
	if rec.Unit.Serial != nil {
		serial = *rec.Unit.Serial
	}
	logger.Info("sitebossconvert: conversion complete",
		"out", outPath,
		"serial", serial,
		"total_sensors", rec.Summary.TotalSensors,
		"normal", rec.Summary.AlertCounts[models.AlertNormal],
		"warning", rec.Summary.AlertCounts[models.AlertWarning],
		"critical", rec.Summary.AlertCounts[models.AlertCritical],
	)
	for typ, n := range rec.Summary.SensorsByType {
		logger.Info("sitebossconvert: sensor type", "type", typ, "count", n)
	}
}

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
