// Package app wires the SiteBoss exporter stages together and manages their
// lifecycle.
//
// Poll path (one cycle per scheduler tick):
//
//	Scheduler → Fetcher → producer/telemetry → Publisher → State
//	                                                    └→ Archive (optional)
//
// Scrape path (concurrent with polling):
//
//	Server /metrics → prometheus.Registry → Publisher.Collect
//	Server /healthz, /api/siteboss/latest → State.Snapshot
//
// A cycle never panics the process and never stops the loop. Whatever stage
// fails, the previous snapshot stays published and the pull-error counter is
// incremented once.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	fmtjson "github.com/vpbank/siteboss_exporter/format/json"
	"github.com/vpbank/siteboss_exporter/models"
	"github.com/vpbank/siteboss_exporter/pkg/sitebossexporter/config"
	"github.com/vpbank/siteboss_exporter/pkg/sitebossexporter/fetcher"
	"github.com/vpbank/siteboss_exporter/pkg/sitebossexporter/publisher"
	"github.com/vpbank/siteboss_exporter/pkg/sitebossexporter/scheduler"
	"github.com/vpbank/siteboss_exporter/pkg/sitebossexporter/server"
	"github.com/vpbank/siteboss_exporter/producer/telemetry"
	filetransport "github.com/vpbank/siteboss_exporter/transport/file"
)

// Cycle stages recorded in State.LastFailedStage.
const (
	StageFetch   = "fetch"
	StageParse   = "parse"
	StagePublish = "publish"
)

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// Config holds the top-level settings for the exporter application.
type Config struct {
	// Settings are the resolved connection and loop parameters.
	Settings config.Settings

	// Rules control filtering and classification. A zero value selects
	// models.DefaultRules.
	Rules models.Rules

	// Fetcher overrides the fetcher built from Settings.Mode. Tests inject
	// one; nil builds the production fetcher.
	Fetcher fetcher.Fetcher

	// Archive, when non-nil, receives every successful record as one JSON
	// line. It is closed by Stop.
	Archive filetransport.Transport

	// ArchiveRaw also sends the raw SiteStatus.xml of every successful cycle
	// to Archive.
	ArchiveRaw bool

	// RuntimeMetrics registers the Go and process collectors next to the
	// exporter's own instruments.
	RuntimeMetrics bool

	// Now is the clock for cycle bookkeeping. nil means time.Now.
	Now func() time.Time
}

func (c *Config) withDefaults() {
	if c.Settings.PollInterval <= 0 {
		c.Settings.PollInterval = config.DefaultPollInterval
	}
	if c.Settings.FetchTimeout <= 0 {
		c.Settings.FetchTimeout = config.DefaultFetchTimeout
	}
	if c.Settings.Listen == "" {
		c.Settings.Listen = config.DefaultListen
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// NewFetcher builds the fetcher selected by s.Mode.
func NewFetcher(s config.Settings, logger *slog.Logger) (fetcher.Fetcher, error) {
	fc := fetcher.Config{Host: s.Host, User: s.User, Password: s.Password}
	switch s.Mode {
	case config.ModeHTTP, "":
		return fetcher.NewHTTP(fc, nil, logger), nil
	case config.ModeBrowser:
		return fetcher.NewBrowser(fc, logger), nil
	default:
		return nil, fmt.Errorf("app: unknown source mode %q", s.Mode)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// App
// ─────────────────────────────────────────────────────────────────────────────

// App owns every stage of one exporter. Create one with New, start it with
// Start and stop it with Stop (or cancel the context).
type App struct {
	cfg    Config
	logger *slog.Logger

	fetch     fetcher.Fetcher
	loc       *time.Location
	prod      atomic.Pointer[telemetry.TelemetryProducer]
	pub       *publisher.Publisher
	state     *publisher.State
	registry  *prometheus.Registry
	formatter *fmtjson.JSONFormatter
	sched     *scheduler.Scheduler
	srv       *server.Server

	// Lifecycle.
	cancel   context.CancelFunc
	wg       sync.WaitGroup // tracks the HTTP server goroutine
	serveErr chan error
}

// New constructs an App. It does not start anything; call Start for that.
func New(cfg Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	cfg.withDefaults()

	loc, err := cfg.Settings.Location()
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	f := cfg.Fetcher
	if f == nil {
		if f, err = NewFetcher(cfg.Settings, logger); err != nil {
			return nil, err
		}
	}

	a := &App{
		cfg:    cfg,
		logger: logger,
		fetch:  f,
		loc:    loc,
		pub: publisher.New(publisher.Config{
			TowerID: cfg.Settings.Tower(),
		}, logger),
		state:     publisher.NewState(),
		registry:  prometheus.NewRegistry(),
		formatter: fmtjson.New(fmtjson.Config{}, logger),
		serveErr:  make(chan error, 1),
	}

	a.prod.Store(a.newProducer(cfg.Rules))

	if err := a.registry.Register(a.pub); err != nil {
		return nil, fmt.Errorf("app: register publisher: %w", err)
	}
	if cfg.RuntimeMetrics {
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	a.sched = scheduler.New(cfg.Settings.PollInterval, a, logger)
	a.srv = server.New(server.Config{}, server.Deps{
		Gatherer:   a.registry,
		State:      a.state,
		Errors:     a.pub,
		Now:        cfg.Now,
		StaleAfter: func() time.Duration { return 2 * a.sched.Interval() },
	}, logger)
	return a, nil
}

// Start binds the HTTP listener and launches the poll loop. The first cycle
// runs immediately. It returns an error only if the listener cannot be bound.
func (a *App) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Settings.Listen)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Settings.Listen, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.state.SetEnabled(true)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.srv.Serve(runCtx, ln); err != nil {
			a.logger.Error("app: http server failed", "error", err.Error())
			a.serveErr <- err
		}
	}()

	go a.sched.Start(runCtx)

	a.logger.Info("app: exporter running",
		"tower_id", a.cfg.Settings.Tower(),
		"host", a.cfg.Settings.Host,
		"mode", a.cfg.Settings.Mode,
		"listen", ln.Addr().String(),
		"poll_interval", a.cfg.Settings.PollInterval.String(),
		"fetch_timeout", a.cfg.Settings.FetchTimeout.String(),
	)
	return nil
}

// Err delivers a fatal HTTP server error. It never fires after a clean Stop.
func (a *App) Err() <-chan error { return a.serveErr }

// Stop performs a graceful shutdown.
//
// Shutdown order:
//  1. Cancel the run context (scheduler and server observe it).
//  2. Wait for the in-flight cycle to finish publishing and for the server
//     to drain.
//  3. Close the archive and the fetcher.
func (a *App) Stop() {
	a.logger.Info("app: shutting down")
	if a.cancel != nil {
		a.cancel()
		a.sched.Stop()
	}
	a.wg.Wait()
	a.state.SetEnabled(false)

	if a.cfg.Archive != nil {
		if err := a.cfg.Archive.Close(); err != nil {
			a.logger.Error("app: archive close error", "error", err.Error())
		}
	}
	if c, ok := a.fetch.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.logger.Error("app: fetcher close error", "error", err.Error())
		}
	}
	a.logger.Info("app: shutdown complete")
}

// Reload swaps in new rules and a new poll interval. The cycle in flight
// finishes with the rules it started with; the interval applies after the
// current wait.
func (a *App) Reload(rules models.Rules, interval time.Duration) {
	a.prod.Store(a.newProducer(rules))
	a.sched.Reload(interval)
	a.logger.Info("app: configuration reloaded",
		"interval", a.sched.Interval().String(),
		"ignored_names", len(rules.IgnoredNames),
		"working_status_types", len(rules.WorkingStatus),
	)
}

func (a *App) newProducer(rules models.Rules) *telemetry.TelemetryProducer {
	return telemetry.New(telemetry.Config{
		Rules:          rules,
		DeviceLocation: a.loc,
		Now:            a.cfg.Now,
	}, a.logger)
}

// State returns the poll bookkeeping.
func (a *App) State() *publisher.State { return a.state }

// Publisher returns the Prometheus collector.
func (a *App) Publisher() *publisher.Publisher { return a.pub }

// Handler returns the HTTP router.
func (a *App) Handler() http.Handler { return a.srv.Handler() }

// ─────────────────────────────────────────────────────────────────────────────
// Cycle
// ─────────────────────────────────────────────────────────────────────────────

// RunCycle implements scheduler.Runner: fetch, normalize, publish. The fetch
// is bounded by Settings.FetchTimeout only; cancelling ctx on shutdown does
// not abort a cycle that has already started.
func (a *App) RunCycle(ctx context.Context) error {
	started := a.cfg.Now()

	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Settings.FetchTimeout)
	raw, err := a.fetch.Fetch(fetchCtx)
	cancel()
	if err != nil {
		a.pub.RecordFailure()
		return a.fail(StageFetch, err)
	}

	snap, sum, err := a.prod.Load().Produce(raw)
	if err != nil {
		a.pub.RecordFailure()
		return a.fail(StageParse, err)
	}

	// Publish counts its own failures.
	if err := a.pub.Publish(snap, sum); err != nil {
		return a.fail(StagePublish, err)
	}
	a.state.RecordSuccess(snap, sum, a.cfg.Now())

	a.archive(raw, snap, sum)

	a.logger.Info("app: cycle complete",
		"tower_id", a.cfg.Settings.Tower(),
		"total_sensors", sum.TotalSensors,
		"warning", sum.AlertCounts[models.AlertWarning],
		"critical", sum.AlertCounts[models.AlertCritical],
		"duration_ms", a.cfg.Now().Sub(started).Milliseconds(),
	)
	return nil
}

func (a *App) fail(stage string, err error) error {
	a.state.RecordFailure(stage, err, a.cfg.Now())
	a.logger.Warn("app: cycle failed, keeping previous snapshot",
		"tower_id", a.cfg.Settings.Tower(),
		"stage", stage,
		"pull_errors", a.pub.PullErrors(),
		"error", err.Error(),
	)
	return fmt.Errorf("app: %s: %w", stage, err)
}

// archive writes the cycle's outputs. Archive failures are logged but never
// fail the cycle.
func (a *App) archive(raw []byte, snap models.TelemetrySnapshot, sum models.Summary) {
	if a.cfg.Archive == nil {
		return
	}
	if a.cfg.ArchiveRaw {
		if err := a.cfg.Archive.Send(raw); err != nil {
			a.logger.Error("app: archive raw document failed", "error", err.Error())
		}
	}
	rec := models.NewRecord(snap, sum)
	data, err := a.formatter.Format(&rec)
	if err != nil {
		a.logger.Error("app: format record failed", "error", err.Error())
		return
	}
	if err := a.cfg.Archive.Send(data); err != nil {
		a.logger.Error("app: archive record failed", "error", err.Error())
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// no-op logger writer
// ─────────────────────────────────────────────────────────────────────────────

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
