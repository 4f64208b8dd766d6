// Package daemon runs the continuous watch loop: detect on an
// interval, record reports, optionally remediate, and serve metrics.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veerhq/veer/notify"
	"github.com/veerhq/veer/remedy"
	"github.com/veerhq/veer/telemetry"
	"github.com/veerhq/veer/types"
	"github.com/veerhq/veer/wal"
)

// Analyst runs one detection cycle.
type Analyst interface {
	Analyze(ctx context.Context) (*types.DriftReport, error)
}

// Remediator runs an unattended remediation pass against a report.
type Remediator interface {
	Run(ctx context.Context, report *types.DriftReport) (*remedy.RunResult, error)
}

// ReportSink persists detection reports.
type ReportSink interface {
	Append(report *types.DriftReport) (string, error)
}

// Config holds daemon configuration.
type Config struct {
	Environment   string
	Interval      time.Duration
	MetricsAddr   string
	AutoRemediate bool
	AlwaysNotify  bool
}

// Daemon manages the continuous detection loop.
type Daemon struct {
	cfg        Config
	analyst    Analyst
	remediator Remediator
	reports    ReportSink
	trail      *wal.WAL
	notifier   *notify.Notifier
	metrics    *telemetry.CycleMetrics
	logger     *telemetry.Logger

	startTime  time.Time
	cycleCount atomic.Int64
	lastDrift  atomic.Bool
}

// Deps are the daemon's collaborators. Remediator may be nil when
// auto-remediation is off.
type Deps struct {
	Analyst    Analyst
	Remediator Remediator
	Reports    ReportSink
	Trail      *wal.WAL
	Notifier   *notify.Notifier
	Metrics    *telemetry.CycleMetrics
	Logger     *telemetry.Logger
}

// New creates a daemon.
func New(cfg Config, deps Deps) (*Daemon, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("watch interval must be positive, got %s", cfg.Interval)
	}
	if cfg.AutoRemediate && deps.Remediator == nil {
		return nil, errors.New("auto-remediation enabled but no remediator provided")
	}
	return &Daemon{
		cfg:        cfg,
		analyst:    deps.Analyst,
		remediator: deps.Remediator,
		reports:    deps.Reports,
		trail:      deps.Trail,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		startTime:  time.Now(),
	}, nil
}

// Run blocks until ctx is cancelled or an actor fails. The detection
// loop and the metrics server run as a group: if either stops, the
// whole daemon winds down.
func (d *Daemon) Run(ctx context.Context) error {
	var group run.Group

	loopCtx, loopCancel := context.WithCancel(ctx)
	group.Add(func() error {
		return d.loop(loopCtx)
	}, func(error) {
		loopCancel()
	})

	if d.cfg.MetricsAddr != "" {
		server := d.metricsServer()
		group.Add(func() error {
			d.logger.Info().Str("addr", d.cfg.MetricsAddr).Msg("starting metrics server")
			err := server.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		})
	}

	d.logger.Info().
		Str("environment", d.cfg.Environment).
		Dur("interval", d.cfg.Interval).
		Bool("auto_remediate", d.cfg.AutoRemediate).
		Msg("watch daemon starting")

	err := group.Run()
	if err == nil || errors.Is(err, context.Canceled) {
		d.logger.Info().Int64("cycles", d.cycleCount.Load()).Msg("watch daemon stopped")
		return nil
	}
	return err
}

// loop runs one cycle immediately, then on every tick.
func (d *Daemon) loop(ctx context.Context) error {
	d.cycle(ctx)

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.cycle(ctx)
		}
	}
}

// cycle runs one detection pass. Failures are logged, never fatal: the
// daemon keeps watching.
func (d *Daemon) cycle(ctx context.Context) {
	d.cycleCount.Add(1)
	start := time.Now()
	d.logger.LogCycleStart(ctx, d.cfg.Environment)

	report, err := d.analyst.Analyze(ctx)
	if err != nil {
		d.logger.LogCollectorFailure(ctx, "watch", err)
		if report != nil {
			if _, perr := d.reports.Append(report); perr != nil {
				d.logger.Warn().Err(perr).Msg("failed to persist report")
			}
		}
		// A failed cycle draws no drift conclusion: no metrics, no
		// clean notification, no remediation.
		return
	}

	d.metrics.RecordDetection(ctx, d.cfg.Environment, report.DriftDetected, len(report.Details), time.Since(start).Seconds())
	d.lastDrift.Store(report.DriftDetected)

	if _, err := d.reports.Append(report); err != nil {
		d.logger.Warn().Err(err).Msg("failed to persist report")
	}
	if report.DriftDetected {
		_ = d.trail.Append(wal.EntryDetected, d.cfg.Environment, report.Summary())
	}

	d.notifyCycle(ctx, report)
	d.logger.LogCycleComplete(ctx, d.cfg.Environment, report.DriftDetected, len(report.Details))

	if report.DriftDetected && d.cfg.AutoRemediate {
		d.remediate(ctx, report)
	}
}

func (d *Daemon) notifyCycle(ctx context.Context, report *types.DriftReport) {
	if report.DriftDetected {
		d.notifier.Notify(ctx, notify.EventDriftDetected, report.Summary())
		return
	}
	if d.cfg.AlwaysNotify {
		d.notifier.Notify(ctx, notify.EventDetectionClean, nil)
	}
}

func (d *Daemon) remediate(ctx context.Context, report *types.DriftReport) {
	d.logger.Info().
		Str("environment", d.cfg.Environment).
		Int("issues", len(report.Details)).
		Msg("auto-remediation starting")

	result, err := d.remediator.Run(ctx, report)
	if err != nil {
		d.logger.Error().Err(err).Msg("auto-remediation failed")
		return
	}
	d.metrics.RecordRemediation(ctx, d.cfg.Environment, string(result.Outcome))
	if result.RolledBack {
		d.metrics.RecordRollback(ctx, d.cfg.Environment, "completed")
	}
	d.logger.Info().
		Str("outcome", string(result.Outcome)).
		Bool("rolled_back", result.RolledBack).
		Msg("auto-remediation finished")
}

func (d *Daemon) metricsServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", d.handleHealth)
	mux.HandleFunc("/-/healthy", d.handleHealth)
	mux.HandleFunc("/-/ready", d.handleHealth)

	return &http.Server{
		Addr:              d.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (d *Daemon) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"healthy","uptime_seconds":%d,"cycles":%d,"drift":%t}`,
		int64(time.Since(d.startTime).Seconds()), d.cycleCount.Load(), d.lastDrift.Load())
}

// CycleCount returns the number of detection cycles run so far.
func (d *Daemon) CycleCount() int64 {
	return d.cycleCount.Load()
}
