package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/veerhq/veer/internal/daemon"
	"github.com/veerhq/veer/telemetry"
)

var (
	watchInterval      time.Duration
	watchMetricsAddr   string
	watchAutoRemediate bool
	watchAlwaysNotify  bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the environment continuously",
	Long: `Run veer as a long-lived watcher: a detection cycle on every
interval, reports persisted, drift notified, and optionally remediated
unattended.

Prometheus metrics and health endpoints are served while watching.`,
	Example: `  veer watch                                 # Detect every 5 minutes
  veer watch --interval 1m                   # Tighter loop
  veer watch --auto-remediate                # Fix drift unattended
  veer watch --metrics-addr :9109            # Custom metrics address`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().DurationVar(&watchInterval, "interval", 5*time.Minute, "Detection interval")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", ":9109", "Metrics server address (empty disables)")
	watchCmd.Flags().BoolVar(&watchAutoRemediate, "auto-remediate", false, "Remediate detected drift unattended")
	watchCmd.Flags().BoolVar(&watchAlwaysNotify, "always-notify", false, "Notify on clean cycles too")
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp("watch")
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	exporter, err := sdkprom.New(sdkprom.WithRegisterer(prometheus.DefaultRegisterer))
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName("veer"),
			semconv.ServiceVersion(rootCmd.Version),
			attribute.String("environment", a.cfg.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create telemetry resource: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)
	defer func() { _ = provider.Shutdown(context.Background()) }()

	metrics, err := telemetry.NewCycleMetrics()
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	var remediator daemon.Remediator
	if watchAutoRemediate {
		remediator = a.remedyEngine(nil, true, true)
	}

	d, err := daemon.New(daemon.Config{
		Environment:   a.cfg.Environment,
		Interval:      watchInterval,
		MetricsAddr:   watchMetricsAddr,
		AutoRemediate: watchAutoRemediate,
		AlwaysNotify:  watchAlwaysNotify || a.cfg.Notify.AlwaysNotify,
	}, daemon.Deps{
		Analyst:    a.analyst,
		Remediator: remediator,
		Reports:    a.reports,
		Trail:      a.trail,
		Notifier:   a.notifier,
		Metrics:    metrics,
		Logger:     a.logger,
	})
	if err != nil {
		return err
	}

	fmt.Printf("👁  Watching %s every %s", a.cfg.Environment, watchInterval)
	if watchMetricsAddr != "" {
		fmt.Printf(" (metrics on %s/metrics)", watchMetricsAddr)
	}
	fmt.Println()

	return d.Run(ctx)
}
