package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Telemetry holds the meter provider and every instrument the orchestrator
// reports to. A zero-value (disabled) Telemetry is safe to call.
type Telemetry struct {
	meterProvider metric.MeterProvider
	meter         metric.Meter

	downloadsTotal   metric.Int64Counter
	downloadsActive  metric.Int64UpDownCounter
	downloadDuration metric.Float64Histogram

	relaysTotal  metric.Int64Counter
	relaysActive metric.Int64UpDownCounter

	scheduleTicks metric.Int64Counter
	scheduleFires metric.Int64Counter

	sweepReleases metric.Int64Counter

	remoteCommandsTotal metric.Int64Counter
	remoteErrors        metric.Int64Counter

	dbOperationsTotal   metric.Int64Counter
	dbOperationDuration metric.Float64Histogram
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
}

// New creates a new telemetry instance backed by a Prometheus exporter.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(meterProvider)

	if err := runtime.Start(runtime.WithMeterProvider(meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	t := &Telemetry{
		meterProvider: meterProvider,
		meter:         meterProvider.Meter(cfg.ServiceName),
	}

	if err := t.initInstruments(); err != nil {
		return nil, err
	}

	return t, nil
}

func (t *Telemetry) initInstruments() error {
	var err error

	if t.downloadsTotal, err = t.meter.Int64Counter("downloads_total",
		metric.WithDescription("Download jobs accepted, by terminal outcome")); err != nil {
		return err
	}

	if t.downloadsActive, err = t.meter.Int64UpDownCounter("downloads_active",
		metric.WithDescription("Download jobs currently holding a registry slot")); err != nil {
		return err
	}

	if t.downloadDuration, err = t.meter.Float64Histogram("download_duration_seconds",
		metric.WithDescription("Wall-clock duration of finished download jobs")); err != nil {
		return err
	}

	if t.relaysTotal, err = t.meter.Int64Counter("relays_total",
		metric.WithDescription("Relay start attempts, by outcome")); err != nil {
		return err
	}

	if t.relaysActive, err = t.meter.Int64UpDownCounter("relays_active",
		metric.WithDescription("Relays believed live on the remote host")); err != nil {
		return err
	}

	if t.scheduleTicks, err = t.meter.Int64Counter("schedule_ticks_total",
		metric.WithDescription("Schedule engine evaluation passes")); err != nil {
		return err
	}

	if t.scheduleFires, err = t.meter.Int64Counter("schedule_fires_total",
		metric.WithDescription("Schedules whose recurrence rule matched and fired")); err != nil {
		return err
	}

	if t.sweepReleases, err = t.meter.Int64Counter("sweep_releases_total",
		metric.WithDescription("Stuck jobs force-released by the registry sweeper")); err != nil {
		return err
	}

	if t.remoteCommandsTotal, err = t.meter.Int64Counter("remote_commands_total",
		metric.WithDescription("Commands executed on the remote streaming host")); err != nil {
		return err
	}

	if t.remoteErrors, err = t.meter.Int64Counter("remote_errors_total",
		metric.WithDescription("Remote command failures")); err != nil {
		return err
	}

	if t.dbOperationsTotal, err = t.meter.Int64Counter("db_operations_total",
		metric.WithDescription("Store operations, by name and result")); err != nil {
		return err
	}

	if t.dbOperationDuration, err = t.meter.Float64Histogram("db_operation_duration_seconds",
		metric.WithDescription("Store operation latency")); err != nil {
		return err
	}

	return nil
}

// MetricsHandler exposes the Prometheus scrape endpoint.
func (t *Telemetry) MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func (t *Telemetry) RecordDownloadAccepted(ctx context.Context) {
	if t == nil || t.downloadsActive == nil {
		return
	}

	t.downloadsActive.Add(ctx, 1)
}

func (t *Telemetry) RecordDownloadFinished(ctx context.Context, outcome string, duration time.Duration) {
	if t == nil || t.downloadsTotal == nil {
		return
	}

	t.downloadsActive.Add(ctx, -1)
	t.downloadsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	t.downloadDuration.Record(ctx, duration.Seconds())
}

func (t *Telemetry) RecordRelayStart(ctx context.Context, outcome string) {
	if t == nil || t.relaysTotal == nil {
		return
	}

	t.relaysTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))

	if outcome == "active" {
		t.relaysActive.Add(ctx, 1)
	}
}

func (t *Telemetry) RecordRelayStop(ctx context.Context) {
	if t == nil || t.relaysActive == nil {
		return
	}

	t.relaysActive.Add(ctx, -1)
}

func (t *Telemetry) RecordScheduleTick(ctx context.Context, fired int) {
	if t == nil || t.scheduleTicks == nil {
		return
	}

	t.scheduleTicks.Add(ctx, 1)
	t.scheduleFires.Add(ctx, int64(fired))
}

func (t *Telemetry) RecordSweepRelease(ctx context.Context, kind string) {
	if t == nil || t.sweepReleases == nil {
		return
	}

	t.sweepReleases.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (t *Telemetry) RecordRemoteCommand(ctx context.Context, operation string, err error) {
	if t == nil || t.remoteCommandsTotal == nil {
		return
	}

	t.remoteCommandsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))

	if err != nil {
		t.remoteErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
	}
}

// InstrumentDBOperation wraps a store call with counter and latency metrics.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if t == nil || t.dbOperationsTotal == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := fn(ctx)
	result := "ok"

	if err != nil {
		result = "error"
	}

	t.dbOperationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	t.dbOperationDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("operation", operation)))

	return err
}
