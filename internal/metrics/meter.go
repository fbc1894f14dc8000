// Package metrics exposes supervisor instrumentation through
// OpenTelemetry. Export is optional: without an OTLP endpoint the
// instruments record into a no-op provider.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

const meterName = "keeper/supervisor"

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	// ServiceName is the name of the service.
	ServiceName string
	// Endpoint is the OTLP HTTP endpoint host:port (e.g., "localhost:4318").
	Endpoint string
	// Insecure allows insecure connections.
	Insecure bool
	// Interval is the metric export interval.
	Interval time.Duration
}

// InitMeter initializes the OpenTelemetry meter provider.
// Returns a MeterProvider that should be shut down on exit.
func InitMeter(ctx context.Context, cfg MeterConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if cfg.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)
	return mp, nil
}

// Metrics holds the supervisor's metric instruments.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	transitionTotal metric.Int64Counter
	restartTotal    metric.Int64Counter
	probeDuration   metric.Float64Histogram
	probeFailTotal  metric.Int64Counter
}

// New creates the supervisor instruments on the global meter provider.
func New() (*Metrics, error) {
	meter := otel.Meter(meterName)

	transitionTotal, err := meter.Int64Counter("supervisor.transition.total",
		metric.WithDescription("Total number of service state transitions"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating transition counter: %w", err)
	}

	restartTotal, err := meter.Int64Counter("supervisor.restart.total",
		metric.WithDescription("Total number of automatic restarts"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating restart counter: %w", err)
	}

	probeDuration, err := meter.Float64Histogram("supervisor.probe.duration",
		metric.WithDescription("Duration of liveness probes in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating probe histogram: %w", err)
	}

	probeFailTotal, err := meter.Int64Counter("supervisor.probe.failures",
		metric.WithDescription("Total number of failed liveness probes"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating probe failure counter: %w", err)
	}

	return &Metrics{
		transitionTotal: transitionTotal,
		restartTotal:    restartTotal,
		probeDuration:   probeDuration,
		probeFailTotal:  probeFailTotal,
	}, nil
}

// RecordTransition counts one state transition.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.transitionTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordRestart counts one automatic restart attempt.
func (m *Metrics) RecordRestart(ctx context.Context) {
	if m == nil {
		return
	}
	m.restartTotal.Add(ctx, 1)
}

// RecordProbe records the outcome and duration of one liveness probe.
func (m *Metrics) RecordProbe(ctx context.Context, d time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.probeDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.Bool("ok", ok),
	))
	if !ok {
		m.probeFailTotal.Add(ctx, 1)
	}
}
