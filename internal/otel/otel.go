// Package otel wires the OpenTelemetry meter provider to a Prometheus registry and owns
// the printflow instruments.
package otel

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelglobal "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const meterName = "github.com/hesham156/sys"

// InitMeterProvider installs a global MeterProvider exporting to a private Prometheus
// registry, which also carries the Go runtime and process collectors. It returns the
// /metrics handler and a shutdown func that flushes the provider.
func InitMeterProvider(ctx context.Context, serviceName string, attrs ...attribute.KeyValue) (http.Handler, func(context.Context) error, error) {
	if serviceName == "" {
		serviceName = "printflow"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(append([]attribute.KeyValue{semconv.ServiceName(serviceName)}, attrs...)...))
	if err != nil {
		return nil, nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter), sdkmetric.WithResource(res))
	otelglobal.SetMeterProvider(provider)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}), provider.Shutdown, nil
}

// Meter returns the printflow meter from the global provider.
func Meter() metric.Meter {
	return otelglobal.Meter(meterName)
}

// Attribute keys on printflow instruments.
var (
	AttrRole      = attribute.Key("role")
	AttrStatus    = attribute.Key("status")
	AttrFrom      = attribute.Key("from")
	AttrTo        = attribute.Key("to")
	AttrOutcome   = attribute.Key("outcome")
	AttrOperation = attribute.Key("operation")
)
