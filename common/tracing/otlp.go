package tracing

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Sayooj2275/ecotrace"
	"github.com/Sayooj2275/ecotrace/common"
	"github.com/Sayooj2275/ecotrace/models"
)

// NewTracerProvider exports spans to the OTLP collector named by the environment, or to stdout when none is configured.
// It also becomes the global provider, and W3C trace context becomes the global propagator.
func NewTracerProvider(ctx context.Context, logger models.Logger) (*sdktrace.TracerProvider, error) {
	var exporter sdktrace.SpanExporter
	var err error
	if collectorHost := os.Getenv(common.Env_TracesEndpoint); len(collectorHost) > 0 {
		exporter, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(collectorHost), otlptracehttp.WithInsecure())
	} else {
		logger.Infof("tracing: no collector configured, exporting to stdout")
		exporter, err = stdouttrace.New()
	}
	if err != nil {
		return nil, err
	}
	tracerProvider := newTracerProvider(sdktrace.NewBatchSpanProcessor(exporter))
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tracerProvider, nil
}

func newTracerProvider(spanProcessor sdktrace.SpanProcessor) *sdktrace.TracerProvider {
	res := resource.NewSchemaless(
		attribute.String("service.name", common.ServiceName),
		attribute.String("deployment.environment", os.Getenv(ecotrace.Env_Env)),
	)
	return sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(spanProcessor),
		sdktrace.WithResource(res),
	)
}
