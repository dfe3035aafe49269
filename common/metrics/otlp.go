package metrics

import (
	"context"
	"os"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/Sayooj2275/ecotrace"
	"github.com/Sayooj2275/ecotrace/common"
	"github.com/Sayooj2275/ecotrace/models"
)

var _ models.MetricService = &OtlpMetricService{}

type OtlpMetricService struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	logger        models.Logger
	attrs         metric.MeasurementOption
	counters      map[models.MetricName]metric.Int64Counter
	histograms    map[models.MetricName]metric.Float64Histogram
	mu            sync.Mutex
}

// NewMetricService exports to the OTLP collector named by the environment, or to stdout when none is configured
func NewMetricService(ctx context.Context, logger models.Logger) (*OtlpMetricService, error) {
	var exporter sdkmetric.Exporter
	var err error
	if collectorHost := os.Getenv(common.Env_MetricsEndpoint); len(collectorHost) > 0 {
		exporter, err = otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(collectorHost), otlpmetrichttp.WithInsecure())
	} else {
		logger.Infof("metrics: no collector configured, exporting to stdout")
		exporter, err = stdoutmetric.New()
	}
	if err != nil {
		return nil, err
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", common.ServiceName),
		attribute.String("deployment.environment", os.Getenv(ecotrace.Env_Env)),
	)
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	return newMetricService(logger, meterProvider), nil
}

func newMetricService(logger models.Logger, meterProvider *sdkmetric.MeterProvider) *OtlpMetricService {
	return &OtlpMetricService{
		meterProvider: meterProvider,
		meter:         meterProvider.Meter(models.MetricsCallerName),
		logger:        logger,
		attrs:         metric.WithAttributes(attribute.String("env", os.Getenv(ecotrace.Env_Env))),
		counters:      make(map[models.MetricName]metric.Int64Counter),
		histograms:    make(map[models.MetricName]metric.Float64Histogram),
	}
}

func (o *OtlpMetricService) Count(ctx context.Context, name models.MetricName, val int) error {
	counter, err := o.counter(name)
	if err != nil {
		o.logger.Warnf("metrics: failed to create counter %s: %v", name, err)
		return err
	}
	counter.Add(ctx, int64(val), o.attrs)
	return nil
}

func (o *OtlpMetricService) Distribution(ctx context.Context, name models.MetricName, val float64) error {
	histogram, err := o.histogram(name)
	if err != nil {
		o.logger.Warnf("metrics: failed to create histogram %s: %v", name, err)
		return err
	}
	histogram.Record(ctx, val, o.attrs)
	return nil
}

func (o *OtlpMetricService) Shutdown(ctx context.Context) {
	if err := o.meterProvider.Shutdown(ctx); err != nil {
		o.logger.Errorf("metrics: shutdown failed: %v", err)
	}
}

func (o *OtlpMetricService) counter(name models.MetricName) (metric.Int64Counter, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if counter, found := o.counters[name]; found {
		return counter, nil
	}
	counter, err := o.meter.Int64Counter(string(name))
	if err != nil {
		return nil, err
	}
	o.counters[name] = counter
	return counter, nil
}

func (o *OtlpMetricService) histogram(name models.MetricName) (metric.Float64Histogram, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if histogram, found := o.histograms[name]; found {
		return histogram, nil
	}
	histogram, err := o.meter.Float64Histogram(string(name))
	if err != nil {
		return nil, err
	}
	o.histograms[name] = histogram
	return histogram, nil
}
