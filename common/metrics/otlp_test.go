package metrics

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Sayooj2275/ecotrace/common/loggers"
	"github.com/Sayooj2275/ecotrace/models"
)

func TestMetricService(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	metricService := newMetricService(loggers.NewTestLogger(), sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := metricService.Count(ctx, models.MetricName_RequestClaimed, 1); err != nil {
			t.Fatalf("count failed: %v", err)
		}
	}
	if err := metricService.Distribution(ctx, models.MetricName_CollectedWeight, 12.5); err != nil {
		t.Fatalf("distribution failed: %v", err)
	}

	collected := metricdata.ResourceMetrics{}
	if err := reader.Collect(ctx, &collected); err != nil {
		t.Fatalf("collect failed: %v", err)
	}
	found := make(map[string]metricdata.Aggregation)
	for _, scope := range collected.ScopeMetrics {
		for _, m := range scope.Metrics {
			found[m.Name] = m.Data
		}
	}
	sum, ok := found[string(models.MetricName_RequestClaimed)].(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 3 {
		t.Errorf("expected a counter with value 3, found %+v", found[string(models.MetricName_RequestClaimed)])
	}
	hist, ok := found[string(models.MetricName_CollectedWeight)].(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Errorf("expected a histogram with one sample, found %+v", found[string(models.MetricName_CollectedWeight)])
	}
	metricService.Shutdown(ctx)
}
