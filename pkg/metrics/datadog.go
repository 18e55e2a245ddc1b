package metrics

import (
	"context"
	"fmt"
	"time"

	datadog "github.com/DataDog/datadog-api-client-go/api/v2/datadog"
	"github.com/rs/zerolog/log"
)

// DatadogReporter posts gauges through the Datadog metrics intake API.
type DatadogReporter struct {
	client *datadog.APIClient
	ctx    context.Context
	tags   []string
	now    func() time.Time
}

func NewDatadogReporter(apiKey, appKey string, tags ...string) *DatadogReporter {
	ctx := context.WithValue(context.Background(), datadog.ContextAPIKeys, map[string]datadog.APIKey{
		"apiKeyAuth": {
			Key: apiKey,
		},
		"appKeyAuth": {
			Key: appKey,
		},
	})
	return &DatadogReporter{
		client: datadog.NewAPIClient(datadog.NewConfiguration()),
		ctx:    ctx,
		tags:   tags,
		now:    time.Now,
	}
}

// Gauge submits a single gauge point tagged with the reporter tags plus tags.
func (r *DatadogReporter) Gauge(name string, value float64, tags ...string) error {
	payload := r.payload(name, value, tags)
	if _, _, err := r.client.MetricsApi.SubmitMetrics(r.ctx, payload); err != nil {
		return fmt.Errorf("failed to submit %s to datadog: %w", name, err)
	}
	log.Debug().Str("metric", name).Float64("value", value).Msg("metric posted to datadog")
	return nil
}

func (r *DatadogReporter) payload(name string, value float64, tags []string) datadog.MetricPayload {
	point := datadog.MetricPoint{
		Timestamp: datadog.PtrInt64(r.now().Unix()),
		Value:     datadog.PtrFloat64(value),
	}
	series := datadog.MetricSeries{
		Metric: name,
		Type:   datadog.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadog.MetricPoint{point},
		Tags:   append(append([]string{}, r.tags...), tags...),
	}
	return datadog.MetricPayload{
		Series: []datadog.MetricSeries{series},
	}
}
