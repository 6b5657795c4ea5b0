// Package metrics records job, reply and HTTP counters on an OpenTelemetry meter
// and serves them in Prometheus text format.
package metrics

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// meterName is the instrumentation scope for every instrument in this package.
const meterName = "contract-backend"

var (
	registry = prometheus.NewRegistry()
	inst     = newInstruments(newMeter())
)

type instruments struct {
	jobsAdmitted  metric.Int64Counter
	jobsRejected  metric.Int64Counter
	jobsStarted   metric.Int64Counter
	jobsCompleted metric.Int64Counter
	jobsFailed    metric.Int64Counter
	replies       metric.Int64Counter
	httpRequests  metric.Int64Counter

	engineDuration metric.Float64Histogram
	jobDuration    metric.Float64Histogram
}

// newMeter wires an SDK meter provider to the Prometheus exporter on registry.
// When the exporter cannot register, instruments become no-ops.
func newMeter() metric.Meter {
	exporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
		otelprom.WithoutScopeInfo(),
		otelprom.WithoutTargetInfo(),
	)
	if err != nil {
		return noop.NewMeterProvider().Meter(meterName)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	return provider.Meter(meterName)
}

func newInstruments(meter metric.Meter) instruments {
	// The metric API returns usable no-op instruments alongside any error.
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		// Zero adds make every series visible before its first event.
		c.Add(context.Background(), 0)
		return c
	}
	histogram := func(name, desc string, bounds ...float64) metric.Float64Histogram {
		h, _ := meter.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("ms"),
			metric.WithExplicitBucketBoundaries(bounds...),
		)
		return h
	}
	return instruments{
		jobsAdmitted:  counter("jobs.admitted", "Submissions admitted"),
		jobsRejected:  counter("jobs.rejected", "Submissions rejected at admission"),
		jobsStarted:   counter("jobs.started", "Jobs moved to PROCESSING"),
		jobsCompleted: counter("jobs.completed", "Jobs completed"),
		jobsFailed:    counter("jobs.failed", "Jobs failed"),
		replies:       counter("conversation.replies", "Conversation replies generated"),
		httpRequests:  counter("http.requests", "HTTP requests served"),

		engineDuration: histogram("engine.call.duration", "Analysis engine call duration",
			250, 1000, 5000, 15000, 30000, 60000, 90000, 120000),
		jobDuration: histogram("job.duration", "Job processing duration",
			500, 1000, 5000, 15000, 30000, 60000, 120000, 300000),
	}
}

func IncJobsAdmitted()  { inst.jobsAdmitted.Add(context.Background(), 1) }
func IncJobsRejected()  { inst.jobsRejected.Add(context.Background(), 1) }
func IncJobsStarted()   { inst.jobsStarted.Add(context.Background(), 1) }
func IncJobsCompleted() { inst.jobsCompleted.Add(context.Background(), 1) }
func IncJobsFailed()    { inst.jobsFailed.Add(context.Background(), 1) }
func IncReplies()       { inst.replies.Add(context.Background(), 1) }
func IncHTTPRequests()  { inst.httpRequests.Add(context.Background(), 1) }

// ObserveEngineMs records one external engine call in milliseconds.
func ObserveEngineMs(value float64) {
	inst.engineDuration.Record(context.Background(), clamp(value))
}

// ObserveJobMs records the PROCESSING-to-terminal duration of a job.
func ObserveJobMs(value float64) {
	inst.jobDuration.Record(context.Background(), clamp(value))
}

// Handler exposes the registry in Prometheus text format.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

func clamp(value float64) float64 {
	if value < 0 {
		return 0
	}
	return value
}
