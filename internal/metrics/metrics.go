// Package metrics exposes Prometheus instrumentation for the glucose API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

const metricsNamespace = "glucose_api"

// Upsert outcomes.
const (
	OutcomeCreated = "created"
	OutcomeUpdated = "updated"
	OutcomeRetried = "retried" // create lost a race and was replayed as an update
)

// Upsert objects.
const (
	ObjectMetadata = "metadata"
	ObjectReading  = "reading"
)

// Collector is a prometheus.Collector for the upsert engine and the HTTP
// transport. All recording methods are safe on a nil *Collector.
type Collector struct {
	upserts         *prometheus.CounterVec
	batchItems      prometheus.Counter
	requestDuration *prometheus.HistogramVec
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		upserts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "upserts_total",
				Help:      "The number of upserted records by object and outcome.",
			}, []string{"object", "outcome"},
		),
		batchItems: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "batch_items_total",
				Help:      "The number of batch items stored successfully.",
			},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "The time taken to serve an HTTP request.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method", "route", "status"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.upserts.Describe(ch)
	c.batchItems.Describe(ch)
	c.requestDuration.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.upserts.Collect(ch)
	c.batchItems.Collect(ch)
	c.requestDuration.Collect(ch)
}

// Upsert counts one upsert of object with the given outcome.
func (c *Collector) Upsert(object, outcome string) {
	if c == nil {
		return
	}
	c.upserts.WithLabelValues(object, outcome).Inc()
}

// Upserts returns how many upserts of object ended with outcome so far. It
// is 0 on a nil *Collector.
func (c *Collector) Upserts(object, outcome string) float64 {
	if c == nil {
		return 0
	}
	var m dto.Metric
	if err := c.upserts.WithLabelValues(object, outcome).Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// BatchItem counts one successfully stored batch item.
func (c *Collector) BatchItem() {
	if c == nil {
		return
	}
	c.batchItems.Inc()
}

// ObserveRequest records the duration of one HTTP request. route is the
// router pattern, not the raw path, to keep label cardinality bounded.
func (c *Collector) ObserveRequest(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// Handler returns an HTTP handler exposing every collector in reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// NewRegistry returns a registry holding c plus the standard Go and process
// collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		c,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return reg
}
