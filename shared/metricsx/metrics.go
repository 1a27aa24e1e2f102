package metricsx

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	kafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag by topic.",
		},
		[]string{"topic", "group"},
	)
	eventsHandled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_handled_total",
			Help: "Domain events handled by topic and outcome.",
		},
		[]string{"topic", "outcome"},
	)
	eventHandleLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "event_handle_duration_seconds",
			Help:    "Dual-write handler latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)
	failedWritesRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failed_writes_recorded_total",
			Help: "Store operations queued for retry after a partial dual write.",
		},
		[]string{"entity_type", "operation"},
	)
	failedWriteRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failed_write_retries_total",
			Help: "Failed-write retry attempts by outcome.",
		},
		[]string{"outcome"},
	)
	failedWritesPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "failed_writes_pending",
			Help: "Failed-write records waiting for the next sweep.",
		},
	)
	dlqMessages = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dlq_messages",
			Help: "Dead-letter backlog size.",
		},
	)
	dlqAlerts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dlq_alerts_total",
			Help: "Dead-letter threshold alerts published.",
		},
	)
	consistencyMismatches = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "consistency_mismatches",
			Help: "Mismatches found by the last consistency check.",
		},
		[]string{"entity_type"},
	)
	consistencyRepairs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consistency_repairs_total",
			Help: "Cache repairs by outcome.",
		},
		[]string{"outcome"},
	)
	asynqQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asynq_queue_depth",
			Help: "Asynq queue depth by queue.",
		},
		[]string{"queue"},
	)

	registerOnce sync.Once
)

// Register is safe to call from every binary and from tests.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpLatency, kafkaConsumerLag,
			eventsHandled, eventHandleLatency,
			failedWritesRecorded, failedWriteRetries, failedWritesPending,
			dlqMessages, dlqAlerts,
			consistencyMismatches, consistencyRepairs,
			asynqQueueDepth,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		status := strconv.Itoa(lrw.statusCode)
		httpRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpLatency.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
	})
}

func SetKafkaLag(topic string, group string, lag int64) {
	kafkaConsumerLag.WithLabelValues(topic, group).Set(float64(lag))
}

func ObserveEvent(topic string, outcome string, d time.Duration) {
	eventsHandled.WithLabelValues(topic, outcome).Inc()
	eventHandleLatency.WithLabelValues(topic).Observe(d.Seconds())
}

func IncFailedWriteRecorded(entityType string, operation string) {
	failedWritesRecorded.WithLabelValues(entityType, operation).Inc()
}

func AddFailedWriteRetries(succeeded int, failed int) {
	failedWriteRetries.WithLabelValues("succeeded").Add(float64(succeeded))
	failedWriteRetries.WithLabelValues("failed").Add(float64(failed))
}

func SetFailedWritesPending(n int) {
	failedWritesPending.Set(float64(n))
}

func SetDLQSize(n int64) {
	dlqMessages.Set(float64(n))
}

func IncDLQAlert() {
	dlqAlerts.Inc()
}

func SetConsistencyMismatches(entityType string, n int) {
	consistencyMismatches.WithLabelValues(entityType).Set(float64(n))
}

func AddConsistencyRepairs(repaired int, failed int) {
	consistencyRepairs.WithLabelValues("repaired").Add(float64(repaired))
	consistencyRepairs.WithLabelValues("failed").Add(float64(failed))
}

func SetAsynqQueueDepth(queue string, depth int) {
	asynqQueueDepth.WithLabelValues(queue).Set(float64(depth))
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
