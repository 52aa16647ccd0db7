package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpDurationHistogram *prometheus.HistogramVec
	settlementCounter     *prometheus.CounterVec
	dispatchCounter       *prometheus.CounterVec
	reservationCounter    *prometheus.CounterVec
	activeStreamsGauge    prometheus.Gauge
	workerRunCounter      *prometheus.CounterVec
	integrityCounter      *prometheus.CounterVec
	idempotencyCounter    *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		settlementCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_callbacks_total",
			Help: "Settlement reconciler outcomes",
		}, []string{"result"})

		dispatchCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulk_dispatch_total",
			Help: "Bulk execution dispatch outcomes",
		}, []string{"result"})

		reservationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_reservations_total",
			Help: "Payer reservation attempts at batch creation",
		}, []string{"result"})

		activeStreamsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "status_streams_active",
			Help: "Currently open batch status streams",
		})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		integrityCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_integrity_violations_total",
			Help: "Ledger invariant violations found by the integrity checker",
		}, []string{"check"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency-Key middleware events",
		}, []string{"event"})

		prometheus.MustRegister(
			httpDurationHistogram,
			settlementCounter,
			dispatchCounter,
			reservationCounter,
			activeStreamsGauge,
			workerRunCounter,
			integrityCounter,
			idempotencyCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementSettlement(result string) {
	if settlementCounter == nil {
		return
	}
	settlementCounter.WithLabelValues(result).Inc()
}

func IncrementDispatch(result string) {
	if dispatchCounter == nil {
		return
	}
	dispatchCounter.WithLabelValues(result).Inc()
}

func IncrementReservation(result string) {
	if reservationCounter == nil {
		return
	}
	reservationCounter.WithLabelValues(result).Inc()
}

func IncActiveStreams() {
	if activeStreamsGauge == nil {
		return
	}
	activeStreamsGauge.Inc()
}

func DecActiveStreams() {
	if activeStreamsGauge == nil {
		return
	}
	activeStreamsGauge.Dec()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

func IncrementIdempotencyEvent(event string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(event).Inc()
}

func IncrementIntegrityViolation(check string) {
	if integrityCounter == nil {
		return
	}
	integrityCounter.WithLabelValues(check).Inc()
}
