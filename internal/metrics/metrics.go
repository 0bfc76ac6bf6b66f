// Package metrics provides Prometheus instrumentation for the futures ledger.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DepositsTotal counts accepted deposits. Amounts are confidential and
	// never labeled or observed.
	DepositsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agrex_deposits_total",
		Help: "Total number of accepted deposits",
	})

	// ContractsCreated counts contract creations, partitioned by commodity.
	ContractsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agrex_contracts_created_total",
		Help: "Total number of futures contracts created",
	}, []string{"crop"})

	// ContractsSettled counts settlements, partitioned by commodity.
	ContractsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agrex_contracts_settled_total",
		Help: "Total number of futures contracts settled",
	}, []string{"crop"})

	// ContractsCancelled counts cancellations, partitioned by commodity.
	ContractsCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agrex_contracts_cancelled_total",
		Help: "Total number of futures contracts cancelled",
	}, []string{"crop"})

	// PreconditionRejections counts operations aborted by a failed
	// precondition, partitioned by error kind.
	PreconditionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agrex_precondition_rejections_total",
		Help: "Operations rejected by a lifecycle precondition",
	}, []string{"reason"})

	// ActiveContracts tracks the number of currently ACTIVE contracts.
	ActiveContracts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agrex_active_contracts",
		Help: "Number of currently active futures contracts",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agrex_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agrex_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agrex_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
