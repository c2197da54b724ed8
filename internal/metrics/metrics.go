// Package metrics provides Prometheus instrumentation for the trade simulator.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CommandsSeen counts chat messages fetched from the channel.
	CommandsSeen = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradesim_commands_seen_total",
		Help: "Chat messages fetched from the trading channel",
	})

	// TradesParsed counts trade events parsed, partitioned by action.
	TradesParsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_trades_parsed_total",
		Help: "Trade commands parsed into trade events",
	}, []string{"action"})

	// MalformedCommands counts rejected trade messages.
	MalformedCommands = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradesim_malformed_commands_total",
		Help: "Trade messages rejected as malformed",
	})

	// DuplicateTrades counts trades skipped because their id was already stored.
	DuplicateTrades = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradesim_duplicate_trades_total",
		Help: "Trades excluded because their id already exists",
	})

	// TradesAppended counts trades written to the store.
	TradesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradesim_trades_appended_total",
		Help: "Trades appended to the durable trade store",
	})

	// EmptyPriceWindows counts symbols valued with the default price.
	EmptyPriceWindows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_empty_price_windows_total",
		Help: "Symbols with no price ticks in range",
	}, []string{"symbol"})

	// RunDuration tracks pipeline run duration by kind.
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradesim_run_duration_seconds",
		Help:    "Pipeline run duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// RunFailures counts runs that returned an error.
	RunFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_run_failures_total",
		Help: "Pipeline runs that failed",
	}, []string{"kind"})

	// Traders tracks the number of ranked traders after the last report.
	Traders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradesim_traders",
		Help: "Traders on the current leaderboard",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradesim_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradesim_http_request_duration_seconds",
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
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
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

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
