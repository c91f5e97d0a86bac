// Package metrics exposes Prometheus counters for the signal pipeline and
// a small /healthz endpoint.
package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the core engine.
type Metrics struct {
	TicksTotal   prometheus.Counter
	CandlesTotal *prometheus.CounterVec // labels: tf
	DroppedTicks prometheus.Counter     // out-of-order or late

	IndicatorSetsTotal prometheus.Counter

	BusDropsTotal    *prometheus.CounterVec // labels: pattern
	BusUnroutedTotal prometheus.Counter

	CycleDur         prometheus.Histogram
	AgentTimeouts    prometheus.Counter
	SignalsEmitted   prometheus.Counter
	SignalsTriggered prometheus.Counter
	SignalsExpired   prometheus.Counter
	SignalsCancelled prometheus.Counter

	OrdersPlaced  *prometheus.CounterVec // labels: status
	OrderRetries  prometheus.Counter
	OpenPositions prometheus.Gauge

	GatewayConnections prometheus.Gauge
	GatewayDropsTotal  prometheus.Counter
}

// New registers and returns the engine metrics on reg. Pass
// prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coreengine_ticks_total",
			Help: "Total ticks ingested",
		}),
		CandlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coreengine_candles_total",
			Help: "Closed bars emitted (by timeframe)",
		}, []string{"tf"}),
		DroppedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coreengine_dropped_ticks_total",
			Help: "Ticks dropped as out of order",
		}),
		IndicatorSetsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coreengine_indicator_sets_total",
			Help: "Indicator snapshots published",
		}),
		BusDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coreengine_bus_drops_total",
			Help: "Messages dropped for slow bus subscribers (by pattern)",
		}, []string{"pattern"}),
		BusUnroutedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coreengine_bus_unrouted_total",
			Help: "Publishes that reached zero subscribers",
		}),
		CycleDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coreengine_cycle_duration_seconds",
			Help:    "Orchestrator analysis cycle latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 20},
		}),
		AgentTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coreengine_agent_timeouts_total",
			Help: "Agent analyses abandoned at the per-agent deadline",
		}),
		SignalsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coreengine_signals_emitted_total",
			Help: "Signals emitted by the orchestrator",
		}),
		SignalsTriggered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coreengine_signals_triggered_total",
			Help: "Signals whose entry condition fired",
		}),
		SignalsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coreengine_signals_expired_total",
			Help: "Signals expired before triggering",
		}),
		SignalsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coreengine_signals_cancelled_total",
			Help: "Signals cancelled (superseded or manual)",
		}),
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coreengine_orders_placed_total",
			Help: "Broker orders by terminal status",
		}, []string{"status"}),
		OrderRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coreengine_order_retries_total",
			Help: "Order placement retries after retryable failures",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coreengine_open_positions",
			Help: "Currently open positions",
		}),
		GatewayConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coreengine_gateway_connections",
			Help: "Live WebSocket client connections",
		}),
		GatewayDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coreengine_gateway_drops_total",
			Help: "Outbound messages dropped by gateway rate limiting or overflow",
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.CandlesTotal,
		m.DroppedTicks,
		m.IndicatorSetsTotal,
		m.BusDropsTotal,
		m.BusUnroutedTotal,
		m.CycleDur,
		m.AgentTimeouts,
		m.SignalsEmitted,
		m.SignalsTriggered,
		m.SignalsExpired,
		m.SignalsCancelled,
		m.OrdersPlaced,
		m.OrderRetries,
		m.OpenPositions,
		m.GatewayConnections,
		m.GatewayDropsTotal,
	)
	return m
}

// HealthStatus is the mutable health snapshot served at /healthz.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected bool
	LastTickTime  time.Time
	JournalOK     bool
	StartedAt     time.Time
}

func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now(), JournalOK: true}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetJournalOK(v bool) {
	h.mu.Lock()
	h.JournalOK = v
	h.mu.Unlock()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	code := http.StatusOK
	if !h.FeedConnected || !h.JournalOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	body := struct {
		Status        string `json:"status"`
		Uptime        string `json:"uptime"`
		FeedConnected bool   `json:"feed_connected"`
		LastTickTime  string `json:"last_tick_time"`
		TickAge       string `json:"tick_age"`
		JournalOK     bool   `json:"journal_ok"`
	}{
		Status:        status,
		Uptime:        time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected: h.FeedConnected,
		LastTickTime:  h.LastTickTime.Format(time.RFC3339),
		TickAge:       tickAge,
		JournalOK:     h.JournalOK,
	}

	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(body)
}

// Server exposes /metrics and /healthz.
type Server struct {
	srv *http.Server
	log *slog.Logger
}

// NewServer creates the observability HTTP server. gatherer is usually
// prometheus.DefaultGatherer. api, when non-nil, is mounted at /api/.
func NewServer(addr string, gatherer prometheus.Gatherer, health *HealthStatus, api http.Handler, log *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)
	if api != nil {
		mux.Handle("/api/", api)
	}
	return &Server{
		srv: &http.Server{Addr: addr, Handler: mux},
		log: log.With("component", "metrics"),
	}
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("metrics listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
		return ctx.Err()
	}
}
