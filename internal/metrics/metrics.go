// Package metrics exposes Prometheus metrics and a health endpoint for
// backtest runs.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the backtest engine.
type Metrics struct {
	StepsTotal     prometheus.Counter
	BarsTotal      prometheus.Counter
	StepDur        prometheus.Histogram
	PortfolioValue prometheus.Gauge
	Cash           prometheus.Gauge

	// Strategy activity
	SignalsTotal *prometheus.CounterVec // labels: strategy, side
	OrdersTotal  *prometheus.CounterVec // labels: strategy, status

	// Trade log
	LogRecordsTotal *prometheus.CounterVec // labels: kind

	// Order journal
	JournalWriteDur prometheus.Histogram
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		StepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_steps_total",
			Help: "Trading days replayed",
		}),
		BarsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_bars_total",
			Help: "Bars fed to the indicator engine",
		}),
		StepDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "backtest_step_duration_seconds",
			Help:    "Processing latency per trading day",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
		PortfolioValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_portfolio_value",
			Help: "Cash plus positions marked at the last close",
		}),
		Cash: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_cash",
			Help: "Simulator cash balance",
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_signals_total",
			Help: "Order intents emitted (by strategy and side)",
		}, []string{"strategy", "side"}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_orders_total",
			Help: "Orders reaching a terminal status (by strategy and status)",
		}, []string{"strategy", "status"}),
		LogRecordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_log_records_total",
			Help: "Trade-log records written (by kind)",
		}, []string{"kind"}),
		JournalWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "backtest_journal_write_duration_seconds",
			Help:    "SQLite order journal insert latency",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.StepsTotal,
		m.BarsTotal,
		m.StepDur,
		m.PortfolioValue,
		m.Cash,
		m.SignalsTotal,
		m.OrdersTotal,
		m.LogRecordsTotal,
		m.JournalWriteDur,
	)

	return m
}

// HealthStatus represents the state of the current run.
type HealthStatus struct {
	mu sync.RWMutex

	RunID          string    `json:"run_id"`
	Running        bool      `json:"running"`
	Finished       bool      `json:"finished"`
	Failed         string    `json:"failed,omitempty"`
	LastBarDate    time.Time `json:"last_bar_date"`
	StepsDone      int       `json:"steps_done"`
	StepsTotal     int       `json:"steps_total"`
	RedisConnected bool      `json:"redis_connected"`
	JournalOK      bool      `json:"journal_ok"`

	JournalLatencyMs float64   `json:"journal_latency_ms"`
	LastCheckAt      time.Time `json:"last_check_at"`
	StartedAt        time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

// SetRun marks runID as started with total steps to replay.
func (h *HealthStatus) SetRun(runID string, total int) {
	h.mu.Lock()
	h.RunID = runID
	h.Running = true
	h.Finished = false
	h.Failed = ""
	h.StepsDone = 0
	h.StepsTotal = total
	h.mu.Unlock()
}

// SetProgress records the last replayed day.
func (h *HealthStatus) SetProgress(date time.Time, done int) {
	h.mu.Lock()
	h.LastBarDate = date
	h.StepsDone = done
	h.mu.Unlock()
}

// SetFinished marks the run as ended; a non-nil err marks it failed.
func (h *HealthStatus) SetFinished(err error) {
	h.mu.Lock()
	h.Running = false
	h.Finished = true
	if err != nil {
		h.Failed = err.Error()
	}
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

// CheckSQLite pings the journal database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.JournalOK = err == nil
	h.JournalLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	switch {
	case h.Failed != "":
		overallStatus = "failed"
		httpCode = http.StatusServiceUnavailable
	case h.Finished:
		overallStatus = "finished"
	case !h.Running:
		overallStatus = "idle"
	}

	progress := 0.0
	if h.StepsTotal > 0 {
		progress = float64(h.StepsDone) / float64(h.StepsTotal) * 100
	}

	lastBar := ""
	if !h.LastBarDate.IsZero() {
		lastBar = h.LastBarDate.Format("2006-01-02")
	}
	lastCheck := ""
	if !h.LastCheckAt.IsZero() {
		lastCheck = h.LastCheckAt.Format(time.RFC3339)
	}

	status := struct {
		Status           string  `json:"status"`
		Uptime           string  `json:"uptime"`
		RunID            string  `json:"run_id"`
		Error            string  `json:"error,omitempty"`
		LastBarDate      string  `json:"last_bar_date"`
		StepsDone        int     `json:"steps_done"`
		StepsTotal       int     `json:"steps_total"`
		ProgressPct      float64 `json:"progress_pct"`
		RedisConnected   bool    `json:"redis_connected"`
		JournalOK        bool    `json:"journal_ok"`
		JournalLatencyMs float64 `json:"journal_latency_ms"`
		LastCheckAt      string  `json:"last_check_at"`
	}{
		Status:           overallStatus,
		Uptime:           time.Since(h.StartedAt).Round(time.Second).String(),
		RunID:            h.RunID,
		Error:            h.Failed,
		LastBarDate:      lastBar,
		StepsDone:        h.StepsDone,
		StepsTotal:       h.StepsTotal,
		ProgressPct:      progress,
		RedisConnected:   h.RedisConnected,
		JournalOK:        h.JournalOK,
		JournalLatencyMs: h.JournalLatencyMs,
		LastCheckAt:      lastCheck,
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server. gatherer defaults to the
// default Prometheus registry when nil.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the server's request multiplexer.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
