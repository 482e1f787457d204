package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the indicator runtime.
type Metrics struct {
	TicksTotal   prometheus.Counter
	OutputsTotal prometheus.Counter
	WSReconnects prometheus.Counter
	DroppedTicks prometheus.Counter

	StepDur       prometheus.Histogram
	RedisWriteDur prometheus.Histogram
	SnapshotDur   prometheus.Histogram

	SnapshotsTotal prometheus.Counter
	RestoresTotal  prometheus.Counter
	LastEventIndex prometheus.Gauge

	// Ring buffer overflow
	RingBufOverflow prometheus.Counter

	// PEL reclaim
	PELMessagesReclaimed prometheus.Counter

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taengine_ticks_total",
			Help: "Total ticks consumed from the input stream",
		}),
		OutputsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taengine_outputs_total",
			Help: "Total per-node indicator outputs produced",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taengine_ws_reconnects_total",
			Help: "Total WebSocket reconnection attempts",
		}),
		DroppedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taengine_dropped_ticks_total",
			Help: "Ticks dropped because the ingest channel was full",
		}),
		StepDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taengine_step_duration_seconds",
			Help:    "Incremental backend step latency per tick",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		}),
		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taengine_redis_write_duration_seconds",
			Help:    "Redis write latency",
			Buckets: prometheus.DefBuckets,
		}),
		SnapshotDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taengine_snapshot_duration_seconds",
			Help:    "Snapshot encode and persist latency",
			Buckets: prometheus.DefBuckets,
		}),
		SnapshotsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taengine_snapshots_total",
			Help: "Snapshots persisted to the checkpoint store",
		}),
		RestoresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taengine_restores_total",
			Help: "Successful snapshot restores at startup",
		}),
		LastEventIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taengine_last_event_index",
			Help: "Event index of the most recently processed tick",
		}),
		RingBufOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taengine_ringbuf_overflow_total",
			Help: "Ring buffer push overflows (dropped ticks)",
		}),
		PELMessagesReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taengine_pel_messages_reclaimed_total",
			Help: "Messages reclaimed from dead consumers via XCLAIM",
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taengine_redis_buffered_writes_total",
			Help: "Writes buffered locally during Redis circuit breaker open state",
		}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.OutputsTotal,
		m.WSReconnects,
		m.DroppedTicks,
		m.StepDur,
		m.RedisWriteDur,
		m.SnapshotDur,
		m.SnapshotsTotal,
		m.RestoresTotal,
		m.LastEventIndex,
		m.RingBufOverflow,
		m.PELMessagesReclaimed,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	WSConnected    bool      `json:"ws_connected"`
	LastTickTime   time.Time `json:"last_tick_time"`
	RedisConnected bool      `json:"redis_connected"`
	BackendOK      bool      `json:"backend_ok"`

	RedisLatencyMs float64   `json:"redis_latency_ms"`
	LastCheckAt    time.Time `json:"last_check_at"`
	StartedAt      time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.WSConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetBackendOK(v bool) {
	h.mu.Lock()
	h.BackendOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.WSConnected || !h.RedisConnected {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.BackendOK {
		overallStatus = "unhealthy"
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status         string  `json:"status"`
		Uptime         string  `json:"uptime"`
		WSConnected    bool    `json:"ws_connected"`
		LastTickTime   string  `json:"last_tick_time"`
		TickAge        string  `json:"tick_age"`
		RedisConnected bool    `json:"redis_connected"`
		RedisLatencyMs float64 `json:"redis_latency_ms"`
		BackendOK      bool    `json:"backend_ok"`
		LastCheckAt    string  `json:"last_check_at"`
	}{
		Status:         overallStatus,
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		WSConnected:    h.WSConnected,
		LastTickTime:   h.LastTickTime.Format(time.RFC3339),
		TickAge:        tickAge,
		RedisConnected: h.RedisConnected,
		RedisLatencyMs: h.RedisLatencyMs,
		BackendOK:      h.BackendOK,
		LastCheckAt:    h.LastCheckAt.Format(time.RFC3339),
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

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

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
