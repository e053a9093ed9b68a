package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics holds all Prometheus metrics for the analyzer.
type Metrics struct {
	CandlesTotal  *prometheus.CounterVec // labels: tf
	PointsTotal   *prometheus.CounterVec // labels: tf
	CrossingTotal *prometheus.CounterVec // labels: kind=pump|dump
	PipelineDur   prometheus.Histogram
	AbortedEvents prometheus.Counter
	BufferResets  prometheus.Counter

	// Signals
	SignalsTotal   *prometheus.CounterVec // labels: operation, level
	DroppedSignals prometheus.Counter
	FanoutDrops    *prometheus.CounterVec // labels: subscriber
	SinkErrors     *prometheus.CounterVec // labels: sink

	// Persistence
	SaveDur    *prometheus.HistogramVec // labels: kind=live|historical
	SaveErrors prometheus.Counter

	// Source
	ConsumeErrors prometheus.Counter

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg
// (prometheus.DefaultRegisterer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		CandlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analyzer_candles_total",
			Help: "Confirmed candles processed (by timeframe)",
		}, []string{"tf"}),
		PointsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analyzer_rsi_points_total",
			Help: "RSI points emitted (by timeframe)",
		}, []string{"tf"}),
		CrossingTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analyzer_rsi_crossings_total",
			Help: "Pump/dump crossings flagged",
		}, []string{"kind"}),
		PipelineDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "analyzer_pipeline_duration_seconds",
			Help:    "Indicator pipeline latency per candle",
			Buckets: []float64{0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.05},
		}),
		AbortedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analyzer_aborted_events_total",
			Help: "Candles whose pipeline run was aborted",
		}),
		BufferResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analyzer_buffer_resets_total",
			Help: "Continuity violations that cleared a buffer",
		}),

		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analyzer_signals_total",
			Help: "Signals emitted",
		}, []string{"operation", "level"}),
		DroppedSignals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analyzer_signals_dropped_total",
			Help: "Signals dropped because the engine channel was full",
		}),
		FanoutDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analyzer_fanout_drops_total",
			Help: "Signals dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analyzer_sink_errors_total",
			Help: "Signal delivery failures per sink",
		}, []string{"sink"}),

		SaveDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "analyzer_save_duration_seconds",
			Help:    "Buffer persistence latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		SaveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analyzer_save_errors_total",
			Help: "Failed buffer saves",
		}),

		ConsumeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analyzer_consume_errors_total",
			Help: "Candle source read or decode failures",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "analyzer_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analyzer_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
	}

	reg.MustRegister(
		m.CandlesTotal,
		m.PointsTotal,
		m.CrossingTotal,
		m.PipelineDur,
		m.AbortedEvents,
		m.BufferResets,
		m.SignalsTotal,
		m.DroppedSignals,
		m.FanoutDrops,
		m.SinkErrors,
		m.SaveDur,
		m.SaveErrors,
		m.ConsumeErrors,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	SourceConnected bool      `json:"source_connected"`
	LastCandleTime  time.Time `json:"last_candle_time"`
	RedisConnected  bool      `json:"redis_connected"`
	StoreOK         bool      `json:"store_ok"`
	Series          int       `json:"series"`

	// Liveness probe results
	RedisLatencyMs float64   `json:"redis_latency_ms"`
	StoreLatencyMs float64   `json:"store_latency_ms"`
	LastCheckAt    time.Time `json:"last_check_at"`
	StartedAt      time.Time `json:"started_at"`

	requireRedis bool
	requireStore bool
}

// NewHealthStatus returns a default health status. Only the dependencies
// that are required count towards degraded/unhealthy.
func NewHealthStatus(requireRedis, requireStore bool) *HealthStatus {
	return &HealthStatus{
		StartedAt:    time.Now(),
		requireRedis: requireRedis,
		requireStore: requireStore,
	}
}

func (h *HealthStatus) SetSourceConnected(v bool) {
	h.mu.Lock()
	h.SourceConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastCandleTime(t time.Time) {
	h.mu.Lock()
	h.LastCandleTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetStoreOK(v bool) {
	h.mu.Lock()
	h.StoreOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSeries(n int) {
	h.mu.Lock()
	h.Series = n
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

// CheckStore pings the SQL store and records latency + health.
func (h *HealthStatus) CheckStore(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.StoreOK = err == nil
	h.StoreLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Nil clients are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, db *sql.DB, interval time.Duration) {
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
				if db != nil {
					h.CheckStore(probeCtx, db)
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

	redisDown := h.requireRedis && !h.RedisConnected
	storeDown := h.requireStore && !h.StoreOK
	if !h.SourceConnected || redisDown || storeDown {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.SourceConnected && (redisDown || storeDown) {
		overallStatus = "unhealthy"
	}

	candleAge := ""
	if !h.LastCandleTime.IsZero() {
		candleAge = time.Since(h.LastCandleTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		SourceConnected bool    `json:"source_connected"`
		LastCandleTime  string  `json:"last_candle_time"`
		CandleAge       string  `json:"candle_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		StoreOK         bool    `json:"store_ok"`
		StoreLatencyMs  float64 `json:"store_latency_ms"`
		Series          int     `json:"series"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		SourceConnected: h.SourceConnected,
		LastCandleTime:  h.LastCandleTime.Format(time.RFC3339),
		CandleAge:       candleAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		StoreOK:         h.StoreOK,
		StoreLatencyMs:  h.StoreLatencyMs,
		Series:          h.Series,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics, /healthz and any extra
// handlers registered before Start.
type Server struct {
	health *HealthStatus
	addr   string
	mux    *http.ServeMux
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", health)

	return &Server{
		health: health,
		addr:   addr,
		mux:    mux,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handle registers an additional handler.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Info().Str("addr", s.addr).Msg("metrics server listening")
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
