package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// defaultStaleAfter marks the feed stale when nothing has arrived for this long.
const defaultStaleAfter = 30 * time.Second

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected   bool
	LastObservation time.Time
	IndicatorsWarm  bool
	PositionOpen    bool
	PositionSide    string
	RedisEnabled    bool
	RedisConnected  bool
	SQLiteOK        bool

	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time

	// StaleAfter is the observation age beyond which the feed counts as stale.
	StaleAfter time.Duration
	now        func() time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt:  time.Now(),
		StaleAfter: defaultStaleAfter,
		SQLiteOK:   true,
		now:        time.Now,
	}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastObservation(t time.Time) {
	h.mu.Lock()
	h.LastObservation = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetIndicatorsWarm(v bool) {
	h.mu.Lock()
	h.IndicatorsWarm = v
	h.mu.Unlock()
}

// SetPosition records the coordinator's position state. side is empty when flat.
func (h *HealthStatus) SetPosition(open bool, side string) {
	h.mu.Lock()
	h.PositionOpen = open
	h.PositionSide = side
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisEnabled(v bool) {
	h.mu.Lock()
	h.RedisEnabled = v
	h.RedisConnected = v
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

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Either client may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
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
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

type healthReport struct {
	Status          string  `json:"status"`
	Uptime          string  `json:"uptime"`
	FeedConnected   bool    `json:"feed_connected"`
	LastObservation string  `json:"last_observation,omitempty"`
	ObservationAge  string  `json:"observation_age,omitempty"`
	IndicatorsWarm  bool    `json:"indicators_warm"`
	PositionOpen    bool    `json:"position_open"`
	PositionSide    string  `json:"position_side,omitempty"`
	RedisConnected  bool    `json:"redis_connected"`
	RedisLatencyMs  float64 `json:"redis_latency_ms"`
	SQLiteOK        bool    `json:"sqlite_ok"`
	SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
}

func (h *HealthStatus) report() (healthReport, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := h.now()
	status := "healthy"
	code := http.StatusOK

	stale := h.LastObservation.IsZero() || now.Sub(h.LastObservation) > h.StaleAfter
	redisDown := h.RedisEnabled && !h.RedisConnected
	if !h.FeedConnected || stale || redisDown || !h.SQLiteOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if !h.FeedConnected && stale {
		status = "unhealthy"
	}

	r := healthReport{
		Status:          status,
		Uptime:          now.Sub(h.StartedAt).Round(time.Second).String(),
		FeedConnected:   h.FeedConnected,
		IndicatorsWarm:  h.IndicatorsWarm,
		PositionOpen:    h.PositionOpen,
		PositionSide:    h.PositionSide,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
	}
	if !h.LastObservation.IsZero() {
		r.LastObservation = h.LastObservation.UTC().Format(time.RFC3339)
		r.ObservationAge = now.Sub(h.LastObservation).Round(time.Millisecond).String()
	}
	return r, code
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report, code := h.report()
	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(report)
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
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
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
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
