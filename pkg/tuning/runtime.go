// Package tuning holds process-wide runtime knobs and the ingest rate
// limiter guarding the write path.
package tuning

import (
	"log/slog"
	"runtime"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// RuntimeConfig holds GOMAXPROCS and ingest-rate tuning.
type RuntimeConfig struct {
	MaxProcs        int
	IngestRateLimit float64 // lines/sec
	IngestRateBurst int
}

// DefaultRuntimeConfig returns conservative defaults suitable for a small
// deployment.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		MaxProcs:        2,
		IngestRateLimit: 20_000,
		IngestRateBurst: 5_000,
	}
}

// ApplyGOMAXPROCS pins GOMAXPROCS to cfg.MaxProcs and returns the previous
// value.
func ApplyGOMAXPROCS(cfg *RuntimeConfig, logger *slog.Logger) int {
	prev := runtime.GOMAXPROCS(cfg.MaxProcs)
	logger.Info("GOMAXPROCS configured",
		"previous", prev,
		"current", cfg.MaxProcs,
		"num_cpu", runtime.NumCPU(),
	)
	return prev
}

// IngestLimiter wraps a token-bucket rate limiter guarding the ingest
// endpoint, plus counters for observability.
type IngestLimiter struct {
	limiter *rate.Limiter
	logger  *slog.Logger

	allowed atomic.Int64
	denied  atomic.Int64
}

// NewIngestLimiter constructs an IngestLimiter from cfg.
func NewIngestLimiter(cfg *RuntimeConfig, logger *slog.Logger) *IngestLimiter {
	return &IngestLimiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.IngestRateLimit), cfg.IngestRateBurst),
		logger:  logger,
	}
}

// Allow reports whether a single line may be accepted right now.
func (l *IngestLimiter) Allow() bool {
	if l.limiter.Allow() {
		l.allowed.Add(1)
		return true
	}
	l.denied.Add(1)
	return false
}

// Metrics reports limiter counters for the debug/health surface.
func (l *IngestLimiter) Metrics() map[string]any {
	return map[string]any{
		"allowed": l.allowed.Load(),
		"denied":  l.denied.Load(),
		"limit":   float64(l.limiter.Limit()),
		"burst":   l.limiter.Burst(),
	}
}
