// Package service wires the tokenizer, the ingest worker pool and the
// aggregator into a single object the HTTP handlers depend on.
package service

import (
	"context"
	"errors"
	"log/slog"

	"streamtally/pkg/aggregator"
	"streamtally/pkg/config"
	"streamtally/pkg/tokenizer"
	"streamtally/pkg/tuning"
	"streamtally/pkg/workers"
)

// ErrBackpressure is returned by Ingest when the rate limiter rejects a
// line; the caller was never enqueued.
var ErrBackpressure = errors.New("service: ingest rate limit exceeded")

// Service owns the tokenizer, worker pool and aggregator for the lifetime of
// the process.
type Service struct {
	cfg    *config.Config
	logger *slog.Logger

	tok     tokenizer.Tokenizer
	pool    *workers.Pool
	agg     *aggregator.Aggregator
	limiter *tuning.IngestLimiter
}

// New constructs a Service and starts its worker pool. The default
// RuneTokenizer is built without a failure path and every other step
// recovers or degrades, so the returned error is always nil.
func New(cfg *config.Config, logger *slog.Logger) (*Service, error) {
	tok := tokenizer.New(cfg.DictionaryPaths)

	agg := aggregator.New(cfg.WindowMS, logger)

	workerCfg := &workers.Config{
		WorkerCount: cfg.NumThreads,
		QueueSize:   cfg.QueueSize,
		BatchSize:   cfg.BatchSize,
		MinTokenLen: cfg.TokenMinLen,
	}
	pool := workers.NewPool(workerCfg, tok, agg, logger)

	rtCfg := tuning.DefaultRuntimeConfig()
	if cfg.MaxProcs > 0 {
		rtCfg.MaxProcs = cfg.MaxProcs
	}
	if cfg.IngestRateLimit > 0 {
		rtCfg.IngestRateLimit = cfg.IngestRateLimit
	}
	if cfg.IngestRateBurst > 0 {
		rtCfg.IngestRateBurst = cfg.IngestRateBurst
	}
	tuning.ApplyGOMAXPROCS(rtCfg, logger)
	limiter := tuning.NewIngestLimiter(rtCfg, logger)

	s := &Service{
		cfg:     cfg,
		logger:  logger,
		tok:     tok,
		pool:    pool,
		agg:     agg,
		limiter: limiter,
	}

	pool.Start()

	logger.Info("streamtally service initialized",
		"num_threads", cfg.NumThreads,
		"batch_size", cfg.BatchSize,
		"window_ms", cfg.WindowMS,
	)

	return s, nil
}

// IsReady reports whether the service can accept ingest traffic.
func (s *Service) IsReady() bool {
	return s.pool != nil && s.agg != nil
}

// Ingest enqueues a single raw line, subject to the ingest rate limiter. The
// line is only acknowledged as enqueued: whether it is later dropped as
// malformed is not reported back to the caller, per the queue-is-the-
// commitment-boundary design.
func (s *Service) Ingest(line string) error {
	if !s.limiter.Allow() {
		return ErrBackpressure
	}
	if err := s.pool.PushTask(line); err != nil {
		return err
	}
	return nil
}

// QueueUtilization reports the ingest queue's current occupancy, logged and
// returned in the body of a rejected request.
func (s *Service) QueueUtilization() float64 {
	return s.pool.QueueUtilization()
}

// TopK answers Q1.
func (s *Service) TopK(k int) []aggregator.Entry {
	return s.agg.GetTopK(k)
}

// WindowTopK answers Q2.
func (s *Service) WindowTopK(k int) []aggregator.Entry {
	return s.agg.GetLast10MinTopK(k)
}

// RangeTopK answers Q3.
func (s *Service) RangeTopK(startMS, endMS int64, k int) []aggregator.Entry {
	return s.agg.GetTopKInTimeRange(startMS, endMS, k)
}

// Trending answers Q4.
func (s *Service) Trending(k int, minThreshold int64) []aggregator.TrendEntry {
	return s.agg.GetTrending(k, minThreshold)
}

// Debug returns aggregator and pool introspection counters.
func (s *Service) Debug() (aggregator.DebugSnapshot, map[string]any) {
	return s.agg.Debug(), s.pool.Metrics()
}

// Shutdown drains the worker pool: when it returns nil, every buffered line
// has been processed and flushed. If ctx expires first it returns ctx.Err()
// while the drain continues in the background.
func (s *Service) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down streamtally service")

	done := make(chan struct{})
	go func() {
		s.pool.StopAndWait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("streamtally service shutdown completed")
		return nil
	case <-ctx.Done():
		s.logger.Warn("shutdown context expired before worker pool drained")
		return ctx.Err()
	}
}

// GetMetrics aggregates pool, aggregator and limiter counters for the
// operational surface.
func (s *Service) GetMetrics() map[string]any {
	metrics := map[string]any{}
	for k, v := range s.pool.Metrics() {
		metrics["pool_"+k] = v
	}
	for k, v := range s.limiter.Metrics() {
		metrics["ingest_rate_"+k] = v
	}
	dbg := s.agg.Debug()
	metrics["aggregator_bucket_count"] = dbg.BucketCount
	metrics["aggregator_global_token_count"] = dbg.GlobalTokenCount
	metrics["aggregator_window_token_count"] = dbg.WindowTokenCount
	metrics["aggregator_latest_bucket_ms"] = dbg.LatestBucketMS
	return metrics
}
