// Package workers implements the ingest worker pool: a fixed-size pool of
// goroutines draining a single MPSC task queue of raw lines, each
// maintaining a local per-bucket frequency accumulator that it flushes to
// the aggregator in batches.
package workers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"streamtally/pkg/tagparse"
	"streamtally/pkg/tokenizer"
)

// Aggregator is the subset of *aggregator.Aggregator the pool depends on,
// kept as an interface so the pool can be tested without constructing a
// real aggregator.
type Aggregator interface {
	IngestBatch(localCounts map[string]int64, tsMS int64)
}

// Config holds worker pool tuning knobs.
type Config struct {
	WorkerCount int
	QueueSize   int
	BatchSize   int
	MinTokenLen int // byte length filter; > this many bytes survives
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() *Config {
	return &Config{
		WorkerCount: 8,
		QueueSize:   10000,
		BatchSize:   10,
		MinTokenLen: 3,
	}
}

// Pool is the fixed-size ingest worker pool. Its lifecycle is
// Constructed -> Running -> Draining -> Joined, matching the state machine
// of the streaming aggregation engine's worker pool.
type Pool struct {
	cfg        *Config
	queue      chan string
	tok        tokenizer.Tokenizer
	agg        Aggregator
	logger     *slog.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	stopped    atomic.Bool
	started    atomic.Bool
	linesTaken atomic.Int64
	batches    atomic.Int64
}

// NewPool constructs a Pool. It does not start any goroutines; call Start.
func NewPool(cfg *Config, tok tokenizer.Tokenizer, agg Aggregator, logger *slog.Logger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:    cfg,
		queue:  make(chan string, cfg.QueueSize),
		tok:    tok,
		agg:    agg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches cfg.WorkerCount goroutines, each running an independent
// drain-tokenize-accumulate-flush loop.
func (p *Pool) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	p.logger.Info("starting ingest worker pool",
		"worker_count", p.cfg.WorkerCount,
		"queue_size", p.cfg.QueueSize,
		"batch_size", p.cfg.BatchSize,
	)
	for i := 0; i < p.cfg.WorkerCount; i++ {
		p.wg.Add(1)
		go p.runWorker(i)
	}
}

// PushTask enqueues a raw line. It is non-blocking: if the queue is full it
// returns ErrQueueFull rather than blocking the caller.
func (p *Pool) PushTask(line string) error {
	if p.stopped.Load() {
		return ErrPoolStopped
	}
	select {
	case p.queue <- line:
		return nil
	case <-p.ctx.Done():
		return ErrPoolStopped
	default:
		return ErrQueueFull
	}
}

// StopAndWait closes the task queue, letting every worker drain whatever
// remains buffered, flush its local accumulator, and exit, then joins all
// workers. After it returns, no further aggregator mutation occurs from
// this pool.
func (p *Pool) StopAndWait() {
	if !p.stopped.CompareAndSwap(false, true) {
		p.wg.Wait()
		return
	}
	p.logger.Info("draining ingest worker pool")
	close(p.queue)
	p.wg.Wait()
	p.cancel()
	p.logger.Info("ingest worker pool joined",
		"lines_taken", p.linesTaken.Load(),
		"batches_flushed", p.batches.Load(),
	)
}

// QueueUtilization returns the current queue occupancy in [0,1].
func (p *Pool) QueueUtilization() float64 {
	return float64(len(p.queue)) / float64(cap(p.queue))
}

// Metrics returns pool-level counters for the debug/health surface.
func (p *Pool) Metrics() map[string]any {
	return map[string]any{
		"worker_count":      p.cfg.WorkerCount,
		"lines_taken":       p.linesTaken.Load(),
		"batches_flushed":   p.batches.Load(),
		"queue_utilization": p.QueueUtilization(),
		"queue_size":        len(p.queue),
		"queue_capacity":    cap(p.queue),
	}
}

// runWorker is a single worker's main loop: pop, filter, accumulate,
// batch-flush. It never abandons items still in the (now closed) queue.
func (p *Pool) runWorker(id int) {
	defer p.wg.Done()

	acc := make(map[int64]map[string]int64)
	count := 0

	flush := func() {
		for bucketMS, counts := range acc {
			if len(counts) == 0 {
				continue
			}
			p.agg.IngestBatch(counts, bucketMS)
			p.batches.Add(1)
		}
		acc = make(map[int64]map[string]int64)
		count = 0
	}

	for line := range p.queue {
		p.linesTaken.Add(1)
		p.accumulate(acc, line)
		count++
		if count >= p.cfg.BatchSize {
			flush()
		}
	}

	// Queue closed: flush whatever remains before exiting.
	flush()
	p.logger.Debug("ingest worker exited", "worker_id", id)
}

// accumulate extracts the tag, parses the timestamp, tokenizes the body, and
// applies the length/control-token filter, incrementing acc in place.
// Malformed lines are dropped silently.
func (p *Pool) accumulate(acc map[int64]map[string]int64, line string) {
	ms, body, err := tagparse.ExtractMillis(line)
	if err != nil {
		return
	}
	bucketMS := (ms / 1000) * 1000

	bucket, ok := acc[bucketMS]
	if !ok {
		bucket = make(map[string]int64)
		acc[bucketMS] = bucket
	}

	for _, w := range p.tok.Split(body) {
		if len(w) <= p.cfg.MinTokenLen || w == "\r" || w == "\n" {
			continue
		}
		bucket[w]++
	}
}

// Error definitions.
var (
	ErrQueueFull   = errors.New("workers: task queue is full")
	ErrPoolStopped = errors.New("workers: pool is stopped")
)
