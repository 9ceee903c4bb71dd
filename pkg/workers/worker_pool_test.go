package workers

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"streamtally/pkg/tokenizer"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeAggregator records every IngestBatch call for assertions.
type fakeAggregator struct {
	mu    sync.Mutex
	total map[string]int64
	calls int
}

func newFakeAggregator() *fakeAggregator {
	return &fakeAggregator{total: make(map[string]int64)}
}

func (f *fakeAggregator) IngestBatch(counts map[string]int64, tsMS int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	for w, c := range counts {
		f.total[w] += c
	}
}

func TestPoolBasicIngest(t *testing.T) {
	agg := newFakeAggregator()
	cfg := &Config{WorkerCount: 2, QueueSize: 100, BatchSize: 3, MinTokenLen: 3}
	pool := NewPool(cfg, tokenizer.New(nil), agg, testLogger())
	pool.Start()

	lines := []string{
		"[0:00:00] alpha alpha",
		"[0:00:00] alpha beta",
		"[0:00:01] beta beta",
	}
	for _, l := range lines {
		if err := pool.PushTask(l); err != nil {
			t.Fatalf("PushTask: %v", err)
		}
	}

	pool.StopAndWait()

	agg.mu.Lock()
	defer agg.mu.Unlock()
	if agg.total["alpha"] != 3 {
		t.Errorf("alpha = %d, want 3", agg.total["alpha"])
	}
	if agg.total["beta"] != 3 {
		t.Errorf("beta = %d, want 3", agg.total["beta"])
	}
}

func TestPoolDrainsRemainingOnShutdown(t *testing.T) {
	agg := newFakeAggregator()
	cfg := &Config{WorkerCount: 1, QueueSize: 1000, BatchSize: 100, MinTokenLen: 3}
	pool := NewPool(cfg, tokenizer.New(nil), agg, testLogger())
	pool.Start()

	for i := 0; i < 7; i++ {
		if err := pool.PushTask("[0:00:00] alpha"); err != nil {
			t.Fatalf("PushTask: %v", err)
		}
	}

	pool.StopAndWait()

	agg.mu.Lock()
	defer agg.mu.Unlock()
	if agg.total["alpha"] != 7 {
		t.Errorf("alpha = %d, want 7 (partial batch must flush on drain)", agg.total["alpha"])
	}
}

func TestPoolMalformedLinesDropped(t *testing.T) {
	agg := newFakeAggregator()
	cfg := &Config{WorkerCount: 1, QueueSize: 100, BatchSize: 5, MinTokenLen: 3}
	pool := NewPool(cfg, tokenizer.New(nil), agg, testLogger())
	pool.Start()

	_ = pool.PushTask("no tag at all")
	_ = pool.PushTask("[bad:tag] alpha")
	_ = pool.PushTask("[0:00:00] alpha")

	pool.StopAndWait()

	agg.mu.Lock()
	defer agg.mu.Unlock()
	if agg.total["alpha"] != 1 {
		t.Errorf("alpha = %d, want 1", agg.total["alpha"])
	}
}

func TestPoolRejectsAfterStop(t *testing.T) {
	agg := newFakeAggregator()
	cfg := DefaultConfig()
	pool := NewPool(cfg, tokenizer.New(nil), agg, testLogger())
	pool.Start()
	pool.StopAndWait()

	if err := pool.PushTask("[0:00:00] alpha"); err != ErrPoolStopped {
		t.Errorf("PushTask after stop = %v, want ErrPoolStopped", err)
	}
}

func TestPoolQueueFull(t *testing.T) {
	agg := newFakeAggregator()
	cfg := &Config{WorkerCount: 0, QueueSize: 1, BatchSize: 10, MinTokenLen: 3}
	pool := NewPool(cfg, tokenizer.New(nil), agg, testLogger())
	// No workers started: queue fills after one push.
	if err := pool.PushTask("[0:00:00] alpha"); err != nil {
		t.Fatalf("first PushTask: %v", err)
	}
	if err := pool.PushTask("[0:00:00] beta"); err != ErrQueueFull {
		t.Errorf("second PushTask = %v, want ErrQueueFull", err)
	}
	close(pool.queue)
}

func TestPoolConcurrentProducers(t *testing.T) {
	agg := newFakeAggregator()
	cfg := &Config{WorkerCount: 4, QueueSize: 10000, BatchSize: 10, MinTokenLen: 3}
	pool := NewPool(cfg, tokenizer.New(nil), agg, testLogger())
	pool.Start()

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				for {
					if err := pool.PushTask("[0:00:00] alpha"); err == nil {
						break
					}
					time.Sleep(time.Millisecond)
				}
			}
		}()
	}
	wg.Wait()
	pool.StopAndWait()

	agg.mu.Lock()
	defer agg.mu.Unlock()
	if agg.total["alpha"] != 400 {
		t.Errorf("alpha = %d, want 400", agg.total["alpha"])
	}
}
