// Package writer persists session snapshots off the reconciliation path.
// Snapshots are sharded by session ID so writes for one session are applied
// in the order they were enqueued.
package writer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"payflow/pkg/logging"
	"payflow/pkg/metrics"
	"payflow/pkg/reconcile"
	"payflow/pkg/store"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// SnapshotWriter saves snapshots to a store.Store with a bounded queue per
// worker. A session always maps to the same worker.
type SnapshotWriter struct {
	store   store.Store
	shards  []chan reconcile.Snapshot
	wg      sync.WaitGroup
	config  SnapshotWriterConfig
	metrics metrics.MetricsCollector
	logger  *logging.Logger

	// mu guards closed against concurrent sends on the shard channels.
	mu     sync.RWMutex
	closed bool

	// Statistics (accessed atomically)
	droppedWrites int64
	totalWrites   int64
	failedWrites  int64
	pending       int64

	// Metrics ticker for periodic queue depth reporting
	metricsTicker *time.Ticker
	metricsStop   chan struct{}
}

// SnapshotWriterConfig configures the writer.
type SnapshotWriterConfig struct {
	// QueueSize is the bounded queue size per worker (default: 256)
	QueueSize int `yaml:"queue_size"`

	// Workers is the number of concurrent workers (default: 2)
	Workers int `yaml:"workers"`

	// MaxWaitTime is how long Write waits on a full queue before dropping (default: 10ms)
	MaxWaitTime time.Duration `yaml:"max_wait_time"`

	// SaveTimeout bounds a single store.Save call (default: 2s)
	SaveTimeout time.Duration `yaml:"save_timeout"`
}

// NewSnapshotWriter starts a writer that must be closed with Close().
func NewSnapshotWriter(s store.Store, config SnapshotWriterConfig) *SnapshotWriter {
	return NewSnapshotWriterWithMetrics(s, config, metrics.NoOpCollector{})
}

// NewSnapshotWriterWithMetrics starts a writer reporting to the given collector.
func NewSnapshotWriterWithMetrics(s store.Store, config SnapshotWriterConfig, collector metrics.MetricsCollector) *SnapshotWriter {
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.MaxWaitTime == 0 {
		config.MaxWaitTime = 10 * time.Millisecond
	}
	if config.SaveTimeout <= 0 {
		config.SaveTimeout = 2 * time.Second
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}

	w := &SnapshotWriter{
		store:         s,
		shards:        make([]chan reconcile.Snapshot, config.Workers),
		config:        config,
		metrics:       collector,
		logger:        logging.Global().Named("writer").With(zap.String("store", s.Name())),
		metricsTicker: time.NewTicker(5 * time.Second),
		metricsStop:   make(chan struct{}),
	}

	for i := range w.shards {
		w.shards[i] = make(chan reconcile.Snapshot, config.QueueSize)
		w.wg.Add(1)
		go w.worker(w.shards[i])
	}

	go w.reportMetrics()

	return w
}

func (w *SnapshotWriter) shardFor(sessionID string) chan reconcile.Snapshot {
	return w.shards[xxhash.Sum64String(sessionID)%uint64(len(w.shards))]
}

// Write enqueues snap. If the session's queue is full it waits up to
// MaxWaitTime and then drops the write with ErrQueueFull.
func (w *SnapshotWriter) Write(ctx context.Context, snap reconcile.Snapshot) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWriterClosed
	}

	queue := w.shardFor(snap.SessionID)
	atomic.AddInt64(&w.pending, 1)

	select {
	case queue <- snap:
		atomic.AddInt64(&w.totalWrites, 1)
		return nil
	default:
	}

	timer := time.NewTimer(w.config.MaxWaitTime)
	defer timer.Stop()

	select {
	case queue <- snap:
		atomic.AddInt64(&w.totalWrites, 1)
		return nil
	case <-timer.C:
		atomic.AddInt64(&w.pending, -1)
		atomic.AddInt64(&w.droppedWrites, 1)
		w.metrics.RecordWriteDropped()
		w.logger.Warn("snapshot write dropped",
			logging.SessionID(snap.SessionID),
			logging.Status(string(snap.Status)),
		)
		return ErrQueueFull
	case <-ctx.Done():
		atomic.AddInt64(&w.pending, -1)
		return ctx.Err()
	}
}

// worker saves snapshots until its queue is closed and drained.
func (w *SnapshotWriter) worker(queue <-chan reconcile.Snapshot) {
	defer w.wg.Done()

	for snap := range queue {
		w.save(snap)
		atomic.AddInt64(&w.pending, -1)
	}
}

func (w *SnapshotWriter) save(snap reconcile.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), w.config.SaveTimeout)
	defer cancel()

	start := time.Now()
	err := w.store.Save(ctx, snap)
	w.metrics.RecordAsyncWrite(err == nil, time.Since(start))

	if err != nil {
		atomic.AddInt64(&w.failedWrites, 1)
		w.logger.Error("snapshot save failed",
			logging.SessionID(snap.SessionID),
			zap.Error(err),
		)
	}
}

// Flush waits until every accepted write has been saved or timeout elapses.
func (w *SnapshotWriter) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		if atomic.LoadInt64(&w.pending) == 0 {
			return nil
		}

		if time.Now().After(deadline) {
			return ErrFlushTimeout
		}

		time.Sleep(5 * time.Millisecond)
	}
}

// Close stops accepting writes, saves everything already queued and waits
// for the workers. Calling Close more than once is safe.
func (w *SnapshotWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for _, queue := range w.shards {
		close(queue)
	}
	w.mu.Unlock()

	close(w.metricsStop)
	w.metricsTicker.Stop()

	w.wg.Wait()
	return nil
}

func (w *SnapshotWriter) queueDepth() int {
	depth := 0
	for _, queue := range w.shards {
		depth += len(queue)
	}
	return depth
}

// reportMetrics periodically reports queue depth.
func (w *SnapshotWriter) reportMetrics() {
	for {
		select {
		case <-w.metricsTicker.C:
			w.metrics.RecordQueueDepth(w.queueDepth())
		case <-w.metricsStop:
			return
		}
	}
}

// Stats returns current statistics about the writer.
func (w *SnapshotWriter) Stats() SnapshotWriterStats {
	return SnapshotWriterStats{
		QueueDepth:    w.queueDepth(),
		DroppedWrites: atomic.LoadInt64(&w.droppedWrites),
		TotalWrites:   atomic.LoadInt64(&w.totalWrites),
		FailedWrites:  atomic.LoadInt64(&w.failedWrites),
	}
}
