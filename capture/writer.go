package capture

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phonesplat/capture/logger"
)

// Writer pool defaults.
const (
	DefaultQueueSize = 256
	DefaultWorkers   = 2

	// drainPollInterval is how often Drain re-checks the pending count.
	drainPollInterval = 100 * time.Millisecond
)

// ErrWriterClosed is returned by Enqueue after Close.
var ErrWriterClosed = errors.New("capture: writer closed")

// writeJob is one queued image write.
type writeJob struct {
	path string
	data []byte
}

// Writer persists image blobs on a pool of background workers so the network
// receive path never blocks on disk I/O. Items are independent: a failed
// write is logged and does not affect other queued items, and workers may
// complete writes in any order (files are named by timestamp).
type Writer struct {
	queue   chan writeJob
	pending atomic.Int64
	wg      sync.WaitGroup

	// mu guards closed and serializes Enqueue sends against the channel
	// close in Close.
	mu     sync.RWMutex
	closed bool
}

// NewWriter starts a writer pool. Non-positive sizes fall back to the
// defaults.
func NewWriter(queueSize, workers int) *Writer {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}

	w := &Writer{
		queue: make(chan writeJob, queueSize),
	}
	for i := 0; i < workers; i++ {
		w.wg.Add(1)
		go w.worker()
	}
	return w
}

func (w *Writer) worker() {
	defer w.wg.Done()
	for job := range w.queue {
		if err := os.WriteFile(job.path, job.data, 0600); err != nil {
			logger.WriteFailed(job.path, err)
		}
		w.pending.Add(-1)
	}
}

// Enqueue admits one image write. It blocks only on queue admission; once the
// queue has room the caller proceeds immediately while a worker performs the
// write. Returns ErrWriterClosed after Close.
func (w *Writer) Enqueue(path string, data []byte) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return ErrWriterClosed
	}
	w.pending.Add(1)
	w.queue <- writeJob{path: path, data: data}
	return nil
}

// Pending reports the number of queued plus in-flight writes.
func (w *Writer) Pending() int {
	return int(w.pending.Load())
}

// Drain blocks until the pending count is observed at zero, polling rather
// than waiting on a completion signal. This is a liveness best-effort: an
// item enqueued concurrently with Drain may or may not be covered.
func (w *Writer) Drain(ctx context.Context) error {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for {
		if w.Pending() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close closes the queue and joins the workers, bounded by ctx. Items
// enqueued before Close are still written: workers keep ranging over the
// closed channel until it is empty. Close is idempotent.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
