package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/stream-stt-service/internal/segment"
)

// Transcriber turns a completed speech segment into text. Implementations run
// on dispatcher workers and must be safe for concurrent use.
type Transcriber interface {
	Transcribe(ctx context.Context, jobID string, seg *segment.Segment) (string, error)
}

// Result is the outcome of transcribing one segment. Err is set when the
// engine failed after retries; Text is empty in that case and the job treats
// the segment as an empty placeholder.
type Result struct {
	JobID    string
	Segment  *segment.Segment
	Text     string
	Err      error
	Duration time.Duration
}

// Dispatcher routes segments to a bounded pool of transcription workers
// shared across jobs. Completions may arrive in any order; a per-job barrier
// delivers results to the job's sink in strict submission order, which is the
// mechanism behind the recording-order transcript guarantee.
type Dispatcher struct {
	transcriber Transcriber
	queue       chan task
	logger      *slog.Logger

	jobs map[string]*jobBarrier
	mu   sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Statistics
	submitted uint64
	delivered uint64
	failed    uint64
}

// DispatcherStats represents dispatcher statistics for monitoring
type DispatcherStats struct {
	QueueDepth     int    `json:"queue_depth"`
	RegisteredJobs int    `json:"registered_jobs"`
	Submitted      uint64 `json:"submitted"`
	Delivered      uint64 `json:"delivered"`
	Failed         uint64 `json:"failed"`
}

type task struct {
	jobID string
	seg   *segment.Segment
}

// jobBarrier buffers out-of-order completions for one job and applies them to
// the sink in ascending segment index order.
type jobBarrier struct {
	sink      func(Result)
	next      int
	pending   map[int]Result
	submitted int
	delivered int
	waiters   []chan struct{}
	mu        sync.Mutex
}

// NewDispatcher creates a dispatcher with the given worker pool size and
// submission queue capacity, and starts its workers.
func NewDispatcher(transcriber Transcriber, workers, queueSize int, logger *slog.Logger) (*Dispatcher, error) {
	if workers < 1 {
		return nil, fmt.Errorf("workers must be at least 1, got %d", workers)
	}

	if queueSize < 1 {
		return nil, fmt.Errorf("queue size must be at least 1, got %d", queueSize)
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		transcriber: transcriber,
		queue:       make(chan task, queueSize),
		logger:      logger,
		jobs:        make(map[string]*jobBarrier),
		ctx:         ctx,
		cancel:      cancel,
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	return d, nil
}

// Register attaches a result sink for a job. The sink receives results in
// strict segment index order. Must be called before the first Submit for the
// job.
func (d *Dispatcher) Register(jobID string, sink func(Result)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.jobs[jobID]; exists {
		return fmt.Errorf("job %s already registered", jobID)
	}

	d.jobs[jobID] = &jobBarrier{
		sink:    sink,
		pending: make(map[int]Result),
	}

	return nil
}

// Submit enqueues a segment for transcription. It returns once the segment is
// queued; when the bounded queue is full the call blocks until space frees up
// or ctx is cancelled, which is the backpressure protecting the worker pool.
func (d *Dispatcher) Submit(ctx context.Context, jobID string, seg *segment.Segment) error {
	d.mu.Lock()
	barrier, exists := d.jobs[jobID]
	if !exists {
		d.mu.Unlock()
		return fmt.Errorf("job %s not registered", jobID)
	}
	d.submitted++
	d.mu.Unlock()

	barrier.mu.Lock()
	barrier.submitted++
	barrier.mu.Unlock()

	select {
	case d.queue <- task{jobID: jobID, seg: seg}:
		return nil
	case <-ctx.Done():
		// The slot was reserved above; release it so Drain does not hang
		d.deliver(jobID, barrier, Result{
			JobID:   jobID,
			Segment: seg,
			Err:     fmt.Errorf("submission cancelled: %w", ctx.Err()),
		})
		return ctx.Err()
	case <-d.ctx.Done():
		d.deliver(jobID, barrier, Result{
			JobID:   jobID,
			Segment: seg,
			Err:     fmt.Errorf("dispatcher stopped"),
		})
		return fmt.Errorf("dispatcher stopped")
	}
}

// Drain blocks until every submitted segment for the job has been delivered
// through the barrier, or ctx is cancelled. Used by finalize before
// summarization so no segment is lost.
func (d *Dispatcher) Drain(ctx context.Context, jobID string) error {
	d.mu.Lock()
	barrier, exists := d.jobs[jobID]
	d.mu.Unlock()

	if !exists {
		return nil
	}

	barrier.mu.Lock()
	if barrier.delivered == barrier.submitted {
		barrier.mu.Unlock()
		return nil
	}

	waiter := make(chan struct{})
	barrier.waiters = append(barrier.waiters, waiter)
	barrier.mu.Unlock()

	select {
	case <-waiter:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Forget removes barrier state for a job. Pending results for the job are
// discarded; call only after Drain or when tearing a job down.
func (d *Dispatcher) Forget(jobID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.jobs, jobID)
}

// Stop shuts the worker pool down and waits for in-flight transcriptions
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
}

// GetStats returns current dispatcher statistics
func (d *Dispatcher) GetStats() DispatcherStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	return DispatcherStats{
		QueueDepth:     len(d.queue),
		RegisteredJobs: len(d.jobs),
		Submitted:      d.submitted,
		Delivered:      d.delivered,
		Failed:         d.failed,
	}
}

// QueueDepth returns the number of segments waiting for a worker
func (d *Dispatcher) QueueDepth() int {
	return len(d.queue)
}

// worker pulls tasks off the shared queue and transcribes them
func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case t := <-d.queue:
			d.process(id, t)
		}
	}
}

// process transcribes one segment and routes the result through the barrier
func (d *Dispatcher) process(workerID int, t task) {
	d.mu.Lock()
	barrier, exists := d.jobs[t.jobID]
	d.mu.Unlock()

	if !exists {
		// Job was torn down while the segment sat in the queue
		d.logger.Warn("Dropping segment for removed job",
			slog.String("job_id", t.jobID),
			slog.Int("segment_index", t.seg.Index),
		)
		return
	}

	startTime := time.Now()
	text, err := d.transcriber.Transcribe(d.ctx, t.jobID, t.seg)
	duration := time.Since(startTime)

	if err != nil {
		d.mu.Lock()
		d.failed++
		d.mu.Unlock()

		d.logger.Error("Segment transcription failed",
			slog.String("job_id", t.jobID),
			slog.Int("segment_index", t.seg.Index),
			slog.Int("worker", workerID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
	} else {
		d.logger.Debug("Segment transcribed",
			slog.String("job_id", t.jobID),
			slog.Int("segment_index", t.seg.Index),
			slog.Int("worker", workerID),
			slog.Duration("duration", duration),
		)
	}

	d.deliver(t.jobID, barrier, Result{
		JobID:    t.jobID,
		Segment:  t.seg,
		Text:     text,
		Err:      err,
		Duration: duration,
	})
}

// deliver buffers the result and flushes every result that is now in order
func (d *Dispatcher) deliver(jobID string, barrier *jobBarrier, res Result) {
	barrier.mu.Lock()
	defer barrier.mu.Unlock()

	barrier.pending[res.Segment.Index] = res

	for {
		next, ok := barrier.pending[barrier.next]
		if !ok {
			break
		}
		delete(barrier.pending, barrier.next)
		barrier.next++
		barrier.delivered++

		d.mu.Lock()
		d.delivered++
		d.mu.Unlock()

		barrier.sink(next)
	}

	if barrier.delivered == barrier.submitted && len(barrier.waiters) > 0 {
		for _, w := range barrier.waiters {
			close(w)
		}
		barrier.waiters = nil
	}
}
