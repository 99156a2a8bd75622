package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/stream-stt-service/internal/audio"
	"github.com/skypro1111/stream-stt-service/internal/config"
	"github.com/skypro1111/stream-stt-service/internal/dispatch"
	"github.com/skypro1111/stream-stt-service/internal/job"
	"github.com/skypro1111/stream-stt-service/internal/metrics"
	"github.com/skypro1111/stream-stt-service/internal/relay"
	"github.com/skypro1111/stream-stt-service/internal/segment"
	"github.com/skypro1111/stream-stt-service/internal/summary"
	"github.com/skypro1111/stream-stt-service/internal/transcription"
	"github.com/skypro1111/stream-stt-service/internal/vad"
)

// emptySummary is published when a job finishes without any recognized speech
var emptySummary = json.RawMessage("{}")

// Coordinator owns the per-job pipelines: it creates jobs, feeds audio chunks
// through framing, classification, and segmentation, dispatches segments for
// transcription, and drives finalization through summarization to a terminal
// state. It also implements the dispatcher's Transcriber by encoding segments
// to WAV and attaching the job's rolling prompt context.
type Coordinator struct {
	config     *config.Config
	dispatcher *dispatch.Dispatcher
	engine     transcription.Engine
	summarizer summary.Summarizer
	store      job.Store
	metrics    *metrics.Metrics
	logger     *slog.Logger

	sessions map[string]*session
	mu       sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Statistics
	jobsStarted   uint64
	jobsCompleted uint64
	jobsFailed    uint64
	jobsReaped    uint64
}

// CoordinatorStats represents coordinator statistics for monitoring
type CoordinatorStats struct {
	ActiveSessions int    `json:"active_sessions"`
	JobsStarted    uint64 `json:"jobs_started"`
	JobsCompleted  uint64 `json:"jobs_completed"`
	JobsFailed     uint64 `json:"jobs_failed"`
	JobsReaped     uint64 `json:"jobs_reaped"`
}

// promptContextChars caps the transcript tail sent as transcription context
const promptContextChars = 400

// session bundles the per-job pipeline components. The mutex serializes
// chunk ingestion with finalization; dispatcher delivery runs outside it.
type session struct {
	machine     *job.Machine
	frameBuffer *audio.FrameBuffer
	segmenter   *segment.Segmenter
	createdAt   time.Time

	finalizing bool

	// Last observed segmenter counters, for metric deltas
	prevSpeechFrames     uint64
	prevClassifierErrors uint64

	mu sync.Mutex
}

// NewCoordinator creates a coordinator. The store may be nil when durable
// storage is disabled.
func NewCoordinator(
	cfg *config.Config,
	engine transcription.Engine,
	summarizer summary.Summarizer,
	st job.Store,
	m *metrics.Metrics,
	logger *slog.Logger,
) (*Coordinator, error) {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Coordinator{
		config:     cfg,
		engine:     engine,
		summarizer: summarizer,
		store:      st,
		metrics:    m,
		logger:     logger,
		sessions:   make(map[string]*session),
		ctx:        ctx,
		cancel:     cancel,
	}

	dispatcher, err := dispatch.NewDispatcher(c, cfg.Dispatcher.Workers, cfg.Dispatcher.QueueSize, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}
	c.dispatcher = dispatcher

	c.wg.Add(1)
	go c.reaper()

	return c, nil
}

// Start creates a new job and returns its identifier. The job is ACTIVE and
// ready for audio when Start returns.
func (c *Coordinator) Start(ctx context.Context) (string, error) {
	jobID := uuid.New().String()

	channel, err := relay.NewChannel(jobID, c.config.Relay.EventQueueCapacity, c.metrics, c.logger)
	if err != nil {
		return "", fmt.Errorf("failed to create event channel: %w", err)
	}

	classifier, err := vad.NewEnergyClassifier(c.config.VAD.Threshold, c.config.VAD.Smoothing)
	if err != nil {
		return "", fmt.Errorf("failed to create classifier: %w", err)
	}

	frameBuffer, err := audio.NewFrameBuffer(c.config.Audio.FrameBytes(), c.config.Audio.PadPartialFrame)
	if err != nil {
		return "", fmt.Errorf("failed to create frame buffer: %w", err)
	}

	frameDuration := c.config.Audio.GetFrameDuration()
	machine := job.NewMachine(jobID, channel, c.store, c.logger)
	sess := &session{
		machine:     machine,
		frameBuffer: frameBuffer,
		segmenter: segment.NewSegmenter(
			classifier,
			c.config.Segmenter.SilenceFrames(frameDuration),
			c.config.Segmenter.MaxSegmentFrames(frameDuration),
			c.logger,
		),
		createdAt: time.Now(),
	}

	if c.store != nil {
		if storeErr := c.storeCreate(jobID); storeErr != nil {
			c.logger.Warn("Failed to persist job creation",
				slog.String("job_id", jobID),
				slog.String("error", storeErr.Error()),
			)
		}
	}

	if err := c.dispatcher.Register(jobID, c.makeSink(machine)); err != nil {
		return "", fmt.Errorf("failed to register job: %w", err)
	}

	if err := machine.Activate(); err != nil {
		c.dispatcher.Forget(jobID)
		return "", err
	}

	c.mu.Lock()
	c.sessions[jobID] = sess
	c.jobsStarted++
	active := len(c.sessions)
	c.mu.Unlock()

	c.metrics.JobsCreated.Inc()
	c.metrics.ActiveJobs.Set(float64(active))

	c.logger.Info("Job started",
		slog.String("job_id", jobID),
		slog.Int("active_sessions", active),
	)

	return jobID, nil
}

// PushChunk ingests one audio chunk for an active job. The chunk is framed,
// classified, and segmented; completed segments are handed to the dispatcher,
// blocking on its bounded queue for backpressure.
func (c *Coordinator) PushChunk(ctx context.Context, jobID string, data []byte) error {
	sess, err := c.session(jobID)
	if err != nil {
		return err
	}

	if len(data) == 0 {
		return fmt.Errorf("empty audio chunk")
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if status := sess.machine.Status(); status != job.StatusActive {
		c.metrics.ChunksRejected.Inc()
		return fmt.Errorf("%w: cannot accept audio in %s", job.ErrInvalidTransition, status)
	}

	sess.machine.Touch()

	c.metrics.ChunksReceived.Inc()
	c.metrics.ChunkBytes.Add(float64(len(data)))

	frames := sess.frameBuffer.Push(data)
	c.metrics.FramesProcessed.Add(float64(len(frames)))

	for _, frame := range frames {
		seg := sess.segmenter.Process(frame)
		if seg == nil {
			continue
		}

		if err := c.submitSegment(ctx, jobID, seg); err != nil {
			return err
		}
	}

	c.metrics.VADFramesClassified.Add(float64(len(frames)))

	segStats := sess.segmenter.GetStats()
	c.metrics.VADSpeechFrames.Add(float64(segStats.SpeechFrames - sess.prevSpeechFrames))
	c.metrics.VADErrors.Add(float64(segStats.ClassifierErrors - sess.prevClassifierErrors))
	sess.prevSpeechFrames = segStats.SpeechFrames
	sess.prevClassifierErrors = segStats.ClassifierErrors

	c.metrics.DispatchQueueDepth.Set(float64(c.dispatcher.QueueDepth()))

	return nil
}

// Finalize closes the job's audio stream and drives it to a terminal state.
// The call returns once the job is FINALIZING; draining, summarization, and
// teardown run in the background. Repeated calls are no-ops.
func (c *Coordinator) Finalize(jobID string) error {
	sess, err := c.session(jobID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	if sess.finalizing {
		sess.mu.Unlock()
		return nil
	}

	if err := sess.machine.BeginFinalize(); err != nil {
		sess.mu.Unlock()
		// Already finalizing or terminal; treat as the duplicate-call case
		return nil
	}
	sess.finalizing = true

	// Drain the partial frame and the open segment before the last submit
	var tail []*segment.Segment
	if frame := sess.frameBuffer.Flush(); frame != nil {
		if seg := sess.segmenter.Process(*frame); seg != nil {
			tail = append(tail, seg)
		}
	}
	if seg := sess.segmenter.Flush(); seg != nil {
		c.metrics.SegmentsFlushed.Inc()
		tail = append(tail, seg)
	}
	sess.mu.Unlock()

	for _, seg := range tail {
		if err := c.submitSegment(c.ctx, jobID, seg); err != nil {
			c.logger.Error("Failed to submit final segment",
				slog.String("job_id", jobID),
				slog.Int("segment_index", seg.Index),
				slog.String("error", err.Error()),
			)
		}
	}

	c.wg.Add(1)
	go c.finishJob(sess)

	return nil
}

// Connected publishes a CONNECTED event for each transport attachment
func (c *Coordinator) Connected(jobID string) error {
	sess, err := c.session(jobID)
	if err != nil {
		return err
	}

	sess.machine.Channel().Publish(relay.EventConnected, relay.ConnectedPayload{JobID: jobID})
	return nil
}

// Subscribe attaches the single event subscriber for a job
func (c *Coordinator) Subscribe(jobID string) (*relay.Subscription, error) {
	sess, err := c.session(jobID)
	if err != nil {
		return nil, err
	}

	sub, err := sess.machine.Channel().Subscribe()
	if err == relay.ErrSubscriberConflict {
		c.metrics.SubscriberConflicts.Inc()
	}

	return sub, err
}

// Unsubscribe releases a job's subscriber slot
func (c *Coordinator) Unsubscribe(jobID string, sub *relay.Subscription) {
	sess, err := c.session(jobID)
	if err != nil {
		return
	}

	sess.machine.Channel().Unsubscribe(sub)
}

// Job returns the live state machine for a job
func (c *Coordinator) Job(jobID string) (*job.Machine, error) {
	sess, err := c.session(jobID)
	if err != nil {
		return nil, err
	}

	return sess.machine, nil
}

// ListJobs returns stats for every live session
func (c *Coordinator) ListJobs() []job.MachineStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	jobs := make([]job.MachineStats, 0, len(c.sessions))
	for _, sess := range c.sessions {
		jobs = append(jobs, sess.machine.GetStats())
	}

	return jobs
}

// GetStats returns current coordinator statistics
func (c *Coordinator) GetStats() CoordinatorStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return CoordinatorStats{
		ActiveSessions: len(c.sessions),
		JobsStarted:    c.jobsStarted,
		JobsCompleted:  c.jobsCompleted,
		JobsFailed:     c.jobsFailed,
		JobsReaped:     c.jobsReaped,
	}
}

// DispatcherStats exposes worker pool statistics
func (c *Coordinator) DispatcherStats() dispatch.DispatcherStats {
	return c.dispatcher.GetStats()
}

// Stop shuts down the reaper and worker pool, waiting for background
// finalizations.
func (c *Coordinator) Stop() {
	c.cancel()
	c.dispatcher.Stop()
	c.wg.Wait()
}

// Transcribe implements dispatch.Transcriber: it WAV-encodes the segment and
// calls the engine with the job's recent transcript as prompt context.
func (c *Coordinator) Transcribe(ctx context.Context, jobID string, seg *segment.Segment) (string, error) {
	sess, err := c.session(jobID)
	if err != nil {
		return "", err
	}

	wav, err := audio.EncodeWAV(seg.Audio, c.config.Audio.SampleRate)
	if err != nil {
		return "", fmt.Errorf("failed to encode segment: %w", err)
	}

	promptContext := sess.machine.PromptContext(promptContextChars)

	startTime := time.Now()
	c.metrics.TranscriptionRequests.Inc()

	text, err := c.engine.Transcribe(ctx, wav, promptContext)
	c.metrics.TranscriptionDuration.Observe(time.Since(startTime).Seconds())

	if err != nil {
		c.metrics.TranscriptionFailures.Inc()
		return "", err
	}

	return text, nil
}

// session looks up a live session
func (c *Coordinator) session(jobID string) (*session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sess, exists := c.sessions[jobID]
	if !exists {
		return nil, fmt.Errorf("job %s not found", jobID)
	}

	return sess, nil
}

// submitSegment records metrics and hands one segment to the dispatcher
func (c *Coordinator) submitSegment(ctx context.Context, jobID string, seg *segment.Segment) error {
	c.metrics.SegmentsEmitted.Inc()
	c.metrics.SegmentSize.Observe(float64(len(seg.Audio)))
	if seg.Capped {
		c.metrics.SegmentsCapped.Inc()
	}

	frameBytes := c.config.Audio.FrameBytes()
	if frameBytes > 0 {
		frames := len(seg.Audio) / frameBytes
		c.metrics.SegmentDuration.Observe(float64(frames) * c.config.Audio.GetFrameDuration().Seconds())
	}

	if err := c.dispatcher.Submit(ctx, jobID, seg); err != nil {
		return fmt.Errorf("failed to dispatch segment %d: %w", seg.Index, err)
	}

	return nil
}

// makeSink builds the in-order result handler for one job. Transcription
// failures are recoverable: the segment becomes an empty placeholder and the
// client is told via an ERROR event.
func (c *Coordinator) makeSink(machine *job.Machine) func(dispatch.Result) {
	return func(res dispatch.Result) {
		if res.Err != nil {
			machine.PublishError(
				fmt.Sprintf("transcription failed for segment %d", res.Segment.Index),
				true,
			)
		}

		if err := machine.AppendSegment(res.Segment.Index, res.Text, res.Segment.StartSeq, res.Segment.EndSeq); err != nil {
			c.logger.Warn("Dropping late segment result",
				slog.String("job_id", machine.ID()),
				slog.Int("segment_index", res.Segment.Index),
				slog.String("error", err.Error()),
			)
		}
	}
}

// finishJob drains outstanding segments, runs summarization, and tears the
// session down after the grace period.
func (c *Coordinator) finishJob(sess *session) {
	defer c.wg.Done()

	jobID := sess.machine.ID()
	startTime := sess.createdAt

	drainCtx, cancel := context.WithTimeout(c.ctx, c.config.Summarizer.GetFinalizeTimeout())
	defer cancel()

	if err := c.dispatcher.Drain(drainCtx, jobID); err != nil {
		c.failJob(sess, fmt.Sprintf("timed out waiting for in-flight segments: %v", err))
		return
	}

	if err := sess.machine.BeginSummarize(); err != nil {
		c.logger.Warn("Cannot begin summarization",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.teardown(sess)
		return
	}

	transcript := sess.machine.Transcript()

	var doc json.RawMessage
	if transcript == "" {
		// Nothing was recognized; skip the model call
		doc = emptySummary
	} else {
		sumCtx, sumCancel := context.WithTimeout(c.ctx, c.config.Summarizer.GetFinalizeTimeout())

		startSum := time.Now()
		c.metrics.SummaryRequests.Inc()

		var err error
		doc, err = c.summarizer.Summarize(sumCtx, transcript)
		sumCancel()
		c.metrics.SummaryDuration.Observe(time.Since(startSum).Seconds())

		if err != nil {
			c.metrics.SummaryFailures.Inc()
			c.failJob(sess, fmt.Sprintf("summarization failed: %v", err))
			return
		}
	}

	if err := sess.machine.Complete(doc); err != nil {
		c.logger.Error("Failed to complete job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.teardown(sess)
		return
	}

	c.mu.Lock()
	c.jobsCompleted++
	c.mu.Unlock()

	c.metrics.JobsCompleted.Inc()
	c.metrics.JobDuration.Observe(time.Since(startTime).Seconds())

	c.teardown(sess)
}

// failJob moves the job to FAILED and tears the session down
func (c *Coordinator) failJob(sess *session, message string) {
	if err := sess.machine.Fail(message); err != nil {
		c.logger.Warn("Failed to mark job as failed",
			slog.String("job_id", sess.machine.ID()),
			slog.String("error", err.Error()),
		)
	}

	c.mu.Lock()
	c.jobsFailed++
	c.mu.Unlock()

	c.metrics.JobsFailed.Inc()

	c.teardown(sess)
}

// teardown waits out the grace period so a subscriber can drain the terminal
// events, then closes the channel and removes the session.
func (c *Coordinator) teardown(sess *session) {
	jobID := sess.machine.ID()

	select {
	case <-time.After(c.config.Relay.GetGracePeriod()):
	case <-c.ctx.Done():
	}

	sess.machine.Channel().Close()
	c.dispatcher.Forget(jobID)

	c.mu.Lock()
	delete(c.sessions, jobID)
	active := len(c.sessions)
	c.mu.Unlock()

	c.metrics.ActiveJobs.Set(float64(active))

	c.logger.Info("Session removed",
		slog.String("job_id", jobID),
		slog.String("status", sess.machine.Status().String()),
		slog.Int("active_sessions", active),
	)
}

// storeCreate persists the initial job row
func (c *Coordinator) storeCreate(jobID string) error {
	creator, ok := c.store.(interface {
		CreateJob(jobID string, status string, createdAt time.Time) error
	})
	if !ok {
		return nil
	}

	return creator.CreateJob(jobID, job.StatusCreated.String(), time.Now())
}

// reaper force-finalizes jobs whose audio stream has gone idle
func (c *Coordinator) reaper() {
	defer c.wg.Done()

	idleTimeout := c.config.Jobs.GetIdleTimeout()
	ticker := time.NewTicker(idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.reapIdle(idleTimeout)
		}
	}
}

// reapIdle finalizes every active job idle for longer than the timeout
func (c *Coordinator) reapIdle(idleTimeout time.Duration) {
	cutoff := time.Now().Add(-idleTimeout)

	c.mu.RLock()
	var stale []string
	for jobID, sess := range c.sessions {
		if sess.machine.Status() == job.StatusActive && sess.machine.LastActivity().Before(cutoff) {
			stale = append(stale, jobID)
		}
	}
	c.mu.RUnlock()

	for _, jobID := range stale {
		c.logger.Warn("Finalizing idle job",
			slog.String("job_id", jobID),
			slog.Duration("idle_timeout", idleTimeout),
		)

		c.mu.Lock()
		c.jobsReaped++
		c.mu.Unlock()

		if err := c.Finalize(jobID); err != nil {
			c.logger.Error("Failed to finalize idle job",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}
}
