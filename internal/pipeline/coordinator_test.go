package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skypro1111/stream-stt-service/internal/config"
	"github.com/skypro1111/stream-stt-service/internal/metrics"
	"github.com/skypro1111/stream-stt-service/internal/relay"
)

// testMetrics is shared because metric registration is process-global
var testMetrics = metrics.NewMetrics()

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig uses small frames and short windows so tests run fast:
// 10ms frames of 160 bytes, segments close after 3 silent frames.
func testConfig() *config.Config {
	return &config.Config{
		Audio: config.AudioConfig{
			SampleRate:      8000,
			Channels:        1,
			BitDepth:        16,
			FrameDurationMs: 10,
			PadPartialFrame: true,
		},
		VAD:       config.VADConfig{Threshold: 0.02, Smoothing: 0},
		Segmenter: config.SegmenterConfig{SilenceDuration: 0.03, MaxSegmentDuration: 1.0},
		Dispatcher: config.DispatcherConfig{
			Workers:   2,
			QueueSize: 16,
		},
		Relay: config.RelayConfig{EventQueueCapacity: 64, GracePeriod: 0.05},
		Summarizer: config.SummarizerConfig{
			Endpoint:        "unused",
			Model:           "unused",
			Timeout:         1,
			MaxRetries:      0,
			FinalizeTimeout: 5,
		},
		Jobs: config.JobsConfig{IdleTimeout: 60},
	}
}

// fakeEngine returns numbered texts, failing on the configured call
type fakeEngine struct {
	calls    int64
	failCall int64 // 1-based call number that fails, 0 disables
}

func (e *fakeEngine) Transcribe(ctx context.Context, wav []byte, promptContext string) (string, error) {
	n := atomic.AddInt64(&e.calls, 1)
	if n == e.failCall {
		return "", fmt.Errorf("engine failure on call %d", n)
	}
	return fmt.Sprintf("segment-%d", n), nil
}

// fakeSummarizer counts calls and optionally always fails
type fakeSummarizer struct {
	calls      int64
	alwaysFail bool
}

func (s *fakeSummarizer) Summarize(ctx context.Context, transcript string) (json.RawMessage, error) {
	atomic.AddInt64(&s.calls, 1)
	if s.alwaysFail {
		return nil, fmt.Errorf("model unavailable")
	}
	return json.RawMessage(`{"summary":"test summary"}`), nil
}

// speechChunk builds n frames of loud PCM, silenceChunk builds n silent frames
func speechChunk(frames, frameBytes int) []byte {
	chunk := make([]byte, frames*frameBytes)
	for i := 0; i < len(chunk); i += 2 {
		chunk[i] = 0x88 // sample value 5000 = 0x1388 little-endian
		chunk[i+1] = 0x13
	}
	return chunk
}

func silenceChunk(frames, frameBytes int) []byte {
	return make([]byte, frames*frameBytes)
}

func newTestCoordinator(t *testing.T, engine *fakeEngine, summarizer *fakeSummarizer) *Coordinator {
	t.Helper()

	c, err := NewCoordinator(testConfig(), engine, summarizer, nil, testMetrics, testLogger())
	if err != nil {
		t.Fatalf("NewCoordinator failed: %v", err)
	}
	t.Cleanup(c.Stop)

	return c
}

// collectEvents drains the job's channel until it closes or the timeout hits
func collectEvents(t *testing.T, c *Coordinator, jobID string, timeout time.Duration) []relay.Event {
	t.Helper()

	sub, err := c.Subscribe(jobID)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var events []relay.Event
	for {
		event, err := sub.Next(ctx)
		if err != nil {
			return events
		}
		events = append(events, event)
	}
}

func eventsOfType(events []relay.Event, eventType string) []relay.Event {
	var matched []relay.Event
	for _, e := range events {
		if e.Type == eventType {
			matched = append(matched, e)
		}
	}
	return matched
}

func TestPipelineEndToEnd(t *testing.T) {
	engine := &fakeEngine{}
	summarizer := &fakeSummarizer{}
	c := newTestCoordinator(t, engine, summarizer)

	jobID, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	cfg := testConfig()
	frameBytes := cfg.Audio.FrameBytes()
	ctx := context.Background()

	// Two utterances separated by enough silence to close a segment
	for i := 0; i < 2; i++ {
		if err := c.PushChunk(ctx, jobID, speechChunk(5, frameBytes)); err != nil {
			t.Fatalf("PushChunk speech failed: %v", err)
		}
		if err := c.PushChunk(ctx, jobID, silenceChunk(4, frameBytes)); err != nil {
			t.Fatalf("PushChunk silence failed: %v", err)
		}
	}

	if err := c.Finalize(jobID); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	events := collectEvents(t, c, jobID, 5*time.Second)

	transcripts := eventsOfType(events, relay.EventTranscriptSegment)
	if len(transcripts) != 2 {
		t.Fatalf("got %d TRANSCRIPT_SEGMENT events, want 2", len(transcripts))
	}

	// Segment index order must match recording order
	for i, e := range transcripts {
		payload := e.Payload.(relay.TranscriptSegmentPayload)
		if payload.SegmentIndex != i {
			t.Errorf("transcript event %d carries segment index %d", i, payload.SegmentIndex)
		}
	}

	finals := eventsOfType(events, relay.EventFinalSummary)
	if len(finals) != 1 {
		t.Fatalf("got %d FINAL_SUMMARY events, want 1", len(finals))
	}

	payload := finals[0].Payload.(relay.FinalSummaryPayload)
	if payload.FullTranscript == "" {
		t.Error("final transcript is empty")
	}
	if string(payload.Summary) != `{"summary":"test summary"}` {
		t.Errorf("summary = %s", payload.Summary)
	}

	// Sequence numbers are strictly increasing with no gaps
	for i := 1; i < len(events); i++ {
		if events[i].Seq != events[i-1].Seq+1 {
			t.Errorf("seq gap: %d follows %d", events[i].Seq, events[i-1].Seq)
		}
	}

	if atomic.LoadInt64(&summarizer.calls) != 1 {
		t.Errorf("summarizer called %d times, want 1", summarizer.calls)
	}
}

func TestPipelineSurvivesTranscriptionFailure(t *testing.T) {
	// The first segment fails; the job must still complete with the rest
	engine := &fakeEngine{failCall: 1}
	summarizer := &fakeSummarizer{}
	c := newTestCoordinator(t, engine, summarizer)

	jobID, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	frameBytes := testConfig().Audio.FrameBytes()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c.PushChunk(ctx, jobID, speechChunk(5, frameBytes))
		c.PushChunk(ctx, jobID, silenceChunk(4, frameBytes))
	}

	if err := c.Finalize(jobID); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	events := collectEvents(t, c, jobID, 5*time.Second)

	errs := eventsOfType(events, relay.EventError)
	if len(errs) != 1 {
		t.Fatalf("got %d ERROR events, want 1", len(errs))
	}
	if payload := errs[0].Payload.(relay.ErrorPayload); !payload.Recoverable {
		t.Error("segment failure reported as non-recoverable")
	}

	// Two of three segments survive
	if got := len(eventsOfType(events, relay.EventTranscriptSegment)); got != 2 {
		t.Errorf("got %d TRANSCRIPT_SEGMENT events, want 2", got)
	}

	finals := eventsOfType(events, relay.EventFinalSummary)
	if len(finals) != 1 {
		t.Fatalf("got %d FINAL_SUMMARY events, want 1", len(finals))
	}
}

func TestPipelineFailsWhenSummarizerFails(t *testing.T) {
	engine := &fakeEngine{}
	summarizer := &fakeSummarizer{alwaysFail: true}
	c := newTestCoordinator(t, engine, summarizer)

	jobID, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	frameBytes := testConfig().Audio.FrameBytes()
	ctx := context.Background()

	c.PushChunk(ctx, jobID, speechChunk(5, frameBytes))
	c.PushChunk(ctx, jobID, silenceChunk(4, frameBytes))

	if err := c.Finalize(jobID); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	events := collectEvents(t, c, jobID, 5*time.Second)

	if finals := eventsOfType(events, relay.EventFinalSummary); len(finals) != 0 {
		t.Errorf("got %d FINAL_SUMMARY events from a failed job, want 0", len(finals))
	}

	errs := eventsOfType(events, relay.EventError)
	if len(errs) == 0 {
		t.Fatal("no ERROR event for summarization failure")
	}

	last := errs[len(errs)-1].Payload.(relay.ErrorPayload)
	if last.Recoverable {
		t.Error("terminal summarization failure reported as recoverable")
	}
}

func TestFinalizeIsIdempotent(t *testing.T) {
	engine := &fakeEngine{}
	summarizer := &fakeSummarizer{}
	c := newTestCoordinator(t, engine, summarizer)

	jobID, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	frameBytes := testConfig().Audio.FrameBytes()
	ctx := context.Background()

	c.PushChunk(ctx, jobID, speechChunk(5, frameBytes))
	c.PushChunk(ctx, jobID, silenceChunk(4, frameBytes))

	for i := 0; i < 3; i++ {
		if err := c.Finalize(jobID); err != nil {
			t.Fatalf("Finalize call %d failed: %v", i, err)
		}
	}

	events := collectEvents(t, c, jobID, 5*time.Second)

	if finals := eventsOfType(events, relay.EventFinalSummary); len(finals) != 1 {
		t.Errorf("got %d FINAL_SUMMARY events, want 1", len(finals))
	}
	if atomic.LoadInt64(&summarizer.calls) != 1 {
		t.Errorf("summarizer called %d times, want 1", summarizer.calls)
	}
}

func TestSilentStreamCompletesWithoutSummarizer(t *testing.T) {
	engine := &fakeEngine{}
	summarizer := &fakeSummarizer{}
	c := newTestCoordinator(t, engine, summarizer)

	jobID, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	frameBytes := testConfig().Audio.FrameBytes()

	if err := c.PushChunk(context.Background(), jobID, silenceChunk(20, frameBytes)); err != nil {
		t.Fatalf("PushChunk failed: %v", err)
	}
	if err := c.Finalize(jobID); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	events := collectEvents(t, c, jobID, 5*time.Second)

	finals := eventsOfType(events, relay.EventFinalSummary)
	if len(finals) != 1 {
		t.Fatalf("got %d FINAL_SUMMARY events, want 1", len(finals))
	}

	payload := finals[0].Payload.(relay.FinalSummaryPayload)
	if payload.FullTranscript != "" {
		t.Errorf("transcript = %q, want empty", payload.FullTranscript)
	}
	if string(payload.Summary) != "{}" {
		t.Errorf("summary = %s, want {}", payload.Summary)
	}

	// The model is never called for an empty transcript
	if atomic.LoadInt64(&summarizer.calls) != 0 {
		t.Errorf("summarizer called %d times, want 0", summarizer.calls)
	}
	if atomic.LoadInt64(&engine.calls) != 0 {
		t.Errorf("engine called %d times, want 0", engine.calls)
	}
}

func TestPushChunkRejectedAfterFinalize(t *testing.T) {
	engine := &fakeEngine{}
	summarizer := &fakeSummarizer{}
	c := newTestCoordinator(t, engine, summarizer)

	jobID, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := c.Finalize(jobID); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	frameBytes := testConfig().Audio.FrameBytes()
	if err := c.PushChunk(context.Background(), jobID, speechChunk(1, frameBytes)); err == nil {
		t.Error("expected error pushing audio after finalize")
	}
}

func TestUnknownJobOperations(t *testing.T) {
	c := newTestCoordinator(t, &fakeEngine{}, &fakeSummarizer{})

	if err := c.PushChunk(context.Background(), "ghost", []byte{1, 2}); err == nil {
		t.Error("expected error pushing to unknown job")
	}
	if err := c.Finalize("ghost"); err == nil {
		t.Error("expected error finalizing unknown job")
	}
	if _, err := c.Subscribe("ghost"); err == nil {
		t.Error("expected error subscribing to unknown job")
	}
}

func TestSubscriberConflictAcrossTransports(t *testing.T) {
	c := newTestCoordinator(t, &fakeEngine{}, &fakeSummarizer{})

	jobID, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	sub, err := c.Subscribe(jobID)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if _, err := c.Subscribe(jobID); err != relay.ErrSubscriberConflict {
		t.Errorf("second Subscribe = %v, want ErrSubscriberConflict", err)
	}

	c.Unsubscribe(jobID, sub)
	if _, err := c.Subscribe(jobID); err != nil {
		t.Errorf("Subscribe after Unsubscribe failed: %v", err)
	}
}

func TestSessionRemovedAfterGracePeriod(t *testing.T) {
	c := newTestCoordinator(t, &fakeEngine{}, &fakeSummarizer{})

	jobID, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := c.Finalize(jobID); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := c.Job(jobID); err != nil {
			return // session gone
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Error("session still registered after grace period")
}
