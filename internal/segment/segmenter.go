package segment

import (
	"log/slog"
	"sync"

	"github.com/skypro1111/stream-stt-service/internal/audio"
	"github.com/skypro1111/stream-stt-service/internal/vad"
)

// Segment is a contiguous run of speech audio bounded by silence on both
// sides, or by the stream end. Each segment is produced once and consumed
// exactly once by the dispatcher.
type Segment struct {
	Index    int    // emission order within the job, starting at 0
	Audio    []byte // raw PCM bytes including trailing silence context
	StartSeq uint64 // first frame sequence number
	EndSeq   uint64 // last frame sequence number
	Flushed  bool   // emitted by an explicit flush rather than trailing silence
	Capped   bool   // force-emitted at the max duration cap
}

// Segmenter consumes classified frames and emits complete speech segments
// once enough trailing silence has been observed. All state is scoped to one
// job.
type Segmenter struct {
	classifier    vad.Classifier
	silenceFrames int // consecutive silent frames that close a segment
	maxFrames     int // frame count at which a segment is force-emitted
	logger        *slog.Logger

	// Segmentation state
	inSpeech   bool
	active     []byte
	startSeq   uint64
	lastSeq    uint64
	silenceRun int
	frameCount int

	// Statistics
	framesConsumed   uint64
	speechFrames     uint64
	classifierErrors uint64
	emitted          int

	mu sync.Mutex
}

// SegmenterStats represents segmenter statistics for monitoring
type SegmenterStats struct {
	InSpeech         bool   `json:"in_speech"`
	FramesConsumed   uint64 `json:"frames_consumed"`
	SpeechFrames     uint64 `json:"speech_frames"`
	ClassifierErrors uint64 `json:"classifier_errors"`
	SegmentsEmitted  int    `json:"segments_emitted"`
	ActiveBytes      int    `json:"active_buffer_bytes"`
	SilenceRun       int    `json:"silence_run"`
}

// NewSegmenter creates a segmenter closing segments after silenceFrames
// consecutive silent frames and force-emitting at maxFrames.
func NewSegmenter(classifier vad.Classifier, silenceFrames, maxFrames int, logger *slog.Logger) *Segmenter {
	if silenceFrames < 1 {
		silenceFrames = 1
	}
	if maxFrames < silenceFrames {
		maxFrames = silenceFrames
	}

	return &Segmenter{
		classifier:    classifier,
		silenceFrames: silenceFrames,
		maxFrames:     maxFrames,
		logger:        logger,
	}
}

// Process consumes one frame and returns a completed segment, or nil if the
// segment is still open or the frame was silence outside of speech.
func (s *Segmenter) Process(frame audio.Frame) *Segment {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.framesConsumed++

	speech, err := s.classifier.Classify(frame.Data)
	if err != nil {
		// Classifier failures are non-fatal: the frame counts as silence
		s.classifierErrors++
		s.logger.Warn("Frame classification failed, treating as silence",
			slog.Uint64("frame_seq", frame.Seq),
			slog.String("error", err.Error()),
		)
		speech = false
	}

	if speech {
		s.speechFrames++
		s.silenceRun = 0

		if !s.inSpeech {
			s.inSpeech = true
			s.active = s.active[:0]
			s.startSeq = frame.Seq
			s.frameCount = 0
		}

		s.active = append(s.active, frame.Data...)
		s.lastSeq = frame.Seq
		s.frameCount++

		if s.frameCount >= s.maxFrames {
			return s.emit(false, true)
		}

		return nil
	}

	if !s.inSpeech {
		// Silence outside of speech carries no information
		return nil
	}

	// Silence inside a segment: keep it as trailing context and count the run
	s.active = append(s.active, frame.Data...)
	s.lastSeq = frame.Seq
	s.frameCount++
	s.silenceRun++

	if s.silenceRun >= s.silenceFrames {
		return s.emit(false, false)
	}

	if s.frameCount >= s.maxFrames {
		return s.emit(false, true)
	}

	return nil
}

// Flush emits the active buffer as a final segment regardless of trailing
// silence, or returns nil if no speech is open.
func (s *Segmenter) Flush() *Segment {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.inSpeech || len(s.active) == 0 {
		return nil
	}

	return s.emit(true, false)
}

// emit closes the active buffer into a Segment and resets state.
// Callers must hold s.mu.
func (s *Segmenter) emit(flushed, capped bool) *Segment {
	data := make([]byte, len(s.active))
	copy(data, s.active)

	seg := &Segment{
		Index:    s.emitted,
		Audio:    data,
		StartSeq: s.startSeq,
		EndSeq:   s.lastSeq,
		Flushed:  flushed,
		Capped:   capped,
	}

	s.emitted++
	s.inSpeech = false
	s.active = s.active[:0]
	s.silenceRun = 0
	s.frameCount = 0

	return seg
}

// SegmentsEmitted returns the number of segments emitted so far
func (s *Segmenter) SegmentsEmitted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emitted
}

// GetStats returns current segmenter statistics
func (s *Segmenter) GetStats() SegmenterStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SegmenterStats{
		InSpeech:         s.inSpeech,
		FramesConsumed:   s.framesConsumed,
		SpeechFrames:     s.speechFrames,
		ClassifierErrors: s.classifierErrors,
		SegmentsEmitted:  s.emitted,
		ActiveBytes:      len(s.active),
		SilenceRun:       s.silenceRun,
	}
}
