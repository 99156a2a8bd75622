package audio

import (
	"fmt"
	"sync"
)

// Frame is a fixed-duration slice of PCM audio tagged with a monotonically
// increasing sequence number. Sequence numbers start at 0 and never repeat
// within one stream.
type Frame struct {
	Seq  uint64
	Data []byte
}

// FrameBuffer accumulates raw audio bytes and slices them into fixed-size
// frames in arrival order. Partial trailing bytes are retained across calls.
type FrameBuffer struct {
	frameBytes int
	padPartial bool

	pending []byte
	nextSeq uint64

	// Statistics
	bytesReceived uint64
	framesSliced  uint64

	mu sync.Mutex
}

// FrameBufferStats represents frame buffer statistics for monitoring
type FrameBufferStats struct {
	BytesReceived uint64 `json:"bytes_received"`
	FramesSliced  uint64 `json:"frames_sliced"`
	PendingBytes  int    `json:"pending_bytes"`
}

// NewFrameBuffer creates a frame buffer producing frames of frameBytes bytes.
// If padPartial is true, Flush zero-pads a partial trailing frame instead of
// discarding it.
func NewFrameBuffer(frameBytes int, padPartial bool) (*FrameBuffer, error) {
	if frameBytes <= 0 {
		return nil, fmt.Errorf("frame size must be positive, got %d", frameBytes)
	}

	if frameBytes%2 != 0 {
		return nil, fmt.Errorf("frame size must be even for PCM-16, got %d", frameBytes)
	}

	return &FrameBuffer{
		frameBytes: frameBytes,
		padPartial: padPartial,
		pending:    make([]byte, 0, frameBytes*4),
	}, nil
}

// Push appends raw bytes and returns every complete frame now available, in
// order. Frames are copied out, so the caller may retain them freely.
func (b *FrameBuffer) Push(p []byte) []Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bytesReceived += uint64(len(p))
	b.pending = append(b.pending, p...)

	if len(b.pending) < b.frameBytes {
		return nil
	}

	frames := make([]Frame, 0, len(b.pending)/b.frameBytes)
	for len(b.pending) >= b.frameBytes {
		data := make([]byte, b.frameBytes)
		copy(data, b.pending[:b.frameBytes])
		b.pending = b.pending[b.frameBytes:]

		frames = append(frames, Frame{Seq: b.nextSeq, Data: data})
		b.nextSeq++
		b.framesSliced++
	}

	// Reclaim the backing array once the slice window has drifted far enough
	if cap(b.pending) > b.frameBytes*8 {
		trimmed := make([]byte, len(b.pending), b.frameBytes*4)
		copy(trimmed, b.pending)
		b.pending = trimmed
	}

	return frames
}

// Flush returns the retained partial frame, zero-padded to full size, or nil
// if nothing is pending or the buffer is configured to discard partials.
func (b *FrameBuffer) Flush() *Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 {
		return nil
	}

	remainder := b.pending
	b.pending = make([]byte, 0, b.frameBytes*4)

	if !b.padPartial {
		return nil
	}

	data := make([]byte, b.frameBytes)
	copy(data, remainder)

	frame := &Frame{Seq: b.nextSeq, Data: data}
	b.nextSeq++
	b.framesSliced++

	return frame
}

// FrameBytes returns the configured frame size in bytes
func (b *FrameBuffer) FrameBytes() int {
	return b.frameBytes
}

// GetStats returns current frame buffer statistics
func (b *FrameBuffer) GetStats() FrameBufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return FrameBufferStats{
		BytesReceived: b.bytesReceived,
		FramesSliced:  b.framesSliced,
		PendingBytes:  len(b.pending),
	}
}
