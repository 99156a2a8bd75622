package audio

import (
	"bytes"
	"testing"
)

func TestNewFrameBuffer(t *testing.T) {
	tests := []struct {
		name       string
		frameBytes int
		wantErr    bool
	}{
		{"valid frame size", 960, false},
		{"zero frame size", 0, true},
		{"negative frame size", -10, true},
		{"odd frame size", 961, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFrameBuffer(tt.frameBytes, true)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewFrameBuffer(%d) error = %v, wantErr %v", tt.frameBytes, err, tt.wantErr)
			}
		})
	}
}

func TestFrameBufferPush(t *testing.T) {
	fb, err := NewFrameBuffer(10, true)
	if err != nil {
		t.Fatalf("NewFrameBuffer failed: %v", err)
	}

	// Less than one frame: nothing comes out
	frames := fb.Push(make([]byte, 6))
	if len(frames) != 0 {
		t.Errorf("expected 0 frames for partial push, got %d", len(frames))
	}

	// Crossing a frame boundary releases one frame and retains the rest
	frames = fb.Push(make([]byte, 8))
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0].Seq != 0 {
		t.Errorf("first frame seq = %d, want 0", frames[0].Seq)
	}
	if len(frames[0].Data) != 10 {
		t.Errorf("frame size = %d, want 10", len(frames[0].Data))
	}

	// A large push yields multiple frames with increasing sequence numbers
	frames = fb.Push(make([]byte, 26))
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	for i, frame := range frames {
		want := uint64(1 + i)
		if frame.Seq != want {
			t.Errorf("frame %d seq = %d, want %d", i, frame.Seq, want)
		}
	}

	stats := fb.GetStats()
	if stats.FramesSliced != 4 {
		t.Errorf("FramesSliced = %d, want 4", stats.FramesSliced)
	}
	if stats.PendingBytes != 0 {
		t.Errorf("PendingBytes = %d, want 0", stats.PendingBytes)
	}
}

func TestFrameBufferPreservesOrder(t *testing.T) {
	fb, err := NewFrameBuffer(4, true)
	if err != nil {
		t.Fatalf("NewFrameBuffer failed: %v", err)
	}

	input := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	frames := fb.Push(input)

	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if !bytes.Equal(frames[0].Data, []byte{1, 2, 3, 4}) {
		t.Errorf("frame 0 data = %v", frames[0].Data)
	}
	if !bytes.Equal(frames[1].Data, []byte{5, 6, 7, 8}) {
		t.Errorf("frame 1 data = %v", frames[1].Data)
	}
}

func TestFrameBufferFlushPadded(t *testing.T) {
	fb, err := NewFrameBuffer(10, true)
	if err != nil {
		t.Fatalf("NewFrameBuffer failed: %v", err)
	}

	fb.Push([]byte{1, 2, 3, 4})

	frame := fb.Flush()
	if frame == nil {
		t.Fatal("expected padded frame from flush, got nil")
	}
	if len(frame.Data) != 10 {
		t.Errorf("flushed frame size = %d, want 10", len(frame.Data))
	}
	if !bytes.Equal(frame.Data[:4], []byte{1, 2, 3, 4}) {
		t.Errorf("flushed frame data prefix = %v", frame.Data[:4])
	}
	for i := 4; i < 10; i++ {
		if frame.Data[i] != 0 {
			t.Errorf("padding byte %d = %d, want 0", i, frame.Data[i])
		}
	}

	// Second flush has nothing left
	if again := fb.Flush(); again != nil {
		t.Errorf("expected nil from second flush, got %+v", again)
	}
}

func TestFrameBufferFlushDiscard(t *testing.T) {
	fb, err := NewFrameBuffer(10, false)
	if err != nil {
		t.Fatalf("NewFrameBuffer failed: %v", err)
	}

	fb.Push([]byte{1, 2, 3, 4})

	if frame := fb.Flush(); frame != nil {
		t.Errorf("expected partial frame to be discarded, got %+v", frame)
	}
}

func TestFrameBufferFlushEmpty(t *testing.T) {
	fb, err := NewFrameBuffer(10, true)
	if err != nil {
		t.Fatalf("NewFrameBuffer failed: %v", err)
	}

	if frame := fb.Flush(); frame != nil {
		t.Errorf("expected nil flush on empty buffer, got %+v", frame)
	}
}
