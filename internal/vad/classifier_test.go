package vad

import (
	"testing"
)

// pcmFrame builds a PCM-16 LE frame where every sample has the given value
func pcmFrame(samples int, value int16) []byte {
	frame := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		frame[i*2] = byte(value)
		frame[i*2+1] = byte(value >> 8)
	}
	return frame
}

func TestNewEnergyClassifier(t *testing.T) {
	tests := []struct {
		name      string
		threshold float32
		smoothing float32
		wantErr   bool
	}{
		{"valid", 0.02, 0.3, false},
		{"no smoothing", 0.5, 0, false},
		{"threshold too high", 1.5, 0.3, true},
		{"negative threshold", -0.1, 0.3, true},
		{"smoothing out of range", 0.02, 1.0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEnergyClassifier(tt.threshold, tt.smoothing)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewEnergyClassifier(%f, %f) error = %v, wantErr %v",
					tt.threshold, tt.smoothing, err, tt.wantErr)
			}
		})
	}
}

func TestClassifySpeechAndSilence(t *testing.T) {
	c, err := NewEnergyClassifier(0.02, 0)
	if err != nil {
		t.Fatalf("NewEnergyClassifier failed: %v", err)
	}

	speech, err := c.Classify(pcmFrame(480, 5000))
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if !speech {
		t.Error("loud frame classified as silence")
	}

	speech, err = c.Classify(pcmFrame(480, 0))
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if speech {
		t.Error("silent frame classified as speech")
	}

	stats := c.GetStats()
	if stats.TotalFrames != 2 {
		t.Errorf("TotalFrames = %d, want 2", stats.TotalFrames)
	}
	if stats.SpeechFrames != 1 {
		t.Errorf("SpeechFrames = %d, want 1", stats.SpeechFrames)
	}
}

func TestClassifyInvalidFrame(t *testing.T) {
	c, err := NewEnergyClassifier(0.02, 0)
	if err != nil {
		t.Fatalf("NewEnergyClassifier failed: %v", err)
	}

	if _, err := c.Classify(nil); err == nil {
		t.Error("expected error for empty frame")
	}

	if _, err := c.Classify([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for odd frame length")
	}
}

func TestClassifySmoothing(t *testing.T) {
	// Heavy smoothing keeps one loud frame after sustained silence below threshold
	c, err := NewEnergyClassifier(0.4, 0.9)
	if err != nil {
		t.Fatalf("NewEnergyClassifier failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		if _, err := c.Classify(pcmFrame(480, 0)); err != nil {
			t.Fatalf("Classify failed: %v", err)
		}
	}

	speech, err := c.Classify(pcmFrame(480, 8000))
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if speech {
		t.Error("smoothing did not suppress an isolated loud frame")
	}
}

func TestClassifierReset(t *testing.T) {
	c, err := NewEnergyClassifier(0.02, 0.3)
	if err != nil {
		t.Fatalf("NewEnergyClassifier failed: %v", err)
	}

	c.Classify(pcmFrame(480, 5000))
	c.Reset()

	stats := c.GetStats()
	if stats.TotalFrames != 0 {
		t.Errorf("TotalFrames after reset = %d, want 0", stats.TotalFrames)
	}
}
