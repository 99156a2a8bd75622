package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Classifier decides whether a single audio frame contains speech.
// Implementations are selected at job creation time; a failure is non-fatal
// and the caller treats the frame as silence.
type Classifier interface {
	Classify(frame []byte) (bool, error)
}

// EnergyClassifier is an RMS-energy voice activity classifier with light
// result smoothing. It stands in for a model-backed classifier behind the
// same contract.
type EnergyClassifier struct {
	threshold float32
	smoothing float32

	// Classifier state
	lastResult float32

	// Statistics
	totalFrames   uint64
	speechFrames  uint64
	lastProcessed time.Time

	mu sync.Mutex
}

// ClassifierStats represents classifier statistics for monitoring
type ClassifierStats struct {
	TotalFrames      uint64    `json:"total_frames"`
	SpeechFrames     uint64    `json:"speech_frames"`
	SpeechPercentage float64   `json:"speech_percentage"`
	LastProcessed    time.Time `json:"last_processed"`
	Threshold        float32   `json:"threshold"`
}

// NewEnergyClassifier creates an energy-based voice activity classifier
func NewEnergyClassifier(threshold, smoothing float32) (*EnergyClassifier, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	if smoothing < 0 || smoothing >= 1 {
		return nil, fmt.Errorf("smoothing must be between 0 and 1 (exclusive), got %f", smoothing)
	}

	return &EnergyClassifier{
		threshold: threshold,
		smoothing: smoothing,
	}, nil
}

// Classify reports whether the frame contains speech
func (c *EnergyClassifier) Classify(frame []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(frame) == 0 {
		return false, fmt.Errorf("empty frame")
	}

	if len(frame)%2 != 0 {
		return false, fmt.Errorf("PCM-16 frame length must be even, got %d bytes", len(frame))
	}

	probability := c.frameEnergy(frame)

	// Apply smoothing against the previous result
	if c.totalFrames > 0 && c.smoothing > 0 {
		probability = (1-c.smoothing)*probability + c.smoothing*c.lastResult
	}
	c.lastResult = probability

	hasSpeech := probability >= c.threshold

	c.totalFrames++
	if hasSpeech {
		c.speechFrames++
	}
	c.lastProcessed = time.Now()

	return hasSpeech, nil
}

// frameEnergy computes normalized RMS energy for one PCM-16 frame
func (c *EnergyClassifier) frameEnergy(frame []byte) float32 {
	numSamples := len(frame) / 2

	var energy float64
	for i := 0; i < numSamples; i++ {
		// Little-endian PCM-16
		sample := int16(frame[i*2]) | int16(frame[i*2+1])<<8
		energy += float64(sample) * float64(sample)
	}
	energy = math.Sqrt(energy / float64(numSamples))

	// Normalize to 0-1 assuming max useful energy around 10000
	normalized := energy / 10000.0
	if normalized > 1.0 {
		normalized = 1.0
	}

	return float32(normalized)
}

// GetStats returns current classifier statistics
func (c *EnergyClassifier) GetStats() ClassifierStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	speechPercentage := float64(0)
	if c.totalFrames > 0 {
		speechPercentage = float64(c.speechFrames) / float64(c.totalFrames) * 100
	}

	return ClassifierStats{
		TotalFrames:      c.totalFrames,
		SpeechFrames:     c.speechFrames,
		SpeechPercentage: speechPercentage,
		LastProcessed:    c.lastProcessed,
		Threshold:        c.threshold,
	}
}

// Reset clears classifier state and statistics
func (c *EnergyClassifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalFrames = 0
	c.speechFrames = 0
	c.lastResult = 0
	c.lastProcessed = time.Time{}
}
