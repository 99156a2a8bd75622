package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		HTTP: HTTPConfig{Port: 8080, Address: "0.0.0.0"},
		Audio: AudioConfig{
			SampleRate:      16000,
			Channels:        1,
			BitDepth:        16,
			FrameDurationMs: 30,
			PadPartialFrame: true,
		},
		VAD:       VADConfig{Threshold: 0.02, Smoothing: 0.3},
		Segmenter: SegmenterConfig{SilenceDuration: 0.7, MaxSegmentDuration: 30},
		Dispatcher: DispatcherConfig{
			Workers:   4,
			QueueSize: 64,
		},
		Relay: RelayConfig{EventQueueCapacity: 256, GracePeriod: 30},
		Transcription: TranscriptionConfig{
			Endpoint:      "http://localhost:9090/transcribe",
			Timeout:       30,
			MaxRetries:    2,
			MaxConcurrent: 8,
		},
		Summarizer: SummarizerConfig{
			Endpoint:        "http://localhost:11434/api/generate",
			Model:           "llama3.1",
			Timeout:         60,
			MaxRetries:      2,
			FinalizeTimeout: 300,
		},
		Storage: StorageConfig{Enabled: true, Path: "data/streams.db"},
		Jobs:    JobsConfig{IdleTimeout: 120},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

func TestValidateAcceptsValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.HTTP.Port = 0 }},
		{"empty address", func(c *Config) { c.HTTP.Address = "" }},
		{"unsupported sample rate", func(c *Config) { c.Audio.SampleRate = 44100 }},
		{"stereo audio", func(c *Config) { c.Audio.Channels = 2 }},
		{"8-bit audio", func(c *Config) { c.Audio.BitDepth = 8 }},
		{"frame too short", func(c *Config) { c.Audio.FrameDurationMs = 5 }},
		{"threshold out of range", func(c *Config) { c.VAD.Threshold = 2 }},
		{"zero silence duration", func(c *Config) { c.Segmenter.SilenceDuration = 0 }},
		{"cap below silence", func(c *Config) { c.Segmenter.MaxSegmentDuration = 0.5 }},
		{"zero workers", func(c *Config) { c.Dispatcher.Workers = 0 }},
		{"zero queue", func(c *Config) { c.Dispatcher.QueueSize = 0 }},
		{"zero event queue", func(c *Config) { c.Relay.EventQueueCapacity = 0 }},
		{"negative grace period", func(c *Config) { c.Relay.GracePeriod = -1 }},
		{"empty transcription endpoint", func(c *Config) { c.Transcription.Endpoint = "" }},
		{"zero transcription concurrency", func(c *Config) { c.Transcription.MaxConcurrent = 0 }},
		{"empty summarizer model", func(c *Config) { c.Summarizer.Model = "" }},
		{"finalize below attempt timeout", func(c *Config) { c.Summarizer.FinalizeTimeout = 10 }},
		{"storage enabled without path", func(c *Config) { c.Storage.Path = "" }},
		{"zero idle timeout", func(c *Config) { c.Jobs.IdleTimeout = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestFrameBytes(t *testing.T) {
	audio := AudioConfig{SampleRate: 16000, BitDepth: 16, FrameDurationMs: 30}
	if got := audio.FrameBytes(); got != 960 {
		t.Errorf("FrameBytes() = %d, want 960", got)
	}

	audio = AudioConfig{SampleRate: 8000, BitDepth: 16, FrameDurationMs: 20}
	if got := audio.FrameBytes(); got != 320 {
		t.Errorf("FrameBytes() = %d, want 320", got)
	}
}

func TestSegmenterFrameCounts(t *testing.T) {
	seg := SegmenterConfig{SilenceDuration: 0.7, MaxSegmentDuration: 30}
	frameDuration := 30 * time.Millisecond

	// 700ms / 30ms rounds down to 23 frames
	if got := seg.SilenceFrames(frameDuration); got != 23 {
		t.Errorf("SilenceFrames = %d, want 23", got)
	}
	if got := seg.MaxSegmentFrames(frameDuration); got != 1000 {
		t.Errorf("MaxSegmentFrames = %d, want 1000", got)
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
http:
  port: 9000
  address: "127.0.0.1"
audio:
  sample_rate: 16000
  channels: 1
  bit_depth: 16
  frame_duration_ms: 30
  pad_partial_frame: true
vad:
  threshold: 0.05
  smoothing: 0.2
segmenter:
  silence_duration: 0.7
  max_segment_duration: 30.0
dispatcher:
  workers: 2
  queue_size: 16
relay:
  event_queue_capacity: 128
  grace_period: 15.0
transcription:
  endpoint: "http://localhost:9090/transcribe"
  timeout: 20
  max_retries: 1
  max_concurrent: 4
summarizer:
  endpoint: "http://localhost:11434/api/generate"
  model: "llama3.1"
  timeout: 30
  max_retries: 1
  finalize_timeout: 120
storage:
  enabled: false
jobs:
  idle_timeout: 60
logging:
  level: "debug"
  format: "text"
  output: "stdout"
`

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTP.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.HTTP.Port)
	}
	if cfg.Dispatcher.Workers != 2 {
		t.Errorf("workers = %d, want 2", cfg.Dispatcher.Workers)
	}
	if cfg.Relay.GetGracePeriod() != 15*time.Second {
		t.Errorf("grace period = %v, want 15s", cfg.Relay.GetGracePeriod())
	}
	if cfg.Storage.Enabled {
		t.Error("storage should be disabled")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error loading missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("{{{not yaml"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid YAML")
	}
}
