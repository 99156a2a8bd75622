package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Audio         AudioConfig         `yaml:"audio"`
	VAD           VADConfig           `yaml:"vad"`
	Segmenter     SegmenterConfig     `yaml:"segmenter"`
	Dispatcher    DispatcherConfig    `yaml:"dispatcher"`
	Relay         RelayConfig         `yaml:"relay"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Summarizer    SummarizerConfig    `yaml:"summarizer"`
	Storage       StorageConfig       `yaml:"storage"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
}

// AudioConfig contains inbound audio stream parameters
type AudioConfig struct {
	SampleRate      int  `yaml:"sample_rate"`
	Channels        int  `yaml:"channels"`
	BitDepth        int  `yaml:"bit_depth"`
	FrameDurationMs int  `yaml:"frame_duration_ms"`
	PadPartialFrame bool `yaml:"pad_partial_frame"`
}

// VADConfig contains voice activity classifier configuration
type VADConfig struct {
	Threshold float32 `yaml:"threshold"`
	Smoothing float32 `yaml:"smoothing"`
}

// SegmenterConfig contains speech segmentation parameters
type SegmenterConfig struct {
	SilenceDuration    float64 `yaml:"silence_duration"`     // seconds of trailing silence that closes a segment
	MaxSegmentDuration float64 `yaml:"max_segment_duration"` // seconds before a segment is force-emitted
}

// DispatcherConfig contains transcription worker pool configuration
type DispatcherConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// RelayConfig contains per-job event relay configuration
type RelayConfig struct {
	EventQueueCapacity int     `yaml:"event_queue_capacity"`
	GracePeriod        float64 `yaml:"grace_period"` // seconds a terminal job stays subscribable
}

// TranscriptionConfig contains transcription API configuration
type TranscriptionConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	Language      string `yaml:"language"`
	Model         string `yaml:"model"`
}

// SummarizerConfig contains summarization API configuration
type SummarizerConfig struct {
	Endpoint        string `yaml:"endpoint"`
	Model           string `yaml:"model"`
	Timeout         int    `yaml:"timeout"` // seconds, per attempt
	MaxRetries      int    `yaml:"max_retries"`
	FinalizeTimeout int    `yaml:"finalize_timeout"` // seconds, whole summarization phase
}

// StorageConfig contains the durable store configuration
type StorageConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// JobsConfig contains job lifecycle configuration
type JobsConfig struct {
	IdleTimeout int `yaml:"idle_timeout"` // seconds without chunks before a job is force-finalized
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Segmenter.Validate(); err != nil {
		return fmt.Errorf("segmenter config: %w", err)
	}

	if err := c.Dispatcher.Validate(); err != nil {
		return fmt.Errorf("dispatcher config: %w", err)
	}

	if err := c.Relay.Validate(); err != nil {
		return fmt.Errorf("relay config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Summarizer.Validate(); err != nil {
		return fmt.Errorf("summarizer config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Jobs.Validate(); err != nil {
		return fmt.Errorf("jobs config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	switch a.SampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		return fmt.Errorf("sample_rate must be one of 8000, 16000, 32000, 48000 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	if a.FrameDurationMs < 10 || a.FrameDurationMs > 100 {
		return fmt.Errorf("frame_duration_ms must be between 10 and 100, got %d", a.FrameDurationMs)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.Threshold < 0 || v.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", v.Threshold)
	}

	if v.Smoothing < 0 || v.Smoothing >= 1 {
		return fmt.Errorf("smoothing must be between 0 and 1 (exclusive), got %f", v.Smoothing)
	}

	return nil
}

// Validate validates segmenter configuration
func (s *SegmenterConfig) Validate() error {
	if s.SilenceDuration <= 0 {
		return fmt.Errorf("silence_duration must be positive, got %f", s.SilenceDuration)
	}

	if s.MaxSegmentDuration <= s.SilenceDuration {
		return fmt.Errorf("max_segment_duration (%f) must be greater than silence_duration (%f)",
			s.MaxSegmentDuration, s.SilenceDuration)
	}

	return nil
}

// Validate validates dispatcher configuration
func (d *DispatcherConfig) Validate() error {
	if d.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", d.Workers)
	}

	if d.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", d.QueueSize)
	}

	return nil
}

// Validate validates relay configuration
func (r *RelayConfig) Validate() error {
	if r.EventQueueCapacity < 1 {
		return fmt.Errorf("event_queue_capacity must be at least 1, got %d", r.EventQueueCapacity)
	}

	if r.GracePeriod < 0 {
		return fmt.Errorf("grace_period cannot be negative, got %f", r.GracePeriod)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	return nil
}

// Validate validates summarizer configuration
func (s *SummarizerConfig) Validate() error {
	if s.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if s.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", s.Timeout)
	}

	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", s.MaxRetries)
	}

	if s.FinalizeTimeout < s.Timeout {
		return fmt.Errorf("finalize_timeout (%d) must cover at least one attempt timeout (%d)",
			s.FinalizeTimeout, s.Timeout)
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	if s.Enabled && s.Path == "" {
		return fmt.Errorf("path cannot be empty when storage is enabled")
	}

	return nil
}

// Validate validates jobs configuration
func (j *JobsConfig) Validate() error {
	if j.IdleTimeout < 1 {
		return fmt.Errorf("idle_timeout must be at least 1 second, got %d", j.IdleTimeout)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// FrameBytes returns the size of one audio frame in bytes
func (a *AudioConfig) FrameBytes() int {
	return a.SampleRate * a.FrameDurationMs / 1000 * (a.BitDepth / 8)
}

// GetFrameDuration returns the frame duration as a time.Duration
func (a *AudioConfig) GetFrameDuration() time.Duration {
	return time.Duration(a.FrameDurationMs) * time.Millisecond
}

// SilenceFrames returns the number of consecutive silent frames that closes a segment
func (s *SegmenterConfig) SilenceFrames(frameDuration time.Duration) int {
	n := int(time.Duration(s.SilenceDuration*float64(time.Second)) / frameDuration)
	if n < 1 {
		n = 1
	}
	return n
}

// MaxSegmentFrames returns the frame count at which a segment is force-emitted
func (s *SegmenterConfig) MaxSegmentFrames(frameDuration time.Duration) int {
	n := int(time.Duration(s.MaxSegmentDuration*float64(time.Second)) / frameDuration)
	if n < 1 {
		n = 1
	}
	return n
}

// GetGracePeriod returns the terminal-job grace period as a time.Duration
func (r *RelayConfig) GetGracePeriod() time.Duration {
	return time.Duration(r.GracePeriod * float64(time.Second))
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetTimeoutDuration returns the per-attempt summarization timeout as a time.Duration
func (s *SummarizerConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// GetFinalizeTimeout returns the whole-phase summarization timeout as a time.Duration
func (s *SummarizerConfig) GetFinalizeTimeout() time.Duration {
	return time.Duration(s.FinalizeTimeout) * time.Second
}

// GetIdleTimeout returns the job idle timeout as a time.Duration
func (j *JobsConfig) GetIdleTimeout() time.Duration {
	return time.Duration(j.IdleTimeout) * time.Second
}
