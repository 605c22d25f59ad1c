// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"moodtap/internal/cache"
	"moodtap/internal/fft"
	applog "moodtap/internal/log"

	"gopkg.in/yaml.v3"
)

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	LogLevel  string          `yaml:"log_level"` // Logging level (debug, info, warn, error).
	Workers   int             `yaml:"workers"`   // Concurrent file analyses in batch mode.
	Pool      PoolConfig      `yaml:"pool"`      // Shared sample buffer pool.
	Analysis  AnalysisConfig  `yaml:"analysis"`  // STFT geometry and pipeline policy.
	Mood      MoodConfig      `yaml:"mood"`      // Classification stability.
	Audio     AudioConfig     `yaml:"audio"`     // Live capture settings.
	Recording RecordingConfig `yaml:"recording"` // Recording of live input.
	Transport TransportConfig `yaml:"transport"` // Result publishing.
	Cache     CacheConfig     `yaml:"cache"`     // Feature vector cache.
}

// PoolConfig sizes the buffer pool.
type PoolConfig struct {
	FrameCapacity    int           `yaml:"frame_capacity"`    // Frames per buffer, also the analysis chunk length.
	CeilingMB        int           `yaml:"ceiling_mb"`        // Upper bound on resident buffer memory.
	MaxBuffers       int           `yaml:"max_buffers"`       // Upper bound on resident buffer count.
	CleanupThreshold time.Duration `yaml:"cleanup_threshold"` // Idle age after which buffers are dropped.
}

// AnalysisConfig holds STFT and pipeline settings.
type AnalysisConfig struct {
	FFTSize             int           `yaml:"fft_size"`
	HopSize             int           `yaml:"hop_size"`
	Window              string        `yaml:"window"` // Window function name (e.g., "Hann", "Hamming").
	ChunkTimeout        time.Duration `yaml:"chunk_timeout"`
	MaxConsecutiveSkips int           `yaml:"max_consecutive_skips"`
	AcquireRetries      int           `yaml:"acquire_retries"`
	AcquireBackoff      time.Duration `yaml:"acquire_backoff"`
	Tempo               float64       `yaml:"tempo"` // Fixed tempo in BPM; 0 estimates from onsets.
}

// MoodConfig tunes the stability engine.
type MoodConfig struct {
	BaseThreshold   float64       `yaml:"base_threshold"`
	StabilityFactor float64       `yaml:"stability_factor"`
	WindowSize      int           `yaml:"window_size"`
	HistorySize     int           `yaml:"history_size"`
	Segment         time.Duration `yaml:"segment"` // Live audio per classification.
}

// AudioConfig holds settings related to audio input.
type AudioConfig struct {
	InputDevice     int     `yaml:"input_device"`      // PortAudio device index for audio input (-1 for default).
	SampleRate      float64 `yaml:"sample_rate"`       // Sample rate in Hz (e.g., 44100, 48000).
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // Frames per PortAudio callback.
	LowLatency      bool    `yaml:"low_latency"`       // Request low latency settings from PortAudio device.
	InputChannels   int     `yaml:"input_channels"`    // Number of input channels to capture.
	RingSeconds     float64 `yaml:"ring_seconds"`      // Audio buffered between callback and analysis.
	GateThreshold   float64 `yaml:"gate_threshold"`    // Peak level below which blocks are ignored; 0 disables.
}

// RecordingConfig holds settings related to audio recording functionality.
type RecordingConfig struct {
	Enabled   bool   `yaml:"enabled"`    // Enable audio recording to file.
	OutputDir string `yaml:"output_dir"` // Directory to save recorded audio files.
	BitDepth  int    `yaml:"bit_depth"`  // Bit depth for recorded audio (16, 24 or 32).
}

// TransportConfig holds settings related to sending results over the network.
type TransportConfig struct {
	Logging          bool          `yaml:"logging"`            // Log every published message.
	WebSocketAddr    string        `yaml:"websocket_addr"`     // Listen address for WebSocket clients; empty disables.
	UDPEnabled       bool          `yaml:"udp_enabled"`        // Enable sending feature packets over UDP.
	UDPTargetAddress string        `yaml:"udp_target_address"` // Target address and port for UDP packets (e.g., "127.0.0.1:9090").
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`  // Interval between sending UDP packets.
}

// CacheConfig selects the feature vector cache.
type CacheConfig struct {
	Backend    string `yaml:"backend"`     // none, memory or sqlite.
	Path       string `yaml:"path"`        // SQLite database file.
	MaxEntries int    `yaml:"max_entries"` // Memory backend bound; 0 is unbounded.
}

// candidates lists the locations searched when no path is given.
func candidates() []string {
	paths := []string{"moodtap.yaml", "config.yaml"}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "moodtap", "config.yaml"))
	}
	return paths
}

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches the default locations. If no file is found, it uses built-in
// defaults. After loading defaults or from file, it applies environment variable
// overrides and validates the final configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		for _, candidate := range candidates() {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		applog.Debugf("Config: loaded %s", path)
	}

	// Apply environment variable overrides AFTER loading from file.
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if _, ok := applog.ParseLevel(c.LogLevel); !ok {
		add("log_level %q is not a known level", c.LogLevel)
	}
	if c.Workers < 1 {
		add("workers must be at least 1, got %d", c.Workers)
	}

	if c.Pool.FrameCapacity < 1 {
		add("pool.frame_capacity must be positive, got %d", c.Pool.FrameCapacity)
	}
	if c.Pool.CeilingMB < 1 || c.Pool.MaxBuffers < 1 {
		add("pool.ceiling_mb and pool.max_buffers must be positive")
	}

	if _, err := fft.ParseWindowFunc(c.Analysis.Window); err != nil {
		add("analysis.window: %w", err)
	} else if _, err := c.AnalyzerConfig(); err != nil {
		add("analysis: %w", err)
	}
	if c.Analysis.FFTSize > c.Pool.FrameCapacity {
		add("analysis.fft_size %d exceeds pool.frame_capacity %d", c.Analysis.FFTSize, c.Pool.FrameCapacity)
	}
	if c.Analysis.ChunkTimeout < 0 || c.Analysis.AcquireBackoff < 0 ||
		c.Analysis.MaxConsecutiveSkips < 0 || c.Analysis.AcquireRetries < 0 {
		add("analysis timeouts and retry limits must not be negative")
	}
	if c.Analysis.Tempo < 0 {
		add("analysis.tempo must not be negative, got %v", c.Analysis.Tempo)
	}

	if err := c.StabilityConfig().Validate(); err != nil {
		add("mood: %w", err)
	}
	if c.Mood.Segment <= 0 {
		add("mood.segment must be positive, got %s", c.Mood.Segment)
	}

	if c.Audio.InputDevice < MinDeviceID {
		add("audio.input_device must be at least %d, got %d", MinDeviceID, c.Audio.InputDevice)
	}
	if c.Audio.SampleRate < MinSampleRate || c.Audio.SampleRate > MaxSampleRate {
		add("audio.sample_rate must be in [%d, %d], got %v", MinSampleRate, MaxSampleRate, c.Audio.SampleRate)
	}
	if c.Audio.FramesPerBuffer < 1 || c.Audio.FramesPerBuffer > MaxBufferFrames {
		add("audio.frames_per_buffer must be in [1, %d], got %d", MaxBufferFrames, c.Audio.FramesPerBuffer)
	}
	if err := c.CaptureConfig().Validate(); err != nil {
		add("audio: %w", err)
	}

	switch c.Recording.BitDepth {
	case 16, 24, 32:
	default:
		add("recording.bit_depth must be 16, 24 or 32, got %d", c.Recording.BitDepth)
	}

	if c.Transport.UDPEnabled {
		if !strings.Contains(c.Transport.UDPTargetAddress, ":") {
			add("transport.udp_target_address %q appears invalid (missing port?)", c.Transport.UDPTargetAddress)
		}
		if c.Transport.UDPSendInterval <= 0 {
			add("transport.udp_send_interval must be positive when UDP is enabled")
		}
	}

	switch c.Cache.Backend {
	case cache.BackendNone, cache.BackendMemory:
	case cache.BackendSQLite:
		if c.Cache.Path == "" {
			add("cache.path is required for the sqlite backend")
		}
	default:
		add("cache.backend %q is not one of none, memory, sqlite", c.Cache.Backend)
	}
	if c.Cache.MaxEntries < 0 {
		add("cache.max_entries must not be negative, got %d", c.Cache.MaxEntries)
	}

	return errors.Join(errs...)
}

// applyEnvOverrides reads MOODTAP_* variables. A variable that is set but
// cannot be parsed is an error.
func (c *Config) applyEnvOverrides() error {
	var errs []error
	override := func(name string, apply func(string) error) {
		val, ok := os.LookupEnv(EnvPrefix + name)
		if !ok {
			return
		}
		if err := apply(val); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			return
		}
		applog.Infof("Config: overriding %s%s from env: %s", EnvPrefix, name, val)
	}
	setString := func(dst *string) func(string) error {
		return func(v string) error { *dst = v; return nil }
	}
	setBool := func(dst *bool) func(string) error {
		return func(v string) (err error) { *dst, err = strconv.ParseBool(v); return }
	}
	setInt := func(dst *int) func(string) error {
		return func(v string) (err error) { *dst, err = strconv.Atoi(v); return }
	}
	setDuration := func(dst *time.Duration) func(string) error {
		return func(v string) (err error) { *dst, err = time.ParseDuration(v); return }
	}

	override("LOG_LEVEL", setString(&c.LogLevel))
	override("WORKERS", setInt(&c.Workers))
	override("INPUT_DEVICE", setInt(&c.Audio.InputDevice))
	override("CACHE_BACKEND", setString(&c.Cache.Backend))
	override("CACHE_PATH", setString(&c.Cache.Path))
	override("WEBSOCKET_ADDR", setString(&c.Transport.WebSocketAddr))
	override("UDP_ENABLED", setBool(&c.Transport.UDPEnabled))
	override("UDP_TARGET_ADDRESS", setString(&c.Transport.UDPTargetAddress))
	override("UDP_SEND_INTERVAL", setDuration(&c.Transport.UDPSendInterval))

	return errors.Join(errs...)
}
