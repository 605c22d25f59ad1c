// SPDX-License-Identifier: MIT
// Package config loads the moodtap configuration and translates it into the
// settings each component takes.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"moodtap/internal/analysis"
	"moodtap/internal/audio"
	"moodtap/internal/cache"
	"moodtap/internal/fft"
	"moodtap/internal/mood"
	"moodtap/internal/pipeline"
	"moodtap/internal/pool"
	"moodtap/internal/session"
	"moodtap/internal/transport/udp"
)

// EnvPrefix starts every environment override.
const EnvPrefix = "MOODTAP_"

// Hardware and processing limits.
const (
	MinDeviceID     = audio.DefaultDeviceID // -1 represents system default device
	MinSampleRate   = 8000                  // Minimum usable sample rate (Hz)
	MaxSampleRate   = 192000                // Maximum supported sample rate (Hz)
	MaxBufferFrames = 8192                  // Maximum frames per callback buffer
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Workers:  4,
		Pool: PoolConfig{
			FrameCapacity:    pool.DefaultFrameCapacity,
			CeilingMB:        pool.DefaultCeilingBytes >> 20,
			MaxBuffers:       pool.DefaultMaxBuffers,
			CleanupThreshold: pool.DefaultCleanupThreshold,
		},
		Analysis: AnalysisConfig{
			FFTSize:             analysis.DefaultFFTSize,
			HopSize:             analysis.DefaultHopSize,
			Window:              fft.Hann.String(),
			ChunkTimeout:        pipeline.DefaultChunkTimeout,
			MaxConsecutiveSkips: pipeline.DefaultMaxConsecutiveSkips,
			AcquireRetries:      pipeline.DefaultAcquireRetries,
			AcquireBackoff:      pipeline.DefaultAcquireBackoff,
		},
		Mood: MoodConfig{
			BaseThreshold:   mood.DefaultBaseThreshold,
			StabilityFactor: mood.DefaultStabilityFactor,
			WindowSize:      mood.DefaultWindowSize,
			HistorySize:     mood.DefaultHistoryCapacity,
			Segment:         session.DefaultSegment,
		},
		Audio: AudioConfig{
			InputDevice:     audio.DefaultDeviceID,
			SampleRate:      audio.DefaultSampleRate,
			FramesPerBuffer: audio.DefaultFramesPerBuffer,
			InputChannels:   audio.DefaultChannels,
			RingSeconds:     audio.DefaultRingSeconds,
		},
		Recording: RecordingConfig{
			OutputDir: "./recordings",
			BitDepth:  audio.DefaultRecordingBitDepth,
		},
		Transport: TransportConfig{
			Logging:          true,
			UDPTargetAddress: "127.0.0.1:9090",
			UDPSendInterval:  udp.DefaultInterval,
		},
		Cache: CacheConfig{
			Backend:    cache.BackendMemory,
			Path:       "moodtap.db",
			MaxEntries: 1024,
		},
	}
}

// PoolConfig returns the buffer pool settings. Pool buffers are mono; the
// pipeline downmixes before filling them.
func (c *Config) PoolConfig() pool.Config {
	cfg := pool.DefaultConfig()
	cfg.FrameCapacity = c.Pool.FrameCapacity
	cfg.CeilingBytes = int64(c.Pool.CeilingMB) << 20
	cfg.MaxBuffers = c.Pool.MaxBuffers
	cfg.CleanupThreshold = c.Pool.CleanupThreshold
	return cfg
}

// AnalyzerConfig returns the validated STFT settings.
func (c *Config) AnalyzerConfig() (analysis.AnalyzerConfig, error) {
	w, err := fft.ParseWindowFunc(c.Analysis.Window)
	if err != nil {
		return analysis.AnalyzerConfig{}, err
	}
	cfg := analysis.AnalyzerConfig{
		FFTSize: c.Analysis.FFTSize,
		HopSize: c.Analysis.HopSize,
		Window:  w,
	}
	return cfg, cfg.Validate()
}

// PipelineOptions returns the per-run pipeline policy.
func (c *Config) PipelineOptions() pipeline.Options {
	opts := pipeline.DefaultOptions()
	opts.ChunkFrames = c.Pool.FrameCapacity
	opts.ChunkTimeout = c.Analysis.ChunkTimeout
	opts.MaxConsecutiveSkips = c.Analysis.MaxConsecutiveSkips
	opts.AcquireRetries = c.Analysis.AcquireRetries
	opts.AcquireBackoff = c.Analysis.AcquireBackoff
	if c.Analysis.Tempo > 0 {
		tempo := c.Analysis.Tempo
		opts.EstimatedTempo = &tempo
	}
	return opts
}

// StabilityConfig returns the mood stability tuning.
func (c *Config) StabilityConfig() mood.StabilityConfig {
	return mood.StabilityConfig{
		BaseThreshold:   c.Mood.BaseThreshold,
		StabilityFactor: c.Mood.StabilityFactor,
		WindowSize:      c.Mood.WindowSize,
		HistoryCapacity: c.Mood.HistorySize,
	}
}

// SessionConfig combines the pipeline and stability settings. The cache
// namespace changes whenever a setting that shapes the vector changes.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		Pipeline:       c.PipelineOptions(),
		Stability:      c.StabilityConfig(),
		Segment:        c.Mood.Segment,
		CacheNamespace: c.cacheNamespace(),
	}
}

func (c *Config) cacheNamespace() string {
	ns := fmt.Sprintf("%s-%d-%d-%d", strings.ToLower(c.Analysis.Window),
		c.Analysis.FFTSize, c.Analysis.HopSize, c.Pool.FrameCapacity)
	if c.Analysis.Tempo > 0 {
		ns += fmt.Sprintf("-t%g", c.Analysis.Tempo)
	}
	return ns
}

// CaptureConfig returns the live input settings. Capture chunks match the
// pool buffers.
func (c *Config) CaptureConfig() audio.CaptureConfig {
	return audio.CaptureConfig{
		DeviceID:        c.Audio.InputDevice,
		SampleRate:      c.Audio.SampleRate,
		Channels:        c.Audio.InputChannels,
		FramesPerBuffer: c.Audio.FramesPerBuffer,
		ChunkFrames:     c.Pool.FrameCapacity,
		LowLatency:      c.Audio.LowLatency,
		RingSeconds:     c.Audio.RingSeconds,
		GateThreshold:   c.Audio.GateThreshold,
	}
}

// CacheOptions returns the cache backend selection.
func (c *Config) CacheOptions() cache.Options {
	return cache.Options{
		Backend:    c.Cache.Backend,
		Path:       c.Cache.Path,
		MaxEntries: c.Cache.MaxEntries,
	}
}

// RecordingPath returns a timestamped WAV path in the recording directory.
func (c *Config) RecordingPath(now time.Time) string {
	name := "recording-" + now.UTC().Format("02-01-2006-150405") + ".wav"
	return filepath.Join(c.Recording.OutputDir, name)
}
