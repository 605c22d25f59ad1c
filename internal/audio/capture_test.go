// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"moodtap/internal/analysis"
	"moodtap/internal/pipeline"
	"moodtap/internal/pool"
	"moodtap/pkg/testsignal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCaptureConfig(channels, framesPerBuffer, chunkFrames int) CaptureConfig {
	cfg := DefaultCaptureConfig()
	cfg.Channels = channels
	cfg.FramesPerBuffer = framesPerBuffer
	cfg.ChunkFrames = chunkFrames
	return cfg
}

func TestCaptureConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CaptureConfig)
	}{
		{"zero rate", func(c *CaptureConfig) { c.SampleRate = 0 }},
		{"no channels", func(c *CaptureConfig) { c.Channels = 0 }},
		{"no frames per buffer", func(c *CaptureConfig) { c.FramesPerBuffer = 0 }},
		{"no chunk frames", func(c *CaptureConfig) { c.ChunkFrames = 0 }},
		{"no ring", func(c *CaptureConfig) { c.RingSeconds = 0 }},
		{"gate above one", func(c *CaptureConfig) { c.GateThreshold = 1.5 }},
	}

	require.NoError(t, DefaultCaptureConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultCaptureConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestCaptureRingHoldsTwoChunks(t *testing.T) {
	cfg := testCaptureConfig(2, 256, 8192)
	cfg.RingSeconds = 0.01
	assert.Equal(t, 2*8192*2*bytesPerSample, cfg.ringBytes())
}

func TestCaptureAssemblesChunksAcrossBlocks(t *testing.T) {
	c, err := newCapture(testCaptureConfig(1, 256, 1024))
	require.NoError(t, err)

	signal := testsignal.Sine(2048, DefaultSampleRate, 440, 0.5)
	for off := 0; off < len(signal); off += 256 {
		c.process(signal[off : off+256])
	}

	ctx := context.Background()
	for i := range 2 {
		chunk, err := c.Next(ctx)
		require.NoError(t, err)
		require.Len(t, chunk, 1024)
		assert.Equal(t, signal[i*1024:(i+1)*1024], chunk)
	}
	assert.Equal(t, int64(8), c.Stats().Blocks)
	assert.Zero(t, c.Stats().Buffered)
}

func TestCaptureNextWaitsForCallback(t *testing.T) {
	c, err := newCapture(testCaptureConfig(1, 512, 1024))
	require.NoError(t, err)

	block := testsignal.Sine(512, DefaultSampleRate, 440, 0.5)
	go func() {
		for range 2 {
			time.Sleep(10 * time.Millisecond)
			c.process(block)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	chunk, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, chunk, 1024)
}

func TestCaptureDropsWholeBlocksWhenFull(t *testing.T) {
	cfg := testCaptureConfig(2, 100, 100)
	cfg.RingSeconds = 1e-9
	c, err := newCapture(cfg)
	require.NoError(t, err)

	// The ring holds exactly two blocks.
	block := testsignal.Interleave(testsignal.Sine(100, DefaultSampleRate, 440, 0.5), 2)
	for range 5 {
		c.process(block)
	}

	stats := c.Stats()
	assert.Equal(t, int64(5), stats.Blocks)
	assert.Equal(t, int64(3), stats.Dropped)
	assert.Equal(t, 200, stats.Buffered)
}

func TestCaptureCloseDrainsThenEOF(t *testing.T) {
	c, err := newCapture(testCaptureConfig(2, 300, 512))
	require.NoError(t, err)

	c.process(testsignal.Interleave(testsignal.Sine(300, DefaultSampleRate, 440, 0.5), 2))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	ctx := context.Background()
	chunk, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, chunk, 600)

	_, err = c.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestCaptureNextHonorsContext(t *testing.T) {
	c, err := newCapture(testCaptureConfig(1, 256, 1024))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Next(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCaptureStartWithoutDevice(t *testing.T) {
	c, err := newCapture(DefaultCaptureConfig())
	require.NoError(t, err)
	assert.Error(t, c.Start())
}

func TestCaptureFeedsPipeline(t *testing.T) {
	const chunk = 4096
	c, err := newCapture(testCaptureConfig(1, 512, chunk))
	require.NoError(t, err)

	signal := testsignal.Sine(8*chunk, DefaultSampleRate, 440, 0.5)
	for off := 0; off < len(signal); off += 512 {
		c.process(signal[off : off+512])
	}
	require.NoError(t, c.Close())

	poolCfg := pool.DefaultConfig()
	poolCfg.FrameCapacity = chunk
	p, err := pool.New(poolCfg)
	require.NoError(t, err)
	analyzer, err := analysis.NewSpectralAnalyzer(analysis.DefaultAnalyzerConfig())
	require.NoError(t, err)
	pl, err := pipeline.New(p, analyzer, pipeline.DefaultOptions())
	require.NoError(t, err)

	res, err := pl.Run(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, 8, res.Chunks)
	assert.Zero(t, res.Skipped)
	assert.InDelta(t, 0.5, res.Features.Peak, 1e-3)
}

func TestCaptureProcessNoAllocsHotPath(t *testing.T) {
	c, err := newCapture(testCaptureConfig(1, 512, 512))
	require.NoError(t, err)
	block := testsignal.Sine(512, DefaultSampleRate, 440, 0.5)
	out := make([]byte, 512*bytesPerSample)

	allocs := testing.AllocsPerRun(100, func() {
		c.process(block)
		_, _ = c.ring.Read(out)
	})
	if allocs > 0 {
		t.Errorf("Capture callback allocated memory: got %.1f allocs, want 0", allocs)
	}
}
