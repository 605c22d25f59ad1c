// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"moodtap/pkg/testsignal"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readWAV(t *testing.T, path string) (*wav.Decoder, []int) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile(), "not a valid WAV file")
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	return dec, buf.Data
}

func TestRecorderWritesPCM(t *testing.T) {
	tests := []struct {
		bitDepth int
		channels int
	}{
		{16, 1},
		{16, 2},
		{24, 1},
		{32, 2},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%dbit_%dch", tt.bitDepth, tt.channels), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "take.wav")
			rec, err := NewRecorder(path, DefaultSampleRate, tt.channels, tt.bitDepth)
			require.NoError(t, err)

			block := testsignal.Interleave(testsignal.Sine(1000, DefaultSampleRate, 440, 0.5), tt.channels)
			require.NoError(t, rec.Write(block))
			require.NoError(t, rec.Write(block))
			assert.Equal(t, int64(2000), rec.Frames())
			require.NoError(t, rec.Close())

			dec, data := readWAV(t, path)
			assert.Equal(t, uint16(tt.channels), dec.NumChans)
			assert.Equal(t, uint16(tt.bitDepth), dec.BitDepth)
			assert.Equal(t, uint32(DefaultSampleRate), dec.SampleRate)
			require.Len(t, data, 2000*tt.channels)

			scale := float64(int64(1)<<(tt.bitDepth-1) - 1)
			for i := range 100 {
				want := math.Round(float64(block[i]) * scale)
				assert.InDelta(t, want, float64(data[i]), 1)
			}
		})
	}
}

func TestRecorderClipsOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	rec, err := NewRecorder(path, DefaultSampleRate, 1, 16)
	require.NoError(t, err)
	require.NoError(t, rec.Write([]float32{2, -2, 0}))
	require.NoError(t, rec.Close())

	_, data := readWAV(t, path)
	assert.Equal(t, []int{math.MaxInt16, -math.MaxInt16, 0}, data)
}

func TestRecorderErrorCases(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		desc     string
		path     string
		rate     int
		channels int
		depth    int
	}{
		{"Bad bit depth", filepath.Join(dir, "a.wav"), DefaultSampleRate, 1, 12},
		{"Zero rate", filepath.Join(dir, "b.wav"), 0, 1, 16},
		{"No channels", filepath.Join(dir, "c.wav"), DefaultSampleRate, 0, 16},
		{"Invalid path", "/nonexistent/path/file.wav", DefaultSampleRate, 1, 16},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			_, err := NewRecorder(tt.path, tt.rate, tt.channels, tt.depth)
			assert.Error(t, err)
		})
	}
}

func TestRecorderWriteAfterClose(t *testing.T) {
	rec, err := NewRecorder(filepath.Join(t.TempDir(), "closed.wav"), DefaultSampleRate, 1, 16)
	require.NoError(t, err)
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())
	assert.ErrorIs(t, rec.Write([]float32{0.1}), ErrRecorderClosed)
}

func TestRecorderConcurrentClose(t *testing.T) {
	rec, err := NewRecorder(filepath.Join(t.TempDir(), "race.wav"), DefaultSampleRate, 1, 16)
	require.NoError(t, err)
	block := testsignal.Sine(256, DefaultSampleRate, 440, 0.5)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 200 {
			if err := rec.Write(block); err != nil {
				assert.ErrorIs(t, err, ErrRecorderClosed)
				return
			}
		}
	}()
	require.NoError(t, rec.Close())
	wg.Wait()
}

func TestCaptureRecordingStartStop(t *testing.T) {
	c, err := newCapture(testCaptureConfig(2, 256, 1024))
	require.NoError(t, err)
	c.SetGateThreshold(0.9)
	c.EnableGate()

	path := filepath.Join(t.TempDir(), "capture.wav")
	require.NoError(t, c.StartRecording(path, DefaultRecordingBitDepth))
	assert.True(t, c.Recording())
	assert.EqualError(t, c.StartRecording(path, DefaultRecordingBitDepth), "already recording")

	// Gated blocks are still recorded.
	block := testsignal.Interleave(testsignal.Sine(256, DefaultSampleRate, 440, 0.5), 2)
	for range 4 {
		c.process(block)
	}
	assert.Equal(t, int64(4), c.Stats().Gated)

	require.NoError(t, c.StopRecording())
	assert.False(t, c.Recording())
	require.NoError(t, c.StopRecording())

	dec, data := readWAV(t, path)
	assert.Equal(t, uint16(2), dec.NumChans)
	assert.Len(t, data, 4*256*2)
}

func TestCaptureCloseStopsRecording(t *testing.T) {
	c, err := newCapture(testCaptureConfig(1, 256, 1024))
	require.NoError(t, err)

	require.NoError(t, c.StartRecording(filepath.Join(t.TempDir(), "close.wav"), 24))
	require.NoError(t, c.Close())
	assert.False(t, c.Recording())
}

func BenchmarkRecorderWrite(b *testing.B) {
	rec, err := NewRecorder(filepath.Join(b.TempDir(), "bench.wav"), DefaultSampleRate, 2, 16)
	if err != nil {
		b.Fatal(err)
	}
	defer rec.Close()
	block := testsignal.Interleave(testsignal.Sine(512, DefaultSampleRate, 440, 0.5), 2)

	b.ReportAllocs()
	b.ResetTimer()

	for b.Loop() {
		_ = rec.Write(block)
	}
}
