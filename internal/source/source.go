// SPDX-License-Identifier: MIT
//
// Package source decodes audio files and in-memory sample slices into the
// chunk stream consumed by the analysis pipeline.
package source

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"moodtap/internal/pipeline"
)

// DefaultReadFrames is how many frames each Next call decodes.
const DefaultReadFrames = 4096

var (
	ErrInvalidFormat = errors.New("source: invalid format")
	ErrUnsupported   = errors.New("source: unsupported format")
)

// Format identifies the container a stream was decoded from.
type Format int

const (
	FormatRaw Format = iota
	FormatWAV
	FormatMP3
	FormatFLAC
)

func (f Format) String() string {
	switch f {
	case FormatWAV:
		return "wav"
	case FormatMP3:
		return "mp3"
	case FormatFLAC:
		return "flac"
	default:
		return "raw"
	}
}

// Info describes a decoded stream. TotalFrames is -1 when unknown.
type Info struct {
	Format      Format
	SampleRate  float64
	Channels    int
	BitDepth    int
	TotalFrames int64
	Duration    time.Duration
	Path        string
}

// Stream is a pipeline source backed by a decoder.
type Stream interface {
	pipeline.Source
	Info() Info
	Close() error
}

var (
	_ Stream = (*WAV)(nil)
	_ Stream = (*MP3)(nil)
	_ Stream = (*FLAC)(nil)
	_ Stream = (*Samples)(nil)
)

// Open picks a decoder from the file extension. WAV accepts 8-bit unsigned
// and 16, 24 or 32-bit signed PCM; FLAC accepts 8, 16 or 24 bits.
func Open(path string) (Stream, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav", ".wave":
		return OpenWAV(path)
	case ".mp3":
		return OpenMP3(path)
	case ".flac":
		return OpenFLAC(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
}

// Supported reports whether Open can decode path.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave", ".mp3", ".flac":
		return true
	}
	return false
}

// pcmDivisor returns the full-scale value for signed PCM of the given depth.
func pcmDivisor(bitDepth int) (float32, error) {
	switch bitDepth {
	case 8:
		return 128.0, nil
	case 16:
		return 32768.0, nil
	case 24:
		return 8388608.0, nil
	case 32:
		return 2147483648.0, nil
	default:
		return 0, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidFormat, bitDepth)
	}
}

func durationOf(frames int64, sampleRate float64) time.Duration {
	if frames < 0 || sampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(frames) / sampleRate * float64(time.Second))
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
