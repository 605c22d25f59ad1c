// SPDX-License-Identifier: MIT
package source

import (
	"context"
	"fmt"
	"io"
)

// Samples replays an in-memory interleaved buffer in fixed-size chunks.
type Samples struct {
	data      []float32
	info      Info
	chunkSize int
	pos       int
}

// NewSamples wraps data, which must hold whole frames of channels samples.
func NewSamples(data []float32, sampleRate float64, channels, chunkFrames int) (*Samples, error) {
	if channels < 1 || sampleRate <= 0 {
		return nil, fmt.Errorf("%w: %d channels at %v Hz", ErrInvalidFormat, channels, sampleRate)
	}
	if len(data)%channels != 0 {
		return nil, fmt.Errorf("%w: %d samples is not a whole number of frames", ErrInvalidFormat, len(data))
	}
	if chunkFrames <= 0 {
		chunkFrames = DefaultReadFrames
	}
	frames := int64(len(data) / channels)
	return &Samples{
		data:      data,
		chunkSize: chunkFrames * channels,
		info: Info{
			Format:      FormatRaw,
			SampleRate:  sampleRate,
			Channels:    channels,
			BitDepth:    32,
			TotalFrames: frames,
			Duration:    durationOf(frames, sampleRate),
		},
	}, nil
}

// Next returns the following chunk; the last one may be short.
func (s *Samples) Next(ctx context.Context) ([]float32, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if s.pos >= len(s.data) {
		return nil, io.EOF
	}
	end := min(s.pos+s.chunkSize, len(s.data))
	chunk := s.data[s.pos:end]
	s.pos = end
	return chunk, nil
}

// Rewind restarts playback from the first sample.
func (s *Samples) Rewind() {
	s.pos = 0
}

func (s *Samples) SampleRate() float64 { return s.info.SampleRate }
func (s *Samples) Channels() int       { return s.info.Channels }
func (s *Samples) Info() Info          { return s.info }
func (s *Samples) Close() error        { return nil }
