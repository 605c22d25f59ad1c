// SPDX-License-Identifier: MIT
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"
)

// mp3 decodes to 16-bit little-endian stereo.
const (
	mp3Channels   = 2
	mp3FrameBytes = 4
)

// MP3 streams decoded samples from an MPEG-1/2 Layer III file.
type MP3 struct {
	closer io.Closer
	dec    *mp3.Decoder
	info   Info
	raw    []byte
	out    []float32
}

// OpenMP3 opens an MP3 file.
func OpenMP3(path string) (*MP3, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}
	m, err := NewMP3(f, DefaultReadFrames)
	if err != nil {
		f.Close()
		return nil, err
	}
	m.closer = f
	m.info.Path = path
	return m, nil
}

// NewMP3 decodes from r, reading readFrames frames per Next call.
func NewMP3(r io.Reader, readFrames int) (*MP3, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if readFrames <= 0 {
		readFrames = DefaultReadFrames
	}

	sampleRate := float64(dec.SampleRate())
	totalFrames := int64(-1)
	if length := dec.Length(); length > 0 {
		totalFrames = length / mp3FrameBytes
	}

	return &MP3{
		dec: dec,
		info: Info{
			Format:      FormatMP3,
			SampleRate:  sampleRate,
			Channels:    mp3Channels,
			BitDepth:    16,
			TotalFrames: totalFrames,
			Duration:    durationOf(totalFrames, sampleRate),
		},
		raw: make([]byte, readFrames*mp3FrameBytes),
		out: make([]float32, readFrames*mp3Channels),
	}, nil
}

// Next decodes the following block of frames.
func (m *MP3) Next(ctx context.Context) ([]float32, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	n, err := io.ReadFull(m.dec, m.raw)
	switch {
	case errors.Is(err, io.EOF):
		return nil, io.EOF
	case err != nil && !errors.Is(err, io.ErrUnexpectedEOF):
		return nil, fmt.Errorf("error reading MP3 data: %w", err)
	}

	n -= n % mp3FrameBytes
	samples := n / 2
	for i := range samples {
		s := int16(m.raw[2*i]) | int16(m.raw[2*i+1])<<8
		m.out[i] = float32(s) / 32768.0
	}
	if samples == 0 {
		return nil, io.EOF
	}
	return m.out[:samples], nil
}

func (m *MP3) SampleRate() float64 { return m.info.SampleRate }
func (m *MP3) Channels() int       { return m.info.Channels }
func (m *MP3) Info() Info          { return m.info }

// Close closes the underlying file when the stream owns one.
func (m *MP3) Close() error {
	if m.closer != nil {
		return m.closer.Close()
	}
	return nil
}
