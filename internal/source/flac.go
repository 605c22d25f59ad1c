// SPDX-License-Identifier: MIT
package source

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tphakala/flac"
)

// FLAC streams decoded samples from a FLAC file, one FLAC frame per Next.
type FLAC struct {
	closer  io.Closer
	dec     *flac.Decoder
	info    Info
	divisor float32
	width   int // bytes per sample
	out     []float32
}

// OpenFLAC opens a FLAC file.
func OpenFLAC(path string) (*FLAC, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open FLAC file: %w", err)
	}
	fl, err := NewFLAC(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	fl.closer = f
	fl.info.Path = path
	return fl, nil
}

// NewFLAC decodes from r.
func NewFLAC(r io.Reader) (*FLAC, error) {
	dec, err := flac.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	divisor, err := pcmDivisor(dec.BitsPerSample)
	if err != nil {
		return nil, err
	}
	if dec.NChannels < 1 || dec.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: %d channels at %d Hz", ErrInvalidFormat, dec.NChannels, dec.SampleRate)
	}

	sampleRate := float64(dec.SampleRate)
	totalFrames := int64(dec.TotalSamples)
	if totalFrames == 0 {
		totalFrames = -1
	}
	return &FLAC{
		dec:     dec,
		divisor: divisor,
		width:   dec.BitsPerSample / 8,
		info: Info{
			Format:      FormatFLAC,
			SampleRate:  sampleRate,
			Channels:    dec.NChannels,
			BitDepth:    dec.BitsPerSample,
			TotalFrames: totalFrames,
			Duration:    durationOf(totalFrames, sampleRate),
		},
	}, nil
}

// Next decodes the following FLAC frame.
func (f *FLAC) Next(ctx context.Context) ([]float32, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	frame, err := f.dec.Next()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("error reading FLAC frame: %w", err)
	}

	n := len(frame) / f.width
	n -= n % f.info.Channels
	if cap(f.out) < n {
		f.out = make([]float32, n)
	}
	f.out = f.out[:n]

	for i := range n {
		f.out[i] = float32(decodeSample(frame[i*f.width:], f.width)) / f.divisor
	}
	return f.out, nil
}

// decodeSample reads one little-endian signed sample of width bytes.
func decodeSample(b []byte, width int) int32 {
	switch width {
	case 1:
		return int32(int8(b[0]))
	case 2:
		return int32(int16(binary.LittleEndian.Uint16(b)))
	case 3:
		s := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		if s&0x800000 != 0 {
			s |= -1 << 24
		}
		return s
	case 4:
		return int32(binary.LittleEndian.Uint32(b))
	}
	return 0
}

func (f *FLAC) SampleRate() float64 { return f.info.SampleRate }
func (f *FLAC) Channels() int       { return f.info.Channels }
func (f *FLAC) Info() Info          { return f.info }

// Close closes the underlying file when the stream owns one.
func (f *FLAC) Close() error {
	if f.closer != nil {
		return f.closer.Close()
	}
	return nil
}
