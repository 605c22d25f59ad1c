// SPDX-License-Identifier: MIT
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAV streams PCM samples from a RIFF/WAVE file.
type WAV struct {
	closer  io.Closer
	dec     *wav.Decoder
	info    Info
	divisor float32
	offset  float32 // midpoint of unsigned 8-bit PCM
	ibuf    *audio.IntBuffer
	out     []float32
	carry   []float32 // samples of a frame split across reads
}

// OpenWAV opens and validates a WAV file.
func OpenWAV(path string) (*WAV, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file: %w", err)
	}
	w, err := NewWAV(f, DefaultReadFrames)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	w.info.Path = path
	return w, nil
}

// NewWAV decodes from r, reading readFrames frames per Next call.
func NewWAV(r io.ReadSeeker, readFrames int) (*WAV, error) {
	dec := wav.NewDecoder(r)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: not a WAV file", ErrInvalidFormat)
	}

	divisor, err := pcmDivisor(int(dec.BitDepth))
	if err != nil {
		return nil, err
	}
	var offset float32
	if dec.BitDepth == 8 {
		offset = 128
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	channels := int(dec.NumChans)
	sampleRate := float64(dec.SampleRate)
	if channels < 1 || sampleRate <= 0 {
		return nil, fmt.Errorf("%w: %d channels at %v Hz", ErrInvalidFormat, channels, sampleRate)
	}
	frameBytes := int64(dec.BitDepth/8) * int64(channels)
	totalFrames := int64(-1)
	if frameBytes > 0 && dec.PCMSize > 0 {
		totalFrames = int64(dec.PCMSize) / frameBytes
	}

	if readFrames <= 0 {
		readFrames = DefaultReadFrames
	}
	return &WAV{
		dec:     dec,
		divisor: divisor,
		offset:  offset,
		info: Info{
			Format:      FormatWAV,
			SampleRate:  sampleRate,
			Channels:    channels,
			BitDepth:    int(dec.BitDepth),
			TotalFrames: totalFrames,
			Duration:    durationOf(totalFrames, sampleRate),
		},
		ibuf: &audio.IntBuffer{
			Data:   make([]int, readFrames*channels),
			Format: &audio.Format{SampleRate: int(dec.SampleRate), NumChannels: channels},
		},
		out:   make([]float32, (readFrames+1)*channels),
		carry: make([]float32, 0, channels),
	}, nil
}

// Next decodes the following block of frames.
func (w *WAV) Next(ctx context.Context) ([]float32, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	n, err := w.dec.PCMBuffer(w.ibuf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("error reading WAV data: %w", err)
	}
	if n == 0 {
		// A trailing partial frame is dropped.
		return nil, io.EOF
	}

	held := copy(w.out, w.carry)
	for i := range n {
		w.out[held+i] = (float32(w.ibuf.Data[i]) - w.offset) / w.divisor
	}

	// Short reads can split a frame; hold the remainder for the next call.
	total := held + n
	whole := total - total%w.info.Channels
	w.carry = append(w.carry[:0], w.out[whole:total]...)
	if whole == 0 {
		return w.Next(ctx)
	}
	return w.out[:whole], nil
}

func (w *WAV) SampleRate() float64 { return w.info.SampleRate }
func (w *WAV) Channels() int       { return w.info.Channels }
func (w *WAV) Info() Info          { return w.info }

// Close closes the underlying file when the stream owns one.
func (w *WAV) Close() error {
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}
