package audio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DefaultRecordingBitDepth is used when no bit depth is configured.
const DefaultRecordingBitDepth = 16

var ErrRecorderClosed = errors.New("recorder closed")

// Recorder writes interleaved float samples to a PCM WAV file. It is safe to
// Close while another goroutine is writing.
type Recorder struct {
	mu       sync.Mutex
	file     *os.File
	encoder  *wav.Encoder
	buf      *audio.IntBuffer
	scale    float64
	channels int
	frames   int64
	closed   bool
}

// NewRecorder creates path and writes a WAV header for the given format.
func NewRecorder(path string, sampleRate, channels, bitDepth int) (*Recorder, error) {
	switch bitDepth {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("unsupported recording bit depth %d", bitDepth)
	}
	if sampleRate <= 0 || channels < 1 {
		return nil, fmt.Errorf("invalid recording format: %d Hz, %d channels", sampleRate, channels)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	return &Recorder{
		file:    file,
		encoder: wav.NewEncoder(file, sampleRate, bitDepth, channels, 1),
		buf: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: channels,
				SampleRate:  sampleRate,
			},
			SourceBitDepth: bitDepth,
		},
		scale:    float64(int64(1)<<(bitDepth-1) - 1),
		channels: channels,
	}, nil
}

// Write appends samples, clipping them to [-1, 1].
func (r *Recorder) Write(samples []float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRecorderClosed
	}

	if cap(r.buf.Data) < len(samples) {
		r.buf.Data = make([]int, len(samples))
	}
	r.buf.Data = r.buf.Data[:len(samples)]
	for i, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		r.buf.Data[i] = int(math.Round(v * r.scale))
	}

	if err := r.encoder.Write(r.buf); err != nil {
		return err
	}
	r.frames += int64(len(samples) / r.channels)
	return nil
}

// Frames returns the number of frames written so far.
func (r *Recorder) Frames() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Close finalizes the WAV header and closes the file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.encoder.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}
