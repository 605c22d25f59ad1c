// SPDX-License-Identifier: MIT
/*
Package audio captures live input through PortAudio and exposes it as a
pipeline source.

Thread Safety:
- The PortAudio callback runs on its own OS thread and never blocks
- Blocks cross to the analysis side through a byte ring buffer
- Gate, recording and counters are atomics shared with the callback
- A block that does not fit the ring is dropped whole, keeping frames aligned
*/
package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	applog "moodtap/internal/log"
	"moodtap/internal/pipeline"

	"github.com/gordonklaus/portaudio"
	"github.com/smallnest/ringbuffer"
)

const (
	DefaultSampleRate      = 44100
	DefaultChannels        = 1
	DefaultFramesPerBuffer = 512
	DefaultChunkFrames     = 4096
	DefaultRingSeconds     = 4.0

	bytesPerSample = 4
)

// CaptureConfig describes the input stream.
type CaptureConfig struct {
	DeviceID        int
	SampleRate      float64
	Channels        int
	FramesPerBuffer int
	// ChunkFrames is the number of frames Next returns.
	ChunkFrames int
	LowLatency  bool
	// RingSeconds sizes the buffer between the callback and Next.
	RingSeconds float64
	// GateThreshold is the peak level in [0, 1] a block must exceed to be
	// forwarded. Zero leaves the gate open.
	GateThreshold float64
}

// DefaultCaptureConfig returns a mono 44.1 kHz capture on the default device.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		DeviceID:        DefaultDeviceID,
		SampleRate:      DefaultSampleRate,
		Channels:        DefaultChannels,
		FramesPerBuffer: DefaultFramesPerBuffer,
		ChunkFrames:     DefaultChunkFrames,
		RingSeconds:     DefaultRingSeconds,
	}
}

// Validate checks the stream geometry.
func (c CaptureConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %v", c.SampleRate)
	}
	if c.Channels < 1 {
		return fmt.Errorf("channels must be at least 1, got %d", c.Channels)
	}
	if c.FramesPerBuffer < 1 || c.ChunkFrames < 1 {
		return fmt.Errorf("frames per buffer and chunk frames must be positive, got %d and %d",
			c.FramesPerBuffer, c.ChunkFrames)
	}
	if c.RingSeconds <= 0 {
		return fmt.Errorf("ring seconds must be positive, got %v", c.RingSeconds)
	}
	if c.GateThreshold < 0 || c.GateThreshold > 1 {
		return fmt.Errorf("gate threshold must be in [0, 1], got %v", c.GateThreshold)
	}
	return nil
}

// ringBytes is at least two chunks so Next can always make progress.
func (c CaptureConfig) ringBytes() int {
	frames := max(int(c.RingSeconds*c.SampleRate), 2*c.ChunkFrames, 2*c.FramesPerBuffer)
	return frames * c.Channels * bytesPerSample
}

// CaptureStats counts what happened to callback blocks.
type CaptureStats struct {
	Blocks   int64 `json:"blocks"`
	Gated    int64 `json:"gated"`
	Dropped  int64 `json:"dropped"`
	Buffered int   `json:"buffered_frames"`
}

// Capture is a live input stream usable as a pipeline.Source. Next must not
// be called concurrently.
type Capture struct {
	cfg     CaptureConfig
	device  *portaudio.DeviceInfo
	latency time.Duration
	stream  *portaudio.Stream

	ring      *ringbuffer.RingBuffer
	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	encoded []byte // callback scratch
	chunk   []byte
	out     []float32

	gateEnabled   atomic.Bool
	gateThreshold atomic.Uint32 // float32 bits
	recorder      atomic.Pointer[Recorder]

	blocks  atomic.Int64
	gated   atomic.Int64
	dropped atomic.Int64
}

var _ pipeline.Source = (*Capture)(nil)

// NewCapture resolves the input device. Call Start to begin streaming.
func NewCapture(cfg CaptureConfig) (*Capture, error) {
	c, err := newCapture(cfg)
	if err != nil {
		return nil, err
	}

	device, err := InputDevice(cfg.DeviceID)
	if err != nil {
		return nil, err
	}
	if device.MaxInputChannels < cfg.Channels {
		return nil, fmt.Errorf("device %s has %d input channels, %d requested",
			device.Name, device.MaxInputChannels, cfg.Channels)
	}
	c.device = device

	if cfg.LowLatency {
		c.latency = device.DefaultLowInputLatency
	} else {
		c.latency = device.DefaultHighInputLatency
	}
	return c, nil
}

// newCapture builds the ring side of a capture without touching PortAudio.
func newCapture(cfg CaptureConfig) (*Capture, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	chunkBytes := cfg.ChunkFrames * cfg.Channels * bytesPerSample
	c := &Capture{
		cfg:     cfg,
		ring:    ringbuffer.New(cfg.ringBytes()),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		encoded: make([]byte, cfg.FramesPerBuffer*cfg.Channels*bytesPerSample),
		chunk:   make([]byte, chunkBytes),
		out:     make([]float32, cfg.ChunkFrames*cfg.Channels),
	}
	if cfg.GateThreshold > 0 {
		c.SetGateThreshold(cfg.GateThreshold)
		c.EnableGate()
	}
	return c, nil
}

// Start opens and starts the PortAudio stream.
func (c *Capture) Start() error {
	if c.device == nil {
		return errors.New("capture has no input device")
	}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: c.cfg.Channels,
			Device:   c.device,
			Latency:  c.latency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0,
			Device:   nil,
		},
		FramesPerBuffer: c.cfg.FramesPerBuffer,
		SampleRate:      c.cfg.SampleRate,
	}

	stream, err := portaudio.OpenStream(params, c.process)
	if err != nil {
		return fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("start input stream: %w", err)
	}
	c.stream = stream

	applog.WithFields(applog.Fields{
		"device":  c.device.Name,
		"rate":    c.cfg.SampleRate,
		"latency": c.latency,
	}).Infof("Capture: input stream started")
	return nil
}

// process is the PortAudio callback. It only touches pre-allocated memory.
func (c *Capture) process(in []float32) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	c.blocks.Add(1)

	if rec := c.recorder.Load(); rec != nil {
		if err := rec.Write(in); err != nil && !errors.Is(err, ErrRecorderClosed) {
			applog.Errorf("Capture: recording write failed: %v", err)
		}
	}

	if c.gateEnabled.Load() && peak(in) <= c.threshold() {
		c.gated.Add(1)
		return
	}

	n := len(in) * bytesPerSample
	if cap(c.encoded) < n {
		c.encoded = make([]byte, n)
	}
	buf := c.encoded[:n]
	for i, s := range in {
		binary.LittleEndian.PutUint32(buf[i*bytesPerSample:], math.Float32bits(s))
	}

	if c.ring.Free() < n {
		c.dropped.Add(1)
		return
	}
	if _, err := c.ring.Write(buf); err != nil {
		c.dropped.Add(1)
		return
	}

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Next blocks until a full chunk is buffered. After Close it drains what is
// left in whole frames and then returns io.EOF. The returned slice is reused
// by the following call.
func (c *Capture) Next(ctx context.Context) ([]float32, error) {
	want := len(c.chunk)
	for {
		if c.ring.Length() >= want {
			return c.read(want)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.done:
			frameBytes := c.cfg.Channels * bytesPerSample
			rest := c.ring.Length() / frameBytes * frameBytes
			if rest == 0 {
				return nil, io.EOF
			}
			return c.read(min(rest, want))
		case <-c.notify:
		}
	}
}

func (c *Capture) read(n int) ([]float32, error) {
	b := c.chunk[:n]
	got, err := c.ring.Read(b)
	if err != nil {
		return nil, fmt.Errorf("read capture ring: %w", err)
	}
	if got != n {
		return nil, fmt.Errorf("read capture ring: short read %d of %d bytes", got, n)
	}

	out := c.out[:n/bytesPerSample]
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*bytesPerSample:]))
	}
	return out, nil
}

// SampleRate implements pipeline.Source.
func (c *Capture) SampleRate() float64 {
	return c.cfg.SampleRate
}

// Channels implements pipeline.Source.
func (c *Capture) Channels() int {
	return c.cfg.Channels
}

// Stats returns the callback counters.
func (c *Capture) Stats() CaptureStats {
	return CaptureStats{
		Blocks:   c.blocks.Load(),
		Gated:    c.gated.Load(),
		Dropped:  c.dropped.Load(),
		Buffered: c.ring.Length() / (c.cfg.Channels * bytesPerSample),
	}
}

// StartRecording writes every captured block, gated or not, to a WAV file.
func (c *Capture) StartRecording(path string, bitDepth int) error {
	rec, err := NewRecorder(path, int(c.cfg.SampleRate), c.cfg.Channels, bitDepth)
	if err != nil {
		return err
	}
	if !c.recorder.CompareAndSwap(nil, rec) {
		rec.Close()
		return errors.New("already recording")
	}
	applog.WithField("path", path).Infof("Capture: recording started")
	return nil
}

// StopRecording finalizes the current recording, if any.
func (c *Capture) StopRecording() error {
	rec := c.recorder.Swap(nil)
	if rec == nil {
		return nil
	}
	if err := rec.Close(); err != nil {
		return err
	}
	applog.WithField("frames", rec.Frames()).Infof("Capture: recording stopped")
	return nil
}

// Recording reports whether a recording is in progress.
func (c *Capture) Recording() bool {
	return c.recorder.Load() != nil
}

// Close stops the stream and any recording. Buffered audio stays readable
// through Next until it is drained.
func (c *Capture) Close() error {
	var errs []error
	c.closeOnce.Do(func() {
		if c.stream != nil {
			if err := c.stream.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stop input stream: %w", err))
			}
			if err := c.stream.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close input stream: %w", err))
			}
			c.stream = nil
		}
		if err := c.StopRecording(); err != nil {
			errs = append(errs, err)
		}
		close(c.done)

		stats := c.Stats()
		applog.WithFields(applog.Fields{
			"blocks":  stats.Blocks,
			"gated":   stats.Gated,
			"dropped": stats.Dropped,
		}).Debugf("Capture: closed")
	})
	return errors.Join(errs...)
}
