// SPDX-License-Identifier: MIT
package pool

import "fmt"

// bytesPerSample is the storage size of one float32 sample.
const bytesPerSample = 4

// SampleBuffer is a fixed-capacity block of interleaved float32 samples.
// Capacity is measured in frames; Data always holds Capacity()*Channels samples.
type SampleBuffer struct {
	Data       []float32
	Channels   int
	SampleRate float64

	frameLength int
}

// NewSampleBuffer allocates a zeroed buffer outside of any pool.
func NewSampleBuffer(capacity, channels int, sampleRate float64) *SampleBuffer {
	if channels < 1 {
		channels = 1
	}
	return &SampleBuffer{
		Data:       make([]float32, capacity*channels),
		Channels:   channels,
		SampleRate: sampleRate,
	}
}

// Capacity returns the number of frames the buffer can hold.
func (b *SampleBuffer) Capacity() int {
	return len(b.Data) / b.Channels
}

// FrameLength returns the number of valid frames.
func (b *SampleBuffer) FrameLength() int {
	return b.frameLength
}

// SetFrameLength marks the first n frames as valid.
func (b *SampleBuffer) SetFrameLength(n int) error {
	if n < 0 || n > b.Capacity() {
		return fmt.Errorf("frame length %d out of range [0, %d]", n, b.Capacity())
	}
	b.frameLength = n
	return nil
}

// Samples returns the valid interleaved samples.
func (b *SampleBuffer) Samples() []float32 {
	return b.Data[:b.frameLength*b.Channels]
}

// Fill copies interleaved samples into the buffer, truncating whole frames
// that do not fit, and returns the resulting frame length.
func (b *SampleBuffer) Fill(interleaved []float32) int {
	frames := min(len(interleaved)/b.Channels, b.Capacity())
	n := copy(b.Data, interleaved[:frames*b.Channels])
	clear(b.Data[n:])
	b.frameLength = frames
	return frames
}

// ByteSize is the storage footprint used for pool accounting.
func (b *SampleBuffer) ByteSize() int64 {
	return int64(len(b.Data)) * bytesPerSample
}

func (b *SampleBuffer) reset() {
	clear(b.Data)
	b.frameLength = 0
}
