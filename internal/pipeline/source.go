// SPDX-License-Identifier: MIT
package pipeline

import "context"

// Source yields interleaved float32 chunks in stream order. Next returns
// io.EOF once the stream is exhausted and must honor ctx while blocked.
// Chunks may be any length that is a whole number of frames; the slice is
// only read until the following call to Next.
type Source interface {
	Next(ctx context.Context) ([]float32, error)
	SampleRate() float64
	Channels() int
}

// rechunker regroups arbitrary source chunks into fixed-size chunks.
type rechunker struct {
	size    int // samples per chunk
	pending []float32
	off     int
}

func newRechunker(frames, channels int) *rechunker {
	size := frames * channels
	return &rechunker{size: size, pending: make([]float32, 0, 2*size)}
}

func (r *rechunker) push(samples []float32) {
	if r.off > 0 {
		n := copy(r.pending, r.pending[r.off:])
		r.pending = r.pending[:n]
		r.off = 0
	}
	r.pending = append(r.pending, samples...)
}

// next returns the following full chunk, or with flush set whatever remains.
// The slice is valid until the next push.
func (r *rechunker) next(flush bool) ([]float32, bool) {
	avail := len(r.pending) - r.off
	n := r.size
	if avail < n {
		if !flush || avail == 0 {
			return nil, false
		}
		n = avail
	}
	chunk := r.pending[r.off : r.off+n]
	r.off += n
	return chunk, true
}

// downmixInto averages interleaved frames of srcChannels into mono dst,
// growing dst as needed.
func downmixInto(dst, src []float32, srcChannels int) []float32 {
	frames := len(src) / srcChannels
	dst = dst[:0]
	scale := 1 / float32(srcChannels)
	for i := range frames {
		var sum float32
		for c := range srcChannels {
			sum += src[i*srcChannels+c]
		}
		dst = append(dst, sum*scale)
	}
	return dst
}
