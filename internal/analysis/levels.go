// SPDX-License-Identifier: MIT
package analysis

import (
	"math"

	"moodtap/internal/pool"
)

// Levels summarises the amplitude of a chunk.
type Levels struct {
	RMS  float64
	Peak float64
}

// ChunkLevels computes RMS and absolute peak over every sample of buf,
// across all channels.
func ChunkLevels(buf *pool.SampleBuffer) Levels {
	if buf == nil {
		return Levels{}
	}
	return levelsOf(buf.Samples())
}

func levelsOf(samples []float32) Levels {
	if len(samples) == 0 {
		return Levels{}
	}

	var sumSquare, peak float64
	for _, s := range samples {
		v := float64(s)
		sumSquare += v * v
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	return Levels{
		RMS:  math.Sqrt(sumSquare / float64(len(samples))),
		Peak: peak,
	}
}

// rms returns the root mean square of a float64 frame.
func rms(frame []float64) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sumSquare float64
	for _, v := range frame {
		sumSquare += v * v
	}
	return math.Sqrt(sumSquare / float64(len(frame)))
}

// crestFactor returns peak/RMS, or 0 for silence.
func crestFactor(frame []float64) float64 {
	r := rms(frame)
	if r == 0 {
		return 0
	}
	var peak float64
	for _, v := range frame {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	return peak / r
}

// zeroCrossingRate is the fraction of adjacent sample pairs that change sign.
func zeroCrossingRate(frame []float64) float64 {
	if len(frame) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(frame); i++ {
		if (frame[i-1] >= 0) != (frame[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(frame)-1)
}

// downmix averages interleaved channels into dst, which must hold frames
// samples.
func downmix(dst []float64, interleaved []float32, channels int) {
	if channels <= 1 {
		for i := range dst {
			dst[i] = float64(interleaved[i])
		}
		return
	}
	scale := 1 / float64(channels)
	for i := range dst {
		var sum float64
		base := i * channels
		for c := range channels {
			sum += float64(interleaved[base+c])
		}
		dst[i] = sum * scale
	}
}
