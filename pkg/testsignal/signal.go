// SPDX-License-Identifier: MIT
//
// Package testsignal generates deterministic float32 signals for exercising
// the analysis code: tones, sweeps, pulse trains and silence.
package testsignal

import "math"

// Sine returns n samples of a sine at frequency Hz with the given amplitude.
func Sine(n int, sampleRate, frequency, amplitude float64) []float32 {
	buffer := make([]float32, n)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = float32(amplitude * math.Sin(2*math.Pi*frequency*t))
	}
	return buffer
}

// Harmonics returns a fundamental plus its second and third harmonics.
func Harmonics(n int, sampleRate, fundamental float64) []float32 {
	buffer := make([]float32, n)
	for i := range buffer {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*fundamental*tm)*0.5 +
			math.Sin(2*math.Pi*2*fundamental*tm)*0.3 +
			math.Sin(2*math.Pi*3*fundamental*tm)*0.2
		buffer[i] = float32(signal * 0.9)
	}
	return buffer
}

// Sweep returns a linear chirp from startHz to endHz at constant amplitude.
func Sweep(n int, sampleRate, startHz, endHz, amplitude float64) []float32 {
	buffer := make([]float32, n)
	duration := float64(n) / sampleRate
	k := (endHz - startHz) / duration
	for i := range buffer {
		t := float64(i) / sampleRate
		phase := 2 * math.Pi * (startHz*t + 0.5*k*t*t)
		buffer[i] = float32(amplitude * math.Sin(phase))
	}
	return buffer
}

// PulseTrain returns silence with a decaying burst of a tone every period samples.
func PulseTrain(n, period int, sampleRate, frequency float64) []float32 {
	buffer := make([]float32, n)
	burst := period / 4
	for i := range buffer {
		pos := i % period
		if pos >= burst {
			continue
		}
		env := 1 - float64(pos)/float64(burst)
		t := float64(i) / sampleRate
		buffer[i] = float32(env * math.Sin(2*math.Pi*frequency*t))
	}
	return buffer
}

// Silence returns n zero samples.
func Silence(n int) []float32 {
	return make([]float32, n)
}

// Interleave duplicates a mono signal across channels.
func Interleave(mono []float32, channels int) []float32 {
	out := make([]float32, len(mono)*channels)
	for i, s := range mono {
		for c := range channels {
			out[i*channels+c] = s
		}
	}
	return out
}

// Float64 widens samples for APIs that work in float64.
func Float64(samples []float32) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s)
	}
	return out
}

// FindPeakBin returns the index of the largest magnitude in [startBin, endBin].
func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}

	if startBin < 0 {
		startBin = 0
	}

	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]

	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}

	return peakBin
}
