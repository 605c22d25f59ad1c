// SPDX-License-Identifier: MIT
package analysis

import "math"

// FrequencyBand is a half-open frequency range [LowHz, HighHz).
type FrequencyBand struct {
	Name   string
	LowHz  float64
	HighHz float64
}

// Contains reports whether freq falls inside the band.
func (b FrequencyBand) Contains(freq float64) bool {
	return freq >= b.LowHz && freq < b.HighHz
}

// The three bands that drive the energy formula.
var (
	BassBand   = FrequencyBand{Name: "bass", LowHz: 20, HighHz: 250}
	MidBand    = FrequencyBand{Name: "mid", LowHz: 250, HighHz: 4000}
	TrebleBand = FrequencyBand{Name: "treble", LowHz: 4000, HighHz: math.Inf(1)}
)

// contrastEdges split the spectrum into octave bands for spectral contrast.
var contrastEdges = []float64{20, 200, 400, 800, 1600, 3200, 6400, math.Inf(1)}

// bandLevel converts the summed one-sided power of a band into an amplitude
// on the scale of a full-scale sine, so a sine of amplitude A inside the band
// reads as A. windowPower is the sum of squared window coefficients.
func bandLevel(bandPower float64, fftSize int, windowPower float64) float64 {
	if windowPower <= 0 {
		return 0
	}
	return clamp01(math.Sqrt(4 * bandPower / (float64(fftSize) * windowPower)))
}
