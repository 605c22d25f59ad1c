// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"math"
)

// ErrInsufficientData is returned when there is not enough audio to describe.
var ErrInsufficientData = errors.New("analysis: insufficient data")

// SpectralFeatureSet holds the descriptors derived from one chunk. Frequencies
// are in Hz; everything else is dimensionless.
type SpectralFeatureSet struct {
	Centroid         float64 `json:"centroid"`          // Magnitude-weighted mean frequency.
	Spread           float64 `json:"spread"`            // Magnitude-weighted std-dev around the centroid.
	Rolloff          float64 `json:"rolloff"`           // Frequency below which 85% of the energy lies.
	Flux             float64 `json:"flux"`              // Frame-to-frame spectral change, [0,1].
	Flatness         float64 `json:"flatness"`          // Geometric/arithmetic mean of power, [0,1].
	Bass             float64 `json:"bass"`              // 20-250 Hz level, [0,1].
	Mid              float64 `json:"mid"`               // 250-4000 Hz level, [0,1].
	Treble           float64 `json:"treble"`            // Above 4000 Hz level, [0,1].
	Brightness       float64 `json:"brightness"`        // Treble share of total power, [0,1].
	ZeroCrossingRate float64 `json:"zero_crossing_rate"` // Sign changes per sample, [0,1].
	Crest            float64 `json:"crest"`             // Peak/RMS, >= 1 for any non-silent chunk.
	Irregularity     float64 `json:"irregularity"`      // Jensen irregularity scaled to [0,1].
	Skewness         float64 `json:"skewness"`
	Kurtosis         float64 `json:"kurtosis"` // Excess kurtosis.
	HarmonicRatio    float64 `json:"harmonic_ratio"`    // Autocorrelation peak over pitch lags, [0,1].
	SpectralContrast float64 `json:"spectral_contrast"` // Peak/valley contrast over octave bands, [0,1].
	DynamicRange     float64 `json:"dynamic_range"`     // Frame level spread over 60 dB, [0,1].
}

// featureCount is the number of fields in SpectralFeatureSet.
const featureCount = 17

func (fs SpectralFeatureSet) values() [featureCount]float64 {
	return [featureCount]float64{
		fs.Centroid, fs.Spread, fs.Rolloff, fs.Flux, fs.Flatness,
		fs.Bass, fs.Mid, fs.Treble, fs.Brightness, fs.ZeroCrossingRate,
		fs.Crest, fs.Irregularity, fs.Skewness, fs.Kurtosis,
		fs.HarmonicRatio, fs.SpectralContrast, fs.DynamicRange,
	}
}

func featureSetFrom(v [featureCount]float64) SpectralFeatureSet {
	return SpectralFeatureSet{
		Centroid: v[0], Spread: v[1], Rolloff: v[2], Flux: v[3], Flatness: v[4],
		Bass: v[5], Mid: v[6], Treble: v[7], Brightness: v[8], ZeroCrossingRate: v[9],
		Crest: v[10], Irregularity: v[11], Skewness: v[12], Kurtosis: v[13],
		HarmonicRatio: v[14], SpectralContrast: v[15], DynamicRange: v[16],
	}
}

// AudioFeatureVector is the finalized per-track descriptor. Every perceptual
// field lies in [0,1]; Tempo lies in [MinTempo, MaxTempo].
type AudioFeatureVector struct {
	Tempo            float64            `json:"tempo"`
	Energy           float64            `json:"energy"`
	Valence          float64            `json:"valence"`
	Danceability     float64            `json:"danceability"`
	Acousticness     float64            `json:"acousticness"`
	Instrumentalness float64            `json:"instrumentalness"`
	Speechiness      float64            `json:"speechiness"`
	Liveness         float64            `json:"liveness"`
	Spectral         SpectralFeatureSet `json:"spectral"`

	Chunks int     `json:"chunks"`
	RMS    float64 `json:"rms"`
	Peak   float64 `json:"peak"`
}

// clamp limits v to [lo, hi]. NaN maps to lo.
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp01(v float64) float64 {
	return clamp(v, 0, 1)
}

// finite replaces NaN and infinities with zero.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
