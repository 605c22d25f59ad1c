// SPDX-License-Identifier: MIT
package analysis

import "math"

const (
	centroidNormHz = 5000.0
	spreadNormHz   = 2000.0
)

// Aggregator folds per-chunk features into a track-level AudioFeatureVector.
// Chunks must be accumulated in source order since tempo estimation reads
// the energy sequence. An Aggregator is not safe for concurrent use.
type Aggregator struct {
	chunksPerSecond float64

	count    int
	means    [featureCount]float64
	meanRMS  float64
	meanPeak float64
	energies []float64
}

// NewAggregator returns an empty aggregator. chunksPerSecond converts onset
// intervals measured in chunks into BPM.
func NewAggregator(chunksPerSecond float64) *Aggregator {
	return &Aggregator{chunksPerSecond: chunksPerSecond}
}

// Accumulate adds one chunk. Means are updated incrementally so long streams
// never sum into large totals.
func (a *Aggregator) Accumulate(fs SpectralFeatureSet, lv Levels) {
	a.count++
	n := float64(a.count)

	v := fs.values()
	for i := range v {
		a.means[i] += (finite(v[i]) - a.means[i]) / n
	}
	a.meanRMS += (finite(lv.RMS) - a.meanRMS) / n
	a.meanPeak += (finite(lv.Peak) - a.meanPeak) / n
	a.energies = append(a.energies, finite(lv.RMS))
}

// Count returns the number of accumulated chunks.
func (a *Aggregator) Count() int {
	return a.count
}

// Energies returns a copy of the per-chunk RMS sequence.
func (a *Aggregator) Energies() []float64 {
	return append([]float64(nil), a.energies...)
}

// Finalize derives the feature vector from everything accumulated so far.
// A non-nil estimatedTempo overrides onset detection. It returns
// ErrInsufficientData when no chunk has been accumulated.
func (a *Aggregator) Finalize(estimatedTempo *float64) (AudioFeatureVector, error) {
	if a.count == 0 {
		return AudioFeatureVector{}, ErrInsufficientData
	}

	var tempo float64
	if estimatedTempo != nil && !math.IsNaN(*estimatedTempo) {
		tempo = clamp(*estimatedTempo, MinTempo, MaxTempo)
	} else {
		tempo = EstimateTempo(a.energies, a.chunksPerSecond)
	}

	fv := Derive(featureSetFrom(a.means), tempo)
	fv.Chunks = a.count
	fv.RMS = a.meanRMS
	fv.Peak = a.meanPeak
	return fv, nil
}

// Snapshot is Finalize reporting false instead of an error when nothing has
// been accumulated.
func (a *Aggregator) Snapshot(estimatedTempo *float64) (AudioFeatureVector, bool) {
	fv, err := a.Finalize(estimatedTempo)
	return fv, err == nil
}

// Reset discards all accumulated state.
func (a *Aggregator) Reset() {
	a.count = 0
	a.means = [featureCount]float64{}
	a.meanRMS = 0
	a.meanPeak = 0
	a.energies = a.energies[:0]
}

// Derive computes the perceptual fields from averaged spectral features and
// a tempo in BPM.
//
// Two terms are normalized before weighting. Liveness uses the crest factor
// mapped onto [0, 1) as 1-1/crest rather than the raw ratio, which is at
// least 1 and would saturate the sum. Spread enters acousticness as a
// standard deviation in Hz, not a variance, so it shares a scale with the
// centroid.
func Derive(fs SpectralFeatureSet, tempo float64) AudioFeatureVector {
	tempo = clamp(tempo, MinTempo, MaxTempo)

	energy := clamp01(0.3*fs.Bass + 0.5*fs.Mid + 0.2*fs.Treble)
	tempoFactor := 1 - math.Abs(tempo-DefaultTempo)/DefaultTempo
	centroidNorm := clamp01(fs.Centroid / centroidNormHz)
	spreadNorm := clamp01(fs.Spread / spreadNormHz)

	return AudioFeatureVector{
		Tempo:            tempo,
		Energy:           energy,
		Valence:          clamp01(0.3*fs.Brightness + 0.3*fs.HarmonicRatio + 0.2*fs.SpectralContrast + 0.2*energy),
		Danceability:     clamp01(0.4*tempoFactor + 0.3*energy + 0.3*fs.Flux),
		Acousticness:     clamp01(1 - (centroidNorm*0.4 + spreadNorm*0.3)),
		Instrumentalness: clamp01(0.6*fs.HarmonicRatio + 0.4*fs.SpectralContrast),
		Speechiness:      clamp01(0.6*fs.ZeroCrossingRate + 0.4*fs.Flatness),
		Liveness:         clamp01(0.5*fs.DynamicRange + 0.5*crestNorm(fs.Crest)),
		Spectral:         fs,
	}
}

// crestNorm maps a crest factor in [1, inf) onto [0, 1).
func crestNorm(crest float64) float64 {
	if crest <= 1 {
		return 0
	}
	return clamp01(1 - 1/crest)
}
