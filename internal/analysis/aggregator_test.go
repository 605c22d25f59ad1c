// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
	"math/rand/v2"
	"testing"

	"moodtap/pkg/testsignal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertUnitRange(t *testing.T, fv AudioFeatureVector) {
	t.Helper()
	fields := map[string]float64{
		"energy":           fv.Energy,
		"valence":          fv.Valence,
		"danceability":     fv.Danceability,
		"acousticness":     fv.Acousticness,
		"instrumentalness": fv.Instrumentalness,
		"speechiness":      fv.Speechiness,
		"liveness":         fv.Liveness,
	}
	for name, v := range fields {
		assert.GreaterOrEqual(t, v, 0.0, name)
		assert.LessOrEqual(t, v, 1.0, name)
	}
	assert.GreaterOrEqual(t, fv.Tempo, MinTempo)
	assert.LessOrEqual(t, fv.Tempo, MaxTempo)
}

func TestFinalizeWithoutChunks(t *testing.T) {
	agg := NewAggregator(10)
	_, err := agg.Finalize(nil)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, ok := agg.Snapshot(nil)
	assert.False(t, ok)
}

func TestAccumulateKeepsRunningMeans(t *testing.T) {
	agg := NewAggregator(10)
	agg.Accumulate(SpectralFeatureSet{Centroid: 1000, Mid: 0.2}, Levels{RMS: 0.1, Peak: 0.5})
	agg.Accumulate(SpectralFeatureSet{Centroid: 3000, Mid: 0.6}, Levels{RMS: 0.3, Peak: 0.9})

	fv, err := agg.Finalize(nil)
	require.NoError(t, err)
	assert.Equal(t, 2, fv.Chunks)
	assert.InDelta(t, 2000, fv.Spectral.Centroid, 1e-9)
	assert.InDelta(t, 0.4, fv.Spectral.Mid, 1e-12)
	assert.InDelta(t, 0.2, fv.RMS, 1e-12)
	assert.InDelta(t, 0.7, fv.Peak, 1e-12)
	assert.Equal(t, []float64{0.1, 0.3}, agg.Energies())
}

func TestFinalizeIsIdempotent(t *testing.T) {
	agg := NewAggregator(10)
	for i := range 6 {
		agg.Accumulate(SpectralFeatureSet{Bass: 0.1 * float64(i)}, Levels{RMS: float64(i % 2)})
	}
	first, err := agg.Finalize(nil)
	require.NoError(t, err)
	second, err := agg.Finalize(nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFinalizeTempoOverride(t *testing.T) {
	agg := NewAggregator(10)
	agg.Accumulate(SpectralFeatureSet{}, Levels{})

	tempo := 300.0
	fv, err := agg.Finalize(&tempo)
	require.NoError(t, err)
	assert.Equal(t, MaxTempo, fv.Tempo)

	tempo = 90
	fv, err = agg.Finalize(&tempo)
	require.NoError(t, err)
	assert.Equal(t, 90.0, fv.Tempo)
}

func TestFinalizeAllZeroInput(t *testing.T) {
	agg := NewAggregator(10)
	for range 5 {
		agg.Accumulate(SpectralFeatureSet{}, Levels{})
	}
	fv, err := agg.Finalize(nil)
	require.NoError(t, err)

	assertUnitRange(t, fv)
	assert.Equal(t, DefaultTempo, fv.Tempo)
	assert.Equal(t, 0.0, fv.Energy)
	assert.Equal(t, 1.0, fv.Acousticness)
	assert.InDelta(t, 0.4, fv.Danceability, 1e-12)
}

func TestDerivedFieldsStayInRange(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	wild := func() float64 { return (r.Float64()*2 - 1) * math.Pow(10, float64(r.IntN(8))) }

	for range 200 {
		agg := NewAggregator(r.Float64() * 50)
		for range 1 + r.IntN(20) {
			var v [featureCount]float64
			for i := range v {
				v[i] = wild()
			}
			agg.Accumulate(featureSetFrom(v), Levels{RMS: math.Abs(wild()), Peak: math.Abs(wild())})
		}
		fv, err := agg.Finalize(nil)
		require.NoError(t, err)
		assertUnitRange(t, fv)
	}
}

func TestNonFiniteFeaturesAreIgnored(t *testing.T) {
	agg := NewAggregator(10)
	agg.Accumulate(SpectralFeatureSet{Mid: math.NaN(), Crest: math.Inf(1)}, Levels{RMS: math.NaN()})
	fv, err := agg.Finalize(nil)
	require.NoError(t, err)
	assertUnitRange(t, fv)
	assert.Equal(t, 0.0, fv.Spectral.Mid)
}

func TestDerive(t *testing.T) {
	fs := SpectralFeatureSet{
		Bass: 0.5, Mid: 0.4, Treble: 0.2,
		Brightness: 0.3, HarmonicRatio: 0.8, SpectralContrast: 0.5,
		Flux: 0.2, Centroid: 2500, Spread: 1000,
		ZeroCrossingRate: 0.1, Flatness: 0.25,
		DynamicRange: 0.4, Crest: 4,
	}
	fv := Derive(fs, 150)

	energy := 0.3*0.5 + 0.5*0.4 + 0.2*0.2
	assert.InDelta(t, energy, fv.Energy, 1e-12)
	assert.InDelta(t, 0.3*0.3+0.3*0.8+0.2*0.5+0.2*energy, fv.Valence, 1e-12)
	assert.InDelta(t, 0.4*0.75+0.3*energy+0.3*0.2, fv.Danceability, 1e-12)
	assert.InDelta(t, 1-(0.5*0.4+0.5*0.3), fv.Acousticness, 1e-12)
	assert.InDelta(t, 0.6*0.8+0.4*0.5, fv.Instrumentalness, 1e-12)
	assert.InDelta(t, 0.6*0.1+0.4*0.25, fv.Speechiness, 1e-12)
	assert.InDelta(t, 0.5*0.4+0.5*0.75, fv.Liveness, 1e-12)
}

func TestConstantEnergySweepScenario(t *testing.T) {
	a := newTestAnalyzer(t)
	chunk := testsignal.Sweep(testFrames, testSampleRate, 200, 4000, 0.5)
	agg := NewAggregator(testSampleRate / testFrames)

	for range 10 {
		buf := bufferOf(t, chunk, 1)
		fs, ok := a.Analyze(buf)
		require.True(t, ok)
		agg.Accumulate(fs, ChunkLevels(buf))
	}

	fv, err := agg.Finalize(nil)
	require.NoError(t, err)
	assert.Equal(t, 120.0, fv.Tempo)
	assert.InDelta(t, clamp01(0.4+0.3*fv.Energy+0.3*fv.Spectral.Flux), fv.Danceability, 1e-12)
	assertUnitRange(t, fv)
}

func TestReset(t *testing.T) {
	agg := NewAggregator(10)
	agg.Accumulate(SpectralFeatureSet{Mid: 1}, Levels{RMS: 1})
	agg.Reset()

	assert.Equal(t, 0, agg.Count())
	assert.Empty(t, agg.Energies())
	_, err := agg.Finalize(nil)
	assert.ErrorIs(t, err, ErrInsufficientData)
}
