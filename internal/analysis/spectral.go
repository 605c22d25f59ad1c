// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"math"
	"slices"
	"sync"

	"moodtap/internal/fft"
	"moodtap/internal/pool"
	"moodtap/pkg/bitint"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	DefaultFFTSize = 2048
	DefaultHopSize = 512

	rolloffFraction    = 0.85
	minPitchHz         = 50.0
	maxPitchHz         = 1000.0
	dynamicRangeSpanDB = 60.0
	levelFloor         = 1e-5  // -100 dBFS
	powerFloor         = 1e-20 // Below this a frame is treated as silent.
	flatnessEpsilon    = 1e-12
	contrastQuantile   = 0.2
)

// AnalyzerConfig controls the short-time Fourier transform used per chunk.
type AnalyzerConfig struct {
	FFTSize int
	HopSize int
	Window  fft.WindowFunc
}

// DefaultAnalyzerConfig returns a 2048-point Hann STFT with 75% overlap.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		FFTSize: DefaultFFTSize,
		HopSize: DefaultHopSize,
		Window:  fft.Hann,
	}
}

// Validate checks that the STFT geometry is usable.
func (c AnalyzerConfig) Validate() error {
	if !bitint.IsPowerOfTwo(c.FFTSize) {
		return fmt.Errorf("fft size must be a power of 2, got %d", c.FFTSize)
	}
	if c.HopSize <= 0 || c.HopSize > c.FFTSize {
		return fmt.Errorf("hop size must be in [1, %d], got %d", c.FFTSize, c.HopSize)
	}
	return nil
}

// SpectralAnalyzer derives a SpectralFeatureSet from a chunk by averaging
// per-frame descriptors over an STFT. It is safe for concurrent use; each
// call borrows its own scratch space.
type SpectralAnalyzer struct {
	cfg     AnalyzerConfig
	scratch sync.Pool
}

// NewSpectralAnalyzer validates cfg and returns an analyzer.
func NewSpectralAnalyzer(cfg AnalyzerConfig) (*SpectralAnalyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SpectralAnalyzer{cfg: cfg}, nil
}

// Config returns the analyzer's STFT settings.
func (a *SpectralAnalyzer) Config() AnalyzerConfig {
	return a.cfg
}

// frameScratch is the per-call working memory. It is tied to one sample rate
// because bin frequencies are precomputed.
type frameScratch struct {
	proc        *fft.Processor
	windowPower float64
	freqs       []float64
	power       []float64
	unit        []float64
	prevUnit    []float64
	sorted      []float64
	mono        []float64
}

func (a *SpectralAnalyzer) getScratch(sampleRate float64, frames int) (*frameScratch, error) {
	s, _ := a.scratch.Get().(*frameScratch)
	if s == nil || s.proc.SampleRate() != sampleRate {
		proc, err := fft.NewProcessor(a.cfg.FFTSize, sampleRate, a.cfg.Window)
		if err != nil {
			return nil, err
		}
		bins := a.cfg.FFTSize/2 + 1
		s = &frameScratch{
			proc:     proc,
			freqs:    make([]float64, bins),
			power:    make([]float64, bins),
			unit:     make([]float64, bins),
			prevUnit: make([]float64, bins),
			sorted:   make([]float64, 0, bins),
		}
		for i := range s.freqs {
			s.freqs[i] = proc.GetFrequencyBin(i)
		}
		for _, w := range fft.Coefficients(a.cfg.Window, a.cfg.FFTSize) {
			s.windowPower += w * w
		}
	}
	if cap(s.mono) < frames {
		s.mono = make([]float64, frames)
	}
	s.mono = s.mono[:frames]
	return s, nil
}

// Analyze describes the valid frames of buf. Multi-channel audio is downmixed
// to mono first. It returns false when buf holds fewer frames than one FFT.
func (a *SpectralAnalyzer) Analyze(buf *pool.SampleBuffer) (SpectralFeatureSet, bool) {
	if buf == nil || buf.SampleRate <= 0 || buf.FrameLength() < a.cfg.FFTSize {
		return SpectralFeatureSet{}, false
	}

	s, err := a.getScratch(buf.SampleRate, buf.FrameLength())
	if err != nil {
		return SpectralFeatureSet{}, false
	}
	defer a.scratch.Put(s)

	downmix(s.mono, buf.Samples(), buf.Channels)

	var (
		sums     [featureCount]float64
		frames   int
		fluxSum  float64
		minLevel = math.Inf(1)
		maxLevel = 0.0
	)

	for start := 0; start+a.cfg.FFTSize <= len(s.mono); start += a.cfg.HopSize {
		frame := s.mono[start : start+a.cfg.FFTSize]
		mags := s.proc.Process(frame)

		v := s.describe(mags, a.cfg.FFTSize).values()
		for i := range sums {
			sums[i] += v[i]
		}

		if norm := floats.Norm(mags, 2); norm > 0 {
			floats.ScaleTo(s.unit, 1/norm, mags)
		} else {
			clear(s.unit)
		}
		if frames > 0 {
			fluxSum += floats.Distance(s.unit, s.prevUnit, 2) / math.Sqrt2
		}
		s.unit, s.prevUnit = s.prevUnit, s.unit

		level := max(rms(frame), levelFloor)
		minLevel = min(minLevel, level)
		maxLevel = max(maxLevel, level)

		frames++
	}

	for i := range sums {
		sums[i] /= float64(frames)
	}
	out := featureSetFrom(sums)

	if frames > 1 {
		out.Flux = clamp01(fluxSum / float64(frames-1))
	}
	out.ZeroCrossingRate = zeroCrossingRate(s.mono)
	out.Crest = crestFactor(s.mono)
	out.DynamicRange = clamp01(20 * math.Log10(maxLevel/minLevel) / dynamicRangeSpanDB)

	return out, true
}

// describe computes the per-frame spectral descriptors from a magnitude
// spectrum. Time-domain fields are left zero.
func (s *frameScratch) describe(mags []float64, fftSize int) SpectralFeatureSet {
	var fs SpectralFeatureSet

	var total, bass, mid, treble float64
	for i, m := range mags {
		p := m * m
		s.power[i] = p
		total += p

		switch f := s.freqs[i]; {
		case BassBand.Contains(f):
			bass += p
		case MidBand.Contains(f):
			mid += p
		case TrebleBand.Contains(f):
			treble += p
		}
	}
	if total < powerFloor {
		return fs
	}

	fs.Bass = bandLevel(bass, fftSize, s.windowPower)
	fs.Mid = bandLevel(mid, fftSize, s.windowPower)
	fs.Treble = bandLevel(treble, fftSize, s.windowPower)
	fs.Brightness = clamp01(treble / total)

	fs.Centroid, fs.Spread = stat.PopMeanStdDev(s.freqs, mags)
	if fs.Spread > 0 {
		fs.Skewness = finite(stat.Moment(3, s.freqs, mags) / math.Pow(fs.Spread, 3))
		fs.Kurtosis = finite(stat.Moment(4, s.freqs, mags)/math.Pow(fs.Spread, 4) - 3)
	}

	threshold := rolloffFraction * total
	var cumulative float64
	for i, p := range s.power {
		cumulative += p
		if cumulative >= threshold {
			fs.Rolloff = s.freqs[i]
			break
		}
	}

	var logSum float64
	for _, p := range s.power {
		logSum += math.Log(p + flatnessEpsilon)
	}
	n := float64(len(s.power))
	fs.Flatness = clamp01(math.Exp(logSum/n) / (total/n + flatnessEpsilon))

	// Jensen irregularity is bounded by 4x the total power.
	var irregular float64
	for i := 1; i < len(mags); i++ {
		d := mags[i-1] - mags[i]
		irregular += d * d
	}
	fs.Irregularity = clamp01(irregular / (4 * total))

	fs.HarmonicRatio = s.harmonicRatio(fftSize)
	fs.SpectralContrast = s.contrast(mags)
	return fs
}

// harmonicRatio is the highest normalized autocorrelation over lags that
// correspond to pitches between minPitchHz and maxPitchHz.
func (s *frameScratch) harmonicRatio(fftSize int) float64 {
	r := s.proc.Autocorrelation()
	sampleRate := s.proc.SampleRate()

	lo := max(1, int(sampleRate/maxPitchHz))
	hi := min(int(sampleRate/minPitchHz), fftSize/2)
	if lo >= hi {
		return 0
	}
	return clamp01(floats.Max(r[lo:hi]))
}

// contrast averages (peak-valley)/(peak+valley) over octave bands, where peak
// and valley are the means of the loudest and quietest fifth of each band.
func (s *frameScratch) contrast(mags []float64) float64 {
	var sum float64
	var bands int

	for b := 0; b+1 < len(contrastEdges); b++ {
		s.sorted = s.sorted[:0]
		for i, f := range s.freqs {
			if f >= contrastEdges[b] && f < contrastEdges[b+1] {
				s.sorted = append(s.sorted, mags[i])
			}
		}
		if len(s.sorted) == 0 {
			continue
		}
		slices.Sort(s.sorted)

		k := max(1, int(float64(len(s.sorted))*contrastQuantile))
		valley := floats.Sum(s.sorted[:k]) / float64(k)
		peak := floats.Sum(s.sorted[len(s.sorted)-k:]) / float64(k)
		if peak+valley <= 0 {
			continue
		}
		sum += (peak - valley) / (peak + valley)
		bands++
	}

	if bands == 0 {
		return 0
	}
	return clamp01(sum / float64(bands))
}
