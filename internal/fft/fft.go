// SPDX-License-Identifier: MIT
package fft

import (
	"fmt"
	"math/cmplx"

	"moodtap/pkg/bitint"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Workspace holds pre-allocated buffers for FFT calculations.
type Workspace struct {
	input     []float64    // ...for real input samples (windowed)
	fftOutput []complex128 // ...for FFT complex output
	magnitude []float64    // ...for raw magnitude output
	power     []complex128 // ...for |X|^2 fed to the inverse transform
	autocorr  []float64    // ...for the inverse transform output
	window    []float64    // ...for window function coefficients
}

// Processor runs windowed real FFTs of a fixed size. A Processor is not safe
// for concurrent use; give each goroutine its own.
type Processor struct {
	fftSize    int
	sampleRate float64
	windowType WindowFunc
	workspace  Workspace
	fftObj     *fourier.FFT
}

// NewProcessor pre-allocates all buffers for fftSize-point transforms and
// computes the window coefficients.
func NewProcessor(fftSize int, sampleRate float64, windowType WindowFunc) (*Processor, error) {
	if !bitint.IsPowerOfTwo(fftSize) {
		return nil, fmt.Errorf("fft size must be a power of 2, got %d", fftSize)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %f", sampleRate)
	}

	outputSize := fftSize/2 + 1
	return &Processor{
		fftSize:    fftSize,
		sampleRate: sampleRate,
		windowType: windowType,
		fftObj:     fourier.NewFFT(fftSize),
		workspace: Workspace{
			input:     make([]float64, fftSize),
			fftOutput: make([]complex128, outputSize),
			magnitude: make([]float64, outputSize),
			power:     make([]complex128, outputSize),
			autocorr:  make([]float64, fftSize),
			window:    Coefficients(windowType, fftSize),
		},
	}, nil
}

// Process windows frame, transforms it and returns the magnitude spectrum
// (fftSize/2+1 bins). Frames shorter than the FFT size are zero padded.
// The returned slice is reused by the next call.
func (p *Processor) Process(frame []float64) []float64 {
	for i := range p.fftSize {
		if i < len(frame) {
			p.workspace.input[i] = frame[i] * p.workspace.window[i]
		} else {
			p.workspace.input[i] = 0
		}
	}

	p.fftObj.Coefficients(p.workspace.fftOutput, p.workspace.input)
	for i, c := range p.workspace.fftOutput {
		p.workspace.magnitude[i] = cmplx.Abs(c)
	}
	return p.workspace.magnitude
}

// Autocorrelation returns the circular autocorrelation of the last processed
// frame, normalized so lag 0 equals 1. An all-zero frame yields all zeros.
// The returned slice is reused by the next call.
func (p *Processor) Autocorrelation() []float64 {
	for i, m := range p.workspace.magnitude {
		p.workspace.power[i] = complex(m*m, 0)
	}
	p.fftObj.Sequence(p.workspace.autocorr, p.workspace.power)

	r0 := p.workspace.autocorr[0]
	if r0 <= 0 {
		clear(p.workspace.autocorr)
		return p.workspace.autocorr
	}
	for i := range p.workspace.autocorr {
		p.workspace.autocorr[i] /= r0
	}
	return p.workspace.autocorr
}

// GetFrequencyBin returns the frequency in Hz for a given FFT bin index.
func (p *Processor) GetFrequencyBin(i int) float64 {
	if i < 0 || i >= len(p.workspace.fftOutput) {
		return 0
	}
	return p.fftObj.Freq(i) * p.sampleRate
}

// BinWidth returns the frequency resolution in Hz.
func (p *Processor) BinWidth() float64 {
	return p.sampleRate / float64(p.fftSize)
}

// Size returns the number of points in the transform.
func (p *Processor) Size() int {
	return p.fftSize
}

// SampleRate returns the sample rate the bin frequencies are computed for.
func (p *Processor) SampleRate() float64 {
	return p.sampleRate
}

// Window returns the window type in use.
func (p *Processor) Window() WindowFunc {
	return p.windowType
}
