// SPDX-License-Identifier: MIT
package analysis

const (
	DefaultTempo = 120.0
	MinTempo     = 40.0
	MaxTempo     = 240.0

	onsetThresholdFactor = 1.5
)

// DetectOnsets returns the indices of energies whose rise over the previous
// value exceeds 1.5x the mean positive rise of the whole sequence.
func DetectOnsets(energies []float64) []int {
	if len(energies) < 2 {
		return nil
	}

	diffs := make([]float64, len(energies)-1)
	var sum float64
	for i := 1; i < len(energies); i++ {
		diffs[i-1] = max(0, energies[i]-energies[i-1])
		sum += diffs[i-1]
	}
	threshold := onsetThresholdFactor * sum / float64(len(diffs))

	var onsets []int
	for i, d := range diffs {
		if d > threshold {
			onsets = append(onsets, i+1)
		}
	}
	return onsets
}

// EstimateTempo converts the mean inter-onset interval of an energy sequence
// into BPM. Fewer than two onsets yields DefaultTempo.
func EstimateTempo(energies []float64, chunksPerSecond float64) float64 {
	onsets := DetectOnsets(energies)
	if len(onsets) < 2 || chunksPerSecond <= 0 {
		return DefaultTempo
	}

	meanInterval := float64(onsets[len(onsets)-1]-onsets[0]) / float64(len(onsets)-1)
	return clamp(chunksPerSecond*60/meanInterval, MinTempo, MaxTempo)
}
