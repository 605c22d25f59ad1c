// SPDX-License-Identifier: MIT
package analysis

import "moodtap/internal/pool"

// ChunkAnalyzer turns one chunk of samples into a SpectralFeatureSet.
// Implementations must be pure: the same buffer contents always yield the
// same features, and the buffer is never retained after the call returns.
type ChunkAnalyzer interface {
	// Analyze reports false when the chunk is too short to describe.
	Analyze(buf *pool.SampleBuffer) (SpectralFeatureSet, bool)
}

var _ ChunkAnalyzer = (*SpectralAnalyzer)(nil)
