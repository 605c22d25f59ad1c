// SPDX-License-Identifier: MIT
package mood

import (
	"math"

	"moodtap/internal/analysis"
)

// Score is the similarity of a feature vector to one mood prototype.
type Score struct {
	Mood       Mood    `json:"mood"`
	Similarity float64 `json:"similarity"`
}

// Classifier picks the mood whose prototype is nearest to a feature vector.
// It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	prototypes [moodCount]Prototype
}

// NewClassifier returns a classifier over the built-in prototypes.
func NewClassifier() *Classifier {
	return &Classifier{prototypes: prototypes}
}

// Classify returns the most similar mood and its similarity, used as the
// confidence. Ties go to the mood declared first.
func (c *Classifier) Classify(v analysis.AudioFeatureVector) (Mood, float64) {
	best, bestScore := Neutral, -1.0
	for i, p := range c.prototypes {
		if s := similarity(v, p); s > bestScore {
			best, bestScore = Mood(i), s
		}
	}
	return best, bestScore
}

// Scores returns the similarity to every prototype in declaration order.
func (c *Classifier) Scores(v analysis.AudioFeatureVector) []Score {
	out := make([]Score, moodCount)
	for i, p := range c.prototypes {
		out[i] = Score{Mood: Mood(i), Similarity: similarity(v, p)}
	}
	return out
}

// similarity maps Euclidean distance d onto 1 - min(d/2, 1).
func similarity(v analysis.AudioFeatureVector, p Prototype) float64 {
	de := v.Energy - p.Energy
	dv := v.Valence - p.Valence
	dd := v.Danceability - p.Danceability
	d := math.Sqrt(de*de + dv*dv + dd*dd)
	if math.IsNaN(d) {
		return 0
	}
	return 1 - math.Min(d/2, 1)
}
