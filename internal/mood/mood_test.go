// SPDX-License-Identifier: MIT
package mood

import (
	"encoding/json"
	"testing"

	"moodtap/internal/analysis"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMood(t *testing.T) {
	tests := []struct {
		in      string
		want    Mood
		wantErr bool
	}{
		{"happy", Happy, false},
		{" Melancholic ", Melancholic, false},
		{"ANGRY", Angry, false},
		{"bored", Neutral, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMood(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestMoodJSON(t *testing.T) {
	data, err := json.Marshal(Change{From: Neutral, To: Romantic})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"from":"neutral"`)
	assert.Contains(t, string(data), `"to":"romantic"`)

	var c Change
	require.NoError(t, json.Unmarshal(data, &c))
	assert.Equal(t, Romantic, c.To)

	_, err = json.Marshal(Snapshot{Mood: Mood(42)})
	assert.Error(t, err)
}

func TestAllMoodsHaveNames(t *testing.T) {
	for _, m := range All() {
		assert.True(t, m.Valid())
		parsed, err := ParseMood(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}
	assert.Equal(t, "Mood(-1)", Mood(-1).String())
}

func vector(energy, valence, danceability float64) analysis.AudioFeatureVector {
	return analysis.AudioFeatureVector{Energy: energy, Valence: valence, Danceability: danceability}
}

func TestClassifyPrototypesMatchThemselves(t *testing.T) {
	c := NewClassifier()
	for _, m := range All() {
		p := m.Prototype()
		got, confidence := c.Classify(vector(p.Energy, p.Valence, p.Danceability))
		assert.Equal(t, m, got)
		assert.Equal(t, 1.0, confidence)
	}
}

func TestClassifyNearest(t *testing.T) {
	c := NewClassifier()
	tests := []struct {
		name string
		v    analysis.AudioFeatureVector
		want Mood
	}{
		{"loud dark", vector(0.95, 0.1, 0.6), Angry},
		{"quiet dark", vector(0.1, 0.1, 0.1), Melancholic},
		{"bright dance", vector(0.75, 0.95, 0.75), Happy},
		{"mid calm", vector(0.5, 0.5, 0.28), Focused},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, confidence := c.Classify(tt.v)
			assert.Equal(t, tt.want, got)
			assert.Greater(t, confidence, 0.9)
		})
	}
}

func TestClassifyConfidenceFloor(t *testing.T) {
	c := NewClassifier()
	// Far outside the unit cube every distance exceeds 2.
	_, confidence := c.Classify(vector(5, 5, 5))
	assert.Equal(t, 0.0, confidence)

	scores := c.Scores(vector(5, 5, 5))
	require.Len(t, scores, 8)
	for _, s := range scores {
		assert.Equal(t, 0.0, s.Similarity)
	}
}

func TestClassifyTieGoesToFirstMood(t *testing.T) {
	c := NewClassifier()
	got, confidence := c.Classify(vector(5, 5, 5))
	assert.Equal(t, Energetic, got)
	assert.Equal(t, 0.0, confidence)
}

func TestScoresOrder(t *testing.T) {
	scores := NewClassifier().Scores(vector(0.5, 0.5, 0.5))
	for i, s := range scores {
		assert.Equal(t, Mood(i), s.Mood)
	}
	assert.Equal(t, 1.0, scores[Neutral].Similarity)
}
