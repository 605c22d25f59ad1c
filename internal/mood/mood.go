// SPDX-License-Identifier: MIT
package mood

import (
	"fmt"
	"strings"
)

// Mood is one of a closed set of listening moods.
type Mood int

const (
	Energetic Mood = iota
	Relaxed
	Happy
	Melancholic
	Focused
	Romantic
	Angry
	Neutral
)

// moodCount is the number of Mood values.
const moodCount = 8

var moodNames = [moodCount]string{
	"energetic", "relaxed", "happy", "melancholic",
	"focused", "romantic", "angry", "neutral",
}

func (m Mood) String() string {
	if !m.Valid() {
		return fmt.Sprintf("Mood(%d)", int(m))
	}
	return moodNames[m]
}

// Valid reports whether m is one of the defined moods.
func (m Mood) Valid() bool {
	return m >= Energetic && m <= Neutral
}

// ParseMood maps a case-insensitive name to a Mood.
func ParseMood(s string) (Mood, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range moodNames {
		if n == name {
			return Mood(i), nil
		}
	}
	return Neutral, fmt.Errorf("unknown mood %q", s)
}

// MarshalText encodes the mood by name.
func (m Mood) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid mood %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mood name.
func (m *Mood) UnmarshalText(text []byte) error {
	parsed, err := ParseMood(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// All returns every mood in declaration order.
func All() []Mood {
	out := make([]Mood, moodCount)
	for i := range out {
		out[i] = Mood(i)
	}
	return out
}

// Prototype is a reference point in (energy, valence, danceability) space.
type Prototype struct {
	Energy       float64
	Valence      float64
	Danceability float64
}

var prototypes = [moodCount]Prototype{
	Energetic:   {Energy: 0.9, Valence: 0.7, Danceability: 0.8},
	Relaxed:     {Energy: 0.2, Valence: 0.6, Danceability: 0.3},
	Happy:       {Energy: 0.7, Valence: 0.9, Danceability: 0.7},
	Melancholic: {Energy: 0.2, Valence: 0.2, Danceability: 0.2},
	Focused:     {Energy: 0.5, Valence: 0.5, Danceability: 0.3},
	Romantic:    {Energy: 0.4, Valence: 0.7, Danceability: 0.4},
	Angry:       {Energy: 0.9, Valence: 0.2, Danceability: 0.6},
	Neutral:     {Energy: 0.5, Valence: 0.5, Danceability: 0.5},
}

// Prototype returns the reference coordinates for m. Invalid moods map to
// the neutral prototype.
func (m Mood) Prototype() Prototype {
	if !m.Valid() {
		return prototypes[Neutral]
	}
	return prototypes[m]
}
