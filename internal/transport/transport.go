// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"time"

	"moodtap/internal/analysis"
	"moodtap/internal/mood"
)

// Transport defines a generic interface for sending processed data or events.
// Implementations should be thread-safe.
type Transport interface {
	Send(data any) error
	Close() error
}

// Kind tags a Message.
type Kind string

const (
	KindMoodChange Kind = "mood_change"
	KindFeatures   Kind = "features"
	KindResult     Kind = "result"
)

// Message is the envelope sessions publish to every transport.
type Message struct {
	Kind       Kind                         `json:"kind"`
	Session    string                       `json:"session"`
	Source     string                       `json:"source,omitempty"`
	Time       time.Time                    `json:"time"`
	Mood       mood.Mood                    `json:"mood"`
	Confidence float64                      `json:"confidence"`
	Change     *mood.Change                 `json:"change,omitempty"`
	Features   *analysis.AudioFeatureVector `json:"features,omitempty"`
}

// Multi fans every Send out to all of its transports. A failing transport
// does not stop delivery to the rest.
type Multi []Transport

// Send implements Transport.
func (m Multi) Send(data any) error {
	var errs []error
	for _, t := range m {
		if err := t.Send(data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every transport.
func (m Multi) Close() error {
	var errs []error
	for _, t := range m {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Transport = Multi(nil)
