// SPDX-License-Identifier: MIT
// Package cache keeps finalized feature vectors keyed by source fingerprint
// so unchanged files are not analyzed twice.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"moodtap/internal/analysis"
	"moodtap/internal/mood"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get when no entry exists for a key.
var ErrNotFound = errors.New("cache: entry not found")

// Backend names accepted by Open.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Entry is one cached analysis result.
type Entry struct {
	ID         string                      `json:"id"`
	Key        string                      `json:"key"`
	Source     string                      `json:"source"`
	Features   analysis.AudioFeatureVector `json:"features"`
	Mood       mood.Mood                   `json:"mood"`
	Confidence float64                     `json:"confidence"`
	// Committed is the stable mood the source settled on.
	Committed           mood.Mood `json:"committed"`
	CommittedConfidence float64   `json:"committed_confidence"`
	CreatedAt           time.Time `json:"created_at"`
}

// Store persists entries. Put replaces any entry with the same key.
type Store interface {
	Get(ctx context.Context, key string) (Entry, error)
	Put(ctx context.Context, e Entry) error
	Delete(ctx context.Context, key string) error
	Len(ctx context.Context) (int, error)
	Close() error
}

// prepare validates e and fills ID and CreatedAt when missing.
func prepare(e Entry, now time.Time) (Entry, error) {
	if e.Key == "" {
		return Entry{}, errors.New("cache: entry key is empty")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

// Options selects and sizes a backend.
type Options struct {
	Backend    string
	Path       string // SQLite database file.
	MaxEntries int    // Memory backend bound; zero means unbounded.
}

// Open returns the store named by opts.Backend. BackendNone yields a nil
// Store and a nil error.
func Open(opts Options) (Store, error) {
	switch opts.Backend {
	case BackendNone, "":
		return nil, nil
	case BackendMemory:
		return NewMemory(opts.MaxEntries), nil
	case BackendSQLite:
		s, err := NewSQLite(opts.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", opts.Backend)
	}
}
