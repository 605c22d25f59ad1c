// SPDX-License-Identifier: MIT
package mood

import (
	"fmt"
	"slices"
	"sync"
	"time"

	applog "moodtap/internal/log"
)

const (
	DefaultBaseThreshold   = 0.6
	DefaultStabilityFactor = 0.7
	DefaultWindowSize      = 10
	DefaultHistoryCapacity = 100

	// changeMultiplier raises the confidence bar for switching moods.
	changeMultiplier = 1.2
)

// StabilityConfig tunes the hysteresis applied to raw classifications.
type StabilityConfig struct {
	BaseThreshold   float64 // Minimum confidence to confirm the current mood.
	StabilityFactor float64 // Share of the window that must agree.
	WindowSize      int     // Raw samples considered for agreement.
	HistoryCapacity int     // Committed snapshots retained.
}

// DefaultStabilityConfig returns the standard tuning.
func DefaultStabilityConfig() StabilityConfig {
	return StabilityConfig{
		BaseThreshold:   DefaultBaseThreshold,
		StabilityFactor: DefaultStabilityFactor,
		WindowSize:      DefaultWindowSize,
		HistoryCapacity: DefaultHistoryCapacity,
	}
}

// Validate checks the tuning values.
func (c StabilityConfig) Validate() error {
	if c.BaseThreshold < 0 || c.BaseThreshold > 1 {
		return fmt.Errorf("base threshold must be in [0, 1], got %f", c.BaseThreshold)
	}
	if c.StabilityFactor <= 0 || c.StabilityFactor > 1 {
		return fmt.Errorf("stability factor must be in (0, 1], got %f", c.StabilityFactor)
	}
	if c.WindowSize < 1 {
		return fmt.Errorf("window size must be positive, got %d", c.WindowSize)
	}
	if c.HistoryCapacity < 1 {
		return fmt.Errorf("history capacity must be positive, got %d", c.HistoryCapacity)
	}
	return nil
}

// Snapshot is a committed mood at a point in time.
type Snapshot struct {
	Mood       Mood      `json:"mood"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// Change is published when the committed mood switches.
type Change struct {
	From       Mood      `json:"from"`
	To         Mood      `json:"to"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// StabilityEngine turns a noisy stream of classifications into stable mood
// changes. A sample is committed only when its confidence clears the
// threshold (raised by 20% for a different mood) and enough of the recent
// window agrees with it. Rejected samples still enter the window.
type StabilityEngine struct {
	cfg StabilityConfig

	mu           sync.Mutex
	current      Mood
	confidence   float64
	window       []Mood
	windowNext   int
	windowLen    int
	windowCounts [moodCount]int
	history      []Snapshot
	historyStart int
	historyLen   int
	distribution [moodCount]int
	handlers     []func(Change)
	subscribers  []chan Change

	// emitMu keeps event delivery in submission order.
	emitMu sync.Mutex
}

// NewStabilityEngine returns an engine in the neutral state.
func NewStabilityEngine(cfg StabilityConfig) (*StabilityEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &StabilityEngine{
		cfg:     cfg,
		current: Neutral,
		window:  make([]Mood, cfg.WindowSize),
		history: make([]Snapshot, cfg.HistoryCapacity),
	}, nil
}

// OnChange registers fn to be called synchronously for every mood change.
// Handlers must not call Submit.
func (e *StabilityEngine) OnChange(fn func(Change)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, fn)
}

// Subscribe returns a channel that receives mood changes. Changes are dropped
// for a subscriber whose buffer is full.
func (e *StabilityEngine) Subscribe(buffer int) <-chan Change {
	ch := make(chan Change, max(buffer, 1))
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers = append(e.subscribers, ch)
	return ch
}

// Close closes every subscriber channel.
func (e *StabilityEngine) Close() {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subscribers {
		close(ch)
	}
	e.subscribers = nil
}

// Submit feeds one raw classification. It returns the change and true when
// the committed mood switched as a result.
func (e *StabilityEngine) Submit(m Mood, confidence float64, at time.Time) (Change, bool) {
	if !m.Valid() {
		return Change{}, false
	}

	e.mu.Lock()
	e.pushWindowLocked(m)

	required := e.cfg.BaseThreshold
	if m != e.current {
		required *= changeMultiplier
	}
	agreement := float64(e.windowCounts[m]) / float64(e.cfg.WindowSize)

	if !(confidence >= required) || agreement < e.cfg.StabilityFactor {
		e.mu.Unlock()
		return Change{}, false
	}

	previous := e.current
	e.current = m
	e.confidence = confidence
	e.pushHistoryLocked(Snapshot{Mood: m, Confidence: confidence, Timestamp: at})

	if previous == m {
		e.mu.Unlock()
		return Change{}, false
	}

	change := Change{From: previous, To: m, Confidence: confidence, Timestamp: at}
	handlers := slices.Clone(e.handlers)
	subscribers := slices.Clone(e.subscribers)

	e.emitMu.Lock()
	e.mu.Unlock()
	defer e.emitMu.Unlock()

	applog.WithFields(applog.Fields{
		"from":       previous,
		"to":         m,
		"confidence": fmt.Sprintf("%.2f", confidence),
	}).Infof("Mood: change committed")

	for _, fn := range handlers {
		fn(change)
	}
	for _, ch := range subscribers {
		select {
		case ch <- change:
		default:
			applog.Warnf("Mood: subscriber full, dropping change to %s", m)
		}
	}
	return change, true
}

func (e *StabilityEngine) pushWindowLocked(m Mood) {
	if e.windowLen == len(e.window) {
		e.windowCounts[e.window[e.windowNext]]--
	} else {
		e.windowLen++
	}
	e.window[e.windowNext] = m
	e.windowCounts[m]++
	e.windowNext = (e.windowNext + 1) % len(e.window)
}

func (e *StabilityEngine) pushHistoryLocked(s Snapshot) {
	if e.historyLen == len(e.history) {
		evicted := e.history[e.historyStart]
		e.distribution[evicted.Mood]--
		e.history[e.historyStart] = s
		e.historyStart = (e.historyStart + 1) % len(e.history)
	} else {
		e.history[(e.historyStart+e.historyLen)%len(e.history)] = s
		e.historyLen++
	}
	e.distribution[s.Mood]++
}

// Current returns the committed mood and the confidence it was committed with.
func (e *StabilityEngine) Current() (Mood, float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current, e.confidence
}

// History returns committed snapshots, oldest first.
func (e *StabilityEngine) History() []Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Snapshot, e.historyLen)
	for i := range out {
		out[i] = e.history[(e.historyStart+i)%len(e.history)]
	}
	return out
}

// Distribution returns how often each mood appears in the retained history.
// Moods with no entries are omitted.
func (e *StabilityEngine) Distribution() map[Mood]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[Mood]int)
	for i, n := range e.distribution {
		if n > 0 {
			out[Mood(i)] = n
		}
	}
	return out
}

// Reset returns the engine to neutral with an empty window and history.
// Handlers and subscribers are kept.
func (e *StabilityEngine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = Neutral
	e.confidence = 0
	clear(e.window)
	e.windowNext, e.windowLen = 0, 0
	e.windowCounts = [moodCount]int{}
	clear(e.history)
	e.historyStart, e.historyLen = 0, 0
	e.distribution = [moodCount]int{}
	applog.Debugf("Mood: stability engine reset")
}
