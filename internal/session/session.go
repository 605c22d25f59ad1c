// SPDX-License-Identifier: MIT
/*
Package session connects the analysis pipeline to mood classification.

Every source gets its own stability state, starting from neutral. The live
feature vector of each chunk is classified and submitted to it, so the
committed mood of a source is the damped result of its per-chunk moods. A
live stream is one source however many segments it is reported in. Results
go to an optional cache and every published message goes to an optional
transport. Sessions are safe for concurrent AnalyzeFile calls.
*/
package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"moodtap/internal/analysis"
	"moodtap/internal/cache"
	applog "moodtap/internal/log"
	"moodtap/internal/mood"
	"moodtap/internal/pipeline"
	"moodtap/internal/pool"
	"moodtap/internal/source"
	"moodtap/internal/transport"

	"github.com/google/uuid"
)

// DefaultSegment is the live classification window.
const DefaultSegment = 10 * time.Second

// Config tunes a session.
type Config struct {
	Pipeline  pipeline.Options
	Stability mood.StabilityConfig
	// Segment is the amount of live audio aggregated per classification.
	Segment time.Duration
	// CacheNamespace separates cache keys produced under different
	// analysis settings.
	CacheNamespace string
}

// DefaultConfig returns the standard session tuning.
func DefaultConfig() Config {
	return Config{
		Pipeline:  pipeline.DefaultOptions(),
		Stability: mood.DefaultStabilityConfig(),
		Segment:   DefaultSegment,
	}
}

// Deps are the collaborators a session runs with. Cache and Transport may be nil.
type Deps struct {
	Pool      *pool.Pool
	Analyzer  analysis.ChunkAnalyzer
	Cache     cache.Store
	Transport transport.Transport
}

// Report describes the classification of one source.
type Report struct {
	Source     string                      `json:"source"`
	Key        string                      `json:"key,omitempty"`
	Features   analysis.AudioFeatureVector `json:"features"`
	Mood       mood.Mood                   `json:"mood"`
	Confidence float64                     `json:"confidence"`
	Scores     []mood.Score                `json:"scores"`
	// Committed is the stable mood once the source's chunks were submitted.
	Committed           mood.Mood `json:"committed"`
	CommittedConfidence float64   `json:"committed_confidence"`
	// Changes counts the mood changes published for this source.
	Changes  int           `json:"changes"`
	Changed  bool          `json:"changed"`
	Chunks   int           `json:"chunks"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
	Cached   bool          `json:"cached"`
}

// Summary aggregates the reports of a session.
type Summary struct {
	ID         string    `json:"id"`
	Current    mood.Mood `json:"current"`
	Confidence float64   `json:"confidence"`
	Reports    int       `json:"reports"`
	Changes    int       `json:"changes"`
	// Distribution counts reports by committed mood.
	Distribution map[mood.Mood]int `json:"distribution"`
}

// Session classifies sources and publishes the results.
type Session struct {
	id         string
	cfg        Config
	deps       Deps
	classifier *mood.Classifier
	now        func() time.Time

	mu      sync.Mutex
	summary Summary
}

// New validates cfg and returns a session with a fresh ID.
func New(cfg Config, deps Deps) (*Session, error) {
	if deps.Pool == nil || deps.Analyzer == nil {
		return nil, errors.New("session requires a pool and an analyzer")
	}
	if cfg.Segment <= 0 {
		return nil, fmt.Errorf("segment must be positive, got %s", cfg.Segment)
	}
	// Options are validated up front so per-run construction cannot fail.
	if _, err := pipeline.New(deps.Pool, deps.Analyzer, cfg.Pipeline); err != nil {
		return nil, err
	}
	if err := cfg.Stability.Validate(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	s := &Session{
		id:         id,
		cfg:        cfg,
		deps:       deps,
		classifier: mood.NewClassifier(),
		now:        time.Now,
		summary: Summary{
			ID:           id,
			Current:      mood.Neutral,
			Distribution: make(map[mood.Mood]int),
		},
	}

	applog.WithField("session", s.id).Debugf("Session: created")
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Summary returns the aggregate of every report so far. Current is the
// committed mood of the most recently finished source.
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := s.summary
	sum.Distribution = maps.Clone(s.summary.Distribution)
	return sum
}

// tracker is the stability state of one source. Changes committed during a
// run are held until the run completes, so failed and canceled runs publish
// none.
type tracker struct {
	engine  *mood.StabilityEngine
	pending []mood.Change
}

func (s *Session) newTracker() (*tracker, error) {
	engine, err := mood.NewStabilityEngine(s.cfg.Stability)
	if err != nil {
		return nil, err
	}
	t := &tracker{engine: engine}
	engine.OnChange(func(c mood.Change) {
		t.pending = append(t.pending, c)
	})
	return t, nil
}

// flush publishes the held changes in commit order and returns their count.
func (t *tracker) flush(publish func(mood.Change)) int {
	n := len(t.pending)
	for _, c := range t.pending {
		publish(c)
	}
	t.pending = t.pending[:0]
	return n
}

func (t *tracker) discard() {
	t.pending = t.pending[:0]
}

// AnalyzeFile decodes path, or reuses a cached result for identical content,
// and classifies it.
func (s *Session) AnalyzeFile(ctx context.Context, path string) (Report, error) {
	var key string
	if s.deps.Cache != nil {
		fingerprint, err := source.FingerprintFile(path)
		if err != nil {
			return Report{}, err
		}
		key = s.cacheKey(fingerprint)

		entry, err := s.deps.Cache.Get(ctx, key)
		switch {
		case err == nil:
			applog.WithField("key", key).Debugf("Session: cache hit for %s", path)
			rep := s.classify(path, entry.Features)
			rep.Key = key
			rep.Cached = true
			rep.Chunks = entry.Features.Chunks
			rep.Committed = entry.Committed
			rep.CommittedConfidence = entry.CommittedConfidence
			s.finish(rep)
			return rep, nil
		case !errors.Is(err, cache.ErrNotFound):
			applog.Warnf("Session: cache lookup failed, analyzing %s: %v", path, err)
		}
	}

	src, err := source.Open(path)
	if err != nil {
		return Report{}, err
	}
	defer src.Close()

	rep, err := s.Analyze(ctx, src, path)
	if err != nil {
		return rep, err
	}
	rep.Key = key

	if s.deps.Cache != nil {
		err := s.deps.Cache.Put(ctx, cache.Entry{
			Key:                 key,
			Source:              path,
			Features:            rep.Features,
			Mood:                rep.Mood,
			Confidence:          rep.Confidence,
			Committed:           rep.Committed,
			CommittedConfidence: rep.CommittedConfidence,
		})
		if err != nil {
			applog.Warnf("Session: caching %s failed: %v", path, err)
		}
	}
	return rep, nil
}

func (s *Session) cacheKey(fingerprint string) string {
	if s.cfg.CacheNamespace == "" {
		return fingerprint
	}
	return s.cfg.CacheNamespace + "/" + fingerprint
}

// Analyze runs one source to completion from a neutral stability state.
// A canceled run returns the context error and publishes no mood change.
func (s *Session) Analyze(ctx context.Context, src pipeline.Source, name string) (Report, error) {
	t, err := s.newTracker()
	if err != nil {
		return Report{}, err
	}
	defer t.engine.Close()
	return s.analyze(ctx, src, name, t)
}

// analyze runs src against t, which may carry state from earlier segments
// of the same source.
func (s *Session) analyze(ctx context.Context, src pipeline.Source, name string, t *tracker) (Report, error) {
	res, err := s.run(ctx, src, name, t.engine)
	if err == nil && res.Canceled {
		err = ctx.Err()
		if err == nil {
			err = context.Canceled
		}
	}
	if err != nil {
		t.discard()
		return Report{}, err
	}

	rep := s.classify(name, res.Features)
	rep.Chunks = res.Chunks
	rep.Skipped = res.Skipped
	rep.Duration = res.Duration
	rep.Committed, rep.CommittedConfidence = t.engine.Current()
	rep.Changes = t.flush(func(c mood.Change) { s.publishChange(name, c) })
	rep.Changed = rep.Changes > 0
	s.finish(rep)
	return rep, nil
}

// run builds a pipeline that classifies every chunk's live vector into
// engine and publishes it under name.
func (s *Session) run(ctx context.Context, src pipeline.Source, name string, engine *mood.StabilityEngine) (pipeline.Result, error) {
	opts := s.cfg.Pipeline
	user := opts.OnSnapshot
	opts.OnSnapshot = func(fv analysis.AudioFeatureVector) {
		if user != nil {
			user(fv)
		}
		m, confidence := s.classifier.Classify(fv)
		engine.Submit(m, confidence, s.now())

		current, committed := engine.Current()
		s.publish(transport.Message{
			Kind:       transport.KindFeatures,
			Source:     name,
			Mood:       current,
			Confidence: committed,
			Features:   &fv,
		})
	}

	p, err := pipeline.New(s.deps.Pool, s.deps.Analyzer, opts)
	if err != nil {
		return pipeline.Result{}, err
	}
	return p.Run(ctx, src)
}

// classify scores the finalized vector of a source.
func (s *Session) classify(name string, fv analysis.AudioFeatureVector) Report {
	m, confidence := s.classifier.Classify(fv)
	return Report{
		Source:     name,
		Features:   fv,
		Mood:       m,
		Confidence: confidence,
		Scores:     s.classifier.Scores(fv),
		Committed:  mood.Neutral,
	}
}

// finish records rep in the summary and publishes it.
func (s *Session) finish(rep Report) {
	s.mu.Lock()
	s.summary.Reports++
	s.summary.Changes += rep.Changes
	s.summary.Current = rep.Committed
	s.summary.Confidence = rep.CommittedConfidence
	s.summary.Distribution[rep.Committed]++
	s.mu.Unlock()

	applog.WithFields(applog.Fields{
		"session":   s.id,
		"mood":      rep.Mood,
		"committed": rep.Committed,
	}).Infof("Session: %s classified, confidence %.2f", rep.Source, rep.Confidence)

	s.publish(transport.Message{
		Kind:       transport.KindResult,
		Source:     rep.Source,
		Mood:       rep.Mood,
		Confidence: rep.Confidence,
		Features:   &rep.Features,
	})
}

func (s *Session) publishChange(name string, c mood.Change) {
	s.publish(transport.Message{
		Kind:       transport.KindMoodChange,
		Time:       c.Timestamp,
		Source:     name,
		Mood:       c.To,
		Confidence: c.Confidence,
		Change:     &c,
	})
}

func (s *Session) publish(msg transport.Message) {
	if s.deps.Transport == nil {
		return
	}
	msg.Session = s.id
	if msg.Time.IsZero() {
		msg.Time = s.now()
	}
	if err := s.deps.Transport.Send(msg); err != nil {
		applog.Warnf("Session: publishing %s failed: %v", msg.Kind, err)
	}
}
