// SPDX-License-Identifier: MIT
package session

import (
	"context"
	"errors"
	"io"

	applog "moodtap/internal/log"
	"moodtap/internal/pipeline"
)

// Listen classifies a continuous source one segment at a time until the
// source ends or ctx is canceled. onReport, when set, sees every segment.
// Stability state carries across segments, and mood changes are published
// as each segment completes. Cancellation is a normal way to stop and
// returns nil.
func (s *Session) Listen(ctx context.Context, src pipeline.Source, name string, onReport func(Report)) error {
	t, err := s.newTracker()
	if err != nil {
		return err
	}
	defer t.engine.Close()

	frames := int(s.cfg.Segment.Seconds() * src.SampleRate())
	if frames < 1 {
		frames = 1
	}
	seg := newSegmentSource(src, frames*src.Channels())

	logger := applog.WithFields(applog.Fields{"session": s.id, "segment": s.cfg.Segment})
	logger.Infof("Session: listening to %s", name)

	for n := 1; ; n++ {
		seg.reset()
		rep, err := s.analyze(ctx, seg, name, t)
		switch {
		case ctx.Err() != nil:
			logger.Infof("Session: stopped listening after %d segments", n-1)
			return nil
		case pipeline.IsKind(err, pipeline.KindInsufficientData):
			// A segment too short to describe, typically the tail.
			logger.Debugf("Session: segment %d had no usable audio", n)
		case err != nil:
			return err
		default:
			if onReport != nil {
				onReport(rep)
			}
		}

		if seg.exhausted() {
			logger.Infof("Session: %s ended after %d segments", name, n)
			return nil
		}
	}
}

// segmentSource presents a bounded slice of a longer source as a complete
// source of its own. Samples read past the boundary carry into the next
// segment.
type segmentSource struct {
	src     pipeline.Source
	limit   int // samples per segment
	served  int
	pending []float32
	buf     []float32
	eof     bool
}

func newSegmentSource(src pipeline.Source, limit int) *segmentSource {
	return &segmentSource{src: src, limit: limit}
}

func (s *segmentSource) reset() {
	s.served = 0
}

// exhausted reports whether the underlying source has nothing left.
func (s *segmentSource) exhausted() bool {
	return s.eof && len(s.pending) == 0
}

func (s *segmentSource) Next(ctx context.Context) ([]float32, error) {
	if s.served >= s.limit {
		return nil, io.EOF
	}

	if len(s.pending) == 0 {
		if s.eof {
			return nil, io.EOF
		}
		samples, err := s.src.Next(ctx)
		if errors.Is(err, io.EOF) {
			s.eof = true
		} else if err != nil {
			return nil, err
		}
		// The underlying source may reuse its slice.
		s.buf = append(s.buf[:0], samples...)
		s.pending = s.buf
		if len(s.pending) == 0 {
			return nil, io.EOF
		}
	}

	n := min(len(s.pending), s.limit-s.served)
	out := s.pending[:n]
	s.pending = s.pending[n:]
	s.served += n
	return out, nil
}

func (s *segmentSource) SampleRate() float64 {
	return s.src.SampleRate()
}

func (s *segmentSource) Channels() int {
	return s.src.Channels()
}
