// SPDX-License-Identifier: MIT
/*
Package pipeline drives one source through the buffer pool, the spectral
analyzer and the feature aggregator.

Chunks are accumulated strictly in source order. A chunk is skipped, not
failed, when no pool buffer can be obtained after the configured retries or
when its analysis exceeds the per-chunk deadline; too many consecutive skips
fail the run. Cancellation stops reading, discards aggregated state and
returns a canceled Result with a nil error.
*/
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"moodtap/internal/analysis"
	applog "moodtap/internal/log"
	"moodtap/internal/pool"
)

const (
	DefaultChunkTimeout        = 2 * time.Second
	DefaultMaxConsecutiveSkips = 8
	DefaultAcquireRetries      = 3
	DefaultAcquireBackoff      = 5 * time.Millisecond
)

// Options tunes a pipeline run.
type Options struct {
	// ChunkFrames is the analysis chunk length. Zero uses the pool's frame capacity.
	ChunkFrames int
	// ChunkTimeout bounds the analysis of one chunk. Zero disables the deadline.
	ChunkTimeout        time.Duration
	MaxConsecutiveSkips int
	AcquireRetries      int
	AcquireBackoff      time.Duration

	// EstimatedTempo, when set, replaces onset-based tempo estimation.
	EstimatedTempo *float64

	OnProgress func(Progress)
	OnSnapshot func(analysis.AudioFeatureVector)
}

// DefaultOptions returns the standard retry and timeout policy.
func DefaultOptions() Options {
	return Options{
		ChunkTimeout:        DefaultChunkTimeout,
		MaxConsecutiveSkips: DefaultMaxConsecutiveSkips,
		AcquireRetries:      DefaultAcquireRetries,
		AcquireBackoff:      DefaultAcquireBackoff,
	}
}

// Progress is reported after every chunk, analyzed or skipped.
type Progress struct {
	Chunks   int           `json:"chunks"`
	Skipped  int           `json:"skipped"`
	Frames   int64         `json:"frames"`
	Position time.Duration `json:"position"`
}

// Result summarises a run. Features is only meaningful when Canceled is false.
type Result struct {
	Features analysis.AudioFeatureVector
	Chunks   int
	Skipped  int
	Frames   int64
	Duration time.Duration
	Canceled bool
}

// Pipeline analyzes sources using a shared pool. A Pipeline may run several
// sources concurrently; each Run keeps its own aggregation state.
type Pipeline struct {
	pool     *pool.Pool
	analyzer analysis.ChunkAnalyzer
	opts     Options
}

// New returns a pipeline over p and a.
func New(p *pool.Pool, a analysis.ChunkAnalyzer, opts Options) (*Pipeline, error) {
	if p == nil || a == nil {
		return nil, errors.New("pipeline requires a pool and an analyzer")
	}
	capacity := p.Config().FrameCapacity
	if opts.ChunkFrames == 0 {
		opts.ChunkFrames = capacity
	}
	if opts.ChunkFrames < 0 || opts.ChunkFrames > capacity {
		return nil, fmt.Errorf("chunk frames must be in [1, %d], got %d", capacity, opts.ChunkFrames)
	}
	if opts.MaxConsecutiveSkips < 0 || opts.AcquireRetries < 0 {
		return nil, errors.New("skip and retry limits must not be negative")
	}
	if opts.ChunkTimeout < 0 || opts.AcquireBackoff < 0 {
		return nil, errors.New("timeouts must not be negative")
	}
	return &Pipeline{pool: p, analyzer: a, opts: opts}, nil
}

// Options returns the effective options.
func (p *Pipeline) Options() Options {
	return p.opts
}

// run holds the state of one Run call.
type run struct {
	*Pipeline
	src        Source
	sampleRate float64
	srcCh      int
	agg        *analysis.Aggregator
	mono       []float32
	progress   Progress
	skipStreak int
}

// Run pulls src to exhaustion and returns the finalized feature vector.
func (p *Pipeline) Run(ctx context.Context, src Source) (Result, error) {
	sampleRate, channels := src.SampleRate(), src.Channels()
	if sampleRate <= 0 || channels < 1 {
		return Result{}, &Error{Kind: KindMalformedSource, Op: "open",
			Err: fmt.Errorf("sample rate %v, %d channels", sampleRate, channels)}
	}
	poolCh := p.pool.Config().Channels
	if channels != poolCh && poolCh != 1 {
		return Result{}, &Error{Kind: KindMalformedSource, Op: "open",
			Err: fmt.Errorf("source has %d channels, pool buffers hold %d", channels, poolCh)}
	}

	r := &run{
		Pipeline:   p,
		src:        src,
		sampleRate: sampleRate,
		srcCh:      channels,
		agg:        analysis.NewAggregator(sampleRate / float64(p.opts.ChunkFrames)),
	}
	chunker := newRechunker(p.opts.ChunkFrames, poolCh)

	logger := applog.WithFields(applog.Fields{
		"rate":     sampleRate,
		"channels": channels,
		"chunk":    p.opts.ChunkFrames,
	})
	logger.Debugf("Pipeline: run started")

	eof := false
	for !eof {
		if ctx.Err() != nil {
			return r.canceled(), nil
		}

		samples, err := src.Next(ctx)
		switch {
		case errors.Is(err, io.EOF):
			eof = true
		case err != nil:
			if ctx.Err() != nil {
				return r.canceled(), nil
			}
			return Result{}, &Error{Kind: KindMalformedSource, Op: "read", Err: err}
		}

		if len(samples)%channels != 0 {
			return Result{}, &Error{Kind: KindMalformedSource, Op: "read",
				Err: fmt.Errorf("chunk of %d samples is not a whole number of %d-channel frames", len(samples), channels)}
		}
		if len(samples) > 0 {
			chunker.push(r.toPoolChannels(samples, poolCh))
		}

		for {
			chunk, ok := chunker.next(eof)
			if !ok {
				break
			}
			if err := r.process(ctx, chunk); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return r.canceled(), nil
				}
				return Result{}, err
			}
		}
	}

	fv, err := r.agg.Finalize(p.opts.EstimatedTempo)
	if err != nil {
		return Result{}, &Error{Kind: KindInsufficientData, Op: "finalize", Err: err}
	}

	logger.WithField("chunks", r.progress.Chunks).
		WithField("skipped", r.progress.Skipped).
		Infof("Pipeline: analysis finished, tempo %.1f BPM", fv.Tempo)

	return Result{
		Features: fv,
		Chunks:   r.progress.Chunks,
		Skipped:  r.progress.Skipped,
		Frames:   r.progress.Frames,
		Duration: r.progress.Position,
	}, nil
}

func (r *run) canceled() Result {
	applog.Debugf("Pipeline: run canceled after %d chunks", r.progress.Chunks)
	r.agg.Reset()
	return Result{
		Chunks:   r.progress.Chunks,
		Skipped:  r.progress.Skipped,
		Frames:   r.progress.Frames,
		Duration: r.progress.Position,
		Canceled: true,
	}
}

func (r *run) toPoolChannels(samples []float32, poolCh int) []float32 {
	if r.srcCh == poolCh {
		return samples
	}
	r.mono = downmixInto(r.mono, samples, r.srcCh)
	return r.mono
}

type chunkResult struct {
	features analysis.SpectralFeatureSet
	levels   analysis.Levels
	ok       bool
}

// process analyzes one chunk. It returns a context error on cancellation and
// a pipeline Error when the skip limit is exceeded.
func (r *run) process(ctx context.Context, chunk []float32) error {
	frames := len(chunk) / r.pool.Config().Channels
	r.progress.Frames += int64(frames)
	r.progress.Position = time.Duration(float64(r.progress.Frames) / r.sampleRate * float64(time.Second))

	lease, err := r.acquire(ctx)
	if err != nil {
		return err
	}
	if lease == nil {
		return r.skip("pool exhausted")
	}

	buf := lease.Buffer()
	if buf == nil {
		lease.Release()
		return r.skip("buffer reclaimed before use")
	}
	buf.SampleRate = r.sampleRate
	buf.Fill(chunk)

	res, err := r.analyze(ctx, lease, buf)
	if err != nil {
		return err
	}
	if res == nil {
		return r.skip("analysis deadline exceeded")
	}

	r.progress.Chunks++
	r.skipStreak = 0
	if res.ok {
		r.agg.Accumulate(res.features, res.levels)
		if r.opts.OnSnapshot != nil {
			if fv, ok := r.agg.Snapshot(r.opts.EstimatedTempo); ok {
				r.opts.OnSnapshot(fv)
			}
		}
	}
	r.report()
	return nil
}

// acquire tries the pool with backoff. A nil lease with a nil error means
// the pool stayed exhausted.
func (r *run) acquire(ctx context.Context) (*pool.Lease, error) {
	for attempt := 0; ; attempt++ {
		if lease, ok := r.pool.Acquire(); ok {
			return lease, nil
		}
		if attempt >= r.opts.AcquireRetries {
			return nil, nil
		}
		timer := time.NewTimer(r.opts.AcquireBackoff << attempt)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// analyze runs the analyzer under the chunk deadline. On timeout it returns
// nil and the still-running analysis releases the lease when it finishes.
func (r *run) analyze(ctx context.Context, lease *pool.Lease, buf *pool.SampleBuffer) (*chunkResult, error) {
	lease.Touch()
	work := func() chunkResult {
		fs, ok := r.analyzer.Analyze(buf)
		return chunkResult{features: fs, levels: analysis.ChunkLevels(buf), ok: ok}
	}

	if r.opts.ChunkTimeout == 0 {
		res := work()
		lease.Release()
		return &res, nil
	}

	done := make(chan chunkResult, 1)
	go func() {
		res := work()
		lease.Release()
		done <- res
	}()

	timer := time.NewTimer(r.opts.ChunkTimeout)
	defer timer.Stop()
	select {
	case res := <-done:
		return &res, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *run) skip(reason string) error {
	r.progress.Skipped++
	r.skipStreak++
	applog.WithFields(applog.Fields{
		"streak": r.skipStreak,
		"frames": r.progress.Frames,
	}).Warnf("Pipeline: skipped chunk, %s", reason)
	r.report()

	if r.skipStreak > r.opts.MaxConsecutiveSkips {
		return &Error{Kind: KindTooManySkips, Op: "process",
			Err: fmt.Errorf("%d consecutive chunks skipped, last: %s", r.skipStreak, reason)}
	}
	return nil
}

func (r *run) report() {
	if r.opts.OnProgress != nil {
		r.opts.OnProgress(r.progress)
	}
}
