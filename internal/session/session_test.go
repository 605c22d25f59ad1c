// SPDX-License-Identifier: MIT
package session

import (
	"context"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"moodtap/internal/analysis"
	"moodtap/internal/cache"
	"moodtap/internal/mood"
	"moodtap/internal/pipeline"
	"moodtap/internal/pool"
	"moodtap/internal/source"
	"moodtap/internal/transport"
	"moodtap/pkg/testsignal"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRate = 44100

type collector struct {
	mu       sync.Mutex
	messages []transport.Message
}

func (c *collector) Send(data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, data.(transport.Message))
	return nil
}

func (c *collector) Close() error { return nil }

func (c *collector) kinds() map[transport.Kind]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[transport.Kind]int)
	for _, m := range c.messages {
		out[m.Kind]++
	}
	return out
}

// eagerConfig commits every classification immediately.
func eagerConfig() Config {
	cfg := DefaultConfig()
	cfg.Stability.BaseThreshold = 0
	cfg.Stability.StabilityFactor = 1
	cfg.Stability.WindowSize = 1
	return cfg
}

// energeticAnalyzer describes every chunk with features that derive to the
// energetic prototype at 120 BPM.
type energeticAnalyzer struct{}

func (energeticAnalyzer) Analyze(*pool.SampleBuffer) (analysis.SpectralFeatureSet, bool) {
	return analysis.SpectralFeatureSet{
		Bass: 0.9, Mid: 0.9, Treble: 0.9,
		Brightness: 0.6, HarmonicRatio: 0.6, SpectralContrast: 0.8,
		Flux: 0.43,
	}, true
}

// steadyConfig is the default tuning with the tempo pinned at 120 BPM.
func steadyConfig() Config {
	cfg := DefaultConfig()
	tempo := analysis.DefaultTempo
	cfg.Pipeline.EstimatedTempo = &tempo
	return cfg
}

func newTestSession(t *testing.T, cfg Config, store cache.Store, out transport.Transport) *Session {
	t.Helper()
	a, err := analysis.NewSpectralAnalyzer(analysis.DefaultAnalyzerConfig())
	require.NoError(t, err)
	return newSessionWith(t, cfg, a, store, out)
}

func newSessionWith(t *testing.T, cfg Config, a analysis.ChunkAnalyzer, store cache.Store, out transport.Transport) *Session {
	t.Helper()
	p, err := pool.New(pool.DefaultConfig())
	require.NoError(t, err)
	s, err := New(cfg, Deps{Pool: p, Analyzer: a, Cache: store, Transport: out})
	require.NoError(t, err)
	return s
}

// silence returns a source of n full 4096-frame chunks.
func silence(t *testing.T, chunks int) *source.Samples {
	t.Helper()
	src, err := source.NewSamples(testsignal.Silence(chunks*4096), testRate, 1, 4096)
	require.NoError(t, err)
	return src
}

func sineSource(t *testing.T, seconds float64) *source.Samples {
	t.Helper()
	data := testsignal.Harmonics(int(seconds*testRate), testRate, 220)
	src, err := source.NewSamples(data, testRate, 1, 4096)
	require.NoError(t, err)
	return src
}

func writeWAV(t *testing.T, samples []float32) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "track.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, testRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: testRate},
		SourceBitDepth: 16,
		Data:           make([]int, len(samples)),
	}
	for i, s := range samples {
		buf.Data[i] = int(math.Round(float64(s) * math.MaxInt16))
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
	return path
}

func TestNewValidation(t *testing.T) {
	p, err := pool.New(pool.DefaultConfig())
	require.NoError(t, err)
	a, err := analysis.NewSpectralAnalyzer(analysis.DefaultAnalyzerConfig())
	require.NoError(t, err)

	_, err = New(DefaultConfig(), Deps{Analyzer: a})
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Segment = 0
	_, err = New(cfg, Deps{Pool: p, Analyzer: a})
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Stability.WindowSize = 0
	_, err = New(cfg, Deps{Pool: p, Analyzer: a})
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Pipeline.ChunkFrames = 1 << 20
	_, err = New(cfg, Deps{Pool: p, Analyzer: a})
	assert.Error(t, err)

	s, err := New(DefaultConfig(), Deps{Pool: p, Analyzer: a})
	require.NoError(t, err)
	assert.Len(t, s.ID(), 36)
}

func TestAnalyzeClassifiesAndPublishes(t *testing.T) {
	out := new(collector)
	s := newTestSession(t, eagerConfig(), nil, out)

	rep, err := s.Analyze(context.Background(), sineSource(t, 2), "harmonics")
	require.NoError(t, err)

	assert.True(t, rep.Mood.Valid())
	assert.Equal(t, "harmonics", rep.Source)
	assert.Positive(t, rep.Chunks)
	assert.Len(t, rep.Scores, len(mood.All()))
	// The last chunk's live vector is the final vector, so an engine that
	// commits every sample ends on the final mood.
	assert.Equal(t, rep.Mood, rep.Committed)
	assert.Equal(t, rep.Confidence, rep.CommittedConfidence)
	assert.Equal(t, rep.Changes > 0, rep.Changed)

	kinds := out.kinds()
	assert.Equal(t, 1, kinds[transport.KindResult])
	assert.Positive(t, kinds[transport.KindFeatures])
	assert.LessOrEqual(t, kinds[transport.KindFeatures], rep.Chunks)
	assert.Equal(t, rep.Changes, kinds[transport.KindMoodChange])
	for _, m := range out.messages {
		assert.Equal(t, s.ID(), m.Session)
		assert.Equal(t, "harmonics", m.Source)
		assert.False(t, m.Time.IsZero())
	}

	sum := s.Summary()
	assert.Equal(t, rep.Committed, sum.Current)
	assert.Equal(t, 1, sum.Reports)
	assert.Equal(t, rep.Changes, sum.Changes)
	assert.Equal(t, map[mood.Mood]int{rep.Committed: 1}, sum.Distribution)
}

func TestSustainedSourceCommitsOnce(t *testing.T) {
	out := new(collector)
	s := newSessionWith(t, steadyConfig(), energeticAnalyzer{}, nil, out)

	rep, err := s.Analyze(context.Background(), silence(t, 20), "steady")
	require.NoError(t, err)

	assert.Equal(t, 20, rep.Chunks)
	assert.Equal(t, mood.Energetic, rep.Mood)
	assert.Equal(t, mood.Energetic, rep.Committed)
	assert.Equal(t, 1, rep.Changes)
	assert.True(t, rep.Changed)

	var changes []transport.Message
	last := map[transport.Kind]int{}
	for i, m := range out.messages {
		last[m.Kind] = i
		if m.Kind == transport.KindMoodChange {
			changes = append(changes, m)
		}
	}
	require.Len(t, changes, 1)
	require.NotNil(t, changes[0].Change)
	assert.Equal(t, mood.Neutral, changes[0].Change.From)
	assert.Equal(t, mood.Energetic, changes[0].Change.To)

	// Changes go out once the run completes, ahead of the result.
	assert.Greater(t, last[transport.KindMoodChange], last[transport.KindFeatures])
	assert.Greater(t, last[transport.KindResult], last[transport.KindMoodChange])
}

func TestShortSourceNeverCommits(t *testing.T) {
	out := new(collector)
	s := newSessionWith(t, steadyConfig(), energeticAnalyzer{}, nil, out)

	// Six agreeing chunks fall short of 70% of a ten-sample window.
	rep, err := s.Analyze(context.Background(), silence(t, 6), "short")
	require.NoError(t, err)
	assert.Equal(t, mood.Energetic, rep.Mood)
	assert.Equal(t, mood.Neutral, rep.Committed)
	assert.False(t, rep.Changed)
	assert.Zero(t, out.kinds()[transport.KindMoodChange])
}

func TestEachSourceStartsNeutral(t *testing.T) {
	s := newSessionWith(t, steadyConfig(), energeticAnalyzer{}, nil, nil)
	ctx := context.Background()

	first, err := s.Analyze(ctx, silence(t, 12), "first")
	require.NoError(t, err)
	assert.Equal(t, mood.Energetic, first.Committed)

	// Carried state would keep the second source energetic.
	second, err := s.Analyze(ctx, silence(t, 6), "second")
	require.NoError(t, err)
	assert.Equal(t, mood.Neutral, second.Committed)
	assert.Zero(t, second.Changes)

	sum := s.Summary()
	assert.Equal(t, 2, sum.Reports)
	assert.Equal(t, 1, sum.Changes)
	assert.Equal(t, mood.Neutral, sum.Current)
	assert.Equal(t, map[mood.Mood]int{mood.Energetic: 1, mood.Neutral: 1}, sum.Distribution)
}

func TestConcurrentSourcesAreIndependent(t *testing.T) {
	s := newSessionWith(t, steadyConfig(), energeticAnalyzer{}, nil, nil)

	var wg sync.WaitGroup
	reports := make([]Report, 4)
	errs := make([]error, 4)
	for i := range reports {
		src := silence(t, 10)
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[i], errs[i] = s.Analyze(context.Background(), src, "track")
		}()
	}
	wg.Wait()

	for i, rep := range reports {
		require.NoError(t, errs[i])
		assert.Equal(t, 1, rep.Changes, "source %d", i)
		assert.Equal(t, mood.Energetic, rep.Committed)
	}
	assert.Equal(t, 4, s.Summary().Changes)
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	s := newTestSession(t, DefaultConfig(), nil, nil)

	first, err := s.Analyze(context.Background(), sineSource(t, 1), "a")
	require.NoError(t, err)
	second, err := s.Analyze(context.Background(), sineSource(t, 1), "b")
	require.NoError(t, err)

	assert.Equal(t, first.Features, second.Features)
	assert.Equal(t, first.Mood, second.Mood)
	assert.Equal(t, first.Confidence, second.Confidence)
	assert.Equal(t, first.Committed, second.Committed)
	assert.Equal(t, first.Changes, second.Changes)
}

// cancelingSource serves chunks from src and cancels the run once after
// chunks have been read.
type cancelingSource struct {
	*source.Samples
	after  int
	cancel context.CancelFunc
}

func (c *cancelingSource) Next(ctx context.Context) ([]float32, error) {
	if c.after == 0 {
		c.cancel()
		return nil, ctx.Err()
	}
	c.after--
	return c.Samples.Next(ctx)
}

func TestAnalyzeCanceled(t *testing.T) {
	out := new(collector)
	s := newSessionWith(t, steadyConfig(), energeticAnalyzer{}, nil, out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Ten chunks are enough to commit before the cancel arrives.
	src := &cancelingSource{Samples: silence(t, 20), after: 10, cancel: cancel}

	_, err := s.Analyze(ctx, src, "canceled")
	assert.ErrorIs(t, err, context.Canceled)

	kinds := out.kinds()
	assert.Positive(t, kinds[transport.KindFeatures])
	assert.Zero(t, kinds[transport.KindMoodChange])
	assert.Zero(t, kinds[transport.KindResult])
	assert.Zero(t, s.Summary().Reports)
	assert.Zero(t, s.Summary().Changes)
}

func TestAnalyzeInsufficientData(t *testing.T) {
	s := newTestSession(t, DefaultConfig(), nil, nil)
	src, err := source.NewSamples(nil, testRate, 1, 4096)
	require.NoError(t, err)

	_, err = s.Analyze(context.Background(), src, "empty")
	assert.True(t, pipeline.IsKind(err, pipeline.KindInsufficientData))
}

func TestAnalyzeFileUsesCache(t *testing.T) {
	store := cache.NewMemory(0)
	cfg := eagerConfig()
	cfg.CacheNamespace = "fft2048"
	s := newTestSession(t, cfg, store, nil)

	path := writeWAV(t, testsignal.Harmonics(testRate, testRate, 220))
	ctx := context.Background()

	first, err := s.AnalyzeFile(ctx, path)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Contains(t, first.Key, "fft2048/")

	second, err := s.AnalyzeFile(ctx, path)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Key, second.Key)
	assert.Equal(t, first.Features, second.Features)
	assert.Equal(t, first.Mood, second.Mood)

	assert.Equal(t, first.Committed, second.Committed)
	assert.Equal(t, first.CommittedConfidence, second.CommittedConfidence)
	assert.Zero(t, second.Changes, "cached results publish no changes")

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, s.Summary().Reports)
}

func TestAnalyzeFileErrors(t *testing.T) {
	s := newTestSession(t, DefaultConfig(), cache.NewMemory(0), nil)
	_, err := s.AnalyzeFile(context.Background(), filepath.Join(t.TempDir(), "missing.wav"))
	assert.Error(t, err)

	bogus := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(bogus, []byte("hello"), 0o644))
	_, err = s.AnalyzeFile(context.Background(), bogus)
	assert.Error(t, err)
}

func TestListenSegments(t *testing.T) {
	cfg := eagerConfig()
	cfg.Segment = time.Second
	s := newTestSession(t, cfg, nil, nil)

	var reports []Report
	err := s.Listen(context.Background(), sineSource(t, 3.5), "stream", func(r Report) {
		reports = append(reports, r)
	})
	require.NoError(t, err)
	require.Len(t, reports, 4)
	for _, r := range reports[:3] {
		assert.InDelta(t, time.Second, r.Duration, float64(time.Millisecond))
	}
	assert.InDelta(t, 500*time.Millisecond, reports[3].Duration, float64(time.Millisecond))
	assert.Equal(t, 4, s.Summary().Reports)
}

func TestListenCarriesStabilityAcrossSegments(t *testing.T) {
	cfg := steadyConfig()
	cfg.Segment = time.Second
	out := new(collector)
	s := newSessionWith(t, cfg, energeticAnalyzer{}, nil, out)

	var reports []Report
	err := s.Listen(context.Background(), silence(t, 32), "stream", func(r Report) {
		reports = append(reports, r)
	})
	require.NoError(t, err)
	require.Len(t, reports, 3)

	assert.Equal(t, 1, reports[0].Changes)
	for _, r := range reports {
		assert.Equal(t, mood.Energetic, r.Committed)
	}
	for _, r := range reports[1:] {
		assert.Zero(t, r.Changes)
	}
	assert.Equal(t, 1, out.kinds()[transport.KindMoodChange])
}

type blockingSource struct{}

func (blockingSource) Next(ctx context.Context) ([]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (blockingSource) SampleRate() float64 { return testRate }
func (blockingSource) Channels() int       { return 1 }

func TestListenStopsOnCancel(t *testing.T) {
	s := newTestSession(t, DefaultConfig(), nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.NoError(t, s.Listen(ctx, blockingSource{}, "mic", nil))
}

func TestSegmentSourceCarriesAcrossBoundary(t *testing.T) {
	data := make([]float32, 10)
	for i := range data {
		data[i] = float32(i)
	}
	src, err := source.NewSamples(data, testRate, 1, 4)
	require.NoError(t, err)

	seg := newSegmentSource(src, 6)
	ctx := context.Background()
	read := func() []float32 {
		var got []float32
		for {
			chunk, err := seg.Next(ctx)
			if err == io.EOF {
				return got
			}
			require.NoError(t, err)
			got = append(got, chunk...)
		}
	}

	assert.Equal(t, []float32{0, 1, 2, 3, 4, 5}, read())
	assert.False(t, seg.exhausted())

	seg.reset()
	assert.Equal(t, []float32{6, 7, 8, 9}, read())
	assert.True(t, seg.exhausted())
}
