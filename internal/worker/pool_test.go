// SPDX-License-Identifier: MIT
package worker

import (
	"context"
	"errors"
	"sort"
	"testing"

	"moodtap/internal/mood"
	"moodtap/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAnalyzer struct {
	mock.Mock
}

func (m *mockAnalyzer) AnalyzeFile(ctx context.Context, path string) (session.Report, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(session.Report), args.Error(1)
}

func collect(p *Pool) []Result {
	var out []Result
	for r := range p.Results() {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job.Index < out[j].Job.Index })
	return out
}

func TestPoolProcessesAllJobs(t *testing.T) {
	a := new(mockAnalyzer)
	a.On("AnalyzeFile", mock.Anything, "a.wav").Return(session.Report{Source: "a.wav", Mood: mood.Happy}, nil)
	a.On("AnalyzeFile", mock.Anything, "b.flac").Return(session.Report{Source: "b.flac", Mood: mood.Relaxed}, nil)
	a.On("AnalyzeFile", mock.Anything, "c.mp3").Return(session.Report{}, errors.New("decode failed"))

	p := NewPool(a, 8)
	p.Start(3)
	for i, path := range []string{"a.wav", "b.flac", "c.mp3"} {
		require.True(t, p.Submit(Job{Index: i, Path: path}))
	}
	p.Stop()

	results := collect(p)
	require.Len(t, results, 3)
	assert.Equal(t, mood.Happy, results[0].Report.Mood)
	assert.Equal(t, mood.Relaxed, results[1].Report.Mood)
	assert.EqualError(t, results[2].Err, "decode failed")
	a.AssertExpectations(t)
}

func TestPoolSubmitDropsWhenFull(t *testing.T) {
	a := new(mockAnalyzer)
	p := NewPool(a, 1)

	// No workers yet, so the second job finds the queue full.
	assert.True(t, p.Submit(Job{Path: "first.wav"}))
	assert.False(t, p.Submit(Job{Path: "second.wav"}))

	a.On("AnalyzeFile", mock.Anything, "first.wav").Return(session.Report{}, nil)
	p.Start(1)
	p.Stop()
	assert.Len(t, collect(p), 1)
	a.AssertNotCalled(t, "AnalyzeFile", mock.Anything, "second.wav")
}

func TestPoolCancelSkipsQueuedJobs(t *testing.T) {
	a := new(mockAnalyzer)
	p := NewPool(a, 4)
	for i := range 4 {
		require.True(t, p.Submit(Job{Index: i, Path: "x.wav"}))
	}
	p.Cancel()
	p.Start(2)
	p.Stop()

	results := collect(p)
	require.Len(t, results, 4)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
	a.AssertNotCalled(t, "AnalyzeFile", mock.Anything, mock.Anything)
}

func TestPoolStopIsIdempotent(t *testing.T) {
	p := NewPool(new(mockAnalyzer), 0)
	p.Start(0)
	p.Stop()
	assert.NotPanics(t, p.Stop)
	assert.Empty(t, collect(p))
}
