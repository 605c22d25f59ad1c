// SPDX-License-Identifier: MIT
// Package worker analyzes files in the background on a fixed set of goroutines.
package worker

import (
	"context"
	"sync"
	"time"

	applog "moodtap/internal/log"
	"moodtap/internal/session"
)

// FileAnalyzer is the work a pool performs for each job.
type FileAnalyzer interface {
	AnalyzeFile(ctx context.Context, path string) (session.Report, error)
}

// Job is one file queued for analysis.
type Job struct {
	Index int
	Path  string
}

// Result pairs a job with its outcome.
type Result struct {
	Job     Job
	Report  session.Report
	Err     error
	Elapsed time.Duration
}

// Pool manages background workers for file analysis. Results are delivered
// on the channel returned by Results, which closes after Stop.
type Pool struct {
	analyzer FileAnalyzer
	jobs     chan Job
	results  chan Result
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NewPool creates a pool with the given queue size. The results channel is
// sized to match so workers never block while the queue drains.
func NewPool(analyzer FileAnalyzer, queueSize int) *Pool {
	if queueSize < 1 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		analyzer: analyzer,
		jobs:     make(chan Job, queueSize),
		results:  make(chan Result, queueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start(workers int) {
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for job := range p.jobs {
				p.results <- p.processJob(id, job)
			}
		}(i)
	}
	applog.Debugf("Worker: started %d workers", workers)
}

// Results returns the channel results are delivered on.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Submit queues a job without blocking. It reports false when the queue is
// full and the job was dropped.
func (p *Pool) Submit(job Job) bool {
	select {
	case p.jobs <- job:
		return true
	default:
		applog.Warnf("Worker: queue full, dropping %s", job.Path)
		return false
	}
}

// Stop closes the queue, waits for queued jobs to finish and closes the
// results channel. Callers must keep draining Results until it closes.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.jobs)
		p.wg.Wait()
		close(p.results)
	})
}

// Cancel aborts in-flight analyses. Jobs still queued finish immediately
// with a context error. Stop must still be called.
func (p *Pool) Cancel() {
	p.cancel()
}

func (p *Pool) processJob(worker int, job Job) Result {
	logger := applog.WithFields(applog.Fields{"worker": worker, "path": job.Path})
	if err := p.ctx.Err(); err != nil {
		return Result{Job: job, Err: err}
	}

	start := time.Now()
	rep, err := p.analyzer.AnalyzeFile(p.ctx, job.Path)
	elapsed := time.Since(start)
	if err != nil {
		logger.Warnf("Worker: analysis failed: %v", err)
		return Result{Job: job, Err: err, Elapsed: elapsed}
	}

	logger.Debugf("Worker: processed in %s", elapsed.Round(time.Millisecond))
	return Result{Job: job, Report: rep, Elapsed: elapsed}
}
