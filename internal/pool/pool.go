// SPDX-License-Identifier: MIT
/*
Package pool implements a bounded, memory-pressure-aware pool of reusable
sample buffers.

Ownership:
  - Acquire hands out a Lease, the only handle through which a buffer is reached
  - A buffer reclaimed from a slow holder gets fresh storage and a new generation,
    so the previous Lease is revoked and can never observe the new owner's data
  - Release of a revoked Lease is a no-op

All bookkeeping happens under one mutex; nothing inside the lock blocks, allocates
large amounts, or does I/O beyond allocating a new buffer's storage.
*/
package pool

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	applog "moodtap/internal/log"
)

// Defaults for Config.
const (
	DefaultCeilingBytes     = 50 << 20
	DefaultMaxBuffers       = 64
	DefaultCleanupThreshold = 30 * time.Second
	DefaultFrameCapacity    = 4096
	DefaultChannels         = 1
	DefaultSampleRate       = 44100
)

// Config sizes a Pool. Every buffer in one pool has the same shape.
type Config struct {
	FrameCapacity    int           // Frames per buffer.
	Channels         int           // Interleaved channels per frame.
	SampleRate       float64       // Stamped on every buffer.
	CeilingBytes     int64         // Upper bound on resident buffer bytes.
	MaxBuffers       int           // Upper bound on resident buffer count.
	CleanupThreshold time.Duration // Idle age after which a buffer is dropped.
	Clock            Clock         // Defaults to SystemClock.
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() Config {
	return Config{
		FrameCapacity:    DefaultFrameCapacity,
		Channels:         DefaultChannels,
		SampleRate:       DefaultSampleRate,
		CeilingBytes:     DefaultCeilingBytes,
		MaxBuffers:       DefaultMaxBuffers,
		CleanupThreshold: DefaultCleanupThreshold,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.FrameCapacity <= 0:
		return fmt.Errorf("pool: frame capacity must be positive, got %d", c.FrameCapacity)
	case c.Channels <= 0:
		return fmt.Errorf("pool: channels must be positive, got %d", c.Channels)
	case c.SampleRate <= 0:
		return fmt.Errorf("pool: sample rate must be positive, got %f", c.SampleRate)
	case c.MaxBuffers <= 0:
		return fmt.Errorf("pool: max buffers must be positive, got %d", c.MaxBuffers)
	case c.CleanupThreshold <= 0:
		return fmt.Errorf("pool: cleanup threshold must be positive, got %s", c.CleanupThreshold)
	case c.CeilingBytes < int64(c.FrameCapacity*c.Channels*bytesPerSample):
		return fmt.Errorf("pool: ceiling %d bytes cannot hold a single buffer", c.CeilingBytes)
	}
	return nil
}

// PooledBuffer is the pool-side record for one resident buffer.
type PooledBuffer struct {
	ID       uint64
	LastUsed time.Time
	UseCount uint64
	ByteSize int64

	buf        *SampleBuffer
	generation uint64
}

// Metrics is a point-in-time copy of the pool counters.
type Metrics struct {
	Allocations  uint64
	Releases     uint64
	Reuses       uint64
	Misses       uint64
	Reclamations uint64
	Evictions    uint64
	PeakBytes    int64
	CurrentBytes int64
	Pressure     Pressure
	Idle         int
	CheckedOut   int
}

// Pool owns a bounded set of reusable SampleBuffers.
type Pool struct {
	cfg   Config
	clock Clock

	mu         sync.Mutex
	idle       []*PooledBuffer // Stack; the most recently released buffer is on top.
	checkedOut map[uint64]*PooledBuffer
	nextID     uint64
	usedBytes  int64
	pressure   Pressure
	metrics    Metrics

	shrinking atomic.Bool
	shrinkWG  sync.WaitGroup
}

// New creates an empty pool. Buffers are allocated lazily by Acquire.
func New(cfg Config) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	return &Pool{
		cfg:        cfg,
		clock:      clock,
		checkedOut: make(map[uint64]*PooledBuffer),
	}, nil
}

// Config returns the configuration the pool was built with.
func (p *Pool) Config() Config {
	return p.cfg
}

func (p *Pool) bufferBytes() int64 {
	return int64(p.cfg.FrameCapacity*p.cfg.Channels) * bytesPerSample
}

// Acquire returns a leased buffer, or false when the pool is exhausted.
// It never blocks: callers are expected to skip the chunk and carry on.
func (p *Pool) Acquire() (*Lease, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()

	if n := len(p.idle); n > 0 {
		pb := p.idle[n-1]
		p.idle[n-1] = nil
		p.idle = p.idle[:n-1]
		p.metrics.Reuses++
		return p.checkOutLocked(pb, now), true
	}

	size := p.bufferBytes()
	if p.residentLocked() < p.cfg.MaxBuffers &&
		p.usedBytes+size <= p.cfg.CeilingBytes &&
		p.pressure < PressureHigh {
		p.nextID++
		pb := &PooledBuffer{
			ID:       p.nextID,
			ByteSize: size,
			buf:      NewSampleBuffer(p.cfg.FrameCapacity, p.cfg.Channels, p.cfg.SampleRate),
		}
		p.usedBytes += size
		p.metrics.Allocations++
		p.updatePressureLocked()
		return p.checkOutLocked(pb, now), true
	}

	if pb := p.reclaimLocked(now); pb != nil {
		return p.checkOutLocked(pb, now), true
	}

	p.metrics.Misses++
	return nil, false
}

// reclaimLocked revokes the checked-out buffer that has been idle longest.
// Ties go to the smallest ID. A buffer touched at this very instant is never
// taken. The slot gets fresh zeroed storage.
func (p *Pool) reclaimLocked(now time.Time) *PooledBuffer {
	var victim *PooledBuffer
	var victimIdle time.Duration
	for _, pb := range p.checkedOut {
		idle := now.Sub(pb.LastUsed)
		if idle <= 0 {
			continue
		}
		if victim == nil || idle > victimIdle || (idle == victimIdle && pb.ID < victim.ID) {
			victim, victimIdle = pb, idle
		}
	}
	if victim == nil {
		return nil
	}

	delete(p.checkedOut, victim.ID)
	victim.generation++
	victim.buf = NewSampleBuffer(p.cfg.FrameCapacity, p.cfg.Channels, p.cfg.SampleRate)
	p.metrics.Reclamations++

	applog.WithFields(applog.Fields{
		"id":   victim.ID,
		"idle": victimIdle,
	}).Debugf("Pool: reclaimed checked-out buffer")
	return victim
}

func (p *Pool) checkOutLocked(pb *PooledBuffer, now time.Time) *Lease {
	pb.LastUsed = now
	pb.UseCount++
	p.checkedOut[pb.ID] = pb
	return &Lease{pool: p, slot: pb, generation: pb.generation}
}

// Release returns a leased buffer. Releasing a revoked or already released
// lease does nothing.
func (p *Pool) Release(l *Lease) {
	if l == nil {
		return
	}

	p.mu.Lock()
	pb, ok := p.checkedOut[l.slot.ID]
	if !ok || pb != l.slot || pb.generation != l.generation {
		p.mu.Unlock()
		return
	}
	delete(p.checkedOut, pb.ID)
	pb.generation++
	p.metrics.Releases++

	now := p.clock.Now()
	if now.Sub(pb.LastUsed) < p.cfg.CleanupThreshold {
		pb.buf.reset()
		pb.LastUsed = now
		p.idle = append(p.idle, pb)
	} else {
		p.dropLocked(pb)
	}

	critical := p.pressure == PressureCritical
	p.mu.Unlock()

	if critical && p.shrinking.CompareAndSwap(false, true) {
		p.shrinkWG.Add(1)
		go func() {
			defer p.shrinkWG.Done()
			defer p.shrinking.Store(false)
			p.Shrink()
		}()
	}
}

// Shrink halves the resident buffer count, dropping idle buffers oldest first.
// Checked-out buffers are never dropped. It returns the number of buffers dropped.
func (p *Pool) Shrink() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	target := p.residentLocked() / 2
	p.sortIdleOldestFirstLocked()

	dropped := 0
	for len(p.idle) > 0 && p.residentLocked() > target {
		pb := p.idle[0]
		p.idle = p.idle[1:]
		p.dropLocked(pb)
		dropped++
	}
	p.metrics.Evictions += uint64(dropped)

	if dropped > 0 {
		applog.WithFields(applog.Fields{
			"dropped":  dropped,
			"resident": p.residentLocked(),
			"pressure": p.pressure,
		}).Debugf("Pool: shrink")
	}
	return dropped
}

// DrainAll drops every idle buffer and revokes every outstanding lease.
func (p *Pool) DrainAll() {
	p.shrinkWG.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pb := range p.idle {
		p.dropLocked(pb)
	}
	p.idle = nil
	for id, pb := range p.checkedOut {
		pb.generation++
		p.dropLocked(pb)
		delete(p.checkedOut, id)
	}
}

// Tick evicts idle buffers older than the cleanup threshold, refreshes the
// pressure level and returns the delay until the next sweep.
func (p *Pool) Tick(now time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	kept := p.idle[:0]
	evicted := 0
	for _, pb := range p.idle {
		if now.Sub(pb.LastUsed) > p.cfg.CleanupThreshold {
			p.dropLocked(pb)
			evicted++
			continue
		}
		kept = append(kept, pb)
	}
	clear(p.idle[len(kept):])
	p.idle = kept
	p.metrics.Evictions += uint64(evicted)
	p.updatePressureLocked()

	return p.pressure.sweepInterval()
}

// Run calls Tick on the interval it asks for until ctx is done.
func (p *Pool) Run(ctx context.Context) {
	timer := time.NewTimer(p.Tick(p.clock.Now()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			timer.Reset(p.Tick(p.clock.Now()))
		}
	}
}

// Pressure returns the current pressure level.
func (p *Pool) Pressure() Pressure {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pressure
}

// Metrics returns a copy of the pool counters.
func (p *Pool) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := p.metrics
	m.CurrentBytes = p.usedBytes
	m.Pressure = p.pressure
	m.Idle = len(p.idle)
	m.CheckedOut = len(p.checkedOut)
	return m
}

func (p *Pool) residentLocked() int {
	return len(p.idle) + len(p.checkedOut)
}

func (p *Pool) dropLocked(pb *PooledBuffer) {
	p.usedBytes -= pb.ByteSize
	pb.buf = nil
	p.updatePressureLocked()
}

func (p *Pool) updatePressureLocked() {
	p.pressure = PressureFor(p.usedBytes, p.cfg.CeilingBytes)
	if p.usedBytes > p.metrics.PeakBytes {
		p.metrics.PeakBytes = p.usedBytes
	}
}

func (p *Pool) sortIdleOldestFirstLocked() {
	slices.SortStableFunc(p.idle, func(a, b *PooledBuffer) int {
		return a.LastUsed.Compare(b.LastUsed)
	})
}
