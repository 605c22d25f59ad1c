// SPDX-License-Identifier: MIT
package pool

// Lease is exclusive ownership of one pooled buffer until Release, or until
// the pool reclaims it.
type Lease struct {
	pool       *Pool
	slot       *PooledBuffer
	generation uint64
}

// ID returns the pooled buffer's identifier.
func (l *Lease) ID() uint64 {
	return l.slot.ID
}

// Valid reports whether the lease still owns its buffer.
func (l *Lease) Valid() bool {
	l.pool.mu.Lock()
	defer l.pool.mu.Unlock()
	return l.validLocked()
}

func (l *Lease) validLocked() bool {
	pb, ok := l.pool.checkedOut[l.slot.ID]
	return ok && pb == l.slot && pb.generation == l.generation
}

// Buffer returns the leased buffer, or nil once the lease has been revoked
// or released.
func (l *Lease) Buffer() *SampleBuffer {
	l.pool.mu.Lock()
	defer l.pool.mu.Unlock()
	if !l.validLocked() {
		return nil
	}
	return l.slot.buf
}

// Touch marks the buffer as in use now, which protects it from reclamation
// in favour of buffers that have sat untouched for longer.
func (l *Lease) Touch() {
	l.pool.mu.Lock()
	defer l.pool.mu.Unlock()
	if l.validLocked() {
		l.slot.LastUsed = l.pool.clock.Now()
	}
}

// Release returns the buffer to the pool.
func (l *Lease) Release() {
	l.pool.Release(l)
}
