// SPDX-License-Identifier: MIT
package pool

import "time"

// Pressure is a coarse classification of pool memory usage.
type Pressure int

const (
	PressureLow Pressure = iota
	PressureModerate
	PressureHigh
	PressureCritical
)

// Sweep intervals returned by Tick.
const (
	RelaxedSweepInterval   = 10 * time.Second
	PressuredSweepInterval = 5 * time.Second
)

func (p Pressure) String() string {
	switch p {
	case PressureLow:
		return "low"
	case PressureModerate:
		return "moderate"
	case PressureHigh:
		return "high"
	case PressureCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// PressureFor maps a used/ceiling ratio onto a pressure level.
func PressureFor(usedBytes, ceilingBytes int64) Pressure {
	if ceilingBytes <= 0 {
		return PressureCritical
	}
	ratio := float64(usedBytes) / float64(ceilingBytes)
	switch {
	case ratio < 0.6:
		return PressureLow
	case ratio < 0.75:
		return PressureModerate
	case ratio < 0.9:
		return PressureHigh
	default:
		return PressureCritical
	}
}

// sweepInterval is shorter while memory is tight.
func (p Pressure) sweepInterval() time.Duration {
	if p >= PressureHigh {
		return PressuredSweepInterval
	}
	return RelaxedSweepInterval
}
