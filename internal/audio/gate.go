// SPDX-License-Identifier: MIT
package audio

import "math"

func (c *Capture) EnableGate() {
	c.gateEnabled.Store(true)
}

func (c *Capture) DisableGate() {
	c.gateEnabled.Store(false)
}

// SetGateThreshold adjusts the noise gate threshold.
// The value is in the range of 0.0-1.0 where 0=always open, 1=always closed.
func (c *Capture) SetGateThreshold(threshold float64) {
	if threshold < 0.0 || math.IsNaN(threshold) {
		threshold = 0.0
	}
	if threshold > 1.0 {
		threshold = 1.0
	}
	c.gateThreshold.Store(math.Float32bits(float32(threshold)))
}

// GateThreshold returns the current noise gate threshold.
func (c *Capture) GateThreshold() float64 {
	return float64(c.threshold())
}

func (c *Capture) threshold() float32 {
	return math.Float32frombits(c.gateThreshold.Load())
}

// peak returns the largest absolute sample in block.
func peak(block []float32) float32 {
	var m float32
	for _, s := range block {
		if s < 0 {
			s = -s
		}
		if s > m {
			m = s
		}
	}
	return m
}
