// Package orientation removes the slowly varying device-orientation bias from
// accelerometer samples so windows are comparable however the device is worn.
//
// A low-pass estimate of the gravity direction is maintained by exponential
// smoothing; each accelerometer vector is then rotated so that the estimated
// gravity points along +Z.
package orientation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/activity.report/internal/sensor"
)

// DefaultAlpha is the smoothing coefficient used by the live pipeline.
const DefaultAlpha = 0.9

// canonical is the frame axis gravity is mapped onto, and the starting estimate.
var canonical = r3.Vec{X: 0, Y: 0, Z: 1}

// Corrector tracks the gravity estimate. It is not safe for concurrent use:
// the ingestion loop is its only writer.
type Corrector struct {
	alpha   float64
	gravity r3.Vec

	// rotation is derived from gravity and refreshed only when gravity changes.
	rotation r3.Rotation
	identity bool
	stale    bool
}

// New creates a Corrector with smoothing coefficient alpha in (0, 1).
func New(alpha float64) (*Corrector, error) {
	if !(alpha > 0 && alpha < 1) {
		return nil, fmt.Errorf("smoothing alpha must be in (0, 1), got %v", alpha)
	}
	c := &Corrector{alpha: alpha}
	c.Reset()
	return c, nil
}

// Reset reinitialises the gravity estimate to the canonical axis. Call it
// before the first sample of every run so no bias carries over.
func (c *Corrector) Reset() {
	c.gravity = canonical
	c.stale = true
}

// Gravity returns the current gravity estimate.
func (c *Corrector) Gravity() r3.Vec {
	return c.gravity
}

// Update folds the direction of accel into the gravity estimate. A zero vector
// carries no direction and is ignored.
func (c *Corrector) Update(accel r3.Vec) {
	n := r3.Norm(accel)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return
	}
	dir := r3.Scale(1/n, accel)
	c.gravity = r3.Add(r3.Scale(c.alpha, c.gravity), r3.Scale(1-c.alpha, dir))
	c.stale = true
}

// Reorient rotates accel into the frame where the gravity estimate lies on +Z.
func (c *Corrector) Reorient(accel r3.Vec) r3.Vec {
	if c.stale {
		c.refresh()
	}
	if c.identity {
		return accel
	}
	return c.rotation.Rotate(accel)
}

// Correct updates the estimate with s and returns the reoriented sample.
func (c *Corrector) Correct(s sensor.RawSample) sensor.CorrectedSample {
	c.Update(s.Accel)
	return sensor.CorrectedSample{
		Timestamp: s.Timestamp,
		Accel:     c.Reorient(s.Accel),
		Gyro:      s.Gyro,
	}
}

// refresh recomputes the rotation taking unit(gravity) onto the canonical axis.
func (c *Corrector) refresh() {
	c.stale = false

	n := r3.Norm(c.gravity)
	if n == 0 {
		c.identity = true
		return
	}
	g := r3.Scale(1/n, c.gravity)

	cos := math.Max(-1, math.Min(1, r3.Dot(g, canonical)))
	axis := r3.Cross(g, canonical)
	sin := r3.Norm(axis)

	switch {
	case sin < 1e-12 && cos > 0:
		c.identity = true
	case sin < 1e-12:
		// Antiparallel: any axis perpendicular to Z works.
		c.identity = false
		c.rotation = r3.NewRotation(math.Pi, r3.Vec{X: 1})
	default:
		c.identity = false
		c.rotation = r3.NewRotation(math.Atan2(sin, cos), axis)
	}
}
