// Package window assembles corrected samples into fixed-size windows.
package window

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/activity.report/internal/sensor"
)

// Window is an ordered run of corrected samples analysed as one unit. A
// Window returned by TakeReadyWindow owns its storage.
type Window []sensor.CorrectedSample

// Accel returns the accelerometer sub-window.
func (w Window) Accel() []r3.Vec {
	out := make([]r3.Vec, len(w))
	for i, s := range w {
		out[i] = s.Accel
	}
	return out
}

// Gyro returns the gyroscope sub-window.
func (w Window) Gyro() []r3.Vec {
	out := make([]r3.Vec, len(w))
	for i, s := range w {
		out[i] = s.Gyro
	}
	return out
}

// Buffer is a fixed-capacity FIFO of the most recent samples. It is not safe
// for concurrent use.
type Buffer struct {
	data []sensor.CorrectedSample
	pos  int
	full bool

	size     int
	step     int
	arrivals int
}

// NewBuffer creates a Buffer emitting windows of size samples every step
// arrivals. step == size gives non-overlapping windows; step > size skips
// step-size samples between windows.
func NewBuffer(size, step int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", size)
	}
	if step <= 0 {
		return nil, fmt.Errorf("step size must be positive, got %d", step)
	}
	return &Buffer{
		data: make([]sensor.CorrectedSample, size),
		size: size,
		step: step,
	}, nil
}

// Size returns the window size.
func (b *Buffer) Size() int { return b.size }

// Step returns the step size.
func (b *Buffer) Step() int { return b.step }

// Push appends s, evicting the oldest sample once the buffer is full.
func (b *Buffer) Push(s sensor.CorrectedSample) {
	b.data[b.pos] = s
	b.pos++
	if b.pos >= b.size {
		b.pos = 0
		b.full = true
	}
	b.arrivals++
}

// Len returns the number of buffered samples.
func (b *Buffer) Len() int {
	if b.full {
		return b.size
	}
	return b.pos
}

// Arrivals returns the number of pushes since the last emitted window.
func (b *Buffer) Arrivals() int { return b.arrivals }

// TakeReadyWindow returns a snapshot of the buffer once it is full and at
// least step samples have arrived since the previous window.
func (b *Buffer) TakeReadyWindow() (Window, bool) {
	if b.arrivals < b.step || b.Len() != b.size {
		return nil, false
	}
	b.arrivals = 0
	return b.snapshot(), true
}

// Snapshot returns the buffered samples in arrival order.
func (b *Buffer) Snapshot() Window {
	return b.snapshot()
}

func (b *Buffer) snapshot() Window {
	out := make(Window, b.Len())
	if b.full {
		copy(out, b.data[b.pos:])
		copy(out[b.size-b.pos:], b.data[:b.pos])
	} else {
		copy(out, b.data[:b.pos])
	}
	return out
}

// Reset discards all samples and the arrival count.
func (b *Buffer) Reset() {
	clear(b.data)
	b.pos = 0
	b.full = false
	b.arrivals = 0
}
