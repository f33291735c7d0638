// Package sensor owns the wire format of the phone/wearable sensor stream and
// the sample types produced from it.
//
// A datagram is one comma-separated record:
//
//	timestamp, reserved, ax, ay, az, reserved, gx, gy, gz, ...
//
// Records carry at least MinFields fields; anything after the gyroscope
// triple is ignored by the live pipeline.
package sensor

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// RawSample is one decoded reading. Timestamp is in device clock units (ms).
type RawSample struct {
	Timestamp float64
	Accel     r3.Vec
	Gyro      r3.Vec
}

// CorrectedSample is a RawSample whose accelerometer vector has been rotated
// into the gravity-aligned frame. Gyro values pass through unchanged.
type CorrectedSample struct {
	Timestamp float64
	Accel     r3.Vec
	Gyro      r3.Vec
}

// Channels returns the six channels in window order: ax, ay, az, gx, gy, gz.
func (s CorrectedSample) Channels() [6]float64 {
	return [6]float64{s.Accel.X, s.Accel.Y, s.Accel.Z, s.Gyro.X, s.Gyro.Y, s.Gyro.Z}
}
