package sensor

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// MinFields is the minimum number of comma-separated fields in a datagram.
const MinFields = 13

// Field positions within a record. Fields 1 and 5 are reserved.
const (
	fieldTimestamp = 0
	fieldAccelX    = 2
	fieldAccelY    = 3
	fieldAccelZ    = 4
	fieldGyroX     = 6
	fieldGyroY     = 7
	fieldGyroZ     = 8

	trimmedFields = 9
)

var (
	// ErrTooFewFields is returned for datagrams with fewer than MinFields fields.
	ErrTooFewFields = errors.New("too few fields")
	// ErrMalformed is returned when a required field is not a finite number.
	ErrMalformed = errors.New("malformed field")
)

// ParseDatagram decodes one datagram into a RawSample. It has no side
// effects; on error no sample is produced.
func ParseDatagram(b []byte) (RawSample, error) {
	fields := strings.Split(string(b), ",")
	if len(fields) < MinFields {
		return RawSample{}, fmt.Errorf("%w: got %d, need %d", ErrTooFewFields, len(fields), MinFields)
	}

	for i := 0; i < trimmedFields; i++ {
		fields[i] = strings.TrimSpace(fields[i])
	}

	var vals [trimmedFields]float64
	for _, idx := range []int{fieldTimestamp, fieldAccelX, fieldAccelY, fieldAccelZ, fieldGyroX, fieldGyroY, fieldGyroZ} {
		v, err := strconv.ParseFloat(fields[idx], 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return RawSample{}, fmt.Errorf("%w: field %d %q", ErrMalformed, idx, fields[idx])
		}
		vals[idx] = v
	}

	return RawSample{
		Timestamp: vals[fieldTimestamp],
		Accel:     r3.Vec{X: vals[fieldAccelX], Y: vals[fieldAccelY], Z: vals[fieldAccelZ]},
		Gyro:      r3.Vec{X: vals[fieldGyroX], Y: vals[fieldGyroY], Z: vals[fieldGyroZ]},
	}, nil
}

// FormatDatagram encodes s in the wire format, padding the record with zero
// fields up to MinFields.
func FormatDatagram(s RawSample) []byte {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

	fields := make([]string, MinFields)
	for i := range fields {
		fields[i] = "0"
	}
	fields[fieldTimestamp] = f(s.Timestamp)
	fields[1] = "3"
	fields[fieldAccelX] = f(s.Accel.X)
	fields[fieldAccelY] = f(s.Accel.Y)
	fields[fieldAccelZ] = f(s.Accel.Z)
	fields[5] = "4"
	fields[fieldGyroX] = f(s.Gyro.X)
	fields[fieldGyroY] = f(s.Gyro.Y)
	fields[fieldGyroZ] = f(s.Gyro.Z)

	return []byte(strings.Join(fields, ","))
}
