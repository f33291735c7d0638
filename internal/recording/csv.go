package recording

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/banshee-data/activity.report/internal/sensor"
)

// CSVHeader is the column order of a labelled recording. The label column
// holds the class index, so rows without a header load as a numeric matrix.
var CSVHeader = []string{"timestamp", "ax", "ay", "az", "gx", "gy", "gz", "label"}

// CSVWriter appends labelled samples to a CSV stream.
type CSVWriter struct {
	w     *csv.Writer
	label string
	rows  int
}

// NewCSVWriter returns a writer labelling every row with class, the index of
// the activity in the model's label order. The header row is written only
// when header is true; training files have none.
func NewCSVWriter(w io.Writer, class int, header bool) (*CSVWriter, error) {
	if class < 0 {
		return nil, fmt.Errorf("class index must not be negative, got %d", class)
	}
	cw := &CSVWriter{w: csv.NewWriter(w), label: strconv.Itoa(class)}
	if header {
		if err := cw.w.Write(CSVHeader); err != nil {
			return nil, fmt.Errorf("failed to write CSV header: %w", err)
		}
	}
	return cw, nil
}

// Write appends one sample.
func (c *CSVWriter) Write(s sensor.RawSample) error {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	record := []string{
		f(s.Timestamp),
		f(s.Accel.X), f(s.Accel.Y), f(s.Accel.Z),
		f(s.Gyro.X), f(s.Gyro.Y), f(s.Gyro.Z),
		c.label,
	}
	if err := c.w.Write(record); err != nil {
		return err
	}
	c.rows++
	return nil
}

// Rows returns the number of samples written.
func (c *CSVWriter) Rows() int { return c.rows }

// Flush writes buffered rows to the underlying writer.
func (c *CSVWriter) Flush() error {
	c.w.Flush()
	return c.w.Error()
}
