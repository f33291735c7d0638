package recording

import (
	"errors"
	"fmt"
	"image/color"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/activity.report/internal/sensor"
)

// ErrEmptyTrace is returned when a trace with no samples is plotted.
var ErrEmptyTrace = errors.New("no samples to plot")

// Trace accumulates the accel and gyro magnitudes of a session so it can be
// reviewed as a PNG before the file is used for training.
type Trace struct {
	mu    sync.Mutex
	t0    float64
	accel plotter.XYs
	gyro  plotter.XYs
}

// Add appends s. The x axis is seconds since the first sample.
func (t *Trace) Add(s sensor.RawSample) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.accel) == 0 {
		t.t0 = s.Timestamp
	}
	x := (s.Timestamp - t.t0) / 1000
	t.accel = append(t.accel, plotter.XY{X: x, Y: r3.Norm(s.Accel)})
	t.gyro = append(t.gyro, plotter.XY{X: x, Y: r3.Norm(s.Gyro)})
}

// Len returns the number of samples added.
func (t *Trace) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.accel)
}

// SavePNG renders the trace to path; the image format follows the file
// extension.
func (t *Trace) SavePNG(path, title string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.accel) == 0 {
		return ErrEmptyTrace
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Magnitude"

	series := []struct {
		name string
		pts  plotter.XYs
		c    color.RGBA
	}{
		{"accel |a|", t.accel, color.RGBA{R: 31, G: 119, B: 180, A: 255}},
		{"gyro |g|", t.gyro, color.RGBA{R: 214, G: 39, B: 40, A: 255}},
	}
	for _, s := range series {
		line, err := plotter.NewLine(s.pts)
		if err != nil {
			return fmt.Errorf("%s line: %w", s.name, err)
		}
		line.Color = s.c
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(s.name, line)
	}
	p.Legend.Top = true

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot: %w", err)
	}
	return nil
}
