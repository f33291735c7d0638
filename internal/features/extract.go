// Package features turns a window of corrected samples into the fixed-length
// feature vector consumed by the activity classifier.
//
// Each of the accelerometer and gyroscope sub-windows contributes one block of
// BlockLen values, in this order:
//
//	mean x/y/z, median x/y/z, stdev x/y/z,
//	magnitude mean, median, stdev, max,
//	magnitude histogram entropy,
//	time-domain peak count, frequency-domain peak count,
//	magnitude min.
package features

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/activity.report/internal/window"
)

const (
	// BlockLen is the number of features per sensor block.
	BlockLen = 17
	// VectorLen is the length of a full feature vector.
	VectorLen = 2 * BlockLen
)

// Config holds the extraction constants.
type Config struct {
	EntropyBins      int
	PeakHeightOffset float64
	PeakProminence   float64
}

// DefaultConfig returns the constants the shipped models were trained with.
func DefaultConfig() Config {
	return Config{
		EntropyBins:      5,
		PeakHeightOffset: 1,
		PeakProminence:   1,
	}
}

// Validate reports whether c can be used for extraction.
func (c Config) Validate() error {
	if c.EntropyBins < 1 {
		return fmt.Errorf("entropy_bins must be at least 1, got %d", c.EntropyBins)
	}
	if c.PeakProminence < 0 || math.IsNaN(c.PeakProminence) {
		return fmt.Errorf("peak_prominence must be non-negative, got %v", c.PeakProminence)
	}
	if math.IsNaN(c.PeakHeightOffset) || math.IsInf(c.PeakHeightOffset, 0) {
		return fmt.Errorf("peak_height_offset must be finite, got %v", c.PeakHeightOffset)
	}
	return nil
}

// Extractor computes feature vectors. It holds no mutable state and is safe
// for concurrent use by classification tasks.
type Extractor struct {
	cfg Config
}

// NewExtractor returns an Extractor for cfg.
func NewExtractor(cfg Config) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Extractor{cfg: cfg}, nil
}

var blockFeatures = [BlockLen]string{
	"mean_x", "mean_y", "mean_z",
	"median_x", "median_y", "median_z",
	"stdev_x", "stdev_y", "stdev_z",
	"mag_mean", "mag_median", "mag_stdev", "mag_max",
	"entropy",
	"time_peaks",
	"freq_peaks",
	"mag_min",
}

// FeatureNames returns the names of the vector positions, in order.
func FeatureNames() []string {
	names := make([]string, 0, VectorLen)
	for _, prefix := range []string{"accel", "gyro"} {
		for _, f := range blockFeatures {
			names = append(names, prefix+"_"+f)
		}
	}
	return names
}

// Extract returns the feature names and values for w. The two slices have the
// same length, VectorLen. An empty window yields an all-zero vector.
func (e *Extractor) Extract(w window.Window) ([]string, []float64) {
	vec := make([]float64, 0, VectorLen)
	vec = append(vec, e.block(w.Accel())...)
	vec = append(vec, e.block(w.Gyro())...)
	return FeatureNames(), vec
}

func (e *Extractor) block(vs []r3.Vec) []float64 {
	out := make([]float64, BlockLen)
	if len(vs) == 0 {
		return out
	}

	n := len(vs)
	xs := make([]float64, n)
	ys := make([]float64, n)
	zs := make([]float64, n)
	mag := make([]float64, n)
	for i, v := range vs {
		xs[i], ys[i], zs[i] = v.X, v.Y, v.Z
		mag[i] = r3.Norm(v)
	}

	for i, axis := range [][]float64{xs, ys, zs} {
		mean, std := stat.PopMeanStdDev(axis, nil)
		out[i] = mean
		out[3+i] = median(axis)
		out[6+i] = std
	}

	magMean, magStd := stat.PopMeanStdDev(mag, nil)
	out[9] = magMean
	out[10] = median(mag)
	out[11] = magStd
	out[12] = maxOf(mag)
	out[13] = entropy(mag, e.cfg.EntropyBins)
	if n >= minPeakPoints {
		out[14] = float64(countPeaks(mag, magMean+e.cfg.PeakHeightOffset, e.cfg.PeakProminence))
		out[15] = float64(countPeaks(realSpectrum(mag), math.Inf(-1), e.cfg.PeakProminence))
	}
	out[16] = minOf(mag)

	for i, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[i] = 0
		}
	}
	return out
}

// realSpectrum returns the real part of the one-sided DFT of x.
func realSpectrum(x []float64) []float64 {
	coeff := fourier.NewFFT(len(x)).Coefficients(nil, x)
	re := make([]float64, len(coeff))
	for i, c := range coeff {
		re[i] = real(c)
	}
	return re
}

func minOf(x []float64) float64 {
	m := x[0]
	for _, v := range x[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(x []float64) float64 {
	m := x[0]
	for _, v := range x[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
