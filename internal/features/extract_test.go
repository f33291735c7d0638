package features

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/activity.report/internal/sensor"
	"github.com/banshee-data/activity.report/internal/window"
)

// feature indices within a block
const (
	idxStdevX    = 6
	idxMagMean   = 9
	idxMagMax    = 12
	idxEntropy   = 13
	idxTimePeaks = 14
	idxFreqPeaks = 15
	idxMagMin    = 16
)

func newExtractor(t *testing.T) *Extractor {
	t.Helper()
	e, err := NewExtractor(DefaultConfig())
	require.NoError(t, err)
	return e
}

func accelWindow(zs []float64) window.Window {
	w := make(window.Window, len(zs))
	for i, z := range zs {
		w[i] = sensor.CorrectedSample{Timestamp: float64(i), Accel: r3.Vec{Z: z}}
	}
	return w
}

func TestNewExtractor_RejectsBadConfig(t *testing.T) {
	_, err := NewExtractor(Config{EntropyBins: 0, PeakProminence: 1})
	assert.Error(t, err)
	_, err = NewExtractor(Config{EntropyBins: 5, PeakProminence: -1})
	assert.Error(t, err)
	_, err = NewExtractor(Config{EntropyBins: 5, PeakHeightOffset: math.NaN()})
	assert.Error(t, err)
}

func TestFeatureNames(t *testing.T) {
	names := FeatureNames()
	require.Len(t, names, VectorLen)
	assert.Equal(t, "accel_mean_x", names[0])
	assert.Equal(t, "accel_freq_peaks", names[idxFreqPeaks])
	assert.Equal(t, "accel_mag_min", names[BlockLen-1])
	assert.Equal(t, "gyro_mean_x", names[BlockLen])
	assert.Equal(t, "gyro_mag_min", names[VectorLen-1])
	for _, n := range names {
		assert.NotEmpty(t, n)
	}

	seen := make(map[string]bool)
	for _, n := range names {
		assert.False(t, seen[n], "duplicate name %s", n)
		seen[n] = true
	}
}

func TestExtract_LengthAndNamesInLockstep(t *testing.T) {
	e := newExtractor(t)
	for _, n := range []int{3, 4, 20, 100, 257} {
		w := make(window.Window, n)
		for i := range w {
			f := float64(i)
			w[i] = sensor.CorrectedSample{
				Accel: r3.Vec{X: math.Sin(f), Y: math.Cos(f), Z: 9.81},
				Gyro:  r3.Vec{X: f, Y: -f, Z: 0.5},
			}
		}
		names, vec := e.Extract(w)
		assert.Len(t, vec, VectorLen, "n=%d", n)
		assert.Equal(t, len(names), len(vec), "n=%d", n)
		for i, v := range vec {
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "n=%d %s=%v", n, names[i], v)
		}
	}
}

func TestExtract_OverflowingWindowStaysFinite(t *testing.T) {
	e := newExtractor(t)
	w := accelWindow([]float64{0, 1e300, -1e300, 1e300, 0, 1e300})
	names, vec := e.Extract(w)
	for i, v := range vec {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "%s=%v", names[i], v)
	}
}

func TestExtract_AllZeroWindow(t *testing.T) {
	e := newExtractor(t)
	_, vec := e.Extract(make(window.Window, 100))
	for i, v := range vec {
		assert.Zero(t, v, "feature %d", i)
	}
}

func TestExtract_EmptyWindow(t *testing.T) {
	e := newExtractor(t)
	names, vec := e.Extract(nil)
	require.Len(t, vec, VectorLen)
	assert.Len(t, names, VectorLen)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestExtract_ConstantWindow(t *testing.T) {
	e := newExtractor(t)
	zs := make([]float64, 50)
	for i := range zs {
		zs[i] = 9.81
	}
	names, vec := e.Extract(accelWindow(zs))

	assert.InDelta(t, 9.81, vec[idxMagMean], 1e-12)
	assert.InDelta(t, 9.81, vec[idxMagMax], 1e-12)
	assert.InDelta(t, 9.81, vec[idxMagMin], 1e-12)
	assert.Zero(t, vec[idxEntropy])
	for i, n := range names {
		if strings.Contains(n, "stdev") || strings.HasSuffix(n, "entropy") || strings.HasSuffix(n, "time_peaks") {
			assert.InDelta(t, 0, vec[i], 1e-9, n)
		}
	}
}

func TestExtract_FrequencyPeakAtKnownBin(t *testing.T) {
	const (
		n = 100
		k = 5
	)
	zs := make([]float64, n)
	for i := range zs {
		zs[i] = 1 + 0.5*math.Cos(2*math.Pi*k*float64(i)/n)
	}

	e := newExtractor(t)
	_, vec := e.Extract(accelWindow(zs))

	assert.Equal(t, 1.0, vec[idxFreqPeaks])
	assert.Equal(t, 0.0, vec[BlockLen+idxFreqPeaks], "gyro block is silent")

	spectrum := realSpectrum(zs)
	peaks := localMaxima(spectrum)
	var strong []int
	for _, p := range peaks {
		if prominence(spectrum, p) >= 1 {
			strong = append(strong, p)
		}
	}
	assert.Equal(t, []int{k}, strong)
}

func TestExtract_TimePeaks(t *testing.T) {
	zs := make([]float64, 20)
	for i := range zs {
		zs[i] = 1
	}
	zs[5] = 5
	zs[6] = 4.5
	zs[7] = 4.8 // shoulder of the first peak, prominence 0.3
	zs[12] = 4
	zs[16] = 2 // below mean+1

	e := newExtractor(t)
	_, vec := e.Extract(accelWindow(zs))
	assert.Equal(t, 2.0, vec[idxTimePeaks])
}

func TestExtract_PerAxisStdevIsPopulation(t *testing.T) {
	w := window.Window{
		{Accel: r3.Vec{X: 1}},
		{Accel: r3.Vec{X: 3}},
	}
	e := newExtractor(t)
	_, vec := e.Extract(w)
	assert.InDelta(t, 1.0, vec[idxStdevX], 1e-12)
}

func TestExtract_TooFewPointsForPeaks(t *testing.T) {
	e := newExtractor(t)
	_, vec := e.Extract(accelWindow([]float64{1, 10}))
	require.Len(t, vec, VectorLen)
	assert.Zero(t, vec[idxTimePeaks])
	assert.Zero(t, vec[idxFreqPeaks])
}

func TestExtract_ConcurrentUse(t *testing.T) {
	e := newExtractor(t)
	zs := make([]float64, 100)
	for i := range zs {
		zs[i] = 1 + 0.5*math.Cos(2*math.Pi*3*float64(i)/100)
	}
	w := accelWindow(zs)
	_, want := e.Extract(w)

	done := make(chan []float64)
	for i := 0; i < 8; i++ {
		go func() {
			_, got := e.Extract(w)
			done <- got
		}()
	}
	for i := 0; i < 8; i++ {
		assert.Equal(t, want, <-done)
	}
}
