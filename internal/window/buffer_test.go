package window

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/activity.report/internal/sensor"
)

func sample(i int) sensor.CorrectedSample {
	v := float64(i)
	return sensor.CorrectedSample{
		Timestamp: v,
		Accel:     r3.Vec{X: v, Y: v + 0.1, Z: v + 0.2},
		Gyro:      r3.Vec{X: -v, Y: -v - 0.1, Z: -v - 0.2},
	}
}

func TestNewBuffer_Validates(t *testing.T) {
	_, err := NewBuffer(0, 1)
	assert.Error(t, err)
	_, err = NewBuffer(10, 0)
	assert.Error(t, err)

	b, err := NewBuffer(10, 5)
	require.NoError(t, err)
	assert.Equal(t, 10, b.Size())
	assert.Equal(t, 5, b.Step())
}

func TestPush_EvictsFIFO(t *testing.T) {
	const size = 5
	for k := 1; k <= 12; k++ {
		b, err := NewBuffer(size, size)
		require.NoError(t, err)

		for i := 0; i < size+k; i++ {
			b.Push(sample(i))
		}
		require.Equal(t, size, b.Len(), "k=%d", k)

		snap := b.Snapshot()
		for j, s := range snap {
			assert.Equal(t, float64(k+j), s.Timestamp, "k=%d j=%d", k, j)
		}
	}
}

func TestTakeReadyWindow_NonOverlapping(t *testing.T) {
	const size = 4
	b, err := NewBuffer(size, size)
	require.NoError(t, err)

	for i := 0; i < size-1; i++ {
		b.Push(sample(i))
		_, ok := b.TakeReadyWindow()
		require.False(t, ok, "window emitted after %d pushes", i+1)
	}

	b.Push(sample(size - 1))
	w, ok := b.TakeReadyWindow()
	require.True(t, ok)
	require.Len(t, w, size)
	assert.Equal(t, 0, b.Arrivals())
	assert.Equal(t, float64(0), w[0].Timestamp)

	// The next window needs another full step of arrivals.
	for i := size; i < 2*size-1; i++ {
		b.Push(sample(i))
		_, ok := b.TakeReadyWindow()
		require.False(t, ok)
	}
	b.Push(sample(2*size - 1))
	w, ok = b.TakeReadyWindow()
	require.True(t, ok)
	assert.Equal(t, float64(size), w[0].Timestamp)
	assert.Equal(t, float64(2*size-1), w[size-1].Timestamp)
}

func TestTakeReadyWindow_Overlapping(t *testing.T) {
	b, err := NewBuffer(6, 2)
	require.NoError(t, err)

	var starts []float64
	for i := 0; i < 12; i++ {
		b.Push(sample(i))
		if w, ok := b.TakeReadyWindow(); ok {
			require.Len(t, w, 6)
			starts = append(starts, w[0].Timestamp)
		}
	}
	assert.Equal(t, []float64{0, 2, 4, 6}, starts)
}

func TestTakeReadyWindow_StepBeyondSizeLeavesGaps(t *testing.T) {
	b, err := NewBuffer(4, 6)
	require.NoError(t, err)

	var windows [][2]float64
	for i := 0; i < 18; i++ {
		b.Push(sample(i))
		if w, ok := b.TakeReadyWindow(); ok {
			require.Len(t, w, 4)
			windows = append(windows, [2]float64{w[0].Timestamp, w[3].Timestamp})
		}
	}
	assert.Equal(t, [][2]float64{{2, 5}, {8, 11}, {14, 17}}, windows)
}

func TestTakeReadyWindow_SnapshotIsIndependent(t *testing.T) {
	b, err := NewBuffer(3, 3)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		b.Push(sample(i))
	}
	w, ok := b.TakeReadyWindow()
	require.True(t, ok)

	before := append(Window(nil), w...)
	for i := 3; i < 9; i++ {
		b.Push(sample(i))
	}
	assert.Equal(t, before, w)
}

func TestReset(t *testing.T) {
	b, err := NewBuffer(3, 3)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		b.Push(sample(i))
	}

	b.Reset()
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, b.Arrivals())
	_, ok := b.TakeReadyWindow()
	assert.False(t, ok)
}

func TestWindowChannels(t *testing.T) {
	w := Window{sample(1), sample(2)}
	assert.Equal(t, []r3.Vec{{X: 1, Y: 1.1, Z: 1.2}, {X: 2, Y: 2.1, Z: 2.2}}, w.Accel())
	assert.Equal(t, -1.0, w.Gyro()[0].X)
}
