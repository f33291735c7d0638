package features

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// minPeakPoints is the shortest signal peak detection runs on.
const minPeakPoints = 3

// median returns the middle value of x, averaging the two central values when
// len(x) is even.
func median(x []float64) float64 {
	n := len(x)
	if n == 0 {
		return 0
	}
	s := append([]float64(nil), x...)
	sort.Float64s(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// entropy returns the Shannon entropy in bits of an equal-width histogram of x
// with the given number of bins spanning [min(x), max(x)]. A constant signal
// occupies a single bin and has zero entropy.
func entropy(x []float64, bins int) float64 {
	n := len(x)
	if n == 0 || bins < 1 {
		return 0
	}
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
	}

	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	lo, hi := sorted[0], sorted[n-1]
	if lo == hi {
		return 0
	}

	dividers := floats.Span(make([]float64, bins+1), lo, hi)
	// The top bin is closed so that max(x) is counted.
	dividers[bins] = math.Nextafter(hi, math.Inf(1))

	counts := stat.Histogram(nil, dividers, sorted, nil)

	var h float64
	for _, c := range counts {
		if c <= 0 {
			continue
		}
		p := c / float64(n)
		h -= p * math.Log2(p)
	}
	return h
}

// countPeaks returns the number of local maxima of x higher than minHeight
// whose prominence is at least minProminence.
func countPeaks(x []float64, minHeight, minProminence float64) int {
	if len(x) < minPeakPoints {
		return 0
	}
	count := 0
	for _, p := range localMaxima(x) {
		if !(x[p] > minHeight) {
			continue
		}
		if prominence(x, p) >= minProminence {
			count++
		}
	}
	return count
}

// localMaxima returns the indices of samples strictly greater than both
// neighbours. A flat-topped maximum is reported once, at the middle of the
// plateau (rounding down). The first and last samples are never maxima.
func localMaxima(x []float64) []int {
	var peaks []int
	last := len(x) - 1
	for i := 1; i < last; i++ {
		if !(x[i-1] < x[i]) {
			continue
		}
		ahead := i + 1
		for ahead < last && x[ahead] == x[i] {
			ahead++
		}
		if x[ahead] < x[i] {
			peaks = append(peaks, (i+ahead-1)/2)
			i = ahead - 1
		}
	}
	return peaks
}

// prominence returns how far the peak at index p rises above the higher of
// the two lowest points reachable on each side before meeting a sample taller
// than the peak (or the signal edge).
func prominence(x []float64, p int) float64 {
	peak := x[p]

	leftMin := peak
	for i := p; i >= 0 && x[i] <= peak; i-- {
		leftMin = math.Min(leftMin, x[i])
	}
	rightMin := peak
	for i := p; i < len(x) && x[i] <= peak; i++ {
		rightMin = math.Min(rightMin, x[i])
	}
	return peak - math.Max(leftMin, rightMin)
}
