package metadata

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ComputeStats summarises every sample. std is the population deviation.
func ComputeStats(data []float64) Stats {
	if len(data) == 0 {
		return Stats{}
	}

	lo := floats.Min(data)
	hi := floats.Max(data)
	mean, std := scaledMeanStd(data, math.Max(math.Abs(lo), math.Abs(hi)))

	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	return Stats{
		Min:    lo,
		Max:    hi,
		Mean:   clampFinite(mean, lo, hi),
		Median: clampFinite(median(sorted), lo, hi),
		Std:    finiteOr(std, 0),
	}
}

// scaledMeanStd computes the moments on data divided by a power of two near
// peak so sums of values close to MaxFloat64 stay finite. Scaling by a power
// of two is exact for normal numbers.
func scaledMeanStd(data []float64, peak float64) (float64, float64) {
	if peak == 0 {
		return 0, 0
	}
	_, exp := math.Frexp(peak)
	scaled := make([]float64, len(data))
	for i, v := range data {
		scaled[i] = math.Ldexp(v, -exp)
	}
	mean, std := stat.PopMeanStdDev(scaled, nil)
	return math.Ldexp(mean, exp), math.Ldexp(std, exp)
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return sorted[n/2-1]/2 + sorted[n/2]/2
}

// clampFinite pins v into [lo, hi]; summation over huge magnitudes can
// overflow or drift past the extremes.
func clampFinite(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func finiteOr(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}
