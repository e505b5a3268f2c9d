package render

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

var ErrRangeFailed = errors.New("display range computation failed")

// ZScale holds the parameters of the IRAF zscale display-range algorithm.
type ZScale struct {
	Samples       int
	Contrast      float64
	MaxReject     float64
	MinPixels     int
	KRej          float64
	MaxIterations int
}

// DefaultZScale matches the defaults used by IRAF and astropy.
func DefaultZScale() ZScale {
	return ZScale{
		Samples:       1000,
		Contrast:      0.25,
		MaxReject:     0.5,
		MinPixels:     5,
		KRej:          2.5,
		MaxIterations: 5,
	}
}

// Limits returns the display range [vmin, vmax] for values. A line is fitted
// to the sorted samples with iterative sigma clipping; the fitted slope,
// scaled by the contrast, spans the range around the median and is clipped
// to the sample extremes.
func (z ZScale) Limits(values []float64) (float64, float64, error) {
	samples := z.sample(values)
	npix := len(samples)
	if npix == 0 {
		return 0, 0, ErrRangeFailed
	}
	sort.Float64s(samples)

	vmin := samples[0]
	vmax := samples[npix-1]

	minpix := max(z.MinPixels, int(float64(npix)*z.MaxReject))
	ngrow := max(1, npix/100)

	x := make([]float64, npix)
	for i := range x {
		x[i] = float64(i)
	}

	badpix := make([]bool, npix)
	weights := make([]float64, npix)
	flat := make([]float64, npix)

	ngoodpix := npix
	lastNgoodpix := npix + 1
	var slope float64

	for iter := 0; iter < z.MaxIterations; iter++ {
		if ngoodpix >= lastNgoodpix || ngoodpix < minpix {
			break
		}

		for i, bad := range badpix {
			weights[i] = 1
			if bad {
				weights[i] = 0
			}
		}
		intercept, beta := stat.LinearRegression(x, samples, weights, false)
		slope = beta

		var good []float64
		for i := range samples {
			flat[i] = samples[i] - (intercept + beta*x[i])
			if !badpix[i] {
				good = append(good, flat[i])
			}
		}
		_, std := stat.PopMeanStdDev(good, nil)
		threshold := z.KRej * std

		for i, f := range flat {
			if f < -threshold || f > threshold {
				badpix[i] = true
			}
		}
		badpix = dilate(badpix, ngrow)

		lastNgoodpix = ngoodpix
		ngoodpix = 0
		for _, bad := range badpix {
			if !bad {
				ngoodpix++
			}
		}
	}

	if ngoodpix >= minpix {
		if z.Contrast > 0 {
			slope /= z.Contrast
		}
		center := (npix - 1) / 2
		med := median(samples)
		vmin = math.Max(vmin, med-float64(center-1)*slope)
		vmax = math.Min(vmax, med+float64(npix-center)*slope)
	}

	if math.IsNaN(vmin) || math.IsNaN(vmax) || math.IsInf(vmin, 0) || math.IsInf(vmax, 0) {
		return 0, 0, ErrRangeFailed
	}
	return vmin, vmax, nil
}

// sample takes every stride-th finite value, at most z.Samples of them.
func (z ZScale) sample(values []float64) []float64 {
	finite := 0
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite++
		}
	}
	if finite == 0 {
		return nil
	}

	limit := z.Samples
	if limit <= 0 {
		limit = finite
	}
	stride := max(1, int(float64(finite)/float64(limit)))

	out := make([]float64, 0, min(limit, finite))
	idx := 0
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if idx%stride == 0 {
			out = append(out, v)
			if len(out) == limit {
				break
			}
		}
		idx++
	}
	return out
}

// dilate marks every element within the kernel window of a bad element,
// matching a same-size convolution with a box kernel of length n.
func dilate(mask []bool, n int) []bool {
	out := make([]bool, len(mask))
	before := n - 1 - (n-1)/2
	after := (n - 1) / 2
	for i := range mask {
		lo := max(0, i-before)
		hi := min(len(mask)-1, i+after)
		for j := lo; j <= hi; j++ {
			if mask[j] {
				out[i] = true
				break
			}
		}
	}
	return out
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return sorted[n/2-1]/2 + sorted[n/2]/2
}
