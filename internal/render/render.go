// Package render turns an image buffer into a contrast-stretched grayscale PNG.
package render

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/dunamismax/fitsflow/internal/fitsfile"
)

var (
	ErrEmptyImage = errors.New("image buffer is empty")
	ErrFlatImage  = errors.New("image has fewer than two distinct finite values")
)

// Options sizes the output like a figure: the longest edge becomes
// SizeInches*DPI pixels. A zero product keeps the data resolution.
type Options struct {
	SizeInches float64
	DPI        int
}

func DefaultOptions() Options {
	return Options{SizeInches: 8, DPI: 300}
}

func (o Options) longEdge() int {
	return int(math.Round(o.SizeInches * float64(o.DPI)))
}

// Result is an encoded raster and its final dimensions.
type Result struct {
	PNG    []byte
	Width  int
	Height int
	VMin   float64
	VMax   float64
}

type Renderer struct {
	zscale  ZScale
	encoder encoder
}

type encoder interface {
	Encode(img *image.Gray, width, height int) ([]byte, error)
}

func NewRenderer() *Renderer {
	return &Renderer{
		zscale:  DefaultZScale(),
		encoder: newEncoder(),
	}
}

// Render maps img onto 8-bit grayscale using the z-scale range, flips it so
// row 0 is at the bottom, and encodes it as PNG.
func (r *Renderer) Render(img *fitsfile.Image, opts Options) (Result, error) {
	if img == nil || img.Len() == 0 || img.Width <= 0 || img.Height <= 0 {
		return Result{}, ErrEmptyImage
	}
	if !hasTwoDistinct(img.Data) {
		return Result{}, ErrFlatImage
	}

	vmin, vmax, err := r.zscale.Limits(img.Data)
	if err != nil {
		return Result{}, err
	}

	gray := Grayscale(img, vmin, vmax)
	width, height := targetSize(img.Width, img.Height, opts.longEdge())

	data, err := r.encoder.Encode(gray, width, height)
	if err != nil {
		return Result{}, fmt.Errorf("encode png: %w", err)
	}

	return Result{
		PNG:    data,
		Width:  width,
		Height: height,
		VMin:   vmin,
		VMax:   vmax,
	}, nil
}

// Grayscale linearly maps [vmin, vmax] to [0, 255] with clamping. Image row
// y of the output holds data row Height-1-y. When vmin == vmax the map
// degenerates to a threshold at vmin.
func Grayscale(img *fitsfile.Image, vmin, vmax float64) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, img.Width, img.Height))
	span := vmax - vmin

	for row := 0; row < img.Height; row++ {
		y := img.Height - 1 - row
		line := out.Pix[y*out.Stride : y*out.Stride+img.Width]
		for x := range line {
			line[x] = level(img.At(x, row), vmin, span)
		}
	}
	return out
}

func level(v, vmin, span float64) uint8 {
	if span <= 0 {
		if v > vmin {
			return 255
		}
		return 0
	}
	t := (v - vmin) / span
	switch {
	case !(t > 0):
		return 0
	case t >= 1:
		return 255
	default:
		return uint8(math.Round(t * 255))
	}
}

func targetSize(width, height, longEdge int) (int, int) {
	if longEdge <= 0 {
		return width, height
	}
	scale := float64(longEdge) / float64(max(width, height))
	w := max(1, int(math.Round(float64(width)*scale)))
	h := max(1, int(math.Round(float64(height)*scale)))
	return w, h
}

func hasTwoDistinct(data []float64) bool {
	first := math.NaN()
	for _, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if math.IsNaN(first) {
			first = v
			continue
		}
		if v != first {
			return true
		}
	}
	return false
}
