package render

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"math"
	"testing"

	"github.com/dunamismax/fitsflow/internal/fitsfile"
)

func gradientImage(width, height int) *fitsfile.Image {
	data := make([]float64, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			data[y*width+x] = float64(x + y*width)
		}
	}
	return &fitsfile.Image{Width: width, Height: height, DType: "float64", Data: data}
}

func TestRenderDeterministic(t *testing.T) {
	r := NewRenderer()
	img := gradientImage(40, 30)

	first, err := r.Render(img, Options{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	second, err := r.Render(img, Options{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	if !bytes.Equal(first.PNG, second.PNG) {
		t.Fatal("expected identical PNG bytes for identical input")
	}
	if first.Width != 40 || first.Height != 30 {
		t.Fatalf("expected native 40x30, got %dx%d", first.Width, first.Height)
	}
}

func TestRenderOriginLowerLeft(t *testing.T) {
	r := NewRenderer()
	img := gradientImage(8, 8)

	res, err := r.Render(img, Options{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	decoded := decodeGray(t, res.PNG)

	// data row 0 holds the smallest values and must be drawn at the bottom.
	bottom := decoded.GrayAt(0, 7).Y
	top := decoded.GrayAt(0, 0).Y
	if bottom >= top {
		t.Fatalf("expected bottom row darker than top row, got bottom=%d top=%d", bottom, top)
	}
}

func TestRenderScalesToLongEdge(t *testing.T) {
	r := NewRenderer()
	img := gradientImage(20, 10)

	res, err := r.Render(img, Options{SizeInches: 1, DPI: 60})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if res.Width != 60 || res.Height != 30 {
		t.Fatalf("expected 60x30, got %dx%d", res.Width, res.Height)
	}
	decoded := decodeGray(t, res.PNG)
	if decoded.Bounds().Dx() != 60 || decoded.Bounds().Dy() != 30 {
		t.Fatalf("decoded PNG has bounds %v", decoded.Bounds())
	}
}

func TestRenderFailures(t *testing.T) {
	r := NewRenderer()

	if _, err := r.Render(&fitsfile.Image{}, Options{}); !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("expected ErrEmptyImage, got %v", err)
	}

	flat := &fitsfile.Image{Width: 2, Height: 2, Data: []float64{3, 3, 3, 3}}
	if _, err := r.Render(flat, Options{}); !errors.Is(err, ErrFlatImage) {
		t.Fatalf("expected ErrFlatImage, got %v", err)
	}
}

func TestZScaleRejectsOutliers(t *testing.T) {
	values := make([]float64, 0, 2000)
	for i := 0; i < 2000; i++ {
		values = append(values, 100+float64(i%50)*0.1)
	}
	// even indices land on the stride-2 sample grid
	values[18] = 1e6
	values[524] = -1e6
	values[1998] = 5e5

	vmin, vmax, err := DefaultZScale().Limits(values)
	if err != nil {
		t.Fatalf("limits: %v", err)
	}
	if vmin < 50 || vmax > 200 {
		t.Fatalf("outliers leaked into display range: [%v, %v]", vmin, vmax)
	}
	if vmin >= vmax {
		t.Fatalf("expected a non-empty range, got [%v, %v]", vmin, vmax)
	}
}

func TestZScaleWithinSampleExtremes(t *testing.T) {
	img := gradientImage(64, 64)
	vmin, vmax, err := DefaultZScale().Limits(img.Data)
	if err != nil {
		t.Fatalf("limits: %v", err)
	}
	if vmin < 0 || vmax > float64(64*64-1) || vmin > vmax {
		t.Fatalf("range [%v, %v] outside data extremes", vmin, vmax)
	}
}

func TestZScaleNoFiniteValues(t *testing.T) {
	if _, _, err := DefaultZScale().Limits([]float64{math.NaN(), math.Inf(1)}); !errors.Is(err, ErrRangeFailed) {
		t.Fatalf("expected ErrRangeFailed, got %v", err)
	}
}

func TestGrayscaleClampsAndThresholds(t *testing.T) {
	img := &fitsfile.Image{Width: 4, Height: 1, Data: []float64{-10, 0, 5, 50}}

	g := Grayscale(img, 0, 10)
	want := []uint8{0, 0, 128, 255}
	for x, w := range want {
		if got := g.GrayAt(x, 0).Y; got != w {
			t.Fatalf("pixel %d: expected %d, got %d", x, w, got)
		}
	}

	g = Grayscale(img, 5, 5)
	want = []uint8{0, 0, 0, 255}
	for x, w := range want {
		if got := g.GrayAt(x, 0).Y; got != w {
			t.Fatalf("degenerate pixel %d: expected %d, got %d", x, w, got)
		}
	}
}

func TestDilateMatchesBoxConvolution(t *testing.T) {
	mask := []bool{false, false, true, false, false, false}
	got := dilate(mask, 3)
	want := []bool{false, true, true, true, false, false}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: expected %v, got %v (%v)", i, want[i], got[i], got)
		}
	}
}

func decodeGray(t *testing.T, data []byte) *image.Gray {
	t.Helper()

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	gray, ok := img.(*image.Gray)
	if !ok {
		t.Fatalf("expected *image.Gray, got %T", img)
	}
	return gray
}
