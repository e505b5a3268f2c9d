package render

import (
	"bytes"
	"image"
	"image/png"

	"golang.org/x/image/draw"
)

type stdlibEncoder struct{}

func (stdlibEncoder) Encode(src *image.Gray, width, height int) ([]byte, error) {
	var out image.Image = src
	if b := src.Bounds(); b.Dx() != width || b.Dy() != height {
		out = scaleGray(src, width, height)
	}

	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := encoder.Encode(&buf, out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// scaleGray uses nearest neighbour when enlarging so individual pixels stay
// crisp, and Catmull-Rom when shrinking.
func scaleGray(src *image.Gray, width, height int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, width, height))
	var scaler draw.Scaler = draw.CatmullRom
	if width >= src.Bounds().Dx() && height >= src.Bounds().Dy() {
		scaler = draw.NearestNeighbor
	}
	scaler.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}
