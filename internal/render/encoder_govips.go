//go:build govips && cgo

package render

import (
	"fmt"
	"image"

	"github.com/davidbyttow/govips/v2/vips"
)

type govipsEncoder struct{}

func (govipsEncoder) Encode(src *image.Gray, width, height int) ([]byte, error) {
	native, err := stdlibEncoder{}.Encode(src, src.Bounds().Dx(), src.Bounds().Dy())
	if err != nil {
		return nil, err
	}
	if src.Bounds().Dx() == width && src.Bounds().Dy() == height {
		return native, nil
	}

	img, err := vips.NewImageFromBuffer(native)
	if err != nil {
		return nil, fmt.Errorf("load grayscale raster: %w", err)
	}
	defer img.Close()

	hscale := float64(width) / float64(img.Width())
	vscale := float64(height) / float64(img.Height())
	kernel := vips.KernelLanczos3
	if hscale >= 1 && vscale >= 1 {
		kernel = vips.KernelNearest
	}
	if err := img.ResizeWithVScale(hscale, vscale, kernel); err != nil {
		return nil, fmt.Errorf("resize raster: %w", err)
	}

	data, _, err := img.ExportPng(vips.NewPngExportParams())
	if err != nil {
		return nil, fmt.Errorf("export png: %w", err)
	}
	return data, nil
}
