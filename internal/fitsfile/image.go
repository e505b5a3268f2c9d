package fitsfile

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Image is the primary data array as float64 samples. Data is stored in FITS
// order: index = row*Width + col, row 0 is the bottom row of the picture.
type Image struct {
	Width  int
	Height int
	DType  string
	Data   []float64
}

func (img *Image) Len() int {
	if img == nil {
		return 0
	}
	return len(img.Data)
}

// At returns the sample at column x of row y.
func (img *Image) At(x, y int) float64 {
	return img.Data[y*img.Width+x]
}

type scaling struct {
	zero  float64
	scale float64
	// blank is the raw integer marking undefined pixels when hasBlank is set.
	blank    int64
	hasBlank bool
}

func (s scaling) identity() bool {
	return s.zero == 0 && s.scale == 1
}

// dtypeName mirrors the element type a scaled read would produce.
func dtypeName(bitpix int, s scaling) string {
	if s.identity() {
		switch bitpix {
		case 8:
			return "uint8"
		case 16:
			return "int16"
		case 32:
			return "int32"
		case 64:
			return "int64"
		case -32:
			return "float32"
		case -64:
			return "float64"
		}
	}

	if s.scale == 1 {
		switch {
		case bitpix == 8 && s.zero == -128:
			return "int8"
		case bitpix == 16 && s.zero == 1<<15:
			return "uint16"
		case bitpix == 32 && s.zero == 1<<31:
			return "uint32"
		case bitpix == 64 && s.zero == 1<<63:
			return "uint64"
		}
	}

	switch bitpix {
	case 8, 16, -32:
		return "float32"
	default:
		return "float64"
	}
}

// decodeSamples converts big-endian raw data into scaled float64 samples.
// Integer pixels equal to BLANK come back as NaN.
func decodeSamples(raw []byte, bitpix, count int, s scaling) ([]float64, error) {
	size := abs(bitpix) / 8
	if size == 0 {
		return nil, fmt.Errorf("invalid BITPIX %d", bitpix)
	}
	if len(raw) < size*count {
		return nil, fmt.Errorf("data unit truncated: have %d bytes, need %d", len(raw), size*count)
	}

	out := make([]float64, count)
	for i := range out {
		chunk := raw[i*size : (i+1)*size]

		var (
			v      float64
			stored int64
		)
		switch bitpix {
		case 8:
			stored = int64(chunk[0])
		case 16:
			stored = int64(int16(binary.BigEndian.Uint16(chunk)))
		case 32:
			stored = int64(int32(binary.BigEndian.Uint32(chunk)))
		case 64:
			stored = int64(binary.BigEndian.Uint64(chunk))
		case -32:
			v = float64(math.Float32frombits(binary.BigEndian.Uint32(chunk)))
		case -64:
			v = math.Float64frombits(binary.BigEndian.Uint64(chunk))
		default:
			return nil, fmt.Errorf("invalid BITPIX %d", bitpix)
		}
		if bitpix > 0 {
			// BLANK applies to the stored integer, before scaling.
			if s.hasBlank && stored == s.blank {
				out[i] = math.NaN()
				continue
			}
			v = float64(stored)
		}

		if !s.identity() {
			v = s.zero + s.scale*v
		}
		out[i] = v
	}
	return out, nil
}

// ReplaceNonFinite swaps NaN for 0 and infinities for the largest finite
// magnitude of the element type. It returns the number of replaced samples.
func ReplaceNonFinite(data []float64, dtype string) int {
	limit := math.MaxFloat64
	if dtype == "float32" {
		limit = math.MaxFloat32
	}

	replaced := 0
	for i, v := range data {
		switch {
		case math.IsNaN(v):
			data[i] = 0
		case math.IsInf(v, 1):
			data[i] = limit
		case math.IsInf(v, -1):
			data[i] = -limit
		default:
			continue
		}
		replaced++
	}
	return replaced
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
