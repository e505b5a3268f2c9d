// Package fitsfile reads the primary header/data unit of a FITS file into an
// ordered header and a float64 image buffer.
package fitsfile

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/astrogo/fitsio"
)

var (
	ErrNoImage           = errors.New("primary data unit holds no image")
	ErrNotTwoDimensional = errors.New("primary data unit is not two-dimensional")
)

// Primary is the decoded primary HDU.
type Primary struct {
	Header Header
	Image  *Image
	// NonFinite counts NaN, Inf and BLANK samples replaced during decoding.
	NonFinite int
}

// Decode parses raw FITS bytes. Only the primary HDU is used; extensions are
// ignored. Non-finite samples are replaced before Decode returns so every
// consumer sees the same buffer.
func Decode(raw []byte) (primary Primary, err error) {
	if len(raw) == 0 {
		return Primary{}, errors.New("empty input")
	}

	// fitsio indexes into blocks without bounds checks on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			primary = Primary{}
			err = fmt.Errorf("malformed FITS stream: %v", r)
		}
	}()

	f, err := fitsio.Open(bytes.NewReader(raw))
	if err != nil {
		return Primary{}, fmt.Errorf("open fits: %w", err)
	}
	defer f.Close()

	if len(f.HDUs()) == 0 {
		return Primary{}, ErrNoImage
	}

	hdu := f.HDU(0)
	hdr := hdu.Header()
	header := convertHeader(hdr)

	img, ok := hdu.(fitsio.Image)
	if !ok {
		return Primary{}, ErrNoImage
	}

	axes := hdr.Axes()
	if len(axes) == 0 {
		return Primary{}, ErrNoImage
	}
	if len(axes) != 2 {
		return Primary{}, fmt.Errorf("%w: NAXIS=%d", ErrNotTwoDimensional, len(axes))
	}

	width, height := axes[0], axes[1]
	if width <= 0 || height <= 0 {
		return Primary{}, fmt.Errorf("%w: %dx%d", ErrNoImage, width, height)
	}

	scale := scaling{
		zero:  headerFloat(header, "BZERO", 0),
		scale: headerFloat(header, "BSCALE", 1),
	}
	if scale.scale == 0 {
		scale.scale = 1
	}

	bitpix := hdr.Bitpix()
	if bitpix > 0 {
		scale.blank, scale.hasBlank = headerInt(header, "BLANK")
	}
	data, err := decodeSamples(img.Raw(), bitpix, width*height, scale)
	if err != nil {
		return Primary{}, err
	}

	image := &Image{
		Width:  width,
		Height: height,
		DType:  dtypeName(bitpix, scale),
		Data:   data,
	}
	replaced := ReplaceNonFinite(image.Data, image.DType)

	return Primary{Header: header, Image: image, NonFinite: replaced}, nil
}

func convertHeader(hdr *fitsio.Header) Header {
	keys := hdr.Keys()
	out := Header{Cards: make([]Card, 0, len(keys))}
	for _, key := range keys {
		card := hdr.Get(key)
		if card == nil {
			continue
		}
		name := strings.ToUpper(strings.TrimSpace(card.Name))
		if name == "END" {
			continue
		}
		value := card.Value
		if s, ok := value.(string); ok {
			// trailing blanks in FITS strings are not significant
			value = strings.TrimRight(s, " ")
		}
		out.Cards = append(out.Cards, Card{
			Key:     name,
			Value:   value,
			Comment: strings.TrimSpace(card.Comment),
		})
	}
	return out
}

func headerInt(h Header, key string) (int64, bool) {
	card, ok := h.Lookup(key)
	if !ok {
		return 0, false
	}
	switch v := card.Value.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case float64:
		if v == math.Trunc(v) {
			return int64(v), true
		}
	}
	return 0, false
}

func headerFloat(h Header, key string, fallback float64) float64 {
	card, ok := h.Lookup(key)
	if !ok {
		return fallback
	}
	switch v := card.Value.(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	case float32:
		return float64(v)
	default:
		return fallback
	}
}
