package metadata

import (
	"github.com/dunamismax/fitsflow/internal/fitsfile"
)

// Normalize builds the metadata record for one primary HDU. img must already
// have had its non-finite samples replaced.
func Normalize(h fitsfile.Header, img *fitsfile.Image) (Metadata, []Warning) {
	var warnings []Warning

	values, comments := headerMaps(h)
	meta := Metadata{
		Header:    values,
		DataShape: []int{0, 0},
	}
	if len(comments) > 0 {
		meta.HeaderComments = comments
	}

	ts, tsWarnings := tryObservationTime(h)
	warnings = append(warnings, tsWarnings...)
	meta.ObservationTime = ts

	var width, height int
	if img != nil {
		width, height = img.Width, img.Height
		meta.DataShape = []int{height, width}
		meta.DType = img.DType
		meta.DataStats = ComputeStats(img.Data)
	}

	sun, ok, warning := trySunParams(h)
	if warning != nil {
		warnings = append(warnings, *warning)
	}
	if !ok {
		sun = DefaultSunParams(width, height)
	}
	meta.SunParams = sun

	return meta, warnings
}

// headerMaps keeps the first card for each key and drops commentary cards.
func headerMaps(h fitsfile.Header) (map[string]any, map[string]string) {
	values := make(map[string]any, h.Len())
	comments := make(map[string]string)

	for _, card := range h.Cards {
		if fitsfile.IsFreeText(card.Key) {
			continue
		}
		if _, seen := values[card.Key]; seen {
			continue
		}
		values[card.Key] = Scalar(card.Value)
		if card.Comment != "" {
			comments[card.Key] = card.Comment
		}
	}
	return values, comments
}
