package metadata

import (
	"fmt"
	"math"

	"github.com/dunamismax/fitsflow/internal/fitsfile"
)

// Limb-fit keys: disk centre x/y and the minor/major axes of the fitted ellipse.
const (
	KeySunCenterX = "FNDLMBXC"
	KeySunCenterY = "FNDLMBYC"
	KeySunMinor   = "FNDLMBMI"
	KeySunMajor   = "FNDLMBMA"
)

// DefaultSunParams centres the disk in the frame with a radius of 45% of the
// shorter side.
func DefaultSunParams(width, height int) SunParams {
	return SunParams{
		CX:     float64(width) / 2,
		CY:     float64(height) / 2,
		Radius: float64(min(width, height)) * 0.45,
	}
}

// trySunParams reports ok=false when any limb key is absent or unusable. Only
// unusable values produce a warning; absent keys are the common case.
func trySunParams(h fitsfile.Header) (SunParams, bool, *Warning) {
	keys := []string{KeySunCenterX, KeySunCenterY, KeySunMinor, KeySunMajor}
	values := make([]float64, len(keys))

	for i, key := range keys {
		card, ok := h.Lookup(key)
		if !ok {
			return SunParams{}, false, nil
		}
		f, ok := toFloat(card.Value)
		if !ok {
			return SunParams{}, false, &Warning{Field: "sun_params", Reason: fmt.Sprintf("%s=%v is not numeric", key, card.Value)}
		}
		values[i] = f
	}

	sp := SunParams{
		CX:     values[0],
		CY:     values[1],
		Radius: (values[2] + values[3]) / 4,
	}
	for _, v := range []float64{sp.CX, sp.CY, sp.Radius} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return SunParams{}, false, &Warning{Field: "sun_params", Reason: fmt.Sprintf("limb fit %+v is not finite", sp)}
		}
	}
	return sp, true, nil
}
