// Package metadata turns a FITS header and its image buffer into a portable,
// JSON-ready record.
//
// Every optional field is derived independently and falls back silently (with
// a Warning) when its source keys are missing or malformed; Normalize never
// fails.
package metadata

import (
	"encoding/json"
	"fmt"
)

type Metadata struct {
	Header          map[string]any    `json:"header"`
	HeaderComments  map[string]string `json:"header_comments,omitempty"`
	ObservationTime string            `json:"observation_time,omitempty"`
	SunParams       SunParams         `json:"sun_params"`
	DataShape       []int             `json:"data_shape"`
	DType           string            `json:"dtype"`
	DataStats       Stats             `json:"data_stats"`
}

// SunParams locates the solar disk in pixel coordinates.
type SunParams struct {
	CX     float64 `json:"cx"`
	CY     float64 `json:"cy"`
	Radius float64 `json:"radius"`
}

type Stats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Std    float64 `json:"std"`
}

// Warning records an optional derivation that fell back to its default.
type Warning struct {
	Field  string
	Reason string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Field, w.Reason)
}

// MarshalIndent encodes m the way it is written into archives.
func (m Metadata) MarshalIndent() ([]byte, error) {
	out, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return out, nil
}
