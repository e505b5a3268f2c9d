package metadata

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/fitsflow/internal/fitsfile"
)

// ObservationTimeKeys are tried in order; the first parsable one wins.
var ObservationTimeKeys = []string{"DATE-OBS", "DATE_OBS", "DATE", "OBSDATE"}

// ObservationTimeLayout is ISO-8601 with millisecond precision, in UTC.
const ObservationTimeLayout = "2006-01-02T15:04:05.000"

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006:002:15:04:05.999999999",
	"2006:002:15:04",
	"2006:002",
}

func tryObservationTime(h fitsfile.Header) (string, []Warning) {
	var warnings []Warning
	for _, key := range ObservationTimeKeys {
		card, ok := h.Lookup(key)
		if !ok {
			continue
		}
		ts, err := ParseTimestamp(card.Value)
		if err != nil {
			warnings = append(warnings, Warning{
				Field:  "observation_time",
				Reason: fmt.Sprintf("%s: %v", key, err),
			})
			continue
		}
		return ts.UTC().Format(ObservationTimeLayout), warnings
	}
	return "", warnings
}

// ParseTimestamp reads the date forms found in FITS headers: ISO-8601 with
// either separator, year:day-of-year, and the pre-2000 dd/mm/yy form.
func ParseTimestamp(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("value %v is not a string", v)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}

	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}

	if ts, err := time.Parse("02/01/06", s); err == nil {
		if ts.Year() >= 2000 {
			ts = ts.AddDate(-100, 0, 0)
		}
		return ts, nil
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
