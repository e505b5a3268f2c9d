package metadata

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// Scalar converts a decoded header value into a plain JSON scalar: int64,
// float64, bool, string or nil.
func Scalar(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case bool:
		return x
	case string:
		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		return unsignedScalar(uint64(x))
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return unsignedScalar(x)
	case float32:
		return floatScalar(float64(x))
	case float64:
		return floatScalar(x)
	case *big.Int:
		if x == nil {
			return nil
		}
		if x.IsInt64() {
			return x.Int64()
		}
		return x.String()
	case complex64:
		return complexString(complex128(x))
	case complex128:
		return complexString(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func unsignedScalar(v uint64) any {
	if v > math.MaxInt64 {
		return float64(v)
	}
	return int64(v)
}

// floatScalar keeps non-finite values out of the JSON output.
func floatScalar(v float64) any {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	default:
		return v
	}
}

func complexString(c complex128) string {
	return fmt.Sprintf("(%s, %s)",
		strconv.FormatFloat(real(c), 'g', -1, 64),
		strconv.FormatFloat(imag(c), 'g', -1, 64),
	)
}

// toFloat accepts numbers, numeric strings and booleans. Non-finite results
// are rejected.
func toFloat(v any) (float64, bool) {
	var f float64
	switch x := Scalar(v).(type) {
	case int64:
		f = float64(x)
	case float64:
		f = x
	case bool:
		if x {
			f = 1
		}
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
