package table

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// FormatCell encodes a cell value as text.
//
//   - nil is the empty string
//   - strings are written as-is
//   - numbers use the shortest exact decimal form
//   - maps and sequences are compact JSON, so history cells read as JSON arrays
func FormatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return string(val)
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return formatFloat(float64(val))
	case float64:
		return formatFloat(val)
	}

	data, err := json.Marshal(JSONSafe(v))
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// formatFloat matches encoding/json's float text and spells out non-finite values.
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// JSONSafe replaces non-finite floats, which encoding/json rejects, with
// their text form.
func JSONSafe(v any) any {
	switch val := v.(type) {
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return formatFloat(val)
		}
		return val
	case float32:
		return JSONSafe(float64(val))
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = JSONSafe(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = JSONSafe(e)
		}
		return out
	default:
		return v
	}
}

// Normalize converts json.Number values, at any depth, to int64 when they
// are integral and float64 otherwise. Encoders that do not understand
// json.Number (YAML, SQL drivers) should see normalized values.
func Normalize(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return string(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = Normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = Normalize(e)
		}
		return out
	default:
		return v
	}
}
