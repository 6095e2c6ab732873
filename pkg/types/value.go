package types

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

// IsNull reports whether v is a missing value. Both nil and float NaN are
// treated as missing.
func IsNull(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(val)
	case float32:
		return math.IsNaN(float64(val))
	case Geometry:
		return val == nil
	}
	return false
}

// Normalize widens Go integer and float types to int64 and float64 so
// that values of equal magnitude compare and hash identically.
func Normalize(v any) any {
	switch val := v.(type) {
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint:
		return int64(val)
	case uint64:
		return int64(val)
	case float32:
		return float64(val)
	case float64:
		if math.IsNaN(val) {
			return nil
		}
		return val
	}
	return v
}

func normalizeAll(values []any) []any {
	if values == nil {
		return nil
	}
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = Normalize(v)
	}
	return out
}

// ToFloat converts a numeric value to float64.
func ToFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int64:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int16:
		return float64(val), true
	case int8:
		return float64(val), true
	case uint64:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint:
		return float64(val), true
	}
	return 0, false
}

// Value ranks establish the cross-type total order:
// numbers < strings < booleans < times < everything else < null.
const (
	rankNumber = iota
	rankString
	rankBool
	rankTime
	rankOther
	rankNull
)

func rankOf(v any) int {
	if IsNull(v) {
		return rankNull
	}
	if _, ok := ToFloat(v); ok {
		return rankNumber
	}
	switch v.(type) {
	case string:
		return rankString
	case bool:
		return rankBool
	case time.Time:
		return rankTime
	}
	return rankOther
}

// Compare orders two values. Returns -1 if a < b, 0 if equal, 1 if a > b.
// Missing values sort after everything else and are equal to each other.
func Compare(a, b any) int {
	ra, rb := rankOf(a), rankOf(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch ra {
	case rankNull:
		return 0
	case rankNumber:
		ia, aInt := Normalize(a).(int64)
		ib, bInt := Normalize(b).(int64)
		if aInt && bInt {
			return cmpOrdered(ia, ib)
		}
		fa, _ := ToFloat(a)
		fb, _ := ToFloat(b)
		return cmpOrdered(fa, fb)
	case rankString:
		return strings.Compare(a.(string), b.(string))
	case rankBool:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		default:
			return 1
		}
	case rankTime:
		return a.(time.Time).Compare(b.(time.Time))
	}
	return strings.Compare(displayString(a), displayString(b))
}

func cmpOrdered[T int64 | float64](a, b T) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// Equal reports whether two values are equal under Compare.
func Equal(a, b any) bool {
	return Compare(a, b) == 0
}

// AppendKey appends a canonical byte encoding of v to buf. Values that are
// Equal encode identically, except for very large integers that share a
// float64 representation; callers resolve those with Compare.
func AppendKey(buf []byte, v any) []byte {
	switch rankOf(v) {
	case rankNull:
		return append(buf, 0)
	case rankNumber:
		f, _ := ToFloat(v)
		if f == 0 {
			f = 0 // fold negative zero
		}
		buf = append(buf, 1)
		return binary.BigEndian.AppendUint64(buf, math.Float64bits(f))
	case rankString:
		s := v.(string)
		buf = append(buf, 2)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
		return append(buf, s...)
	case rankBool:
		if v.(bool) {
			return append(buf, 3, 1)
		}
		return append(buf, 3, 0)
	case rankTime:
		buf = append(buf, 4)
		return binary.BigEndian.AppendUint64(buf, uint64(v.(time.Time).UnixNano()))
	}
	s := displayString(v)
	buf = append(buf, 5)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// FormatValue renders a value for display. Missing values render as "".
func FormatValue(v any) string {
	if IsNull(v) {
		return ""
	}
	return displayString(v)
}

func displayString(v any) string {
	switch val := v.(type) {
	case Geometry:
		return val.AsText()
	case string:
		return val
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case float64:
		return fmt.Sprintf("%g", val)
	}
	return fmt.Sprintf("%v", v)
}
