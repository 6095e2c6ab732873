package types

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestIsNull(t *testing.T) {
	tests := []struct {
		v    any
		want bool
	}{
		{nil, true},
		{math.NaN(), true},
		{float32(math.NaN()), true},
		{0.0, false},
		{"", false},
		{false, false},
	}
	for _, tt := range tests {
		if got := IsNull(tt.v); got != tt.want {
			t.Errorf("IsNull(%v) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestCompare_CrossTypeOrder(t *testing.T) {
	ordered := []any{
		int64(-3), 1.5, int64(2), "a", "b", false, true,
		time.Unix(0, 0), time.Unix(10, 0), nil,
	}
	for i := 0; i < len(ordered)-1; i++ {
		if c := Compare(ordered[i], ordered[i+1]); c != -1 {
			t.Errorf("Compare(%v, %v) = %d, want -1", ordered[i], ordered[i+1], c)
		}
		if c := Compare(ordered[i+1], ordered[i]); c != 1 {
			t.Errorf("Compare(%v, %v) = %d, want 1", ordered[i+1], ordered[i], c)
		}
	}
}

func TestCompare_MixedNumericWidths(t *testing.T) {
	if Compare(int64(2), 2.0) != 0 {
		t.Error("int64(2) and 2.0 should compare equal")
	}
	if Compare(int32(7), int64(7)) != 0 {
		t.Error("int32 and int64 of equal magnitude should compare equal")
	}
	if Compare(nil, math.NaN()) != 0 {
		t.Error("nil and NaN are both missing")
	}
}

func TestAppendKey_NegativeZero(t *testing.T) {
	a := AppendKey(nil, 0.0)
	b := AppendKey(nil, math.Copysign(0, -1))
	if !bytes.Equal(a, b) {
		t.Errorf("0 and -0 should share a key: %x vs %x", a, b)
	}
}

func TestAppendKey_StringBoundaries(t *testing.T) {
	// ("ab","c") and ("a","bc") must not collide.
	k1 := AppendKey(AppendKey(nil, "ab"), "c")
	k2 := AppendKey(AppendKey(nil, "a"), "bc")
	if bytes.Equal(k1, k2) {
		t.Error("length prefix should separate adjacent strings")
	}
}

func TestProperty_KeyAgreesWithCompare(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("equal ints encode equal keys", prop.ForAll(
		func(a, b int32) bool {
			same := bytes.Equal(AppendKey(nil, int64(a)), AppendKey(nil, int64(b)))
			return same == (Compare(int64(a), int64(b)) == 0)
		},
		gen.Int32Range(-50, 50),
		gen.Int32Range(-50, 50),
	))

	properties.Property("equal strings encode equal keys", prop.ForAll(
		func(a, b string) bool {
			same := bytes.Equal(AppendKey(nil, a), AppendKey(nil, b))
			return same == (Compare(a, b) == 0)
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.Property("compare is antisymmetric", prop.ForAll(
		func(a, b float64) bool {
			return Compare(a, b) == -Compare(b, a)
		},
		gen.Float64Range(-1e6, 1e6),
		gen.Float64Range(-1e6, 1e6),
	))

	properties.TestingRun(t)
}
