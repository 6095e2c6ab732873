package aggregator

import (
	"fmt"
	"math"
	"sort"
	"strings"

	dserrors "github.com/arkilian/dissolve/internal/errors"
	"github.com/arkilian/dissolve/pkg/types"
)

// PartialAggregate holds the running state of a built-in reducer over one
// group. Missing values are ignored by every reducer except size.
type PartialAggregate struct {
	Type ReducerName

	Rows    int64 // all values seen, including missing
	Count   int64 // non-missing values seen
	IntSum  int64
	Sum     float64
	Prod    float64
	Min     any
	Max     any
	First   any
	Last    any
	IsFloat bool // a float value was accumulated
	IsSet   bool // at least one non-missing value was accumulated

	col     *types.Column
	text    strings.Builder
	isText  bool
	samples []float64
	unique  map[string]struct{}
}

// NewPartialAggregate creates an empty aggregate of the given type over
// values taken from col. col may be nil.
func NewPartialAggregate(aggType ReducerName, col *types.Column) *PartialAggregate {
	p := &PartialAggregate{Type: aggType, col: col, Prod: 1}
	if col != nil && col.Kind == types.KindFloat {
		p.IsFloat = true
	}
	return p
}

// Accumulate adds a single value to the aggregate.
func (p *PartialAggregate) Accumulate(value any) error {
	p.Rows++
	if types.IsNull(value) {
		return nil
	}
	value = types.Normalize(value)
	p.Count++

	switch p.Type {
	case ReduceFirst:
		if !p.IsSet {
			p.First = value
		}

	case ReduceLast:
		p.Last = value

	case ReduceMin:
		if !p.IsSet || p.compare(value, p.Min) < 0 {
			p.Min = value
		}

	case ReduceMax:
		if !p.IsSet || p.compare(value, p.Max) > 0 {
			p.Max = value
		}

	case ReduceSum:
		if s, ok := value.(string); ok {
			if p.IsSet && !p.isText {
				return p.mismatch(value)
			}
			p.isText = true
			p.text.WriteString(s)
			break
		}
		if p.isText {
			return p.mismatch(value)
		}
		if err := p.addNumber(value); err != nil {
			return err
		}

	case ReduceProd:
		f, ok := numeric(value)
		if !ok {
			return p.mismatch(value)
		}
		if _, isFloat := value.(float64); isFloat {
			p.IsFloat = true
		}
		p.Prod *= f

	case ReduceMean, ReduceMedian, ReduceStd, ReduceVar:
		f, ok := numeric(value)
		if !ok {
			return p.mismatch(value)
		}
		p.Sum += f
		p.samples = append(p.samples, f)

	case ReduceNUnique:
		if p.unique == nil {
			p.unique = make(map[string]struct{})
		}
		p.unique[string(types.AppendKey(nil, value))] = struct{}{}

	case ReduceCount, ReduceSize:
	}

	p.IsSet = true
	return nil
}

func (p *PartialAggregate) addNumber(value any) error {
	switch v := value.(type) {
	case int64:
		p.IntSum += v
		p.Sum += float64(v)
	case bool:
		if v {
			p.IntSum++
			p.Sum++
		}
	case float64:
		p.IsFloat = true
		p.Sum += v
	default:
		return p.mismatch(value)
	}
	return nil
}

// Result returns the final value of the aggregate.
func (p *PartialAggregate) Result() any {
	switch p.Type {
	case ReduceCount:
		return p.Count
	case ReduceSize:
		return p.Rows
	case ReduceNUnique:
		return int64(len(p.unique))
	case ReduceSum:
		if p.isText {
			return p.text.String()
		}
		if p.IsFloat {
			return p.Sum
		}
		if !p.IsSet && p.col != nil && p.col.Kind == types.KindString {
			return ""
		}
		return p.IntSum
	case ReduceProd:
		if p.IsFloat {
			return p.Prod
		}
		return int64(p.Prod)
	}

	if !p.IsSet {
		return nil
	}

	switch p.Type {
	case ReduceFirst:
		return p.First
	case ReduceLast:
		return p.Last
	case ReduceMin:
		return p.Min
	case ReduceMax:
		return p.Max
	case ReduceMean:
		return p.Sum / float64(p.Count)
	case ReduceMedian:
		return median(p.samples)
	case ReduceVar:
		return variance(p.samples)
	case ReduceStd:
		v := variance(p.samples)
		if v == nil {
			return nil
		}
		return math.Sqrt(v.(float64))
	}
	return nil
}

// compare orders values for min and max. Categorical columns order by
// declared category position.
func (p *PartialAggregate) compare(a, b any) int {
	if p.col != nil && p.col.Kind == types.KindCategorical {
		pa, pb := p.col.CategoryPos(a), p.col.CategoryPos(b)
		switch {
		case pa < pb:
			return -1
		case pa > pb:
			return 1
		}
		return 0
	}
	return types.Compare(a, b)
}

func (p *PartialAggregate) mismatch(value any) error {
	col := "<unknown>"
	if p.col != nil {
		col = p.col.Label.String()
	}
	return dserrors.NewAggregationError(dserrors.CodeTypeMismatch,
		fmt.Sprintf("cannot apply %s to %T value %v in column %s", p.Type, value, value, col), nil)
}

// numeric converts numbers and booleans to float64.
func numeric(v any) (float64, bool) {
	if b, ok := v.(bool); ok {
		if b {
			return 1, true
		}
		return 0, true
	}
	return types.ToFloat(v)
}

func median(samples []float64) any {
	if len(samples) == 0 {
		return nil
	}
	s := append([]float64(nil), samples...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

// variance is the sample variance (one delta degree of freedom).
func variance(samples []float64) any {
	n := len(samples)
	if n < 2 {
		return nil
	}
	var mean float64
	for _, x := range samples {
		mean += x
	}
	mean /= float64(n)
	var ss float64
	for _, x := range samples {
		d := x - mean
		ss += d * d
	}
	return ss / float64(n-1)
}
