package dissolve

import (
	"fmt"
	"strings"

	"github.com/arkilian/dissolve/internal/aggregator"
	"github.com/arkilian/dissolve/internal/grouper"
	"github.com/arkilian/dissolve/pkg/types"
)

// Options configures a dissolve. Use DefaultOptions as the starting point;
// the zero value disables sorting, missing-key dropping and as_index.
type Options struct {
	// By names key columns. Mutually exclusive with Level.
	By []string

	// Level selects index levels as the key. Mutually exclusive with By.
	Level []grouper.LevelRef

	// AggFunc selects how non-key columns are aggregated. The zero value
	// keeps the first non-missing value per group.
	AggFunc aggregator.AggSpec

	// AsIndex keeps the group key as the row index. When false the key is
	// moved into leading columns and the index becomes a range.
	AsIndex bool

	Sort     bool
	Observed bool
	DropNA   bool

	// Method selects the union algorithm. Empty means unary.
	Method types.UnionMethod

	// GridSize snaps union output to a precision grid. Nil means full
	// precision.
	GridSize *float64

	// NumericOnly restricts a single-reducer AggFunc to numeric columns.
	NumericOnly bool

	// OnWarning, if set, is called for each warning as it is raised.
	OnWarning func(Warning)
}

// DefaultOptions returns as_index=true, sort=true, dropna=true,
// observed=false and the unary union method.
func DefaultOptions() Options {
	return Options{
		AsIndex: true,
		Sort:    true,
		DropNA:  true,
		Method:  types.UnionUnary,
	}
}

// KeySpec returns the grouping key described by the options.
func (o Options) KeySpec() grouper.KeySpec {
	return grouper.KeySpec{By: o.By, Levels: o.Level}
}

// GrouperOptions returns the grouping policy described by the options.
func (o Options) GrouperOptions() grouper.Options {
	return grouper.Options{Sort: o.Sort, DropNA: o.DropNA, Observed: o.Observed}
}

func (o Options) gridSize() float64 {
	if o.GridSize == nil {
		return 0
	}
	return *o.GridSize
}

// WarningSource tells engine diagnostics apart from warnings raised by
// custom reducers.
type WarningSource string

const (
	SourceEngine  WarningSource = "engine"
	SourceReducer WarningSource = "reducer"
)

// Warning is a non-fatal diagnostic raised during a dissolve.
type Warning struct {
	Source  WarningSource `json:"source"`
	Column  string        `json:"column,omitempty"`
	Key     []any         `json:"key,omitempty"`
	Message string        `json:"message"`
}

func (w Warning) String() string {
	var b strings.Builder
	b.WriteString(string(w.Source))
	if w.Column != "" {
		fmt.Fprintf(&b, " column=%s", w.Column)
	}
	if len(w.Key) > 0 {
		fmt.Fprintf(&b, " key=%v", w.Key)
	}
	b.WriteString(": ")
	b.WriteString(w.Message)
	return b.String()
}

// Result is the output of a dissolve.
type Result struct {
	Table    *types.Table
	Warnings []Warning
	Groups   int
}
