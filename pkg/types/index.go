package types

import "fmt"

// Index labels the rows of a table. It is either a default range index
// (0..n-1, no named levels) or one or more named levels.
type Index struct {
	// Levels holds one column per index level. Level names may be empty.
	Levels []*Column

	// Range marks a default positional index. When set, Levels is empty
	// and the index length follows the table.
	Range bool
}

// RangeIndex returns a default positional index.
func RangeIndex() *Index {
	return &Index{Range: true}
}

// NewIndex builds an index from level columns.
func NewIndex(levels ...*Column) *Index {
	if len(levels) == 0 {
		return RangeIndex()
	}
	return &Index{Levels: levels}
}

// NumLevels returns the number of index levels. A range index has one
// unnamed level.
func (ix *Index) NumLevels() int {
	if ix == nil || ix.Range {
		return 1
	}
	return len(ix.Levels)
}

// Names returns the level names in position order.
func (ix *Index) Names() []string {
	if ix == nil || ix.Range {
		return []string{""}
	}
	names := make([]string, len(ix.Levels))
	for i, l := range ix.Levels {
		names[i] = l.Name()
	}
	return names
}

// Level returns the level column at position pos. For a range index the
// positional values 0..n-1 are materialised.
func (ix *Index) Level(pos, n int) (*Column, error) {
	if ix == nil || ix.Range {
		if pos != 0 {
			return nil, fmt.Errorf("index level %d out of range for range index", pos)
		}
		values := make([]any, n)
		for i := range values {
			values[i] = int64(i)
		}
		return &Column{Kind: KindInt, Values: values}, nil
	}
	if pos < 0 || pos >= len(ix.Levels) {
		return nil, fmt.Errorf("index level %d out of range (%d levels)", pos, len(ix.Levels))
	}
	return ix.Levels[pos], nil
}

// LevelByName returns the position of the named level, or -1.
func (ix *Index) LevelByName(name string) int {
	if ix == nil || ix.Range || name == "" {
		return -1
	}
	for i, l := range ix.Levels {
		if l.Name() == name {
			return i
		}
	}
	return -1
}

// Len returns the index length, or -1 for a range index.
func (ix *Index) Len() int {
	if ix == nil || ix.Range || len(ix.Levels) == 0 {
		return -1
	}
	return ix.Levels[0].Len()
}

// Take returns the index restricted to the given rows.
func (ix *Index) Take(rows []int) *Index {
	if ix == nil || ix.Range {
		return RangeIndex()
	}
	levels := make([]*Column, len(ix.Levels))
	for i, l := range ix.Levels {
		levels[i] = l.Take(rows)
	}
	return &Index{Levels: levels}
}
