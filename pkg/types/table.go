package types

import "fmt"

// DefaultGeometryName is the conventional name of the active geometry column.
const DefaultGeometryName = "geometry"

// Table is an ordered set of equal-length columns with a row index.
// Exactly one column, named by Geometry, holds the active geometries.
type Table struct {
	Columns []*Column
	Index   *Index

	// Geometry names the active geometry column.
	Geometry string

	// CRS is an opaque coordinate reference tag carried by the geometry
	// column. The empty string means no CRS.
	CRS string
}

// NewTable builds and validates a table with a range index.
func NewTable(geometry string, cols ...*Column) (*Table, error) {
	t := &Table{Columns: cols, Index: RangeIndex(), Geometry: geometry}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int {
	if len(t.Columns) > 0 {
		return t.Columns[0].Len()
	}
	if n := t.Index.Len(); n >= 0 {
		return n
	}
	return 0
}

// Column returns the first column whose first label level equals name.
func (t *Table) Column(name string) (*Column, bool) {
	for _, c := range t.Columns {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// ColumnByLabel returns the column with the exact label.
func (t *Table) ColumnByLabel(l Label) (*Column, bool) {
	for _, c := range t.Columns {
		if c.Label == l {
			return c, true
		}
	}
	return nil, false
}

// GeometryColumn returns the active geometry column.
func (t *Table) GeometryColumn() (*Column, error) {
	c, ok := t.Column(t.Geometry)
	if !ok || c.Kind != KindGeometry {
		return nil, fmt.Errorf("%w: %q", ErrNoGeometry, t.Geometry)
	}
	return c, nil
}

// Labels returns the column labels in order.
func (t *Table) Labels() []Label {
	labels := make([]Label, len(t.Columns))
	for i, c := range t.Columns {
		labels[i] = c.Label
	}
	return labels
}

// SetIndex moves the named columns into the index, replacing the current
// index. The remaining columns keep their order.
func (t *Table) SetIndex(names ...string) error {
	levels := make([]*Column, 0, len(names))
	for _, name := range names {
		c, ok := t.Column(name)
		if !ok {
			return fmt.Errorf("%w: %q", ErrColumnNotFound, name)
		}
		if name == t.Geometry {
			return fmt.Errorf("cannot index by geometry column %q", name)
		}
		levels = append(levels, c)
	}
	kept := make([]*Column, 0, len(t.Columns))
	for _, c := range t.Columns {
		moved := false
		for _, l := range levels {
			if c == l {
				moved = true
				break
			}
		}
		if !moved {
			kept = append(kept, c)
		}
	}
	t.Columns = kept
	t.Index = NewIndex(levels...)
	return nil
}

// ResetIndex moves the index levels back into leading columns, in level
// order, and replaces the index with a range index. Unnamed levels are
// named "index" for a single-level index and "level_<i>" otherwise. A
// range index is dropped.
func (t *Table) ResetIndex() error {
	if t.Index == nil || t.Index.Range {
		t.Index = RangeIndex()
		return nil
	}
	single := len(t.Index.Levels) == 1
	leading := make([]*Column, len(t.Index.Levels))
	for i, l := range t.Index.Levels {
		c := l.Clone()
		if c.Name() == "" {
			if single {
				c.Label = Label{Name: "index"}
			} else {
				c.Label = Label{Name: fmt.Sprintf("level_%d", i)}
			}
		}
		if _, exists := t.ColumnByLabel(c.Label); exists {
			return fmt.Errorf("%w: cannot insert %s, already exists", ErrDuplicateColumn, c.Label)
		}
		leading[i] = c
	}
	t.Columns = append(leading, t.Columns...)
	t.Index = RangeIndex()
	return nil
}

// Validate checks column lengths, kinds and the geometry column.
func (t *Table) Validate() error {
	n := -1
	seen := make(map[Label]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		if _, dup := seen[c.Label]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateColumn, c.Label)
		}
		seen[c.Label] = struct{}{}
		if n < 0 {
			n = c.Len()
		} else if c.Len() != n {
			return fmt.Errorf("%w: column %s has %d rows, want %d", ErrLengthMismatch, c.Label, c.Len(), n)
		}
		if err := c.Validate(); err != nil {
			return err
		}
	}
	if t.Index != nil && !t.Index.Range {
		for _, l := range t.Index.Levels {
			if n >= 0 && l.Len() != n {
				return fmt.Errorf("%w: index level %q has %d rows, want %d", ErrLengthMismatch, l.Name(), l.Len(), n)
			}
			if err := l.Validate(); err != nil {
				return err
			}
		}
	}
	if _, err := t.GeometryColumn(); err != nil {
		return err
	}
	return nil
}

// Clone returns a shallow copy of the table with cloned column slices.
func (t *Table) Clone() *Table {
	out := &Table{Geometry: t.Geometry, CRS: t.CRS, Index: RangeIndex()}
	for _, c := range t.Columns {
		out.Columns = append(out.Columns, c.Clone())
	}
	if t.Index != nil && !t.Index.Range {
		levels := make([]*Column, len(t.Index.Levels))
		for i, l := range t.Index.Levels {
			levels[i] = l.Clone()
		}
		out.Index = &Index{Levels: levels}
	}
	return out
}
