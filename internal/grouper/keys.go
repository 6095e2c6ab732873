// Package grouper partitions table rows into ordered groups by key columns,
// index levels, or no key at all.
package grouper

import (
	"fmt"

	dserrors "github.com/arkilian/dissolve/internal/errors"
	"github.com/arkilian/dissolve/pkg/types"
)

// LevelRef addresses an index level by position or by name.
type LevelRef struct {
	Pos    int
	Name   string
	ByName bool
}

// LevelAt refers to the index level at position pos.
func LevelAt(pos int) LevelRef {
	return LevelRef{Pos: pos}
}

// LevelNamed refers to the index level called name.
func LevelNamed(name string) LevelRef {
	return LevelRef{Name: name, ByName: true}
}

func (r LevelRef) String() string {
	if r.ByName {
		return fmt.Sprintf("%q", r.Name)
	}
	return fmt.Sprintf("%d", r.Pos)
}

// KeySpec selects the grouping key. By and Levels are mutually exclusive;
// when both are empty the whole table forms a single group.
type KeySpec struct {
	By     []string
	Levels []LevelRef
}

// ByColumns groups by the named columns.
func ByColumns(names ...string) KeySpec {
	return KeySpec{By: names}
}

// ByLevels groups by index levels.
func ByLevels(refs ...LevelRef) KeySpec {
	return KeySpec{Levels: refs}
}

// IsEmpty reports whether no key was requested.
func (k KeySpec) IsEmpty() bool {
	return len(k.By) == 0 && len(k.Levels) == 0
}

// Validate rejects specs naming both columns and levels.
func (k KeySpec) Validate() error {
	if len(k.By) > 0 && len(k.Levels) > 0 {
		return dserrors.NewValidationError(dserrors.CodeConflictingKeys,
			"cannot specify both 'by' and 'level'")
	}
	return nil
}

// KeyColumn describes one component of the group key.
type KeyColumn struct {
	Name       string
	Kind       types.Kind
	Categories []any

	// FromLevel is set when the component was taken from an index level.
	FromLevel bool
}

// IsCategorical reports whether the component has a declared domain.
func (k KeyColumn) IsCategorical() bool {
	return k.Kind == types.KindCategorical
}

// Column materialises the key component over the given key tuples.
func (k KeyColumn) Column(pos int, groups []Group) *types.Column {
	values := make([]any, len(groups))
	for i, g := range groups {
		values[i] = g.Key[pos]
	}
	return &types.Column{
		Label:      types.Label{Name: k.Name},
		Kind:       k.Kind,
		Categories: append([]any(nil), k.Categories...),
		Values:     values,
	}
}

// resolveKeys looks up the key columns named by spec.
func resolveKeys(t *types.Table, spec KeySpec) ([]*types.Column, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	cols := make([]*types.Column, 0, len(spec.By)+len(spec.Levels))
	for _, name := range spec.By {
		c, ok := t.Column(name)
		if !ok {
			return nil, dserrors.NewValidationError(dserrors.CodeUnknownColumn,
				fmt.Sprintf("key column %q not found", name))
		}
		if name == t.Geometry {
			return nil, dserrors.NewValidationError(dserrors.CodeUnknownColumn,
				fmt.Sprintf("cannot group by geometry column %q", name))
		}
		cols = append(cols, c)
	}

	n := t.NumRows()
	for _, ref := range spec.Levels {
		pos := ref.Pos
		if ref.ByName {
			pos = t.Index.LevelByName(ref.Name)
			if pos < 0 {
				return nil, dserrors.NewValidationError(dserrors.CodeUnknownLevel,
					fmt.Sprintf("level name %q is not the name of the index", ref.Name))
			}
		}
		if pos < 0 {
			pos += t.Index.NumLevels()
		}
		level, err := t.Index.Level(pos, n)
		if err != nil {
			return nil, dserrors.NewValidationError(dserrors.CodeUnknownLevel, err.Error())
		}
		cols = append(cols, level)
	}
	return cols, nil
}

func describeKeys(cols []*types.Column, fromLevel bool) []KeyColumn {
	keys := make([]KeyColumn, len(cols))
	for i, c := range cols {
		keys[i] = KeyColumn{
			Name:       c.Name(),
			Kind:       c.Kind,
			Categories: c.Categories,
			FromLevel:  fromLevel,
		}
	}
	return keys
}
