package tableio

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	dserrors "github.com/arkilian/dissolve/internal/errors"
	"github.com/arkilian/dissolve/internal/geometry"
	"github.com/arkilian/dissolve/pkg/types"
)

// ReadOptions controls decoding of formats that do not carry table
// metadata themselves.
type ReadOptions struct {
	// Geometry names the WKT column. Defaults to "geometry".
	Geometry string

	// CRS tags the geometry column.
	CRS string

	// Categorical lists columns to decode as categoricals, with their
	// declared categories in order.
	Categorical map[string][]string

	// Table names the SQLite table to read. Defaults to "features".
	Table string
}

func (o ReadOptions) geometryName() string {
	if o.Geometry == "" {
		return types.DefaultGeometryName
	}
	return o.Geometry
}

// ReadCSV reads a CSV file with a header row. The geometry column holds
// WKT; other column kinds are inferred as int, float, bool or string, and
// empty cells are missing values.
func ReadCSV(r io.Reader, opts ReadOptions) (*types.Table, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = false
	records, err := cr.ReadAll()
	if err != nil {
		return nil, dserrors.NewCodecError(dserrors.CodeDecodeFailed, "invalid CSV", err)
	}
	if len(records) == 0 {
		return nil, dserrors.NewCodecError(dserrors.CodeDecodeFailed, "CSV has no header row", nil)
	}

	header := records[0]
	rows := records[1:]
	geomName := opts.geometryName()

	t := &types.Table{Geometry: geomName, CRS: opts.CRS, Index: types.RangeIndex()}
	for ci, name := range header {
		cells := make([]string, len(rows))
		for ri, rec := range rows {
			cells[ri] = rec[ci]
		}

		var (
			col *types.Column
			err error
		)
		switch {
		case name == geomName:
			col, err = geometryColumn(name, cells)
		case opts.Categorical[name] != nil:
			col = categoricalColumn(name, opts.Categorical[name], cells)
		default:
			col = inferColumn(name, cells)
		}
		if err != nil {
			return nil, err
		}
		t.Columns = append(t.Columns, col)
	}

	if err := t.Validate(); err != nil {
		return nil, dserrors.NewCodecError(dserrors.CodeDecodeFailed, "invalid table", err)
	}
	return t, nil
}

func geometryColumn(name string, cells []string) (*types.Column, error) {
	values := make([]any, len(cells))
	for i, s := range cells {
		g, err := geometry.ParseWKT(s)
		if err != nil {
			return nil, dserrors.NewCodecError(dserrors.CodeDecodeFailed,
				fmt.Sprintf("row %d of %q", i+1, name), err)
		}
		if g != nil {
			values[i] = g
		}
	}
	return &types.Column{Label: types.Label{Name: name}, Kind: types.KindGeometry, Values: values}, nil
}

func categoricalColumn(name string, categories []string, cells []string) *types.Column {
	cats := make([]any, len(categories))
	for i, c := range categories {
		cats[i] = c
	}
	values := make([]any, len(cells))
	for i, s := range cells {
		if s != "" {
			values[i] = s
		}
	}
	return &types.Column{Label: types.Label{Name: name}, Kind: types.KindCategorical, Categories: cats, Values: values}
}

// inferColumn picks the narrowest of int, float, bool and string that
// parses every non-empty cell.
func inferColumn(name string, cells []string) *types.Column {
	parsers := []struct {
		kind  types.Kind
		parse func(string) (any, bool)
	}{
		{types.KindInt, func(s string) (any, bool) {
			i, err := strconv.ParseInt(s, 10, 64)
			return i, err == nil
		}},
		{types.KindFloat, func(s string) (any, bool) {
			f, err := strconv.ParseFloat(s, 64)
			return f, err == nil
		}},
		{types.KindBool, func(s string) (any, bool) {
			switch strings.ToLower(s) {
			case "true":
				return true, true
			case "false":
				return false, true
			}
			return nil, false
		}},
	}

	for _, p := range parsers {
		values := make([]any, len(cells))
		ok := true
		for i, s := range cells {
			if s == "" {
				continue
			}
			v, good := p.parse(s)
			if !good {
				ok = false
				break
			}
			values[i] = types.Normalize(v)
		}
		if ok {
			return &types.Column{Label: types.Label{Name: name}, Kind: p.kind, Values: values}
		}
	}

	values := make([]any, len(cells))
	for i, s := range cells {
		if s != "" {
			values[i] = s
		}
	}
	return &types.Column{Label: types.Label{Name: name}, Kind: types.KindString, Values: values}
}

// WriteCSV writes t with a header row. Named index levels are written as
// leading columns; pair labels are written as "(name, func)".
func WriteCSV(w io.Writer, t *types.Table) error {
	cw := csv.NewWriter(w)

	var cols []*types.Column
	if t.Index != nil && !t.Index.Range {
		cols = append(cols, t.Index.Levels...)
	}
	cols = append(cols, t.Columns...)

	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = c.Label.String()
	}
	if err := cw.Write(header); err != nil {
		return dserrors.NewCodecError(dserrors.CodeEncodeFailed, "cannot write CSV header", err)
	}

	record := make([]string, len(cols))
	for r := 0; r < t.NumRows(); r++ {
		for i, c := range cols {
			record[i] = formatCell(c.Values[r])
		}
		if err := cw.Write(record); err != nil {
			return dserrors.NewCodecError(dserrors.CodeEncodeFailed, "cannot write CSV row", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return dserrors.NewCodecError(dserrors.CodeEncodeFailed, "cannot flush CSV", err)
	}
	return nil
}

func formatCell(v any) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return types.FormatValue(v)
}
