// Package tableio reads and writes tables in the formats accepted by the
// CLI and the servers: JSON documents, CSV with WKT geometry, SQLite files
// and snappy-compressed snapshots.
package tableio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	dserrors "github.com/arkilian/dissolve/internal/errors"
	"github.com/arkilian/dissolve/internal/geometry"
	"github.com/arkilian/dissolve/pkg/types"
)

// TableDoc is the JSON representation of a table.
type TableDoc struct {
	Geometry string      `json:"geometry"`
	CRS      string      `json:"crs,omitempty"`
	Columns  []ColumnDoc `json:"columns"`
	Index    *IndexDoc   `json:"index,omitempty"`
}

// ColumnDoc is the JSON representation of a column or index level.
type ColumnDoc struct {
	Name       string `json:"name"`
	Func       string `json:"func,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Categories []any  `json:"categories,omitempty"`
	Values     []any  `json:"values"`
}

// IndexDoc is the JSON representation of a row index. A missing index or
// one without levels is a range index.
type IndexDoc struct {
	Levels []ColumnDoc `json:"levels,omitempty"`
	Range  bool        `json:"range,omitempty"`
}

// UnmarshalTable decodes a JSON table document.
func UnmarshalTable(data []byte) (*types.Table, error) {
	return DecodeJSON(bytes.NewReader(data))
}

// DecodeJSON reads a JSON table document from r.
func DecodeJSON(r io.Reader) (*types.Table, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var doc TableDoc
	if err := dec.Decode(&doc); err != nil {
		return nil, dserrors.NewCodecError(dserrors.CodeDecodeFailed, "invalid table document", err)
	}
	return FromDoc(&doc)
}

// FromDoc converts a decoded document into a validated table.
func FromDoc(doc *TableDoc) (*types.Table, error) {
	geomName := doc.Geometry
	if geomName == "" {
		geomName = types.DefaultGeometryName
	}

	t := &types.Table{Geometry: geomName, CRS: doc.CRS, Index: types.RangeIndex()}
	for _, cd := range doc.Columns {
		forceGeometry := cd.Name == geomName && cd.Func == ""
		c, err := columnFromDoc(cd, forceGeometry)
		if err != nil {
			return nil, err
		}
		t.Columns = append(t.Columns, c)
	}
	if doc.Index != nil && len(doc.Index.Levels) > 0 {
		levels := make([]*types.Column, len(doc.Index.Levels))
		for i, ld := range doc.Index.Levels {
			c, err := columnFromDoc(ld, false)
			if err != nil {
				return nil, err
			}
			levels[i] = c
		}
		t.Index = types.NewIndex(levels...)
	}

	if err := t.Validate(); err != nil {
		return nil, dserrors.NewCodecError(dserrors.CodeDecodeFailed, "invalid table", err)
	}
	return t, nil
}

func columnFromDoc(cd ColumnDoc, forceGeometry bool) (*types.Column, error) {
	kind, err := types.ParseKind(cd.Kind)
	if err != nil {
		return nil, dserrors.NewCodecError(dserrors.CodeDecodeFailed,
			fmt.Sprintf("column %q", cd.Name), err)
	}
	if forceGeometry {
		kind = types.KindGeometry
	}

	values := make([]any, len(cd.Values))
	for i, raw := range cd.Values {
		v, err := decodeValue(raw, kind)
		if err != nil {
			return nil, dserrors.NewCodecError(dserrors.CodeDecodeFailed,
				fmt.Sprintf("column %q row %d", cd.Name, i), err)
		}
		values[i] = v
	}
	if kind == types.KindAny {
		kind = types.InferKind(values)
		if kind == types.KindFloat {
			for i, v := range values {
				if n, ok := v.(int64); ok {
					values[i] = float64(n)
				}
			}
		}
	}

	c := &types.Column{
		Label:  types.Label{Name: cd.Name, Func: cd.Func},
		Kind:   kind,
		Values: values,
	}
	if len(cd.Categories) > 0 {
		c.Categories = make([]any, len(cd.Categories))
		for i, raw := range cd.Categories {
			v, err := decodeValue(raw, types.KindAny)
			if err != nil {
				return nil, dserrors.NewCodecError(dserrors.CodeDecodeFailed,
					fmt.Sprintf("column %q category %d", cd.Name, i), err)
			}
			c.Categories[i] = v
		}
	}
	return c, nil
}

// decodeValue converts a decoded JSON scalar to the Go value for kind.
func decodeValue(raw any, kind types.Kind) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch kind {
	case types.KindGeometry:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("geometry must be a WKT string, got %T", raw)
		}
		return geometry.ParseWKT(s)
	case types.KindInt:
		n, ok := raw.(json.Number)
		if !ok {
			return nil, fmt.Errorf("want integer, got %T", raw)
		}
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil || f != math.Trunc(f) {
			return nil, fmt.Errorf("want integer, got %s", n)
		}
		return int64(f), nil
	case types.KindFloat:
		switch v := raw.(type) {
		case json.Number:
			return v.Float64()
		case string:
			if strings.EqualFold(v, "nan") {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("want number, got %v", raw)
	case types.KindTime:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("time must be an RFC 3339 string, got %T", raw)
		}
		return time.Parse(time.RFC3339Nano, s)
	}

	if n, ok := raw.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		return n.Float64()
	}
	switch raw.(type) {
	case string, bool:
		return raw, nil
	}
	return nil, fmt.Errorf("unsupported value %T", raw)
}

// MarshalTable encodes a table as a JSON document.
func MarshalTable(t *types.Table) ([]byte, error) {
	data, err := json.Marshal(ToDoc(t))
	if err != nil {
		return nil, dserrors.NewCodecError(dserrors.CodeEncodeFailed, "cannot encode table", err)
	}
	return data, nil
}

// EncodeJSON writes t to w as an indented JSON document.
func EncodeJSON(w io.Writer, t *types.Table) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ToDoc(t)); err != nil {
		return dserrors.NewCodecError(dserrors.CodeEncodeFailed, "cannot encode table", err)
	}
	return nil
}

// ToDoc converts a table to its JSON representation.
func ToDoc(t *types.Table) *TableDoc {
	doc := &TableDoc{Geometry: t.Geometry, CRS: t.CRS}
	for _, c := range t.Columns {
		doc.Columns = append(doc.Columns, columnToDoc(c))
	}
	if t.Index == nil || t.Index.Range {
		doc.Index = &IndexDoc{Range: true}
	} else {
		doc.Index = &IndexDoc{}
		for _, l := range t.Index.Levels {
			doc.Index.Levels = append(doc.Index.Levels, columnToDoc(l))
		}
	}
	return doc
}

func columnToDoc(c *types.Column) ColumnDoc {
	values := make([]any, len(c.Values))
	for i, v := range c.Values {
		values[i] = encodeValue(v)
	}
	var cats []any
	if len(c.Categories) > 0 {
		cats = make([]any, len(c.Categories))
		for i, v := range c.Categories {
			cats[i] = encodeValue(v)
		}
	}
	return ColumnDoc{
		Name:       c.Label.Name,
		Func:       c.Label.Func,
		Kind:       c.Kind.String(),
		Categories: cats,
		Values:     values,
	}
}

func encodeValue(v any) any {
	if types.IsNull(v) {
		return nil
	}
	switch val := v.(type) {
	case types.Geometry:
		return val.AsText()
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case float64:
		if math.IsInf(val, 0) {
			return nil
		}
	}
	return v
}
