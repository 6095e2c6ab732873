package tableio

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	dserrors "github.com/arkilian/dissolve/internal/errors"
	"github.com/arkilian/dissolve/internal/geometry"
	"github.com/arkilian/dissolve/pkg/types"
)

const (
	defaultSQLiteTable = "features"
	metaTable          = "_dissolve_meta"
)

// sqliteMeta is stored alongside the features table so that kinds,
// categories, labels and the index survive a round trip.
type sqliteMeta struct {
	Geometry string          `json:"geometry"`
	CRS      string          `json:"crs,omitempty"`
	Columns  []sqliteColMeta `json:"columns"`
	Index    []sqliteColMeta `json:"index,omitempty"`
}

type sqliteColMeta struct {
	SQLName    string `json:"sql_name"`
	Name       string `json:"name"`
	Func       string `json:"func,omitempty"`
	Kind       string `json:"kind"`
	Categories []any  `json:"categories,omitempty"`
}

// WriteSQLite writes t to a new SQLite database at path. Geometries are
// stored as WKT text. An existing file is replaced.
func WriteSQLite(ctx context.Context, path string, t *types.Table) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return dserrors.NewCodecError(dserrors.CodeEncodeFailed, "cannot replace SQLite file", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return dserrors.NewCodecError(dserrors.CodeEncodeFailed, "cannot create SQLite database", err)
	}
	defer db.Close()

	var cols []*types.Column
	meta := sqliteMeta{Geometry: t.Geometry, CRS: t.CRS}
	if t.Index != nil && !t.Index.Range {
		for i, l := range t.Index.Levels {
			m := colMeta(l, fmt.Sprintf("idx_%d", i))
			meta.Index = append(meta.Index, m)
			cols = append(cols, l)
		}
	}
	for i, c := range t.Columns {
		meta.Columns = append(meta.Columns, colMeta(c, fmt.Sprintf("col_%d", i)))
		cols = append(cols, c)
	}
	all := append(append([]sqliteColMeta(nil), meta.Index...), meta.Columns...)

	defs := make([]string, len(all))
	names := make([]string, len(all))
	marks := make([]string, len(all))
	for i, m := range all {
		defs[i] = strings.TrimSpace(m.SQLName + " " + sqlType(cols[i].Kind))
		names[i] = m.SQLName
		marks[i] = "?"
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return dserrors.NewCodecError(dserrors.CodeEncodeFailed, "cannot begin transaction", err)
	}
	defer tx.Rollback()

	createSQL := fmt.Sprintf("CREATE TABLE %s (%s)", defaultSQLiteTable, strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, createSQL); err != nil {
		return dserrors.NewCodecError(dserrors.CodeEncodeFailed, "cannot create features table", err)
	}

	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		defaultSQLiteTable, strings.Join(names, ", "), strings.Join(marks, ", "))
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return dserrors.NewCodecError(dserrors.CodeEncodeFailed, "cannot prepare insert statement", err)
	}
	defer stmt.Close()

	args := make([]any, len(cols))
	for r := 0; r < t.NumRows(); r++ {
		for i, c := range cols {
			args[i] = sqlValue(c.Values[r])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return dserrors.NewCodecError(dserrors.CodeEncodeFailed, "cannot insert row", err)
		}
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return dserrors.NewCodecError(dserrors.CodeEncodeFailed, "cannot encode table metadata", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (meta TEXT NOT NULL)", metaTable)); err != nil {
		return dserrors.NewCodecError(dserrors.CodeEncodeFailed, "cannot create metadata table", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s (meta) VALUES (?)", metaTable), string(metaJSON)); err != nil {
		return dserrors.NewCodecError(dserrors.CodeEncodeFailed, "cannot write metadata", err)
	}
	if err := tx.Commit(); err != nil {
		return dserrors.NewCodecError(dserrors.CodeEncodeFailed, "cannot commit", err)
	}
	return db.Close()
}

// ReadSQLite reads a table from a SQLite database. Files written by
// WriteSQLite restore their metadata; other databases are read from
// opts.Table with kinds inferred and the WKT column named by opts.Geometry.
func ReadSQLite(ctx context.Context, path string, opts ReadOptions) (*types.Table, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, dserrors.NewStorageError(dserrors.CodeObjectNotFound, "SQLite file not found", err)
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, dserrors.NewCodecError(dserrors.CodeDecodeFailed, "cannot open SQLite database", err)
	}
	defer db.Close()

	var metaJSON string
	err = db.QueryRowContext(ctx, fmt.Sprintf("SELECT meta FROM %s LIMIT 1", metaTable)).Scan(&metaJSON)
	if err == nil {
		var meta sqliteMeta
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			return nil, dserrors.NewCodecError(dserrors.CodeDecodeFailed, "invalid table metadata", err)
		}
		return readWithMeta(ctx, db, &meta)
	}
	return readPlain(ctx, db, opts)
}

func readWithMeta(ctx context.Context, db *sql.DB, meta *sqliteMeta) (*types.Table, error) {
	all := append(append([]sqliteColMeta(nil), meta.Index...), meta.Columns...)
	names := make([]string, len(all))
	for i, m := range all {
		names[i] = m.SQLName
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY rowid", strings.Join(names, ", "), defaultSQLiteTable)
	raw, err := queryColumns(ctx, db, query, len(all))
	if err != nil {
		return nil, err
	}

	cols := make([]*types.Column, len(all))
	for i, m := range all {
		kind, err := types.ParseKind(m.Kind)
		if err != nil {
			return nil, dserrors.NewCodecError(dserrors.CodeDecodeFailed, "invalid column kind", err)
		}
		values, err := fromSQL(raw[i], kind)
		if err != nil {
			return nil, dserrors.NewCodecError(dserrors.CodeDecodeFailed,
				fmt.Sprintf("column %q", m.Name), err)
		}
		cols[i] = &types.Column{
			Label:      types.Label{Name: m.Name, Func: m.Func},
			Kind:       kind,
			Categories: normalizeCategories(m.Categories),
			Values:     values,
		}
	}

	t := &types.Table{
		Columns:  cols[len(meta.Index):],
		Index:    types.NewIndex(cols[:len(meta.Index)]...),
		Geometry: meta.Geometry,
		CRS:      meta.CRS,
	}
	if err := t.Validate(); err != nil {
		return nil, dserrors.NewCodecError(dserrors.CodeDecodeFailed, "invalid table", err)
	}
	return t, nil
}

func readPlain(ctx context.Context, db *sql.DB, opts ReadOptions) (*types.Table, error) {
	table := opts.Table
	if table == "" {
		table = defaultSQLiteTable
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %q", table))
	if err != nil {
		return nil, dserrors.NewCodecError(dserrors.CodeDecodeFailed,
			fmt.Sprintf("cannot read table %q", table), err)
	}
	names, err := rows.Columns()
	rows.Close()
	if err != nil {
		return nil, dserrors.NewCodecError(dserrors.CodeDecodeFailed, "cannot read column names", err)
	}

	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = fmt.Sprintf("%q", n)
	}
	raw, err := queryColumns(ctx, db,
		fmt.Sprintf("SELECT %s FROM %q ORDER BY rowid", strings.Join(quoted, ", "), table), len(names))
	if err != nil {
		return nil, err
	}

	geomName := opts.geometryName()
	t := &types.Table{Geometry: geomName, CRS: opts.CRS, Index: types.RangeIndex()}
	for i, name := range names {
		kind := types.KindAny
		if name == geomName {
			kind = types.KindGeometry
		}
		values, err := fromSQL(raw[i], kind)
		if err != nil {
			return nil, dserrors.NewCodecError(dserrors.CodeDecodeFailed,
				fmt.Sprintf("column %q", name), err)
		}
		if kind == types.KindAny {
			kind = types.InferKind(values)
		}
		c := &types.Column{Label: types.Label{Name: name}, Kind: kind, Values: values}
		if cats, ok := opts.Categorical[name]; ok {
			c.Kind = types.KindCategorical
			for _, cat := range cats {
				c.Categories = append(c.Categories, cat)
			}
		}
		t.Columns = append(t.Columns, c)
	}
	if err := t.Validate(); err != nil {
		return nil, dserrors.NewCodecError(dserrors.CodeDecodeFailed, "invalid table", err)
	}
	return t, nil
}

// queryColumns runs query and returns its result column-wise.
func queryColumns(ctx context.Context, db *sql.DB, query string, n int) ([][]any, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, dserrors.NewCodecError(dserrors.CodeDecodeFailed, "query failed", err)
	}
	defer rows.Close()

	out := make([][]any, n)
	dest := make([]any, n)
	ptrs := make([]any, n)
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, dserrors.NewCodecError(dserrors.CodeDecodeFailed, "cannot scan row", err)
		}
		for i, v := range dest {
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			out[i] = append(out[i], v)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, dserrors.NewCodecError(dserrors.CodeDecodeFailed, "row iteration failed", err)
	}
	return out, nil
}

func fromSQL(raw []any, kind types.Kind) ([]any, error) {
	values := make([]any, len(raw))
	for i, v := range raw {
		if v == nil {
			continue
		}
		switch kind {
		case types.KindGeometry:
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("row %d: geometry must be WKT text, got %T", i, v)
			}
			g, err := geometry.ParseWKT(s)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
			if g != nil {
				values[i] = g
			}
		case types.KindBool:
			values[i] = v.(int64) != 0
		case types.KindFloat:
			f, _ := types.ToFloat(v)
			values[i] = f
		case types.KindTime:
			s, _ := v.(string)
			ts, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
			values[i] = ts
		default:
			values[i] = types.Normalize(v)
		}
	}
	return values, nil
}

func colMeta(c *types.Column, sqlName string) sqliteColMeta {
	cats := make([]any, len(c.Categories))
	for i, v := range c.Categories {
		cats[i] = encodeValue(v)
	}
	return sqliteColMeta{
		SQLName:    sqlName,
		Name:       c.Label.Name,
		Func:       c.Label.Func,
		Kind:       c.Kind.String(),
		Categories: cats,
	}
}

// normalizeCategories converts JSON-decoded categories (float64 numbers)
// back to int64 where they are integral.
func normalizeCategories(cats []any) []any {
	if len(cats) == 0 {
		return nil
	}
	out := make([]any, len(cats))
	for i, v := range cats {
		if f, ok := v.(float64); ok && f == float64(int64(f)) {
			out[i] = int64(f)
			continue
		}
		out[i] = v
	}
	return out
}

// sqlType returns the declared column type. Untyped and categorical
// columns get no declared type so SQLite keeps each value's own type.
func sqlType(k types.Kind) string {
	switch k {
	case types.KindInt, types.KindBool:
		return "INTEGER"
	case types.KindFloat:
		return "REAL"
	case types.KindString, types.KindGeometry, types.KindTime:
		return "TEXT"
	}
	return ""
}

func sqlValue(v any) any {
	if types.IsNull(v) {
		return nil
	}
	switch val := v.(type) {
	case types.Geometry:
		return val.AsText()
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case bool:
		if val {
			return int64(1)
		}
		return int64(0)
	}
	return v
}
