package tableio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	dserrors "github.com/arkilian/dissolve/internal/errors"
	"github.com/arkilian/dissolve/pkg/types"
)

// Format identifies a table encoding.
type Format string

const (
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatSQLite   Format = "sqlite"
	FormatSnapshot Format = "snapshot"
)

// ParseFormat validates a format name.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case FormatJSON, FormatCSV, FormatSQLite, FormatSnapshot:
		return f, nil
	case "db", "sqlite3":
		return FormatSQLite, nil
	case "snap":
		return FormatSnapshot, nil
	}
	return "", dserrors.NewValidationError(dserrors.CodeUnsupportedOption,
		fmt.Sprintf("unknown table format %q", name))
}

// FormatFromPath guesses the format from a file extension, defaulting to
// JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV
	case ".sqlite", ".sqlite3", ".db":
		return FormatSQLite
	case ".snap", ".sz":
		return FormatSnapshot
	}
	return FormatJSON
}

// Decode reads a table from data in the given format.
func Decode(ctx context.Context, data []byte, format Format, opts ReadOptions) (*types.Table, error) {
	switch format {
	case FormatCSV:
		return ReadCSV(bytes.NewReader(data), opts)
	case FormatSnapshot:
		return DecodeSnapshot(data)
	case FormatSQLite:
		return withTempFile(data, func(path string) (*types.Table, error) {
			return ReadSQLite(ctx, path, opts)
		})
	}
	t, err := UnmarshalTable(data)
	if err != nil {
		return nil, err
	}
	if opts.CRS != "" && t.CRS == "" {
		t.CRS = opts.CRS
	}
	return t, nil
}

// Encode writes t in the given format.
func Encode(ctx context.Context, t *types.Table, format Format) ([]byte, error) {
	switch format {
	case FormatCSV:
		var buf bytes.Buffer
		if err := WriteCSV(&buf, t); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatSnapshot:
		return EncodeSnapshot(t)
	case FormatSQLite:
		dir, err := os.MkdirTemp("", "dissolve-*")
		if err != nil {
			return nil, dserrors.NewCodecError(dserrors.CodeEncodeFailed, "cannot create temp dir", err)
		}
		defer os.RemoveAll(dir)
		path := filepath.Join(dir, "table.sqlite")
		if err := WriteSQLite(ctx, path, t); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, dserrors.NewCodecError(dserrors.CodeEncodeFailed, "cannot read SQLite file", err)
		}
		return data, nil
	}
	var buf bytes.Buffer
	if err := EncodeJSON(&buf, t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadFile reads a table from a local file, choosing the format from its
// extension.
func ReadFile(ctx context.Context, path string, opts ReadOptions) (*types.Table, error) {
	format := FormatFromPath(path)
	if format == FormatSQLite {
		return ReadSQLite(ctx, path, opts)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, dserrors.NewStorageError(dserrors.CodeDownloadFailed,
			fmt.Sprintf("cannot read %s", path), err)
	}
	return Decode(ctx, data, format, opts)
}

// WriteFile writes a table to a local file, choosing the format from its
// extension.
func WriteFile(ctx context.Context, path string, t *types.Table) error {
	format := FormatFromPath(path)
	if format == FormatSQLite {
		return WriteSQLite(ctx, path, t)
	}
	data, err := Encode(ctx, t, format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return dserrors.NewStorageError(dserrors.CodeUploadFailed,
			fmt.Sprintf("cannot write %s", path), err)
	}
	return nil
}

func withTempFile(data []byte, fn func(path string) (*types.Table, error)) (*types.Table, error) {
	f, err := os.CreateTemp("", "dissolve-*.sqlite")
	if err != nil {
		return nil, dserrors.NewCodecError(dserrors.CodeDecodeFailed, "cannot create temp file", err)
	}
	path := f.Name()
	defer os.Remove(path)
	if _, err := f.Write(data); err != nil {
		f.Close()
		return nil, dserrors.NewCodecError(dserrors.CodeDecodeFailed, "cannot write temp file", err)
	}
	if err := f.Close(); err != nil {
		return nil, dserrors.NewCodecError(dserrors.CodeDecodeFailed, "cannot close temp file", err)
	}
	return fn(path)
}
