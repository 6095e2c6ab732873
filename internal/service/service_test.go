package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/dissolve/internal/cache"
	"github.com/arkilian/dissolve/internal/config"
	"github.com/arkilian/dissolve/internal/dissolve"
	dserrors "github.com/arkilian/dissolve/internal/errors"
	"github.com/arkilian/dissolve/internal/geometry"
	"github.com/arkilian/dissolve/internal/grouper"
	"github.com/arkilian/dissolve/internal/observability"
	"github.com/arkilian/dissolve/internal/storage"
	"github.com/arkilian/dissolve/internal/tableio"
	"github.com/arkilian/dissolve/pkg/types"
)

const boroughTable = `{
  "geometry": "geometry",
  "columns": [
    {"name": "borough", "values": ["a", "a", "b"]},
    {"name": "pop", "values": [1, 2, 3]},
    {"name": "geometry", "values": [
      "POLYGON ((0 0, 2 0, 2 2, 0 2, 0 0))",
      "POLYGON ((1 1, 3 1, 3 3, 1 3, 1 1))",
      "POLYGON ((10 10, 11 10, 11 11, 10 11, 10 10))"
    ]}
  ]
}`

func newService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	return New(dissolve.New(geometry.NewBackend()), opts...)
}

func decodeResult(t *testing.T, resp *Response) *types.Table {
	t.Helper()
	require.NotEmpty(t, resp.Table)
	tbl, err := tableio.UnmarshalTable(resp.Table)
	require.NoError(t, err)
	return tbl
}

func TestDissolve_InlineTable(t *testing.T) {
	svc := newService(t)
	resp, err := svc.Dissolve(context.Background(), &Request{
		Table:   json.RawMessage(boroughTable),
		By:      "borough",
		AggFunc: json.RawMessage(`"sum"`),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Groups)
	assert.NotNil(t, resp.Warnings)
	assert.False(t, resp.Cached)

	tbl := decodeResult(t, resp)
	require.Equal(t, 1, tbl.Index.NumLevels())
	assert.Equal(t, []any{"a", "b"}, tbl.Index.Levels[0].Values)

	pop, ok := tbl.Column("pop")
	require.True(t, ok)
	assert.Equal(t, []any{int64(3), int64(3)}, pop.Values)

	geom, err := tbl.GeometryColumn()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(geom.Values[0].(types.Geometry).AsText(), "POLYGON"))
}

func TestDissolve_WeaklyTypedOptions(t *testing.T) {
	svc := newService(t)
	resp, err := svc.Dissolve(context.Background(), &Request{
		Table:   json.RawMessage(boroughTable),
		By:      []any{"borough"},
		Options: map[string]any{"as_index": "false", "sort": 0.0, "method": "coverage"},
	})
	require.NoError(t, err)

	tbl := decodeResult(t, resp)
	labels := tbl.Labels()
	require.Len(t, labels, 3)
	assert.Equal(t, "borough", labels[0].Name)
	assert.Equal(t, "geometry", labels[1].Name)
	assert.True(t, tbl.Index.Range)
}

func TestDissolve_AggFuncObjectKeepsOrder(t *testing.T) {
	svc := newService(t)
	table := strings.Replace(boroughTable, `{"name": "pop",`, `{"name": "area", "values": [5, 6, 7]}, {"name": "pop",`, 1)
	resp, err := svc.Dissolve(context.Background(), &Request{
		Table:   json.RawMessage(table),
		By:      "borough",
		AggFunc: json.RawMessage(`{"pop": ["min", "max"], "area": "first"}`),
	})
	require.NoError(t, err)

	tbl := decodeResult(t, resp)
	want := []types.Label{
		{Name: "geometry"},
		types.PairLabel("pop", "min"),
		types.PairLabel("pop", "max"),
		types.PairLabel("area", "first"),
	}
	assert.Equal(t, want, tbl.Labels())
}

func TestDissolve_CacheHit(t *testing.T) {
	mem := cache.NewMemoryCache(0)
	metrics := observability.NewMetrics()
	svc := newService(t, WithCache(mem), WithMetrics(metrics))
	req := &Request{Table: json.RawMessage(boroughTable), By: "borough"}

	first, err := svc.Dissolve(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	// Different spelling of the same options hits the same entry.
	second, err := svc.Dissolve(context.Background(), &Request{
		Table:   json.RawMessage(boroughTable),
		By:      []any{"borough"},
		Options: map[string]any{"sort": true},
	})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.JSONEq(t, string(first.Table), string(second.Table))

	assert.Equal(t, int64(1), mem.Metrics().Hits.Load())
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.Registry(), "dissolve_requests_total"))
}

func TestDissolve_StoreInputOutput(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	csv := "borough,pop,geometry\n" +
		"a,1,\"POLYGON ((0 0, 1 0, 1 1, 0 1, 0 0))\"\n" +
		"a,2,\"POLYGON ((1 0, 2 0, 2 1, 1 1, 1 0))\"\n"
	require.NoError(t, storage.WriteObject(ctx, store, "in/boroughs.csv", []byte(csv)))

	usage := observability.NewUsageStats(0)
	svc := newService(t, WithStore(store), WithUsage(usage))
	resp, err := svc.Dissolve(ctx, &Request{
		Input:   "in/boroughs.csv",
		Output:  "out/result.json",
		By:      "borough",
		AggFunc: json.RawMessage(`"pop=sum"`),
	})
	require.NoError(t, err)
	assert.Equal(t, "out/result.json", resp.Output)
	assert.Empty(t, resp.Table)

	data, err := storage.ReadObject(ctx, store, "out/result.json")
	require.NoError(t, err)
	tbl, err := tableio.UnmarshalTable(data)
	require.NoError(t, err)
	assert.Equal(t, 1, tbl.NumRows())

	keys := usage.TopKeys(1)
	require.Len(t, keys, 1)
	assert.Equal(t, "borough", keys[0].Name)
	assert.Equal(t, "sum", usage.TopReducers(1)[0].Name)
}

func TestDissolve_RequestErrors(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	tests := []struct {
		name string
		req  *Request
		code string
	}{
		{"nil request", nil, dserrors.CodeUnsupportedOption},
		{"no table", &Request{By: "borough"}, dserrors.CodeUnsupportedOption},
		{"table and input", &Request{Table: json.RawMessage(boroughTable), Input: "x.csv"}, dserrors.CodeUnsupportedOption},
		{"input without store", &Request{Input: "x.csv"}, dserrors.CodeUnsupportedOption},
		{"unknown option", &Request{Table: json.RawMessage(boroughTable), Options: map[string]any{"fast": true}}, dserrors.CodeUnsupportedOption},
		{"bad method", &Request{Table: json.RawMessage(boroughTable), Options: map[string]any{"method": "magic"}}, dserrors.CodeUnsupportedOption},
		{"by and level", &Request{Table: json.RawMessage(boroughTable), By: "borough", Level: 0.0}, dserrors.CodeConflictingKeys},
		{"unknown column", &Request{Table: json.RawMessage(boroughTable), By: "nope"}, dserrors.CodeUnknownColumn},
		{"bad reducer", &Request{Table: json.RawMessage(boroughTable), AggFunc: json.RawMessage(`{"pop": "mode"}`)}, dserrors.CodeUnsupportedOption},
		{"bad table", &Request{Table: json.RawMessage(`{"columns": 3}`)}, dserrors.CodeDecodeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Dissolve(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, dserrors.GetCode(err), "error: %v", err)
		})
	}
}

func TestDissolve_DefaultsFromConfig(t *testing.T) {
	defaults := config.DefaultConfig().Dissolve
	defaults.AsIndex = false
	svc := newService(t, WithDefaults(defaults))

	resp, err := svc.Dissolve(context.Background(), &Request{Table: json.RawMessage(boroughTable), By: "borough"})
	require.NoError(t, err)
	tbl := decodeResult(t, resp)
	assert.True(t, tbl.Index.Range)
	_, ok := tbl.Column("borough")
	assert.True(t, ok)
}

func TestParseBy(t *testing.T) {
	got, err := ParseBy("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got)

	got, err = ParseBy([]any{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	got, err = ParseBy(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = ParseBy([]any{"a", 1.0})
	assert.Error(t, err)
	_, err = ParseBy(3.0)
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	got, err := ParseLevel(1.0)
	require.NoError(t, err)
	assert.Equal(t, []grouper.LevelRef{grouper.LevelAt(1)}, got)

	got, err = ParseLevel([]any{0.0, "state", json.Number("-1")})
	require.NoError(t, err)
	assert.Equal(t, []grouper.LevelRef{grouper.LevelAt(0), grouper.LevelNamed("state"), grouper.LevelAt(-1)}, got)

	_, err = ParseLevel(1.5)
	assert.Error(t, err)
	_, err = ParseLevel(true)
	assert.Error(t, err)
}

func TestParseAggFunc(t *testing.T) {
	spec, err := ParseAggFunc(nil)
	require.NoError(t, err)
	assert.True(t, spec.IsDefault())

	spec, err = ParseAggFunc(json.RawMessage(`"mean"`))
	require.NoError(t, err)
	require.NotNil(t, spec.All)
	assert.Equal(t, "mean", spec.All.Name())

	spec, err = ParseAggFunc(json.RawMessage(`[{"column": "b", "func": "sum"}, {"column": "a", "func": ["min"]}]`))
	require.NoError(t, err)
	require.Len(t, spec.Columns, 2)
	assert.Equal(t, "b", spec.Columns[0].Column)
	assert.True(t, spec.Columns[1].List)

	_, err = ParseAggFunc(json.RawMessage(`{"a": 3}`))
	assert.Error(t, err)
	_, err = ParseAggFunc(json.RawMessage(`{"a": []}`))
	assert.Error(t, err)
	_, err = ParseAggFunc(json.RawMessage(`7`))
	assert.Error(t, err)
}

func TestDecodeOptions(t *testing.T) {
	opts, err := DecodeOptions(map[string]any{"dropna": "0", "grid_size": "0.5", "observed": true})
	require.NoError(t, err)
	require.NotNil(t, opts.DropNA)
	assert.False(t, *opts.DropNA)
	assert.Equal(t, 0.5, *opts.GridSize)

	resolved, err := opts.Apply(config.DefaultConfig().Dissolve)
	require.NoError(t, err)
	assert.False(t, resolved.DropNA)
	assert.True(t, resolved.Observed)
	assert.True(t, resolved.Sort)
	require.NotNil(t, resolved.GridSize)
	assert.Equal(t, 0.5, *resolved.GridSize)
}
