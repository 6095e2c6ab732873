package grouper

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	dserrors "github.com/arkilian/dissolve/internal/errors"
	"github.com/arkilian/dissolve/pkg/types"
)

type wkt string

func (w wkt) IsEmpty() bool  { return w == "" }
func (w wkt) AsText() string { return string(w) }

func points(n int) *types.Column {
	geoms := make([]types.Geometry, n)
	for i := range geoms {
		geoms[i] = wkt("POINT (0 0)")
	}
	return types.NewGeometryColumn("geometry", geoms...)
}

func mustTable(t *testing.T, cols ...*types.Column) *types.Table {
	t.Helper()
	n := 0
	if len(cols) > 0 {
		n = cols[0].Len()
	}
	tbl, err := types.NewTable("geometry", append(cols, points(n))...)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return tbl
}

func keysOf(p *Partition) [][]any {
	out := make([][]any, len(p.Groups))
	for i, g := range p.Groups {
		out[i] = g.Key
	}
	return out
}

func TestGroup_SortOrder(t *testing.T) {
	tbl := mustTable(t, types.NewColumn("a", types.KindInt, 2, 1, 1))
	g := NewHashGrouper()

	opts := DefaultOptions()
	p, err := g.Group(tbl, ByColumns("a"), opts)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if want := [][]any{{int64(1)}, {int64(2)}}; !reflect.DeepEqual(keysOf(p), want) {
		t.Errorf("sorted keys = %v, want %v", keysOf(p), want)
	}
	if !reflect.DeepEqual(p.Groups[0].Rows, []int{1, 2}) {
		t.Errorf("rows of key 1 = %v", p.Groups[0].Rows)
	}

	opts.Sort = false
	p, err = g.Group(tbl, ByColumns("a"), opts)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if want := [][]any{{int64(2)}, {int64(1)}}; !reflect.DeepEqual(keysOf(p), want) {
		t.Errorf("unsorted keys = %v, want %v", keysOf(p), want)
	}
}

func TestGroup_DropNA(t *testing.T) {
	tbl := mustTable(t, types.NewColumn("a", types.KindFloat, 1.0, 1.0, nil))
	g := NewHashGrouper()

	p, err := g.Group(tbl, ByColumns("a"), DefaultOptions())
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if len(p.Groups) != 1 {
		t.Fatalf("dropna=true: got %d groups, want 1", len(p.Groups))
	}

	opts := DefaultOptions()
	opts.DropNA = false
	p, err = g.Group(tbl, ByColumns("a"), opts)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if want := [][]any{{1.0}, {nil}}; !reflect.DeepEqual(keysOf(p), want) {
		t.Errorf("dropna=false keys = %v, want %v", keysOf(p), want)
	}
}

func TestGroup_NoNullKeysAlwaysDrops(t *testing.T) {
	tbl := mustTable(t, types.NewColumn("a", types.KindFloat, 1.0, nil))
	g := &HashGrouper{NoNullKeys: true}
	if g.SupportsNullKeys() {
		t.Fatal("SupportsNullKeys should be false")
	}
	opts := DefaultOptions()
	opts.DropNA = false
	p, err := g.Group(tbl, ByColumns("a"), opts)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if len(p.Groups) != 1 {
		t.Errorf("got %d groups, want 1", len(p.Groups))
	}
}

func TestGroup_NoKeys(t *testing.T) {
	tbl := mustTable(t, types.NewColumn("a", types.KindInt, 3, 1, 2))
	p, err := NewHashGrouper().Group(tbl, KeySpec{}, DefaultOptions())
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if len(p.Groups) != 1 || len(p.Keys) != 0 {
		t.Fatalf("got %d groups / %d keys, want 1 / 0", len(p.Groups), len(p.Keys))
	}
	if !reflect.DeepEqual(p.Groups[0].Rows, []int{0, 1, 2}) {
		t.Errorf("rows = %v", p.Groups[0].Rows)
	}

	empty := mustTable(t, types.NewColumn("a", types.KindInt))
	p, err = NewHashGrouper().Group(empty, KeySpec{}, DefaultOptions())
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if len(p.Groups) != 0 {
		t.Errorf("empty table produced %d groups", len(p.Groups))
	}
}

func TestGroup_CategoricalExpansion(t *testing.T) {
	tbl := mustTable(t,
		types.NewCategorical("cat", []any{"a", "b"}, "a", "a", "b", "b"),
		types.NewColumn("noncat", types.KindInt, 1, 1, 1, 2),
	)
	g := NewHashGrouper()

	p, err := g.Group(tbl, ByColumns("cat", "noncat"), DefaultOptions())
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	want := [][]any{{"a", int64(1)}, {"a", int64(2)}, {"b", int64(1)}, {"b", int64(2)}}
	if !reflect.DeepEqual(keysOf(p), want) {
		t.Errorf("observed=false keys = %v, want %v", keysOf(p), want)
	}
	if len(p.Groups[1].Rows) != 0 {
		t.Errorf("synthetic group should be empty, got rows %v", p.Groups[1].Rows)
	}

	opts := DefaultOptions()
	opts.Observed = true
	p, err = g.Group(tbl, ByColumns("cat", "noncat"), opts)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	want = [][]any{{"a", int64(1)}, {"b", int64(1)}, {"b", int64(2)}}
	if !reflect.DeepEqual(keysOf(p), want) {
		t.Errorf("observed=true keys = %v, want %v", keysOf(p), want)
	}
}

func TestGroup_CategoricalUnusedCategory(t *testing.T) {
	tbl := mustTable(t, types.NewCategorical("cat", []any{"z", "y", "x"}, "x", "z"))
	p, err := NewHashGrouper().Group(tbl, ByColumns("cat"), DefaultOptions())
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	// Category order, not lexical order.
	want := [][]any{{"z"}, {"y"}, {"x"}}
	if !reflect.DeepEqual(keysOf(p), want) {
		t.Errorf("keys = %v, want %v", keysOf(p), want)
	}
}

func TestGroup_Levels(t *testing.T) {
	tbl := mustTable(t,
		types.NewColumn("a", types.KindInt, 1, 1, 2, 2),
		types.NewColumn("b", types.KindInt, 3, 4, 4, 4),
		types.NewColumn("c", types.KindInt, 3, 4, 5, 6),
	)
	if err := tbl.SetIndex("a", "b", "c"); err != nil {
		t.Fatalf("SetIndex: %v", err)
	}
	g := NewHashGrouper()

	byPos, err := g.Group(tbl, ByLevels(LevelAt(0), LevelAt(1)), DefaultOptions())
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	byName, err := g.Group(tbl, ByLevels(LevelNamed("a"), LevelNamed("b")), DefaultOptions())
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if !reflect.DeepEqual(byPos.Groups, byName.Groups) {
		t.Errorf("position and name grouping differ: %v vs %v", byPos.Groups, byName.Groups)
	}
	want := [][]any{{int64(1), int64(3)}, {int64(1), int64(4)}, {int64(2), int64(4)}}
	if !reflect.DeepEqual(keysOf(byPos), want) {
		t.Errorf("keys = %v, want %v", keysOf(byPos), want)
	}
	if !byPos.Keys[0].FromLevel || byPos.Keys[1].Name != "b" {
		t.Errorf("unexpected key description %+v", byPos.Keys)
	}
}

func TestGroup_Errors(t *testing.T) {
	tbl := mustTable(t, types.NewColumn("a", types.KindInt, 1))
	g := NewHashGrouper()

	tests := []struct {
		name string
		spec KeySpec
		code string
	}{
		{"conflicting", KeySpec{By: []string{"a"}, Levels: []LevelRef{LevelAt(0)}}, dserrors.CodeConflictingKeys},
		{"unknown column", ByColumns("missing"), dserrors.CodeUnknownColumn},
		{"geometry key", ByColumns("geometry"), dserrors.CodeUnknownColumn},
		{"unknown level name", ByLevels(LevelNamed("x")), dserrors.CodeUnknownLevel},
		{"level out of range", ByLevels(LevelAt(3)), dserrors.CodeUnknownLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Group(tbl, tt.spec, DefaultOptions())
			if dserrors.GetCode(err) != tt.code {
				t.Errorf("got %v, want code %s", err, tt.code)
			}
		})
	}
}

func TestProperty_GroupsPartitionRows(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("every row lands in exactly one group", prop.ForAll(
		func(keys []int, sorted bool) bool {
			values := make([]any, len(keys))
			for i, k := range keys {
				values[i] = k
			}
			tbl, err := types.NewTable("geometry", types.NewColumn("k", types.KindInt, values...), points(len(keys)))
			if err != nil {
				return false
			}
			opts := DefaultOptions()
			opts.Sort = sorted
			p, err := NewHashGrouper().Group(tbl, ByColumns("k"), opts)
			if err != nil {
				return false
			}
			seen := make([]int, len(keys))
			for _, g := range p.Groups {
				for _, r := range g.Rows {
					seen[r]++
					if types.Compare(int64(keys[r]), g.Key[0]) != 0 {
						return false
					}
				}
			}
			for _, c := range seen {
				if c != 1 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 5)),
		gen.Bool(),
	))

	properties.Property("sort=true yields ascending keys", prop.ForAll(
		func(keys []int) bool {
			values := make([]any, len(keys))
			for i, k := range keys {
				values[i] = k
			}
			tbl, err := types.NewTable("geometry", types.NewColumn("k", types.KindInt, values...), points(len(keys)))
			if err != nil {
				return false
			}
			p, err := NewHashGrouper().Group(tbl, ByColumns("k"), DefaultOptions())
			if err != nil {
				return false
			}
			for i := 1; i < len(p.Groups); i++ {
				if types.Compare(p.Groups[i-1].Key[0], p.Groups[i].Key[0]) >= 0 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(-10, 10)),
	))

	properties.TestingRun(t)
}
