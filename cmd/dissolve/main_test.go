package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/arkilian/dissolve/internal/config"
	"github.com/arkilian/dissolve/internal/grouper"
	"github.com/arkilian/dissolve/internal/tableio"
	"github.com/arkilian/dissolve/pkg/types"
)

const boroughsCSV = `borough,kind,pop,geometry
a,x,1,"POLYGON ((0 0, 1 0, 1 1, 0 1, 0 0))"
a,y,2,"POLYGON ((1 0, 2 0, 2 1, 1 1, 1 0))"
b,x,3,"POLYGON ((5 5, 6 5, 6 6, 5 6, 5 5))"
`

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeInput(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "boroughs.csv")
	if err := os.WriteFile(path, []byte(boroughsCSV), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunWritesOutput(t *testing.T) {
	in := writeInput(t)
	out := filepath.Join(filepath.Dir(in), "result.json")

	_, _, err := execute(t, "", "run", "--input", in, "--by", "borough", "--agg", "pop=sum", "--output", out)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	tbl, err := tableio.ReadFile(context.Background(), out, tableio.ReadOptions{})
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if tbl.NumRows() != 2 {
		t.Fatalf("rows = %d, want 2", tbl.NumRows())
	}
	pop, ok := tbl.Column("pop")
	if !ok {
		t.Fatalf("pop missing: %v", tbl.Labels())
	}
	if pop.Values[0] != int64(3) || pop.Values[1] != int64(3) {
		t.Errorf("pop = %v", pop.Values)
	}
}

func TestRunPrintsJSONWhenNotATerminal(t *testing.T) {
	in := writeInput(t)
	stdout, _, err := execute(t, "", "run", "--input", in, "--by", "borough,kind", "--as-index=false", "--agg", "first")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	tbl, err := tableio.UnmarshalTable([]byte(stdout))
	if err != nil {
		t.Fatalf("stdout is not a JSON table: %v\n%s", err, stdout)
	}
	if tbl.NumRows() != 3 || !tbl.Index.Range {
		t.Errorf("rows = %d, range = %v", tbl.NumRows(), tbl.Index.Range)
	}
	if l := tbl.Labels(); l[0].Name != "borough" || l[1].Name != "kind" || l[2].Name != "geometry" {
		t.Errorf("labels = %v", l)
	}
}

func TestRunReadsStdin(t *testing.T) {
	doc := `{"geometry": "geometry", "columns": [
		{"name": "k", "values": ["a", "a"]},
		{"name": "geometry", "values": ["POINT (0 0)", "POINT (1 1)"]}
	]}`
	stdout, _, err := execute(t, doc, "run", "--by", "k")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(stdout, "MULTIPOINT") {
		t.Errorf("expected merged points:\n%s", stdout)
	}
}

func TestRunCategorical(t *testing.T) {
	in := writeInput(t)
	stdout, _, err := execute(t, "", "run", "--input", in, "--by", "kind",
		"--categorical", "kind=x|y|z", "--observed=false", "--agg", "pop=count")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	tbl, err := tableio.UnmarshalTable([]byte(stdout))
	if err != nil {
		t.Fatal(err)
	}
	if tbl.NumRows() != 3 {
		t.Errorf("unobserved category z should produce a group, rows = %d", tbl.NumRows())
	}
}

func TestRunErrors(t *testing.T) {
	in := writeInput(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown column", []string{"--by", "nope"}, "nope"},
		{"bad reducer", []string{"--by", "borough", "--agg", "pop=mode"}, "mode"},
		{"bad method", []string{"--by", "borough", "--method", "fast"}, "fast"},
		{"bad categorical", []string{"--by", "kind", "--categorical", "kind"}, "categorical"},
		{"by and level", []string{"--by", "borough", "--level", "0"}, "CONFLICTING_KEYS"},
		{"bad format", []string{"--by", "borough", "--format", "xlsx"}, "xlsx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"run", "--input", in}, tt.args...)
			_, _, err := execute(t, "", args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestRunMissingInput(t *testing.T) {
	_, _, err := execute(t, "", "run", "--input", filepath.Join(t.TempDir(), "missing.csv"), "--by", "a")
	if err == nil || !strings.Contains(err.Error(), "OBJECT_NOT_FOUND") {
		t.Errorf("err = %v", err)
	}
}

func TestRunUsesConfigDefaults(t *testing.T) {
	in := writeInput(t)
	cfgPath := filepath.Join(t.TempDir(), "dissolve.yaml")
	if err := os.WriteFile(cfgPath, []byte("dissolve:\n  as_index: false\n"), 0644); err != nil {
		t.Fatal(err)
	}
	stdout, _, err := execute(t, "", "--config", cfgPath, "run", "--input", in, "--by", "borough")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	tbl, err := tableio.UnmarshalTable([]byte(stdout))
	if err != nil {
		t.Fatal(err)
	}
	if !tbl.Index.Range {
		t.Error("config as_index=false should apply")
	}
}

func TestEngineOptionsOnlyOverridesChangedFlags(t *testing.T) {
	cmd := newRunCmd()
	if err := cmd.ParseFlags([]string{"--sort=false", "--grid-size", "0.5", "--level", "0,state"}); err != nil {
		t.Fatal(err)
	}
	defaults := config.DefaultConfig().Dissolve
	defaults.DropNA = false
	defaults.Method = string(types.UnionCoverage)

	ro := runOptions{level: []string{"0", "state"}}
	opts, err := engineOptions(cmd.Flags(), ro, defaults)
	if err != nil {
		t.Fatalf("engineOptions: %v", err)
	}
	if opts.Sort {
		t.Error("--sort=false ignored")
	}
	if opts.DropNA {
		t.Error("unset --dropna overrode the configured default")
	}
	if opts.Method != types.UnionCoverage {
		t.Errorf("method = %q", opts.Method)
	}
	if opts.GridSize == nil || *opts.GridSize != 0.5 {
		t.Errorf("grid size = %v", opts.GridSize)
	}
	want := []grouper.LevelRef{grouper.LevelAt(0), grouper.LevelNamed("state")}
	if len(opts.Level) != 2 || opts.Level[0] != want[0] || opts.Level[1] != want[1] {
		t.Errorf("levels = %v", opts.Level)
	}
}

func TestVersion(t *testing.T) {
	stdout, _, err := execute(t, "", "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(stdout, "dissolve version dev") {
		t.Errorf("version output = %q", stdout)
	}
}
