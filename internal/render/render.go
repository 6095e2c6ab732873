// Package render formats dissolve results for terminals.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/arkilian/dissolve/internal/dissolve"
	"github.com/arkilian/dissolve/pkg/types"
)

// maxCellWidth truncates long cells such as WKT geometries.
const maxCellWidth = 48

// Options controls rendering.
type Options struct {
	// MaxRows limits the rows shown; zero shows every row.
	MaxRows int
	// Width wraps rendered output; zero disables wrapping.
	Width int
	// Style is a glamour style name such as "dark", "light" or "notty".
	// Empty selects the style from the terminal background.
	Style string
}

// Markdown returns the result as a markdown document: one table with the
// index levels first, followed by the warnings.
func Markdown(res *dissolve.Result, maxRows int) string {
	var b strings.Builder
	t := res.Table
	fmt.Fprintf(&b, "**%d groups**", res.Groups)
	if t.CRS != "" {
		fmt.Fprintf(&b, " · CRS `%s`", t.CRS)
	}
	b.WriteString("\n\n")

	var header []string
	var cols [][]any
	if !t.Index.Range {
		for i, lvl := range t.Index.Levels {
			name := lvl.Name()
			if name == "" {
				name = fmt.Sprintf("level_%d", i)
			}
			header = append(header, name)
			cols = append(cols, lvl.Values)
		}
	}
	for _, c := range t.Columns {
		header = append(header, c.Label.String())
		cols = append(cols, c.Values)
	}

	if len(header) > 0 {
		writeRow(&b, header)
		sep := make([]string, len(header))
		for i := range sep {
			sep[i] = "---"
		}
		writeRow(&b, sep)

		rows := t.NumRows()
		shown := rows
		if maxRows > 0 && rows > maxRows {
			shown = maxRows
		}
		cells := make([]string, len(cols))
		for r := 0; r < shown; r++ {
			for i, values := range cols {
				cells[i] = cell(values[r])
			}
			writeRow(&b, cells)
		}
		if shown < rows {
			fmt.Fprintf(&b, "\n_%d more rows_\n", rows-shown)
		}
	}

	if len(res.Warnings) > 0 {
		b.WriteString("\n### Warnings\n\n")
		for _, w := range res.Warnings {
			fmt.Fprintf(&b, "- %s\n", escape(w.String()))
		}
	}
	return b.String()
}

func writeRow(b *strings.Builder, cells []string) {
	b.WriteString("| ")
	b.WriteString(strings.Join(cells, " | "))
	b.WriteString(" |\n")
}

func cell(v any) string {
	if types.IsNull(v) {
		return "_null_"
	}
	s := types.FormatValue(v)
	if r := []rune(s); len(r) > maxCellWidth {
		s = string(r[:maxCellWidth-1]) + "…"
	}
	return escape(s)
}

var escaper = strings.NewReplacer("|", `\|`, "\n", " ", "*", `\*`, "_", `\_`)

func escape(s string) string {
	return escaper.Replace(s)
}

// Terminal renders the result with glamour.
func Terminal(res *dissolve.Result, opts Options) (string, error) {
	styleOpt := glamour.WithAutoStyle()
	if opts.Style != "" {
		styleOpt = glamour.WithStandardStyle(opts.Style)
	}
	ropts := []glamour.TermRendererOption{styleOpt}
	if opts.Width > 0 {
		ropts = append(ropts, glamour.WithWordWrap(opts.Width))
	}
	r, err := glamour.NewTermRenderer(ropts...)
	if err != nil {
		return "", fmt.Errorf("create renderer: %w", err)
	}
	return r.Render(Markdown(res, opts.MaxRows))
}
