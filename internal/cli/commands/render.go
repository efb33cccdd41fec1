package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/leapstack-labs/harmonize/pkg/value"
	"golang.org/x/term"
)

// Output formats.
const (
	FormatAuto     = "auto"
	FormatTable    = "table"
	FormatJSON     = "json"
	FormatCSV      = "csv"
	FormatMarkdown = "markdown"
)

// grid is tabular command output. A nil cell is a null.
type grid struct {
	header []string
	rows   [][]any
}

func newGrid(header ...string) *grid {
	return &grid{header: header}
}

func (g *grid) append(cells ...any) {
	g.rows = append(g.rows, cells)
}

// cell converts a value for output: nil for nulls, its text otherwise.
func cell(v value.Value) any {
	if v.IsNull() {
		return nil
	}
	return v.String()
}

// effectiveFormat resolves auto: a table on a terminal, markdown when piped.
func effectiveFormat(format string, w io.Writer) string {
	if format != "" && format != FormatAuto {
		return format
	}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return FormatTable
	}
	return FormatMarkdown
}

func renderGrid(w io.Writer, format string, g *grid) error {
	switch effectiveFormat(format, w) {
	case FormatJSON:
		return renderJSON(w, g)
	case FormatCSV:
		t := prettyTable(w, g, "")
		t.RenderCSV()
	case FormatMarkdown:
		if len(g.rows) == 0 {
			_, _ = fmt.Fprintln(w, "(0 rows)")
			return nil
		}
		t := prettyTable(w, g, "NULL")
		t.RenderMarkdown()
	default:
		if len(g.rows) == 0 {
			_, _ = fmt.Fprintln(w, "(0 rows)")
			return nil
		}
		t := prettyTable(w, g, "NULL")
		t.SetStyle(table.StyleLight)
		t.Render()
		_, _ = fmt.Fprintf(w, "(%d rows)\n", len(g.rows))
	}
	return nil
}

func prettyTable(w io.Writer, g *grid, null string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)

	header := make(table.Row, len(g.header))
	for i, col := range g.header {
		header[i] = col
	}
	t.AppendHeader(header)

	for _, cells := range g.rows {
		row := make(table.Row, len(cells))
		for i, c := range cells {
			if c == nil {
				row[i] = null
			} else {
				row[i] = c
			}
		}
		t.AppendRow(row)
	}
	return t
}

func renderJSON(w io.Writer, g *grid) error {
	results := make([]map[string]any, len(g.rows))
	for i, cells := range g.rows {
		row := make(map[string]any, len(g.header))
		for j, col := range g.header {
			row[col] = cells[j]
		}
		results[i] = row
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}
