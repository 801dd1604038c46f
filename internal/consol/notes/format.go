package notes

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Formatter renders aggregated notes.
type Formatter interface {
	Format(aggs ...Aggregation) string
}

// TextFormatter renders notes as fixed-width plain text.
type TextFormatter struct {
	// Detailed renders every column; otherwise only the consolidated column.
	Detailed bool
}

// MarkdownFormatter renders notes as Markdown tables.
type MarkdownFormatter struct {
	Detailed bool
}

func amount(v decimal.Decimal) string {
	return v.StringFixed(2)
}

// visibleColumns returns the column indexes to render.
func visibleColumns(n Note, detailed bool) []int {
	if detailed {
		idx := make([]int, len(n.Columns))
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	return []int{len(n.Columns) - 1}
}

// Format implements Formatter.
func (f TextFormatter) Format(aggs ...Aggregation) string {
	var b strings.Builder
	for _, agg := range aggs {
		for _, note := range agg.Notes() {
			fmt.Fprintf(&b, "Note %d: %s\n", note.Number, note.Title)
			fmt.Fprintf(&b, "%s / %s\n", note.Class, note.Subclass)
			if note.Single && !f.Detailed {
				fmt.Fprintf(&b, "  %s: %s\n\n", note.Rows[0].Label, amount(note.Amount()))
				continue
			}
			cols := visibleColumns(note, f.Detailed)
			header := []string{""}
			for _, i := range cols {
				header = append(header, note.Columns[i].Label)
			}
			table := [][]string{header}
			for _, row := range append(append([]Row(nil), note.Rows...), note.Total) {
				cells := []string{row.Label}
				for _, i := range cols {
					cells = append(cells, amount(row.Values[i]))
				}
				table = append(table, cells)
			}
			writeAligned(&b, table)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func writeAligned(b *strings.Builder, table [][]string) {
	widths := make([]int, len(table[0]))
	for _, row := range table {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}
	for r, row := range table {
		parts := make([]string, len(row))
		for i, cell := range row {
			if i == 0 {
				parts[i] = cell + strings.Repeat(" ", widths[i]-len(cell))
				continue
			}
			parts[i] = strings.Repeat(" ", widths[i]-len(cell)) + cell
		}
		b.WriteString("  " + strings.TrimRight(strings.Join(parts, "  "), " ") + "\n")
		if r == len(table)-2 {
			total := 0
			for _, w := range widths {
				total += w
			}
			b.WriteString("  " + strings.Repeat("-", total+2*(len(widths)-1)) + "\n")
		}
	}
}

// Format implements Formatter.
func (f MarkdownFormatter) Format(aggs ...Aggregation) string {
	var b strings.Builder
	for _, agg := range aggs {
		for _, note := range agg.Notes() {
			fmt.Fprintf(&b, "### Note %d: %s\n\n", note.Number, escapeMarkdown(note.Title))
			fmt.Fprintf(&b, "_%s / %s_\n\n", escapeMarkdown(note.Class), escapeMarkdown(note.Subclass))
			if note.Single && !f.Detailed {
				fmt.Fprintf(&b, "%s: **%s**\n\n", escapeMarkdown(note.Rows[0].Label), amount(note.Amount()))
				continue
			}
			cols := visibleColumns(note, f.Detailed)
			b.WriteString("| |")
			for _, i := range cols {
				b.WriteString(" " + escapeMarkdown(note.Columns[i].Label) + " |")
			}
			b.WriteString("\n|---|")
			b.WriteString(strings.Repeat("---:|", len(cols)))
			b.WriteString("\n")
			for _, row := range note.Rows {
				b.WriteString("| " + escapeMarkdown(row.Label) + " |")
				for _, i := range cols {
					b.WriteString(" " + amount(row.Values[i]) + " |")
				}
				b.WriteString("\n")
			}
			b.WriteString("| **Total** |")
			for _, i := range cols {
				b.WriteString(" **" + amount(note.Total.Values[i]) + "** |")
			}
			b.WriteString("\n\n")
		}
	}
	return b.String()
}

var markdownEscaper = strings.NewReplacer("|", `\|`, "*", `\*`, "_", `\_`)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
