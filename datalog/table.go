package datalog

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/thermofluids/flowloop/mathx"
)

// DefaultDisplayLength is the number of rows a Table shows
const DefaultDisplayLength = 10

// Table prints the last Length rows of the stream to W after each record,
// a rolling console view of the run.  If Columns is empty, all columns of the
// first record are shown.
type Table struct {
	W       io.Writer
	Length  int
	Columns []string

	// Unit is the rounding unit of displayed values
	Unit float64

	rows []Row
}

// NewTable returns a Table showing length rows of columns
func NewTable(w io.Writer, length int, columns []string) *Table {
	if length <= 0 {
		length = DefaultDisplayLength
	}
	return &Table{W: w, Length: length, Columns: columns, Unit: 0.001}
}

// Write implements Sink
func (t *Table) Write(rec Record) error {
	if len(t.Columns) == 0 {
		t.Columns = rec.Columns()
	}
	t.rows = append(t.rows, rec.Rows...)
	if over := len(t.rows) - t.Length; over > 0 {
		t.rows = append(t.rows[:0:0], t.rows[over:]...)
	}
	_, err := io.WriteString(t.W, t.Render(rec))
	return err
}

// Render formats the buffered rows with a heading for rec
func (t *Table) Render(rec Record) string {
	cells := make([][]string, 0, len(t.rows)+1)
	head := append([]string{"time"}, t.Columns...)
	cells = append(cells, head)
	for _, row := range t.rows {
		line := make([]string, len(head))
		line[0] = row.Time.Format("15:04:05.000")
		for i, c := range t.Columns {
			v, ok := row.Values[c]
			if !ok {
				line[i+1] = "-"
				continue
			}
			line[i+1] = strconv.FormatFloat(mathx.Round(v, t.Unit), 'f', -1, 64)
		}
		cells = append(cells, line)
	}

	widths := make([]int, len(head))
	for _, line := range cells {
		for i, c := range line {
			if w := runewidth.StringWidth(c); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "run %s  cycle %d  %s\n", rec.Run, rec.Cycle, rec.State)
	for j, line := range cells {
		for i, c := range line {
			if i > 0 {
				b.WriteString("  ")
			}
			if i == 0 {
				b.WriteString(runewidth.FillRight(c, widths[i]))
			} else {
				b.WriteString(runewidth.FillLeft(c, widths[i]))
			}
		}
		b.WriteByte('\n')
		if j == 0 {
			total := 0
			for _, w := range widths {
				total += w
			}
			b.WriteString(strings.Repeat("-", total+2*(len(widths)-1)))
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Flush implements Sink
func (t *Table) Flush() error { return nil }

// Close implements Sink
func (t *Table) Close() error { return nil }
