package datalog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/thermofluids/flowloop/device"
)

// CSV appends rows to one file per process state, {run}_{SS|USS}.csv in Dir.
// Rows are buffered and written every SaveLength rows or on Flush.  The
// column set is fixed by the first record written to each file.
type CSV struct {
	Dir        string
	Run        string
	SaveLength int

	pending map[device.ProcessState][]Row
	columns map[device.ProcessState][]string
}

// NewCSV returns a CSV sink writing into dir
func NewCSV(dir, run string, saveLength int) *CSV {
	return &CSV{
		Dir:        dir,
		Run:        run,
		SaveLength: saveLength,
		pending:    map[device.ProcessState][]Row{},
		columns:    map[device.ProcessState][]string{},
	}
}

// Path returns the file rows of a state are written to
func (c *CSV) Path(s device.ProcessState) string {
	return filepath.Join(c.Dir, fmt.Sprintf("%s_%s.csv", c.Run, s))
}

// Write implements Sink
func (c *CSV) Write(rec Record) error {
	if _, ok := c.columns[rec.State]; !ok {
		c.columns[rec.State] = rec.Columns()
	}
	c.pending[rec.State] = append(c.pending[rec.State], rec.Rows...)
	if len(c.pending[rec.State]) >= c.SaveLength {
		return c.save(rec.State)
	}
	return nil
}

// Flush implements Sink
func (c *CSV) Flush() error {
	for _, s := range []device.ProcessState{device.Unsteady, device.Steady} {
		if err := c.save(s); err != nil {
			return err
		}
	}
	return nil
}

// Close implements Sink
func (c *CSV) Close() error {
	return c.Flush()
}

func (c *CSV) save(s device.ProcessState) error {
	rows := c.pending[s]
	if len(rows) == 0 {
		return nil
	}
	path := c.Path(s)
	_, statErr := os.Stat(path)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	cols := c.columns[s]
	if os.IsNotExist(statErr) {
		if err := w.Write(append([]string{"time"}, cols...)); err != nil {
			return err
		}
	}
	rec := make([]string, len(cols)+1)
	for _, row := range rows {
		rec[0] = row.Time.Format(time.RFC3339Nano)
		for i, col := range cols {
			v, ok := row.Values[col]
			if ok {
				rec[i+1] = strconv.FormatFloat(v, 'g', -1, 64)
			} else {
				rec[i+1] = ""
			}
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	c.pending[s] = nil
	return nil
}
