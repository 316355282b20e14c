package datalog

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/thermofluids/flowloop/device"
)

// FITS archives each steady block as a binary table, one file per block
// named {run}_SS_{block}.fits.  Unsteady records are ignored.
type FITS struct {
	Dir string
	Run string

	block   int
	columns []string
	rows    []Row
}

// NewFITS returns a FITS sink writing into dir
func NewFITS(dir, run string) *FITS {
	return &FITS{Dir: dir, Run: run}
}

// Write implements Sink
func (f *FITS) Write(rec Record) error {
	if rec.State != device.Steady {
		return nil
	}
	if f.columns == nil {
		f.columns = rec.Columns()
	}
	f.rows = append(f.rows, rec.Rows...)
	return nil
}

// Flush writes the buffered block, if any, to a new file
func (f *FITS) Flush() error {
	if len(f.rows) == 0 {
		return nil
	}
	f.block++
	path := filepath.Join(f.Dir, fmt.Sprintf("%s_SS_%03d.fits", f.Run, f.block))
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	defer fh.Close()
	err = WriteTable(fh, f.Run, f.block, f.columns, f.rows)
	f.rows = nil
	f.columns = nil
	return err
}

// Close implements Sink
func (f *FITS) Close() error {
	return f.Flush()
}

// WriteTable streams a FITS file with an empty primary HDU carrying the run
// metadata and a binary table with a TIME column (unix seconds) followed by
// columns
func WriteTable(w io.Writer, run string, block int, columns []string, rows []Row) error {
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()

	prim := fitsio.NewImage(8, nil)
	defer prim.Close()
	err = prim.Header().Append(
		fitsio.Card{Name: "RUN", Value: run, Comment: "run identifier"},
		fitsio.Card{Name: "BLOCK", Value: block, Comment: "steady block number"},
		fitsio.Card{Name: "DATE", Value: time.Now().UTC().Format(time.RFC3339), Comment: "file creation time"},
	)
	if err != nil {
		return err
	}
	err = fits.Write(prim)
	if err != nil {
		return err
	}

	cols := make([]fitsio.Column, 0, len(columns)+1)
	cols = append(cols, fitsio.Column{Name: "TIME", Format: "D", Unit: "s"})
	for _, c := range columns {
		cols = append(cols, fitsio.Column{Name: c, Format: "D"})
	}
	tbl, err := fitsio.NewTable("STEADY", cols, fitsio.BINARY_TBL)
	if err != nil {
		return err
	}
	defer tbl.Close()

	vals := make([]float64, len(cols))
	args := make([]interface{}, len(cols))
	for i := range vals {
		args[i] = &vals[i]
	}
	for _, row := range rows {
		vals[0] = float64(row.Time.UnixNano()) / 1e9
		for i, c := range columns {
			v, ok := row.Values[c]
			if !ok {
				v = math.NaN()
			}
			vals[i+1] = v
		}
		if err := tbl.Write(args...); err != nil {
			return err
		}
	}
	return fits.Write(tbl)
}
