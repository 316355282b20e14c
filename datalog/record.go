// Package datalog records one row per sample of every cycle and writes the
// rows to any number of sinks: CSV files per process state, FITS tables of
// each steady block, MQTT telemetry and a rolling console table.
package datalog

import (
	"sort"
	"time"

	"github.com/thermofluids/flowloop/device"
)

// Row is one sample time of a cycle.  Values are keyed "{device}.{attribute}".
type Row struct {
	Time   time.Time          `json:"time"`
	Values map[string]float64 `json:"values"`
}

// Record is everything logged for one cycle
type Record struct {
	Run   string              `json:"run"`
	Cycle int                 `json:"cycle"`
	State device.ProcessState `json:"state"`
	Rows  []Row               `json:"rows"`
}

// Columns returns the sorted union of value keys across the rows
func (r Record) Columns() []string {
	seen := map[string]struct{}{}
	for _, row := range r.Rows {
		for k := range row.Values {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SeriesSource is a device publishing per-sample series, e.g. a sensor
type SeriesSource interface {
	Name() string
	Series() map[string][]float64
}

// ScalarSource is a device publishing one value per attribute, e.g. an actuator
type ScalarSource interface {
	Name() string
	Values() map[string]float64
}

// Interpolate returns n timestamps evenly spaced from first to last.  A single
// sample is stamped with last.
func Interpolate(first, last time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	out := make([]time.Time, n)
	if n == 1 {
		out[0] = last
		return out
	}
	step := last.Sub(first) / time.Duration(n-1)
	for i := range out {
		out[i] = first.Add(time.Duration(i) * step)
	}
	out[n-1] = last
	return out
}

// Rows flattens the series and scalars of one cycle into rows.  The row count
// is the longest series; shorter series repeat their last sample and scalars
// repeat on every row.
func Rows(first, last time.Time, series []SeriesSource, scalars []ScalarSource) []Row {
	n := 1
	snap := make([]map[string][]float64, len(series))
	for i, s := range series {
		snap[i] = s.Series()
		for _, vs := range snap[i] {
			if len(vs) > n {
				n = len(vs)
			}
		}
	}
	times := Interpolate(first, last, n)
	rows := make([]Row, n)
	for k := range rows {
		rows[k] = Row{Time: times[k], Values: map[string]float64{}}
	}
	for i, s := range series {
		for attr, vs := range snap[i] {
			if len(vs) == 0 {
				continue
			}
			key := s.Name() + "." + attr
			for k := range rows {
				j := k
				if j >= len(vs) {
					j = len(vs) - 1
				}
				rows[k].Values[key] = vs[j]
			}
		}
	}
	for _, s := range scalars {
		for attr, v := range s.Values() {
			key := s.Name() + "." + attr
			for k := range rows {
				rows[k].Values[key] = v
			}
		}
	}
	return rows
}
