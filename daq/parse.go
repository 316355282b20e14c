package daq

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/thermofluids/flowloop/util"
)

// ScanList formats channels as an SCPI channel list, e.g. (@101,102,110)
func ScanList(channels []int) string {
	chs := append([]int(nil), channels...)
	sort.Ints(chs)
	return "(@" + util.IntSliceToCSV(chs) + ")"
}

// ParseReadings splits a comma separated dump of interleaved channel numbers
// and readings into per-channel series, in scan order.  channelFirst selects
// "ch,reading,ch,reading" over "reading,ch,reading,ch".
func ParseReadings(raw string, channelFirst bool) (map[int][]float64, error) {
	out := map[int][]float64{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out, nil
	}
	fields := strings.Split(raw, ",")
	if len(fields)%2 != 0 {
		return nil, fmt.Errorf("odd number of fields (%d) in reading dump", len(fields))
	}
	for i := 0; i < len(fields); i += 2 {
		chS, vS := fields[i], fields[i+1]
		if !channelFirst {
			chS, vS = vS, chS
		}
		ch, err := strconv.ParseFloat(strings.TrimSpace(chS), 64)
		if err != nil {
			return nil, fmt.Errorf("channel field %d: %w", i, err)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(vS), 64)
		if err != nil {
			return nil, fmt.Errorf("reading field %d: %w", i, err)
		}
		out[int(ch)] = append(out[int(ch)], v)
	}
	return out, nil
}
