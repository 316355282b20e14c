// Package util contains misc internal utilities.
package util

import (
	"math"
	"strconv"
	"strings"
)

// IntSliceToCSV joins ints with commas, e.g. []int{101,102,115} => "101,102,115"
func IntSliceToCSV(is []int) string {
	s := make([]string, len(is))
	for i, v := range is {
		s[i] = strconv.Itoa(v)
	}
	return strings.Join(s, ",")
}

// Clamp limits x to the closed interval [low, high].  NaN passes through;
// callers which command hardware screen it with mathx.Finite first.
func Clamp(x, low, high float64) float64 {
	return math.Max(low, math.Min(x, high))
}
