package util_test

import (
	"fmt"
	"math"
	"testing"

	"github.com/thermofluids/flowloop/util"
)

func ExampleIntSliceToCSV() {
	fmt.Println(util.IntSliceToCSV([]int{101, 102, 115}))
	// Output: 101,102,115
}

func TestIntSliceToCSVEmpty(t *testing.T) {
	if out := util.IntSliceToCSV(nil); out != "" {
		t.Errorf("expected empty string for no channels, got %q", out)
	}
}

func TestClampHigh(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = 20.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != high {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestClampLow(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = -1.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != low {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestClampUnbounded(t *testing.T) {
	clamped := util.Clamp(5, math.Inf(-1), math.Inf(1))
	if clamped != 5 {
		t.Errorf("expected in range value to pass through unbounded clamp, got %f", clamped)
	}
}
