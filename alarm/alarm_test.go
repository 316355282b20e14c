package alarm_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thermofluids/flowloop/alarm"
)

func series(q string, vs ...float64) map[string][]float64 {
	return map[string][]float64{q: vs}
}

func TestHighTripsOnAnySample(t *testing.T) {
	e := alarm.NewEvaluator(alarm.Rule{Direction: alarm.High, Attribute: "T", Threshold: 120, Action: alarm.Stop})
	assert.Empty(t, e.Check("TC2", series("T", 100, 110, 119), time.Now()))

	ev := e.Check("TC2", series("T", 100, 121, 100), time.Now())
	require.Len(t, ev, 1)
	assert.Equal(t, "TC2", ev[0].Source)
	assert.Equal(t, 121., ev[0].Value)
	assert.Equal(t, alarm.Stop, ev[0].Rule.Action)
}

func TestLowTripsBelow(t *testing.T) {
	e := alarm.NewEvaluator(alarm.Rule{Direction: alarm.Low, Attribute: "P", Threshold: 0.5})
	assert.Empty(t, e.Check("PRES", series("P", 0.6, 0.7), time.Now()))
	assert.Len(t, e.Check("PRES", series("P", 0.6, 0.4), time.Now()), 1)
}

func TestHighTrendNeedsConsecutiveBursts(t *testing.T) {
	e := alarm.NewEvaluator(alarm.Rule{Direction: alarm.HighTrend, Attribute: "T", Threshold: 150, Action: alarm.Stop})
	now := time.Now()
	assert.Empty(t, e.Check("H3", series("T", 151), now))
	assert.Empty(t, e.Check("H3", series("T", 140, 152), now))
	assert.Len(t, e.Check("H3", series("T", 153), now), 1)

	// one dip resets the trend
	assert.Empty(t, e.Check("H3", series("T", 149), now))
	assert.Empty(t, e.Check("H3", series("T", 160), now))
	assert.Empty(t, e.Check("H3", series("T", 160), now))
	assert.Len(t, e.Check("H3", series("T", 160), now), 1)
}

func TestTrendHistoriesAreIndependent(t *testing.T) {
	e := alarm.NewEvaluator(
		alarm.Rule{Direction: alarm.HighTrend, Attribute: "T", Threshold: 10, Periods: 2},
		alarm.Rule{Direction: alarm.HighTrend, Attribute: "Q", Threshold: 10, Periods: 2},
	)
	now := time.Now()
	e.Check("H1", map[string][]float64{"T": {11}, "Q": {1}}, now)
	ev := e.Check("H1", map[string][]float64{"T": {11}, "Q": {11}}, now)
	require.Len(t, ev, 1)
	assert.Equal(t, "T", ev[0].Rule.Attribute)
}

func TestMissingAttributeIsSkipped(t *testing.T) {
	e := alarm.NewEvaluator(alarm.Rule{Direction: alarm.High, Attribute: "Q", Threshold: 1})
	assert.Empty(t, e.Check("S1", series("V", 100), time.Now()))
}

func TestParse(t *testing.T) {
	d, err := alarm.ParseDirection("ht")
	require.NoError(t, err)
	assert.Equal(t, alarm.HighTrend, d)
	_, err = alarm.ParseDirection("sideways")
	assert.Error(t, err)

	a, err := alarm.ParseAction("Stop")
	require.NoError(t, err)
	assert.Equal(t, alarm.Stop, a)
}
