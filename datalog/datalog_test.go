package datalog_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thermofluids/flowloop/control"
	"github.com/thermofluids/flowloop/daq"
	"github.com/thermofluids/flowloop/datalog"
	"github.com/thermofluids/flowloop/device"
)

type series struct {
	name string
	vals map[string][]float64
}

func (s series) Name() string                 { return s.name }
func (s series) Series() map[string][]float64 { return s.vals }

type scalars struct {
	name string
	vals map[string]float64
}

func (s scalars) Name() string               { return s.name }
func (s scalars) Values() map[string]float64 { return s.vals }

type memSink struct {
	calls   []string
	records []datalog.Record
	fail    error
}

func (m *memSink) Write(r datalog.Record) error {
	m.calls = append(m.calls, "write")
	m.records = append(m.records, r)
	return m.fail
}

func (m *memSink) Flush() error {
	m.calls = append(m.calls, "flush")
	return nil
}

func (m *memSink) Close() error {
	m.calls = append(m.calls, "close")
	return nil
}

func TestInterpolate(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(3 * time.Second)
	got := datalog.Interpolate(t0, t1, 4)
	require.Len(t, got, 4)
	for i, ts := range got {
		assert.Equal(t, t0.Add(time.Duration(i)*time.Second), ts)
	}
	one := datalog.Interpolate(t0, t1, 1)
	assert.Equal(t, []time.Time{t1}, one)
	assert.Nil(t, datalog.Interpolate(t0, t1, 0))
}

func TestRowsPadsShortSeriesAndRepeatsScalars(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src := []datalog.SeriesSource{
		series{"T1", map[string][]float64{"T": {1, 2, 3}, "V": {9}}},
	}
	sc := []datalog.ScalarSource{
		scalars{"pump", map[string]float64{"SP": 1500}},
	}
	rows := datalog.Rows(t0, t0.Add(2*time.Second), src, sc)
	require.Len(t, rows, 3)
	assert.Equal(t, 3.0, rows[2].Values["T1.T"])
	assert.Equal(t, 9.0, rows[2].Values["T1.V"])
	assert.Equal(t, 1500.0, rows[1].Values["pump.SP"])
	assert.Equal(t, t0.Add(time.Second), rows[1].Time)

	rec := datalog.Record{Rows: rows}
	assert.Equal(t, []string{"T1.T", "T1.V", "pump.SP"}, rec.Columns())
}

func TestRecorderFlushesOnStateChange(t *testing.T) {
	sink := &memSink{}
	r := datalog.NewRecorder("run", device.NewSignal(), nil, nil, nil, []datalog.Sink{sink}, nil)

	require.NoError(t, r.Record(datalog.Record{Cycle: 1, State: device.Unsteady}))
	require.NoError(t, r.Record(datalog.Record{Cycle: 2, State: device.Unsteady}))
	require.NoError(t, r.Record(datalog.Record{Cycle: 3, State: device.Steady}))
	assert.Equal(t, []string{"write", "write", "flush", "write"}, sink.calls)

	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, 3, last.Cycle)

	r.Stop()
	assert.Equal(t, "close", sink.calls[len(sink.calls)-1])
	r.Stop()
	assert.Equal(t, 5, len(sink.calls), "second stop must not close sinks again")
}

type reporter struct {
	rep control.Report
}

func (r reporter) LastReport() control.Report { return r.rep }

func TestRecorderUsesCycleReportBurst(t *testing.T) {
	sink := &memSink{}
	cycle := device.NewSignal()
	rep := reporter{rep: control.Report{Cycle: 40, Burst: daq.Info{Cycle: 12, State: device.Steady}}}
	r := datalog.NewRecorder("run", cycle, rep, nil, nil, []datalog.Sink{sink}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	cycle.Publish()
	require.Eventually(t, func() bool {
		_, ok := r.Last()
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	last, _ := r.Last()
	assert.Equal(t, 12, last.Cycle)
	assert.Equal(t, device.Steady, last.State)
	assert.Equal(t, "run", last.Run)
}

func TestRecorderReportsSinkErrors(t *testing.T) {
	bad := &memSink{fail: errors.New("disk full")}
	good := &memSink{}
	r := datalog.NewRecorder("run", device.NewSignal(), nil, nil, nil, []datalog.Sink{bad, good}, nil)
	err := r.Record(datalog.Record{})
	require.Error(t, err)
	assert.Len(t, good.records, 1)
}

func TestCSVWritesOneFilePerState(t *testing.T) {
	dir := t.TempDir()
	c := datalog.NewCSV(dir, "r1", 100)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := func(v float64) []datalog.Row {
		return []datalog.Row{{Time: t0, Values: map[string]float64{"T1.T": v, "P1.P": 2 * v}}}
	}
	require.NoError(t, c.Write(datalog.Record{State: device.Unsteady, Rows: rows(1)}))
	require.NoError(t, c.Write(datalog.Record{State: device.Steady, Rows: rows(2)}))
	require.NoError(t, c.Flush())
	require.NoError(t, c.Write(datalog.Record{State: device.Steady, Rows: rows(3)}))
	require.NoError(t, c.Close())

	f, err := os.Open(c.Path(device.Steady))
	require.NoError(t, err)
	defer f.Close()
	lines, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, lines, 3, "header written once, then two rows")
	assert.Equal(t, []string{"time", "P1.P", "T1.T"}, lines[0])
	assert.Equal(t, []string{"6", "3"}, lines[2][1:])

	_, err = os.Stat(c.Path(device.Unsteady))
	assert.NoError(t, err)
	assert.True(t, strings.HasSuffix(c.Path(device.Unsteady), "r1_USS.csv"))
}

func TestCSVSavesEverySaveLengthRows(t *testing.T) {
	dir := t.TempDir()
	c := datalog.NewCSV(dir, "r2", 2)
	row := datalog.Row{Time: time.Now(), Values: map[string]float64{"a": 1}}
	require.NoError(t, c.Write(datalog.Record{State: device.Steady, Rows: []datalog.Row{row}}))
	_, err := os.Stat(c.Path(device.Steady))
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, c.Write(datalog.Record{State: device.Steady, Rows: []datalog.Row{row}}))
	_, err = os.Stat(c.Path(device.Steady))
	assert.NoError(t, err)
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	rows := []datalog.Row{
		{Time: time.Unix(10, 0), Values: map[string]float64{"T1.T": 20}},
		{Time: time.Unix(11, 0), Values: map[string]float64{"T1.T": 21}},
	}
	err := datalog.WriteTable(&buf, "run", 1, []string{"T1.T"}, rows)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("SIMPLE")))
}

func TestFITSIgnoresUnsteady(t *testing.T) {
	dir := t.TempDir()
	f := datalog.NewFITS(dir, "run")
	row := datalog.Row{Time: time.Unix(10, 0), Values: map[string]float64{"a": 1}}
	require.NoError(t, f.Write(datalog.Record{State: device.Unsteady, Rows: []datalog.Row{row}}))
	require.NoError(t, f.Flush())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, f.Write(datalog.Record{State: device.Steady, Rows: []datalog.Row{row}}))
	require.NoError(t, f.Flush())
	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "run_SS_001.fits", entries[0].Name())
}

func TestTableKeepsLastRows(t *testing.T) {
	var buf bytes.Buffer
	tbl := datalog.NewTable(&buf, 2, []string{"T1.T"})
	for i := 1; i <= 3; i++ {
		buf.Reset()
		rec := datalog.Record{Run: "r", Cycle: i, Rows: []datalog.Row{
			{Time: time.Now(), Values: map[string]float64{"T1.T": float64(i) + 0.12345}},
		}}
		require.NoError(t, tbl.Write(rec))
	}
	out := buf.String()
	assert.Contains(t, out, "cycle 3")
	assert.Contains(t, out, "3.123")
	assert.Contains(t, out, "2.123")
	assert.NotContains(t, out, "1.123")
}

func TestMQTTPublishesRecords(t *testing.T) {
	const addr = "localhost:18831"
	broker := mochi.New(nil)
	require.NoError(t, broker.AddHook(&auth.AllowHook{}, nil))
	require.NoError(t, broker.AddListener(listeners.NewTCP(listeners.Config{Type: "tcp", Address: addr})))
	require.NoError(t, broker.Serve())
	defer broker.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	got := make(chan *paho.Publish, 1)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	require.NoError(t, err)
	sub := paho.NewClient(paho.ClientConfig{
		ClientID: "watcher",
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				select {
				case got <- pr.Packet:
				default:
				}
				return true, nil
			},
		},
	})
	_, err = sub.Connect(ctx, &paho.Connect{ClientID: "watcher", CleanStart: true, KeepAlive: 5})
	require.NoError(t, err)
	_, err = sub.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: "rig/#", QoS: 0}},
	})
	require.NoError(t, err)
	defer sub.Disconnect(&paho.Disconnect{ReasonCode: 0})

	m, err := datalog.DialMQTT(ctx, addr, "rig", "recorder")
	require.NoError(t, err)
	defer m.Close()

	rec := datalog.Record{Run: "abc", Cycle: 7, State: device.Steady}
	require.NoError(t, m.Write(rec))

	select {
	case p := <-got:
		assert.Equal(t, "rig/SS", p.Topic)
		var back datalog.Record
		require.NoError(t, json.Unmarshal(p.Payload, &back))
		assert.Equal(t, rec.Run, back.Run)
		assert.Equal(t, rec.Cycle, back.Cycle)
		assert.Equal(t, device.Steady, back.State)
	case <-ctx.Done():
		t.Fatalf("no publish received: %v", ctx.Err())
	}
}
