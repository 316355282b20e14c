package ea_test

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thermofluids/flowloop/comm"
	"github.com/thermofluids/flowloop/ea"
)

// supply acknowledges every telegram with code
type supply struct {
	code  byte
	sent  [][]byte
	reply bytes.Buffer
}

func (s *supply) Write(p []byte) (int, error) {
	s.sent = append(s.sent, append([]byte(nil), p...))
	obj, _, err := ea.Decode(p)
	if err != nil {
		return 0, err
	}
	s.reply.Write(ea.Encode(0x80, 0, obj, []byte{s.code}))
	return len(p), nil
}

func (s *supply) Read(p []byte) (int, error) { return s.reply.Read(p) }
func (s *supply) Close() error               { return nil }

type inverter struct{ values []float64 }

func (i *inverter) SetActual(v float64) error {
	i.values = append(i.values, v)
	return nil
}

func newSupply(s *supply, inv ea.Switch) *ea.PS2384 {
	pool := comm.NewPool(1, time.Minute, func() (io.ReadWriteCloser, error) { return s, nil })
	return ea.NewPS2384(pool, inv)
}

func TestEncode(t *testing.T) {
	// remote on to output 0
	got := ea.Encode(0xC0, 0, 54, []byte{0x10, 0x10})
	assert.Equal(t, []byte{0xF1, 0x00, 0x36, 0x10, 0x10, 0x01, 0x47}, got)

	obj, data, err := ea.Decode(got)
	require.NoError(t, err)
	assert.Equal(t, byte(54), obj)
	assert.Equal(t, []byte{0x10, 0x10}, data)

	got[len(got)-1]++
	_, _, err = ea.Decode(got)
	assert.ErrorIs(t, err, ea.ErrChecksum)
}

func TestSetValue(t *testing.T) {
	p := ea.NewPS2384(nil, nil)
	v, err := p.SetValue(42)
	require.NoError(t, err)
	assert.Equal(t, uint16(12800), v)
	_, err = p.SetValue(90)
	assert.ErrorIs(t, err, ea.ErrOutOfRange)
}

func TestSeriesHalvesAndInverterCouples(t *testing.T) {
	s := &supply{}
	inv := &inverter{}
	p := newSupply(s, inv)

	require.NoError(t, p.SetActual(84))
	require.NoError(t, p.SetActual(80))
	assert.Equal(t, []float64{1, 0}, inv.values)

	require.Len(t, s.sent, 2)
	_, data, err := ea.Decode(s.sent[0])
	require.NoError(t, err)
	// 42 V on each output is half of nominal
	assert.Equal(t, []byte{0x32, 0x00}, data)
}

func TestDeviceErrorIsReported(t *testing.T) {
	s := &supply{code: 0x08}
	p := newSupply(s, nil)
	err := p.SetActual(10)
	var derr *ea.DeviceError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, byte(0x08), derr.Code)
}

func TestInitAndDeactivate(t *testing.T) {
	s := &supply{}
	inv := &inverter{}
	p := newSupply(s, inv)
	require.NoError(t, p.Init())
	require.NoError(t, p.Deactivate())
	require.Len(t, s.sent, 5)
	_, data, _ := ea.Decode(s.sent[3])
	assert.Equal(t, []byte{0x01, 0x00}, data)
	assert.Equal(t, []float64{0, 0}, inv.values)
}
