package audit_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thermofluids/flowloop/audit"
)

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

func TestFileLinesVerify(t *testing.T) {
	buf := &bytes.Buffer{}
	f := audit.NewFile(nopCloser{buf})
	require.NoError(t, f.LogError(audit.Entry{Elapsed: 1500 * time.Millisecond, Action: "Stop", Source: "TC2", Detail: "H"}))
	require.NoError(t, f.LogError(audit.Entry{Elapsed: 3 * time.Second, Action: "error", Source: "PSU", Detail: "faulted: serial port gone"}))
	assert.True(t, strings.HasPrefix(buf.String(), "1.50,Stop,TC2,H,"))

	n, err := audit.Verify(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	tampered := strings.Replace(buf.String(), "TC2", "TC3", 1)
	n, err = audit.Verify(strings.NewReader(tampered))
	assert.ErrorIs(t, err, audit.ErrChecksum)
	assert.Equal(t, 0, n)
}

func TestOpenFileAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	for i := 0; i < 2; i++ {
		f, err := audit.OpenFile(path)
		require.NoError(t, err)
		require.NoError(t, f.LogError(audit.Entry{Action: "Alert", Source: "PRES", Detail: "L"}))
		require.NoError(t, f.Close())
	}
	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close()
	n, err := audit.Verify(fh)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMultiFansOut(t *testing.T) {
	a, b := &audit.Memory{}, &audit.Memory{}
	require.NoError(t, audit.Multi{a, b}.LogError(audit.Entry{Action: "Alert"}))
	assert.Len(t, a.Entries(), 1)
	assert.Len(t, b.Entries(), 1)
}
