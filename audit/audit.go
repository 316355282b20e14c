// Package audit is the append-only record of alarms, faults and operator
// actions taken during a run.
package audit

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/snksoft/crc"
)

// ErrChecksum is generated when a line of an audit file fails its CRC
var ErrChecksum = errors.New("audit line checksum mismatch")

var crcTable = crc.NewTable(crc.XMODEM)

// Entry is one audit record
type Entry struct {
	Time    time.Time     `json:"time"`
	Elapsed time.Duration `json:"elapsed"`
	Run     string        `json:"run,omitempty"`
	Action  string        `json:"action"`
	Source  string        `json:"source"`
	Detail  string        `json:"detail"`
}

func (e Entry) String() string {
	return fmt.Sprintf("%.2f,%s,%s,%s", e.Elapsed.Seconds(), e.Action, e.Source, e.Detail)
}

// Sink receives audit entries
type Sink interface {
	LogError(Entry) error
}

// Memory keeps entries in memory
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

// LogError implements Sink
func (m *Memory) LogError(e Entry) error {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

// Entries returns a copy of the entries so far
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

// Multi sends each entry to every sink and returns the first error
type Multi []Sink

// LogError implements Sink
func (ms Multi) LogError(e Entry) error {
	var first error
	for _, s := range ms {
		if err := s.LogError(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func checksum(line string) string {
	c := crcTable.InitCrc()
	c = crcTable.UpdateCrc(c, []byte(line))
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, crcTable.CRC16(c))
	return hex.EncodeToString(b)
}

// File appends entries to a text file, one per line, each line followed by
// a CRC-16/XMODEM of its content so tampering or truncation is detectable
type File struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// OpenFile opens or creates an audit file for appending
func OpenFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &File{w: f}, nil
}

// NewFile wraps an existing writer
func NewFile(w io.WriteCloser) *File {
	return &File{w: w}
}

// LogError implements Sink
func (f *File) LogError(e Entry) error {
	line := e.String()
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := fmt.Fprintf(f.w, "%s,%s\n", line, checksum(line))
	return err
}

// Close closes the file
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.w.Close()
}

// Verify checks every line of an audit file and returns the number of valid
// lines.  It stops at the first bad line.
func Verify(r io.Reader) (int, error) {
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		line := sc.Text()
		idx := strings.LastIndexByte(line, ',')
		if idx < 0 || checksum(line[:idx]) != line[idx+1:] {
			return n, fmt.Errorf("%w on line %d", ErrChecksum, n+1)
		}
		n++
	}
	return n, sc.Err()
}
