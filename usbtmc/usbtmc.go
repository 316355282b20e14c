/*Package usbtmc implements datagram encoding and decoding for USB Test and
Measurement Class devices, for the bulk transfer mode used by SCPI
instruments such as the DAQ6510 on its rear USB port.

It does not include features to support multi-packet messaging, and thus
assumes a message fits in the remote's buffer.

To send a message:
1.  Allocate a send buffer
2.  Write the header to it
3.  Write your data to it
4.  Ensure that the total transmission size is a multiple of 4 bytes before flushing

To receive a message:
1.  Create a read request header and send it on the Out endpoint
2.  Read from the In endpoint
3.  Strip the header and trim to the transfer size it declares

These are implemented as Write and Read on Device, which is an
io.ReadWriteCloser and can be pooled with package comm.
*/
package usbtmc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/gousb"

	"github.com/thermofluids/flowloop/comm"
)

const (
	// reserved is the byte to insert in reserved header fields
	reserved = 0x00

	headerSize = 12

	// alignment of every bulk out transfer
	alignment = 4

	msgDevDepOut   = 0x01
	msgRequestIn   = 0x02
	bulkEndpoint   = 2
	defaultBufSize = 1 << 16
)

// ErrDeviceNotFound is generated when no device matches the vendor and product ID
var ErrDeviceNotFound = errors.New("usb device not found")

// bTagGen is a concurrent-safe bTag generator
type bTagGen struct {
	sync.Mutex
	value byte
}

// next returns the next bTag, 1 <= bTag <= 255
func (b *bTagGen) next() byte {
	b.Lock()
	defer b.Unlock()
	b.value++
	if b.value == 0 {
		b.value = 1
	}
	return b.value
}

// invbTag computes the bitwise inversion of a btag, per USBTMC standard table 1 offset 2
func invbTag(b byte) byte {
	return b ^ 0xff
}

// encBulkOutHeader creates the header defined in USBTMC standard, Table 3
func encBulkOutHeader(tag byte, datalen int) [headerSize]byte {
	/* data map by offset:
	0 MsgID, DEV_DEP_MSG_OUT
	1 bTag
	2 bTagInverse
	3 Reserved (0x00)
	4-7 transferSize, LSB first, exclusive of header and alignment
	8 bitmap, bit 0 EOM
	9-11 reserved
	*/
	out := [headerSize]byte{}
	out[0] = msgDevDepOut
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(datalen))
	out[8] = 0x01 // always end of message
	return out
}

// encBulkInHeader creates the header defined in USBTMC standard, Table 4.
// if terminator is nil the device is told to ignore the termination character
func encBulkInHeader(tag byte, bufsize int, terminator *byte) [headerSize]byte {
	out := [headerSize]byte{}
	out[0] = msgRequestIn
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(bufsize))
	if terminator != nil {
		out[8] = 0x02
		out[9] = *terminator
	}
	return out
}

// decBulkIn splits a bulk in transfer into its payload, checking it answers tag
func decBulkIn(buf []byte, tag byte) ([]byte, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("only received %d bytes, need at least %d to form header", len(buf), headerSize)
	}
	if buf[1] != tag || buf[2] != invbTag(tag) {
		return nil, fmt.Errorf("reply carries bTag %d, expected %d", buf[1], tag)
	}
	size := int(binary.LittleEndian.Uint32(buf[4:8]))
	data := buf[headerSize:]
	if size < len(data) {
		data = data[:size]
	}
	return data, nil
}

// pad extends b with zeros to a multiple of alignment
func pad(b []byte) []byte {
	if residual := len(b) % alignment; residual > 0 {
		b = append(b, make([]byte, alignment-residual)...)
	}
	return b
}

// Device is a USBTMC instrument exposed as an io.ReadWriteCloser
type Device struct {
	tags   bTagGen
	term   byte
	ctx    *gousb.Context
	device *gousb.Device
	in     *gousb.InEndpoint
	out    *gousb.OutEndpoint
	closer func()
}

// Open opens the first device with the vendor and product ID.  Reads end on
// the '\n' termination character.
func Open(vid, pid uint16) (*Device, error) {
	d := &Device{term: '\n', ctx: gousb.NewContext()}
	var err error
	d.device, err = d.ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		d.ctx.Close()
		return nil, err
	}
	if d.device == nil {
		d.ctx.Close()
		return nil, fmt.Errorf("%w: %04x:%04x", ErrDeviceNotFound, vid, pid)
	}
	if err = d.device.SetAutoDetach(true); err != nil {
		d.Close()
		return nil, err
	}
	iface, closer, err := d.device.DefaultInterface()
	if err != nil {
		d.Close()
		return nil, err
	}
	d.closer = closer
	if d.in, err = iface.InEndpoint(bulkEndpoint); err != nil {
		d.Close()
		return nil, err
	}
	if d.out, err = iface.OutEndpoint(bulkEndpoint); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// ConnMaker returns a comm.CreationFunc opening the device
func ConnMaker(vid, pid uint16) comm.CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return Open(vid, pid)
	}
}

// Write sends b as one message
func (d *Device) Write(b []byte) (int, error) {
	hdr := encBulkOutHeader(d.tags.next(), len(b))
	msg := make([]byte, 0, headerSize+len(b)+alignment)
	msg = append(msg, hdr[:]...)
	msg = pad(append(msg, b...))
	if _, err := d.out.Write(msg); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Read requests one message and copies its payload into p
func (d *Device) Read(p []byte) (int, error) {
	size := len(p)
	if size == 0 {
		size = defaultBufSize
	}
	tag := d.tags.next()
	hdr := encBulkInHeader(tag, size, &d.term)
	if _, err := d.out.Write(hdr[:]); err != nil {
		return 0, err
	}
	buf := make([]byte, headerSize+size+alignment)
	n, err := d.in.Read(buf)
	if err != nil {
		return 0, err
	}
	data, err := decBulkIn(buf[:n], tag)
	if err != nil {
		return 0, err
	}
	return copy(p, data), nil
}

// Close releases the interface, the device and the USB context
func (d *Device) Close() error {
	if d.closer != nil {
		d.closer()
	}
	var err error
	if d.device != nil {
		err = d.device.Close()
	}
	if cerr := d.ctx.Close(); err == nil {
		err = cerr
	}
	return err
}
