package mcbus

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/snksoft/crc"
)

// wire format, board generation B2 and later:
//
//	[SOT][axis][op][len][payload ...][crc hi][crc lo][EOT]
//
// the CRC covers axis through the end of the payload.  Replies set the
// high bit of the op and carry a status byte as the first payload byte.
const (
	// telStart is the start of telegram byte
	telStart = 0x0D

	// telEnd is the end of telegram byte
	telEnd = 0x0A

	// opReply is OR'd into the op byte of replies
	opReply = 0x80

	// statusOK is the status byte of a successful reply
	statusOK = 0x00
)

// register ops understood by the board
const (
	opEncoder         = 0x10
	opLimits          = 0x11
	opGetPID          = 0x12
	opSetPID          = 0x13
	opSetOffset       = 0x14
	opSetReference    = 0x15
	opGetReference    = 0x16
	opGetOutput       = 0x17
	opOpenLoopMode    = 0x18
	opPositionMode    = 0x19
	opPositionMove    = 0x1A
	opRefSpeed        = 0x1B
	opRefAcceleration = 0x1C
	opStop            = 0x1D
)

var crcTable = crc.NewTable(crc.XMODEM)

// ErrBadCRC is generated when a reply fails its checksum
var ErrBadCRC = errors.New("mcbus: reply failed CRC check")

// StatusError is the non-zero status byte of a reply
type StatusError byte

func (e StatusError) Error() string {
	return fmt.Sprintf("mcbus: board returned status %#x", byte(e))
}

type telegram struct {
	axis    byte
	op      byte
	status  byte
	payload []byte
}

// floats decodes the payload as big-endian float64s.  The status byte of a
// reply is not part of the payload; read has already stripped it.
func (t telegram) floats() []float64 {
	body := t.payload
	out := make([]float64, 0, len(body)/8)
	for len(body) >= 8 {
		out = append(out, math.Float64frombits(binary.BigEndian.Uint64(body)))
		body = body[8:]
	}
	return out
}

func packFloats(vals []float64) []byte {
	buf := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.BigEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return buf
}

// crc16 computes the two-byte big-endian CRC of buf in a concurrency-safe way
func crc16(buf []byte) []byte {
	c := crcTable.InitCrc()
	c = crcTable.UpdateCrc(c, buf)
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, crcTable.CRC16(c))
	return out
}

func write(w io.Writer, t telegram) error {
	body := make([]byte, 0, 4+len(t.payload))
	body = append(body, t.axis, t.op, byte(len(t.payload)))
	body = append(body, t.payload...)

	buf := make([]byte, 0, len(body)+4)
	buf = append(buf, telStart)
	buf = append(buf, body...)
	buf = append(buf, crc16(body)...)
	buf = append(buf, telEnd)

	_, err := w.Write(buf)
	return err
}

func read(r io.Reader) (telegram, error) {
	var t telegram
	br := bufio.NewReader(r)

	// scan past any leading garbage to the start byte
	for {
		b, err := br.ReadByte()
		if err != nil {
			return t, err
		}
		if b == telStart {
			break
		}
	}

	header := make([]byte, 3) // axis, op, len
	if _, err := io.ReadFull(br, header); err != nil {
		return t, err
	}
	n := int(header[2])
	rest := make([]byte, n+3) // payload, crc x2, end
	if _, err := io.ReadFull(br, rest); err != nil {
		return t, err
	}
	if rest[n+2] != telEnd {
		return t, fmt.Errorf("mcbus: missing end byte, got %#x", rest[n+2])
	}

	body := append(header, rest[:n]...)
	gotCRC := rest[n : n+2]
	wantCRC := crc16(body)
	if gotCRC[0] != wantCRC[0] || gotCRC[1] != wantCRC[1] {
		return t, ErrBadCRC
	}

	t.axis = body[0]
	t.op = body[1]
	payload := body[3:]
	if t.op&opReply != 0 && len(payload) > 0 {
		t.status = payload[0]
		payload = payload[1:]
	}
	t.payload = payload
	return t, nil
}
