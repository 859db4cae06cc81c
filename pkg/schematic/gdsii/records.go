// Package gdsii parses GDSII stream files into the uniform die-boundary
// model. The parser is streaming: records are decoded one at a time and
// only bounding boxes and labels are retained, so large libraries do not
// require the whole geometry in memory.
package gdsii

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/fabworks/wafersampler/pkg/schematic"
)

// GDSII record types. A record is a 2-byte big-endian total length, a
// 1-byte record type, a 1-byte data type, then the payload.
const (
	recHeader   = 0x00
	recBgnLib   = 0x01
	recLibName  = 0x02
	recUnits    = 0x03
	recEndLib   = 0x04
	recBgnStr   = 0x05
	recStrName  = 0x06
	recEndStr   = 0x07
	recBoundary = 0x08
	recPath     = 0x09
	recSRef     = 0x0A
	recARef     = 0x0B
	recText     = 0x0C
	recLayer    = 0x0D
	recDatatype = 0x0E
	recWidth    = 0x0F
	recXY       = 0x10
	recEndEl    = 0x11
	recSName    = 0x12
	recColRow   = 0x13
	recTextType = 0x16
	recString   = 0x19
	recSTrans   = 0x1A
	recMag      = 0x1B
	recAngle    = 0x1C
)

// maxRecordPayload bounds a single record; GDSII caps records at 64 KiB by
// construction of the 16-bit length field.
const maxRecordPayload = 65532

// record is one decoded GDSII record.
type record struct {
	Type   byte
	Data   []byte
	Offset int64
}

// reader pulls length-tagged records off the stream, tracking the byte
// offset for error reporting.
type reader struct {
	br     *bufio.Reader
	offset int64
	buf    []byte
}

func newReader(r io.Reader) *reader {
	return &reader{br: bufio.NewReaderSize(r, 64*1024), buf: make([]byte, maxRecordPayload)}
}

// next returns the next record, or io.EOF after ENDLIB / end of stream.
func (r *reader) next() (record, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r.br, hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return record{}, r.errorf("truncated record header")
		}
		return record{}, err
	}
	length := int(binary.BigEndian.Uint16(hdr[:2]))
	if length < 4 {
		return record{}, r.errorf("record length %d below header size", length)
	}
	payload := length - 4
	if payload > maxRecordPayload {
		return record{}, r.errorf("record length %d exceeds format maximum", length)
	}
	data := r.buf[:payload]
	if _, err := io.ReadFull(r.br, data); err != nil {
		return record{}, r.errorf("truncated record payload")
	}
	rec := record{Type: hdr[2], Data: data, Offset: r.offset}
	r.offset += int64(length)
	return rec, nil
}

func (r *reader) errorf(format string, args ...any) error {
	return &schematic.ParseError{
		Format: schematic.FormatGDSII,
		Offset: r.offset,
		Reason: fmt.Sprintf(format, args...),
	}
}

// int16s decodes the payload as big-endian 16-bit integers.
func (rec record) int16s() []int16 {
	out := make([]int16, len(rec.Data)/2)
	for i := range out {
		out[i] = int16(binary.BigEndian.Uint16(rec.Data[i*2:]))
	}
	return out
}

// int32s decodes the payload as big-endian 32-bit integers.
func (rec record) int32s() []int32 {
	out := make([]int32, len(rec.Data)/4)
	for i := range out {
		out[i] = int32(binary.BigEndian.Uint32(rec.Data[i*4:]))
	}
	return out
}

// str decodes the payload as an ASCII string, trimming the pad NUL GDSII
// appends to odd-length strings.
func (rec record) str() string {
	d := rec.Data
	if n := len(d); n > 0 && d[n-1] == 0 {
		d = d[:n-1]
	}
	return string(d)
}

// real64s decodes the payload as GDSII 8-byte excess-64 reals: a sign bit,
// a 7-bit base-16 exponent, and a 56-bit mantissa.
func (rec record) real64s() []float64 {
	out := make([]float64, len(rec.Data)/8)
	for i := range out {
		out[i] = decodeReal64(rec.Data[i*8 : i*8+8])
	}
	return out
}

func decodeReal64(b []byte) float64 {
	sign := b[0]&0x80 != 0
	exp := int(b[0]&0x7F) - 64
	var mantissa uint64
	for _, x := range b[1:8] {
		mantissa = mantissa<<8 | uint64(x)
	}
	v := float64(mantissa) / float64(uint64(1)<<56) * math.Pow(16, float64(exp))
	if sign {
		return -v
	}
	return v
}
