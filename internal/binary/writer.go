package binary

import (
	"bytes"
	"encoding/binary"
)

// Writer provides buffered little-endian writing for format streams and
// wire buffers. Alignment is relative to the first byte written.
type Writer struct {
	buf *bytes.Buffer
}

// NewWriter creates a new Writer.
func NewWriter() *Writer {
	return &Writer{buf: &bytes.Buffer{}}
}

// Bytes returns the written bytes.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return w.buf.Len()
}

// Reset discards all written bytes, keeping the underlying storage.
func (w *Writer) Reset() {
	w.buf.Reset()
}

// Byte writes a single byte.
func (w *Writer) Byte(b byte) {
	w.buf.WriteByte(b)
}

// WriteBytes writes a byte slice.
func (w *Writer) WriteBytes(data []byte) {
	w.buf.Write(data)
}

// U16 writes a little-endian uint16.
func (w *Writer) U16(v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	w.buf.Write(buf[:])
}

// U32 writes a little-endian uint32.
func (w *Writer) U32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	w.buf.Write(buf[:])
}

// U64 writes a little-endian uint64.
func (w *Writer) U64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	w.buf.Write(buf[:])
}

// Align pads with zero bytes until Len is a multiple of n.
func (w *Writer) Align(n int) {
	if n <= 1 {
		return
	}
	for w.buf.Len()%n != 0 {
		w.buf.WriteByte(0)
	}
}

// PatchU16 overwrites a previously written uint16 at off.
func (w *Writer) PatchU16(off int, v uint16) {
	binary.LittleEndian.PutUint16(w.buf.Bytes()[off:off+2], v)
}

// PatchU32 overwrites a previously written uint32 at off.
func (w *Writer) PatchU32(off int, v uint32) {
	binary.LittleEndian.PutUint32(w.buf.Bytes()[off:off+4], v)
}

// LEB128 writes an unsigned LEB128 encoded uint32.
func (w *Writer) LEB128(v uint32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.buf.WriteByte(b)
		if v == 0 {
			break
		}
	}
}

// Name writes a LEB128 length-prefixed UTF-8 name.
func (w *Writer) Name(s string) {
	w.LEB128(uint32(len(s)))
	w.buf.WriteString(s)
}
