package aggregation

import (
	"encoding/binary"
	"errors"

	"MultiBridge/internal/message"
)

// errShortBuffer is returned by the reader when input ends early.
var errShortBuffer = errors.New("unexpected end of data")

// borshWriter appends Borsh-encoded values (little-endian integers,
// u32 length-prefixed sequences) to a buffer.
type borshWriter struct {
	buf []byte
}

func (w *borshWriter) u8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *borshWriter) u32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *borshWriter) u64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *borshWriter) address(a message.Address) {
	w.buf = append(w.buf, a[:]...)
}

// borshReader decodes what borshWriter produces.
// The first failure sticks; every later read returns zero values.
type borshReader struct {
	data []byte
	off  int
	err  error
}

func (r *borshReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}

	if n < 0 || len(r.data)-r.off < n {
		r.err = errShortBuffer
		return nil
	}

	b := r.data[r.off : r.off+n]
	r.off += n

	return b
}

func (r *borshReader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *borshReader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *borshReader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *borshReader) address() message.Address {
	var a message.Address
	copy(a[:], r.take(message.AddressSize))
	return a
}

// count reads a sequence length and checks that at least n*elemSize bytes remain,
// so a forged length cannot trigger a huge allocation.
func (r *borshReader) count(elemSize int) int {
	n := r.u32()
	if r.err != nil {
		return 0
	}

	if uint64(n)*uint64(elemSize) > uint64(len(r.data)-r.off) {
		r.err = errShortBuffer
		return 0
	}

	return int(n)
}

// remaining returns the number of unread bytes.
func (r *borshReader) remaining() int {
	return len(r.data) - r.off
}
