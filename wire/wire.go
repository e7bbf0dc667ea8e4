// Package wire implements the fixed-width binary layout shared by every
// frame this module puts on a transport. All integers are little-endian
// and occupy their full width regardless of value; byte slices and
// strings carry a uint32 length prefix. The layout has no schema or
// version field of its own, so both peers must register components and
// event channels in the same order before exchanging frames.
package wire

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrShortBuffer reports a decode that ran past the end of the frame.
var ErrShortBuffer = errors.New("wire: short buffer")

// ErrTrailingBytes reports a frame with bytes left over after the
// decoder consumed a complete value.
var ErrTrailingBytes = errors.New("wire: trailing bytes")

// Value is the capability payload types implement to travel in frames.
// EncodeWire must write a layout DecodeWire reads back exactly; the
// differ compares encodings byte for byte, so the layout must also be
// deterministic for equal values.
type Value interface {
	EncodeWire(*Writer)
	DecodeWire(*Reader) error
}

// Writer accumulates a frame. The zero value is ready to use.
type Writer struct {
	buf []byte
}

// Bytes returns the frame written so far. The slice aliases the
// writer's buffer and is invalidated by further writes or Reset.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// Reset discards the frame while keeping the buffer for reuse.
func (w *Writer) Reset() { w.buf = w.buf[:0] }

func (w *Writer) Uint8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) Uint16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *Writer) Uint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) Uint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *Writer) Int32(v int32) { w.Uint32(uint32(v)) }

func (w *Writer) Int64(v int64) { w.Uint64(uint64(v)) }

func (w *Writer) Float32(v float32) { w.Uint32(math.Float32bits(v)) }

func (w *Writer) Float64(v float64) { w.Uint64(math.Float64bits(v)) }

func (w *Writer) Bool(v bool) {
	if v {
		w.Uint8(1)
		return
	}
	w.Uint8(0)
}

// Bytes32 writes a uint32 length prefix followed by the raw bytes.
func (w *Writer) Bytes32(b []byte) {
	w.Uint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// String writes the string with the same layout as Bytes32.
func (w *Writer) String(s string) {
	w.Uint32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// Reader consumes a frame produced by Writer. Every read is bounds
// checked; a read past the end returns ErrShortBuffer and leaves the
// cursor where it was.
type Reader struct {
	buf []byte
	off int
}

// NewReader wraps buf without copying it.
func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Finish returns ErrTrailingBytes unless the frame was consumed
// exactly. Decoders call it after reading a complete value so that a
// frame with junk appended is rejected rather than silently accepted.
func (r *Reader) Finish() error {
	if r.off != len(r.buf) {
		return ErrTrailingBytes
	}
	return nil
}

func (r *Reader) take(n int) ([]byte, error) {
	if r.Remaining() < n {
		return nil, ErrShortBuffer
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) Uint8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) Uint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) Uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) Uint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) Int32() (int32, error) {
	v, err := r.Uint32()
	return int32(v), err
}

func (r *Reader) Int64() (int64, error) {
	v, err := r.Uint64()
	return int64(v), err
}

func (r *Reader) Float32() (float32, error) {
	v, err := r.Uint32()
	return math.Float32frombits(v), err
}

func (r *Reader) Float64() (float64, error) {
	v, err := r.Uint64()
	return math.Float64frombits(v), err
}

func (r *Reader) Bool() (bool, error) {
	v, err := r.Uint8()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// Bytes32 reads a uint32 length prefix and returns that many bytes.
// The result aliases the frame; callers that retain it must copy. A
// length prefix larger than the remaining frame is ErrShortBuffer, so
// a corrupt prefix cannot trigger a huge allocation.
func (r *Reader) Bytes32() ([]byte, error) {
	n, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	return r.take(int(n))
}

// String reads the layout written by Writer.String.
func (r *Reader) String() (string, error) {
	b, err := r.Bytes32()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
