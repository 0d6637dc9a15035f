// Package message is a concrete realization of the typed-message layer
// spec.md treats as an external collaborator (SPEC_FULL §1.1): a
// cursor-based byte reader/writer for the primitive shapes spec.md names
// (integers, length-prefixed strings, lists, options, bitflags, times),
// satisfying the core's two-function contract
// encode(value, writer) -> error / decode(reader) -> (value, error).
package message

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// ErrEOF is returned when a read runs past the end of the buffer.
var ErrEOF = errors.New("message: unexpected EOF")

// ErrStringLimit is returned by PutString when a string exceeds
// MaxStringLen.
var ErrStringLimit = errors.New("message: string exceeds limit")

// ErrStringUTF8 is returned when a decoded string is not valid UTF-8.
var ErrStringUTF8 = errors.New("message: invalid utf-8")

// ErrInvalidEnum covers both InvalidEnumDiscriminant and
// InvalidEnumPrimitive from spec.md §7's typed-layer error taxonomy.
var ErrInvalidEnum = errors.New("message: invalid enum value")

// ErrInvalidTimestamp is the typed-layer error for an out-of-range time
// value. Reader.Time accepts every u64 and does not return it.
var ErrInvalidTimestamp = errors.New("message: invalid timestamp")

// MaxStringLen bounds decoded strings to the u16 length prefix's range.
const MaxStringLen = 1<<16 - 1

// Writer is a growable little-endian cursor used by send_encoded to build
// one frame's payload.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer with cap bytes pre-reserved.
func NewWriter(cap int) *Writer {
	return &Writer{buf: make([]byte, 0, cap)}
}

// Bytes returns the accumulated payload.
func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) PutU8(v uint8)   { w.buf = append(w.buf, v) }
func (w *Writer) PutBool(v bool) {
	if v {
		w.PutU8(1)
	} else {
		w.PutU8(0)
	}
}

func (w *Writer) PutU16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) PutI16(v int16) { w.PutU16(uint16(v)) }

func (w *Writer) PutU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) PutI32(v int32) { w.PutU32(uint32(v)) }

func (w *Writer) PutU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) PutI64(v int64) { w.PutU64(uint64(v)) }

// PutString writes a u16 length prefix followed by s's raw bytes.
func (w *Writer) PutString(s string) error {
	if len(s) > MaxStringLen {
		return ErrStringLimit
	}
	w.PutU16(uint16(len(s)))
	w.buf = append(w.buf, s...)
	return nil
}

// PutBytes writes raw bytes with no length prefix (caller already framed
// the length, e.g. via a list count).
func (w *Writer) PutBytes(b []byte) { w.buf = append(w.buf, b...) }

// PutTime encodes t as a unix-millisecond u64.
func (w *Writer) PutTime(t time.Time) { w.PutU64(uint64(t.UnixMilli())) }

// PutOption writes a present flag followed by the encoded value iff
// present. some must write exactly the bytes the decoder expects for
// Reader.Option's matching call.
func (w *Writer) PutOption(present bool, some func(*Writer)) {
	w.PutBool(present)
	if present {
		some(w)
	}
}

// PutList writes a u16 count followed by each element's encoding.
func (w *Writer) PutList(n int, elem func(*Writer, int)) error {
	if n > MaxStringLen {
		return fmt.Errorf("message: list too long: %d", n)
	}
	w.PutU16(uint16(n))
	for i := 0; i < n; i++ {
		elem(w, i)
	}
	return nil
}

// Reader is a cursor over a decrypted payload, used by decode(reader) ->
// (value, error) implementations.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential reads.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Remaining reports how many unread bytes are left.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return ErrEOF
	}
	return nil
}

func (r *Reader) U8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) Bool() (bool, error) {
	v, err := r.U8()
	return v != 0, err
}

func (r *Reader) U16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *Reader) I16() (int16, error) {
	v, err := r.U16()
	return int16(v), err
}

func (r *Reader) U32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) I32() (int32, error) {
	v, err := r.U32()
	return int32(v), err
}

func (r *Reader) U64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *Reader) I64() (int64, error) {
	v, err := r.U64()
	return int64(v), err
}

// String reads a u16 length prefix then that many bytes, validating UTF-8.
func (r *Reader) String() (string, error) {
	n, err := r.U16()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	if !isValidUTF8(b) {
		return "", ErrStringUTF8
	}
	return string(b), nil
}

// Bytes reads n raw bytes.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Time reads a unix-millisecond u64 written by PutTime.
func (r *Reader) Time() (time.Time, error) {
	ms, err := r.U64()
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(int64(ms)), nil
}

// Option reads the present flag, calling some only when it is set.
func (r *Reader) Option(some func(*Reader) error) (bool, error) {
	present, err := r.Bool()
	if err != nil || !present {
		return present, err
	}
	return true, some(r)
}

// List reads a u16 count, then invokes elem once per index.
func (r *Reader) List(elem func(*Reader, int) error) (int, error) {
	n, err := r.U16()
	if err != nil {
		return 0, err
	}
	for i := 0; i < int(n); i++ {
		if err := elem(r, i); err != nil {
			return i, err
		}
	}
	return int(n), nil
}

// Bitflags reports whether bit is set in the u32 flag word v.
func Bitflags(v uint32, bit uint) bool {
	return v&(1<<bit) != 0
}

func isValidUTF8(b []byte) bool {
	return utf8.Valid(b)
}
