package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPrimitiveRoundTrip(t *testing.T) {
	w := NewWriter(64)
	w.PutU8(0xAB)
	w.PutBool(true)
	w.PutU16(0x1234)
	w.PutI16(-2)
	w.PutU32(0xDEADBEEF)
	w.PutI32(-1000)
	w.PutU64(0x0102030405060708)
	w.PutI64(-1)

	r := NewReader(w.Bytes())

	u8, err := r.U8()
	require.NoError(t, err)
	require.Equal(t, uint8(0xAB), u8)

	b, err := r.Bool()
	require.NoError(t, err)
	require.True(t, b)

	u16, err := r.U16()
	require.NoError(t, err)
	require.Equal(t, uint16(0x1234), u16)

	i16, err := r.I16()
	require.NoError(t, err)
	require.Equal(t, int16(-2), i16)

	u32, err := r.U32()
	require.NoError(t, err)
	require.Equal(t, uint32(0xDEADBEEF), u32)

	i32, err := r.I32()
	require.NoError(t, err)
	require.Equal(t, int32(-1000), i32)

	u64, err := r.U64()
	require.NoError(t, err)
	require.Equal(t, uint64(0x0102030405060708), u64)

	i64, err := r.I64()
	require.NoError(t, err)
	require.Equal(t, int64(-1), i64)

	require.Equal(t, 0, r.Remaining())
}

func TestStringRoundTrip(t *testing.T) {
	w := NewWriter(16)
	require.NoError(t, w.PutString("hello"))

	r := NewReader(w.Bytes())
	s, err := r.String()
	require.NoError(t, err)
	require.Equal(t, "hello", s)
}

func TestStringRejectsInvalidUTF8(t *testing.T) {
	w := NewWriter(16)
	w.PutU16(2)
	w.PutBytes([]byte{0xFF, 0xFE})

	r := NewReader(w.Bytes())
	_, err := r.String()
	require.ErrorIs(t, err, ErrStringUTF8)
}

func TestStringReadPastEndIsEOF(t *testing.T) {
	w := NewWriter(16)
	w.PutU16(10)
	w.PutBytes([]byte("short"))

	r := NewReader(w.Bytes())
	_, err := r.String()
	require.ErrorIs(t, err, ErrEOF)
}

func TestTimeRoundTrip(t *testing.T) {
	w := NewWriter(8)
	now := time.UnixMilli(1_700_000_000_123)
	w.PutTime(now)

	r := NewReader(w.Bytes())
	got, err := r.Time()
	require.NoError(t, err)
	require.True(t, now.Equal(got))
}

func TestOptionRoundTrip(t *testing.T) {
	w := NewWriter(8)
	w.PutOption(true, func(w *Writer) { w.PutU32(42) })
	w.PutOption(false, func(w *Writer) { w.PutU32(99) })

	r := NewReader(w.Bytes())

	var got uint32
	present, err := r.Option(func(r *Reader) error {
		v, err := r.U32()
		got = v
		return err
	})
	require.NoError(t, err)
	require.True(t, present)
	require.Equal(t, uint32(42), got)

	present, err = r.Option(func(r *Reader) error {
		t.Fatal("should not be called for absent option")
		return nil
	})
	require.NoError(t, err)
	require.False(t, present)
}

func TestListRoundTrip(t *testing.T) {
	w := NewWriter(16)
	values := []uint32{1, 2, 3, 4, 5}
	require.NoError(t, w.PutList(len(values), func(w *Writer, i int) {
		w.PutU32(values[i])
	}))

	r := NewReader(w.Bytes())
	var got []uint32
	n, err := r.List(func(r *Reader, i int) error {
		v, err := r.U32()
		got = append(got, v)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, len(values), n)
	require.Equal(t, values, got)
}

func TestBitflags(t *testing.T) {
	var v uint32 = 0b1010
	require.False(t, Bitflags(v, 0))
	require.True(t, Bitflags(v, 1))
	require.False(t, Bitflags(v, 2))
	require.True(t, Bitflags(v, 3))
}
