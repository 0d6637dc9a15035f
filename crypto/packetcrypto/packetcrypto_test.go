package packetcrypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wisp-net/shroomlink/crypto/igctx"
)

func testShuffle() [igctx.TableSize]byte {
	var s [igctx.TableSize]byte
	for i := range s {
		s[i] = byte(i*101 + 31)
	}
	return s
}

func testCtx(t *testing.T) *CryptoContext {
	t.Helper()
	aesKey := bytes.Repeat([]byte{0x5A}, 32)
	ctx, err := NewCryptoContext(testShuffle(), igctx.Seed{0x9, 0x8, 0x7, 0x6}, aesKey)
	require.NoError(t, err)
	return ctx
}

func TestHeaderRoundTrip(t *testing.T) {
	ctx := testCtx(t)
	key := [4]byte{0x52, 0x30, 0x78, 0xE8}
	version := uint16(0xFFBE) // -66 as u16

	for _, length := range []uint16{44, 627} {
		rk := NewRoundKey(key)
		c := New(ctx, rk, version)

		hdr := c.EncodeHeader(length)

		rk2 := NewRoundKey(key)
		c2 := New(ctx, rk2, version)
		got, err := c2.DecodeHeader(hdr)
		require.NoError(t, err)
		require.Equal(t, length, got)
	}
}

func TestHeaderTamperDetected(t *testing.T) {
	ctx := testCtx(t)
	key := [4]byte{0x52, 0x30, 0x78, 0xE8}

	rk := NewRoundKey(key)
	c := New(ctx, rk, 1)
	hdr := c.EncodeHeader(44)
	hdr[0] ^= 0xFF

	rk2 := NewRoundKey(key)
	c2 := New(ctx, rk2, 1)
	_, err := c2.DecodeHeader(hdr)
	require.Error(t, err)
	var invalidHdr *InvalidHeader
	require.ErrorAs(t, err, &invalidHdr)
}

func TestHeaderWrongVersionRejected(t *testing.T) {
	ctx := testCtx(t)
	key := [4]byte{0x10, 0x20, 0x30, 0x40}

	rk := NewRoundKey(key)
	c := New(ctx, rk, 5)
	hdr := c.EncodeHeader(100)

	rk2 := NewRoundKey(key)
	c2 := New(ctx, rk2, 6)
	_, err := c2.DecodeHeader(hdr)
	require.Error(t, err)
}

func TestPayloadRoundTripAndKeyAdvance(t *testing.T) {
	ctx := testCtx(t)
	key := [4]byte{0x01, 0x02, 0x03, 0x04}

	encKey := NewRoundKey(key)
	decKey := NewRoundKey(key)
	enc := New(ctx, encKey, 7)
	dec := New(ctx, decKey, 7)

	plaintext := bytes.Repeat([]byte{0xCA}, 3000)
	buf := append([]byte(nil), plaintext...)

	require.NoError(t, enc.Encrypt(buf))
	require.NotEqual(t, plaintext, buf)

	require.NoError(t, dec.Decrypt(buf))
	require.Equal(t, plaintext, buf)

	require.Equal(t, encKey.bytes(), decKey.bytes())
}

func TestFrameSizeRejected(t *testing.T) {
	ctx := testCtx(t)
	rk := NewRoundKey([4]byte{1, 2, 3, 4})
	c := New(ctx, rk, 0)
	_, err := c.DecodeHeader(c.EncodeHeader(32767))
	require.NoError(t, err)

	// Hand-construct a header claiming a length of 32768.
	rk2 := NewRoundKey([4]byte{1, 2, 3, 4})
	c2 := New(ctx, rk2, 0)
	badLen := uint16(32768)
	keyHi := uint16(rk2.bytes()[2]) | uint16(rk2.bytes()[3])<<8
	low := keyHi ^ 0
	high := low ^ badLen
	var badHdr [4]byte
	badHdr[0] = byte(low)
	badHdr[1] = byte(low >> 8)
	badHdr[2] = byte(high)
	badHdr[3] = byte(high >> 8)

	_, err = c2.DecodeHeader(badHdr)
	require.Error(t, err)
	var fsErr *FrameSize
	require.ErrorAs(t, err, &fsErr)
}
