// Package packetcrypto composes crypto/igctx, crypto/block, and
// crypto/shanda into the per-direction packet crypto spec.md §4.1
// describes: header encode/decode tied to the current round key and
// version, and payload encrypt/decrypt with the asymmetric Shanda/AES
// ordering the legacy client requires.
package packetcrypto

import (
	"encoding/binary"
	"errors"

	"github.com/awnumar/memguard"

	"github.com/wisp-net/shroomlink/crypto/block"
	"github.com/wisp-net/shroomlink/crypto/igctx"
	"github.com/wisp-net/shroomlink/crypto/shanda"
)

// MaxPacketLen is the largest payload a header can carry.
const MaxPacketLen = 32767

// InvalidHeader is returned by DecodeHeader when the check field doesn't
// match the expected round key.
type InvalidHeader struct {
	Length   uint16
	SeenKey  uint16
	Expected uint16
}

func (e *InvalidHeader) Error() string {
	return "packetcrypto: invalid header"
}

// FrameSize is returned when a decoded length exceeds MaxPacketLen.
type FrameSize struct {
	Length uint16
}

func (e *FrameSize) Error() string {
	return "packetcrypto: frame exceeds MaxPacketLen"
}

// CryptoContext is the shared, process-wide context backing every
// connection's packet crypto: the IG shuffle/seed table and the constant
// AES-256 key. The AES key lives in locked memory (spec.md's key material
// is process-constant, not per-connection, but still sensitive).
type CryptoContext struct {
	ig     *igctx.Context
	aesKey *memguard.LockedBuffer
	legacy bool
}

// NewCryptoContext builds a shared context from a shuffle table, IG seed,
// and 32-byte AES-256 key. aesKey is copied into locked memory and the
// caller's slice is destroyed (memguard's standard "don't leave a second
// copy lying around" contract).
func NewCryptoContext(shuffle [igctx.TableSize]byte, seed igctx.Seed, aesKey []byte) (*CryptoContext, error) {
	if len(aesKey) != 32 {
		return nil, errors.New("packetcrypto: aes key must be 32 bytes")
	}
	lb := memguard.NewBufferFromBytes(aesKey)
	return &CryptoContext{ig: igctx.New(shuffle, seed), aesKey: lb}, nil
}

// WithLegacyMode toggles the standalone IG stream cipher path instead of
// the default AES+Shanda pipeline (spec.md §4.1's "IG stream cipher",
// kept for interop with pre-AES protocol revisions).
func (cc *CryptoContext) WithLegacyMode(on bool) *CryptoContext {
	cc.legacy = on
	return cc
}

// RoundKey is a 4-byte per-direction key held in locked memory.
type RoundKey struct {
	buf *memguard.LockedBuffer
}

// NewRoundKey copies k into a freshly locked buffer.
func NewRoundKey(k [4]byte) *RoundKey {
	return &RoundKey{buf: memguard.NewBufferFromBytes(append([]byte(nil), k[:]...))}
}

// bytes returns a short-lived unlocked view; callers must not retain it.
func (rk *RoundKey) bytes() [4]byte {
	var k [4]byte
	copy(k[:], rk.buf.Bytes())
	return k
}

// advance replaces the round key with IG-hash(current round key bytes).
func (rk *RoundKey) advance(ig *igctx.Context) {
	cur := rk.bytes()
	next := ig.Hash(cur[:])
	rk.buf.Melt()
	copy(rk.buf.Bytes(), next[:])
	rk.buf.Freeze()
}

// Destroy releases the round key's locked memory.
func (rk *RoundKey) Destroy() {
	rk.buf.Destroy()
}

// Crypto is one direction (encode or decode) of a connection's packet
// crypto state: a reference to the shared context, a round key, and the
// version used in header check-field construction.
type Crypto struct {
	ctx      *CryptoContext
	roundKey *RoundKey
	version  uint16
}

// New builds a directional Crypto state. For the decode direction the
// caller passes the bit-inverted version per spec.md §4.1's note that
// decode uses `~version`.
func New(ctx *CryptoContext, roundKey *RoundKey, version uint16) *Crypto {
	return &Crypto{ctx: ctx, roundKey: roundKey, version: version}
}

// EncodeHeader produces the 4-byte header for a payload of the given
// length, tied to the current round key and version.
func (c *Crypto) EncodeHeader(length uint16) [4]byte {
	k := c.roundKey.bytes()
	keyHi := binary.LittleEndian.Uint16(k[2:4])
	low := keyHi ^ c.version
	high := low ^ length

	var out [4]byte
	binary.LittleEndian.PutUint16(out[0:2], low)
	binary.LittleEndian.PutUint16(out[2:4], high)
	return out
}

// DecodeHeader extracts the payload length from a 4-byte header, verifying
// the check field against the current round key.
func (c *Crypto) DecodeHeader(hdr [4]byte) (uint16, error) {
	low := binary.LittleEndian.Uint16(hdr[0:2])
	high := binary.LittleEndian.Uint16(hdr[2:4])
	length := low ^ high
	seenKey := low ^ c.version

	k := c.roundKey.bytes()
	keyHi := binary.LittleEndian.Uint16(k[2:4])
	if seenKey != keyHi {
		return 0, &InvalidHeader{Length: length, SeenKey: seenKey, Expected: keyHi}
	}
	if length > MaxPacketLen {
		return 0, &FrameSize{Length: length}
	}
	return length, nil
}

// Encrypt transforms buf in place for the outbound direction: Shanda
// permute, then AES-xor, then advance the round key. The order is
// asymmetric by design — it mirrors the legacy client (spec.md §4.1).
func (c *Crypto) Encrypt(buf []byte) error {
	if c.ctx.legacy {
		lc := igctx.NewLegacyCipher(c.ctx.ig, c.roundKey.bytes())
		lc.Encrypt(buf)
		c.roundKey.advance(c.ctx.ig)
		return nil
	}

	shanda.Encrypt(buf)
	iv := block.ExpandIV(c.roundKey.bytes())
	if err := block.Keystream(c.ctx.aesKey.Bytes(), iv, buf); err != nil {
		return err
	}
	c.roundKey.advance(c.ctx.ig)
	return nil
}

// Decrypt transforms buf in place for the inbound direction: AES-xor,
// advance the round key, then Shanda-decrypt.
func (c *Crypto) Decrypt(buf []byte) error {
	if c.ctx.legacy {
		lc := igctx.NewLegacyCipher(c.ctx.ig, c.roundKey.bytes())
		lc.Decrypt(buf)
		c.roundKey.advance(c.ctx.ig)
		return nil
	}

	iv := block.ExpandIV(c.roundKey.bytes())
	if err := block.Keystream(c.ctx.aesKey.Bytes(), iv, buf); err != nil {
		return err
	}
	c.roundKey.advance(c.ctx.ig)
	shanda.Decrypt(buf)
	return nil
}
