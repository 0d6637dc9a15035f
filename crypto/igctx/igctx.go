// Package igctx implements the IG keyed byte-shuffle primitive: a 4-byte
// rolling key update used both as a hash (to advance a round key) and, in
// legacy mode, as a standalone per-byte stream cipher.
package igctx

import (
	"encoding/binary"
	"math/bits"

	"github.com/awnumar/memguard"
)

// TableSize is the width of the shuffle table.
const TableSize = 256

// Seed is the 4-byte IG seed used as the starting state for Hash.
type Seed [4]byte

// Context bundles the shuffle table and seed shared read-only by every
// connection in a process. Neither value is secret in the usual sense (the
// shuffle table is a fixed protocol constant), so it is kept as a plain
// value rather than locked memory; see crypto/packetcrypto for the locked
// AES key and round keys this context helps advance.
type Context struct {
	shuffle [TableSize]byte
	seed    Seed
}

// New builds a Context from a caller-supplied shuffle table and seed. The
// shuffle table and seed are opaque protocol constants to this package;
// default blobs live outside the core per spec.md §1.
func New(shuffle [TableSize]byte, seed Seed) *Context {
	return &Context{shuffle: shuffle, seed: seed}
}

// update performs one IG key-update step, transforming k with byte b. All
// arithmetic is byte-wrapping by virtue of Go's uint8 semantics.
func (c *Context) update(k [4]byte, b byte) [4]byte {
	s := &c.shuffle
	var nk [4]byte
	nk[0] = k[0] + s[k[1]] - b
	nk[1] = k[1] - (k[2] ^ s[b])
	nk[2] = k[2] ^ (s[k[3]] + b)
	nk[3] = k[3] - (nk[0] - s[b])

	v := binary.LittleEndian.Uint32(nk[:])
	v = bits.RotateLeft32(v, 3)
	binary.LittleEndian.PutUint32(nk[:], v)
	return nk
}

// Hash folds data left to right through update, starting from the IG seed,
// and returns the resulting 4-byte state. packetcrypto's RoundKey.advance
// replaces a round key with exactly Hash(roundKeyBytes).
func (c *Context) Hash(data []byte) [4]byte {
	k := [4]byte(c.seed)
	for _, b := range data {
		k = c.update(k, b)
	}
	return k
}

// encByte implements the legacy IG stream cipher's single-byte transform:
// rotate p right by 4 (nibble swap), interleave-swap adjacent bit pairs,
// then XOR with the shuffle table entry selected by the running key byte.
func encByte(p, k0 byte, s *[TableSize]byte) byte {
	r := bits.RotateLeft8(p, 4)
	t := ((r & 0xAA) >> 1) | ((r & 0x55) << 1)
	return t ^ s[k0]
}

// decByte is the exact inverse of encByte: both the nibble rotation and the
// bit-pair interleave are involutions, so undoing the XOR first and then
// replaying the same two steps recovers the plaintext byte.
func decByte(c, k0 byte, s *[TableSize]byte) byte {
	u := c ^ s[k0]
	t := ((u & 0xAA) >> 1) | ((u & 0x55) << 1)
	return bits.RotateLeft8(t, 4)
}

// LegacyCipher is the standalone IG stream cipher (spec.md §4.1's "IG
// stream cipher"), kept for interop with protocol revisions that predate
// the AES+Shanda payload pipeline. It is never used by the default
// encrypt/decrypt path in crypto/packetcrypto.
type LegacyCipher struct {
	ctx *Context
	key [4]byte
}

// NewLegacyCipher starts a legacy cipher at the given 4-byte running key.
func NewLegacyCipher(ctx *Context, key [4]byte) *LegacyCipher {
	return &LegacyCipher{ctx: ctx, key: key}
}

// Encrypt XORs buf in place using the legacy stream cipher, mixing the
// plaintext byte into the key schedule for both directions (spec.md §4.1,
// §9 open question 3).
func (lc *LegacyCipher) Encrypt(buf []byte) {
	for i, p := range buf {
		c := encByte(p, lc.key[0], &lc.ctx.shuffle)
		lc.key = lc.ctx.update(lc.key, p)
		buf[i] = c
	}
}

// Decrypt is the inverse of Encrypt.
func (lc *LegacyCipher) Decrypt(buf []byte) {
	for i, c := range buf {
		p := decByte(c, lc.key[0], &lc.ctx.shuffle)
		lc.key = lc.ctx.update(lc.key, p)
		buf[i] = p
	}
}

// SecureSeed locks a seed's backing bytes in guarded memory; used to carry
// a handshake-derived IG seed variant through a process without leaving a
// GC-visible copy. Unused by the default protocol path (the IG seed is a
// shared constant) but available for deployments that derive a per-process
// seed from other secret material.
func SecureSeed(seed Seed) *memguard.LockedBuffer {
	return memguard.NewBufferFromBytes(seed[:])
}
