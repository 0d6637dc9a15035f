// Package block implements the AES-256 chunked keystream used to mask
// packet payloads (spec.md §4.1): an OFB-style keystream restarted from the
// same IV every 1460-byte chunk (1456 for the first chunk, which leaves
// room for the 4-byte frame header sharing the same chunk boundary).
package block

import (
	"encoding/binary"

	"gitlab.com/yawning/bsaes.git/aes"
)

// ChunkSize is the steady-state OFB restart interval.
const ChunkSize = 1460

// FirstChunkSize is the restart interval for the chunk that shares its
// first bytes with the 4-byte frame header.
const FirstChunkSize = ChunkSize - 4

// Keystream generates and XORs an AES-256 OFB-style keystream into buf in
// place. iv is the 16-byte round-key-derived IV shared by every chunk
// restart; key is the 32-byte session AES key.
//
// Every chunk boundary restarts the keystream generator from the same IV
// (the round key does not advance mid-payload: it advances exactly once,
// after the whole payload has been processed, via packetcrypto's call into
// igctx.Hash). Within a chunk, successive 16-byte keystream blocks are
// produced by repeatedly AES-encrypting the previous keystream block,
// seeding the chain with AES-encrypt(iv).
func Keystream(key []byte, iv [16]byte, buf []byte) error {
	cipher, err := aes.NewCipher(key)
	if err != nil {
		return err
	}

	off := 0
	first := true
	for off < len(buf) {
		size := ChunkSize
		if first {
			size = FirstChunkSize
		}
		end := off + size
		if end > len(buf) {
			end = len(buf)
		}
		xorChunk(cipher, iv, buf[off:end])
		off = end
		first = false
	}
	return nil
}

// xorChunk XORs one chunk's worth of keystream into chunk, restarting the
// OFB chain from iv.
func xorChunk(cipher *aes.Cipher, iv [16]byte, chunk []byte) {
	var feedback [16]byte
	cipher.Encrypt(feedback[:], iv[:])

	for off := 0; off < len(chunk); off += 16 {
		end := off + 16
		if end > len(chunk) {
			end = len(chunk)
		}
		for i := off; i < end; i++ {
			chunk[i] ^= feedback[i-off]
		}
		if end < len(chunk) || len(chunk)%16 == 0 {
			var next [16]byte
			cipher.Encrypt(next[:], feedback[:])
			feedback = next
		}
	}
}

// ExpandIV builds the 16-byte OFB IV by cyclically repeating the 4-byte
// round key, matching the original client's key-schedule convention of
// treating short keys as periodic.
func ExpandIV(roundKey [4]byte) [16]byte {
	var iv [16]byte
	for i := 0; i < 16; i += 4 {
		copy(iv[i:i+4], roundKey[:])
	}
	return iv
}

// PutHeaderIV returns the round key read as a little-endian uint32, the
// same 4 bytes ExpandIV places at the start of the IV.
func PutHeaderIV(roundKey [4]byte) uint32 {
	return binary.LittleEndian.Uint32(roundKey[:])
}
