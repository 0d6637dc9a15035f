// Package frame implements the length-prefixed frame codec (spec.md
// §4.2): a stateful decoder fed by a growable byte buffer, and an encoder
// that reserves, header-stamps, and encrypts a payload in place.
//
// The shape follows the teacher's cell codec (peek a fixed-size header,
// decide how much more to read, then split off an owned payload) but
// generalizes it from Tor's fixed/variable-length cell split to the
// single round-key-checked header spec.md describes.
package frame

import (
	"errors"

	"github.com/wisp-net/shroomlink/crypto/packetcrypto"
)

// ErrWantMore signals the decoder needs more buffered bytes before it can
// produce a frame.
var ErrWantMore = errors.New("frame: want more")

// Decoder consumes bytes appended via Feed and emits decrypted payloads.
type Decoder struct {
	crypto *packetcrypto.Crypto
	buf    []byte
}

// NewDecoder builds a frame decoder bound to one direction's packet
// crypto state.
func NewDecoder(crypto *packetcrypto.Crypto) *Decoder {
	return &Decoder{crypto: crypto}
}

// Feed appends newly read bytes to the decoder's internal buffer.
func (d *Decoder) Feed(b []byte) {
	d.buf = append(d.buf, b...)
}

// Next attempts to decode one frame from the buffered bytes. It returns
// ErrWantMore if not enough bytes are buffered yet, or a fatal decode
// error (packetcrypto.InvalidHeader, packetcrypto.FrameSize) if the
// connection must be dropped.
func (d *Decoder) Next() ([]byte, error) {
	if len(d.buf) < 4 {
		return nil, ErrWantMore
	}

	var hdr [4]byte
	copy(hdr[:], d.buf[:4])
	length, err := d.crypto.DecodeHeader(hdr)
	if err != nil {
		return nil, err
	}

	total := 4 + int(length)
	if len(d.buf) < total {
		return nil, ErrWantMore
	}

	payload := make([]byte, length)
	copy(payload, d.buf[4:total])
	if err := d.crypto.Decrypt(payload); err != nil {
		return nil, err
	}

	remaining := len(d.buf) - total
	copy(d.buf, d.buf[total:])
	d.buf = d.buf[:remaining]

	return payload, nil
}

// Encoder stamps and encrypts outbound payloads.
type Encoder struct {
	crypto *packetcrypto.Crypto
}

// NewEncoder builds a frame encoder bound to one direction's packet
// crypto state.
func NewEncoder(crypto *packetcrypto.Crypto) *Encoder {
	return &Encoder{crypto: crypto}
}

// Encode reserves 4+|p| bytes, stamps the header, and encrypts the
// payload region in place, returning the complete wire frame.
func (e *Encoder) Encode(p []byte) ([]byte, error) {
	if len(p) > packetcrypto.MaxPacketLen {
		return nil, &packetcrypto.FrameSize{Length: uint16(len(p))}
	}

	out := make([]byte, 4+len(p))
	copy(out[4:], p)

	// The header check field is tied to the round key as it stands before
	// this payload's encrypt call advances it, so it must be computed
	// first.
	hdr := e.crypto.EncodeHeader(uint16(len(p)))
	if err := e.crypto.Encrypt(out[4:]); err != nil {
		return nil, err
	}
	copy(out[:4], hdr[:])
	return out, nil
}
