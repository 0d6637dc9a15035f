// Package handshake implements the one-shot, plaintext bootstrap message
// that seeds per-direction round keys, protocol version, and locale
// (spec.md §4.2) before any frame crypto begins.
package handshake

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"

	"github.com/wisp-net/shroomlink/crypto/packetcrypto"
)

// MaxPayloadLen bounds the handshake payload (spec.md: payload_len ≤ 24).
const MaxPayloadLen = 24

// Locale enumerates the historical client locales; subversion charset
// validation (NEW per SPEC_FULL §3.1) depends on which one is in play.
type Locale uint8

const (
	Korea Locale = iota + 1
	KoreaT
	Japan
	China
	ChinaT
	Taiwan
	TaiwanT
	Global
	Europe
	RlsPe
)

func (l Locale) String() string {
	switch l {
	case Korea:
		return "Korea"
	case KoreaT:
		return "KoreaT"
	case Japan:
		return "Japan"
	case China:
		return "China"
	case ChinaT:
		return "ChinaT"
	case Taiwan:
		return "Taiwan"
	case TaiwanT:
		return "TaiwanT"
	case Global:
		return "Global"
	case Europe:
		return "Europe"
	case RlsPe:
		return "RlsPe"
	default:
		return fmt.Sprintf("Locale(%d)", uint8(l))
	}
}

// valid reports whether l is one of the ten enumerated locales.
func (l Locale) valid() bool {
	return l >= Korea && l <= RlsPe
}

// ValidateSubversion checks that subversion can be represented in the
// historical client charset for this locale. CJK locales are checked
// against their legacy multi-byte encoding; all others are checked as
// UTF-8 (supplements spec.md §4.2, whose distillation only fails on an
// out-of-range locale byte).
func (l Locale) ValidateSubversion(subversion string) error {
	var enc encoding.Encoding
	switch l {
	case Korea, KoreaT:
		enc = korean.EUCKR
	case Japan:
		enc = japanese.ShiftJIS
	case China, ChinaT:
		enc = simplifiedchinese.GBK
	case Taiwan, TaiwanT:
		enc = traditionalchinese.Big5
	default:
		// Global/Europe/RlsPe.
		if !utf8.ValidString(subversion) {
			return fmt.Errorf("handshake: subversion is not valid UTF-8 for %s", l)
		}
		return nil
	}

	if _, _, err := enc.NewEncoder().String(subversion); err != nil {
		return fmt.Errorf("handshake: subversion not representable in %s charset: %w", l, err)
	}
	return nil
}

// ErrInvalidHandshake covers all fatal decode-time handshake failures
// (bad locale, truncated payload, malformed subversion string).
var ErrInvalidHandshake = errors.New("handshake: invalid handshake")

// ErrHandshakeSize is returned when the declared payload_len exceeds
// MaxPayloadLen.
var ErrHandshakeSize = errors.New("handshake: payload too large")

// Handshake is the decoded bootstrap message.
type Handshake struct {
	Version    uint16
	Subversion string
	IVEnc      [4]byte
	IVDec      [4]byte
	Locale     Locale
}

// Encode serializes h into its wire form, including the leading u16
// payload_len prefix.
func Encode(h Handshake) ([]byte, error) {
	if len(h.Subversion) > 2 {
		return nil, fmt.Errorf("handshake: subversion too long: %w", ErrInvalidHandshake)
	}
	if !h.Locale.valid() {
		return nil, fmt.Errorf("handshake: invalid locale %d: %w", h.Locale, ErrInvalidHandshake)
	}

	payload := make([]byte, 0, MaxPayloadLen)
	var buf2 [2]byte

	binary.LittleEndian.PutUint16(buf2[:], h.Version)
	payload = append(payload, buf2[:]...)

	binary.LittleEndian.PutUint16(buf2[:], uint16(len(h.Subversion)))
	payload = append(payload, buf2[:]...)
	payload = append(payload, []byte(h.Subversion)...)

	payload = append(payload, h.IVEnc[:]...)
	payload = append(payload, h.IVDec[:]...)
	payload = append(payload, byte(h.Locale))

	if len(payload) > MaxPayloadLen {
		return nil, ErrHandshakeSize
	}

	out := make([]byte, 2+len(payload))
	binary.LittleEndian.PutUint16(out[:2], uint16(len(payload)))
	copy(out[2:], payload)
	return out, nil
}

// Decode parses the full handshake wire message, including the leading
// u16 payload_len prefix, from buf. buf must contain at least the prefix;
// Decode returns how many bytes it consumed.
func Decode(buf []byte) (Handshake, int, error) {
	if len(buf) < 2 {
		return Handshake{}, 0, ErrInvalidHandshake
	}
	payloadLen := binary.LittleEndian.Uint16(buf[:2])
	if payloadLen > MaxPayloadLen {
		return Handshake{}, 0, ErrHandshakeSize
	}
	total := 2 + int(payloadLen)
	if len(buf) < total {
		return Handshake{}, 0, ErrInvalidHandshake
	}
	p := buf[2:total]

	if len(p) < 2 {
		return Handshake{}, 0, ErrInvalidHandshake
	}
	version := binary.LittleEndian.Uint16(p[:2])
	p = p[2:]

	if len(p) < 2 {
		return Handshake{}, 0, ErrInvalidHandshake
	}
	subLen := int(binary.LittleEndian.Uint16(p[:2]))
	p = p[2:]
	if len(p) < subLen {
		return Handshake{}, 0, ErrInvalidHandshake
	}
	subversion := string(p[:subLen])
	p = p[subLen:]

	if len(p) < 4+4+1 {
		return Handshake{}, 0, ErrInvalidHandshake
	}
	var ivEnc, ivDec [4]byte
	copy(ivEnc[:], p[:4])
	p = p[4:]
	copy(ivDec[:], p[:4])
	p = p[4:]
	locale := Locale(p[0])

	if !locale.valid() {
		return Handshake{}, 0, ErrInvalidHandshake
	}
	if err := locale.ValidateSubversion(subversion); err != nil {
		return Handshake{}, 0, fmt.Errorf("handshake: subversion charset: %w", ErrInvalidHandshake)
	}

	return Handshake{
		Version:    version,
		Subversion: subversion,
		IVEnc:      ivEnc,
		IVDec:      ivDec,
		Locale:     locale,
	}, total, nil
}

// Pairing builds the client or server's two directional Crypto states
// from a decoded handshake, per spec.md §4.2's cipher pairing table.
type Pairing struct {
	Encoder *packetcrypto.Crypto
	Decoder *packetcrypto.Crypto
}

// ClientPairing builds the client side: encoder uses iv_enc+version,
// decoder uses iv_dec+~version.
func ClientPairing(ctx *packetcrypto.CryptoContext, h Handshake) Pairing {
	return Pairing{
		Encoder: packetcrypto.New(ctx, packetcrypto.NewRoundKey(h.IVEnc), h.Version),
		Decoder: packetcrypto.New(ctx, packetcrypto.NewRoundKey(h.IVDec), ^h.Version),
	}
}

// ServerPairing builds the server's mirror: encoder uses iv_dec+~version,
// decoder uses iv_enc+version.
func ServerPairing(ctx *packetcrypto.CryptoContext, h Handshake) Pairing {
	return Pairing{
		Encoder: packetcrypto.New(ctx, packetcrypto.NewRoundKey(h.IVDec), ^h.Version),
		Decoder: packetcrypto.New(ctx, packetcrypto.NewRoundKey(h.IVEnc), h.Version),
	}
}
