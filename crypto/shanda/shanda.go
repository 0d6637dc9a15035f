// Package shanda implements the fixed, invertible byte permutation applied
// to a packet payload once per direction, independent of any key (spec.md
// §4.1 "Shanda byte permutation").
package shanda

import "math/bits"

// rollingXOR chains a byte-rotate-and-XOR across buf from left to right,
// carrying the previous input byte into the next output. It is invertible
// because each step's transform depends only on the previous input byte,
// which the inverse has already recovered when it reaches the next byte.
func rollingXOR(buf []byte) {
	var carry byte
	n := len(buf)
	for i := 0; i < n; i++ {
		v := bits.RotateLeft8(buf[i], 3) ^ carry
		carry = buf[i]
		buf[i] = v
	}
}

// rollingXORInverse undoes rollingXOR by replaying the same left-to-right
// walk, recovering carry from the just-decoded plaintext byte instead of
// the ciphertext.
func rollingXORInverse(buf []byte) {
	var carry byte
	n := len(buf)
	for i := 0; i < n; i++ {
		c := buf[i]
		p := bits.RotateLeft8(c^carry, 5) // inverse rotate of left-3 is left-5 (8-3)
		carry = p
		buf[i] = p
	}
}

// rollingXORRTL is rollingXOR walked right to left, giving the permutation
// a second, independent mixing direction.
func rollingXORRTL(buf []byte) {
	var carry byte
	for i := len(buf) - 1; i >= 0; i-- {
		v := bits.RotateLeft8(buf[i], 3) ^ carry
		carry = buf[i]
		buf[i] = v
	}
}

func rollingXORRTLInverse(buf []byte) {
	var carry byte
	for i := len(buf) - 1; i >= 0; i-- {
		c := buf[i]
		p := bits.RotateLeft8(c^carry, 5)
		carry = p
		buf[i] = p
	}
}

// pairShift swaps and rotates each disjoint (2i, 2i+1) byte pair. Operating
// on disjoint pairs makes the transform trivially self-describing to
// invert: each pair's output depends only on its own two input bytes.
func pairShift(buf []byte) {
	n := len(buf) - (len(buf) % 2)
	for i := 0; i < n; i += 2 {
		a, b := buf[i], buf[i+1]
		buf[i] = bits.RotateLeft8(b, 1) + 1
		buf[i+1] = bits.RotateLeft8(a, 6) - 1
	}
}

func pairShiftInverse(buf []byte) {
	n := len(buf) - (len(buf) % 2)
	for i := 0; i < n; i += 2 {
		a, b := buf[i], buf[i+1]
		orig0 := bits.RotateLeft8(b+1, 2) // inverse of rotate-left-6 is rotate-left-2
		orig1 := bits.RotateLeft8(a-1, 7) // inverse of rotate-left-1 is rotate-left-7
		buf[i] = orig0
		buf[i+1] = orig1
	}
}

// Encrypt applies the Shanda permutation to buf in place: two independent
// mixing passes (pair-shift, then rolling XOR) in each of two directions.
// The transform is keyless; its only input is the payload itself.
func Encrypt(buf []byte) {
	pairShift(buf)
	rollingXOR(buf)
	pairShift(buf)
	rollingXORRTL(buf)
}

// Decrypt reverses Encrypt by applying each pass's inverse in exact
// reverse order.
func Decrypt(buf []byte) {
	rollingXORRTLInverse(buf)
	pairShiftInverse(buf)
	rollingXORInverse(buf)
	pairShiftInverse(buf)
}
