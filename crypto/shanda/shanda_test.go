package shanda

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x01},
		{0x01, 0x02},
		bytes.Repeat([]byte{0xAB}, 17),
		bytes.Repeat([]byte{0x00, 0xFF}, 730),
	}
	for _, p := range cases {
		orig := append([]byte(nil), p...)
		buf := append([]byte(nil), p...)
		Encrypt(buf)
		Decrypt(buf)
		require.Equal(t, orig, buf)
	}
}

func TestEncryptIsPermutationNotIdentity(t *testing.T) {
	p := bytes.Repeat([]byte{0x42}, 64)
	buf := append([]byte(nil), p...)
	Encrypt(buf)
	require.NotEqual(t, p, buf)
}
