package conn

import (
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wisp-net/shroomlink/config"
	"github.com/wisp-net/shroomlink/crypto/igctx"
	"github.com/wisp-net/shroomlink/crypto/packetcrypto"
	"github.com/wisp-net/shroomlink/transport"
	"github.com/wisp-net/shroomlink/wire/handshake"
)

// echoHandler bounces every inbound frame back unchanged.
type echoHandler struct {
	conn *Connection
}

func (h echoHandler) HandleFrame(payload []byte) Result {
	h.conn.SendRaw(append([]byte(nil), payload...))
	return Ok
}
func (h echoHandler) UserMsgCh() <-chan any { return nil }
func (h echoHandler) HandleUserMsg(any)     {}
func (h echoHandler) OnTick(uint64)         {}
func (h echoHandler) Finish(bool)           {}

// collectHandler forwards every inbound frame to a channel for the test
// to assert against.
type collectHandler struct {
	out chan []byte
}

func (h collectHandler) HandleFrame(payload []byte) Result {
	h.out <- append([]byte(nil), payload...)
	return Ok
}
func (h collectHandler) UserMsgCh() <-chan any { return nil }
func (h collectHandler) HandleUserMsg(any)     {}
func (h collectHandler) OnTick(uint64)         {}
func (h collectHandler) Finish(bool)           {}

// readHandshake reads the length-prefixed handshake message off r using
// only the u16 payload_len prefix Decode itself expects.
func readHandshake(t *testing.T, r io.Reader) handshake.Handshake {
	t.Helper()
	var lenBuf [2]byte
	_, err := io.ReadFull(r, lenBuf[:])
	require.NoError(t, err)
	payloadLen := binary.LittleEndian.Uint16(lenBuf[:])

	buf := make([]byte, 2+int(payloadLen))
	copy(buf, lenBuf[:])
	_, err = io.ReadFull(r, buf[2:])
	require.NoError(t, err)

	h, n, err := handshake.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	return h
}

func TestTCPEchoClientServer(t *testing.T) {
	var shuffle [igctx.TableSize]byte
	for i := range shuffle {
		shuffle[i] = byte(i*61 + 3)
	}
	aesKey := make([]byte, 32)
	for i := range aesKey {
		aesKey[i] = byte(i * 5)
	}
	ctx, err := packetcrypto.NewCryptoContext(shuffle, igctx.Seed{7, 7, 7, 7}, aesKey)
	require.NoError(t, err)

	hs := handshake.Handshake{
		Version:    3,
		Subversion: "1",
		IVEnc:      [4]byte{1, 2, 3, 4},
		IVDec:      [4]byte{5, 6, 7, 8},
		Locale:     handshake.Global,
	}

	var tcp transport.TCP
	ln, err := tcp.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := &config.Config{}

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		serverStream, err := ln.Accept()
		require.NoError(t, err)

		wire, err := handshake.Encode(hs)
		require.NoError(t, err)
		_, err = serverStream.Write(wire)
		require.NoError(t, err)

		pairing := handshake.ServerPairing(ctx, hs)
		serverConn := New("server-side", serverStream, pairing, cfg, nil)
		serverConn.Run(echoHandler{conn: serverConn})
	}()

	clientStream, err := tcp.Dial(ln.Addr().String())
	require.NoError(t, err)

	decoded := readHandshake(t, clientStream)
	require.Equal(t, hs, decoded)

	pairing := handshake.ClientPairing(ctx, decoded)
	received := make(chan []byte, 8)
	clientConn := New("client-side", clientStream, pairing, cfg, nil)
	go clientConn.Run(collectHandler{out: received})

	payloads := [][]byte{
		[]byte("first"),
		[]byte("second payload, a bit longer"),
		{},
		[]byte{0x00, 0xFF, 0x10, 0x20},
	}
	for _, p := range payloads {
		require.NoError(t, clientConn.SendRaw(p))
	}

	for i, want := range payloads {
		select {
		case got := <-received:
			require.Equalf(t, want, got, "payload %d mismatch", i)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for echo of payload %d", i)
		}
	}

	require.NoError(t, clientConn.Close())
	<-serverDone
}
