package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"

	quic "github.com/quic-go/quic-go"

	"github.com/wisp-net/shroomlink/internal/worker"
)

var errHalted = errors.New("transport: halted")

// QUIC realizes Dialer/Listener over a single QUIC connection's streams,
// giving deployments connection migration at the transport layer
// underneath shroomlink's own application-level Migrate signal. Grounded
// on the reference QUICProxyConn: one worker.Worker-owned goroutine
// drives accept/dial, every blocking operation selects on HaltCh.
type QUIC struct {
	worker.Worker

	tlsConf *tls.Config
	qcfg    *quic.Config
}

// NewQUIC builds a QUIC transport with the given TLS and QUIC config.
func NewQUIC(tlsConf *tls.Config, qcfg *quic.Config) *QUIC {
	return &QUIC{tlsConf: tlsConf, qcfg: qcfg}
}

// quicStream adapts a quic.Stream plus its parent quic.Connection to the
// Stream (net.Conn) contract.
type quicStream struct {
	quic.Stream
	conn quic.Connection
}

func (s *quicStream) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *quicStream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Dial opens a new QUIC connection to addr and returns its first stream.
func (q *QUIC) Dial(addr string) (Stream, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resultCh := make(chan dialResult, 1)
	q.Go(func() {
		conn, err := quic.DialAddr(ctx, addr, q.tlsConf, q.qcfg)
		if err != nil {
			resultCh <- dialResult{err: err}
			return
		}
		s, err := conn.OpenStreamSync(ctx)
		if err != nil {
			resultCh <- dialResult{err: err}
			return
		}
		resultCh <- dialResult{stream: &quicStream{Stream: s, conn: conn}}
	})

	select {
	case r := <-resultCh:
		return r.stream, r.err
	case <-q.HaltCh():
		return nil, errHalted
	}
}

type dialResult struct {
	stream *quicStream
	err    error
}

// quicListener accepts inbound QUIC connections and hands back their
// first stream per connection.
type quicListener struct {
	worker.Worker
	ln quic.Listener
}

// Listen starts a QUIC listener on addr.
func (q *QUIC) Listen(addr string) (Listener, error) {
	ln, err := quic.ListenAddr(addr, q.tlsConf, q.qcfg)
	if err != nil {
		return nil, err
	}
	return &quicListener{ln: ln}, nil
}

func (l *quicListener) Accept() (Stream, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		stream *quicStream
		err    error
	}
	resultCh := make(chan result, 1)
	l.Go(func() {
		conn, err := l.ln.Accept(ctx)
		if err != nil {
			resultCh <- result{err: err}
			return
		}
		s, err := conn.AcceptStream(ctx)
		if err != nil {
			resultCh <- result{err: err}
			return
		}
		resultCh <- result{stream: &quicStream{Stream: s, conn: conn}}
	})

	select {
	case r := <-resultCh:
		return r.stream, r.err
	case <-l.HaltCh():
		return nil, errHalted
	}
}

func (l *quicListener) Close() error {
	l.Halt()
	return l.ln.Close()
}

func (l *quicListener) Addr() net.Addr { return l.ln.Addr() }
