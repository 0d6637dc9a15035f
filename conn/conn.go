// Package conn implements the connection runtime (component G, spec.md
// §4.3): one framed reader and one framed writer over a transport, driven
// by a single biased-select event loop per connection.
package conn

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/wisp-net/shroomlink/config"
	"github.com/wisp-net/shroomlink/internal/logging"
	"github.com/wisp-net/shroomlink/internal/worker"
	"github.com/wisp-net/shroomlink/metrics"
	"github.com/wisp-net/shroomlink/tick"
	"github.com/wisp-net/shroomlink/transport"
	"github.com/wisp-net/shroomlink/wire/frame"
	"github.com/wisp-net/shroomlink/wire/handshake"
	"github.com/wisp-net/shroomlink/wire/message"
)

// Result is what a Handler returns from HandleFrame.
type Result int

const (
	// Ok continues the event loop normally.
	Ok Result = iota
	// Migrate exits the loop, runs Finish(true), then keeps the
	// transport alive for migrate_delay before closing.
	Migrate
	// Pong clears the pending-ping flag.
	Pong
)

// Handler is the user-supplied per-connection behavior.
type Handler interface {
	// HandleFrame processes one inbound decrypted payload.
	HandleFrame(payload []byte) Result
	// UserMsgCh returns the channel the event loop selects on for
	// out-of-band messages (spec.md §4.3 event loop priority 4). May
	// return nil if the handler has none.
	UserMsgCh() <-chan any
	// HandleUserMsg processes one message drained from UserMsgCh.
	HandleUserMsg(msg any)
	// OnTick runs once per tick broadcast observed by the connection.
	OnTick(count uint64)
	// Finish runs exactly once when the event loop exits; migrating is
	// true only for the Migrate exit path.
	Finish(migrating bool)
}

// Connection owns the framed reader/writer pair over one transport and
// drives the event loop described in spec.md §4.3.
type Connection struct {
	worker.Worker

	log *logging.Logger
	cfg *config.Config

	stream transport.Stream
	dec    *frame.Decoder
	enc    *frame.Encoder

	bridge *bridge
	handle Handle

	ticks chan uint64

	pendingPing atomic.Bool
}

// New constructs a Connection from a transport stream already paired via
// handshake; the event loop starts when Run is called. clientID identifies this
// connection on shared handles; tickSrc is the process-wide tick source
// (component K).
func New(clientID string, stream transport.Stream, pairing handshake.Pairing, cfg *config.Config, tickSrc *tick.Source) *Connection {
	c := &Connection{
		log:    logging.New("conn"),
		cfg:    cfg,
		stream: stream,
		dec:    frame.NewDecoder(pairing.Decoder),
		enc:    frame.NewEncoder(pairing.Encoder),
		bridge: newBridge(cfg.ExternalPipeBytes, cfg.ExternalPipeFrames),
	}
	c.handle = Handle{
		ClientID: clientID,
		bridge:   c.bridge,
		cancel:   make(chan struct{}),
		once:     &atomic.Bool{},
	}
	if tickSrc != nil {
		c.ticks = tickSrc.Subscribe()
	}
	return c
}

// Handle returns the cheaply-cloneable shared handle peers use to reach
// this connection.
func (c *Connection) Handle() Handle { return c.handle }

// Run drives the connection's event loop until a fatal error, Migrate,
// or cancellation. It blocks until the loop exits.
func (c *Connection) Run(h Handler) {
	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()

	readCh := make(chan readResult, 1)
	c.Go(func() { c.readLoop(readCh) })

	var pingTicker *time.Ticker
	if c.cfg.PingInterval > 0 {
		pingTicker = time.NewTicker(c.cfg.PingInterval)
		defer pingTicker.Stop()
	}

	migrating := false

	// The event loop must observe the six sources in strict priority
	// order (spec.md §4.3) so a high inbound-frame rate can't starve ping
	// or cancellation. A plain Go select picks uniformly among ready
	// cases, so each iteration first polls every source from highest to
	// lowest priority non-blockingly; only once nothing is immediately
	// ready does it fall through to one real blocking select (so the
	// loop sleeps instead of spinning), then re-polls from the top.
loop:
	for {
		var pingCh <-chan time.Time
		if pingTicker != nil {
			pingCh = pingTicker.C
		}

		// 1. Inbound frame.
		select {
		case rr := <-readCh:
			if !c.handleRead(h, rr, &migrating) {
				break loop
			}
			continue loop
		default:
		}

		// 2. Ping interval tick.
		select {
		case <-pingCh:
			if !c.handlePingTick() {
				break loop
			}
			continue loop
		default:
		}

		// 3. External-frame pipe.
		select {
		case v, ok := <-c.bridge.out():
			if !c.handleBridge(v, ok) {
				break loop
			}
			continue loop
		default:
		}

		// 4. User-supplied out-of-band message.
		select {
		case msg, ok := <-userMsgCh(h):
			if ok {
				h.HandleUserMsg(msg)
			}
			continue loop
		default:
		}

		// 5. Tick broadcast.
		select {
		case t, ok := <-c.ticks:
			if ok {
				h.OnTick(t)
			}
			continue loop
		default:
		}

		// 6. Cancellation.
		select {
		case <-c.handle.cancel:
			break loop
		case <-c.HaltCh():
			break loop
		default:
		}

		// Nothing was immediately ready: block until something is. The
		// value received here is handled directly (there is no way to
		// "peek" a channel in Go), then the loop re-polls from priority
		// 1 so anything that arrived concurrently is still prioritized
		// correctly next iteration.
		select {
		case rr := <-readCh:
			if !c.handleRead(h, rr, &migrating) {
				break loop
			}
		case <-pingCh:
			if !c.handlePingTick() {
				break loop
			}
		case v, ok := <-c.bridge.out():
			if !c.handleBridge(v, ok) {
				break loop
			}
		case msg, ok := <-userMsgCh(h):
			if ok {
				h.HandleUserMsg(msg)
			}
		case t, ok := <-c.ticks:
			if ok {
				h.OnTick(t)
			}
		case <-c.handle.cancel:
			break loop
		case <-c.HaltCh():
			break loop
		}
	}

	if migrating {
		metrics.Migrations.Inc()
		h.Finish(true)
		time.Sleep(c.cfg.MigrateDelay)
	} else {
		h.Finish(false)
	}

	c.bridge.close()
	c.stream.Close()
	c.Halt()
}

// handleRead processes one inbound frame result, returning false if the
// event loop must exit.
func (c *Connection) handleRead(h Handler, rr readResult, migrating *bool) bool {
	if rr.err != nil {
		c.log.Errorf("conn %s: read error: %v", c.handle.ClientID, rr.err)
		return false
	}
	metrics.FramesIn.Inc()
	if c.bridge.missedSinceLastCheck() {
		c.log.Errorf("conn %s: %v", c.handle.ClientID, ErrMissedFrame)
		return false
	}
	switch h.HandleFrame(rr.payload) {
	case Migrate:
		*migrating = true
		return false
	case Pong:
		c.pendingPing.Store(false)
	case Ok:
	}
	return true
}

// handlePingTick fires the liveness timer, returning false (fatal
// PingTimeout) if no Pong was observed since the previous tick.
func (c *Connection) handlePingTick() bool {
	if c.pendingPing.Swap(true) {
		c.log.Errorf("conn %s: ping timeout", c.handle.ClientID)
		metrics.PingTimeouts.Inc()
		return false
	}
	if err := c.writeRaw(c.cfg.PingPacket); err != nil {
		c.log.Errorf("conn %s: ping write failed: %v", c.handle.ClientID, err)
		return false
	}
	return true
}

// handleBridge forwards one drained external-bridge frame to the writer
// as-is.
func (c *Connection) handleBridge(v any, ok bool) bool {
	if !ok {
		return true
	}
	item := v.(bridgeItem)
	c.bridge.consumed(item)
	if _, err := c.stream.Write(item.frame); err != nil {
		c.log.Errorf("conn %s: bridge write failed: %v", c.handle.ClientID, err)
		return false
	}
	metrics.FramesOut.Inc()
	return true
}

// userMsgCh returns Handler.UserMsgCh unchanged. A nil channel needs no
// special handling: select simply never picks a nil case.
func userMsgCh(h Handler) <-chan any {
	return h.UserMsgCh()
}

type readResult struct {
	payload []byte
	err     error
}

// readLoop blocks on the transport and decodes frames, forwarding each
// to ch. It is the connection's single inbound-frame producer.
func (c *Connection) readLoop(ch chan<- readResult) {
	buf := make([]byte, 4096)
	for {
		for {
			payload, err := c.dec.Next()
			if err == frame.ErrWantMore {
				break
			}
			select {
			case ch <- readResult{payload: payload, err: err}:
			case <-c.HaltCh():
				return
			}
			if err != nil {
				return
			}
		}

		n, err := c.stream.Read(buf)
		if n > 0 {
			c.dec.Feed(buf[:n])
		}
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			select {
			case ch <- readResult{err: err}:
			case <-c.HaltCh():
			}
			return
		}
	}
}

// SendRaw bypasses the typed layer and writes bytes as one frame.
func (c *Connection) SendRaw(payload []byte) error {
	return c.writeRaw(payload)
}

func (c *Connection) writeRaw(payload []byte) error {
	wire, err := c.enc.Encode(payload)
	if err != nil {
		return err
	}
	if _, err := c.stream.Write(wire); err != nil {
		return err
	}
	metrics.FramesOut.Inc()
	return nil
}

// SendEncoded writes the opcode then value through a scratch wire/message
// writer, then sends the result as one frame. encodeValue is the
// caller's typed-layer encode(value, writer) -> error implementation;
// the core requires only that the first two bytes of the scratch buffer
// are the opcode (spec.md §6).
func (c *Connection) SendEncoded(opcode uint16, encodeValue func(w *message.Writer) error) error {
	w := message.NewWriter(64)
	w.PutU16(opcode)
	if err := encodeValue(w); err != nil {
		return err
	}
	return c.writeRaw(w.Bytes())
}

// SendBuffered sends each already-encoded frame in order, one write at a
// time — the legacy client cannot reassemble coalesced frames, so this
// invariant must be preserved rather than batching the writes.
func (c *Connection) SendBuffered(frames [][]byte) error {
	for _, f := range frames {
		if _, err := c.stream.Write(f); err != nil {
			return err
		}
		metrics.FramesOut.Inc()
	}
	return nil
}

// Close closes the write half and drops the transport.
func (c *Connection) Close() error {
	c.handle.Cancel()
	return c.stream.Close()
}
