package conn

import (
	"errors"
	"sync/atomic"

	channels "gopkg.in/eapache/channels.v1"

	"github.com/wisp-net/shroomlink/metrics"
)

// ErrOutOfCapacity is returned by Handle.TrySendFrame/TrySendAllFrames
// when the external-sender bridge's byte or frame cap would be exceeded.
var ErrOutOfCapacity = errors.New("conn: out of capacity")

// ErrMissedFrame is surfaced to a connection's reader after its external
// bridge has dropped at least one frame; spec.md §5 requires the
// connection treat this as fatal (no partial delivery).
var ErrMissedFrame = errors.New("conn: missed frame")

// bridgeItem is one already-encoded frame queued on the external-sender
// bridge.
type bridgeItem struct {
	frame []byte
}

// bridge is the connection's single-reader framed pipe fed by any number
// of Handle clones, bounded by both total buffered bytes and frame count
// (spec.md §4.3's "External-sender bridge"). It wraps an
// eapache/channels ring buffer with the dual-bound accounting the ring
// buffer alone doesn't provide.
type bridge struct {
	ch *channels.InfiniteChannel

	maxBytes  int
	maxFrames int

	bufferedBytes atomic.Int64
	bufferedFrames atomic.Int64
	missed         atomic.Int64
}

func newBridge(maxBytes, maxFrames int) *bridge {
	return &bridge{
		ch:        channels.NewInfiniteChannel(),
		maxBytes:  maxBytes,
		maxFrames: maxFrames,
	}
}

// tryPush enqueues frame if doing so would not exceed either bound.
func (b *bridge) tryPush(frame []byte) error {
	if b.bufferedFrames.Load() >= int64(b.maxFrames) {
		b.missed.Add(1)
		metrics.MissedFrames.Inc()
		return ErrOutOfCapacity
	}
	if b.bufferedBytes.Load()+int64(len(frame)) > int64(b.maxBytes) {
		b.missed.Add(1)
		metrics.MissedFrames.Inc()
		return ErrOutOfCapacity
	}
	b.bufferedFrames.Add(1)
	b.bufferedBytes.Add(int64(len(frame)))
	b.ch.In() <- bridgeItem{frame: frame}
	return nil
}

// out is the single-reader side the connection's event loop selects on.
func (b *bridge) out() <-chan any {
	return b.ch.Out()
}

func (b *bridge) consumed(item bridgeItem) {
	b.bufferedFrames.Add(-1)
	b.bufferedBytes.Add(-int64(len(item.frame)))
}

// missedSinceLastCheck reports whether any frame has been dropped and
// resets the counter, used by the connection to raise ErrMissedFrame on
// the next consumed inbound frame.
func (b *bridge) missedSinceLastCheck() bool {
	return b.missed.Swap(0) > 0
}

func (b *bridge) close() {
	b.ch.Close()
}

// Handle is the cheaply-cloneable value peers (rooms, other connections)
// use to reach a connection: a client id, a reference to its
// external-sender bridge, and a cancellation switch.
type Handle struct {
	ClientID string

	bridge *bridge
	cancel chan struct{}
	once   *atomic.Bool
}

// TrySendFrame offers one already-encoded frame to the connection's
// external-sender bridge.
func (h *Handle) TrySendFrame(frame []byte) error {
	return h.bridge.tryPush(frame)
}

// TrySendAllFrames offers each frame in frames in order, stopping at the
// first one that doesn't fit.
func (h *Handle) TrySendAllFrames(frames [][]byte) error {
	for _, f := range frames {
		if err := h.TrySendFrame(f); err != nil {
			return err
		}
	}
	return nil
}

// Cancel requests the owning connection's event loop exit cleanly.
func (h *Handle) Cancel() {
	if h.once.CompareAndSwap(false, true) {
		close(h.cancel)
	}
}
