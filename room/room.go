// Package room implements the room actor (component I, spec.md §4.4):
// fan-out with per-source filtering, join/leave choreography, and
// forced-leave on dropped handles.
package room

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	avl "gitlab.com/yawning/avl.git"

	"github.com/wisp-net/shroomlink/internal/worker"
	"github.com/wisp-net/shroomlink/metrics"
	"github.com/wisp-net/shroomlink/tick"
)

// ErrFull is returned by SendTo when the target member's outbound
// channel is at capacity.
var ErrFull = errors.New("room: outbound channel full")

// ErrLeaveFailed is returned by a JoinHandle's SwitchTo when the current
// room refuses the leave (the handle's original membership is left
// intact).
var ErrLeaveFailed = errors.New("room: leave failed")

// State is the user-defined room behavior; On* callbacks run on the
// room's single owning goroutine and may assume uncontended access to
// any state they close over.
type State interface {
	OnJoin(key string, joinData any)
	OnLeave(key string)
	OnMsg(src string, msg any, r *Room)
	OnTick(r *Room)
}

// broadcastMsg is published on the room's fan-out channel; Src is nil for
// a plain Broadcast and set for BroadcastFilter.
type broadcastMsg struct {
	src *string
	msg any
}

type member struct {
	key     string
	outbound chan any
	bcastSub chan broadcastMsg
	forceLeave chan struct{}
	left    atomic.Bool
}

type inboundMsg struct {
	src *string
	msg any
}

// leaveReq is the explicit-leave request; ack is closed once the member
// has been removed, letting the caller await acknowledgement before
// proceeding (e.g. to join another room in SwitchTo).
type leaveReq struct {
	key string
	ack chan struct{}
}

// Room owns a user State and mediates messaging between a dynamic set of
// joined connections.
type Room struct {
	worker.Worker

	name  string
	state State

	inputCh     chan inboundMsg
	forceLeaveCh chan string
	leaveCh     chan leaveReq

	mu      sync.Mutex
	members *avl.Tree
	count   atomic.Int64

	broadcastCap int
}

// Config is room spawn configuration (spec.md §6's room-spawn options).
type Config struct {
	Name         string
	CreateData   any
	TickSub      *tick.Source
	RoomInputCap int
	BroadcastCap int
}

// New spawns a room's background goroutine and returns the running Room.
func New(cfg Config, state State) *Room {
	r := &Room{
		name:         cfg.Name,
		state:        state,
		inputCh:      make(chan inboundMsg, cfg.RoomInputCap),
		forceLeaveCh: make(chan string, cfg.RoomInputCap),
		leaveCh:      make(chan leaveReq),
		members:      avl.New(memberLess),
		broadcastCap: cfg.BroadcastCap,
	}
	var ticks chan uint64
	if cfg.TickSub != nil {
		ticks = cfg.TickSub.Subscribe()
	}
	r.Go(func() { r.run(ticks) })
	return r
}

func memberLess(a, b any) bool {
	return a.(*member).key < b.(*member).key
}

func (r *Room) run(ticks <-chan uint64) {
	for {
		select {
		case m := <-r.inputCh:
			r.dispatch(m)
		case req := <-r.leaveCh:
			r.removeMember(req.key)
			close(req.ack)
		case k := <-r.forceLeaveCh:
			r.removeMember(k)
		case <-ticks:
			r.drainForceLeaves()
			r.state.OnTick(r)
		case <-r.HaltCh():
			return
		}
	}
}

func (r *Room) drainForceLeaves() {
	for {
		select {
		case k := <-r.forceLeaveCh:
			r.removeMember(k)
		default:
			return
		}
	}
}

func (r *Room) dispatch(m inboundMsg) {
	var src string
	if m.src != nil {
		src = *m.src
	}
	r.state.OnMsg(src, m.msg, r)
}

func (r *Room) removeMember(key string) {
	r.mu.Lock()
	r.members.Remove(&member{key: key})
	r.mu.Unlock()
	r.count.Add(-1)
	metrics.RoomMembers.WithLabelValues(r.name).Set(float64(r.count.Load()))
	r.state.OnLeave(key)
}

// JoinHandle is what a joined connection holds: its key, a sender back to
// the room, a merged-stream receiver, and a force-leave signaling sender.
type JoinHandle struct {
	Key          string
	room         *Room
	outbound     chan any
	bcastSub     chan broadcastMsg
	forceLeaveCh chan string
	left         atomic.Bool
}

// Join inserts key into the room's member set, runs state.OnJoin, and
// returns a handle.
func (r *Room) Join(key string, joinData any, outboundCap int) *JoinHandle {
	m := &member{
		key:        key,
		outbound:   make(chan any, outboundCap),
		bcastSub:   make(chan broadcastMsg, r.broadcastCap),
		forceLeave: make(chan struct{}),
	}

	r.mu.Lock()
	r.members.Insert(m)
	r.mu.Unlock()
	r.count.Add(1)
	metrics.RoomMembers.WithLabelValues(r.name).Set(float64(r.count.Load()))

	r.state.OnJoin(key, joinData)

	h := &JoinHandle{
		Key:          key,
		room:         r,
		outbound:     m.outbound,
		bcastSub:     m.bcastSub,
		forceLeaveCh: r.forceLeaveCh,
	}
	// A handle garbage-collected without Leave or SwitchTo signals a force
	// leave; the send never blocks.
	runtime.SetFinalizer(h, func(h *JoinHandle) {
		if !h.left.Load() {
			select {
			case h.forceLeaveCh <- h.Key:
			default:
			}
		}
	})
	return h
}

// Send enqueues msg on the room's input queue as coming from h.
func (h *JoinHandle) Send(msg any) {
	src := h.Key
	select {
	case h.room.inputCh <- inboundMsg{src: &src, msg: msg}:
	default:
		// Room input queue full: per spec.md §5, senders may choose to
		// drop rather than block.
	}
}

// Leave explicitly removes h from the room and awaits the room's
// acknowledgement before returning.
func (h *JoinHandle) Leave() {
	if h.left.Swap(true) {
		return
	}
	ack := make(chan struct{})
	h.room.leaveCh <- leaveReq{key: h.Key, ack: ack}
	<-ack
}

// SwitchTo atomically leaves h's current room and joins other, replacing
// h's membership in place. On leave failure (the room halted mid-request)
// the switch is aborted and h's original membership is left intact.
func (h *JoinHandle) SwitchTo(other *Room, joinData any, outboundCap int) (*JoinHandle, error) {
	if h.left.Swap(true) {
		return nil, ErrLeaveFailed
	}

	ack := make(chan struct{})
	select {
	case h.room.leaveCh <- leaveReq{key: h.Key, ack: ack}:
		<-ack
	case <-h.room.HaltCh():
		h.left.Store(false)
		return nil, ErrLeaveFailed
	}

	return other.Join(h.Key, joinData, outboundCap), nil
}

// Channels exposes h's merged-stream receive operation as its two
// component channels: a direct message or a (possibly source-filtered)
// broadcast. Callers select on both.
func (h *JoinHandle) Channels() (outbound <-chan any, broadcast <-chan broadcastMsg) {
	return h.outbound, h.bcastSub
}

// Broadcast publishes msg with no source, delivered to every member.
func (r *Room) Broadcast(msg any) {
	r.publish(nil, msg)
}

// BroadcastFilter publishes msg attributed to src; every member whose key
// differs from src receives it, src's own subscription drops it.
func (r *Room) BroadcastFilter(msg any, src string) {
	r.publish(&src, msg)
}

func (r *Room) publish(src *string, msg any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it := r.members.Iterator()
	for it.Next() {
		m := it.Value().(*member)
		if src != nil && m.key == *src {
			continue
		}
		select {
		case m.bcastSub <- broadcastMsg{src: src, msg: msg}:
		default:
			// Overflow on a subscriber drops that subscriber's view only
			// (spec.md §5: "observable as a gap").
		}
	}
}

// SendTo is a direct try-send on a specific member's outbound channel.
func (r *Room) SendTo(key string, msg any) error {
	r.mu.Lock()
	v := r.members.Get(&member{key: key})
	r.mu.Unlock()
	if v == nil {
		return errors.New("room: no such member")
	}
	m := v.(*member)
	select {
	case m.outbound <- msg:
		return nil
	default:
		return ErrFull
	}
}

// MemberCount returns the current member count.
func (r *Room) MemberCount() int64 {
	return r.count.Load()
}
