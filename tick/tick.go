// Package tick implements the single background timer that broadcasts a
// monotonic counter to many subscribers (component K, spec.md §4.6). It
// is the one place in this module that owns the shared tick timer;
// connections and rooms subscribe instead of running their own tick timer.
// A connection's ping timer is separate and owned by the connection.
package tick

import (
	"sync"
	"time"

	"github.com/wisp-net/shroomlink/internal/worker"
)

// Source is the background tick generator. The zero value is not usable;
// construct with New.
type Source struct {
	worker.Worker

	mu   sync.Mutex
	cur  uint64
	subs map[chan uint64]struct{}
}

// New starts a Source ticking every d.
func New(d time.Duration) *Source {
	s := &Source{subs: make(map[chan uint64]struct{})}
	s.Go(func() { s.run(d) })
	return s
}

func (s *Source) run(d time.Duration) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-s.HaltCh():
			return
		case <-t.C:
			s.mu.Lock()
			s.cur++
			cur := s.cur
			for ch := range s.subs {
				select {
				case ch <- cur:
				default:
					// Missed ticks collapse: a subscriber that hasn't
					// drained its 1-slot watch channel just sees the next
					// advance instead.
					select {
					case <-ch:
					default:
					}
					ch <- cur
				}
			}
			s.mu.Unlock()
		}
	}
}

// Subscribe returns a channel delivering the current tick count on first
// observation and each subsequent advance (watch semantics). Call
// Unsubscribe when done.
func (s *Source) Subscribe() chan uint64 {
	ch := make(chan uint64, 1)
	s.mu.Lock()
	ch <- s.cur
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

// Unsubscribe stops delivery to a channel returned by Subscribe.
func (s *Source) Unsubscribe(ch chan uint64) {
	s.mu.Lock()
	delete(s.subs, ch)
	s.mu.Unlock()
}
