// Package worker provides the halt-pattern embeddable type used by every
// background goroutine owner in this module (connection event loop, room
// actor, tick source). It is reconstructed from the call sites
// that use it in the reference connection/stream/transport code
// (client2.connection, sockatz/common.QUICProxyConn, stream.Stream): embed
// a Worker, launch background work with Go, and select on HaltCh()
// everywhere the goroutine can block.
package worker

import "sync"

// Worker gives an embedding type a goroutine lifecycle: Go launches
// background work, HaltCh returns a channel that closes when Halt is
// called, and Halt blocks until every launched goroutine has returned.
type Worker struct {
	initOnce sync.Once
	haltCh   chan struct{}
	haltOnce sync.Once
	wg       sync.WaitGroup
}

// HaltCh returns the channel that closes when Halt is called. Every
// blocking select in a worker's goroutines must include a case on this
// channel.
func (w *Worker) HaltCh() <-chan struct{} {
	w.ensure()
	return w.haltCh
}

// Go launches fn in a new goroutine tracked by this Worker.
func (w *Worker) Go(fn func()) {
	w.ensure()
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn()
	}()
}

// Halt closes HaltCh (idempotently) and blocks until every goroutine
// launched with Go has returned.
func (w *Worker) Halt() {
	w.ensure()
	w.haltOnce.Do(func() { close(w.haltCh) })
	w.wg.Wait()
}

func (w *Worker) ensure() {
	w.initOnce.Do(func() {
		w.haltCh = make(chan struct{})
	})
}
