package worker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHaltWaitsForGoroutines(t *testing.T) {
	var w Worker
	var ran atomic.Bool

	w.Go(func() {
		<-w.HaltCh()
		ran.Store(true)
	})

	done := make(chan struct{})
	go func() {
		w.Halt()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Halt did not return")
	}
	require.True(t, ran.Load())
}

func TestHaltIsIdempotent(t *testing.T) {
	var w Worker
	w.Go(func() { <-w.HaltCh() })

	done := make(chan struct{})
	go func() {
		w.Halt()
		w.Halt()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second Halt call did not return")
	}
}

func TestConcurrentGoAndHaltChBeforeFirstUse(t *testing.T) {
	var w Worker
	done := make(chan struct{})
	go func() {
		_ = w.HaltCh()
		close(done)
	}()
	w.Go(func() {})
	<-done
	w.Halt()
}
