// Package interrupt carries the global user-interrupt signal (Ctrl-C)
// between the front-end and the suspension points that honor it.
package interrupt

import (
	"os"
	"os/signal"
	"syscall"
)

// Signal is a one-shot interrupt flag. Triggering an already-pending
// signal is a no-op; consuming drains it, so a single keypress cancels at
// most one suspension point instead of re-firing on every poll.
type Signal struct {
	ch chan struct{}
}

// New returns an untriggered signal.
func New() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Trigger marks the signal pending. Safe to call from any goroutine.
func (s *Signal) Trigger() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Consume reports whether an interrupt was pending and clears it.
func (s *Signal) Consume() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// NotifyOnSIGINT forwards SIGINT to the signal until stop is called.
func (s *Signal) NotifyOnSIGINT() (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
				s.Trigger()
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}
