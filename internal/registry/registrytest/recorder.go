// Package registrytest provides an in-memory sink for tests.
package registrytest

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/souravmenon1999/dex-order-engine/internal/types"
)

// Recorder is a Sink that keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []types.StatusEvent
	closed atomic.Bool
	fail   atomic.Bool
	notify chan struct{}
}

func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 64)}
}

func (r *Recorder) IsOpen() bool { return !r.closed.Load() }

func (r *Recorder) Send(event types.StatusEvent) error {
	if r.fail.Load() {
		return errors.New("write failed")
	}
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return nil
}

// Close makes the recorder report itself closed.
func (r *Recorder) Close() { r.closed.Store(true) }

// FailSends makes every following Send return an error.
func (r *Recorder) FailSends() { r.fail.Store(true) }

// Events returns a copy of the received events.
func (r *Recorder) Events() []types.StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.StatusEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Stages returns the stage of each received event.
func (r *Recorder) Stages() []types.Stage {
	events := r.Events()
	out := make([]types.Stage, len(events))
	for i, e := range events {
		out[i] = e.Stage
	}
	return out
}

// WaitTerminal blocks until a confirmed or failed event arrives or timeout
// elapses. It reports whether a terminal event was seen.
func (r *Recorder) WaitTerminal(timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		for _, s := range r.Stages() {
			if s.IsTerminal() {
				return true
			}
		}
		select {
		case <-r.notify:
		case <-deadline.C:
			return false
		}
	}
}
