package watcher

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

// A watch emits at most three events, so sends never block.
const eventBuffer = 8

// Stream delivers the events of one watch. Events is closed once the watch
// reaches a terminal state or is cancelled.
type Stream struct {
	events chan Event
	done   chan struct{}
	cancel context.CancelFunc

	cancelOnce sync.Once

	mutex sync.Mutex
	state State
	err   error
	subs  []ethereum.Subscription
}

func newStream(cancel context.CancelFunc) *Stream {
	return &Stream{
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
		cancel: cancel,
		state:  Created,
	}
}

func (s *Stream) Events() <-chan Event {
	return s.events
}

// Done is closed after the watch goroutine has exited and every log
// subscription it opened has been released.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Cancel stops the watch and blocks until it has shut down. It is safe to
// call more than once and after the watch finished on its own.
func (s *Stream) Cancel() {
	s.cancelOnce.Do(s.cancel)
	<-s.done
	s.release()
}

func (s *Stream) State() State {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state
}

// Err returns the terminal error, if any.
func (s *Stream) Err() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.err
}

// Wait blocks until the watch ends and returns its terminal error.
func (s *Stream) Wait() error {
	<-s.done
	return s.Err()
}

// Result drains Events and returns the destination receipt together with the
// terminal error. The receipt is nil when the watch did not complete.
func (s *Stream) Result() (*types.Receipt, error) {
	var dest *types.Receipt
	for ev := range s.events {
		if ev.Kind == DestinationTxReceipt {
			dest = ev.Receipt
		}
	}
	if err := s.Wait(); err != nil {
		return nil, err
	}
	return dest, nil
}

func (s *Stream) setState(state State) {
	s.mutex.Lock()
	s.state = state
	s.mutex.Unlock()
}

func (s *Stream) finish(state State, err error) {
	s.mutex.Lock()
	s.state = state
	s.err = err
	s.mutex.Unlock()
}

// track registers a log subscription to be released when the watch ends.
func (s *Stream) track(sub ethereum.Subscription) {
	s.mutex.Lock()
	s.subs = append(s.subs, sub)
	s.mutex.Unlock()
}

// untrack releases a single subscription ahead of the watch ending.
func (s *Stream) untrack(sub ethereum.Subscription) {
	s.mutex.Lock()
	for i, tracked := range s.subs {
		if tracked == sub {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			break
		}
	}
	s.mutex.Unlock()
	sub.Unsubscribe()
}

func (s *Stream) release() {
	s.mutex.Lock()
	subs := s.subs
	s.subs = nil
	s.mutex.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

func (s *Stream) emit(ev Event) {
	s.events <- ev
}

func (s *Stream) close() {
	s.release()
	close(s.events)
	close(s.done)
}
