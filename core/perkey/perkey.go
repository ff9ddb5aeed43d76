// Package perkey serializes work per key while work for different keys runs
// concurrently.
//
// The event store wraps every append in Scheduler.DoContext keyed by the
// aggregate ID. Each key owns a lane: a one-slot semaphore plus a count of
// callers holding or waiting for it. Lanes are created on first use and
// dropped when the last caller leaves, so memory follows the number of keys
// with work in flight, not the number of keys ever seen.
package perkey

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Do and DoContext after Close.
var ErrClosed = errors.New("perkey: scheduler closed")

type Scheduler[K comparable] struct {
	mu       sync.Mutex
	lanes    map[K]*lane
	closed   bool
	inflight sync.WaitGroup
}

type lane struct {
	slot chan struct{}
	refs int // guarded by Scheduler.mu
}

func New[K comparable]() *Scheduler[K] {
	return &Scheduler[K]{lanes: make(map[K]*lane)}
}

// Do runs fn once every earlier call for key has finished.
func (s *Scheduler[K]) Do(key K, fn func() error) error {
	return s.DoContext(context.Background(), key, fn)
}

// DoContext is Do with a deadline on waiting. If ctx ends before fn gets the
// lane, fn never runs. If ctx ends while fn runs, DoContext returns ctx.Err()
// and fn still runs to completion, holding the lane until it does. Waiters
// for one key are served in arrival order.
func (s *Scheduler[K]) DoContext(ctx context.Context, key K, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l, err := s.join(key)
	if err != nil {
		return err
	}

	select {
	case l.slot <- struct{}{}:
	case <-ctx.Done():
		s.leave(key, l)
		return ctx.Err()
	}

	done := make(chan error, 1)
	go func() {
		err := fn()
		<-l.slot
		s.leave(key, l)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of keys with work running or waiting.
func (s *Scheduler[K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lanes)
}

// Close rejects new work and blocks until everything already admitted,
// including work whose caller stopped waiting, has finished.
func (s *Scheduler[K]) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.inflight.Wait()
}

func (s *Scheduler[K]) join(key K) (*lane, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	l, ok := s.lanes[key]
	if !ok {
		l = &lane{slot: make(chan struct{}, 1)}
		s.lanes[key] = l
	}
	l.refs++
	s.inflight.Add(1)
	return l, nil
}

func (s *Scheduler[K]) leave(key K, l *lane) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.lanes, key)
	}
	s.inflight.Done()
}
