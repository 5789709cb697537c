// Package iox provides I/O helpers for resource cleanup.
package iox

import (
	"errors"
	"io"
	"sync"
)

// DiscardClose closes c and discards the error.
// Use in defer statements where close errors are unactionable:
//
//	defer iox.DiscardClose(f)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc returns a cleanup function that closes c.
//
//	t.Cleanup(iox.CloseFunc(client))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// DiscardErr calls fn and discards the returned error.
//
//	defer iox.DiscardErr(policy.Flush)
func DiscardErr(fn func() error) { _ = fn() }

// Closer adapts a function to io.Closer.
type Closer func() error

// Close calls f.
func (f Closer) Close() error { return f() }

// Stack closes resources in reverse order of acquisition. Components are
// pushed as they are opened (store, policy, adapters, exporter) and torn
// down together. The zero value is ready to use.
type Stack struct {
	mu      sync.Mutex
	closers []io.Closer
}

// Push adds c to the stack. Nil closers are ignored.
func (s *Stack) Push(c io.Closer) {
	if c == nil {
		return
	}
	s.mu.Lock()
	s.closers = append(s.closers, c)
	s.mu.Unlock()
}

// Close closes every pushed closer, last first, and joins their errors.
// The stack is empty afterwards.
func (s *Stack) Close() error {
	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
