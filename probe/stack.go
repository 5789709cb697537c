package probe

import (
	"errors"
	"fmt"
)

// DefaultMaxDepth bounds block nesting.
const DefaultMaxDepth = 1024

// ErrStackOverflow is returned by Push past the configured depth.
var ErrStackOverflow = errors.New("block stack overflow")

// PopStatus is the outcome of CheckedPop.
type PopStatus int

const (
	// PopOK means the popped id was the expected one.
	PopOK PopStatus = iota
	// PopMismatch means a different id was on top. It was still popped.
	PopMismatch
	// PopEmpty means there was nothing to pop.
	PopEmpty
)

func (s PopStatus) String() string {
	switch s {
	case PopOK:
		return "ok"
	case PopMismatch:
		return "mismatch"
	case PopEmpty:
		return "empty"
	default:
		return fmt.Sprintf("PopStatus(%d)", int(s))
	}
}

// PopResult describes one CheckedPop.
type PopResult struct {
	Status   PopStatus
	Expected int
	// Got is the id that was on top, 0 when the stack was empty.
	Got int
}

// OK reports whether the pop matched.
func (r PopResult) OK() bool { return r.Status == PopOK }

// BlockStack is a bounded stack of open block ids.
type BlockStack struct {
	ids []int
	max int
}

// NewBlockStack returns a stack holding at most maxDepth ids.
// A non-positive maxDepth selects DefaultMaxDepth.
func NewBlockStack(maxDepth int) *BlockStack {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &BlockStack{max: maxDepth}
}

// Push opens block id.
func (s *BlockStack) Push(id int) error {
	if len(s.ids) >= s.max {
		return fmt.Errorf("%w: depth %d", ErrStackOverflow, s.max)
	}
	s.ids = append(s.ids, id)
	return nil
}

// Top returns the innermost open block.
func (s *BlockStack) Top() (int, bool) {
	if len(s.ids) == 0 {
		return 0, false
	}
	return s.ids[len(s.ids)-1], true
}

// CheckedPop closes the innermost block and compares it with expected.
func (s *BlockStack) CheckedPop(expected int) PopResult {
	if len(s.ids) == 0 {
		return PopResult{Status: PopEmpty, Expected: expected}
	}
	got := s.ids[len(s.ids)-1]
	s.ids = s.ids[:len(s.ids)-1]
	if got != expected {
		return PopResult{Status: PopMismatch, Expected: expected, Got: got}
	}
	return PopResult{Status: PopOK, Expected: expected, Got: got}
}

// Len returns the number of open blocks.
func (s *BlockStack) Len() int { return len(s.ids) }
