package instrument

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks.
var (
	// ErrParse indicates the source could not be decomposed into statements.
	ErrParse = errors.New("parse error")
	// ErrStackMismatch indicates block markers were not properly nested.
	ErrStackMismatch = errors.New("block stack mismatch")
	// ErrNoContent is returned for units that never received source text.
	ErrNoContent = errors.New("unit has no content")
)

// ParseError reports malformed source for one unit.
type ParseError struct {
	// Origin is the unit's src.
	Origin string
	// Line and Column are 1-based.
	Line    int
	Column  int
	Message string
	Cause   error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse error in %s at %d:%d: %s", e.Origin, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("parse error in %s: %s", e.Origin, e.Message)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, ErrParse) true for any ParseError.
func (e *ParseError) Is(target error) bool { return target == ErrParse }

// StackMismatchError reports a block end that did not close the innermost
// open block. It means the serializer emitted inconsistent markers.
type StackMismatchError struct {
	Origin string
	// Line is the 1-based normalized line of the offending marker.
	Line     int
	Expected int
	// Got is the id found on top of the stack, 0 when it was empty.
	Got    int
	Detail string
}

func (e *StackMismatchError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("block stack mismatch in %s at line %d: %s", e.Origin, e.Line, e.Detail)
	}
	return fmt.Sprintf("block stack mismatch in %s at line %d: expected block %d, got %d",
		e.Origin, e.Line, e.Expected, e.Got)
}

// Is makes errors.Is(err, ErrStackMismatch) true for any StackMismatchError.
func (e *StackMismatchError) Is(target error) bool { return target == ErrStackMismatch }

// UnitError records a unit that was excluded from instrumentation.
type UnitError struct {
	Index  int
	Origin string
	Err    error
}

func (e UnitError) Error() string {
	return fmt.Sprintf("unit %d (%s): %v", e.Index, e.Origin, e.Err)
}

func (e UnitError) Unwrap() error { return e.Err }
