// Package xerrors provides error construction and wrapping that records
// caller provenance as program counters, resolved lazily by the logger.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxStackDepth = 64

type stacked struct {
	err error
	pcs []uintptr
}

func (s *stacked) Error() string       { return s.err.Error() }
func (s *stacked) Unwrap() error       { return s.err }
func (s *stacked) StackPCs() []uintptr { return s.pcs }
func (s *stacked) isTraced()           {}

type annotated struct {
	err error
	msg string
	pc  uintptr
}

func (a *annotated) Error() string { return a.msg + ": " + a.err.Error() }
func (a *annotated) Unwrap() error { return a.err }
func (a *annotated) PC() uintptr   { return a.pc }
func (a *annotated) isTraced()     {}

func stackPCs(skip int) []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	// skip runtime.Callers and stackPCs itself
	n := runtime.Callers(2+skip, pcs)
	return pcs[:n]
}

func onePC(skip int) uintptr {
	var pcs [1]uintptr
	if runtime.Callers(2+skip, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

// New returns an error carrying a stack captured at the call site.
func New(msg string) error { return &stacked{err: errors.New(msg), pcs: stackPCs(1)} }

// Newf is New with fmt.Errorf formatting. %w works as usual.
func Newf(format string, args ...any) error {
	return &stacked{err: fmt.Errorf(format, args...), pcs: stackPCs(1)}
}

// Wrap annotates err with msg and the caller's program counter.
// Returns nil when err is nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &annotated{err: err, msg: msg, pc: onePC(1)}
}

// Wrapf is Wrap with formatting.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &annotated{err: err, msg: fmt.Sprintf(format, args...), pc: onePC(1)}
}

// WithStack attaches a full stack to err without changing its message.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return &stacked{err: err, pcs: stackPCs(1)}
}

// EnsureTrace attaches a stack only when the chain does not already
// carry one, so boundary code can call it unconditionally.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	type hasStack interface{ StackPCs() []uintptr }
	var hs hasStack
	if errors.As(err, &hs) && hs != nil && len(hs.StackPCs()) > 0 {
		return err
	}
	return &stacked{err: err, pcs: stackPCs(1)}
}
