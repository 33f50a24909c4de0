// Package ffi holds the boundary machinery behind the exported C ABI: status
// codes, the retrievable last-error slot, opaque handle registries and the
// panic guard. It is pure Go so the whole boundary contract is testable
// without cgo.
package ffi

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/gomlx/exceptions"
)

// Status codes returned by every exported function. A nonzero code means the
// error message is retrievable through LastErrorLength and CopyLastError.
const (
	// StatusOK means the call succeeded.
	StatusOK int32 = 0
	// StatusError means the engine reported a recoverable error, for example
	// a coefficient-load or device failure.
	StatusError int32 = 1
	// StatusInvalidArg means a caller-supplied flag or size failed
	// validation before any unsafe memory was touched.
	StatusInvalidArg int32 = 2
	// StatusPanic means an internal fatal failure was intercepted at the
	// boundary. The call failed; engine state must not be assumed valid.
	StatusPanic int32 = -1
)

// InvalidArgError marks a validation failure so Guard can map it to
// StatusInvalidArg.
type InvalidArgError struct {
	msg string
}

func (e *InvalidArgError) Error() string { return e.msg }

// Invalidf builds a validation error.
func Invalidf(format string, args ...any) error {
	return &InvalidArgError{msg: fmt.Sprintf(format, args...)}
}

// The last-error slot is process-wide, matching the single-slot contract of
// the C ABI. Boundary calls from multiple threads sharing the slot must be
// externally serialized; the slot itself is locked only so readers never see
// a torn write.
var (
	lastErrMu sync.Mutex
	lastErr   string
)

// SetLastError records a message for later retrieval.
func SetLastError(msg string) {
	lastErrMu.Lock()
	lastErr = msg
	lastErrMu.Unlock()
}

// LastErrorLength returns the buffer size needed for CopyLastError, including
// the trailing NUL.
func LastErrorLength() int {
	lastErrMu.Lock()
	defer lastErrMu.Unlock()
	return len(lastErr) + 1
}

// CopyLastError writes the NUL-terminated last error into buf and returns the
// number of bytes written, or -1 when buf is too small.
func CopyLastError(buf []byte) int {
	lastErrMu.Lock()
	defer lastErrMu.Unlock()
	if len(buf) < len(lastErr)+1 {
		return -1
	}
	n := copy(buf, lastErr)
	buf[n] = 0
	return n + 1
}

// Guard runs fn and translates its outcome into a status code. Any panic is
// captured as a value instead of terminating the process, its message stored
// in the last-error slot.
func Guard(fn func() error) int32 {
	var err error
	if exception := exceptions.Try(func() { err = fn() }); exception != nil {
		SetLastError(fmt.Sprint(exception))
		return StatusPanic
	}
	if err == nil {
		return StatusOK
	}
	SetLastError(err.Error())
	var inv *InvalidArgError
	if stderrors.As(err, &inv) {
		return StatusInvalidArg
	}
	return StatusError
}

// Registry hands out opaque uintptr handles for values crossing the boundary.
// Each Put returns a fresh handle; Remove invalidates it exactly once.
// Handles are never zero and never reused within a process lifetime.
type Registry[T any] struct {
	mu    sync.Mutex
	next  uintptr
	items map[uintptr]T
}

// NewRegistry creates an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{items: make(map[uintptr]T)}
}

// Put stores v and returns its handle.
func (r *Registry[T]) Put(v T) uintptr {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.items[r.next] = v
	return r.next
}

// Get looks a handle up.
func (r *Registry[T]) Get(h uintptr) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.items[h]
	if !ok {
		var zero T
		return zero, Invalidf("invalid or already-freed handle %#x", h)
	}
	return v, nil
}

// Remove invalidates a handle and returns its value so the caller can release
// owned resources.
func (r *Registry[T]) Remove(h uintptr) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.items[h]
	if !ok {
		var zero T
		return zero, Invalidf("invalid or already-freed handle %#x", h)
	}
	delete(r.items, h)
	return v, nil
}
