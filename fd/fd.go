// Package fd provides an owning file-descriptor wrapper. Every FD that
// arrives over SCM_RIGHTS becomes owned by the receiving session (spec
// §3) and must be closed on teardown unless a listener explicitly adopts
// it — this package makes that ownership transfer explicit in the type
// system rather than passing around bare ints, per DESIGN NOTES §9.
package fd

import (
	"os"
	"sync"
)

// FD is an owning handle to a raw file descriptor received via
// SCM_RIGHTS. The zero value is not usable; construct with New.
type FD struct {
	mu       sync.Mutex
	raw      int
	adopted  bool
	released bool
}

// New wraps a raw file descriptor, taking ownership of it.
func New(raw int) *FD {
	return &FD{raw: raw}
}

// Raw returns the underlying file descriptor without transferring
// ownership — the caller must not close it.
func (f *FD) Raw() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.raw
}

// IntoRaw adopts the descriptor: ownership transfers to the caller, who
// becomes responsible for eventually closing it. After IntoRaw, Close
// becomes a no-op.
func (f *FD) IntoRaw() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adopted = true
	return f.raw
}

// File wraps the descriptor in an *os.File for convenient stdlib I/O.
// Calling File also counts as adoption: the returned *os.File now owns
// the descriptor and closing it closes the fd.
func (f *FD) File(name string) *os.File {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adopted = true
	return os.NewFile(uintptr(f.raw), name)
}

// Close closes the descriptor unless it has been adopted or already
// released. Default disposition for an un-adopted FD is "close" (spec
// §5): a listener that returns without calling IntoRaw/File gets its FD
// closed automatically by the caller invoking Close in a defer.
func (f *FD) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.adopted || f.released || f.raw < 0 {
		return nil
	}
	f.released = true
	return closeRaw(f.raw)
}

// CloseAll closes every FD in fds that was not adopted, tolerating
// individual close errors (best-effort teardown).
func CloseAll(fds []*FD) {
	for _, f := range fds {
		_ = f.Close()
	}
}

// WrapAll wraps a slice of raw descriptors (as received from the
// transport layer) into owning FD handles.
func WrapAll(raw []int) []*FD {
	out := make([]*FD, len(raw))
	for i, r := range raw {
		out[i] = New(r)
	}
	return out
}
