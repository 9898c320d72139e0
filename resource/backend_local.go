package resource

import (
	"errors"
	"slices"
	"sync"
)

var (
	ErrClosed      = errors.New("resource table closed")
	ErrNotReserved = errors.New("handle was not reserved")
)

// LocalBackend is an in-memory backend. Handles come from a counter
// that only moves forward.
type LocalBackend struct {
	entries  map[Handle]*Entry
	reserved map[Handle]struct{}
	next     Handle
	mu       sync.RWMutex
	closed   bool
}

// NewLocalBackend creates a new in-memory backend.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{
		entries:  make(map[Handle]*Entry, 64),
		reserved: make(map[Handle]struct{}),
	}
}

// Reserve issues a fresh handle.
func (b *LocalBackend) Reserve() (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrClosed
	}
	b.next++
	b.reserved[b.next] = struct{}{}
	return b.next, nil
}

// Attach binds entry to a handle returned by Reserve.
func (b *LocalBackend) Attach(handle Handle, entry *Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if _, ok := b.reserved[handle]; !ok {
		return ErrNotReserved
	}
	delete(b.reserved, handle)
	b.entries[handle] = entry
	return nil
}

// Release forgets a reserved handle that was never attached.
func (b *LocalBackend) Release(handle Handle) {
	b.mu.Lock()
	delete(b.reserved, handle)
	b.mu.Unlock()
}

// Get retrieves an entry by handle.
func (b *LocalBackend) Get(handle Handle) (*Entry, bool) {
	if handle == 0 {
		return nil, false
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.entries[handle]
	return e, ok
}

// Drop removes an entry and returns it.
func (b *LocalBackend) Drop(handle Handle) (*Entry, bool) {
	if handle == 0 {
		return nil, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[handle]
	if !ok {
		return nil, false
	}
	delete(b.entries, handle)
	return e, true
}

// Close drops all entries and returns the ones still present.
func (b *LocalBackend) Close() (map[Handle]*Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, nil
	}
	b.closed = true

	left := b.entries
	b.entries = make(map[Handle]*Entry)
	b.reserved = make(map[Handle]struct{})
	return left, nil
}

// Len returns the number of attached entries.
func (b *LocalBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Each iterates over attached entries in handle order. fn runs without
// the backend lock held.
func (b *LocalBackend) Each(fn func(Handle, *Entry) bool) {
	b.mu.RLock()
	handles := sortedHandles(b.entries)
	entries := make([]*Entry, len(handles))
	for i, h := range handles {
		entries[i] = b.entries[h]
	}
	b.mu.RUnlock()

	for i, h := range handles {
		if !fn(h, entries[i]) {
			return
		}
	}
}

func sortedHandles(m map[Handle]*Entry) []Handle {
	out := make([]Handle, 0, len(m))
	for h := range m {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}
