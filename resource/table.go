package resource

import (
	"sync"
)

// UnifiedTable is the handle table of one sandbox.
type UnifiedTable struct {
	backend   *LocalBackend
	observers []Observer
	obsMu     sync.RWMutex
}

// NewTable creates a new table with a LocalBackend.
func NewTable() *UnifiedTable {
	return &UnifiedTable{
		backend: NewLocalBackend(),
	}
}

// Reserve issues a handle that Attach will later bind.
func (t *UnifiedTable) Reserve() (Handle, error) {
	return t.backend.Reserve()
}

// Attach binds entry to a reserved handle.
func (t *UnifiedTable) Attach(handle Handle, entry *Entry) error {
	if err := t.backend.Attach(handle, entry); err != nil {
		return err
	}

	t.notify(Event{
		Type:   EventCreated,
		Handle: handle,
		Kind:   entry.Kind,
		Entry:  entry,
	})
	return nil
}

// Discard gives up a reserved handle that was never attached. The
// handle is not reissued.
func (t *UnifiedTable) Discard(handle Handle) {
	t.backend.Release(handle)
}

// Insert reserves a handle and attaches entry to it.
func (t *UnifiedTable) Insert(entry *Entry) (Handle, error) {
	h, err := t.backend.Reserve()
	if err != nil {
		return 0, err
	}
	if err := t.Attach(h, entry); err != nil {
		return 0, err
	}
	return h, nil
}

// Get retrieves an entry by handle.
func (t *UnifiedTable) Get(handle Handle) (*Entry, bool) {
	return t.backend.Get(handle)
}

// GetKind retrieves an entry only if it is of the expected kind.
func (t *UnifiedTable) GetKind(handle Handle, kind Kind) (*Entry, bool) {
	e, ok := t.backend.Get(handle)
	if !ok || e.Kind != kind {
		return nil, false
	}
	return e, true
}

// Remove drops an entry and returns it.
func (t *UnifiedTable) Remove(handle Handle) (*Entry, bool) {
	e, ok := t.backend.Drop(handle)
	if !ok {
		return nil, false
	}

	t.notify(Event{
		Type:   EventDropped,
		Handle: handle,
		Kind:   e.Kind,
		Entry:  e,
	})
	return e, true
}

// Handles returns the live handles of one kind, in issue order.
func (t *UnifiedTable) Handles(kind Kind) []Handle {
	var out []Handle
	t.backend.Each(func(h Handle, e *Entry) bool {
		if e.Kind == kind {
			out = append(out, h)
		}
		return true
	})
	return out
}

// Each iterates over all live entries.
func (t *UnifiedTable) Each(fn func(Handle, *Entry) bool) {
	t.backend.Each(fn)
}

// Subscribe adds an observer for lifecycle events.
func (t *UnifiedTable) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer.
func (t *UnifiedTable) Unsubscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, obs := range t.observers {
		if obs == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

// Len returns the number of live entries.
func (t *UnifiedTable) Len() int {
	return t.backend.Len()
}

// Close drops every remaining entry, calling Drop on values that
// implement Dropper, and stops issuing handles.
func (t *UnifiedTable) Close() error {
	left, err := t.backend.Close()
	for _, h := range sortedHandles(left) {
		e := left[h]
		_, _ = e.Close(func() error {
			if d, ok := e.Value.(Dropper); ok {
				d.Drop()
			}
			return nil
		})
		t.notify(Event{Type: EventDropped, Handle: h, Kind: e.Kind, Entry: e})
	}
	return err
}

func (t *UnifiedTable) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}
