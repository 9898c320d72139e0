package resource

import (
	"sync"
)

// Handle is an opaque reference to an entry in a table.
// Handle 0 is reserved and always invalid.
type Handle uint64

// Kind is the kind of host resource an entry holds.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindMessageListener
	KindConnListener
	KindSocket
	KindFile
	KindTimer
)

func (k Kind) String() string {
	switch k {
	case KindMessageListener:
		return "message-listener"
	case KindConnListener:
		return "conn-listener"
	case KindSocket:
		return "socket"
	case KindFile:
		return "file"
	case KindTimer:
		return "timer"
	default:
		return "invalid"
	}
}

// Direction classifies sockets for insockets/outsockets accounting.
type Direction uint8

const (
	DirectionNone Direction = iota
	Inbound
	Outbound
)

func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return "none"
	}
}

// Entry is the table record behind a handle.
type Entry struct {
	// Value is the host-side object: a listener, socket, file or timer.
	Value any
	// Callback is the guest callback of an inbound registration.
	Callback any

	Kind      Kind
	Direction Direction
	Local     string
	Remote    string
	Path      string

	closeMu sync.Mutex
	closed  bool
}

// Close runs fn unless the entry was already closed. It returns true
// only for the call that ran fn. Concurrent callers wait for the winner
// to finish.
func (e *Entry) Close(fn func() error) (bool, error) {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()

	if e.closed {
		return false, nil
	}
	e.closed = true
	if fn == nil {
		return true, nil
	}
	return true, fn()
}

// Closed reports whether Close has run.
func (e *Entry) Closed() bool {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()
	return e.closed
}

// Event types for handle lifecycle notifications.
type EventType uint8

const (
	EventCreated EventType = iota
	EventDropped
)

// Event represents a handle lifecycle event.
type Event struct {
	Entry  *Entry
	Handle Handle
	Kind   Kind
	Type   EventType
}

// Observer receives notifications about handle lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}

// Backend provides the underlying storage for a table.
type Backend interface {
	// Reserve issues a fresh handle with no entry attached.
	Reserve() (Handle, error)

	// Attach binds an entry to a reserved handle.
	Attach(handle Handle, entry *Entry) error

	// Get retrieves an attached entry.
	Get(handle Handle) (*Entry, bool)

	// Drop removes an entry and returns it.
	Drop(handle Handle) (*Entry, bool)

	// Close drops every entry, returning those still present, and
	// rejects further reservations.
	Close() (map[Handle]*Entry, error)
}

// Dropper is optionally implemented by entry values that must be
// released when the table closes with the entry still present. Drop
// runs under the entry's close lock and must not call Entry.Close.
type Dropper interface {
	Drop()
}
