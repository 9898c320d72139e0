// Package resource provides the sandbox handle table.
//
// Guest code never holds a socket, file or timer directly. It holds a
// Handle, an opaque token issued from a monotonic counter, and the table
// maps it to an Entry carrying the host-side value and its metadata.
// Handles are never reused, so a stale token can only miss.
//
// # Handle Table
//
//	table := resource.NewTable()
//
//	// Reserve a handle first when the handle itself is needed as a
//	// ledger token before the resource exists.
//	h, err := table.Reserve()
//	err = table.Attach(h, &resource.Entry{Kind: resource.KindFile, Path: "data"})
//
//	// Or do both at once
//	h, err = table.Insert(&resource.Entry{Kind: resource.KindTimer})
//
//	entry, ok := table.GetKind(h, resource.KindTimer)
//	entry, ok = table.Remove(h)
//
// # Closing
//
// Every Entry carries its own close lock. Entry.Close runs the supplied
// teardown at most once and reports whether this call did it, so an
// explicit close racing with sandbox teardown releases exactly once.
//
// # Observers
//
// Register observers to track handle lifecycle events:
//
//	table.Subscribe(observer)
//
// Observers are called synchronously for EventCreated (on Attach) and
// EventDropped (on Remove and Close).
package resource
