// Package errors provides the structured error types returned by the
// sandbox runtime.
//
// Recoverable failures are *Error values categorized by Phase (which
// surface raised it) and Kind (what went wrong). They are returned to the
// guest, which may retry or choose differently.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseAdmission, errors.KindResourceExhausted).
//		Resource("outsockets").
//		Detail("limit %d reached", 1).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Exhausted("events", 10)
//	err := errors.FileInUse("data.txt")
//
// Kind sentinels match regardless of phase:
//
//	if errors.Is(err, errors.ErrResourceExhausted) { ... }
//
// Unrecoverable ledger inconsistencies are *Fault values. They carry the
// exit code the sandbox terminates with and are never meant for guest
// handling.
package errors
