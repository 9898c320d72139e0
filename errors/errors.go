package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates which surface raised the error
type Phase string

const (
	PhaseAdmission Phase = "admission" // nanny admission checks
	PhaseComm      Phase = "comm"      // sockets and the dispatcher
	PhaseFile      Phase = "file"      // file emulation
	PhaseTimer     Phase = "timer"     // timers and threads
	PhaseConfig    Phase = "config"    // resource definitions
	PhaseGuest     Phase = "guest"     // verification and host calls
	PhaseMisc      Phase = "misc"      // randomness, locks and logging
)

// Kind categorizes the error
type Kind string

const (
	KindResourceExhausted Kind = "resource_exhausted"
	KindResourceForbidden Kind = "resource_forbidden"
	KindAddressInUse      Kind = "address_in_use"
	KindAlreadyListening  Kind = "already_listening"
	KindTimeout           Kind = "timeout"
	KindConnectionRefused Kind = "connection_refused"
	KindNetwork           Kind = "network"
	KindSocketClosed      Kind = "socket_closed"
	KindFileNotFound      Kind = "file_not_found"
	KindFileInUse         Kind = "file_in_use"
	KindFileClosed        Kind = "file_closed"
	KindSeekPastEnd       Kind = "seek_past_end"
	KindInvalidArgument   Kind = "invalid_argument"
	KindNotFound          Kind = "not_found"
	KindCodeUnsafe        Kind = "code_unsafe"
	KindInvalidData       Kind = "invalid_data"
)

// Kind sentinels for errors.Is. A sentinel has no phase, so it matches
// an error of the same kind raised anywhere.
var (
	ErrResourceExhausted = &Error{Kind: KindResourceExhausted}
	ErrResourceForbidden = &Error{Kind: KindResourceForbidden}
	ErrAddressInUse      = &Error{Kind: KindAddressInUse}
	ErrAlreadyListening  = &Error{Kind: KindAlreadyListening}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrConnectionRefused = &Error{Kind: KindConnectionRefused}
	ErrNetwork           = &Error{Kind: KindNetwork}
	ErrSocketClosed      = &Error{Kind: KindSocketClosed}
	ErrFileNotFound      = &Error{Kind: KindFileNotFound}
	ErrFileInUse         = &Error{Kind: KindFileInUse}
	ErrFileClosed        = &Error{Kind: KindFileClosed}
	ErrSeekPastEnd       = &Error{Kind: KindSeekPastEnd}
	ErrInvalidArgument   = &Error{Kind: KindInvalidArgument}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrCodeUnsafe        = &Error{Kind: KindCodeUnsafe}
	ErrInvalidData       = &Error{Kind: KindInvalidData}
)

// Error is the structured, guest-recoverable error type
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Resource string
	Detail   string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	if e.Phase != "" {
		b.WriteByte('[')
		b.WriteString(string(e.Phase))
		b.WriteString("] ")
	}
	b.WriteString(string(e.Kind))

	if e.Resource != "" {
		b.WriteString(" on ")
		b.WriteString(e.Resource)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. A target without a
// phase matches on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase != "" && t.Phase != e.Phase {
		return false
	}
	return e.Kind == t.Kind
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Resource sets the resource name the error concerns
func (b *Builder) Resource(name string) *Builder {
	b.err.Resource = name
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// Exhausted reports a fungible resource at capacity
func Exhausted(resource string, limit int) *Error {
	return &Error{
		Phase:    PhaseAdmission,
		Kind:     KindResourceExhausted,
		Resource: resource,
		Detail:   fmt.Sprintf("all %d items in use", limit),
		Value:    limit,
	}
}

// Forbidden reports an individual item outside its allow-set
func Forbidden(resource string, item int) *Error {
	return &Error{
		Phase:    PhaseAdmission,
		Kind:     KindResourceForbidden,
		Resource: resource,
		Detail:   fmt.Sprintf("%d is not allowed", item),
		Value:    item,
	}
}

// InvalidArgument reports a malformed argument
func InvalidArgument(phase Phase, detail string, args ...any) *Error {
	return New(phase, KindInvalidArgument).Detail(detail, args...).Build()
}

// FileNotFound reports a missing sandbox file
func FileNotFound(name string) *Error {
	return &Error{
		Phase:  PhaseFile,
		Kind:   KindFileNotFound,
		Detail: fmt.Sprintf("cannot open %q: file not found", name),
		Value:  name,
	}
}

// FileInUse reports a file that already has a live handle
func FileInUse(name string) *Error {
	return &Error{
		Phase:  PhaseFile,
		Kind:   KindFileInUse,
		Detail: fmt.Sprintf("%q is already open", name),
		Value:  name,
	}
}

// FileClosed reports an operation on a closed file
func FileClosed(name string) *Error {
	return &Error{
		Phase:  PhaseFile,
		Kind:   KindFileClosed,
		Detail: fmt.Sprintf("file %q is closed", name),
		Value:  name,
	}
}

// SeekPastEnd reports an offset beyond the end of a file
func SeekPastEnd(name string, offset, size int64) *Error {
	return &Error{
		Phase:  PhaseFile,
		Kind:   KindSeekPastEnd,
		Detail: fmt.Sprintf("offset %d past end of %q (size %d)", offset, name, size),
		Value:  offset,
	}
}

// SocketClosed reports a socket closed locally or by its peer
func SocketClosed(detail string) *Error {
	return &Error{
		Phase:  PhaseComm,
		Kind:   KindSocketClosed,
		Detail: detail,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if
// there is none.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is forwards to the standard library so callers need only this package.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As forwards to the standard library so callers need only this package.
func As(err error, target any) bool { return stderrors.As(err, target) }
