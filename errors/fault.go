package errors

import (
	"fmt"
)

// Exit codes a sandbox terminates with.
const (
	ExitGuestException   = 30  // uncaught panic in a guest callback
	ExitThreadFailure    = 56  // a worker could not be started
	ExitExitAll          = 200 // guest requested termination
	ExitOverLimit        = 99  // a level resource exceeded its limit
	ExitNegativeQuantity = 132
	ExitNotRenewable     = 133
	ExitUnknownResource  = 134
	ExitLedgerCorrupt    = 135
)

// Fault is an unrecoverable inconsistency. Once raised, the ledgers can
// no longer be trusted and the sandbox terminates with Code.
type Fault struct {
	Cause  error
	Detail string
	Code   int
}

// NewFault creates a fault with a formatted detail
func NewFault(code int, detail string, args ...any) *Fault {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &Fault{Code: code, Detail: detail}
}

// Error implements the error interface
func (f *Fault) Error() string {
	msg := fmt.Sprintf("fatal (exit %d): %s", f.Code, f.Detail)
	if f.Cause != nil {
		msg += " (caused by: " + f.Cause.Error() + ")"
	}
	return msg
}

// Unwrap returns the underlying error
func (f *Fault) Unwrap() error {
	return f.Cause
}

// IsFault reports whether err carries a *Fault
func IsFault(err error) bool {
	var f *Fault
	return As(err, &f)
}

// FaultCode returns the exit code of the first *Fault in err's chain.
func FaultCode(err error) (int, bool) {
	var f *Fault
	if !As(err, &f) {
		return 0, false
	}
	return f.Code, true
}
