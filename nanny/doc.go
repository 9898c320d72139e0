// Package nanny enforces the sandbox resource ceilings.
//
// A Nanny wraps a ledger of resource consumption and exposes the
// admission primitives every emulated call goes through:
//
//   - AdmitQuantity charges a renewable resource and blocks while the
//     resource is over its per-second rate.
//   - AdmitItem and ReleaseItem add and remove opaque tokens from a
//     fungible set, failing fast when the set is full.
//   - CheckItem checks an individual item (a port) against its
//     allow-set.
//   - ReportLevel records the sampled value of memory or disk use.
//
// Renewable consumption decays linearly: after idling for t seconds a
// resource with limit r has max(0, used-r*t) outstanding.
//
// Recoverable failures are *errors.Error values. Broken promises from
// the caller (a negative quantity, an unknown resource) are
// *errors.Fault values: the Nanny logs them, invokes its abort function
// and returns the fault.
package nanny
