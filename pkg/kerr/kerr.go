// Package kerr defines the three error kinds the container isolation core
// reports to callers. Every error the core raises itself carries exactly one
// of them, so callers can branch on the kind without string matching; errors
// returned by host callbacks (such as the create function given to the
// ipcns isolated constructors) are passed through unchanged.
package kerr

import (
	"errors"
	"fmt"
)

// Kind discriminates the three outcomes a core operation can fail with.
type Kind int

const (
	// Capacity means a fixed-size table (cgroups, namespaces, task slots,
	// IPC objects, virtual PIDs) is full or exhausted.
	Capacity Kind = iota
	// InvalidArgument means a handle was stale/out-of-range, a task was
	// already a member (or not a member) where the operation needs the
	// opposite, or an object is not registered in the given namespace.
	InvalidArgument
	// NotPermitted means the operation is refused by an ownership rule
	// (e.g. deleting the root namespace, or deleting a cgroup or namespace
	// that still has members).
	NotPermitted
)

func (k Kind) String() string {
	switch k {
	case Capacity:
		return "capacity"
	case InvalidArgument:
		return "invalid_argument"
	case NotPermitted:
		return "not_permitted"
	default:
		return "unknown"
	}
}

// Error is the concrete error type the core's own failures in pkg/cgroup,
// pkg/pidns, and pkg/ipcns are reported with.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Msg)
}

func newErr(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// CapacityErr reports a full fixed-size table.
func CapacityErr(op, msg string) error { return newErr(Capacity, op, msg) }

// InvalidArgumentErr reports a stale handle or malformed input.
func InvalidArgumentErr(op, msg string) error { return newErr(InvalidArgument, op, msg) }

// NotPermittedErr reports a refusal by an ownership rule.
func NotPermittedErr(op, msg string) error { return newErr(NotPermitted, op, msg) }

// KindOf extracts the Kind from err, if err (or something it wraps) is a
// *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
