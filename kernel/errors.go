package kernel

import "errors"

// Sentinel errors returned by kernel operations. kernel itself never
// wraps these with github.com/pkg/errors — callers at the cmd/ boundary
// do that, so that errors.Is keeps working against the bare sentinel.
var (
	// ErrBadDescriptor covers an out-of-range or unbound Fid_t, or a
	// Tid_t naming no thread owned by the current process.
	ErrBadDescriptor = errors.New("kernel: bad descriptor")
	// ErrExhausted covers running out of free descriptor IDs or FCBs.
	ErrExhausted = errors.New("kernel: resource exhausted")
	// ErrWrongState covers an operation attempted on the wrong socket
	// variant, or a thread join/detach precondition violation.
	ErrWrongState = errors.New("kernel: wrong state")
	// ErrClosed covers operations on an endpoint whose peer has gone
	// away (writer sees reader closed, acceptor sees listener closed).
	ErrClosed = errors.New("kernel: endpoint closed")
	// ErrTimeout covers a Connect() whose timeout expired unadmitted.
	ErrTimeout = errors.New("kernel: timed out")
)
