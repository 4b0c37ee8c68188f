package framering

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCapacity = errors.New("framering: capacity must be >= 1")
	ErrInvalidPolicy   = errors.New("framering: unknown overflow policy")
)

// Policy selects what Push does with content that is still unread.
type Policy int

const (
	// DropOldest keeps FIFO order. When full, the oldest unread frame is
	// discarded to make room for the new one.
	//
	// Use case: display pipelines that present every frame in order while
	// bounding latency to Capacity frames.
	DropOldest Policy = iota

	// KeepLatest discards every unread frame on each push, so at most one
	// frame (the newest) is ever buffered.
	//
	// Use case: snapshot/preview consumers that only care about "now".
	KeepLatest
)

// String returns the config spelling of the policy
func (p Policy) String() string {
	switch p {
	case DropOldest:
		return "drop-oldest"
	case KeepLatest:
		return "keep-latest"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// Valid reports whether p is a known policy.
func (p Policy) Valid() bool {
	return p == DropOldest || p == KeepLatest
}

// ParsePolicy parses "drop-oldest" or "keep-latest".
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "drop-oldest", "":
		return DropOldest, nil
	case "keep-latest":
		return KeepLatest, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}
