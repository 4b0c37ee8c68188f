// Package errclass classifies receive and pipeline errors for telemetry.
package errclass

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
)

// Category represents the classification of an error for telemetry
type Category int

const (
	// Network indicates network-related failures (connection, timeout, DNS)
	Network Category = iota
	// Codec indicates codec/stream failures (decode errors, format issues)
	Codec
	// Auth indicates authentication/authorization failures
	Auth
	// Unknown indicates unclassified errors
	Unknown
)

// String returns a human-readable string representation of the category
func (c Category) String() string {
	switch c {
	case Network:
		return "network"
	case Codec:
		return "codec"
	case Auth:
		return "auth"
	default:
		return "unknown"
	}
}

// Classify categorizes err.
//
// Typed network errors (net.Error, EOF, closed connections) are recognised
// first; everything else falls back to keyword heuristics on the message.
func Classify(err error) Category {
	if err == nil {
		return Unknown
	}
	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.DeadlineExceeded) {
		return Network
	}
	return ClassifyText(err.Error(), "")
}

// ClassifyText categorizes an error message plus optional debug detail.
//
// Priority: auth (most specific), then codec, then network.
func ClassifyText(msg, debug string) Category {
	combined := strings.ToLower(msg + " " + debug)
	switch {
	case containsAny(combined, authKeywords):
		return Auth
	case containsAny(combined, codecKeywords):
		return Codec
	case containsAny(combined, networkKeywords):
		return Network
	default:
		return Unknown
	}
}

var authKeywords = []string{
	"unauthorized",
	"401",
	"403",
	"forbidden",
	"authentication",
	"credentials",
	"password",
	"username",
}

var networkKeywords = []string{
	"connection",
	"timeout",
	"unreachable",
	"network",
	"dns",
	"resolve",
	"socket",
	"tcp",
	"udp",
	"not found",
	"could not connect",
	"failed to connect",
	"broken pipe",
	"reset by peer",
}

var codecKeywords = []string{
	"codec",
	"decode",
	"encode",
	"format",
	"negotiation",
	"caps",
	"h264",
	"h265",
	"jpeg",
	"not negotiated",
	"no decoder",
	"missing plugin",
	"malformed",
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
