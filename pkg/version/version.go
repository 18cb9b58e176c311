// Package version provides protocol version negotiation and release information.
package version

import (
	"errors"
	"fmt"
	"strconv"
)

// Release is the version of this module reported by the binaries.
const Release = "1.0.0"

// Protocol versions understood by this implementation.
const (
	ProtocolMin uint16 = 1
	ProtocolMax uint16 = 3
)

// ErrInvalidProtocol is returned for protocol version 0, which no peer may
// announce.
var ErrInvalidProtocol = errors.New("invalid protocol version 0")

// Negotiate selects the protocol version used with a peer: the lower of the
// local maximum and the version the peer announced.
func Negotiate(localMax, peer uint16) (uint16, error) {
	if peer == 0 {
		return 0, ErrInvalidProtocol
	}
	if peer < localMax {
		return peer, nil
	}
	return localMax, nil
}

// Supported reports whether v lies within the implemented range.
func Supported(v uint16) bool {
	return v >= ProtocolMin && v <= ProtocolMax
}

// TXTValue renders a protocol version for mDNS TXT records ("pv=3").
func TXTValue(v uint16) string {
	return strconv.FormatUint(uint64(v), 10)
}

// ParseTXTValue parses a protocol version from an mDNS TXT value.
func ParseTXTValue(s string) (uint16, error) {
	if s == "" {
		return 0, fmt.Errorf("empty protocol version")
	}
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid protocol version %q: %w", s, err)
	}
	if n == 0 {
		return 0, ErrInvalidProtocol
	}
	return uint16(n), nil
}
