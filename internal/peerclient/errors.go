package peerclient

import "errors"

// Error classification for PeerClient calls (spec §4.3/§7). Callers use
// ErrUnreachable as the liveness signal — anything else is a real failure
// and is logged rather than passed over silently.
var (
	// ErrUnreachable covers transport failures and timeouts: the peer did
	// not answer at all.
	ErrUnreachable = errors.New("peerclient: peer unreachable")

	// ErrProtocol covers a 4xx/5xx response from a peer that did answer.
	ErrProtocol = errors.New("peerclient: protocol error")

	// ErrMalformedResponse covers a 2xx response whose body did not decode
	// as the expected shape.
	ErrMalformedResponse = errors.New("peerclient: malformed response")
)
