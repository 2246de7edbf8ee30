// Package ring implements the pure GUID ring math shared by the sync
// engine and the broadcast engine.
//
// Big idea:
//
// Every node in the overlay holds a GUID in [1, max]. Arrange those
// GUIDs on a circle in descending order starting from a node's own
// GUID, and a node's "primary peers" are the entries at indices
// 1, 2, 4, 8, ... along that circle (a Chord-style power-of-two
// sample). If a primary peer is unreachable, a "backup peer" is
// picked from the ring segment between the dead primary and the next
// one.
//
// None of this package touches the network or any store — it is pure
// arithmetic over GUID, so every function here is safe to call from
// any goroutine without synchronization.
package ring

import "guidnet/internal/guid"

// GUID is re-exported for callers that only need the ring package.
type GUID = guid.GUID

// NetworkSequence returns the ring of members {1, ..., max} starting
// at self and descending, wrapping around back to max after 1. Length
// is max. self must be in [1, max]. GUID 0 (the boot node) is never a
// ring member — see spec's GUID-0 design note.
//
// Example, self=5, max=9:
//
//	[5 4 3 2 1 9 8 7 6]
func NetworkSequence(self, max GUID) []GUID {
	descending := make([]GUID, max)
	for i := range descending {
		descending[i] = max - GUID(i)
	}
	offset := int(max - self)
	out := make([]GUID, 0, len(descending))
	out = append(out, descending[offset:]...)
	out = append(out, descending[:offset]...)
	return out
}

// PrimaryPeers returns the peers of self at ring indices 1, 2, 4, 8,
// ... while the index stays strictly less than max. Result is ordered
// by increasing index.
func PrimaryPeers(self, max GUID) []GUID {
	network := NetworkSequence(self, max)
	var peers []GUID
	for distance := GUID(1); distance < max; distance *= 2 {
		peers = append(peers, network[distance])
	}
	return peers
}

// BackupPeers returns the substring of NetworkSequence(self, max)
// strictly between start and stop: if stop appears after start on the
// ring, the exclusive range (idx(start), idx(stop)); otherwise the
// tail (idx(start), end].
//
// Returns a *NotInNetworkError if start or stop is not found in the
// sequence.
func BackupPeers(self, start, stop, max GUID) ([]GUID, error) {
	network := NetworkSequence(self, max)

	startIdx := indexOf(network, start)
	if startIdx < 0 {
		return nil, &NotInNetworkError{GUID: start}
	}
	stopIdx := indexOf(network, stop)
	if stopIdx < 0 {
		return nil, &NotInNetworkError{GUID: stop}
	}

	if stopIdx > startIdx {
		return network[startIdx+1 : stopIdx], nil
	}
	return network[startIdx+1:], nil
}

func indexOf(network []GUID, g GUID) int {
	for i, v := range network {
		if v == g {
			return i
		}
	}
	return -1
}
