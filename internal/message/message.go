// Package message defines the wire shape of a broadcast message
// (spec §3, §6), shared between the broadcast engine, the outbound
// dispatcher, and the peer client so none of them need to import each
// other just to pass a Message around.
package message

import "guidnet/internal/guid"

// Message is a flood-with-dedup broadcast record.
//
// ID and BroadcastTimestamp are nil until the originating node assigns
// them on first handling (see BroadcastEngine's state machine).
type Message struct {
	ID                 *uint64        `json:"id"`
	Originator         guid.Node      `json:"originator"`
	BroadcastTimestamp *float64       `json:"broadcast_timestamp"`
	TTL                int            `json:"ttl"`
	SeenBy             []guid.GUID    `json:"seen_by"`
	Data               map[string]any `json:"data"`
}

// IsFreshOrigin reports whether m is a message this node is originating
// for the first time: posted by self, with no id and no timestamp yet.
func (m *Message) IsFreshOrigin(self guid.GUID) bool {
	return m.Originator.GUID == self && m.ID == nil && m.BroadcastTimestamp == nil
}

// HasSeen reports whether g already appears in SeenBy.
func (m *Message) HasSeen(g guid.GUID) bool {
	for _, s := range m.SeenBy {
		if s == g {
			return true
		}
	}
	return false
}

// MarkSeen appends g to SeenBy if not already present.
func (m *Message) MarkSeen(g guid.GUID) {
	if m.HasSeen(g) {
		return
	}
	m.SeenBy = append(m.SeenBy, g)
}

// EventName extracts data.event.name, or "" if absent/malformed — the
// opaque payload's only structurally-significant field (spec §3, §4.5).
func (m *Message) EventName() string {
	event, ok := m.Data["event"].(map[string]any)
	if !ok {
		return ""
	}
	name, _ := event["name"].(string)
	return name
}

// DeadPeerEvent is the one known event tag extension point (spec §4.5).
const DeadPeerEvent = "DEAD_PEER"
