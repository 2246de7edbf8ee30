// Package broadcast implements the incoming-message state machine
// described in spec §4.5: decide whether a message is a fresh origin, a
// duplicate, or newly-seen and worth forwarding, then fan the forward out
// to this node's ring peers. Grounded directly on the original API's
// _broadcast handler.
package broadcast

import (
	"context"
	"log"
	"time"

	"guidnet/internal/dispatch"
	"guidnet/internal/guid"
	"guidnet/internal/message"
	"guidnet/internal/peerclient"
	"guidnet/internal/peerselect"
	"guidnet/internal/store"
)

// wallClockSeconds is the Go analogue of the original's time.time(): wall
// clock seconds as a float, used once per message to stamp broadcast_timestamp.
func wallClockSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// DeadPeerHandler is invoked after a successful forward whose event name
// is message.DeadPeerEvent (spec §4.5's extension point).
type DeadPeerHandler func(node guid.Node)

// outboundDispatcher is the fan-out seam BroadcastEngine depends on.
// *dispatch.Dispatcher satisfies it in production; tests can substitute a
// synchronous fake to avoid reasoning about worker-pool timing.
type outboundDispatcher interface {
	Enqueue(address string, m *message.Message)
}

// Engine handles one incoming broadcast at a time (concurrently across
// messages — NodeStore's own locking makes concurrent Handle calls safe).
//
// self is read from NodeStore on every call rather than fixed at
// construction: a non-boot node's guid isn't known until its first
// background join completes, which happens after the HTTP server (and
// this Engine) is already serving requests.
type Engine struct {
	bootAddr string
	store    *store.Store
	dial     peerclient.Dialer
	dispatch outboundDispatcher

	onDeadPeer []DeadPeerHandler
}

// New builds a broadcast Engine. bootAddr is this network's boot node
// address, used to resolve peer addresses not yet cached locally.
func New(bootAddr string, st *store.Store, dial peerclient.Dialer, d *dispatch.Dispatcher) *Engine {
	return &Engine{bootAddr: bootAddr, store: st, dial: dial, dispatch: d}
}

// OnDeadPeer registers a handler invoked when a forwarded message carries
// a DEAD_PEER event.
func (e *Engine) OnDeadPeer(h DeadPeerHandler) {
	e.onDeadPeer = append(e.onDeadPeer, h)
}

// Handle runs the state machine in spec §4.5 and returns whether m was
// forwarded. The table's rows are priority-ordered: the first matching
// row decides the outcome, so a freshly-originated message forwards
// unconditionally (it has not yet been counted against ttl/seen_by/the
// counter at all) while every later arrival of the same message id goes
// through the full ttl/seen_by/counter gauntlet.
func (e *Engine) Handle(ctx context.Context, m *message.Message) bool {
	self, _ := e.store.GetClient()

	if m.IsFreshOrigin(self.GUID) {
		id := e.store.IncrMessageCounter()
		m.ID = &id
		now := wallClockSeconds()
		m.BroadcastTimestamp = &now
		m.MarkSeen(self.GUID)
		e.fanOut(ctx, self.GUID, m)
		e.maybeNotifyDeadPeer(m)
		return true
	}

	if m.ID == nil {
		// Not our origin and never assigned upstream — malformed, drop it.
		return false
	}

	if m.TTL == 0 {
		return false
	}
	if m.HasSeen(self.GUID) {
		return false
	}

	if !e.store.UpdateCounterIfGreater(*m.ID) {
		return false
	}

	e.store.RecordSeen(m.Originator.GUID, *m.ID)
	m.TTL--
	if err := e.store.UpsertNode(m.Originator); err != nil {
		log.Printf("broadcast: upsert originator failed: %v", err)
	}
	m.MarkSeen(self.GUID)

	e.fanOut(ctx, self.GUID, m)
	e.maybeNotifyDeadPeer(m)
	return true
}

func (e *Engine) fanOut(ctx context.Context, self guid.GUID, m *message.Message) {
	selector := peerselect.New(self, e.bootAddr, e.store, e.dial)
	maxGUID := e.store.GetMaxGUID()
	for _, peer := range selector.Peers(ctx, maxGUID) {
		if m.HasSeen(peer.GUID) {
			continue
		}
		e.dispatch.Enqueue(peer.Address, m)
	}
}

func (e *Engine) maybeNotifyDeadPeer(m *message.Message) {
	if m.EventName() != message.DeadPeerEvent {
		return
	}
	data, ok := m.Data["event"].(map[string]any)
	if !ok {
		return
	}
	rawGUID, ok := data["guid"].(float64)
	if !ok {
		return
	}
	dead := guid.Node{GUID: guid.GUID(rawGUID)}
	for _, h := range e.onDeadPeer {
		h(dead)
	}
}
