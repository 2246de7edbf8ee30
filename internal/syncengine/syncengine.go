// Package syncengine runs the periodic membership/max-GUID propagation
// loop described in spec §4.4. It is a ticker-driven goroutine, the same
// idiom the teacher uses for its own background snapshot loop in
// cmd/server/main.go, running the single pass grounded on the original
// network_sync daemon's main() function.
package syncengine

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"guidnet/internal/guid"
	"guidnet/internal/peerclient"
	"guidnet/internal/peerselect"
	"guidnet/internal/store"
)

// Engine runs one sync pass per tick. On a boot node it is never started
// (spec §4.4: "On boot nodes the engine is a no-op") — callers simply
// don't call Run for the boot-node process.
type Engine struct {
	selfAddr string
	bootAddr string
	store    *store.Store
	dial     peerclient.Dialer
	selector *peerselect.Selector

	interval time.Duration
	jitter   time.Duration

	tickMu sync.Mutex // held for the duration of one tick; TryLock enforces non-overlap
}

// New builds a sync Engine. interval/jitter are NETWORK_SYNC_INTERVAL and
// NETWORK_SYNC_JITTER (spec §6).
func New(selfAddr, bootAddr string, st *store.Store, dial peerclient.Dialer, interval, jitter time.Duration) *Engine {
	return &Engine{
		selfAddr: selfAddr,
		bootAddr: bootAddr,
		store:    st,
		dial:     dial,
		interval: interval,
		jitter:   jitter,
	}
}

// Run blocks, firing one sync pass every interval+jitter seconds until ctx
// is canceled. A tick already in progress causes the next scheduled fire
// to be skipped, with a log line (spec §4.4).
func (e *Engine) Run(ctx context.Context) {
	for {
		wait := e.interval
		if e.jitter > 0 {
			wait += time.Duration(rand.Int63n(int64(e.jitter))) + time.Nanosecond
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if !e.tickMu.TryLock() {
			log.Println("syncengine: tick already in progress, skipping this fire")
			continue
		}
		e.tick(ctx)
		e.tickMu.Unlock()
	}
}

// tick runs the single pass from spec §4.4.
func (e *Engine) tick(ctx context.Context) {
	self, joined := e.store.GetClient()
	if !joined {
		n, ok := e.join(ctx)
		if !ok {
			return
		}
		self = n
	}

	maxGUID := e.store.GetMaxGUID()
	selector := e.selector
	if selector == nil {
		selector = peerselect.New(self.GUID, e.bootAddr, e.store, e.dial)
		e.selector = selector
	}

	for _, peer := range selector.Peers(ctx, maxGUID) {
		maxNode, _ := e.store.GetMaxGUIDNode()
		sctx, cancel := context.WithTimeout(ctx, peerclient.DefaultRPCTimeout)
		reply, err := peer.Client.Sync(sctx, self.GUID, maxNode)
		cancel()
		if err != nil {
			log.Printf("syncengine: sync with guid %d (%s) failed: %v", peer.GUID, peer.Address, err)
			continue
		}
		if err := e.store.UpsertNode(reply); err != nil {
			log.Printf("syncengine: upsert %+v failed: %v", reply, err)
		}
	}
}

// join performs the boot/rejoin step (spec §4.4 step 1).
func (e *Engine) join(ctx context.Context) (guid.Node, bool) {
	boot := e.dial(e.bootAddr)

	var proposed *guid.GUID
	if existing, ok := e.store.GetClient(); ok {
		g := existing.GUID
		proposed = &g
	}

	jctx, cancel := context.WithTimeout(ctx, peerclient.DefaultRPCTimeout)
	defer cancel()
	node, ok, err := boot.Join(jctx, e.selfAddr, proposed)
	if err != nil || !ok {
		if err != nil {
			log.Printf("syncengine: join failed: %v", err)
		}
		return guid.Node{}, false
	}

	if err := e.store.SetClient(node); err != nil {
		log.Printf("syncengine: set_client failed: %v", err)
		return guid.Node{}, false
	}
	if err := e.store.UpsertNode(guid.Node{GUID: 0, Address: e.bootAddr}); err != nil {
		log.Printf("syncengine: upsert boot node failed: %v", err)
	}
	if err := e.store.UpsertNode(node); err != nil {
		log.Printf("syncengine: upsert own identity failed: %v", err)
	}
	return node, true
}
