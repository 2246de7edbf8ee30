package broadcast

import (
	"context"
	"testing"

	"guidnet/internal/guid"
	"guidnet/internal/message"
	"guidnet/internal/peerclient"
	"guidnet/internal/store"
)

// syncDispatch delivers a job immediately, in-line, rather than through a
// worker pool — it lets these tests assert on the fully-settled outcome
// of a broadcast without reasoning about goroutine timing.
type syncDispatch struct {
	dial peerclient.Dialer
}

func (d syncDispatch) Enqueue(address string, m *message.Message) {
	copied := *m
	copied.SeenBy = append([]guid.GUID(nil), m.SeenBy...)
	_, _ = d.dial(address).Broadcast(context.Background(), &copied)
}

// fakePeer routes Broadcast calls straight to another node's Engine, so a
// small cluster can be exercised without real HTTP servers — this is
// exactly the "supply a fake implementation in tests" seam spec §9 calls
// out for PeerClient.
type fakePeer struct {
	engine   *Engine
	recorder *recorder
}

func (f *fakePeer) Status(ctx context.Context) error { return nil }

func (f *fakePeer) Join(ctx context.Context, senderAddress string, proposedGUID *guid.GUID) (guid.Node, bool, error) {
	return guid.Node{}, false, nil
}

func (f *fakePeer) NodeAddress(ctx context.Context, g guid.GUID) (string, bool, error) {
	return "", false, nil
}

func (f *fakePeer) Sync(ctx context.Context, selfGUID guid.GUID, maxGUIDNode guid.Node) (guid.Node, error) {
	return guid.Node{}, nil
}

func (f *fakePeer) Broadcast(ctx context.Context, m *message.Message) (bool, error) {
	forwarded := f.engine.Handle(ctx, m)
	f.recorder.record(forwarded)
	return forwarded, nil
}

var _ peerclient.API = (*fakePeer)(nil)

type recorder struct {
	results []bool
}

func (r *recorder) record(forwarded bool) {
	r.results = append(r.results, forwarded)
}

func (r *recorder) count(forwarded bool) int {
	n := 0
	for _, v := range r.results {
		if v == forwarded {
			n++
		}
	}
	return n
}

func newTestEngine(self guid.GUID, bootAddr string, st *store.Store, dial peerclient.Dialer) *Engine {
	if err := st.SetClient(guid.Node{GUID: self, Address: bootAddr}); err != nil {
		panic(err)
	}
	return &Engine{bootAddr: bootAddr, store: st, dial: dial, dispatch: syncDispatch{dial: dial}}
}

// S5 broadcast dedup: A (guid=1) originates a message; B (guid=2)
// receives and forwards it. B's fan-out skips A (already in seen_by), so
// the test hands B's copy back to A directly; A finds itself already in
// seen_by and refuses to forward again.
func TestHandle_S5_BroadcastDedup(t *testing.T) {
	addrA, addrB := "10.0.0.1:9000", "10.0.0.2:9000"

	stA, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New A: %v", err)
	}
	defer stA.Close()
	stB, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New B: %v", err)
	}
	defer stB.Close()

	nodeA := guid.Node{GUID: 1, Address: addrA}
	nodeB := guid.Node{GUID: 2, Address: addrB}
	for _, st := range []*store.Store{stA, stB} {
		if err := st.UpsertNode(nodeA); err != nil {
			t.Fatalf("seed A: %v", err)
		}
		if err := st.UpsertNode(nodeB); err != nil {
			t.Fatalf("seed B: %v", err)
		}
	}

	rec := &recorder{}
	registry := map[string]*fakePeer{}
	dial := func(address string) peerclient.API { return registry[address] }

	engineA := newTestEngine(1, addrA, stA, dial)
	engineB := newTestEngine(2, addrB, stB, dial)
	registry[addrA] = &fakePeer{engine: engineA, recorder: rec}
	registry[addrB] = &fakePeer{engine: engineB, recorder: rec}

	m := &message.Message{
		Originator: nodeA,
		TTL:        2,
		Data:       map[string]any{"event": map[string]any{"name": "PING"}},
	}

	if !engineA.Handle(context.Background(), m) {
		t.Fatal("origin message should forward")
	}
	if m.ID == nil || *m.ID != 1 {
		t.Fatalf("origin should assign id=1, got %v", m.ID)
	}

	// Return the message to A as B forwarded it: one hop spent, both in seen_by.
	echo := *m
	echo.TTL--
	echo.SeenBy = []guid.GUID{1, 2}
	_, _ = registry[addrA].Broadcast(context.Background(), &echo)

	if got := rec.count(true); got != 1 {
		t.Fatalf("expected exactly one successful forward (by B), got %d (results=%v)", got, rec.results)
	}
	if got := rec.count(false); got != 1 {
		t.Fatalf("expected exactly one rejected forward (by A, self already in seen_by), got %d (results=%v)", got, rec.results)
	}
	if got := stB.GetMaxGUID(); got < 2 {
		t.Fatalf("B should have learned about A (guid 1) by now, max_guid=%d", got)
	}
}

// Property 6 (cluster-wide form): on a fully-connected healthy cluster of
// n nodes, a broadcast with TTL=k produces at most (k+1)*n successful
// forwards in total, and every node's store knows at least guid 1, the
// originator.
func TestHandle_Property6_TTLBoundsForwardCount(t *testing.T) {
	const n = 4
	const ttl = 3

	addrs := make([]string, n)
	for i := 0; i < n; i++ {
		addrs[i] = guid.GUID(i + 1).String() + ":9000"
	}

	rec := &recorder{}
	registry := map[string]*fakePeer{}
	dial := func(address string) peerclient.API { return registry[address] }

	engines := make([]*Engine, n)
	stores := make([]*store.Store, n)
	for i := 0; i < n; i++ {
		st, err := store.New(t.TempDir())
		if err != nil {
			t.Fatalf("store.New: %v", err)
		}
		defer st.Close()
		stores[i] = st
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			node := guid.Node{GUID: guid.GUID(j + 1), Address: addrs[j]}
			if err := stores[i].UpsertNode(node); err != nil {
				t.Fatalf("seed: %v", err)
			}
		}
	}
	for i := 0; i < n; i++ {
		engines[i] = newTestEngine(guid.GUID(i+1), addrs[0], stores[i], dial)
		registry[addrs[i]] = &fakePeer{engine: engines[i], recorder: rec}
	}

	m := &message.Message{
		Originator: guid.Node{GUID: 1, Address: addrs[0]},
		TTL:        ttl,
		Data:       map[string]any{"event": map[string]any{"name": "PING"}},
	}
	engines[0].Handle(context.Background(), m)

	if forwards := rec.count(true); forwards > (ttl+1)*n {
		t.Fatalf("forwards=%d exceeds (k+1)*n bound = %d", forwards, (ttl+1)*n)
	}

	for i, st := range stores {
		if st.GetMaxGUID() < 1 {
			t.Fatalf("node %d never learned about the originator", i+1)
		}
	}
}
