// Package store contains the durable state of one overlay node: the
// GUID↔address map, this process's own identity (if joined), the
// broadcast message counter, and a best-effort seen-message cache.
//
// This store:
//   - Keeps data in memory (fast reads/writes)
//   - Persists every write to disk using a Write-Ahead Log (WAL)
//   - Periodically creates full snapshots to speed up recovery
//
// Big idea:
//
//  1. WAL (Write-Ahead Log)
//     Every write is first written to disk before updating memory.
//     If the process crashes, we replay the WAL to rebuild the state.
//     This is how real databases like PostgreSQL and MySQL stay safe.
//
//  2. Snapshot
//     Instead of replaying the entire WAL from the beginning of time,
//     we sometimes save the full in-memory state to disk.
//     After that, we only need to replay newer WAL entries.
//
//  3. Concurrency
//     Every operation here is a single atomic step with respect to every
//     other operation (see §5 of the overlay's concurrency model), so one
//     plain sync.Mutex guards everything — there is no read-heavy
//     workload here that would make RWMutex splitting pay for itself.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"guidnet/internal/guid"
)

// ErrStoreConflict is returned by SetClient when the client identity is
// already fixed to a different GUID. Under single-writer discipline this
// should never happen in practice; cmd/node treats it as fatal at startup
// and the sync engine logs it and abandons that join.
var ErrStoreConflict = errors.New("store: conflicting client identity")

const seenCacheSize = 4096

// Store is the durable state of one overlay node. It is safe for
// concurrent use.
type Store struct {
	mu sync.Mutex

	nodes     map[guid.GUID]guid.Node
	addrIndex map[string]guid.GUID
	maxGUID   guid.GUID
	client    *guid.Node
	counter   uint64

	seen *lru.Cache // best-effort (originator,id) -> struct{}, see RecordSeen

	wal     *WAL
	dataDir string
}

// New creates or opens a node store rooted at dataDir.
//
// Startup process:
//
// 1) Create the data directory (if it doesn't exist)
// 2) Load the latest snapshot into memory
// 3) Open the WAL file
// 4) Replay WAL entries written after the snapshot
//
// After this finishes, the store is fully rebuilt in memory.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	cache, err := lru.New(seenCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create seen cache: %w", err)
	}

	s := &Store{
		nodes:     make(map[guid.GUID]guid.Node),
		addrIndex: make(map[string]guid.GUID),
		seen:      cache,
		dataDir:   dataDir,
	}

	// Step 1: load snapshot (if any) into memory.
	if err := s.loadSnapshot(); err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	// Step 2: open WAL and replay any entries written after the last snapshot.
	wal, err := newWAL(filepath.Join(dataDir, "wal.log"))
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}
	s.wal = wal

	if err := s.replayWAL(); err != nil {
		return nil, fmt.Errorf("replay wal: %w", err)
	}
	log.Printf("store: opened, wal=%s max_guid=%d", s.wal.Path(), s.maxGUID)

	return s, nil
}

// ─── Node map ──────────────────────────────────────────────────────────────

// AllocateNode mints the next GUID for address, persists it, and returns
// the new Node. If address is already bound to a GUID, that existing Node
// is returned instead — allocation is idempotent per address. Only the
// boot node's JoinService should call this.
func (s *Store) AllocateNode(address string) (guid.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g, ok := s.addrIndex[address]; ok {
		return s.nodes[g], nil
	}

	next := s.maxGUID + 1
	node := guid.Node{GUID: next, Address: address}

	entry := walEntry{Op: opAllocate, GUID: next, Address: address}
	if err := s.wal.append(entry); err != nil {
		return guid.Node{}, fmt.Errorf("wal append: %w", err)
	}

	s.nodes[next] = node
	s.addrIndex[address] = next
	s.maxGUID = next
	return node, nil
}

// UpsertNode inserts node if its GUID is unknown. If the GUID is already
// known and bound to a different address, the conflict is logged and the
// existing address is kept — rebinding is only sanctioned through
// RebindNode (JoinService's rejoin path). Either way, maxGUID is advanced
// if node.GUID exceeds it, since this is also how get_max_guid() rises as
// a peer learns about the rest of the cluster during sync.
func (s *Store) UpsertNode(node guid.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.nodes[node.GUID]
	if ok {
		if existing.Address != node.Address {
			log.Printf("store: ignoring address conflict for guid %d: have %q, got %q", node.GUID, existing.Address, node.Address)
		}
		s.bumpMaxGUID(node.GUID)
		return nil
	}

	entry := walEntry{Op: opUpsert, GUID: node.GUID, Address: node.Address}
	if err := s.wal.append(entry); err != nil {
		return fmt.Errorf("wal append: %w", err)
	}

	s.nodes[node.GUID] = node
	s.addrIndex[node.Address] = node.GUID
	s.bumpMaxGUID(node.GUID)
	return nil
}

// RebindNode unconditionally rebinds guid to a new address. Used only by
// JoinService when a client rejoins presenting a previously-issued GUID.
func (s *Store) RebindNode(g guid.GUID, address string) (guid.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.nodes[g]; ok {
		delete(s.addrIndex, existing.Address)
	}

	node := guid.Node{GUID: g, Address: address}

	entry := walEntry{Op: opUpsert, GUID: g, Address: address}
	if err := s.wal.append(entry); err != nil {
		return guid.Node{}, fmt.Errorf("wal append: %w", err)
	}

	s.nodes[g] = node
	s.addrIndex[address] = g
	s.bumpMaxGUID(g)
	return node, nil
}

// bumpMaxGUID must be called with mu held.
func (s *Store) bumpMaxGUID(g guid.GUID) {
	if g > s.maxGUID {
		s.maxGUID = g
	}
}

// GetNodeByGUID looks up a node by GUID.
func (s *Store) GetNodeByGUID(g guid.GUID) (guid.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[g]
	return n, ok
}

// GetNodeByAddress looks up a node by address.
func (s *Store) GetNodeByAddress(address string) (guid.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.addrIndex[address]
	if !ok {
		return guid.Node{}, false
	}
	return s.nodes[g], true
}

// IsAllocated reports whether g is present in the node map — whether it
// got there through AllocateNode, UpsertNode or RebindNode. Used by
// JoinService to refuse a rejoin presenting a GUID this store has never
// recorded.
func (s *Store) IsAllocated(g guid.GUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.nodes[g]
	return ok
}

// GetMaxGUID returns the highest GUID observed so far.
func (s *Store) GetMaxGUID() guid.GUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxGUID
}

// GetMaxGUIDNode returns the Node currently bound to GetMaxGUID(), if any.
func (s *Store) GetMaxGUIDNode() (guid.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[s.maxGUID]
	return n, ok
}

// ─── Client identity ───────────────────────────────────────────────────────

// GetClient returns this process's own identity, if it has joined.
func (s *Store) GetClient() (guid.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return guid.Node{}, false
	}
	return *s.client, true
}

// SetClient fixes this process's identity. It is single-shot: calling it
// again with a different GUID than already set is a conflict. Calling it
// again with the same GUID (e.g. a retried join) is a no-op.
func (s *Store) SetClient(node guid.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		if s.client.GUID != node.GUID {
			return fmt.Errorf("%w: already joined as guid %d, got guid %d", ErrStoreConflict, s.client.GUID, node.GUID)
		}
		return nil
	}

	entry := walEntry{Op: opSetClient, GUID: node.GUID, Address: node.Address}
	if err := s.wal.append(entry); err != nil {
		return fmt.Errorf("wal append: %w", err)
	}

	c := node
	s.client = &c
	return nil
}

// ─── Message counter ───────────────────────────────────────────────────────

// IncrMessageCounter atomically advances the counter by one and returns
// the new value. Used to assign an id to a message this node originates.
func (s *Store) IncrMessageCounter() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	// Best-effort durability: a crash between the increment and this append
	// could lose one tick of the counter, which only risks reusing an id on
	// restart — acceptable since dedup also keys off seen_by, not the
	// counter alone.
	_ = s.wal.append(walEntry{Op: opIncrCounter})
	return s.counter
}

// UpdateCounterIfGreater sets the counter to incoming iff incoming is
// strictly greater than the current value, returning whether it updated.
func (s *Store) UpdateCounterIfGreater(incoming uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if incoming <= s.counter {
		return false
	}

	if err := s.wal.append(walEntry{Op: opSetCounter, Counter: incoming}); err != nil {
		return false
	}
	s.counter = incoming
	return true
}

// ─── Seen-message cache ────────────────────────────────────────────────────

type seenKey struct {
	originator guid.GUID
	id         uint64
}

// RecordSeen persists that a message from (originator, id) has been
// handled, in the WAL and the bounded seen cache, where HasSeen can later
// find it. It is additive to the counter-based dedup decision, never a
// replacement for it (spec's "Duplicate persistence" design note): the
// broadcast engine records accepted messages here, but its forward
// decision does not consult HasSeen.
func (s *Store) RecordSeen(originator guid.GUID, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.wal.append(walEntry{Op: opRecordSeen, GUID: originator, Counter: id})
	s.seen.Add(seenKey{originator, id}, struct{}{})
}

// HasSeen reports whether (originator, id) was previously recorded.
func (s *Store) HasSeen(originator guid.GUID, id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen.Contains(seenKey{originator, id})
}

// ─── Snapshot ───────────────────────────────────────────────────────────────

type snapshotState struct {
	Nodes   map[guid.GUID]guid.Node `json:"nodes"`
	MaxGUID guid.GUID               `json:"max_guid"`
	Client  *guid.Node              `json:"client,omitempty"`
	Counter uint64                  `json:"counter"`
}

// Snapshot saves the entire in-memory state to disk and truncates the WAL.
//
// Why atomic rename?
// If we crash during write, the old snapshot remains safe.
func (s *Store) Snapshot() error {
	s.mu.Lock()
	state := snapshotState{
		Nodes:   make(map[guid.GUID]guid.Node, len(s.nodes)),
		MaxGUID: s.maxGUID,
		Client:  s.client,
		Counter: s.counter,
	}
	for g, n := range s.nodes {
		state.Nodes[g] = n
	}
	s.mu.Unlock()

	path := filepath.Join(s.dataDir, "snapshot.json")
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(state); err != nil {
		f.Close()
		return err
	}
	f.Close()

	if err := os.Rename(tmp, path); err != nil {
		return err
	}

	return s.wal.truncate()
}

// loadSnapshot loads snapshot.json (if it exists) and restores it into
// memory. If no snapshot exists, this is not an error.
func (s *Store) loadSnapshot() error {
	path := filepath.Join(s.dataDir, "snapshot.json")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil // no snapshot yet — that's fine
	}
	if err != nil {
		return err
	}
	defer f.Close()

	var state snapshotState
	if err := json.NewDecoder(f).Decode(&state); err != nil {
		return err
	}

	s.nodes = state.Nodes
	if s.nodes == nil {
		s.nodes = make(map[guid.GUID]guid.Node)
	}
	s.addrIndex = make(map[string]guid.GUID, len(s.nodes))
	for g, n := range s.nodes {
		s.addrIndex[n.Address] = g
	}
	s.maxGUID = state.MaxGUID
	s.client = state.Client
	s.counter = state.Counter
	return nil
}

// replayWAL reads all WAL entries written since the last snapshot and
// applies them to the in-memory state. It does NOT re-append them.
func (s *Store) replayWAL() error {
	entries, err := s.wal.readAll()
	if err != nil {
		return err
	}
	for _, e := range entries {
		switch e.Op {
		case opAllocate, opUpsert:
			node := guid.Node{GUID: e.GUID, Address: e.Address}
			s.nodes[e.GUID] = node
			s.addrIndex[e.Address] = e.GUID
			s.bumpMaxGUID(e.GUID)
		case opSetClient:
			c := guid.Node{GUID: e.GUID, Address: e.Address}
			s.client = &c
		case opIncrCounter:
			s.counter++
		case opSetCounter:
			if e.Counter > s.counter {
				s.counter = e.Counter
			}
		case opRecordSeen:
			s.seen.Add(seenKey{e.GUID, e.Counter}, struct{}{})
		}
	}
	return nil
}

// Close closes the WAL file. Call this during shutdown.
func (s *Store) Close() error {
	return s.wal.close()
}
