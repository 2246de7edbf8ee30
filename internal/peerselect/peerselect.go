// Package peerselect resolves a node's ring-primary peer GUIDs into live
// addresses, substituting a backup peer for any primary that fails its
// liveness check. SyncEngine and BroadcastEngine both need exactly this
// step (spec §4.4 step 3, §4.5's "same ring as §4.4"), factored out once
// so the two callers can't drift apart.
package peerselect

import (
	"context"
	"errors"
	"log"
	"time"

	"guidnet/internal/guid"
	"guidnet/internal/peerclient"
	"guidnet/internal/ring"
	"guidnet/internal/store"
)

// Resolved is one surviving peer after liveness checking and any backup
// substitution.
type Resolved struct {
	GUID    guid.GUID
	Address string
	Client  peerclient.API
}

// Selector resolves primary peers to live addresses, caching lookups
// through NodeStore and asking the boot node for unknown addresses.
type Selector struct {
	self      guid.GUID
	bootAddr  string
	store     *store.Store
	dial      peerclient.Dialer
	livenessT time.Duration
}

// New builds a Selector. bootAddr is used to resolve a primary's address
// when NodeStore has no cached entry for its GUID (spec §4.4 step 3a).
func New(self guid.GUID, bootAddr string, st *store.Store, dial peerclient.Dialer) *Selector {
	return &Selector{
		self:      self,
		bootAddr:  bootAddr,
		store:     st,
		dial:      dial,
		livenessT: peerclient.DefaultLivenessTimeout,
	}
}

// Peers returns the live peer set for the ring rooted at self with the
// given max GUID: one entry per surviving primary, with dead primaries
// replaced by the first live backup found between them and the next
// primary in the ring (wrapping to self past the last primary).
func (s *Selector) Peers(ctx context.Context, max guid.GUID) []Resolved {
	// A self above max is not on the ring {1..max}; there is nothing to sample.
	if s.self > max {
		return nil
	}
	primaries := ring.PrimaryPeers(s.self, max)
	if len(primaries) == 0 {
		return nil
	}

	var out []Resolved
	for i, p := range primaries {
		next := s.self
		if i+1 < len(primaries) {
			next = primaries[i+1]
		}

		if r, ok := s.resolveAndCheck(ctx, p); ok {
			out = append(out, r)
			continue
		}

		backups, err := ring.BackupPeers(s.self, p, next, max)
		if err != nil {
			continue
		}
		for _, b := range backups {
			if r, ok := s.resolveAndCheck(ctx, b); ok {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// resolveAndCheck looks up g's address (caching via the boot node if
// necessary) and liveness-checks it. ok is false if the address can't be
// resolved at all, or resolves but fails its liveness check.
func (s *Selector) resolveAndCheck(ctx context.Context, g guid.GUID) (Resolved, bool) {
	address, ok := s.addressOf(ctx, g)
	if !ok {
		return Resolved{}, false
	}

	client := s.dial(address)
	lctx, cancel := context.WithTimeout(ctx, s.livenessT)
	defer cancel()
	if err := client.Status(lctx); err != nil {
		if !errors.Is(err, peerclient.ErrUnreachable) {
			log.Printf("peerselect: liveness check of guid %d (%s) failed: %v", g, address, err)
		}
		return Resolved{}, false
	}
	return Resolved{GUID: g, Address: address, Client: client}, true
}

// addressOf resolves g's address from the local cache, or asks the boot
// node and caches the result on success (spec §4.4 step 3a).
func (s *Selector) addressOf(ctx context.Context, g guid.GUID) (string, bool) {
	if n, ok := s.store.GetNodeByGUID(g); ok {
		return n.Address, true
	}

	boot := s.dial(s.bootAddr)
	address, ok, err := boot.NodeAddress(ctx, g)
	if err != nil || !ok {
		return "", false
	}

	_ = s.store.UpsertNode(guid.Node{GUID: g, Address: address})
	return address, true
}
