// Package join implements the boot-node GUID allocation service (spec
// §4.6), grounded directly on the original API's _network_join handler:
// a rejoin presenting a previously-issued GUID rebinds its address; an
// address already bound returns the existing Node idempotently;
// otherwise a fresh GUID is allocated.
package join

import (
	"errors"
	"fmt"

	"guidnet/internal/guid"
	"guidnet/internal/store"
)

// ErrNetworkJoin is returned when Join is called on a non-boot-node
// Service (spec §4.6, §7). The HTTP layer translates this into the
// empty-object response spec §6 requires.
var ErrNetworkJoin = errors.New("join: network join is boot-node only")

// ErrGUIDNeverAllocated is returned when a rejoin presents a GUID the
// boot node never actually issued.
var ErrGUIDNeverAllocated = errors.New("join: proposed guid was never allocated")

// Service is the boot-node-only join authority.
type Service struct {
	store      *store.Store
	isBootNode bool
}

// New builds a join Service. isBootNode must be true only for the
// process holding GUID 0's authority — every other node's Service always
// returns ErrNetworkJoin, matching spec §4.6's "on non-boot nodes, join
// returns an empty response."
func New(st *store.Store, isBootNode bool) *Service {
	return &Service{store: st, isBootNode: isBootNode}
}

// Join allocates, rebinds, or idempotently confirms a Node for
// senderAddress, per spec §4.6.
func (s *Service) Join(senderAddress string, proposedGUID *guid.GUID) (guid.Node, error) {
	if !s.isBootNode {
		return guid.Node{}, ErrNetworkJoin
	}

	if proposedGUID != nil {
		if !s.store.IsAllocated(*proposedGUID) {
			return guid.Node{}, fmt.Errorf("%w: guid %d", ErrGUIDNeverAllocated, *proposedGUID)
		}
		return s.store.RebindNode(*proposedGUID, senderAddress)
	}

	if existing, ok := s.store.GetNodeByAddress(senderAddress); ok {
		return existing, nil
	}

	return s.store.AllocateNode(senderAddress)
}
