package join

import (
	"testing"

	"guidnet/internal/guid"
	"guidnet/internal/store"
)

func newTestService(t *testing.T, isBootNode bool) *Service {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, isBootNode)
}

// S1: single join, idempotent on repeat.
func TestJoin_S1_SingleJoinIdempotent(t *testing.T) {
	s := newTestService(t, true)

	n1, err := s.Join("10.0.0.5", nil)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if n1.GUID != 1 || n1.Address != "10.0.0.5" {
		t.Fatalf("Join = %+v, want guid=1 address=10.0.0.5", n1)
	}

	n2, err := s.Join("10.0.0.5", nil)
	if err != nil {
		t.Fatalf("Join (repeat): %v", err)
	}
	if n2 != n1 {
		t.Fatalf("Join not idempotent: got %+v, want %+v", n2, n1)
	}
}

// S2: rejoin with a known guid rebinds the address.
func TestJoin_S2_RejoinRebinds(t *testing.T) {
	s := newTestService(t, true)

	n1, err := s.Join("10.0.0.5", nil)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	g := n1.GUID
	n2, err := s.Join("10.0.0.6", &g)
	if err != nil {
		t.Fatalf("Join (rejoin): %v", err)
	}
	if n2.GUID != n1.GUID || n2.Address != "10.0.0.6" {
		t.Fatalf("Join (rejoin) = %+v, want guid=%d address=10.0.0.6", n2, n1.GUID)
	}
}

func TestJoin_RejectsUnallocatedGUID(t *testing.T) {
	s := newTestService(t, true)
	g := guid.GUID(99)
	if _, err := s.Join("10.0.0.7", &g); err == nil {
		t.Fatal("expected error for never-allocated guid")
	}
}

// Property 7: Join is idempotent for the same address.
func TestJoin_Property7_IdempotentPerAddress(t *testing.T) {
	s := newTestService(t, true)
	for i := 0; i < 5; i++ {
		n, err := s.Join("10.0.0.8", nil)
		if err != nil {
			t.Fatalf("Join (iteration %d): %v", i, err)
		}
		if n.GUID != 1 {
			t.Fatalf("Join (iteration %d) = guid %d, want 1", i, n.GUID)
		}
	}
}

func TestJoin_NonBootNodeRefuses(t *testing.T) {
	s := newTestService(t, false)
	if _, err := s.Join("10.0.0.5", nil); err != ErrNetworkJoin {
		t.Fatalf("Join on non-boot node = %v, want ErrNetworkJoin", err)
	}
}
