package ring

import (
	"math/bits"
	"reflect"
	"testing"
)

func TestNetworkSequence(t *testing.T) {
	cases := []struct {
		self, max GUID
		want      []GUID
	}{
		{5, 9, []GUID{5, 4, 3, 2, 1, 9, 8, 7, 6}},
		{9, 9, []GUID{9, 8, 7, 6, 5, 4, 3, 2, 1}},
		{1, 9, []GUID{1, 9, 8, 7, 6, 5, 4, 3, 2}},
	}
	for _, c := range cases {
		got := NetworkSequence(c.self, c.max)
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("NetworkSequence(%d, %d) = %v, want %v", c.self, c.max, got, c.want)
		}
		if got[0] != c.self {
			t.Errorf("NetworkSequence(%d, %d)[0] = %d, want self", c.self, c.max, got[0])
		}
		if !isPermutationOf1ToMax(got, c.max) {
			t.Errorf("NetworkSequence(%d, %d) = %v is not a permutation of 1..%d", c.self, c.max, got, c.max)
		}
	}
}

func isPermutationOf1ToMax(seq []GUID, max GUID) bool {
	if GUID(len(seq)) != max {
		return false
	}
	seen := make(map[GUID]bool, len(seq))
	for _, g := range seq {
		if g < 1 || g > max || seen[g] {
			return false
		}
		seen[g] = true
	}
	return true
}

// S3 from spec.md §8.
func TestPrimaryPeers_S3(t *testing.T) {
	if got := PrimaryPeers(5, 9); !reflect.DeepEqual(got, []GUID{4, 3, 1, 6}) {
		t.Errorf("PrimaryPeers(5, 9) = %v, want [4 3 1 6]", got)
	}
	if got := PrimaryPeers(9, 9); !reflect.DeepEqual(got, []GUID{8, 7, 5, 1}) {
		t.Errorf("PrimaryPeers(9, 9) = %v, want [8 7 5 1]", got)
	}
}

func TestPrimaryPeers_LengthAndDistinctness(t *testing.T) {
	for max := GUID(1); max <= 32; max++ {
		for self := GUID(1); self <= max; self++ {
			peers := PrimaryPeers(self, max)
			// One peer per power of two strictly below max.
			if want := bits.Len64(uint64(max - 1)); len(peers) != want {
				t.Fatalf("PrimaryPeers(%d, %d) = %v has length %d, want %d", self, max, peers, len(peers), want)
			}
			seen := make(map[GUID]bool, len(peers))
			for _, p := range peers {
				if p < 1 || p > max {
					t.Fatalf("PrimaryPeers(%d, %d) produced out-of-range peer %d", self, max, p)
				}
				if seen[p] {
					t.Fatalf("PrimaryPeers(%d, %d) = %v has duplicate entries", self, max, peers)
				}
				seen[p] = true
			}
		}
	}
}

// S4 from spec.md §8.
func TestBackupPeers_S4(t *testing.T) {
	got, err := BackupPeers(6, 2, 8, 9)
	if err != nil {
		t.Fatalf("BackupPeers(6, 2, 8, 9) error: %v", err)
	}
	if !reflect.DeepEqual(got, []GUID{1, 9}) {
		t.Errorf("BackupPeers(6, 2, 8, 9) = %v, want [1 9]", got)
	}

	got, err = BackupPeers(9, 1, 9, 9)
	if err != nil {
		t.Fatalf("BackupPeers(9, 1, 9, 9) error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("BackupPeers(9, 1, 9, 9) = %v, want []", got)
	}
}

func TestBackupPeers_GUIDNotInNetwork(t *testing.T) {
	_, err := BackupPeers(6, 99, 8, 9)
	var nie *NotInNetworkError
	if err == nil {
		t.Fatal("expected error for start GUID not in network")
	}
	if !asNotInNetworkError(err, &nie) {
		t.Fatalf("expected *NotInNetworkError, got %T: %v", err, err)
	}
	if nie.GUID != 99 {
		t.Errorf("NotInNetworkError.GUID = %d, want 99", nie.GUID)
	}
}

func asNotInNetworkError(err error, target **NotInNetworkError) bool {
	nie, ok := err.(*NotInNetworkError)
	if !ok {
		return false
	}
	*target = nie
	return true
}

func TestBackupPeers_SubsetOfNetworkSequence(t *testing.T) {
	const max = GUID(12)
	for self := GUID(1); self <= max; self++ {
		network := NetworkSequence(self, max)
		inNetwork := make(map[GUID]bool, len(network))
		for _, g := range network {
			inNetwork[g] = true
		}
		for _, start := range network {
			for _, stop := range network {
				backups, err := BackupPeers(self, start, stop, max)
				if err != nil {
					t.Fatalf("BackupPeers(%d, %d, %d, %d) unexpected error: %v", self, start, stop, max, err)
				}
				for _, b := range backups {
					if b == start || b == stop {
						t.Fatalf("BackupPeers(%d, %d, %d, %d) = %v includes an endpoint", self, start, stop, max, backups)
					}
					if !inNetwork[b] {
						t.Fatalf("BackupPeers(%d, %d, %d, %d) = %v contains %d not in network sequence", self, start, stop, max, backups, b)
					}
				}
			}
		}
	}
}
