package model

import "testing"

func TestIsDirectAccessCapableWithoutEnsure(t *testing.T) {
	f := &FileSpec{}
	if !f.IsDirectAccessCapable(false) {
		t.Fatal("expected capable=true when ensureReplica is false, regardless of replicas")
	}
}

func TestIsDirectAccessCapableRequiresResolvedPFN(t *testing.T) {
	f := &FileSpec{}
	if f.IsDirectAccessCapable(true) {
		t.Fatal("expected capable=false with no replicas and ensureReplica=true")
	}

	f.Replicas = []Replica{{Endpoint: "RSE1", PFNs: []string{""}}}
	if f.IsDirectAccessCapable(true) {
		t.Fatal("expected capable=false when all PFNs are empty")
	}

	f.Replicas = []Replica{{Endpoint: "RSE1", PFNs: []string{"root://host//path"}}}
	if !f.IsDirectAccessCapable(true) {
		t.Fatal("expected capable=true once a non-empty PFN is present")
	}
}

func TestResetChecksumInitializesOnce(t *testing.T) {
	f := &FileSpec{}
	f.ResetChecksum()
	if f.Checksum == nil {
		t.Fatal("expected ResetChecksum to allocate the map")
	}
	f.Checksum["adler32"] = "deadbeef"
	f.ResetChecksum()
	if f.Checksum["adler32"] != "deadbeef" {
		t.Fatal("expected ResetChecksum to be a no-op on an already-initialized map")
	}
}
