package session

import (
	"testing"

	"github.com/poudelpratik/fragmentrt/pkg/contracts"
)

type fakeCatalog struct {
	fragments []contracts.Fragment
}

func (f *fakeCatalog) Get(id string) (contracts.ModuleHandle, error) { return nil, nil }
func (f *fakeCatalog) Fragments() []contracts.Fragment               { return f.fragments }

type fakeSink struct {
	sent [][]byte
}

func (f *fakeSink) Send(message []byte) error {
	f.sent = append(f.sent, message)
	return nil
}

func newTestRegistry() *Registry {
	return New(&fakeCatalog{fragments: []contracts.Fragment{
		{ID: "fibonacci", InitialLocation: contracts.LocationServer},
		{ID: "factorial", InitialLocation: contracts.LocationClient},
	}})
}

func TestRegistry_RegisterDefaultsPlacementFromCatalog(t *testing.T) {
	r := newTestRegistry()
	snap := r.Register("sess-1", "token-1")

	if len(snap.Placement) != 2 {
		t.Fatalf("expected 2 placement entries, got %d", len(snap.Placement))
	}
	want := map[string]contracts.ExecutionLocation{"fibonacci": contracts.LocationServer, "factorial": contracts.LocationClient}
	for _, entry := range snap.Placement {
		if want[entry.FragmentID] != entry.Location {
			t.Errorf("fragment %s: expected %s, got %s", entry.FragmentID, want[entry.FragmentID], entry.Location)
		}
	}
	if snap.Connected {
		t.Error("expected newly registered session to be disconnected")
	}
}

func TestRegistry_LookupByIDAndToken(t *testing.T) {
	r := newTestRegistry()
	r.Register("sess-1", "token-1")

	if _, ok := r.LookupByID("sess-1"); !ok {
		t.Fatal("expected LookupByID to find sess-1")
	}
	snap, ok := r.LookupByToken("token-1")
	if !ok {
		t.Fatal("expected LookupByToken to find token-1")
	}
	if snap.SessionID != "sess-1" {
		t.Errorf("expected session id sess-1, got %s", snap.SessionID)
	}
	if _, ok := r.LookupByID("missing"); ok {
		t.Error("expected LookupByID to miss on unknown id")
	}
	if _, ok := r.LookupByToken("missing"); ok {
		t.Error("expected LookupByToken to miss on unknown token")
	}
}

func TestRegistry_UpdatePlacement_IgnoresUnknownFragments(t *testing.T) {
	r := newTestRegistry()
	r.Register("sess-1", "token-1")

	err := r.UpdatePlacement("sess-1", []contracts.PlacementEntry{
		{FragmentID: "fibonacci", Location: contracts.LocationClient},
		{FragmentID: "does-not-exist", Location: contracts.LocationServer},
	})
	if err != nil {
		t.Fatalf("UpdatePlacement failed: %v", err)
	}

	snap, _ := r.LookupByID("sess-1")
	for _, entry := range snap.Placement {
		if entry.FragmentID == "fibonacci" && entry.Location != contracts.LocationClient {
			t.Errorf("expected fibonacci placement updated to Client, got %s", entry.Location)
		}
	}

	// Applying the same delta twice is idempotent.
	if err := r.UpdatePlacement("sess-1", []contracts.PlacementEntry{{FragmentID: "fibonacci", Location: contracts.LocationClient}}); err != nil {
		t.Fatalf("second UpdatePlacement failed: %v", err)
	}
}

func TestRegistry_UpdatePlacement_UnknownSession(t *testing.T) {
	r := newTestRegistry()
	if err := r.UpdatePlacement("missing", nil); err == nil {
		t.Error("expected error updating placement for unknown session")
	}
}

func TestRegistry_AttachDetachOutbound(t *testing.T) {
	r := newTestRegistry()
	r.Register("sess-1", "token-1")

	sink := &fakeSink{}
	snap, ok := r.AttachOutbound("sess-1", sink, "test-agent", "127.0.0.1")
	if !ok {
		t.Fatal("expected AttachOutbound to succeed")
	}
	if !snap.Connected {
		t.Error("expected session to be connected after attach")
	}
	if r.Outbound("sess-1") != sink {
		t.Error("expected Outbound to return the attached sink")
	}

	r.DetachOutbound("sess-1")
	snap, _ = r.LookupByID("sess-1")
	if snap.Connected {
		t.Error("expected session to be disconnected after detach")
	}
	if r.Outbound("sess-1") != nil {
		t.Error("expected Outbound to return nil after detach")
	}

	if _, ok := r.AttachOutbound("missing", sink, "", ""); ok {
		t.Error("expected AttachOutbound to fail for unknown session")
	}
}

func TestRegistry_SnapshotAll(t *testing.T) {
	r := newTestRegistry()
	r.Register("sess-2", "token-2")
	r.Register("sess-1", "token-1")

	all := r.SnapshotAll()
	if len(all) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(all))
	}
	if all[0].SessionID != "sess-1" || all[1].SessionID != "sess-2" {
		t.Errorf("expected sorted session ids, got %s, %s", all[0].SessionID, all[1].SessionID)
	}
}
