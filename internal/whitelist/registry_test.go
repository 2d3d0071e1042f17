package whitelist

import (
	"testing"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestGrantIdempotent(t *testing.T) {
	r := newTestRegistry(t)

	added, err := r.Grant("100")
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if !added {
		t.Fatal("expected first grant to add")
	}

	added, err = r.Grant("100")
	if err != nil {
		t.Fatalf("Grant repeat: %v", err)
	}
	if added {
		t.Fatal("expected repeat grant to report already-granted")
	}

	granted, err := r.IsGranted("100")
	if err != nil {
		t.Fatalf("IsGranted: %v", err)
	}
	if !granted {
		t.Fatal("expected grant to hold")
	}
}

func TestRevokeIdempotent(t *testing.T) {
	r := newTestRegistry(t)

	removed, err := r.Revoke("100")
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if removed {
		t.Fatal("expected revoke of absent grant to report not-present")
	}

	r.Grant("100")
	removed, err = r.Revoke("100")
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if !removed {
		t.Fatal("expected revoke to remove")
	}

	granted, _ := r.IsGranted("100")
	if granted {
		t.Fatal("grant survived revoke")
	}
}

func TestListInsertionOrder(t *testing.T) {
	r := newTestRegistry(t)

	for _, id := range []string{"30", "10", "20"} {
		if _, err := r.Grant(id); err != nil {
			t.Fatalf("Grant %s: %v", id, err)
		}
	}

	ids, err := r.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"30", "10", "20"}
	if len(ids) != len(want) {
		t.Fatalf("List = %v", ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("List = %v, want %v", ids, want)
		}
	}
}

func TestListEmpty(t *testing.T) {
	r := newTestRegistry(t)
	ids, err := r.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("List = %v", ids)
	}
}
