package session

import (
	"context"
	"sort"
	"testing"

	"github.com/lumehq/lifeos/internal/types"
)

func cascadeFixture() *mockSessionStore {
	store := newMockSessionStore()
	store.put(types.Session{ID: "a", CharacterID: "c1", Name: "a", MountMemoryCount: 5})
	store.put(types.Session{ID: "b", CharacterID: "c1", Name: "b",
		MountMode: types.MountReference, MountSourceID: "a", MountMemoryCount: 5})
	store.put(types.Session{ID: "c", CharacterID: "c1", Name: "c",
		MountMode: types.MountReference, MountSourceID: "b", MountMemoryCount: 5})
	// A copy mount is not an edge: it holds its own snapshot.
	store.put(types.Session{ID: "d", CharacterID: "c1", Name: "d",
		MountMode: types.MountCopy, MountSourceID: "a", MountMemoryCount: 5})
	return store
}

func cascadeIDs(t *testing.T, svc *Service, root string) []string {
	t.Helper()
	set, err := svc.CollectCascade(context.Background(), root)
	if err != nil {
		t.Fatalf("CollectCascade(%s) returned error: %v", root, err)
	}
	ids := make([]string, 0, len(set))
	for _, s := range set {
		ids = append(ids, s.ID)
	}
	sort.Strings(ids)
	return ids
}

func TestCollectCascadeTransitive(t *testing.T) {
	svc := newTestService(cascadeFixture())

	if got := cascadeIDs(t, svc, "a"); len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("expected cascade {a b c}, got %v", got)
	}
	if got := cascadeIDs(t, svc, "b"); len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("expected cascade {b c}, got %v", got)
	}
	if got := cascadeIDs(t, svc, "c"); len(got) != 1 || got[0] != "c" {
		t.Fatalf("expected cascade {c}, got %v", got)
	}
}

func TestCollectCascadeRootFirst(t *testing.T) {
	svc := newTestService(cascadeFixture())
	set, err := svc.CollectCascade(context.Background(), "a")
	if err != nil {
		t.Fatalf("CollectCascade returned error: %v", err)
	}
	if set[0].ID != "a" {
		t.Fatalf("expected root first, got %s", set[0].ID)
	}
}

func TestCollectCascadeSurvivesCycle(t *testing.T) {
	store := newMockSessionStore()
	// Manufactured A<->B cycle, the shape the write-time guard prevents
	// but old data may still contain.
	store.put(types.Session{ID: "a", CharacterID: "c1", Name: "a",
		MountMode: types.MountReference, MountSourceID: "b", MountMemoryCount: 5})
	store.put(types.Session{ID: "b", CharacterID: "c1", Name: "b",
		MountMode: types.MountReference, MountSourceID: "a", MountMemoryCount: 5})
	svc := newTestService(store)

	got := cascadeIDs(t, svc, "a")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("expected cycle cascade {a b}, got %v", got)
	}
}

func TestDeleteCascadeRemovesWholeSet(t *testing.T) {
	store := cascadeFixture()
	svc := newTestService(store)

	deleted, err := svc.DeleteCascade(context.Background(), "a")
	if err != nil {
		t.Fatalf("DeleteCascade returned error: %v", err)
	}
	if len(deleted) != 3 {
		t.Fatalf("expected 3 deletions, got %v", deleted)
	}
	remaining, _ := svc.List(context.Background(), "c1")
	if len(remaining) != 1 || remaining[0].ID != "d" {
		t.Fatalf("expected only the copy-mounted session to remain, got %v", remaining)
	}
}
