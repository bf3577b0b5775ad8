package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/lumehq/lifeos/internal/repository"
	"github.com/lumehq/lifeos/internal/types"
)

type mockCharacterStore struct {
	characters map[string]types.Character
	updates    int
}

func newMockCharacterStore(characters ...types.Character) *mockCharacterStore {
	m := &mockCharacterStore{characters: make(map[string]types.Character)}
	for _, c := range characters {
		m.characters[c.ID] = c
	}
	return m
}

func (m *mockCharacterStore) GetByID(_ context.Context, id string) (*types.Character, error) {
	c, ok := m.characters[id]
	if !ok {
		return nil, fmt.Errorf("character %s: %w", id, repository.ErrNotFound)
	}
	return &c, nil
}

func (m *mockCharacterStore) Update(_ context.Context, c *types.Character) error {
	m.updates++
	m.characters[c.ID] = *c
	return nil
}

func newTestMigrator(characters *mockCharacterStore, store *mockSessionStore) *Migrator {
	m := NewMigrator(characters, newTestService(store), nil)
	m.nowFunc = func() time.Time { return time.Unix(2000, 0) }
	return m
}

func legacyMessage(content string) types.ChatMessage {
	return types.ChatMessage{Role: "user", Content: content, Timestamp: time.Unix(1, 0)}
}

func TestEnsureMigratedSilentAcceptWithoutLegacyData(t *testing.T) {
	characters := newMockCharacterStore(types.Character{ID: "c1", Name: "Iris"})
	store := newMockSessionStore()
	m := newTestMigrator(characters, store)

	status, err := m.EnsureMigrated(context.Background(), "c1")
	if err != nil {
		t.Fatalf("EnsureMigrated returned error: %v", err)
	}
	if status != StatusMigrated {
		t.Fatalf("expected silent migration, got %s", status)
	}
	c, _ := characters.GetByID(context.Background(), "c1")
	if c.Settings.MigrationDecision != types.MigrationAccepted {
		t.Fatalf("expected decision accepted, got %q", c.Settings.MigrationDecision)
	}
	if store.creates != 1 {
		t.Fatalf("expected an empty primary session, got %d creates", store.creates)
	}
}

func TestEnsureMigratedPromptsWhenLegacyDataExists(t *testing.T) {
	characters := newMockCharacterStore(types.Character{
		ID:                "c1",
		LegacyChatHistory: []types.ChatMessage{legacyMessage("m1")},
	})
	store := newMockSessionStore()
	m := newTestMigrator(characters, store)

	status, err := m.EnsureMigrated(context.Background(), "c1")
	if err != nil {
		t.Fatalf("EnsureMigrated returned error: %v", err)
	}
	if status != StatusPromptRequired {
		t.Fatalf("expected prompt required, got %s", status)
	}
	if store.creates != 0 {
		t.Fatal("nothing may be created before the user decides")
	}
	c, _ := characters.GetByID(context.Background(), "c1")
	if len(c.LegacyChatHistory) != 1 {
		t.Fatal("legacy data must stay untouched before the decision")
	}
}

func TestApplyAcceptMergesAdditively(t *testing.T) {
	characters := newMockCharacterStore(types.Character{
		ID:                "c1",
		LegacyChatHistory: []types.ChatMessage{legacyMessage("m1"), legacyMessage("m2")},
		LegacyMemory:      []string{"old fact"},
	})
	store := newMockSessionStore()
	store.put(types.Session{ID: "primary", CharacterID: "c1", Name: "Main",
		ChatHistory: []types.ChatMessage{legacyMessage("m3")}})
	m := newTestMigrator(characters, store)

	status, err := m.Apply(context.Background(), "c1", true)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if status != StatusMigrated {
		t.Fatalf("expected migrated, got %s", status)
	}

	primary, _ := store.GetByID(context.Background(), "primary")
	if len(primary.ChatHistory) != 3 {
		t.Fatalf("expected m1,m2,m3 merged exactly once, got %d messages", len(primary.ChatHistory))
	}
	got := []string{primary.ChatHistory[0].Content, primary.ChatHistory[1].Content, primary.ChatHistory[2].Content}
	if got[0] != "m1" || got[1] != "m2" || got[2] != "m3" {
		t.Fatalf("expected legacy messages first, got %v", got)
	}
	if len(primary.Memory) != 1 || primary.Memory[0] != "old fact" {
		t.Fatalf("expected legacy memory merged, got %v", primary.Memory)
	}

	c, _ := characters.GetByID(context.Background(), "c1")
	if len(c.LegacyChatHistory) != 0 || len(c.LegacyMemory) != 0 {
		t.Fatal("legacy fields must be cleared after the merge")
	}
	if c.Settings.MigrationDecision != types.MigrationAccepted {
		t.Fatalf("expected decision accepted, got %q", c.Settings.MigrationDecision)
	}

	// Running again with empty legacy fields is a no-op.
	if _, err := m.EnsureMigrated(context.Background(), "c1"); err != nil {
		t.Fatalf("EnsureMigrated returned error: %v", err)
	}
	primary, _ = store.GetByID(context.Background(), "primary")
	if len(primary.ChatHistory) != 3 {
		t.Fatalf("re-running migration duplicated data: %d messages", len(primary.ChatHistory))
	}
}

func TestEnsureMigratedRemergesRestoredBackup(t *testing.T) {
	// Accepted character whose legacy fields were re-populated by a
	// backup import: merged again instead of erroring.
	characters := newMockCharacterStore(types.Character{
		ID:           "c1",
		Settings:     types.CharacterSettings{MigrationDecision: types.MigrationAccepted},
		LegacyMemory: []string{"restored"},
	})
	store := newMockSessionStore()
	store.put(types.Session{ID: "primary", CharacterID: "c1", Name: "Main", Memory: []string{"kept"}})
	m := newTestMigrator(characters, store)

	status, err := m.EnsureMigrated(context.Background(), "c1")
	if err != nil {
		t.Fatalf("EnsureMigrated returned error: %v", err)
	}
	if status != StatusMigrated {
		t.Fatalf("expected migrated, got %s", status)
	}
	primary, _ := store.GetByID(context.Background(), "primary")
	if len(primary.Memory) != 2 || primary.Memory[0] != "restored" || primary.Memory[1] != "kept" {
		t.Fatalf("expected [restored kept], got %v", primary.Memory)
	}
	c, _ := characters.GetByID(context.Background(), "c1")
	if len(c.LegacyMemory) != 0 {
		t.Fatal("legacy fields must be re-cleared")
	}
}

func TestApplyDeclineLeavesLegacyDataUntouched(t *testing.T) {
	characters := newMockCharacterStore(types.Character{
		ID:                "c1",
		LegacyChatHistory: []types.ChatMessage{legacyMessage("m1")},
	})
	store := newMockSessionStore()
	m := newTestMigrator(characters, store)

	status, err := m.Apply(context.Background(), "c1", false)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if status != StatusLegacy {
		t.Fatalf("expected legacy, got %s", status)
	}
	c, _ := characters.GetByID(context.Background(), "c1")
	if c.Settings.MigrationDecision != types.MigrationRejected {
		t.Fatalf("expected decision rejected, got %q", c.Settings.MigrationDecision)
	}
	if len(c.LegacyChatHistory) != 1 {
		t.Fatal("declining must not touch legacy data")
	}
	if store.creates != 0 {
		t.Fatal("declining must not create sessions")
	}

	// A later explicit accept still works.
	if _, err := m.Apply(context.Background(), "c1", true); err != nil {
		t.Fatalf("Apply after decline returned error: %v", err)
	}
	c, _ = characters.GetByID(context.Background(), "c1")
	if c.Settings.MigrationDecision != types.MigrationAccepted {
		t.Fatalf("expected decision accepted after retry, got %q", c.Settings.MigrationDecision)
	}
}

func TestMigrationMissingCharacterIsNoOp(t *testing.T) {
	m := newTestMigrator(newMockCharacterStore(), newMockSessionStore())
	if _, err := m.EnsureMigrated(context.Background(), "ghost"); err != nil {
		t.Fatalf("EnsureMigrated on missing character must not fail: %v", err)
	}
	if _, err := m.Apply(context.Background(), "ghost", true); err != nil {
		t.Fatalf("Apply on missing character must not fail: %v", err)
	}
}
