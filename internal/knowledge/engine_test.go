package knowledge

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/lumehq/lifeos/internal/types"
)

type mockBookStore struct {
	books            []types.WorldBook
	savedEmbeddings  int
	savedEmbeddingID string
}

func (m *mockBookStore) GetByIDs(_ context.Context, ids []string) ([]types.WorldBook, error) {
	byID := make(map[string]types.WorldBook, len(m.books))
	for _, b := range m.books {
		byID[b.ID] = b
	}
	var results []types.WorldBook
	for _, id := range ids {
		if b, ok := byID[id]; ok {
			results = append(results, b)
		}
	}
	return results, nil
}

func (m *mockBookStore) UpdateEntryEmbedding(_ context.Context, entryID string, _ []float32, _ string) error {
	m.savedEmbeddings++
	m.savedEmbeddingID = entryID
	return nil
}

func newTestEngine(books *mockBookStore, provider Provider) *Engine {
	svc := NewEmbeddingService(func(ctx context.Context) (Provider, error) {
		if provider == nil {
			return nil, fmt.Errorf("no provider configured")
		}
		return provider, nil
	}, nil)
	return NewEngine(books, svc, nil)
}

func messages(contents ...string) []types.ChatMessage {
	msgs := make([]types.ChatMessage, 0, len(contents))
	for _, c := range contents {
		msgs = append(msgs, types.ChatMessage{Role: "user", Content: c, Timestamp: time.Unix(1, 0)})
	}
	return msgs
}

func TestKeywordActivation(t *testing.T) {
	books := &mockBookStore{books: []types.WorldBook{{
		ID: "b1", Name: "Lore",
		Entries: []types.WorldBookEntry{
			{ID: "e1", Content: "about the kingdom", Enabled: true,
				TriggerMode: types.TriggerKeyword, Keys: []string{" Kingdom "}},
			{ID: "e2", Content: "never matches", Enabled: true,
				TriggerMode: types.TriggerKeyword, Keys: nil},
		},
	}}}
	engine := newTestEngine(books, nil)

	got, err := engine.Activate(context.Background(), []string{"b1"}, messages("Tell me about the KINGDOM of Eldra"), 0.7)
	if err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	if len(got) != 1 || len(got[0].Entries) != 1 || got[0].Entries[0].ID != "e1" {
		t.Fatalf("expected only the keyed entry to activate, got %+v", got)
	}

	got, err = engine.Activate(context.Background(), []string{"b1"}, messages("nothing relevant here"), 0.7)
	if err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no activation without the keyword, got %+v", got)
	}
}

func TestAlwaysAndDisabledEntries(t *testing.T) {
	books := &mockBookStore{books: []types.WorldBook{{
		ID: "b1", Name: "Lore",
		Entries: []types.WorldBookEntry{
			{ID: "e1", Content: "pinned lore", Enabled: true, TriggerMode: types.TriggerAlways},
			{ID: "e2", Content: "switched off", Enabled: false, TriggerMode: types.TriggerAlways},
		},
	}}}
	engine := newTestEngine(books, nil)

	got, err := engine.Activate(context.Background(), []string{"b1"}, nil, 0.7)
	if err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	if len(got) != 1 || len(got[0].Entries) != 1 || got[0].Entries[0].ID != "e1" {
		t.Fatalf("expected only the enabled always entry, got %+v", got)
	}
}

func TestSemanticThresholdBoundary(t *testing.T) {
	// Scan embeds to [1,0]; the entry sits at similarity 0.6 exactly.
	provider := &mockProvider{vec: []float32{1, 0}}
	entry := types.WorldBookEntry{ID: "e1", Content: "semantic lore", Enabled: true,
		TriggerMode: types.TriggerSemantic, Embedding: []float32{0.6, 0.8}, EmbeddingHash: "h"}
	books := &mockBookStore{books: []types.WorldBook{{ID: "b1", Name: "Lore",
		Entries: []types.WorldBookEntry{entry}}}}
	engine := newTestEngine(books, provider)

	got, err := engine.Activate(context.Background(), []string{"b1"}, messages("hello"), 0.6)
	if err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("similarity == threshold must activate, got %+v", got)
	}

	got, err = engine.Activate(context.Background(), []string{"b1"}, messages("hello"), 0.6+1e-6)
	if err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("similarity below threshold must not activate, got %+v", got)
	}
}

func TestSemanticEntryWithoutEmbeddingIsInert(t *testing.T) {
	provider := &mockProvider{vec: []float32{1, 0}}
	books := &mockBookStore{books: []types.WorldBook{{ID: "b1", Name: "Lore",
		Entries: []types.WorldBookEntry{
			{ID: "e1", Content: "no vector yet", Enabled: true, TriggerMode: types.TriggerSemantic},
		}}}}
	engine := newTestEngine(books, provider)

	got, err := engine.Activate(context.Background(), []string{"b1"}, messages("hello"), 0)
	if err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("embedding-less semantic entry must stay inert, got %+v", got)
	}
	if provider.calls.Load() != 0 {
		t.Fatalf("no scan embedding needed when no entry can use it, got %d calls", provider.calls.Load())
	}
}

func TestEmbeddingFailureDisablesSemanticOnly(t *testing.T) {
	books := &mockBookStore{books: []types.WorldBook{{ID: "b1", Name: "Lore",
		Entries: []types.WorldBookEntry{
			{ID: "e1", Content: "keyword lore", Enabled: true,
				TriggerMode: types.TriggerKeyword, Keys: []string{"kingdom"}},
			{ID: "e2", Content: "semantic lore", Enabled: true,
				TriggerMode: types.TriggerSemantic, Embedding: []float32{1, 0}, EmbeddingHash: "h"},
		}}}}
	// Provider factory fails: semantic goes inert, the call still succeeds.
	engine := newTestEngine(books, nil)

	got, err := engine.Activate(context.Background(), []string{"b1"}, messages("the kingdom"), 0)
	if err != nil {
		t.Fatalf("Activate must not fail on embedding errors: %v", err)
	}
	if len(got) != 1 || len(got[0].Entries) != 1 || got[0].Entries[0].ID != "e1" {
		t.Fatalf("expected keyword entry only, got %+v", got)
	}
}

func TestActivationKeepsBookThenEntryOrder(t *testing.T) {
	books := &mockBookStore{books: []types.WorldBook{
		{ID: "b1", Name: "First", Entries: []types.WorldBookEntry{
			{ID: "e1", Content: "1", Enabled: true, TriggerMode: types.TriggerAlways},
			{ID: "e2", Content: "2", Enabled: true, TriggerMode: types.TriggerAlways},
		}},
		{ID: "b2", Name: "Second", Entries: []types.WorldBookEntry{
			{ID: "e3", Content: "3", Enabled: true, TriggerMode: types.TriggerAlways},
		}},
	}}
	engine := newTestEngine(books, nil)

	got, err := engine.Activate(context.Background(), []string{"b2", "b1"}, nil, 0.7)
	if err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	if len(got) != 2 || got[0].BookName != "Second" || got[1].BookName != "First" {
		t.Fatalf("expected linked-book order preserved, got %+v", got)
	}
	if got[1].Entries[0].ID != "e1" || got[1].Entries[1].ID != "e2" {
		t.Fatalf("expected entry insertion order preserved, got %+v", got[1].Entries)
	}
}

func TestHiddenMessagesExcludedFromScan(t *testing.T) {
	books := &mockBookStore{books: []types.WorldBook{{ID: "b1", Name: "Lore",
		Entries: []types.WorldBookEntry{
			{ID: "e1", Content: "secret lore", Enabled: true,
				TriggerMode: types.TriggerKeyword, Keys: []string{"kingdom"}},
		}}}}
	engine := newTestEngine(books, nil)

	recent := []types.ChatMessage{{Role: "user", Content: "the kingdom", Hidden: true}}
	got, err := engine.Activate(context.Background(), []string{"b1"}, recent, 0.7)
	if err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("hidden messages must not trigger activation, got %+v", got)
	}
}

func TestRefreshEmbeddingsSkipsFreshHashes(t *testing.T) {
	provider := &mockProvider{vec: []float32{1, 0}}
	books := &mockBookStore{}
	engine := newTestEngine(books, provider)

	book := &types.WorldBook{ID: "b1", Name: "Lore", Entries: []types.WorldBookEntry{
		{ID: "stale", Name: "A", Content: "text", Enabled: true, TriggerMode: types.TriggerSemantic},
		{ID: "fresh", Name: "B", Content: "other", Enabled: true, TriggerMode: types.TriggerSemantic,
			EmbeddingHash: EntryHash("B", "other"), Embedding: []float32{0, 1}},
		{ID: "kw", Name: "C", Content: "kw", Enabled: true, TriggerMode: types.TriggerKeyword},
	}}
	if err := engine.RefreshEmbeddings(context.Background(), book); err != nil {
		t.Fatalf("RefreshEmbeddings returned error: %v", err)
	}
	if books.savedEmbeddings != 1 || books.savedEmbeddingID != "stale" {
		t.Fatalf("expected only the stale entry recomputed, got %d (%s)", books.savedEmbeddings, books.savedEmbeddingID)
	}
	if book.Entries[0].EmbeddingHash != EntryHash("A", "text") || len(book.Entries[0].Embedding) == 0 {
		t.Fatal("expected refreshed entry updated in place")
	}
}
