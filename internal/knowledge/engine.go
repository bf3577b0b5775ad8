package knowledge

import (
	"context"
	"log/slog"
	"strings"

	"github.com/lumehq/lifeos/internal/types"
)

// BookStore is the world-book surface the engine needs.
type BookStore interface {
	GetByIDs(ctx context.Context, ids []string) ([]types.WorldBook, error)
	UpdateEntryEmbedding(ctx context.Context, entryID string, embedding []float32, hash string) error
}

// BookActivation groups the activated entries of one book.
type BookActivation struct {
	BookName string
	Entries  []types.WorldBookEntry
}

// Engine evaluates world-book entries against the recent conversation.
type Engine struct {
	books      BookStore
	embeddings *EmbeddingService
	logger     *slog.Logger
}

// NewEngine returns an activation Engine.
func NewEngine(books BookStore, embeddings *EmbeddingService, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{books: books, embeddings: embeddings, logger: logger}
}

// Activate returns the entries to inject for this turn, grouped under their
// book, in book order then entry order. The scan covers the given recent
// messages (hidden ones excluded). An embedding failure disables semantic
// entries for this call only and is never an error.
//
// There is no cap on activated entries: completeness is preferred over token
// economy, and the only budgets are the scan depth and the entries' own
// lengths.
func (e *Engine) Activate(ctx context.Context, bookIDs []string, recent []types.ChatMessage, threshold float64) ([]BookActivation, error) {
	if len(bookIDs) == 0 {
		return nil, nil
	}
	books, err := e.books.GetByIDs(ctx, bookIDs)
	if err != nil {
		return nil, err
	}

	scanRaw := scanText(recent)
	scanLower := strings.ToLower(scanRaw)

	var scanVec []float32
	if needsSemantic(books) {
		scanVec, err = e.embeddings.Embed(ctx, scanRaw)
		if err != nil {
			e.logger.Warn("scan embedding failed, semantic entries inert for this turn", "error", err)
			scanVec = nil
		}
	}

	var results []BookActivation
	for _, book := range books {
		var activated []types.WorldBookEntry
		for _, entry := range book.Entries {
			if !entry.Enabled {
				continue
			}
			if e.activates(entry, scanLower, scanVec, threshold) {
				activated = append(activated, entry)
			}
		}
		if len(activated) > 0 {
			results = append(results, BookActivation{BookName: book.Name, Entries: activated})
		}
	}
	return results, nil
}

func (e *Engine) activates(entry types.WorldBookEntry, scanLower string, scanVec []float32, threshold float64) bool {
	switch entry.TriggerMode {
	case types.TriggerAlways:
		return true
	case types.TriggerKeyword:
		for _, key := range entry.Keys {
			key = strings.ToLower(strings.TrimSpace(key))
			if key != "" && strings.Contains(scanLower, key) {
				return true
			}
		}
		return false
	case types.TriggerSemantic:
		// A semantic entry without a usable embedding is silently inert.
		if len(scanVec) == 0 || len(entry.Embedding) == 0 {
			return false
		}
		return Cosine(scanVec, entry.Embedding) >= threshold
	default:
		return false
	}
}

// RefreshEmbeddings recomputes and persists embeddings for the book's
// semantic entries whose content hash went stale. Unchanged entries are
// skipped entirely, avoiding redundant provider calls.
func (e *Engine) RefreshEmbeddings(ctx context.Context, book *types.WorldBook) error {
	for i := range book.Entries {
		entry := &book.Entries[i]
		if entry.TriggerMode != types.TriggerSemantic {
			continue
		}
		vec, hash, recomputed, err := e.embeddings.EmbedEntry(ctx, entry.Name, entry.Content, entry.EmbeddingHash, entry.Embedding)
		if err != nil {
			return err
		}
		if !recomputed {
			continue
		}
		if err := e.books.UpdateEntryEmbedding(ctx, entry.ID, vec, hash); err != nil {
			return err
		}
		entry.Embedding = vec
		entry.EmbeddingHash = hash
		e.logger.Debug("refreshed entry embedding", "book", book.ID, "entry", entry.ID)
	}
	return nil
}

// scanText concatenates the visible recent messages into one scan string.
func scanText(recent []types.ChatMessage) string {
	var b strings.Builder
	for _, msg := range recent {
		if msg.Hidden {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(msg.Content)
	}
	return b.String()
}

// needsSemantic reports whether any enabled entry could use a scan embedding.
func needsSemantic(books []types.WorldBook) bool {
	for _, book := range books {
		for _, entry := range book.Entries {
			if entry.Enabled && entry.TriggerMode == types.TriggerSemantic && len(entry.Embedding) > 0 {
				return true
			}
		}
	}
	return false
}
