package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/lumehq/lifeos/internal/types"
)

// worldBookModel maps to the world_books table.
type worldBookModel struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (worldBookModel) TableName() string {
	return "world_books"
}

// worldBookEntryModel maps to the world_book_entries table.
type worldBookEntryModel struct {
	ID     string `gorm:"primaryKey"`
	BookID string `gorm:"index"`
	// Position preserves insertion order; activation scans entries in
	// this order.
	Position    int
	Name        string
	Content     string
	Keys        json.RawMessage `gorm:"type:jsonb"`
	Enabled     bool
	TriggerMode string
	// Embedding stores the unit-normalized vector for semantic activation.
	Embedding     *pgvector.Vector `gorm:"type:vector(768)"`
	EmbeddingHash string
}

func (worldBookEntryModel) TableName() string {
	return "world_book_entries"
}

// WorldBookRepo accesses world-book data.
type WorldBookRepo struct {
	db *gorm.DB
}

// NewWorldBookRepo returns a WorldBookRepo.
func NewWorldBookRepo(db *gorm.DB) *WorldBookRepo {
	return &WorldBookRepo{db: db}
}

// GetByIDs fetches books with their entries, in the order of the given ids.
// Unknown ids are skipped silently.
func (r *WorldBookRepo) GetByIDs(ctx context.Context, ids []string) ([]types.WorldBook, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var bookRecords []worldBookModel
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&bookRecords).Error; err != nil {
		return nil, fmt.Errorf("failed to query world books: %w", err)
	}
	byID := make(map[string]worldBookModel, len(bookRecords))
	for _, record := range bookRecords {
		byID[record.ID] = record
	}

	var entryRecords []worldBookEntryModel
	if err := r.db.WithContext(ctx).
		Where("book_id IN ?", ids).
		Order("position ASC").
		Find(&entryRecords).Error; err != nil {
		return nil, fmt.Errorf("failed to query world book entries: %w", err)
	}
	entriesByBook := make(map[string][]types.WorldBookEntry)
	for _, record := range entryRecords {
		entriesByBook[record.BookID] = append(entriesByBook[record.BookID], entryFromModel(record))
	}

	results := make([]types.WorldBook, 0, len(bookRecords))
	for _, id := range ids {
		record, ok := byID[id]
		if !ok {
			continue
		}
		book := types.WorldBook{
			ID:        record.ID,
			Name:      record.Name,
			Entries:   entriesByBook[record.ID],
			CreatedAt: record.CreatedAt,
			UpdatedAt: record.UpdatedAt,
		}
		results = append(results, book)
	}
	return results, nil
}

// CreateBook persists a book and its entries.
func (r *WorldBookRepo) CreateBook(ctx context.Context, book *types.WorldBook) error {
	record := worldBookModel{
		ID:        book.ID,
		Name:      book.Name,
		CreatedAt: book.CreatedAt,
		UpdatedAt: book.UpdatedAt,
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("failed to insert world book: %w", err)
		}
		for i, entry := range book.Entries {
			entryRecord, err := entryToModel(book.ID, i, entry)
			if err != nil {
				return err
			}
			if err := tx.Create(&entryRecord).Error; err != nil {
				return fmt.Errorf("failed to insert world book entry: %w", err)
			}
		}
		return nil
	})
}

// UpdateEntryEmbedding persists a recomputed entry embedding and its hash.
func (r *WorldBookRepo) UpdateEntryEmbedding(ctx context.Context, entryID string, embedding []float32, hash string) error {
	var vector *pgvector.Vector
	if len(embedding) > 0 {
		v := pgvector.NewVector(embedding)
		vector = &v
	}
	err := r.db.WithContext(ctx).
		Model(&worldBookEntryModel{}).
		Where("id = ?", entryID).
		Updates(map[string]any{"embedding": vector, "embedding_hash": hash}).Error
	if err != nil {
		return fmt.Errorf("failed to update entry embedding %s: %w", entryID, err)
	}
	return nil
}

func entryToModel(bookID string, position int, entry types.WorldBookEntry) (worldBookEntryModel, error) {
	keys, err := marshalJSON(entry.Keys)
	if err != nil {
		return worldBookEntryModel{}, fmt.Errorf("failed to encode entry keys: %w", err)
	}
	var vector *pgvector.Vector
	if len(entry.Embedding) > 0 {
		v := pgvector.NewVector(entry.Embedding)
		vector = &v
	}
	return worldBookEntryModel{
		ID:            entry.ID,
		BookID:        bookID,
		Position:      position,
		Name:          entry.Name,
		Content:       entry.Content,
		Keys:          keys,
		Enabled:       entry.Enabled,
		TriggerMode:   string(entry.TriggerMode),
		Embedding:     vector,
		EmbeddingHash: entry.EmbeddingHash,
	}, nil
}

func entryFromModel(record worldBookEntryModel) types.WorldBookEntry {
	var keys []string
	_ = unmarshalJSON(record.Keys, &keys)
	entry := types.WorldBookEntry{
		ID:            record.ID,
		Name:          record.Name,
		Content:       record.Content,
		Keys:          keys,
		Enabled:       record.Enabled,
		TriggerMode:   types.TriggerMode(record.TriggerMode),
		EmbeddingHash: record.EmbeddingHash,
	}
	if record.Embedding != nil {
		entry.Embedding = record.Embedding.Slice()
	}
	return entry
}
