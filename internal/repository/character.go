package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/lumehq/lifeos/internal/types"
)

// characterModel maps to the characters table.
type characterModel struct {
	ID              string `gorm:"primaryKey"`
	Name            string
	Description     string
	Scenario        string
	ExampleDialogue string
	FirstMessage    string
	// Settings and the legacy thread are stored as JSONB documents.
	Settings          json.RawMessage `gorm:"type:jsonb"`
	LegacyChatHistory json.RawMessage `gorm:"type:jsonb"`
	LegacyMemory      json.RawMessage `gorm:"type:jsonb"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (characterModel) TableName() string {
	return "characters"
}

// CharacterRepo accesses character data.
type CharacterRepo struct {
	db *gorm.DB
}

// NewCharacterRepo returns a CharacterRepo.
func NewCharacterRepo(db *gorm.DB) *CharacterRepo {
	return &CharacterRepo{db: db}
}

// GetByID fetches a character by id.
func (r *CharacterRepo) GetByID(ctx context.Context, id string) (*types.Character, error) {
	var record characterModel
	if err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to get character %s: %w", id, notFound(err))
	}
	c := characterFromModel(record)
	return &c, nil
}

// List returns all characters ordered by creation time.
func (r *CharacterRepo) List(ctx context.Context) ([]types.Character, error) {
	var records []characterModel
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list characters: %w", err)
	}
	results := make([]types.Character, 0, len(records))
	for _, record := range records {
		results = append(results, characterFromModel(record))
	}
	return results, nil
}

// Create persists a new character.
func (r *CharacterRepo) Create(ctx context.Context, c *types.Character) error {
	record, err := characterToModel(c)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to insert character: %w", err)
	}
	return nil
}

// Update overwrites a character record.
func (r *CharacterRepo) Update(ctx context.Context, c *types.Character) error {
	record, err := characterToModel(c)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Save(&record).Error; err != nil {
		return fmt.Errorf("failed to update character %s: %w", c.ID, err)
	}
	return nil
}

// Delete removes a character. Session cleanup is the caller's concern.
func (r *CharacterRepo) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Delete(&characterModel{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete character %s: %w", id, err)
	}
	return nil
}

func characterToModel(c *types.Character) (characterModel, error) {
	settings, err := marshalJSON(c.Settings)
	if err != nil {
		return characterModel{}, fmt.Errorf("failed to encode character settings: %w", err)
	}
	history, err := marshalJSON(c.LegacyChatHistory)
	if err != nil {
		return characterModel{}, fmt.Errorf("failed to encode legacy chat history: %w", err)
	}
	memory, err := marshalJSON(c.LegacyMemory)
	if err != nil {
		return characterModel{}, fmt.Errorf("failed to encode legacy memory: %w", err)
	}
	return characterModel{
		ID:                c.ID,
		Name:              c.Name,
		Description:       c.Description,
		Scenario:          c.Scenario,
		ExampleDialogue:   c.ExampleDialogue,
		FirstMessage:      c.FirstMessage,
		Settings:          settings,
		LegacyChatHistory: history,
		LegacyMemory:      memory,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}, nil
}

func characterFromModel(record characterModel) types.Character {
	var settings types.CharacterSettings
	var history []types.ChatMessage
	var memory []string
	_ = unmarshalJSON(record.Settings, &settings)
	_ = unmarshalJSON(record.LegacyChatHistory, &history)
	_ = unmarshalJSON(record.LegacyMemory, &memory)
	return types.Character{
		ID:                record.ID,
		Name:              record.Name,
		Description:       record.Description,
		Scenario:          record.Scenario,
		ExampleDialogue:   record.ExampleDialogue,
		FirstMessage:      record.FirstMessage,
		Settings:          settings,
		LegacyChatHistory: history,
		LegacyMemory:      memory,
		CreatedAt:         record.CreatedAt,
		UpdatedAt:         record.UpdatedAt,
	}
}
