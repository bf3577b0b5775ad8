package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/lumehq/lifeos/internal/types"
)

// sessionModel maps to the character_sessions table.
type sessionModel struct {
	ID          string `gorm:"primaryKey"`
	CharacterID string `gorm:"index"`
	Name        string
	Pinned      bool
	ChatHistory json.RawMessage `gorm:"type:jsonb"`
	Memory      json.RawMessage `gorm:"type:jsonb"`

	MountMode        string
	MountSourceID    string
	MountMemoryCount int

	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastActiveAt time.Time
}

func (sessionModel) TableName() string {
	return "character_sessions"
}

// SessionRepo accesses session data.
type SessionRepo struct {
	db *gorm.DB
}

// NewSessionRepo returns a SessionRepo.
func NewSessionRepo(db *gorm.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// GetByID fetches a session by id.
func (r *SessionRepo) GetByID(ctx context.Context, id string) (*types.Session, error) {
	var record sessionModel
	if err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, notFound(err))
	}
	s := sessionFromModel(record)
	return &s, nil
}

// ListByCharacter fetches all sessions of one character. Order is storage
// order; the session service applies the presentation sort.
func (r *SessionRepo) ListByCharacter(ctx context.Context, characterID string) ([]types.Session, error) {
	var records []sessionModel
	if err := r.db.WithContext(ctx).
		Where("character_id = ?", characterID).
		Order("created_at ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list sessions for character %s: %w", characterID, err)
	}
	results := make([]types.Session, 0, len(records))
	for _, record := range records {
		results = append(results, sessionFromModel(record))
	}
	return results, nil
}

// Create persists a new session.
func (r *SessionRepo) Create(ctx context.Context, s *types.Session) error {
	record, err := sessionToModel(s)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// Update overwrites a session record.
func (r *SessionRepo) Update(ctx context.Context, s *types.Session) error {
	record, err := sessionToModel(s)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Save(&record).Error; err != nil {
		return fmt.Errorf("failed to update session %s: %w", s.ID, err)
	}
	return nil
}

// BulkDelete removes a set of sessions by id in one statement.
func (r *SessionRepo) BulkDelete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Delete(&sessionModel{}, "id IN ?", ids).Error; err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}
	return nil
}

func sessionToModel(s *types.Session) (sessionModel, error) {
	history, err := marshalJSON(s.ChatHistory)
	if err != nil {
		return sessionModel{}, fmt.Errorf("failed to encode session chat history: %w", err)
	}
	memory, err := marshalJSON(s.Memory)
	if err != nil {
		return sessionModel{}, fmt.Errorf("failed to encode session memory: %w", err)
	}
	return sessionModel{
		ID:               s.ID,
		CharacterID:      s.CharacterID,
		Name:             s.Name,
		Pinned:           s.Pinned,
		ChatHistory:      history,
		Memory:           memory,
		MountMode:        string(s.MountMode),
		MountSourceID:    s.MountSourceID,
		MountMemoryCount: s.MountMemoryCount,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
		LastActiveAt:     s.LastActiveAt,
	}, nil
}

func sessionFromModel(record sessionModel) types.Session {
	var history []types.ChatMessage
	var memory []string
	_ = unmarshalJSON(record.ChatHistory, &history)
	_ = unmarshalJSON(record.Memory, &memory)
	return types.Session{
		ID:               record.ID,
		CharacterID:      record.CharacterID,
		Name:             record.Name,
		Pinned:           record.Pinned,
		ChatHistory:      history,
		Memory:           memory,
		MountMode:        types.MountMode(record.MountMode),
		MountSourceID:    record.MountSourceID,
		MountMemoryCount: record.MountMemoryCount,
		CreatedAt:        record.CreatedAt,
		UpdatedAt:        record.UpdatedAt,
		LastActiveAt:     record.LastActiveAt,
	}
}
