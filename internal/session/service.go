// Package session implements the multi-window conversation model: session
// CRUD and ordering, memory mounts, cascade deletes, and the legacy-data
// migration state machine.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/lumehq/lifeos/internal/types"
)

// SessionStore is the storage surface the service needs.
type SessionStore interface {
	GetByID(ctx context.Context, id string) (*types.Session, error)
	ListByCharacter(ctx context.Context, characterID string) ([]types.Session, error)
	Create(ctx context.Context, s *types.Session) error
	Update(ctx context.Context, s *types.Session) error
	BulkDelete(ctx context.Context, ids []string) error
}

// Service manages character sessions.
type Service struct {
	sessions SessionStore
	logger   *slog.Logger
	// primary deduplicates concurrent EnsurePrimary calls per character:
	// listing then creating spans a suspension point, so two callers could
	// otherwise both see zero sessions and both create one.
	primary singleflight.Group
	nowFunc func() time.Time
}

// NewService returns a session Service.
func NewService(sessions SessionStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sessions: sessions,
		logger:   logger,
		nowFunc:  time.Now,
	}
}

// List returns all sessions of a character, normalized and ordered:
// pinned first, then most recently active, then most recently created.
// The first element is the session background activity resumes.
func (s *Service) List(ctx context.Context, characterID string) ([]types.Session, error) {
	sessions, err := s.sessions.ListByCharacter(ctx, characterID)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		sessions[i] = Normalize(sessions[i])
	}
	sortSessions(sessions)
	return sessions, nil
}

// Get fetches one session, normalized.
func (s *Service) Get(ctx context.Context, id string) (*types.Session, error) {
	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	normalized := Normalize(*sess)
	return &normalized, nil
}

func sortSessions(sessions []types.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		if !a.LastActiveAt.Equal(b.LastActiveAt) {
			return a.LastActiveAt.After(b.LastActiveAt)
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
}

// SeedData carries legacy content for the primary session created during
// migration.
type SeedData struct {
	ChatHistory []types.ChatMessage
	Memory      []string
}

// EnsurePrimary returns the character's first session, creating it when none
// exist. At most one primary session is ever created per character, no
// matter how many callers race here.
func (s *Service) EnsurePrimary(ctx context.Context, characterID string, seed *SeedData) (*types.Session, error) {
	result, err, _ := s.primary.Do(characterID, func() (any, error) {
		existing, err := s.List(ctx, characterID)
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			first := existing[0]
			return &first, nil
		}
		opts := CreateOptions{Name: DefaultSessionName}
		if seed != nil {
			opts.SeedChatHistory = seed.ChatHistory
			opts.SeedMemory = seed.Memory
		}
		return s.Create(ctx, characterID, opts)
	})
	if err != nil {
		return nil, err
	}
	return result.(*types.Session), nil
}

// CreateOptions configures a new session.
type CreateOptions struct {
	Name             string
	Pinned           bool
	MountMode        types.MountMode
	MountSourceID    string
	MountMemoryCount int

	SeedChatHistory []types.ChatMessage
	SeedMemory      []string
}

// Create builds, normalizes, and persists a new session. Copy mounts
// snapshot the source memory here, once; the snapshot is the new session's
// own mutable memory and later source edits do not propagate.
func (s *Service) Create(ctx context.Context, characterID string, opts CreateOptions) (*types.Session, error) {
	now := s.nowFunc()
	sess := Normalize(types.Session{
		ID:               uuid.NewString(),
		CharacterID:      characterID,
		Name:             opts.Name,
		Pinned:           opts.Pinned,
		ChatHistory:      opts.SeedChatHistory,
		Memory:           opts.SeedMemory,
		MountMode:        opts.MountMode,
		MountSourceID:    opts.MountSourceID,
		MountMemoryCount: opts.MountMemoryCount,
		CreatedAt:        now,
		UpdatedAt:        now,
		LastActiveAt:     now,
	})

	if sess.MountMode != types.MountBlank {
		source := s.validMountSource(ctx, &sess)
		if source == nil {
			sess.MountMode = types.MountBlank
			sess.MountSourceID = ""
		} else if sess.MountMode == types.MountCopy {
			snapshot := lastN(source.Memory, sess.MountMemoryCount)
			sess.Memory = append(sess.Memory, snapshot...)
		}
	}

	if err := s.sessions.Create(ctx, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Update normalizes and persists a session, always refreshing UpdatedAt.
// A reference mount whose chain would reach back to this session is coerced
// to blank: cycles are rejected at write time, not just survived at read time.
func (s *Service) Update(ctx context.Context, sess *types.Session) error {
	*sess = Normalize(*sess)
	if sess.MountMode == types.MountReference {
		if s.validMountSource(ctx, sess) == nil || s.wouldCycle(ctx, sess.ID, sess.MountSourceID) {
			sess.MountMode = types.MountBlank
			sess.MountSourceID = ""
		}
	}
	sess.UpdatedAt = s.nowFunc()
	return s.sessions.Update(ctx, sess)
}

// AppendMessage appends one turn to the caller's working copy and persists
// it, marking the session active.
func (s *Service) AppendMessage(ctx context.Context, sess *types.Session, msg types.ChatMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.nowFunc()
	}
	sess.ChatHistory = append(sess.ChatHistory, msg)
	sess.LastActiveAt = s.nowFunc()
	return s.Update(ctx, sess)
}

// AppendMemory appends a timestamp-prefixed entry to the session's long-term
// memory log. Entries are FIFO and never reordered.
func (s *Service) AppendMemory(ctx context.Context, sess *types.Session, text string) error {
	sess.Memory = append(sess.Memory, FormatMemoryEntry(s.nowFunc(), text))
	return s.Update(ctx, sess)
}

// EditMemory replaces the memory entry at index.
func (s *Service) EditMemory(ctx context.Context, sess *types.Session, index int, text string) error {
	if index < 0 || index >= len(sess.Memory) {
		return fmt.Errorf("memory index %d out of range", index)
	}
	sess.Memory[index] = text
	return s.Update(ctx, sess)
}

// DeleteMemory removes the memory entry at index.
func (s *Service) DeleteMemory(ctx context.Context, sess *types.Session, index int) error {
	if index < 0 || index >= len(sess.Memory) {
		return fmt.Errorf("memory index %d out of range", index)
	}
	sess.Memory = append(sess.Memory[:index], sess.Memory[index+1:]...)
	return s.Update(ctx, sess)
}

// Rename sets the session's display name. An empty name falls back to the
// default through normalization.
func (s *Service) Rename(ctx context.Context, sess *types.Session, name string) error {
	sess.Name = strings.TrimSpace(name)
	return s.Update(ctx, sess)
}

// SetPinned pins or unpins the session in list ordering.
func (s *Service) SetPinned(ctx context.Context, sess *types.Session, pinned bool) error {
	sess.Pinned = pinned
	return s.Update(ctx, sess)
}

// Touch marks the session as the most recently active one.
func (s *Service) Touch(ctx context.Context, sess *types.Session) error {
	sess.LastActiveAt = s.nowFunc()
	return s.Update(ctx, sess)
}

// FormatMemoryEntry renders the stored form of a long-term memory entry.
func FormatMemoryEntry(at time.Time, text string) string {
	return fmt.Sprintf("[%s] %s", at.Format("2006-01-02 15:04"), text)
}

// validMountSource resolves the mount source and checks it belongs to the
// same character. Dangling or cross-character references return nil.
func (s *Service) validMountSource(ctx context.Context, sess *types.Session) *types.Session {
	source, err := s.sessions.GetByID(ctx, sess.MountSourceID)
	if err != nil {
		s.logger.Warn("mount source missing, treating as blank",
			"session", sess.ID, "source", sess.MountSourceID)
		return nil
	}
	if source.CharacterID != sess.CharacterID {
		s.logger.Warn("cross-character mount rejected",
			"session", sess.ID, "source", sess.MountSourceID)
		return nil
	}
	normalized := Normalize(*source)
	return &normalized
}

// wouldCycle reports whether following reference edges from sourceID leads
// back to sessionID.
func (s *Service) wouldCycle(ctx context.Context, sessionID, sourceID string) bool {
	visited := make(map[string]bool)
	cur := sourceID
	for cur != "" {
		if cur == sessionID {
			s.logger.Warn("mount cycle rejected", "session", sessionID, "source", sourceID)
			return true
		}
		if visited[cur] {
			return false
		}
		visited[cur] = true
		src, err := s.sessions.GetByID(ctx, cur)
		if err != nil {
			return false
		}
		if src.MountMode != types.MountReference {
			return false
		}
		cur = src.MountSourceID
	}
	return false
}
