package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lumehq/lifeos/internal/repository"
	"github.com/lumehq/lifeos/internal/types"
)

// CharacterStore is the character surface migration needs.
type CharacterStore interface {
	GetByID(ctx context.Context, id string) (*types.Character, error)
	Update(ctx context.Context, c *types.Character) error
}

// MigrationStatus is the outcome of a migration check.
type MigrationStatus string

const (
	// StatusMigrated means the character operates on the session model.
	StatusMigrated MigrationStatus = "migrated"
	// StatusPromptRequired means legacy data exists and the user must
	// decide before it is touched.
	StatusPromptRequired MigrationStatus = "prompt-required"
	// StatusLegacy means the user declined; the character keeps its
	// single implicit thread.
	StatusLegacy MigrationStatus = "legacy"
)

// Migrator converts characters from the legacy single-thread shape into the
// session model. Each character migrates independently, lazily, on first
// interaction; there is no global migrate-all step.
type Migrator struct {
	characters CharacterStore
	sessions   *Service
	logger     *slog.Logger
	nowFunc    func() time.Time
}

// NewMigrator returns a Migrator.
func NewMigrator(characters CharacterStore, sessions *Service, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{
		characters: characters,
		sessions:   sessions,
		logger:     logger,
		nowFunc:    time.Now,
	}
}

// EnsureMigrated advances the character's migration state as far as it can
// without a user decision:
//
//   - unset with no legacy data: accept silently and create the empty
//     primary session, no prompt;
//   - unset with legacy data: report that the user must be asked;
//   - accepted: terminal, except that re-populated legacy fields (for
//     example an imported backup) are merged again rather than erroring;
//   - rejected: the character stays in legacy mode until the user
//     explicitly re-attempts migration via Apply.
func (m *Migrator) EnsureMigrated(ctx context.Context, characterID string) (MigrationStatus, error) {
	c, err := m.characters.GetByID(ctx, characterID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			m.logger.Debug("migration check for missing character", "character", characterID)
			return StatusMigrated, nil
		}
		return "", err
	}

	switch c.Settings.MigrationDecision {
	case types.MigrationAccepted:
		if hasLegacyData(c) {
			return m.accept(ctx, c)
		}
		return StatusMigrated, nil
	case types.MigrationRejected:
		return StatusLegacy, nil
	default:
		if hasLegacyData(c) {
			return StatusPromptRequired, nil
		}
		return m.accept(ctx, c)
	}
}

// Apply records the user's decision. Accepting moves all legacy data into
// the primary session and clears the legacy fields; declining leaves them
// untouched. A declined character can be re-asked later: Apply works from
// any prior decision. Missing characters are a no-op.
func (m *Migrator) Apply(ctx context.Context, characterID string, accept bool) (MigrationStatus, error) {
	c, err := m.characters.GetByID(ctx, characterID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return StatusMigrated, nil
		}
		return "", err
	}

	if !accept {
		c.Settings.MigrationDecision = types.MigrationRejected
		c.UpdatedAt = m.nowFunc()
		if err := m.characters.Update(ctx, c); err != nil {
			return "", err
		}
		return StatusLegacy, nil
	}
	return m.accept(ctx, c)
}

// accept merges legacy data additively into the primary session (legacy
// entries first: they predate everything the session holds), clears the
// legacy fields, and marks the decision accepted. Safe to run repeatedly.
func (m *Migrator) accept(ctx context.Context, c *types.Character) (MigrationStatus, error) {
	primary, err := m.sessions.EnsurePrimary(ctx, c.ID, nil)
	if err != nil {
		return "", err
	}

	if hasLegacyData(c) {
		merged := len(c.LegacyChatHistory) + len(c.LegacyMemory)
		primary.ChatHistory = append(append([]types.ChatMessage{}, c.LegacyChatHistory...), primary.ChatHistory...)
		primary.Memory = append(append([]string{}, c.LegacyMemory...), primary.Memory...)
		if err := m.sessions.Update(ctx, primary); err != nil {
			return "", err
		}
		c.LegacyChatHistory = nil
		c.LegacyMemory = nil
		m.logger.Info("merged legacy thread into primary session",
			"character", c.ID, "session", primary.ID, "entries", merged)
	}

	c.Settings.MigrationDecision = types.MigrationAccepted
	c.UpdatedAt = m.nowFunc()
	if err := m.characters.Update(ctx, c); err != nil {
		return "", err
	}
	return StatusMigrated, nil
}

func hasLegacyData(c *types.Character) bool {
	return len(c.LegacyChatHistory) > 0 || len(c.LegacyMemory) > 0
}
