package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lumehq/lifeos/internal/types"
)

// MountResolver resolves a session's inherited memory at prompt-build time.
type MountResolver struct {
	sessions SessionStore
	logger   *slog.Logger
}

// NewMountResolver returns a MountResolver.
func NewMountResolver(sessions SessionStore, logger *slog.Logger) *MountResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &MountResolver{sessions: sessions, logger: logger}
}

// MountedMemories returns the memory entries a session inherits right now.
// Blank and copy mounts contribute nothing here: blank inherits nothing and
// copy already snapshotted the source at creation. Reference mounts read the
// source live on every call. Any invalid mount resolves to nothing, never to
// an error.
func (r *MountResolver) MountedMemories(ctx context.Context, sess *types.Session) []string {
	normalized := Normalize(*sess)
	if normalized.MountMode != types.MountReference {
		return nil
	}

	source, err := r.sessions.GetByID(ctx, normalized.MountSourceID)
	if err != nil {
		r.logger.Debug("mount source gone, no mounted memory",
			"session", normalized.ID, "source", normalized.MountSourceID)
		return nil
	}
	if source.CharacterID != normalized.CharacterID {
		r.logger.Warn("cross-character mount ignored",
			"session", normalized.ID, "source", normalized.MountSourceID)
		return nil
	}

	entries := lastN(source.Memory, normalized.MountMemoryCount)
	if len(entries) == 0 {
		return nil
	}
	results := make([]string, 0, len(entries))
	for _, entry := range entries {
		results = append(results, fmt.Sprintf("[mounted from: %s] %s", source.Name, entry))
	}
	return results
}
