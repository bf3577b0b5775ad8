package session

import "github.com/lumehq/lifeos/internal/types"

const (
	// DefaultSessionName names the primary session created by migration
	// or lazy first use.
	DefaultSessionName = "Main"

	minMountMemory     = 1
	maxMountMemory     = 50
	defaultMountMemory = 10
)

// Normalize is the single source of truth for session defaults. Stored
// records are never trusted directly: every read path runs through here.
// Idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(s types.Session) types.Session {
	switch s.MountMode {
	case types.MountBlank, types.MountCopy, types.MountReference:
	default:
		s.MountMode = types.MountBlank
	}
	// A mount source without a non-blank mode (or vice versa) is meaningless.
	if s.MountSourceID == "" {
		s.MountMode = types.MountBlank
	}
	if s.MountMode == types.MountBlank {
		s.MountSourceID = ""
	}

	if s.MountMemoryCount == 0 {
		s.MountMemoryCount = defaultMountMemory
	} else if s.MountMemoryCount < minMountMemory {
		s.MountMemoryCount = minMountMemory
	} else if s.MountMemoryCount > maxMountMemory {
		s.MountMemoryCount = maxMountMemory
	}

	if s.Name == "" {
		s.Name = DefaultSessionName
	}
	return s
}

// lastN returns the trailing n items of list without copying.
func lastN[T any](list []T, n int) []T {
	if n <= 0 || len(list) == 0 {
		return nil
	}
	if len(list) <= n {
		return list
	}
	return list[len(list)-n:]
}
