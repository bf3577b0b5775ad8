package session

import (
	"context"
	"fmt"

	"github.com/lumehq/lifeos/internal/types"
)

// CollectCascade returns the root session plus every session that
// transitively reference-mounts it, in breadth-first order. Deleting the
// root must delete this whole set: a live reference into a deleted session
// would silently read nothing forever.
//
// A visited set guarantees termination even when stored data has been
// malformed into a cycle.
func (s *Service) CollectCascade(ctx context.Context, rootID string) ([]types.Session, error) {
	root, err := s.sessions.GetByID(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cascade root: %w", err)
	}

	// Reference mounts are only valid within one character, so the
	// character's own sessions bound the graph.
	all, err := s.List(ctx, root.CharacterID)
	if err != nil {
		return nil, err
	}
	dependents := make(map[string][]types.Session)
	for _, sess := range all {
		if sess.MountMode == types.MountReference && sess.MountSourceID != "" {
			dependents[sess.MountSourceID] = append(dependents[sess.MountSourceID], sess)
		}
	}

	visited := map[string]bool{rootID: true}
	result := []types.Session{Normalize(*root)}
	queue := []string{rootID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range dependents[cur] {
			if visited[dep.ID] {
				continue
			}
			visited[dep.ID] = true
			result = append(result, dep)
			queue = append(queue, dep.ID)
		}
	}
	return result, nil
}

// DeleteCascade deletes a session together with its dependents, collected
// first and removed in one bulk delete. Returns the deleted ids. The
// confirmation gate for multi-session cascades belongs to the caller, which
// should present CollectCascade's count before invoking this.
func (s *Service) DeleteCascade(ctx context.Context, rootID string) ([]string, error) {
	set, err := s.CollectCascade(ctx, rootID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(set))
	for _, sess := range set {
		ids = append(ids, sess.ID)
	}
	if err := s.sessions.BulkDelete(ctx, ids); err != nil {
		return nil, err
	}
	s.logger.Info("deleted session cascade", "root", rootID, "count", len(ids))
	return ids, nil
}
