package session

import (
	"testing"

	"github.com/lumehq/lifeos/internal/types"
)

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []types.Session{
		{},
		{MountMode: "garbage", MountSourceID: "s9", MountMemoryCount: -3},
		{MountMode: types.MountCopy, MountMemoryCount: 400},
		{MountMode: types.MountReference, MountSourceID: "s1", MountMemoryCount: 7, Name: "kept"},
		{MountMode: types.MountCopy}, // source missing entirely
	}
	for i, input := range inputs {
		once := Normalize(input)
		twice := Normalize(once)
		if once.MountMode != twice.MountMode ||
			once.MountSourceID != twice.MountSourceID ||
			once.MountMemoryCount != twice.MountMemoryCount ||
			once.Name != twice.Name {
			t.Fatalf("case %d: normalize not idempotent: %+v vs %+v", i, once, twice)
		}
	}
}

func TestNormalizeDefaults(t *testing.T) {
	s := Normalize(types.Session{})
	if s.MountMode != types.MountBlank {
		t.Fatalf("expected blank mount mode, got %q", s.MountMode)
	}
	if s.MountMemoryCount != defaultMountMemory {
		t.Fatalf("expected default mount memory %d, got %d", defaultMountMemory, s.MountMemoryCount)
	}
	if s.Name != DefaultSessionName {
		t.Fatalf("expected default name, got %q", s.Name)
	}
}

func TestNormalizeClampsMountMemory(t *testing.T) {
	if got := Normalize(types.Session{MountMemoryCount: -1}).MountMemoryCount; got != minMountMemory {
		t.Fatalf("expected clamp to %d, got %d", minMountMemory, got)
	}
	if got := Normalize(types.Session{MountMemoryCount: 51}).MountMemoryCount; got != maxMountMemory {
		t.Fatalf("expected clamp to %d, got %d", maxMountMemory, got)
	}
	if got := Normalize(types.Session{MountMemoryCount: 25}).MountMemoryCount; got != 25 {
		t.Fatalf("expected in-range value kept, got %d", got)
	}
}

func TestNormalizeModeWithoutSourceIsBlank(t *testing.T) {
	s := Normalize(types.Session{MountMode: types.MountReference})
	if s.MountMode != types.MountBlank || s.MountSourceID != "" {
		t.Fatalf("expected sourceless reference coerced to blank, got %+v", s)
	}
}
