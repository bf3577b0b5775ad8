// Package types defines the persisted domain records.
package types

import "time"

// MigrationDecision tracks whether a character's legacy single-thread data
// has been migrated into the session model.
type MigrationDecision string

const (
	// MigrationUnset means the user has not been asked yet.
	MigrationUnset MigrationDecision = ""
	// MigrationAccepted means legacy data was merged into the primary session.
	MigrationAccepted MigrationDecision = "accepted"
	// MigrationRejected means the character keeps operating on its legacy thread.
	MigrationRejected MigrationDecision = "rejected"
)

// MountMode describes how a session inherits another session's memory.
type MountMode string

const (
	// MountBlank inherits nothing.
	MountBlank MountMode = "blank"
	// MountCopy snapshots the source memory once, at session creation.
	MountCopy MountMode = "copy"
	// MountReference reads the source memory live on every prompt build.
	MountReference MountMode = "reference"
)

// TriggerMode selects the activation policy of a world-book entry.
type TriggerMode string

const (
	TriggerAlways   TriggerMode = "always"
	TriggerKeyword  TriggerMode = "keyword"
	TriggerSemantic TriggerMode = "semantic"
)

// ChatMessage is one turn of a conversation thread.
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	// Quote optionally carries the message this one replies to.
	Quote string `json:"quote,omitempty"`
	// Hidden messages stay in the transcript but are excluded from
	// prompt windows and world-book scans.
	Hidden bool `json:"hidden,omitempty"`
}

// CharacterSettings holds the per-character context budgets.
type CharacterSettings struct {
	// MaxMemory is the number of recent turns sent to the model.
	MaxMemory int `json:"max_memory"`
	// PinnedMemory is the number of long-term entries always included.
	PinnedMemory int `json:"pinned_memory"`
	// WorldBookScanDepth is how many recent messages the activation
	// engine scans.
	WorldBookScanDepth int     `json:"world_book_scan_depth"`
	SemanticThreshold  float64 `json:"semantic_threshold"`

	LinkedWorldBookIDs []string `json:"linked_world_book_ids,omitempty"`
	LinkedTaskIDs      []string `json:"linked_task_ids,omitempty"`

	// TimeAwareness appends the current time to the assembled prompt.
	TimeAwareness bool `json:"time_awareness,omitempty"`

	MigrationDecision MigrationDecision `json:"session_migration_decision"`
}

// Character is a persisted persona.
type Character struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	Scenario        string `json:"scenario"`
	ExampleDialogue string `json:"example_dialogue"`
	FirstMessage    string `json:"first_message"`

	Settings CharacterSettings `json:"settings"`

	// LegacyChatHistory and LegacyMemory are the pre-session data shape.
	// Migration empties them; until then they back "legacy mode".
	LegacyChatHistory []ChatMessage `json:"chat_history,omitempty"`
	LegacyMemory      []string      `json:"long_term_memory,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Session is one independent chat window of a character.
type Session struct {
	ID          string `json:"id"`
	CharacterID string `json:"character_id"`
	Name        string `json:"name"`
	Pinned      bool   `json:"pinned"`

	ChatHistory []ChatMessage `json:"chat_history"`
	// Memory is the session's long-term log: timestamp-prefixed strings,
	// FIFO, never reordered.
	Memory []string `json:"long_term_memory"`

	MountMode MountMode `json:"mount_mode"`
	// MountSourceID references another session of the same character;
	// only meaningful when MountMode != blank.
	MountSourceID    string `json:"mount_source_id,omitempty"`
	MountMemoryCount int    `json:"mount_memory_count"`

	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// WorldBookEntry is one knowledge item of a world book.
type WorldBookEntry struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	// Keys are the keyword-mode triggers; unused by other modes.
	Keys        []string    `json:"keys,omitempty"`
	Enabled     bool        `json:"enabled"`
	TriggerMode TriggerMode `json:"trigger_mode"`
	// Embedding is the unit-normalized vector of Name+Content;
	// EmbeddingHash detects staleness and skips recomputation.
	Embedding     []float32 `json:"-"`
	EmbeddingHash string    `json:"embedding_hash,omitempty"`
}

// WorldBook is a named knowledge base, linked to characters by id.
type WorldBook struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Entries keep insertion order; activation scans them in this order.
	Entries []WorldBookEntry `json:"entries"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
