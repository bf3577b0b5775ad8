package prompt

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/lumehq/lifeos/internal/knowledge"
	"github.com/lumehq/lifeos/internal/session"
	"github.com/lumehq/lifeos/internal/types"
)

const personaTemplateText = `Name: {{.Name}}
{{- if .Description}}
Description: {{.Description}}
{{- end}}
{{- if .Scenario}}
Scenario: {{.Scenario}}
{{- end}}
{{- if .ExampleDialogue}}
Example dialogue:
{{.ExampleDialogue}}
{{- end}}`

var personaTemplate = template.Must(template.New("persona").Parse(personaTemplateText))

const styleRules = `You are this character, not an assistant. Stay in character at all times.
Reply naturally and concisely, in plain prose. No lists, no headings, no meta commentary.`

// TaskSnapshotProvider returns pre-formatted text blocks for external task
// ids. The blocks are opaque to the assembler.
type TaskSnapshotProvider interface {
	Snapshots(ctx context.Context, taskIDs []string) ([]string, error)
}

// Defaults fills budgets a character's settings leave at zero.
type Defaults struct {
	MaxMemory          int
	PinnedMemory       int
	WorldBookScanDepth int
	SemanticThreshold  float64
}

// Prompt is one turn's assembled model input.
type Prompt struct {
	// System is the rendered system prompt.
	System string
	// Sections is the structured form System was rendered from.
	Sections Sections
	// Window is the trimmed recent-message window for the completion
	// caller, hidden messages excluded.
	Window []types.ChatMessage
}

// Assembler produces the final system prompt for one chat turn.
type Assembler struct {
	characters session.CharacterStore
	sessions   *session.Service
	mounts     *session.MountResolver
	engine     *knowledge.Engine
	tasks      TaskSnapshotProvider
	defaults   Defaults
	logger     *slog.Logger
	nowFunc    func() time.Time
}

// NewAssembler returns a context Assembler. tasks may be nil when no task
// integration is configured.
func NewAssembler(
	characters session.CharacterStore,
	sessions *session.Service,
	mounts *session.MountResolver,
	engine *knowledge.Engine,
	tasks TaskSnapshotProvider,
	defaults Defaults,
	logger *slog.Logger,
) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		characters: characters,
		sessions:   sessions,
		mounts:     mounts,
		engine:     engine,
		tasks:      tasks,
		defaults:   defaults,
		logger:     logger,
		nowFunc:    time.Now,
	}
}

// BuildPrompt assembles the system prompt for one turn of the given
// character and session. Section order is fixed: persona, knowledge, task
// snapshots, long-term memory (own then mounted), style rules, optional
// time block. Empty sections are omitted entirely. Nothing here truncates
// by token count; the settings budgets are the only limits.
//
// A missing session falls back to the primary session; a character whose
// migration decision is not accepted uses its legacy thread.
func (a *Assembler) BuildPrompt(ctx context.Context, characterID, sessionID string) (*Prompt, error) {
	character, err := a.characters.GetByID(ctx, characterID)
	if err != nil {
		return nil, fmt.Errorf("failed to load character for prompt: %w", err)
	}
	settings := a.effectiveSettings(character.Settings)

	history, memory, mounted, err := a.resolveThread(ctx, character, sessionID)
	if err != nil {
		return nil, err
	}

	var sections Sections
	sections.Add("Persona", a.renderPersona(character))
	sections.Add("World Knowledge", a.renderKnowledge(ctx, settings, history))
	sections.Add("Tasks", a.renderTasks(ctx, settings.LinkedTaskIDs))
	sections.Add("Memory", renderMemory(memory, mounted, settings.PinnedMemory))
	sections.Add("Style", styleRules)
	if settings.TimeAwareness {
		sections.Add("Time", "Current time: "+a.nowFunc().Format("2006-01-02 15:04 Monday"))
	}

	return &Prompt{
		System:   sections.Render(),
		Sections: sections,
		Window:   visibleWindow(history, settings.MaxMemory),
	}, nil
}

// resolveThread picks the conversation thread the prompt draws from:
// the session model once migration is accepted, the character's own legacy
// fields otherwise.
func (a *Assembler) resolveThread(ctx context.Context, character *types.Character, sessionID string) (history []types.ChatMessage, memory []string, mounted []string, err error) {
	if character.Settings.MigrationDecision != types.MigrationAccepted {
		return character.LegacyChatHistory, character.LegacyMemory, nil, nil
	}

	var sess *types.Session
	if sessionID != "" {
		sess, err = a.sessions.Get(ctx, sessionID)
		if err != nil || sess.CharacterID != character.ID {
			a.logger.Warn("session unavailable, falling back to primary",
				"character", character.ID, "session", sessionID)
			sess = nil
		}
	}
	if sess == nil {
		sess, err = a.sessions.EnsurePrimary(ctx, character.ID, nil)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to resolve session for prompt: %w", err)
		}
	}
	return sess.ChatHistory, sess.Memory, a.mounts.MountedMemories(ctx, sess), nil
}

func (a *Assembler) renderPersona(character *types.Character) string {
	var buf bytes.Buffer
	if err := personaTemplate.Execute(&buf, character); err != nil {
		a.logger.Error("failed to render persona", "character", character.ID, "error", err)
		return character.Name
	}
	return buf.String()
}

func (a *Assembler) renderKnowledge(ctx context.Context, settings types.CharacterSettings, history []types.ChatMessage) string {
	if a.engine == nil || len(settings.LinkedWorldBookIDs) == 0 {
		return ""
	}
	recent := tailMessages(history, settings.WorldBookScanDepth)
	activations, err := a.engine.Activate(ctx, settings.LinkedWorldBookIDs, recent, settings.SemanticThreshold)
	if err != nil {
		a.logger.Warn("knowledge activation failed, prompt continues without it", "error", err)
		return ""
	}
	var b strings.Builder
	for _, activation := range activations {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(activation.BookName + ":")
		for _, entry := range activation.Entries {
			b.WriteString("\n" + entry.Content)
		}
	}
	return b.String()
}

func (a *Assembler) renderTasks(ctx context.Context, taskIDs []string) string {
	if a.tasks == nil || len(taskIDs) == 0 {
		return ""
	}
	blocks, err := a.tasks.Snapshots(ctx, taskIDs)
	if err != nil {
		a.logger.Warn("task snapshots unavailable", "error", err)
		return ""
	}
	return strings.Join(blocks, "\n\n")
}

// renderMemory emits the character's own most recent pinned entries followed
// by the mounted ones, one entry per line.
func renderMemory(memory, mounted []string, pinned int) string {
	own := tailStrings(memory, pinned)
	lines := make([]string, 0, len(own)+len(mounted))
	lines = append(lines, own...)
	lines = append(lines, mounted...)
	return strings.Join(lines, "\n")
}

func (a *Assembler) effectiveSettings(s types.CharacterSettings) types.CharacterSettings {
	if s.MaxMemory <= 0 {
		s.MaxMemory = a.defaults.MaxMemory
	}
	if s.PinnedMemory <= 0 {
		s.PinnedMemory = a.defaults.PinnedMemory
	}
	if s.WorldBookScanDepth <= 0 {
		s.WorldBookScanDepth = a.defaults.WorldBookScanDepth
	}
	if s.SemanticThreshold <= 0 || s.SemanticThreshold > 1 {
		s.SemanticThreshold = a.defaults.SemanticThreshold
	}
	return s
}

func tailMessages(list []types.ChatMessage, n int) []types.ChatMessage {
	if n <= 0 || len(list) == 0 {
		return nil
	}
	if len(list) <= n {
		return list
	}
	return list[len(list)-n:]
}

func tailStrings(list []string, n int) []string {
	if n <= 0 || len(list) == 0 {
		return nil
	}
	if len(list) <= n {
		return list
	}
	return list[len(list)-n:]
}

// visibleWindow trims the history to the last n non-hidden messages.
func visibleWindow(history []types.ChatMessage, n int) []types.ChatMessage {
	if n <= 0 {
		return nil
	}
	window := make([]types.ChatMessage, 0, n)
	for i := len(history) - 1; i >= 0 && len(window) < n; i-- {
		if history[i].Hidden {
			continue
		}
		window = append(window, history[i])
	}
	// Collected newest-first; restore chronological order.
	for i, j := 0, len(window)-1; i < j; i, j = i+1, j-1 {
		window[i], window[j] = window[j], window[i]
	}
	return window
}
