package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/lumehq/lifeos/internal/config"
	"github.com/lumehq/lifeos/internal/knowledge"
	"github.com/lumehq/lifeos/internal/models"
	"github.com/lumehq/lifeos/internal/prompt"
	"github.com/lumehq/lifeos/internal/repository"
	"github.com/lumehq/lifeos/internal/session"
	"github.com/lumehq/lifeos/internal/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nshutting down...")
		cancel()
	}()

	store, err := repository.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	if err := store.AutoMigrate(); err != nil {
		logger.Error("failed to migrate schema", "error", err)
		os.Exit(1)
	}

	embeddings := knowledge.NewEmbeddingService(func(ctx context.Context) (knowledge.Provider, error) {
		return knowledge.NewGenAIProvider(ctx, cfg.GoogleAPIKey, cfg.EmbeddingModel)
	}, logger)
	engine := knowledge.NewEngine(store.WorldBooks, embeddings, logger)
	sessions := session.NewService(store.Sessions, logger)
	mounts := session.NewMountResolver(store.Sessions, logger)
	migrator := session.NewMigrator(store.Characters, sessions, logger)
	assembler := prompt.NewAssembler(store.Characters, sessions, mounts, engine, nil, prompt.Defaults{
		MaxMemory:          cfg.MaxMemory,
		PinnedMemory:       cfg.PinnedMemory,
		WorldBookScanDepth: cfg.WorldBookScanDepth,
		SemanticThreshold:  cfg.SemanticThreshold,
	}, logger)

	var chat *models.ChatClient
	if cfg.ChatAPIKey != "" {
		chat, err = models.NewChatClient(cfg.ChatAPIKey, cfg.ChatBaseURL, cfg.ChatModel)
		if err != nil {
			logger.Error("failed to create chat client", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("CHAT_API_KEY not set, replies disabled; assembled prompts are printed instead")
	}

	app := &app{
		store:     store,
		sessions:  sessions,
		migrator:  migrator,
		assembler: assembler,
		engine:    engine,
		chat:      chat,
		in:        bufio.NewScanner(os.Stdin),
	}
	if err := app.run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("exited with error", "error", err)
		os.Exit(1)
	}
}

type app struct {
	store     *repository.Store
	sessions  *session.Service
	migrator  *session.Migrator
	assembler *prompt.Assembler
	engine    *knowledge.Engine

	chat *models.ChatClient
	in   *bufio.Scanner

	character *types.Character
	current   *types.Session
	listed    []types.Session
}

func (a *app) run(ctx context.Context) error {
	characters, err := a.store.Characters.List(ctx)
	if err != nil {
		return err
	}
	if len(characters) == 0 {
		fmt.Println("no characters found; create one first")
		return nil
	}
	a.character = &characters[0]
	if len(os.Args) > 1 {
		for i := range characters {
			if characters[i].Name == os.Args[1] || characters[i].ID == os.Args[1] {
				a.character = &characters[i]
			}
		}
	}
	fmt.Printf("talking to %s\n", a.character.Name)

	if err := a.runMigrationGate(ctx, false); err != nil {
		return err
	}
	a.refreshKnowledge(ctx)
	if a.migrated() {
		if a.current, err = a.sessions.EnsurePrimary(ctx, a.character.ID, nil); err != nil {
			return err
		}
		fmt.Printf("session: %s\n", a.current.Name)
	} else {
		fmt.Println("legacy mode; run /migrate to adopt sessions")
	}

	for ctx.Err() == nil {
		fmt.Print("> ")
		if !a.in.Scan() {
			return a.in.Err()
		}
		line := strings.TrimSpace(a.in.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return nil
		}
		if strings.HasPrefix(line, "/") {
			if err := a.command(ctx, line); err != nil {
				fmt.Println("error:", err)
			}
			continue
		}
		if err := a.turn(ctx, line); err != nil {
			fmt.Println("error:", err)
		}
	}
	return ctx.Err()
}

func (a *app) migrated() bool {
	return a.character.Settings.MigrationDecision == types.MigrationAccepted
}

// runMigrationGate advances migration, asking the user when legacy data is
// at stake. force re-asks even after an earlier decline.
func (a *app) runMigrationGate(ctx context.Context, force bool) error {
	status, err := a.migrator.EnsureMigrated(ctx, a.character.ID)
	if err != nil {
		return err
	}
	if status == session.StatusPromptRequired || (force && status == session.StatusLegacy) {
		fmt.Printf("%s has pre-session chat data. Move it into a session now? [y/N] ", a.character.Name)
		accept := a.in.Scan() && strings.EqualFold(strings.TrimSpace(a.in.Text()), "y")
		if _, err := a.migrator.Apply(ctx, a.character.ID, accept); err != nil {
			return err
		}
	}
	return a.reloadCharacter(ctx)
}

// refreshKnowledge recomputes stale entry embeddings for the character's
// linked world books. Failures only cost semantic activation, so they are
// logged and swallowed.
func (a *app) refreshKnowledge(ctx context.Context) {
	ids := a.character.Settings.LinkedWorldBookIDs
	if len(ids) == 0 {
		return
	}
	books, err := a.store.WorldBooks.GetByIDs(ctx, ids)
	if err != nil {
		slog.Warn("failed to load linked world books", "error", err)
		return
	}
	for i := range books {
		if err := a.engine.RefreshEmbeddings(ctx, &books[i]); err != nil {
			slog.Warn("failed to refresh world book embeddings", "book", books[i].ID, "error", err)
			return
		}
	}
}

func (a *app) reloadCharacter(ctx context.Context) error {
	c, err := a.store.Characters.GetByID(ctx, a.character.ID)
	if err != nil {
		return err
	}
	a.character = c
	return nil
}

func (a *app) turn(ctx context.Context, text string) error {
	sessionID := ""
	if a.current != nil {
		sessionID = a.current.ID
	}
	built, err := a.assembler.BuildPrompt(ctx, a.character.ID, sessionID)
	if err != nil {
		return err
	}
	if a.chat == nil {
		fmt.Println("--- assembled prompt ---")
		fmt.Println(built.System)
		fmt.Println("------------------------")
		return nil
	}

	reply, err := a.chat.Complete(ctx, built.System, built.Window, text)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", a.character.Name, reply)

	userMsg := types.ChatMessage{Role: "user", Content: text}
	assistantMsg := types.ChatMessage{Role: "assistant", Content: reply}
	if a.current != nil {
		if err := a.sessions.AppendMessage(ctx, a.current, userMsg); err != nil {
			return err
		}
		return a.sessions.AppendMessage(ctx, a.current, assistantMsg)
	}
	// Legacy mode writes to the character's own thread.
	a.character.LegacyChatHistory = append(a.character.LegacyChatHistory, userMsg, assistantMsg)
	return a.store.Characters.Update(ctx, a.character)
}

func (a *app) command(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "/sessions":
		return a.cmdSessions(ctx)
	case "/new":
		return a.cmdNew(ctx, args)
	case "/use":
		return a.cmdUse(ctx, args)
	case "/mount":
		return a.cmdMount(ctx, args)
	case "/delete":
		return a.cmdDelete(ctx, args)
	case "/pin":
		return a.cmdPin(ctx, args)
	case "/rename":
		return a.cmdRename(ctx, args)
	case "/remember":
		if a.current == nil {
			return fmt.Errorf("no active session")
		}
		return a.sessions.AppendMemory(ctx, a.current, strings.Join(args, " "))
	case "/memory":
		return a.cmdMemory(ctx)
	case "/forget":
		if a.current == nil || len(args) == 0 {
			return fmt.Errorf("usage: /forget <index>")
		}
		index, err := strconv.Atoi(args[0])
		if err != nil {
			return err
		}
		return a.sessions.DeleteMemory(ctx, a.current, index)
	case "/edit":
		if a.current == nil || len(args) < 2 {
			return fmt.Errorf("usage: /edit <index> <text>")
		}
		index, err := strconv.Atoi(args[0])
		if err != nil {
			return err
		}
		return a.sessions.EditMemory(ctx, a.current, index, strings.Join(args[1:], " "))
	case "/migrate":
		if err := a.runMigrationGate(ctx, true); err != nil {
			return err
		}
		if a.migrated() && a.current == nil {
			current, err := a.sessions.EnsurePrimary(ctx, a.character.ID, nil)
			if err != nil {
				return err
			}
			a.current = current
		}
		return nil
	default:
		return fmt.Errorf("unknown command %s", cmd)
	}
}

func (a *app) cmdSessions(ctx context.Context) error {
	list, err := a.sessions.List(ctx, a.character.ID)
	if err != nil {
		return err
	}
	a.listed = list
	for i, s := range list {
		marker := " "
		if a.current != nil && s.ID == a.current.ID {
			marker = "*"
		}
		pin := ""
		if s.Pinned {
			pin = " [pinned]"
		}
		mount := ""
		if s.MountMode != types.MountBlank {
			mount = fmt.Sprintf(" (%s of %s)", s.MountMode, s.MountSourceID[:8])
		}
		fmt.Printf("%s %d: %s%s%s\n", marker, i, s.Name, pin, mount)
	}
	return nil
}

func (a *app) cmdNew(ctx context.Context, args []string) error {
	name := strings.Join(args, " ")
	created, err := a.sessions.Create(ctx, a.character.ID, session.CreateOptions{Name: name})
	if err != nil {
		return err
	}
	a.current = created
	fmt.Printf("created and switched to %s\n", created.Name)
	return nil
}

func (a *app) cmdUse(ctx context.Context, args []string) error {
	s, err := a.pick(args)
	if err != nil {
		return err
	}
	a.current = s
	fmt.Printf("switched to %s\n", s.Name)
	return a.sessions.Touch(ctx, a.current)
}

func (a *app) cmdMount(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: /mount copy|reference <session-index> [count]")
	}
	source, err := a.pick(args[1:2])
	if err != nil {
		return err
	}
	count := 0
	if len(args) > 2 {
		if count, err = strconv.Atoi(args[2]); err != nil {
			return err
		}
	}
	created, err := a.sessions.Create(ctx, a.character.ID, session.CreateOptions{
		Name:             fmt.Sprintf("%s (%s)", source.Name, args[0]),
		MountMode:        types.MountMode(args[0]),
		MountSourceID:    source.ID,
		MountMemoryCount: count,
	})
	if err != nil {
		return err
	}
	a.current = created
	fmt.Printf("created and switched to %s\n", created.Name)
	return nil
}

func (a *app) cmdDelete(ctx context.Context, args []string) error {
	target, err := a.pick(args)
	if err != nil {
		return err
	}
	cascade, err := a.sessions.CollectCascade(ctx, target.ID)
	if err != nil {
		return err
	}
	fmt.Printf("deleting %s removes %d session(s). Continue? [y/N] ", target.Name, len(cascade))
	if !a.confirm() {
		return nil
	}
	// More than the target itself at stake: ask twice.
	if len(cascade) > 1 {
		fmt.Printf("%d other session(s) mount this one and will be deleted too. Really continue? [y/N] ", len(cascade)-1)
		if !a.confirm() {
			return nil
		}
	}
	deleted, err := a.sessions.DeleteCascade(ctx, target.ID)
	if err != nil {
		return err
	}
	if a.current != nil {
		for _, id := range deleted {
			if id == a.current.ID {
				a.current = nil
			}
		}
	}
	if a.current == nil {
		if a.current, err = a.sessions.EnsurePrimary(ctx, a.character.ID, nil); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) cmdPin(ctx context.Context, args []string) error {
	s, err := a.pick(args)
	if err != nil {
		return err
	}
	return a.sessions.SetPinned(ctx, s, !s.Pinned)
}

func (a *app) cmdRename(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: /rename <session-index> <name>")
	}
	s, err := a.pick(args[:1])
	if err != nil {
		return err
	}
	if err := a.sessions.Rename(ctx, s, strings.Join(args[1:], " ")); err != nil {
		return err
	}
	if a.current != nil && a.current.ID == s.ID {
		a.current = s
	}
	fmt.Printf("renamed to %s\n", s.Name)
	return nil
}

func (a *app) cmdMemory(ctx context.Context) error {
	if a.current == nil {
		return fmt.Errorf("no active session")
	}
	for i, entry := range a.current.Memory {
		fmt.Printf("%d: %s\n", i, entry)
	}
	return nil
}

// pick resolves a session by its index in the last /sessions listing.
func (a *app) pick(args []string) (*types.Session, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("session index required; run /sessions first")
	}
	index, err := strconv.Atoi(args[0])
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(a.listed) {
		return nil, fmt.Errorf("session index %d out of range; run /sessions first", index)
	}
	s := a.listed[index]
	return &s, nil
}

func (a *app) confirm() bool {
	return a.in.Scan() && strings.EqualFold(strings.TrimSpace(a.in.Text()), "y")
}
