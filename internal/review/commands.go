package review

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/conorfennell/knolbot/internal/deck"
	"github.com/conorfennell/knolbot/internal/domain"
	"github.com/conorfennell/knolbot/internal/gitsource"
	"github.com/conorfennell/knolbot/internal/parser"
)

// Built-in command tokens.
const (
	CmdNewItem  = "/new_item"
	CmdNewRound = "/new_round"
	CmdStats    = "/stats"
	CmdRemove   = "/remove"
	CmdImport   = "/import"
	CmdHelp     = "/help"
)

// DefaultCommands lists every built-in command token.
var DefaultCommands = []string{CmdNewItem, CmdNewRound, CmdStats, CmdRemove, CmdImport, CmdHelp}

// IsBuiltin reports whether token names a command the engine can execute.
func IsBuiltin(token string) bool {
	return slices.Contains(DefaultCommands, token)
}

type command struct {
	needsArg bool
	ask      string
	help     string
	run      func(ctx context.Context, conv domain.ConversationID, arg domain.Message) error
}

func (e *Engine) builtinCommands() map[string]command {
	return map[string]command{
		CmdNewItem: {
			needsArg: true,
			ask:      "Send the new item as \"prompt - answer\", a photo, audio or video with a caption, or a CSV/markdown deck file.",
			help:     "add an item",
			run:      e.newItem,
		},
		CmdNewRound: {
			help: "quiz a random item now",
			run:  e.newRound,
		},
		CmdStats: {
			help: "show item counters",
			run:  e.stats,
		},
		CmdRemove: {
			needsArg: true,
			ask:      "Send the prompt of the item to remove.",
			help:     "remove an item",
			run:      e.remove,
		},
		CmdImport: {
			needsArg: true,
			ask:      "Send a git repository URL or a CSV/markdown deck file.",
			help:     "import a deck",
			run:      e.importDeck,
		},
		CmdHelp: {
			help: "list commands",
			run:  e.help,
		},
	}
}

func (e *Engine) newItem(ctx context.Context, conv domain.ConversationID, arg domain.Message) error {
	switch arg.Kind {
	case domain.MessageDocument:
		return e.importDocument(ctx, conv, arg)
	case domain.MessageText:
		pair, err := parser.ParsePair(arg.Text)
		if err != nil {
			return malformed("%v", err)
		}
		item, err := e.store.Insert(ctx, domain.KindText, pair.Prompt, pair.Answer)
		if err != nil {
			return err
		}
		return e.send(ctx, conv, fmt.Sprintf("Added %q.", item.Prompt))
	}

	kind, ok := arg.ItemKind()
	if !ok {
		return malformed("unsupported message type")
	}
	caption := strings.TrimSpace(arg.Caption)
	if caption == "" {
		return malformed("a %s item needs a caption", kind)
	}
	if _, err := e.store.Insert(ctx, kind, arg.FileRef, caption); err != nil {
		return err
	}
	return e.send(ctx, conv, fmt.Sprintf("Added %s %q.", kind, caption))
}

func (e *Engine) newRound(ctx context.Context, conv domain.ConversationID, _ domain.Message) error {
	item, err := e.store.PickRandom(ctx)
	if err != nil {
		return err
	}
	return e.Show(ctx, conv, item)
}

func (e *Engine) stats(ctx context.Context, conv domain.ConversationID, _ domain.Message) error {
	items, err := e.store.All(ctx)
	if err != nil {
		return err
	}

	perPeriod := make(map[domain.Period]int)
	var correct, wrong int
	for _, item := range items {
		perPeriod[item.Period]++
		correct += item.CorrectCount
		wrong += item.WrongCount
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Items: %d\n", len(items))
	for _, p := range domain.Periods() {
		fmt.Fprintf(&b, "%s: %d\n", p, perPeriod[p])
	}
	fmt.Fprintf(&b, "Correct answers: %d\nWrong answers: %d", correct, wrong)
	return e.send(ctx, conv, b.String())
}

func (e *Engine) remove(ctx context.Context, conv domain.ConversationID, arg domain.Message) error {
	prompt := strings.TrimSpace(arg.Text)
	if arg.Kind != domain.MessageText || prompt == "" {
		return malformed("send the prompt as text")
	}
	item, err := e.store.FindByPrompt(ctx, prompt)
	if err != nil {
		return err
	}
	if err := e.store.Remove(ctx, item.Prompt); err != nil {
		return err
	}
	return e.send(ctx, conv, fmt.Sprintf("Removed %q (answer: %s).", item.Prompt, item.Answer))
}

func (e *Engine) importDeck(ctx context.Context, conv domain.ConversationID, arg domain.Message) error {
	if arg.Kind == domain.MessageDocument {
		return e.importDocument(ctx, conv, arg)
	}

	repoURL := strings.TrimSpace(arg.Text)
	if arg.Kind != domain.MessageText || !gitsource.IsRepoURL(repoURL) {
		return malformed("expected a git repository URL or a deck file")
	}
	report, err := e.importer.ImportRepo(ctx, repoURL)
	if err != nil {
		return err
	}
	return e.send(ctx, conv, summarize(report))
}

func (e *Engine) importDocument(ctx context.Context, conv domain.ConversationID, arg domain.Message) error {
	if !parser.IsDeckFile(arg.FileName) {
		return malformed("deck files must be .csv or .md, got %q", arg.FileName)
	}
	path, err := e.messenger.Download(ctx, arg.FileRef)
	if err != nil {
		return fmt.Errorf("download deck: %w", err)
	}
	defer func() {
		if err := os.Remove(path); err != nil {
			e.logger.Warn("remove downloaded deck", "path", path, "error", err)
		}
	}()
	report, err := e.importer.ImportFile(ctx, path)
	if err != nil {
		return err
	}
	return e.send(ctx, conv, summarize(report))
}

func (e *Engine) help(ctx context.Context, conv domain.ConversationID, _ domain.Message) error {
	lines := make([]string, 0, len(e.enabled))
	for _, token := range e.enabled {
		lines = append(lines, fmt.Sprintf("%s - %s", token, e.commands[token].help))
	}
	return e.send(ctx, conv, strings.Join(lines, "\n"))
}

func summarize(r deck.Report) string {
	return fmt.Sprintf("Imported %d items from %d files (%d duplicates skipped, %d errors).",
		r.Inserted, r.Files, r.Duplicates, len(r.Errors))
}
