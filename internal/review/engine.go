// Package review implements the per-conversation review state machine: it decides
// whether an inbound message is a command, a command argument, or an answer to a
// pending question, and applies the period transition policy to answered items.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/conorfennell/knolbot/internal/deck"
	"github.com/conorfennell/knolbot/internal/domain"
	"github.com/conorfennell/knolbot/internal/interval"
	"github.com/conorfennell/knolbot/internal/storage"
)

// Store is the item store as seen by the engine.
type Store interface {
	Insert(ctx context.Context, kind domain.Kind, prompt, answer string) (domain.Item, error)
	PickRandom(ctx context.Context) (domain.Item, error)
	FindByPrompt(ctx context.Context, prompt string) (domain.Item, error)
	All(ctx context.Context) ([]domain.Item, error)
	UpdatePeriod(ctx context.Context, id int64, period domain.Period) error
	IncrementCounter(ctx context.Context, id int64, counter domain.Counter) error
	TouchLastAttempt(ctx context.Context, id int64, at time.Time) error
	Remove(ctx context.Context, prompt string) error
}

// Messenger delivers replies and fetches media for a conversation.
type Messenger interface {
	SendText(ctx context.Context, conv domain.ConversationID, body string) error
	SendMedia(ctx context.Context, conv domain.ConversationID, kind domain.Kind, ref, caption string) error
	Download(ctx context.Context, ref string) (string, error)
}

// Importer bulk-loads deck files and repositories.
type Importer interface {
	ImportFile(ctx context.Context, path string) (deck.Report, error)
	ImportRepo(ctx context.Context, repoURL string) (deck.Report, error)
}

// Policy decides period transitions.
type Policy interface {
	Promote(current domain.Period, correct, wrong int) interval.Decision
	Demote(current domain.Period, correct, wrong int) interval.Decision
}

// Config holds the engine settings.
type Config struct {
	// Commands are the enabled command tokens, e.g. "/new_item".
	Commands []string
	// MaxAttempts is the number of wrong answers after which a question is abandoned.
	MaxAttempts int
	// QuizMedia makes photo/audio/video items quizzable by their caption.
	QuizMedia bool
}

// Engine routes inbound messages for every conversation.
type Engine struct {
	cfg       Config
	store     Store
	messenger Messenger
	importer  Importer
	policy    Policy
	sessions  *Sessions
	commands  map[string]command
	enabled   []string
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an engine. Every configured command token must be one the
// engine knows how to execute.
func NewEngine(cfg Config, store Store, messenger Messenger, importer Importer, policy Policy, opts ...Option) (*Engine, error) {
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be at least 1, got %d", cfg.MaxAttempts)
	}
	if policy == nil {
		policy = interval.DefaultPolicy()
	}

	e := &Engine{
		cfg:       cfg,
		store:     store,
		messenger: messenger,
		importer:  importer,
		policy:    policy,
		sessions:  NewSessions(),
		commands:  make(map[string]command),
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	builtins := e.builtinCommands()
	for _, token := range cfg.Commands {
		cmd, ok := builtins[token]
		if !ok {
			return nil, fmt.Errorf("%w in configuration: %s", ErrUnknownCommand, token)
		}
		if _, dup := e.commands[token]; !dup {
			e.commands[token] = cmd
			e.enabled = append(e.enabled, token)
		}
	}
	return e, nil
}

// Session returns a snapshot of the session for conv.
func (e *Engine) Session(conv domain.ConversationID) Session {
	sess, ok := e.sessions.Lookup(conv)
	if !ok {
		return Session{}
	}
	snapshot := *sess
	if sess.Pending != nil {
		pending := *sess.Pending
		snapshot.Pending = &pending
	}
	return snapshot
}

// Pending reports whether conv is busy with a question or a command argument.
// The scheduler does not arm a new question while this is true.
func (e *Engine) Pending(conv domain.ConversationID) bool {
	sess, ok := e.sessions.Lookup(conv)
	return ok && sess.State != Idle
}

// Show presents an item to conv and records the time it was shown. Text items,
// and media items when QuizMedia is set, arm the session with a pending question;
// other media items count as answered once shown. An item that could not be
// delivered keeps its last attempt time and stays due.
func (e *Engine) Show(ctx context.Context, conv domain.ConversationID, item domain.Item) error {
	quiz := true
	if item.IsMedia() {
		caption := item.Answer
		if e.cfg.QuizMedia {
			caption = ""
		} else {
			quiz = false
		}
		if err := e.messenger.SendMedia(ctx, conv, item.Kind, item.Prompt, caption); err != nil {
			return err
		}
	} else {
		if err := e.messenger.SendText(ctx, conv, item.Prompt); err != nil {
			return err
		}
	}

	now := e.now()
	if err := e.store.TouchLastAttempt(ctx, item.ID, now); err != nil {
		return err
	}
	item.LastAttemptAt = now

	if quiz {
		e.sessions.Get(conv).arm(item)
	}
	e.logger.Info("item shown",
		"conversation", int64(conv),
		"item_id", item.ID,
		"kind", item.Kind.String(),
		"quiz", quiz,
	)
	return nil
}

// Handle processes one inbound event. Failures are reported to the conversation
// and returned for logging; the session is always left in a safe state.
func (e *Engine) Handle(ctx context.Context, ev domain.Event) error {
	conv := ev.Conversation
	sess := e.sessions.Get(conv)

	var err error
	switch sess.State {
	case AwaitingAnswer:
		err = e.answer(ctx, conv, sess, ev.Message)
	case AwaitingCommandArg:
		token := sess.Command
		sess.reset()
		err = e.execute(ctx, conv, token, ev.Message)
	default:
		err = e.dispatch(ctx, conv, sess, ev.Message)
	}

	if err != nil {
		e.report(ctx, conv, err)
	}
	return err
}

func (e *Engine) dispatch(ctx context.Context, conv domain.ConversationID, sess *Session, msg domain.Message) error {
	token, args, ok := splitCommand(msg)
	if !ok {
		return ErrUnknownCommand
	}
	cmd, ok := e.commands[token]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, token)
	}

	if !cmd.needsArg {
		return cmd.run(ctx, conv, domain.Message{})
	}
	if args != "" {
		return cmd.run(ctx, conv, domain.Message{Kind: domain.MessageText, Text: args})
	}

	sess.await(token)
	return e.send(ctx, conv, cmd.ask)
}

func (e *Engine) execute(ctx context.Context, conv domain.ConversationID, token string, msg domain.Message) error {
	cmd, ok := e.commands[token]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, token)
	}
	return cmd.run(ctx, conv, msg)
}

func (e *Engine) answer(ctx context.Context, conv domain.ConversationID, sess *Session, msg domain.Message) error {
	item := *sess.Pending

	var given string
	if msg.Kind == domain.MessageText {
		given = msg.Text
	}

	if given == item.Answer {
		sess.reset()
		if err := e.store.IncrementCounter(ctx, item.ID, domain.CorrectCounter); err != nil {
			return err
		}
		item.CorrectCount++
		note, err := e.apply(ctx, item, e.policy.Promote(item.Period, item.CorrectCount, item.WrongCount))
		if err != nil {
			return err
		}
		return e.send(ctx, conv, joinLines("Correct!", note))
	}

	sess.Attempts++
	if err := e.store.IncrementCounter(ctx, item.ID, domain.WrongCounter); err != nil {
		sess.reset()
		return err
	}
	item.WrongCount++
	sess.Pending.WrongCount = item.WrongCount

	if sess.Attempts < e.cfg.MaxAttempts {
		return e.send(ctx, conv, fmt.Sprintf("Wrong answer (attempt %d/%d). Try again.", sess.Attempts, e.cfg.MaxAttempts))
	}

	// Attempts exhausted: the question is abandoned, not re-asked.
	sess.reset()
	note, err := e.apply(ctx, item, e.policy.Demote(item.Period, item.CorrectCount, item.WrongCount))
	if err != nil {
		return err
	}
	return e.send(ctx, conv, joinLines(
		fmt.Sprintf("Wrong answer (attempt %d/%d). The answer was: %s", e.cfg.MaxAttempts, e.cfg.MaxAttempts, item.Answer),
		note,
	))
}

// apply persists a period transition and returns the notification to show, if any.
func (e *Engine) apply(ctx context.Context, item domain.Item, d interval.Decision) (string, error) {
	if !d.Changed() {
		return "", nil
	}
	if err := e.store.UpdatePeriod(ctx, item.ID, d.To); err != nil {
		return "", err
	}
	e.logger.Info("item period changed",
		"item_id", item.ID,
		"from", d.From.String(),
		"to", d.To.String(),
	)
	if !d.Notify {
		return "", nil
	}
	return fmt.Sprintf("%q moved from %s to %s review.", displayName(item), d.From, d.To), nil
}

func (e *Engine) send(ctx context.Context, conv domain.ConversationID, body string) error {
	if err := e.messenger.SendText(ctx, conv, body); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

// report turns a handling failure into a single user-facing message.
func (e *Engine) report(ctx context.Context, conv domain.ConversationID, err error) {
	var body string
	switch {
	case errors.Is(err, ErrUnknownCommand):
		body = "Unknown command. Send /help to list the available commands."
	case errors.Is(err, ErrMalformedArgument):
		body = "Could not understand that: " + strings.TrimPrefix(err.Error(), ErrMalformedArgument.Error()+": ")
	case errors.Is(err, storage.ErrDuplicateKey):
		body = "That item already exists."
	case errors.Is(err, storage.ErrEmptyStore):
		body = "There are no items yet. Add one with /new_item."
	case errors.Is(err, storage.ErrNotFound):
		body = "No such item."
	default:
		e.logger.Error("failed to handle message", "conversation", int64(conv), "error", err)
		body = "Something went wrong, please try again later."
	}

	if sendErr := e.messenger.SendText(ctx, conv, body); sendErr != nil {
		e.logger.Warn("failed to report error to user", "conversation", int64(conv), "error", sendErr)
	}
}

// splitCommand extracts "/token" and its inline argument from a text message.
// A "@botname" suffix on the token is dropped.
func splitCommand(msg domain.Message) (token, args string, ok bool) {
	if msg.Kind != domain.MessageText {
		return "", "", false
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}

	token, args, _ = strings.Cut(text, " ")
	if at := strings.IndexByte(token, '@'); at > 0 {
		token = token[:at]
	}
	return token, strings.TrimSpace(args), true
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedArgument, fmt.Sprintf(format, args...))
}

func joinLines(lines ...string) string {
	var kept []string
	for _, line := range lines {
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func displayName(item domain.Item) string {
	if item.IsMedia() {
		return item.Answer
	}
	return item.Prompt
}
