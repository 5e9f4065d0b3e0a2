package review

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/conorfennell/knolbot/internal/deck"
	"github.com/conorfennell/knolbot/internal/domain"
	"github.com/conorfennell/knolbot/internal/interval"
	"github.com/conorfennell/knolbot/internal/scheduler"
	"github.com/conorfennell/knolbot/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const conv domain.ConversationID = 123

type mediaSend struct {
	kind    domain.Kind
	ref     string
	caption string
}

type fakeMessenger struct {
	texts     []string
	media     []mediaSend
	downloads map[string]string
	sendErr   error
}

func (f *fakeMessenger) SendText(_ context.Context, _ domain.ConversationID, body string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.texts = append(f.texts, body)
	return nil
}

func (f *fakeMessenger) SendMedia(_ context.Context, _ domain.ConversationID, kind domain.Kind, ref, caption string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.media = append(f.media, mediaSend{kind: kind, ref: ref, caption: caption})
	return nil
}

func (f *fakeMessenger) Download(_ context.Context, ref string) (string, error) {
	path, ok := f.downloads[ref]
	if !ok {
		return "", errors.New("file not found")
	}
	return path, nil
}

func (f *fakeMessenger) last() string {
	if len(f.texts) == 0 {
		return ""
	}
	return f.texts[len(f.texts)-1]
}

type countingPolicy struct {
	*interval.Policy
	promotions int
	demotions  int
}

func (c *countingPolicy) Promote(current domain.Period, correct, wrong int) interval.Decision {
	c.promotions++
	return c.Policy.Promote(current, correct, wrong)
}

func (c *countingPolicy) Demote(current domain.Period, correct, wrong int) interval.Decision {
	c.demotions++
	return c.Policy.Demote(current, correct, wrong)
}

type fixture struct {
	engine    *Engine
	store     *storage.DB
	messenger *fakeMessenger
	policy    *countingPolicy
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "review.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	if cfg.Commands == nil {
		cfg.Commands = DefaultCommands
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}

	messenger := &fakeMessenger{downloads: map[string]string{}}
	policy := &countingPolicy{Policy: interval.DefaultPolicy()}
	engine, err := NewEngine(cfg, db, messenger, deck.NewImporter(db, t.TempDir(), nil), policy)
	require.NoError(t, err)

	return &fixture{engine: engine, store: db, messenger: messenger, policy: policy}
}

func text(body string) domain.Event {
	return domain.Event{Conversation: conv, Message: domain.Message{Kind: domain.MessageText, Text: body}}
}

func (f *fixture) insert(t *testing.T, prompt, answer string) domain.Item {
	t.Helper()
	item, err := f.store.Insert(context.Background(), domain.KindText, prompt, answer)
	require.NoError(t, err)
	return item
}

func (f *fixture) reload(t *testing.T, prompt string) domain.Item {
	t.Helper()
	item, err := f.store.FindByPrompt(context.Background(), prompt)
	require.NoError(t, err)
	return item
}

func TestUnknownCommand(t *testing.T) {
	ctx := context.Background()

	for _, body := range []string{"/fly", "hello there"} {
		t.Run(body, func(t *testing.T) {
			f := newFixture(t, Config{})
			err := f.engine.Handle(ctx, text(body))

			assert.ErrorIs(t, err, ErrUnknownCommand)
			assert.Equal(t, Idle, f.engine.Session(conv).State)
			assert.Nil(t, f.engine.Session(conv).Pending)
			require.Len(t, f.messenger.texts, 1)
			assert.Contains(t, f.messenger.texts[0], "Unknown command")
		})
	}
}

func TestDisabledCommandIsUnknown(t *testing.T) {
	f := newFixture(t, Config{Commands: []string{CmdNewItem}})
	err := f.engine.Handle(context.Background(), text(CmdStats))
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestNewEngineRejectsUnknownConfiguredCommand(t *testing.T) {
	_, err := NewEngine(Config{Commands: []string{"/teleport"}, MaxAttempts: 3}, nil, nil, nil, nil)
	assert.ErrorIs(t, err, ErrUnknownCommand)

	_, err = NewEngine(Config{Commands: DefaultCommands}, nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestNewItemFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	require.NoError(t, f.engine.Handle(ctx, text("/new_item")))
	sess := f.engine.Session(conv)
	assert.Equal(t, AwaitingCommandArg, sess.State)
	assert.Equal(t, CmdNewItem, sess.Command)
	assert.True(t, f.engine.Pending(conv))

	require.NoError(t, f.engine.Handle(ctx, text("Hello - Hola")))
	assert.Equal(t, Idle, f.engine.Session(conv).State)

	item := f.reload(t, "Hello")
	assert.Equal(t, "Hola", item.Answer)
	assert.Equal(t, domain.Daily, item.Period)
	assert.Contains(t, f.messenger.last(), "Added")
}

func TestNewItemInlineArgument(t *testing.T) {
	f := newFixture(t, Config{})

	require.NoError(t, f.engine.Handle(context.Background(), text("/new_item@knolbot Cat - Gato")))
	assert.Equal(t, Idle, f.engine.Session(conv).State)
	assert.Equal(t, "Gato", f.reload(t, "Cat").Answer)
}

func TestNewItemFailuresReturnToIdle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.insert(t, "Hello", "Hola")

	testCases := []struct {
		name    string
		arg     domain.Message
		wantErr error
		reply   string
	}{
		{
			name:    "malformed text",
			arg:     domain.Message{Kind: domain.MessageText, Text: "Hello Hola"},
			wantErr: ErrMalformedArgument,
			reply:   "Could not understand",
		},
		{
			name:    "duplicate prompt",
			arg:     domain.Message{Kind: domain.MessageText, Text: "Hello - Bonjour"},
			wantErr: storage.ErrDuplicateKey,
			reply:   "already exists",
		},
		{
			name:    "photo without caption",
			arg:     domain.Message{Kind: domain.MessagePhoto, FileRef: "AgAC"},
			wantErr: ErrMalformedArgument,
			reply:   "caption",
		},
		{
			name:    "document with unknown extension",
			arg:     domain.Message{Kind: domain.MessageDocument, FileRef: "BQAC", FileName: "deck.pdf"},
			wantErr: ErrMalformedArgument,
			reply:   "deck files",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, f.engine.Handle(ctx, text(CmdNewItem)))
			err := f.engine.Handle(ctx, domain.Event{Conversation: conv, Message: tc.arg})

			assert.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, Idle, f.engine.Session(conv).State)
			assert.Contains(t, f.messenger.last(), tc.reply)
		})
	}
}

func TestNewPhotoItem(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	require.NoError(t, f.engine.Handle(ctx, text(CmdNewItem)))
	require.NoError(t, f.engine.Handle(ctx, domain.Event{
		Conversation: conv,
		Message:      domain.Message{Kind: domain.MessagePhoto, FileRef: "2wrgvweghrv4", Caption: "Cat"},
	}))

	item := f.reload(t, "2wrgvweghrv4")
	assert.Equal(t, domain.KindPhoto, item.Kind)
	assert.Equal(t, "Cat", item.Answer)
}

func TestNewItemFromDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	path := filepath.Join(t.TempDir(), "test_data.csv")
	require.NoError(t, os.WriteFile(path, []byte("Cat,Gato\nCat,Gato\n"), 0o644))
	f.messenger.downloads["1234ABCD"] = path

	require.NoError(t, f.engine.Handle(ctx, text(CmdNewItem)))
	require.NoError(t, f.engine.Handle(ctx, domain.Event{
		Conversation: conv,
		Message:      domain.Message{Kind: domain.MessageDocument, FileRef: "1234ABCD", FileName: "test_data.csv"},
	}))

	assert.Equal(t, "Gato", f.reload(t, "Cat").Answer)
	assert.Contains(t, f.messenger.last(), "Imported 1 items from 1 files (1 duplicates skipped")

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "downloaded deck should be removed after import")
}

func TestImportRejectsPlainText(t *testing.T) {
	f := newFixture(t, Config{})
	err := f.engine.Handle(context.Background(), text("/import not a repository"))
	assert.ErrorIs(t, err, ErrMalformedArgument)
	assert.Equal(t, Idle, f.engine.Session(conv).State)
}

func TestCorrectAnswer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	item := f.insert(t, "Hello", "Hola")

	require.NoError(t, f.engine.Show(ctx, conv, item))
	sess := f.engine.Session(conv)
	require.Equal(t, AwaitingAnswer, sess.State)
	require.NotNil(t, sess.Pending)
	assert.Equal(t, "Hello", sess.Pending.Prompt)
	assert.Zero(t, sess.Attempts)
	assert.Equal(t, "Hello", f.messenger.last())

	require.NoError(t, f.engine.Handle(ctx, text("Hola")))

	assert.Equal(t, Idle, f.engine.Session(conv).State)
	stored := f.reload(t, "Hello")
	assert.Equal(t, 1, stored.CorrectCount)
	assert.Zero(t, stored.WrongCount)
	assert.Equal(t, 1, f.policy.promotions)
	assert.Zero(t, f.policy.demotions)
	assert.Equal(t, "Correct!", f.messenger.last())
}

func TestAnswerIsExactMatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	item := f.insert(t, "Hello", "Hola")

	require.NoError(t, f.engine.Show(ctx, conv, item))
	require.NoError(t, f.engine.Handle(ctx, text("hola")))

	assert.Equal(t, AwaitingAnswer, f.engine.Session(conv).State)
	assert.Equal(t, 1, f.reload(t, "Hello").WrongCount)
}

func TestWrongAnswersExhaustAttempts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{MaxAttempts: 3})
	item := f.insert(t, "Hello", "Hola")
	require.NoError(t, f.engine.Show(ctx, conv, item))

	for attempt := 1; attempt <= 2; attempt++ {
		require.NoError(t, f.engine.Handle(ctx, text("wrong")))
		sess := f.engine.Session(conv)
		assert.Equal(t, AwaitingAnswer, sess.State)
		assert.Equal(t, attempt, sess.Attempts)
		assert.Equal(t, "Hello", sess.Pending.Prompt)
		assert.Contains(t, f.messenger.last(), "attempt")
		assert.Zero(t, f.policy.demotions)
	}

	require.NoError(t, f.engine.Handle(ctx, text("wrong")))

	sess := f.engine.Session(conv)
	assert.Equal(t, Idle, sess.State)
	assert.Nil(t, sess.Pending)
	assert.Zero(t, sess.Attempts)
	assert.Equal(t, 3, f.reload(t, "Hello").WrongCount)
	assert.Equal(t, 1, f.policy.demotions)
	assert.Contains(t, f.messenger.last(), "The answer was: Hola")

	// The abandoned question is not re-asked: the next message is a command again.
	err := f.engine.Handle(ctx, text("Hola"))
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestPromotionOnCorrectAnswer(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name     string
		before   int
		expected domain.Period
	}{
		{name: "reaching T does not promote", before: 4, expected: domain.Daily},
		{name: "exceeding T promotes", before: 5, expected: domain.Weekly},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			item := f.insert(t, "Hello", "Hola")
			for i := 0; i < tc.before; i++ {
				require.NoError(t, f.store.IncrementCounter(ctx, item.ID, domain.CorrectCounter))
			}

			require.NoError(t, f.engine.Show(ctx, conv, f.reload(t, "Hello")))
			require.NoError(t, f.engine.Handle(ctx, text("Hola")))

			stored := f.reload(t, "Hello")
			assert.Equal(t, tc.before+1, stored.CorrectCount)
			assert.Equal(t, tc.expected, stored.Period)
			if tc.expected != domain.Daily {
				assert.Contains(t, f.messenger.last(), "moved from daily to weekly")
			}
		})
	}
}

func TestDemotionFromMonthly(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name     string
		before   int
		expected domain.Period
	}{
		{name: "reaching T does not demote", before: 2, expected: domain.Monthly},
		{name: "exceeding T demotes", before: 3, expected: domain.Biweekly},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, Config{MaxAttempts: 3})
			item := f.insert(t, "Hello", "Hola")
			require.NoError(t, f.store.UpdatePeriod(ctx, item.ID, domain.Monthly))
			for i := 0; i < tc.before; i++ {
				require.NoError(t, f.store.IncrementCounter(ctx, item.ID, domain.WrongCounter))
			}

			require.NoError(t, f.engine.Show(ctx, conv, f.reload(t, "Hello")))
			for i := 0; i < 3; i++ {
				require.NoError(t, f.engine.Handle(ctx, text("nope")))
			}

			stored := f.reload(t, "Hello")
			assert.Equal(t, tc.before+3, stored.WrongCount)
			assert.Equal(t, tc.expected, stored.Period)
			assert.Equal(t, 1, f.policy.demotions)
		})
	}
}

func TestStoreFailureReturnsToIdle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	item := f.insert(t, "Hello", "Hola")
	require.NoError(t, f.engine.Show(ctx, conv, item))
	require.NoError(t, f.store.Close())

	err := f.engine.Handle(ctx, text("wrong"))
	assert.ErrorIs(t, err, storage.ErrStoreUnavailable)
	assert.Equal(t, Idle, f.engine.Session(conv).State)
	assert.Contains(t, f.messenger.last(), "Something went wrong")

	err = f.engine.Handle(ctx, text(CmdNewRound))
	assert.ErrorIs(t, err, storage.ErrStoreUnavailable)
	assert.Equal(t, Idle, f.engine.Session(conv).State)
}

func TestNewRound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	err := f.engine.Handle(ctx, text(CmdNewRound))
	assert.ErrorIs(t, err, storage.ErrEmptyStore)
	assert.Contains(t, f.messenger.last(), "no items")

	before := f.insert(t, "Hello", "Hola")
	shownAt := time.Date(2031, 3, 4, 5, 6, 7, 0, time.UTC)
	f.engine.now = func() time.Time { return shownAt }

	require.NoError(t, f.engine.Handle(ctx, text(CmdNewRound)))
	assert.Equal(t, AwaitingAnswer, f.engine.Session(conv).State)
	assert.Equal(t, "Hello", f.messenger.last())

	stored := f.reload(t, "Hello")
	assert.True(t, shownAt.Equal(stored.LastAttemptAt))
	assert.False(t, before.LastAttemptAt.Equal(stored.LastAttemptAt))
}

func TestShowMediaItem(t *testing.T) {
	ctx := context.Background()

	t.Run("answered when shown", func(t *testing.T) {
		f := newFixture(t, Config{})
		item, err := f.store.Insert(ctx, domain.KindPhoto, "AgAC", "Cat")
		require.NoError(t, err)

		require.NoError(t, f.engine.Show(ctx, conv, item))
		assert.Equal(t, Idle, f.engine.Session(conv).State)
		require.Len(t, f.messenger.media, 1)
		assert.Equal(t, mediaSend{kind: domain.KindPhoto, ref: "AgAC", caption: "Cat"}, f.messenger.media[0])
	})

	t.Run("quizzed by caption", func(t *testing.T) {
		f := newFixture(t, Config{QuizMedia: true})
		item, err := f.store.Insert(ctx, domain.KindPhoto, "AgAC", "Cat")
		require.NoError(t, err)

		require.NoError(t, f.engine.Show(ctx, conv, item))
		require.Len(t, f.messenger.media, 1)
		assert.Empty(t, f.messenger.media[0].caption)
		assert.Equal(t, AwaitingAnswer, f.engine.Session(conv).State)

		require.NoError(t, f.engine.Handle(ctx, text("Cat")))
		assert.Equal(t, 1, f.reload(t, "AgAC").CorrectCount)
	})
}

func TestShowSendFailureDoesNotArm(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	item := f.insert(t, "Hello", "Hola")
	f.messenger.sendErr = errors.New("network down")

	assert.Error(t, f.engine.Show(ctx, conv, item))
	assert.False(t, f.engine.Pending(conv))

	// Nothing was delivered, so the item keeps its schedule and stays due.
	stored := f.reload(t, "Hello")
	assert.Equal(t, item.LastAttemptAt.UnixMilli(), stored.LastAttemptAt.UnixMilli())
	assert.True(t, scheduler.IsDue(stored, stored.LastAttemptAt.Add(25*time.Hour)))
}

func TestStatsAndRemove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	item := f.insert(t, "Hello", "Hola")
	f.insert(t, "Cat", "Gato")
	require.NoError(t, f.store.UpdatePeriod(ctx, item.ID, domain.Weekly))
	require.NoError(t, f.store.IncrementCounter(ctx, item.ID, domain.CorrectCounter))

	require.NoError(t, f.engine.Handle(ctx, text(CmdStats)))
	assert.Equal(t, "Items: 2\ndaily: 1\nweekly: 1\nbiweekly: 0\nmonthly: 0\nCorrect answers: 1\nWrong answers: 0", f.messenger.last())

	require.NoError(t, f.engine.Handle(ctx, text(CmdRemove)))
	require.NoError(t, f.engine.Handle(ctx, text("Cat")))
	assert.Equal(t, `Removed "Cat" (answer: Gato).`, f.messenger.last())

	err := f.engine.Handle(ctx, text("/remove Cat"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, "No such item.", f.messenger.last())
}

func TestHelpListsEnabledCommands(t *testing.T) {
	f := newFixture(t, Config{Commands: []string{CmdNewItem, CmdHelp}})
	require.NoError(t, f.engine.Handle(context.Background(), text(CmdHelp)))
	assert.Equal(t, "/new_item - add an item\n/help - list commands", f.messenger.last())
}

func TestSessionsAreIndependent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	item := f.insert(t, "Hello", "Hola")

	require.NoError(t, f.engine.Show(ctx, conv, item))
	other := domain.ConversationID(456)

	err := f.engine.Handle(ctx, domain.Event{Conversation: other, Message: domain.Message{Kind: domain.MessageText, Text: "Hola"}})
	assert.ErrorIs(t, err, ErrUnknownCommand)
	assert.True(t, f.engine.Pending(conv))
	assert.False(t, f.engine.Pending(other))
}
