// Package bot runs the single polling loop that feeds inbound messages to the
// review engine and ticks the scheduler.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/conorfennell/knolbot/internal/domain"
)

// EventSource returns the newest unseen inbound event after since, or nil.
type EventSource interface {
	NextEvent(ctx context.Context, since int64) (*domain.Event, error)
}

// Handler processes one inbound event.
type Handler interface {
	Handle(ctx context.Context, ev domain.Event) error
}

// Ticker arms a due item for a conversation.
type Ticker interface {
	Tick(ctx context.Context, conv domain.ConversationID) (domain.Item, bool, error)
}

// Bot owns the polling cursor and the active conversation.
type Bot struct {
	events    EventSource
	handler   Handler
	scheduler Ticker
	interval  time.Duration
	logger    *slog.Logger

	cursor int64
	active domain.ConversationID
}

// Option configures a Bot.
type Option func(*Bot)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bot) {
		b.logger = logger
	}
}

// WithConversation seeds the active conversation so due items are shown before
// the first inbound message.
func WithConversation(conv domain.ConversationID) Option {
	return func(b *Bot) {
		b.active = conv
	}
}

// New creates a bot polling events every interval.
func New(events EventSource, handler Handler, scheduler Ticker, interval time.Duration, opts ...Option) *Bot {
	b := &Bot{
		events:    events,
		handler:   handler,
		scheduler: scheduler,
		interval:  interval,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Active returns the conversation the scheduler currently quizzes.
func (b *Bot) Active() domain.ConversationID {
	return b.active
}

// Step runs one iteration: at most one inbound event, then at most one
// scheduler tick. Failures are logged; only context cancellation is returned.
func (b *Bot) Step(ctx context.Context) error {
	ev, err := b.events.NextEvent(ctx, b.cursor)
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		b.logger.Warn("poll for events failed", "error", err)
	case ev != nil:
		b.cursor = ev.UpdateID
		b.active = ev.Conversation
		if err := b.handler.Handle(ctx, *ev); err != nil {
			b.logger.Info("event not handled",
				"conversation", int64(ev.Conversation),
				"update_id", ev.UpdateID,
				"error", err,
			)
		}
	}

	if b.active == 0 {
		return nil
	}
	item, shown, err := b.scheduler.Tick(ctx, b.active)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		b.logger.Error("scheduler tick failed", "conversation", int64(b.active), "error", err)
		return nil
	}
	if shown {
		b.logger.Debug("scheduler armed item", "conversation", int64(b.active), "item_id", item.ID)
	}
	return nil
}

// Run polls until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("polling started", "interval", b.interval.String())
	for {
		if err := b.Step(ctx); err != nil {
			b.logger.Info("polling stopped", "reason", err)
			return nil
		}

		select {
		case <-ctx.Done():
			b.logger.Info("polling stopped", "reason", ctx.Err())
			return nil
		case <-time.After(b.interval):
		}
	}
}
