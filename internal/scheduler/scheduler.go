// Package scheduler decides, once per polling tick, which items are due for review.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/conorfennell/knolbot/internal/domain"
)

const day = 24 * time.Hour

// Threshold is the time an item in period p waits between reviews.
// Months are approximated as 30 days.
func Threshold(p domain.Period) time.Duration {
	switch p {
	case domain.Weekly:
		return 7 * day
	case domain.Biweekly:
		return 14 * day
	case domain.Monthly:
		return 30 * day
	default:
		return day
	}
}

// IsDue reports whether the item's period threshold has elapsed since it was last shown.
func IsDue(item domain.Item, now time.Time) bool {
	return now.Sub(item.LastAttemptAt) >= Threshold(item.Period)
}

// Lister returns every stored item.
type Lister interface {
	All(ctx context.Context) ([]domain.Item, error)
}

// Presenter shows an item to a conversation and arms it as a pending question.
type Presenter interface {
	Pending(conv domain.ConversationID) bool
	Show(ctx context.Context, conv domain.ConversationID, item domain.Item) error
}

// Scheduler selects at most one due item per tick.
type Scheduler struct {
	items     Lister
	presenter Presenter
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// New creates a scheduler over the given store and presenter.
func New(items Lister, presenter Presenter, opts ...Option) *Scheduler {
	s := &Scheduler{
		items:     items,
		presenter: presenter,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Due returns every item that is due right now, in store scan order.
func (s *Scheduler) Due(ctx context.Context) ([]domain.Item, error) {
	items, err := s.items.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	now := s.now()
	var due []domain.Item
	for _, item := range items {
		if IsDue(item, now) {
			due = append(due, item)
		}
	}
	return due, nil
}

// Tick shows the first due item to conv unless a question is already pending there.
// Items that are skipped stay due and are reconsidered on the next tick.
func (s *Scheduler) Tick(ctx context.Context, conv domain.ConversationID) (domain.Item, bool, error) {
	if s.presenter.Pending(conv) {
		return domain.Item{}, false, nil
	}

	due, err := s.Due(ctx)
	if err != nil {
		return domain.Item{}, false, err
	}
	if len(due) == 0 {
		return domain.Item{}, false, nil
	}

	item := due[0]
	s.logger.Debug("item due for review",
		"item_id", item.ID,
		"period", item.Period.String(),
		"due_count", len(due),
	)
	if err := s.presenter.Show(ctx, conv, item); err != nil {
		return domain.Item{}, false, fmt.Errorf("show item %d: %w", item.ID, err)
	}
	return item, true, nil
}
