package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/conorfennell/knolbot/internal/domain"
	_ "modernc.org/sqlite" // Registers the sqlite driver
)

// DB represents a wrapper around the SQL database connection.
type DB struct {
	conn   *sql.DB
	closed atomic.Bool
	now    func() time.Time
}

// Open creates a new database connection and ensures the schema is up to date.
func Open(dsn string) (*DB, error) {
	if dir := filepath.Dir(dsn); dir != "." && dsn != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes writers.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{conn: conn, now: time.Now}, nil
}

// Close closes the database connection. Every later call fails with
// ErrStoreUnavailable.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return ErrStoreUnavailable
	}
	return db.conn.Close()
}

func (db *DB) available() error {
	if db.closed.Load() {
		return ErrStoreUnavailable
	}
	return nil
}

const itemColumns = `id, inserted_at, kind, prompt, answer, period, correct_count, wrong_count, last_attempt_at`

// Insert stores a new item with zeroed counters in the daily period.
func (db *DB) Insert(ctx context.Context, kind domain.Kind, prompt, answer string) (domain.Item, error) {
	if err := db.available(); err != nil {
		return domain.Item{}, err
	}
	if !kind.Valid() {
		return domain.Item{}, fmt.Errorf("failed to insert item %q: invalid kind %d", prompt, int(kind))
	}

	now := db.now().UTC().Truncate(time.Millisecond)
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO items (inserted_at, kind, prompt, answer, period, correct_count, wrong_count, last_attempt_at)
		VALUES (?, ?, ?, ?, ?, 0, 0, ?)
		ON CONFLICT(prompt) DO NOTHING
	`,
		now.UnixMilli(),
		kind.String(),
		prompt,
		answer,
		domain.Daily.String(),
		now.UnixMilli(),
	)
	if err != nil {
		return domain.Item{}, db.wrap(fmt.Sprintf("failed to insert item %q", prompt), err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Item{}, db.wrap(fmt.Sprintf("failed to insert item %q", prompt), err)
	}
	if affected == 0 {
		return domain.Item{}, fmt.Errorf("insert %q: %w", prompt, ErrDuplicateKey)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return domain.Item{}, db.wrap(fmt.Sprintf("failed to get last insert ID for item %q", prompt), err)
	}

	return domain.Item{
		ID:            id,
		InsertedAt:    now,
		Kind:          kind,
		Prompt:        prompt,
		Answer:        answer,
		Period:        domain.Daily,
		LastAttemptAt: now,
	}, nil
}

// PickRandom returns a uniformly random item.
func (db *DB) PickRandom(ctx context.Context) (domain.Item, error) {
	if err := db.available(); err != nil {
		return domain.Item{}, err
	}

	row := db.conn.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items ORDER BY RANDOM() LIMIT 1`)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Item{}, ErrEmptyStore
		}
		return domain.Item{}, db.wrap("failed to pick random item", err)
	}
	return item, nil
}

// FindByPrompt retrieves an item by its unique prompt.
func (db *DB) FindByPrompt(ctx context.Context, prompt string) (domain.Item, error) {
	if err := db.available(); err != nil {
		return domain.Item{}, err
	}

	row := db.conn.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE prompt = ?`, prompt)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Item{}, fmt.Errorf("find %q: %w", prompt, ErrNotFound)
		}
		return domain.Item{}, db.wrap(fmt.Sprintf("failed to find item %q", prompt), err)
	}
	return item, nil
}

// All retrieves every stored item in no particular order.
func (db *DB) All(ctx context.Context) ([]domain.Item, error) {
	if err := db.available(); err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT `+itemColumns+` FROM items`)
	if err != nil {
		return nil, db.wrap("failed to get all items", err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, db.wrap("failed to iterate items", err)
	}
	return items, nil
}

// UpdatePeriod sets the period of a single item.
func (db *DB) UpdatePeriod(ctx context.Context, id int64, period domain.Period) error {
	if !period.Valid() {
		return fmt.Errorf("failed to update period for item %d: invalid period %d", id, int(period))
	}
	return db.execOne(ctx, fmt.Sprintf("failed to update period for item %d", id),
		`UPDATE items SET period = ? WHERE id = ?`, period.String(), id)
}

// IncrementCounter adds one to the selected counter of a single item.
func (db *DB) IncrementCounter(ctx context.Context, id int64, counter domain.Counter) error {
	column, ok := counter.Column()
	if !ok {
		return fmt.Errorf("failed to increment counter for item %d: invalid counter %d", id, int(counter))
	}
	return db.execOne(ctx, fmt.Sprintf("failed to increment %s for item %d", column, id),
		`UPDATE items SET `+column+` = `+column+` + 1 WHERE id = ?`, id)
}

// TouchLastAttempt records the time an item was last shown.
func (db *DB) TouchLastAttempt(ctx context.Context, id int64, at time.Time) error {
	return db.execOne(ctx, fmt.Sprintf("failed to update last attempt for item %d", id),
		`UPDATE items SET last_attempt_at = ? WHERE id = ?`, at.UTC().UnixMilli(), id)
}

// Remove deletes the item with the given prompt.
func (db *DB) Remove(ctx context.Context, prompt string) error {
	return db.execOne(ctx, fmt.Sprintf("failed to remove item %q", prompt),
		`DELETE FROM items WHERE prompt = ?`, prompt)
}

// execOne runs a single-row statement and reports ErrNotFound when no row matched.
func (db *DB) execOne(ctx context.Context, op, query string, args ...any) error {
	if err := db.available(); err != nil {
		return err
	}

	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return db.wrap(op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return db.wrap(op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

// wrap maps driver failures after Close onto ErrStoreUnavailable.
func (db *DB) wrap(op string, err error) error {
	if db.closed.Load() || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%s: %w", op, ErrStoreUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(s scanner) (domain.Item, error) {
	var (
		item                  domain.Item
		insertedAt, lastShown int64
		kind, period          string
	)
	err := s.Scan(
		&item.ID,
		&insertedAt,
		&kind,
		&item.Prompt,
		&item.Answer,
		&period,
		&item.CorrectCount,
		&item.WrongCount,
		&lastShown,
	)
	if err != nil {
		return domain.Item{}, err
	}

	if item.Kind, err = domain.ParseKind(kind); err != nil {
		return domain.Item{}, err
	}
	if item.Period, err = domain.ParsePeriod(period); err != nil {
		return domain.Item{}, err
	}
	item.InsertedAt = time.UnixMilli(insertedAt).UTC()
	item.LastAttemptAt = time.UnixMilli(lastShown).UTC()
	return item, nil
}
