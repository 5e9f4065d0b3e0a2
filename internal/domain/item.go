package domain

import "time"

// Item represents a single flashcard.
// Prompt is shown to the user and is unique across all items; Answer is what a
// correct response must equal.
type Item struct {
	ID            int64
	InsertedAt    time.Time
	Kind          Kind
	Prompt        string
	Answer        string
	Period        Period
	CorrectCount  int
	WrongCount    int
	LastAttemptAt time.Time
}

// IsMedia reports whether the prompt is a media file reference.
func (i Item) IsMedia() bool {
	return i.Kind != KindText
}

// Counter selects one of an item's answer counters.
type Counter int

const (
	CorrectCounter Counter = iota + 1
	WrongCounter
)

// Column returns the storage column backing the counter.
func (c Counter) Column() (string, bool) {
	switch c {
	case CorrectCounter:
		return "correct_count", true
	case WrongCounter:
		return "wrong_count", true
	}
	return "", false
}
