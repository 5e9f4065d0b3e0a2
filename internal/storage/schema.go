package storage

const schema = `
-- The 'items' table stores every flashcard and its repetition state.
CREATE TABLE IF NOT EXISTS items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    inserted_at INTEGER NOT NULL,
    kind TEXT NOT NULL,
    prompt TEXT NOT NULL,
    answer TEXT NOT NULL,
    period TEXT NOT NULL DEFAULT 'daily',
    correct_count INTEGER NOT NULL DEFAULT 0,
    wrong_count INTEGER NOT NULL DEFAULT 0,
    last_attempt_at INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_items_prompt ON items (prompt);
`
