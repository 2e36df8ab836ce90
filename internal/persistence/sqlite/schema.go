package sqlite

// Schema is applied on every Open. Dates are stored as YYYY-MM-DD text.
const Schema = `
CREATE TABLE IF NOT EXISTS profiles (
    id               TEXT PRIMARY KEY,
    default_currency TEXT
);

CREATE TABLE IF NOT EXISTS recurring_transactions (
    id                TEXT PRIMARY KEY,
    user_id           TEXT NOT NULL,
    amount            REAL NOT NULL,
    currency          TEXT NOT NULL,
    type              TEXT NOT NULL,
    category          TEXT,
    description       TEXT,
    recipient         TEXT,
    is_chomesh        INTEGER NOT NULL DEFAULT 0,
    frequency         TEXT NOT NULL CHECK (frequency IN ('daily', 'weekly', 'monthly', 'yearly')),
    day_of_month      INTEGER CHECK (day_of_month BETWEEN 1 AND 31),
    original_amount   REAL,
    original_currency TEXT,
    conversion_rate   REAL,
    conversion_date   TEXT,
    rate_source       TEXT,
    next_due_date     TEXT NOT NULL,
    execution_count   INTEGER NOT NULL DEFAULT 0,
    status            TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'completed')),
    total_occurrences INTEGER,
    updated_at        TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_recurring_due ON recurring_transactions (status, next_due_date);

CREATE TABLE IF NOT EXISTS transactions (
    id                  TEXT PRIMARY KEY,
    user_id             TEXT NOT NULL,
    date                TEXT NOT NULL,
    amount              REAL NOT NULL,
    currency            TEXT NOT NULL,
    type                TEXT NOT NULL,
    description         TEXT,
    category            TEXT,
    recipient           TEXT,
    is_chomesh          INTEGER NOT NULL DEFAULT 0,
    source_recurring_id TEXT REFERENCES recurring_transactions (id) ON DELETE SET NULL,
    occurrence_number   INTEGER,
    original_amount     REAL,
    original_currency   TEXT,
    conversion_rate     REAL,
    conversion_date     TEXT,
    rate_source         TEXT,
    created_at          TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (source_recurring_id, occurrence_number)
);
`
