package db

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS ledger_snapshots (
    user_id TEXT NOT NULL,
    broker TEXT NOT NULL,
    data TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (user_id, broker)
);

CREATE TABLE IF NOT EXISTS trades (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    trade_id TEXT NOT NULL,
    strategy TEXT,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    entry_price REAL NOT NULL,
    exit_price REAL NOT NULL,
    quantity REAL NOT NULL,
    profit_loss REAL NOT NULL,
    profit_loss_percent REAL DEFAULT 0,
    status TEXT NOT NULL,
    opened_at DATETIME NOT NULL,
    closed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_user ON trades(user_id, closed_at);

CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    strategy TEXT NOT NULL,
    symbol TEXT NOT NULL,
    broker TEXT,
    paper INTEGER DEFAULT 1,
    state TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    stopped_at DATETIME
);
`
