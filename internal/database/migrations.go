package database

const schema = `
CREATE TABLE IF NOT EXISTS email_configurations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL UNIQUE,
    is_enabled BOOLEAN DEFAULT false,
    imap_server TEXT NOT NULL DEFAULT 'imap.gmail.com',
    imap_port INTEGER NOT NULL DEFAULT 993,
    email_address TEXT NOT NULL,
    encrypted_password TEXT NOT NULL,
    polling_interval TEXT NOT NULL DEFAULT 'hourly',
    last_check_time DATETIME,
    sample_emails TEXT NOT NULL DEFAULT '[]',
    last_processed_id TEXT NOT NULL DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    user_id INTEGER NOT NULL,
    state TEXT NOT NULL,
    run_at DATETIME NOT NULL,
    enqueued_at DATETIME NOT NULL,
    started_at DATETIME,
    finished_at DATETIME,
    processed INTEGER NOT NULL DEFAULT 0,
    skipped INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT '',
    error_kind TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_configurations_enabled ON email_configurations(is_enabled);
CREATE INDEX IF NOT EXISTS idx_jobs_user_state ON jobs(user_id, state);
CREATE INDEX IF NOT EXISTS idx_jobs_state_run_at ON jobs(state, run_at);
`
