package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"supportloop/internal/domain"

	_ "github.com/mattn/go-sqlite3"
)

// Store owns the SQLite handle. All timestamps are written in UTC.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func Open(path string) (*Store, error) {
	db, err := InitDB(path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Ping(ctx context.Context) error {
	return storageErr("ping", s.db.PingContext(ctx))
}

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, storageErr("open", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS failures (
		id                  TEXT PRIMARY KEY,
		customer_message    TEXT NOT NULL,
		assistant_reply     TEXT NOT NULL,
		human_correction    TEXT DEFAULT '',
		failure_explanation TEXT DEFAULT '',
		captured_at         DATETIME NOT NULL,
		attempts            INTEGER NOT NULL DEFAULT 0,
		last_attempt_at     DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_failures_captured_at ON failures(captured_at);
	CREATE INDEX IF NOT EXISTS idx_failures_reply ON failures(assistant_reply);

	CREATE TABLE IF NOT EXISTS improvements (
		id                TEXT PRIMARY KEY,
		source_failure_id TEXT NOT NULL UNIQUE,
		original_prompt   TEXT NOT NULL,
		original_reply    TEXT NOT NULL UNIQUE,
		corrected_reply   TEXT NOT NULL,
		score_gain        REAL NOT NULL CHECK (score_gain >= 0),
		failure_category  TEXT NOT NULL DEFAULT 'general',
		created_at        DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_improvements_rank ON improvements(score_gain, created_at);

	CREATE TABLE IF NOT EXISTS training_examples (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		improvement_id  TEXT NOT NULL,
		batch_id        TEXT NOT NULL,
		prompt_text     TEXT NOT NULL,
		completion_text TEXT NOT NULL,
		exported        INTEGER NOT NULL DEFAULT 0,
		UNIQUE (batch_id, improvement_id)
	);
	CREATE INDEX IF NOT EXISTS idx_te_improvement ON training_examples(improvement_id, exported);

	CREATE TABLE IF NOT EXISTS export_batches (
		batch_id      TEXT PRIMARY KEY,
		path          TEXT NOT NULL,
		example_count INTEGER NOT NULL,
		size_bytes    INTEGER NOT NULL,
		created_at    DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS interactions (
		id               TEXT PRIMARY KEY,
		user_id          TEXT NOT NULL,
		variant_key      TEXT DEFAULT '',
		customer_message TEXT NOT NULL,
		assistant_reply  TEXT NOT NULL,
		confidence       REAL NOT NULL DEFAULT 0,
		useful           INTEGER,
		created_at       DATETIME NOT NULL,
		rated_at         DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_interactions_created_at ON interactions(created_at);
	CREATE INDEX IF NOT EXISTS idx_interactions_variant ON interactions(variant_key);

	CREATE TABLE IF NOT EXISTS finetune_jobs (
		id               TEXT PRIMARY KEY,
		batch_id         TEXT NOT NULL,
		training_file_id TEXT NOT NULL,
		base_model       TEXT NOT NULL,
		status           TEXT NOT NULL,
		fine_tuned_model TEXT DEFAULT '',
		error            TEXT DEFAULT '',
		created_at       DATETIME NOT NULL,
		updated_at       DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS model_versions (
		id                     TEXT PRIMARY KEY,
		version_tag            TEXT NOT NULL UNIQUE,
		artifact_id            TEXT NOT NULL UNIQUE,
		base_model             TEXT NOT NULL,
		training_example_count INTEGER NOT NULL DEFAULT 0,
		is_active              INTEGER NOT NULL DEFAULT 0,
		created_at             DATETIME NOT NULL,
		promoted_at            DATETIME
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_model_versions_one_active ON model_versions(is_active) WHERE is_active = 1;

	CREATE TABLE IF NOT EXISTS leases (
		name       TEXT PRIMARY KEY,
		holder     TEXT NOT NULL,
		expires_at INTEGER NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, storageErr("init schema", err)
	}

	// Migration: failures gained attempt tracking.
	migrations := []struct{ table, column, ddl string }{
		{"failures", "attempts", `ALTER TABLE failures ADD COLUMN attempts INTEGER NOT NULL DEFAULT 0`},
		{"failures", "last_attempt_at", `ALTER TABLE failures ADD COLUMN last_attempt_at DATETIME`},
	}
	for _, m := range migrations {
		var colCount int
		if err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&colCount); err != nil {
			db.Close()
			return nil, storageErr("migrate "+m.table, err)
		}
		if colCount == 0 {
			if _, err := db.Exec(m.ddl); err != nil {
				db.Close()
				return nil, storageErr("migrate "+m.table+"."+m.column, err)
			}
		}
	}

	return db, nil
}

// storageErr tags driver failures so callers can errors.Is them against
// domain.ErrStorageUnavailable.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, err)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
