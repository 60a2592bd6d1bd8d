package queue

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the queue in a local SQLite database. Save replaces the
// whole table inside one transaction, preserving the same atomicity contract
// as the file store.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("wal mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger.With("component", "sqlite-store")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate queue db: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS actions (
		id           TEXT PRIMARY KEY,
		action_type  TEXT NOT NULL,
		endpoint     TEXT NOT NULL,
		method       TEXT NOT NULL,
		payload      BLOB,
		description  TEXT NOT NULL DEFAULT '',
		created_at   TEXT NOT NULL,
		status       TEXT NOT NULL,
		retry_count  INTEGER NOT NULL DEFAULT 0,
		last_error   TEXT NOT NULL DEFAULT '',
		completed_at TEXT
	)`)
	return err
}

// Load reads all persisted records in replay order. Row-level corruption is
// logged and skipped rather than failing startup.
func (s *SQLiteStore) Load() ([]*ActionRecord, error) {
	rows, err := s.db.Query(`SELECT id, action_type, endpoint, method, payload, description,
		created_at, status, retry_count, last_error, completed_at
		FROM actions ORDER BY created_at, id`)
	if err != nil {
		s.logger.Warn("queue db unreadable, starting empty", "error", err)
		return nil, nil
	}
	defer rows.Close()

	var records []*ActionRecord
	for rows.Next() {
		var (
			rec         ActionRecord
			createdAt   string
			completedAt sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Type, &rec.Endpoint, &rec.Method, &rec.Payload,
			&rec.Description, &createdAt, &rec.Status, &rec.RetryCount, &rec.LastError,
			&completedAt); err != nil {
			s.logger.Warn("skipping unreadable queue row", "error", err)
			continue
		}

		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			s.logger.Warn("skipping queue row with bad timestamp", "id", rec.ID, "error", err)
			continue
		}
		rec.CreatedAt = ts

		if completedAt.Valid {
			if done, err := time.Parse(time.RFC3339Nano, completedAt.String); err == nil {
				rec.CompletedAt = &done
			}
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("queue row iteration failed", "error", err)
	}
	return records, nil
}

// Save replaces the persisted collection inside a single transaction.
func (s *SQLiteStore) Save(records []*ActionRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM actions`); err != nil {
		return fmt.Errorf("clear actions: %w", err)
	}

	for _, rec := range records {
		var completedAt any
		if rec.CompletedAt != nil {
			completedAt = rec.CompletedAt.Format(time.RFC3339Nano)
		}
		if _, err := tx.Exec(`INSERT INTO actions
			(id, action_type, endpoint, method, payload, description, created_at, status, retry_count, last_error, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.Type, rec.Endpoint, rec.Method, []byte(rec.Payload), rec.Description,
			rec.CreatedAt.Format(time.RFC3339Nano), string(rec.Status), rec.RetryCount,
			rec.LastError, completedAt,
		); err != nil {
			return fmt.Errorf("insert action %s: %w", rec.ID, err)
		}
	}

	return tx.Commit()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
