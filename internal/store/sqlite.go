package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/beechat/internal/metrics"
	"github.com/eldtechnologies/beechat/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/beechat.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/beechat.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// one writer at a time keeps the location trim atomic
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		sender_name TEXT NOT NULL DEFAULT '',
		recipient_id TEXT NOT NULL DEFAULT '',
		conversation_id TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT 'text',
		safety_checked BOOLEAN NOT NULL DEFAULT 0,
		is_bot BOOLEAN NOT NULL DEFAULT 0,
		sent_at DATETIME NOT NULL,
		audio_url TEXT NOT NULL DEFAULT '',
		duration REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS safety_logs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		parent_id TEXT NOT NULL,
		child_id TEXT NOT NULL,
		child_username TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		flags TEXT NOT NULL DEFAULT '[]',
		severity TEXT NOT NULL,
		chat_with TEXT NOT NULL DEFAULT '',
		logged_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS locations (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		lat REAL NOT NULL,
		lng REAL NOT NULL,
		accuracy REAL,
		recorded_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_safety_logs_parent_child ON safety_logs(parent_id, child_id, seq);
	CREATE INDEX IF NOT EXISTS idx_locations_user ON locations(user_id, seq);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func observeSQLite(start time.Time) {
	metrics.DatabaseLatency.WithLabelValues("sqlite").Observe(time.Since(start).Seconds())
}

// sqliteLimit maps a non-positive limit to -1, which SQLite reads as no limit.
func sqliteLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

// SaveMessage inserts a message; an existing ID is left untouched.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *models.Message) (bool, error) {
	defer observeSQLite(time.Now())

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages (id, content, sender_id, sender_name, recipient_id, conversation_id, kind, safety_checked, is_bot, sent_at, audio_url, duration)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.Content, msg.SenderID, msg.SenderName, msg.RecipientID, msg.ConversationID,
		string(msg.Kind), msg.SafetyChecked, msg.IsBot, msg.Timestamp.UTC(), msg.AudioURL, msg.Duration)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	defer observeSQLite(time.Now())

	msg := &models.Message{}
	var kind string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, content, sender_id, sender_name, recipient_id, conversation_id, kind, safety_checked, is_bot, sent_at, audio_url, duration
		FROM messages WHERE id = ?
	`, id).Scan(
		&msg.ID,
		&msg.Content,
		&msg.SenderID,
		&msg.SenderName,
		&msg.RecipientID,
		&msg.ConversationID,
		&kind,
		&msg.SafetyChecked,
		&msg.IsBot,
		&msg.Timestamp,
		&msg.AudioURL,
		&msg.Duration,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	msg.Kind = models.MessageKind(kind)
	return msg, nil
}

// CountMessages returns the number of stored messages.
func (s *SQLiteStore) CountMessages(ctx context.Context) (int64, error) {
	defer observeSQLite(time.Now())

	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

// AppendSafetyLog inserts an entry under the parent.
func (s *SQLiteStore) AppendSafetyLog(ctx context.Context, parentID string, entry *models.SafetyLogEntry) error {
	defer observeSQLite(time.Now())

	flags := entry.Flags
	if flags == nil {
		flags = []string{}
	}
	flagsJSON, err := json.Marshal(flags)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO safety_logs (id, parent_id, child_id, child_username, content, flags, severity, chat_with, logged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, parentID, entry.ChildID, entry.ChildUsername, entry.Content, string(flagsJSON),
		string(entry.Severity), entry.ChatWith, entry.Timestamp.UTC())
	return err
}

// ListSafetyLogs returns the child's last limit entries, oldest first.
func (s *SQLiteStore) ListSafetyLogs(ctx context.Context, parentID, childID string, limit int) ([]models.SafetyLogEntry, error) {
	defer observeSQLite(time.Now())

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, child_id, child_username, content, flags, severity, chat_with, logged_at
		FROM safety_logs
		WHERE parent_id = ? AND child_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, parentID, childID, sqliteLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.SafetyLogEntry
	for rows.Next() {
		var e models.SafetyLogEntry
		var flagsJSON, severity string
		err := rows.Scan(
			&e.ID,
			&e.ChildID,
			&e.ChildUsername,
			&e.Content,
			&flagsJSON,
			&severity,
			&e.ChatWith,
			&e.Timestamp,
		)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(flagsJSON), &e.Flags); err != nil {
			return nil, err
		}
		e.Severity = models.Severity(severity)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.Reverse(entries)
	return entries, nil
}

// AppendLocation inserts a sample and trims the user's history to limit.
func (s *SQLiteStore) AppendLocation(ctx context.Context, sample *models.LocationSample, limit int) error {
	defer observeSQLite(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO locations (user_id, lat, lng, accuracy, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`, sample.UserID, sample.Lat, sample.Lng, sample.Accuracy, sample.Timestamp.UTC())
	if err != nil {
		return err
	}

	if limit > 0 {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM locations
			WHERE user_id = ? AND seq NOT IN (
				SELECT seq FROM locations WHERE user_id = ? ORDER BY seq DESC LIMIT ?
			)
		`, sample.UserID, sample.UserID, limit)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListLocations returns the user's history, oldest first.
func (s *SQLiteStore) ListLocations(ctx context.Context, userID string) ([]models.LocationSample, error) {
	defer observeSQLite(time.Now())

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, lat, lng, accuracy, recorded_at
		FROM locations
		WHERE user_id = ?
		ORDER BY seq ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []models.LocationSample
	for rows.Next() {
		var sample models.LocationSample
		if err := rows.Scan(&sample.UserID, &sample.Lat, &sample.Lng, &sample.Accuracy, &sample.Timestamp); err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}
