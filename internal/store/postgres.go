package store

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/beechat/internal/metrics"
	"github.com/eldtechnologies/beechat/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	store := &PostgresStore{pool: pool}
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		sender_name TEXT NOT NULL DEFAULT '',
		recipient_id TEXT NOT NULL DEFAULT '',
		conversation_id TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT 'text',
		safety_checked BOOLEAN NOT NULL DEFAULT FALSE,
		is_bot BOOLEAN NOT NULL DEFAULT FALSE,
		sent_at TIMESTAMPTZ NOT NULL,
		audio_url TEXT NOT NULL DEFAULT '',
		duration DOUBLE PRECISION NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS safety_logs (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL,
		parent_id TEXT NOT NULL,
		child_id TEXT NOT NULL,
		child_username TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		flags TEXT[] NOT NULL DEFAULT '{}',
		severity TEXT NOT NULL,
		chat_with TEXT NOT NULL DEFAULT '',
		logged_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS locations (
		seq BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		lat DOUBLE PRECISION NOT NULL,
		lng DOUBLE PRECISION NOT NULL,
		accuracy DOUBLE PRECISION,
		recorded_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_safety_logs_parent_child ON safety_logs(parent_id, child_id, seq);
	CREATE INDEX IF NOT EXISTS idx_locations_user ON locations(user_id, seq);
	`)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func observePostgres(start time.Time) {
	metrics.DatabaseLatency.WithLabelValues("postgres").Observe(time.Since(start).Seconds())
}

// pgLimit maps a non-positive limit to LIMIT NULL, which Postgres reads as
// no limit.
func pgLimit(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}

// SaveMessage inserts a message; an existing ID is left untouched.
func (s *PostgresStore) SaveMessage(ctx context.Context, msg *models.Message) (bool, error) {
	defer observePostgres(time.Now())

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, content, sender_id, sender_name, recipient_id, conversation_id, kind, safety_checked, is_bot, sent_at, audio_url, duration)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`, msg.ID, msg.Content, msg.SenderID, msg.SenderName, msg.RecipientID, msg.ConversationID,
		string(msg.Kind), msg.SafetyChecked, msg.IsBot, msg.Timestamp, msg.AudioURL, msg.Duration)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// GetMessage retrieves a message by ID.
func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	defer observePostgres(time.Now())

	msg := &models.Message{}
	var kind string
	err := s.pool.QueryRow(ctx, `
		SELECT id, content, sender_id, sender_name, recipient_id, conversation_id, kind, safety_checked, is_bot, sent_at, audio_url, duration
		FROM messages WHERE id = $1
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
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	msg.Kind = models.MessageKind(kind)
	return msg, nil
}

// CountMessages returns the number of stored messages.
func (s *PostgresStore) CountMessages(ctx context.Context) (int64, error) {
	defer observePostgres(time.Now())

	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

// AppendSafetyLog inserts an entry under the parent.
func (s *PostgresStore) AppendSafetyLog(ctx context.Context, parentID string, entry *models.SafetyLogEntry) error {
	defer observePostgres(time.Now())

	flags := entry.Flags
	if flags == nil {
		flags = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO safety_logs (id, parent_id, child_id, child_username, content, flags, severity, chat_with, logged_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.ID, parentID, entry.ChildID, entry.ChildUsername, entry.Content, flags,
		string(entry.Severity), entry.ChatWith, entry.Timestamp)
	return err
}

// ListSafetyLogs returns the child's last limit entries, oldest first.
func (s *PostgresStore) ListSafetyLogs(ctx context.Context, parentID, childID string, limit int) ([]models.SafetyLogEntry, error) {
	defer observePostgres(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT id, child_id, child_username, content, flags, severity, chat_with, logged_at
		FROM safety_logs
		WHERE parent_id = $1 AND child_id = $2
		ORDER BY seq DESC
		LIMIT $3
	`, parentID, childID, pgLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.SafetyLogEntry
	for rows.Next() {
		var e models.SafetyLogEntry
		var severity string
		err := rows.Scan(
			&e.ID,
			&e.ChildID,
			&e.ChildUsername,
			&e.Content,
			&e.Flags,
			&severity,
			&e.ChatWith,
			&e.Timestamp,
		)
		if err != nil {
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
// A transaction-scoped advisory lock serialises writers for the same user.
func (s *PostgresStore) AppendLocation(ctx context.Context, sample *models.LocationSample, limit int) error {
	defer observePostgres(time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, sample.UserID); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO locations (user_id, lat, lng, accuracy, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
	`, sample.UserID, sample.Lat, sample.Lng, sample.Accuracy, sample.Timestamp)
	if err != nil {
		return err
	}

	if limit > 0 {
		_, err = tx.Exec(ctx, `
			DELETE FROM locations
			WHERE user_id = $1 AND seq NOT IN (
				SELECT seq FROM locations WHERE user_id = $1 ORDER BY seq DESC LIMIT $2
			)
		`, sample.UserID, limit)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// ListLocations returns the user's history, oldest first.
func (s *PostgresStore) ListLocations(ctx context.Context, userID string) ([]models.LocationSample, error) {
	defer observePostgres(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT user_id, lat, lng, accuracy, recorded_at
		FROM locations
		WHERE user_id = $1
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
