package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"mailcron/internal/task"
)

// sqliteStore is the default driver. Every partial update runs as a
// read-merge-write inside one immediate transaction, and the connection
// pool is capped at a single connection, so mutations are fully serialized.
type sqliteStore struct {
	log zerolog.Logger
	db  *sql.DB
}

const taskColumns = `id, name, recipients, subject, body, send_time, next_run_at,
	is_recurring, recurrence_value, recurrence_unit, timezone, status,
	last_sent_at, last_error, attempts, last_attempt_at, smtp, webhook_url,
	created_at, updated_at`

func openSQLite(cfg Config, log zerolog.Logger) (Store, error) {
	path := cfg.Path
	if path == "" {
		return nil, errors.New("store path is required for the sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("opening task store: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &sqliteStore{log: log, db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating task store: %w", err)
	}
	return s, nil
}

func (s *sqliteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		recipients TEXT NOT NULL,
		subject TEXT NOT NULL,
		body TEXT NOT NULL,
		send_time DATETIME NOT NULL,
		next_run_at DATETIME,
		is_recurring INTEGER NOT NULL DEFAULT 0,
		recurrence_value INTEGER,
		recurrence_unit TEXT,
		timezone TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'scheduled',
		last_sent_at DATETIME,
		last_error TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_attempt_at DATETIME,
		smtp TEXT,
		webhook_url TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_next_run_at ON tasks(next_run_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) List(ctx context.Context) []*task.Task {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at, id`)
	if err != nil {
		s.log.Error().Err(err).Msg("task store unreadable, returning empty collection")
		return nil
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			s.log.Error().Err(err).Msg("task row unreadable, skipping")
			continue
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		s.log.Error().Err(err).Msg("task store read interrupted")
	}
	return tasks
}

func (s *sqliteStore) Get(ctx context.Context, id string) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (s *sqliteStore) Insert(ctx context.Context, t *task.Task) (*task.Task, error) {
	stored := t.Clone()
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting insert: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM tasks WHERE id = ?)`, stored.ID).Scan(&exists); err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAlreadyExists
	}

	if err := writeTask(ctx, tx, stored, true); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing insert: %w", err)
	}
	return stored, nil
}

func (s *sqliteStore) Update(ctx context.Context, id string, p Patch) (*task.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting update: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := p.apply(t, time.Now().UTC()); err != nil {
		return nil, err
	}

	if err := writeTask(ctx, tx, t, false); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing update: %w", err)
	}
	return t, nil
}

func (s *sqliteStore) Remove(ctx context.Context, id string) (*task.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting remove: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing remove: %w", err)
	}
	return t, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func writeTask(ctx context.Context, e execer, t *task.Task, insert bool) error {
	recipients, err := json.Marshal(t.Recipients)
	if err != nil {
		return fmt.Errorf("encoding recipients: %w", err)
	}

	var smtp sql.NullString
	if t.SMTP != nil {
		raw, err := json.Marshal(t.SMTP)
		if err != nil {
			return fmt.Errorf("encoding smtp settings: %w", err)
		}
		smtp = sql.NullString{String: string(raw), Valid: true}
	}

	var unit sql.NullString
	if t.RecurrenceUnit != nil {
		unit = sql.NullString{String: string(*t.RecurrenceUnit), Valid: true}
	}
	var value sql.NullInt64
	if t.RecurrenceValue != nil {
		value = sql.NullInt64{Int64: int64(*t.RecurrenceValue), Valid: true}
	}
	var lastErr sql.NullString
	if t.LastError != nil {
		lastErr = sql.NullString{String: *t.LastError, Valid: true}
	}

	if insert {
		_, err = e.ExecContext(ctx, `
			INSERT INTO tasks (`+taskColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ID, t.Name, string(recipients), t.Subject, t.Body, t.SendTime,
			nullTime(t.NextRunAt), t.IsRecurring, value, unit, t.Timezone,
			string(t.Status), nullTime(t.LastSentAt), lastErr, t.Attempts,
			nullTime(t.LastAttemptAt), smtp, t.WebhookURL, t.CreatedAt, t.UpdatedAt)
		return err
	}

	_, err = e.ExecContext(ctx, `
		UPDATE tasks SET name = ?, recipients = ?, subject = ?, body = ?,
			send_time = ?, next_run_at = ?, is_recurring = ?, recurrence_value = ?,
			recurrence_unit = ?, timezone = ?, status = ?, last_sent_at = ?,
			last_error = ?, attempts = ?, last_attempt_at = ?, smtp = ?,
			webhook_url = ?, updated_at = ?
		WHERE id = ?
	`, t.Name, string(recipients), t.Subject, t.Body, t.SendTime,
		nullTime(t.NextRunAt), t.IsRecurring, value, unit, t.Timezone,
		string(t.Status), nullTime(t.LastSentAt), lastErr, t.Attempts,
		nullTime(t.LastAttemptAt), smtp, t.WebhookURL, t.UpdatedAt, t.ID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var (
		t          task.Task
		recipients string
		nextRun    sql.NullTime
		value      sql.NullInt64
		unit       sql.NullString
		status     string
		lastSent   sql.NullTime
		lastErr    sql.NullString
		lastTry    sql.NullTime
		smtp       sql.NullString
	)

	err := row.Scan(&t.ID, &t.Name, &recipients, &t.Subject, &t.Body,
		&t.SendTime, &nextRun, &t.IsRecurring, &value, &unit, &t.Timezone,
		&status, &lastSent, &lastErr, &t.Attempts, &lastTry, &smtp,
		&t.WebhookURL, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(recipients), &t.Recipients); err != nil {
		return nil, fmt.Errorf("decoding recipients: %w", err)
	}
	t.Status = task.Status(status)
	if nextRun.Valid {
		v := nextRun.Time
		t.NextRunAt = &v
	}
	if value.Valid {
		v := int(value.Int64)
		t.RecurrenceValue = &v
	}
	if unit.Valid {
		v := task.Unit(unit.String)
		t.RecurrenceUnit = &v
	}
	if lastSent.Valid {
		v := lastSent.Time
		t.LastSentAt = &v
	}
	if lastErr.Valid {
		v := lastErr.String
		t.LastError = &v
	}
	if lastTry.Valid {
		v := lastTry.Time
		t.LastAttemptAt = &v
	}
	if smtp.Valid {
		var cfg task.SMTPConfig
		if err := json.Unmarshal([]byte(smtp.String), &cfg); err != nil {
			return nil, fmt.Errorf("decoding smtp settings: %w", err)
		}
		t.SMTP = &cfg
	}
	return &t, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
