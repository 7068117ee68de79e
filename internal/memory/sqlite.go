package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Fixed-width so that lexical order in TEXT columns matches time order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteRepository persists call records in a local SQLite file.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (or creates) the database at path. Parent
// directories are created if needed.
func NewSQLiteRepository(ctx context.Context, path string) (*SQLiteRepository, error) {
	path = strings.TrimSpace(path)
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer at a time; avoids SQLITE_BUSY under concurrent calls.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	r := &SQLiteRepository{db: db}
	if err := r.createSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return r, nil
}

func (r *SQLiteRepository) createSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS callers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			phone_number TEXT NOT NULL UNIQUE,
			name TEXT,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS call_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			call_id TEXT NOT NULL UNIQUE,
			caller_id INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			outcome TEXT,
			FOREIGN KEY (caller_id) REFERENCES callers(id)
		);

		CREATE TABLE IF NOT EXISTS conversation_turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			call_record_id INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (call_record_id) REFERENCES call_records(id)
		);

		CREATE INDEX IF NOT EXISTS idx_conversation_turns_call_created
			ON conversation_turns(call_record_id, created_at, id);

		CREATE TABLE IF NOT EXISTS summaries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			caller_id INTEGER NOT NULL,
			summary_text TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (caller_id) REFERENCES callers(id)
		);

		CREATE INDEX IF NOT EXISTS idx_summaries_caller_created
			ON summaries(caller_id, created_at, id);
	`
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(raw string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", raw, err)
	}
	return t, nil
}

func (r *SQLiteRepository) EnsureCaller(ctx context.Context, phoneNumber string) (Caller, error) {
	var (
		c         Caller
		name      sql.NullString
		createdAt string
	)
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO callers (phone_number, created_at) VALUES (?, ?)
		 ON CONFLICT (phone_number) DO UPDATE SET phone_number = excluded.phone_number
		 RETURNING id, phone_number, name, created_at`,
		strings.TrimSpace(phoneNumber),
		formatSQLiteTime(time.Now()),
	).Scan(&c.ID, &c.PhoneNumber, &name, &createdAt)
	if err != nil {
		return Caller{}, fmt.Errorf("ensure caller: %w", err)
	}
	c.Name = name.String
	if c.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
		return Caller{}, err
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteCall(row rowScanner) (CallRecord, error) {
	var (
		c         CallRecord
		startedAt string
		endedAt   sql.NullString
		outcome   sql.NullString
	)
	if err := row.Scan(&c.ID, &c.CallID, &c.CallerID, &startedAt, &endedAt, &outcome); err != nil {
		return CallRecord{}, err
	}
	var err error
	if c.StartedAt, err = parseSQLiteTime(startedAt); err != nil {
		return CallRecord{}, err
	}
	if endedAt.Valid {
		at, err := parseSQLiteTime(endedAt.String)
		if err != nil {
			return CallRecord{}, err
		}
		c.EndedAt = &at
	}
	c.Outcome = outcome.String
	return c, nil
}

func (r *SQLiteRepository) GetCall(ctx context.Context, callID string) (CallRecord, error) {
	c, err := scanSQLiteCall(r.db.QueryRowContext(ctx,
		`SELECT id, call_id, caller_id, started_at, ended_at, outcome
		 FROM call_records WHERE call_id = ?`,
		callID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return CallRecord{}, ErrNotFound
	}
	if err != nil {
		return CallRecord{}, fmt.Errorf("get call: %w", err)
	}
	return c, nil
}

func (r *SQLiteRepository) CreateCall(ctx context.Context, callID string, callerID int64) (CallRecord, error) {
	c, err := scanSQLiteCall(r.db.QueryRowContext(ctx,
		`INSERT INTO call_records (call_id, caller_id, started_at) VALUES (?, ?, ?)
		 ON CONFLICT (call_id) DO UPDATE SET call_id = excluded.call_id
		 RETURNING id, call_id, caller_id, started_at, ended_at, outcome`,
		callID,
		callerID,
		formatSQLiteTime(time.Now()),
	))
	if err != nil {
		return CallRecord{}, fmt.Errorf("create call: %w", err)
	}
	return c, nil
}

func (r *SQLiteRepository) EndCall(ctx context.Context, callID, outcome string, endedAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE call_records SET ended_at = ?, outcome = ? WHERE call_id = ? AND ended_at IS NULL`,
		formatSQLiteTime(endedAt),
		outcome,
		callID,
	)
	if err != nil {
		return false, fmt.Errorf("end call: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("end call: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	if _, err := r.GetCall(ctx, callID); err != nil {
		return false, err
	}
	return false, nil
}

func (r *SQLiteRepository) AppendTurn(ctx context.Context, turn TurnRecord) (TurnRecord, error) {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO conversation_turns (call_record_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		turn.CallRecordID,
		turn.Role,
		turn.Content,
		formatSQLiteTime(turn.CreatedAt),
	)
	if err != nil {
		return TurnRecord{}, fmt.Errorf("append turn: %w", err)
	}
	if turn.ID, err = res.LastInsertId(); err != nil {
		return TurnRecord{}, fmt.Errorf("append turn: %w", err)
	}
	return turn, nil
}

func (r *SQLiteRepository) ListTurns(ctx context.Context, callRecordID int64) ([]TurnRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, call_record_id, role, content, created_at
		 FROM conversation_turns WHERE call_record_id = ? ORDER BY created_at, id`,
		callRecordID,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var items []TurnRecord
	for rows.Next() {
		var (
			t         TurnRecord
			createdAt string
		)
		if err := rows.Scan(&t.ID, &t.CallRecordID, &t.Role, &t.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		if t.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (r *SQLiteRepository) AddSummary(ctx context.Context, callerID int64, text string) (Summary, error) {
	s := Summary{CallerID: callerID, Text: text, CreatedAt: time.Now().UTC()}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO summaries (caller_id, summary_text, created_at) VALUES (?, ?, ?)`,
		callerID,
		text,
		formatSQLiteTime(s.CreatedAt),
	)
	if err != nil {
		return Summary{}, fmt.Errorf("add summary: %w", err)
	}
	if s.ID, err = res.LastInsertId(); err != nil {
		return Summary{}, fmt.Errorf("add summary: %w", err)
	}
	return s, nil
}

func (r *SQLiteRepository) LatestSummary(ctx context.Context, callerID int64) (Summary, error) {
	items, err := r.ListSummaries(ctx, callerID, 1)
	if err != nil {
		return Summary{}, err
	}
	if len(items) == 0 {
		return Summary{}, ErrNotFound
	}
	return items[0], nil
}

func (r *SQLiteRepository) ListSummaries(ctx context.Context, callerID int64, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, caller_id, summary_text, created_at
		 FROM summaries WHERE caller_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		callerID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	items := make([]Summary, 0, limit)
	for rows.Next() {
		var (
			s         Summary
			createdAt string
		)
		if err := rows.Scan(&s.ID, &s.CallerID, &s.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		if s.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}
