package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository persists call records in PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresRepository{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS callers (
			id BIGSERIAL PRIMARY KEY,
			phone_number TEXT NOT NULL UNIQUE,
			name TEXT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS call_records (
			id BIGSERIAL PRIMARY KEY,
			call_id TEXT NOT NULL UNIQUE,
			caller_id BIGINT NOT NULL REFERENCES callers(id),
			started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			ended_at TIMESTAMPTZ NULL,
			outcome TEXT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			id BIGSERIAL PRIMARY KEY,
			call_record_id BIGINT NOT NULL REFERENCES call_records(id),
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_turns_call_created ON conversation_turns (call_record_id, created_at, id);`,
		`CREATE TABLE IF NOT EXISTS summaries (
			id BIGSERIAL PRIMARY KEY,
			caller_id BIGINT NOT NULL REFERENCES callers(id),
			summary_text TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_summaries_caller_created ON summaries (caller_id, created_at DESC, id DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (r *PostgresRepository) EnsureCaller(ctx context.Context, phoneNumber string) (Caller, error) {
	// The no-op update makes RETURNING yield the existing row on conflict.
	var c Caller
	err := r.pool.QueryRow(ctx,
		`INSERT INTO callers (phone_number) VALUES ($1)
		 ON CONFLICT (phone_number) DO UPDATE SET phone_number = EXCLUDED.phone_number
		 RETURNING id, phone_number, COALESCE(name, ''), created_at`,
		strings.TrimSpace(phoneNumber),
	).Scan(&c.ID, &c.PhoneNumber, &c.Name, &c.CreatedAt)
	if err != nil {
		return Caller{}, fmt.Errorf("ensure caller: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) GetCall(ctx context.Context, callID string) (CallRecord, error) {
	var c CallRecord
	err := r.pool.QueryRow(ctx,
		`SELECT id, call_id, caller_id, started_at, ended_at, COALESCE(outcome, '')
		 FROM call_records WHERE call_id=$1`,
		callID,
	).Scan(&c.ID, &c.CallID, &c.CallerID, &c.StartedAt, &c.EndedAt, &c.Outcome)
	if errors.Is(err, pgx.ErrNoRows) {
		return CallRecord{}, ErrNotFound
	}
	if err != nil {
		return CallRecord{}, fmt.Errorf("get call: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) CreateCall(ctx context.Context, callID string, callerID int64) (CallRecord, error) {
	var c CallRecord
	err := r.pool.QueryRow(ctx,
		`INSERT INTO call_records (call_id, caller_id) VALUES ($1, $2)
		 ON CONFLICT (call_id) DO UPDATE SET call_id = EXCLUDED.call_id
		 RETURNING id, call_id, caller_id, started_at, ended_at, COALESCE(outcome, '')`,
		callID,
		callerID,
	).Scan(&c.ID, &c.CallID, &c.CallerID, &c.StartedAt, &c.EndedAt, &c.Outcome)
	if err != nil {
		return CallRecord{}, fmt.Errorf("create call: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) EndCall(ctx context.Context, callID, outcome string, endedAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE call_records SET ended_at=$2, outcome=$3 WHERE call_id=$1 AND ended_at IS NULL`,
		callID,
		endedAt.UTC(),
		outcome,
	)
	if err != nil {
		return false, fmt.Errorf("end call: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	if _, err := r.GetCall(ctx, callID); err != nil {
		return false, err
	}
	return false, nil
}

func (r *PostgresRepository) AppendTurn(ctx context.Context, turn TurnRecord) (TurnRecord, error) {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO conversation_turns (call_record_id, role, content, created_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		turn.CallRecordID,
		turn.Role,
		turn.Content,
		turn.CreatedAt,
	).Scan(&turn.ID)
	if err != nil {
		return TurnRecord{}, fmt.Errorf("append turn: %w", err)
	}
	return turn, nil
}

func (r *PostgresRepository) ListTurns(ctx context.Context, callRecordID int64) ([]TurnRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, call_record_id, role, content, created_at
		 FROM conversation_turns WHERE call_record_id=$1 ORDER BY created_at, id`,
		callRecordID,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var items []TurnRecord
	for rows.Next() {
		var t TurnRecord
		if err := rows.Scan(&t.ID, &t.CallRecordID, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}
	return items, nil
}

func (r *PostgresRepository) AddSummary(ctx context.Context, callerID int64, text string) (Summary, error) {
	s := Summary{CallerID: callerID, Text: text}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO summaries (caller_id, summary_text) VALUES ($1, $2) RETURNING id, created_at`,
		callerID,
		text,
	).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return Summary{}, fmt.Errorf("add summary: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) LatestSummary(ctx context.Context, callerID int64) (Summary, error) {
	items, err := r.ListSummaries(ctx, callerID, 1)
	if err != nil {
		return Summary{}, err
	}
	if len(items) == 0 {
		return Summary{}, ErrNotFound
	}
	return items[0], nil
}

func (r *PostgresRepository) ListSummaries(ctx context.Context, callerID int64, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, caller_id, summary_text, created_at
		 FROM summaries WHERE caller_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		callerID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	items := make([]Summary, 0, limit)
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.CallerID, &s.Text, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary rows: %w", err)
	}
	return items, nil
}

func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}
