package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/xiaot623/relaychat/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements Store interface.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// OpenWithRetry opens the ledger, retrying with exponential backoff until maxElapsed.
func OpenWithRetry(ctx context.Context, dsn string, maxElapsed time.Duration, logger *zap.Logger) (*SQLiteStore, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = maxElapsed

	var store *SQLiteStore
	err := backoff.Retry(func() error {
		s, err := NewSQLiteStore(dsn)
		if err != nil {
			logger.Warn("call ledger open attempt failed", zap.Error(err))
			return err
		}
		store = s
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, err
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS inference_calls (
			call_id TEXT PRIMARY KEY,
			model TEXT NOT NULL,
			upstream_model TEXT,
			status TEXT NOT NULL,
			inputs_size INTEGER NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_inference_calls_model ON inference_calls(model, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_inference_calls_status_created ON inference_calls(status, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateCall inserts a new ledger row.
func (s *SQLiteStore) CreateCall(ctx context.Context, call *domain.InferenceCall) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO inference_calls (call_id, model, upstream_model, status, inputs_size, latency_ms, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		call.CallID, call.Model, nullString(call.UpstreamModel), string(call.Status),
		call.InputsSize, call.LatencyMs, nullString(call.Error), call.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create call: %w", err)
	}
	return nil
}

// CompleteCall records the final status of a call.
func (s *SQLiteStore) CompleteCall(ctx context.Context, callID string, status domain.CallStatus, latencyMs int64, errMsg string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE inference_calls SET status = ?, latency_ms = ?, error = ?, completed_at = ? WHERE call_id = ?`,
		string(status), latencyMs, nullString(errMsg), time.Now().UTC(), callID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete call: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to complete call: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("call %s: %w", callID, ErrNotFound)
	}
	return nil
}

// GetCall retrieves a call by ID.
func (s *SQLiteStore) GetCall(ctx context.Context, callID string) (*domain.InferenceCall, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT call_id, model, upstream_model, status, inputs_size, latency_ms, error, created_at, completed_at
		 FROM inference_calls WHERE call_id = ?`, callID)

	call, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("call %s: %w", callID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call: %w", err)
	}
	return call, nil
}

// ListCalls returns the most recent calls first.
func (s *SQLiteStore) ListCalls(ctx context.Context, filter CallFilter) ([]domain.InferenceCall, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT call_id, model, upstream_model, status, inputs_size, latency_ms, error, created_at, completed_at
		FROM inference_calls`
	args := []interface{}{}
	if filter.Model != "" {
		query += ` WHERE model = ?`
		args = append(args, filter.Model)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list calls: %w", err)
	}
	defer rows.Close()

	var calls []domain.InferenceCall
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, *call)
	}
	return calls, rows.Err()
}

// AbandonStaleCalls marks calls still pending since before olderThan as abandoned.
func (s *SQLiteStore) AbandonStaleCalls(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE inference_calls SET status = ?, error = ?, completed_at = ?
		 WHERE status = ? AND created_at < ?`,
		string(domain.CallStatusAbandoned), "call never completed", time.Now().UTC(),
		string(domain.CallStatusPending), olderThan.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to abandon stale calls: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCall(row rowScanner) (*domain.InferenceCall, error) {
	var (
		call          domain.InferenceCall
		upstreamModel sql.NullString
		status        string
		errMsg        sql.NullString
		completedAt   sql.NullTime
	)
	if err := row.Scan(&call.CallID, &call.Model, &upstreamModel, &status, &call.InputsSize,
		&call.LatencyMs, &errMsg, &call.CreatedAt, &completedAt); err != nil {
		return nil, err
	}
	call.UpstreamModel = upstreamModel.String
	call.Status = domain.CallStatus(status)
	call.Error = errMsg.String
	if completedAt.Valid {
		t := completedAt.Time
		call.CompletedAt = &t
	}
	return &call, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
