package record

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore indexes exchanges in a single SQLite table.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS exchanges (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			conn_key TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			client TEXT NOT NULL,
			server TEXT NOT NULL,
			seq INTEGER NOT NULL,
			method TEXT NOT NULL,
			target TEXT NOT NULL,
			request BLOB,
			production_response BLOB,
			test_response BLOB,
			error_kind TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			captured_at TEXT NOT NULL,
			forwarded_at TEXT NOT NULL,
			duration_ns INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exchanges_session ON exchanges(session_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_exchanges_forwarded_at ON exchanges(forwarded_at)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, ex Exchange) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO exchanges
		(id, session_id, conn_key, epoch, client, server, seq, method, target,
		 request, production_response, test_response, error_kind, error,
		 captured_at, forwarded_at, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.ID, ex.SessionID, ex.Key, ex.Epoch, ex.Client, ex.Server, ex.Seq, ex.Method, ex.Target,
		ex.Request, ex.ProductionResponse, ex.TestResponse, ex.ErrorKind, ex.Error,
		ex.CapturedAt.UTC().Format(time.RFC3339Nano), ex.ForwardedAt.UTC().Format(time.RFC3339Nano),
		int64(ex.Duration))
	if err != nil {
		return fmt.Errorf("insert exchange: %w", err)
	}
	return nil
}

// Recent returns the latest exchanges without their byte streams.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Exchange, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, conn_key, epoch, client, server,
		seq, method, target, error_kind, error, captured_at, forwarded_at, duration_ns
		FROM exchanges ORDER BY forwarded_at DESC, seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Exchange
	for rows.Next() {
		var (
			ex                  Exchange
			captured, forwarded string
			dur                 int64
		)
		if err := rows.Scan(&ex.ID, &ex.SessionID, &ex.Key, &ex.Epoch, &ex.Client, &ex.Server,
			&ex.Seq, &ex.Method, &ex.Target, &ex.ErrorKind, &ex.Error, &captured, &forwarded, &dur); err != nil {
			return nil, err
		}
		ex.CapturedAt, _ = time.Parse(time.RFC3339Nano, captured)
		ex.ForwardedAt, _ = time.Parse(time.RFC3339Nano, forwarded)
		ex.Duration = time.Duration(dur)
		out = append(out, ex)
	}
	return out, rows.Err()
}

// Session loads every exchange of a session in order, byte streams included.
func (s *SQLiteStore) Session(ctx context.Context, sessionID string) ([]Exchange, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, seq, method, target, request,
		production_response, test_response, error_kind
		FROM exchanges WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Exchange
	for rows.Next() {
		ex := Exchange{SessionID: sessionID}
		if err := rows.Scan(&ex.ID, &ex.Seq, &ex.Method, &ex.Target, &ex.Request,
			&ex.ProductionResponse, &ex.TestResponse, &ex.ErrorKind); err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
