package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS ingested_documents (
	document_id TEXT PRIMARY KEY,
	ingested_at TEXT NOT NULL
)`

// SQLiteStore keeps the ledger in a local database file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and ensures the
// ledger table exists.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; sqlite serializes anyway
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LoadIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT document_id FROM ingested_documents ORDER BY document_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) AddIDs(ctx context.Context, ids []string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	return s.inTx(ctx, `INSERT OR IGNORE INTO ingested_documents (document_id, ingested_at) VALUES (?, ?)`, func(stmt *sql.Stmt, id string) error {
		_, err := stmt.ExecContext(ctx, id, now)
		return err
	}, ids)
}

func (s *SQLiteStore) RemoveIDs(ctx context.Context, ids []string) error {
	return s.inTx(ctx, `DELETE FROM ingested_documents WHERE document_id = ?`, func(stmt *sql.Stmt, id string) error {
		_, err := stmt.ExecContext(ctx, id)
		return err
	}, ids)
}

func (s *SQLiteStore) inTx(ctx context.Context, query string, exec func(*sql.Stmt, string) error, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, id := range ids {
		if err := exec(stmt, id); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
