package ledger

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) LoadIDs(ctx context.Context) ([]string, error) {
	query := `SELECT document_id FROM ingested_documents ORDER BY document_id`
	rows, err := s.db.QueryContext(ctx, query)
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

func (s *PostgresStore) AddIDs(ctx context.Context, ids []string) error {
	query := `INSERT INTO ingested_documents (document_id) SELECT unnest($1::text[]) ON CONFLICT (document_id) DO NOTHING`
	_, err := s.db.ExecContext(ctx, query, pq.Array(ids))
	return err
}

func (s *PostgresStore) RemoveIDs(ctx context.Context, ids []string) error {
	query := `DELETE FROM ingested_documents WHERE document_id = ANY($1)`
	_, err := s.db.ExecContext(ctx, query, pq.Array(ids))
	return err
}
