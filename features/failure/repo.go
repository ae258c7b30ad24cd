package failure

import (
	"context"
	"database/sql"
	"fmt"

	"scuolakb/internal/ingest"
)

type Repository interface {
	SaveAll(ctx context.Context, runID string, failures []ingest.Failure) error
	List(ctx context.Context) ([]Failure, error)
	Get(ctx context.Context, id string) (*Failure, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) SaveAll(ctx context.Context, runID string, failures []ingest.Failure) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	query := `INSERT INTO failures (run_id, document_id, url, source, stage, kind, error) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	for _, f := range failures {
		if _, err := tx.ExecContext(ctx, query, runID, f.DocumentID, f.URL, f.Source, f.Stage, f.Kind, f.Error); err != nil {
			return fmt.Errorf("insert failure %s: %w", f.URL, err)
		}
	}
	return tx.Commit()
}

func (r *PostgresRepo) List(ctx context.Context) ([]Failure, error) {
	query := `SELECT id, run_id, document_id, url, source, stage, kind, error, created_at FROM failures ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var failures []Failure
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.ID, &f.RunID, &f.DocumentID, &f.URL, &f.Source, &f.Stage, &f.Kind, &f.Error, &f.CreatedAt); err != nil {
			return nil, err
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Failure, error) {
	f := &Failure{}
	query := `SELECT id, run_id, document_id, url, source, stage, kind, error, created_at FROM failures WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&f.ID, &f.RunID, &f.DocumentID, &f.URL, &f.Source, &f.Stage, &f.Kind, &f.Error, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM failures WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM failures`
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}
