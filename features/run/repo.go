package run

import (
	"context"
	"database/sql"
	"errors"
)

type Repository interface {
	Save(ctx context.Context, r *Run) error
	List(ctx context.Context, limit int) ([]Run, error)
	Latest(ctx context.Context) (*Run, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const runColumns = `id, started_at, finished_at, discovered, new_docs, deferred, fetched, indexed, failed, skipped, chunks, cancelled`

func (r *PostgresRepo) Save(ctx context.Context, run *Run) error {
	query := `INSERT INTO runs (` + runColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.db.ExecContext(ctx, query,
		run.ID, run.StartedAt, run.FinishedAt, run.Discovered, run.New, run.Deferred,
		run.Fetched, run.Indexed, run.Failed, run.Skipped, run.Chunks, run.Cancelled)
	return err
}

func (r *PostgresRepo) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := scanRun(rows, &run); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Latest returns nil when no run was recorded yet.
func (r *PostgresRepo) Latest(ctx context.Context) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC LIMIT 1`
	var run Run
	err := scanRun(r.db.QueryRowContext(ctx, query), &run)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner, run *Run) error {
	return s.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Discovered, &run.New, &run.Deferred,
		&run.Fetched, &run.Indexed, &run.Failed, &run.Skipped, &run.Chunks, &run.Cancelled)
}
