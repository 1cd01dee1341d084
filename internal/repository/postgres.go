package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool the repository uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DefaultListLimit caps ListDeployments when no limit is given.
const DefaultListLimit = 20

const selectColumns = `
		SELECT id, run_id, artifact, chain_id, status, failed_stage, address, tx_hash,
		       block_number, gas_used, config, error_message, started_at, finished_at, created_at
		FROM deployments`

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db DB
}

// NewPostgresRepository creates a new PostgreSQL repository.
func NewPostgresRepository(db DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// RecordDeployment inserts a deployment record.
func (r *PostgresRepository) RecordDeployment(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	query := `
		INSERT INTO deployments (id, run_id, artifact, chain_id, status, failed_stage, address, tx_hash,
		                         block_number, gas_used, config, error_message, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		rec.ID, rec.RunID, rec.Artifact, rec.ChainID, rec.Status, rec.FailedStage, rec.Address, rec.TxHash,
		rec.BlockNumber, rec.GasUsed, rec.Config, rec.ErrorMessage, rec.StartedAt, rec.FinishedAt,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("RecordDeployment: %w", err)
	}
	return nil
}

// GetDeploymentByRunID retrieves a record by its run ID.
func (r *PostgresRepository) GetDeploymentByRunID(ctx context.Context, runID string) (*Record, error) {
	rec, err := scanRecord(r.db.QueryRow(ctx, selectColumns+`
		WHERE run_id = $1`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetDeploymentByRunID: %w", err)
	}
	return rec, nil
}

// ListDeployments returns the most recent records first.
func (r *PostgresRepository) ListDeployments(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := r.db.Query(ctx, selectColumns+`
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("ListDeployments: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ListDeployments scan: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListDeployments rows: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID, &rec.RunID, &rec.Artifact, &rec.ChainID, &rec.Status, &rec.FailedStage,
		&rec.Address, &rec.TxHash, &rec.BlockNumber, &rec.GasUsed, &rec.Config,
		&rec.ErrorMessage, &rec.StartedAt, &rec.FinishedAt, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

var _ Repository = (*PostgresRepository)(nil)
