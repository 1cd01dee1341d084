// Package repository stores the deployment history.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/Bidon15/stakepool-deployer/internal/deployment"
	"github.com/Bidon15/stakepool-deployer/internal/pkg/ulid"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Status is the final state of a recorded run.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Record is one orchestrator run. Optional columns are nil for failed runs.
type Record struct {
	ID           uuid.UUID       `json:"id"`
	RunID        string          `json:"run_id"`
	Artifact     string          `json:"artifact"`
	ChainID      int64           `json:"chain_id"`
	Status       Status          `json:"status"`
	FailedStage  *string         `json:"failed_stage,omitempty"`
	Address      *string         `json:"address,omitempty"`
	TxHash       *string         `json:"tx_hash,omitempty"`
	BlockNumber  *int64          `json:"block_number,omitempty"`
	GasUsed      *int64          `json:"gas_used,omitempty"`
	Config       json.RawMessage `json:"config"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Repository persists deployment records.
type Repository interface {
	RecordDeployment(ctx context.Context, r *Record) error
	GetDeploymentByRunID(ctx context.Context, runID string) (*Record, error)
	ListDeployments(ctx context.Context, limit int) ([]*Record, error)
}

// RunInfo carries the run metadata a failed run does not return in a Result.
// RunID may be empty when the error is a *deployment.StageError.
type RunInfo struct {
	RunID      string
	Artifact   string
	ChainID    int64
	Config     deployment.Configuration
	StartedAt  time.Time
	FinishedAt time.Time
}

// NewRecord builds the history record for a run from its result or error.
func NewRecord(info RunInfo, result *deployment.Result, runErr error) (*Record, error) {
	cfg := info.Config
	if result != nil {
		cfg = result.Config
	}
	rawConfig, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	rec := &Record{
		ID:         uuid.New(),
		RunID:      info.RunID,
		Artifact:   info.Artifact,
		ChainID:    info.ChainID,
		Config:     rawConfig,
		StartedAt:  info.StartedAt,
		FinishedAt: info.FinishedAt,
	}

	if runErr != nil {
		rec.Status = StatusFailed
		msg := runErr.Error()
		rec.ErrorMessage = &msg

		var stageErr *deployment.StageError
		if errors.As(runErr, &stageErr) {
			stage := stageErr.Stage.FailedStep()
			rec.FailedStage = &stage
			if rec.RunID == "" {
				rec.RunID = stageErr.RunID
			}
			if stageErr.TxHash != (common.Hash{}) {
				txHash := stageErr.TxHash.Hex()
				rec.TxHash = &txHash
			}
		}
		if rec.RunID == "" {
			rec.RunID = ulid.New()
		}
		return rec, nil
	}

	if result == nil {
		return nil, fmt.Errorf("record needs a result or an error")
	}

	rec.Status = StatusConfirmed
	rec.RunID = result.RunID
	rec.Artifact = result.Artifact
	rec.StartedAt = result.StartedAt
	rec.FinishedAt = result.ConfirmedAt

	address := result.Address.Hex()
	txHash := result.TxHash.Hex()
	block := int64(result.BlockNumber)
	gas := int64(result.GasUsed)
	rec.Address = &address
	rec.TxHash = &txHash
	rec.BlockNumber = &block
	rec.GasUsed = &gas
	return rec, nil
}

// Nop discards records. It is used when no history database is configured.
type Nop struct{}

func (Nop) RecordDeployment(context.Context, *Record) error { return nil }

func (Nop) GetDeploymentByRunID(context.Context, string) (*Record, error) { return nil, ErrNotFound }

func (Nop) ListDeployments(context.Context, int) ([]*Record, error) { return nil, nil }

var _ Repository = Nop{}
