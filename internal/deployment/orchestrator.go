package deployment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bidon15/stakepool-deployer/internal/pkg/ulid"
)

// OrchestratorConfig contains optional settings for the orchestrator.
type OrchestratorConfig struct {
	// ArtifactName is the contract artifact to resolve (default: StakingPool).
	ArtifactName string
	// OnProgress receives every stage transition. Optional.
	OnProgress ProgressCallback
	// Now overrides the clock. Optional.
	Now func() time.Time
}

// Orchestrator runs the deploy-and-confirm sequence once per Run call.
type Orchestrator struct {
	factory Factory
	logger  *slog.Logger
	config  OrchestratorConfig
}

// NewOrchestrator creates a new Orchestrator on top of the given factory.
func NewOrchestrator(factory Factory, logger *slog.Logger, cfg OrchestratorConfig) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ArtifactName == "" {
		cfg.ArtifactName = DefaultArtifactName
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{
		factory: factory,
		logger:  logger,
		config:  cfg,
	}
}

// ArtifactName returns the artifact this orchestrator deploys.
func (o *Orchestrator) ArtifactName() string {
	return o.config.ArtifactName
}

// Run validates cfg, resolves the artifact, submits exactly one creation
// transaction and waits for its confirmation. Nothing is retried: every
// failure short-circuits the remaining steps and is returned as a
// *StageError wrapping the collaborator's error.
func (o *Orchestrator) Run(ctx context.Context, cfg Configuration) (*Result, error) {
	runID := ulid.New()
	startedAt := o.config.Now()
	name := o.config.ArtifactName

	logger := o.logger.With(
		slog.String("run_id", runID),
		slog.String("artifact", name),
	)

	if err := cfg.Validate(); err != nil {
		return nil, o.fail(logger, runID, common.Hash{}, StageUnstarted, err)
	}

	o.progress(StageUnstarted, "resolving artifact")
	binding, err := o.factory.Resolve(ctx, name)
	if err != nil {
		return nil, o.fail(logger, runID, common.Hash{}, StageArtifactResolved, err)
	}
	o.progress(StageArtifactResolved, "artifact resolved")

	logger.Info("submitting creation transaction",
		slog.Uint64("reward_rate", cfg.RewardRate),
		slog.Uint64("withdrawal_period", cfg.WithdrawalPeriod),
		slog.String("vault_address", cfg.VaultAddress.Hex()),
		slog.String("token_address", cfg.TokenAddress.Hex()),
	)

	pending, err := binding.Deploy(ctx, cfg.RewardRate, cfg.WithdrawalPeriod, cfg.VaultAddress, cfg.TokenAddress)
	if err != nil {
		return nil, o.fail(logger, runID, common.Hash{}, StageSubmitted, err)
	}
	txHash := pending.TxHash()
	o.progress(StageSubmitted, fmt.Sprintf("transaction %s submitted", txHash.Hex()))

	logger.Info("transaction submitted, waiting for confirmation",
		slog.String("tx_hash", txHash.Hex()),
	)

	confirmation, err := pending.AwaitConfirmation(ctx)
	if err != nil {
		return nil, o.fail(logger, runID, txHash, StageConfirmed, err)
	}
	if confirmation == nil || confirmation.Address == (common.Address{}) {
		return nil, o.fail(logger, runID, txHash, StageConfirmed, fmt.Errorf("no contract address for transaction %s", txHash.Hex()))
	}
	confirmedHash := confirmation.TxHash
	if confirmedHash == (common.Hash{}) {
		confirmedHash = txHash
	}
	o.progress(StageConfirmed, fmt.Sprintf("deployed to %s", confirmation.Address.Hex()))

	result := &Result{
		RunID:       runID,
		Artifact:    name,
		Address:     confirmation.Address,
		TxHash:      confirmedHash,
		BlockNumber: confirmation.BlockNumber,
		GasUsed:     confirmation.GasUsed,
		Config:      cfg,
		StartedAt:   startedAt,
		ConfirmedAt: o.config.Now(),
	}

	logger.Info("contract deployed",
		slog.String("address", result.Address.Hex()),
		slog.String("tx_hash", result.TxHash.Hex()),
		slog.Uint64("block_number", result.BlockNumber),
	)

	return result, nil
}

// fail wraps err for the stage that could not be reached.
func (o *Orchestrator) fail(logger *slog.Logger, runID string, txHash common.Hash, stage Stage, err error) error {
	stageErr := &StageError{
		Stage:    stage,
		Artifact: o.config.ArtifactName,
		RunID:    runID,
		TxHash:   txHash,
		Err:      err,
	}
	logger.Error("deployment failed",
		slog.String("stage", stage.failureName()),
		slog.String("error", err.Error()),
	)
	o.progress(StageFailed, stageErr.Error())
	return stageErr
}

func (o *Orchestrator) progress(stage Stage, message string) {
	if o.config.OnProgress != nil {
		o.config.OnProgress(stage, message)
	}
}
