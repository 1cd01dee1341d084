// Package deployment runs the StakingPool deploy-and-confirm sequence.
package deployment

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultArtifactName is the compiled contract the deployer instantiates.
const DefaultArtifactName = "StakingPool"

// Configuration is the frozen set of constructor parameters for one run.
type Configuration struct {
	// RewardRate is the reward per staked amount, in basis-point-like units.
	RewardRate uint64 `json:"rewardRate" yaml:"reward_rate"`
	// WithdrawalPeriod is the minimum lock duration in seconds.
	WithdrawalPeriod uint64         `json:"withdrawalPeriod" yaml:"withdrawal_period"`
	VaultAddress     common.Address `json:"vaultAddress" yaml:"vault_address"`
	TokenAddress     common.Address `json:"tokenAddress" yaml:"token_address"`
}

// Validate checks the configuration invariants. All violations are
// returned joined, each as a *ValidationError.
func (c Configuration) Validate() error {
	var errs []error
	if c.RewardRate == 0 {
		errs = append(errs, NewValidationError("reward_rate", "must be greater than zero"))
	}
	if c.WithdrawalPeriod == 0 {
		errs = append(errs, NewValidationError("withdrawal_period", "must be greater than zero"))
	}
	if c.VaultAddress == (common.Address{}) {
		errs = append(errs, NewValidationError("vault_address", "must not be the zero address"))
	}
	if c.TokenAddress == (common.Address{}) {
		errs = append(errs, NewValidationError("token_address", "must not be the zero address"))
	}
	if c.VaultAddress != (common.Address{}) && c.VaultAddress == c.TokenAddress {
		errs = append(errs, NewValidationError("token_address", "must differ from vault_address"))
	}
	return errors.Join(errs...)
}

// ConstructorArgs returns the StakingPool constructor arguments in ABI order.
func (c Configuration) ConstructorArgs() []any {
	return []any{
		new(big.Int).SetUint64(c.RewardRate),
		new(big.Int).SetUint64(c.WithdrawalPeriod),
		c.VaultAddress,
		c.TokenAddress,
	}
}

// WithdrawalDuration returns WithdrawalPeriod as a time.Duration.
func (c Configuration) WithdrawalDuration() time.Duration {
	return time.Duration(c.WithdrawalPeriod) * time.Second
}

// Factory resolves a named contract artifact to a deployable binding.
type Factory interface {
	Resolve(ctx context.Context, artifactName string) (Binding, error)
}

// Binding submits creation transactions for one resolved artifact.
type Binding interface {
	Deploy(ctx context.Context, rewardRate, withdrawalPeriod uint64, vault, token common.Address) (PendingDeployment, error)
}

// PendingDeployment is a submitted but unconfirmed creation transaction.
// AwaitConfirmation is called exactly once.
type PendingDeployment interface {
	TxHash() common.Hash
	AwaitConfirmation(ctx context.Context) (*Confirmation, error)
}

// Confirmation is the network layer's acknowledgment of a deployment.
type Confirmation struct {
	Address     common.Address `json:"address"`
	TxHash      common.Hash    `json:"txHash"`
	BlockNumber uint64         `json:"blockNumber"`
	GasUsed     uint64         `json:"gasUsed"`
}

// Result is the terminal artifact of a successful run.
type Result struct {
	RunID       string         `json:"runId" yaml:"run_id"`
	Artifact    string         `json:"artifact" yaml:"artifact"`
	Address     common.Address `json:"address" yaml:"address"`
	TxHash      common.Hash    `json:"txHash" yaml:"tx_hash"`
	BlockNumber uint64         `json:"blockNumber" yaml:"block_number"`
	GasUsed     uint64         `json:"gasUsed" yaml:"gas_used"`
	Config      Configuration  `json:"config" yaml:"config"`
	StartedAt   time.Time      `json:"startedAt" yaml:"started_at"`
	ConfirmedAt time.Time      `json:"confirmedAt" yaml:"confirmed_at"`
}

// Duration returns how long the run took from start to confirmation.
func (r *Result) Duration() time.Duration {
	return r.ConfirmedAt.Sub(r.StartedAt)
}

// Stage is a step in the linear run sequence.
type Stage int

const (
	StageUnstarted Stage = iota
	StageArtifactResolved
	StageSubmitted
	StageConfirmed
	StageFailed
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageUnstarted:
		return "unstarted"
	case StageArtifactResolved:
		return "artifact_resolved"
	case StageSubmitted:
		return "submitted"
	case StageConfirmed:
		return "confirmed"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FailedStep returns a stable label for the step that fails to reach s,
// e.g. "await_confirmation" for a run that never reached StageConfirmed.
func (s Stage) FailedStep() string {
	switch s {
	case StageUnstarted:
		return "validate_configuration"
	case StageArtifactResolved:
		return "resolve_artifact"
	case StageSubmitted:
		return "submit"
	case StageConfirmed:
		return "await_confirmation"
	default:
		return s.String()
	}
}

// failureName names the step that fails to reach s.
func (s Stage) failureName() string {
	switch s {
	case StageUnstarted:
		return "validate configuration"
	case StageArtifactResolved:
		return "resolve artifact"
	case StageSubmitted:
		return "submit creation transaction"
	case StageConfirmed:
		return "await confirmation"
	default:
		return s.String()
	}
}

// ProgressCallback is called on every stage transition.
type ProgressCallback func(stage Stage, message string)
