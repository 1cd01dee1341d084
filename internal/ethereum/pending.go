package ethereum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Bidon15/stakepool-deployer/internal/deployment"
)

var (
	// ErrReverted is returned when the creation transaction was mined with
	// a failed status.
	ErrReverted = errors.New("contract deployment reverted")

	// ErrNoCode is returned when the receipt names an address without code.
	ErrNoCode = errors.New("no contract code at deployed address")

	// ErrConfirmationTimeout is returned when the transaction is not mined
	// (or not deep enough) within the confirmation timeout.
	ErrConfirmationTimeout = errors.New("confirmation timed out")
)

// PendingDeployment is a sent creation transaction.
type PendingDeployment struct {
	tx      *types.Transaction
	backend Backend
	config  FactoryConfig
	logger  *slog.Logger
}

// TxHash returns the hash of the creation transaction.
func (p *PendingDeployment) TxHash() common.Hash {
	return p.tx.Hash()
}

// Transaction returns the signed creation transaction.
func (p *PendingDeployment) Transaction() *types.Transaction {
	return p.tx
}

// AwaitConfirmation blocks until the transaction is mined successfully,
// buried under the configured number of blocks and the contract code is
// present.
func (p *PendingDeployment) AwaitConfirmation(ctx context.Context) (*deployment.Confirmation, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.ConfirmationTimeout)
	defer cancel()

	p.logger.Info("waiting for confirmation",
		slog.String("tx_hash", p.tx.Hash().Hex()),
		slog.Duration("timeout", p.config.ConfirmationTimeout),
	)

	receipt, err := bind.WaitMined(ctx, p.backend, p.tx)
	if err != nil {
		return nil, p.waitError("wait for receipt", err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: tx %s in block %s", ErrReverted, p.tx.Hash().Hex(), receipt.BlockNumber)
	}

	if err := p.waitDepth(ctx, receipt.BlockNumber); err != nil {
		return nil, err
	}

	code, err := p.backend.CodeAt(ctx, receipt.ContractAddress, nil)
	if err != nil {
		return nil, fmt.Errorf("get code at %s: %w", receipt.ContractAddress.Hex(), err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoCode, receipt.ContractAddress.Hex())
	}

	p.logger.Info("contract confirmed",
		slog.String("address", receipt.ContractAddress.Hex()),
		slog.Uint64("block", receipt.BlockNumber.Uint64()),
		slog.Uint64("gas_used", receipt.GasUsed),
	)

	return &deployment.Confirmation{
		Address:     receipt.ContractAddress,
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}, nil
}

// waitDepth polls the chain head until the inclusion block has the required
// number of confirmations.
func (p *PendingDeployment) waitDepth(ctx context.Context, included *big.Int) error {
	if p.config.Confirmations <= 1 {
		return nil
	}
	target := new(big.Int).Add(included, new(big.Int).SetUint64(p.config.Confirmations-1))

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		head, err := p.backend.HeaderByNumber(ctx, nil)
		if err == nil && head.Number.Cmp(target) >= 0 {
			return nil
		}
		if err != nil && ctx.Err() == nil {
			p.logger.Debug("head lookup failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return p.waitError(fmt.Sprintf("wait for %d confirmations", p.config.Confirmations), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (p *PendingDeployment) waitError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w after %s: tx %s", op, ErrConfirmationTimeout, p.config.ConfirmationTimeout, p.tx.Hash().Hex())
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ deployment.PendingDeployment = (*PendingDeployment)(nil)
