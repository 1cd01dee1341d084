package ethereum

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend is the subset of the JSON-RPC client the factory needs.
// *ethclient.Client and the simulated backend client both satisfy it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Dial connects to rpcURL. When expectedChainID is non-zero the node's
// chain ID must match it.
func Dial(ctx context.Context, rpcURL string, expectedChainID int64, logger *slog.Logger) (*ethclient.Client, *big.Int, error) {
	if rpcURL == "" {
		return nil, nil, fmt.Errorf("rpc url is required")
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", rpcURL, err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("get chain ID: %w", err)
	}

	if expectedChainID != 0 && chainID.Cmp(big.NewInt(expectedChainID)) != 0 {
		client.Close()
		return nil, nil, fmt.Errorf("chain ID mismatch: node reports %s, configured %d", chainID, expectedChainID)
	}

	if logger != nil {
		logger.Info("connected to network",
			slog.String("rpc_url", rpcURL),
			slog.String("chain_id", chainID.String()),
		)
	}
	return client, chainID, nil
}

// CheckBalance logs a warning when account holds no native balance. Only an
// RPC failure is returned as an error; the node rejects an unfunded
// deployment on its own.
func CheckBalance(ctx context.Context, backend Backend, account common.Address, logger *slog.Logger) (*big.Int, error) {
	balance, err := backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("get balance of %s: %w", account.Hex(), err)
	}
	if balance.Sign() == 0 && logger != nil {
		logger.Warn("deployer account has zero balance",
			slog.String("address", account.Hex()),
		)
	}
	return balance, nil
}
