package ethereum

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Bidon15/stakepool-deployer/internal/artifact"
	"github.com/Bidon15/stakepool-deployer/internal/deployment"
)

const (
	// DefaultFallbackGasLimit is used when gas estimation fails.
	DefaultFallbackGasLimit uint64 = 6_000_000

	// DefaultConfirmationTimeout bounds AwaitConfirmation.
	DefaultConfirmationTimeout = 5 * time.Minute

	// DefaultPollInterval is the head polling interval while waiting for depth.
	DefaultPollInterval = 2 * time.Second

	gasLimitBufferPercent = 120
	gasPriceBoostPercent  = 150
)

// MinGasPrice is the floor applied to suggested gas prices (2 gwei).
var MinGasPrice = big.NewInt(2_000_000_000)

// stakingPoolInputs is the constructor arity the binding encodes.
const stakingPoolInputs = 4

// FactoryConfig holds the transaction and confirmation settings.
type FactoryConfig struct {
	// GasLimit overrides estimation when non-zero.
	GasLimit uint64
	// GasPrice overrides the suggested price when non-nil.
	GasPrice *big.Int
	// FallbackGasLimit is used when estimation fails (default: 6M).
	FallbackGasLimit uint64
	// Confirmations is the required block depth, including the inclusion
	// block (default: 1).
	Confirmations uint64
	// ConfirmationTimeout bounds the whole confirmation wait (default: 5m).
	ConfirmationTimeout time.Duration
	// PollInterval is how often the head is polled for depth (default: 2s).
	PollInterval time.Duration
}

// Factory resolves artifacts into deployable bindings.
type Factory struct {
	source  artifact.Source
	backend Backend
	signer  TransactionSigner
	config  FactoryConfig
	logger  *slog.Logger
}

// NewFactory creates a new Factory.
func NewFactory(source artifact.Source, backend Backend, signer TransactionSigner, cfg FactoryConfig, logger *slog.Logger) *Factory {
	if cfg.FallbackGasLimit == 0 {
		cfg.FallbackGasLimit = DefaultFallbackGasLimit
	}
	if cfg.Confirmations == 0 {
		cfg.Confirmations = 1
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = DefaultConfirmationTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		source:  source,
		backend: backend,
		signer:  signer,
		config:  cfg,
		logger:  logger,
	}
}

// Config returns the effective configuration after defaults.
func (f *Factory) Config() FactoryConfig {
	return f.config
}

// Resolve loads the named artifact and checks it can be deployed with the
// StakingPool constructor.
func (f *Factory) Resolve(ctx context.Context, name string) (deployment.Binding, error) {
	art, err := f.source.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load artifact: %w", err)
	}

	contractABI, err := art.ParseABI()
	if err != nil {
		return nil, fmt.Errorf("parse ABI of %s: %w", name, err)
	}
	if n := len(contractABI.Constructor.Inputs); n != stakingPoolInputs {
		return nil, fmt.Errorf("artifact %s constructor takes %d inputs, want %d", name, n, stakingPoolInputs)
	}

	bytecode, err := art.CreationBytecode()
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", name, err)
	}

	f.logger.Debug("artifact resolved",
		slog.String("artifact", name),
		slog.String("source", art.SourceName),
		slog.Int("bytecode_size", len(bytecode)),
	)

	return &Binding{
		factory:  f,
		name:     name,
		abi:      contractABI,
		bytecode: bytecode,
	}, nil
}

// Binding is a resolved artifact ready for deployment.
type Binding struct {
	factory  *Factory
	name     string
	abi      abi.ABI
	bytecode []byte
}

// Name returns the artifact name.
func (b *Binding) Name() string {
	return b.name
}

// DeployData returns creation bytecode with the ABI-encoded constructor
// arguments appended.
func (b *Binding) DeployData(rewardRate, withdrawalPeriod uint64, vault, token common.Address) ([]byte, error) {
	encoded, err := b.abi.Pack("",
		new(big.Int).SetUint64(rewardRate),
		new(big.Int).SetUint64(withdrawalPeriod),
		vault,
		token,
	)
	if err != nil {
		return nil, fmt.Errorf("encode constructor args: %w", err)
	}

	data := make([]byte, 0, len(b.bytecode)+len(encoded))
	data = append(data, b.bytecode...)
	return append(data, encoded...), nil
}

// Deploy signs and sends one contract-creation transaction. It never
// retries a send.
func (b *Binding) Deploy(ctx context.Context, rewardRate, withdrawalPeriod uint64, vault, token common.Address) (deployment.PendingDeployment, error) {
	f := b.factory
	from := f.signer.Address()

	data, err := b.DeployData(rewardRate, withdrawalPeriod, vault, token)
	if err != nil {
		return nil, err
	}

	chainID, err := f.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chain ID: %w", err)
	}
	if chainID.Cmp(f.signer.ChainID()) != 0 {
		return nil, fmt.Errorf("signer chain ID %s does not match network chain ID %s", f.signer.ChainID(), chainID)
	}

	if _, err := CheckBalance(ctx, f.backend, from, f.logger); err != nil {
		return nil, err
	}

	nonce, err := f.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("get nonce: %w", err)
	}

	gasPrice, err := f.gasPrice(ctx)
	if err != nil {
		return nil, err
	}

	gasLimit := f.gasLimit(ctx, from, gasPrice, data)

	tx := types.NewContractCreation(nonce, big.NewInt(0), gasLimit, gasPrice, data)

	signedTx, err := f.signer.SignTransaction(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	if err := f.backend.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("send transaction: %w", err)
	}

	f.logger.Info("creation transaction sent",
		slog.String("artifact", b.name),
		slog.String("tx_hash", signedTx.Hash().Hex()),
		slog.String("from", from.Hex()),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas_limit", gasLimit),
		slog.String("gas_price", gasPrice.String()),
	)

	return &PendingDeployment{
		tx:      signedTx,
		backend: f.backend,
		config:  f.config,
		logger:  f.logger,
	}, nil
}

// gasPrice returns the configured price, or the suggested price boosted by
// 50% and floored at MinGasPrice.
func (f *Factory) gasPrice(ctx context.Context) (*big.Int, error) {
	if f.config.GasPrice != nil {
		return new(big.Int).Set(f.config.GasPrice), nil
	}

	suggested, err := f.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get gas price: %w", err)
	}
	return boostGasPrice(suggested), nil
}

func boostGasPrice(suggested *big.Int) *big.Int {
	price := new(big.Int).Mul(suggested, big.NewInt(gasPriceBoostPercent))
	price.Div(price, big.NewInt(100))
	if price.Cmp(MinGasPrice) < 0 {
		price.Set(MinGasPrice)
	}
	return price
}

// gasLimit returns the configured limit, or the estimate plus a 20% buffer.
// A failed estimate falls back to FallbackGasLimit (buffered the same way);
// the node still gets to reject the transaction.
func (f *Factory) gasLimit(ctx context.Context, from common.Address, gasPrice *big.Int, data []byte) uint64 {
	if f.config.GasLimit != 0 {
		return f.config.GasLimit
	}

	estimated, err := f.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     from,
		To:       nil,
		GasPrice: gasPrice,
		Value:    big.NewInt(0),
		Data:     data,
	})
	if err != nil {
		estimated = f.config.FallbackGasLimit
		f.logger.Warn("gas estimation failed, using default",
			slog.Uint64("gas_limit", estimated),
			slog.String("error", err.Error()),
		)
	}
	return estimated * gasLimitBufferPercent / 100
}

var (
	_ deployment.Factory = (*Factory)(nil)
	_ deployment.Binding = (*Binding)(nil)
)
