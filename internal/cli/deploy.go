package cli

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/Bidon15/stakepool-deployer/internal/artifact"
	"github.com/Bidon15/stakepool-deployer/internal/config"
	"github.com/Bidon15/stakepool-deployer/internal/deployment"
	"github.com/Bidon15/stakepool-deployer/internal/ethereum"
	"github.com/Bidon15/stakepool-deployer/internal/metrics"
	"github.com/Bidon15/stakepool-deployer/internal/repository"
)

// metricsPushTimeout bounds the Pushgateway call at process end.
const metricsPushTimeout = 10 * time.Second

func newDeployCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the contract once and wait for confirmation",
		Long: `Submit one contract-creation transaction and wait until it is confirmed.

Every invocation deploys a new, independent contract instance. Nothing is
retried: any failure exits with status 1.

Examples:
  stakepool-deployer deploy --rpc-url http://localhost:8545

  # Override constructor arguments
  stakepool-deployer deploy --reward-rate 750 --withdrawal-period 3600

  # Sign through a remote eth_signTransaction gateway
  STAKEPOOL_SIGNER_API_KEY=... stakepool-deployer deploy \
    --signer remote --signer-endpoint https://signer.example.org \
    --signer-address 0xYourDeployer`,
		RunE: a.runDeploy,
	}

	addDeploymentFlags(cmd)
	addArtifactFlags(cmd)

	cmd.Flags().String("rpc-url", "", "JSON-RPC endpoint of the target network")
	cmd.Flags().Int64("chain-id", 0, "expected chain ID (0 = accept the node's)")
	cmd.Flags().Uint64("gas-limit", 0, "gas limit (0 = estimate)")
	cmd.Flags().String("gas-price", "", "gas price in wei (empty = node suggestion)")
	cmd.Flags().Uint64("confirmations", 1, "blocks of depth to wait for")
	cmd.Flags().Duration("timeout", 5*time.Minute, "confirmation timeout")
	cmd.Flags().String("signer", config.SignerLocal, "signer type: local, remote")
	cmd.Flags().String("signer-endpoint", "", "remote signer JSON-RPC URL")
	cmd.Flags().String("signer-address", "", "remote signer account address")
	cmd.Flags().String("pushgateway-url", "", "Prometheus Pushgateway URL")

	a.bindFlags(cmd, deploymentFlagKeys)
	a.bindFlags(cmd, artifactFlagKeys)
	a.bindFlags(cmd, map[string]string{
		"rpc-url":         "network.rpc_url",
		"chain-id":        "network.chain_id",
		"gas-limit":       "network.gas_limit",
		"gas-price":       "network.gas_price",
		"confirmations":   "network.confirmations",
		"timeout":         "network.confirmation_timeout",
		"signer":          "signer.type",
		"signer-endpoint": "signer.endpoint",
		"signer-address":  "signer.address",
		"pushgateway-url": "metrics.pushgateway_url",
	})
	return cmd
}

var deploymentFlagKeys = map[string]string{
	"artifact":          "deployment.artifact",
	"reward-rate":       "deployment.reward_rate",
	"withdrawal-period": "deployment.withdrawal_period",
	"vault":             "deployment.vault_address",
	"token":             "deployment.token_address",
}

var artifactFlagKeys = map[string]string{
	"artifacts-dir":   "artifacts.dir",
	"bundle-url":      "artifacts.bundle_url",
	"bundle-checksum": "artifacts.bundle_checksum",
}

func addDeploymentFlags(cmd *cobra.Command) {
	cmd.Flags().String("artifact", deployment.DefaultArtifactName, "contract artifact name")
	cmd.Flags().Uint64("reward-rate", 500, "reward rate constructor argument")
	cmd.Flags().Uint64("withdrawal-period", 30, "withdrawal period in seconds")
	cmd.Flags().String("vault", "", "vault address")
	cmd.Flags().String("token", "", "staking token address")
}

func addArtifactFlags(cmd *cobra.Command) {
	cmd.Flags().String("artifacts-dir", "./artifacts", "Hardhat or Foundry build output directory")
	cmd.Flags().String("bundle-url", "", "URL of a zipped artifact bundle (overrides --artifacts-dir)")
	cmd.Flags().String("bundle-checksum", "", "expected bundle digest, sha256:<hex>")
}

func (a *app) runDeploy(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := a.cfg

	backend, chainID, closeBackend, err := a.dial(ctx, cfg.Network.RPCURL, cfg.Network.ChainID, a.logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	signer, err := buildSigner(cfg.Signer, chainID)
	if err != nil {
		return err
	}

	factoryCfg, err := factoryConfig(cfg.Network)
	if err != nil {
		return err
	}
	factory := ethereum.NewFactory(a.artifactSource(cfg.Artifacts), backend, signer, factoryCfg, a.logger)

	history, closeHistory, err := a.openHistory(ctx, cfg.History, a.logger)
	if err != nil {
		// History is a journal; a broken database must not block a deployment.
		a.logger.Warn("deployment history unavailable", slog.String("error", err.Error()))
		history, closeHistory = repository.Nop{}, func() {}
	}
	defer closeHistory()

	orch := deployment.NewOrchestrator(factory, a.logger, deployment.OrchestratorConfig{
		ArtifactName: cfg.Deployment.Artifact,
		OnProgress:   a.printer.Progress,
	})

	dcfg := cfg.ToConfiguration()
	startedAt := time.Now()
	result, runErr := orch.Run(ctx, dcfg)
	finishedAt := time.Now()

	recorder := metrics.NewRecorder()
	recorder.ObserveRun(orch.ArtifactName(), result, runErr, finishedAt.Sub(startedAt))

	a.recordHistory(ctx, history, repository.RunInfo{
		Artifact:   orch.ArtifactName(),
		ChainID:    chainID.Int64(),
		Config:     dcfg,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}, result, runErr)
	a.pushMetrics(ctx, recorder, cfg.Metrics)

	if runErr != nil {
		return runErr
	}
	return a.printer.Deployment(result, chainID)
}

func (a *app) artifactSource(cfg config.ArtifactsConfig) artifact.Source {
	if cfg.BundleURL != "" {
		return artifact.NewBundleSource(artifact.BundleConfig{
			URL:      cfg.BundleURL,
			Checksum: cfg.BundleChecksum,
		}, a.logger)
	}
	return artifact.NewDirSource(cfg.Dir)
}

func buildSigner(cfg config.SignerConfig, chainID *big.Int) (ethereum.TransactionSigner, error) {
	switch cfg.Type {
	case config.SignerRemote:
		return ethereum.NewRemoteSigner(ethereum.RemoteSignerConfig{
			Endpoint: cfg.Endpoint,
			APIKey:   cfg.APIKey,
			Address:  common.HexToAddress(cfg.Address),
			ChainID:  chainID,
		})
	default:
		if cfg.PrivateKey == "" {
			return nil, fmt.Errorf("signer.private_key is required (set %s_SIGNER_PRIVATE_KEY)", config.EnvPrefix)
		}
		return ethereum.NewLocalSigner(cfg.PrivateKey, chainID.Int64())
	}
}

func factoryConfig(cfg config.NetworkConfig) (ethereum.FactoryConfig, error) {
	gasPrice, err := cfg.GasPriceWei()
	if err != nil {
		return ethereum.FactoryConfig{}, err
	}
	return ethereum.FactoryConfig{
		GasLimit:            cfg.GasLimit,
		GasPrice:            gasPrice,
		Confirmations:       cfg.Confirmations,
		ConfirmationTimeout: cfg.ConfirmationTimeout,
		PollInterval:        cfg.PollInterval,
	}, nil
}

func (a *app) recordHistory(ctx context.Context, history repository.Repository, info repository.RunInfo, result *deployment.Result, runErr error) {
	rec, err := repository.NewRecord(info, result, runErr)
	if err == nil {
		err = history.RecordDeployment(ctx, rec)
	}
	if err != nil {
		a.logger.Warn("failed to record deployment history", slog.String("error", err.Error()))
	}
}

func (a *app) pushMetrics(ctx context.Context, recorder *metrics.Recorder, cfg config.MetricsConfig) {
	if !cfg.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsPushTimeout)
	defer cancel()

	if err := recorder.Push(ctx, cfg.PushgatewayURL, cfg.Job); err != nil {
		a.logger.Warn("failed to push metrics", slog.String("error", err.Error()))
	}
}
