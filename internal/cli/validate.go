package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Bidon15/stakepool-deployer/internal/artifact"
	"github.com/Bidon15/stakepool-deployer/internal/deployment"
	"github.com/Bidon15/stakepool-deployer/internal/ethereum"
)

func newValidateCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check configuration and artifact without touching the network",
		Long: `Validate the deployment configuration and resolve the contract artifact.

No RPC connection is made and no transaction is signed.

Examples:
  stakepool-deployer validate
  stakepool-deployer validate --artifacts-dir ./out -o json`,
		RunE: a.runValidate,
	}

	addDeploymentFlags(cmd)
	addArtifactFlags(cmd)
	a.bindFlags(cmd, deploymentFlagKeys)
	a.bindFlags(cmd, artifactFlagKeys)
	return cmd
}

func (a *app) runValidate(cmd *cobra.Command, _ []string) error {
	cfg := a.cfg

	dcfg := cfg.ToConfiguration()
	if err := dcfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", deployment.ErrInvalidConfiguration, err)
	}

	source := a.artifactSource(cfg.Artifacts)
	factory := ethereum.NewFactory(source, nil, nil, ethereum.FactoryConfig{}, a.logger)
	if _, err := factory.Resolve(cmd.Context(), cfg.Deployment.Artifact); err != nil {
		return fmt.Errorf("%w: %s: %w", deployment.ErrArtifactResolution, cfg.Deployment.Artifact, err)
	}

	return a.printer.Validation(validationReport{
		Valid:            true,
		Artifact:         cfg.Deployment.Artifact,
		ArtifactSource:   artifactLocation(source),
		RewardRate:       dcfg.RewardRate,
		WithdrawalPeriod: dcfg.WithdrawalPeriod,
		VaultAddress:     dcfg.VaultAddress.Hex(),
		TokenAddress:     dcfg.TokenAddress.Hex(),
		RPCURL:           cfg.Network.RPCURL,
	})
}

func artifactLocation(source artifact.Source) string {
	switch s := source.(type) {
	case *artifact.DirSource:
		return s.Root()
	case *artifact.BundleSource:
		return s.URL()
	}
	return ""
}
