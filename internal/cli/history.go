package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Bidon15/stakepool-deployer/internal/pkg/ulid"
	"github.com/Bidon15/stakepool-deployer/internal/repository"
)

func newHistoryCommand(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded deployments",
		Long: `List past runs from the deployment history database, newest first.

Requires history.dsn (or DATABASE_URL) to be set.

Examples:
  stakepool-deployer history
  stakepool-deployer history --limit 5 -o json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runHistory(cmd, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", repository.DefaultListLimit, "maximum number of deployments to list")
	cmd.AddCommand(newHistoryShowCommand(a))
	return cmd
}

func newHistoryShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one recorded deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !ulid.IsValid(args[0]) {
				return fmt.Errorf("invalid run ID %q", args[0])
			}
			return a.withHistory(cmd, func(repo repository.Repository) error {
				rec, err := repo.GetDeploymentByRunID(cmd.Context(), args[0])
				if errors.Is(err, repository.ErrNotFound) {
					return fmt.Errorf("no deployment recorded for run %s", args[0])
				}
				if err != nil {
					return err
				}
				return a.printer.Record(rec)
			})
		},
	}
}

func (a *app) runHistory(cmd *cobra.Command, limit int) error {
	return a.withHistory(cmd, func(repo repository.Repository) error {
		records, err := repo.ListDeployments(cmd.Context(), limit)
		if err != nil {
			return err
		}
		return a.printer.History(records)
	})
}

// withHistory opens the history database for the duration of fn.
func (a *app) withHistory(cmd *cobra.Command, fn func(repository.Repository) error) error {
	if !a.cfg.History.Enabled() {
		return errors.New("history.dsn is not configured")
	}

	repo, closeRepo, err := a.openHistory(cmd.Context(), a.cfg.History, a.logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	return fn(repo)
}
