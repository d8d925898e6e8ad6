package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/sessionstate/pkg/logger"
)

func newPingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check connectivity to the configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.backend.ping(cmd.Context()); err != nil {
				return fmt.Errorf("ping %s: %w", a.backend.name, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", a.backend.name)
			return nil
		},
	}
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the backend schema (postgres table, mongo indexes)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.backend.migrate == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: nothing to migrate\n", a.backend.name)
				return nil
			}
			if err := a.backend.migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate %s: %w", a.backend.name, err)
			}
			a.log.InfoContext(cmd.Context(), "backend migrated", logger.Backend(a.backend.name))
			fmt.Fprintf(cmd.OutOrStdout(), "%s: migrated\n", a.backend.name)
			return nil
		},
	}
}
