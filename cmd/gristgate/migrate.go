package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opentrusty/gristgate/internal/config"
	"github.com/opentrusty/gristgate/internal/store/postgres"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the audit event schema to AUDIT_DATABASE_URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Audit.DatabaseURL == "" {
				return errors.New("AUDIT_DATABASE_URL is required")
			}

			db, err := postgres.New(cmd.Context(), postgres.Config{
				URL:      cfg.Audit.DatabaseURL,
				MaxConns: cfg.Audit.MaxConns,
			})
			if err != nil {
				return err
			}
			defer db.Close()

			fmt.Fprintln(cmd.OutOrStdout(), "Applying audit schema...")
			if err := db.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migration successful.")
			return nil
		},
	}
}
