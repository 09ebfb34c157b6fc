package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/arkantrust/geocrud-api/config"
	"github.com/arkantrust/geocrud-api/store"
)

func newMigrateCommand(_ io.Reader, _, stderr io.Writer) *cobra.Command {
	cfg := config.New()
	cfg.Store = config.StorePostgres
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL schema migrations.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Store != config.StorePostgres {
				return fmt.Errorf("migrate only applies to the %s store", config.StorePostgres)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return store.Migrate(cfg, config.SetupLogger(cfg, stderr))
		},
	}
	cfg.StoreFlags(migrateCmd.Flags())
	return migrateCmd
}
