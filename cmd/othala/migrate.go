package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/othala-run/othala/pkg/store"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbCfg, err := store.LoadConfigFromEnv()
			if err != nil {
				return fmt.Errorf("load db config: %w", err)
			}
			st, err := store.Open(cmd.Context(), dbCfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			if err := st.Migrate(); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}
