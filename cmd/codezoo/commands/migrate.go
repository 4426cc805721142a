package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codezoo/codezoo/internal/store"
)

func newMigrateCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := root.loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if n == 0 {
				fmt.Fprintf(out, "Database is up to date (schema version %d)\n", store.SchemaVersion())
				return nil
			}
			fmt.Fprintln(out, okStyle.Render(fmt.Sprintf("Applied %d migration(s), schema version %d", n, store.SchemaVersion())))
			return nil
		},
	}
}
