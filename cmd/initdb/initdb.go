package initdb

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lampwatch/lampwatch/internal/analysis"
	"github.com/lampwatch/lampwatch/internal/conf"
)

// Command migrates the ledger and optionally inserts sample rows.
func Command(settings *conf.Settings) *cobra.Command {
	var seed bool

	cmd := &cobra.Command{
		Use:   "initdb",
		Short: "Create or migrate the detection ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := analysis.InitDB(settings, seed)
			if err != nil {
				return err
			}
			if seed {
				fmt.Fprintf(cmd.OutOrStdout(), "ledger ready, %d sample rows added\n", n)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ledger ready")
			return nil
		},
	}

	cmd.Flags().BoolVar(&seed, "seed", false, "Insert sample history and lamp rows into empty tables")
	return cmd
}
