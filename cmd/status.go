package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/client-linker/internal/monitoring"
)

var statusOwner string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline health for an owner",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		staleAfter := time.Duration(cfg.Resolution.RecheckIntervalMins) * time.Minute
		snap, err := monitoring.NewCollector(st).Collect(cmd.Context(), statusOwner, staleAfter)
		if err != nil {
			return err
		}

		fmt.Printf("unlinked:         %d\n", snap.Unlinked)
		fmt.Printf("ai linked:        %d\n", snap.AILinked)
		fmt.Printf("manually linked:  %d\n", snap.ManuallyLinked)
		fmt.Printf("needs human:      %d", snap.NeedsHuman)
		if snap.StaleNeedsHuman > 0 {
			fmt.Printf("  (%d stale)", snap.StaleNeedsHuman)
		}
		fmt.Println()
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusOwner, "owner", "", "owner id")
	statusCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(statusCmd)
}
