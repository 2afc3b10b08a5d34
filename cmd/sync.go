package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Flush the queue against the server now",
	Long: `Attempt to drain the pending queue in enqueue order. A manual sync is
attempted even while offline and will simply fail per-item; failed actions
are rescheduled with backoff, conflicted ones land in the conflict list.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, err := buildStack()
		if err != nil {
			return err
		}
		defer stack.Close()

		before := stack.store.Len()
		if err := stack.engine.Flush(context.Background(), false); err != nil {
			return fmt.Errorf("flush: %w", err)
		}

		st := stack.engine.Status()
		fmt.Printf("Synced %d of %d action(s); %d pending, %d conflicted (%s)\n",
			before-st.Pending, before, st.Pending, st.Conflicted, st.State)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
