package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue counts and sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, err := buildStack()
		if err != nil {
			return err
		}
		defer stack.Close()

		st := stack.engine.Status()
		fmt.Printf("State:      %s\n", st.State)
		fmt.Printf("Pending:    %d\n", st.Pending)
		fmt.Printf("Conflicted: %d\n", st.Conflicted)
		fmt.Printf("Processed:  %d\n", st.Processed)

		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			for i, a := range stack.store.Actions() {
				retry := ""
				if a.NextAttemptAt != nil {
					retry = fmt.Sprintf("  retry at %s (attempt %d)",
						a.NextAttemptAt.Format(time.RFC3339), a.Attempts)
				}
				fmt.Printf("  %2d. %-6s %-30s %s%s\n", i+1, a.Method, a.Endpoint, a.ID, retry)
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolP("verbose", "v", false, "List queued actions")
	rootCmd.AddCommand(statusCmd)
}
