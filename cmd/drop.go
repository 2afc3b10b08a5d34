package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var dropCmd = &cobra.Command{
	Use:   "drop <action-id>",
	Short: "Remove a queued action before it is attempted",
	Long: `Remove a pending action from the queue. There is no mid-flight
cancellation; dropping only prevents future attempts.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		removed, err := store.Remove(args[0])
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("no queued action with id %s", args[0])
		}
		fmt.Printf("Dropped %s; %d action(s) remain.\n", args[0], store.Len())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dropCmd)
}
