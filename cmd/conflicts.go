package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List unresolved sync conflicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		conflicts := store.Conflicts()
		if len(conflicts) == 0 {
			fmt.Println("No unresolved conflicts.")
			return nil
		}

		fmt.Printf("Unresolved conflicts:\n")
		for _, c := range conflicts {
			fmt.Printf("  %s  %-6s %-30s %s\n",
				c.CreatedAt.Format("2006-01-02 15:04:05"), c.Method, c.Endpoint, c.ActionID)
			for _, d := range c.Diffs {
				fmt.Printf("      %s: local=%v server=%v\n", d.Field, d.Local, d.Server)
			}
			if len(c.Diffs) == 0 && c.Server == nil {
				fmt.Printf("      (server state could not be fetched)\n")
			}
		}
		fmt.Printf("\nResolve with: fieldsync conflicts resolve <action-id> --local|--server\n")
		return nil
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <action-id>",
	Short: "Resolve a conflict by keeping local or accepting server state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		useLocal, _ := cmd.Flags().GetBool("local")
		useServer, _ := cmd.Flags().GetBool("server")
		if useLocal == useServer {
			return fmt.Errorf("pass exactly one of --local or --server")
		}

		stack, err := buildStack()
		if err != nil {
			return err
		}
		defer stack.Close()

		if err := stack.resolver.Resolve(args[0], useLocal); err != nil {
			return err
		}

		if useLocal {
			fmt.Printf("Conflict %s resolved: local payload re-queued at the tail.\n", args[0])
		} else {
			fmt.Printf("Conflict %s resolved: server state accepted.\n", args[0])
		}
		return nil
	},
}

func init() {
	conflictsResolveCmd.Flags().Bool("local", false, "Re-queue the local payload as an explicit override")
	conflictsResolveCmd.Flags().Bool("server", false, "Accept the server state and discard the local change")
	conflictsCmd.AddCommand(conflictsResolveCmd)
	rootCmd.AddCommand(conflictsCmd)
}
