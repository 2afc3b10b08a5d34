package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/mainteno/fieldsync/internal/config"
	"github.com/mainteno/fieldsync/internal/queue"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch connectivity and flush automatically when online",
	Long: `Run the connectivity monitor in the foreground. Each offline-to-online
transition triggers exactly one automatic flush; new conflicts are printed
as they are surfaced. Stop with Ctrl-C.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, err := buildStack()
		if err != nil {
			return err
		}
		defer stack.Close()

		cancelConn := stack.monitor.Subscribe(func(online bool) {
			if online {
				fmt.Println("Online: flushing queue")
			} else {
				fmt.Println("Offline: queueing locally")
			}
		})
		defer cancelConn()

		cancelConf := stack.registry.Subscribe(func(c queue.Conflict) {
			fmt.Printf("Conflict on %s %s (%d field(s) diverged); resolve with: fieldsync conflicts resolve %s\n",
				c.Method, c.Endpoint, len(c.Diffs), c.ActionID)
		})
		defer cancelConf()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		interval := config.WatchInterval()
		fmt.Printf("Watching connectivity (probe every %s)\n", interval)
		stack.monitor.Run(ctx, interval)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
