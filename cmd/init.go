package cmd

import (
	"fmt"

	"github.com/mainteno/fieldsync/internal/config"
	"github.com/mainteno/fieldsync/internal/queue"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the local queue store and config",
	RunE: func(cmd *cobra.Command, args []string) error {
		serverURL, _ := cmd.Flags().GetString("server")
		tenant, _ := cmd.Flags().GetString("tenant")

		store, err := queue.Open(baseDir)
		if err != nil {
			return fmt.Errorf("initialize store: %w", err)
		}
		defer store.Close()

		cfg, err := config.Load(baseDir)
		if err != nil {
			return err
		}
		if serverURL != "" {
			cfg.ServerURL = serverURL
		}
		if tenant != "" {
			cfg.TenantID = tenant
		}
		if err := config.Save(baseDir, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Printf("Initialized fieldsync in %s\n", config.Dir(baseDir))
		return nil
	},
}

func init() {
	initCmd.Flags().String("server", "", "Sync server URL")
	initCmd.Flags().String("tenant", "", "Tenant identifier")
	rootCmd.AddCommand(initCmd)
}
