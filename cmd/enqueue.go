package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/mainteno/fieldsync/internal/queue"
	"github.com/spf13/cobra"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <create|update|delete> <endpoint>",
	Short: "Queue a mutation for delivery",
	Long: `Queue a mutation for later delivery. The payload is an opaque JSON
object; fieldsync does not validate entity shapes.

  fieldsync enqueue update /assets/1 --data '{"id":"1","name":"Pump A"}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		method := queue.Method(args[0])
		switch method {
		case queue.MethodCreate, queue.MethodUpdate, queue.MethodDelete:
		default:
			return fmt.Errorf("method must be create, update, or delete (got %q)", args[0])
		}

		data, _ := cmd.Flags().GetString("data")
		payload := map[string]any{}
		if data != "" {
			if err := json.Unmarshal([]byte(data), &payload); err != nil {
				return fmt.Errorf("parse --data: %w", err)
			}
		}

		entityType, _ := cmd.Flags().GetString("entity-type")
		entityID, _ := cmd.Flags().GetString("entity-id")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		a, err := store.Enqueue(queue.Action{
			Method:     method,
			Endpoint:   args[1],
			Payload:    payload,
			EntityType: entityType,
			EntityID:   entityID,
		})
		if err != nil {
			return fmt.Errorf("enqueue: %w", err)
		}

		fmt.Printf("Queued %s %s (id %s, position %d)\n", a.Method, a.Endpoint, a.ID, store.Len())
		return nil
	},
}

func init() {
	enqueueCmd.Flags().String("data", "", "Mutation payload as a JSON object")
	enqueueCmd.Flags().String("entity-type", "", "Entity type label for conflict grouping")
	enqueueCmd.Flags().String("entity-id", "", "Entity id label for conflict grouping")
	rootCmd.AddCommand(enqueueCmd)
}
