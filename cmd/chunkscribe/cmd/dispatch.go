package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eternnoir/chunkscribe/pkg/coordinator"
	"github.com/eternnoir/chunkscribe/pkg/dispatch"
	"github.com/eternnoir/chunkscribe/pkg/planner"
	"github.com/eternnoir/chunkscribe/pkg/state"
)

var dispatchEndpoint string

// dispatchCmd posts the chunk task payloads of a planned conversation to a
// worker endpoint. Delivery is at least once; workers absorb replays.
var dispatchCmd = &cobra.Command{
	Use:   "dispatch [conversation-id]",
	Short: "Dispatch chunk tasks of a planned conversation to a worker endpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runDispatch,
}

func init() {
	dispatchCmd.Flags().StringVar(&dispatchEndpoint, "endpoint", "", "worker endpoint URL (overrides dispatch.endpoint)")
	rootCmd.AddCommand(dispatchCmd)
}

func runDispatch(cmd *cobra.Command, args []string) error {
	conversationID := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	endpoint := cfg.Dispatch.Endpoint
	if dispatchEndpoint != "" {
		endpoint = dispatchEndpoint
	}
	if endpoint == "" {
		return fmt.Errorf("no worker endpoint configured; set dispatch.endpoint or --endpoint")
	}

	store, err := state.NewStore(cfg.Store.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	conv, err := store.GetConversation(conversationID)
	if err != nil {
		return err
	}

	coord := coordinator.NewCoordinator(
		planner.NewPlanner(plannerOptions(cfg)),
		store, nil, nil,
		coordinator.Options{},
	)

	dispatcher := dispatch.NewHTTPDispatcher(nil, dispatch.Backoff{
		MaxAttempts: cfg.Dispatch.MaxAttempts,
		BaseDelay:   cfg.Dispatch.BaseDelay,
		MaxDelay:    cfg.Dispatch.MaxDelay,
	})

	payloads := coord.TaskPayloads(conv)
	for _, payload := range payloads {
		if err := dispatcher.Dispatch(cmd.Context(), endpoint, payload, 0); err != nil {
			return fmt.Errorf("failed to dispatch %s task for %s: %w", payload.Kind, conversationID, err)
		}
	}

	fmt.Printf("Dispatched %d task(s) for %s to %s\n", len(payloads), conversationID, endpoint)
	return nil
}
