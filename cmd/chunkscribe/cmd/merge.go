package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eternnoir/chunkscribe/pkg/merge"
	"github.com/eternnoir/chunkscribe/pkg/state"
)

var mergeOutput string

// mergeCmd runs (or retries) the merge step for a conversation whose
// chunks are all complete. The operation is idempotent; re-running over a
// committed merge is a no-op.
var mergeCmd = &cobra.Command{
	Use:   "merge [conversation-id]",
	Short: "Merge completed chunk artifacts into the final transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runMerge,
}

func init() {
	mergeCmd.Flags().StringVarP(&mergeOutput, "output", "o", "", "write the merged transcript as JSON to this file")
	rootCmd.AddCommand(mergeCmd)
}

func runMerge(cmd *cobra.Command, args []string) error {
	conversationID := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := state.NewStore(cfg.Store.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	if err := merge.NewMerger(store).MergeChunks(conversationID); err != nil {
		return err
	}

	transcript, err := store.GetTranscript(conversationID)
	if err != nil {
		return err
	}

	fmt.Printf("Merged %s: %d segments, %d speakers, %d chunks\n",
		conversationID, len(transcript.Segments), len(transcript.Speakers), transcript.ChunkCount)

	if mergeOutput != "" {
		data, err := json.MarshalIndent(transcript, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal transcript: %w", err)
		}
		if err := os.WriteFile(mergeOutput, data, 0o644); err != nil {
			return fmt.Errorf("failed to write transcript: %w", err)
		}
		fmt.Printf("Transcript written to %s\n", mergeOutput)
	}

	return nil
}
