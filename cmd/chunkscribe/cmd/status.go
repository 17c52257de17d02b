package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eternnoir/chunkscribe/pkg/state"
)

// statusCmd shows the chunk statuses of a conversation.
var statusCmd = &cobra.Command{
	Use:   "status [conversation-id]",
	Short: "Show chunk statuses for a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	conv, err := store.GetConversation(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Conversation: %s\n", conv.ID)
	fmt.Printf("  mode:      %s\n", conv.Mode)
	fmt.Printf("  status:    %s\n", conv.Status)
	fmt.Printf("  progress:  %d/%d chunks complete\n", conv.CompletedChunks, conv.TotalChunks)
	if conv.MergedAt != nil {
		fmt.Printf("  merged at: %s\n", conv.MergedAt.Format("2006-01-02 15:04:05"))
	}
	if conv.Error != "" {
		fmt.Printf("  error:     %s\n", conv.Error)
	}

	for _, c := range conv.Chunks {
		line := fmt.Sprintf("  chunk %d: %s", c.ChunkIndex, c.State)
		if c.RetryCount > 0 {
			line += fmt.Sprintf(" (retries: %d)", c.RetryCount)
		}
		if c.Error != "" {
			line += fmt.Sprintf(" error: %s", c.Error)
		}
		fmt.Println(line)
	}

	return nil
}
