package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/eternnoir/chunkscribe/pkg/audio"
	"github.com/eternnoir/chunkscribe/pkg/config"
	"github.com/eternnoir/chunkscribe/pkg/coordinator"
	"github.com/eternnoir/chunkscribe/pkg/logger"
	"github.com/eternnoir/chunkscribe/pkg/pipeline"
	"github.com/eternnoir/chunkscribe/pkg/planner"
	"github.com/eternnoir/chunkscribe/pkg/state"
)

var (
	planExtractDir string
)

// planCmd probes a recording, detects silence and persists a chunk plan.
var planCmd = &cobra.Command{
	Use:   "plan [audio-file]",
	Short: "Plan chunk boundaries for a recording",
	Long: `Probe the recording, detect silence intervals and compute overlap-padded
chunk boundaries. The resulting conversation record is persisted in the
state database with all chunks pending.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planExtractDir, "extract-dir", "", "also extract per-chunk audio files into this directory")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	sourcePath := args[0]
	log := logger.WithComponent("cli").WithField("file", filepath.Base(sourcePath))

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	info, err := audio.NewProber().Probe(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to probe %s: %w", sourcePath, err)
	}

	detector := audio.NewSilenceDetector(audio.SilenceOptions{
		NoiseDB:     cfg.Silence.NoiseDB,
		MinDuration: time.Duration(cfg.Silence.MinDurationMs) * time.Millisecond,
	})
	silences, err := detector.DetectSilence(sourcePath)
	if err != nil {
		return fmt.Errorf("silence detection failed: %w", err)
	}

	store, err := state.NewStore(cfg.Store.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	coord := coordinator.NewCoordinator(
		planner.NewPlanner(plannerOptions(cfg)),
		store, nil, nil,
		coordinator.Options{},
	)

	conv, err := coord.StartConversation(sourcePath, info.DurationMs(), silences, pipeline.ProcessingMode(cfg.Pipeline.Mode))
	if err != nil {
		return err
	}

	fmt.Printf("Conversation: %s (%s mode, %d chunks)\n", conv.ID, conv.Mode, conv.TotalChunks)
	for _, d := range conv.Descriptors {
		fmt.Printf("  chunk %d: [%s - %s) overlap -%s/+%s\n",
			d.ChunkIndex,
			formatMs(d.StartMs), formatMs(d.EndMs),
			formatMs(d.OverlapBeforeMs), formatMs(d.OverlapAfterMs))
	}

	if planExtractDir != "" {
		extractor := audio.NewExtractor()
		for _, d := range conv.Descriptors {
			out := filepath.Join(planExtractDir, fmt.Sprintf("%s_chunk_%03d.mp3", conv.ID, d.ChunkIndex))
			if err := extractor.ExtractChunk(sourcePath, d, out); err != nil {
				return fmt.Errorf("failed to extract chunk %d: %w", d.ChunkIndex, err)
			}
			log.Info().Int("chunk_index", d.ChunkIndex).Str("output", out).Msg("Chunk audio extracted")
		}
	}

	return nil
}

func plannerOptions(cfg *config.Config) planner.Options {
	return planner.Options{
		TargetChunkMs: int64(cfg.Planner.TargetChunkMinutes) * 60_000,
		MaxChunkMs:    int64(cfg.Planner.MaxChunkMinutes) * 60_000,
		ThresholdMs:   int64(cfg.Planner.ThresholdMinutes) * 60_000,
		SearchSlackMs: int64(cfg.Planner.SearchSlackSeconds) * 1000,
		OverlapMs:     int64(cfg.Planner.OverlapSeconds) * 1000,
	}
}

func formatMs(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}
