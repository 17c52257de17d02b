package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/eternnoir/chunkscribe/pkg/logger"
	"github.com/eternnoir/chunkscribe/pkg/pipeline"
)

// ExtractorImpl implements the Extractor interface with ffmpeg.
type ExtractorImpl struct{}

// NewExtractor creates a new chunk extractor.
func NewExtractor() *ExtractorImpl {
	return &ExtractorImpl{}
}

// ExtractChunk cuts the descriptor's physical extraction window, overlap
// padding included, into outputPath as MP3.
func (e *ExtractorImpl) ExtractChunk(sourcePath string, descriptor pipeline.ChunkDescriptor, outputPath string) error {
	log := logger.WithComponent("chunk-extractor").
		WithField("source", filepath.Base(sourcePath)).
		WithField("chunk_index", descriptor.ChunkIndex)

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	start := time.Duration(descriptor.ExtractStartMs()) * time.Millisecond
	duration := time.Duration(descriptor.ExtractDurationMs()) * time.Millisecond

	log.Debug().
		Dur("start", start).
		Dur("duration", duration).
		Str("output", outputPath).
		Msg("Extracting chunk audio")

	stream := ffmpeg.Input(sourcePath, ffmpeg.KwArgs{
		"ss": formatTimestamp(start),
		"t":  formatTimestamp(duration),
	}).Output(outputPath, ffmpeg.KwArgs{
		"acodec": "libmp3lame",
		"ab":     "192k",
		"ar":     "44100",
		"ac":     "2",
	})

	if err := stream.OverWriteOutput().ErrorToStdOut().Run(); err != nil {
		return fmt.Errorf("ffmpeg chunk extraction failed: %w", err)
	}

	return nil
}

// formatTimestamp formats a duration as HH:MM:SS.mmm for ffmpeg.
func formatTimestamp(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	milliseconds := int(d.Milliseconds()) % 1000

	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, milliseconds)
}
