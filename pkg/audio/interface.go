package audio

import (
	"time"

	"github.com/eternnoir/chunkscribe/pkg/pipeline"
	"github.com/eternnoir/chunkscribe/pkg/planner"
)

// AudioInfo contains metadata about an audio file.
type AudioInfo struct {
	FilePath   string
	Duration   time.Duration
	SampleRate int
	Channels   int
	BitRate    int
	Size       int64
}

// DurationMs returns the duration in original-timeline milliseconds.
func (i *AudioInfo) DurationMs() int64 {
	return i.Duration.Milliseconds()
}

// Prober extracts metadata from an audio file.
type Prober interface {
	Probe(filePath string) (*AudioInfo, error)
}

// SilenceDetector finds silence intervals in an audio file. The planner
// treats it as a black-box boundary detector.
type SilenceDetector interface {
	DetectSilence(filePath string) ([]planner.SilenceInterval, error)
}

// Extractor cuts the physical audio for one chunk descriptor, including
// its overlap padding.
type Extractor interface {
	ExtractChunk(sourcePath string, descriptor pipeline.ChunkDescriptor, outputPath string) error
}
