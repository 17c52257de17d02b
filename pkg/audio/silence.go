package audio

import (
	"bytes"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/eternnoir/chunkscribe/pkg/logger"
	"github.com/eternnoir/chunkscribe/pkg/planner"
)

// SilenceOptions controls the silencedetect filter.
type SilenceOptions struct {
	// NoiseDB is the noise tolerance threshold in dB (negative).
	NoiseDB float64
	// MinDuration is the minimum silence length to report.
	MinDuration time.Duration
}

// DefaultSilenceOptions returns the detection defaults.
func DefaultSilenceOptions() SilenceOptions {
	return SilenceOptions{
		NoiseDB:     -30,
		MinDuration: 500 * time.Millisecond,
	}
}

// SilenceDetectorImpl implements the SilenceDetector interface with
// ffmpeg's silencedetect filter.
type SilenceDetectorImpl struct {
	opts SilenceOptions
}

// NewSilenceDetector creates a detector with the given options.
func NewSilenceDetector(opts SilenceOptions) *SilenceDetectorImpl {
	if opts.NoiseDB == 0 {
		opts.NoiseDB = DefaultSilenceOptions().NoiseDB
	}
	if opts.MinDuration <= 0 {
		opts.MinDuration = DefaultSilenceOptions().MinDuration
	}
	return &SilenceDetectorImpl{opts: opts}
}

// DetectSilence runs silencedetect over the whole file and returns the
// reported intervals in timeline order.
func (d *SilenceDetectorImpl) DetectSilence(filePath string) ([]planner.SilenceInterval, error) {
	log := logger.WithComponent("silence-detector").WithField("file", filepath.Base(filePath))

	filter := fmt.Sprintf("silencedetect=noise=%gdB:d=%g", d.opts.NoiseDB, d.opts.MinDuration.Seconds())
	log.Debug().Str("filter", filter).Msg("Running silence detection")

	var stderr bytes.Buffer
	err := ffmpeg.Input(filePath).
		Output("-", ffmpeg.KwArgs{
			"af": filter,
			"f":  "null",
		}).
		WithErrorOutput(&stderr).
		Run()
	if err != nil {
		return nil, fmt.Errorf("silence detection failed: %w", err)
	}

	intervals, err := parseSilenceOutput(stderr.String())
	if err != nil {
		return nil, fmt.Errorf("failed to parse silencedetect output: %w", err)
	}

	log.Info().Int("interval_count", len(intervals)).Msg("Silence detection completed")
	return intervals, nil
}

var (
	silenceStartRe = regexp.MustCompile(`silence_start:\s*(-?[0-9.]+)`)
	silenceEndRe   = regexp.MustCompile(`silence_end:\s*(-?[0-9.]+)`)
)

// parseSilenceOutput extracts silence intervals from ffmpeg stderr lines:
//
//	[silencedetect @ 0x...] silence_start: 123.456
//	[silencedetect @ 0x...] silence_end: 125.0 | silence_duration: 1.544
//
// A trailing silence_start without a matching end (silence running to EOF)
// is dropped; the planner has no use for an open interval.
func parseSilenceOutput(output string) ([]planner.SilenceInterval, error) {
	starts := silenceStartRe.FindAllStringSubmatch(output, -1)
	ends := silenceEndRe.FindAllStringSubmatch(output, -1)

	var intervals []planner.SilenceInterval
	for i, end := range ends {
		if i >= len(starts) {
			return nil, fmt.Errorf("silence_end without silence_start at index %d", i)
		}
		startSec, err := strconv.ParseFloat(starts[i][1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid silence_start %q: %w", starts[i][1], err)
		}
		endSec, err := strconv.ParseFloat(end[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid silence_end %q: %w", end[1], err)
		}
		if startSec < 0 {
			startSec = 0
		}
		if endSec <= startSec {
			continue
		}
		intervals = append(intervals, planner.SilenceInterval{
			StartMs: int64(startSec * 1000),
			EndMs:   int64(endSec * 1000),
		})
	}

	return intervals, nil
}
