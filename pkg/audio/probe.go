package audio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/eternnoir/chunkscribe/pkg/logger"
)

// ProberImpl implements the Prober interface using ffprobe.
type ProberImpl struct{}

// NewProber creates a new audio prober.
func NewProber() *ProberImpl {
	return &ProberImpl{}
}

// Probe extracts metadata from an audio file.
func (p *ProberImpl) Probe(filePath string) (*AudioInfo, error) {
	log := logger.WithComponent("audio-prober").WithField("file", filepath.Base(filePath))

	stat, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("file does not exist: %s", filePath)
	}

	log.Debug().Msg("Probing file with ffprobe")
	raw, err := ffmpeg.Probe(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to probe file: %w", err)
	}

	info := &AudioInfo{
		FilePath: filePath,
		Size:     stat.Size(),
	}
	if err := parseProbeOutput(raw, info); err != nil {
		return nil, fmt.Errorf("failed to parse probe output: %w", err)
	}

	log.Debug().
		Dur("duration", info.Duration).
		Int("sample_rate", info.SampleRate).
		Int("channels", info.Channels).
		Msg("Audio information extracted")

	return info, nil
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
}

func parseProbeOutput(raw string, info *AudioInfo) error {
	var out probeOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return fmt.Errorf("invalid ffprobe json: %w", err)
	}

	if out.Format.Duration == "" {
		return fmt.Errorf("probe output has no duration")
	}
	seconds, err := strconv.ParseFloat(out.Format.Duration, 64)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", out.Format.Duration, err)
	}
	info.Duration = time.Duration(seconds * float64(time.Second))

	if out.Format.BitRate != "" {
		if bitRate, err := strconv.Atoi(out.Format.BitRate); err == nil {
			info.BitRate = bitRate
		}
	}

	for _, stream := range out.Streams {
		if stream.CodecType != "audio" {
			continue
		}
		info.Channels = stream.Channels
		if stream.SampleRate != "" {
			if rate, err := strconv.Atoi(stream.SampleRate); err == nil {
				info.SampleRate = rate
			}
		}
		break
	}

	return nil
}
