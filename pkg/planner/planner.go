// Package planner computes chunk boundaries for long recordings. Cuts are
// placed inside detected silence so chunks start cleanly, then every
// boundary is padded with a fixed overlap so neighboring chunks share audio
// at their seams.
package planner

import (
	"fmt"
	"time"

	"github.com/eternnoir/chunkscribe/pkg/logger"
	"github.com/eternnoir/chunkscribe/pkg/pipeline"
)

// SilenceInterval is one detected silence on the original timeline.
type SilenceInterval struct {
	StartMs int64 `json:"start_ms"`
	EndMs   int64 `json:"end_ms"`
}

// MidpointMs returns the midpoint of the interval.
func (s SilenceInterval) MidpointMs() int64 {
	return (s.StartMs + s.EndMs) / 2
}

// Options controls boundary planning.
type Options struct {
	// TargetChunkMs is the preferred chunk duration.
	TargetChunkMs int64
	// MaxChunkMs is the hard maximum chunk duration.
	MaxChunkMs int64
	// ThresholdMs is the duration at or below which no chunking happens.
	// Zero falls back to MaxChunkMs.
	ThresholdMs int64
	// SearchSlackMs widens the silence search window below the target end.
	SearchSlackMs int64
	// OverlapMs is the overlap padding applied on each side of a cut.
	OverlapMs int64
}

// DefaultOptions returns the planning defaults.
func DefaultOptions() Options {
	return Options{
		TargetChunkMs: (15 * time.Minute).Milliseconds(),
		MaxChunkMs:    (20 * time.Minute).Milliseconds(),
		SearchSlackMs: (2 * time.Minute).Milliseconds(),
		OverlapMs:     (30 * time.Second).Milliseconds(),
	}
}

// Planner computes overlap-expanded chunk boundaries.
type Planner struct {
	opts Options
}

// NewPlanner creates a planner, normalizing unset options to defaults.
func NewPlanner(opts Options) *Planner {
	def := DefaultOptions()
	if opts.TargetChunkMs <= 0 {
		opts.TargetChunkMs = def.TargetChunkMs
	}
	if opts.MaxChunkMs <= 0 {
		opts.MaxChunkMs = def.MaxChunkMs
	}
	if opts.MaxChunkMs < opts.TargetChunkMs {
		opts.MaxChunkMs = opts.TargetChunkMs
	}
	if opts.ThresholdMs <= 0 {
		opts.ThresholdMs = opts.MaxChunkMs
	}
	if opts.SearchSlackMs < 0 {
		opts.SearchSlackMs = def.SearchSlackMs
	}
	if opts.OverlapMs < 0 {
		opts.OverlapMs = def.OverlapMs
	}
	return &Planner{opts: opts}
}

// PlanChunks computes ordered, contiguous chunk descriptors covering
// [0, durationMs). Silence intervals must be ordered and well-formed.
// Planning errors are fatal and never retried.
func (p *Planner) PlanChunks(durationMs int64, silences []SilenceInterval) ([]pipeline.ChunkDescriptor, error) {
	log := logger.WithComponent("planner")

	if durationMs <= 0 {
		return nil, fmt.Errorf("invalid duration: %dms", durationMs)
	}
	if err := validateSilences(durationMs, silences); err != nil {
		return nil, err
	}

	if durationMs <= p.opts.ThresholdMs {
		log.Debug().
			Int64("duration_ms", durationMs).
			Int64("threshold_ms", p.opts.ThresholdMs).
			Msg("Duration below chunking threshold, planning single chunk")
		return []pipeline.ChunkDescriptor{{
			ChunkIndex:  0,
			TotalChunks: 1,
			StartMs:     0,
			EndMs:       durationMs,
		}}, nil
	}

	cuts := p.computeCuts(durationMs, silences)
	descriptors := p.expandOverlap(cuts, durationMs)

	log.Info().
		Int64("duration_ms", durationMs).
		Int("silence_count", len(silences)).
		Int("chunk_count", len(descriptors)).
		Int64("overlap_ms", p.opts.OverlapMs).
		Msg("Chunk plan computed")

	return descriptors, nil
}

// computeCuts walks forward from 0 cutting near the target duration,
// preferring the end of a silence interval whose midpoint is closest to
// the target. Returns the ordered chunk start positions.
func (p *Planner) computeCuts(durationMs int64, silences []SilenceInterval) []int64 {
	log := logger.WithComponent("planner")

	cuts := []int64{0}
	start := int64(0)

	for durationMs-start > p.opts.MaxChunkMs {
		targetEnd := start + p.opts.TargetChunkMs
		maxEnd := start + p.opts.MaxChunkMs
		windowStart := targetEnd - p.opts.SearchSlackMs

		best := -1
		var bestDist int64
		for i, s := range silences {
			mid := s.MidpointMs()
			if mid < windowStart || mid > maxEnd {
				continue
			}
			dist := mid - targetEnd
			if dist < 0 {
				dist = -dist
			}
			if best < 0 || dist < bestDist {
				best = i
				bestDist = dist
			}
		}

		var cut int64
		if best >= 0 {
			// Cut at the end of the silence so the next chunk starts on
			// speech, not mid-silence.
			cut = silences[best].EndMs
			if cut > maxEnd {
				cut = maxEnd
			}
			log.Debug().
				Int64("cut_ms", cut).
				Int64("target_ms", targetEnd).
				Int64("silence_mid_ms", silences[best].MidpointMs()).
				Msg("Cutting at silence boundary")
		} else {
			cut = targetEnd
			log.Warn().
				Int64("cut_ms", cut).
				Int64("window_start_ms", windowStart).
				Int64("window_end_ms", maxEnd).
				Msg("No silence candidate in search window, cutting at target")
		}
		if cut <= start {
			cut = targetEnd
		}

		cuts = append(cuts, cut)
		start = cut
	}

	return cuts
}

// expandOverlap turns cut positions into descriptors, padding every
// boundary except the two ends by the configured overlap.
func (p *Planner) expandOverlap(cuts []int64, durationMs int64) []pipeline.ChunkDescriptor {
	total := len(cuts)
	descriptors := make([]pipeline.ChunkDescriptor, 0, total)

	for i, start := range cuts {
		end := durationMs
		if i+1 < total {
			end = cuts[i+1]
		}

		d := pipeline.ChunkDescriptor{
			ChunkIndex:  i,
			TotalChunks: total,
			StartMs:     start,
			EndMs:       end,
		}
		if i > 0 {
			d.OverlapBeforeMs = p.opts.OverlapMs
			if d.OverlapBeforeMs > start {
				d.OverlapBeforeMs = start
			}
		}
		if i+1 < total {
			d.OverlapAfterMs = p.opts.OverlapMs
			if max := durationMs - end; d.OverlapAfterMs > max {
				d.OverlapAfterMs = max
			}
		}
		descriptors = append(descriptors, d)
	}

	return descriptors
}

func validateSilences(durationMs int64, silences []SilenceInterval) error {
	var prevEnd int64
	for i, s := range silences {
		if s.StartMs < 0 || s.EndMs <= s.StartMs {
			return fmt.Errorf("malformed silence interval %d: [%d, %d)", i, s.StartMs, s.EndMs)
		}
		if s.EndMs > durationMs {
			return fmt.Errorf("silence interval %d ends at %dms, beyond duration %dms", i, s.EndMs, durationMs)
		}
		if s.StartMs < prevEnd {
			return fmt.Errorf("silence intervals out of order at index %d", i)
		}
		prevEnd = s.EndMs
	}
	return nil
}
