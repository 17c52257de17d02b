// Package merge stitches completed chunk artifacts into one ordered,
// speaker-consistent transcript. Overlap regions are deduplicated by
// assigning ownership to the higher-indexed chunk; in parallel mode
// speaker identities are reconciled across chunks first.
package merge

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/eternnoir/chunkscribe/pkg/logger"
	"github.com/eternnoir/chunkscribe/pkg/pipeline"
	"github.com/eternnoir/chunkscribe/pkg/reconcile"
)

// Merger merges all chunk artifacts of a conversation.
type Merger struct {
	store      Store
	reconciler *reconcile.Reconciler
}

// NewMerger creates a merger backed by the given store.
func NewMerger(store Store) *Merger {
	return &Merger{
		store:      store,
		reconciler: reconcile.NewReconciler(),
	}
}

// MergeChunks merges the conversation's chunk artifacts and commits the
// transcript. Safe to call more than once: a committed merge is detected
// via the mergedAt marker and returns without side effects. Any invariant
// violation or reconciliation failure aborts with no partial write and
// marks the conversation failed; a later call re-runs the merge from
// scratch.
func (m *Merger) MergeChunks(conversationID string) error {
	log := logger.WithComponent("merger").WithField("conversation_id", conversationID)

	conv, err := m.store.GetConversation(conversationID)
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}

	if conv.MergedAt != nil {
		log.Info().Time("merged_at", *conv.MergedAt).Msg("Conversation already merged, skipping")
		return nil
	}

	artifacts, err := m.store.ListArtifacts(conversationID)
	if err != nil {
		return m.abort(conversationID, fmt.Errorf("failed to load artifacts: %w", err))
	}
	if err := validateArtifacts(conv, artifacts); err != nil {
		return m.abort(conversationID, err)
	}

	// Cross-chunk speaker reconciliation is only needed in parallel mode;
	// sequential chunks inherit globally consistent IDs via their contexts.
	var recon *reconcile.Result
	if conv.Mode == pipeline.ModeParallel {
		recon, err = m.reconciler.Reconcile(collectSignatures(artifacts))
		if err != nil {
			var lowConf *reconcile.LowConfidenceError
			if errors.As(err, &lowConf) {
				log.Error().
					Float64("confidence", lowConf.Partial.OverallConfidence).
					Int("clusters", len(lowConf.Partial.Clusters)).
					Msg("Aborting merge: speaker reconciliation confidence too low")
			}
			return m.abort(conversationID, fmt.Errorf("speaker reconciliation failed: %w", err))
		}
	}

	segments, survived := m.dedupeSegments(conv, artifacts, recon)
	transcript := m.buildTranscript(conv, artifacts, recon, segments, survived)

	if err := m.store.CommitMerge(conversationID, transcript); err != nil {
		return m.abort(conversationID, fmt.Errorf("failed to commit merge: %w", err))
	}

	log.Info().
		Int("chunks", len(artifacts)).
		Int("segments", len(transcript.Segments)).
		Int("speakers", len(transcript.Speakers)).
		Float64("speaker_confidence", transcript.SpeakerConfidence).
		Msg("Conversation merged")

	return nil
}

// dedupeSegments converts chunk-local timestamps to the original timeline,
// drops overlap duplicates and remaps speaker IDs. Returns the ordered
// surviving segments and the set of surviving segment IDs.
func (m *Merger) dedupeSegments(conv *pipeline.Conversation, artifacts []*pipeline.ChunkArtifact, recon *reconcile.Result) ([]pipeline.Segment, map[string]struct{}) {
	var merged []pipeline.Segment
	survived := make(map[string]struct{})

	for i, artifact := range artifacts {
		offset := artifact.Descriptor.ExtractStartMs()

		// The chunk owns original-timeline timestamps from its own
		// extraction start up to the next chunk's extraction start. A
		// timestamp inside two extraction windows therefore belongs to
		// the higher-indexed chunk.
		ownEnd := int64(math.MaxInt64)
		if i+1 < len(artifacts) {
			ownEnd = artifacts[i+1].Descriptor.ExtractStartMs()
		}

		for _, seg := range artifact.Segments {
			start := seg.StartMs + offset
			if start >= ownEnd {
				continue
			}
			seg.StartMs = start
			seg.EndMs += offset
			if recon != nil {
				key := fmt.Sprintf("%s_%d", seg.SpeakerID, artifact.ChunkIndex)
				if canonical, ok := recon.Mapping[key]; ok {
					seg.SpeakerID = canonical
				}
			}
			merged = append(merged, seg)
			survived[seg.ID] = struct{}{}
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].StartMs < merged[j].StartMs
	})
	for i := range merged {
		merged[i].Index = i
	}

	return merged, survived
}

// buildTranscript assembles the final transcript from deduplicated
// segments and the merged entity tables.
func (m *Merger) buildTranscript(conv *pipeline.Conversation, artifacts []*pipeline.ChunkArtifact, recon *reconcile.Result, segments []pipeline.Segment, survived map[string]struct{}) *pipeline.Transcript {
	transcript := &pipeline.Transcript{
		ConversationID: conv.ID,
		Segments:       segments,
		Speakers:       mergeSpeakers(artifacts, recon, segments),
		Terms:          mergeTerms(artifacts),
		Topics:         mergeTopics(artifacts),
		People:         mergePeople(artifacts),
		DurationMs:     conv.DurationMs,
		ChunkCount:     len(artifacts),
	}

	for _, artifact := range artifacts {
		for _, occ := range artifact.TermOccurrences {
			if _, ok := survived[occ.SegmentID]; ok {
				transcript.TermOccurrences = append(transcript.TermOccurrences, occ)
			}
		}
	}

	if recon != nil {
		transcript.SpeakerConfidence = recon.OverallConfidence
	}

	return transcript
}

// abort marks the conversation failed and returns the merge error. Nothing
// has been written at this point; a retry re-runs the merge from scratch.
func (m *Merger) abort(conversationID string, mergeErr error) error {
	if err := m.store.MarkConversationFailed(conversationID, mergeErr.Error()); err != nil {
		logger.WithComponent("merger").
			WithField("conversation_id", conversationID).
			Error().Err(err).Msg("Failed to record merge failure")
	}
	return mergeErr
}

// validateArtifacts checks the one-artifact-per-planned-chunk invariant.
func validateArtifacts(conv *pipeline.Conversation, artifacts []*pipeline.ChunkArtifact) error {
	if len(artifacts) != conv.TotalChunks {
		return fmt.Errorf("chunk count mismatch: %d artifacts for %d planned chunks", len(artifacts), conv.TotalChunks)
	}
	for i, artifact := range artifacts {
		if artifact.ChunkIndex != i {
			return fmt.Errorf("missing artifact for chunk %d (found index %d)", i, artifact.ChunkIndex)
		}
	}
	return nil
}

func collectSignatures(artifacts []*pipeline.ChunkArtifact) []pipeline.SpeakerSignature {
	var signatures []pipeline.SpeakerSignature
	for _, artifact := range artifacts {
		signatures = append(signatures, artifact.Signatures...)
	}
	return signatures
}
