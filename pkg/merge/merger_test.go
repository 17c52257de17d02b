package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eternnoir/chunkscribe/pkg/pipeline"
)

// fakeStore implements Store in memory for merge tests.
type fakeStore struct {
	conv      *pipeline.Conversation
	artifacts []*pipeline.ChunkArtifact

	committed    *pipeline.Transcript
	failedReason string
}

func (f *fakeStore) GetConversation(id string) (*pipeline.Conversation, error) {
	return f.conv, nil
}

func (f *fakeStore) ListArtifacts(id string) ([]*pipeline.ChunkArtifact, error) {
	return f.artifacts, nil
}

func (f *fakeStore) CommitMerge(id string, transcript *pipeline.Transcript) error {
	f.committed = transcript
	return nil
}

func (f *fakeStore) MarkConversationFailed(id string, reason string) error {
	f.failedReason = reason
	return nil
}

// twoChunkDescriptors builds a contiguous plan cutting at 15s with 3s of
// overlap padding on each side of the boundary.
func twoChunkDescriptors() []pipeline.ChunkDescriptor {
	return []pipeline.ChunkDescriptor{
		{ChunkIndex: 0, TotalChunks: 2, StartMs: 0, EndMs: 15000, OverlapAfterMs: 3000},
		{ChunkIndex: 1, TotalChunks: 2, StartMs: 15000, EndMs: 24000, OverlapBeforeMs: 3000},
	}
}

func TestMergeChunksSequentialDedupe(t *testing.T) {
	descriptors := twoChunkDescriptors()
	store := &fakeStore{
		conv: &pipeline.Conversation{
			ID:          "conv-1",
			Mode:        pipeline.ModeSequential,
			TotalChunks: 2,
			DurationMs:  24000,
			Descriptors: descriptors,
		},
		artifacts: []*pipeline.ChunkArtifact{
			{
				ConversationID: "conv-1",
				ChunkIndex:     0,
				Descriptor:     descriptors[0],
				Segments: []pipeline.Segment{
					{ID: "seg_a", StartMs: 0, EndMs: 5000, SpeakerID: "spk_1", Text: "hello"},
					// Lives inside the overlap region owned by chunk 1.
					{ID: "seg_b", StartMs: 12000, EndMs: 18000, SpeakerID: "spk_1", Text: "duplicate"},
				},
				Speakers:        []pipeline.Speaker{{ID: "spk_1"}},
				Terms:           []pipeline.Term{{ID: "term_1", Key: "kubernetes"}},
				TermOccurrences: []pipeline.TermOccurrence{{TermID: "term_1", SegmentID: "seg_b"}},
			},
			{
				ConversationID: "conv-1",
				ChunkIndex:     1,
				Descriptor:     descriptors[1],
				Segments: []pipeline.Segment{
					// Chunk-local [0, 6000) is the overlap copy of seg_b.
					{ID: "seg_c", StartMs: 0, EndMs: 6000, SpeakerID: "spk_1", Text: "duplicate"},
					{ID: "seg_d", StartMs: 6000, EndMs: 10000, SpeakerID: "spk_1", Text: "goodbye"},
				},
				Speakers:        []pipeline.Speaker{{ID: "spk_1", DisplayName: "Anna"}},
				Terms:           []pipeline.Term{{ID: "term_1", Key: "kubernetes"}},
				TermOccurrences: []pipeline.TermOccurrence{{TermID: "term_1", SegmentID: "seg_c"}},
			},
		},
	}

	require.NoError(t, NewMerger(store).MergeChunks("conv-1"))
	require.NotNil(t, store.committed)
	transcript := store.committed

	// seg_b fell in chunk 1's ownership window and was dropped; its overlap
	// copy seg_c survived with timestamps shifted to the original timeline.
	require.Len(t, transcript.Segments, 3)
	assert.Equal(t, "seg_a", transcript.Segments[0].ID)
	assert.Equal(t, "seg_c", transcript.Segments[1].ID)
	assert.Equal(t, "seg_d", transcript.Segments[2].ID)

	assert.Equal(t, int64(12000), transcript.Segments[1].StartMs)
	assert.Equal(t, int64(18000), transcript.Segments[1].EndMs)
	assert.Equal(t, int64(18000), transcript.Segments[2].StartMs)

	for i, seg := range transcript.Segments {
		assert.Equal(t, i, seg.Index)
	}

	// Speakers union by ID, keeping the non-empty display name.
	require.Len(t, transcript.Speakers, 1)
	assert.Equal(t, "spk_1", transcript.Speakers[0].ID)
	assert.Equal(t, "Anna", transcript.Speakers[0].DisplayName)
	assert.Equal(t, 3, transcript.Speakers[0].SegmentCount)

	// Terms dedupe by ID; the occurrence referencing dropped seg_b is gone.
	require.Len(t, transcript.Terms, 1)
	require.Len(t, transcript.TermOccurrences, 1)
	assert.Equal(t, "seg_c", transcript.TermOccurrences[0].SegmentID)

	assert.Equal(t, int64(24000), transcript.DurationMs)
	assert.Equal(t, 2, transcript.ChunkCount)
	assert.Zero(t, transcript.SpeakerConfidence)
}

func TestMergeChunksParallelReconciliation(t *testing.T) {
	descriptors := twoChunkDescriptors()
	store := &fakeStore{
		conv: &pipeline.Conversation{
			ID:          "conv-1",
			Mode:        pipeline.ModeParallel,
			TotalChunks: 2,
			DurationMs:  24000,
			Descriptors: descriptors,
		},
		artifacts: []*pipeline.ChunkArtifact{
			{
				ConversationID: "conv-1",
				ChunkIndex:     0,
				Descriptor:     descriptors[0],
				Segments: []pipeline.Segment{
					{ID: "seg_a", StartMs: 0, EndMs: 5000, SpeakerID: "spk_1", Text: "hello"},
				},
				Signatures: []pipeline.SpeakerSignature{
					{ChunkIndex: 0, SpeakerID: "spk_1", InferredName: "Alice Chen", TopicIDs: []string{"t1"}, TermKeys: []string{"deploy"}},
				},
			},
			{
				ConversationID: "conv-1",
				ChunkIndex:     1,
				Descriptor:     descriptors[1],
				Segments: []pipeline.Segment{
					{ID: "seg_d", StartMs: 6000, EndMs: 10000, SpeakerID: "spk_1", Text: "goodbye"},
				},
				Signatures: []pipeline.SpeakerSignature{
					{ChunkIndex: 1, SpeakerID: "spk_1", InferredName: "Alice Chen", TopicIDs: []string{"t1"}, TermKeys: []string{"deploy"}},
				},
			},
		},
	}

	require.NoError(t, NewMerger(store).MergeChunks("conv-1"))
	require.NotNil(t, store.committed)
	transcript := store.committed

	// Both chunk-local spk_1 identities remapped to one canonical speaker.
	require.Len(t, transcript.Segments, 2)
	assert.Equal(t, "speaker_canonical_0", transcript.Segments[0].SpeakerID)
	assert.Equal(t, "speaker_canonical_0", transcript.Segments[1].SpeakerID)

	require.Len(t, transcript.Speakers, 1)
	assert.Equal(t, "speaker_canonical_0", transcript.Speakers[0].ID)
	assert.Equal(t, "Alice Chen", transcript.Speakers[0].DisplayName)
	assert.Equal(t, 2, transcript.Speakers[0].SegmentCount)

	assert.Equal(t, 1.0, transcript.SpeakerConfidence)
}

func TestMergeChunksIdempotent(t *testing.T) {
	mergedAt := time.Now().UTC()
	store := &fakeStore{
		conv: &pipeline.Conversation{
			ID:          "conv-1",
			Mode:        pipeline.ModeSequential,
			TotalChunks: 2,
			MergedAt:    &mergedAt,
		},
	}

	require.NoError(t, NewMerger(store).MergeChunks("conv-1"))

	// Nothing was written on the replay.
	assert.Nil(t, store.committed)
	assert.Empty(t, store.failedReason)
}

func TestMergeChunksMissingArtifact(t *testing.T) {
	descriptors := twoChunkDescriptors()
	store := &fakeStore{
		conv: &pipeline.Conversation{
			ID:          "conv-1",
			Mode:        pipeline.ModeSequential,
			TotalChunks: 2,
			Descriptors: descriptors,
		},
		artifacts: []*pipeline.ChunkArtifact{
			{ConversationID: "conv-1", ChunkIndex: 1, Descriptor: descriptors[1]},
		},
	}

	err := NewMerger(store).MergeChunks("conv-1")
	require.Error(t, err)
	assert.Nil(t, store.committed)
	assert.NotEmpty(t, store.failedReason)
}

func TestMergeChunksLowConfidenceAborts(t *testing.T) {
	// A chains to B and B to C, but A and C barely resemble each other, so
	// the transitive cluster falls below the confidence floor.
	descriptors := []pipeline.ChunkDescriptor{
		{ChunkIndex: 0, TotalChunks: 3, StartMs: 0, EndMs: 15000, OverlapAfterMs: 3000},
		{ChunkIndex: 1, TotalChunks: 3, StartMs: 15000, EndMs: 30000, OverlapBeforeMs: 3000, OverlapAfterMs: 3000},
		{ChunkIndex: 2, TotalChunks: 3, StartMs: 30000, EndMs: 42000, OverlapBeforeMs: 3000},
	}
	store := &fakeStore{
		conv: &pipeline.Conversation{
			ID:          "conv-1",
			Mode:        pipeline.ModeParallel,
			TotalChunks: 3,
			Descriptors: descriptors,
		},
		artifacts: []*pipeline.ChunkArtifact{
			{
				ConversationID: "conv-1",
				ChunkIndex:     0,
				Descriptor:     descriptors[0],
				Signatures: []pipeline.SpeakerSignature{
					{ChunkIndex: 0, SpeakerID: "spk_1", InferredName: "Anna", TopicIDs: []string{"t1"}, TermKeys: []string{"alpha"}},
				},
			},
			{
				ConversationID: "conv-1",
				ChunkIndex:     1,
				Descriptor:     descriptors[1],
				Signatures: []pipeline.SpeakerSignature{
					{ChunkIndex: 1, SpeakerID: "spk_1", InferredName: "Anna Maria", TopicIDs: []string{"t1"}, TermKeys: []string{"alpha", "gamma", "delta"}},
				},
			},
			{
				ConversationID: "conv-1",
				ChunkIndex:     2,
				Descriptor:     descriptors[2],
				Signatures: []pipeline.SpeakerSignature{
					{ChunkIndex: 2, SpeakerID: "spk_1", InferredName: "Maria", TopicIDs: []string{"t1"}, TermKeys: []string{"gamma"}},
				},
			},
		},
	}

	err := NewMerger(store).MergeChunks("conv-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "speaker reconciliation failed")
	assert.Nil(t, store.committed)
	assert.NotEmpty(t, store.failedReason)
}
