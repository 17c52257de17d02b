package dispatch

import (
	"fmt"

	"github.com/eternnoir/chunkscribe/pkg/pipeline"
)

// TaskKind discriminates the closed set of task payload variants.
type TaskKind string

const (
	// TaskWholeFile processes a short recording as a single task.
	TaskWholeFile TaskKind = "whole_file"
	// TaskChunk processes one planned chunk of a longer recording.
	TaskChunk TaskKind = "chunk"
	// TaskMerge triggers the merge step once all chunks completed.
	TaskMerge TaskKind = "merge"
)

// TaskPayload is the tagged task variant accepted by chunk workers.
// Validated at the dispatch boundary; an unknown kind or a variant missing
// its required fields never leaves the process.
type TaskPayload struct {
	Kind           TaskKind                  `json:"kind"`
	ConversationID string                    `json:"conversation_id"`
	Mode           pipeline.ProcessingMode   `json:"mode,omitempty"`
	SourceURI      string                    `json:"source_uri,omitempty"`
	Descriptor     *pipeline.ChunkDescriptor `json:"descriptor,omitempty"`
}

// Validate checks the variant invariants.
func (p *TaskPayload) Validate() error {
	if p.ConversationID == "" {
		return fmt.Errorf("task payload has no conversation id")
	}
	switch p.Kind {
	case TaskWholeFile:
		if p.SourceURI == "" {
			return fmt.Errorf("whole-file task for %s has no source uri", p.ConversationID)
		}
		if p.Descriptor != nil {
			return fmt.Errorf("whole-file task for %s carries a chunk descriptor", p.ConversationID)
		}
	case TaskChunk:
		if p.Descriptor == nil {
			return fmt.Errorf("chunk task for %s has no descriptor", p.ConversationID)
		}
		if p.Descriptor.ChunkIndex < 0 || p.Descriptor.ChunkIndex >= p.Descriptor.TotalChunks {
			return fmt.Errorf("chunk task for %s has index %d out of range [0, %d)",
				p.ConversationID, p.Descriptor.ChunkIndex, p.Descriptor.TotalChunks)
		}
		if p.Mode != pipeline.ModeParallel && p.Mode != pipeline.ModeSequential {
			return fmt.Errorf("chunk task for %s has invalid mode %q", p.ConversationID, p.Mode)
		}
	case TaskMerge:
		if p.Descriptor != nil {
			return fmt.Errorf("merge task for %s carries a chunk descriptor", p.ConversationID)
		}
	default:
		return fmt.Errorf("unknown task kind %q", p.Kind)
	}
	return nil
}
