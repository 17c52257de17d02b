package merge

import (
	"github.com/eternnoir/chunkscribe/pkg/pipeline"
)

// Store is the slice of the state store the merger needs.
type Store interface {
	// GetConversation loads the conversation record.
	GetConversation(id string) (*pipeline.Conversation, error)

	// ListArtifacts loads all chunk artifacts, ordered by chunk index.
	ListArtifacts(id string) ([]*pipeline.ChunkArtifact, error)

	// CommitMerge atomically writes the transcript, marks the conversation
	// complete and sets the mergedAt idempotency marker.
	CommitMerge(id string, transcript *pipeline.Transcript) error

	// MarkConversationFailed records a merge failure.
	MarkConversationFailed(id string, reason string) error
}
