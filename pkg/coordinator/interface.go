package coordinator

import (
	"context"

	"github.com/eternnoir/chunkscribe/pkg/pipeline"
)

// ChunkProcessor is the opaque transcription + analysis collaborator. It
// receives the chunk descriptor and the context the chunk consumes, and
// returns the chunk artifact plus the running summary for the next chunk.
type ChunkProcessor interface {
	ProcessChunk(ctx context.Context, conversationID string, descriptor pipeline.ChunkDescriptor, chunkCtx pipeline.ChunkContext) (*pipeline.ChunkArtifact, string, error)
}

// Store is the slice of the state store the coordinator needs.
type Store interface {
	CreateConversation(conv *pipeline.Conversation) error
	GetConversation(id string) (*pipeline.Conversation, error)
	MarkProcessing(id string, chunkIndex int) error
	MarkComplete(id string, chunkIndex int, emitted pipeline.ChunkContext) (bool, error)
	MarkFailed(id string, chunkIndex int, taskErr error) error
	LoadContext(id string, chunkIndex int) (pipeline.ChunkContext, error)
	PutArtifact(artifact *pipeline.ChunkArtifact) error
}

// Merger triggers the merge step for a completed conversation.
type Merger interface {
	MergeChunks(conversationID string) error
}
