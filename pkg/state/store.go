// Package state persists per-conversation pipeline state in BoltDB. Every
// mutation is a single read-modify-write transaction against the
// conversation record, which is the sole synchronization primitive between
// concurrent chunk workers.
package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/eternnoir/chunkscribe/pkg/pipeline"
)

const (
	bucketConversations = "conversations"
	bucketArtifacts     = "artifacts"
	bucketTranscripts   = "transcripts"
)

// Store is a BoltDB-backed chunk state store.
type Store struct {
	db *bolt.DB
}

// NewStore opens (or creates) the state database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketConversations, bucketArtifacts, bucketTranscripts} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateConversation persists a freshly planned conversation record. Chunk
// statuses are created pending, one per descriptor.
func (s *Store) CreateConversation(conv *pipeline.Conversation) error {
	if conv.ID == "" {
		return fmt.Errorf("conversation id must not be empty")
	}
	if len(conv.Descriptors) == 0 {
		return fmt.Errorf("conversation %s has no chunk descriptors", conv.ID)
	}

	now := time.Now().UTC()
	conv.TotalChunks = len(conv.Descriptors)
	conv.CompletedChunks = 0
	conv.Status = pipeline.StatusChunking
	conv.CreatedAt = now
	conv.UpdatedAt = now
	conv.Chunks = make([]pipeline.ChunkStatus, conv.TotalChunks)
	for i := range conv.Chunks {
		conv.Chunks[i] = pipeline.ChunkStatus{
			ChunkIndex: i,
			State:      pipeline.StatePending,
		}
	}
	if conv.SeedContext.EmittedBy == 0 {
		conv.SeedContext.EmittedBy = -1
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketConversations))
		if existing := bucket.Get([]byte(conv.ID)); existing != nil {
			return fmt.Errorf("conversation %s already exists", conv.ID)
		}
		return putJSON(bucket, conv.ID, conv)
	})
}

// GetConversation loads a conversation record.
func (s *Store) GetConversation(id string) (*pipeline.Conversation, error) {
	var conv *pipeline.Conversation
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		conv, err = loadConversation(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// MarkProcessing records that a worker claimed the chunk. A claim over a
// chunk that was already processing or failed counts as a retry and
// increments the retry counter.
func (s *Store) MarkProcessing(id string, chunkIndex int) error {
	return s.update(id, func(conv *pipeline.Conversation) error {
		chunk, err := chunkAt(conv, chunkIndex)
		if err != nil {
			return err
		}
		if chunk.State == pipeline.StateProcessing || chunk.State == pipeline.StateFailed {
			chunk.RetryCount++
		}
		now := time.Now().UTC()
		chunk.State = pipeline.StateProcessing
		chunk.Error = ""
		chunk.StartedAt = &now
		chunk.CompletedAt = nil
		if conv.Status == pipeline.StatusChunking {
			conv.Status = pipeline.StatusProcessing
		}
		return nil
	})
}

// MarkComplete records a successful chunk and its emitted context. Any
// context previously emitted by the same index is replaced, not
// duplicated. The returned flag is true only for the single transaction
// that observed all chunks complete and flipped the merge-enqueue guard;
// that caller alone is authorized to enqueue the merge.
func (s *Store) MarkComplete(id string, chunkIndex int, emitted pipeline.ChunkContext) (bool, error) {
	shouldMerge := false
	err := s.update(id, func(conv *pipeline.Conversation) error {
		chunk, err := chunkAt(conv, chunkIndex)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		chunk.State = pipeline.StateComplete
		chunk.Error = ""
		chunk.CompletedAt = &now

		emitted.EmittedBy = chunkIndex
		kept := conv.Contexts[:0]
		for _, c := range conv.Contexts {
			if c.EmittedBy != chunkIndex {
				kept = append(kept, c)
			}
		}
		conv.Contexts = append(kept, emitted)
		sort.Slice(conv.Contexts, func(i, j int) bool {
			return conv.Contexts[i].EmittedBy < conv.Contexts[j].EmittedBy
		})

		completed := 0
		for _, c := range conv.Chunks {
			if c.State == pipeline.StateComplete {
				completed++
			}
		}
		conv.CompletedChunks = completed

		if completed == conv.TotalChunks && !conv.MergeEnqueued {
			conv.MergeEnqueued = true
			conv.Status = pipeline.StatusMerging
			shouldMerge = true
		}
		return nil
	})
	return shouldMerge, err
}

// MarkFailed records a chunk failure. The retry counter is not touched
// here; it is incremented by the next MarkProcessing.
func (s *Store) MarkFailed(id string, chunkIndex int, taskErr error) error {
	return s.update(id, func(conv *pipeline.Conversation) error {
		chunk, err := chunkAt(conv, chunkIndex)
		if err != nil {
			return err
		}
		chunk.State = pipeline.StateFailed
		if taskErr != nil {
			chunk.Error = taskErr.Error()
		}
		return nil
	})
}

// LoadContext returns the context chunk chunkIndex should consume. Chunk 0
// receives the seed context; chunk i receives the context emitted by chunk
// i-1. When the predecessor has not emitted yet, the error distinguishes a
// retriable wait (predecessor pending or processing) from a terminal
// upstream failure.
func (s *Store) LoadContext(id string, chunkIndex int) (pipeline.ChunkContext, error) {
	var ctx pipeline.ChunkContext
	err := s.db.View(func(tx *bolt.Tx) error {
		conv, err := loadConversation(tx, id)
		if err != nil {
			return err
		}
		if chunkIndex < 0 || chunkIndex >= conv.TotalChunks {
			return fmt.Errorf("chunk %d out of range [0, %d): %w", chunkIndex, conv.TotalChunks, pipeline.ErrChunkNotFound)
		}
		if chunkIndex == 0 {
			ctx = conv.SeedContext
			return nil
		}

		pred := chunkIndex - 1
		for _, c := range conv.Contexts {
			if c.EmittedBy == pred {
				ctx = c
				return nil
			}
		}

		chunk, err := chunkAt(conv, pred)
		if err != nil {
			return err
		}
		switch chunk.State {
		case pipeline.StatePending, pipeline.StateProcessing:
			return &pipeline.WaitError{ChunkIndex: chunkIndex, Predecessor: pred, State: chunk.State}
		case pipeline.StateFailed:
			return &pipeline.UpstreamFailedError{ChunkIndex: chunkIndex, Predecessor: pred, Cause: chunk.Error}
		default:
			return fmt.Errorf("chunk %d is %s but emitted no context", pred, chunk.State)
		}
	})
	if err != nil {
		return pipeline.ChunkContext{}, err
	}
	return ctx, nil
}

// PutArtifact stores a chunk artifact, overwriting any previous artifact
// for the same index so retries stay idempotent.
func (s *Store) PutArtifact(artifact *pipeline.ChunkArtifact) error {
	if artifact.ConversationID == "" {
		return fmt.Errorf("artifact has no conversation id")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketArtifacts))
		if bucket == nil {
			return fmt.Errorf("artifacts bucket not found")
		}
		return putJSON(bucket, artifactKey(artifact.ConversationID, artifact.ChunkIndex), artifact)
	})
}

// GetArtifact loads a single chunk artifact.
func (s *Store) GetArtifact(id string, chunkIndex int) (*pipeline.ChunkArtifact, error) {
	var artifact pipeline.ChunkArtifact
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketArtifacts))
		data := bucket.Get([]byte(artifactKey(id, chunkIndex)))
		if data == nil {
			return fmt.Errorf("artifact %s/%d not found", id, chunkIndex)
		}
		return json.Unmarshal(data, &artifact)
	})
	if err != nil {
		return nil, err
	}
	return &artifact, nil
}

// ListArtifacts loads all artifacts for a conversation, ordered by chunk
// index.
func (s *Store) ListArtifacts(id string) ([]*pipeline.ChunkArtifact, error) {
	var artifacts []*pipeline.ChunkArtifact
	prefix := []byte(id + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket([]byte(bucketArtifacts)).Cursor()
		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			var artifact pipeline.ChunkArtifact
			if err := json.Unmarshal(v, &artifact); err != nil {
				return fmt.Errorf("failed to unmarshal artifact %s: %w", k, err)
			}
			artifacts = append(artifacts, &artifact)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].ChunkIndex < artifacts[j].ChunkIndex
	})
	return artifacts, nil
}

// GetTranscript loads the merged transcript, if committed.
func (s *Store) GetTranscript(id string) (*pipeline.Transcript, error) {
	var transcript pipeline.Transcript
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketTranscripts)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("transcript for %s not found", id)
		}
		return json.Unmarshal(data, &transcript)
	})
	if err != nil {
		return nil, err
	}
	return &transcript, nil
}

// CommitMerge writes the merged transcript, marks the conversation
// complete and sets the mergedAt idempotency marker, all in one
// transaction.
func (s *Store) CommitMerge(id string, transcript *pipeline.Transcript) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		conv, err := loadConversation(tx, id)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		transcript.MergedAt = now
		conv.Status = pipeline.StatusComplete
		conv.MergedAt = &now
		conv.Error = ""
		conv.UpdatedAt = now

		if err := putJSON(tx.Bucket([]byte(bucketTranscripts)), id, transcript); err != nil {
			return err
		}
		return putJSON(tx.Bucket([]byte(bucketConversations)), id, conv)
	})
}

// MarkConversationFailed records a pipeline-level failure. The mergedAt
// marker is left unset so a retry can re-run the merge from scratch.
func (s *Store) MarkConversationFailed(id string, reason string) error {
	return s.update(id, func(conv *pipeline.Conversation) error {
		conv.Status = pipeline.StatusFailed
		conv.Error = reason
		return nil
	})
}

// update runs fn inside a single read-modify-write transaction over the
// conversation record. A missing record aborts the transaction.
func (s *Store) update(id string, fn func(*pipeline.Conversation) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		conv, err := loadConversation(tx, id)
		if err != nil {
			return err
		}
		if err := fn(conv); err != nil {
			return err
		}
		conv.UpdatedAt = time.Now().UTC()
		return putJSON(tx.Bucket([]byte(bucketConversations)), id, conv)
	})
}

func loadConversation(tx *bolt.Tx, id string) (*pipeline.Conversation, error) {
	bucket := tx.Bucket([]byte(bucketConversations))
	if bucket == nil {
		return nil, fmt.Errorf("conversations bucket not found")
	}
	data := bucket.Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("conversation %s: %w", id, pipeline.ErrConversationNotFound)
	}
	var conv pipeline.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation %s: %w", id, err)
	}
	return &conv, nil
}

func chunkAt(conv *pipeline.Conversation, chunkIndex int) (*pipeline.ChunkStatus, error) {
	for i := range conv.Chunks {
		if conv.Chunks[i].ChunkIndex == chunkIndex {
			return &conv.Chunks[i], nil
		}
	}
	return nil, fmt.Errorf("conversation %s chunk %d: %w", conv.ID, chunkIndex, pipeline.ErrChunkNotFound)
}

func putJSON(bucket *bolt.Bucket, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := bucket.Put([]byte(key), data); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

func artifactKey(id string, chunkIndex int) string {
	return fmt.Sprintf("%s/%06d", id, chunkIndex)
}
