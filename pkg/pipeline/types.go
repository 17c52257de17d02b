package pipeline

import (
	"fmt"
	"time"
)

// ProcessingMode selects how chunk tasks are executed.
type ProcessingMode string

const (
	// ModeParallel runs chunks concurrently from fresh seed contexts and
	// reconciles speaker identities at merge time.
	ModeParallel ProcessingMode = "parallel"
	// ModeSequential runs chunks in order, each consuming the context
	// emitted by its predecessor.
	ModeSequential ProcessingMode = "sequential"
)

// ChunkState represents the lifecycle state of a single chunk.
type ChunkState string

const (
	StatePending    ChunkState = "pending"
	StateProcessing ChunkState = "processing"
	StateComplete   ChunkState = "complete"
	StateFailed     ChunkState = "failed"
)

// ConversationStatus reflects the furthest successful pipeline stage.
type ConversationStatus string

const (
	StatusChunking   ConversationStatus = "chunking"
	StatusProcessing ConversationStatus = "processing"
	StatusMerging    ConversationStatus = "merging"
	StatusComplete   ConversationStatus = "complete"
	StatusFailed     ConversationStatus = "failed"
)

// ChunkDescriptor describes one planned chunk of the original recording.
// Descriptors are immutable once planned. StartMs/EndMs are logical bounds
// on the original timeline; adjacent descriptors are contiguous
// (descriptor[i].EndMs == descriptor[i+1].StartMs). Overlap padding is
// recorded separately and never reflected in the logical bounds.
type ChunkDescriptor struct {
	ChunkIndex      int    `json:"chunk_index"`
	TotalChunks     int    `json:"total_chunks"`
	StartMs         int64  `json:"start_ms"`
	EndMs           int64  `json:"end_ms"`
	OverlapBeforeMs int64  `json:"overlap_before_ms"`
	OverlapAfterMs  int64  `json:"overlap_after_ms"`
	SourceURI       string `json:"source_uri,omitempty"`
	ChunkURI        string `json:"chunk_uri,omitempty"`
}

// ExtractStartMs returns the start of the physical extraction window,
// including the backward overlap padding.
func (d ChunkDescriptor) ExtractStartMs() int64 {
	return d.StartMs - d.OverlapBeforeMs
}

// ExtractEndMs returns the end of the physical extraction window,
// including the forward overlap padding.
func (d ChunkDescriptor) ExtractEndMs() int64 {
	return d.EndMs + d.OverlapAfterMs
}

// ExtractDurationMs returns the duration of the physical extraction window.
func (d ChunkDescriptor) ExtractDurationMs() int64 {
	return d.ExtractEndMs() - d.ExtractStartMs()
}

// ChunkStatus tracks the lifecycle of one chunk index.
type ChunkStatus struct {
	ChunkIndex  int        `json:"chunk_index"`
	State       ChunkState `json:"state"`
	RetryCount  int        `json:"retry_count"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ChunkContext is the carry-forward state emitted by chunk i and consumed
// by chunk i+1 in sequential mode, or the seed state for chunk 0.
// Immutable once emitted; a retry replaces the previously emitted entry.
type ChunkContext struct {
	// EmittedBy is the index of the chunk that emitted this context.
	// The seed context uses -1.
	EmittedBy       int               `json:"emitted_by"`
	KnownSpeakers   map[string]string `json:"known_speakers,omitempty"`
	Summary         string            `json:"summary,omitempty"`
	KnownTermIDs    []string          `json:"known_term_ids,omitempty"`
	KnownTopicIDs   []string          `json:"known_topic_ids,omitempty"`
	KnownPersonIDs  []string          `json:"known_person_ids,omitempty"`
	SegmentCount    int               `json:"segment_count"`
	LastTimestampMs int64             `json:"last_timestamp_ms"`
}

// Segment is one transcribed utterance. Inside a ChunkArtifact its
// timestamps are chunk-local (the chunk's audio starts at local time 0);
// in a merged Transcript they are on the original timeline.
type Segment struct {
	ID         string  `json:"id"`
	Index      int     `json:"index"`
	StartMs    int64   `json:"start_ms"`
	EndMs      int64   `json:"end_ms"`
	SpeakerID  string  `json:"speaker_id,omitempty"`
	Text       string  `json:"text"`
	Confidence float32 `json:"confidence,omitempty"`
}

// Speaker is a diarized speaker identity.
type Speaker struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name,omitempty"`
	SegmentCount int    `json:"segment_count,omitempty"`
}

// Term is a domain term surfaced by analysis, keyed by a stable ID.
type Term struct {
	ID         string `json:"id"`
	Key        string `json:"key"`
	Display    string `json:"display,omitempty"`
	Definition string `json:"definition,omitempty"`
}

// TermOccurrence links a term to the segment it occurred in.
type TermOccurrence struct {
	TermID    string `json:"term_id"`
	SegmentID string `json:"segment_id"`
}

// Topic is a discussion topic spanning a range of segment indices.
type Topic struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
	Summary    string `json:"summary,omitempty"`
}

// Person is a person mentioned in the conversation.
type Person struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// SpeakerSignature is a per-(speaker, chunk) fingerprint used only for
// cross-chunk reconciliation. Not persisted beyond merge time.
type SpeakerSignature struct {
	ChunkIndex      int      `json:"chunk_index"`
	SpeakerID       string   `json:"speaker_id"`
	InferredName    string   `json:"inferred_name,omitempty"`
	TopicIDs        []string `json:"topic_ids,omitempty"`
	TermKeys        []string `json:"term_keys,omitempty"`
	SegmentCount    int      `json:"segment_count"`
	SampleUtterance string   `json:"sample_utterance,omitempty"`
}

// Key returns the reconciliation key for this signature, unique across the
// whole conversation.
func (s SpeakerSignature) Key() string {
	return fmt.Sprintf("%s_%d", s.SpeakerID, s.ChunkIndex)
}

// ChunkArtifact is the full pipeline output for one chunk. Written once by
// its owning task and never mutated after the chunk completes; idempotent
// retries overwrite the whole artifact.
type ChunkArtifact struct {
	ConversationID  string             `json:"conversation_id"`
	ChunkIndex      int                `json:"chunk_index"`
	Descriptor      ChunkDescriptor    `json:"descriptor"`
	Segments        []Segment          `json:"segments,omitempty"`
	Speakers        []Speaker          `json:"speakers,omitempty"`
	Terms           []Term             `json:"terms,omitempty"`
	TermOccurrences []TermOccurrence   `json:"term_occurrences,omitempty"`
	Topics          []Topic            `json:"topics,omitempty"`
	People          []Person           `json:"people,omitempty"`
	EmittedContext  *ChunkContext      `json:"emitted_context,omitempty"`
	Signatures      []SpeakerSignature `json:"signatures,omitempty"`
}

// Transcript is the final merged output for a conversation.
type Transcript struct {
	ConversationID    string           `json:"conversation_id"`
	Segments          []Segment        `json:"segments"`
	Speakers          []Speaker        `json:"speakers,omitempty"`
	Terms             []Term           `json:"terms,omitempty"`
	TermOccurrences   []TermOccurrence `json:"term_occurrences,omitempty"`
	Topics            []Topic          `json:"topics,omitempty"`
	People            []Person         `json:"people,omitempty"`
	DurationMs        int64            `json:"duration_ms"`
	ChunkCount        int              `json:"chunk_count"`
	SpeakerConfidence float64          `json:"speaker_confidence,omitempty"`
	MergedAt          time.Time        `json:"merged_at"`
}

// Conversation is the per-conversation aggregate record. All shared mutable
// pipeline state lives here and is mutated only inside store transactions.
type Conversation struct {
	ID              string             `json:"id"`
	Mode            ProcessingMode     `json:"mode"`
	Status          ConversationStatus `json:"status"`
	SourceURI       string             `json:"source_uri,omitempty"`
	DurationMs      int64              `json:"duration_ms"`
	TotalChunks     int                `json:"total_chunks"`
	CompletedChunks int                `json:"completed_chunks"`
	Descriptors     []ChunkDescriptor  `json:"descriptors"`
	Chunks          []ChunkStatus      `json:"chunks"`
	Contexts        []ChunkContext     `json:"contexts,omitempty"`
	SeedContext     ChunkContext       `json:"seed_context"`
	MergeEnqueued   bool               `json:"merge_enqueued"`
	MergedAt        *time.Time         `json:"merged_at,omitempty"`
	Error           string             `json:"error,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}
