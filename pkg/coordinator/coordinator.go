// Package coordinator wires the planner, state store, chunk workers and
// merger into the chunked-processing pipeline. Chunk tasks are assumed to
// be delivered at least once, so every state mutation here is idempotent
// under replay.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eternnoir/chunkscribe/pkg/dispatch"
	"github.com/eternnoir/chunkscribe/pkg/logger"
	"github.com/eternnoir/chunkscribe/pkg/pipeline"
	"github.com/eternnoir/chunkscribe/pkg/planner"
)

// Options configures the coordinator.
type Options struct {
	// Workers bounds concurrent chunk tasks in parallel mode.
	Workers int
	// WaitBackoff is the re-enqueue delay when a sequential chunk is
	// still waiting for its predecessor's context.
	WaitBackoff time.Duration
	// MaxWaitAttempts bounds how often a waiting chunk is re-enqueued.
	MaxWaitAttempts int
}

// DefaultOptions returns the coordinator defaults.
func DefaultOptions() Options {
	return Options{
		Workers:         3,
		WaitBackoff:     2 * time.Second,
		MaxWaitAttempts: 30,
	}
}

// Coordinator drives a conversation through plan, chunk execution and
// merge.
type Coordinator struct {
	planner    *planner.Planner
	store      Store
	processor  ChunkProcessor
	merger     Merger
	propagator *pipeline.ContextPropagator
	opts       Options
}

// NewCoordinator creates a coordinator.
func NewCoordinator(p *planner.Planner, store Store, processor ChunkProcessor, merger Merger, opts Options) *Coordinator {
	def := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.WaitBackoff <= 0 {
		opts.WaitBackoff = def.WaitBackoff
	}
	if opts.MaxWaitAttempts <= 0 {
		opts.MaxWaitAttempts = def.MaxWaitAttempts
	}
	return &Coordinator{
		planner:    p,
		store:      store,
		processor:  processor,
		merger:     merger,
		propagator: pipeline.NewContextPropagator(0),
		opts:       opts,
	}
}

// StartConversation plans chunk boundaries for an upload and persists the
// fresh conversation record. It returns the created conversation; chunk
// tasks are executed separately via Run or an external task queue.
func (c *Coordinator) StartConversation(sourceURI string, durationMs int64, silences []planner.SilenceInterval, mode pipeline.ProcessingMode) (*pipeline.Conversation, error) {
	log := logger.WithComponent("coordinator").WithField("source", sourceURI)

	descriptors, err := c.planner.PlanChunks(durationMs, silences)
	if err != nil {
		return nil, fmt.Errorf("chunk planning failed: %w", err)
	}
	for i := range descriptors {
		descriptors[i].SourceURI = sourceURI
	}

	conv := &pipeline.Conversation{
		ID:          uuid.NewString(),
		Mode:        mode,
		SourceURI:   sourceURI,
		DurationMs:  durationMs,
		Descriptors: descriptors,
		SeedContext: c.propagator.Seed(),
	}
	if err := c.store.CreateConversation(conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation record: %w", err)
	}

	log.Info().
		Str("conversation_id", conv.ID).
		Str("mode", string(mode)).
		Int("chunk_count", len(descriptors)).
		Int64("duration_ms", durationMs).
		Msg("Conversation planned")

	return conv, nil
}

// TaskPayloads builds the dispatchable task payloads for a planned
// conversation, one per chunk descriptor. Single-chunk conversations
// become a whole-file task.
func (c *Coordinator) TaskPayloads(conv *pipeline.Conversation) []*dispatch.TaskPayload {
	if len(conv.Descriptors) == 1 {
		return []*dispatch.TaskPayload{{
			Kind:           dispatch.TaskWholeFile,
			ConversationID: conv.ID,
			Mode:           conv.Mode,
			SourceURI:      conv.SourceURI,
		}}
	}

	payloads := make([]*dispatch.TaskPayload, 0, len(conv.Descriptors))
	for i := range conv.Descriptors {
		descriptor := conv.Descriptors[i]
		payloads = append(payloads, &dispatch.TaskPayload{
			Kind:           dispatch.TaskChunk,
			ConversationID: conv.ID,
			Mode:           conv.Mode,
			SourceURI:      conv.SourceURI,
			Descriptor:     &descriptor,
		})
	}
	return payloads
}

// Run executes all chunk tasks of a conversation in-process and triggers
// the merge when the last completion observes the guard. Parallel mode
// uses a bounded worker pool; sequential mode runs chunks in order,
// re-trying retriable waits with backoff.
func (c *Coordinator) Run(ctx context.Context, conversationID string) error {
	conv, err := c.store.GetConversation(conversationID)
	if err != nil {
		return err
	}

	if conv.Mode == pipeline.ModeSequential {
		return c.runSequential(ctx, conv)
	}
	return c.runParallel(ctx, conv)
}

// runParallel dispatches every chunk to a bounded worker pool. Workers
// never block on each other; speaker consistency is recovered at merge
// time by reconciliation.
func (c *Coordinator) runParallel(ctx context.Context, conv *pipeline.Conversation) error {
	log := logger.WithComponent("coordinator").WithField("conversation_id", conv.ID)
	log.Info().Int("workers", c.opts.Workers).Int("chunks", conv.TotalChunks).Msg("Starting parallel chunk execution")

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	semaphore := make(chan struct{}, c.opts.Workers)

	for i := range conv.Descriptors {
		wg.Add(1)
		go func(descriptor pipeline.ChunkDescriptor) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if err := c.executeChunk(ctx, conv.ID, descriptor, conv.SeedContext); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(conv.Descriptors[i])
	}

	wg.Wait()
	return firstErr
}

// runSequential executes chunks in index order. Each chunk first loads the
// context emitted by its predecessor; a retriable wait is retried with
// backoff, a terminal upstream failure stops the run.
func (c *Coordinator) runSequential(ctx context.Context, conv *pipeline.Conversation) error {
	log := logger.WithComponent("coordinator").WithField("conversation_id", conv.ID)
	log.Info().Int("chunks", conv.TotalChunks).Msg("Starting sequential chunk execution")

	for i := range conv.Descriptors {
		chunkCtx, err := c.awaitContext(ctx, conv.ID, i)
		if err != nil {
			return err
		}
		if err := c.executeChunk(ctx, conv.ID, conv.Descriptors[i], chunkCtx); err != nil {
			return err
		}
	}
	return nil
}

// awaitContext loads the consumable context for a chunk, re-trying
// retriable waits with backoff up to the configured attempt bound.
func (c *Coordinator) awaitContext(ctx context.Context, conversationID string, chunkIndex int) (pipeline.ChunkContext, error) {
	log := logger.WithComponent("coordinator").
		WithField("conversation_id", conversationID).
		WithField("chunk_index", chunkIndex)

	var lastErr error
	for attempt := 0; attempt < c.opts.MaxWaitAttempts; attempt++ {
		chunkCtx, err := c.store.LoadContext(conversationID, chunkIndex)
		if err == nil {
			return chunkCtx, nil
		}
		if pipeline.Classify(err) == pipeline.Terminal {
			return pipeline.ChunkContext{}, err
		}
		lastErr = err

		log.Debug().Err(err).Int("attempt", attempt).Dur("backoff", c.opts.WaitBackoff).Msg("Predecessor context not ready, backing off")
		select {
		case <-ctx.Done():
			return pipeline.ChunkContext{}, ctx.Err()
		case <-time.After(c.opts.WaitBackoff):
		}
	}
	return pipeline.ChunkContext{}, fmt.Errorf("gave up waiting for predecessor context after %d attempts: %w", c.opts.MaxWaitAttempts, lastErr)
}

// executeChunk runs one chunk task end to end: claim, process, persist the
// artifact, record completion and trigger the merge if this completion won
// the guard. Failures are recorded before being returned.
func (c *Coordinator) executeChunk(ctx context.Context, conversationID string, descriptor pipeline.ChunkDescriptor, chunkCtx pipeline.ChunkContext) error {
	log := logger.WithComponent("chunk-worker").
		WithField("conversation_id", conversationID).
		WithField("chunk_index", descriptor.ChunkIndex)

	if err := c.store.MarkProcessing(conversationID, descriptor.ChunkIndex); err != nil {
		return fmt.Errorf("failed to claim chunk %d: %w", descriptor.ChunkIndex, err)
	}

	log.Debug().
		Int64("start_ms", descriptor.StartMs).
		Int64("end_ms", descriptor.EndMs).
		Msg("Processing chunk")

	artifact, summary, err := c.processor.ProcessChunk(ctx, conversationID, descriptor, chunkCtx)
	if err != nil {
		log.Error().Err(err).Msg("Chunk processing failed")
		if markErr := c.store.MarkFailed(conversationID, descriptor.ChunkIndex, err); markErr != nil {
			log.Error().Err(markErr).Msg("Failed to record chunk failure")
		}
		return fmt.Errorf("chunk %d failed: %w", descriptor.ChunkIndex, err)
	}

	artifact.ConversationID = conversationID
	artifact.ChunkIndex = descriptor.ChunkIndex
	artifact.Descriptor = descriptor
	if err := c.store.PutArtifact(artifact); err != nil {
		_ = c.store.MarkFailed(conversationID, descriptor.ChunkIndex, err)
		return fmt.Errorf("failed to persist artifact for chunk %d: %w", descriptor.ChunkIndex, err)
	}

	emitted := c.propagator.Next(chunkCtx, artifact, summary)
	shouldMerge, err := c.store.MarkComplete(conversationID, descriptor.ChunkIndex, emitted)
	if err != nil {
		return fmt.Errorf("failed to record completion of chunk %d: %w", descriptor.ChunkIndex, err)
	}

	log.Debug().Int("segments", len(artifact.Segments)).Bool("triggers_merge", shouldMerge).Msg("Chunk completed")

	if shouldMerge {
		log.Info().Msg("All chunks complete, running merge")
		if err := c.merger.MergeChunks(conversationID); err != nil {
			return fmt.Errorf("merge failed: %w", err)
		}
	}
	return nil
}

// HandleTask is the worker entry point for externally dispatched payloads.
// Delivery is at least once; replays are absorbed by the idempotent state
// transitions and artifact overwrites.
func (c *Coordinator) HandleTask(ctx context.Context, payload *dispatch.TaskPayload) error {
	if err := payload.Validate(); err != nil {
		return err
	}

	switch payload.Kind {
	case dispatch.TaskMerge:
		return c.merger.MergeChunks(payload.ConversationID)
	case dispatch.TaskWholeFile:
		conv, err := c.store.GetConversation(payload.ConversationID)
		if err != nil {
			return err
		}
		if len(conv.Descriptors) != 1 {
			return fmt.Errorf("whole-file task for %s but %d chunks planned", conv.ID, len(conv.Descriptors))
		}
		return c.executeChunk(ctx, conv.ID, conv.Descriptors[0], conv.SeedContext)
	case dispatch.TaskChunk:
		chunkCtx, err := c.loadTaskContext(payload)
		if err != nil {
			return err
		}
		return c.executeChunk(ctx, payload.ConversationID, *payload.Descriptor, chunkCtx)
	default:
		return fmt.Errorf("unknown task kind %q", payload.Kind)
	}
}

// loadTaskContext resolves the context a dispatched chunk task consumes.
// In parallel mode every chunk starts from the seed; in sequential mode a
// missing predecessor context surfaces as a retriable or terminal error
// for the dispatch layer to classify.
func (c *Coordinator) loadTaskContext(payload *dispatch.TaskPayload) (pipeline.ChunkContext, error) {
	if payload.Mode == pipeline.ModeParallel {
		conv, err := c.store.GetConversation(payload.ConversationID)
		if err != nil {
			return pipeline.ChunkContext{}, err
		}
		return conv.SeedContext, nil
	}

	return c.store.LoadContext(payload.ConversationID, payload.Descriptor.ChunkIndex)
}
