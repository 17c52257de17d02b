package pipeline

import (
	"errors"
	"fmt"
)

// Coordination errors. These always indicate a setup or programming bug and
// must never be retried silently.
var (
	ErrConversationNotFound = errors.New("conversation record not found")
	ErrChunkNotFound        = errors.New("chunk status entry not found")
)

// ErrorClass tells the dispatch layer whether a failed chunk task should be
// re-enqueued or dropped.
type ErrorClass int

const (
	// Terminal errors must not be retried.
	Terminal ErrorClass = iota
	// Retriable errors should be re-enqueued with backoff.
	Retriable
)

func (c ErrorClass) String() string {
	if c == Retriable {
		return "retriable"
	}
	return "terminal"
}

// WaitError signals that a chunk cannot run yet because its predecessor has
// not emitted a context. Callers re-enqueue with backoff.
type WaitError struct {
	ChunkIndex  int
	Predecessor int
	State       ChunkState
}

func (e *WaitError) Error() string {
	return fmt.Sprintf("chunk %d is waiting for context from chunk %d (still %s)", e.ChunkIndex, e.Predecessor, e.State)
}

// UpstreamFailedError signals that a predecessor chunk failed, so dependent
// chunks must stop rather than spin.
type UpstreamFailedError struct {
	ChunkIndex  int
	Predecessor int
	Cause       string
}

func (e *UpstreamFailedError) Error() string {
	return fmt.Sprintf("chunk %d cannot run: chunk %d failed: %s", e.ChunkIndex, e.Predecessor, e.Cause)
}

// Classify maps an error to its retry class. Only explicit waits are
// retriable; everything else, including coordination errors, is terminal.
func Classify(err error) ErrorClass {
	var wait *WaitError
	if errors.As(err, &wait) {
		return Retriable
	}
	return Terminal
}
