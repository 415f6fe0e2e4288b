package agent

import "sync"

// CompletionSignal is the indexer's single cooperative cancellation
// signal (spec.md §4.2 "quiesce", §5 "completion_position.has_completed()
// is the single cooperative cancellation signal for the indexer").
// Declaring completion records, for each publisher stream, the highest
// log position that will ever be published; a quiescing indexer drains
// up to exactly that position and drops anything beyond it as
// post-termination.
type CompletionSignal struct {
	mu        sync.Mutex
	completed bool
	positions map[int32]int64
}

// NewCompletionSignal returns an un-declared completion signal.
func NewCompletionSignal() *CompletionSignal {
	return &CompletionSignal{positions: make(map[int32]int64)}
}

// Declare marks completion and records the final position for each
// stream id in positions. Safe to call before the consumer has started;
// HasCompleted and CompletedPosition observe it immediately.
func (c *CompletionSignal) Declare(positions map[int32]int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.completed = true

	for streamID, pos := range positions {
		c.positions[streamID] = pos
	}
}

// HasCompleted reports whether Declare has been called.
func (c *CompletionSignal) HasCompleted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.completed
}

// CompletedPosition returns the final position declared for streamID,
// and whether one was recorded.
func (c *CompletionSignal) CompletedPosition(streamID int32) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos, ok := c.positions[streamID]

	return pos, ok
}
