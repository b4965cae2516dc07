package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/vheckthor/goose-sub001/pkg/message"
)

// inboxSize bounds the confirmation and tool-result queues. A full queue
// rejects the submission instead of blocking the caller.
const inboxSize = 32

// Confirmation is a user decision on a pending tool request.
type Confirmation struct {
	ID       string `json:"id"`
	Approved bool   `json:"approved"`
}

// ToolResult is a frontend-executed tool outcome, paired to its request
// by ID.
type ToolResult struct {
	ID      string            `json:"id"`
	Content []message.Content `json:"content,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// broker correlates out-of-band submissions (user confirmations, frontend
// tool results) with the dispatch goroutines waiting on them. Submissions
// that arrive before a waiter registers are buffered so neither side can
// miss the other.
type broker struct {
	mu sync.Mutex

	confirmations chan Confirmation
	toolResults   chan ToolResult

	confirmWaiters map[string]chan bool
	pendingConfirm map[string]bool

	resultWaiters map[string]chan ToolResult
	pendingResult map[string]ToolResult

	done chan struct{}
}

func newBroker() *broker {
	b := &broker{
		confirmations:  make(chan Confirmation, inboxSize),
		toolResults:    make(chan ToolResult, inboxSize),
		confirmWaiters: map[string]chan bool{},
		pendingConfirm: map[string]bool{},
		resultWaiters:  map[string]chan ToolResult{},
		pendingResult:  map[string]ToolResult{},
		done:           make(chan struct{}),
	}
	go b.route()
	return b
}

// route drains the inboxes and hands each submission to its waiter, or
// parks it until the waiter shows up.
func (b *broker) route() {
	for {
		select {
		case <-b.done:
			return
		case c := <-b.confirmations:
			b.mu.Lock()
			if ch, ok := b.confirmWaiters[c.ID]; ok {
				delete(b.confirmWaiters, c.ID)
				ch <- c.Approved
			} else {
				b.pendingConfirm[c.ID] = c.Approved
			}
			b.mu.Unlock()
		case r := <-b.toolResults:
			b.mu.Lock()
			if ch, ok := b.resultWaiters[r.ID]; ok {
				delete(b.resultWaiters, r.ID)
				ch <- r
			} else {
				b.pendingResult[r.ID] = r
			}
			b.mu.Unlock()
		}
	}
}

func (b *broker) close() {
	close(b.done)
}

// submitConfirmation enqueues a user decision. It fails rather than blocks
// when the queue is full.
func (b *broker) submitConfirmation(c Confirmation) error {
	select {
	case b.confirmations <- c:
		return nil
	default:
		return fmt.Errorf("confirmation queue full (capacity %d)", inboxSize)
	}
}

// submitToolResult enqueues a frontend tool result.
func (b *broker) submitToolResult(r ToolResult) error {
	select {
	case b.toolResults <- r:
		return nil
	default:
		return fmt.Errorf("tool result queue full (capacity %d)", inboxSize)
	}
}

// awaitConfirmation blocks until the decision for id arrives or ctx ends.
func (b *broker) awaitConfirmation(ctx context.Context, id string) (bool, error) {
	b.mu.Lock()
	if approved, ok := b.pendingConfirm[id]; ok {
		delete(b.pendingConfirm, id)
		b.mu.Unlock()
		return approved, nil
	}
	ch := make(chan bool, 1)
	b.confirmWaiters[id] = ch
	b.mu.Unlock()

	select {
	case approved := <-ch:
		return approved, nil
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.confirmWaiters, id)
		b.mu.Unlock()
		return false, ctx.Err()
	}
}

// awaitToolResult blocks until the frontend result for id arrives or ctx
// ends.
func (b *broker) awaitToolResult(ctx context.Context, id string) (ToolResult, error) {
	b.mu.Lock()
	if r, ok := b.pendingResult[id]; ok {
		delete(b.pendingResult, id)
		b.mu.Unlock()
		return r, nil
	}
	ch := make(chan ToolResult, 1)
	b.resultWaiters[id] = ch
	b.mu.Unlock()

	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.resultWaiters, id)
		b.mu.Unlock()
		return ToolResult{}, ctx.Err()
	}
}
