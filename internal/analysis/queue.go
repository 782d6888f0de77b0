package analysis

import "sync"

// Queue collects chat ids awaiting analysis. Enqueueing the same chat twice
// before a drain yields one entry; the set is swapped out atomically at
// drain time so enqueues arriving mid-run land in the next run.
type Queue struct {
	mu      sync.Mutex
	pending map[string]struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{pending: make(map[string]struct{})}
}

// Add marks a chat as needing analysis.
func (q *Queue) Add(chatID string) {
	if chatID == "" {
		return
	}
	q.mu.Lock()
	q.pending[chatID] = struct{}{}
	q.mu.Unlock()
}

// Drain returns all queued chat ids and resets the queue.
func (q *Queue) Drain() []string {
	q.mu.Lock()
	pending := q.pending
	q.pending = make(map[string]struct{})
	q.mu.Unlock()

	out := make([]string, 0, len(pending))
	for id := range pending {
		out = append(out, id)
	}
	return out
}

// Len reports the number of chats awaiting analysis.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
