package peer

import "vico_home/actorcast/internal/domain"

// CandidateQueue buffers remote candidates per sender until that sender's
// remote description has been applied.
type CandidateQueue struct {
	pending map[string][]domain.ICECandidatePayload
}

// NewCandidateQueue creates an empty queue.
func NewCandidateQueue() *CandidateQueue {
	return &CandidateQueue{pending: make(map[string][]domain.ICECandidatePayload)}
}

// MaxQueuedCandidates bounds each sender's queue.
const MaxQueuedCandidates = 64

// Push appends c to from's queue and returns how many queued candidates it
// displaced. A candidate from a newer negotiation round discards the older
// round's candidates; beyond MaxQueuedCandidates the oldest is dropped.
func (q *CandidateQueue) Push(from string, c domain.ICECandidatePayload) (dropped int) {
	queued := q.pending[from]
	if n := len(queued); n > 0 && c.Negotiation != "" && queued[n-1].Negotiation != c.Negotiation {
		dropped = n
		queued = queued[:0]
	}
	if len(queued) >= MaxQueuedCandidates {
		over := len(queued) - MaxQueuedCandidates + 1
		dropped += over
		queued = append(queued[:0], queued[over:]...)
	}
	q.pending[from] = append(queued, c)
	return dropped
}

// Drain returns from's candidates in arrival order and clears them.
func (q *CandidateQueue) Drain(from string) []domain.ICECandidatePayload {
	out := q.pending[from]
	delete(q.pending, from)
	return out
}

// Len returns the number of candidates queued for from.
func (q *CandidateQueue) Len(from string) int {
	return len(q.pending[from])
}

// Drop discards from's candidates.
func (q *CandidateQueue) Drop(from string) {
	delete(q.pending, from)
}

// Reset discards everything.
func (q *CandidateQueue) Reset() {
	q.pending = make(map[string][]domain.ICECandidatePayload)
}
