package pipeline

import (
	"sync"

	"github.com/medintel/geocoding-service/internal/domain"
)

// workItem is one unique normalized address scheduled for resolution,
// with the entity ids of every input address that collapsed onto it.
type workItem struct {
	job       *job
	addr      domain.NormalizedAddress
	entityIDs []string
}

// workQueue is a blocking three-level priority queue drained by the
// worker pool. Priority affects ordering only, never correctness: a free
// worker always takes the highest-priority item available.
type workQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	closed bool
	levels [3][]*workItem // indexed by domain.Priority
}

func newWorkQueue() *workQueue {
	q := &workQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *workQueue) push(item *workItem, p domain.Priority) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.levels[p] = append(q.levels[p], item)
	q.cond.Signal()
}

// pop blocks until an item is available or the queue is closed.
// Returns false only on close.
func (q *workQueue) pop() (*workItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		for p := int(domain.PriorityHigh); p >= int(domain.PriorityLow); p-- {
			if len(q.levels[p]) > 0 {
				item := q.levels[p][0]
				q.levels[p] = q.levels[p][1:]
				return item, true
			}
		}
		if q.closed {
			return nil, false
		}
		q.cond.Wait()
	}
}

// close wakes all blocked workers. Queued items are discarded.
func (q *workQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
