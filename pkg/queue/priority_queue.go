package queue

import (
	"container/heap"
	"sync"

	"github.com/sirupsen/logrus"

	"data-harvester/pkg/models"
)

// --- Priority Queue Implementation ---

// PQItem represents an item in the priority queue
type PQItem struct {
	item  models.QueueItem
	seq   uint64 // Insertion order; breaks ties between equal priorities (FIFO)
	index int    // The index of the item in the heap (required by heap interface)
}

// PriorityQueue implements heap.Interface as a min-heap on (-priority, seq)
type PriorityQueue []*PQItem

func (pq PriorityQueue) Len() int { return len(pq) }

func (pq PriorityQueue) Less(i, j int) bool {
	if pq[i].item.Priority != pq[j].item.Priority {
		return pq[i].item.Priority > pq[j].item.Priority
	}
	return pq[i].seq < pq[j].seq
}

func (pq PriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

// Push adds an element to the heap
func (pq *PriorityQueue) Push(x any) {
	n := len(*pq)
	item := x.(*PQItem)
	item.index = n
	*pq = append(*pq, item)
}

// Pop removes and returns the last element of the underlying slice (heap.Pop moves the best item there first)
func (pq *PriorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // avoid memory leak
	item.index = -1 // for safety
	*pq = old[0 : n-1]
	return item
}

// ThreadSafePriorityQueue wraps PriorityQueue with concurrency controls.
// Highest priority is served first; equal priorities are served in insertion order.
type ThreadSafePriorityQueue struct {
	pq      PriorityQueue
	mu      sync.Mutex
	cond    *sync.Cond // Condition variable to wait for items
	closed  bool
	nextSeq uint64
	log     *logrus.Entry
}

// NewThreadSafePriorityQueue creates a new thread-safe priority queue
func NewThreadSafePriorityQueue(logger *logrus.Entry) *ThreadSafePriorityQueue {
	tspq := &ThreadSafePriorityQueue{log: logger}
	tspq.cond = sync.NewCond(&tspq.mu)
	heap.Init(&tspq.pq)
	return tspq
}

// Add pushes a work item onto the queue. It returns false, and drops the item,
// if the queue has already been closed.
func (tspq *ThreadSafePriorityQueue) Add(item models.QueueItem) bool {
	tspq.mu.Lock()
	defer tspq.mu.Unlock()

	if tspq.closed {
		tspq.log.Debugf("Attempted to add item to closed queue: %s", item.URL)
		return false
	}

	heap.Push(&tspq.pq, &PQItem{item: item, seq: tspq.nextSeq})
	tspq.nextSeq++
	tspq.cond.Signal() // Signal one waiting worker that an item is available
	return true
}

// Pop retrieves and removes the highest priority work item
// It blocks if the queue is empty until an item is added or the queue is closed
// Returns the item and true, or a zero item and false once the queue is closed.
// Items still queued at Close are abandoned.
func (tspq *ThreadSafePriorityQueue) Pop() (models.QueueItem, bool) {
	tspq.mu.Lock()
	defer tspq.mu.Unlock()

	for len(tspq.pq) == 0 && !tspq.closed {
		tspq.cond.Wait()
	}
	if tspq.closed {
		return models.QueueItem{}, false
	}

	pqItem := heap.Pop(&tspq.pq).(*PQItem)
	return pqItem.item, true
}

// Close signals that no more items will be added or served. It returns the
// number of items that were still queued and are now abandoned.
func (tspq *ThreadSafePriorityQueue) Close() int {
	tspq.mu.Lock()
	defer tspq.mu.Unlock()
	if tspq.closed {
		return 0
	}
	tspq.closed = true
	abandoned := len(tspq.pq)
	tspq.pq = nil
	tspq.cond.Broadcast() // Wake up ALL waiting workers so they can check the closed status
	return abandoned
}

// Len returns the current number of items in the queue (thread-safe)
func (tspq *ThreadSafePriorityQueue) Len() int {
	tspq.mu.Lock()
	defer tspq.mu.Unlock()
	return len(tspq.pq)
}
