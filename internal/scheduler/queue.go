package scheduler

import (
	"container/heap"
	"time"
)

// queueItem is one pending task in the priority queue.
type queueItem struct {
	taskID    string
	priority  int
	createdAt time.Time

	// readyAt delays dispatch of requeued tasks (retry backoff).
	readyAt time.Time
}

// taskQueue is a max-heap keyed (priority DESC, createdAt ASC).
type taskQueue []*queueItem

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].createdAt.Before(q[j].createdAt)
}

func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *taskQueue) Push(x any) { *q = append(*q, x.(*queueItem)) }

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// drainOrdered removes and returns all items in dispatch order.
// The caller pushes back the ones it does not consume.
func (q *taskQueue) drainOrdered() []*queueItem {
	out := make([]*queueItem, 0, q.Len())
	for q.Len() > 0 {
		out = append(out, heap.Pop(q).(*queueItem))
	}
	return out
}

// remove deletes the item for taskID, if present.
func (q *taskQueue) remove(taskID string) {
	for i, item := range *q {
		if item.taskID == taskID {
			heap.Remove(q, i)
			return
		}
	}
}
