package scheduler

import (
	"container/heap"

	"github.com/theravoice/theravoice/internal/job"
)

// entry is one pending job in the timer queue
type entry struct {
	job   *job.Job
	seq   uint64 // registration order, breaks FireAt ties
	index int    // position in the heap, -1 once removed
}

// timerQueue is a min-heap ordered by (FireAt, seq)
type timerQueue []*entry

var _ heap.Interface = (*timerQueue)(nil)

func (q timerQueue) Len() int { return len(q) }

func (q timerQueue) Less(i, j int) bool {
	a, b := q[i].job.FireAt, q[j].job.FireAt
	if a.Equal(b) {
		return q[i].seq < q[j].seq
	}
	return a.Before(b)
}

func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *timerQueue) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *timerQueue) Pop() interface{} {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

// peek returns the earliest entry without removing it
func (q timerQueue) peek() *entry {
	if len(q) == 0 {
		return nil
	}
	return q[0]
}
