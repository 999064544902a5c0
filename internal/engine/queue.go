package engine

import (
	"container/heap"
	"time"

	"github.com/talgya/daysim/internal/agents"
	"github.com/talgya/daysim/internal/mobility"
)

// wakeup is the moment an agent's current activity ends.
type wakeup struct {
	at      time.Time
	id      agents.AgentID
	planner *mobility.Planner
}

// eventQueue is a min-heap of wakeups ordered by time, then agent ID.
type eventQueue []wakeup

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if !q[i].at.Equal(q[j].at) {
		return q[i].at.Before(q[j].at)
	}
	return q[i].id < q[j].id
}

func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eventQueue) Push(x any) { *q = append(*q, x.(wakeup)) }

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	w := old[n-1]
	old[n-1] = wakeup{}
	*q = old[:n-1]
	return w
}

func (q *eventQueue) push(at time.Time, p *mobility.Planner) {
	heap.Push(q, wakeup{at: at, id: p.Agent().ID, planner: p})
}

// next returns the earliest wakeup time. The queue must not be empty.
func (q eventQueue) next() time.Time {
	return q[0].at
}

// popDue removes every wakeup at or before now, in agent ID order for
// equal times.
func (q *eventQueue) popDue(now time.Time) []*mobility.Planner {
	var out []*mobility.Planner
	for q.Len() > 0 && !(*q)[0].at.After(now) {
		out = append(out, heap.Pop(q).(wakeup).planner)
	}
	return out
}
