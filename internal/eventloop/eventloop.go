// Package eventloop schedules the timers of a single worker. It owns no
// goroutine: the isolate's goroutine asks for the next deadline, sleeps
// until it or an inbound message arrives, and fires what is due.
package eventloop

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/cryguy/spawn/internal/core"
)

// MinInterval is the shortest period a repeating timer runs at.
const MinInterval = 10 * time.Millisecond

type timer struct {
	id     int
	due    time.Time
	period time.Duration
	index  int
}

// queue orders timers by due time, then by id so equal deadlines fire in
// registration order.
type queue []*timer

func (q queue) Len() int { return len(q) }
func (q queue) Less(i, j int) bool {
	if q[i].due.Equal(q[j].due) {
		return q[i].id < q[j].id
	}
	return q[i].due.Before(q[j].due)
}
func (q queue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}
func (q *queue) Push(x any) {
	t := x.(*timer)
	t.index = len(*q)
	*q = append(*q, t)
}
func (q *queue) Pop() any {
	old := *q
	t := old[len(old)-1]
	old[len(old)-1] = nil
	*q = old[:len(old)-1]
	return t
}

// EventLoop tracks pending setTimeout and setInterval timers. Callbacks
// live on the JS side in globalThis.__spawn_timers, keyed by id.
type EventLoop struct {
	mu     sync.Mutex
	q      queue
	byID   map[int]*timer
	lastID int
}

func New() *EventLoop {
	return &EventLoop{byID: make(map[int]*timer)}
}

// RegisterTimer schedules a timer delay from now and returns its id.
// Repeating timers are clamped to MinInterval.
func (el *EventLoop) RegisterTimer(delay time.Duration, repeat bool) int {
	delay = max(delay, 0)
	el.mu.Lock()
	defer el.mu.Unlock()
	el.lastID++
	t := &timer{id: el.lastID, due: time.Now().Add(delay)}
	if repeat {
		t.period = max(delay, MinInterval)
	}
	heap.Push(&el.q, t)
	el.byID[t.id] = t
	return t.id
}

// ClearTimer cancels a timer. Unknown ids are ignored.
func (el *EventLoop) ClearTimer(id int) {
	el.mu.Lock()
	defer el.mu.Unlock()
	if t, ok := el.byID[id]; ok {
		heap.Remove(&el.q, t.index)
		delete(el.byID, id)
	}
}

// NextDeadline reports when the earliest timer is due.
func (el *EventLoop) NextDeadline() (time.Time, bool) {
	el.mu.Lock()
	defer el.mu.Unlock()
	if len(el.q) == 0 {
		return time.Time{}, false
	}
	return el.q[0].due, true
}

// pop removes the earliest timer due at or before now, rescheduling it
// first if it repeats.
func (el *EventLoop) pop(now time.Time) (int, bool) {
	el.mu.Lock()
	defer el.mu.Unlock()
	if len(el.q) == 0 || el.q[0].due.After(now) {
		return 0, false
	}
	t := el.q[0]
	if t.period > 0 {
		t.due = now.Add(t.period)
		heap.Fix(&el.q, 0)
	} else {
		heap.Pop(&el.q)
		delete(el.byID, t.id)
	}
	return t.id, true
}

// FireDue runs every callback due at or before now and drains microtasks
// after each one. It must be called on the goroutine that owns rt and
// returns how many callbacks ran.
func (el *EventLoop) FireDue(rt core.JSRuntime, now time.Time) int {
	n := 0
	for {
		id, ok := el.pop(now)
		if !ok {
			return n
		}
		_ = rt.Eval(fmt.Sprintf("globalThis.__spawn_timers.fire(%d)", id))
		rt.RunMicrotasks()
		n++
	}
}

func (el *EventLoop) HasPending() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return len(el.q) > 0
}

// Reset drops every timer and restarts ids at 1.
func (el *EventLoop) Reset() {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.q = nil
	el.byID = make(map[int]*timer)
	el.lastID = 0
}
