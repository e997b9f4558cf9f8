// Package timers keeps the pending scheduled actions of one worker, ordered
// by due time.
package timers

import (
	"math"
	"sort"
	"time"

	"github.com/zond/juiceworker/heap"
	"github.com/zond/juiceworker/metrics"
)

// Action is what fires when a timer is due.
type Action interface {
	Fire()
}

// ActionFunc adapts a function to an Action.
type ActionFunc func()

func (f ActionFunc) Fire() {
	f()
}

// Info describes a pending timer.
type Info struct {
	ID       int32
	Due      time.Time
	Interval time.Duration
	Repeat   bool
	Action   Action
}

type entry struct {
	Info
	seq   uint64
	index int
}

type Options struct {
	// Clock defaults to time.Now.
	Clock func() time.Time
	// MinDelay is the smallest delay a timer can be scheduled with.
	MinDelay time.Duration
	Metrics  *metrics.Metrics
}

// Table is not safe for concurrent use; it belongs to the worker goroutine.
type Table struct {
	entries  map[int32]*entry
	queue    *heap.Heap[*entry]
	nextID   int32
	nextSeq  uint64
	clock    func() time.Time
	minDelay time.Duration
	metrics  *metrics.Metrics
}

func New(opts Options) *Table {
	t := &Table{
		entries:  map[int32]*entry{},
		nextID:   1,
		clock:    opts.Clock,
		minDelay: opts.MinDelay,
		metrics:  opts.Metrics,
	}
	if t.clock == nil {
		t.clock = time.Now
	}
	t.queue = heap.New(func(a, b *entry) bool {
		if a.Due.Equal(b.Due) {
			return a.seq < b.seq
		}
		return a.Due.Before(b.Due)
	}, func(e *entry, index int) {
		e.index = index
	})
	return t
}

// Now returns the table clock.
func (t *Table) Now() time.Time {
	return t.clock()
}

// IssueID returns a fresh id without scheduling anything under it.
func (t *Table) IssueID() int32 {
	return t.issueID()
}

func (t *Table) issueID() int32 {
	for {
		id := t.nextID
		if t.nextID == math.MaxInt32 {
			t.nextID = 1
		} else {
			t.nextID++
		}
		if _, pending := t.entries[id]; !pending {
			return id
		}
	}
}

func (t *Table) clamp(delay time.Duration) time.Duration {
	if delay < 0 {
		delay = 0
	}
	if delay < t.minDelay {
		delay = t.minDelay
	}
	return delay
}

// Schedule registers action to fire after delay, and then every delay if
// repeat is set. Negative delays count as zero. The returned id is positive
// and not shared with any other pending timer.
func (t *Table) Schedule(action Action, delay time.Duration, repeat bool) int32 {
	delay = t.clamp(delay)
	e := &entry{
		Info: Info{
			ID:       t.issueID(),
			Due:      t.clock().Add(delay),
			Interval: delay,
			Repeat:   repeat,
			Action:   action,
		},
		seq: t.nextSeq,
	}
	t.nextSeq++
	t.entries[e.ID] = e
	t.queue.Push(e)
	t.metrics.TimerScheduled(repeat)
	return e.ID
}

// Cancel removes a pending timer. Unknown ids are ignored.
func (t *Table) Cancel(id int32) bool {
	e, found := t.entries[id]
	if !found {
		return false
	}
	delete(t.entries, id)
	if e.index >= 0 {
		t.queue.Remove(e.index)
	}
	t.metrics.TimerCancelled()
	return true
}

// Clear cancels every pending timer.
func (t *Table) Clear() {
	for id := range t.entries {
		t.Cancel(id)
	}
}

func (t *Table) Has(id int32) bool {
	_, found := t.entries[id]
	return found
}

func (t *Table) Len() int {
	return len(t.entries)
}

// Each visits the pending actions, in no particular order.
func (t *Table) Each(f func(id int32, action Action)) {
	for id, e := range t.entries {
		f(id, e.Action)
	}
}

// Pending returns the pending timers sorted by due time.
func (t *Table) Pending() []Info {
	result := make([]Info, 0, len(t.entries))
	for _, e := range t.entries {
		result = append(result, e.Info)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Due.Equal(result[j].Due) {
			return result[i].ID < result[j].ID
		}
		return result[i].Due.Before(result[j].Due)
	})
	return result
}

// NextDue returns when the earliest pending timer is due.
func (t *Table) NextDue() (time.Time, bool) {
	e, found := t.queue.Peek()
	if !found {
		return time.Time{}, false
	}
	return e.Due, true
}

// RunDue fires every timer due at now, in due order. One-shot timers leave
// the table before they fire; repeating ones are re-armed first, so an
// action may cancel itself. Timers scheduled while running wait for the
// next call. It returns the number of actions fired.
func (t *Table) RunDue(now time.Time) int {
	limit := t.nextSeq
	fired := 0
	for {
		e, found := t.queue.Peek()
		if !found || e.Due.After(now) || e.seq >= limit {
			return fired
		}
		if e.Repeat {
			interval := e.Interval
			if interval < time.Millisecond {
				interval = time.Millisecond
			}
			e.Due = now.Add(interval)
			e.seq = t.nextSeq
			t.nextSeq++
			t.queue.Fix(e.index)
		} else {
			t.queue.Pop()
			delete(t.entries, e.ID)
		}
		t.metrics.TimerFired(e.Repeat)
		fired++
		e.Action.Fire()
	}
}
