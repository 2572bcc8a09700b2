package jetstream

import (
	"sync/atomic"
	"time"
)

// Tracker records the time_us of the last event the consumer accepted. It
// only moves forward. Reads are lock-free snapshots and may come from any
// goroutine; Observe is called by the dispatcher alone.
type Tracker struct {
	cursor    atomic.Int64 // 0 = nothing delivered and no initial cursor
	committed atomic.Int64

	commitEveryNS int64
	lastCommitNS  atomic.Int64
	now           func() time.Time
}

func NewTracker(initial int64, commitEvery time.Duration) *Tracker {
	t := &Tracker{commitEveryNS: commitEvery.Nanoseconds(), now: time.Now}
	if initial > 0 {
		t.cursor.Store(initial)
		t.committed.Store(initial)
	}
	t.lastCommitNS.Store(t.now().UnixNano())
	return t
}

// Observe advances the cursor to max(current, ts) and reports whether a
// checkpoint is due.
func (t *Tracker) Observe(ts int64) (cursor int64, checkpointDue bool) {
	for {
		cur := t.cursor.Load()
		if ts <= cur {
			cursor = cur
			break
		}
		if t.cursor.CompareAndSwap(cur, ts) {
			cursor = ts
			break
		}
	}
	now := t.now().UnixNano()
	if cursor > t.committed.Load() && t.lastCommitNS.Load()+t.commitEveryNS <= now {
		return cursor, true
	}
	return cursor, false
}

// Current returns the cursor and whether one exists.
func (t *Tracker) Current() (int64, bool) {
	c := t.cursor.Load()
	return c, c > 0
}

// Checkpoint marks the current cursor as handed out and returns it. ok is
// false when nothing changed since the previous checkpoint.
func (t *Tracker) Checkpoint() (cursor int64, ok bool) {
	cursor = t.cursor.Load()
	t.lastCommitNS.Store(t.now().UnixNano())
	for {
		prev := t.committed.Load()
		if cursor <= prev {
			return cursor, false
		}
		if t.committed.CompareAndSwap(prev, cursor) {
			return cursor, true
		}
	}
}
