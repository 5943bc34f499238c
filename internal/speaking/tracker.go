package speaking

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Snapshot is a copy of the speaking map at one point in time.
type Snapshot map[string]bool

// Speakers returns the IDs currently marked as speaking.
func (s Snapshot) Speakers() []string {
	var ids []string
	for id, on := range s {
		if on {
			ids = append(ids, id)
		}
	}
	return ids
}

// Tracker owns the participant → speaking map for one room session.
// Every update is applied against the current map under the tracker's lock,
// so concurrent detector callbacks never overwrite each other.
type Tracker struct {
	mu     sync.Mutex
	state  map[string]bool
	subs   map[int]chan Snapshot
	nextID int
	closed bool
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		state: make(map[string]bool),
		subs:  make(map[int]chan Snapshot),
	}
}

// Set records whether id is speaking. It reports whether the map changed;
// a repeated identical update is a no-op and publishes nothing.
func (t *Tracker) Set(id string, speaking bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}
	if cur, ok := t.state[id]; ok && cur == speaking {
		return false
	}
	t.state[id] = speaking

	log.Debug().Str("module", "speaking").Str("participant", id).Bool("speaking", speaking).Msg("speaking state changed")
	t.publishLocked()
	return true
}

// Track registers id as not speaking unless it already has an entry.
func (t *Tracker) Track(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	if _, ok := t.state[id]; ok {
		return
	}
	t.state[id] = false
	t.publishLocked()
}

// Remove drops id from the map.
func (t *Tracker) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	if _, ok := t.state[id]; !ok {
		return
	}
	delete(t.state, id)
	t.publishLocked()
}

// Get returns the state for id and whether it is tracked.
func (t *Tracker) Get(id string) (speaking, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	speaking, ok = t.state[id]
	return speaking, ok
}

// Snapshot returns a copy of the current map.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Subscribe returns a channel receiving the whole map after every change.
// Slow subscribers only see the latest snapshot. The returned func
// unsubscribes and closes the channel.
func (t *Tracker) Subscribe() (<-chan Snapshot, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan Snapshot, 1)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch
	ch <- t.snapshotLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if sub, ok := t.subs[id]; ok {
				delete(t.subs, id)
				close(sub)
			}
		})
	}
}

// Close detaches all subscribers; later updates are ignored.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true
	for id, ch := range t.subs {
		delete(t.subs, id)
		close(ch)
	}
}

func (t *Tracker) snapshotLocked() Snapshot {
	out := make(Snapshot, len(t.state))
	for id, v := range t.state {
		out[id] = v
	}
	return out
}

func (t *Tracker) publishLocked() {
	snap := t.snapshotLocked()
	for _, ch := range t.subs {
		// keep only the newest snapshot for slow readers
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
