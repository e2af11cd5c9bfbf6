package tracking

import (
	"sync"
	"time"
)

// timerRegistry owns every timer a session starts so teardown can stop them
// in one step. After clear, new timers are refused.
type timerRegistry struct {
	mu      sync.Mutex
	timers  map[int]*time.Timer
	nextID  int
	cleared bool
}

func newTimerRegistry() *timerRegistry {
	return &timerRegistry{timers: make(map[int]*time.Timer)}
}

// after runs fn once d has elapsed and returns an id for stop. It returns -1
// when the registry has been cleared.
func (r *timerRegistry) after(d time.Duration, fn func()) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cleared {
		return -1
	}

	id := r.nextID
	r.nextID++
	r.timers[id] = time.AfterFunc(d, func() {
		r.mu.Lock()
		_, live := r.timers[id]
		delete(r.timers, id)
		r.mu.Unlock()
		if live {
			fn()
		}
	})
	return id
}

// stop cancels one timer. Unknown or already fired ids are ignored.
func (r *timerRegistry) stop(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[id]; ok {
		t.Stop()
		delete(r.timers, id)
	}
}

func (r *timerRegistry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
	r.cleared = true
}

func (r *timerRegistry) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}
