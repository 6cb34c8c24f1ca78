package habits

import "sync"

// lockMap hands out one mutex per key so completions for the same
// (habit, date) serialize while unrelated habits proceed in parallel.
// Mutexes are never evicted; the key space is bounded by habits a user
// actually touches in one process lifetime.
type lockMap struct {
	mu      sync.Mutex
	mutexes map[string]*sync.Mutex
}

func newLockMap() *lockMap {
	return &lockMap{mutexes: make(map[string]*sync.Mutex)}
}

func (l *lockMap) Lock(key string) {
	l.getMutex(key).Lock()
}

func (l *lockMap) Unlock(key string) {
	l.getMutex(key).Unlock()
}

func (l *lockMap) getMutex(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	if mu, ok := l.mutexes[key]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	l.mutexes[key] = mu
	return mu
}
