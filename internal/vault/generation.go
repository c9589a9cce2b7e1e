package vault

import "sync"

// generations versions the cached state of each user. A cache fill records
// the generation before it reads the store and is dropped if a write or
// purge bumped it in the meantime.
type generations struct {
	mu sync.Mutex
	m  map[string]uint64
}

func newGenerations() *generations {
	return &generations{m: make(map[string]uint64)}
}

func (g *generations) current(userID string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.m[userID]
}

// bump advances the user's generation and runs invalidate under the same
// lock, so no fill can slip in between.
func (g *generations) bump(userID string, invalidate func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.m[userID]++
	if invalidate != nil {
		invalidate()
	}
}

// fill runs add only if the user's generation is still gen.
func (g *generations) fill(userID string, gen uint64, add func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.m[userID] != gen {
		return false
	}
	add()
	return true
}
