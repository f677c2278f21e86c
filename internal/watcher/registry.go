package watcher

import (
	"sort"
	"sync"

	"overunder/internal/domain"
)

// Pair is the over and under address watched for one game.
type Pair [2]string

// Address returns the watched address of side.
func (p Pair) Address(side domain.Side) string {
	if side == domain.SideOver {
		return p[0]
	}
	return p[1]
}

// Registry tracks the games a watcher is subscribed to. A game holds at
// most one Pair; adding a game twice is a no-op.
type Registry struct {
	mu    sync.Mutex
	games map[int64]Pair
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{games: make(map[int64]Pair)}
}

// Add registers a game. It reports false if the game is already present.
func (r *Registry) Add(gameID int64, p Pair) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.games[gameID]; ok {
		return false
	}
	r.games[gameID] = p
	return true
}

// Remove drops a game and returns its Pair.
func (r *Registry) Remove(gameID int64) (Pair, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.games[gameID]
	if ok {
		delete(r.games, gameID)
	}
	return p, ok
}

// Has reports whether a game is registered.
func (r *Registry) Has(gameID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.games[gameID]
	return ok
}

// Len returns the number of registered games.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.games)
}

// IDs returns the registered game IDs in ascending order.
func (r *Registry) IDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.games))
	for id := range r.games {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Diff compares the registry with the wanted games. It returns the games
// to add and the IDs to remove; the registry itself is not changed.
func (r *Registry) Diff(want map[int64]Pair) (add map[int64]Pair, remove []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	add = make(map[int64]Pair)
	for id, p := range want {
		if _, ok := r.games[id]; !ok {
			add[id] = p
		}
	}
	for id := range r.games {
		if _, ok := want[id]; !ok {
			remove = append(remove, id)
		}
	}
	sort.Slice(remove, func(i, j int) bool { return remove[i] < remove[j] })
	return add, remove
}
