package stream

import (
	"sort"

	"chunkstream.ai/internal/space"
)

// Tracker is the set of loaded chunk ids.
type Tracker struct {
	loaded map[space.ChunkID]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{loaded: map[space.ChunkID]struct{}{}}
}

// TrySpawn adds id and reports whether it was absent.
func (t *Tracker) TrySpawn(id space.ChunkID) bool {
	if _, ok := t.loaded[id]; ok {
		return false
	}
	t.loaded[id] = struct{}{}
	return true
}

// TryDespawn removes id and reports whether it was present.
func (t *Tracker) TryDespawn(id space.ChunkID) bool {
	if _, ok := t.loaded[id]; !ok {
		return false
	}
	delete(t.loaded, id)
	return true
}

func (t *Tracker) Contains(id space.ChunkID) bool {
	_, ok := t.loaded[id]
	return ok
}

func (t *Tracker) Len() int { return len(t.loaded) }

// Loaded returns the loaded ids in coordinate order.
func (t *Tracker) Loaded() []space.ChunkID {
	out := make([]space.ChunkID, 0, len(t.loaded))
	for id := range t.loaded {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return space.LessChunk(out[i], out[j]) })
	return out
}
