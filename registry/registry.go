// Package registry maps remote file indices to display metadata.
//
// The remote endpoint is authoritative: every FileMeta it announces is
// upserted here, and the whole registry is cleared when the client
// reconnects because indices from a previous connection may no longer
// mean anything.
package registry

import (
	"sort"
	"sync"
)

// Entry is what the client knows about one remote file.
type Entry struct {
	Index    uint64
	FileName string
	Size     *uint64 // nil when the endpoint did not report one
}

// Registry is safe for concurrent use. In practice only the consuming
// context writes to it; other goroutines may read.
type Registry struct {
	mu      sync.RWMutex
	entries map[uint64]Entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[uint64]Entry)}
}

// Register upserts the entry for index. An existing entry is overwritten.
func (r *Registry) Register(index uint64, fileName string, size *uint64) {
	e := Entry{Index: index, FileName: fileName, Size: size}.clone()

	r.mu.Lock()
	r.entries[index] = e
	r.mu.Unlock()
}

// Resolve returns the entry for index, or false if none is registered.
func (r *Registry) Resolve(index uint64) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[index]
	return e.clone(), ok
}

// Find returns every entry named fileName, lowest index first.
// Names are not unique; callers decide which index they mean.
func (r *Registry) Find(fileName string) []Entry {
	r.mu.RLock()
	var out []Entry
	for _, e := range r.entries {
		if e.FileName == fileName {
			out = append(out, e.clone())
		}
	}
	r.mu.RUnlock()

	sortByIndex(out)
	return out
}

// Entries returns a snapshot of the registry ordered by index.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.clone())
	}
	r.mu.RUnlock()

	sortByIndex(out)
	return out
}

// Reset forgets every entry.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.entries = make(map[uint64]Entry)
	r.mu.Unlock()
}

// Len returns the number of registered files.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// clone gives e its own Size so callers never share the stored value.
func (e Entry) clone() Entry {
	if e.Size != nil {
		s := *e.Size
		e.Size = &s
	}
	return e
}

func sortByIndex(es []Entry) {
	sort.Slice(es, func(i, j int) bool { return es[i].Index < es[j].Index })
}
