// Package dirindex implements the Directory Index: the (parentFileId, name) -> DirectoryEntry map. Modeled on the same
// catalog pattern as internal/filetable, keyed on a composite instead of
// a single id.
package dirindex

import (
	"sort"
	"sync"
	"time"

	"github.com/viofs/viofs/internal/filetable"
	"github.com/viofs/viofs/internal/ids"
)

// Entry is a single directory entry.
type Entry struct {
	Name       string
	Target     ids.FileID
	Kind       ids.FileKind
	Attributes uint32
	Timestamps filetable.Timestamps
	Generation uint64
}

type key struct {
	parent ids.FileID
	name   string
}

// Index is the Directory Index. Enumeration is always returned sorted by
// name, so it is stable across mounts for the same on-disk representation
//.
type Index struct {
	mu      sync.RWMutex
	entries map[key]Entry
}

// New returns an empty Index.
func New() *Index {
	return &Index{entries: make(map[key]Entry)}
}

// Upsert installs or replaces the entry for (parent, name).
func (idx *Index) Upsert(parent ids.FileID, name string, entry Entry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries[key{parent, name}] = entry
}

// Remove deletes the entry for (parent, name), if present.
func (idx *Index) Remove(parent ids.FileID, name string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.entries, key{parent, name})
}

// TryGet looks up (parent, name).
func (idx *Index) TryGet(parent ids.FileID, name string) (Entry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.entries[key{parent, name}]
	return e, ok
}

// Enumerate returns parent's children, sorted by name.
func (idx *Index) Enumerate(parent ids.FileID) []Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]Entry, 0)
	for k, e := range idx.entries {
		if k.parent == parent {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// snapshotEntry pairs an Entry with its parent for serialization.
type snapshotEntry struct {
	Parent ids.FileID
	Entry  Entry
}

// Snapshot returns every entry in the index, parent-then-name ordered, for
// Metadata Persistence to serialize deterministically.
func (idx *Index) Snapshot() []snapshotEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]snapshotEntry, 0, len(idx.entries))
	for k, e := range idx.entries {
		out = append(out, snapshotEntry{Parent: k.parent, Entry: e})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Parent != out[j].Parent {
			return out[i].Parent < out[j].Parent
		}
		return out[i].Entry.Name < out[j].Entry.Name
	})
	return out
}

// Restore replaces the index's contents wholesale.
func (idx *Index) Restore(snap []SnapshotEntry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = make(map[key]Entry, len(snap))
	for _, s := range snap {
		idx.entries[key{s.Parent, s.Entry.Name}] = s.Entry
	}
}

// SnapshotEntry is the exported form of snapshotEntry, used by
// internal/persist to round-trip the index through a metadata extent.
type SnapshotEntry = snapshotEntry

// NowTimestamps is a small helper the facade uses when materializing a
// fresh Entry's timestamps; kept here so callers don't need to import time
// separately just to stamp a directory entry.
func NowTimestamps() filetable.Timestamps {
	now := time.Now().UTC()
	return filetable.Timestamps{Created: now, Modified: now, Accessed: now}
}
