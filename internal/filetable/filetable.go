// Package filetable implements the file table: the FileID -> FileMetadata
// map the VFS facade mutates under exclusive per-file locks. It keeps an
// in-memory index guarded by one RWMutex with a monotonic id counter, the
// same shape as an embedded database's system catalog.
package filetable

import (
	"sort"
	"sync"
	"time"

	"github.com/viofs/viofs/internal/ids"
)

// Timestamps holds the three UTC timestamps every file/directory carries.
type Timestamps struct {
	Created  time.Time
	Modified time.Time
	Accessed time.Time
}

// Metadata is a file or directory's full record.
type Metadata struct {
	ID         ids.FileID
	Kind       ids.FileKind
	Attributes uint32
	Length     uint64
	Extents    []ids.PageSpan
	Timestamps Timestamps
}

// clone returns a deep-enough copy so callers can't mutate Table state
// through a returned pointer's slice.
func (m Metadata) clone() Metadata {
	out := m
	out.Extents = append([]ids.PageSpan(nil), m.Extents...)
	return out
}

// Table is the File Table. All methods are safe for concurrent use; the
// facade additionally holds the per-FileID lock (internal/lockmgr) around
// any Mutate that must be serialized against concurrent stream I/O.
type Table struct {
	mu     sync.RWMutex
	byID   map[ids.FileID]*Metadata
	nextID ids.FileID
}

// New returns a Table pre-seeded with the root directory.
func New() *Table {
	t := &Table{
		byID:   make(map[ids.FileID]*Metadata),
		nextID: ids.FirstAssignableFileID,
	}
	now := time.Now().UTC()
	t.byID[ids.RootFileID] = &Metadata{
		ID:         ids.RootFileID,
		Kind:       ids.KindDirectory,
		Timestamps: Timestamps{Created: now, Modified: now, Accessed: now},
	}
	return t
}

// Allocate installs a fresh Metadata record and returns its id.
func (t *Table) Allocate(kind ids.FileKind, attributes uint32) ids.FileID {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	now := time.Now().UTC()
	t.byID[id] = &Metadata{
		ID:         id,
		Kind:       kind,
		Attributes: attributes,
		Timestamps: Timestamps{Created: now, Modified: now, Accessed: now},
	}
	return id
}

// Get returns a copy of id's metadata and whether it exists.
func (t *Table) Get(id ids.FileID) (Metadata, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.byID[id]
	if !ok {
		return Metadata{}, false
	}
	return m.clone(), true
}

// Mutate applies fn to id's metadata in place. The caller must already
// hold the exclusive per-FileID lock for id; Table's own mutex only
// protects the map structure, not cross-field atomicity of the edit.
func (t *Table) Mutate(id ids.FileID, fn func(*Metadata)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.byID[id]
	if !ok {
		return false
	}
	fn(m)
	return true
}

// Remove deletes id's record entirely.
func (t *Table) Remove(id ids.FileID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byID, id)
}

// Enumerate returns a stable-ordered snapshot of every (id, metadata)
// pair, sorted by id so persistence serializes deterministically.
func (t *Table) Enumerate() []Metadata {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Metadata, 0, len(t.byID))
	for _, m := range t.byID {
		out = append(out, m.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Restore replaces the table's contents wholesale (used when rehydrating
// from a metadata extent at mount) and sets the next-id counter so ids
// already on disk are never reused.
func (t *Table) Restore(entries []Metadata, nextID ids.FileID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID = make(map[ids.FileID]*Metadata, len(entries))
	for i := range entries {
		e := entries[i].clone()
		t.byID[e.ID] = &e
	}
	if _, ok := t.byID[ids.RootFileID]; !ok {
		now := time.Now().UTC()
		t.byID[ids.RootFileID] = &Metadata{ID: ids.RootFileID, Kind: ids.KindDirectory, Timestamps: Timestamps{Created: now, Modified: now, Accessed: now}}
	}
	if nextID < ids.FirstAssignableFileID {
		nextID = ids.FirstAssignableFileID
	}
	t.nextID = nextID
}

// NextID reports the id that Allocate would hand out next, for
// persistence to record in the superblock payload.
func (t *Table) NextID() ids.FileID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nextID
}
