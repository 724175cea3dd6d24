// Package attrtable implements the Attribute Table: the (fileId, name) -> bytes map for extended attributes.
package attrtable

import (
	"sort"
	"sync"

	"github.com/viofs/viofs/internal/ids"
)

type key struct {
	file ids.FileID
	name string
}

// Table is the Attribute Table.
type Table struct {
	mu     sync.RWMutex
	values map[key][]byte
}

// New returns an empty Table.
func New() *Table {
	return &Table{values: make(map[key][]byte)}
}

// Upsert sets (file, name) to a copy of value.
func (t *Table) Upsert(file ids.FileID, name string, value []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.values[key{file, name}] = append([]byte(nil), value...)
}

// TryGet returns a copy of (file, name)'s value, if present.
func (t *Table) TryGet(file ids.FileID, name string) ([]byte, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.values[key{file, name}]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

// Remove deletes (file, name). Returns whether it existed.
func (t *Table) Remove(file ids.FileID, name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.values[key{file, name}]; !ok {
		return false
	}
	delete(t.values, key{file, name})
	return true
}

// RemoveAll deletes every attribute belonging to file.
func (t *Table) RemoveAll(file ids.FileID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.values {
		if k.file == file {
			delete(t.values, k)
		}
	}
}

// Record pairs a (file, name) key with its value, for serialization.
type Record struct {
	File  ids.FileID
	Name  string
	Value []byte
}

// Snapshot returns every attribute record, file-then-name ordered.
func (t *Table) Snapshot() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Record, 0, len(t.values))
	for k, v := range t.values {
		out = append(out, Record{File: k.file, Name: k.name, Value: append([]byte(nil), v...)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].File != out[j].File {
			return out[i].File < out[j].File
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Restore replaces the table's contents wholesale.
func (t *Table) Restore(records []Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.values = make(map[key][]byte, len(records))
	for _, r := range records {
		t.values[key{r.File, r.Name}] = append([]byte(nil), r.Value...)
	}
}
