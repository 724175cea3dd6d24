// Package viofs implements a single-file virtual file system: a
// directory tree, files with extendable extents, and extended attributes,
// all stored inside one container (typically one host file) behind a
// double-buffered, checksummed superblock. It takes an embeddable,
// single-process storage engine built around a pager-backed catalog and
// retargets it from rows-in-a-database to files-in-a-container, keeping the
// same "checksum, then trust; commit, then free" posture throughout.
//
// # Basic usage
//
//	c, _ := engine.OpenFileContainer("data.viofs")
//	fs, _ := viofs.Mount(c, viofs.Options{})
//	defer fs.Dispose()
//
//	fs.CreateFile("/greeting.txt", 0)
//	s, _ := fs.OpenFile("/greeting.txt", viofs.ModeOpen, viofs.AccessWrite)
//	s.Write([]byte("hello"))
//	s.Dispose()
package viofs

import (
	"context"
	"sync"
	"time"

	"github.com/viofs/viofs/errs"
	"github.com/viofs/viofs/internal/alloc"
	"github.com/viofs/viofs/internal/attrtable"
	"github.com/viofs/viofs/internal/compaction"
	"github.com/viofs/viofs/internal/dirindex"
	"github.com/viofs/viofs/internal/engine"
	"github.com/viofs/viofs/internal/filetable"
	"github.com/viofs/viofs/internal/ids"
	"github.com/viofs/viofs/internal/lockmgr"
	"github.com/viofs/viofs/internal/mirror"
	"github.com/viofs/viofs/internal/persist"
)

// Options configures Mount.
type Options struct {
	// PageSize, if non-zero, must match an existing image's page size.
	PageSize int
	// Mirror, if set, is a pre-opened byte-mirrored replica container; it
	// must also implement engine.Syncer or Mount fails.
	Mirror engine.Container
	// CompactionSink, if set, receives file-change and full-scan
	// notifications as the facade mutates files.
	CompactionSink compaction.Sink
}

// VFS is the file-system facade.
type VFS struct {
	eng     *engine.Engine
	allocr  *alloc.Allocator
	files   *filetable.Table
	dirs    *dirindex.Index
	attrs   *attrtable.Table
	persist *persist.Manager
	locks   *lockmgr.Manager
	sink    compaction.Sink

	streams sync.Map // map[*FileStream]struct{}

	mu     sync.Mutex
	closed bool
}

// Mount reconciles the mirror (if any), mounts the Storage Engine over
// primary, rehydrates the three metadata tables, and rebuilds the
// allocator from their content.
func Mount(primary engine.Container, opts Options) (*VFS, error) {
	if opts.Mirror != nil {
		if _, ok := opts.Mirror.(mirror.Syncer); !ok {
			return nil, errs.InvalidArgument("mirror container must support fsync")
		}
		if err := mirror.Reconcile(context.Background(), primary, opts.Mirror); err != nil {
			return nil, err
		}
	}

	eng, err := engine.Mount(primary, opts.Mirror, engine.Options{PageSize: opts.PageSize})
	if err != nil {
		return nil, err
	}

	a := alloc.New(eng)
	files := filetable.New()
	dirs := dirindex.New()
	attrs := attrtable.New()
	mgr := persist.New(eng, a, files, dirs, attrs)
	if err := mgr.Load(); err != nil {
		return nil, err
	}

	return &VFS{
		eng:     eng,
		allocr:  a,
		files:   files,
		dirs:    dirs,
		attrs:   attrs,
		persist: mgr,
		locks:   lockmgr.New(),
		sink:    opts.CompactionSink,
	}, nil
}

func (v *VFS) checkOpen() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return errs.Disposed("vfs")
	}
	return nil
}

func (v *VFS) notifyChanged(id ids.FileID) {
	if v.sink != nil {
		v.sink.NotifyFileChanged(id)
	}
}

// resolveDir walks segs from root, requiring every segment (including the
// final one) to name a directory, taking a shared lock on each node along
// the way. It returns the id of the last segment.
func (v *VFS) resolveDir(segs []string) (ids.FileID, error) {
	current := ids.RootFileID
	for _, name := range segs {
		h := v.locks.AcquireShared(current)
		entry, ok := v.dirs.TryGet(current, name)
		h.Unlock()
		if !ok {
			return 0, errs.NotFound("directory %q", name)
		}
		if entry.Kind != ids.KindDirectory {
			return 0, errs.NotADirectory("%q", name)
		}
		current = entry.Target
	}
	return current, nil
}

// resolveAny walks segs like resolveDir but allows the final segment to
// name either a file or a directory, returning its id and kind.
func (v *VFS) resolveAny(segs []string) (ids.FileID, ids.FileKind, error) {
	if len(segs) == 0 {
		return ids.RootFileID, ids.KindDirectory, nil
	}
	parentID, err := v.resolveDir(segs[:len(segs)-1])
	if err != nil {
		return 0, 0, err
	}
	name := segs[len(segs)-1]
	h := v.locks.AcquireShared(parentID)
	entry, ok := v.dirs.TryGet(parentID, name)
	h.Unlock()
	if !ok {
		return 0, 0, errs.NotFound("%q", name)
	}
	return entry.Target, entry.Kind, nil
}

// CreateDirectory creates every missing segment of path as a directory.
// Existing segments are left untouched; creating an already-existing
// directory tree is a no-op.
func (v *VFS) CreateDirectory(path string) error {
	if err := v.checkOpen(); err != nil {
		return err
	}
	segs := splitPath(path)
	current := ids.RootFileID
	created := false
	for _, name := range segs {
		h := v.locks.AcquireExclusive(current)
		entry, ok := v.dirs.TryGet(current, name)
		if ok {
			h.Unlock()
			if entry.Kind != ids.KindDirectory {
				return errs.AlreadyExists("%q", name)
			}
			current = entry.Target
			continue
		}
		id := v.files.Allocate(ids.KindDirectory, 0)
		now := dirindex.NowTimestamps()
		v.dirs.Upsert(current, name, dirindex.Entry{
			Name: name, Target: id, Kind: ids.KindDirectory, Timestamps: now,
		})
		h.Unlock()
		current = id
		created = true
	}
	if created {
		return v.persist.Flush()
	}
	return nil
}

// CreateFile creates a new, empty file at path.
func (v *VFS) CreateFile(path string, attributes uint32) error {
	if err := v.checkOpen(); err != nil {
		return err
	}
	parentSegs, name := splitParentName(path)
	if name == "" {
		return errs.InvalidArgument("empty file name")
	}
	parentID, err := v.resolveDir(parentSegs)
	if err != nil {
		return err
	}
	h := v.locks.AcquireExclusive(parentID)
	defer h.Unlock()
	if _, ok := v.dirs.TryGet(parentID, name); ok {
		return errs.AlreadyExists("%q", name)
	}
	id := v.files.Allocate(ids.KindFile, attributes)
	now := dirindex.NowTimestamps()
	v.dirs.Upsert(parentID, name, dirindex.Entry{
		Name: name, Target: id, Kind: ids.KindFile, Attributes: attributes, Timestamps: now,
	})
	return v.persist.Flush()
}

// FileExists reports whether path names an existing file.
func (v *VFS) FileExists(path string) bool {
	if v.checkOpen() != nil {
		return false
	}
	segs := splitPath(path)
	if len(segs) == 0 {
		return false
	}
	_, kind, err := v.resolveAny(segs)
	return err == nil && kind == ids.KindFile
}

// DirectoryExists reports whether path names an existing directory.
func (v *VFS) DirectoryExists(path string) bool {
	if v.checkOpen() != nil {
		return false
	}
	segs := splitPath(path)
	if len(segs) == 0 {
		return true
	}
	_, kind, err := v.resolveAny(segs)
	return err == nil && kind == ids.KindDirectory
}

// EnumerateDirectory returns the names directly under path, in index order.
func (v *VFS) EnumerateDirectory(path string) ([]string, error) {
	if err := v.checkOpen(); err != nil {
		return nil, err
	}
	segs := splitPath(path)
	dirID, err := v.resolveDir(segs)
	if err != nil {
		return nil, err
	}
	h := v.locks.AcquireShared(dirID)
	entries := v.dirs.Enumerate(dirID)
	h.Unlock()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names, nil
}

// DeleteFile removes the file at path, staging its extents for reuse and
// notifying the compaction sink.
func (v *VFS) DeleteFile(path string) error {
	if err := v.checkOpen(); err != nil {
		return err
	}
	parentSegs, name := splitParentName(path)
	if name == "" {
		return errs.InvalidArgument("empty file name")
	}
	parentID, err := v.resolveDir(parentSegs)
	if err != nil {
		return err
	}
	ph := v.locks.AcquireExclusive(parentID)
	defer ph.Unlock()
	entry, ok := v.dirs.TryGet(parentID, name)
	if !ok {
		return errs.NotFound("%q", name)
	}
	if entry.Kind != ids.KindFile {
		return errs.IsADirectory("%q", name)
	}
	fh := v.locks.AcquireExclusive(entry.Target)
	defer fh.Unlock()
	meta, _ := v.files.Get(entry.Target)
	for _, span := range meta.Extents {
		v.allocr.Free(alloc.FileData, span)
	}
	v.attrs.RemoveAll(entry.Target)
	v.files.Remove(entry.Target)
	v.dirs.Remove(parentID, name)
	if err := v.persist.Flush(); err != nil {
		return err
	}
	v.notifyChanged(entry.Target)
	return nil
}

// DeleteDirectory removes the directory at path. If it has children and
// recursive is false, it returns DirectoryNotEmpty.
func (v *VFS) DeleteDirectory(path string, recursive bool) error {
	if err := v.checkOpen(); err != nil {
		return err
	}
	parentSegs, name := splitParentName(path)
	if name == "" {
		return errs.InvalidArgument("cannot delete the root directory")
	}
	parentID, err := v.resolveDir(parentSegs)
	if err != nil {
		return err
	}
	ph := v.locks.AcquireExclusive(parentID)
	defer ph.Unlock()
	entry, ok := v.dirs.TryGet(parentID, name)
	if !ok {
		return errs.NotFound("%q", name)
	}
	if entry.Kind != ids.KindDirectory {
		return errs.NotADirectory("%q", name)
	}

	if err := v.deleteDirSubtree(entry.Target, recursive); err != nil {
		return err
	}
	v.dirs.Remove(parentID, name)
	v.files.Remove(entry.Target)
	return v.persist.Flush()
}

// deleteDirSubtree removes dirID's children (DFS, each node locked
// exclusively before being freed) and finally dirID's own bookkeeping,
// except dirID's own directory-entry-in-parent and File Table record,
// which the caller removes.
func (v *VFS) deleteDirSubtree(dirID ids.FileID, recursive bool) error {
	h := v.locks.AcquireExclusive(dirID)
	defer h.Unlock()
	children := v.dirs.Enumerate(dirID)
	if len(children) > 0 && !recursive {
		return errs.DirectoryNotEmpty("directory has %d entries", len(children))
	}
	for _, child := range children {
		if child.Kind == ids.KindDirectory {
			if err := v.deleteDirSubtree(child.Target, true); err != nil {
				return err
			}
			v.files.Remove(child.Target)
		} else {
			fh := v.locks.AcquireExclusive(child.Target)
			meta, _ := v.files.Get(child.Target)
			for _, span := range meta.Extents {
				v.allocr.Free(alloc.FileData, span)
			}
			v.attrs.RemoveAll(child.Target)
			v.files.Remove(child.Target)
			fh.Unlock()
			v.notifyChanged(child.Target)
		}
		v.dirs.Remove(dirID, child.Name)
	}
	v.attrs.RemoveAll(dirID)
	return nil
}

// SetAttribute stores value under (path, name), replacing any prior value.
func (v *VFS) SetAttribute(path, name string, value []byte) error {
	if err := v.checkOpen(); err != nil {
		return err
	}
	if name == "" {
		return errs.InvalidArgument("empty attribute name")
	}
	id, _, err := v.resolveAny(splitPath(path))
	if err != nil {
		return err
	}
	h := v.locks.AcquireExclusive(id)
	v.attrs.Upsert(id, name, value)
	v.files.Mutate(id, func(m *filetable.Metadata) { m.Timestamps.Modified = time.Now().UTC() })
	h.Unlock()
	return v.persist.Flush()
}

// TryGetAttribute returns (path, name)'s value, if set.
func (v *VFS) TryGetAttribute(path, name string) ([]byte, bool, error) {
	if err := v.checkOpen(); err != nil {
		return nil, false, err
	}
	id, _, err := v.resolveAny(splitPath(path))
	if err != nil {
		return nil, false, err
	}
	h := v.locks.AcquireShared(id)
	defer h.Unlock()
	val, ok := v.attrs.TryGet(id, name)
	return val, ok, nil
}

// RemoveAttribute deletes (path, name), reporting whether it existed.
func (v *VFS) RemoveAttribute(path, name string) (bool, error) {
	if err := v.checkOpen(); err != nil {
		return false, err
	}
	id, _, err := v.resolveAny(splitPath(path))
	if err != nil {
		return false, err
	}
	h := v.locks.AcquireExclusive(id)
	existed := v.attrs.Remove(id, name)
	h.Unlock()
	if !existed {
		return false, nil
	}
	if err := v.persist.Flush(); err != nil {
		return false, err
	}
	return true, nil
}

// Dispose disposes every open stream, flushes metadata, and closes the
// Storage Engine.
func (v *VFS) Dispose() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	v.mu.Unlock()

	v.streams.Range(func(key, _ any) bool {
		key.(*FileStream).Dispose()
		return true
	})

	if err := v.persist.Flush(); err != nil {
		return err
	}
	return v.eng.Close()
}
