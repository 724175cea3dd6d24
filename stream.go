package viofs

import (
	"io"
	"sync"
	"time"

	"github.com/viofs/viofs/errs"
	"github.com/viofs/viofs/internal/alloc"
	"github.com/viofs/viofs/internal/dirindex"
	"github.com/viofs/viofs/internal/filetable"
	"github.com/viofs/viofs/internal/ids"
	"github.com/viofs/viofs/internal/lockmgr"
)

// Mode selects open-or-create behavior.
type Mode int

const (
	ModeCreateNew Mode = iota
	ModeCreate
	ModeOpen
	ModeOpenOrCreate
	ModeTruncate
	ModeAppend
)

// Access selects the lock (and therefore allowed operations) a stream
// acquires on its file.
type Access int

const (
	AccessRead Access = iota
	AccessWrite
	AccessReadWrite
)

// OpenFile opens path under mode/access, returning a FileStream.
func (v *VFS) OpenFile(path string, mode Mode, access Access) (*FileStream, error) {
	if err := v.checkOpen(); err != nil {
		return nil, err
	}
	parentSegs, name := splitParentName(path)
	if name == "" {
		return nil, errs.InvalidArgument("empty file name")
	}
	if mode == ModeAppend {
		access = AccessWrite
	}

	parentID, err := v.resolveDir(parentSegs)
	if err != nil {
		return nil, err
	}

	ph := v.locks.AcquireExclusive(parentID)
	entry, exists := v.dirs.TryGet(parentID, name)
	if exists && entry.Kind != ids.KindFile {
		ph.Unlock()
		return nil, errs.IsADirectory("%q", name)
	}

	var fileID ids.FileID
	truncateOnOpen := false

	switch mode {
	case ModeCreateNew:
		if exists {
			ph.Unlock()
			return nil, errs.AlreadyExists("%q", name)
		}
		fileID = v.createFileLocked(parentID, name, 0)
	case ModeCreate:
		if exists {
			v.deleteFileLocked(parentID, name, entry.Target)
		}
		fileID = v.createFileLocked(parentID, name, 0)
	case ModeOpen:
		if !exists {
			ph.Unlock()
			return nil, errs.NotFound("%q", name)
		}
		fileID = entry.Target
	case ModeOpenOrCreate:
		if exists {
			fileID = entry.Target
		} else {
			fileID = v.createFileLocked(parentID, name, 0)
		}
	case ModeTruncate:
		if !exists {
			ph.Unlock()
			return nil, errs.NotFound("%q", name)
		}
		fileID = entry.Target
		truncateOnOpen = true
	case ModeAppend:
		if exists {
			fileID = entry.Target
		} else {
			fileID = v.createFileLocked(parentID, name, 0)
		}
	default:
		ph.Unlock()
		return nil, errs.InvalidArgument("unknown open mode %d", mode)
	}
	ph.Unlock()

	if mode == ModeCreate || mode == ModeCreateNew || mode == ModeOpenOrCreate || mode == ModeAppend {
		if err := v.persist.Flush(); err != nil {
			return nil, err
		}
	}

	var h *lockmgr.Handle
	if access == AccessRead {
		h = v.locks.AcquireShared(fileID)
	} else {
		h = v.locks.AcquireExclusive(fileID)
	}

	s := &FileStream{vfs: v, fileID: fileID, access: access, lock: h}
	if mode == ModeAppend {
		meta, _ := v.files.Get(fileID)
		s.pos = int64(meta.Length)
	}
	if truncateOnOpen {
		if err := s.SetLength(0); err != nil {
			h.Unlock()
			return nil, err
		}
	}
	v.streams.Store(s, struct{}{})
	return s, nil
}

// createFileLocked allocates and installs a new empty file entry. Caller
// must already hold parentID's exclusive lock.
func (v *VFS) createFileLocked(parentID ids.FileID, name string, attributes uint32) ids.FileID {
	id := v.files.Allocate(ids.KindFile, attributes)
	now := dirindex.NowTimestamps()
	v.dirs.Upsert(parentID, name, dirindex.Entry{
		Name: name, Target: id, Kind: ids.KindFile, Attributes: attributes, Timestamps: now,
	})
	return id
}

// deleteFileLocked removes an existing file's data/metadata. Caller must
// already hold parentID's exclusive lock.
func (v *VFS) deleteFileLocked(parentID ids.FileID, name string, fileID ids.FileID) {
	fh := v.locks.AcquireExclusive(fileID)
	meta, _ := v.files.Get(fileID)
	for _, span := range meta.Extents {
		v.allocr.Free(alloc.FileData, span)
	}
	v.attrs.RemoveAll(fileID)
	v.files.Remove(fileID)
	v.dirs.Remove(parentID, name)
	fh.Unlock()
	v.notifyChanged(fileID)
}

// FileStream is a seekable, byte-addressable handle on one file's extents.
type FileStream struct {
	vfs    *VFS
	fileID ids.FileID
	access Access
	lock   *lockmgr.Handle

	mu       sync.Mutex
	pos      int64
	disposed bool
}

func (s *FileStream) checkState(needWrite bool) error {
	if s.disposed {
		return errs.Disposed("file stream")
	}
	if needWrite && s.access == AccessRead {
		return errs.InvalidArgument("stream opened read-only")
	}
	return nil
}

// Read copies min(remaining, len(buf)) bytes starting at the stream's
// position, advancing it. Returns 0, nil at EOF.
func (s *FileStream) Read(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkState(false); err != nil {
		return 0, err
	}
	meta, _ := s.vfs.files.Get(s.fileID)
	if s.pos >= int64(meta.Length) {
		return 0, nil
	}
	n := int64(len(buf))
	if remain := int64(meta.Length) - s.pos; n > remain {
		n = remain
	}
	if err := readExtentRange(s.vfs.eng, meta.Extents, s.pos, buf[:n]); err != nil {
		return 0, err
	}
	s.pos += n
	s.vfs.files.Mutate(s.fileID, func(m *filetable.Metadata) { m.Timestamps.Accessed = time.Now().UTC() })
	return int(n), nil
}

// Write writes buf at the stream's position, extending the file's extent
// list (and length) as needed, then advances the position.
func (s *FileStream) Write(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkState(true); err != nil {
		return 0, err
	}
	if len(buf) == 0 {
		return 0, nil
	}
	pageSize := s.vfs.eng.PageSize()
	meta, _ := s.vfs.files.Get(s.fileID)
	need := s.pos + int64(len(buf))
	capacityBytes := extentCapacityBytes(meta.Extents, pageSize)

	extents := meta.Extents
	if need > capacityBytes {
		extraBytes := need - capacityBytes
		extraPages := uint32((extraBytes + int64(pageSize) - 1) / int64(pageSize))
		res, err := s.vfs.allocr.Reserve(alloc.FileData, extraPages)
		if err != nil {
			return 0, err
		}
		res.Commit()
		span := res.Span()
		if n := len(extents); n > 0 && extents[n-1].ContiguousWith(span) {
			extents[n-1].Length += span.Length
		} else {
			extents = append(extents, span)
		}
	}

	if err := writeExtentRange(s.vfs.eng, extents, s.pos, buf); err != nil {
		return 0, err
	}

	newLength := meta.Length
	if uint64(need) > newLength {
		newLength = uint64(need)
	}
	s.vfs.files.Mutate(s.fileID, func(m *filetable.Metadata) {
		m.Extents = extents
		m.Length = newLength
		m.Timestamps.Modified = time.Now().UTC()
	})
	s.pos += int64(len(buf))
	return len(buf), nil
}

// Seek repositions the stream. It may move past the current length;
// the gap is materialized only on the next write (spec's sparse
// semantics).
func (s *FileStream) Seek(offset int64, whence int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkState(false); err != nil {
		return 0, err
	}
	meta, _ := s.vfs.files.Get(s.fileID)
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = s.pos
	case io.SeekEnd:
		base = int64(meta.Length)
	default:
		return 0, errs.InvalidArgument("unknown seek whence %d", whence)
	}
	newPos := base + offset
	if newPos < 0 {
		return 0, errs.InvalidArgument("seek to negative position")
	}
	s.pos = newPos
	return newPos, nil
}

// SetLength implements spec's setLength: shrinking frees whole extents
// lying entirely beyond n (staged); growing only updates the length
// field, deferring allocation to the next write that reaches it.
func (s *FileStream) SetLength(n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkState(true); err != nil {
		return err
	}
	if n < 0 {
		return errs.InvalidArgument("negative length")
	}
	meta, _ := s.vfs.files.Get(s.fileID)
	if uint64(n) >= meta.Length {
		s.vfs.files.Mutate(s.fileID, func(m *filetable.Metadata) {
			m.Length = uint64(n)
			m.Timestamps.Modified = time.Now().UTC()
		})
		return nil
	}

	pageSize := s.vfs.eng.PageSize()
	keepPages := uint64(0)
	if n > 0 {
		keepPages = (uint64(n) + uint64(pageSize) - 1) / uint64(pageSize)
	}
	var kept []ids.PageSpan
	var seen uint64
	for _, span := range meta.Extents {
		if seen >= keepPages {
			s.vfs.allocr.Free(alloc.FileData, span)
			continue
		}
		kept = append(kept, span)
		seen += uint64(span.Length)
	}
	s.vfs.files.Mutate(s.fileID, func(m *filetable.Metadata) {
		m.Extents = kept
		m.Length = uint64(n)
		m.Timestamps.Modified = time.Now().UTC()
	})
	return nil
}

// Length returns the file's current length.
func (s *FileStream) Length() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkState(false); err != nil {
		return 0, err
	}
	meta, _ := s.vfs.files.Get(s.fileID)
	return int64(meta.Length), nil
}

// Position returns the stream's current offset.
func (s *FileStream) Position() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkState(false); err != nil {
		return 0, err
	}
	return s.pos, nil
}

// Flush serializes metadata, making every effect of prior writes durable.
func (s *FileStream) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkState(false); err != nil {
		return err
	}
	return s.vfs.persist.Flush()
}

// Dispose flushes metadata once, releases the file lock, deregisters the
// stream, and notifies compaction. Safe to call more than once.
func (s *FileStream) Dispose() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	s.mu.Unlock()

	err := s.vfs.persist.Flush()
	s.lock.Unlock()
	s.vfs.streams.Delete(s)
	s.vfs.notifyChanged(s.fileID)
	return err
}
