package engine

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Container is the random-access byte store capability the engine reads,
// writes, and resizes.
type Container interface {
	io.ReaderAt
	io.WriterAt
	Size() (int64, error)
	Truncate(size int64) error
	Flush() error
}

// Syncer is the "fsync-capable file" capability. The mirror subsystem
// requires it on both sides and refuses to mount otherwise.
type Syncer interface {
	SyncToDisk() error
}

// identified lets a Container report a stable identity for the ioGate
// registry; containers without a natural identity (in-memory ones) are
// assigned one at construction time.
type identified interface {
	Identity() string
}

// FileContainer is a Container backed by an *os.File. It satisfies Syncer.
type FileContainer struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// OpenFileContainer opens path for random-access read/write, creating it
// (and its parent directory) if missing.
func OpenFileContainer(path string) (*FileContainer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileContainer{f: f, path: path}, nil
}

func (c *FileContainer) ReadAt(p []byte, off int64) (int, error) {
	return c.f.ReadAt(p, off)
}

func (c *FileContainer) WriteAt(p []byte, off int64) (int, error) {
	return c.f.WriteAt(p, off)
}

func (c *FileContainer) Size() (int64, error) {
	fi, err := c.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (c *FileContainer) Truncate(size int64) error {
	return c.f.Truncate(size)
}

// Flush is a no-op beyond what WriteAt already guarantees; SyncToDisk is
// the durable barrier.
func (c *FileContainer) Flush() error { return nil }

func (c *FileContainer) SyncToDisk() error {
	return c.f.Sync()
}

func (c *FileContainer) Identity() string { return c.path }

func (c *FileContainer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.f.Close()
}

// MemoryContainer is an in-memory paged stream, useful for tests and
// ephemeral mounts. It satisfies only the Container capability: it has no
// durable medium to fsync, so mirroring refuses to target it.
type MemoryContainer struct {
	mu   sync.Mutex
	buf  []byte
	id   string
}

// NewMemoryContainer returns an empty in-memory container.
func NewMemoryContainer() *MemoryContainer {
	return &MemoryContainer{id: uuid.NewString()}
}

func (c *MemoryContainer) ReadAt(p []byte, off int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if off < 0 {
		return 0, os.ErrInvalid
	}
	if off >= int64(len(c.buf)) {
		return 0, io.EOF
	}
	n := copy(p, c.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (c *MemoryContainer) WriteAt(p []byte, off int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	end := off + int64(len(p))
	if end > int64(len(c.buf)) {
		grown := make([]byte, end)
		copy(grown, c.buf)
		c.buf = grown
	}
	return copy(c.buf[off:], p), nil
}

func (c *MemoryContainer) Size() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.buf)), nil
}

func (c *MemoryContainer) Truncate(size int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if size <= int64(len(c.buf)) {
		c.buf = c.buf[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, c.buf)
	c.buf = grown
	return nil
}

func (c *MemoryContainer) Flush() error { return nil }

func (c *MemoryContainer) Identity() string { return c.id }
