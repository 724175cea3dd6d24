// Package engine implements page-oriented I/O over a backing container
// with a double-buffered, checksummed superblock and an optional
// byte-mirrored replica.
package engine

import (
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/viofs/viofs/errs"
	"github.com/viofs/viofs/internal/ids"
	"github.com/viofs/viofs/internal/super"
)

// DefaultPageSize is used when a brand-new container is mounted without an
// explicit page size.
const DefaultPageSize = 4096

// Options configures Mount.
type Options struct {
	// PageSize, if non-zero, must match an existing image's page size and
	// is used as-is for a brand-new one.
	PageSize int
}

// Engine owns the backing container handle(s) and all physical I/O
// against them.
type Engine struct {
	mu sync.Mutex // single-slot spinlock around the in-memory superblock cache

	primary    Container
	primaryGate *gateEntry
	mirror     Container
	mirrorGate *gateEntry

	pageSize int
	slotSize int

	active     uint8
	generation int64
	live       []byte
	fallback   []byte

	sessionID uuid.UUID
	closed    bool
}

// Mount opens (or initializes) the superblock of primary, optionally
// reconciled against mirror beforehand by the caller (internal/mirror).
func Mount(primary Container, mirror Container, opts Options) (*Engine, error) {
	detectedPS, found, err := probePageSize(primary)
	if err != nil {
		return nil, errs.Io("probe page size: %v", err)
	}
	pageSize := opts.PageSize
	if found {
		if pageSize != 0 && pageSize != detectedPS {
			return nil, errs.PageSizeMismatch(pageSize, detectedPS)
		}
		pageSize = detectedPS
	} else if pageSize == 0 {
		pageSize = DefaultPageSize
	}

	e := &Engine{
		primary:     primary,
		mirror:      mirror,
		pageSize:    pageSize,
		slotSize:    super.SlotSize(pageSize),
		primaryGate: gates.acquire(identity(primary)),
		sessionID:   uuid.New(),
	}
	if mirror != nil {
		e.mirrorGate = gates.acquire(identity(mirror))
	}

	e.primaryGate.mu.Lock()
	defer e.primaryGate.mu.Unlock()

	size, err := primary.Size()
	if err != nil {
		return nil, errs.Io("stat container: %v", err)
	}

	if size < int64(2*e.slotSize) {
		if err := e.initializeLocked(); err != nil {
			return nil, err
		}
		return e, nil
	}

	buf0 := make([]byte, e.slotSize)
	buf1 := make([]byte, e.slotSize)
	if _, err := readFull(primary, buf0, 0); err != nil {
		return nil, errs.Io("read slot 0: %v", err)
	}
	if _, err := readFull(primary, buf1, int64(e.slotSize)); err != nil {
		return nil, errs.Io("read slot 1: %v", err)
	}
	v0, v1 := super.Validate(buf0), super.Validate(buf1)

	switch {
	case !v0 && !v1:
		if err := e.initializeLocked(); err != nil {
			return nil, err
		}
		return e, nil
	case v0 && !v1:
		e.active, e.live, e.fallback = 0, buf0, buf1
	case !v0 && v1:
		e.active, e.live, e.fallback = 1, buf1, buf0
	default:
		h0, h1 := super.Parse(buf0), super.Parse(buf1)
		if h0.Generation >= h1.Generation {
			e.active, e.live, e.fallback = 0, buf0, buf1
		} else {
			e.active, e.live, e.fallback = 1, buf1, buf0
		}
	}
	e.generation = super.Parse(e.live).Generation
	return e, nil
}

// initializeLocked writes an empty (generation 0, slot 0 active, zero
// payload) superblock into both slots of both containers. Caller must
// hold e.primaryGate.mu.
func (e *Engine) initializeLocked() error {
	if err := growTo(e.primary, int64(2*e.slotSize)); err != nil {
		return errs.Io("initialize container: %v", err)
	}
	empty := super.Marshal(super.Header{Version: super.Version, PageSize: int32(e.pageSize)}, nil, e.slotSize)
	if _, err := e.primary.WriteAt(empty, 0); err != nil {
		return errs.Io("write slot 0: %v", err)
	}
	if _, err := e.primary.WriteAt(empty, int64(e.slotSize)); err != nil {
		return errs.Io("write slot 1: %v", err)
	}
	if err := e.primary.Flush(); err != nil {
		return errs.Io("flush container: %v", err)
	}
	if e.mirror != nil {
		e.mirrorGate.mu.Lock()
		defer e.mirrorGate.mu.Unlock()
		if err := growTo(e.mirror, int64(2*e.slotSize)); err != nil {
			return errs.Io("initialize mirror: %v", err)
		}
		if _, err := e.mirror.WriteAt(empty, 0); err != nil {
			return errs.Io("write mirror slot 0: %v", err)
		}
		if _, err := e.mirror.WriteAt(empty, int64(e.slotSize)); err != nil {
			return errs.Io("write mirror slot 1: %v", err)
		}
		if err := e.mirror.Flush(); err != nil {
			return errs.Io("flush mirror: %v", err)
		}
	}
	e.active = 0
	e.generation = 0
	e.live = empty
	e.fallback = empty
	return nil
}

// probePageSize reads just enough of c to learn an existing image's page
// size. The 40-byte header checksum is self-contained (it covers only the
// header), so this is safe even when the true slot size is larger than
// what was read.
func probePageSize(c Container) (pageSize int, found bool, err error) {
	size, err := c.Size()
	if err != nil {
		return 0, false, err
	}
	if size < int64(2*super.MinSlotSize) {
		return 0, false, nil
	}
	buf := make([]byte, super.MinSlotSize)
	if _, err := readFull(c, buf, 0); err != nil {
		return 0, false, err
	}
	check := make([]byte, super.HeaderSize)
	copy(check, buf[:super.HeaderSize])
	if !validHeaderOnly(check) {
		return 0, false, nil
	}
	h := super.Parse(buf)
	return int(h.PageSize), true, nil
}

func validHeaderOnly(headerBuf []byte) bool {
	full := make([]byte, super.HeaderSize+4) // dummy payload so Validate's length check passes
	copy(full, headerBuf)
	h := super.Parse(full)
	// Recompute header checksum the same way Validate does, but do not
	// check the payload checksum — we may not have read the full slot.
	check := make([]byte, super.HeaderSize)
	copy(check, headerBuf)
	const headerCRCOff = 28
	check[headerCRCOff], check[headerCRCOff+1], check[headerCRCOff+2], check[headerCRCOff+3] = 0, 0, 0, 0
	return h.Version == super.Version && super.Fletcher32(check) == h.HeaderChecksum && magicOK(headerBuf)
}

func magicOK(headerBuf []byte) bool {
	if len(headerBuf) < 8 {
		return false
	}
	var m uint64
	for i := 0; i < 8; i++ {
		m = m<<8 | uint64(headerBuf[i])
	}
	return m == super.Magic
}

func readFull(c Container, buf []byte, off int64) (int, error) {
	n, err := c.ReadAt(buf, off)
	if err == io.EOF && n == len(buf) {
		err = nil
	}
	return n, err
}

func growTo(c Container, size int64) error {
	cur, err := c.Size()
	if err != nil {
		return err
	}
	if cur < size {
		return c.Truncate(size)
	}
	return nil
}

// Commit writes payload as a new superblock generation. It is the sole
// commit point: once it returns nil, the image is durable at the new
// generation.
func (e *Engine) Commit(payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	maxPayload := e.slotSize - super.HeaderSize
	if len(payload) > maxPayload {
		return errs.CommitOverflow(len(payload), maxPayload)
	}

	next := uint8(1) - e.active
	nextGen := e.generation + 1
	buf := super.Marshal(super.Header{
		Version:    super.Version,
		PageSize:   int32(e.pageSize),
		Generation: nextGen,
		ActiveSlot: next,
	}, payload, e.slotSize)

	off := int64(next) * int64(e.slotSize)

	e.primaryGate.mu.Lock()
	_, err := e.primary.WriteAt(buf, off)
	if err == nil {
		err = e.primary.Flush()
	}
	e.primaryGate.mu.Unlock()
	if err != nil {
		return errs.Io("commit superblock slot %d: %v", next, err)
	}

	if e.mirror != nil {
		e.mirrorGate.mu.Lock()
		_, merr := e.mirror.WriteAt(buf, off)
		if merr == nil {
			merr = e.mirror.Flush()
		}
		e.mirrorGate.mu.Unlock()
		if merr != nil {
			return errs.Io("mirror commit superblock slot %d: %v", next, merr)
		}
	}

	e.fallback = e.live
	e.live = buf
	e.active = next
	e.generation = nextGen
	return nil
}

// Superblock returns the current (active, generation, payload) triple.
// The payload is the slot's whole payload region (SlotSize-HeaderSize
// bytes): the committed bytes followed by zero padding, since the header
// records no payload length.
func (e *Engine) Superblock() (active uint8, generation int64, payload []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := make([]byte, len(super.Payload(e.live)))
	copy(p, super.Payload(e.live))
	return e.active, e.generation, p
}

// PageSize returns the page size this image was created with.
func (e *Engine) PageSize() int { return e.pageSize }

// SlotSize returns the physical size of each superblock slot.
func (e *Engine) SlotSize() int { return e.slotSize }

func (e *Engine) pageOffset(id ids.PageID) int64 {
	return int64(2*e.slotSize) + int64(id-ids.FirstDataPageID)*int64(e.pageSize)
}

// ReadPage reads page id, zero-filling any bytes past the container's
// current length.
func (e *Engine) ReadPage(id ids.PageID) ([]byte, error) {
	if id < ids.FirstDataPageID {
		return nil, errs.InvalidArgument("page id %d is reserved for the superblock", id)
	}
	buf := make([]byte, e.pageSize)
	e.primaryGate.mu.Lock()
	n, err := readFull(e.primary, buf, e.pageOffset(id))
	e.primaryGate.mu.Unlock()
	if err != nil {
		return nil, errs.Io("read page %d: %v", id, err)
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return buf, nil
}

// WritePage writes a full page, extending the container (and mirror) first
// if the write would grow it. Mirror writes happen within the same
// critical section as the primary write for that byte range.
func (e *Engine) WritePage(id ids.PageID, buf []byte) error {
	if id < ids.FirstDataPageID {
		return errs.InvalidArgument("page id %d is reserved for the superblock", id)
	}
	if len(buf) != e.pageSize {
		return errs.InvalidArgument("write page %d: buffer length %d != page size %d", id, len(buf), e.pageSize)
	}
	off := e.pageOffset(id)
	need := off + int64(e.pageSize)

	e.primaryGate.mu.Lock()
	err := growTo(e.primary, need)
	if err == nil {
		_, err = e.primary.WriteAt(buf, off)
	}
	e.primaryGate.mu.Unlock()
	if err != nil {
		return errs.Io("write page %d: %v", id, err)
	}

	if e.mirror != nil {
		e.mirrorGate.mu.Lock()
		merr := growTo(e.mirror, need)
		if merr == nil {
			_, merr = e.mirror.WriteAt(buf, off)
		}
		e.mirrorGate.mu.Unlock()
		if merr != nil {
			return errs.Io("mirror write page %d: %v", id, merr)
		}
	}
	return nil
}

// EnsureLength extends the container(s) so that page endPage (exclusive)
// is reachable, without writing any page data. Used by the allocator when
// it grows the metadata tail.
func (e *Engine) EnsureLength(endPage ids.PageID) error {
	need := e.pageOffset(endPage)
	e.primaryGate.mu.Lock()
	err := growTo(e.primary, need)
	e.primaryGate.mu.Unlock()
	if err != nil {
		return errs.Io("extend container to page %d: %v", endPage, err)
	}
	if e.mirror != nil {
		e.mirrorGate.mu.Lock()
		merr := growTo(e.mirror, need)
		e.mirrorGate.mu.Unlock()
		if merr != nil {
			return errs.Io("extend mirror to page %d: %v", endPage, merr)
		}
	}
	return nil
}

// Close releases this engine's ioGate references and flushes the
// container(s). It does not close the underlying Container — ownership of
// the handle stays with whoever opened it.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	gates.release(identity(e.primary))
	if e.mirror != nil {
		gates.release(identity(e.mirror))
	}

	var err error
	for _, c := range []Container{e.primary, e.mirror} {
		if c == nil {
			continue
		}
		if err2 := c.Flush(); err2 != nil && err == nil {
			err = err2
		}
		if s, ok := c.(Syncer); ok {
			if err3 := s.SyncToDisk(); err3 != nil && err == nil {
				err = err3
			}
		}
	}
	if err != nil {
		return errs.Io("close engine: %v", err)
	}
	return nil
}
