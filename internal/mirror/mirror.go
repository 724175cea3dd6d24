// Package mirror reconciles a primary container against its mirror at
// mount time, before the storage engine picks a superblock slot. It
// fsyncs both containers concurrently via golang.org/x/sync/errgroup,
// then compares and repairs whichever side is stale.
package mirror

import (
	"bytes"
	"context"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/viofs/viofs/errs"
	"github.com/viofs/viofs/internal/super"
)

// Container is the minimal capability mirror reconciliation needs. The
// storage engine's Container/Syncer satisfy it.
type Container interface {
	io.ReaderAt
	io.WriterAt
	Size() (int64, error)
	Truncate(size int64) error
	Flush() error
}

// Syncer is implemented by containers that can fsync.
type Syncer interface {
	SyncToDisk() error
}

// copyChunkSize is the bounded-buffer chunk size used for primary<->mirror
// copies.
const copyChunkSize = 1 << 20 // 1 MiB

// Reconcile runs the mount-time reconciliation decision table against
// primary and mirror, copying whichever side is stale so that after
// Reconcile returns, both containers carry the same superblock generation
// (or both are uninitialized, left for the engine to initialize).
func Reconcile(ctx context.Context, primary, mirror Container) error {
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error { return syncIfPossible(primary) })
	g.Go(func() error { return syncIfPossible(mirror) })
	if err := g.Wait(); err != nil {
		return errs.Io("fsync before mirror reconciliation: %v", err)
	}

	pBuf, pValid, err := readSlot0(primary)
	if err != nil {
		return err
	}
	mBuf, mValid, err := readSlot0(mirror)
	if err != nil {
		return err
	}

	switch {
	case !pValid && !mValid:
		return nil
	case pValid && !mValid:
		return copyContainer(primary, mirror)
	case !pValid && mValid:
		return copyContainer(mirror, primary)
	}

	hp, hm := super.Parse(pBuf), super.Parse(mBuf)
	switch {
	case hp.Generation > hm.Generation:
		return copyContainer(primary, mirror)
	case hm.Generation > hp.Generation:
		return copyContainer(mirror, primary)
	}

	pSize, err := primary.Size()
	if err != nil {
		return errs.Io("stat primary: %v", err)
	}
	mSize, err := mirror.Size()
	if err != nil {
		return errs.Io("stat mirror: %v", err)
	}
	if pSize != mSize {
		if err := mirror.Truncate(pSize); err != nil {
			return errs.Io("truncate mirror to primary length: %v", err)
		}
		return nil
	}

	identical, mismatchOff, err := compareContainers(primary, mirror, pSize)
	if err != nil {
		return err
	}
	if identical {
		return nil
	}
	return resolveMismatch(primary, mirror, mismatchOff)
}

func syncIfPossible(c Container) error {
	if s, ok := c.(Syncer); ok {
		return s.SyncToDisk()
	}
	return c.Flush()
}

func readSlot0(c Container) (buf []byte, valid bool, err error) {
	size, err := c.Size()
	if err != nil {
		return nil, false, errs.Io("stat container: %v", err)
	}
	if size < int64(2*super.MinSlotSize) {
		return nil, false, nil
	}
	header := make([]byte, super.HeaderSize)
	if _, err := c.ReadAt(header, 0); err != nil && err != io.EOF {
		return nil, false, errs.Io("read header: %v", err)
	}
	h := super.Parse(header)
	slotSize := super.SlotSize(int(h.PageSize))
	if size < int64(2*slotSize) {
		slotSize = super.MinSlotSize
	}
	full := make([]byte, slotSize)
	if _, err := c.ReadAt(full, 0); err != nil && err != io.EOF {
		return nil, false, errs.Io("read slot 0: %v", err)
	}
	return full, super.Validate(full), nil
}

// copyContainer copies src's full length to dst through one 1 MiB buffer
// (chunks of at most copyChunkSize bytes), then flushes dst and fsyncs it
// if it supports that.
func copyContainer(src, dst Container) error {
	size, err := src.Size()
	if err != nil {
		return errs.Io("stat copy source: %v", err)
	}
	if err := dst.Truncate(size); err != nil {
		return errs.Io("resize copy destination: %v", err)
	}
	buf := make([]byte, copyChunkSize)
	for off := int64(0); off < size; off += copyChunkSize {
		n := int64(copyChunkSize)
		if off+n > size {
			n = size - off
		}
		chunk := buf[:n]
		if _, err := readAtFull(src, chunk, off); err != nil {
			return errs.Io("read mirror copy source at %d: %v", off, err)
		}
		if _, err := dst.WriteAt(chunk, off); err != nil {
			return errs.Io("write mirror copy destination at %d: %v", off, err)
		}
	}
	if err := dst.Flush(); err != nil {
		return errs.Io("flush mirror copy destination: %v", err)
	}
	if s, ok := dst.(Syncer); ok {
		if err := s.SyncToDisk(); err != nil {
			return errs.Io("fsync mirror copy destination: %v", err)
		}
	}
	return nil
}

func readAtFull(c Container, buf []byte, off int64) (int, error) {
	n, err := c.ReadAt(buf, off)
	if err == io.EOF && n == len(buf) {
		err = nil
	}
	return n, err
}

// compareContainers reports whether primary and mirror are byte-identical
// over size bytes, and if not, the offset of the first mismatching
// copyChunkSize-aligned block.
func compareContainers(primary, mirror Container, size int64) (identical bool, mismatchOff int64, err error) {
	pBuf := make([]byte, copyChunkSize)
	mBuf := make([]byte, copyChunkSize)
	for off := int64(0); off < size; off += copyChunkSize {
		n := int64(copyChunkSize)
		if off+n > size {
			n = size - off
		}
		pc, mc := pBuf[:n], mBuf[:n]
		if _, err := readAtFull(primary, pc, off); err != nil {
			return false, 0, errs.Io("read primary at %d: %v", off, err)
		}
		if _, err := readAtFull(mirror, mc, off); err != nil {
			return false, 0, errs.Io("read mirror at %d: %v", off, err)
		}
		if !bytes.Equal(pc, mc) {
			return false, off, nil
		}
	}
	return true, 0, nil
}

// resolveMismatch implements the ambiguous equal-generation-equal-length
// differ case: prefer whichever side does not look like a cleared region
// (all-zeros or all-0xFF) at the first mismatching block; prefer primary
// if both or neither look cleared.
func resolveMismatch(primary, mirror Container, off int64) error {
	size, err := primary.Size()
	if err != nil {
		return errs.Io("stat primary: %v", err)
	}
	n := int64(copyChunkSize)
	if off+n > size {
		n = size - off
	}
	pBlock := make([]byte, n)
	mBlock := make([]byte, n)
	if _, err := readAtFull(primary, pBlock, off); err != nil {
		return errs.Io("read primary mismatch block: %v", err)
	}
	if _, err := readAtFull(mirror, mBlock, off); err != nil {
		return errs.Io("read mirror mismatch block: %v", err)
	}

	pCleared := looksCleared(pBlock)
	mCleared := looksCleared(mBlock)
	switch {
	case pCleared && !mCleared:
		return copyContainer(mirror, primary)
	case mCleared && !pCleared:
		return copyContainer(primary, mirror)
	default:
		return copyContainer(primary, mirror)
	}
}

func looksCleared(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	allZero, allFF := true, true
	for _, c := range b {
		if c != 0x00 {
			allZero = false
		}
		if c != 0xFF {
			allFF = false
		}
		if !allZero && !allFF {
			return false
		}
	}
	return allZero || allFF
}
