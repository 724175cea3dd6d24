package viofs

import (
	"github.com/viofs/viofs/errs"
	"github.com/viofs/viofs/internal/engine"
	"github.com/viofs/viofs/internal/ids"
)

// extentCapacityBytes returns the total addressable byte range covered by
// extents at the given page size.
func extentCapacityBytes(extents []ids.PageSpan, pageSize int) int64 {
	var pages int64
	for _, e := range extents {
		pages += int64(e.Length)
	}
	return pages * int64(pageSize)
}

// pageAt maps a global page index (0-based across the whole extent list,
// in list order) to the physical PageID it corresponds to.
func pageAt(extents []ids.PageSpan, globalPage int64) (ids.PageID, bool) {
	var base int64
	for _, e := range extents {
		if globalPage < base+int64(e.Length) {
			return e.Start + ids.PageID(globalPage-base), true
		}
		base += int64(e.Length)
	}
	return 0, false
}

// readExtentRange copies len(buf) bytes starting at absolute byte offset
// pos across extents, zero-filling any portion that falls past the
// extent list's own capacity (sparse tail, e.g. after a length-only
// SetLength grow that hasn't been written through yet).
func readExtentRange(eng *engine.Engine, extents []ids.PageSpan, pos int64, buf []byte) error {
	pageSize := int64(eng.PageSize())
	off := 0
	for off < len(buf) {
		abs := pos + int64(off)
		globalPage := abs / pageSize
		inPage := int(abs % pageSize)
		n := len(buf) - off
		if avail := int(pageSize) - inPage; n > avail {
			n = avail
		}
		pid, ok := pageAt(extents, globalPage)
		if !ok {
			for i := 0; i < n; i++ {
				buf[off+i] = 0
			}
			off += n
			continue
		}
		page, err := eng.ReadPage(pid)
		if err != nil {
			return err
		}
		copy(buf[off:off+n], page[inPage:inPage+n])
		off += n
	}
	return nil
}

// writeExtentRange writes len(buf) bytes starting at absolute byte offset
// pos across extents (which must already have enough capacity), doing a
// read-modify-write for any page that isn't being fully overwritten.
func writeExtentRange(eng *engine.Engine, extents []ids.PageSpan, pos int64, buf []byte) error {
	pageSize := int64(eng.PageSize())
	off := 0
	for off < len(buf) {
		abs := pos + int64(off)
		globalPage := abs / pageSize
		inPage := int(abs % pageSize)
		n := len(buf) - off
		if avail := int(pageSize) - inPage; n > avail {
			n = avail
		}
		pid, ok := pageAt(extents, globalPage)
		if !ok {
			return errs.Io("write at page %d exceeds reserved extent capacity", globalPage)
		}
		var page []byte
		if inPage != 0 || n != int(pageSize) {
			existing, err := eng.ReadPage(pid)
			if err != nil {
				return err
			}
			page = existing
		} else {
			page = make([]byte, pageSize)
		}
		copy(page[inPage:inPage+n], buf[off:off+n])
		if err := eng.WritePage(pid, page); err != nil {
			return err
		}
		off += n
	}
	return nil
}
