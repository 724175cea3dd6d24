// Package alloc implements a crash-tolerant page-span allocator that
// segregates metadata from file-data tails and defers reuse of freed data
// pages until the commit that recorded their freeing is durable. Metadata
// spans reuse a first-fit free list; file-data spans never do.
package alloc

import (
	"sync"

	"github.com/viofs/viofs/internal/ids"
)

// Owner classifies a reservation as belonging to a metadata table or to
// file data, which determines the allocator's reuse policy for it.
type Owner uint8

const (
	Metadata Owner = iota
	FileData
)

// LengthExtender is the Storage Engine capability the allocator needs:
// guarantee the container is at least long enough to hold up to endPage.
type LengthExtender interface {
	EnsureLength(endPage ids.PageID) error
}

// Allocator is safe for concurrent use; all state is protected by one
// mutex.
type Allocator struct {
	mu sync.Mutex

	engine LengthExtender

	metadataFree freeList
	stagedData   []ids.PageSpan

	metadataTail ids.PageID
	dataTail     ids.PageID
	totalPages   ids.PageID
}

// New creates an empty Allocator for a brand-new container; both region
// tails start at the first page past the superblock slots.
func New(engine LengthExtender) *Allocator {
	return &Allocator{
		engine:       engine,
		metadataTail: ids.FirstDataPageID,
		dataTail:     ids.FirstDataPageID,
		totalPages:   ids.FirstDataPageID,
	}
}

// Reservation is a pending allocation with transactional release
// semantics: callers must `defer res.Abort()` immediately after a
// successful Reserve and call res.Commit() once the span has been
// durably recorded. Abort after Commit (or a second Abort) is a no-op.
type Reservation struct {
	mu        sync.Mutex
	a         *Allocator
	owner     Owner
	span      ids.PageSpan
	resolved  bool
}

// Span returns the reserved page span.
func (r *Reservation) Span() ids.PageSpan { return r.span }

// Commit finalizes the reservation: the span now belongs to its caller
// and will not be freed automatically.
func (r *Reservation) Commit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved = true
}

// Abort releases the span back to the allocator (metadata: straight back
// to the free list; data: back onto the staged-free list) unless the
// reservation was already committed or aborted.
func (r *Reservation) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolved {
		return
	}
	r.resolved = true
	r.a.releaseUncommitted(r.owner, r.span)
}

func (a *Allocator) releaseUncommitted(owner Owner, span ids.PageSpan) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch owner {
	case Metadata:
		a.metadataFree = a.metadataFree.insert(span)
	case FileData:
		a.stagedData = append(a.stagedData, span)
	}
}

// Reserve hands out a contiguous span of `length` pages for owner.
// Reservation is infallible with respect to the allocator's own
// bookkeeping; it can still fail if the Storage Engine cannot
// extend the container.
func (a *Allocator) Reserve(owner Owner, length uint32) (*Reservation, error) {
	if length == 0 {
		length = 1
	}
	a.mu.Lock()
	var span ids.PageSpan
	var growEnd ids.PageID

	switch owner {
	case Metadata:
		if fl, taken, ok := a.metadataFree.takeFirstFit(length); ok {
			a.metadataFree = fl
			span = taken
		} else {
			if a.metadataTail < a.dataTail {
				a.metadataTail = a.dataTail
			}
			span = ids.PageSpan{Start: a.metadataTail, Length: length}
			a.metadataTail = span.End()
			growEnd = a.metadataTail
		}
	case FileData:
		if a.dataTail < a.metadataTail {
			a.dataTail = a.metadataTail
		}
		span = ids.PageSpan{Start: a.dataTail, Length: length}
		a.dataTail = span.End()
		growEnd = a.dataTail
	}
	if e := span.End(); e > a.totalPages {
		a.totalPages = e
	}
	a.mu.Unlock()

	if growEnd != 0 {
		if err := a.engine.EnsureLength(growEnd); err != nil {
			return nil, err
		}
	}
	return &Reservation{a: a, owner: owner, span: span}, nil
}

// Free releases span immediately. Metadata spans go straight back onto
// the metadata free list (coalesced); data spans are only staged — they
// become reusable after the next ReleaseStagedData call.
func (a *Allocator) Free(owner Owner, span ids.PageSpan) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch owner {
	case Metadata:
		a.metadataFree = a.metadataFree.insert(span)
	case FileData:
		a.stagedData = append(a.stagedData, span)
	}
}

// ReleaseStagedData publishes all currently staged data frees into the
// metadata free list. FileData allocations never reuse free spans —
// staged frees only ever become eligible for *metadata* reuse, keeping
// file-data growth monotonic and crash-tolerant. Metadata persistence
// calls this right after a successful superblock commit.
func (a *Allocator) ReleaseStagedData() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, span := range a.stagedData {
		a.metadataFree = a.metadataFree.insert(span)
	}
	a.stagedData = a.stagedData[:0]
}

// MarkMetadataRange removes span from the free list and advances
// metadataTail past it, used while rehydrating persisted table extents
// on mount.
func (a *Allocator) MarkMetadataRange(span ids.PageSpan) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metadataFree = a.metadataFree.remove(span)
	if e := span.End(); e > a.metadataTail {
		a.metadataTail = e
	}
	if e := span.End(); e > a.totalPages {
		a.totalPages = e
	}
}

// RebuildFromDisk reconstructs allocator state from the set of spans
// currently in use (every file's extents plus the metadata-table spans):
// any gap between used spans becomes metadata-reusable free space, and
// the high-water mark becomes both tails.
func (a *Allocator) RebuildFromDisk(used []ids.PageSpan) {
	sorted := make([]ids.PageSpan, len(used))
	copy(sorted, used)
	sortSpans(sorted)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.metadataFree = nil
	a.stagedData = nil

	cursor := ids.FirstDataPageID
	var maxEnd ids.PageID = ids.FirstDataPageID
	for _, s := range sorted {
		if s.Start > cursor {
			a.metadataFree = a.metadataFree.insert(ids.PageSpan{Start: cursor, Length: uint32(s.Start - cursor)})
		}
		if s.End() > cursor {
			cursor = s.End()
		}
		if s.End() > maxEnd {
			maxEnd = s.End()
		}
	}
	a.dataTail = maxEnd
	a.metadataTail = maxEnd
	a.totalPages = maxEnd
}

// TotalPages returns the high-water mark of pages ever allocated.
func (a *Allocator) TotalPages() ids.PageID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalPages
}

func sortSpans(s []ids.PageSpan) {
	// Small, allocation-free insertion sort: free/metadata-span lists are
	// short relative to file counts, and this runs only at mount.
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1].Start > s[j].Start; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
