package alloc

import (
	"sort"

	"github.com/viofs/viofs/internal/ids"
)

// freeList is a coalesced, Start-ordered set of free PageSpans. A slice is
// enough here since free lists stay small relative to page counts and
// insertion needs a sorted scan regardless.
type freeList []ids.PageSpan

// insert adds span, coalescing it with any abutting neighbor on either
// side, and keeps the list sorted by Start.
func (fl freeList) insert(span ids.PageSpan) freeList {
	i := sort.Search(len(fl), func(i int) bool { return fl[i].Start >= span.Start })
	fl = append(fl, ids.PageSpan{})
	copy(fl[i+1:], fl[i:])
	fl[i] = span

	// Merge with the following neighbor first so the indices below stay
	// valid, then with the preceding one.
	if i+1 < len(fl) && fl[i].ContiguousWith(fl[i+1]) {
		fl[i].Length += fl[i+1].Length
		fl = append(fl[:i+1], fl[i+2:]...)
	}
	if i > 0 && fl[i-1].ContiguousWith(fl[i]) {
		fl[i-1].Length += fl[i].Length
		fl = append(fl[:i], fl[i+1:]...)
	}
	return fl
}

// takeFirstFit removes and returns the first free span whose length is >=
// the requested length, splitting off any remainder. Returns ok=false if
// no span fits.
func (fl freeList) takeFirstFit(length uint32) (freeList, ids.PageSpan, bool) {
	for i, s := range fl {
		if s.Length < length {
			continue
		}
		taken := ids.PageSpan{Start: s.Start, Length: length}
		if s.Length == length {
			fl = append(fl[:i], fl[i+1:]...)
		} else {
			fl[i] = ids.PageSpan{Start: s.Start + ids.PageID(length), Length: s.Length - length}
		}
		return fl, taken, true
	}
	return fl, ids.PageSpan{}, false
}

// remove deletes span from the list if an entry equals it exactly (used by
// MarkMetadataRange); a span lying inside a larger free entry is left as is.
func (fl freeList) remove(span ids.PageSpan) freeList {
	for i, s := range fl {
		if s == span {
			return append(fl[:i], fl[i+1:]...)
		}
	}
	return fl
}

// maxEnd returns the highest End() across the list, or 0 if empty.
func (fl freeList) maxEnd() ids.PageID {
	var max ids.PageID
	for _, s := range fl {
		if e := s.End(); e > max {
			max = e
		}
	}
	return max
}
