package persist

import (
	"bytes"
	"testing"

	"github.com/viofs/viofs/internal/engine"
	"github.com/viofs/viofs/internal/ids"
)

func TestWriteReadExtent_RoundTrip(t *testing.T) {
	c := engine.NewMemoryContainer()
	eng, err := engine.Mount(c, nil, engine.Options{PageSize: 64})
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	data := bytes.Repeat([]byte("0123456789"), 20) // spans multiple 64-byte pages
	pages := pagesForLength(len(data), eng.PageSize())
	span := ids.PageSpan{Start: ids.FirstDataPageID, Length: pages}

	if err := eng.EnsureLength(span.End()); err != nil {
		t.Fatalf("ensure length: %v", err)
	}
	if err := writeExtent(eng, span, data); err != nil {
		t.Fatalf("writeExtent: %v", err)
	}
	got, err := readExtent(eng, span)
	if err != nil {
		t.Fatalf("readExtent: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("round-trip mismatch: got %d bytes, want %d", len(got), len(data))
	}
}

func TestReadExtent_DetectsCorruption(t *testing.T) {
	c := engine.NewMemoryContainer()
	eng, err := engine.Mount(c, nil, engine.Options{PageSize: 64})
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	data := []byte("hello world")
	span := ids.PageSpan{Start: ids.FirstDataPageID, Length: 1}
	if err := eng.EnsureLength(span.End()); err != nil {
		t.Fatalf("ensure length: %v", err)
	}
	if err := writeExtent(eng, span, data); err != nil {
		t.Fatalf("writeExtent: %v", err)
	}

	page, err := eng.ReadPage(span.Start)
	if err != nil {
		t.Fatalf("read page: %v", err)
	}
	page[10] ^= 0xFF
	if err := eng.WritePage(span.Start, page); err != nil {
		t.Fatalf("corrupt page: %v", err)
	}

	if _, err := readExtent(eng, span); err == nil {
		t.Fatal("expected corruption error after flipping a data byte")
	}
}
