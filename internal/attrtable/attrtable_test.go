package attrtable

import (
	"bytes"
	"testing"

	"github.com/viofs/viofs/internal/ids"
)

func TestUpsertTryGetRemove(t *testing.T) {
	tbl := New()
	tbl.Upsert(1, "u", []byte{0xAA, 0xBB})
	got, ok := tbl.TryGet(1, "u")
	if !ok || !bytes.Equal(got, []byte{0xAA, 0xBB}) {
		t.Fatalf("tryGet = %v, %v", got, ok)
	}
	if !tbl.Remove(1, "u") {
		t.Fatal("remove should report existed=true")
	}
	if _, ok := tbl.TryGet(1, "u"); ok {
		t.Fatal("attribute should be gone after remove")
	}
	if tbl.Remove(1, "u") {
		t.Fatal("second remove should report existed=false")
	}
}

func TestTryGet_ReturnsIndependentCopy(t *testing.T) {
	tbl := New()
	tbl.Upsert(1, "u", []byte{1, 2, 3})
	v, _ := tbl.TryGet(1, "u")
	v[0] = 99
	v2, _ := tbl.TryGet(1, "u")
	if v2[0] == 99 {
		t.Fatal("mutating a TryGet result leaked into the table")
	}
}

func TestRemoveAll(t *testing.T) {
	tbl := New()
	tbl.Upsert(1, "a", []byte("x"))
	tbl.Upsert(1, "b", []byte("y"))
	tbl.Upsert(2, "a", []byte("z"))
	tbl.RemoveAll(1)
	if _, ok := tbl.TryGet(1, "a"); ok {
		t.Fatal("RemoveAll should remove file 1's attributes")
	}
	if _, ok := tbl.TryGet(2, "a"); !ok {
		t.Fatal("RemoveAll should not touch other files' attributes")
	}
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	tbl := New()
	tbl.Upsert(ids.FileID(1), "u", []byte{0xAA})
	tbl.Upsert(ids.FileID(2), "v", []byte{0xBB})
	snap := tbl.Snapshot()

	tbl2 := New()
	tbl2.Restore(snap)
	if v, ok := tbl2.TryGet(1, "u"); !ok || !bytes.Equal(v, []byte{0xAA}) {
		t.Fatalf("restored attribute wrong: %v, %v", v, ok)
	}
}
