package viofs

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"github.com/viofs/viofs/internal/engine"
	"github.com/viofs/viofs/internal/ids"
)

// S1. Create, write, read, reopen.
func TestS1_CreateWriteReadReopen(t *testing.T) {
	c := engine.NewMemoryContainer()
	fs, err := Mount(c, Options{PageSize: 4096})
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	if err := fs.CreateFile("/a.txt", 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	s, err := fs.OpenFile("/a.txt", ModeOpen, AccessWrite)
	if err != nil {
		t.Fatalf("open for write: %v", err)
	}
	if _, err := s.Write([]byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Dispose(); err != nil {
		t.Fatalf("dispose stream: %v", err)
	}
	if err := fs.Dispose(); err != nil {
		t.Fatalf("dispose vfs: %v", err)
	}

	fs2, err := Mount(c, Options{})
	if err != nil {
		t.Fatalf("remount: %v", err)
	}
	defer fs2.Dispose()
	r, err := fs2.OpenFile("/a.txt", ModeOpen, AccessRead)
	if err != nil {
		t.Fatalf("reopen for read: %v", err)
	}
	defer r.Dispose()
	buf := make([]byte, 16)
	n, err := r.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(buf[:n], []byte{0x01, 0x02, 0x03}) {
		t.Fatalf("read back %v, want [1 2 3]", buf[:n])
	}
	length, _ := r.Length()
	if length != 3 {
		t.Fatalf("length = %d, want 3", length)
	}
}

// S2. Superblock rotation.
func TestS2_SuperblockRotation(t *testing.T) {
	c := engine.NewMemoryContainer()
	fs, err := Mount(c, Options{PageSize: 4096})
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	defer fs.Dispose()

	active, gen, _ := fs.eng.Superblock()
	if active != 0 || gen != 0 {
		t.Fatalf("fresh mount: active=%d gen=%d, want 0,0", active, gen)
	}

	if err := fs.CreateFile("/x", 0); err != nil {
		t.Fatalf("create x: %v", err)
	}
	active, gen, _ = fs.eng.Superblock()
	if active != 1 || gen != 1 {
		t.Fatalf("after first mutation: active=%d gen=%d, want 1,1", active, gen)
	}

	if err := fs.CreateFile("/y", 0); err != nil {
		t.Fatalf("create y: %v", err)
	}
	active, gen, _ = fs.eng.Superblock()
	if active != 0 || gen != 2 {
		t.Fatalf("after second mutation: active=%d gen=%d, want 0,2", active, gen)
	}
}

// S3. Crash-tolerance of delete: deleted file's pages never overlap a
// freshly created file's extents before another commit cycle completes.
func TestS3_CrashToleranceOfDelete(t *testing.T) {
	c := engine.NewMemoryContainer()
	fs, err := Mount(c, Options{PageSize: 4096})
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	defer fs.Dispose()

	if err := fs.CreateFile("/big", 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	w, err := fs.OpenFile("/big", ModeOpen, AccessWrite)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data := bytes.Repeat([]byte{0x7A}, 1<<20)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Dispose(); err != nil {
		t.Fatalf("dispose: %v", err)
	}
	bigEntry, ok := fs.dirs.TryGet(ids.RootFileID, "big")
	if !ok {
		t.Fatal("/big missing from the root directory")
	}
	bigMeta, _ := fs.files.Get(bigEntry.Target)

	if err := fs.DeleteFile("/big"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if fs.FileExists("/big") {
		t.Fatal("/big should no longer exist")
	}
	if err := fs.CreateFile("/new", 0); err != nil {
		t.Fatalf("create /new: %v", err)
	}
	if !fs.FileExists("/new") {
		t.Fatal("/new should exist")
	}
	nw, err := fs.OpenFile("/new", ModeOpen, AccessWrite)
	if err != nil {
		t.Fatalf("open /new: %v", err)
	}
	if _, err := nw.Write(data[:8192]); err != nil {
		t.Fatalf("write /new: %v", err)
	}
	newEntry, _ := fs.dirs.TryGet(ids.RootFileID, "new")
	newMeta, _ := fs.files.Get(newEntry.Target)
	for _, s := range newMeta.Extents {
		if ids.SpansOverlapAny(bigMeta.Extents, s) {
			t.Fatalf("/new extent %+v reuses pages of deleted /big %+v", s, bigMeta.Extents)
		}
	}
	if err := nw.Dispose(); err != nil {
		t.Fatalf("dispose /new: %v", err)
	}
}

// S4. Mirror recovery.
func TestS4_MirrorRecovery(t *testing.T) {
	// Mirroring requires fsync-capable containers, so this uses files.
	dir := t.TempDir()
	primary, err := engine.OpenFileContainer(filepath.Join(dir, "image"))
	if err != nil {
		t.Fatalf("open primary: %v", err)
	}
	defer primary.Close()
	mirrorC, err := engine.OpenFileContainer(filepath.Join(dir, "image.bak"))
	if err != nil {
		t.Fatalf("open mirror: %v", err)
	}
	defer mirrorC.Close()
	fs, err := Mount(primary, Options{PageSize: 4096, Mirror: mirrorC})
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	if err := fs.CreateFile("/a", 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := fs.Dispose(); err != nil {
		t.Fatalf("dispose: %v", err)
	}

	if err := mirrorC.Truncate(0); err != nil {
		t.Fatalf("truncate mirror: %v", err)
	}

	fs2, err := Mount(primary, Options{Mirror: mirrorC})
	if err != nil {
		t.Fatalf("remount with mirror: %v", err)
	}
	defer fs2.Dispose()

	pSize, _ := primary.Size()
	mSize, _ := mirrorC.Size()
	if pSize != mSize {
		t.Fatalf("mirror not repopulated: primary=%d mirror=%d", pSize, mSize)
	}
	if !fs2.FileExists("/a") {
		t.Fatal("/a should exist after mirror recovery")
	}
}

// S5. Page-size conflict.
func TestS5_PageSizeConflict(t *testing.T) {
	c := engine.NewMemoryContainer()
	fs, err := Mount(c, Options{PageSize: 4096})
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	if err := fs.CreateFile("/x", 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := fs.Dispose(); err != nil {
		t.Fatalf("dispose: %v", err)
	}
	sizeBefore, _ := c.Size()

	if _, err := Mount(c, Options{PageSize: 8192}); err == nil {
		t.Fatal("expected page size mismatch error")
	}
	sizeAfter, _ := c.Size()
	if sizeBefore != sizeAfter {
		t.Fatalf("container size changed after failed mount: %d vs %d", sizeBefore, sizeAfter)
	}
}

// S6. Attribute round-trip.
func TestS6_AttributeRoundTrip(t *testing.T) {
	c := engine.NewMemoryContainer()
	fs, err := Mount(c, Options{PageSize: 4096})
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	if err := fs.CreateFile("/k", 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := fs.SetAttribute("/k", "u", []byte{0xAA, 0xBB}); err != nil {
		t.Fatalf("set attribute: %v", err)
	}
	if err := fs.Dispose(); err != nil {
		t.Fatalf("dispose: %v", err)
	}

	fs2, err := Mount(c, Options{})
	if err != nil {
		t.Fatalf("remount: %v", err)
	}
	defer fs2.Dispose()

	v, ok, err := fs2.TryGetAttribute("/k", "u")
	if err != nil || !ok || !bytes.Equal(v, []byte{0xAA, 0xBB}) {
		t.Fatalf("tryGetAttribute = %v, %v, %v", v, ok, err)
	}
	existed, err := fs2.RemoveAttribute("/k", "u")
	if err != nil || !existed {
		t.Fatalf("removeAttribute = %v, %v", existed, err)
	}
	if _, ok, _ := fs2.TryGetAttribute("/k", "u"); ok {
		t.Fatal("attribute should be gone after removal")
	}
}

func TestCreateDirectory_NestedAndIdempotent(t *testing.T) {
	c := engine.NewMemoryContainer()
	fs, err := Mount(c, Options{PageSize: 4096})
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	defer fs.Dispose()

	if err := fs.CreateDirectory("/a/b/c"); err != nil {
		t.Fatalf("create nested dir: %v", err)
	}
	if !fs.DirectoryExists("/a/b/c") {
		t.Fatal("nested directory should exist")
	}
	_, gen, _ := fs.eng.Superblock()
	if err := fs.CreateDirectory("/a/b/c"); err != nil {
		t.Fatalf("idempotent create: %v", err)
	}
	_, gen2, _ := fs.eng.Superblock()
	if gen2 != gen {
		t.Fatalf("re-creating an existing directory tree advanced the generation: %d -> %d", gen, gen2)
	}
}

func TestDeleteDirectory_NonEmptyWithoutRecursiveFails(t *testing.T) {
	c := engine.NewMemoryContainer()
	fs, err := Mount(c, Options{PageSize: 4096})
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	defer fs.Dispose()

	fs.CreateDirectory("/d")
	fs.CreateFile("/d/f", 0)

	if err := fs.DeleteDirectory("/d", false); err == nil {
		t.Fatal("expected DirectoryNotEmpty error")
	}
	if err := fs.DeleteDirectory("/d", true); err != nil {
		t.Fatalf("recursive delete: %v", err)
	}
	if fs.DirectoryExists("/d") {
		t.Fatal("directory should be gone after recursive delete")
	}
}

func TestOpenFile_ModeCreateNewRejectsExisting(t *testing.T) {
	c := engine.NewMemoryContainer()
	fs, err := Mount(c, Options{PageSize: 4096})
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	defer fs.Dispose()

	fs.CreateFile("/f", 0)
	if _, err := fs.OpenFile("/f", ModeCreateNew, AccessWrite); err == nil {
		t.Fatal("expected AlreadyExists for CreateNew on existing file")
	}
}

func TestOpenFile_ModeAppend_WritesAtTail(t *testing.T) {
	c := engine.NewMemoryContainer()
	fs, err := Mount(c, Options{PageSize: 4096})
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	defer fs.Dispose()

	w, _ := fs.OpenFile("/f", ModeOpenOrCreate, AccessWrite)
	w.Write([]byte("hello"))
	w.Dispose()

	a, err := fs.OpenFile("/f", ModeAppend, AccessRead)
	if err != nil {
		t.Fatalf("append open: %v", err)
	}
	pos, _ := a.Position()
	if pos != 5 {
		t.Fatalf("append start position = %d, want 5", pos)
	}
	a.Write([]byte(" world"))
	a.Dispose()

	r, _ := fs.OpenFile("/f", ModeOpen, AccessRead)
	defer r.Dispose()
	buf, _ := io.ReadAll(readerFor(r))
	if string(buf) != "hello world" {
		t.Fatalf("content = %q, want %q", buf, "hello world")
	}
}

func readerFor(s *FileStream) io.Reader {
	return readerFunc(func(p []byte) (int, error) {
		n, err := s.Read(p)
		if n == 0 && err == nil {
			return 0, io.EOF
		}
		return n, err
	})
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

func TestSetLength_ShrinkSetsLength(t *testing.T) {
	c := engine.NewMemoryContainer()
	fs, err := Mount(c, Options{PageSize: 64})
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	defer fs.Dispose()

	w, _ := fs.OpenFile("/f", ModeOpenOrCreate, AccessWrite)
	w.Write(bytes.Repeat([]byte{1}, 300))
	if err := w.SetLength(10); err != nil {
		t.Fatalf("setLength: %v", err)
	}
	length, _ := w.Length()
	if length != 10 {
		t.Fatalf("length = %d, want 10", length)
	}
	w.Dispose()
}

func TestSeekPastEnd_ReadsZerosUntilWrite(t *testing.T) {
	c := engine.NewMemoryContainer()
	fs, err := Mount(c, Options{PageSize: 64})
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	defer fs.Dispose()

	w, _ := fs.OpenFile("/f", ModeOpenOrCreate, AccessReadWrite)
	defer w.Dispose()
	w.Write([]byte("ab"))
	if _, err := w.Seek(100, io.SeekStart); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if _, err := w.Write([]byte("z")); err != nil {
		t.Fatalf("write past gap: %v", err)
	}
	length, _ := w.Length()
	if length != 101 {
		t.Fatalf("length = %d, want 101", length)
	}

	w.Seek(2, io.SeekStart)
	gap := make([]byte, 50)
	n, err := w.Read(gap)
	if err != nil {
		t.Fatalf("read gap: %v", err)
	}
	for i := 0; i < n; i++ {
		if gap[i] != 0 {
			t.Fatalf("gap byte %d = %x, want 0", i, gap[i])
		}
	}
}
