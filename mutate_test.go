package fat

import (
	"io"
	"testing"
	"time"
)

func freshFormattedFS(t *testing.T, numBlocks int) (*FS, *BytesBlocks) {
	t.Helper()
	dev := NewBytesBlocks(numBlocks, 512)
	var formatter Formatter
	if err := formatter.Format(dev, 512, numBlocks, FormatConfig{Label: "MUTATE"}); err != nil {
		t.Fatal(err)
	}
	var fs FS
	attachLogger(&fs)
	if err := fs.Mount(dev, 512, ModeRW); err != nil {
		t.Fatal(err)
	}
	return &fs, dev
}

func writeFile(t *testing.T, fs *FS, path string, data []byte) {
	t.Helper()
	var fp File
	if err := fs.OpenFile(&fp, path, ModeWrite|ModeCreateAlways); err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	n, err := fp.Write(data)
	if err != nil {
		t.Fatalf("write %s: %v", path, err)
	} else if n != len(data) {
		t.Fatalf("short write to %s: %d/%d", path, n, len(data))
	}
	if err := fp.Close(); err != nil {
		t.Fatalf("close %s: %v", path, err)
	}
}

func readFile(t *testing.T, fs *FS, path string) []byte {
	t.Helper()
	var fp File
	if err := fs.OpenFile(&fp, path, ModeRead); err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	data, err := io.ReadAll(&fp)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if err := fp.Close(); err != nil {
		t.Fatalf("close %s: %v", path, err)
	}
	return data
}

// TestMountUnmountPreservesInfoSector checks that a mount/unmount pair with
// no operations in between leaves the FSInfo sector byte-identical.
func TestMountUnmountPreservesInfoSector(t *testing.T) {
	fs, dev := freshFormattedFS(t, 70000)
	if err := fs.Unmount(); err != nil {
		t.Fatal(err)
	}
	before := append([]byte(nil), dev.buf[512:1024]...) // FSInfo lives in sector 1.

	if err := fs.Mount(dev, 512, ModeRW); err != nil {
		t.Fatal(err)
	}
	if err := fs.Unmount(); err != nil {
		t.Fatal(err)
	}
	after := dev.buf[512:1024]
	for i := range after {
		if after[i] != before[i] {
			t.Fatalf("info sector byte %d changed across an idle mount/unmount", i)
		}
	}
}

// TestRemoveFreesChain checks that removing a file makes its clusters
// available again (testable property P2: create+remove roundtrips free_clusters).
func TestRemoveFreesChain(t *testing.T) {
	const numBlocks = 70000
	fs, _ := freshFormattedFS(t, numBlocks)

	before := fs.free_clst
	payload := make([]byte, 8*int(fs.csize)*int(fs.ssize)) // Span several clusters.
	for i := range payload {
		payload[i] = byte(i)
	}
	writeFile(t, fs, "/big.bin", payload)
	afterWrite := fs.free_clst
	if afterWrite >= before {
		t.Fatalf("expected free_clst to drop after writing, before=%d after=%d", before, afterWrite)
	}

	if err := fs.Remove("/big.bin"); err != nil {
		t.Fatal(err)
	}
	afterRemove := fs.free_clst
	if afterRemove != before {
		t.Errorf("free_clst not restored after remove: before=%d afterRemove=%d", before, afterRemove)
	}

	var fp File
	if err := fs.OpenFile(&fp, "/big.bin", ModeRead); err == nil {
		t.Error("expected removed file to no longer open")
	}
}

// TestRemoveRejectsNonEmptyDir checks that a populated directory cannot be removed.
func TestRemoveRejectsNonEmptyDir(t *testing.T) {
	fs, _ := freshFormattedFS(t, 70000)
	if err := fs.Mkdir("/sub"); err != nil {
		t.Fatal(err)
	}
	writeFile(t, fs, "/sub/a.txt", []byte("hi"))

	if err := fs.Remove("/sub"); err == nil {
		t.Error("expected removing non-empty directory to fail")
	}
	if err := fs.Remove("/sub/a.txt"); err != nil {
		t.Fatal(err)
	}
	if err := fs.Remove("/sub"); err != nil {
		t.Fatalf("removing now-empty directory failed: %v", err)
	}
}

// TestMkdirDotEntries checks that a freshly created directory carries working
// "." and ".." entries pointing at itself and its parent.
func TestMkdirDotEntries(t *testing.T) {
	fs, dev := freshFormattedFS(t, 70000)
	if err := fs.Mkdir("/sub"); err != nil {
		t.Fatal(err)
	}
	writeFile(t, fs, "/sub/inner.txt", []byte("contents"))

	node, err := fs.Lookup("/sub")
	if err != nil {
		t.Fatal(err)
	}
	subClust := node.FirstCluster()
	node.Close()
	off := int(fs.clst2sect(subClust)) * int(fs.ssize)
	dot, dotdot := dev.buf[off:off+sizeDirEntry], dev.buf[off+sizeDirEntry:off+2*sizeDirEntry]
	if string(dot[:11]) != ".          " || fs.ld_clust(dot) != subClust {
		t.Errorf("\".\" entry = %q -> cluster %d, want itself (cluster %d)", dot[:11], fs.ld_clust(dot), subClust)
	}
	if string(dotdot[:11]) != "..         " || fs.ld_clust(dotdot) != 0 {
		t.Errorf("\"..\" entry = %q -> cluster %d, want the root (cluster 0)", dotdot[:11], fs.ld_clust(dotdot))
	}

	var dp Dir
	if err := fs.OpenDir(&dp, "/sub"); err != nil {
		t.Fatal(err)
	}
	var names []string
	err = dp.ForEachFile(func(fi *FileInfo) error {
		names = append(names, fi.Name())
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, n := range names {
		if n == "inner.txt" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected inner.txt in /sub, got %v", names)
	}
}

// TestRenameSameDirectory renames a file within its own directory and checks
// the data survives under the new name and is gone under the old one.
func TestRenameSameDirectory(t *testing.T) {
	fs, _ := freshFormattedFS(t, 70000)
	writeFile(t, fs, "/old.txt", []byte("rename me"))

	if err := fs.Rename("/old.txt", "/new.txt"); err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, fs, "/new.txt"); string(got) != "rename me" {
		t.Errorf("got %q, want %q", got, "rename me")
	}
	var fp File
	if err := fs.OpenFile(&fp, "/old.txt", ModeRead); err == nil {
		t.Error("expected old path to be gone after rename")
	}
}

// TestRenameAcrossDirectories moves a file into a subdirectory, confirming
// its length and contents are untouched by the move.
func TestRenameAcrossDirectories(t *testing.T) {
	fs, _ := freshFormattedFS(t, 70000)
	if err := fs.Mkdir("/dst"); err != nil {
		t.Fatal(err)
	}
	payload := make([]byte, 4*int(fs.csize)*int(fs.ssize))
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	writeFile(t, fs, "/src.bin", payload)

	if err := fs.Rename("/src.bin", "/dst/moved.bin"); err != nil {
		t.Fatal(err)
	}
	got := readFile(t, fs, "/dst/moved.bin")
	if len(got) != len(payload) {
		t.Fatalf("length mismatch after cross-directory rename: got %d want %d", len(got), len(payload))
	}
	for i := range got {
		if got[i] != payload[i] {
			t.Fatalf("content mismatch at byte %d after rename", i)
		}
	}
}

// TestTruncateShrinksAndFreesClusters covers testable property P5: after
// truncating to size S, Length==S and a read at offset S reaches EOF, plus
// the freed clusters are reflected in free_clst.
func TestTruncateShrinksAndFreesClusters(t *testing.T) {
	fs, _ := freshFormattedFS(t, 70000)
	bcs := int(fs.csize) * int(fs.ssize)
	payload := make([]byte, 8*bcs)
	for i := range payload {
		payload[i] = byte(i)
	}
	writeFile(t, fs, "/big.bin", payload)
	freeAfterWrite := fs.free_clst

	var fp File
	if err := fs.OpenFile(&fp, "/big.bin", ModeRW); err != nil {
		t.Fatal(err)
	}
	const newSize = 1000
	if err := fp.Truncate(newSize); err != nil {
		t.Fatal(err)
	}
	if fp.obj.objsize != newSize {
		t.Errorf("objsize after truncate = %d, want %d", fp.obj.objsize, newSize)
	}
	if err := fp.Close(); err != nil {
		t.Fatal(err)
	}

	if fs.free_clst <= freeAfterWrite {
		t.Errorf("expected free_clst to grow after truncate, before=%d after=%d", freeAfterWrite, fs.free_clst)
	}

	got := readFile(t, fs, "/big.bin")
	if len(got) != newSize {
		t.Fatalf("read back %d bytes, want %d", len(got), newSize)
	}
	for i := range got {
		if got[i] != payload[i] {
			t.Fatalf("content mismatch at byte %d after truncate", i)
		}
	}
}

// TestLookupNodes resolves files, directories, the root and a missing path
// to Node handles and checks the pool recycles released ones.
func TestLookupNodes(t *testing.T) {
	fs, _ := freshFormattedFS(t, 70000)
	writeFile(t, fs, "/data.bin", make([]byte, 1234))
	if err := fs.Mkdir("/sub"); err != nil {
		t.Fatal(err)
	}

	n, err := fs.Lookup("/data.bin")
	if err != nil {
		t.Fatal(err)
	}
	if n.IsDir() || n.Size() != 1234 || n.FirstCluster() == 0 {
		t.Errorf("file node = dir:%v size:%d cluster:%d", n.IsDir(), n.Size(), n.FirstCluster())
	}
	if err := n.Close(); err != nil {
		t.Fatal(err)
	}

	d, err := fs.Lookup("/sub")
	if err != nil {
		t.Fatal(err)
	}
	if !d.IsDir() || d.Size() != 0 {
		t.Errorf("directory node = dir:%v size:%d", d.IsDir(), d.Size())
	}
	d.Close()

	root, err := fs.Lookup("/")
	if err != nil {
		t.Fatal(err)
	}
	if !root.IsDir() || root.FirstCluster() == 0 {
		t.Errorf("root node = dir:%v cluster:%d", root.IsDir(), root.FirstCluster())
	}
	root.Close()

	if _, err := fs.Lookup("/nope.txt"); err == nil {
		t.Error("expected lookup of missing path to fail")
	}

	// Released nodes go back to the pool: more sequential lookups than the
	// pool holds still succeed.
	for i := 0; i < 3*defaultNodePoolSize; i++ {
		n, err := fs.Lookup("/data.bin")
		if err != nil {
			t.Fatalf("lookup %d: %v", i, err)
		}
		n.Close()
	}
}

// TestSeekReadAtWriteAt exercises positioned I/O across cluster boundaries on
// one open handle: reads at arbitrary offsets, an in-place overwrite, and a
// relative seek from the end.
func TestSeekReadAtWriteAt(t *testing.T) {
	fs, _ := freshFormattedFS(t, 70000)
	bcs := int(fs.csize) * int(fs.ssize)
	payload := make([]byte, 3*bcs+100)
	for i := range payload {
		payload[i] = byte(i * 31)
	}
	writeFile(t, fs, "/pos.bin", payload)

	var fp File
	if err := fs.OpenFile(&fp, "/pos.bin", ModeRW); err != nil {
		t.Fatal(err)
	}

	// Read straddling a cluster boundary.
	buf := make([]byte, 64)
	off := int64(bcs - 32)
	if _, err := fp.ReadAt(buf, off); err != nil {
		t.Fatal(err)
	}
	for i := range buf {
		if buf[i] != payload[off+int64(i)] {
			t.Fatalf("ReadAt mismatch at byte %d", off+int64(i))
		}
	}

	// Overwrite in place mid-file and confirm only that range changed.
	patch := []byte("patched bytes")
	patchOff := int64(2*bcs + 11)
	if _, err := fp.WriteAt(patch, patchOff); err != nil {
		t.Fatal(err)
	}
	if fp.Size() != int64(len(payload)) {
		t.Errorf("in-place overwrite changed size to %d, want %d", fp.Size(), len(payload))
	}
	copy(payload[patchOff:], patch)

	// Relative seek from the end and sequential read of the tail.
	if _, err := fp.Seek(-10, io.SeekEnd); err != nil {
		t.Fatal(err)
	}
	tail := make([]byte, 10)
	if _, err := io.ReadFull(&fp, tail); err != nil {
		t.Fatal(err)
	}
	for i := range tail {
		if tail[i] != payload[len(payload)-10+i] {
			t.Fatalf("tail mismatch at byte %d", i)
		}
	}

	// Reading at EOF reports it.
	if _, err := fp.ReadAt(buf, fp.Size()); err != io.EOF {
		t.Errorf("ReadAt at EOF = %v, want io.EOF", err)
	}
	if err := fp.Close(); err != nil {
		t.Fatal(err)
	}

	got := readFile(t, fs, "/pos.bin")
	for i := range got {
		if got[i] != payload[i] {
			t.Fatalf("content mismatch at byte %d after positioned writes", i)
		}
	}
}

// fixedClock pins the FS timestamp source for tests.
type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// TestSetClockStampsModTime checks that directory entry modification times
// come from the attached clock, surviving FAT's 2-second time resolution.
func TestSetClockStampsModTime(t *testing.T) {
	fs, _ := freshFormattedFS(t, 70000)
	want := time.Date(2022, time.March, 4, 5, 6, 8, 0, time.UTC)
	fs.SetClock(fixedClock{t: want})

	writeFile(t, fs, "/stamped.txt", []byte("tick"))

	var dp Dir
	if err := fs.OpenDir(&dp, "/"); err != nil {
		t.Fatal(err)
	}
	var got time.Time
	err := dp.ForEachFile(func(fi *FileInfo) error {
		if fi.Name() == "stamped.txt" {
			got = fi.ModTime()
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(want) {
		t.Errorf("ModTime = %v, want %v", got, want)
	}
}

// TestTruncateToZero checks the below-first-cluster-boundary path frees the
// entire chain.
func TestTruncateToZero(t *testing.T) {
	fs, _ := freshFormattedFS(t, 70000)
	writeFile(t, fs, "/z.bin", []byte("some bytes to discard"))

	var fp File
	if err := fs.OpenFile(&fp, "/z.bin", ModeRW); err != nil {
		t.Fatal(err)
	}
	if err := fp.Truncate(0); err != nil {
		t.Fatal(err)
	}
	if fp.obj.sclust != 0 {
		t.Errorf("expected sclust reset to 0 after truncating to zero, got %d", fp.obj.sclust)
	}
	if err := fp.Close(); err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, fs, "/z.bin"); len(got) != 0 {
		t.Errorf("expected empty file after truncate to zero, got %d bytes", len(got))
	}
}
