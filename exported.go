package fat

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/dustin/go-humanize"
)

// Mode represents the file access mode used in Open.
type Mode uint8

// File access modes for calling Open.
const (
	ModeRead  Mode = Mode(faRead)
	ModeWrite Mode = Mode(faWrite)
	ModeRW    Mode = ModeRead | ModeWrite

	ModeCreateNew    Mode = Mode(faCreateNew)
	ModeCreateAlways Mode = Mode(faCreateAlways)
	ModeOpenExisting Mode = Mode(faOpenExisting)
	ModeOpenAppend   Mode = Mode(faOpenAppend)

	allowedModes = ModeRead | ModeWrite | ModeCreateNew | ModeCreateAlways | ModeOpenExisting | ModeOpenAppend
)

var (
	errInvalidMode   = errors.New("invalid fat access mode")
	errForbiddenMode = errors.New("forbidden fat access mode")
	errInvalidWhence = errors.New("invalid seek whence")
)

// Dir represents an open FAT directory.
type Dir struct {
	dir
	inlineInfo FileInfo
}

// Clock supplies the wall time stamped into directory entries on create,
// write and sync.
type Clock interface {
	Now() time.Time
}

// SetClock sets the timestamp source for directory entry modification times.
// When unset (or set to nil) the FS falls back to [time.Now].
func (fsys *FS) SetClock(c Clock) {
	fsys.clock = c
}

// SetLogger attaches a structured logger to the FS. All engine diagnostics
// flow through it; a nil logger (the default) silences them.
func (fsys *FS) SetLogger(log *slog.Logger) {
	fsys.log = log
}

// Mount mounts the FAT file system on the given block device and sector size.
// It immediately invalidates previously open files and directories pointing to the same FS.
// Mode should be ModeRead, ModeWrite, or both.
func (fsys *FS) Mount(bd BlockDevice, blockSize int, mode Mode) error {
	if mode&^(ModeRead|ModeWrite) != 0 {
		return errInvalidMode
	} else if blockSize > math.MaxUint16 {
		return errors.New("sector size too large")
	}
	fsys.consistency.Lock()
	defer fsys.consistency.Unlock()
	fr := fsys.mount_volume(bd, uint16(blockSize), uint8(mode))
	if fr != frOK {
		return fr
	}
	return nil
}

// Unmount flushes any pending FSInfo changes and detaches the FS from its
// block device. The FS must be re-mounted before further use.
func (fsys *FS) Unmount() error {
	fsys.consistency.Lock()
	defer fsys.consistency.Unlock()
	fr := fsys.sync()
	fsys.device = nil
	fsys.fstype = fstypeUnknown
	if fr != frOK {
		return fr
	}
	return nil
}

// Sync commits any unwritten FSInfo/FAT state to the underlying device.
func (fsys *FS) Sync() error {
	fsys.consistency.Lock()
	defer fsys.consistency.Unlock()
	fr := fsys.sync()
	if fr != frOK {
		return fr
	}
	return nil
}

// OpenFile opens the named file for reading or writing, depending on the mode.
// The path is resolved from the root directory, with or without a leading
// slash, and must not contain any elements that are "." or "..".
func (fsys *FS) OpenFile(fp *File, path string, mode Mode) error {
	prohibited := (mode & ModeRW) &^ fsys.perm
	if mode&^allowedModes != 0 {
		return errInvalidMode
	} else if prohibited != 0 {
		return errForbiddenMode
	}
	fsys.consistency.Lock()
	defer fsys.consistency.Unlock()
	fr := fsys.f_open(fp, path, uint8(mode))
	if fr != frOK {
		return fr
	}
	return nil
}

// Remove deletes the named file, or directory if it is empty.
func (fsys *FS) Remove(path string) error {
	fsys.consistency.Lock()
	defer fsys.consistency.Unlock()
	fr := fsys.f_unlink(path)
	if fr != frOK {
		return fr
	}
	return nil
}

// Rename moves the object at oldpath to newpath, which may be in a different
// directory. newpath must not already exist.
func (fsys *FS) Rename(oldpath, newpath string) error {
	fsys.consistency.Lock()
	defer fsys.consistency.Unlock()
	fr := fsys.f_rename(oldpath, newpath)
	if fr != frOK {
		return fr
	}
	return nil
}

// Mkdir creates a new, empty directory at path. The parent directory must
// already exist.
func (fsys *FS) Mkdir(path string) error {
	fsys.consistency.Lock()
	defer fsys.consistency.Unlock()
	fr := fsys.f_mkdir(path)
	if fr != frOK {
		return fr
	}
	return nil
}

// Read reads up to len(buf) bytes from the File. It implements the [io.Reader] interface.
func (fp *File) Read(buf []byte) (int, error) {
	fr := fp.obj.validate()
	if fr != frOK {
		return 0, fr
	}
	fp.obj.fs.consistency.Lock()
	defer fp.obj.fs.consistency.Unlock()
	br, fr := fp.f_read(buf)
	if fr != frOK {
		return br, fr
	} else if br == 0 && fr == frOK {
		return br, io.EOF
	}
	return br, nil
}

// Write writes len(buf) bytes to the File. It implements the [io.Writer] interface.
func (fp *File) Write(buf []byte) (int, error) {
	fr := fp.obj.validate()
	if fr != frOK {
		return 0, fr
	}
	fp.obj.fs.consistency.Lock()
	defer fp.obj.fs.consistency.Unlock()
	bw, fr := fp.f_write(buf)
	if fr != frOK {
		return bw, fr
	}
	return bw, nil
}

// Close closes the file and syncs any unwritten data to the underlying device.
func (fp *File) Close() error {
	fr := fp.obj.validate()
	if fr != frOK {
		return fr
	}
	fp.obj.fs.consistency.Lock()
	defer fp.obj.fs.consistency.Unlock()
	fr = fp.f_close()
	if fr != frOK {
		return fr
	}
	return nil
}

// Sync commits the current contents of the file to the filesystem immediately.
func (fp *File) Sync() error {
	fr := fp.obj.validate()
	if fr != frOK {
		return fr
	}
	fp.obj.fs.consistency.Lock()
	defer fp.obj.fs.consistency.Unlock()
	fr = fp.obj.fs.f_sync(fp)
	if fr != frOK {
		return fr
	}
	return nil
}

// Truncate changes the size of the file to newSize, which must not exceed
// its current size. Clusters beyond newSize are freed immediately.
func (fp *File) Truncate(newSize int64) error {
	fr := fp.obj.validate()
	if fr != frOK {
		return fr
	}
	fp.obj.fs.consistency.Lock()
	defer fp.obj.fs.consistency.Unlock()
	fr = fp.f_truncate(newSize)
	if fr != frOK {
		return fr
	}
	return nil
}

// Size returns the file's current length in bytes.
func (fp *File) Size() int64 {
	return fp.obj.objsize
}

// Seek repositions the file's read/write pointer. It implements the
// [io.Seeker] interface, except that the resulting offset must lie within
// the file (FAT files have no holes to seek across).
func (fp *File) Seek(offset int64, whence int) (int64, error) {
	fr := fp.obj.validate()
	if fr != frOK {
		return 0, fr
	}
	fp.obj.fs.consistency.Lock()
	defer fp.obj.fs.consistency.Unlock()
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = fp.fptr + offset
	case io.SeekEnd:
		abs = fp.obj.objsize + offset
	default:
		return 0, errInvalidWhence
	}
	if fr := fp.f_lseek(abs); fr != frOK {
		return 0, fr
	}
	return abs, nil
}

// ReadAt reads len(buf) bytes starting at byte offset off of the file. It
// implements the [io.ReaderAt] interface, except that it moves the file's
// read/write pointer.
func (fp *File) ReadAt(buf []byte, off int64) (int, error) {
	fr := fp.obj.validate()
	if fr != frOK {
		return 0, fr
	}
	fp.obj.fs.consistency.Lock()
	defer fp.obj.fs.consistency.Unlock()
	if off < 0 {
		return 0, frInvalidParameter
	} else if off >= fp.obj.objsize {
		return 0, io.EOF
	}
	if fr := fp.f_lseek(off); fr != frOK {
		return 0, fr
	}
	br, fr := fp.f_read(buf)
	if fr != frOK {
		return br, fr
	} else if br < len(buf) {
		return br, io.EOF
	}
	return br, nil
}

// WriteAt writes len(buf) bytes starting at byte offset off of the file,
// which must not exceed the file's current size (FAT files cannot carry
// holes). It implements the [io.WriterAt] interface, except that it moves
// the file's read/write pointer.
func (fp *File) WriteAt(buf []byte, off int64) (int, error) {
	fr := fp.obj.validate()
	if fr != frOK {
		return 0, fr
	}
	fp.obj.fs.consistency.Lock()
	defer fp.obj.fs.consistency.Unlock()
	if fr := fp.f_lseek(off); fr != frOK {
		return 0, fr
	}
	bw, fr := fp.f_write(buf)
	if fr != frOK {
		return bw, fr
	}
	return bw, nil
}

// Mode returns the lowest 2 bits of the file's permission (read, write or both).
func (fp *File) Mode() Mode {
	return Mode(fp.flag & 3)
}

// Lookup resolves path to a Node, the pool-backed handle onto the entry's
// resolved location, size and attributes. The caller must release it with
// [Node.Close] when done; a mount hands out at most the node pool's
// capacity of outstanding lookups.
func (fsys *FS) Lookup(path string) (*Node, error) {
	fsys.consistency.Lock()
	defer fsys.consistency.Unlock()
	n, fr := fsys.f_lookup(path)
	if fr != frOK {
		return nil, fr
	}
	return n, nil
}

// Label returns the volume label stored in the root directory, with its
// space padding stripped, or the empty string when the volume has none.
func (fsys *FS) Label() string {
	fsys.consistency.Lock()
	defer fsys.consistency.Unlock()
	var raw [11]byte
	if fr := fsys.f_getlabel(&raw); fr != frOK {
		return ""
	}
	return string(clipname(raw[:]))
}

// OpenDir opens the named directory for reading.
func (fsys *FS) OpenDir(dp *Dir, path string) error {
	fsys.consistency.Lock()
	defer fsys.consistency.Unlock()
	fr := fsys.f_opendir(&dp.dir, path)
	if fr != frOK {
		return fr
	}
	return nil
}

// ForEachFile calls the callback function for each file in the directory.
func (dp *Dir) ForEachFile(callback func(*FileInfo) error) error {
	fr := dp.obj.validate()
	if fr != frOK {
		return fr
	} else if dp.obj.fs.perm&ModeRead == 0 {
		return errForbiddenMode
	}
	dp.obj.fs.consistency.Lock()
	defer dp.obj.fs.consistency.Unlock()
	top, fr := dp.obj.fs.beginOp()
	if fr != frOK {
		return fr
	}
	defer dp.obj.fs.endOp(top)

	fr = dp.sdi(0) // Rewind directory.
	if fr != frOK {
		return fr
	}
	for {
		fr := dp.f_readdir(&dp.inlineInfo)
		if fr != frOK {
			return fr
		} else if dp.inlineInfo.fname[0] == 0 {
			return nil // End of directory.
		}
		err := callback(&dp.inlineInfo)
		if err != nil {
			return err
		}
	}
}

// AlternateName returns the alternate name of the file.
func (finfo *FileInfo) AlternateName() string {
	return str(finfo.altname[:])
}

// Name returns the name of the file.
func (finfo *FileInfo) Name() string {
	return str(finfo.fname[:])
}

// Size returns the size of the file in bytes.
func (finfo *FileInfo) Size() int64 {
	return finfo.fsize
}

// ModTime returns the modification time of the file.
func (finfo *FileInfo) ModTime() time.Time {
	return datetime{time: finfo.ftime, date: finfo.fdate}.Time()
}

// IsDir returns true if the file is a directory.
func (finfo *FileInfo) IsDir() bool {
	return fileattr(finfo.fattrib).IsDirectory()
}

// String renders the entry's name and a human-readable size for diagnostics.
func (finfo *FileInfo) String() string {
	if finfo.IsDir() {
		return finfo.Name() + "/"
	}
	return finfo.Name() + " (" + humanize.Bytes(uint64(finfo.Size())) + ")"
}

// String renders the file's path-independent state: mode and the file's
// current size in human-readable form, for use in logs and error messages.
func (fp *File) String() string {
	return "file<mode=" + modeString(Mode(fp.flag&3)) + ", size=" + humanize.Bytes(uint64(fp.obj.objsize)) + ">"
}

func modeString(m Mode) string {
	switch m {
	case ModeRead:
		return "r"
	case ModeWrite:
		return "w"
	case ModeRW:
		return "rw"
	default:
		return "-"
	}
}
