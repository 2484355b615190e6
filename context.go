package fat

import (
	"encoding/binary"
	"unsafe"
)

// unboundSector is the sentinel bufaddr value meaning a CommandContext's
// buffer does not currently mirror any sector on disk, the same
// all-ones-sentinel convention the engine uses for maxu32 elsewhere.
const unboundSector = lba(^uint32(0))

// CommandContext is the engine's one-sector scratch buffer: the sector
// number it mirrors (or unboundSector), the sector bytes, and a dirty flag
// for write-back. Every logical operation against a mount borrows one from
// the context pool for the duration of the call and returns it on the way
// out (see FS.beginOp/endOp); readSector and writeSector are the only
// routines that move one between disk sectors. Two instances are owned
// outright instead of borrowed: the per-open-file cache of the sector
// under the file cursor (File.ctx), and the formatter's scratch sector
// (Formatter.ctx) -- neither contends with a mounted volume's pool.
type CommandContext struct {
	bufaddr lba
	buf     []byte
	dirty   bool
}

// reset clears the context to the unbound state and (re)sizes its buffer
// to the mount's sector size. Borrowing from a pool returns a slot with
// whatever state its previous borrower left, so reset is what actually
// makes it usable.
func (ctx *CommandContext) reset(sectorSize int) {
	ctx.bufaddr = unboundSector
	ctx.dirty = false
	if cap(ctx.buf) < sectorSize {
		ctx.buf = make([]byte, sectorSize)
	} else {
		ctx.buf = ctx.buf[:sectorSize]
	}
}

// bind records which sector the context's buffer currently mirrors; it
// does no I/O itself.
func (ctx *CommandContext) bind(n lba) {
	ctx.bufaddr = n
}

// invalidate forgets the mirrored sector without touching the buffer.
func (ctx *CommandContext) invalidate() {
	ctx.bufaddr = unboundSector
	ctx.dirty = false
}

// Sector reports the sector the context is currently bound to, and
// whether it is bound at all.
func (ctx *CommandContext) Sector() (n lba, bound bool) {
	return ctx.bufaddr, ctx.bufaddr != unboundSector
}

// clear zero-fills the buffer, leaving the binding and dirty flag alone.
func (ctx *CommandContext) clear() {
	for i := range ctx.buf {
		ctx.buf[i] = 0
	}
}

// entryAt returns the sizeDirEntry-byte directory entry starting at byte
// offset off within the context's buffer.
func (ctx *CommandContext) entryAt(off int) []byte {
	return ctx.buf[off : off+sizeDirEntry]
}

// u16 and u32 load little-endian fields out of the mirrored sector.

func (ctx *CommandContext) u16(off uint16) uint16 {
	ctx.boundscheck(off + 2)
	return binary.LittleEndian.Uint16(ctx.buf[off:])
}

func (ctx *CommandContext) u32(off uint16) uint32 {
	ctx.boundscheck(off + 4)
	return binary.LittleEndian.Uint32(ctx.buf[off:])
}

func (ctx *CommandContext) boundscheck(lim uint16) {
	if lim > uint16(len(ctx.buf)) {
		panic("context boundscheck: out of bounds")
	}
}

// differsAt reports whether the mirrored bytes at off differ from data,
// a zero-copy compare for on-disk signature checks.
func (ctx *CommandContext) differsAt(off uint16, data string) bool {
	areEqual := off+uint16(len(data)) <= uint16(len(ctx.buf)) &&
		unsafe.String((*byte)(unsafe.Pointer(&ctx.buf[off])), len(data)) == data
	return !areEqual
}
