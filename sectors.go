package fat

import (
	"encoding/binary"
	"time"
)

// Typed views over raw sector bytes. Each view wraps a slice (usually a
// CommandContext buffer or a directory entry inside one) and exposes the
// on-disk fields at their fixed offsets; none of them own memory or do
// I/O. The formatter builds volumes through the setters, the engine and
// the tests read them back through the getters.

// datetime is a directory entry timestamp in FAT's packed form: seconds
// in two-second granularity inside time, the 1980-based date, and the
// optional 10ms refinement byte.
type datetime struct {
	time uint16
	date uint16
	fine uint8
}

func newDatetime(t time.Time) datetime {
	hour, min, sec := t.Clock()
	return datetime{
		time: uint16(hour<<11 | min<<5 | sec/2),
		date: uint16(t.Year()-1980)<<9 | uint16(t.Month())<<5 | uint16(t.Day()),
		fine: uint8(t.Nanosecond()/10e6) + 100*uint8(sec%2),
	}
}

// Date returns the calendar day the timestamp names.
func (dt datetime) Date() (year int, month time.Month, day int) {
	return 1980 + int(dt.date>>9), time.Month((dt.date >> 5) & 0xf), int(dt.date & 0x1f)
}

// Clock returns the time of day, reconstructing the odd second from the
// refinement byte when present.
func (dt datetime) Clock() (hour, min, sec int) {
	hour = int(dt.time >> 11)
	min = int((dt.time >> 5) & 0x3f)
	sec = 2 * int(dt.time&0x1f)
	if dt.fine > 100 {
		sec++
	}
	return hour, min, sec
}

// Milliseconds returns the sub-second refinement in milliseconds.
func (dt datetime) Milliseconds() int {
	if dt.fine > 100 {
		return 10 * int(dt.fine-100)
	}
	return 10 * int(dt.fine)
}

// Time expands the packed form to a time.Time. FAT records no zone, so
// UTC by convention.
func (dt datetime) Time() time.Time {
	hour, min, sec := dt.Clock()
	year, month, day := dt.Date()
	return time.Date(year, month, day, hour, min, sec, 1e6*dt.Milliseconds(), time.UTC)
}

// clipname trims the space padding off a fixed-width name field.
func clipname(name []byte) []byte {
	for len(name) > 0 && name[len(name)-1] == ' ' {
		name = name[:len(name)-1]
	}
	return name
}

// biosParamBlock views a FAT32 boot sector: the BIOS parameter block
// describing the volume geometry plus the extended FAT32 fields.
type biosParamBlock struct {
	data []byte
}

func (bs *biosParamBlock) SectorSize() uint16 {
	return binary.LittleEndian.Uint16(bs.data[bpbBytsPerSec:])
}

func (bs *biosParamBlock) SetSectorSize(size uint16) {
	binary.LittleEndian.PutUint16(bs.data[bpbBytsPerSec:], size)
}

func (bs *biosParamBlock) SectorsPerCluster() uint16 {
	return uint16(bs.data[bpbSecPerClus])
}

func (bs *biosParamBlock) SetSectorsPerCluster(spclus uint16) {
	bs.data[bpbSecPerClus] = byte(spclus)
}

func (bs *biosParamBlock) ReservedSectors() uint16 {
	return binary.LittleEndian.Uint16(bs.data[bpbRsvdSecCnt:])
}

func (bs *biosParamBlock) SetReservedSectors(rsvd uint16) {
	binary.LittleEndian.PutUint16(bs.data[bpbRsvdSecCnt:], rsvd)
}

func (bs *biosParamBlock) NumberOfFATs() uint8 {
	return bs.data[bpbNumFATs]
}

func (bs *biosParamBlock) SetNumberOfFATs(nfats uint8) {
	bs.data[bpbNumFATs] = nfats
}

// RootDirEntries is the FAT12/16 fixed root directory size; zero on
// FAT32, whose root is an ordinary cluster chain.
func (bs *biosParamBlock) RootDirEntries() uint16 {
	return binary.LittleEndian.Uint16(bs.data[bpbRootEntCnt:])
}

func (bs *biosParamBlock) SetRootDirEntries(entries uint16) {
	binary.LittleEndian.PutUint16(bs.data[bpbRootEntCnt:], entries)
}

// TotalSectors prefers the 16-bit count and falls back to the 32-bit
// field when the volume outgrew it, the same rule the mount applies.
func (bs *biosParamBlock) TotalSectors() uint32 {
	if n := binary.LittleEndian.Uint16(bs.data[bpbTotSec16:]); n != 0 {
		return uint32(n)
	}
	return binary.LittleEndian.Uint32(bs.data[bpbTotSec32:])
}

func (bs *biosParamBlock) SetTotalSectors(totsec uint32) {
	binary.LittleEndian.PutUint16(bs.data[bpbTotSec16:], 0)
	binary.LittleEndian.PutUint32(bs.data[bpbTotSec32:], totsec)
}

// SectorsPerFAT prefers the 16-bit FAT12/16 field and falls back to the
// FAT32 one.
func (bs *biosParamBlock) SectorsPerFAT() uint32 {
	if n := binary.LittleEndian.Uint16(bs.data[bpbFATSz16:]); n != 0 {
		return uint32(n)
	}
	return binary.LittleEndian.Uint32(bs.data[bpbFATSz32:])
}

func (bs *biosParamBlock) SetSectorsPerFAT(fatsz uint32) {
	binary.LittleEndian.PutUint16(bs.data[bpbFATSz16:], 0)
	binary.LittleEndian.PutUint32(bs.data[bpbFATSz32:], fatsz)
}

func (bs *biosParamBlock) RootCluster() uint32 {
	return binary.LittleEndian.Uint32(bs.data[bpbRootClus32:])
}

func (bs *biosParamBlock) SetRootCluster(cluster uint32) {
	binary.LittleEndian.PutUint32(bs.data[bpbRootClus32:], cluster)
}

func (bs *biosParamBlock) SetOEMName(name string) {
	n := copy(bs.data[bsOEMName:bsOEMName+8], name)
	for i := n; i < 8; i++ {
		bs.data[bsOEMName+i] = ' '
	}
}

func (bs *biosParamBlock) VolumeLabel() [11]byte {
	var label [11]byte
	copy(label[:], bs.data[bsVolLab32:])
	return label
}

func (bs *biosParamBlock) SetVolumeLabel(label string) {
	n := copy(bs.data[bsVolLab32:bsVolLab32+11], label)
	for i := n; i < 11; i++ {
		bs.data[bsVolLab32+i] = ' '
	}
}

// BootSignature is the 0xAA55 magic at offset 510.
func (bs *biosParamBlock) BootSignature() uint16 {
	return binary.LittleEndian.Uint16(bs.data[bs55AA:])
}

// fsinfoSector views the FAT32 FS information sector: three fixed
// signatures bracketing the free-cluster count and last-allocated hint.
type fsinfoSector struct {
	data []byte
}

// Signatures returns the lead, structure and trailing signatures. A
// valid sector carries 0x41615252, 0x61417272 and 0xAA550000.
func (fsi *fsinfoSector) Signatures() (lead, structure, trail uint32) {
	return binary.LittleEndian.Uint32(fsi.data[fsiLeadSig:]),
		binary.LittleEndian.Uint32(fsi.data[fsiStrucSig:]),
		binary.LittleEndian.Uint32(fsi.data[fsiTrailSig:])
}

func (fsi *fsinfoSector) SetSignatures(lead, structure, trail uint32) {
	binary.LittleEndian.PutUint32(fsi.data[fsiLeadSig:], lead)
	binary.LittleEndian.PutUint32(fsi.data[fsiStrucSig:], structure)
	binary.LittleEndian.PutUint32(fsi.data[fsiTrailSig:], trail)
}

// FreeClusterCount is the recorded number of free clusters, 0xFFFFFFFF
// when unknown. A mount sanity-checks it against the volume's cluster
// count before trusting it.
func (fsi *fsinfoSector) FreeClusterCount() uint32 {
	return binary.LittleEndian.Uint32(fsi.data[fsiFree_Count:])
}

func (fsi *fsinfoSector) SetFreeClusterCount(count uint32) {
	binary.LittleEndian.PutUint32(fsi.data[fsiFree_Count:], count)
}

// LastAllocatedCluster is the allocator's starting hint, 0xFFFFFFFF when
// unknown.
func (fsi *fsinfoSector) LastAllocatedCluster() uint32 {
	return binary.LittleEndian.Uint32(fsi.data[fsiNxt_Free:])
}

func (fsi *fsinfoSector) SetLastAllocatedCluster(cluster uint32) {
	binary.LittleEndian.PutUint32(fsi.data[fsiNxt_Free:], cluster)
}

// fat32Sector views one sector of the allocation table as an array of
// 32-bit entries.
type fat32Sector struct {
	data []byte
}

// entry is a single FAT32 table value; only the low 28 bits address
// clusters, the top nibble is reserved.
type entry uint32

func (fs *fat32Sector) Entry(idx int) entry {
	return entry(binary.LittleEndian.Uint32(fs.data[idx*4:]))
}

func (fs *fat32Sector) SetEntry(idx int, ent entry) {
	binary.LittleEndian.PutUint32(fs.data[idx*4:], uint32(ent))
}

// Cluster returns the next-cluster number the entry encodes.
func (e entry) Cluster() uint32 {
	return uint32(e) & mask28bits
}

// IsEOC reports whether the entry terminates a chain.
func (e entry) IsEOC() bool {
	return e.Cluster() >= 0x0FFF_FFF8
}

// IsFree reports whether the entry's cluster is unallocated.
func (e entry) IsFree() bool {
	return e.Cluster() == 0
}

// dirSector views one 32-byte short directory entry.
type dirSector struct {
	data []byte
}

// isFree reports an end-of-directory slot: no entry here nor in any
// later slot.
func (ds *dirSector) isFree() bool {
	return ds.data[dirNameOff] == 0
}

// isDeleted reports a tombstoned slot, reusable but not terminal.
func (ds *dirSector) isDeleted() bool {
	return ds.data[dirNameOff] == mskDDEM
}

func (ds *dirSector) attributes() fileattr {
	return fileattr(ds.data[dirAttrOff])
}

func (ds *dirSector) size() uint32 {
	return binary.LittleEndian.Uint32(ds.data[dirFileSizeOff:])
}

func (ds *dirSector) cluster() uint32 {
	return uint32(binary.LittleEndian.Uint16(ds.data[dirFstClusHIOff:]))<<16 |
		uint32(binary.LittleEndian.Uint16(ds.data[dirFstClusLOOff:]))
}

func (ds *dirSector) modifiedAt() datetime {
	return datetime{
		time: binary.LittleEndian.Uint16(ds.data[dirModTimeOff:]),
		date: binary.LittleEndian.Uint16(ds.data[dirModTimeOff+2:]),
	}
}

// fileattr is a directory entry's attribute byte.
type fileattr byte

func (attr fileattr) IsReadonly() bool    { return attr&amRDO != 0 }
func (attr fileattr) IsVolumeLabel() bool { return attr&amVOL != 0 }
func (attr fileattr) IsDirectory() bool   { return attr&amDIR != 0 }

// longFilenameEntry views one 32-byte LFN slot: thirteen UTF-16 units of
// the long name plus the ordinal and the checksum binding it to its
// short entry.
type longFilenameEntry struct {
	data []byte
}

// lfnSeq is the LFN ordinal byte; the run is stored last-part-first, the
// first slot on disk carrying the highest ordinal with the last-entry
// bit set.
type lfnSeq byte

// SequenceNumber returns the 1-based position of this part in the name.
func (lsq lfnSeq) SequenceNumber() uint8 { return uint8(lsq & 0x1F) }

// IsLast reports the entry holding the tail of the long name.
func (lsq lfnSeq) IsLast() bool { return lsq&mskLLEF != 0 }

func (lfnt *longFilenameEntry) Sequence() lfnSeq {
	return lfnSeq(lfnt.data[ldirOrdOff])
}

// Checksum returns the 8.3 checksum binding this part to its short entry.
func (lfnt *longFilenameEntry) Checksum() byte {
	return lfnt.data[ldirChksumOff]
}
