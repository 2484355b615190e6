package fat

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

type Format uint8

const (
	_FormatUnknown Format = iota
	FormatFAT12
	FormatFAT16
	FormatFAT32
	FormatExFAT
)

type Formatter struct {
	// ctx is the formatter's scratch sector buffer, the same CommandContext
	// type every operation on a mounted FS borrows from the context pool
	// (see pool.go/context.go) -- a formatter never mounts, so it owns one
	// outright instead of borrowing.
	ctx CommandContext
	// block device is temporarily used by the formatter to read/write blocks.
	bd BlockDevice
}

type FormatConfig struct {
	Label string
	// ClusterSize is the size of a FAT cluster in blocks. Must be a power of two
	// no greater than 128. Zero selects a cluster size appropriate for fsSizeInBlocks.
	ClusterSize int
	// Format selects the FAT format to use. If not specified will use FAT32.
	Format Format
	// NumberOfFATs is the number of redundant copies of the File Allocation Table.
	// Either 1 or 2. 0 defaults to 2.
	NumberOfFATs uint8
}

// Number of sectors reserved at the start of the volume before the first FAT,
// enough to hold the boot sector, FSInfo sector, and their sector-6/7 backups.
const fmtReservedSectors = 32

// Format writes a fresh FAT32 filesystem to bd, spanning fsSizeInBlocks blocks
// of blocksize bytes each, starting at block 0.
func (f *Formatter) Format(bd BlockDevice, blocksize, fsSizeInBlocks int, cfg FormatConfig) error {
	if cfg.Format == 0 {
		cfg.Format = FormatFAT32
	}
	if blocksize < 512 || fsSizeInBlocks <= 32 || bd == nil || cfg.Format != FormatFAT32 {
		return errors.New("invalid Format argument")
	}
	f.ctx.reset(blocksize)
	if cfg.Label == "" {
		cfg.Label = "NO NAME"
	}
	f.bd = bd

	switch cfg.Format {
	case FormatFAT12, FormatFAT16, FormatFAT32:
		return f.formatFAT(bd, blocksize, fsSizeInBlocks, cfg)
	case FormatExFAT:
		return frUnsupported
	default:
		return frUnsupported
	}
}

func (f *Formatter) formatFAT(bd BlockDevice, blocksize, fsSizeInBlocks int, cfg FormatConfig) error {
	nFAT := cfg.NumberOfFATs
	if nFAT == 0 {
		nFAT = 2
	}
	if nFAT != 1 && nFAT != 2 {
		return errors.New("fat: number of FATs must be 1 or 2")
	}
	szAU := uint32(cfg.ClusterSize)
	if szAU == 0 {
		szAU = defaultClusterSize(uint64(fsSizeInBlocks) * uint64(blocksize))
	}
	if szAU == 0 || szAU&(szAU-1) != 0 || szAU > 128 {
		return errors.New("fat: invalid cluster size, must be a power of two no greater than 128 sectors")
	}
	nSectors := uint32(fsSizeInBlocks)
	if nSectors <= fmtReservedSectors {
		return fmt.Errorf("fat: volume of %s too small to format", humanize.Bytes(uint64(fsSizeInBlocks)*uint64(blocksize)))
	}

	// Converge on a FAT size that covers every data cluster it addresses via
	// fixed-point iteration: growing the FAT can shrink the data area enough
	// to need a smaller FAT, so recompute until it stabilizes.
	nClst := (nSectors - fmtReservedSectors) / szAU
	var fatSize uint32
	for {
		fatSize = ((nClst+2)*4 + uint32(blocksize) - 1) / uint32(blocksize)
		n := (nSectors - fmtReservedSectors - fatSize*uint32(nFAT)) / szAU
		if n == nClst {
			break
		}
		if n > nClst {
			break // Shouldn't happen; bail with the last valid estimate.
		}
		nClst = n
	}
	if nClst <= clustMaxFAT16 {
		return fmt.Errorf("fat: volume of %s too small for FAT32, use a larger volume or smaller cluster size",
			humanize.Bytes(uint64(fsSizeInBlocks)*uint64(blocksize)))
	}
	if nClst+2 > clustMaxFAT32 {
		return fmt.Errorf("fat: volume of %s too large for FAT32", humanize.Bytes(uint64(fsSizeInBlocks)*uint64(blocksize)))
	}

	database := lba(fmtReservedSectors + fatSize*uint32(nFAT))
	const rootCluster = 2

	if err := f.clearRange(fmtReservedSectors, database+lba(szAU)); err != nil {
		return err
	}
	if err := f.writeFATHeaders(fatSize, nFAT, rootCluster); err != nil {
		return err
	}
	if err := f.writeRootDir(database, cfg.Label); err != nil {
		return err
	}
	if err := f.writeBootAndFSInfo(blocksize, nSectors, szAU, fatSize, nFAT, cfg.Label); err != nil {
		return err
	}
	return nil
}

// defaultClusterSize picks a sectors-per-cluster value matching common FAT32
// mkfs defaults (assumes a 512-byte physical sector).
func defaultClusterSize(volumeBytes uint64) uint32 {
	switch {
	case volumeBytes < 64*humanize.MByte:
		return 1
	case volumeBytes < 128*humanize.MByte:
		return 2
	case volumeBytes < 256*humanize.MByte:
		return 4
	case volumeBytes < 8*humanize.GByte:
		return 8
	case volumeBytes < 16*humanize.GByte:
		return 16
	case volumeBytes < 32*humanize.GByte:
		return 32
	default:
		return 64
	}
}

// clearRange zero-fills every sector in [start,end), used to blank the FAT
// area and the root directory cluster ahead of writing real content.
func (f *Formatter) clearRange(start, end lba) error {
	for i := range f.ctx.buf {
		f.ctx.buf[i] = 0
	}
	for sect := start; sect < end; sect++ {
		if _, err := f.bd.WriteBlocks(f.ctx.buf, int64(sect)); err != nil {
			return err
		}
	}
	f.ctx.invalidate() // Buffer contents no longer match any one sector.
	return nil
}

// writeFATHeaders stamps the three reserved entries (media descriptor,
// reserved marker, and the root directory's EOC) at the head of every FAT copy.
func (f *Formatter) writeFATHeaders(fatSize uint32, nFAT uint8, rootCluster uint32) error {
	for i := range f.ctx.buf {
		f.ctx.buf[i] = 0
	}
	fatSec := &fat32Sector{data: f.ctx.buf}
	fatSec.SetEntry(0, entry(0x0FFFFFF8))
	fatSec.SetEntry(1, entry(0x0FFFFFFF))
	fatSec.SetEntry(int(rootCluster), entry(0x0FFFFFFF)) // Root directory is a single cluster, EOC.

	// Write the header sector to the start of each FAT copy.
	base := lba(fmtReservedSectors)
	if _, err := f.bd.WriteBlocks(f.ctx.buf, int64(base)); err != nil {
		return err
	}
	if nFAT == 2 {
		if _, err := f.bd.WriteBlocks(f.ctx.buf, int64(base+lba(fatSize))); err != nil {
			return err
		}
	}
	return nil
}

// writeRootDir writes the root directory's first sector: zeros apart from the
// volume-label entry (DIR_Attr=amVOL) built from label. With an empty label
// it writes nothing.
func (f *Formatter) writeRootDir(database lba, label string) error {
	if label == "" {
		return nil
	}
	for i := range f.ctx.buf {
		f.ctx.buf[i] = 0
	}
	dir := f.ctx.buf[0:sizeDirEntry]
	name := packShortName(label)
	copy(dir[dirNameOff:dirNameOff+11], name[:])
	dir[dirAttrOff] = amVOL
	dt := newDatetime(time.Now())
	binary.LittleEndian.PutUint16(dir[dirCrtTimeOff:], dt.time)
	binary.LittleEndian.PutUint16(dir[dirCrtTimeOff+2:], dt.date)
	binary.LittleEndian.PutUint16(dir[dirModTimeOff:], dt.time)
	binary.LittleEndian.PutUint16(dir[dirModTimeOff+2:], dt.date)
	_, err := f.bd.WriteBlocks(f.ctx.buf, int64(database))
	return err
}

// packShortName renders label as an 11-byte 8.3-style name, OEM-encoded and
// space-padded, suitable for a volume-label directory entry.
func packShortName(label string) [11]byte {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}
	oem, _, err := transform.String(charmap.Windows1252.NewEncoder(), label)
	if err != nil {
		oem = label
	}
	n := 0
	for _, c := range []byte(oem) {
		if n >= 11 {
			break
		}
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[n] = c
		n++
	}
	return out
}

// writeBootAndFSInfo builds the boot sector and FSInfo sector (plus their
// sector 6/7 backups) describing the geometry just laid out on disk.
func (f *Formatter) writeBootAndFSInfo(blocksize int, totalSectors, szAU, fatSize uint32, nFAT uint8, label string) error {
	for i := range f.ctx.buf {
		f.ctx.buf[i] = 0
	}
	bs := biosParamBlock{data: f.ctx.buf}
	bs.data[bsJmpBoot] = 0xEB
	bs.data[bsJmpBoot+1] = 0x58
	bs.data[bsJmpBoot+2] = 0x90
	bs.SetOEMName("MSWIN4.1")
	bs.SetSectorSize(uint16(blocksize))
	bs.SetSectorsPerCluster(uint16(szAU))
	bs.SetReservedSectors(fmtReservedSectors)
	bs.SetNumberOfFATs(nFAT)
	bs.SetRootDirEntries(0)
	bs.SetTotalSectors(totalSectors)
	bs.data[bpbMedia] = 0xF8
	bs.SetSectorsPerFAT(fatSize)
	bs.SetRootCluster(2)
	binary.LittleEndian.PutUint16(bs.data[bpbFSInfo32:], 1)
	binary.LittleEndian.PutUint16(bs.data[bpbBkBootSec32:], 6)
	bs.data[bsDrvNum32] = 0x80
	bs.data[bsBootSig32] = 0x29
	binary.LittleEndian.PutUint32(bs.data[bsVolID32:], uint32(time.Now().UnixNano()))
	bs.SetVolumeLabel(label)
	copy(bs.data[bsFilSysType32:bsFilSysType32+8], "FAT32   ")
	binary.LittleEndian.PutUint16(bs.data[bs55AA:], 0xAA55)

	if _, err := f.bd.WriteBlocks(f.ctx.buf, 0); err != nil {
		return err
	}
	if _, err := f.bd.WriteBlocks(f.ctx.buf, 6); err != nil {
		return err
	}

	for i := range f.ctx.buf {
		f.ctx.buf[i] = 0
	}
	fsi := fsinfoSector{data: f.ctx.buf}
	fsi.SetSignatures(0x41615252, 0x61417272, 0xAA550000)
	// Every data cluster is free except cluster 2, which the root directory
	// occupies. Recording the exact count here lets a mount track free-space
	// deltas without a full FAT scan.
	nClst := (totalSectors - fmtReservedSectors - fatSize*uint32(nFAT)) / szAU
	fsi.SetFreeClusterCount(nClst - 1)
	fsi.SetLastAllocatedCluster(2)
	if _, err := f.bd.WriteBlocks(f.ctx.buf, 1); err != nil {
		return err
	}
	if _, err := f.bd.WriteBlocks(f.ctx.buf, 7); err != nil {
		return err
	}
	f.ctx.invalidate()
	return nil
}

